package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"strings"

	"github.com/mmdatafocus/costcontrol_backend/config"
	"github.com/mmdatafocus/costcontrol_backend/models"
	"github.com/mmdatafocus/costcontrol_backend/workflow"
	"github.com/sirupsen/logrus"
)

// Hard-deletes every cost-control node of one project so it can be re-imported
// from scratch. Normal sync only ever soft-deletes; this tool is the explicit
// maintenance exception.
func main() {
	projectID := flag.String("project-id", "", "Required: project id (uuid)")
	dryRun := flag.Bool("dry-run", true, "Show counts only (no writes)")
	confirm := flag.String("confirm", "", "Type RESET to proceed when dry-run=false")
	flag.Parse()

	if strings.TrimSpace(*projectID) == "" {
		fmt.Fprintln(os.Stderr, "--project-id is required")
		os.Exit(1)
	}
	if !*dryRun && strings.TrimSpace(*confirm) != "RESET" {
		fmt.Fprintln(os.Stderr, "set --confirm=RESET to proceed")
		os.Exit(1)
	}

	config.ConnectDatabaseWithRetry()
	db := config.GetDB()
	if db == nil {
		fmt.Fprintln(os.Stderr, "database not initialized")
		os.Exit(1)
	}
	logger := logrus.New()

	total, live, err := models.CountProjectNodes(db, *projectID)
	if err != nil {
		fmt.Fprintf(os.Stderr, "count failed: %v\n", err)
		os.Exit(1)
	}

	if *dryRun {
		fmt.Printf("cost_control_nodes: %d (non-deleted: %d)\n", total, live)
		fmt.Println("dry run; pass --dry-run=false --confirm=RESET to delete")
		return
	}

	deleted, err := workflow.ResetProject(context.Background(), db, logger, *projectID)
	if err != nil {
		logger.WithError(err).Error("cost control reset failed")
		os.Exit(1)
	}
	fmt.Printf("cost control reset completed: %d nodes deleted\n", deleted)
}
