package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/mmdatafocus/costcontrol_backend/config"
	"github.com/mmdatafocus/costcontrol_backend/workflow"
	"github.com/sirupsen/logrus"
)

// Repairs aggregation drift across a project's cost-control tree without a
// full re-import: every parent budget is re-derived bottom-up from the stored
// leaves. Source-derived leaf amounts and manual fields are never touched.
func main() {
	projectID := flag.String("project-id", "", "Required: project id (uuid)")
	dryRun := flag.Bool("dry-run", false, "Report drift without repairing")
	timeoutSec := flag.Int("timeout-seconds", 120, "Abort (with rollback) after this many seconds")
	flag.Parse()

	if strings.TrimSpace(*projectID) == "" {
		fmt.Fprintln(os.Stderr, "--project-id is required")
		os.Exit(1)
	}

	config.ConnectDatabaseWithRetry()
	db := config.GetDB()
	if db == nil {
		fmt.Fprintln(os.Stderr, "database not initialized")
		os.Exit(1)
	}
	logger := logrus.New()

	ctx, cancel := context.WithTimeout(context.Background(), time.Duration(*timeoutSec)*time.Second)
	defer cancel()

	if *dryRun {
		result, err := workflow.DetectDrift(ctx, db, *projectID)
		if err != nil {
			logger.WithError(err).Error("drift detection failed")
			os.Exit(1)
		}
		fmt.Printf("dry run: drift=%d would_change=%d\n", result.DriftCount, result.NodesChanged)
		return
	}

	result, err := workflow.RecalculateProject(ctx, db, logger, *projectID)
	if err != nil {
		logger.WithError(err).Error("cost control recalculate failed")
		os.Exit(1)
	}
	fmt.Printf("recalculate completed: drift=%d nodes_changed=%d\n", result.DriftCount, result.NodesChanged)
}
