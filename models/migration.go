package models

import (
	"log"

	"github.com/mmdatafocus/costcontrol_backend/config"
)

func MigrateTable() {
	db := config.GetDB()

	// Estimate tables are owned by the surrounding application and are NOT
	// migrated here; this engine only creates its own table.
	err := db.AutoMigrate(
		&CostControlNode{},
	)
	if err != nil {
		log.Fatal(err)
	}
}
