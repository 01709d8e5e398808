package models

// SyncResult is the outcome of one import/synchronize run.
// Warnings are informational and accompany a successful run;
// a failed run returns an error and no result.
type SyncResult struct {
	ProjectId         string `json:"project_id"`
	CreatedCount      int    `json:"created_count"`
	UpdatedCount      int    `json:"updated_count"`
	OrphanedCount     int    `json:"orphaned_count"`
	DuplicatesRemoved int    `json:"duplicates_removed"`
	Warning           string `json:"warning,omitempty"`
}

// RecalculateResult is the outcome of a full-tree aggregation repair.
type RecalculateResult struct {
	ProjectId    string `json:"project_id"`
	DriftCount   int    `json:"drift_count"`
	NodesChanged int    `json:"nodes_changed"`
}
