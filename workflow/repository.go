package workflow

import (
	"context"

	"github.com/mmdatafocus/costcontrol_backend/models"
)

// TreeRepository is the persistence boundary for cost-control nodes. The GORM
// implementation lives in models and is always bound to the transaction of the
// current unit of work; tests inject in-memory fakes. No global client is
// reached for anywhere in this package.
type TreeRepository interface {
	LoadTree(ctx context.Context, projectId string) ([]*models.CostControlNode, error)
	Upsert(ctx context.Context, node *models.CostControlNode) error
	SoftDelete(ctx context.Context, nodeId int) error
	FindBySourceRef(ctx context.Context, projectId string, sourceRef string) (*models.CostControlNode, error)
	HardDeleteProject(ctx context.Context, projectId string) (int64, error)
}

// EstimateSnapshotReader reads the source estimate hierarchy. Read-only.
type EstimateSnapshotReader interface {
	ReadHierarchy(ctx context.Context, projectId string) ([]models.EstimateEntry, error)
}
