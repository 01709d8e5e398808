package workflow

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/bsm/redislock"
	"github.com/mmdatafocus/costcontrol_backend/config"
	"github.com/mmdatafocus/costcontrol_backend/models"
	"github.com/sirupsen/logrus"
	"gorm.io/gorm"
)

// RecalculateProject re-derives every parent budget across the project's tree
// from the stored leaves, without touching source-derived leaf amounts or any
// manual field. This repairs aggregation drift without a full re-import.
//
// This path serves interactive callers, so lock contention fails fast with
// ErrConcurrentSync instead of queueing behind a running sync.
func RecalculateProject(ctx context.Context, db *gorm.DB, logger *logrus.Logger, projectId string) (*models.RecalculateResult, error) {
	if db == nil {
		return nil, fmt.Errorf("recalculate project: db is nil")
	}
	if logger == nil {
		logger = config.GetLogger()
	}
	if strings.TrimSpace(projectId) == "" {
		return nil, fmt.Errorf("%w: project id is required", models.ErrValidation)
	}

	releaseRedis := obtainBestEffortRedisLock(ctx, logger, projectId)
	defer releaseRedis()

	var result *models.RecalculateResult
	err := db.WithContext(ctx).Connection(func(conn *gorm.DB) error {
		if err := tryAcquireProjectSyncLock(conn, projectId); err != nil {
			return err
		}
		defer releaseProjectSyncLock(conn, projectId)

		return conn.Transaction(func(tx *gorm.DB) error {
			repo := models.NewGormTreeRepository(tx)
			nodes, err := repo.LoadTree(ctx, projectId)
			if err != nil {
				return err
			}
			if len(nodes) == 0 {
				return fmt.Errorf("%w: cost control tree for project %s", models.ErrNotFound, projectId)
			}

			idx := newTreeIndex(nodes)
			changed, drift := recalculateTree(idx)
			sort.Slice(changed, func(i, j int) bool { return changed[i].ID < changed[j].ID })
			for _, n := range changed {
				if err := checkCancelled(ctx); err != nil {
					return err
				}
				if err := repo.Upsert(ctx, n); err != nil {
					return err
				}
			}

			result = &models.RecalculateResult{
				ProjectId:    projectId,
				DriftCount:   drift,
				NodesChanged: len(changed),
			}
			return nil
		})
	})
	if err != nil {
		if ctx.Err() != nil && !errors.Is(err, models.ErrCancelled) {
			return nil, fmt.Errorf("%w: %v", models.ErrCancelled, ctx.Err())
		}
		return nil, err
	}

	logger.WithFields(logrus.Fields{
		"project_id":    projectId,
		"drift_count":   result.DriftCount,
		"nodes_changed": result.NodesChanged,
	}).Info("costcontrol.recalculate.end")
	return result, nil
}

// RecomputeForLeafEdit cascades one node's edited budget up to its root. The
// surrounding app calls this after a user edits a leaf amount directly in the
// cost-control tree, outside of any import. Fail-fast on contention to keep
// UI latency bounded.
func RecomputeForLeafEdit(ctx context.Context, db *gorm.DB, logger *logrus.Logger, projectId string, nodeId int) error {
	if db == nil {
		return fmt.Errorf("recompute for leaf edit: db is nil")
	}
	if logger == nil {
		logger = config.GetLogger()
	}
	if strings.TrimSpace(projectId) == "" || nodeId <= 0 {
		return fmt.Errorf("%w: project id and node id are required", models.ErrValidation)
	}

	releaseRedis := obtainBestEffortRedisLock(ctx, logger, projectId)
	defer releaseRedis()

	err := db.WithContext(ctx).Connection(func(conn *gorm.DB) error {
		if err := tryAcquireProjectSyncLock(conn, projectId); err != nil {
			return err
		}
		defer releaseProjectSyncLock(conn, projectId)

		return conn.Transaction(func(tx *gorm.DB) error {
			repo := models.NewGormTreeRepository(tx)
			nodes, err := repo.LoadTree(ctx, projectId)
			if err != nil {
				return err
			}
			idx := newTreeIndex(nodes)
			node := idx.get(nodeId)
			if node == nil || node.ProjectId != projectId {
				return fmt.Errorf("%w: cost control node %d in project %s", models.ErrNotFound, nodeId, projectId)
			}

			changed, err := recomputeAncestors(idx, nodeId)
			if err != nil {
				return err
			}
			for _, n := range changed {
				if err := repo.Upsert(ctx, n); err != nil {
					return err
				}
			}
			return nil
		})
	})
	if err != nil {
		if ctx.Err() != nil && !errors.Is(err, models.ErrCancelled) {
			return fmt.Errorf("%w: %v", models.ErrCancelled, ctx.Err())
		}
		return err
	}
	return nil
}

// DetectDrift reports how many parent budgets disagree with the sum of their
// live children, without repairing anything. Read-only; takes no locks, so a
// concurrent sync can make the answer stale the moment it returns.
func DetectDrift(ctx context.Context, db *gorm.DB, projectId string) (*models.RecalculateResult, error) {
	if db == nil {
		return nil, fmt.Errorf("detect drift: db is nil")
	}
	if strings.TrimSpace(projectId) == "" {
		return nil, fmt.Errorf("%w: project id is required", models.ErrValidation)
	}

	repo := models.NewGormTreeRepository(db)
	nodes, err := repo.LoadTree(ctx, projectId)
	if err != nil {
		return nil, err
	}
	if len(nodes) == 0 {
		return nil, fmt.Errorf("%w: cost control tree for project %s", models.ErrNotFound, projectId)
	}

	idx := newTreeIndex(nodes)
	changed, drift := recalculateTree(idx)
	return &models.RecalculateResult{
		ProjectId:    projectId,
		DriftCount:   drift,
		NodesChanged: len(changed),
	}, nil
}

// obtainBestEffortRedisLock mirrors the Redis-first locking used on hot
// request paths: it shortcuts obvious contention cheaply, but correctness
// never depends on it. Serialization is enforced by the MySQL advisory lock
// taken inside the transaction.
func obtainBestEffortRedisLock(ctx context.Context, logger *logrus.Logger, projectId string) func() {
	locker := config.GetRedisLock()
	if locker == nil {
		return func() {}
	}
	lock, err := locker.Obtain(ctx, "lock:costcontrol:"+projectId, 30*time.Second, nil)
	if err != nil {
		if err != redislock.ErrNotObtained {
			logger.WithFields(logrus.Fields{
				"project_id": projectId,
			}).Warn("error obtaining redis lock; proceeding without redis lock: " + err.Error())
		}
		return func() {}
	}
	return func() {
		if releaseErr := lock.Release(ctx); releaseErr != nil {
			logger.WithFields(logrus.Fields{
				"project_id": projectId,
			}).Warn("failed to release redis lock: " + releaseErr.Error())
		}
	}
}
