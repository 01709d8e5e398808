package workflow

import (
	"context"
	"fmt"
	"strings"

	"github.com/mmdatafocus/costcontrol_backend/config"
	"github.com/mmdatafocus/costcontrol_backend/models"
	"github.com/sirupsen/logrus"
	"gorm.io/gorm"
)

// ResetProject hard-deletes every cost-control node of a project, soft-deleted
// rows included. This is the only operation that physically removes rows; it
// exists so a project can be re-imported from a clean slate. Blocks on the
// project lock like the import path does.
func ResetProject(ctx context.Context, db *gorm.DB, logger *logrus.Logger, projectId string) (int64, error) {
	if db == nil {
		return 0, fmt.Errorf("reset project: db is nil")
	}
	if logger == nil {
		logger = config.GetLogger()
	}
	if strings.TrimSpace(projectId) == "" {
		return 0, fmt.Errorf("%w: project id is required", models.ErrValidation)
	}

	var deleted int64
	err := db.WithContext(ctx).Connection(func(conn *gorm.DB) error {
		if err := acquireProjectSyncLock(conn, projectId); err != nil {
			return err
		}
		defer releaseProjectSyncLock(conn, projectId)

		return conn.Transaction(func(tx *gorm.DB) error {
			repo := models.NewGormTreeRepository(tx)
			var err error
			deleted, err = repo.HardDeleteProject(ctx, projectId)
			return err
		})
	})
	if err != nil {
		return 0, err
	}

	// The cached sync summary no longer describes anything.
	if cacheErr := config.RemoveRedisKey(lastSyncCacheKey(projectId)); cacheErr != nil {
		logger.WithFields(logrus.Fields{
			"project_id": projectId,
		}).Warn("failed to drop cached sync result: " + cacheErr.Error())
	}

	logger.WithFields(logrus.Fields{
		"project_id":    projectId,
		"deleted_count": deleted,
	}).Info("costcontrol.reset.end")
	return deleted, nil
}
