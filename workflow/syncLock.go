package workflow

import (
	"fmt"

	"github.com/mmdatafocus/costcontrol_backend/models"
	"gorm.io/gorm"
)

// Per-project serialization uses MySQL advisory locks.
// NOTE: GET_LOCK is connection-scoped and not transactional. Callers pin one
// connection with db.Connection, take the lock there, run the transaction on
// that same connection, and release only after the transaction has returned.
// Releasing inside the transaction callback would free the lock before
// COMMIT, letting a blocked second run read uncommitted state.

// acquireProjectSyncLock blocks up to 30s for the project's lock. The import
// path prefers blocking: a queued second sync then observes the committed
// state and runs as a clean no-op.
func acquireProjectSyncLock(conn *gorm.DB, projectId string) error {
	lockName := fmt.Sprintf("costcontrol:sync:%s", projectId)
	var ok int
	if err := conn.Raw("SELECT GET_LOCK(?, 30)", lockName).Scan(&ok).Error; err != nil {
		return err
	}
	if ok != 1 {
		return fmt.Errorf("%w: project_id=%s", models.ErrConcurrentSync, projectId)
	}
	return nil
}

// tryAcquireProjectSyncLock fails fast on contention (timeout 0). Used by the
// direct-edit recompute path to keep UI latency bounded.
func tryAcquireProjectSyncLock(conn *gorm.DB, projectId string) error {
	lockName := fmt.Sprintf("costcontrol:sync:%s", projectId)
	var ok int
	if err := conn.Raw("SELECT GET_LOCK(?, 0)", lockName).Scan(&ok).Error; err != nil {
		return err
	}
	if ok != 1 {
		return fmt.Errorf("%w: project_id=%s", models.ErrConcurrentSync, projectId)
	}
	return nil
}

func releaseProjectSyncLock(conn *gorm.DB, projectId string) {
	lockName := fmt.Sprintf("costcontrol:sync:%s", projectId)
	var _ok int
	_ = conn.Raw("SELECT RELEASE_LOCK(?)", lockName).Scan(&_ok).Error
}
