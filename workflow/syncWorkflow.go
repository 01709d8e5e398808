package workflow

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/mmdatafocus/costcontrol_backend/config"
	"github.com/mmdatafocus/costcontrol_backend/models"
	"github.com/sirupsen/logrus"
	"gorm.io/gorm"
)

const lastSyncCacheTTL = 24 * time.Hour

// ImportFromEstimate reconciles a project's cost-control tree with the current
// estimate hierarchy: creates nodes for new source entities, refreshes leaf
// budgets, soft-deletes orphans, removes duplicates and re-aggregates ancestor
// sums. One atomic unit of work: either the whole run commits or none of it
// does, serialized per project by a blocking advisory lock.
//
// recalculateParents defaults to true at every call site; only narrow
// maintenance tooling that intentionally defers recompute passes false.
//
// Running it twice with no intervening estimate changes yields zero creates
// and zero updates on the second call.
func ImportFromEstimate(ctx context.Context, db *gorm.DB, logger *logrus.Logger, projectId string, recalculateParents bool) (*models.SyncResult, error) {
	if db == nil {
		return nil, fmt.Errorf("import from estimate: db is nil")
	}
	if logger == nil {
		logger = config.GetLogger()
	}
	if strings.TrimSpace(projectId) == "" {
		return nil, fmt.Errorf("%w: project id is required", models.ErrValidation)
	}

	// The advisory lock is not transactional, so it lives on a pinned
	// connection wrapping the transaction: released only after COMMIT, never
	// in the window where writes are still uncommitted.
	var result *models.SyncResult
	err := db.WithContext(ctx).Connection(func(conn *gorm.DB) error {
		if err := acquireProjectSyncLock(conn, projectId); err != nil {
			return err
		}
		defer releaseProjectSyncLock(conn, projectId)

		return conn.Transaction(func(tx *gorm.DB) error {
			repo := models.NewGormTreeRepository(tx)
			reader := models.NewGormEstimateReader(tx)

			var runErr error
			result, runErr = runImport(ctx, repo, reader, logger, projectId, recalculateParents)
			return runErr
		})
	})
	if err != nil {
		if ctx.Err() != nil && !errors.Is(err, models.ErrCancelled) {
			return nil, fmt.Errorf("%w: %v", models.ErrCancelled, ctx.Err())
		}
		return nil, err
	}

	// Dashboard convenience; correctness never depends on the cache.
	if cacheErr := config.SetRedisObject(lastSyncCacheKey(projectId), result, lastSyncCacheTTL); cacheErr != nil {
		logger.WithFields(logrus.Fields{
			"project_id": projectId,
		}).Warn("failed to cache last sync result: " + cacheErr.Error())
	}
	return result, nil
}

func lastSyncCacheKey(projectId string) string {
	return "costcontrol:lastSync:" + projectId
}

// LastSyncResult returns the cached summary of the most recent successful sync
// for a project, if Redis still holds one.
func LastSyncResult(projectId string) (*models.SyncResult, bool, error) {
	var result models.SyncResult
	found, err := config.GetRedisObject(lastSyncCacheKey(projectId), &result)
	if err != nil || !found {
		return nil, false, err
	}
	return &result, true, nil
}

// runImport is the orchestration core, written against the repository
// interfaces so it can run under test without a database. Callers own
// transaction scope and locking.
func runImport(ctx context.Context, repo TreeRepository, reader EstimateSnapshotReader, logger *logrus.Logger, projectId string, recalculateParents bool) (*models.SyncResult, error) {
	logger.WithFields(logrus.Fields{
		"project_id":          projectId,
		"recalculate_parents": recalculateParents,
	}).Info("costcontrol.sync.start")

	entries, err := reader.ReadHierarchy(ctx, projectId)
	if err != nil {
		return nil, err
	}
	if err := validateEntries(entries); err != nil {
		return nil, err
	}
	if err := checkCancelled(ctx); err != nil {
		return nil, err
	}

	nodes, err := repo.LoadTree(ctx, projectId)
	if err != nil {
		return nil, err
	}
	idx := newTreeIndex(nodes)

	// Prefer the live row when a ref has both a live and a soft-deleted one.
	byRef := make(map[string]*models.CostControlNode, len(nodes))
	for _, n := range nodes {
		if !n.HasSourceRef() {
			continue
		}
		if existing, ok := byRef[*n.SourceRef]; ok && !existing.IsDeleted {
			continue
		}
		byRef[*n.SourceRef] = n
	}

	result := &models.SyncResult{ProjectId: projectId}
	now := time.Now().UTC()
	dirty := make(map[int]struct{})
	// Former parents of reparented nodes: their child set shrank, so they need
	// their own sum re-derived, not just their ancestors'.
	dirtyOldParents := make(map[int]struct{})

	// Entries arrive level-ascending, so a child's parent node always exists
	// (or was just created) by the time the child is processed.
	for i := range entries {
		e := &entries[i]

		var parentId *int
		if e.ParentSourceRef != "" {
			parent := byRef[e.ParentSourceRef]
			if parent == nil {
				return nil, fmt.Errorf("%w: source entity %s references missing parent %s", models.ErrValidation, e.SourceRef, e.ParentSourceRef)
			}
			parentId = &parent.ID
		}

		node := byRef[e.SourceRef]
		if node == nil {
			ref := e.SourceRef
			node = &models.CostControlNode{
				ProjectId:            projectId,
				ParentId:             parentId,
				Name:                 e.Name,
				Level:                e.Level,
				BudgetAmount:         e.ComputedAmount,
				OrderIndex:           e.OrderIndex,
				SourceRef:            &ref,
				ImportedFromEstimate: true,
				ImportDate:           &now,
			}
			if err := repo.Upsert(ctx, node); err != nil {
				return nil, err
			}
			byRef[ref] = node
			idx.add(node)
			result.CreatedCount++
			dirty[node.ID] = struct{}{}
			continue
		}

		changed := false
		if node.IsDeleted {
			// Source entity re-appeared; resurrect instead of duplicating.
			node.IsDeleted = false
			changed = true
		}
		if !sameParent(node.ParentId, parentId) {
			if node.ParentId != nil {
				dirtyOldParents[*node.ParentId] = struct{}{}
			}
			idx.reparent(node, parentId)
			changed = true
		}
		// Leaf budgets follow the source; names and manual fields never do.
		if e.Level == 2 && !amountsEqual(node.BudgetAmount, e.ComputedAmount) {
			node.BudgetAmount = e.ComputedAmount
			changed = true
		}
		if changed {
			if err := repo.Upsert(ctx, node); err != nil {
				return nil, err
			}
			result.UpdatedCount++
			dirty[node.ID] = struct{}{}
		}
	}
	if err := checkCancelled(ctx); err != nil {
		return nil, err
	}

	// Orphans: source entity disappeared, node (and its subtree) goes.
	_, orphaned := classifyOrphans(idx, validRefsFromEntries(entries))
	sort.Slice(orphaned, func(i, j int) bool { return orphaned[i].ID < orphaned[j].ID })
	for _, o := range orphaned {
		o.IsDeleted = true
		if err := repo.SoftDelete(ctx, o.ID); err != nil {
			return nil, err
		}
		result.OrphanedCount++
		dirty[o.ID] = struct{}{}
	}
	if err := checkCancelled(ctx); err != nil {
		return nil, err
	}

	// Duplicates: same source entity (or same manual name) under one parent.
	for _, d := range dedupeSiblings(idx) {
		if err := repo.SoftDelete(ctx, d.ID); err != nil {
			return nil, err
		}
		result.DuplicatesRemoved++
		dirty[d.ID] = struct{}{}
	}
	// Strays: a second live row for one source entity under a different
	// parent survives both the orphan filter and sibling dedup.
	for _, d := range dedupeProjectRefs(idx, byRef) {
		if err := repo.SoftDelete(ctx, d.ID); err != nil {
			return nil, err
		}
		result.DuplicatesRemoved++
		dirty[d.ID] = struct{}{}
	}
	if err := checkCancelled(ctx); err != nil {
		return nil, err
	}

	if recalculateParents {
		changedAncestors := make(map[int]*models.CostControlNode)
		ids := make([]int, 0, len(dirty))
		for id := range dirty {
			ids = append(ids, id)
		}
		sort.Ints(ids)
		for _, id := range ids {
			changed, err := recomputeAncestors(idx, id)
			if err != nil {
				return nil, err
			}
			for _, c := range changed {
				changedAncestors[c.ID] = c
			}
		}
		oldParentIds := make([]int, 0, len(dirtyOldParents))
		for id := range dirtyOldParents {
			oldParentIds = append(oldParentIds, id)
		}
		sort.Ints(oldParentIds)
		for _, id := range oldParentIds {
			changed, err := recomputeSelfAndAncestors(idx, id)
			if err != nil {
				return nil, err
			}
			for _, c := range changed {
				changedAncestors[c.ID] = c
			}
		}
		ancestorIds := make([]int, 0, len(changedAncestors))
		for id := range changedAncestors {
			ancestorIds = append(ancestorIds, id)
		}
		sort.Ints(ancestorIds)
		for _, id := range ancestorIds {
			if err := repo.Upsert(ctx, changedAncestors[id]); err != nil {
				return nil, err
			}
		}
	}

	result.Warning = buildSyncWarning(result)
	logger.WithFields(logrus.Fields{
		"project_id":         projectId,
		"created_count":      result.CreatedCount,
		"updated_count":      result.UpdatedCount,
		"orphaned_count":     result.OrphanedCount,
		"duplicates_removed": result.DuplicatesRemoved,
	}).Info("costcontrol.sync.end")
	return result, nil
}

// validateEntries rejects malformed snapshots before any write: negative
// amounts, bad level transitions, refs whose parent is on the wrong level.
func validateEntries(entries []models.EstimateEntry) error {
	byRef := make(map[string]*models.EstimateEntry, len(entries))
	for i := range entries {
		e := &entries[i]
		if e.ComputedAmount.IsNegative() {
			return fmt.Errorf("%w: source entity %s has negative amount %s", models.ErrValidation, e.SourceRef, e.ComputedAmount.String())
		}
		if e.Level < 0 || e.Level > 2 {
			return fmt.Errorf("%w: source entity %s has invalid level %d", models.ErrValidation, e.SourceRef, e.Level)
		}
		if (e.Level == 0) != (e.ParentSourceRef == "") {
			return fmt.Errorf("%w: source entity %s at level %d has inconsistent parent ref", models.ErrValidation, e.SourceRef, e.Level)
		}
		byRef[e.SourceRef] = e
	}
	for i := range entries {
		e := &entries[i]
		if e.ParentSourceRef == "" {
			continue
		}
		parent, ok := byRef[e.ParentSourceRef]
		if !ok {
			return fmt.Errorf("%w: source entity %s references missing parent %s", models.ErrValidation, e.SourceRef, e.ParentSourceRef)
		}
		if e.Level != parent.Level+1 {
			return fmt.Errorf("%w: source entity %s at level %d under parent at level %d", models.ErrValidation, e.SourceRef, e.Level, parent.Level)
		}
	}
	return nil
}

func buildSyncWarning(r *models.SyncResult) string {
	parts := make([]string, 0, 2)
	if r.OrphanedCount > 0 {
		parts = append(parts, fmt.Sprintf("%d orphaned nodes removed", r.OrphanedCount))
	}
	if r.DuplicatesRemoved > 0 {
		parts = append(parts, fmt.Sprintf("%d duplicate nodes removed", r.DuplicatesRemoved))
	}
	return strings.Join(parts, "; ")
}

func sameParent(a, b *int) bool {
	if a == nil || b == nil {
		return a == b
	}
	return *a == *b
}

func checkCancelled(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return fmt.Errorf("%w: %v", models.ErrCancelled, err)
	}
	return nil
}
