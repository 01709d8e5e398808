package workflow

import (
	"sort"

	"github.com/mmdatafocus/costcontrol_backend/models"
)

type dedupKey struct {
	parentId int // -1 for root-level siblings
	key      string
}

func dedupKeyFor(n *models.CostControlNode) dedupKey {
	parent := -1
	if n.ParentId != nil {
		parent = *n.ParentId
	}
	if n.HasSourceRef() {
		return dedupKey{parentId: parent, key: "ref:" + *n.SourceRef}
	}
	// Manually-added nodes have no sourceRef; their display name is the only
	// identity siblings can collide on.
	return dedupKey{parentId: parent, key: "name:" + n.Name}
}

// dedupeSiblings finds groups of live siblings referencing the same source
// entity (or, for manual nodes, carrying the same name) and soft-deletes all
// but one. The survivor is the earliest-created node, ties broken by lowest
// id. A removed duplicate's live subtree goes with it, same as an orphaned
// ancestor. Mutates in-memory state only; callers persist and re-aggregate.
func dedupeSiblings(idx *treeIndex) (removed []*models.CostControlNode) {
	groups := make(map[dedupKey][]*models.CostControlNode)
	for _, n := range idx.byId {
		if n.IsDeleted {
			continue
		}
		k := dedupKeyFor(n)
		groups[k] = append(groups[k], n)
	}

	for _, group := range groups {
		if len(group) < 2 {
			continue
		}
		sort.Slice(group, func(i, j int) bool {
			if !group[i].CreatedAt.Equal(group[j].CreatedAt) {
				return group[i].CreatedAt.Before(group[j].CreatedAt)
			}
			return group[i].ID < group[j].ID
		})
		for _, loser := range group[1:] {
			removed = append(removed, markSubtreeDeleted(idx, loser)...)
		}
	}

	sort.Slice(removed, func(i, j int) bool { return removed[i].ID < removed[j].ID })
	return removed
}

// dedupeProjectRefs is the project-wide second pass after sibling dedup.
// Sibling grouping cannot see two live rows for one source entity sitting
// under different parents (strays left by past reparenting bugs), and such a
// stray is neither an orphan (its ref is still valid at its level) nor a
// sibling duplicate. At most one live node may reference a source entity, so
// group live ref-bearing nodes by sourceRef alone and keep the reconciled
// node when one exists, else the earliest-created (ties on lowest id).
func dedupeProjectRefs(idx *treeIndex, reconciled map[string]*models.CostControlNode) (removed []*models.CostControlNode) {
	groups := make(map[string][]*models.CostControlNode)
	for _, n := range idx.byId {
		if n.IsDeleted || !n.HasSourceRef() {
			continue
		}
		groups[*n.SourceRef] = append(groups[*n.SourceRef], n)
	}

	for ref, group := range groups {
		if len(group) < 2 {
			continue
		}
		sort.Slice(group, func(i, j int) bool {
			if !group[i].CreatedAt.Equal(group[j].CreatedAt) {
				return group[i].CreatedAt.Before(group[j].CreatedAt)
			}
			return group[i].ID < group[j].ID
		})
		survivor := group[0]
		if r := reconciled[ref]; r != nil && !r.IsDeleted {
			survivor = r
		}
		for _, n := range group {
			if n.ID == survivor.ID {
				continue
			}
			removed = append(removed, markSubtreeDeleted(idx, n)...)
		}
	}

	sort.Slice(removed, func(i, j int) bool { return removed[i].ID < removed[j].ID })
	return removed
}

// markSubtreeDeleted soft-deletes a node and its live descendants in memory,
// returning everything it flipped.
func markSubtreeDeleted(idx *treeIndex, n *models.CostControlNode) []*models.CostControlNode {
	if n.IsDeleted {
		return nil
	}
	n.IsDeleted = true
	flipped := []*models.CostControlNode{n}
	for _, c := range idx.children[n.ID] {
		flipped = append(flipped, markSubtreeDeleted(idx, c)...)
	}
	return flipped
}
