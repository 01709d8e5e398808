package workflow

import (
	"github.com/mmdatafocus/costcontrol_backend/models"
)

// validRefsByLevel groups the surviving source-entity refs of one snapshot by
// tree level. Membership is the whole batched existence check: the snapshot is
// read once per level up front, so classification never issues per-node
// queries.
type validRefsByLevel map[int]map[string]struct{}

func validRefsFromEntries(entries []models.EstimateEntry) validRefsByLevel {
	refs := make(validRefsByLevel)
	for _, e := range entries {
		set := refs[e.Level]
		if set == nil {
			set = make(map[string]struct{})
			refs[e.Level] = set
		}
		set[e.SourceRef] = struct{}{}
	}
	return refs
}

// classifyOrphans splits the live tree into valid and orphaned nodes.
//
// A node is directly orphaned when it carries a sourceRef that is absent from
// the valid set of its level. Its whole live subtree is orphaned with it: a
// deleted ancestor invalidates a descendant's meaning even when the
// descendant's own ref is still technically valid. Manually-added nodes
// (nil sourceRef) are only ever removed by that cascade.
func classifyOrphans(idx *treeIndex, refs validRefsByLevel) (valid, orphaned []*models.CostControlNode) {
	orphanedIds := make(map[int]bool)

	var markSubtree func(n *models.CostControlNode)
	markSubtree = func(n *models.CostControlNode) {
		if orphanedIds[n.ID] {
			return
		}
		orphanedIds[n.ID] = true
		for _, c := range idx.children[n.ID] {
			if c.IsDeleted {
				continue
			}
			markSubtree(c)
		}
	}

	var walk func(n *models.CostControlNode)
	walk = func(n *models.CostControlNode) {
		if n.IsDeleted {
			return
		}
		if n.HasSourceRef() {
			if _, ok := refs[n.Level][*n.SourceRef]; !ok {
				markSubtree(n)
				return
			}
		}
		for _, c := range idx.children[n.ID] {
			walk(c)
		}
	}
	for _, r := range idx.roots {
		walk(r)
	}

	for _, n := range idx.byId {
		if n.IsDeleted {
			continue
		}
		if orphanedIds[n.ID] {
			orphaned = append(orphaned, n)
		} else {
			valid = append(valid, n)
		}
	}
	return valid, orphaned
}
