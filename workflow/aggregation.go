package workflow

import (
	"fmt"
	"sort"

	"github.com/mmdatafocus/costcontrol_backend/models"
	"github.com/shopspring/decimal"
)

// amountEpsilon is the change-detection threshold: 0.01 currency units.
// All sums are carried in decimal, so this only gates "did it change", it is
// not there to paper over float drift.
var amountEpsilon = decimal.New(1, -2)

func amountsEqual(a, b decimal.Decimal) bool {
	return a.Sub(b).Abs().LessThan(amountEpsilon)
}

// treeIndex is the in-memory view of one project's tree that the pure engine
// components (aggregation, orphan filter, dedup) operate on. It holds every
// row, soft-deleted included; accessors filter.
type treeIndex struct {
	byId     map[int]*models.CostControlNode
	children map[int][]*models.CostControlNode // parent node id -> all children
	roots    []*models.CostControlNode
}

func newTreeIndex(nodes []*models.CostControlNode) *treeIndex {
	idx := &treeIndex{
		byId:     make(map[int]*models.CostControlNode, len(nodes)),
		children: make(map[int][]*models.CostControlNode),
	}
	for _, n := range nodes {
		idx.byId[n.ID] = n
	}
	for _, n := range nodes {
		if n.ParentId == nil {
			idx.roots = append(idx.roots, n)
			continue
		}
		idx.children[*n.ParentId] = append(idx.children[*n.ParentId], n)
	}
	return idx
}

func (t *treeIndex) get(id int) *models.CostControlNode {
	return t.byId[id]
}

func (t *treeIndex) add(n *models.CostControlNode) {
	t.byId[n.ID] = n
	if n.ParentId == nil {
		t.roots = append(t.roots, n)
		return
	}
	t.children[*n.ParentId] = append(t.children[*n.ParentId], n)
}

// reparent moves a node under a new parent, keeping the child maps coherent.
func (t *treeIndex) reparent(n *models.CostControlNode, newParentId *int) {
	if n.ParentId != nil {
		siblings := t.children[*n.ParentId]
		for i, s := range siblings {
			if s.ID == n.ID {
				t.children[*n.ParentId] = append(siblings[:i], siblings[i+1:]...)
				break
			}
		}
	} else {
		for i, r := range t.roots {
			if r.ID == n.ID {
				t.roots = append(t.roots[:i], t.roots[i+1:]...)
				break
			}
		}
	}
	n.ParentId = newParentId
	if newParentId == nil {
		t.roots = append(t.roots, n)
		return
	}
	t.children[*newParentId] = append(t.children[*newParentId], n)
}

// liveChildren returns the non-deleted direct children of a node.
func (t *treeIndex) liveChildren(nodeId int) []*models.CostControlNode {
	all := t.children[nodeId]
	live := make([]*models.CostControlNode, 0, len(all))
	for _, c := range all {
		if !c.IsDeleted {
			live = append(live, c)
		}
	}
	return live
}

func sumBudget(nodes []*models.CostControlNode) decimal.Decimal {
	sum := decimal.Zero
	for _, n := range nodes {
		sum = sum.Add(n.BudgetAmount)
	}
	return sum
}

// recomputeAncestors walks parent links from the changed node all the way to
// the root, re-deriving each ancestor's budget as the sum of its direct
// non-deleted children. This is deliberately a tagged loop over parent links,
// not a fixed number of hops: a two-hop cascade silently under-propagates the
// moment the hierarchy grows a level.
//
// Early stop when an ancestor's recomputed value (and parent flag) is
// unchanged within the epsilon: if this level did not move, neither can any
// level above it.
//
// Returns the ancestors whose stored state changed. Mutates the in-memory
// nodes only; persisting is the caller's job.
func recomputeAncestors(idx *treeIndex, changedNodeId int) ([]*models.CostControlNode, error) {
	start := idx.get(changedNodeId)
	if start == nil {
		return nil, fmt.Errorf("%w: node %d not in tree", models.ErrNotFound, changedNodeId)
	}

	changed := make([]*models.CostControlNode, 0, 4)
	visited := map[int]bool{start.ID: true}

	current := start
	for current.ParentId != nil {
		parent := idx.get(*current.ParentId)
		if parent == nil {
			return nil, fmt.Errorf("%w: node %d references missing parent %d", models.ErrValidation, current.ID, *current.ParentId)
		}
		if visited[parent.ID] {
			return nil, fmt.Errorf("%w: parent cycle at node %d", models.ErrValidation, parent.ID)
		}
		visited[parent.ID] = true

		live := idx.liveChildren(parent.ID)
		newSum := sumBudget(live)
		newIsParent := len(live) > 0

		if amountsEqual(parent.BudgetAmount, newSum) && parent.IsParent == newIsParent {
			// Unchanged here means unchanged everywhere above.
			break
		}
		parent.BudgetAmount = newSum
		parent.IsParent = newIsParent
		changed = append(changed, parent)

		current = parent
	}
	return changed, nil
}

// recomputeSelfAndAncestors re-derives the node's own budget from its live
// children before walking up. Used when the node's child set changed (a child
// was moved away), as opposed to a child's amount changing. Leaf budgets are
// source-derived and never recomputed here.
func recomputeSelfAndAncestors(idx *treeIndex, nodeId int) ([]*models.CostControlNode, error) {
	n := idx.get(nodeId)
	if n == nil {
		return nil, fmt.Errorf("%w: node %d not in tree", models.ErrNotFound, nodeId)
	}
	changed := make([]*models.CostControlNode, 0, 4)
	if n.Level < 2 {
		live := idx.liveChildren(n.ID)
		newSum := sumBudget(live)
		newIsParent := len(live) > 0
		if !amountsEqual(n.BudgetAmount, newSum) || n.IsParent != newIsParent {
			n.BudgetAmount = newSum
			n.IsParent = newIsParent
			changed = append(changed, n)
		}
	}
	up, err := recomputeAncestors(idx, nodeId)
	if err != nil {
		return nil, err
	}
	return append(changed, up...), nil
}

// recalculateTree re-derives every non-leaf budget bottom-up across the whole
// forest, without touching leaf (source-derived) amounts or manual fields.
// driftCount is how many parents were off by more than the epsilon before the
// repair; parent flags are refreshed as a side effect.
func recalculateTree(idx *treeIndex) (changed []*models.CostControlNode, driftCount int) {
	maxLevel := 0
	for _, n := range idx.byId {
		if n.Level > maxLevel {
			maxLevel = n.Level
		}
	}

	for level := maxLevel - 1; level >= 0; level-- {
		// Deterministic order keeps runs and their logs reproducible.
		ids := make([]int, 0)
		for id, n := range idx.byId {
			if n.Level == level && !n.IsDeleted {
				ids = append(ids, id)
			}
		}
		sort.Ints(ids)

		for _, id := range ids {
			n := idx.get(id)
			live := idx.liveChildren(n.ID)
			newSum := sumBudget(live)
			newIsParent := len(live) > 0

			if !newIsParent {
				// A non-leaf with no surviving children holds no budget.
				newSum = decimal.Zero
			}
			if amountsEqual(n.BudgetAmount, newSum) && n.IsParent == newIsParent {
				continue
			}
			if !amountsEqual(n.BudgetAmount, newSum) {
				driftCount++
			}
			n.BudgetAmount = newSum
			n.IsParent = newIsParent
			changed = append(changed, n)
		}
	}
	return changed, driftCount
}
