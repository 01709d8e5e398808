package workflow

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sort"
	"testing"
	"time"

	"github.com/mmdatafocus/costcontrol_backend/models"
	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"
)

// NOTE: These tests are intentionally DB-free. runImport is written against
// the TreeRepository/EstimateSnapshotReader interfaces, so an in-memory fake
// that mimics row-copy semantics (reads return copies, only Upsert/SoftDelete
// mutate stored state) is enough to validate the whole reconciliation:
// create/update/orphan/dedup counting, cascade re-aggregation and
// idempotence. Lock + transaction behavior needs a real MySQL (GET_LOCK and
// COMMIT ordering) and is not tested in this repo.

var testBase = time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)

func testLogger() *logrus.Logger {
	l := logrus.New()
	l.SetOutput(io.Discard)
	return l
}

func dec(s string) decimal.Decimal {
	d, err := decimal.NewFromString(s)
	if err != nil {
		panic(err)
	}
	return d
}

func intPtr(i int) *int       { return &i }
func refPtr(s string) *string { return &s }

func cloneNode(n *models.CostControlNode) *models.CostControlNode {
	c := *n
	if n.ParentId != nil {
		c.ParentId = intPtr(*n.ParentId)
	}
	if n.SourceRef != nil {
		c.SourceRef = refPtr(*n.SourceRef)
	}
	if n.ImportDate != nil {
		d := *n.ImportDate
		c.ImportDate = &d
	}
	return &c
}

type fakeTreeRepository struct {
	nodes        map[int]*models.CostControlNode
	nextId       int
	upsertCalls  int
	failUpsertAt int // fail the Nth Upsert call; 0 disables
}

func newFakeTreeRepository() *fakeTreeRepository {
	return &fakeTreeRepository{nodes: map[int]*models.CostControlNode{}, nextId: 1}
}

// seed stores a pre-existing row with its explicit id, as if written by an
// earlier sync.
func (f *fakeTreeRepository) seed(n *models.CostControlNode) {
	if n.CreatedAt.IsZero() {
		n.CreatedAt = testBase.Add(time.Duration(n.ID) * time.Second)
	}
	f.nodes[n.ID] = cloneNode(n)
	if n.ID >= f.nextId {
		f.nextId = n.ID + 1
	}
}

func (f *fakeTreeRepository) LoadTree(_ context.Context, projectId string) ([]*models.CostControlNode, error) {
	out := make([]*models.CostControlNode, 0, len(f.nodes))
	for _, n := range f.nodes {
		if n.ProjectId == projectId {
			out = append(out, cloneNode(n))
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Level != out[j].Level {
			return out[i].Level < out[j].Level
		}
		if out[i].OrderIndex != out[j].OrderIndex {
			return out[i].OrderIndex < out[j].OrderIndex
		}
		return out[i].ID < out[j].ID
	})
	return out, nil
}

func (f *fakeTreeRepository) Upsert(_ context.Context, node *models.CostControlNode) error {
	f.upsertCalls++
	if f.failUpsertAt > 0 && f.upsertCalls >= f.failUpsertAt {
		return fmt.Errorf("%w: upsert node (project=%s): injected failure", models.ErrPartialStore, node.ProjectId)
	}
	if node.ID == 0 {
		node.ID = f.nextId
		f.nextId++
	}
	if node.CreatedAt.IsZero() {
		node.CreatedAt = testBase.Add(time.Duration(node.ID) * time.Second)
	}
	f.nodes[node.ID] = cloneNode(node)
	return nil
}

func (f *fakeTreeRepository) SoftDelete(_ context.Context, nodeId int) error {
	n, ok := f.nodes[nodeId]
	if !ok {
		return fmt.Errorf("%w: cost control node %d", models.ErrNotFound, nodeId)
	}
	n.IsDeleted = true
	return nil
}

func (f *fakeTreeRepository) FindBySourceRef(_ context.Context, projectId string, sourceRef string) (*models.CostControlNode, error) {
	for _, n := range f.nodes {
		if n.ProjectId == projectId && !n.IsDeleted && n.SourceRef != nil && *n.SourceRef == sourceRef {
			return cloneNode(n), nil
		}
	}
	return nil, nil
}

func (f *fakeTreeRepository) HardDeleteProject(_ context.Context, projectId string) (int64, error) {
	var count int64
	for id, n := range f.nodes {
		if n.ProjectId == projectId {
			delete(f.nodes, id)
			count++
		}
	}
	return count, nil
}

// liveByRef finds the single non-deleted stored row for a source ref.
func (f *fakeTreeRepository) liveByRef(t *testing.T, ref string) *models.CostControlNode {
	t.Helper()
	var found *models.CostControlNode
	for _, n := range f.nodes {
		if n.IsDeleted || n.SourceRef == nil || *n.SourceRef != ref {
			continue
		}
		if found != nil {
			t.Fatalf("multiple live nodes for source ref %s", ref)
		}
		found = n
	}
	if found == nil {
		t.Fatalf("no live node for source ref %s", ref)
	}
	return found
}

func (f *fakeTreeRepository) liveCount() int {
	count := 0
	for _, n := range f.nodes {
		if !n.IsDeleted {
			count++
		}
	}
	return count
}

type fakeEstimateReader struct {
	entries []models.EstimateEntry
	err     error
}

func (f *fakeEstimateReader) ReadHierarchy(context.Context, string) ([]models.EstimateEntry, error) {
	if f.err != nil {
		return nil, f.err
	}
	return f.entries, nil
}

func structureEntry(id int, name string, order int) models.EstimateEntry {
	return models.EstimateEntry{
		SourceRef:  models.StructureSourceRef(id),
		Level:      0,
		Name:       name,
		OrderIndex: order,
	}
}

func elementEntry(id, structureId int, name string, order int) models.EstimateEntry {
	return models.EstimateEntry{
		SourceRef:       models.ElementSourceRef(id),
		ParentSourceRef: models.StructureSourceRef(structureId),
		Level:           1,
		Name:            name,
		OrderIndex:      order,
	}
}

func detailEntry(id, elementId int, name, amount string, order int) models.EstimateEntry {
	return models.EstimateEntry{
		SourceRef:       models.DetailSourceRef(id),
		ParentSourceRef: models.ElementSourceRef(elementId),
		Level:           2,
		Name:            name,
		ComputedAmount:  dec(amount),
		OrderIndex:      order,
	}
}

// Standard fixture: one structure, one element, two details worth 100 + 150.
func basicSnapshot() []models.EstimateEntry {
	return []models.EstimateEntry{
		structureEntry(1, "Substructure", 0),
		elementEntry(1, 1, "Foundations", 0),
		detailEntry(1, 1, "Excavation", "100", 0),
		detailEntry(2, 1, "Concrete", "150", 1),
	}
}

func runTestImport(t *testing.T, repo TreeRepository, entries []models.EstimateEntry) *models.SyncResult {
	t.Helper()
	result, err := runImport(context.Background(), repo, &fakeEstimateReader{entries: entries}, testLogger(), "proj-1", true)
	if err != nil {
		t.Fatalf("runImport: %v", err)
	}
	return result
}

func TestImport_FreshProjectSumsToRoot(t *testing.T) {
	repo := newFakeTreeRepository()

	result := runTestImport(t, repo, basicSnapshot())

	if result.CreatedCount != 4 {
		t.Fatalf("expected 4 created, got %d", result.CreatedCount)
	}
	if result.UpdatedCount != 0 || result.OrphanedCount != 0 || result.DuplicatesRemoved != 0 {
		t.Fatalf("unexpected counts: %+v", result)
	}

	element := repo.liveByRef(t, models.ElementSourceRef(1))
	if !element.BudgetAmount.Equal(dec("250")) {
		t.Fatalf("element budget = %s, want 250", element.BudgetAmount)
	}
	if !element.IsParent {
		t.Fatal("element should be flagged as parent")
	}
	structure := repo.liveByRef(t, models.StructureSourceRef(1))
	if !structure.BudgetAmount.Equal(dec("250")) {
		t.Fatalf("structure budget = %s, want 250", structure.BudgetAmount)
	}

	leaf := repo.liveByRef(t, models.DetailSourceRef(1))
	if leaf.IsParent {
		t.Fatal("leaf should not be flagged as parent")
	}
	if !leaf.ImportedFromEstimate || leaf.ImportDate == nil {
		t.Fatal("imported leaf missing import provenance")
	}
	if leaf.ParentId == nil || *leaf.ParentId != element.ID {
		t.Fatalf("leaf parent = %v, want %d", leaf.ParentId, element.ID)
	}
}

func TestImport_SecondRunIsNoop(t *testing.T) {
	repo := newFakeTreeRepository()
	runTestImport(t, repo, basicSnapshot())

	before := len(repo.nodes)
	result := runTestImport(t, repo, basicSnapshot())

	if result.CreatedCount != 0 || result.UpdatedCount != 0 || result.OrphanedCount != 0 || result.DuplicatesRemoved != 0 {
		t.Fatalf("second run should be a no-op, got %+v", result)
	}
	if len(repo.nodes) != before {
		t.Fatalf("second run changed row count: %d -> %d", before, len(repo.nodes))
	}
	if result.Warning != "" {
		t.Fatalf("unexpected warning %q", result.Warning)
	}
}

func TestImport_AmountChangePropagatesToRoot(t *testing.T) {
	repo := newFakeTreeRepository()
	runTestImport(t, repo, basicSnapshot())

	// Source detail 1 edited from 100 to 120.
	changed := basicSnapshot()
	changed[2].ComputedAmount = dec("120")
	result := runTestImport(t, repo, changed)

	if result.CreatedCount != 0 {
		t.Fatalf("expected 0 created, got %d", result.CreatedCount)
	}
	if result.UpdatedCount != 1 {
		t.Fatalf("expected 1 updated, got %d", result.UpdatedCount)
	}
	if !repo.liveByRef(t, models.DetailSourceRef(1)).BudgetAmount.Equal(dec("120")) {
		t.Fatal("leaf budget not refreshed")
	}
	if !repo.liveByRef(t, models.ElementSourceRef(1)).BudgetAmount.Equal(dec("270")) {
		t.Fatal("element sum not recomputed")
	}
	if !repo.liveByRef(t, models.StructureSourceRef(1)).BudgetAmount.Equal(dec("270")) {
		t.Fatal("structure sum not recomputed")
	}
}

func TestImport_RemovedElementCascades(t *testing.T) {
	repo := newFakeTreeRepository()
	runTestImport(t, repo, basicSnapshot())

	// The element was deleted at the source; its details vanish with it.
	result := runTestImport(t, repo, []models.EstimateEntry{structureEntry(1, "Substructure", 0)})

	if result.OrphanedCount != 3 {
		t.Fatalf("expected 3 orphaned (element + 2 details), got %d", result.OrphanedCount)
	}
	if repo.liveCount() != 1 {
		t.Fatalf("expected only the structure to survive, %d live rows", repo.liveCount())
	}
	structure := repo.liveByRef(t, models.StructureSourceRef(1))
	if !structure.BudgetAmount.Equal(decimal.Zero) {
		t.Fatalf("structure budget = %s, want 0 after cascade", structure.BudgetAmount)
	}
	if structure.IsParent {
		t.Fatal("structure with no surviving children should not be a parent")
	}
	if result.Warning != "3 orphaned nodes removed" {
		t.Fatalf("warning = %q", result.Warning)
	}
}

func TestImport_OrphanCascadeRemovesManualChildren(t *testing.T) {
	repo := newFakeTreeRepository()
	runTestImport(t, repo, basicSnapshot())

	// A manually-added node under the element: no sourceRef, user-entered
	// actuals.
	element := repo.liveByRef(t, models.ElementSourceRef(1))
	repo.seed(&models.CostControlNode{
		ID:        100,
		ProjectId: "proj-1",
		ParentId:  intPtr(element.ID),
		Name:      "Site clean-up",
		Level:     2,
		PaidBills: dec("40"),
	})

	result := runTestImport(t, repo, []models.EstimateEntry{structureEntry(1, "Substructure", 0)})

	if result.OrphanedCount != 4 {
		t.Fatalf("expected manual child to cascade with the element, got %d orphaned", result.OrphanedCount)
	}
	if !repo.nodes[100].IsDeleted {
		t.Fatal("manual child under orphaned element should be soft-deleted")
	}
}

func TestImport_ManualNodeAndFieldsSurviveSync(t *testing.T) {
	repo := newFakeTreeRepository()
	runTestImport(t, repo, basicSnapshot())

	// User enters actuals on an imported leaf and adds a manual sibling.
	leaf := repo.liveByRef(t, models.DetailSourceRef(1))
	leaf.PaidBills = dec("30.50")
	leaf.Wages = dec("10")
	element := repo.liveByRef(t, models.ElementSourceRef(1))
	repo.seed(&models.CostControlNode{
		ID:        200,
		ProjectId: "proj-1",
		ParentId:  intPtr(element.ID),
		Name:      "Scaffolding hire",
		Level:     2,
		PaidBills: dec("75"),
	})

	changed := basicSnapshot()
	changed[2].ComputedAmount = dec("120")
	runTestImport(t, repo, changed)

	leaf = repo.liveByRef(t, models.DetailSourceRef(1))
	if !leaf.PaidBills.Equal(dec("30.50")) || !leaf.Wages.Equal(dec("10")) {
		t.Fatalf("manual actuals clobbered: paid=%s wages=%s", leaf.PaidBills, leaf.Wages)
	}
	manual := repo.nodes[200]
	if manual.IsDeleted {
		t.Fatal("manual node removed although its ancestors survived")
	}
	if !manual.PaidBills.Equal(dec("75")) {
		t.Fatalf("manual node actuals clobbered: %s", manual.PaidBills)
	}
}

func TestImport_RenamedNodeKeepsLocalName(t *testing.T) {
	repo := newFakeTreeRepository()
	runTestImport(t, repo, basicSnapshot())

	// User renamed the node locally; a source rename must not undo that.
	leaf := repo.liveByRef(t, models.DetailSourceRef(1))
	leaf.Name = "Excavation (phase 1)"

	changed := basicSnapshot()
	changed[2].Name = "Bulk excavation"
	result := runTestImport(t, repo, changed)

	if result.UpdatedCount != 0 {
		t.Fatalf("rename-only source change should not update, got %d", result.UpdatedCount)
	}
	if got := repo.liveByRef(t, models.DetailSourceRef(1)).Name; got != "Excavation (phase 1)" {
		t.Fatalf("local name overwritten: %q", got)
	}
}

func TestImport_ResurrectsSoftDeletedNode(t *testing.T) {
	repo := newFakeTreeRepository()
	runTestImport(t, repo, basicSnapshot())
	// Source entity disappears, then re-appears.
	runTestImport(t, repo, []models.EstimateEntry{
		structureEntry(1, "Substructure", 0),
		elementEntry(1, 1, "Foundations", 0),
		detailEntry(2, 1, "Concrete", "150", 1),
	})

	deletedId := 0
	for id, n := range repo.nodes {
		if n.IsDeleted {
			deletedId = id
		}
	}
	if deletedId == 0 {
		t.Fatal("expected a soft-deleted row after the shrinking sync")
	}

	result := runTestImport(t, repo, basicSnapshot())
	if result.CreatedCount != 0 {
		t.Fatalf("re-appearing entity must resurrect, not duplicate: %d created", result.CreatedCount)
	}
	if result.UpdatedCount != 1 {
		t.Fatalf("expected 1 updated (the resurrection), got %d", result.UpdatedCount)
	}
	if repo.nodes[deletedId].IsDeleted {
		t.Fatal("soft-deleted node not resurrected")
	}
	if !repo.liveByRef(t, models.ElementSourceRef(1)).BudgetAmount.Equal(dec("250")) {
		t.Fatal("element sum not restored after resurrection")
	}
}

func TestImport_ReparentRecomputesBothChains(t *testing.T) {
	repo := newFakeTreeRepository()
	runTestImport(t, repo, []models.EstimateEntry{
		structureEntry(1, "Substructure", 0),
		elementEntry(1, 1, "Foundations", 0),
		elementEntry(2, 1, "Drainage", 1),
		detailEntry(1, 1, "Excavation", "100", 0),
		detailEntry(2, 1, "Concrete", "150", 1),
	})

	// Detail 2 moved from element 1 to element 2 at the source.
	result := runTestImport(t, repo, []models.EstimateEntry{
		structureEntry(1, "Substructure", 0),
		elementEntry(1, 1, "Foundations", 0),
		elementEntry(2, 1, "Drainage", 1),
		detailEntry(1, 1, "Excavation", "100", 0),
		detailEntry(2, 2, "Concrete", "150", 1),
	})

	if result.UpdatedCount != 1 {
		t.Fatalf("expected 1 updated (the move), got %d", result.UpdatedCount)
	}
	if !repo.liveByRef(t, models.ElementSourceRef(1)).BudgetAmount.Equal(dec("100")) {
		t.Fatal("former parent kept the moved child's amount")
	}
	if !repo.liveByRef(t, models.ElementSourceRef(2)).BudgetAmount.Equal(dec("150")) {
		t.Fatal("new parent did not pick up the moved child's amount")
	}
	if !repo.liveByRef(t, models.StructureSourceRef(1)).BudgetAmount.Equal(dec("250")) {
		t.Fatal("root total should be unchanged by a move")
	}
}

func TestImport_DuplicateRowsCollapseAndSumCorrects(t *testing.T) {
	repo := newFakeTreeRepository()
	runTestImport(t, repo, basicSnapshot())

	// A past bug wrote the same source entity twice; the parent sum was
	// inflated accordingly.
	leaf := repo.liveByRef(t, models.DetailSourceRef(1))
	dup := cloneNode(leaf)
	dup.ID = 300
	dup.CreatedAt = leaf.CreatedAt.Add(time.Hour)
	repo.seed(dup)
	repo.liveByRef(t, models.ElementSourceRef(1)).BudgetAmount = dec("350")
	repo.liveByRef(t, models.StructureSourceRef(1)).BudgetAmount = dec("350")

	result := runTestImport(t, repo, basicSnapshot())

	if result.DuplicatesRemoved != 1 {
		t.Fatalf("expected 1 duplicate removed, got %d", result.DuplicatesRemoved)
	}
	if !repo.nodes[300].IsDeleted {
		t.Fatal("later-created duplicate should lose")
	}
	if repo.nodes[leaf.ID].IsDeleted {
		t.Fatal("earliest-created duplicate should survive")
	}
	if !repo.liveByRef(t, models.ElementSourceRef(1)).BudgetAmount.Equal(dec("250")) {
		t.Fatal("inflated element sum not corrected")
	}
	if result.Warning != "1 duplicate nodes removed" {
		t.Fatalf("warning = %q", result.Warning)
	}
}

func TestImport_StrayRowsAcrossParentsCollapseToOne(t *testing.T) {
	repo := newFakeTreeRepository()
	runTestImport(t, repo, basicSnapshot())

	// Two extra live rows for the same source entity, one a sibling of the
	// real node and one stranded under the structure node. The stranded one
	// is neither an orphan (its ref is valid at its level) nor a sibling
	// duplicate, so only a project-wide pass can catch it.
	leaf := repo.liveByRef(t, models.DetailSourceRef(2))
	structure := repo.liveByRef(t, models.StructureSourceRef(1))
	sibling := cloneNode(leaf)
	sibling.ID = 301
	sibling.CreatedAt = leaf.CreatedAt.Add(time.Hour)
	repo.seed(sibling)
	stray := cloneNode(leaf)
	stray.ID = 302
	stray.ParentId = intPtr(structure.ID)
	stray.CreatedAt = leaf.CreatedAt.Add(2 * time.Hour)
	repo.seed(stray)

	result := runTestImport(t, repo, basicSnapshot())

	if result.DuplicatesRemoved != 2 {
		t.Fatalf("expected 2 duplicates removed, got %d", result.DuplicatesRemoved)
	}
	live := 0
	for _, n := range repo.nodes {
		if !n.IsDeleted && n.SourceRef != nil && *n.SourceRef == models.DetailSourceRef(2) {
			live++
			if n.ID != leaf.ID {
				t.Fatalf("survivor should be the reconciled node %d, got %d", leaf.ID, n.ID)
			}
		}
	}
	if live != 1 {
		t.Fatalf("expected exactly 1 live node for the ref, got %d", live)
	}
	if !repo.liveByRef(t, models.ElementSourceRef(1)).BudgetAmount.Equal(dec("250")) {
		t.Fatal("element sum not corrected after stray removal")
	}
	if !repo.liveByRef(t, models.StructureSourceRef(1)).BudgetAmount.Equal(dec("250")) {
		t.Fatal("structure sum still counts the stranded duplicate")
	}
}

func TestImport_NegativeAmountRejectedBeforeAnyWrite(t *testing.T) {
	repo := newFakeTreeRepository()
	entries := basicSnapshot()
	entries[3].ComputedAmount = dec("-5")

	_, err := runImport(context.Background(), repo, &fakeEstimateReader{entries: entries}, testLogger(), "proj-1", true)
	if !errors.Is(err, models.ErrValidation) {
		t.Fatalf("expected validation error, got %v", err)
	}
	if repo.upsertCalls != 0 {
		t.Fatalf("validation failure must precede writes, saw %d upserts", repo.upsertCalls)
	}
}

func TestImport_MissingParentRefRejected(t *testing.T) {
	entries := []models.EstimateEntry{
		structureEntry(1, "Substructure", 0),
		detailEntry(1, 99, "Excavation", "100", 0),
	}
	_, err := runImport(context.Background(), newFakeTreeRepository(), &fakeEstimateReader{entries: entries}, testLogger(), "proj-1", true)
	if !errors.Is(err, models.ErrValidation) {
		t.Fatalf("expected validation error, got %v", err)
	}
}

func TestImport_EmptyHierarchyError(t *testing.T) {
	reader := &fakeEstimateReader{err: fmt.Errorf("%w: estimate hierarchy for project proj-1", models.ErrNotFound)}
	_, err := runImport(context.Background(), newFakeTreeRepository(), reader, testLogger(), "proj-1", true)
	if !errors.Is(err, models.ErrNotFound) {
		t.Fatalf("expected not-found error, got %v", err)
	}
}

func TestImport_CancelledContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := runImport(ctx, newFakeTreeRepository(), &fakeEstimateReader{entries: basicSnapshot()}, testLogger(), "proj-1", true)
	if !errors.Is(err, models.ErrCancelled) {
		t.Fatalf("expected cancellation error, got %v", err)
	}
}

func TestImport_StoreFailureSurfaces(t *testing.T) {
	repo := newFakeTreeRepository()
	repo.failUpsertAt = 3

	_, err := runImport(context.Background(), repo, &fakeEstimateReader{entries: basicSnapshot()}, testLogger(), "proj-1", true)
	if !errors.Is(err, models.ErrPartialStore) {
		t.Fatalf("expected store failure to surface, got %v", err)
	}
}

func TestImport_SkipRecalculateLeavesParentsStale(t *testing.T) {
	repo := newFakeTreeRepository()
	runTestImport(t, repo, basicSnapshot())

	changed := basicSnapshot()
	changed[2].ComputedAmount = dec("120")
	result, err := runImport(context.Background(), repo, &fakeEstimateReader{entries: changed}, testLogger(), "proj-1", false)
	if err != nil {
		t.Fatalf("runImport: %v", err)
	}
	if result.UpdatedCount != 1 {
		t.Fatalf("expected 1 updated, got %d", result.UpdatedCount)
	}
	if !repo.liveByRef(t, models.DetailSourceRef(1)).BudgetAmount.Equal(dec("120")) {
		t.Fatal("leaf budget should refresh even without recalculation")
	}
	// Deferred recompute: the parent keeps its stale sum until a later pass.
	if !repo.liveByRef(t, models.ElementSourceRef(1)).BudgetAmount.Equal(dec("250")) {
		t.Fatal("element sum should be untouched when recalculation is off")
	}
}

func TestImportFromEstimate_NilDbRejected(t *testing.T) {
	_, err := ImportFromEstimate(context.Background(), nil, testLogger(), "proj-1", true)
	if err == nil {
		t.Fatal("expected error for nil db")
	}
}

func TestValidateEntries_LevelTransitions(t *testing.T) {
	bad := []models.EstimateEntry{
		structureEntry(1, "Substructure", 0),
		{SourceRef: models.DetailSourceRef(1), ParentSourceRef: models.StructureSourceRef(1), Level: 2, Name: "Excavation"},
	}
	if err := validateEntries(bad); !errors.Is(err, models.ErrValidation) {
		t.Fatalf("level skip should be rejected, got %v", err)
	}

	inconsistent := []models.EstimateEntry{
		{SourceRef: models.StructureSourceRef(1), ParentSourceRef: models.StructureSourceRef(2), Level: 0, Name: "Substructure"},
	}
	if err := validateEntries(inconsistent); !errors.Is(err, models.ErrValidation) {
		t.Fatalf("root with parent ref should be rejected, got %v", err)
	}

	if err := validateEntries(basicSnapshot()); err != nil {
		t.Fatalf("valid snapshot rejected: %v", err)
	}
}
