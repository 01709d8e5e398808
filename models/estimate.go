package models

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/shopspring/decimal"
	"gorm.io/gorm"
)

// The estimate hierarchy (structures -> elements -> detail items) is owned by
// the surrounding application. This engine only reads it; nothing here may
// issue a write against these tables.

type EstimateStructure struct {
	ID         int       `gorm:"primary_key" json:"id"`
	ProjectId  string    `gorm:"size:36;not null;index" json:"project_id"`
	Name       string    `gorm:"size:255;not null" json:"name"`
	OrderIndex int       `gorm:"not null;default:0" json:"order_index"`
	IsDeleted  bool      `gorm:"not null;default:false" json:"is_deleted"`
	CreatedAt  time.Time `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt  time.Time `gorm:"autoUpdateTime" json:"updated_at"`
}

type EstimateElement struct {
	ID          int       `gorm:"primary_key" json:"id"`
	ProjectId   string    `gorm:"size:36;not null;index" json:"project_id"`
	StructureId int       `gorm:"not null;index" json:"structure_id"`
	Name        string    `gorm:"size:255;not null" json:"name"`
	OrderIndex  int       `gorm:"not null;default:0" json:"order_index"`
	IsDeleted   bool      `gorm:"not null;default:false" json:"is_deleted"`
	CreatedAt   time.Time `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt   time.Time `gorm:"autoUpdateTime" json:"updated_at"`
}

type EstimateDetailItem struct {
	ID         int             `gorm:"primary_key" json:"id"`
	ProjectId  string          `gorm:"size:36;not null;index" json:"project_id"`
	ElementId  int             `gorm:"not null;index" json:"element_id"`
	Name       string          `gorm:"size:255;not null" json:"name"`
	Quantity   decimal.Decimal `gorm:"type:decimal(20,4);default:0" json:"quantity"`
	Rate       decimal.Decimal `gorm:"type:decimal(20,4);default:0" json:"rate"`
	OrderIndex int             `gorm:"not null;default:0" json:"order_index"`
	IsDeleted  bool            `gorm:"not null;default:false" json:"is_deleted"`
	CreatedAt  time.Time       `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt  time.Time       `gorm:"autoUpdateTime" json:"updated_at"`
}

// ComputedAmount is the leaf budget: quantity x rate.
func (d *EstimateDetailItem) ComputedAmount() decimal.Decimal {
	return d.Quantity.Mul(d.Rate)
}

// Source refs are level-prefixed so ids from the three source tables cannot
// collide inside one cost-control tree.
const (
	sourceRefStructurePrefix = "ST-"
	sourceRefElementPrefix   = "EL-"
	sourceRefDetailPrefix    = "DT-"
)

func StructureSourceRef(id int) string { return sourceRefStructurePrefix + strconv.Itoa(id) }
func ElementSourceRef(id int) string   { return sourceRefElementPrefix + strconv.Itoa(id) }
func DetailSourceRef(id int) string    { return sourceRefDetailPrefix + strconv.Itoa(id) }

// EstimateEntry is one row of the flattened estimate snapshot, ordered by
// level ascending then sibling order, so parents always precede children.
type EstimateEntry struct {
	SourceRef       string
	ParentSourceRef string // empty for level 0
	Level           int
	Name            string
	ComputedAmount  decimal.Decimal
	OrderIndex      int
}

// GormEstimateReader reads the estimate snapshot for a project: one query per
// source level, never one per node. No retries here; retry policy belongs to
// the caller.
type GormEstimateReader struct {
	tx *gorm.DB
}

func NewGormEstimateReader(tx *gorm.DB) *GormEstimateReader {
	return &GormEstimateReader{tx: tx}
}

func (r *GormEstimateReader) ReadHierarchy(ctx context.Context, projectId string) ([]EstimateEntry, error) {
	var structures []EstimateStructure
	if err := r.tx.WithContext(ctx).
		Where("project_id = ? AND is_deleted = 0", projectId).
		Order("order_index ASC").Order("id ASC").
		Find(&structures).Error; err != nil {
		return nil, fmt.Errorf("read estimate structures for project %s: %w", projectId, err)
	}
	if len(structures) == 0 {
		return nil, fmt.Errorf("%w: estimate hierarchy for project %s", ErrNotFound, projectId)
	}

	var elements []EstimateElement
	if err := r.tx.WithContext(ctx).
		Where("project_id = ? AND is_deleted = 0", projectId).
		Order("order_index ASC").Order("id ASC").
		Find(&elements).Error; err != nil {
		return nil, fmt.Errorf("read estimate elements for project %s: %w", projectId, err)
	}

	var details []EstimateDetailItem
	if err := r.tx.WithContext(ctx).
		Where("project_id = ? AND is_deleted = 0", projectId).
		Order("order_index ASC").Order("id ASC").
		Find(&details).Error; err != nil {
		return nil, fmt.Errorf("read estimate detail items for project %s: %w", projectId, err)
	}

	// Dangling rows (an element whose structure is gone, a detail whose
	// element is gone) read as absent: their subtree was deleted at the
	// source, so the orphan filter must see them as missing, not the
	// validator as malformed.
	structureIds := make(map[int]struct{}, len(structures))
	for _, s := range structures {
		structureIds[s.ID] = struct{}{}
	}
	liveElements := elements[:0]
	elementIds := make(map[int]struct{}, len(elements))
	for _, e := range elements {
		if _, ok := structureIds[e.StructureId]; !ok {
			continue
		}
		liveElements = append(liveElements, e)
		elementIds[e.ID] = struct{}{}
	}
	elements = liveElements
	liveDetails := details[:0]
	for _, d := range details {
		if _, ok := elementIds[d.ElementId]; !ok {
			continue
		}
		liveDetails = append(liveDetails, d)
	}
	details = liveDetails

	entries := make([]EstimateEntry, 0, len(structures)+len(elements)+len(details))
	for _, s := range structures {
		entries = append(entries, EstimateEntry{
			SourceRef:  StructureSourceRef(s.ID),
			Level:      0,
			Name:       s.Name,
			OrderIndex: s.OrderIndex,
		})
	}
	for _, e := range elements {
		entries = append(entries, EstimateEntry{
			SourceRef:       ElementSourceRef(e.ID),
			ParentSourceRef: StructureSourceRef(e.StructureId),
			Level:           1,
			Name:            e.Name,
			OrderIndex:      e.OrderIndex,
		})
	}
	for _, d := range details {
		entries = append(entries, EstimateEntry{
			SourceRef:       DetailSourceRef(d.ID),
			ParentSourceRef: ElementSourceRef(d.ElementId),
			Level:           2,
			Name:            d.Name,
			ComputedAmount:  d.ComputedAmount(),
			OrderIndex:      d.OrderIndex,
		})
	}
	return entries, nil
}
