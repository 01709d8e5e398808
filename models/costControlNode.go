package models

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/shopspring/decimal"
	"gorm.io/gorm"
)

// CostControlNode is one row of the project cost-control tree.
//
// Levels: 0 = structure-derived, 1 = element-derived, 2 = detail-derived leaf.
// BudgetAmount is authoritative on leaves (copied from the estimate detail's
// quantity x rate) and derived on levels 0-1 as the sum of direct non-deleted
// children. PaidBills/ExternalBills/PendingBills/Wages are user-entered and
// never touched by the sync engine.
//
// (project_id, source_ref) uniqueness for non-deleted rows is enforced by the
// deduplicator rather than a DB unique index: duplicate rows produced by past
// bugs are retained as soft-deleted evidence, which a unique index would not
// allow.
type CostControlNode struct {
	ID                   int             `gorm:"primary_key" json:"id"`
	ProjectId            string          `gorm:"size:36;not null;index:idx_ccn_project_parent,priority:1;index:idx_ccn_project_source,priority:1" json:"project_id" binding:"required"`
	ParentId             *int            `gorm:"index:idx_ccn_project_parent,priority:2;default:null" json:"parent_id"`
	Name                 string          `gorm:"size:255;not null" json:"name" binding:"required"`
	Level                int             `gorm:"not null" json:"level"`
	BudgetAmount         decimal.Decimal `gorm:"type:decimal(20,4);default:0" json:"budget_amount"`
	PaidBills            decimal.Decimal `gorm:"type:decimal(20,4);default:0" json:"paid_bills"`
	ExternalBills        decimal.Decimal `gorm:"type:decimal(20,4);default:0" json:"external_bills"`
	PendingBills         decimal.Decimal `gorm:"type:decimal(20,4);default:0" json:"pending_bills"`
	Wages                decimal.Decimal `gorm:"type:decimal(20,4);default:0" json:"wages"`
	IsParent             bool            `gorm:"not null;default:false" json:"is_parent"`
	OrderIndex           int             `gorm:"not null;default:0" json:"order_index"`
	SourceRef            *string         `gorm:"size:64;default:null;index:idx_ccn_project_source,priority:2" json:"source_ref"`
	ImportedFromEstimate bool            `gorm:"not null;default:false" json:"imported_from_estimate"`
	ImportDate           *time.Time      `gorm:"default:null" json:"import_date"`
	IsDeleted            bool            `gorm:"not null;default:false;index" json:"is_deleted"`
	CreatedAt            time.Time       `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt            time.Time       `gorm:"autoUpdateTime" json:"updated_at"`
}

// ActualAmount is derived, never stored: paid + external bills + wages.
func (n *CostControlNode) ActualAmount() decimal.Decimal {
	return n.PaidBills.Add(n.ExternalBills).Add(n.Wages)
}

func (n *CostControlNode) HasSourceRef() bool {
	return n.SourceRef != nil && *n.SourceRef != ""
}

// GormTreeRepository is the only component that mutates persisted cost-control
// state. It is always bound to the transaction of the current unit of work.
type GormTreeRepository struct {
	tx *gorm.DB
}

func NewGormTreeRepository(tx *gorm.DB) *GormTreeRepository {
	return &GormTreeRepository{tx: tx}
}

// LoadTree returns every row of the project's tree, soft-deleted rows
// included, ordered parent-before-child (level asc) then by sibling order.
// The engine needs deleted rows to resurrect re-appearing source entities and
// to pick dedup survivors by creation time.
func (r *GormTreeRepository) LoadTree(ctx context.Context, projectId string) ([]*CostControlNode, error) {
	var nodes []*CostControlNode
	err := r.tx.WithContext(ctx).
		Where("project_id = ?", projectId).
		Order("level ASC").
		Order("order_index ASC").
		Order("id ASC").
		Find(&nodes).Error
	if err != nil {
		return nil, fmt.Errorf("%w: load tree for project %s: %v", ErrPartialStore, projectId, err)
	}
	return nodes, nil
}

func (r *GormTreeRepository) Upsert(ctx context.Context, node *CostControlNode) error {
	var err error
	if node.ID == 0 {
		err = r.tx.WithContext(ctx).Create(node).Error
	} else {
		err = r.tx.WithContext(ctx).Save(node).Error
	}
	if err != nil {
		return fmt.Errorf("%w: upsert node (project=%s source_ref=%v): %v", ErrPartialStore, node.ProjectId, node.SourceRef, err)
	}
	return nil
}

func (r *GormTreeRepository) SoftDelete(ctx context.Context, nodeId int) error {
	res := r.tx.WithContext(ctx).
		Model(&CostControlNode{}).
		Where("id = ?", nodeId).
		Update("is_deleted", true)
	if res.Error != nil {
		return fmt.Errorf("%w: soft delete node %d: %v", ErrPartialStore, nodeId, res.Error)
	}
	if res.RowsAffected == 0 {
		return fmt.Errorf("%w: cost control node %d", ErrNotFound, nodeId)
	}
	return nil
}

// FindBySourceRef returns the single non-deleted node referencing the source
// entity, or nil when none exists.
func (r *GormTreeRepository) FindBySourceRef(ctx context.Context, projectId string, sourceRef string) (*CostControlNode, error) {
	var node CostControlNode
	err := r.tx.WithContext(ctx).
		Where("project_id = ? AND source_ref = ? AND is_deleted = 0", projectId, sourceRef).
		First(&node).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("%w: find by source ref (project=%s ref=%s): %v", ErrPartialStore, projectId, sourceRef, err)
	}
	return &node, nil
}

// HardDeleteProject removes every node of the project, soft-deleted rows
// included. Maintenance/reset only; normal sync never hard-deletes.
func (r *GormTreeRepository) HardDeleteProject(ctx context.Context, projectId string) (int64, error) {
	res := r.tx.WithContext(ctx).
		Where("project_id = ?", projectId).
		Delete(&CostControlNode{})
	if res.Error != nil {
		return 0, fmt.Errorf("%w: hard delete project %s: %v", ErrPartialStore, projectId, res.Error)
	}
	return res.RowsAffected, nil
}

// CountProjectNodes reports (total, non-deleted) row counts, used by the
// maintenance CLIs for dry-run output.
func CountProjectNodes(db *gorm.DB, projectId string) (int64, int64, error) {
	var total, live int64
	if err := db.Model(&CostControlNode{}).Where("project_id = ?", projectId).Count(&total).Error; err != nil {
		return 0, 0, err
	}
	if err := db.Model(&CostControlNode{}).Where("project_id = ? AND is_deleted = 0", projectId).Count(&live).Error; err != nil {
		return 0, 0, err
	}
	return total, live, nil
}
