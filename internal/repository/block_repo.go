package repository

import (
	"context"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/fitversal/messaging-api/internal/models"
)

// BlockRepository owns directional block edges between principals.
type BlockRepository interface {
	Block(ctx context.Context, block *models.UserBlock) (bool, error)
	Unblock(ctx context.Context, blockID uint, blocker models.Principal) (bool, error)
	IsBlockedEither(ctx context.Context, a, b models.Principal) (bool, error)
	ListForBlocker(ctx context.Context, blocker models.Principal) ([]models.UserBlock, error)
}

type blockRepository struct {
	db *gorm.DB
}

// NewBlockRepository constructs a block repository backed by GORM.
func NewBlockRepository(db *gorm.DB) BlockRepository {
	return &blockRepository{db: db}
}

// Block inserts the edge and reports whether a new row was created.
func (r *blockRepository) Block(ctx context.Context, block *models.UserBlock) (bool, error) {
	result := r.db.WithContext(ctx).
		Clauses(clause.OnConflict{DoNothing: true}).
		Create(block)
	if result.Error != nil {
		return false, result.Error
	}
	return result.RowsAffected > 0, nil
}

// Unblock removes the edge by id, scoped to its owner.
func (r *blockRepository) Unblock(ctx context.Context, blockID uint, blocker models.Principal) (bool, error) {
	result := r.db.WithContext(ctx).
		Where("id = ? AND blocker_id = ? AND blocker_kind = ?", blockID, blocker.ID, blocker.Kind).
		Delete(&models.UserBlock{})
	if result.Error != nil {
		return false, result.Error
	}
	return result.RowsAffected > 0, nil
}

// IsBlockedEither reports whether an edge exists in either direction.
func (r *blockRepository) IsBlockedEither(ctx context.Context, a, b models.Principal) (bool, error) {
	var count int64
	err := r.db.WithContext(ctx).Model(&models.UserBlock{}).
		Where(
			"(blocker_id = ? AND blocker_kind = ? AND blocked_id = ? AND blocked_kind = ?) OR (blocker_id = ? AND blocker_kind = ? AND blocked_id = ? AND blocked_kind = ?)",
			a.ID, a.Kind, b.ID, b.Kind,
			b.ID, b.Kind, a.ID, a.Kind,
		).
		Count(&count).Error
	return count > 0, err
}

func (r *blockRepository) ListForBlocker(ctx context.Context, blocker models.Principal) ([]models.UserBlock, error) {
	var blocks []models.UserBlock
	err := r.db.WithContext(ctx).
		Where("blocker_id = ? AND blocker_kind = ?", blocker.ID, blocker.Kind).
		Order("id DESC").
		Find(&blocks).Error
	return blocks, err
}
