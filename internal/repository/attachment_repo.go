package repository

import (
	"context"

	"gorm.io/gorm"

	"github.com/fitversal/messaging-api/internal/models"
)

// AttachmentRepository persists metadata about uploaded attachments.
type AttachmentRepository interface {
	Create(ctx context.Context, record *models.Attachment) error
	ListForUploader(ctx context.Context, uploader models.Principal, limit int) ([]models.Attachment, error)
}

type attachmentRepository struct {
	db *gorm.DB
}

// NewAttachmentRepository constructs a repository for attachment records.
func NewAttachmentRepository(db *gorm.DB) AttachmentRepository {
	return &attachmentRepository{db: db}
}

func (r *attachmentRepository) Create(ctx context.Context, record *models.Attachment) error {
	return r.db.WithContext(ctx).Create(record).Error
}

func (r *attachmentRepository) ListForUploader(ctx context.Context, uploader models.Principal, limit int) ([]models.Attachment, error) {
	if limit <= 0 || limit > 100 {
		limit = 50
	}
	var records []models.Attachment
	err := r.db.WithContext(ctx).
		Where("uploaded_by_id = ? AND uploaded_kind = ?", uploader.ID, uploader.Kind).
		Order("id DESC").
		Limit(limit).
		Find(&records).Error
	return records, err
}
