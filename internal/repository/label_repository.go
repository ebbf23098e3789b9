package repository

import (
	"context"
	"time"

	"go.uber.org/zap"
	"gorm.io/gorm"

	"github.com/example/menu-labeler/internal/logging"
	"github.com/example/menu-labeler/internal/retry"
)

// Record statuses.
const (
	StatusLabeled    = "labeled"
	StatusParseError = "parse_error"
	StatusFailed     = "failed"
)

// LabelRecord is one processed file within one run.
type LabelRecord struct {
	ID           uint      `gorm:"primaryKey"`
	RunID        string    `gorm:"column:run_id;index;size:64"`
	Filename     string    `gorm:"column:filename;index;size:255"`
	SHA1Hash     string    `gorm:"column:sha1_hash;index;size:40"`
	Model        string    `gorm:"column:model;size:64"`
	Status       string    `gorm:"column:status;size:16"`
	MenuPhoto    bool      `gorm:"column:menu_photo"`
	ReceiptPhoto bool      `gorm:"column:receipt_photo"`
	Result       string    `gorm:"column:result;type:text"`
	CreatedAt    time.Time `gorm:"column:created_at"`
}

// TableName overrides the default table name.
func (LabelRecord) TableName() string {
	return "label_records"
}

// LabelRepository persists label records with GORM.
type LabelRepository struct {
	db     *gorm.DB
	logger *zap.Logger
	retry  retry.Config
}

// NewLabelRepository creates a new repository instance.
func NewLabelRepository(db *gorm.DB, logger *zap.Logger) *LabelRepository {
	return &LabelRepository{
		db:     db,
		logger: logger.Named("label_repository"),
		retry:  retry.DefaultConfig(),
	}
}

// AutoMigrate ensures the schema is available.
func (r *LabelRepository) AutoMigrate(ctx context.Context) error {
	return r.db.WithContext(ctx).AutoMigrate(&LabelRecord{})
}

// SaveRecord persists a label record, retrying transient failures.
func (r *LabelRepository) SaveRecord(ctx context.Context, record *LabelRecord) error {
	return r.executeWithRetry(ctx, "repository.save_record", record.Filename, func() error {
		return r.db.WithContext(ctx).Create(record).Error
	})
}

// FindLatestByFilename returns the most recent record for filename.
func (r *LabelRepository) FindLatestByFilename(ctx context.Context, filename string) (*LabelRecord, error) {
	var record LabelRecord
	err := r.executeWithRetry(ctx, "repository.find_latest", filename, func() error {
		return r.db.WithContext(ctx).
			Where("filename = ?", filename).
			Order("created_at DESC, id DESC").
			First(&record).Error
	})
	if err != nil {
		return nil, err
	}
	return &record, nil
}

func (r *LabelRepository) executeWithRetry(ctx context.Context, operation, filename string, fn func() error) error {
	opLogger := logging.WithOperation(r.logger, operation, filename)
	err := retry.Do(ctx, r.retry, fn, func(err error, attempt int) {
		opLogger.Warn("transient database error", zap.Error(err), zap.Int("attempt", attempt))
	})
	if err != nil {
		opLogger.Error("database operation failed", zap.Error(err))
		return logging.NewOperationError(operation, filename, err)
	}
	return nil
}
