package repository

import (
	"context"
	"errors"
	"strings"
	"time"

	"go.uber.org/zap"
	"gorm.io/gorm"

	"github.com/example/emojify/internal/emoji"
	"github.com/example/emojify/internal/logging"
)

// ErrNotFound is returned when no log matches the lookup.
var ErrNotFound = errors.New("emojify log not found")

// EmojifyLog represents a persisted emojify request.
type EmojifyLog struct {
	ID                  uint      `gorm:"primaryKey"`
	RequestID           string    `gorm:"column:request_id;uniqueIndex;size:64"`
	UserID              string    `gorm:"column:user_id;index;size:64"`
	FaceCount           int       `gorm:"column:face_count"`
	SkippedFaces        int       `gorm:"column:skipped_faces"`
	Categories          string    `gorm:"column:categories;type:text"`
	Format              string    `gorm:"column:format;size:16"`
	Width               int       `gorm:"column:width"`
	Height              int       `gorm:"column:height"`
	SHA1Hash            string    `gorm:"column:sha1_hash;index;size:40"`
	ProcessingLatencyMs int64     `gorm:"column:processing_latency_ms"`
	CreatedAt           time.Time `gorm:"column:created_at"`
}

// TableName overrides the default table name.
func (EmojifyLog) TableName() string {
	return "emojify_logs"
}

// JoinCategories renders categories for the Categories column.
func JoinCategories(categories []emoji.Category) string {
	names := make([]string, len(categories))
	for i, c := range categories {
		names[i] = c.String()
	}
	return strings.Join(names, ",")
}

// CategoryList parses the Categories column. Unknown names are dropped.
func (l *EmojifyLog) CategoryList() []emoji.Category {
	if l.Categories == "" {
		return nil
	}
	parts := strings.Split(l.Categories, ",")
	categories := make([]emoji.Category, 0, len(parts))
	for _, p := range parts {
		if c, err := emoji.ParseCategory(p); err == nil {
			categories = append(categories, c)
		}
	}
	return categories
}

// MetricsAggregation holds raw aggregates over emojify logs.
type MetricsAggregation struct {
	TotalCount                 int64
	WithFacesCount             int64
	TotalFaces                 int64
	SkippedFaces               int64
	AverageProcessingLatencyMs float64
}

// EmojifyRepository provides persistence APIs for emojify logs.
type EmojifyRepository struct {
	db             *gorm.DB
	logger         *zap.Logger
	retryAttempts  int
	initialBackoff time.Duration
	maxBackoff     time.Duration
}

// NewEmojifyRepository creates a new repository instance.
func NewEmojifyRepository(db *gorm.DB, logger *zap.Logger) *EmojifyRepository {
	return &EmojifyRepository{
		db:             db,
		logger:         logger.Named("emojify_repository"),
		retryAttempts:  3,
		initialBackoff: 50 * time.Millisecond,
		maxBackoff:     time.Second,
	}
}

// AutoMigrate ensures the schema is available.
func (r *EmojifyRepository) AutoMigrate(ctx context.Context) error {
	return r.executeWithRetry(ctx, "repository.auto_migrate", "", func() error {
		return r.db.WithContext(ctx).AutoMigrate(&EmojifyLog{})
	})
}

// SaveLog persists an emojify log entry.
func (r *EmojifyRepository) SaveLog(ctx context.Context, log *EmojifyLog) error {
	return r.executeWithRetry(ctx, "repository.save_log", log.RequestID, func() error {
		return r.db.WithContext(ctx).Create(log).Error
	})
}

// FindByRequestIDAndUser retrieves the log for a request owned by userID.
func (r *EmojifyRepository) FindByRequestIDAndUser(ctx context.Context, requestID, userID string) (*EmojifyLog, error) {
	var log EmojifyLog
	err := r.executeWithRetry(ctx, "repository.find_log", requestID, func() error {
		err := r.db.WithContext(ctx).First(&log, "request_id = ? AND user_id = ?", requestID, userID).Error
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return ErrNotFound
		}
		return err
	})
	if err != nil {
		return nil, err
	}
	return &log, nil
}

// AggregateMetrics summarises the logs of userID, or of every user when userID is empty.
func (r *EmojifyRepository) AggregateMetrics(ctx context.Context, userID string) (*MetricsAggregation, error) {
	var row struct {
		TotalCount                 int64
		WithFacesCount             int64
		TotalFaces                 int64
		SkippedFaces               int64
		AverageProcessingLatencyMs float64
	}
	err := r.executeWithRetry(ctx, "repository.aggregate_metrics", "", func() error {
		return r.scoped(ctx, userID).
			Select(`COUNT(*) AS total_count,
				COALESCE(SUM(CASE WHEN face_count > 0 THEN 1 ELSE 0 END), 0) AS with_faces_count,
				COALESCE(SUM(face_count), 0) AS total_faces,
				COALESCE(SUM(skipped_faces), 0) AS skipped_faces,
				COALESCE(AVG(processing_latency_ms), 0) AS average_processing_latency_ms`).
			Scan(&row).Error
	})
	if err != nil {
		return nil, err
	}
	return &MetricsAggregation{
		TotalCount:                 row.TotalCount,
		WithFacesCount:             row.WithFacesCount,
		TotalFaces:                 row.TotalFaces,
		SkippedFaces:               row.SkippedFaces,
		AverageProcessingLatencyMs: row.AverageProcessingLatencyMs,
	}, nil
}

// CategoryCounts tallies drawn stickers per category.
func (r *EmojifyRepository) CategoryCounts(ctx context.Context, userID string) (map[emoji.Category]int64, error) {
	var rows []string
	err := r.executeWithRetry(ctx, "repository.category_counts", "", func() error {
		rows = rows[:0]
		return r.scoped(ctx, userID).Where("categories <> ''").Pluck("categories", &rows).Error
	})
	if err != nil {
		return nil, err
	}
	return CountCategories(rows), nil
}

// CountCategories tallies comma separated category columns.
func CountCategories(rows []string) map[emoji.Category]int64 {
	counts := make(map[emoji.Category]int64)
	for _, row := range rows {
		log := EmojifyLog{Categories: row}
		for _, c := range log.CategoryList() {
			counts[c]++
		}
	}
	return counts
}

func (r *EmojifyRepository) scoped(ctx context.Context, userID string) *gorm.DB {
	q := r.db.WithContext(ctx).Model(&EmojifyLog{})
	if userID != "" {
		q = q.Where("user_id = ?", userID)
	}
	return q
}

func (r *EmojifyRepository) executeWithRetry(ctx context.Context, operation, requestID string, fn func() error) error {
	attempts := r.retryAttempts
	if attempts < 1 {
		attempts = 1
	}

	backoff := r.initialBackoff
	opLogger := logging.WithOperation(r.logger, operation, requestID)
	var err error
	for attempt := 0; attempt < attempts; attempt++ {
		if attempt > 0 {
			select {
			case <-ctx.Done():
				return logging.NewOperationError(operation, requestID, ctx.Err())
			case <-time.After(backoff):
			}
			if next := backoff * 2; next <= r.maxBackoff {
				backoff = next
			}
		}

		err = fn()
		if err == nil {
			if attempt > 0 {
				opLogger.Info("database operation succeeded after retry", zap.Int("attempt", attempt+1))
			}
			return nil
		}
		if errors.Is(err, ErrNotFound) {
			return logging.NewOperationError(operation, requestID, err)
		}
		if !isTransientError(err) || attempt == attempts-1 {
			opLogger.Error("database operation failed", zap.Error(err), zap.Int("attempt", attempt+1))
			return logging.NewOperationError(operation, requestID, err)
		}
		opLogger.Warn("transient database error", zap.Error(err), zap.Int("attempt", attempt+1))
	}
	return logging.NewOperationError(operation, requestID, err)
}

func isTransientError(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}

	var netErr interface{ Timeout() bool }
	if errors.As(err, &netErr) && netErr.Timeout() {
		return true
	}

	var temporary interface{ Temporary() bool }
	return errors.As(err, &temporary) && temporary.Temporary()
}
