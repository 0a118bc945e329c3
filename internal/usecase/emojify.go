package usecase

import (
	"context"
	"crypto/sha1"
	"encoding/hex"
	"encoding/json"
	"errors"
	"image"
	"time"

	"github.com/go-redis/redis/v8"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/example/emojify/internal/emoji"
	"github.com/example/emojify/internal/emojifier"
	"github.com/example/emojify/internal/facedetect"
	"github.com/example/emojify/internal/imaging"
	"github.com/example/emojify/internal/logging"
	"github.com/example/emojify/internal/repository"
)

var (
	// ErrNoDetector is returned when faces were not supplied and no detector is configured.
	ErrNoDetector = errors.New("no face detector configured")
	// ErrImageExpired is returned when a result is known but its image left the cache.
	ErrImageExpired = errors.New("emojified image expired")
)

// EmojifyRepository defines the persistence operations needed by the use case.
type EmojifyRepository interface {
	SaveLog(ctx context.Context, log *repository.EmojifyLog) error
	FindByRequestIDAndUser(ctx context.Context, requestID, userID string) (*repository.EmojifyLog, error)
	AggregateMetrics(ctx context.Context, userID string) (*repository.MetricsAggregation, error)
	CategoryCounts(ctx context.Context, userID string) (map[emoji.Category]int64, error)
}

// Pipeline composites stickers over detected faces.
type Pipeline interface {
	Apply(background image.Image, faces []facedetect.DetectedFace) (*emojifier.Result, error)
}

// Option customises an EmojifyUseCase.
type Option func(*EmojifyUseCase)

// WithResultTTL sets how long results and images stay in the cache.
func WithResultTTL(ttl time.Duration) Option {
	return func(uc *EmojifyUseCase) {
		if ttl > 0 {
			uc.resultTTL = ttl
		}
	}
}

// WithMaxPixels caps the decoded size of uploads.
func WithMaxPixels(n int) Option {
	return func(uc *EmojifyUseCase) {
		if n > 0 {
			uc.maxPixels = n
		}
	}
}

// EmojifyUseCase encapsulates business logic for the emojify flow.
type EmojifyUseCase struct {
	repo           EmojifyRepository
	cache          Cache
	detector       facedetect.Detector
	pipeline       Pipeline
	logger         *zap.Logger
	resultTTL      time.Duration
	maxPixels      int
	retryAttempts  int
	initialBackoff time.Duration
	maxBackoff     time.Duration
}

// Outcome is the response to a single emojify request.
type Outcome struct {
	RequestID   string
	Faces       []emojifier.FaceOutcome
	NoFaces     bool
	Format      imaging.Format
	ContentType string
	Image       []byte
	Width       int
	Height      int
}

type cachedResult struct {
	RequestID           string           `json:"request_id"`
	UserID              string           `json:"user_id"`
	FaceCount           int              `json:"face_count"`
	SkippedFaces        int              `json:"skipped_faces"`
	Categories          []emoji.Category `json:"categories"`
	Format              string           `json:"format"`
	Width               int              `json:"width"`
	Height              int              `json:"height"`
	Hash                string           `json:"sha1_hash"`
	ProcessingLatencyMs int64            `json:"processing_latency_ms"`
	CreatedAt           time.Time        `json:"created_at"`
}

// NewEmojifyUseCase constructs a new use case instance. detector may be nil
// when callers always supply their own faces.
func NewEmojifyUseCase(repo EmojifyRepository, cache Cache, detector facedetect.Detector, pipeline Pipeline, logger *zap.Logger, opts ...Option) *EmojifyUseCase {
	uc := &EmojifyUseCase{
		repo:           repo,
		cache:          cache,
		detector:       detector,
		pipeline:       pipeline,
		logger:         logger.Named("emojify_usecase"),
		resultTTL:      5 * time.Minute,
		maxPixels:      imaging.DefaultMaxPixels,
		retryAttempts:  3,
		initialBackoff: 50 * time.Millisecond,
		maxBackoff:     time.Second,
	}
	for _, opt := range opts {
		opt(uc)
	}
	return uc
}

// Emojify decodes imageBytes, draws a sticker over every face, then persists
// and caches the result. A non-nil faces slice bypasses the detector.
func (uc *EmojifyUseCase) Emojify(ctx context.Context, userID string, imageBytes []byte, faces []facedetect.DetectedFace) (*Outcome, error) {
	started := time.Now()
	requestID := uuid.NewString()
	opLogger := logging.WithOperation(uc.logger, "usecase.emojify", requestID)

	cacheKey := resultKey(requestID)
	if err := uc.withRedisRetry(ctx, requestID, "cache.set.processing", func() error {
		return uc.cache.Set(ctx, cacheKey, "processing", time.Minute)
	}); err != nil {
		opLogger.Error("failed to set processing flag", zap.Error(err))
		return nil, err
	}
	completed := false
	defer func() {
		if !completed {
			uc.clearProcessing(ctx, cacheKey, opLogger)
		}
	}()

	background, format, err := imaging.DecodeLimit(imageBytes, uc.maxPixels)
	if err != nil {
		wrapped := logging.NewOperationError("usecase.decode_image", requestID, err)
		opLogger.Warn("failed to decode upload", zap.Error(wrapped))
		return nil, wrapped
	}

	detector := uc.detector
	if faces != nil {
		detector = facedetect.Static(faces)
	}
	if detector == nil {
		return nil, logging.NewOperationError("usecase.detect_faces", requestID, ErrNoDetector)
	}
	detected, err := detector.Detect(ctx, requestID, imageBytes)
	if err != nil {
		wrapped := logging.NewOperationError("usecase.detect_faces", requestID, err)
		opLogger.Error("face detection failed", zap.Error(wrapped))
		return nil, wrapped
	}

	result, err := uc.pipeline.Apply(background, detected)
	if err != nil {
		wrapped := logging.NewOperationError("usecase.apply_emoji", requestID, err)
		opLogger.Error("failed to composite stickers", zap.Error(wrapped))
		return nil, wrapped
	}
	if result.NoFaces {
		opLogger.Info("no faces detected")
	}

	encoded, err := imaging.EncodeBytes(result.Image, format)
	if err != nil {
		wrapped := logging.NewOperationError("usecase.encode_image", requestID, err)
		opLogger.Error("failed to encode result", zap.Error(wrapped))
		return nil, wrapped
	}

	hash := sha1.Sum(imageBytes)
	bounds := result.Image.Bounds()
	log := &repository.EmojifyLog{
		RequestID:           requestID,
		UserID:              userID,
		FaceCount:           len(result.Faces),
		SkippedFaces:        result.Skipped(),
		Categories:          repository.JoinCategories(result.Categories()),
		Format:              string(imaging.OutputFormat(format)),
		Width:               bounds.Dx(),
		Height:              bounds.Dy(),
		SHA1Hash:            hex.EncodeToString(hash[:]),
		ProcessingLatencyMs: time.Since(started).Milliseconds(),
		CreatedAt:           time.Now().UTC(),
	}
	if err := uc.repo.SaveLog(ctx, log); err != nil {
		wrapped := logging.NewOperationError("usecase.save_log", requestID, err)
		opLogger.Error("failed to persist emojify log", zap.Error(wrapped))
		return nil, wrapped
	}

	if err := uc.withRedisRetry(ctx, requestID, "cache.set.image", func() error {
		return uc.cache.Set(ctx, imageKey(requestID), encoded, uc.resultTTL)
	}); err != nil {
		opLogger.Error("failed to cache emojified image", zap.Error(err))
		return nil, err
	}

	serialized, err := json.Marshal(cachedResult{
		RequestID:           log.RequestID,
		UserID:              log.UserID,
		FaceCount:           log.FaceCount,
		SkippedFaces:        log.SkippedFaces,
		Categories:          result.Categories(),
		Format:              log.Format,
		Width:               log.Width,
		Height:              log.Height,
		Hash:                log.SHA1Hash,
		ProcessingLatencyMs: log.ProcessingLatencyMs,
		CreatedAt:           log.CreatedAt,
	})
	if err != nil {
		opLogger.Error("failed to serialize emojify result", zap.Error(err))
		return nil, err
	}
	if err := uc.withRedisRetry(ctx, requestID, "cache.set.result", func() error {
		return uc.cache.Set(ctx, cacheKey, string(serialized), uc.resultTTL)
	}); err != nil {
		opLogger.Error("failed to cache emojify result", zap.Error(err))
		return nil, err
	}

	opLogger.Info("emojified image",
		zap.Int("faces", log.FaceCount),
		zap.Int("skipped", log.SkippedFaces),
		zap.Int64("latency_ms", log.ProcessingLatencyMs))

	completed = true
	return &Outcome{
		RequestID:   requestID,
		Faces:       result.Faces,
		NoFaces:     result.NoFaces,
		Format:      imaging.OutputFormat(format),
		ContentType: imaging.ContentType(format),
		Image:       encoded,
		Width:       log.Width,
		Height:      log.Height,
	}, nil
}

// clearProcessing drops the processing flag of a failed request. It runs even
// when ctx was cancelled.
func (uc *EmojifyUseCase) clearProcessing(ctx context.Context, key string, logger *zap.Logger) {
	if err := uc.cache.Delete(context.WithoutCancel(ctx), key); err != nil {
		logger.Warn("failed to clear processing flag", zap.Error(err))
	}
}

// GetResult retrieves a cached emojify outcome or loads it from persistence.
func (uc *EmojifyUseCase) GetResult(ctx context.Context, userID, requestID string) (*repository.EmojifyLog, error) {
	if cached, err := uc.withRedisGet(ctx, requestID, "cache.get.result", resultKey(requestID)); err == nil {
		var payload cachedResult
		if err := json.Unmarshal([]byte(cached), &payload); err != nil {
			// "processing" and corrupt entries fall through to the database.
			logging.WithOperation(uc.logger, "usecase.get_result", requestID).Debug("cached result unusable", zap.Error(err))
		} else if payload.UserID == userID {
			return &repository.EmojifyLog{
				RequestID:           requestID,
				UserID:              payload.UserID,
				FaceCount:           payload.FaceCount,
				SkippedFaces:        payload.SkippedFaces,
				Categories:          repository.JoinCategories(payload.Categories),
				Format:              payload.Format,
				Width:               payload.Width,
				Height:              payload.Height,
				SHA1Hash:            payload.Hash,
				ProcessingLatencyMs: payload.ProcessingLatencyMs,
				CreatedAt:           payload.CreatedAt,
			}, nil
		}
	} else if !errors.Is(err, redis.Nil) {
		logging.WithOperation(uc.logger, "usecase.get_result", requestID).Warn("failed to read cache", zap.Error(err))
	}

	return uc.repo.FindByRequestIDAndUser(ctx, requestID, userID)
}

// GetImage returns the emojified image of a request owned by userID and its content type.
func (uc *EmojifyUseCase) GetImage(ctx context.Context, userID, requestID string) ([]byte, string, error) {
	log, err := uc.GetResult(ctx, userID, requestID)
	if err != nil {
		return nil, "", err
	}

	data, err := uc.withRedisGet(ctx, requestID, "cache.get.image", imageKey(requestID))
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, "", logging.NewOperationError("usecase.get_image", requestID, ErrImageExpired)
		}
		return nil, "", err
	}
	return []byte(data), imaging.ContentType(imaging.Format(log.Format)), nil
}

func (uc *EmojifyUseCase) withRedisRetry(ctx context.Context, requestID, operation string, fn func() error) error {
	if uc.retryAttempts <= 1 {
		err := fn()
		return logging.NewOperationError(operation, requestID, err)
	}

	backoff := uc.initialBackoff
	opLogger := logging.WithOperation(uc.logger, operation, requestID)
	var err error
	for attempt := 0; attempt < uc.retryAttempts; attempt++ {
		if attempt > 0 {
			select {
			case <-ctx.Done():
				return logging.NewOperationError(operation, requestID, ctx.Err())
			case <-time.After(backoff):
			}
			if next := backoff * 2; next <= uc.maxBackoff {
				backoff = next
			}
		}

		err = fn()
		if err == nil {
			if attempt > 0 {
				opLogger.Info("redis operation succeeded after retry", zap.Int("attempt", attempt+1))
			}
			return nil
		}
		if errors.Is(err, redis.Nil) {
			return logging.NewOperationError(operation, requestID, err)
		}

		if !isTransientError(err) || attempt == uc.retryAttempts-1 {
			opLogger.Error("redis operation failed", zap.Error(err), zap.Int("attempt", attempt+1))
			return logging.NewOperationError(operation, requestID, err)
		}

		opLogger.Warn("transient redis error", zap.Error(err), zap.Int("attempt", attempt+1))
	}
	return logging.NewOperationError(operation, requestID, err)
}

func (uc *EmojifyUseCase) withRedisGet(ctx context.Context, requestID, operation, cacheKey string) (string, error) {
	var result string
	err := uc.withRedisRetry(ctx, requestID, operation, func() error {
		value, err := uc.cache.Get(ctx, cacheKey)
		if err != nil {
			return err
		}
		result = value
		return nil
	})
	if err != nil {
		return "", err
	}
	return result, nil
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
	if errors.As(err, &temporary) && temporary.Temporary() {
		return true
	}

	return false
}
