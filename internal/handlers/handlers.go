package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"mime"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/example/emojify/internal/auth"
	"github.com/example/emojify/internal/facedetect"
	"github.com/example/emojify/internal/imaging"
	"github.com/example/emojify/internal/logging"
	"github.com/example/emojify/internal/repository"
	"github.com/example/emojify/internal/usecase"
)

// MaxUploadSize bounds the accepted image upload.
const MaxUploadSize = 10 << 20

// multipartOverhead leaves room for form boundaries and the faces field.
const multipartOverhead = 1 << 20

// Service is the use case surface the HTTP layer depends on.
type Service interface {
	Emojify(ctx context.Context, userID string, imageBytes []byte, faces []facedetect.DetectedFace) (*usecase.Outcome, error)
	GetResult(ctx context.Context, userID, requestID string) (*repository.EmojifyLog, error)
	GetImage(ctx context.Context, userID, requestID string) ([]byte, string, error)
	GetMetricsSummary(ctx context.Context, userID string) (*usecase.MetricsSummary, error)
}

// RegisterRoutes wires the HTTP handlers to the Gin router.
func RegisterRoutes(router *gin.Engine, svc Service, authMiddleware gin.HandlerFunc) {
	router.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})

	protected := router.Group("/", authMiddleware)
	protected.POST("/emojify", emojifyHandler(svc))
	protected.GET("/result/:id", resultHandler(svc))
	protected.GET("/result/:id/image", imageHandler(svc))
	protected.GET("/metrics", func(c *gin.Context) {
		userID, _ := auth.GetUserID(c.Request.Context())
		summary, err := svc.GetMetricsSummary(c.Request.Context(), userID)
		if err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to load metrics"})
			return
		}
		c.JSON(http.StatusOK, summary)
	})
}

func emojifyHandler(svc Service) gin.HandlerFunc {
	return func(c *gin.Context) {
		userID, ok := auth.GetUserID(c.Request.Context())
		if !ok {
			c.JSON(http.StatusUnauthorized, gin.H{"error": "missing user"})
			return
		}

		c.Request.Body = http.MaxBytesReader(c.Writer, c.Request.Body, MaxUploadSize+multipartOverhead)
		file, err := c.FormFile("image")
		if err != nil {
			var tooLarge *http.MaxBytesError
			if errors.As(err, &tooLarge) {
				c.JSON(http.StatusRequestEntityTooLarge, gin.H{"error": "image exceeds upload limit"})
				return
			}
			c.JSON(http.StatusBadRequest, gin.H{"error": "image file is required"})
			return
		}
		if file.Size > MaxUploadSize {
			c.JSON(http.StatusRequestEntityTooLarge, gin.H{"error": "image exceeds upload limit"})
			return
		}

		src, err := file.Open()
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "unable to open image"})
			return
		}
		defer src.Close()

		data, err := io.ReadAll(src)
		if err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to read image"})
			return
		}
		if !imaging.SupportedContentType(uploadContentType(file.Header.Get("Content-Type"), data)) {
			c.JSON(http.StatusUnsupportedMediaType, gin.H{"error": "unsupported image type"})
			return
		}

		var faces []facedetect.DetectedFace
		if raw := c.PostForm("faces"); raw != "" {
			if err := json.Unmarshal([]byte(raw), &faces); err != nil {
				c.JSON(http.StatusBadRequest, gin.H{"error": "faces must be a JSON array of detected faces"})
				return
			}
			if faces == nil {
				faces = []facedetect.DetectedFace{}
			}
		}

		outcome, err := svc.Emojify(c.Request.Context(), userID, data, faces)
		if err != nil {
			writeEmojifyError(c, err)
			return
		}

		if c.Query("format") == "raw" {
			c.Header("X-Request-ID", outcome.RequestID)
			c.Data(http.StatusOK, outcome.ContentType, outcome.Image)
			return
		}

		body := gin.H{
			"request_id": outcome.RequestID,
			"no_faces":   outcome.NoFaces,
			"faces":      outcome.Faces,
			"width":      outcome.Width,
			"height":     outcome.Height,
			"image_url":  fmt.Sprintf("/result/%s/image", outcome.RequestID),
		}
		if outcome.NoFaces {
			body["message"] = "no faces detected"
		}
		c.JSON(http.StatusOK, body)
	}
}

func resultHandler(svc Service) gin.HandlerFunc {
	return func(c *gin.Context) {
		userID, _ := auth.GetUserID(c.Request.Context())
		log, err := svc.GetResult(c.Request.Context(), userID, c.Param("id"))
		if err != nil {
			writeLookupError(c, err)
			return
		}

		c.JSON(http.StatusOK, gin.H{
			"request_id":    log.RequestID,
			"user_id":       log.UserID,
			"face_count":    log.FaceCount,
			"skipped_faces": log.SkippedFaces,
			"categories":    log.CategoryList(),
			"format":        log.Format,
			"width":         log.Width,
			"height":        log.Height,
			"sha1_hash":     log.SHA1Hash,
			"created_at":    log.CreatedAt,
		})
	}
}

func imageHandler(svc Service) gin.HandlerFunc {
	return func(c *gin.Context) {
		userID, _ := auth.GetUserID(c.Request.Context())
		data, contentType, err := svc.GetImage(c.Request.Context(), userID, c.Param("id"))
		if err != nil {
			writeLookupError(c, err)
			return
		}
		c.Data(http.StatusOK, contentType, data)
	}
}

func writeEmojifyError(c *gin.Context, err error) {
	status := http.StatusInternalServerError
	switch {
	case errors.Is(err, imaging.ErrUnsupportedFormat):
		status = http.StatusUnsupportedMediaType
	case errors.Is(err, imaging.ErrImageTooLarge):
		status = http.StatusRequestEntityTooLarge
	case errors.Is(err, usecase.ErrNoDetector):
		status = http.StatusServiceUnavailable
	case errors.Is(err, context.DeadlineExceeded):
		status = http.StatusGatewayTimeout
	}
	c.JSON(status, gin.H{"error": err.Error(), "operation": logging.OperationOf(err)})
}

func writeLookupError(c *gin.Context, err error) {
	switch {
	case errors.Is(err, repository.ErrNotFound):
		c.JSON(http.StatusNotFound, gin.H{"error": "result not found"})
	case errors.Is(err, usecase.ErrImageExpired):
		c.JSON(http.StatusGone, gin.H{"error": "image expired"})
	default:
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to load result"})
	}
}

// uploadContentType trusts a declared image type and sniffs anything else.
func uploadContentType(declared string, data []byte) string {
	if mediaType, _, err := mime.ParseMediaType(declared); err == nil && mediaType != "application/octet-stream" {
		return mediaType
	}
	sniffed, _, _ := mime.ParseMediaType(http.DetectContentType(data))
	return sniffed
}
