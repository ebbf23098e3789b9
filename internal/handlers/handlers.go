package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"path/filepath"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"gorm.io/gorm"

	"github.com/example/menu-labeler/internal/repository"
)

// DefaultMaxUploadSize caps uploaded images when no limit is configured.
const DefaultMaxUploadSize = 10 << 20

// multipartOverhead leaves room for form boundaries and headers around the file.
const multipartOverhead = 64 << 10

// Labeler is the subset of the labeling use case exposed over HTTP.
type Labeler interface {
	Accepts(filename string) bool
	ClassifyImage(ctx context.Context, filename string, data []byte) (json.RawMessage, error)
}

// RecordFinder looks up persisted label records.
type RecordFinder interface {
	FindLatestByFilename(ctx context.Context, filename string) (*repository.LabelRecord, error)
}

// RegisterRoutes wires the HTTP handlers to the Gin router. records may be
// nil when no database is configured.
func RegisterRoutes(router *gin.Engine, labeler Labeler, records RecordFinder, authMiddleware gin.HandlerFunc, maxUploadSize int64) {
	if maxUploadSize <= 0 {
		maxUploadSize = DefaultMaxUploadSize
	}

	router.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})
	router.GET("/metrics", gin.WrapH(promhttp.Handler()))

	protected := router.Group("/", authMiddleware)

	protected.POST("/classify", func(c *gin.Context) {
		if c.Request.ContentLength > maxUploadSize+multipartOverhead {
			c.JSON(http.StatusRequestEntityTooLarge, gin.H{"error": "image too large"})
			return
		}
		c.Request.Body = http.MaxBytesReader(c.Writer, c.Request.Body, maxUploadSize+multipartOverhead)

		file, err := c.FormFile("image")
		if err != nil {
			var maxErr *http.MaxBytesError
			if errors.As(err, &maxErr) {
				c.JSON(http.StatusRequestEntityTooLarge, gin.H{"error": "image too large"})
				return
			}
			c.JSON(http.StatusBadRequest, gin.H{"error": "image file is required"})
			return
		}
		if file.Size > maxUploadSize {
			c.JSON(http.StatusRequestEntityTooLarge, gin.H{"error": "image too large"})
			return
		}

		filename := filepath.Base(file.Filename)
		if !labeler.Accepts(filename) {
			c.JSON(http.StatusUnsupportedMediaType, gin.H{"error": "unsupported file extension"})
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

		result, err := labeler.ClassifyImage(c.Request.Context(), filename, data)
		if err != nil {
			c.JSON(http.StatusBadGateway, gin.H{"error": err.Error()})
			return
		}

		c.JSON(http.StatusOK, gin.H{
			"filename": filename,
			"result":   result,
		})
	})

	protected.GET("/results/:filename", func(c *gin.Context) {
		if records == nil {
			c.JSON(http.StatusServiceUnavailable, gin.H{"error": "result storage is not configured"})
			return
		}

		filename := c.Param("filename")
		record, err := records.FindLatestByFilename(c.Request.Context(), filename)
		if err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				c.JSON(http.StatusNotFound, gin.H{"error": "result not found"})
				return
			}
			c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to load result"})
			return
		}

		c.JSON(http.StatusOK, gin.H{
			"filename":      record.Filename,
			"run_id":        record.RunID,
			"model":         record.Model,
			"status":        record.Status,
			"menu_photo":    record.MenuPhoto,
			"receipt_photo": record.ReceiptPhoto,
			"result":        rawResult(record.Result),
			"created_at":    record.CreatedAt,
		})
	})
}

func rawResult(value string) json.RawMessage {
	if value == "" {
		return json.RawMessage("null")
	}
	return json.RawMessage(value)
}
