package handlers

import (
	"context"
	"errors"
	"io"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"github.com/example/leafscan/internal/auth"
	"github.com/example/leafscan/internal/catalog"
	"github.com/example/leafscan/internal/repository"
	"github.com/example/leafscan/internal/usecase"
)

// MaxUploadSize is the largest accepted image upload.
const MaxUploadSize = 10 << 20

// multipartOverhead leaves room for boundaries and headers around the file.
const multipartOverhead = 1 << 20

// DiagnosisService is the subset of the use case the routes call.
type DiagnosisService interface {
	Diagnose(ctx context.Context, userID, filename string, data []byte) (*usecase.Report, error)
	GetResult(ctx context.Context, userID, requestID string) (*usecase.Report, error)
	History(ctx context.Context, userID string, limit int) ([]*usecase.Report, error)
	GetDuplicateReport(ctx context.Context, userID, requestID string) (*usecase.DuplicateReport, error)
	GetMetricsSummary(ctx context.Context) (*usecase.MetricsSummary, error)
}

// Catalog serves the public reference pages.
type Catalog interface {
	Records() []catalog.Record
	Lookup(label string) (catalog.Record, bool)
}

// RegisterRoutes wires the HTTP handlers to the Gin router.
func RegisterRoutes(router *gin.Engine, svc DiagnosisService, cat Catalog, authMiddleware gin.HandlerFunc) {
	registerRoutes(router, svc, cat, authMiddleware, MaxUploadSize)
}

// RegisterRoutesWithLimit is RegisterRoutes with a custom upload limit.
func RegisterRoutesWithLimit(router *gin.Engine, svc DiagnosisService, cat Catalog, authMiddleware gin.HandlerFunc, maxUpload int64) {
	if maxUpload <= 0 {
		maxUpload = MaxUploadSize
	}
	registerRoutes(router, svc, cat, authMiddleware, maxUpload)
}

func registerRoutes(router *gin.Engine, svc DiagnosisService, cat Catalog, authMiddleware gin.HandlerFunc, maxUpload int64) {
	router.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})

	router.GET("/diseases", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"diseases": cat.Records()})
	})

	router.GET("/diseases/:label", func(c *gin.Context) {
		record, ok := cat.Lookup(c.Param("label"))
		if !ok {
			c.JSON(http.StatusNotFound, gin.H{"error": "unknown label"})
			return
		}
		c.JSON(http.StatusOK, record)
	})

	authorized := router.Group("/", authMiddleware)

	authorized.POST("/diagnose", func(c *gin.Context) {
		userID, _ := auth.GetUserID(c.Request.Context())
		c.Request.Body = http.MaxBytesReader(c.Writer, c.Request.Body, maxUpload+multipartOverhead)

		file, err := c.FormFile("file")
		if err != nil {
			var tooLarge *http.MaxBytesError
			if errors.As(err, &tooLarge) {
				c.JSON(http.StatusRequestEntityTooLarge, gin.H{"error": "file too large"})
				return
			}
			c.JSON(http.StatusBadRequest, gin.H{"error": "file is required"})
			return
		}
		if file.Size > maxUpload {
			c.JSON(http.StatusRequestEntityTooLarge, gin.H{"error": "file too large"})
			return
		}

		// Part Content-Type is client-chosen; the decoder decides what the bytes are.
		if !usecase.AllowedFile(file.Filename) {
			c.JSON(http.StatusUnsupportedMediaType, gin.H{"error": catalog.Rejection(catalog.KindInvalidFile).Message})
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

		report, err := svc.Diagnose(c.Request.Context(), userID, file.Filename, data)
		if err != nil {
			if errors.Is(err, usecase.ErrUnsupportedFile) {
				c.JSON(http.StatusUnsupportedMediaType, gin.H{"error": catalog.Rejection(catalog.KindInvalidFile).Message})
				return
			}
			c.JSON(http.StatusInternalServerError, gin.H{"error": "diagnosis failed"})
			return
		}
		c.JSON(http.StatusOK, report)
	})

	authorized.GET("/result/:id", func(c *gin.Context) {
		userID, _ := auth.GetUserID(c.Request.Context())
		report, err := svc.GetResult(c.Request.Context(), userID, c.Param("id"))
		if err != nil {
			writeLookupError(c, err)
			return
		}
		c.JSON(http.StatusOK, report)
	})

	authorized.GET("/result/:id/duplicates", func(c *gin.Context) {
		userID, _ := auth.GetUserID(c.Request.Context())
		report, err := svc.GetDuplicateReport(c.Request.Context(), userID, c.Param("id"))
		if err != nil {
			writeLookupError(c, err)
			return
		}
		c.JSON(http.StatusOK, report)
	})

	authorized.GET("/history", func(c *gin.Context) {
		userID, _ := auth.GetUserID(c.Request.Context())
		limit := 20
		if raw := c.Query("limit"); raw != "" {
			n, err := strconv.Atoi(raw)
			if err != nil || n <= 0 || n > 100 {
				c.JSON(http.StatusBadRequest, gin.H{"error": "limit must be between 1 and 100"})
				return
			}
			limit = n
		}

		reports, err := svc.History(c.Request.Context(), userID, limit)
		if err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to load history"})
			return
		}
		c.JSON(http.StatusOK, gin.H{"items": reports})
	})

	authorized.GET("/metrics", func(c *gin.Context) {
		summary, err := svc.GetMetricsSummary(c.Request.Context())
		if err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to aggregate metrics"})
			return
		}
		c.JSON(http.StatusOK, summary)
	})
}

func writeLookupError(c *gin.Context, err error) {
	switch {
	case errors.Is(err, usecase.ErrProcessing):
		c.JSON(http.StatusAccepted, gin.H{"status": "processing"})
	case errors.Is(err, repository.ErrNotFound):
		c.JSON(http.StatusNotFound, gin.H{"error": "result not found"})
	default:
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to load result"})
	}
}
