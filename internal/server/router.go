package server

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/MarcoPoloResearchLab/coursepack/internal/auth"
	"github.com/MarcoPoloResearchLab/coursepack/internal/courses"
	"github.com/MarcoPoloResearchLab/coursepack/internal/importer"
	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

const (
	uploaderIDContextKey = "coursepack_uploader_id"
	courseFileField      = "course_file"
	// multipartOverhead covers boundaries and headers on top of the archive itself.
	multipartOverhead = 1 << 20
)

var (
	errMissingImporter      = errors.New("importer dependency required")
	errMissingValidator     = errors.New("session validator dependency required")
	errMissingUserResolver  = errors.New("user resolver dependency required")
	errInvalidAuthorization = errors.New("authorization missing or invalid")
)

// Importer runs one course upload through the import pipeline.
type Importer interface {
	Import(ctx context.Context, upload importer.Upload, uploaderID string) (importer.Result, error)
}

// SessionValidator authenticates upload requests.
type SessionValidator interface {
	ValidateRequest(r *http.Request) (auth.SessionClaims, error)
}

// UserResolver maps validated claims to the canonical uploader id.
type UserResolver interface {
	ResolveCanonicalUserID(ctx context.Context, claims auth.SessionClaims) (string, error)
}

// Dependencies wires the HTTP surface.
type Dependencies struct {
	Importer         Importer
	SessionValidator SessionValidator
	Users            UserResolver
	// MetricsHandler is mounted at /metrics when set.
	MetricsHandler http.Handler
	MaxUploadBytes int64
	Logger         *zap.Logger
}

// NewHTTPHandler builds the gin router.
func NewHTTPHandler(deps Dependencies) (http.Handler, error) {
	if deps.Importer == nil {
		return nil, errMissingImporter
	}
	if deps.SessionValidator == nil {
		return nil, errMissingValidator
	}
	if deps.Users == nil {
		return nil, errMissingUserResolver
	}

	logger := deps.Logger
	if logger == nil {
		logger = zap.NewNop()
	}

	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(corsMiddleware())

	handler := &httpHandler{
		importer:       deps.Importer,
		sessions:       deps.SessionValidator,
		users:          deps.Users,
		maxUploadBytes: deps.MaxUploadBytes,
		logger:         logger,
	}

	router.GET("/healthz", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})
	if deps.MetricsHandler != nil {
		router.GET("/metrics", gin.WrapH(deps.MetricsHandler))
	}

	protected := router.Group("/")
	protected.Use(handler.authorizeRequest)
	protected.POST("/courses/upload", handler.handleUpload)

	return router, nil
}

func corsMiddleware() gin.HandlerFunc {
	return cors.New(cors.Config{
		AllowOriginFunc:  func(string) bool { return true },
		AllowMethods:     []string{http.MethodGet, http.MethodPost, http.MethodOptions},
		AllowHeaders:     []string{"Authorization", "Content-Type"},
		AllowCredentials: true,
		MaxAge:           12 * time.Hour,
	})
}

type httpHandler struct {
	importer       Importer
	sessions       SessionValidator
	users          UserResolver
	maxUploadBytes int64
	logger         *zap.Logger
}

type coursePayload struct {
	ID          uint                  `json:"id"`
	ShortName   string                `json:"short_name"`
	Title       courses.LocalizedText `json:"title"`
	Version     int64                 `json:"version"`
	IsDraft     bool                  `json:"is_draft"`
	Filename    string                `json:"filename"`
	LastUpdated int64                 `json:"last_updated_s"`
}

type uploadResponsePayload struct {
	Outcome    importer.Outcome    `json:"outcome"`
	Course     *coursePayload      `json:"course,omitempty"`
	Advisories []importer.Advisory `json:"advisories"`
}

func (h *httpHandler) handleUpload(c *gin.Context) {
	uploaderID := c.GetString(uploaderIDContextKey)
	if uploaderID == "" {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "unauthorized"})
		return
	}

	if h.maxUploadBytes > 0 {
		if c.Request.ContentLength > h.maxUploadBytes+multipartOverhead {
			c.JSON(http.StatusRequestEntityTooLarge, gin.H{"error": "upload_too_large"})
			return
		}
		c.Request.Body = http.MaxBytesReader(c.Writer, c.Request.Body, h.maxUploadBytes+multipartOverhead)
	}
	header, err := c.FormFile(courseFileField)
	if err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			c.JSON(http.StatusRequestEntityTooLarge, gin.H{"error": "upload_too_large"})
			return
		}
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_request"})
		return
	}
	file, err := header.Open()
	if err != nil {
		h.logger.Error("failed to open uploaded file", zap.String("filename", header.Filename), zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "upload_failed"})
		return
	}
	defer file.Close()

	result, err := h.importer.Import(c.Request.Context(), importer.Upload{Filename: header.Filename, Content: file}, uploaderID)
	if err != nil {
		h.logger.Debug("course upload finished with error",
			zap.String("uploader_id", uploaderID),
			zap.String("outcome", string(result.Outcome)),
			zap.Error(err))
	}

	response := uploadResponsePayload{Outcome: result.Outcome, Advisories: result.Advisories}
	if response.Advisories == nil {
		response.Advisories = []importer.Advisory{}
	}
	if course := result.Course; course != nil {
		response.Course = &coursePayload{
			ID:          course.ID,
			ShortName:   course.ShortName,
			Title:       courses.DecodeLocalized(course.Title),
			Version:     course.Version,
			IsDraft:     course.IsDraft,
			Filename:    course.Filename,
			LastUpdated: course.LastUpdated.Unix(),
		}
	}
	c.JSON(statusForOutcome(result.Outcome), response)
}

func statusForOutcome(outcome importer.Outcome) int {
	switch outcome {
	case importer.OutcomeSuccess:
		return http.StatusOK
	case importer.OutcomeClientError:
		return http.StatusBadRequest
	case importer.OutcomePermissionError:
		return http.StatusUnauthorized
	default:
		return http.StatusInternalServerError
	}
}

func (h *httpHandler) authorizeRequest(c *gin.Context) {
	claims, err := h.sessions.ValidateRequest(c.Request)
	if err != nil {
		if errors.Is(err, auth.ErrExpiredSessionToken) || errors.Is(err, auth.ErrMissingSessionToken) {
			h.logger.Info("token validation failed", zap.Error(err))
		} else {
			h.logger.Warn("token validation failed", zap.Error(err))
		}
		c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": errInvalidAuthorization.Error()})
		return
	}
	uploaderID, err := h.users.ResolveCanonicalUserID(c.Request.Context(), claims)
	if err != nil {
		h.logger.Error("failed to resolve uploader identity", zap.String("user_id", claims.UserID), zap.Error(err))
		c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "unauthorized"})
		return
	}
	c.Set(uploaderIDContextKey, uploaderID)
	c.Next()
}
