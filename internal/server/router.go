package server

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/MarcoPoloResearchLab/curriculum/internal/auth"
	"github.com/MarcoPoloResearchLab/curriculum/internal/curriculum"
	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

const (
	sessionClaimsContextKey = "curriculum_session_claims"
	streamTokenQueryParam   = "access_token"
	streamHeartbeatInterval = 25 * time.Second
	maxDraftBodyBytes       = 4 << 20
)

var (
	errMissingSessionValidator  = errors.New("session validator dependency required")
	errMissingCurriculumService = errors.New("curriculum service dependency required")
	errInvalidAuthorization     = errors.New("authorization missing or invalid")
)

// SessionValidator authenticates incoming requests.
type SessionValidator interface {
	ValidateRequest(r *http.Request) (auth.SessionClaims, error)
	ValidateToken(token string) (auth.SessionClaims, error)
}

type Dependencies struct {
	SessionValidator  SessionValidator
	CurriculumService *curriculum.Service
	Realtime          *RealtimeDispatcher
	Logger            *zap.Logger
}

func NewHTTPHandler(deps Dependencies) (http.Handler, error) {
	if deps.SessionValidator == nil {
		return nil, errMissingSessionValidator
	}
	if deps.CurriculumService == nil {
		return nil, errMissingCurriculumService
	}

	logger := deps.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	realtime := deps.Realtime
	if realtime == nil {
		realtime = NewRealtimeDispatcher()
	}

	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(corsMiddleware())

	handler := &httpHandler{
		sessions:   deps.SessionValidator,
		curriculum: deps.CurriculumService,
		realtime:   realtime,
		logger:     logger,
	}

	router.GET("/healthz", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})

	protected := router.Group("/curriculum")
	protected.Use(handler.authorizeRequest)
	protected.GET("/tree", handler.handleListTree)
	protected.GET("/stream", handler.handleStream)
	protected.GET("/manifest/export", handler.handleExportManifest)
	protected.POST("/manifest/sync", handler.handleSyncManifest)

	protected.GET("/units/by-slug/:slug", handler.handleGetUnitBySlug)
	protected.POST("/units", handler.handleCreateUnit)
	protected.POST("/units/reorder", handler.handleReorderUnits)
	protected.PATCH("/units/:id", handler.handleUpdateUnit)
	protected.DELETE("/units/:id", handler.handleDeleteUnit)
	protected.POST("/units/:id/topics/reorder", handler.handleReorderTopics)

	protected.POST("/topics", handler.handleCreateTopic)
	protected.PATCH("/topics/:id", handler.handleUpdateTopic)
	protected.DELETE("/topics/:id", handler.handleDeleteTopic)
	protected.POST("/topics/:id/move", handler.handleMoveTopic)
	protected.POST("/topics/:id/lessons/reorder", handler.handleReorderLessons)

	protected.POST("/lessons", handler.handleCreateLesson)
	protected.PUT("/lessons/:id/draft", handler.handleSaveLessonDraft)
	protected.POST("/lessons/:id/publish", handler.handlePublishLesson)
	protected.PATCH("/lessons/:id/authoring", handler.handleUpdateLessonAuthoring)
	protected.POST("/lessons/:id/move", handler.handleMoveLesson)
	protected.DELETE("/lessons/:id", handler.handleDeleteLesson)

	return router, nil
}

func corsMiddleware() gin.HandlerFunc {
	return cors.New(cors.Config{
		AllowOriginFunc: func(string) bool { return true },
		AllowMethods: []string{
			http.MethodGet,
			http.MethodPost,
			http.MethodPut,
			http.MethodPatch,
			http.MethodDelete,
			http.MethodOptions,
		},
		AllowHeaders:     []string{"Authorization", "Content-Type"},
		AllowCredentials: true,
		MaxAge:           12 * time.Hour,
	})
}

type httpHandler struct {
	sessions   SessionValidator
	curriculum *curriculum.Service
	realtime   *RealtimeDispatcher
	logger     *zap.Logger
}

func (h *httpHandler) authorizeRequest(c *gin.Context) {
	claims, err := h.sessions.ValidateRequest(c.Request)
	if err != nil {
		if token := strings.TrimSpace(c.Query(streamTokenQueryParam)); token != "" {
			claims, err = h.sessions.ValidateToken(token)
		}
	}
	if err != nil {
		if errors.Is(err, auth.ErrExpiredSessionToken) {
			h.logger.Info("token validation failed", zap.Error(err))
		} else {
			h.logger.Warn("token validation failed", zap.Error(err))
		}
		c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "unauthorized", "code": errInvalidAuthorization.Error()})
		return
	}
	c.Set(sessionClaimsContextKey, claims)
	c.Next()
}

func (h *httpHandler) handleListTree(c *gin.Context) {
	limit := 0
	if raw := strings.TrimSpace(c.Query("limit")); raw != "" {
		parsed, err := strconv.Atoi(raw)
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_request", "code": "curriculum.list_tree.invalid_limit"})
			return
		}
		limit = parsed
	}
	page, err := h.curriculum.ListTree(c.Request.Context(), c.Query("cursor"), limit)
	if err != nil {
		h.writeServiceError(c, err)
		return
	}
	c.JSON(http.StatusOK, page)
}

func (h *httpHandler) handleGetUnitBySlug(c *gin.Context) {
	node, err := h.curriculum.GetUnitBySlug(c.Request.Context(), c.Param("slug"))
	if err != nil {
		h.writeServiceError(c, err)
		return
	}
	c.JSON(http.StatusOK, node)
}

func (h *httpHandler) handleExportManifest(c *gin.Context) {
	manifest, err := h.curriculum.ExportManifest(c.Request.Context())
	if err != nil {
		h.writeServiceError(c, err)
		return
	}
	c.JSON(http.StatusOK, manifest)
}

type syncRequestPayload struct {
	Manifest *curriculum.Manifest   `json:"manifest"`
	Options  curriculum.SyncOptions `json:"options"`
}

func (h *httpHandler) handleSyncManifest(c *gin.Context) {
	var request syncRequestPayload
	if err := c.ShouldBindJSON(&request); err != nil || request.Manifest == nil {
		writeInvalidRequest(c, "curriculum.sync_manifest.invalid_body")
		return
	}
	summary, err := h.curriculum.SyncManifest(c.Request.Context(), *request.Manifest, request.Options)
	if err != nil {
		h.writeServiceError(c, err)
		return
	}
	c.JSON(http.StatusOK, summary)
}

func (h *httpHandler) handleCreateUnit(c *gin.Context) {
	var input curriculum.CreateUnitInput
	if err := c.ShouldBindJSON(&input); err != nil {
		writeInvalidRequest(c, "curriculum.create_unit.invalid_body")
		return
	}
	unit, err := h.curriculum.CreateUnit(c.Request.Context(), input)
	if err != nil {
		h.writeServiceError(c, err)
		return
	}
	c.JSON(http.StatusCreated, unit)
}

func (h *httpHandler) handleUpdateUnit(c *gin.Context) {
	var input curriculum.UpdateUnitInput
	if err := c.ShouldBindJSON(&input); err != nil {
		writeInvalidRequest(c, "curriculum.update_unit.invalid_body")
		return
	}
	unit, err := h.curriculum.UpdateUnit(c.Request.Context(), c.Param("id"), input)
	if err != nil {
		h.writeServiceError(c, err)
		return
	}
	c.JSON(http.StatusOK, unit)
}

func (h *httpHandler) handleDeleteUnit(c *gin.Context) {
	result, err := h.curriculum.DeleteUnit(c.Request.Context(), c.Param("id"))
	if err != nil {
		h.writeServiceError(c, err)
		return
	}
	c.JSON(http.StatusOK, result)
}

type reorderRequestPayload struct {
	IDs []string `json:"ids"`
}

func (h *httpHandler) handleReorderUnits(c *gin.Context) {
	var request reorderRequestPayload
	if err := c.ShouldBindJSON(&request); err != nil {
		writeInvalidRequest(c, "curriculum.reorder_units.invalid_body")
		return
	}
	if err := h.curriculum.ReorderUnits(c.Request.Context(), request.IDs); err != nil {
		h.writeServiceError(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

func (h *httpHandler) handleReorderTopics(c *gin.Context) {
	var request reorderRequestPayload
	if err := c.ShouldBindJSON(&request); err != nil {
		writeInvalidRequest(c, "curriculum.reorder_topics.invalid_body")
		return
	}
	if err := h.curriculum.ReorderTopics(c.Request.Context(), c.Param("id"), request.IDs); err != nil {
		h.writeServiceError(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

func (h *httpHandler) handleCreateTopic(c *gin.Context) {
	var input curriculum.CreateTopicInput
	if err := c.ShouldBindJSON(&input); err != nil {
		writeInvalidRequest(c, "curriculum.create_topic.invalid_body")
		return
	}
	topic, err := h.curriculum.CreateTopic(c.Request.Context(), input)
	if err != nil {
		h.writeServiceError(c, err)
		return
	}
	c.JSON(http.StatusCreated, topic)
}

func (h *httpHandler) handleUpdateTopic(c *gin.Context) {
	var input curriculum.UpdateTopicInput
	if err := c.ShouldBindJSON(&input); err != nil {
		writeInvalidRequest(c, "curriculum.update_topic.invalid_body")
		return
	}
	topic, err := h.curriculum.UpdateTopic(c.Request.Context(), c.Param("id"), input)
	if err != nil {
		h.writeServiceError(c, err)
		return
	}
	c.JSON(http.StatusOK, topic)
}

func (h *httpHandler) handleDeleteTopic(c *gin.Context) {
	result, err := h.curriculum.DeleteTopic(c.Request.Context(), c.Param("id"))
	if err != nil {
		h.writeServiceError(c, err)
		return
	}
	c.JSON(http.StatusOK, result)
}

func (h *httpHandler) handleMoveTopic(c *gin.Context) {
	var input curriculum.MoveTopicInput
	if err := c.ShouldBindJSON(&input); err != nil {
		writeInvalidRequest(c, "curriculum.move_topic.invalid_body")
		return
	}
	topic, err := h.curriculum.MoveTopic(c.Request.Context(), c.Param("id"), input)
	if err != nil {
		h.writeServiceError(c, err)
		return
	}
	c.JSON(http.StatusOK, topic)
}

func (h *httpHandler) handleReorderLessons(c *gin.Context) {
	var request reorderRequestPayload
	if err := c.ShouldBindJSON(&request); err != nil {
		writeInvalidRequest(c, "curriculum.reorder_lessons.invalid_body")
		return
	}
	if err := h.curriculum.ReorderLessons(c.Request.Context(), c.Param("id"), request.IDs); err != nil {
		h.writeServiceError(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

func (h *httpHandler) handleCreateLesson(c *gin.Context) {
	var input curriculum.CreateLessonInput
	if err := c.ShouldBindJSON(&input); err != nil {
		writeInvalidRequest(c, "curriculum.create_lesson.invalid_body")
		return
	}
	lesson, err := h.curriculum.CreateLesson(c.Request.Context(), input)
	if err != nil {
		h.writeServiceError(c, err)
		return
	}
	c.JSON(http.StatusCreated, lesson)
}

func (h *httpHandler) handleSaveLessonDraft(c *gin.Context) {
	body, err := io.ReadAll(io.LimitReader(c.Request.Body, maxDraftBodyBytes))
	if err != nil {
		writeInvalidRequest(c, "curriculum.save_lesson_draft.invalid_body")
		return
	}
	lesson, err := h.curriculum.SaveLessonDraft(c.Request.Context(), c.Param("id"), json.RawMessage(body))
	if err != nil {
		h.writeServiceError(c, err)
		return
	}
	c.JSON(http.StatusOK, lesson)
}

func (h *httpHandler) handlePublishLesson(c *gin.Context) {
	lesson, err := h.curriculum.PublishLesson(c.Request.Context(), c.Param("id"))
	if err != nil {
		h.writeServiceError(c, err)
		return
	}
	c.JSON(http.StatusOK, lesson)
}

func (h *httpHandler) handleUpdateLessonAuthoring(c *gin.Context) {
	var input curriculum.UpdateLessonAuthoringInput
	if err := c.ShouldBindJSON(&input); err != nil {
		writeInvalidRequest(c, "curriculum.update_lesson_authoring.invalid_body")
		return
	}
	lesson, err := h.curriculum.UpdateLessonAuthoring(c.Request.Context(), c.Param("id"), input)
	if err != nil {
		h.writeServiceError(c, err)
		return
	}
	c.JSON(http.StatusOK, lesson)
}

func (h *httpHandler) handleMoveLesson(c *gin.Context) {
	var input curriculum.MoveLessonInput
	if err := c.ShouldBindJSON(&input); err != nil {
		writeInvalidRequest(c, "curriculum.move_lesson.invalid_body")
		return
	}
	lesson, err := h.curriculum.MoveLesson(c.Request.Context(), c.Param("id"), input)
	if err != nil {
		h.writeServiceError(c, err)
		return
	}
	c.JSON(http.StatusOK, lesson)
}

func (h *httpHandler) handleDeleteLesson(c *gin.Context) {
	result, err := h.curriculum.DeleteLesson(c.Request.Context(), c.Param("id"))
	if err != nil {
		h.writeServiceError(c, err)
		return
	}
	c.JSON(http.StatusOK, result)
}

func (h *httpHandler) handleStream(c *gin.Context) {
	messages, cleanup := h.realtime.Subscribe(c.Request.Context())
	defer cleanup()

	c.Header("Content-Type", "text/event-stream")
	c.Header("Cache-Control", "no-cache")
	c.Header("Connection", "keep-alive")
	c.Header("X-Accel-Buffering", "no")
	c.Status(http.StatusOK)
	c.Writer.Flush()

	heartbeat := time.NewTicker(streamHeartbeatInterval)
	defer heartbeat.Stop()

	c.Stream(func(w io.Writer) bool {
		select {
		case <-c.Request.Context().Done():
			return false
		case message := <-messages:
			c.SSEvent(message.EventType, message)
			return true
		case <-heartbeat.C:
			c.SSEvent(realtimeEventHeartbeat, gin.H{"timestamp": time.Now().UTC()})
			return true
		}
	})
}

func writeInvalidRequest(c *gin.Context, code string) {
	c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_request", "code": code})
}

func (h *httpHandler) writeServiceError(c *gin.Context, err error) {
	code := ""
	var serviceErr *curriculum.ServiceError
	if errors.As(err, &serviceErr) {
		code = serviceErr.Code()
	}
	switch {
	case errors.Is(err, curriculum.ErrNotFound):
		c.JSON(http.StatusNotFound, gin.H{"error": "not_found", "code": code})
	case errors.Is(err, curriculum.ErrValidation), errors.Is(err, curriculum.ErrInvalidID):
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_request", "code": code})
	default:
		h.logger.Error("curriculum request failed",
			zap.String("path", c.FullPath()),
			zap.String("code", code),
			zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "internal_error", "code": code})
	}
}
