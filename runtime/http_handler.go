package runtime

import (
	"errors"
	"io"
	"log/slog"
	"net/http"

	"github.com/gin-gonic/gin"
)

// maxUploadBytes bounds a single multipart file upload.
const maxUploadBytes = 32 << 20

// HTTPHandler exposes the session API. Transport concerns stop here; the
// engine never sees gin types.
type HTTPHandler struct {
	l      *slog.Logger
	engine *Engine
}

func NewHTTPHandler(l *slog.Logger, engine *Engine, router *gin.Engine) *HTTPHandler {
	h := &HTTPHandler{l: l, engine: engine}

	rt := router.Group("/runtime")
	rt.GET("/workflow", h.getWorkflow)
	rt.POST("/sessions", h.createSession)
	rt.GET("/sessions/:id", h.getSession)
	rt.POST("/sessions/:id/components/:componentId/value", h.recordValue)
	rt.POST("/sessions/:id/components/:componentId/upload", h.recordUpload)
	rt.POST("/sessions/:id/advance", h.advance)

	return h
}

func (h *HTTPHandler) getWorkflow(c *gin.Context) {
	c.JSON(http.StatusOK, h.engine.Definition())
}

func (h *HTTPHandler) createSession(c *gin.Context) {
	snap, err := h.engine.CreateSession(c.Request.Context())
	if err != nil {
		h.writeError(c, err)
		return
	}
	c.JSON(http.StatusCreated, snap)
}

func (h *HTTPHandler) getSession(c *gin.Context) {
	snap, err := h.engine.GetSession(c.Request.Context(), c.Param("id"))
	if err != nil {
		h.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, snap)
}

func (h *HTTPHandler) recordValue(c *gin.Context) {
	var body struct {
		Value any `json:"value"`
	}
	if err := c.ShouldBindJSON(&body); err != nil {
		h.writeError(c, NewValidationError("request body must be a JSON object with a value field"))
		return
	}

	snap, err := h.engine.RecordComponentValue(c.Request.Context(), c.Param("id"), c.Param("componentId"), body.Value)
	if err != nil {
		h.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, snap)
}

func (h *HTTPHandler) recordUpload(c *gin.Context) {
	header, err := c.FormFile("file")
	if err != nil {
		h.writeError(c, NewValidationError("multipart form must contain a file field"))
		return
	}
	if header.Size > maxUploadBytes {
		h.writeError(c, NewValidationError("uploaded file exceeds the size limit"))
		return
	}

	f, err := header.Open()
	if err != nil {
		h.writeError(c, err)
		return
	}
	defer f.Close()

	contents, err := io.ReadAll(f)
	if err != nil {
		h.writeError(c, err)
		return
	}

	snap, err := h.engine.RecordUpload(c.Request.Context(), c.Param("id"), c.Param("componentId"), FileUpload{
		Name:        header.Filename,
		ContentType: header.Header.Get("Content-Type"),
		Content:     contents,
	})
	if err != nil {
		h.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, snap)
}

func (h *HTTPHandler) advance(c *gin.Context) {
	var body struct {
		TargetStepID string `json:"targetStepId"`
	}
	// An empty body means "advance from the current position".
	if err := c.ShouldBindJSON(&body); err != nil && !errors.Is(err, io.EOF) {
		h.writeError(c, NewValidationError("request body must be empty or a JSON object"))
		return
	}

	// A failed pipeline is a valid outcome for the caller, not a transport
	// error: the snapshot carries the failure and the response stays 200.
	snap, err := h.engine.Advance(c.Request.Context(), c.Param("id"), body.TargetStepID)
	if err != nil {
		h.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, snap)
}

func (h *HTTPHandler) writeError(c *gin.Context, err error) {
	engineErr := AsEngineError(err)

	status := http.StatusInternalServerError
	switch engineErr.Kind {
	case KindValidation:
		status = http.StatusBadRequest
	case KindNotFound:
		status = http.StatusNotFound
	case KindConflict:
		status = http.StatusConflict
	}

	if status == http.StatusInternalServerError {
		h.l.ErrorContext(c.Request.Context(), "Request failed", "path", c.FullPath(), "error", err)
	}
	c.JSON(status, gin.H{"error": gin.H{
		"code":    engineErr.Code,
		"message": engineErr.Message,
	}})
}
