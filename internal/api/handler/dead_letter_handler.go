package handler

import (
	"log/slog"
	"net/http"
	"time"

	"github.com/cuongbtq/transcode-pipeline/internal/api/dto"
	"github.com/cuongbtq/transcode-pipeline/internal/api/model"
	"github.com/cuongbtq/transcode-pipeline/internal/api/storage"
	"github.com/gin-gonic/gin"
)

const (
	defaultPageSize = 20
	maxPageSize     = 100
)

// DeadLetterHandler exposes the dead-letter journal to operators
type DeadLetterHandler struct {
	logger  *slog.Logger
	storage DeadLetterLister
}

// NewDeadLetterHandler creates a new DeadLetterHandler instance
func NewDeadLetterHandler(deps *Dependencies) *DeadLetterHandler {
	return &DeadLetterHandler{
		logger:  deps.Logger,
		storage: deps.DeadLetters,
	}
}

// ListDeadLetters pages through recorded poison messages, newest first
func (h *DeadLetterHandler) ListDeadLetters(c *gin.Context) {
	var req dto.ListDeadLettersRequest
	if err := c.ShouldBindQuery(&req); err != nil {
		c.JSON(http.StatusBadRequest, dto.ErrorResponse{Error: err.Error()})
		return
	}

	if req.PageSize <= 0 {
		req.PageSize = defaultPageSize
	}
	if req.PageSize > maxPageSize {
		req.PageSize = maxPageSize
	}

	cursor, err := DecodeDeadLetterCursor(req.Cursor)
	if err != nil {
		c.JSON(http.StatusBadRequest, dto.ErrorResponse{Error: "invalid cursor"})
		return
	}

	letters, err := h.storage.ListDeadLetters(c.Request.Context(), storage.DeadLetterFilter{
		Queue:    req.Queue,
		PageSize: req.PageSize,
		Cursor:   cursor,
	})
	if err != nil {
		h.logger.Error("Failed to list dead letters", slog.Any("error", err))
		c.JSON(http.StatusInternalServerError, dto.ErrorResponse{Error: "Failed to list dead letters"})
		return
	}

	var nextCursor string
	if len(letters) > req.PageSize {
		last := letters[req.PageSize-1]
		nextCursor = EncodeDeadLetterCursor(&storage.DeadLetterCursor{
			CreatedAt: last.CreatedAt,
			ID:        last.ID,
		})
		letters = letters[:req.PageSize]
	}

	items := make([]dto.DeadLetterDTO, 0, len(letters))
	for _, l := range letters {
		items = append(items, toDeadLetterDTO(l))
	}

	c.JSON(http.StatusOK, dto.ListDeadLettersResponse{
		DeadLetters: items,
		NextCursor:  nextCursor,
	})
}

func toDeadLetterDTO(l model.DeadLetter) dto.DeadLetterDTO {
	return dto.DeadLetterDTO{
		ID:        l.ID,
		Queue:     l.Queue,
		MessageID: l.MessageID,
		Payload:   string(l.Payload),
		Reason:    l.Reason,
		CreatedAt: l.CreatedAt.Format(time.RFC3339),
	}
}
