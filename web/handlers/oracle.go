package handlers

import (
	"context"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"portfolio-oracle/oracle"
	"portfolio-oracle/web/middleware"
)

// Asker is the oracle engine as seen by the chat surface.
type Asker interface {
	Ask(ctx context.Context, req oracle.AskRequest) (oracle.AskResult, error)
	GetHistory(ctx context.Context, sessionID string) ([]oracle.HistoryEntry, error)
}

type OracleHandler struct {
	oracle Asker
	logger *zap.Logger
}

type AskRequest struct {
	Question string `json:"question" form:"question"`
	UserID   string `json:"user_id,omitempty" form:"user_id"`
}

func NewOracleHandler(o Asker, logger *zap.Logger) *OracleHandler {
	return &OracleHandler{oracle: o, logger: logger}
}

// Chat answers one question for the caller's session.
func (h *OracleHandler) Chat(c *gin.Context) {
	var req AskRequest
	if err := c.ShouldBind(&req); err != nil {
		respondWithClientError(c, http.StatusBadRequest, "Invalid request")
		return
	}

	sessionID := middleware.SessionID(c)
	askReq := oracle.AskRequest{
		SessionID: sessionID,
		Question:  req.Question,
		IP:        c.ClientIP(),
	}
	if userID := strings.TrimSpace(req.UserID); userID != "" {
		askReq.UserID = &userID
	}

	result, err := h.oracle.Ask(c.Request.Context(), askReq)
	if err != nil {
		respondWithAppError(c, err, h.logger, zap.String("session_id", sessionID))
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"session_id":    sessionID,
		"answer":        result.Answer,
		"had_grounding": result.HadGrounding,
		"latency_ms":    result.LatencyMs,
		"citations":     result.Citations,
	})
}

// History replays the caller's conversation.
func (h *OracleHandler) History(c *gin.Context) {
	sessionID := middleware.SessionID(c)
	entries, err := h.oracle.GetHistory(c.Request.Context(), sessionID)
	if err != nil {
		respondWithAppError(c, err, h.logger, zap.String("session_id", sessionID))
		return
	}
	if entries == nil {
		entries = []oracle.HistoryEntry{}
	}
	c.JSON(http.StatusOK, gin.H{"session_id": sessionID, "messages": entries})
}
