package stream

import (
	"context"
	"fmt"
	"net/http"

	"github.com/rs/zerolog"

	"github.com/zhouzirui/agent-crew/backend/internal/model/chat"
	"github.com/zhouzirui/agent-crew/backend/internal/service/crew"
	"github.com/zhouzirui/agent-crew/backend/pkg/utils"
)

// Handler streams a run's turns to the client via Server-Sent Events
type Handler struct {
	driver *crew.Driver
	logger zerolog.Logger
}

// New creates a new stream handler
func New(driver *crew.Driver, logger zerolog.Logger) *Handler {
	return &Handler{
		driver: driver,
		logger: logger,
	}
}

// TurnEvent is the payload of a "turn" event.
type TurnEvent struct {
	Run     string `json:"run"`
	Index   int    `json:"index"`
	Speaker string `json:"speaker"`
	Role    string `json:"role"`
	Content string `json:"content"`
	Source  string `json:"source"`
}

// EndEvent is the payload of the final "end" event.
type EndEvent struct {
	Session  chat.Session        `json:"session"`
	Artifact crew.Artifact       `json:"artifact"`
	Publish  *crew.PublishResult `json:"publish,omitempty"`
}

// ServeHTTP handles GET /runs/stream?request=... (new run) and
// GET /runs/stream?run=ID&message=... (follow-up).
func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	query := r.URL.Query()
	runID := query.Get("run")
	text := query.Get("request")
	if runID != "" {
		text = query.Get("message")
	}
	if text == "" {
		utils.RespondError(w, http.StatusBadRequest, "request query parameter is required")
		return
	}

	if err := h.HandleStreamRequest(r.Context(), w, runID, text); err != nil {
		h.logger.Warn().Err(err).Str("run", runID).Msg("stream ended with error")
	}
}

// HandleStreamRequest drives a run and emits one event per appended turn.
// An empty runID starts a new run; otherwise text is a follow-up.
func (h *Handler) HandleStreamRequest(ctx context.Context, w http.ResponseWriter, runID, text string) error {
	flusher, ok := w.(http.Flusher)
	if !ok {
		return fmt.Errorf("streaming unsupported")
	}

	utils.SetupSSEHeaders(w)
	utils.SendSSEEvent(w, flusher, "start", map[string]string{"run": runID, "request": text})

	index := 0
	onTurn := crew.WithTurnHandler(func(sessionID string, turn chat.Turn) {
		index++
		utils.SendSSEEvent(w, flusher, "turn", TurnEvent{
			Run:     sessionID,
			Index:   index,
			Speaker: turn.Speaker,
			Role:    turn.Role,
			Content: turn.Text,
			Source:  string(turn.Source),
		})
	})

	var (
		result *crew.Result
		err    error
	)
	if runID == "" {
		result, err = h.driver.Run(ctx, text, onTurn)
	} else {
		result, err = h.driver.Resume(ctx, runID, text, onTurn)
	}
	if err != nil {
		utils.SendSSEEvent(w, flusher, "error", map[string]string{"error": err.Error()})
		return err
	}

	utils.SendSSEEvent(w, flusher, "end", EndEvent{
		Session:  result.Session,
		Artifact: result.Artifact,
		Publish:  result.Publish,
	})
	h.logger.Info().Str("run", result.Session.ID).Int("turns", index).Msg("stream completed")
	return nil
}
