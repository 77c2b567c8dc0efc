package crew

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/cloudwego/eino/schema"
	"github.com/rs/zerolog"
	"github.com/sourcegraph/conc/panics"

	"github.com/zhouzirui/agent-crew/backend/internal/model/chat"
)

// ErrSessionBusy is returned when a follow-up targets a run whose loop is
// still active.
var ErrSessionBusy = errors.New("session is still running")

// Runtime produces the next turn(s) of the conversation. A single call may
// select a speaker and invoke the remote model; it is opaque to the driver.
type Runtime interface {
	NextTurn(ctx context.Context, history []chat.Turn) ([]*schema.Message, error)
}

// Store is the append-only run log the driver writes to.
type Store interface {
	CreateSession(ctx context.Context, request string) (chat.Session, error)
	AppendTurn(ctx context.Context, sessionID string, turn chat.Turn) error
	UpdateSession(ctx context.Context, sessionID string, fn func(*chat.Session)) (chat.Session, error)
	LoadTranscript(ctx context.Context, sessionID string) ([]chat.Turn, error)
}

// Options configures the run loop.
type Options struct {
	// MaxIterations bounds the number of runtime calls per loop.
	MaxIterations int
	UserRole      string
	Keyword       string
	Producer      string
	Language      string

	// TerminationAgents limits policy evaluation to turns spoken by these
	// agents. Empty means every turn.
	TerminationAgents []string
}

// Result is what a finished loop hands back to the caller.
type Result struct {
	Session  chat.Session   `json:"session"`
	Messages []chat.Record  `json:"messages"`
	Artifact Artifact       `json:"artifact"`
	Publish  *PublishResult `json:"publish,omitempty"`
}

// PanicError wraps a panic recovered from the run loop.
type PanicError struct {
	Value any
	Stack []byte
}

func (e *PanicError) Error() string {
	return fmt.Sprintf("run loop panicked: %v", e.Value)
}

// RunOption configures a single Run or Resume call.
type RunOption func(*runConfig)

type runConfig struct {
	onTurn func(sessionID string, turn chat.Turn)
}

// WithTurnHandler receives every turn as it is appended, including the seed,
// together with the ID of the run it belongs to.
func WithTurnHandler(h func(sessionID string, turn chat.Turn)) RunOption {
	return func(c *runConfig) {
		c.onTurn = h
	}
}

// Driver seeds a run, loops over runtime turns until the approval policy
// fires or the ceiling is hit, and returns the normalized log.
type Driver struct {
	runtime   Runtime
	store     Store
	publisher Publisher
	opts      Options
	logger    zerolog.Logger
}

// NewDriver wires a driver. publisher may be nil, in which case approval
// only extracts the artifact.
func NewDriver(runtime Runtime, store Store, publisher Publisher, opts Options, logger zerolog.Logger) *Driver {
	if opts.MaxIterations <= 0 {
		opts.MaxIterations = 20
	}
	if opts.UserRole == "" {
		opts.UserRole = string(schema.User)
	}
	return &Driver{
		runtime:   runtime,
		store:     store,
		publisher: publisher,
		opts:      opts,
		logger:    logger,
	}
}

// Run seeds a new run with request and drives it to completion.
func (d *Driver) Run(ctx context.Context, request string, opts ...RunOption) (*Result, error) {
	session, err := d.store.CreateSession(ctx, request)
	if err != nil {
		return nil, err
	}
	d.logger.Info().Str("session", session.ID).Msg("run seeded")

	return d.drive(ctx, session.ID, request, opts)
}

// Resume appends a follow-up user turn to a finished run and loops again
// with a fresh ceiling.
func (d *Driver) Resume(ctx context.Context, sessionID, text string, opts ...RunOption) (*Result, error) {
	var busy bool
	_, err := d.store.UpdateSession(ctx, sessionID, func(s *chat.Session) {
		if s.State == chat.StateRunning || s.State == chat.StateSeeded {
			busy = true
			return
		}
		// claimed here so a concurrent follow-up sees the run as busy
		s.State = chat.StateRunning
		s.Reason = ""
		s.FinishedAt = time.Time{}
	})
	if err != nil {
		return nil, err
	}
	if busy {
		return nil, ErrSessionBusy
	}
	d.logger.Info().Str("session", sessionID).Msg("run resumed")

	return d.drive(ctx, sessionID, text, opts)
}

func (d *Driver) drive(ctx context.Context, sessionID, userText string, opts []RunOption) (result *Result, err error) {
	var cfg runConfig
	for _, opt := range opts {
		opt(&cfg)
	}

	var catcher panics.Catcher
	catcher.Try(func() {
		result, err = d.loop(ctx, sessionID, userText, &cfg)
	})
	if r := catcher.Recovered(); r != nil {
		result, err = nil, &PanicError{Value: r.Value, Stack: r.Stack}
	}

	if err != nil {
		d.markFailed(sessionID)
		return nil, err
	}
	return result, nil
}

func (d *Driver) loop(ctx context.Context, sessionID, userText string, cfg *runConfig) (*Result, error) {
	result := &Result{}

	if err := d.append(ctx, sessionID, chat.UserTurn(userText), cfg); err != nil {
		return nil, err
	}

	if _, err := d.store.UpdateSession(ctx, sessionID, func(s *chat.Session) {
		s.State = chat.StateRunning
	}); err != nil {
		return nil, err
	}

	policy := ApprovalPolicy{
		UserRole: d.opts.UserRole,
		Keyword:  d.opts.Keyword,
		OnApprove: func(ctx context.Context, turns []chat.Turn) error {
			return d.approve(ctx, turns, result)
		},
	}

	history, err := d.store.LoadTranscript(ctx, sessionID)
	if err != nil {
		return nil, err
	}

	reason := chat.StopCeiling
	iterations := 0
	for iterations < d.opts.MaxIterations {
		messages, err := d.runtime.NextTurn(ctx, history)
		iterations++
		if err != nil {
			return nil, fmt.Errorf("turn %d: %w", iterations, err)
		}

		for _, msg := range messages {
			turn := chat.FromMessage(msg)
			if err := d.append(ctx, sessionID, turn, cfg); err != nil {
				return nil, err
			}
			history = append(history, turn)
		}

		if !d.evaluates(history) {
			continue
		}
		done, err := policy.ShouldTerminate(ctx, history)
		if err != nil {
			return nil, err
		}
		if done {
			reason = chat.StopApproved
			break
		}
	}

	session, err := d.store.UpdateSession(ctx, sessionID, func(s *chat.Session) {
		s.State = chat.StateDone
		s.Reason = reason
		s.Iterations += iterations
		s.FinishedAt = time.Now().UTC()
	})
	if err != nil {
		return nil, err
	}

	d.logger.Info().
		Str("session", sessionID).
		Str("reason", string(reason)).
		Int("iterations", iterations).
		Int("turns", len(history)).
		Msg("run finished")

	result.Session = session
	result.Messages = chat.Records(history)
	return result, nil
}

func (d *Driver) append(ctx context.Context, sessionID string, turn chat.Turn, cfg *runConfig) error {
	if err := d.store.AppendTurn(ctx, sessionID, turn); err != nil {
		return err
	}
	d.logger.Debug().
		Str("session", sessionID).
		Str("speaker", turn.Speaker).
		Str("source", string(turn.Source)).
		Int("length", len(turn.Text)).
		Msg("turn appended")
	if cfg.onTurn != nil {
		cfg.onTurn(sessionID, turn)
	}
	return nil
}

// evaluates reports whether the policy runs after the latest turn.
func (d *Driver) evaluates(history []chat.Turn) bool {
	if len(d.opts.TerminationAgents) == 0 {
		return true
	}
	if len(history) == 0 {
		return false
	}
	last := history[len(history)-1].Speaker
	for _, name := range d.opts.TerminationAgents {
		if name == last {
			return true
		}
	}
	return false
}

func (d *Driver) approve(ctx context.Context, turns []chat.Turn, result *Result) error {
	artifact := Extract(turns, d.opts.Producer, d.opts.Language)
	result.Artifact = artifact
	if !artifact.Found {
		d.logger.Warn().Str("producer", d.opts.Producer).Str("language", d.opts.Language).Msg("no artifact found, nothing saved")
		return nil
	}
	if d.publisher == nil {
		return nil
	}

	published, err := d.publisher.Publish(ctx, artifact)
	if err != nil {
		return err
	}
	result.Publish = &published
	return nil
}

func (d *Driver) markFailed(sessionID string) {
	_, err := d.store.UpdateSession(context.Background(), sessionID, func(s *chat.Session) {
		s.State = chat.StateFailed
		s.Reason = chat.StopError
		s.FinishedAt = time.Now().UTC()
	})
	if err != nil {
		d.logger.Error().Err(err).Str("session", sessionID).Msg("failed to mark run as failed")
	}
}

// RunSafely is the top-level entry point: any error or panic from the run is
// logged and swallowed, and nil is returned instead of a result.
func (d *Driver) RunSafely(ctx context.Context, request string, opts ...RunOption) *Result {
	result, err := d.Run(ctx, request, opts...)
	if err == nil {
		return result
	}

	event := d.logger.Error().Err(err)
	var panicErr *PanicError
	if errors.As(err, &panicErr) {
		event = event.Str("stack", string(panicErr.Stack))
	}
	event.Msg("run aborted")
	return nil
}
