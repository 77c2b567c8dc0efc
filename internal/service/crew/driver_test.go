package crew

import (
	"context"
	"errors"
	"testing"

	"github.com/cloudwego/eino/schema"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/zhouzirui/agent-crew/backend/internal/model/chat"
	chatservice "github.com/zhouzirui/agent-crew/backend/internal/service/chat"
)

// scriptedRuntime replays responses in order, then keeps repeating filler.
type scriptedRuntime struct {
	responses [][]*schema.Message
	filler    *schema.Message
	calls     int
	histories []int
	err       error
	panicAt   int
}

func (r *scriptedRuntime) NextTurn(_ context.Context, history []chat.Turn) ([]*schema.Message, error) {
	r.calls++
	r.histories = append(r.histories, len(history))
	if r.panicAt > 0 && r.calls == r.panicAt {
		panic("runtime exploded")
	}
	if r.err != nil {
		return nil, r.err
	}
	if r.calls <= len(r.responses) {
		return r.responses[r.calls-1], nil
	}
	filler := r.filler
	if filler == nil {
		filler = agentMessage("BusinessAnalystAgent", "still planning")
	}
	return []*schema.Message{filler}, nil
}

type recordingPublisher struct {
	artifacts []Artifact
	result    PublishResult
	err       error
}

func (p *recordingPublisher) Publish(_ context.Context, artifact Artifact) (PublishResult, error) {
	p.artifacts = append(p.artifacts, artifact)
	return p.result, p.err
}

func agentMessage(name, text string) *schema.Message {
	return &schema.Message{
		Role:         schema.Assistant,
		Name:         name,
		Content:      text,
		ResponseMeta: &schema.ResponseMeta{FinishReason: "stop"},
	}
}

func one(msg *schema.Message) []*schema.Message { return []*schema.Message{msg} }

func defaultOptions() Options {
	return Options{
		MaxIterations: 20,
		UserRole:      "user",
		Keyword:       "APPROVED",
		Producer:      "SoftwareEngineerAgent",
		Language:      "html",
	}
}

func newTestDriver(runtime Runtime, publisher Publisher, opts Options) (*Driver, *chatservice.Service) {
	store := chatservice.NewService()
	return NewDriver(runtime, store, publisher, opts, zerolog.Nop()), store
}

func TestDriverApprovalScenario(t *testing.T) {
	runtime := &scriptedRuntime{responses: [][]*schema.Message{
		one(agentMessage("SoftwareEngineerAgent", "```html <p>hi</p>``` done")),
		one(agentMessage("ProductOwnerAgent", "READY FOR USER APPROVAL")),
		one(schema.UserMessage("Looks good, APPROVED")),
	}}
	publisher := &recordingPublisher{result: PublishResult{Path: "index.html", Published: true}}
	driver, _ := newTestDriver(runtime, publisher, defaultOptions())

	result, err := driver.Run(context.Background(), "build X")
	require.NoError(t, err)

	assert.Equal(t, 3, runtime.calls)
	assert.Equal(t, chat.StateDone, result.Session.State)
	assert.Equal(t, chat.StopApproved, result.Session.Reason)
	assert.Equal(t, 3, result.Session.Iterations)
	assert.Equal(t, []chat.Record{
		{Role: "user", Content: "build X"},
		{Role: "SoftwareEngineerAgent", Content: "```html <p>hi</p>``` done"},
		{Role: "ProductOwnerAgent", Content: "READY FOR USER APPROVAL"},
		{Role: "user", Content: "Looks good, APPROVED"},
	}, result.Messages)

	require.Len(t, publisher.artifacts, 1)
	assert.Equal(t, "<p>hi</p>", publisher.artifacts[0].Content)
	assert.True(t, result.Artifact.Found)
	require.NotNil(t, result.Publish)
	assert.True(t, result.Publish.Published)
}

func TestDriverRuntimeSeesGrowingHistory(t *testing.T) {
	runtime := &scriptedRuntime{}
	opts := defaultOptions()
	opts.MaxIterations = 3
	driver, _ := newTestDriver(runtime, nil, opts)

	_, err := driver.Run(context.Background(), "build X")
	require.NoError(t, err)

	assert.Equal(t, []int{1, 2, 3}, runtime.histories)
}

func TestDriverStopsAtCeiling(t *testing.T) {
	responses := make([][]*schema.Message, 21)
	for i := range responses {
		responses[i] = one(agentMessage("BusinessAnalystAgent", "more requirements"))
	}
	runtime := &scriptedRuntime{responses: responses}
	publisher := &recordingPublisher{}
	driver, _ := newTestDriver(runtime, publisher, defaultOptions())

	result, err := driver.Run(context.Background(), "build X")
	require.NoError(t, err)

	assert.Equal(t, 20, runtime.calls)
	assert.Len(t, result.Messages, 21)
	assert.Equal(t, chat.StopCeiling, result.Session.Reason)
	assert.Equal(t, chat.StateDone, result.Session.State)
	assert.Empty(t, publisher.artifacts)
}

func TestDriverExtractionMissSkipsPublish(t *testing.T) {
	runtime := &scriptedRuntime{responses: [][]*schema.Message{
		one(agentMessage("SoftwareEngineerAgent", "I will write it soon")),
		one(agentMessage("ProductOwnerAgent", "no code block here")),
		one(schema.UserMessage("APPROVED")),
	}}
	publisher := &recordingPublisher{}
	driver, _ := newTestDriver(runtime, publisher, defaultOptions())

	result, err := driver.Run(context.Background(), "build X")
	require.NoError(t, err)

	assert.Equal(t, chat.StopApproved, result.Session.Reason)
	assert.False(t, result.Artifact.Found)
	assert.Nil(t, result.Publish)
	assert.Empty(t, publisher.artifacts)
}

func TestDriverPublishFailureStillReturnsLog(t *testing.T) {
	runtime := &scriptedRuntime{responses: [][]*schema.Message{
		one(agentMessage("SoftwareEngineerAgent", "```html<p>hi</p>```")),
		one(schema.UserMessage("approved")),
	}}
	publisher := &recordingPublisher{result: PublishResult{Published: false, Error: "exit status 1"}}
	driver, _ := newTestDriver(runtime, publisher, defaultOptions())

	result, err := driver.Run(context.Background(), "build X")
	require.NoError(t, err)

	assert.Len(t, result.Messages, 3)
	require.NotNil(t, result.Publish)
	assert.False(t, result.Publish.Published)
}

func TestDriverPersistFailureAbortsRun(t *testing.T) {
	runtime := &scriptedRuntime{responses: [][]*schema.Message{
		one(agentMessage("SoftwareEngineerAgent", "```html<p>hi</p>```")),
		one(schema.UserMessage("APPROVED")),
	}}
	boom := errors.New("read-only file system")
	driver, store := newTestDriver(runtime, &recordingPublisher{err: boom}, defaultOptions())

	_, err := driver.Run(context.Background(), "build X")
	assert.ErrorIs(t, err, boom)

	sessions := store.ListSessions(context.Background())
	require.Len(t, sessions, 1)
	assert.Equal(t, chat.StateFailed, sessions[0].State)
}

func TestDriverRunSafelyReturnsNothingOnError(t *testing.T) {
	runtime := &scriptedRuntime{responses: [][]*schema.Message{
		one(agentMessage("SoftwareEngineerAgent", "```html<p>hi</p>```")),
		one(schema.UserMessage("APPROVED")),
	}}
	driver, _ := newTestDriver(runtime, &recordingPublisher{err: errors.New("disk full")}, defaultOptions())

	assert.Nil(t, driver.RunSafely(context.Background(), "build X"))
}

func TestDriverRuntimeErrorAborts(t *testing.T) {
	boom := errors.New("401 unauthorized")
	driver, store := newTestDriver(&scriptedRuntime{err: boom}, nil, defaultOptions())

	_, err := driver.Run(context.Background(), "build X")
	assert.ErrorIs(t, err, boom)
	assert.Equal(t, chat.StateFailed, store.ListSessions(context.Background())[0].State)
}

func TestDriverContainsPanics(t *testing.T) {
	driver, store := newTestDriver(&scriptedRuntime{panicAt: 2}, nil, defaultOptions())

	_, err := driver.Run(context.Background(), "build X")
	var panicErr *PanicError
	require.ErrorAs(t, err, &panicErr)
	assert.Equal(t, "runtime exploded", panicErr.Value)
	assert.NotEmpty(t, panicErr.Stack)

	turns, err := store.LoadTranscript(context.Background(), store.ListSessions(context.Background())[0].ID)
	require.NoError(t, err)
	assert.Len(t, turns, 2)

	safe, _ := newTestDriver(&scriptedRuntime{panicAt: 1}, nil, defaultOptions())
	assert.NotPanics(t, func() {
		assert.Nil(t, safe.RunSafely(context.Background(), "build X"))
	})
}

func TestDriverScopesTerminationToAgents(t *testing.T) {
	runtime := &scriptedRuntime{responses: [][]*schema.Message{
		one(agentMessage("BusinessAnalystAgent", "plan")),
		one(agentMessage("SoftwareEngineerAgent", "```html<p>hi</p>```")),
		one(agentMessage("ProductOwnerAgent", "READY FOR USER APPROVAL")),
	}}
	opts := defaultOptions()
	opts.TerminationAgents = []string{"ProductOwnerAgent"}
	publisher := &recordingPublisher{}
	driver, _ := newTestDriver(runtime, publisher, opts)

	result, err := driver.Run(context.Background(), "build X, APPROVED")
	require.NoError(t, err)

	assert.Equal(t, 3, runtime.calls)
	assert.Equal(t, chat.StopApproved, result.Session.Reason)
	require.Len(t, publisher.artifacts, 1)
	assert.Equal(t, "<p>hi</p>", publisher.artifacts[0].Content)
}

func TestDriverTurnHandlerSeesEveryTurn(t *testing.T) {
	runtime := &scriptedRuntime{responses: [][]*schema.Message{
		{agentMessage("BusinessAnalystAgent", "a"), agentMessage("SoftwareEngineerAgent", "b")},
	}}
	opts := defaultOptions()
	opts.MaxIterations = 1
	driver, _ := newTestDriver(runtime, nil, opts)

	var speakers []string
	sessions := map[string]bool{}
	result, err := driver.Run(context.Background(), "build X", WithTurnHandler(func(sessionID string, turn chat.Turn) {
		sessions[sessionID] = true
		speakers = append(speakers, turn.Speaker)
	}))
	require.NoError(t, err)

	assert.Equal(t, []string{"user", "BusinessAnalystAgent", "SoftwareEngineerAgent"}, speakers)
	assert.Equal(t, map[string]bool{result.Session.ID: true}, sessions)
	assert.Len(t, result.Messages, 3)
}

func TestDriverResume(t *testing.T) {
	runtime := &scriptedRuntime{}
	opts := defaultOptions()
	opts.MaxIterations = 2
	driver, store := newTestDriver(runtime, nil, opts)
	ctx := context.Background()

	first, err := driver.Run(ctx, "build X")
	require.NoError(t, err)
	require.Equal(t, chat.StopCeiling, first.Session.Reason)

	second, err := driver.Resume(ctx, first.Session.ID, "Looks good, APPROVED")
	require.NoError(t, err)

	assert.Equal(t, chat.StopApproved, second.Session.Reason)
	assert.Equal(t, 3, second.Session.Iterations)
	assert.Len(t, second.Messages, 5)
	assert.Equal(t, chat.Record{Role: "user", Content: "Looks good, APPROVED"}, second.Messages[3])

	_, err = store.UpdateSession(ctx, first.Session.ID, func(s *chat.Session) { s.State = chat.StateRunning })
	require.NoError(t, err)
	_, err = driver.Resume(ctx, first.Session.ID, "again")
	assert.ErrorIs(t, err, ErrSessionBusy)

	_, err = driver.Resume(ctx, "missing", "hello")
	assert.ErrorIs(t, err, chatservice.ErrSessionNotFound)
}
