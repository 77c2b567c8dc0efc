package ai

import (
	"context"
	"errors"
	"fmt"

	"github.com/cloudwego/eino/components/model"
	"github.com/cloudwego/eino/components/prompt"
	"github.com/cloudwego/eino/compose"
	"github.com/cloudwego/eino/schema"
	"github.com/rs/zerolog"

	"github.com/zhouzirui/agent-crew/backend/internal/model/agent"
	"github.com/zhouzirui/agent-crew/backend/internal/model/chat"
)

// ErrNoAgents is returned when a group chat is built without agents.
var ErrNoAgents = errors.New("group chat requires at least one agent")

// GroupChat lets a fixed crew of agents take turns against one chat model.
// Every call to NextTurn selects a speaker and invokes the model once.
type GroupChat struct {
	agents   []agent.Agent
	selector Selector
	chain    compose.Runnable[map[string]any, *schema.Message]
	logger   zerolog.Logger
}

// NewGroupChat compiles the agent chain. selector may be nil, in which case
// agents speak in declaration order.
func NewGroupChat(ctx context.Context, chatModel model.ChatModel, agents []agent.Agent, selector Selector, logger zerolog.Logger) (*GroupChat, error) {
	if len(agents) == 0 {
		return nil, ErrNoAgents
	}
	if selector == nil {
		selector = SequentialSelector{}
	}

	promptTemplate := prompt.FromMessages(
		schema.FString,
		schema.SystemMessage("{system}"),
		schema.MessagesPlaceholder("history", true),
	)

	chain := compose.NewChain[map[string]any, *schema.Message]()
	chain.AppendChatTemplate(promptTemplate)
	chain.AppendChatModel(chatModel)

	runnable, err := chain.Compile(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to compile agent chain: %w", err)
	}

	return &GroupChat{
		agents:   append([]agent.Agent(nil), agents...),
		selector: selector,
		chain:    runnable,
		logger:   logger,
	}, nil
}

// NextTurn selects the next speaker and returns its reply, attributed to it.
func (g *GroupChat) NextTurn(ctx context.Context, history []chat.Turn) ([]*schema.Message, error) {
	speaker, err := g.selector.Select(ctx, g.agents, history)
	if err != nil {
		return nil, fmt.Errorf("failed to select next agent: %w", err)
	}

	response, err := g.chain.Invoke(ctx, map[string]any{
		"system":  speaker.Instructions,
		"history": buildHistoryMessages(speaker.Name, history),
	})
	if err != nil {
		return nil, fmt.Errorf("agent %s: %w", speaker.Name, err)
	}

	response.Name = speaker.Name
	if response.Role == "" {
		response.Role = schema.Assistant
	}

	g.logger.Info().Str("agent", speaker.Name).Int("length", len(response.Content)).Msg("generated turn")
	return []*schema.Message{response}, nil
}

// buildHistoryMessages maps the run log onto chat messages from the point of
// view of speaker: its own turns become assistant messages, other agents'
// turns keep their name so the model can tell them apart.
func buildHistoryMessages(speaker string, turns []chat.Turn) []*schema.Message {
	if len(turns) == 0 {
		return nil
	}

	history := make([]*schema.Message, 0, len(turns))
	for _, turn := range turns {
		switch {
		case turn.Role == string(schema.User):
			history = append(history, schema.UserMessage(turn.Text))
		case turn.Speaker == speaker:
			history = append(history, schema.AssistantMessage(turn.Text, nil))
		case turn.Role == string(schema.Assistant):
			history = append(history, &schema.Message{
				Role:    schema.Assistant,
				Name:    turn.Speaker,
				Content: turn.Text,
			})
		}
	}

	return history
}
