package ai

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/cloudwego/eino/components/model"
	"github.com/cloudwego/eino/components/prompt"
	"github.com/cloudwego/eino/compose"
	"github.com/cloudwego/eino/schema"
	"github.com/rs/zerolog"

	"github.com/zhouzirui/agent-crew/backend/internal/model/agent"
	"github.com/zhouzirui/agent-crew/backend/internal/model/chat"
)

// Selector picks the agent that speaks next.
type Selector interface {
	Select(ctx context.Context, agents []agent.Agent, history []chat.Turn) (agent.Agent, error)
}

// SequentialSelector rotates through the agents in declaration order,
// starting after the most recent agent speaker.
type SequentialSelector struct{}

// Select implements Selector.
func (SequentialSelector) Select(_ context.Context, agents []agent.Agent, history []chat.Turn) (agent.Agent, error) {
	if len(agents) == 0 {
		return agent.Agent{}, ErrNoAgents
	}

	for i := len(history) - 1; i >= 0; i-- {
		for idx, candidate := range agents {
			if candidate.Name == history[i].Speaker {
				return agents[(idx+1)%len(agents)], nil
			}
		}
	}
	return agents[0], nil
}

// ModelSelector asks the chat model which agent should speak next and falls
// back to sequential order when the answer cannot be used.
type ModelSelector struct {
	classifier   compose.Runnable[map[string]any, *schema.Message]
	fallback     Selector
	historyLimit int
	logger       zerolog.Logger
}

// NewModelSelector compiles the selection chain on top of chatModel.
func NewModelSelector(ctx context.Context, chatModel model.ChatModel, logger zerolog.Logger) (*ModelSelector, error) {
	promptTemplate := prompt.FromMessages(
		schema.FString,
		schema.SystemMessage(selectionSystemPrompt),
		schema.UserMessage(selectionUserPrompt),
	)

	chain := compose.NewChain[map[string]any, *schema.Message]()
	chain.AppendChatTemplate(promptTemplate)
	chain.AppendChatModel(chatModel)

	runnable, err := chain.Compile(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to compile selection chain: %w", err)
	}

	return &ModelSelector{
		classifier:   runnable,
		fallback:     SequentialSelector{},
		historyLimit: 10,
		logger:       logger,
	}, nil
}

// Select implements Selector.
func (s *ModelSelector) Select(ctx context.Context, agents []agent.Agent, history []chat.Turn) (agent.Agent, error) {
	if len(agents) == 0 {
		return agent.Agent{}, ErrNoAgents
	}

	msg, err := s.classifier.Invoke(ctx, map[string]any{
		"agents":  describeAgents(agents),
		"history": formatHistory(history, s.historyLimit),
	})
	if err != nil {
		s.logger.Warn().Err(err).Msg("selection invoke failed, use sequential order")
		return s.fallback.Select(ctx, agents, history)
	}
	if msg == nil || strings.TrimSpace(msg.Content) == "" {
		return s.fallback.Select(ctx, agents, history)
	}

	if chosen, ok := matchAgent(agents, parseSelection(msg.Content)); ok {
		return chosen, nil
	}

	s.logger.Warn().Str("answer", msg.Content).Msg("selection named no known agent, use sequential order")
	return s.fallback.Select(ctx, agents, history)
}

type selectionPayload struct {
	Agent  string `json:"agent"`
	Reason string `json:"reason"`
}

// parseSelection accepts either a JSON object with an "agent" field or a bare
// agent name.
func parseSelection(content string) string {
	trimmed := strings.TrimSpace(content)
	start := strings.Index(trimmed, "{")
	end := strings.LastIndex(trimmed, "}")
	if start != -1 && end > start {
		var payload selectionPayload
		if err := json.Unmarshal([]byte(trimmed[start:end+1]), &payload); err == nil && payload.Agent != "" {
			return strings.TrimSpace(payload.Agent)
		}
	}
	return strings.Trim(trimmed, "\"'`. \n")
}

func matchAgent(agents []agent.Agent, name string) (agent.Agent, bool) {
	if name == "" {
		return agent.Agent{}, false
	}
	for _, candidate := range agents {
		if strings.EqualFold(candidate.Name, name) {
			return candidate, true
		}
	}
	for _, candidate := range agents {
		if strings.Contains(strings.ToLower(name), strings.ToLower(candidate.Name)) {
			return candidate, true
		}
	}
	return agent.Agent{}, false
}

func describeAgents(agents []agent.Agent) string {
	lines := make([]string, 0, len(agents))
	for _, item := range agents {
		desc := strings.TrimSpace(item.Description)
		if desc == "" {
			desc = string(item.Role)
		}
		lines = append(lines, fmt.Sprintf("- %s: %s", item.Name, desc))
	}
	return strings.Join(lines, "\n")
}

func formatHistory(turns []chat.Turn, limit int) string {
	if len(turns) == 0 {
		return "(no messages yet)"
	}
	if limit < 1 {
		limit = 1
	}
	start := len(turns) - limit
	if start < 0 {
		start = 0
	}

	var builder strings.Builder
	for i := start; i < len(turns); i++ {
		content := strings.TrimSpace(turns[i].Text)
		if content == "" {
			continue
		}
		if runes := []rune(content); len(runes) > 600 {
			content = string(runes[:600]) + "..."
		}
		if builder.Len() > 0 {
			builder.WriteString("\n")
		}
		builder.WriteString(turns[i].Speaker)
		builder.WriteString(": ")
		builder.WriteString(content)
	}
	if builder.Len() == 0 {
		return "(no messages yet)"
	}
	return builder.String()
}

const selectionSystemPrompt = "You coordinate a software delivery team. Read the team roster and the latest messages, then decide which team member should speak next.\n" +
	"Rules: the business analyst speaks first when no plan exists yet; the software engineer speaks after requirements are clear or a defect was reported; the product owner reviews after the engineer delivers code.\n" +
	"Return only a JSON object with the fields agent (exactly one name from the roster) and reason (one short sentence)."

const selectionUserPrompt = "Team roster:\n{agents}\n\nLatest messages:\n{history}\n\nWho speaks next?"
