// Package app wires configuration into a ready-to-run crew for the entry
// points.
package app

import (
	"context"

	"github.com/cloudwego/eino/components/model"
	"github.com/rs/zerolog"

	"github.com/zhouzirui/agent-crew/backend/internal/config"
	"github.com/zhouzirui/agent-crew/backend/internal/logging"
	"github.com/zhouzirui/agent-crew/backend/internal/model/agent"
	"github.com/zhouzirui/agent-crew/backend/internal/service/ai"
	chatService "github.com/zhouzirui/agent-crew/backend/internal/service/chat"
	"github.com/zhouzirui/agent-crew/backend/internal/service/crew"
)

// DefaultRequest is the request a one-shot run uses when none is given.
const DefaultRequest = "Create a contact form with fields for name, email, and a message box. Include a submit button that says 'Send Message'. APPROVED"

// Deps overrides collaborators NewDriver would otherwise build from config.
type Deps struct {
	ChatModel model.ChatModel
	Store     crew.Store
	Publisher crew.Publisher
}

// LoadAgents returns the crew file's agents, or the built-in crew when no
// file is configured.
func LoadAgents(cfg config.CrewConfig) ([]agent.Agent, error) {
	if cfg.AgentsFile == "" {
		return agent.Seed(), nil
	}
	return agent.LoadFile(cfg.AgentsFile)
}

// NewPublisher builds the script publisher described by cfg.
func NewPublisher(cfg config.CrewConfig, logger zerolog.Logger) *crew.ScriptPublisher {
	publisher := crew.NewScriptPublisher(cfg.ArtifactPath, cfg.PublishCommand, cfg.PublishScript, logging.Component(logger, "publisher"))
	publisher.Disabled = !cfg.PublishEnabled
	return publisher
}

// NewDriver builds the chat model, speaker selection, group chat, publisher
// and driver for agents.
func NewDriver(ctx context.Context, cfg config.Config, agents []agent.Agent, deps Deps, logger zerolog.Logger) (*crew.Driver, error) {
	chatModel := deps.ChatModel
	if chatModel == nil {
		var err error
		if chatModel, err = cfg.AI.NewChatModel(ctx); err != nil {
			return nil, err
		}
	}

	var selector ai.Selector = ai.SequentialSelector{}
	if cfg.Crew.Selection == "model" {
		modelSelector, err := ai.NewModelSelector(ctx, chatModel, logging.Component(logger, "selector"))
		if err != nil {
			return nil, err
		}
		selector = modelSelector
	}

	group, err := ai.NewGroupChat(ctx, chatModel, agents, selector, logging.Component(logger, "groupchat"))
	if err != nil {
		return nil, err
	}

	store := deps.Store
	if store == nil {
		store = chatService.NewService()
	}
	var publisher crew.Publisher = deps.Publisher
	if publisher == nil {
		publisher = NewPublisher(cfg.Crew, logger)
	}

	warnUnscopedTermination(cfg.Crew.TerminationAgents, agents, logger)

	return crew.NewDriver(group, store, publisher, crew.Options{
		MaxIterations:     cfg.Crew.MaxIterations,
		UserRole:          cfg.Crew.UserRole,
		Keyword:           cfg.Crew.ApprovalKeyword,
		Producer:          cfg.Crew.Producer,
		Language:          cfg.Crew.ArtifactLanguage,
		TerminationAgents: cfg.Crew.TerminationAgents,
	}, logging.Component(logger, "driver")), nil
}

// warnUnscopedTermination flags a scope naming no crew member: approval could
// then never fire and every run would end at the ceiling.
func warnUnscopedTermination(scope []string, agents []agent.Agent, logger zerolog.Logger) {
	if len(scope) == 0 {
		return
	}
	for _, name := range scope {
		for _, item := range agents {
			if item.Name == name {
				return
			}
		}
	}
	logger.Warn().Strs("termination_agents", scope).Msg("no crew member matches CREW_TERMINATION_AGENTS, runs will stop at the ceiling")
}
