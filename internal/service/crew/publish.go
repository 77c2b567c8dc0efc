package crew

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os"
	osexec "os/exec"
	"strings"

	"github.com/rs/zerolog"
)

// PublishResult describes a publish attempt.
type PublishResult struct {
	Path      string `json:"path"`
	Published bool   `json:"published"`
	Output    string `json:"output,omitempty"`
	Error     string `json:"error,omitempty"`
}

// Publisher persists and publishes an extracted artifact.
//
// Implementations return an error only when the artifact could not be
// persisted; a failed publish step is reported through PublishResult.
type Publisher interface {
	Publish(ctx context.Context, artifact Artifact) (PublishResult, error)
}

// ScriptPublisher writes the artifact to a well-known file, then runs an
// external script from the process working directory.
type ScriptPublisher struct {
	Path    string
	Command string
	Script  string

	// Disabled skips the script; the file is still written.
	Disabled bool

	logger zerolog.Logger
}

// NewScriptPublisher returns a publisher writing to path and running
// "command script".
func NewScriptPublisher(path, command, script string, logger zerolog.Logger) *ScriptPublisher {
	return &ScriptPublisher{
		Path:    path,
		Command: command,
		Script:  script,
		logger:  logger,
	}
}

// Publish writes the artifact and runs the publish script. Script failures
// are logged with their captured stderr and swallowed.
func (p *ScriptPublisher) Publish(ctx context.Context, artifact Artifact) (PublishResult, error) {
	result := PublishResult{Path: p.Path}

	if err := os.WriteFile(p.Path, []byte(artifact.Content), 0o644); err != nil {
		return result, fmt.Errorf("write artifact %s: %w", p.Path, err)
	}
	p.logger.Info().Str("path", p.Path).Int("bytes", len(artifact.Content)).Msg("saved artifact")

	if p.Disabled {
		p.logger.Info().Msg("publish script disabled, skipping")
		return result, nil
	}

	var stdout, stderr bytes.Buffer
	cmd := osexec.CommandContext(ctx, p.Command, p.Script)
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	err := cmd.Run()
	result.Output = strings.TrimSpace(stdout.String())
	if err != nil {
		result.Error = err.Error()
		event := p.logger.Warn().Err(err).Str("stderr", strings.TrimSpace(stderr.String()))
		var exitErr *osexec.ExitError
		if errors.As(err, &exitErr) {
			event = event.Int("exit_code", exitErr.ExitCode())
		}
		event.Msg("publish script failed")
		return result, nil
	}

	result.Published = true
	p.logger.Info().Str("stdout", result.Output).Msg("publish script succeeded")
	return result, nil
}
