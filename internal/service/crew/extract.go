package crew

import (
	"regexp"
	"strings"
	"sync"

	"github.com/zhouzirui/agent-crew/backend/internal/model/chat"
)

// Artifact is the producer's code payload pulled from the conversation.
type Artifact struct {
	Content string `json:"content"`
	Found   bool   `json:"found"`
	// TurnID identifies the turn the artifact came from.
	TurnID string `json:"turnId,omitempty"`
}

var (
	blockPatternsMu sync.Mutex
	blockPatterns   = map[string]*regexp.Regexp{}
)

// fencedBlockPattern matches ```<language> ... ``` case-insensitively, with
// the body allowed to span lines.
func fencedBlockPattern(language string) *regexp.Regexp {
	key := strings.ToLower(language)

	blockPatternsMu.Lock()
	defer blockPatternsMu.Unlock()

	if re, ok := blockPatterns[key]; ok {
		return re
	}
	re := regexp.MustCompile("(?is)```" + regexp.QuoteMeta(key) + "(.*?)```")
	blockPatterns[key] = re
	return re
}

// Extract returns the last fenced block tagged with language from the most
// recent turn spoken by producer. Older turns by the same producer are never
// consulted, so a correction in a later turn cannot be shadowed by a stale
// block.
func Extract(turns []chat.Turn, producer, language string) Artifact {
	for i := len(turns) - 1; i >= 0; i-- {
		turn := turns[i]
		if turn.Speaker != producer {
			continue
		}

		matches := fencedBlockPattern(language).FindAllStringSubmatch(turn.Text, -1)
		if len(matches) == 0 {
			return Artifact{TurnID: turn.ID}
		}
		content := strings.TrimSpace(matches[len(matches)-1][1])
		return Artifact{Content: content, Found: content != "", TurnID: turn.ID}
	}
	return Artifact{}
}
