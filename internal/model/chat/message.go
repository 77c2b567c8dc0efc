package chat

import (
	"strings"
	"time"

	"github.com/cloudwego/eino/schema"
	"github.com/google/uuid"
)

// TextSource records which part of a raw runtime message supplied Turn.Text.
type TextSource string

const (
	// SourceCompletion is content returned by a model completion.
	SourceCompletion TextSource = "completion"
	// SourceText is plain content without completion metadata, e.g. a seeded request.
	SourceText TextSource = "text"
	// SourceItems is the text of the first multi-content part.
	SourceItems TextSource = "items"
	// SourceOpaque is the string rendering of the whole raw message.
	SourceOpaque TextSource = "opaque"
)

// Turn is one message contributed by a speaker. It is immutable once appended
// to a run.
type Turn struct {
	ID        string          `json:"id"`
	Speaker   string          `json:"speaker"`
	Role      string          `json:"role"`
	Text      string          `json:"text"`
	Source    TextSource      `json:"source"`
	CreatedAt time.Time       `json:"createdAt"`
	Raw       *schema.Message `json:"-"`
}

// Record is the external {role, content} representation of a turn.
type Record struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// UserTurn builds the seed or follow-up turn contributed by the end user.
func UserTurn(text string) Turn {
	return FromMessage(schema.UserMessage(text))
}

// FromMessage normalizes a runtime message into a Turn. The display text is
// resolved once here so consumers never inspect the raw payload themselves.
func FromMessage(msg *schema.Message) Turn {
	turn := Turn{
		ID:        uuid.NewString(),
		CreatedAt: time.Now().UTC(),
		Raw:       msg,
	}
	if msg == nil {
		turn.Role = string(schema.Assistant)
		turn.Speaker = turn.Role
		turn.Source = SourceOpaque
		return turn
	}

	turn.Role = string(msg.Role)
	if turn.Role == "" {
		turn.Role = string(schema.Assistant)
	}
	turn.Speaker = strings.TrimSpace(msg.Name)
	if turn.Speaker == "" {
		turn.Speaker = turn.Role
	}

	turn.Text, turn.Source = resolveText(msg)
	return turn
}

func resolveText(msg *schema.Message) (string, TextSource) {
	if msg.Content != "" {
		if msg.ResponseMeta != nil {
			return msg.Content, SourceCompletion
		}
		return msg.Content, SourceText
	}

	if len(msg.MultiContent) > 0 && msg.MultiContent[0].Text != "" {
		return msg.MultiContent[0].Text, SourceItems
	}

	return msg.String(), SourceOpaque
}

// Record converts the turn into its external representation.
func (t Turn) Record() Record {
	return Record{Role: t.Speaker, Content: t.Text}
}

// Records converts turns in order.
func Records(turns []Turn) []Record {
	records := make([]Record, 0, len(turns))
	for _, turn := range turns {
		records = append(records, turn.Record())
	}
	return records
}
