package transcript

import (
	"bytes"
	"fmt"
	"html"

	"github.com/yuin/goldmark"
	"github.com/yuin/goldmark/extension"

	"github.com/zhouzirui/agent-crew/backend/internal/model/chat"
)

// markdown renders agent output. Raw HTML in messages is omitted rather than
// passed through; code blocks keep it escaped.
var markdown = goldmark.New(
	goldmark.WithExtensions(extension.GFM),
)

// RenderHTML renders a run transcript as a standalone HTML document.
func RenderHTML(title string, records []chat.Record) ([]byte, error) {
	var buf bytes.Buffer
	fmt.Fprintf(&buf, "<!DOCTYPE html>\n<html>\n<head>\n<meta charset=\"utf-8\">\n<title>%s</title>\n</head>\n<body>\n", html.EscapeString(title))
	fmt.Fprintf(&buf, "<h1>%s</h1>\n", html.EscapeString(title))

	for i, record := range records {
		fmt.Fprintf(&buf, "<section class=\"turn\" id=\"turn-%d\">\n<h2>%s</h2>\n", i+1, html.EscapeString(record.Role))
		if err := markdown.Convert([]byte(record.Content), &buf); err != nil {
			return nil, fmt.Errorf("render turn %d: %w", i+1, err)
		}
		buf.WriteString("</section>\n")
	}

	buf.WriteString("</body>\n</html>\n")
	return buf.Bytes(), nil
}
