package main

import (
	"bytes"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/zhouzirui/agent-crew/backend/internal/app"
	"github.com/zhouzirui/agent-crew/backend/internal/model/chat"
)

func TestRequestFromArgs(t *testing.T) {
	assert.Equal(t, app.DefaultRequest, requestFromArgs(nil))
	assert.Equal(t, app.DefaultRequest, requestFromArgs([]string{"  "}))
	assert.Equal(t, "build a landing page", requestFromArgs([]string{"build", "a", "landing", "page"}))
}

func TestPrintRecordsText(t *testing.T) {
	var buf bytes.Buffer
	records := []chat.Record{
		{Role: "user", Content: "build X"},
		{Role: "BusinessAnalystAgent", Content: "requirements"},
	}

	require.NoError(t, printRecords(&buf, records, false))
	assert.Equal(t, "# user:\nbuild X\n\n# BusinessAnalystAgent:\nrequirements\n\n", buf.String())
}

func TestPrintRecordsJSON(t *testing.T) {
	var buf bytes.Buffer
	records := []chat.Record{{Role: "user", Content: "build X"}}

	require.NoError(t, printRecords(&buf, records, true))

	var out struct {
		Messages []chat.Record `json:"messages"`
	}
	require.NoError(t, json.Unmarshal(buf.Bytes(), &out))
	assert.Equal(t, records, out.Messages)
}

func TestAgentsCommandListsSeedCrew(t *testing.T) {
	root := newRootCommand()
	var out bytes.Buffer
	root.SetOut(&out)
	root.SetArgs([]string{"agents", "--agents", ""})

	require.NoError(t, root.Execute())
	lines := strings.Split(strings.TrimSpace(out.String()), "\n")
	require.Len(t, lines, 3)
	assert.True(t, strings.HasPrefix(lines[0], "BusinessAnalystAgent\t"))
}

func TestAgentsCommandReadsFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "crew.yaml")
	require.NoError(t, os.WriteFile(path, []byte("agents:\n  - name: Solo\n    role: engineer\n    instructions: do it\n"), 0o644))

	root := newRootCommand()
	var out bytes.Buffer
	root.SetOut(&out)
	root.SetArgs([]string{"agents", "--agents", path})

	require.NoError(t, root.Execute())
	assert.True(t, strings.HasPrefix(out.String(), "Solo\tengineer\t"))
}
