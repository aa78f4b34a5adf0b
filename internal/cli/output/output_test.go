package output

import (
	"bytes"
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func decode(t *testing.T, raw string) map[string]any {
	t.Helper()
	var out map[string]any
	require.NoError(t, json.Unmarshal([]byte(raw), &out))
	return out
}

func TestTableRendersAgents(t *testing.T) {
	payload := decode(t, `{"agents":[{"id":3,"name":"scout","active":true,"post_cadence":60,"interaction_enabled":false,"behavior":"friendly","peers":[1,2]}],"total":1}`)
	var buf bytes.Buffer
	require.NoError(t, Fprint(&buf, payload, "table", false))
	lines := bytes.Split(bytes.TrimSpace(buf.Bytes()), []byte("\n"))
	require.Len(t, lines, 2)
	assert.Contains(t, string(lines[0]), "POST_MIN")
	assert.Regexp(t, `^3\s+scout\s+true\s+60\s+false\s+friendly\s+1,2$`, string(lines[1]))
}

func TestQuietPrintsIdentifiers(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, Fprint(&buf, decode(t, `{"operators":[{"name":"admin"},{"name":"ops"}]}`), "json", true))
	assert.Equal(t, "admin\nops\n", buf.String())

	buf.Reset()
	require.NoError(t, Fprint(&buf, decode(t, `{"content":"hello","topic":"go"}`), "", true))
	assert.Equal(t, "hello\n", buf.String())
}

func TestSingleObjectFallsBack(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, Fprint(&buf, decode(t, `{"service":"llm","ok":true}`), "table", false))
	assert.Regexp(t, `ok\s+true\nservice\s+llm\n`, buf.String())

	buf.Reset()
	require.NoError(t, Fprint(&buf, decode(t, `{"stats":{"total_agents":2}}`), "table", false))
	assert.Contains(t, buf.String(), `"total_agents": 2`)

	assert.Error(t, Fprint(&buf, map[string]any{}, "yaml", false))
}
