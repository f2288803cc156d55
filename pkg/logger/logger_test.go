package logger

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func decodeLines(t *testing.T, buf *bytes.Buffer) []map[string]any {
	t.Helper()
	var out []map[string]any
	for _, line := range strings.Split(strings.TrimSpace(buf.String()), "\n") {
		if line == "" {
			continue
		}
		m := map[string]any{}
		require.NoError(t, json.Unmarshal([]byte(line), &m))
		out = append(out, m)
	}
	return out
}

func TestLogger_WritesStructuredJSON(t *testing.T) {
	var buf bytes.Buffer
	log := New(Options{Output: &buf, Level: LevelInfo})

	log.With(Component("ranking")).Info("rank computed", UserID("u1"), RankPosition(3), Err(errors.New("boom")))

	lines := decodeLines(t, &buf)
	require.Len(t, lines, 1)
	assert.Equal(t, "INFO", lines[0]["level"])
	assert.Equal(t, "rank computed", lines[0]["message"])
	assert.Equal(t, "ranking", lines[0]["component"])
	assert.Equal(t, "u1", lines[0]["user_id"])
	assert.EqualValues(t, 3, lines[0]["rank_position"])
	assert.Equal(t, "boom", lines[0]["error"])
}

func TestLogger_FiltersBelowLevel(t *testing.T) {
	var buf bytes.Buffer
	log := New(Options{Output: &buf, Level: LevelWarn})

	log.Debug("hidden")
	log.Info("hidden too")
	log.Warn("shown")

	lines := decodeLines(t, &buf)
	require.Len(t, lines, 1)
	assert.Equal(t, "shown", lines[0]["message"])
}

func TestLogger_ErrNilIsSkipped(t *testing.T) {
	var buf bytes.Buffer
	log := New(Options{Output: &buf})

	log.Info("ok", Err(nil))

	lines := decodeLines(t, &buf)
	require.Len(t, lines, 1)
	_, present := lines[0]["error"]
	assert.False(t, present)
}

func TestParseLevel(t *testing.T) {
	assert.Equal(t, LevelDebug, ParseLevel("debug"))
	assert.Equal(t, LevelWarn, ParseLevel(" warning "))
	assert.Equal(t, LevelError, ParseLevel("ERROR"))
	assert.Equal(t, LevelInfo, ParseLevel("nonsense"))
}

func TestContextRoundTrip(t *testing.T) {
	log := Nop()
	ctx := WithContext(context.Background(), log)
	assert.Same(t, log, FromContext(ctx))
	assert.NotNil(t, FromContext(context.Background()))
}
