package tokenizer

import (
	"log/slog"
	"os"
	"testing"

	"github.com/stretchr/testify/assert"
)

func newTestCounter(encoding string) *Counter {
	return New(encoding, slog.New(slog.NewTextHandler(os.Stderr, nil)))
}

func TestCount_Text(t *testing.T) {
	c := newTestCounter("")
	count := c.Count("Hello, world!")
	assert.Greater(t, count, 0)
	assert.InDelta(t, 4, count, 2)
	assert.Equal(t, 0, c.Count(""))
}

func TestCount_IsAPureFunctionOfContent(t *testing.T) {
	c := newTestCounter("")
	a := map[string]any{"name": "getPet", "inputSchema": map[string]any{"type": "object", "required": []any{"id"}}}
	b := map[string]any{"inputSchema": map[string]any{"required": []any{"id"}, "type": "object"}, "name": "getPet"}
	assert.Equal(t, c.Count(a), c.Count(b))
	assert.Greater(t, c.Count(a), 0)
}

func TestCount_LargerPayloadCountsMore(t *testing.T) {
	c := newTestCounter("")
	small := map[string]any{"description": "Get a pet"}
	large := map[string]any{"description": "Get a pet by its identifier. Returns the full pet record including owner and vaccination history."}
	assert.Greater(t, c.Count(large), c.Count(small))
}

func TestCount_UnknownEncodingFallsBackToEstimate(t *testing.T) {
	c := newTestCounter("no_such_encoding")
	assert.Equal(t, 3, c.CountText("0123456789"))
}

func TestCount_UnserializablePayload(t *testing.T) {
	c := newTestCounter("")
	assert.Equal(t, 0, c.Count(map[string]any{"f": func() {}}))
}
