package mcpjsonrpc_test

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/i2y/mcpforge/pkg/shared/mcpjsonrpc"
)

func TestRequest_IsNotification(t *testing.T) {
	var req mcpjsonrpc.Request
	require.NoError(t, json.Unmarshal([]byte(`{"jsonrpc":"2.0","method":"notifications/initialized"}`), &req))
	assert.True(t, req.IsNotification())

	require.NoError(t, json.Unmarshal([]byte(`{"jsonrpc":"2.0","id":"abc","method":"tools/list"}`), &req))
	assert.False(t, req.IsNotification())
	assert.Equal(t, `"abc"`, string(req.ID))
}

func TestNewError_SessionRejection(t *testing.T) {
	data, err := json.Marshal(mcpjsonrpc.NewError(nil, mcpjsonrpc.CodeServerErrorSession, "Bad Request: No valid session ID provided"))
	require.NoError(t, err)
	assert.JSONEq(t, `{"jsonrpc":"2.0","id":null,"error":{"code":-32000,"message":"Bad Request: No valid session ID provided"}}`, string(data))
}

func TestNewResult_EchoesID(t *testing.T) {
	data, err := json.Marshal(mcpjsonrpc.NewResult(json.RawMessage(`7`), map[string]any{"ok": true}))
	require.NoError(t, err)
	assert.JSONEq(t, `{"jsonrpc":"2.0","id":7,"result":{"ok":true}}`, string(data))
}
