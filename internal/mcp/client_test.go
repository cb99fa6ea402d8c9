package mcp

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadConfig(t *testing.T) {
	path := filepath.Join(t.TempDir(), "mcp.json")
	content := `{
	  "mcpServers": {
	    "files": {"transport": "stdio", "command": "mcp-files", "args": ["--root", "/tmp"]},
	    "search": {"transport": "sse", "url": "http://localhost:9100"}
	  }
	}`
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))

	configs, err := LoadConfig(path)
	require.NoError(t, err)
	require.Len(t, configs, 2)

	files := configs["files"]
	assert.Equal(t, "files", files.Name, "name comes from the map key")
	assert.Equal(t, "stdio", files.Transport)
	assert.Equal(t, []string{"--root", "/tmp"}, files.Args)

	search := configs["search"]
	assert.Equal(t, "sse", search.Transport)
	assert.Equal(t, "http://localhost:9100", search.URL)
}

func TestLoadConfigMissingFile(t *testing.T) {
	_, err := LoadConfig(filepath.Join(t.TempDir(), "absent.json"))
	assert.Error(t, err)
}

func TestLoadConfigEmptyServers(t *testing.T) {
	path := filepath.Join(t.TempDir(), "mcp.json")
	require.NoError(t, os.WriteFile(path, []byte(`{}`), 0o644))
	configs, err := LoadConfig(path)
	require.NoError(t, err)
	assert.Empty(t, configs)
}

func TestClientRefusesCallsBeforeConnect(t *testing.T) {
	c := NewClient(ServerConfig{Name: "x", Transport: "stdio", Command: "nope"})
	_, err := c.ListTools(context.Background())
	assert.Error(t, err)
	_, err = c.CallTool(context.Background(), "tool", nil)
	assert.Error(t, err)
	assert.NoError(t, c.Close(), "closing an unconnected client is a no-op")
}

func TestConnectRejectsUnknownTransport(t *testing.T) {
	c := NewClient(ServerConfig{Name: "x", Transport: "carrier-pigeon"})
	err := c.Connect(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unknown transport")
}

func TestToolAdapterNaming(t *testing.T) {
	a := &toolAdapter{server: "csv-tool", info: ToolInfo{Name: "read_csv", Description: "reads csv"}}
	assert.Equal(t, "mcp_csv-tool__read_csv", a.Name())
	assert.Equal(t, "reads csv", a.Description())
}
