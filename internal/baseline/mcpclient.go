package baseline

import (
	"context"
	"fmt"
	"strings"

	"github.com/mark3labs/mcp-go/client"
	"github.com/mark3labs/mcp-go/mcp"

	"github.com/lance13c/vrt/internal/config"
	"github.com/lance13c/vrt/internal/logging"
)

// mcpClient speaks MCP to a server spawned over stdio
type mcpClient struct {
	c *client.Client
}

// NewMCPClientFactory returns a factory that spawns the configured server, or
// one producing UnavailableClient when no command is set
func NewMCPClientFactory(cfg config.FigmaMCPConfig) ClientFactory {
	return func(ctx context.Context) (ProtocolClient, error) {
		if cfg.Command == "" {
			logging.Warn("no design tool server command configured")
			return UnavailableClient{}, nil
		}
		return DialMCP(ctx, cfg.Command, cfg.Env, cfg.Args...)
	}
}

// DialMCP starts command and performs the MCP initialize handshake
func DialMCP(ctx context.Context, command string, env []string, args ...string) (ProtocolClient, error) {
	c, err := client.NewStdioMCPClient(command, env, args...)
	if err != nil {
		return nil, fmt.Errorf("start %s: %w", command, err)
	}

	req := mcp.InitializeRequest{}
	req.Params.ProtocolVersion = mcp.LATEST_PROTOCOL_VERSION
	req.Params.ClientInfo = mcp.Implementation{Name: "vrt", Version: "1.0.0"}

	res, err := c.Initialize(ctx, req)
	if err != nil {
		c.Close()
		return nil, fmt.Errorf("initialize %s: %w", command, err)
	}
	logging.Info("connected to design tool server %s %s", res.ServerInfo.Name, res.ServerInfo.Version)

	return &mcpClient{c: c}, nil
}

func (m *mcpClient) CallTool(ctx context.Context, name string, args map[string]interface{}) (string, error) {
	req := mcp.CallToolRequest{}
	req.Params.Name = name
	req.Params.Arguments = args

	res, err := m.c.CallTool(ctx, req)
	if err != nil {
		return "", err
	}

	var parts []string
	for _, content := range res.Content {
		if text, ok := mcp.AsTextContent(content); ok {
			parts = append(parts, text.Text)
		}
	}
	out := strings.Join(parts, "\n")

	if res.IsError {
		return "", fmt.Errorf("tool %s failed: %s", name, out)
	}
	return out, nil
}

func (m *mcpClient) Close() error {
	return m.c.Close()
}
