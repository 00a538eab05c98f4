package mcp

import (
	"fmt"
	"strings"
)

// protocolVersion is the protocol revision advertised during the optional
// initialize handshake.
const protocolVersion = "2024-11-05"

// ToolDefinition is one tool as declared by a tool process in its
// tools/list reply.
type ToolDefinition struct {
	Name        string         `json:"name"`
	Description string         `json:"description"`
	InputSchema map[string]any `json:"inputSchema"`
}

// ContentBlock is a single content item in a tools/call result. Servers
// frequently omit the type on plain text blocks.
type ContentBlock struct {
	Type string `json:"type,omitempty"`
	Text string `json:"text,omitempty"`
}

// callToolResult is the result payload of a tools/call reply.
type callToolResult struct {
	Content []ContentBlock `json:"content"`
	IsError bool           `json:"isError,omitempty"`
}

// toolsListResult is the result payload of a tools/list reply. Tools is a
// pointer so that a missing field can be told apart from an empty list.
type toolsListResult struct {
	Tools *[]ToolDefinition `json:"tools"`
}

// implementationInfo names a client or server in the handshake.
type implementationInfo struct {
	Name    string `json:"name"`
	Version string `json:"version"`
}

// initializeParams is sent by the client in the initialize request.
type initializeParams struct {
	ProtocolVersion string             `json:"protocolVersion"`
	Capabilities    map[string]any     `json:"capabilities"`
	ClientInfo      implementationInfo `json:"clientInfo"`
}

// initializeResult is returned by the server in reply to initialize.
type initializeResult struct {
	ProtocolVersion string             `json:"protocolVersion"`
	ServerInfo      implementationInfo `json:"serverInfo"`
	Capabilities    map[string]any     `json:"capabilities"`
}

// extractText joins the content blocks of a tools/call result into one
// string. Blocks carrying text contribute it; anything else is
// represented by an inline marker such as "[image]".
func extractText(blocks []ContentBlock) string {
	var parts []string
	for _, b := range blocks {
		switch {
		case b.Type == "text" || b.Text != "":
			parts = append(parts, b.Text)
		case b.Type == "":
			// Neither type nor text: nothing to show.
		default:
			parts = append(parts, fmt.Sprintf("[%s]", b.Type))
		}
	}
	return strings.Join(parts, "\n")
}
