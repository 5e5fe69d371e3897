// Package transport implements the agent-to-agent wire protocol: JSON-RPC
// 2.0 dispatch, Server-Sent-Events streaming, REST fallback routes, bounded
// completion polling, and agent card discovery.
package transport

import (
	"encoding/json"
	"strings"
)

// ============================================================================
// A2A MESSAGE TYPES
// ============================================================================

// Message is an A2A protocol message: a role plus an ordered list of parts.
type Message struct {
	Role      string `json:"role,omitempty"`
	Parts     []Part `json:"parts"`
	MessageID string `json:"messageId,omitempty"`
}

// Part is one message fragment. Exactly one of Text, File, or Data is set;
// Type names the variant ("text", "file", "data") but decoding tolerates its
// absence.
type Part struct {
	Type string         `json:"type,omitempty"`
	Text string         `json:"text,omitempty"`
	File *FilePart      `json:"file,omitempty"`
	Data map[string]any `json:"data,omitempty"`
}

// FilePart references file content by URI or inline bytes.
type FilePart struct {
	Name     string `json:"name,omitempty"`
	MimeType string `json:"mimeType,omitempty"`
	URI      string `json:"uri,omitempty"`
	Bytes    string `json:"bytes,omitempty"`
}

// TextContent flattens the message into a single query string. File parts
// contribute their name, data parts their JSON encoding. A message with no
// usable parts yields the empty string, the degraded form of a malformed
// submission.
func (m *Message) TextContent() string {
	if m == nil {
		return ""
	}
	var sb strings.Builder
	for _, part := range m.Parts {
		switch {
		case part.Text != "":
			if sb.Len() > 0 {
				sb.WriteString(" ")
			}
			sb.WriteString(part.Text)
		case part.File != nil:
			if sb.Len() > 0 {
				sb.WriteString(" ")
			}
			sb.WriteString("[file: " + part.File.Name + "]")
		case part.Data != nil:
			if encoded, err := json.Marshal(part.Data); err == nil {
				if sb.Len() > 0 {
					sb.WriteString(" ")
				}
				sb.Write(encoded)
			}
		}
	}
	return sb.String()
}

// ============================================================================
// AGENT CARD
// ============================================================================

// Capabilities advertises the protocol features this agent supports.
type Capabilities struct {
	Streaming              bool `json:"streaming"`
	PushNotifications      bool `json:"pushNotifications"`
	StateTransitionHistory bool `json:"stateTransitionHistory"`
}

// Provider identifies the organization serving the agent.
type Provider struct {
	Organization string `json:"organization"`
}

// Skill describes one advertised agent capability.
type Skill struct {
	ID          string   `json:"id"`
	Name        string   `json:"name"`
	Description string   `json:"description"`
	InputModes  []string `json:"inputModes"`
	OutputModes []string `json:"outputModes"`
}

// AgentCard is the discovery document for an agent.
type AgentCard struct {
	Name             string       `json:"name"`
	Description      string       `json:"description"`
	URL              string       `json:"url"`
	Version          string       `json:"version"`
	DocumentationURL string       `json:"documentation_url,omitempty"`
	Capabilities     Capabilities `json:"capabilities"`
	Provider         *Provider    `json:"provider,omitempty"`
	Skills           []Skill      `json:"skills"`

	// DiscoveryStrategy records which discovery strategy produced this card.
	// Set only on cards fetched by the discovery client.
	DiscoveryStrategy string `json:"discovery_strategy,omitempty"`
}
