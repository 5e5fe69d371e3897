package transport

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"time"
)

// WellKnownCardPath is the standard agent card location.
const WellKnownCardPath = "/.well-known/agent-card.json"

// Discovery strategy names, recorded on the returned card.
const (
	StrategyWellKnown   = "well_known"
	StrategyJSONRPCCard = "jsonrpc_extended_card"
	StrategyRESTInfo    = "rest_info"
	StrategyHealth      = "health"
	StrategySynthesized = "synthesized"
)

// DiscoveryClient resolves a remote agent's card by trying an ordered list
// of strategies and taking the first that succeeds.
type DiscoveryClient struct {
	httpClient *http.Client
}

// NewDiscoveryClient creates a discovery client. A nil client gets a default
// with a 10 second timeout.
func NewDiscoveryClient(httpClient *http.Client) *DiscoveryClient {
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 10 * time.Second}
	}
	return &DiscoveryClient{httpClient: httpClient}
}

// Discover fetches the agent card at baseURL. Strategies are attempted in
// order: well-known document, JSON-RPC extended card, REST info endpoint,
// health probe. If every strategy fails a minimal card is synthesized; the
// caller always gets a card.
func (d *DiscoveryClient) Discover(ctx context.Context, baseURL string) *AgentCard {
	baseURL = strings.TrimSuffix(baseURL, "/")

	strategies := []struct {
		name  string
		fetch func(ctx context.Context, baseURL string) (*AgentCard, error)
	}{
		{StrategyWellKnown, d.fetchWellKnown},
		{StrategyJSONRPCCard, d.fetchExtendedCard},
		{StrategyRESTInfo, d.fetchRESTInfo},
		{StrategyHealth, d.fetchFromHealth},
	}

	for _, strategy := range strategies {
		card, err := strategy.fetch(ctx, baseURL)
		if err != nil {
			slog.Debug("discovery strategy failed", "strategy", strategy.name, "url", baseURL, "error", err)
			continue
		}
		card.DiscoveryStrategy = strategy.name
		if card.URL == "" {
			card.URL = baseURL
		}
		return card
	}

	return &AgentCard{
		Name:              "unknown-agent",
		Description:       "Agent did not answer discovery; card synthesized",
		URL:               baseURL,
		Version:           "unknown",
		Skills:            []Skill{},
		DiscoveryStrategy: StrategySynthesized,
	}
}

func (d *DiscoveryClient) fetchWellKnown(ctx context.Context, baseURL string) (*AgentCard, error) {
	return d.getCard(ctx, baseURL+WellKnownCardPath)
}

func (d *DiscoveryClient) fetchExtendedCard(ctx context.Context, baseURL string) (*AgentCard, error) {
	payload, err := json.Marshal(JSONRPCRequest{
		JSONRPC: "2.0",
		ID:      1,
		Method:  "agent/authenticatedExtendedCard",
	})
	if err != nil {
		return nil, err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, baseURL+"/rpc", bytes.NewReader(payload))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := d.httpClient.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("rpc endpoint returned %s", resp.Status)
	}

	var rpcResp struct {
		Result *AgentCard `json:"result"`
		Error  *RPCError  `json:"error"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&rpcResp); err != nil {
		return nil, err
	}
	if rpcResp.Error != nil {
		return nil, fmt.Errorf("rpc error %d: %s", rpcResp.Error.Code, rpcResp.Error.Message)
	}
	if rpcResp.Result == nil || rpcResp.Result.Name == "" {
		return nil, fmt.Errorf("rpc endpoint returned no card")
	}
	return rpcResp.Result, nil
}

func (d *DiscoveryClient) fetchRESTInfo(ctx context.Context, baseURL string) (*AgentCard, error) {
	return d.getCard(ctx, baseURL+"/v1/info")
}

// fetchFromHealth is the weakest strategy: a healthy endpoint proves an agent
// is there even when it exposes no card, so a near-empty card is built from
// the probe alone.
func (d *DiscoveryClient) fetchFromHealth(ctx context.Context, baseURL string) (*AgentCard, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, baseURL+"/health", nil)
	if err != nil {
		return nil, err
	}
	resp, err := d.httpClient.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("health endpoint returned %s", resp.Status)
	}

	return &AgentCard{
		Name:        "unnamed-agent",
		Description: "Agent reachable via health probe only",
		URL:         baseURL,
		Version:     "unknown",
		Skills:      []Skill{},
	}, nil
}

func (d *DiscoveryClient) getCard(ctx context.Context, url string) (*AgentCard, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, err
	}
	resp, err := d.httpClient.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("%s returned %s", url, resp.Status)
	}

	var card AgentCard
	if err := json.NewDecoder(resp.Body).Decode(&card); err != nil {
		return nil, err
	}
	if card.Name == "" {
		return nil, fmt.Errorf("%s returned no usable card", url)
	}
	return &card, nil
}
