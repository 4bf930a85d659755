// Package datasource holds the clients extractors read from: REST and GraphQL
// over HTTP, EVM contract calls, and the Starknet and Sui JSON-RPC APIs.
package datasource

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"
)

const userAgent = "tvl-extractor/1.0"

// StatusError is returned for non-2xx HTTP responses.
type StatusError struct {
	Method     string
	URL        string
	StatusCode int
	Body       string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("%s %s: unexpected status %d: %s", e.Method, redact(e.URL), e.StatusCode, e.Body)
}

// GraphQLError carries the errors array of a GraphQL response.
type GraphQLError struct {
	Messages []string
}

func (e *GraphQLError) Error() string {
	return "graphql: " + strings.Join(e.Messages, "; ")
}

// HTTP is a small JSON client shared by every REST and subgraph extractor.
type HTTP struct {
	client *http.Client
}

// NewHTTP returns a client whose requests are bounded by timeout.
func NewHTTP(timeout time.Duration) *HTTP {
	return &HTTP{client: &http.Client{Timeout: timeout}}
}

// NewHTTPWithClient wraps an existing *http.Client, e.g. an httptest server's.
func NewHTTPWithClient(c *http.Client) *HTTP {
	return &HTTP{client: c}
}

// callContext bounds a single request by timeout. A zero timeout leaves ctx
// unchanged.
func callContext(ctx context.Context, timeout time.Duration) (context.Context, context.CancelFunc) {
	if timeout <= 0 {
		return ctx, func() {}
	}
	return context.WithTimeout(ctx, timeout)
}

// Client exposes the underlying *http.Client for JSON-RPC transports.
func (h *HTTP) Client() *http.Client { return h.client }

// GetJSON fetches url and decodes the JSON body into out.
func (h *HTTP) GetJSON(ctx context.Context, url string, out any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return err
	}
	req.Header.Set("Accept", "application/json")
	return h.do(req, out)
}

// PostJSON posts body as JSON and decodes the response into out.
func (h *HTTP) PostJSON(ctx context.Context, url string, body, out any) error {
	payload, err := json.Marshal(body)
	if err != nil {
		return fmt.Errorf("marshal request: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(payload))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")
	return h.do(req, out)
}

// GraphQL executes query against endpoint and decodes the "data" member into out.
// A non-empty "errors" member is returned as *GraphQLError.
func (h *HTTP) GraphQL(ctx context.Context, endpoint, query string, vars map[string]any, out any) error {
	body := map[string]any{"query": query}
	if len(vars) > 0 {
		body["variables"] = vars
	}

	var resp struct {
		Data   json.RawMessage `json:"data"`
		Errors []struct {
			Message string `json:"message"`
		} `json:"errors"`
	}
	if err := h.PostJSON(ctx, endpoint, body, &resp); err != nil {
		return err
	}
	if len(resp.Errors) > 0 {
		msgs := make([]string, len(resp.Errors))
		for i, e := range resp.Errors {
			msgs[i] = e.Message
		}
		return &GraphQLError{Messages: msgs}
	}
	if len(resp.Data) == 0 || string(resp.Data) == "null" {
		return fmt.Errorf("graphql: empty data")
	}
	if err := json.Unmarshal(resp.Data, out); err != nil {
		return fmt.Errorf("unmarshal graphql data: %w", err)
	}
	return nil
}

func (h *HTTP) do(req *http.Request, out any) error {
	req.Header.Set("User-Agent", userAgent)

	resp, err := h.client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		snippet, _ := io.ReadAll(io.LimitReader(resp.Body, 256))
		return &StatusError{Method: req.Method, URL: req.URL.String(), StatusCode: resp.StatusCode, Body: strings.TrimSpace(string(snippet))}
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decode %s: %w", redact(req.URL.String()), err)
	}
	return nil
}

const graphGateway = "https://gateway.thegraph.com/api"

// SubgraphURL builds a decentralized-network gateway URL for a subgraph id.
func SubgraphURL(apiKey, subgraphID string) string {
	return fmt.Sprintf("%s/%s/subgraphs/id/%s", graphGateway, apiKey, subgraphID)
}

// redact hides the API key embedded in gateway URLs.
func redact(url string) string {
	if !strings.HasPrefix(url, graphGateway+"/") {
		return url
	}
	rest := strings.TrimPrefix(url, graphGateway+"/")
	if i := strings.Index(rest, "/"); i >= 0 {
		return graphGateway + "/***" + rest[i:]
	}
	return url
}

// Redact is exported for provenance and log fields.
func Redact(url string) string { return redact(url) }
