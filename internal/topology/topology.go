// Package topology implements the worker's self-registration call
// against the coordinator's topology service (spec.md section 6:
// "POST /v1/nes/topology/register"). Kept as a thin net/http adapter
// outside the execution core, per spec.md section 9's redesign note
// that HTTP surfaces are adapters, not core logic.
package topology

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"
)

// RegisterRequest is the payload a worker sends when announcing itself
// to the coordinator.
type RegisterRequest struct {
	WorkerID      uint64 `json:"workerId"`
	RPCAddress    string `json:"rpcAddress"`
	DataAddress   string `json:"dataAddress"`
	NumberOfSlots uint32 `json:"numberOfSlots"`
}

// RegisterResponse is the coordinator's acknowledgement.
type RegisterResponse struct {
	Accepted   bool   `json:"accepted"`
	ParentID   uint64 `json:"parentId"`
	Error      string `json:"error,omitempty"`
}

// Client calls a coordinator's topology registration endpoint.
type Client struct {
	BaseURL string
	HTTP    *http.Client
}

// NewClient constructs a Client bound to a coordinator's REST base URL,
// e.g. "http://coordinator:8081".
func NewClient(baseURL string) *Client {
	return &Client{BaseURL: baseURL, HTTP: &http.Client{Timeout: 10 * time.Second}}
}

// Register posts req to the coordinator's registration endpoint and
// decodes its response.
func (c *Client) Register(ctx context.Context, req RegisterRequest) (*RegisterResponse, error) {
	body, err := json.Marshal(req)
	if err != nil {
		return nil, err
	}
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.BaseURL+"/v1/nes/topology/register", bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	httpReq.Header.Set("Content-Type", "application/json")

	resp, err := c.HTTP.Do(httpReq)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	var out RegisterResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return nil, fmt.Errorf("decode registration response: %w", err)
	}
	if resp.StatusCode != http.StatusOK && out.Error == "" {
		out.Error = resp.Status
	}
	return &out, nil
}
