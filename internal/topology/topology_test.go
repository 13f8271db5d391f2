package topology_test

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/nebula-stream/node-engine/internal/topology"
)

func TestClientRegister(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/v1/nes/topology/register" {
			t.Fatalf("unexpected path: %s", r.URL.Path)
		}
		var req topology.RegisterRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			t.Fatalf("decode request: %v", err)
		}
		if req.WorkerID != 42 {
			t.Fatalf("expected workerId 42, got %d", req.WorkerID)
		}
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(topology.RegisterResponse{Accepted: true, ParentID: 1})
	}))
	defer srv.Close()

	client := topology.NewClient(srv.URL)
	resp, err := client.Register(context.Background(), topology.RegisterRequest{
		WorkerID: 42, RPCAddress: "127.0.0.1:4000", DataAddress: "127.0.0.1:4001", NumberOfSlots: 4,
	})
	if err != nil {
		t.Fatalf("register: %v", err)
	}
	if !resp.Accepted || resp.ParentID != 1 {
		t.Fatalf("unexpected response: %+v", resp)
	}
}
