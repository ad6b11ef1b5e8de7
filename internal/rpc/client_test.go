package rpc

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"wallet-migrator/internal/logger"
	"wallet-migrator/internal/models"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// setupTestServer creates a JSON-RPC server answering with handler's result
func setupTestServer(t *testing.T, handler func(req models.RPCRequest) (interface{}, *models.RPCError)) *httptest.Server {
	t.Helper()
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var req models.RPCRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			http.Error(w, "invalid request", http.StatusBadRequest)
			return
		}

		response := models.RPCResponse{Jsonrpc: "2.0", ID: req.ID}
		result, rpcErr := handler(req)
		if rpcErr != nil {
			response.Error = rpcErr
		} else {
			raw, _ := json.Marshal(result)
			response.Result = raw
		}

		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(response)
	}))
	t.Cleanup(server.Close)
	return server
}

func TestClient_CallDecodesResult(t *testing.T) {
	server := setupTestServer(t, func(req models.RPCRequest) (interface{}, *models.RPCError) {
		assert.Equal(t, "eth_chainId", req.Method)
		return "0x2105", nil
	})

	client := NewClient(server.URL, "", 0, 3, time.Millisecond, time.Second, logger.Nop())
	var chainID string
	require.NoError(t, client.Call(context.Background(), &chainID, "eth_chainId"))
	assert.Equal(t, "0x2105", chainID)
}

func TestClient_CallReturnsRPCError(t *testing.T) {
	var calls atomic.Int32
	server := setupTestServer(t, func(req models.RPCRequest) (interface{}, *models.RPCError) {
		calls.Add(1)
		return nil, &models.RPCError{Code: -32601, Message: "Method not found"}
	})

	client := NewClient(server.URL, "", 0, 3, time.Millisecond, time.Second, logger.Nop())
	err := client.Call(context.Background(), nil, "pm_unknown")

	var rpcErr *models.RPCError
	require.True(t, errors.As(err, &rpcErr))
	assert.Equal(t, -32601, rpcErr.Code)
	assert.Equal(t, int32(1), calls.Load(), "rpc errors are not retried")
}

func TestClient_RetriesServerErrors(t *testing.T) {
	var calls atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if calls.Add(1) < 3 {
			w.WriteHeader(http.StatusBadGateway)
			return
		}
		_ = json.NewEncoder(w).Encode(models.RPCResponse{Jsonrpc: "2.0", ID: "1", Result: json.RawMessage(`"0x1"`)})
	}))
	defer server.Close()

	client := NewClient(server.URL, "", 0, 3, time.Millisecond, time.Second, logger.Nop())
	var out string
	require.NoError(t, client.Call(context.Background(), &out, "eth_blockNumber"))
	assert.Equal(t, "0x1", out)
	assert.Equal(t, int32(3), calls.Load())
}

func TestClient_DoesNotRetryClientErrors(t *testing.T) {
	var calls atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusUnauthorized)
	}))
	defer server.Close()

	client := NewClient(server.URL, "", 0, 3, time.Millisecond, time.Second, logger.Nop())
	err := client.Call(context.Background(), nil, "eth_blockNumber")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "401")
	assert.Equal(t, int32(1), calls.Load())
}

func TestCustomTransport_SetsBearer(t *testing.T) {
	var auth string
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		auth = r.Header.Get("Authorization")
		_ = json.NewEncoder(w).Encode(models.RPCResponse{Jsonrpc: "2.0", ID: "1", Result: json.RawMessage(`true`)})
	}))
	defer server.Close()

	client := NewClient(server.URL, "secret", 0, 1, time.Millisecond, time.Second, logger.Nop())
	require.NoError(t, client.Call(context.Background(), nil, "ping"))
	assert.Equal(t, "Bearer secret", auth)
}

func TestClient_CancelledContextStopsRetry(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	defer server.Close()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	client := NewClient(server.URL, "", 0, 5, time.Hour, time.Second, logger.Nop())
	err := client.Call(ctx, nil, "eth_blockNumber")
	assert.ErrorIs(t, err, context.Canceled)
}
