package client

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestClientSendsBearerAndDecodes(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("Authorization") != "Bearer fleet_ak_k" {
			w.WriteHeader(http.StatusUnauthorized)
			_, _ = w.Write([]byte(`{"error":"invalid api key"}`))
			return
		}
		switch r.Method {
		case http.MethodDelete:
			w.WriteHeader(http.StatusNoContent)
		default:
			_, _ = w.Write([]byte(`{"name":"admin","role":"admin"}`))
		}
	}))
	t.Cleanup(srv.Close)
	ctx := context.Background()

	var who map[string]any
	require.NoError(t, New(srv.URL+"/", " fleet_ak_k ").Get(ctx, "/api/v1/whoami", &who))
	assert.Equal(t, "admin", who["name"])
	require.NoError(t, New(srv.URL, "fleet_ak_k").Delete(ctx, "/api/v1/agents/1"))

	err := New(srv.URL, "wrong").Get(ctx, "/api/v1/whoami", &who)
	var apiErr *APIError
	require.True(t, errors.As(err, &apiErr))
	assert.Equal(t, http.StatusUnauthorized, apiErr.Status)
	assert.Equal(t, "http 401: invalid api key", err.Error())
}
