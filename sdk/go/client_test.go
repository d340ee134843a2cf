package caseflowsdk

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestTransitionSendsBodyAndAuth(t *testing.T) {
	var got map[string]any
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/v1/cases/c%201/transition", r.URL.EscapedPath())
		assert.Equal(t, "Bearer tok", r.Header.Get("Authorization"))
		data, _ := io.ReadAll(r.Body)
		require.NoError(t, json.Unmarshal(data, &got))
		w.Header().Set("Content-Type", "application/json")
		io.WriteString(w, `{"from_status":"NEW","to_status":"IN_PROGRESS"}`)
	}))
	defer srv.Close()

	c := New(srv.URL + "/")
	c.BearerToken = "tok"
	res, err := c.Transition(context.Background(), "c 1", "IN_PROGRESS", "", "2024-03-01")
	require.NoError(t, err)
	assert.Equal(t, "NEW", res.FromStatus)
	assert.Equal(t, map[string]any{"to_status": "IN_PROGRESS", "important_date": "2024-03-01"}, got)
}

func TestErrorEnvelopeIsDecoded(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "key", r.Header.Get("X-Api-Key"))
		w.WriteHeader(http.StatusConflict)
		io.WriteString(w, `{"error":{"code":"conflict","message":"case TRK-1 is already assigned"}}`)
	}))
	defer srv.Close()

	c := New(srv.URL)
	c.APIKey = "key"
	_, err := c.Claim(context.Background(), "c1")
	var apiErr *APIError
	require.ErrorAs(t, err, &apiErr)
	assert.Equal(t, http.StatusConflict, apiErr.StatusCode)
	assert.Equal(t, "conflict", apiErr.Code)
}

func TestNotificationsQuery(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/v1/notifications", r.URL.Path)
		assert.Equal(t, "true", r.URL.Query().Get("unread"))
		assert.Equal(t, "5", r.URL.Query().Get("limit"))
		io.WriteString(w, `{"items":[{"id":"n1","case_id":"c1","event_type":"STATUS","title":"Status changed"}]}`)
	}))
	defer srv.Close()

	items, err := New(srv.URL).Notifications(context.Background(), true, 5)
	require.NoError(t, err)
	require.Len(t, items, 1)
	assert.Equal(t, "STATUS", items[0].EventType)
}
