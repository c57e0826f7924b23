package mapping

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestIsLocalDestination(t *testing.T) {
	tests := []struct {
		url  string
		want bool
	}{
		{"http://localhost:8000", true},
		{"http://LOCALHOST", true},
		{"http://api.localhost:8000", true},
		{"http://127.0.0.1:8000/api/v1", true},
		{"http://127.8.9.1", true},
		{"http://[::1]:8000", true},
		{"http://0.0.0.0:8000", true},
		{"https://api.webuddhist.com", false},
		{"https://webuddhist-dev-backend.onrender.com", false},
		{"http://10.0.0.5:8000", false},
		{"not a url", false},
		{"", false},
	}
	for _, tt := range tests {
		t.Run(tt.url, func(t *testing.T) {
			assert.Equal(t, tt.want, IsLocalDestination(tt.url))
		})
	}
}

func TestEnqueueTextIDs(t *testing.T) {
	var got Job
	calls := 0
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls++
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "/job/text-ids", r.URL.Path)
		require.NoError(t, json.NewDecoder(r.Body).Decode(&got))
		w.WriteHeader(http.StatusAccepted)
	}))
	defer ts.Close()

	c := NewClient(NewClientParams{BaseURL: ts.URL})
	err := c.EnqueueTextIDs(context.Background(), Job{
		TextIDs:     []string{"I1", "I2"},
		Source:      "https://api.openpecha.org",
		Destination: "https://api.webuddhist.com",
	})
	require.NoError(t, err)
	assert.Equal(t, 1, calls)
	assert.Equal(t, []string{"I1", "I2"}, got.TextIDs)
	assert.Equal(t, "https://api.openpecha.org", got.Source)
}

func TestEnqueueTextIDs_SurfacesHTTPError(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer ts.Close()

	c := NewClient(NewClientParams{BaseURL: ts.URL})
	assert.Error(t, c.EnqueueTextIDs(context.Background(), Job{}))
}
