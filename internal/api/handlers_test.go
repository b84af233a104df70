package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type pingerStub struct{ err error }

func (p pingerStub) Ping(ctx context.Context) error { return p.err }

type statsStub struct{ sessions, live int }

func (s statsStub) SessionCount() int  { return s.sessions }
func (s statsStub) LiveDocuments() int { return s.live }

func TestHealth(t *testing.T) {
	down := errors.New("connection refused")

	tests := []struct {
		name       string
		database   Pinger
		relay      Pinger
		wantStatus int
		wantBody   string
		wantChecks map[string]string
	}{
		{
			name:       "single process",
			database:   pingerStub{},
			wantStatus: http.StatusOK,
			wantBody:   "ok",
			wantChecks: map[string]string{"database": "up"},
		},
		{
			name:       "relay down degrades",
			database:   pingerStub{},
			relay:      pingerStub{err: down},
			wantStatus: http.StatusOK,
			wantBody:   "degraded",
			wantChecks: map[string]string{"database": "up", "relay": "down"},
		},
		{
			name:       "database down",
			database:   pingerStub{err: down},
			relay:      pingerStub{},
			wantStatus: http.StatusServiceUnavailable,
			wantBody:   "unavailable",
			wantChecks: map[string]string{"database": "down", "relay": "up"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := NewHandler(tt.database, tt.relay, statsStub{sessions: 3, live: 2}, nil)
			router := SetupRoutes(h, []string{"http://localhost:3000"})

			rec := httptest.NewRecorder()
			router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/health", nil))

			require.Equal(t, tt.wantStatus, rec.Code)
			var body healthResponse
			require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
			assert.Equal(t, tt.wantBody, body.Status)
			assert.Equal(t, tt.wantChecks, body.Checks)
			assert.Equal(t, 3, body.Sessions)
			assert.Equal(t, 2, body.Live)
		})
	}
}

func TestMetricsEndpoint(t *testing.T) {
	router := SetupRoutes(NewHandler(pingerStub{}, nil, statsStub{}, nil), nil)

	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "collab_live_documents")
}
