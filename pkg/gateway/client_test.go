package gateway

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/airtimehq/airtime/pkg/presence"
	"github.com/airtimehq/airtime/pkg/roles"
)

func newTestClient(endpoints ...string) *Client {
	return NewWithOpts(Opts{
		Endpoints: endpoints,
		Token:     "test-token",
		RPS:       1000,
		Burst:     1000,
	})
}

func TestFetchState(t *testing.T) {
	t.Run("subject in voice", func(t *testing.T) {
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			assert.Equal(t, "/v1/communities/g1/members/s1/voice", r.URL.Path)
			assert.Equal(t, "Bearer test-token", r.Header.Get("Authorization"))
			_ = json.NewEncoder(w).Encode(presence.Snapshot{
				ChannelID:    "ch-1",
				Broadcasting: true,
				Occupants:    []presence.Occupant{{ID: "s1"}, {ID: "viewer-1"}},
			})
		}))
		defer srv.Close()

		snap, err := newTestClient(srv.URL).FetchState(context.Background(), "g1", "s1")
		require.NoError(t, err)
		assert.Equal(t, "ch-1", snap.ChannelID)
		assert.True(t, snap.Broadcasting)
		assert.Len(t, snap.Occupants, 2)
	})

	t.Run("unknown subject maps to zero snapshot", func(t *testing.T) {
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusNotFound)
		}))
		defer srv.Close()

		snap, err := newTestClient(srv.URL).FetchState(context.Background(), "g1", "s1")
		require.NoError(t, err)
		assert.Equal(t, &presence.Snapshot{}, snap)
	})

	t.Run("server errors surface to the caller", func(t *testing.T) {
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusInternalServerError)
		}))
		defer srv.Close()

		_, err := newTestClient(srv.URL).FetchState(context.Background(), "g1", "s1")
		assert.Error(t, err)
	})
}

func TestHeld(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/v1/communities/g1/members/s1/roles", r.URL.Path)
		_, _ = w.Write([]byte(`{"roles":["role-bronze","role-extra"]}`))
	}))
	defer srv.Close()

	held, err := newTestClient(srv.URL).Held(context.Background(), "g1", "s1")
	require.NoError(t, err)
	assert.Equal(t, []string{"role-bronze", "role-extra"}, held)
}

func TestGrantStatusMapping(t *testing.T) {
	tests := []struct {
		name         string
		statusCode   int
		expectStatus roles.Status
		expectErr    bool
		permanent    bool
	}{
		{name: "applied", statusCode: http.StatusOK, expectStatus: roles.StatusApplied},
		{name: "already held", statusCode: http.StatusNoContent, expectStatus: roles.StatusNoop},
		{name: "missing permission is permanent", statusCode: http.StatusForbidden, expectErr: true, permanent: true},
		{name: "deleted role is permanent", statusCode: http.StatusNotFound, expectErr: true, permanent: true},
		{name: "rate limit is transient", statusCode: http.StatusTooManyRequests, expectErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				assert.Equal(t, http.MethodPut, r.Method)
				assert.Equal(t, "/v1/communities/g1/members/s1/roles/role-bronze", r.URL.Path)
				w.WriteHeader(tt.statusCode)
			}))
			defer srv.Close()

			status, err := newTestClient(srv.URL).Grant(context.Background(), "g1", "s1", "role-bronze")

			if tt.expectErr {
				require.Error(t, err)
				assert.Equal(t, tt.permanent, roles.IsPermanent(err))
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.expectStatus, status)
		})
	}
}

func TestRevokeStatusMapping(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodDelete, r.Method)
		w.WriteHeader(http.StatusNoContent)
	}))
	defer srv.Close()

	status, err := newTestClient(srv.URL).Revoke(context.Background(), "g1", "s1", "role-bronze")
	require.NoError(t, err)
	assert.Equal(t, roles.StatusNoop, status)
}

func TestFailoverToSecondEndpoint(t *testing.T) {
	bad := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer bad.Close()

	good := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewEncoder(w).Encode(presence.Snapshot{ChannelID: "ch-1"})
	}))
	defer good.Close()

	snap, err := newTestClient(bad.URL, good.URL).FetchState(context.Background(), "g1", "s1")
	require.NoError(t, err)
	assert.Equal(t, "ch-1", snap.ChannelID)
}

func TestBreakerOpensAfterRepeatedFailures(t *testing.T) {
	var hits int
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits++
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer srv.Close()

	c := NewWithOpts(Opts{
		Endpoints:       []string{srv.URL},
		RPS:             1000,
		Burst:           1000,
		BreakerFailures: 2,
	})

	for i := 0; i < 5; i++ {
		_, _ = c.FetchState(context.Background(), "g1", "s1")
	}

	assert.Equal(t, 2, hits, "an open breaker must stop traffic to the endpoint")
}

func TestPathEscaping(t *testing.T) {
	var gotPath string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotPath = r.URL.EscapedPath()
		w.WriteHeader(http.StatusNoContent)
	}))
	defer srv.Close()

	_, err := newTestClient(srv.URL).Grant(context.Background(), "g/1", "s 1", "role@1")
	require.NoError(t, err)
	assert.Equal(t, "/v1/communities/g%2F1/members/s%201/roles/role@1", gotPath)
}
