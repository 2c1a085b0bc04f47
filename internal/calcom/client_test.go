package calcom

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/discuno/discuno-sub000/internal/domain"
)

func newTestClient(srv *httptest.Server) *Client {
	return NewClient(srv.URL, srv.URL+"/auth", "client-1", "secret-1", "https://app.example/callback")
}

func tokenEnvelope(access, refresh string, accessExp, refreshExp time.Time) string {
	return fmt.Sprintf(`{"status": "success", "data": {
		"accessToken": %q,
		"refreshToken": %q,
		"accessTokenExpiresAt": %d,
		"refreshTokenExpiresAt": %d
	}}`, access, refresh, accessExp.UnixMilli(), refreshExp.UnixMilli())
}

func TestRefreshParsesEnvelope(t *testing.T) {
	accessExp := time.Date(2026, 9, 1, 12, 0, 0, 0, time.UTC)
	refreshExp := accessExp.Add(365 * 24 * time.Hour)

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "/oauth/client-1/refresh", r.URL.Path)
		assert.Equal(t, "secret-1", r.Header.Get("x-cal-secret-key"))
		var body map[string]string
		require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		assert.Equal(t, "old-rt", body["refreshToken"])
		fmt.Fprint(w, tokenEnvelope("new-at", "new-rt", accessExp, refreshExp))
	}))
	defer srv.Close()

	pair, err := newTestClient(srv).Refresh(context.Background(), "old-rt")
	require.NoError(t, err)
	assert.Equal(t, "new-at", pair.AccessToken)
	assert.Equal(t, "new-rt", pair.RefreshToken)
	assert.Equal(t, accessExp, pair.AccessTokenExpiresAt)
	assert.Equal(t, refreshExp, pair.RefreshTokenExpiresAt)
}

func TestForceRefreshHitsPrivilegedEndpoint(t *testing.T) {
	now := time.Now().Truncate(time.Millisecond).UTC()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/oauth-clients/client-1/users/42/force-refresh", r.URL.Path)
		assert.Equal(t, "secret-1", r.Header.Get("x-cal-secret-key"))
		fmt.Fprint(w, tokenEnvelope("forced-at", "forced-rt", now.Add(time.Hour), now.Add(24*time.Hour)))
	}))
	defer srv.Close()

	pair, err := newTestClient(srv).ForceRefresh(context.Background(), 42)
	require.NoError(t, err)
	assert.Equal(t, "forced-at", pair.AccessToken)
}

func TestTokenCallErrors(t *testing.T) {
	cases := []struct {
		name   string
		status int
		body   string
	}{
		{"provider 4xx", http.StatusUnauthorized, `{"status": "error", "error": {"code": "TokenExpiredException"}}`},
		{"malformed envelope", http.StatusOK, `not json at all`},
		{"empty pair", http.StatusOK, `{"status": "success", "data": {}}`},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(tc.status)
				fmt.Fprint(w, tc.body)
			}))
			defer srv.Close()

			_, err := newTestClient(srv).Refresh(context.Background(), "rt")
			var perr *domain.ProcessorError
			require.ErrorAs(t, err, &perr)
			assert.Equal(t, "calcom", perr.Provider)
			assert.Equal(t, "refresh", perr.Op)
		})
	}
}

func TestGetBookingRetriesServerErrors(t *testing.T) {
	var calls int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "Bearer at-1", r.Header.Get("Authorization"))
		if atomic.AddInt32(&calls, 1) == 1 {
			w.WriteHeader(http.StatusBadGateway)
			return
		}
		fmt.Fprint(w, `{"status": "success", "data": {"id": 100, "uid": "uid-1", "status": "accepted"}}`)
	}))
	defer srv.Close()

	b, err := newTestClient(srv).GetBooking(context.Background(), "at-1", "uid-1")
	require.NoError(t, err)
	assert.Equal(t, int64(100), b.ID)
	assert.Equal(t, "uid-1", b.UID)
	assert.Equal(t, int32(2), atomic.LoadInt32(&calls), "5xx retried once then succeeded")
}

func TestGetBookingDoesNotRetryClientErrors(t *testing.T) {
	var calls int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&calls, 1)
		w.WriteHeader(http.StatusNotFound)
	}))
	defer srv.Close()

	_, err := newTestClient(srv).GetBooking(context.Background(), "at-1", "missing")
	var perr *domain.ProcessorError
	require.ErrorAs(t, err, &perr)
	assert.Equal(t, http.StatusNotFound, perr.StatusCode)
	assert.Equal(t, int32(1), atomic.LoadInt32(&calls), "4xx is permanent")
}

func TestCancelBookingSendsReason(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "/bookings/uid-1/cancel", r.URL.Path)
		assert.Equal(t, "Bearer at-1", r.Header.Get("Authorization"))
		var body map[string]string
		require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		assert.Equal(t, "mentor is ill", body["cancellationReason"])
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	err := newTestClient(srv).CancelBooking(context.Background(), "at-1", "uid-1", "mentor is ill")
	require.NoError(t, err)
}

func TestGetDefaultScheduleAndUpdate(t *testing.T) {
	var patched ScheduleInput
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch {
		case r.Method == http.MethodGet && r.URL.Path == "/schedules/default":
			fmt.Fprint(w, `{"status": "success", "data": {
				"id": 77,
				"timeZone": "America/New_York",
				"availability": [[], [{"startTime": "1970-01-01T09:00:00.000Z", "endTime": "1970-01-01T17:00:00.000Z"}], [], [], [], [], []],
				"overrides": [{"date": "2026-09-01", "intervals": []}]
			}}`)
		case r.Method == http.MethodPatch && r.URL.Path == "/schedules/77":
			require.NoError(t, json.NewDecoder(r.Body).Decode(&patched))
			w.WriteHeader(http.StatusOK)
		default:
			w.WriteHeader(http.StatusNotFound)
		}
	}))
	defer srv.Close()

	c := newTestClient(srv)
	sched, err := c.GetDefaultSchedule(context.Background(), "at-1")
	require.NoError(t, err)
	assert.Equal(t, int64(77), sched.ID)
	require.Len(t, sched.Availability[1], 1)
	assert.Equal(t, "1970-01-01T09:00:00.000Z", sched.Availability[1][0].Start)
	require.Len(t, sched.Overrides, 1)

	in := ScheduleInput{}
	in.Availability[2] = []Interval{{Start: "1970-01-01T10:00:00.000Z", End: "1970-01-01T12:00:00.000Z"}}
	require.NoError(t, c.UpdateSchedule(context.Background(), "at-1", 77, in))
	assert.Equal(t, in.Availability, patched.Availability)
}

func TestAuthCodeURLCarriesState(t *testing.T) {
	c := NewClient("https://api.example", "https://auth.example/authorize", "client-1", "secret-1", "https://app.example/callback")
	u := c.AuthCodeURL("state-xyz")
	assert.Contains(t, u, "https://auth.example/authorize")
	assert.Contains(t, u, "state=state-xyz")
	assert.Contains(t, u, "client_id=client-1")
}
