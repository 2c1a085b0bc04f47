package service

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/discuno/discuno-sub000/internal/calcom"
	"github.com/discuno/discuno-sub000/internal/domain"
)

type fakeCredStore struct {
	mu    sync.Mutex
	creds map[string]*domain.MentorCredential
}

func newFakeCredStore(seed ...*domain.MentorCredential) *fakeCredStore {
	s := &fakeCredStore{creds: map[string]*domain.MentorCredential{}}
	for _, c := range seed {
		cp := *c
		s.creds[c.MentorID] = &cp
	}
	return s
}

func (s *fakeCredStore) ByMentor(_ context.Context, mentorID string) (*domain.MentorCredential, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	c, ok := s.creds[mentorID]
	if !ok {
		return nil, domain.ErrNoCredential
	}
	cp := *c
	return &cp, nil
}

func (s *fakeCredStore) Upsert(_ context.Context, c *domain.MentorCredential) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	cp := *c
	s.creds[c.MentorID] = &cp
	return nil
}

func (s *fakeCredStore) UpdateTokensIfCurrent(_ context.Context, mentorID, loadedAccessToken, accessToken, refreshToken string, accessExpiry, refreshExpiry time.Time) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	c, ok := s.creds[mentorID]
	if !ok || c.AccessToken != loadedAccessToken {
		return false, nil
	}
	c.AccessToken = accessToken
	c.RefreshToken = refreshToken
	c.AccessTokenExpiresAt = accessExpiry
	c.RefreshTokenExpiresAt = refreshExpiry
	return true, nil
}

type fakeTokenAPI struct {
	mu            sync.Mutex
	refreshCalls  int
	forceCalls    int
	refreshErr    error
	forceErr      error
	refreshResult *calcom.TokenPair
	forceResult   *calcom.TokenPair
}

func (f *fakeTokenAPI) Exchange(context.Context, string) (*calcom.TokenPair, error) {
	return f.refreshResult, f.refreshErr
}

func (f *fakeTokenAPI) Refresh(context.Context, string) (*calcom.TokenPair, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.refreshCalls++
	return f.refreshResult, f.refreshErr
}

func (f *fakeTokenAPI) ForceRefresh(context.Context, int64) (*calcom.TokenPair, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.forceCalls++
	return f.forceResult, f.forceErr
}

func pairExpiring(access string, accessTTL, refreshTTL time.Duration, now time.Time) *calcom.TokenPair {
	return &calcom.TokenPair{
		AccessToken:           access,
		RefreshToken:          "rt-" + access,
		AccessTokenExpiresAt:  now.Add(accessTTL),
		RefreshTokenExpiresAt: now.Add(refreshTTL),
	}
}

func testTokenManager(creds CredentialStore, api TokenAPI, now time.Time) *TokenManager {
	m := NewTokenManager(creds, api, zap.NewNop())
	m.now = func() time.Time { return now }
	return m
}

func TestGetValidAccessTokenServesFreshToken(t *testing.T) {
	now := time.Date(2026, 5, 1, 9, 0, 0, 0, time.UTC)
	store := newFakeCredStore(&domain.MentorCredential{
		MentorID:             "m1",
		AccessToken:          "fresh",
		AccessTokenExpiresAt: now.Add(time.Hour),
	})
	api := &fakeTokenAPI{}
	m := testTokenManager(store, api, now)

	tok, err := m.GetValidAccessToken(context.Background(), "m1")
	require.NoError(t, err)
	assert.Equal(t, "fresh", tok)
	assert.Zero(t, api.refreshCalls, "no provider call for a valid token")
}

func TestGetValidAccessTokenRefreshesExpired(t *testing.T) {
	now := time.Date(2026, 5, 1, 9, 0, 0, 0, time.UTC)
	store := newFakeCredStore(&domain.MentorCredential{
		MentorID:              "m1",
		AccessToken:           "stale",
		RefreshToken:          "rt",
		AccessTokenExpiresAt:  now.Add(-time.Minute),
		RefreshTokenExpiresAt: now.Add(24 * time.Hour),
	})
	api := &fakeTokenAPI{refreshResult: pairExpiring("new", time.Hour, 365*24*time.Hour, now)}
	m := testTokenManager(store, api, now)

	tok, err := m.GetValidAccessToken(context.Background(), "m1")
	require.NoError(t, err)
	assert.Equal(t, "new", tok)
	assert.Equal(t, 1, api.refreshCalls)
	assert.Zero(t, api.forceCalls)

	stored, err := store.ByMentor(context.Background(), "m1")
	require.NoError(t, err)
	assert.Equal(t, "new", stored.AccessToken)
	assert.Equal(t, "rt-new", stored.RefreshToken)
}

func TestGetValidAccessTokenFallsBackToForceRefresh(t *testing.T) {
	now := time.Date(2026, 5, 1, 9, 0, 0, 0, time.UTC)
	store := newFakeCredStore(&domain.MentorCredential{
		MentorID:              "m1",
		ProviderAccountID:     42,
		AccessToken:           "stale",
		RefreshToken:          "rt",
		AccessTokenExpiresAt:  now.Add(-time.Minute),
		RefreshTokenExpiresAt: now.Add(24 * time.Hour),
	})
	api := &fakeTokenAPI{
		refreshErr:  &domain.ProcessorError{Provider: "calcom", Op: "refresh", StatusCode: 498},
		forceResult: pairExpiring("forced", time.Hour, 365*24*time.Hour, now),
	}
	m := testTokenManager(store, api, now)

	tok, err := m.GetValidAccessToken(context.Background(), "m1")
	require.NoError(t, err)
	assert.Equal(t, "forced", tok)
	assert.Equal(t, 1, api.refreshCalls)
	assert.Equal(t, 1, api.forceCalls)
}

func TestGetValidAccessTokenSkipsRefreshWhenRefreshTokenExpired(t *testing.T) {
	now := time.Date(2026, 5, 1, 9, 0, 0, 0, time.UTC)
	store := newFakeCredStore(&domain.MentorCredential{
		MentorID:              "m1",
		ProviderAccountID:     42,
		AccessToken:           "stale",
		RefreshToken:          "rt",
		AccessTokenExpiresAt:  now.Add(-time.Minute),
		RefreshTokenExpiresAt: now.Add(-time.Minute),
	})
	api := &fakeTokenAPI{forceResult: pairExpiring("forced", time.Hour, 365*24*time.Hour, now)}
	m := testTokenManager(store, api, now)

	tok, err := m.GetValidAccessToken(context.Background(), "m1")
	require.NoError(t, err)
	assert.Equal(t, "forced", tok)
	assert.Zero(t, api.refreshCalls, "expired refresh token must not be exchanged")
	assert.Equal(t, 1, api.forceCalls)
}

func TestGetValidAccessTokenExhaustedLadder(t *testing.T) {
	now := time.Date(2026, 5, 1, 9, 0, 0, 0, time.UTC)
	store := newFakeCredStore(&domain.MentorCredential{
		MentorID:              "m1",
		AccessToken:           "stale",
		RefreshToken:          "rt",
		AccessTokenExpiresAt:  now.Add(-time.Minute),
		RefreshTokenExpiresAt: now.Add(24 * time.Hour),
	})
	api := &fakeTokenAPI{
		refreshErr: errors.New("boom"),
		forceErr:   &domain.ProcessorError{Provider: "calcom", Op: "force-refresh", StatusCode: 403, Body: "forbidden"},
	}
	m := testTokenManager(store, api, now)

	_, err := m.GetValidAccessToken(context.Background(), "m1")
	var authErr *domain.AuthError
	require.ErrorAs(t, err, &authErr)
	assert.Equal(t, "m1", authErr.MentorID)
	assert.Equal(t, 403, authErr.StatusCode)
}

func TestGetValidAccessTokenNoCredential(t *testing.T) {
	m := testTokenManager(newFakeCredStore(), &fakeTokenAPI{}, time.Now())
	_, err := m.GetValidAccessToken(context.Background(), "ghost")
	assert.ErrorIs(t, err, domain.ErrNoCredential)
}

func TestPersistLosesCompareAndSwap(t *testing.T) {
	now := time.Date(2026, 5, 1, 9, 0, 0, 0, time.UTC)
	store := newFakeCredStore(&domain.MentorCredential{
		MentorID:              "m1",
		AccessToken:           "stale",
		RefreshToken:          "rt",
		AccessTokenExpiresAt:  now.Add(-time.Minute),
		RefreshTokenExpiresAt: now.Add(24 * time.Hour),
	})
	api := &fakeTokenAPI{refreshResult: pairExpiring("mine", time.Hour, 365*24*time.Hour, now)}
	m := testTokenManager(store, api, now)

	// Another instance refreshed after our read: the stored access token no
	// longer matches what we loaded, so the swap must lose and we serve the
	// stored (newer) token.
	cred, err := store.ByMentor(context.Background(), "m1")
	require.NoError(t, err)
	winner := &domain.MentorCredential{
		MentorID:              "m1",
		AccessToken:           "winner",
		RefreshToken:          "rt2",
		AccessTokenExpiresAt:  now.Add(time.Hour),
		RefreshTokenExpiresAt: now.Add(24 * time.Hour),
	}
	require.NoError(t, store.Upsert(context.Background(), winner))

	tok, err := m.persist(context.Background(), cred, api.refreshResult)
	require.NoError(t, err)
	assert.Equal(t, "winner", tok, "lost swap returns the concurrently stored token")

	stored, err := store.ByMentor(context.Background(), "m1")
	require.NoError(t, err)
	assert.Equal(t, "winner", stored.AccessToken, "stored pair untouched by the loser")
}

func TestConnectStoresExchangedPair(t *testing.T) {
	now := time.Date(2026, 5, 1, 9, 0, 0, 0, time.UTC)
	store := newFakeCredStore()
	api := &fakeTokenAPI{refreshResult: pairExpiring("first", time.Hour, 365*24*time.Hour, now)}
	m := testTokenManager(store, api, now)

	cred, err := m.Connect(context.Background(), "m1", 42, "mentor-one", "auth-code")
	require.NoError(t, err)
	assert.Equal(t, "first", cred.AccessToken)
	assert.Equal(t, int64(42), cred.ProviderAccountID)

	stored, err := store.ByMentor(context.Background(), "m1")
	require.NoError(t, err)
	assert.Equal(t, "mentor-one", stored.ProviderUsername)
}
