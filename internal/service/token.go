package service

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/discuno/discuno-sub000/internal/calcom"
	"github.com/discuno/discuno-sub000/internal/domain"
)

type CredentialStore interface {
	ByMentor(ctx context.Context, mentorID string) (*domain.MentorCredential, error)
	Upsert(ctx context.Context, c *domain.MentorCredential) error
	UpdateTokensIfCurrent(ctx context.Context, mentorID, loadedAccessToken string, accessToken, refreshToken string, accessExpiry, refreshExpiry time.Time) (bool, error)
}

type TokenAPI interface {
	Exchange(ctx context.Context, code string) (*calcom.TokenPair, error)
	Refresh(ctx context.Context, refreshToken string) (*calcom.TokenPair, error)
	ForceRefresh(ctx context.Context, accountID int64) (*calcom.TokenPair, error)
}

// tokenStrategy is one rung of the reissue ladder. Strategies run in
// order; the first success wins. Adding a third fallback is appending to
// the slice.
type tokenStrategy struct {
	name  string
	issue func(ctx context.Context, cred *domain.MentorCredential) (*calcom.TokenPair, error)
}

// TokenManager hands out a valid provider access token per mentor. Refresh
// attempts for one mentor are serialized behind a keyed mutex, and the
// persist step is a compare-and-swap on the loaded access token, so a
// stale refresher can never clobber a newer pair.
type TokenManager struct {
	creds    CredentialStore
	provider TokenAPI
	now      func() time.Time
	log      *zap.Logger

	mu    sync.Mutex
	locks map[string]*sync.Mutex
}

func NewTokenManager(creds CredentialStore, provider TokenAPI, log *zap.Logger) *TokenManager {
	return &TokenManager{
		creds:    creds,
		provider: provider,
		now:      time.Now,
		log:      log,
		locks:    map[string]*sync.Mutex{},
	}
}

func (m *TokenManager) mentorLock(mentorID string) *sync.Mutex {
	m.mu.Lock()
	defer m.mu.Unlock()
	l, ok := m.locks[mentorID]
	if !ok {
		l = &sync.Mutex{}
		m.locks[mentorID] = l
	}
	return l
}

// Connect finishes the mentor-facing OAuth connect flow and stores the
// first credential row.
func (m *TokenManager) Connect(ctx context.Context, mentorID string, accountID int64, username, code string) (*domain.MentorCredential, error) {
	pair, err := m.provider.Exchange(ctx, code)
	if err != nil {
		return nil, err
	}
	cred := &domain.MentorCredential{
		MentorID:              mentorID,
		ProviderAccountID:     accountID,
		ProviderUsername:      username,
		AccessToken:           pair.AccessToken,
		RefreshToken:          pair.RefreshToken,
		AccessTokenExpiresAt:  pair.AccessTokenExpiresAt,
		RefreshTokenExpiresAt: pair.RefreshTokenExpiresAt,
	}
	if err := m.creds.Upsert(ctx, cred); err != nil {
		return nil, err
	}
	return cred, nil
}

// GetValidAccessToken returns a usable access token for the mentor,
// refreshing (or force-reissuing) when the stored one is stale.
func (m *TokenManager) GetValidAccessToken(ctx context.Context, mentorID string) (string, error) {
	cred, err := m.creds.ByMentor(ctx, mentorID)
	if err != nil {
		return "", err
	}
	now := m.now().UTC()
	if now.Before(cred.AccessTokenExpiresAt) {
		return cred.AccessToken, nil
	}

	lock := m.mentorLock(mentorID)
	lock.Lock()
	defer lock.Unlock()

	// Re-read under the lock; a concurrent caller may have refreshed
	// while we waited.
	cred, err = m.creds.ByMentor(ctx, mentorID)
	if err != nil {
		return "", err
	}
	now = m.now().UTC()
	if now.Before(cred.AccessTokenExpiresAt) {
		return cred.AccessToken, nil
	}

	return m.reissue(ctx, cred, now)
}

func (m *TokenManager) reissue(ctx context.Context, cred *domain.MentorCredential, now time.Time) (string, error) {
	var strategies []tokenStrategy

	// An expired refresh token cannot be exchanged; skip straight to the
	// privileged reissue.
	if now.Before(cred.RefreshTokenExpiresAt) {
		strategies = append(strategies, tokenStrategy{
			name: "refresh",
			issue: func(ctx context.Context, c *domain.MentorCredential) (*calcom.TokenPair, error) {
				return m.provider.Refresh(ctx, c.RefreshToken)
			},
		})
	}
	strategies = append(strategies, tokenStrategy{
		name: "force-refresh",
		issue: func(ctx context.Context, c *domain.MentorCredential) (*calcom.TokenPair, error) {
			return m.provider.ForceRefresh(ctx, c.ProviderAccountID)
		},
	})

	var lastErr error
	for i, strat := range strategies {
		pair, err := strat.issue(ctx, cred)
		if err != nil {
			lastErr = err
			if i < len(strategies)-1 {
				m.log.Warn("token strategy failed, falling back",
					zap.String("mentor_id", cred.MentorID),
					zap.String("strategy", strat.name),
					zap.Error(err))
			}
			continue
		}
		return m.persist(ctx, cred, pair)
	}

	authErr := &domain.AuthError{MentorID: cred.MentorID}
	if perr, ok := lastErr.(*domain.ProcessorError); ok {
		authErr.StatusCode = perr.StatusCode
		authErr.Body = perr.Body
	} else if lastErr != nil {
		authErr.Body = lastErr.Error()
	}
	m.log.Error("all token strategies exhausted",
		zap.String("mentor_id", cred.MentorID), zap.Error(lastErr))
	return "", authErr
}

func (m *TokenManager) persist(ctx context.Context, cred *domain.MentorCredential, pair *calcom.TokenPair) (string, error) {
	ok, err := m.creds.UpdateTokensIfCurrent(ctx, cred.MentorID, cred.AccessToken,
		pair.AccessToken, pair.RefreshToken, pair.AccessTokenExpiresAt, pair.RefreshTokenExpiresAt)
	if err != nil {
		return "", err
	}
	if !ok {
		// Lost the swap to a concurrent refresh; the stored pair is the
		// newer one.
		current, err := m.creds.ByMentor(ctx, cred.MentorID)
		if err != nil {
			return "", err
		}
		return current.AccessToken, nil
	}
	return pair.AccessToken, nil
}
