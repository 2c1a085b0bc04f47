package repository

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/discuno/discuno-sub000/internal/domain"
)

type CredentialRepo struct{ db *gorm.DB }

func NewCredentialRepo(db *gorm.DB) *CredentialRepo {
	return &CredentialRepo{db: db}
}

func (r *CredentialRepo) Migrate() error {
	return r.db.AutoMigrate(&domain.MentorCredential{})
}

func (r *CredentialRepo) ByMentor(ctx context.Context, mentorID string) (*domain.MentorCredential, error) {
	var c domain.MentorCredential
	if err := r.db.WithContext(ctx).First(&c, "mentor_id = ?", mentorID).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, domain.ErrNoCredential
		}
		return nil, err
	}
	return &c, nil
}

// Upsert writes the credential row created by the connect flow. One row per
// mentor, keyed on mentor_id.
func (r *CredentialRepo) Upsert(ctx context.Context, c *domain.MentorCredential) error {
	if c.ID == "" {
		c.ID = uuid.NewString()
	}
	return r.db.WithContext(ctx).
		Where("mentor_id = ?", c.MentorID).
		Assign(map[string]any{
			"provider_account_id":      c.ProviderAccountID,
			"provider_username":        c.ProviderUsername,
			"access_token":             c.AccessToken,
			"refresh_token":            c.RefreshToken,
			"access_token_expires_at":  c.AccessTokenExpiresAt,
			"refresh_token_expires_at": c.RefreshTokenExpiresAt,
		}).FirstOrCreate(c).Error
}

// UpdateTokensIfCurrent persists a refreshed token pair only if the stored
// access token still matches the one the caller loaded. Returns false when
// a concurrent refresh won the race; the caller should re-read instead of
// overwriting.
func (r *CredentialRepo) UpdateTokensIfCurrent(ctx context.Context, mentorID, loadedAccessToken string, accessToken, refreshToken string, accessExpiry, refreshExpiry time.Time) (bool, error) {
	res := r.db.WithContext(ctx).Model(&domain.MentorCredential{}).
		Where("mentor_id = ? AND access_token = ?", mentorID, loadedAccessToken).
		Where("access_token_expires_at <= ?", accessExpiry).
		Updates(map[string]any{
			"access_token":             accessToken,
			"refresh_token":            refreshToken,
			"access_token_expires_at":  accessExpiry,
			"refresh_token_expires_at": refreshExpiry,
		})
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected > 0, nil
}
