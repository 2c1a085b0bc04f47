package repository

import (
	"context"
	"errors"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/discuno/discuno-sub000/internal/domain"
)

var ErrNoPayoutAccount = errors.New("no payout account for mentor")

type AccountRepo struct{ db *gorm.DB }

func NewAccountRepo(db *gorm.DB) *AccountRepo {
	return &AccountRepo{db: db}
}

func (r *AccountRepo) Migrate() error {
	return r.db.AutoMigrate(&domain.MentorPayoutAccount{}, &domain.MentorEventType{})
}

func (r *AccountRepo) ByMentor(ctx context.Context, mentorID string) (*domain.MentorPayoutAccount, error) {
	var a domain.MentorPayoutAccount
	if err := r.db.WithContext(ctx).First(&a, "mentor_id = ?", mentorID).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrNoPayoutAccount
		}
		return nil, err
	}
	return &a, nil
}

func (r *AccountRepo) Upsert(ctx context.Context, a *domain.MentorPayoutAccount) error {
	if a.ID == "" {
		a.ID = uuid.NewString()
	}
	return r.db.WithContext(ctx).
		Where("mentor_id = ?", a.MentorID).
		Assign(map[string]any{
			"account_id":      a.AccountID,
			"charges_enabled": a.ChargesEnabled,
			"payouts_enabled": a.PayoutsEnabled,
		}).FirstOrCreate(a).Error
}

// Event types share this repo; they gate on the payout account state.

func (r *AccountRepo) CreateEventType(ctx context.Context, et *domain.MentorEventType) error {
	if et.ID == "" {
		et.ID = uuid.NewString()
	}
	et.Enabled = false // always created disabled
	return r.db.WithContext(ctx).Create(et).Error
}

func (r *AccountRepo) EventTypeByExternalID(ctx context.Context, externalID int64) (*domain.MentorEventType, error) {
	var et domain.MentorEventType
	if err := r.db.WithContext(ctx).First(&et, "external_id = ?", externalID).Error; err != nil {
		return nil, err
	}
	return &et, nil
}

func (r *AccountRepo) UpdateEventType(ctx context.Context, externalID int64, fields map[string]any) (*domain.MentorEventType, error) {
	res := r.db.WithContext(ctx).Model(&domain.MentorEventType{}).
		Where("external_id = ?", externalID).Updates(fields)
	if res.Error != nil {
		return nil, res.Error
	}
	if res.RowsAffected == 0 {
		return nil, gorm.ErrRecordNotFound
	}
	return r.EventTypeByExternalID(ctx, externalID)
}
