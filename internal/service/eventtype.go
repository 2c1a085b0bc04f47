package service

import (
	"context"
	"errors"

	"github.com/discuno/discuno-sub000/internal/domain"
)

type EventTypeStore interface {
	CreateEventType(ctx context.Context, et *domain.MentorEventType) error
	EventTypeByExternalID(ctx context.Context, externalID int64) (*domain.MentorEventType, error)
	UpdateEventType(ctx context.Context, externalID int64, fields map[string]any) (*domain.MentorEventType, error)
}

var ErrPayoutsNotReady = errors.New("paid event type requires a payouts-enabled account")

// EventTypes manages bookable session templates. Templates are created
// disabled; a priced template can only be enabled once the mentor's payout
// account can receive payouts.
type EventTypes struct {
	store    EventTypeStore
	accounts PayoutAccountStore
}

func NewEventTypes(store EventTypeStore, accounts PayoutAccountStore) *EventTypes {
	return &EventTypes{store: store, accounts: accounts}
}

func (s *EventTypes) Create(ctx context.Context, et *domain.MentorEventType) error {
	return s.store.CreateEventType(ctx, et)
}

// SetPrice updates the custom price; nil price means free.
func (s *EventTypes) SetPrice(ctx context.Context, externalID int64, priceMinor *int64, currency string) (*domain.MentorEventType, error) {
	fields := map[string]any{"price_minor": priceMinor}
	if currency != "" {
		fields["currency"] = currency
	}
	return s.store.UpdateEventType(ctx, externalID, fields)
}

// Enable flips the template on, gated on payout readiness for paid ones.
func (s *EventTypes) Enable(ctx context.Context, externalID int64) (*domain.MentorEventType, error) {
	et, err := s.store.EventTypeByExternalID(ctx, externalID)
	if err != nil {
		return nil, err
	}
	if et.PriceMinor != nil && *et.PriceMinor > 0 {
		account, err := s.accounts.ByMentor(ctx, et.MentorID)
		if err != nil {
			return nil, ErrPayoutsNotReady
		}
		if !account.PayoutsEnabled {
			return nil, ErrPayoutsNotReady
		}
	}
	return s.store.UpdateEventType(ctx, externalID, map[string]any{"enabled": true})
}

func (s *EventTypes) Disable(ctx context.Context, externalID int64) (*domain.MentorEventType, error) {
	return s.store.UpdateEventType(ctx, externalID, map[string]any{"enabled": false})
}
