package repository

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/discuno/discuno-sub000/internal/domain"
)

type BookingRepo struct{ db *gorm.DB }

func NewBookingRepo(db *gorm.DB) *BookingRepo {
	return &BookingRepo{db: db}
}

func (r *BookingRepo) Migrate() error {
	return r.db.AutoMigrate(
		&domain.Booking{},
		&domain.BookingAttendee{},
		&domain.BookingOrganizer{},
		&domain.WebhookAudit{},
	)
}

// UpsertByExternal inserts or updates a booking keyed by its external id /
// uid. Both unique keys are honored: a redelivery matching either one lands
// on the same row. The whole merge runs in one transaction with the
// candidate row locked, so concurrent webhook deliveries serialize here.
func (r *BookingRepo) UpsertByExternal(ctx context.Context, incoming *domain.Booking) (*domain.Booking, error) {
	var out *domain.Booking
	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var existing domain.Booking
		err := tx.Clauses(clause.Locking{Strength: "UPDATE"}).
			Where("external_id = ? OR external_uid = ?", incoming.ExternalID, incoming.ExternalUID).
			Take(&existing).Error
		switch {
		case errors.Is(err, gorm.ErrRecordNotFound):
			if incoming.ID == "" {
				incoming.ID = uuid.NewString()
			}
			for i := range incoming.Attendees {
				if incoming.Attendees[i].ID == "" {
					incoming.Attendees[i].ID = uuid.NewString()
				}
				incoming.Attendees[i].BookingID = incoming.ID
			}
			if incoming.Organizer != nil {
				if incoming.Organizer.ID == "" {
					incoming.Organizer.ID = uuid.NewString()
				}
				incoming.Organizer.BookingID = incoming.ID
			}
			if err := tx.Create(incoming).Error; err != nil {
				return err
			}
			out = incoming
			return nil
		case err != nil:
			return err
		}

		if _, err := domain.ApplyBookingUpdate(&existing, incoming); err != nil {
			return err
		}
		if err := tx.Omit("Attendees", "Organizer").Save(&existing).Error; err != nil {
			return err
		}
		out = &existing
		return nil
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

func (r *BookingRepo) ByExternalUID(ctx context.Context, uid string) (*domain.Booking, error) {
	var b domain.Booking
	if err := r.db.WithContext(ctx).Preload("Attendees").Preload("Organizer").
		First(&b, "external_uid = ?", uid).Error; err != nil {
		return nil, err
	}
	return &b, nil
}

// SetCancelled moves a booking to CANCELLED via the transition table.
// Attendee and organizer rows stay in place for audit.
func (r *BookingRepo) SetCancelled(ctx context.Context, externalUID, reason string) (*domain.Booking, error) {
	var out *domain.Booking
	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var b domain.Booking
		if err := tx.Clauses(clause.Locking{Strength: "UPDATE"}).
			First(&b, "external_uid = ?", externalUID).Error; err != nil {
			return err
		}
		next, changed, err := domain.NextBookingStatus(b.Status, domain.BookingCancelled)
		if err != nil {
			return err
		}
		if changed {
			b.Status = next
			if reason != "" {
				b.CancellationReason = reason
			}
			if err := tx.Omit("Attendees", "Organizer").Save(&b).Error; err != nil {
				return err
			}
		}
		out = &b
		return nil
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

// MarkNoShow sets either flag independently; flags never reset.
func (r *BookingRepo) MarkNoShow(ctx context.Context, externalUID string, host, attendee bool) (*domain.Booking, error) {
	fields := map[string]any{}
	if host {
		fields["host_no_show"] = true
	}
	if attendee {
		fields["attendee_no_show"] = true
	}
	if len(fields) > 0 {
		res := r.db.WithContext(ctx).Model(&domain.Booking{}).
			Where("external_uid = ?", externalUID).Updates(fields)
		if res.Error != nil {
			return nil, res.Error
		}
		if res.RowsAffected == 0 {
			return nil, gorm.ErrRecordNotFound
		}
	}
	return r.ByExternalUID(ctx, externalUID)
}

// AppendAudit writes the raw webhook body before any validation runs.
func (r *BookingRepo) AppendAudit(ctx context.Context, provider, payload string) (string, error) {
	rec := domain.WebhookAudit{
		ID:         uuid.NewString(),
		Provider:   provider,
		Payload:    payload,
		ReceivedAt: time.Now().UTC(),
	}
	if err := r.db.WithContext(ctx).Create(&rec).Error; err != nil {
		return "", err
	}
	return rec.ID, nil
}

// MarkAuditRejected records why a delivery was discarded after audit.
func (r *BookingRepo) MarkAuditRejected(ctx context.Context, auditID, reason string) error {
	return r.db.WithContext(ctx).Model(&domain.WebhookAudit{}).
		Where("id = ?", auditID).Update("validation_error", reason).Error
}
