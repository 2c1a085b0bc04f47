package service

import (
	"context"
	"encoding/json"
	"errors"
	"strconv"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/discuno/discuno-sub000/internal/domain"
)

type BookingStore interface {
	UpsertByExternal(ctx context.Context, incoming *domain.Booking) (*domain.Booking, error)
	ByExternalUID(ctx context.Context, uid string) (*domain.Booking, error)
	SetCancelled(ctx context.Context, externalUID, reason string) (*domain.Booking, error)
	MarkNoShow(ctx context.Context, externalUID string, host, attendee bool) (*domain.Booking, error)
	AppendAudit(ctx context.Context, provider, payload string) (string, error)
	MarkAuditRejected(ctx context.Context, auditID, reason string) error
}

type SchedulingAPI interface {
	CancelBooking(ctx context.Context, accessToken, uid, reason string) error
}

type EventPublisher interface {
	PublishJSON(ctx context.Context, key string, v any) error
}

// Synchronizer reconciles provider booking state with local rows. All
// webhook ingestion funnels through the idempotent upsert; the transition
// table in domain decides what an incoming status may do.
type Synchronizer struct {
	bookings BookingStore
	tokens   *TokenManager
	provider SchedulingAPI
	pub      EventPublisher
	log      *zap.Logger
}

func NewSynchronizer(bookings BookingStore, tokens *TokenManager, provider SchedulingAPI, pub EventPublisher, log *zap.Logger) *Synchronizer {
	return &Synchronizer{bookings: bookings, tokens: tokens, provider: provider, pub: pub, log: log}
}

// bookingWebhook is the provider payload shape. Unknown extra fields are
// ignored by the decoder.
type bookingWebhook struct {
	ID                 int64           `json:"id"`
	UID                string          `json:"uid"`
	Title              string          `json:"title"`
	Description        string          `json:"description"`
	Status             string          `json:"status"`
	Start              time.Time       `json:"start"`
	End                time.Time       `json:"end"`
	MeetingURL         string          `json:"meetingUrl"`
	CancellationReason string          `json:"cancellationReason"`
	EventTypeID        int64           `json:"eventTypeId"`
	HostNoShow         bool            `json:"hostNoShow"`
	AttendeeNoShow     bool            `json:"attendeeNoShow"`
	MentorID           string          `json:"mentorId"`
	Attendees          []webhookPerson `json:"attendees"`
	Organizer          *webhookPerson  `json:"organizer"`
}

type webhookPerson struct {
	Name     string `json:"name"`
	Email    string `json:"email"`
	TimeZone string `json:"timeZone"`
	UserID   string `json:"userId"`
}

// HandleWebhook audits the raw body first, then validates and upserts. A
// payload that fails validation is recorded on the audit row and
// discarded.
func (s *Synchronizer) HandleWebhook(ctx context.Context, raw []byte) (*domain.Booking, error) {
	auditID, err := s.bookings.AppendAudit(ctx, "calcom", string(raw))
	if err != nil {
		return nil, err
	}

	incoming, verr := parseBookingWebhook(raw)
	if verr != nil {
		if err := s.bookings.MarkAuditRejected(ctx, auditID, verr.Error()); err != nil {
			s.log.Error("mark audit rejected", zap.String("audit_id", auditID), zap.Error(err))
		}
		s.log.Error("discarding malformed booking webhook",
			zap.String("audit_id", auditID), zap.Error(verr))
		return nil, verr
	}

	b, err := s.bookings.UpsertByExternal(ctx, incoming)
	if err != nil {
		var iv *domain.InvariantViolationError
		if errors.As(err, &iv) {
			s.log.Error("booking upsert rejected", zap.String("uid", incoming.ExternalUID), zap.Error(err))
		}
		return nil, err
	}

	_ = s.pub.PublishJSON(ctx, "booking."+strings.ToLower(string(b.Status)), map[string]any{
		"booking_uid": b.ExternalUID,
		"mentor_id":   b.MentorID,
		"status":      b.Status,
	})
	return b, nil
}

func parseBookingWebhook(raw []byte) (*domain.Booking, error) {
	var w bookingWebhook
	if err := json.Unmarshal(raw, &w); err != nil {
		return nil, &domain.MalformedWebhookError{Reason: "invalid json: " + err.Error()}
	}
	if w.ID == 0 {
		return nil, &domain.MalformedWebhookError{Reason: "missing booking id"}
	}
	if w.UID == "" {
		return nil, &domain.MalformedWebhookError{Reason: "missing booking uid"}
	}
	status := domain.BookingStatus(strings.ToUpper(w.Status))
	if !status.Valid() {
		return nil, &domain.MalformedWebhookError{Reason: "unknown status " + strconv.Quote(w.Status)}
	}

	b := &domain.Booking{
		ExternalID:         w.ID,
		ExternalUID:        w.UID,
		MentorID:           w.MentorID,
		Title:              w.Title,
		Description:        w.Description,
		StartTime:          w.Start.UTC(),
		EndTime:            w.End.UTC(),
		Status:             status,
		CancellationReason: w.CancellationReason,
		MeetingURL:         w.MeetingURL,
		HostNoShow:         w.HostNoShow,
		AttendeeNoShow:     w.AttendeeNoShow,
		RawPayload:         string(raw),
	}
	for _, a := range w.Attendees {
		att := domain.BookingAttendee{Name: a.Name, Email: a.Email, Timezone: a.TimeZone}
		if a.UserID != "" {
			uid := a.UserID
			att.UserID = &uid
		}
		b.Attendees = append(b.Attendees, att)
	}
	if w.Organizer != nil {
		org := &domain.BookingOrganizer{Name: w.Organizer.Name, Email: w.Organizer.Email, Timezone: w.Organizer.TimeZone}
		if w.Organizer.UserID != "" {
			uid := w.Organizer.UserID
			org.UserID = &uid
		}
		b.Organizer = org
	}
	return b, nil
}

// Cancel cancels the booking at the provider, then records the terminal
// state locally. Attendee/organizer rows stay put.
func (s *Synchronizer) Cancel(ctx context.Context, mentorID, externalUID, reason string) (*domain.Booking, error) {
	token, err := s.tokens.GetValidAccessToken(ctx, mentorID)
	if err != nil {
		return nil, err
	}
	if err := s.provider.CancelBooking(ctx, token, externalUID, reason); err != nil {
		return nil, err
	}
	b, err := s.bookings.SetCancelled(ctx, externalUID, reason)
	if err != nil {
		return nil, err
	}
	_ = s.pub.PublishJSON(ctx, "booking.cancelled", map[string]any{
		"booking_uid": b.ExternalUID,
		"mentor_id":   b.MentorID,
		"reason":      reason,
	})
	return b, nil
}

// MarkNoShow flips either flag; they are independent and sticky.
func (s *Synchronizer) MarkNoShow(ctx context.Context, externalUID string, host, attendee bool) (*domain.Booking, error) {
	return s.bookings.MarkNoShow(ctx, externalUID, host, attendee)
}
