package domain

import "time"

// MentorCredential holds the scheduling provider OAuth token pair for one
// mentor. At most one row per mentor; expiries only move forward.
type MentorCredential struct {
	ID                    string `gorm:"primaryKey"`
	MentorID              string `gorm:"uniqueIndex"`
	ProviderAccountID     int64  `gorm:"index"` // managed-user id at the provider
	ProviderUsername      string
	AccessToken           string
	RefreshToken          string
	AccessTokenExpiresAt  time.Time
	RefreshTokenExpiresAt time.Time
	CreatedAt             time.Time
	UpdatedAt             time.Time
}

// MentorEventType is a bookable session template. Created disabled; a paid
// event type may only be enabled once the mentor's payout account can
// receive payouts.
type MentorEventType struct {
	ID           string `gorm:"primaryKey"`
	MentorID     string `gorm:"index"`
	ExternalID   int64  `gorm:"uniqueIndex"`
	Title        string
	Description  string
	DurationMins int
	Enabled      bool
	PriceMinor   *int64 // minor currency units; nil = free
	Currency     string
	CreatedAt    time.Time
	UpdatedAt    time.Time
}

type Booking struct {
	ID                 string `gorm:"primaryKey"`
	ExternalID         int64  `gorm:"uniqueIndex"`
	ExternalUID        string `gorm:"uniqueIndex"`
	MentorID           string `gorm:"index"`
	Title              string
	Description        string
	StartTime          time.Time `gorm:"index"`
	EndTime            time.Time
	Status             BookingStatus `gorm:"index"`
	CancellationReason string
	MeetingURL         string
	HostNoShow         bool
	AttendeeNoShow     bool
	RawPayload         string `gorm:"type:jsonb"`

	// Weak references: a booking outlives its pricing plan and its payment.
	EventTypeID *string `gorm:"index"`
	PaymentID   *string `gorm:"index"`

	Attendees []BookingAttendee `gorm:"foreignKey:BookingID;constraint:OnDelete:CASCADE"`
	Organizer *BookingOrganizer `gorm:"foreignKey:BookingID;constraint:OnDelete:CASCADE"`

	CreatedAt time.Time
	UpdatedAt time.Time
}

type BookingAttendee struct {
	ID        string `gorm:"primaryKey"`
	BookingID string `gorm:"index"`
	UserID    *string // nil for guests without a local account
	Name      string
	Email     string
	Timezone  string
}

type BookingOrganizer struct {
	ID        string `gorm:"primaryKey"`
	BookingID string `gorm:"index"`
	UserID    *string
	Name      string
	Email     string
	Timezone  string
}

type Payment struct {
	ID                string `gorm:"primaryKey"`
	MentorID          string `gorm:"index"`
	ExternalIntentID  string `gorm:"uniqueIndex"`
	ExternalSessionID string `gorm:"uniqueIndex"`
	Amount            int64
	MentorFee         int64
	PlatformFee       int64
	Currency          string
	PlatformStatus    PaymentStatus `gorm:"index"`
	ProcessorStatus   string        // free text mirroring the processor
	DisputePeriodEnds *time.Time
	TransferID        *string
	TransferStatus    *string
	TransferClaimedAt *time.Time // batch-run claim marker
	CreatedAt         time.Time
	UpdatedAt         time.Time
}

// SplitValid reports whether the structural fee invariant holds.
func (p *Payment) SplitValid() bool {
	return p.MentorFee >= 0 && p.PlatformFee >= 0 && p.MentorFee+p.PlatformFee == p.Amount
}

// EligibleForTransfer is the single predicate the transfer batch selects on.
func (p *Payment) EligibleForTransfer(now time.Time) bool {
	return p.PlatformStatus == PaymentSucceeded &&
		p.TransferID == nil &&
		p.DisputePeriodEnds != nil &&
		!now.Before(*p.DisputePeriodEnds)
}

type AnalyticsEventType string

const (
	EventProfileView      AnalyticsEventType = "PROFILE_VIEW"
	EventBookingCompleted AnalyticsEventType = "BOOKING_COMPLETED"
	EventReviewReceived   AnalyticsEventType = "REVIEW_RECEIVED"
)

// AnalyticsEvent is append-only; Processed flips exactly once, in the same
// transaction that applies the score contribution.
type AnalyticsEvent struct {
	ID        string `gorm:"primaryKey"`
	MentorID  string `gorm:"index"`
	ActorID   *string
	EventType AnalyticsEventType `gorm:"index"`
	Processed bool               `gorm:"index"`
	CreatedAt time.Time          `gorm:"index"`
}

// MentorProfile carries the discovery ranking aggregate. RankingScore is
// mutated only by the ranking updater.
type MentorProfile struct {
	ID           string `gorm:"primaryKey"`
	MentorID     string `gorm:"uniqueIndex"`
	RankingScore float64
	CreatedAt    time.Time
	UpdatedAt    time.Time
}

// MentorPayoutAccount mirrors the processor's connected account. Only the
// account id and the two capability booleans are retained from onboarding.
type MentorPayoutAccount struct {
	ID             string `gorm:"primaryKey"`
	MentorID       string `gorm:"uniqueIndex"`
	AccountID      string `gorm:"uniqueIndex"`
	ChargesEnabled bool
	PayoutsEnabled bool
	CreatedAt      time.Time
	UpdatedAt      time.Time
}

// WebhookAudit stores every inbound webhook body before validation so that
// rejected deliveries remain inspectable.
type WebhookAudit struct {
	ID              string `gorm:"primaryKey"`
	Provider        string `gorm:"index"`
	Payload         string `gorm:"type:text"`
	ValidationError string `gorm:"type:text"`
	ReceivedAt      time.Time `gorm:"index"`
}
