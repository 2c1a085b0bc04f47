package service

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"time"

	"go.uber.org/zap"
	"gorm.io/gorm"

	"github.com/discuno/discuno-sub000/internal/domain"
	"github.com/discuno/discuno-sub000/internal/processor"
	"github.com/discuno/discuno-sub000/internal/repository"
)

type PaymentStore interface {
	Create(ctx context.Context, p *domain.Payment) error
	ByExternalIntent(ctx context.Context, intentID string) (*domain.Payment, error)
	TransitionByIntent(ctx context.Context, intentID string, incoming domain.PaymentStatus, processorStatus string, disputeEnds *time.Time) (*domain.Payment, error)
	ClaimEligible(ctx context.Context, now time.Time, claimTTL time.Duration, limit int) ([]domain.Payment, error)
	StampTransfer(ctx context.Context, paymentID, transferID string) (bool, error)
	ReleaseClaim(ctx context.Context, paymentID string) error
	EarningsByMentor(ctx context.Context, mentorID string) (*repository.Earnings, error)
}

type PayoutAccountStore interface {
	ByMentor(ctx context.Context, mentorID string) (*domain.MentorPayoutAccount, error)
	Upsert(ctx context.Context, a *domain.MentorPayoutAccount) error
}

type ProcessorAPI interface {
	CreateAccount(ctx context.Context, email, country string) (*processor.Account, error)
	GetAccount(ctx context.Context, accountID string) (*processor.Account, error)
	CreateAccountSession(ctx context.Context, accountID string) (*processor.AccountSession, error)
	CreateCheckoutSession(ctx context.Context, in processor.CheckoutInput) (*processor.CheckoutSession, error)
	CreateTransfer(ctx context.Context, in processor.TransferInput) (*processor.Transfer, error)
}

// Settlement owns the money path: fee split at charge time, the dispute
// hold, and the idempotent transfer batch.
type Settlement struct {
	payments      PaymentStore
	accounts      PayoutAccountStore
	processor     ProcessorAPI
	fees          domain.FeePolicy
	disputeWindow time.Duration
	claimTTL      time.Duration
	batchLimit    int
	now           func() time.Time
	pub           EventPublisher
	log           *zap.Logger
}

func NewSettlement(payments PaymentStore, accounts PayoutAccountStore, proc ProcessorAPI, fees domain.FeePolicy, disputeWindow time.Duration, pub EventPublisher, log *zap.Logger) *Settlement {
	return &Settlement{
		payments:      payments,
		accounts:      accounts,
		processor:     proc,
		fees:          fees,
		disputeWindow: disputeWindow,
		claimTTL:      10 * time.Minute,
		batchLimit:    100,
		now:           time.Now,
		pub:           pub,
		log:           log,
	}
}

type CheckoutRequest struct {
	MentorID    string
	ProductName string
	AmountMinor int64
	Currency    string
	SuccessURL  string
	CancelURL   string
	BookingUID  string
}

// CreateCheckout computes the fee split once, opens a checkout session at
// the processor and records the PENDING payment. The split is immutable
// from here on.
func (s *Settlement) CreateCheckout(ctx context.Context, req CheckoutRequest) (*domain.Payment, string, error) {
	mentorFee, platformFee, err := s.fees.Split(req.AmountMinor, req.Currency)
	if err != nil {
		return nil, "", err
	}

	sess, err := s.processor.CreateCheckoutSession(ctx, processor.CheckoutInput{
		AmountMinor:    req.AmountMinor,
		Currency:       req.Currency,
		ProductName:    req.ProductName,
		SuccessURL:     req.SuccessURL,
		CancelURL:      req.CancelURL,
		IdempotencyKey: req.BookingUID,
		Metadata: map[string]string{
			"mentor_id":   req.MentorID,
			"booking_uid": req.BookingUID,
		},
	})
	if err != nil {
		return nil, "", err
	}

	p := &domain.Payment{
		MentorID:          req.MentorID,
		ExternalIntentID:  sess.PaymentIntent,
		ExternalSessionID: sess.ID,
		Amount:            req.AmountMinor,
		MentorFee:         mentorFee,
		PlatformFee:       platformFee,
		Currency:          req.Currency,
		PlatformStatus:    domain.PaymentPending,
	}
	if err := s.payments.Create(ctx, p); err != nil {
		return nil, "", err
	}
	return p, sess.URL, nil
}

// processorEvent is the processor webhook envelope; extra fields ignored.
type processorEvent struct {
	Type string `json:"type"`
	Data struct {
		Object struct {
			ID            string `json:"id"`
			Status        string `json:"status"`
			PaymentIntent string `json:"payment_intent"`
		} `json:"object"`
	} `json:"data"`
}

// HandleProcessorWebhook maps processor events onto the settlement state
// machine. The dispute clock starts from the payment's creation time, not
// from event arrival.
func (s *Settlement) HandleProcessorWebhook(ctx context.Context, raw []byte) (*domain.Payment, error) {
	var ev processorEvent
	if err := json.Unmarshal(raw, &ev); err != nil {
		return nil, &domain.MalformedWebhookError{Reason: "invalid processor event: " + err.Error()}
	}

	intentID := ev.Data.Object.ID
	if ev.Data.Object.PaymentIntent != "" {
		intentID = ev.Data.Object.PaymentIntent
	}
	if intentID == "" {
		return nil, &domain.MalformedWebhookError{Reason: "processor event without intent id"}
	}

	var incoming domain.PaymentStatus
	switch ev.Type {
	case "payment_intent.processing":
		incoming = domain.PaymentProcessing
	case "payment_intent.succeeded", "checkout.session.completed":
		incoming = domain.PaymentSucceeded
	case "payment_intent.payment_failed":
		incoming = domain.PaymentFailed
	case "charge.refunded":
		incoming = domain.PaymentRefunded
	case "charge.dispute.created":
		incoming = domain.PaymentDisputed
	default:
		// Unknown event types are acknowledged and skipped.
		return nil, nil
	}

	var disputeEnds *time.Time
	if incoming == domain.PaymentSucceeded {
		existing, err := s.payments.ByExternalIntent(ctx, intentID)
		if err != nil {
			return nil, err
		}
		t := existing.CreatedAt.Add(s.disputeWindow)
		disputeEnds = &t
	}

	p, err := s.payments.TransitionByIntent(ctx, intentID, incoming, ev.Data.Object.Status, disputeEnds)
	if err != nil {
		var iv *domain.InvariantViolationError
		if errors.As(err, &iv) {
			s.log.Error("payment transition rejected", zap.String("intent", intentID), zap.Error(err))
		}
		return nil, err
	}

	_ = s.pub.PublishJSON(ctx, "payment."+strings.ToLower(string(p.PlatformStatus)), map[string]any{
		"payment_id": p.ID,
		"mentor_id":  p.MentorID,
		"amount":     p.Amount,
		"currency":   p.Currency,
	})
	return p, nil
}

// RunTransferBatch claims every transfer-eligible payment and moves the
// mentor fee to the mentor's connected account. Failures release the claim
// and are retried by the next run; the processor-side idempotency key is
// the payment id, so a retry after a lost response cannot double-pay.
func (s *Settlement) RunTransferBatch(ctx context.Context) (int, error) {
	now := s.now().UTC()
	claimed, err := s.payments.ClaimEligible(ctx, now, s.claimTTL, s.batchLimit)
	if err != nil {
		return 0, err
	}

	transferred := 0
	for _, p := range claimed {
		account, err := s.accounts.ByMentor(ctx, p.MentorID)
		if err != nil {
			s.log.Warn("skipping transfer, mentor has no payout account",
				zap.String("payment_id", p.ID), zap.String("mentor_id", p.MentorID), zap.Error(err))
			_ = s.payments.ReleaseClaim(ctx, p.ID)
			continue
		}
		if !account.PayoutsEnabled {
			s.log.Warn("skipping transfer, payouts not enabled",
				zap.String("payment_id", p.ID), zap.String("mentor_id", p.MentorID))
			_ = s.payments.ReleaseClaim(ctx, p.ID)
			continue
		}

		tr, err := s.processor.CreateTransfer(ctx, processor.TransferInput{
			AmountMinor:    p.MentorFee,
			Currency:       p.Currency,
			Destination:    account.AccountID,
			IdempotencyKey: p.ID,
			Metadata:       map[string]string{"payment_id": p.ID},
		})
		if err != nil {
			s.log.Warn("transfer failed, releasing claim",
				zap.String("payment_id", p.ID), zap.Error(err))
			_ = s.payments.ReleaseClaim(ctx, p.ID)
			continue
		}

		ok, err := s.payments.StampTransfer(ctx, p.ID, tr.ID)
		if err != nil {
			s.log.Error("stamp transfer", zap.String("payment_id", p.ID), zap.Error(err))
			continue
		}
		if ok {
			transferred++
			_ = s.pub.PublishJSON(ctx, "payment.transferred", map[string]any{
				"payment_id":  p.ID,
				"mentor_id":   p.MentorID,
				"transfer_id": tr.ID,
				"amount":      p.MentorFee,
			})
		}
	}
	return transferred, nil
}

func (s *Settlement) Earnings(ctx context.Context, mentorID string) (*repository.Earnings, error) {
	return s.payments.EarningsByMentor(ctx, mentorID)
}

// OnboardPayoutAccount provisions the connected account once per mentor.
func (s *Settlement) OnboardPayoutAccount(ctx context.Context, mentorID, email, country string) (*domain.MentorPayoutAccount, error) {
	existing, err := s.accounts.ByMentor(ctx, mentorID)
	if err == nil {
		return existing, nil
	}
	if !errors.Is(err, repository.ErrNoPayoutAccount) && !errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, err
	}

	acc, err := s.processor.CreateAccount(ctx, email, country)
	if err != nil {
		return nil, err
	}
	row := &domain.MentorPayoutAccount{
		MentorID:       mentorID,
		AccountID:      acc.ID,
		ChargesEnabled: acc.ChargesEnabled,
		PayoutsEnabled: acc.PayoutsEnabled,
	}
	if err := s.accounts.Upsert(ctx, row); err != nil {
		return nil, err
	}
	return row, nil
}

// AccountSession opens an embedded onboarding session for the mentor's
// connected account.
func (s *Settlement) AccountSession(ctx context.Context, mentorID string) (string, error) {
	account, err := s.accounts.ByMentor(ctx, mentorID)
	if err != nil {
		return "", err
	}
	sess, err := s.processor.CreateAccountSession(ctx, account.AccountID)
	if err != nil {
		return "", err
	}
	return sess.ClientSecret, nil
}

// RefreshAccountStatus re-reads the capability booleans from the
// processor.
func (s *Settlement) RefreshAccountStatus(ctx context.Context, mentorID string) (*domain.MentorPayoutAccount, error) {
	account, err := s.accounts.ByMentor(ctx, mentorID)
	if err != nil {
		return nil, err
	}
	acc, err := s.processor.GetAccount(ctx, account.AccountID)
	if err != nil {
		return nil, err
	}
	account.ChargesEnabled = acc.ChargesEnabled
	account.PayoutsEnabled = acc.PayoutsEnabled
	if err := s.accounts.Upsert(ctx, account); err != nil {
		return nil, err
	}
	return account, nil
}
