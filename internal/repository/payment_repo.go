package repository

import (
	"context"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/discuno/discuno-sub000/internal/domain"
)

type PaymentRepo struct{ db *gorm.DB }

func NewPaymentRepo(db *gorm.DB) *PaymentRepo {
	return &PaymentRepo{db: db}
}

func (r *PaymentRepo) Migrate() error {
	return r.db.AutoMigrate(&domain.Payment{})
}

// Create rejects any row whose fee split does not reconstruct the gross
// amount. The invariant is enforced at write time, not post hoc.
func (r *PaymentRepo) Create(ctx context.Context, p *domain.Payment) error {
	if !p.SplitValid() {
		return &domain.InvariantViolationError{Msg: "mentorFee + platformFee != amount"}
	}
	if p.ID == "" {
		p.ID = uuid.NewString()
	}
	return r.db.WithContext(ctx).Create(p).Error
}

func (r *PaymentRepo) ByExternalIntent(ctx context.Context, intentID string) (*domain.Payment, error) {
	var p domain.Payment
	if err := r.db.WithContext(ctx).First(&p, "external_intent_id = ?", intentID).Error; err != nil {
		return nil, err
	}
	return &p, nil
}

// TransitionByIntent applies a processor-driven status change through the
// transition table. disputeEnds is stamped only on the move into
// SUCCEEDED.
func (r *PaymentRepo) TransitionByIntent(ctx context.Context, intentID string, incoming domain.PaymentStatus, processorStatus string, disputeEnds *time.Time) (*domain.Payment, error) {
	var out *domain.Payment
	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var p domain.Payment
		if err := tx.Clauses(clause.Locking{Strength: "UPDATE"}).
			First(&p, "external_intent_id = ?", intentID).Error; err != nil {
			return err
		}
		next, changed, err := domain.NextPaymentStatus(p.PlatformStatus, incoming)
		if err != nil {
			return err
		}
		if changed {
			p.PlatformStatus = next
			if next == domain.PaymentSucceeded && disputeEnds != nil {
				p.DisputePeriodEnds = disputeEnds
			}
		}
		if processorStatus != "" {
			p.ProcessorStatus = processorStatus
		}
		if !p.SplitValid() {
			return &domain.InvariantViolationError{Msg: "fee split corrupted on payment " + p.ID}
		}
		if err := tx.Save(&p).Error; err != nil {
			return err
		}
		out = &p
		return nil
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

// ClaimEligible selects transfer-eligible payments and stamps a claim
// marker in the same transaction, so overlapping batch runs never pick up
// the same row. SKIP LOCKED keeps concurrent runs from blocking on each
// other's claims.
func (r *PaymentRepo) ClaimEligible(ctx context.Context, now time.Time, claimTTL time.Duration, limit int) ([]domain.Payment, error) {
	var claimed []domain.Payment
	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Clauses(clause.Locking{Strength: "UPDATE", Options: "SKIP LOCKED"}).
			Where("platform_status = ?", domain.PaymentSucceeded).
			Where("transfer_id IS NULL").
			Where("dispute_period_ends IS NOT NULL AND dispute_period_ends <= ?", now).
			Where("transfer_claimed_at IS NULL OR transfer_claimed_at < ?", now.Add(-claimTTL)).
			Order("dispute_period_ends ASC").
			Limit(limit).
			Find(&claimed).Error; err != nil {
			return err
		}
		ids := make([]string, 0, len(claimed))
		for i := range claimed {
			ids = append(ids, claimed[i].ID)
			claimed[i].TransferClaimedAt = &now
		}
		if len(ids) == 0 {
			return nil
		}
		return tx.Model(&domain.Payment{}).Where("id IN ?", ids).
			Update("transfer_claimed_at", now).Error
	})
	if err != nil {
		return nil, err
	}
	return claimed, nil
}

// StampTransfer records a completed transfer. The guard clauses make the
// write idempotent: an already-transferred or no-longer-SUCCEEDED row is
// left untouched.
func (r *PaymentRepo) StampTransfer(ctx context.Context, paymentID, transferID string) (bool, error) {
	status := string(domain.PaymentTransferred)
	res := r.db.WithContext(ctx).Model(&domain.Payment{}).
		Where("id = ? AND transfer_id IS NULL AND platform_status = ?", paymentID, domain.PaymentSucceeded).
		Updates(map[string]any{
			"transfer_id":     transferID,
			"transfer_status": "transferred",
			"platform_status": status,
		})
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected > 0, nil
}

// ReleaseClaim clears the claim marker after a failed transfer attempt so
// the next batch run retries the payment.
func (r *PaymentRepo) ReleaseClaim(ctx context.Context, paymentID string) error {
	return r.db.WithContext(ctx).Model(&domain.Payment{}).
		Where("id = ?", paymentID).
		Update("transfer_claimed_at", nil).Error
}

type Earnings struct {
	TotalMinor       int64
	PendingMinor     int64
	TransferredCount int64
}

// EarningsByMentor aggregates settled mentor fees. "Pending payout" rows
// are SUCCEEDED and untransferred; the transferred count includes rows
// whose status has moved on to TRANSFERRED.
func (r *PaymentRepo) EarningsByMentor(ctx context.Context, mentorID string) (*Earnings, error) {
	var e Earnings
	settled := []domain.PaymentStatus{domain.PaymentSucceeded, domain.PaymentTransferred}
	err := r.db.WithContext(ctx).Model(&domain.Payment{}).
		Where("mentor_id = ? AND platform_status IN ?", mentorID, settled).
		Select("COALESCE(SUM(mentor_fee), 0)").Scan(&e.TotalMinor).Error
	if err != nil {
		return nil, err
	}
	err = r.db.WithContext(ctx).Model(&domain.Payment{}).
		Where("mentor_id = ? AND platform_status = ? AND transfer_id IS NULL", mentorID, domain.PaymentSucceeded).
		Select("COALESCE(SUM(mentor_fee), 0)").Scan(&e.PendingMinor).Error
	if err != nil {
		return nil, err
	}
	err = r.db.WithContext(ctx).Model(&domain.Payment{}).
		Where("mentor_id = ? AND transfer_id IS NOT NULL", mentorID).
		Count(&e.TransferredCount).Error
	if err != nil {
		return nil, err
	}
	return &e, nil
}
