package repository

import (
	"context"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/discuno/discuno-sub000/internal/domain"
)

type RankingRepo struct{ db *gorm.DB }

func NewRankingRepo(db *gorm.DB) *RankingRepo {
	return &RankingRepo{db: db}
}

func (r *RankingRepo) Migrate() error {
	return r.db.AutoMigrate(&domain.AnalyticsEvent{}, &domain.MentorProfile{})
}

func (r *RankingRepo) Append(ctx context.Context, ev *domain.AnalyticsEvent) error {
	if ev.ID == "" {
		ev.ID = uuid.NewString()
	}
	if ev.CreatedAt.IsZero() {
		ev.CreatedAt = time.Now().UTC()
	}
	return r.db.WithContext(ctx).Create(ev).Error
}

// ProcessUnprocessed consumes up to limit unprocessed events in one
// transaction: weighted contributions are summed per mentor, applied to
// ranking_score, and the events flipped to processed. A mentor seen for
// the first time gets a profile row created in the same transaction, so an
// event is never marked processed without its contribution landing, and
// vice versa.
func (r *RankingRepo) ProcessUnprocessed(ctx context.Context, limit int, weights map[domain.AnalyticsEventType]float64) (int, error) {
	processed := 0
	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var events []domain.AnalyticsEvent
		if err := tx.Clauses(clause.Locking{Strength: "UPDATE", Options: "SKIP LOCKED"}).
			Where("processed = ?", false).
			Order("created_at ASC").
			Limit(limit).
			Find(&events).Error; err != nil {
			return err
		}
		if len(events) == 0 {
			return nil
		}

		deltas := domain.SumWeighted(events, weights)
		ids := make([]string, 0, len(events))
		for _, ev := range events {
			ids = append(ids, ev.ID)
		}
		for mentorID, delta := range deltas {
			if delta == 0 {
				continue
			}
			profile := domain.MentorProfile{
				ID:           uuid.NewString(),
				MentorID:     mentorID,
				RankingScore: delta,
			}
			if err := tx.Clauses(clause.OnConflict{
				Columns:   []clause.Column{{Name: "mentor_id"}},
				DoUpdates: clause.Assignments(map[string]any{"ranking_score": gorm.Expr("ranking_score + ?", delta)}),
			}).Create(&profile).Error; err != nil {
				return err
			}
		}
		if err := tx.Model(&domain.AnalyticsEvent{}).
			Where("id IN ?", ids).
			Update("processed", true).Error; err != nil {
			return err
		}
		processed = len(events)
		return nil
	})
	return processed, err
}

// ApplyDecay multiplies every score by the factor. Safe to run concurrently
// with ProcessUnprocessed: decay multiplies current values, increments add.
func (r *RankingRepo) ApplyDecay(ctx context.Context, factor float64) error {
	return r.db.WithContext(ctx).Model(&domain.MentorProfile{}).
		Where("ranking_score <> 0").
		Update("ranking_score", gorm.Expr("ranking_score * ?", factor)).Error
}

func (r *RankingRepo) ScoreByMentor(ctx context.Context, mentorID string) (float64, error) {
	var p domain.MentorProfile
	if err := r.db.WithContext(ctx).First(&p, "mentor_id = ?", mentorID).Error; err != nil {
		return 0, err
	}
	return p.RankingScore, nil
}
