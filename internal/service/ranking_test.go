package service

import (
	"context"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/discuno/discuno-sub000/internal/domain"
)

type fakeRankingStore struct {
	mu     sync.Mutex
	events []*domain.AnalyticsEvent
	scores map[string]float64
}

func newFakeRankingStore() *fakeRankingStore {
	return &fakeRankingStore{scores: map[string]float64{}}
}

func (s *fakeRankingStore) Append(_ context.Context, ev *domain.AnalyticsEvent) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	cp := *ev
	s.events = append(s.events, &cp)
	return nil
}

func (s *fakeRankingStore) ProcessUnprocessed(_ context.Context, limit int, weights map[domain.AnalyticsEventType]float64) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var batch []domain.AnalyticsEvent
	var rows []*domain.AnalyticsEvent
	for _, ev := range s.events {
		if ev.Processed || len(batch) >= limit {
			continue
		}
		batch = append(batch, *ev)
		rows = append(rows, ev)
	}
	for mentorID, delta := range domain.SumWeighted(batch, weights) {
		s.scores[mentorID] += delta
	}
	for _, ev := range rows {
		ev.Processed = true
	}
	return len(batch), nil
}

func (s *fakeRankingStore) ApplyDecay(_ context.Context, factor float64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for id := range s.scores {
		s.scores[id] *= factor
	}
	return nil
}

func (s *fakeRankingStore) ScoreByMentor(_ context.Context, mentorID string) (float64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.scores[mentorID], nil
}

func testRanker(store RankingStore) *Ranker {
	return NewRanker(store, map[domain.AnalyticsEventType]float64{
		domain.EventProfileView:      0.3,
		domain.EventBookingCompleted: 10,
		domain.EventReviewReceived:   5,
	}, 0.95, 500, zap.NewNop())
}

func TestProcessBatchAppliesWeights(t *testing.T) {
	store := newFakeRankingStore()
	r := testRanker(store)
	ctx := context.Background()

	for i := 0; i < 10; i++ {
		require.NoError(t, r.Ingest(ctx, "m1", nil, domain.EventProfileView))
	}
	for i := 0; i < 5; i++ {
		require.NoError(t, r.Ingest(ctx, "m1", nil, domain.EventBookingCompleted))
	}

	n, err := r.ProcessBatch(ctx)
	require.NoError(t, err)
	assert.Equal(t, 15, n)

	score, err := r.Score(ctx, "m1")
	require.NoError(t, err)
	assert.InDelta(t, 53.0, score, 1e-9)

	// Everything was marked processed: a rerun contributes nothing.
	n, err = r.ProcessBatch(ctx)
	require.NoError(t, err)
	assert.Zero(t, n)
	score, err = r.Score(ctx, "m1")
	require.NoError(t, err)
	assert.InDelta(t, 53.0, score, 1e-9)
}

func TestIngestRejectsUnknownEventType(t *testing.T) {
	r := testRanker(newFakeRankingStore())
	err := r.Ingest(context.Background(), "m1", nil, domain.AnalyticsEventType("MENTOR_SNEEZED"))
	var mw *domain.MalformedWebhookError
	assert.ErrorAs(t, err, &mw)
}

func TestDecayAndIncrementsCompose(t *testing.T) {
	ctx := context.Background()

	// decay first, then increment
	store := newFakeRankingStore()
	r := testRanker(store)
	store.scores["m1"] = 100
	require.NoError(t, r.ApplyDecay(ctx))
	require.NoError(t, r.Ingest(ctx, "m1", nil, domain.EventBookingCompleted))
	_, err := r.ProcessBatch(ctx)
	require.NoError(t, err)
	score, err := r.Score(ctx, "m1")
	require.NoError(t, err)
	assert.InDelta(t, 100*0.95+10, score, 1e-9)

	// increment first, then decay
	store = newFakeRankingStore()
	r = testRanker(store)
	store.scores["m1"] = 100
	require.NoError(t, r.Ingest(ctx, "m1", nil, domain.EventBookingCompleted))
	_, err = r.ProcessBatch(ctx)
	require.NoError(t, err)
	require.NoError(t, r.ApplyDecay(ctx))
	score, err = r.Score(ctx, "m1")
	require.NoError(t, err)
	assert.InDelta(t, (100+10)*0.95, score, 1e-9)
}

func TestProcessBatchRespectsLimit(t *testing.T) {
	store := newFakeRankingStore()
	r := NewRanker(store, map[domain.AnalyticsEventType]float64{
		domain.EventProfileView: 1,
	}, 0.95, 3, zap.NewNop())
	ctx := context.Background()

	for i := 0; i < 5; i++ {
		require.NoError(t, r.Ingest(ctx, "m1", nil, domain.EventProfileView))
	}

	n, err := r.ProcessBatch(ctx)
	require.NoError(t, err)
	assert.Equal(t, 3, n)
	n, err = r.ProcessBatch(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, n)

	score, err := r.Score(ctx, "m1")
	require.NoError(t, err)
	assert.InDelta(t, 5.0, score, 1e-9)
}
