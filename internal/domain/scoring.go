package domain

// SumWeighted folds a batch of events into per-mentor score deltas.
func SumWeighted(events []AnalyticsEvent, weights map[AnalyticsEventType]float64) map[string]float64 {
	deltas := map[string]float64{}
	for _, ev := range events {
		deltas[ev.MentorID] += weights[ev.EventType]
	}
	return deltas
}
