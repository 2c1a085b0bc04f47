package domain

// ApplyBookingUpdate merges provider-derived state into an existing
// booking row. Status is resolved through the transition table; mutable
// fields follow the provider; no-show flags are sticky (a redelivery never
// un-marks a no-show). Attendee and organizer rows are left alone here;
// cancellation must not delete them.
func ApplyBookingUpdate(existing, incoming *Booking) (bool, error) {
	next, changed, err := NextBookingStatus(existing.Status, incoming.Status)
	if err != nil {
		return false, err
	}
	existing.Status = next
	if changed && next == BookingCancelled && incoming.CancellationReason != "" {
		existing.CancellationReason = incoming.CancellationReason
	}

	if incoming.Title != "" {
		existing.Title = incoming.Title
	}
	if incoming.Description != "" {
		existing.Description = incoming.Description
	}
	if !incoming.StartTime.IsZero() {
		existing.StartTime = incoming.StartTime
	}
	if !incoming.EndTime.IsZero() {
		existing.EndTime = incoming.EndTime
	}
	if incoming.MeetingURL != "" {
		existing.MeetingURL = incoming.MeetingURL
	}
	if incoming.RawPayload != "" {
		existing.RawPayload = incoming.RawPayload
	}
	if incoming.HostNoShow {
		existing.HostNoShow = true
	}
	if incoming.AttendeeNoShow {
		existing.AttendeeNoShow = true
	}
	if incoming.EventTypeID != nil {
		existing.EventTypeID = incoming.EventTypeID
	}
	if incoming.PaymentID != nil {
		existing.PaymentID = incoming.PaymentID
	}
	return true, nil
}
