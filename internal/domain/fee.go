package domain

// FeePolicy is the single place a gross amount is split between mentor and
// platform. Callers never compute their own split.
type FeePolicy struct {
	PlatformBps int64 // platform share in basis points
	PlatformMin int64 // minimum flat platform fee, minor units
}

// Split returns (mentorFee, platformFee) with mentorFee+platformFee ==
// amount. The platform fee is the larger of the percentage cut and the
// flat minimum, capped at the gross amount.
func (f FeePolicy) Split(amount int64, currency string) (int64, int64, error) {
	if amount <= 0 {
		return 0, 0, &InvariantViolationError{Msg: "non-positive charge amount"}
	}
	if currency == "" {
		return 0, 0, &InvariantViolationError{Msg: "missing currency"}
	}
	platform := amount * f.PlatformBps / 10000
	if platform < f.PlatformMin {
		platform = f.PlatformMin
	}
	if platform > amount {
		platform = amount
	}
	return amount - platform, platform, nil
}
