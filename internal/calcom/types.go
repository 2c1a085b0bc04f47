package calcom

import "time"

// envelope is the provider's response wrapper. Unknown extra fields inside
// data are tolerated everywhere.
type envelope struct {
	Status string `json:"status"`
	Error  struct {
		Code    string `json:"code"`
		Message string `json:"message"`
	} `json:"error"`
}

type TokenPair struct {
	AccessToken           string
	RefreshToken          string
	AccessTokenExpiresAt  time.Time
	RefreshTokenExpiresAt time.Time
}

// tokenData carries millisecond-epoch expiries on the wire.
type tokenData struct {
	AccessToken           string `json:"accessToken"`
	RefreshToken          string `json:"refreshToken"`
	AccessTokenExpiresAt  int64  `json:"accessTokenExpiresAt"`
	RefreshTokenExpiresAt int64  `json:"refreshTokenExpiresAt"`
}

func (d tokenData) pair() *TokenPair {
	return &TokenPair{
		AccessToken:           d.AccessToken,
		RefreshToken:          d.RefreshToken,
		AccessTokenExpiresAt:  time.UnixMilli(d.AccessTokenExpiresAt).UTC(),
		RefreshTokenExpiresAt: time.UnixMilli(d.RefreshTokenExpiresAt).UTC(),
	}
}

type Attendee struct {
	Name     string `json:"name"`
	Email    string `json:"email"`
	TimeZone string `json:"timeZone"`
}

type Organizer struct {
	Name     string `json:"name"`
	Email    string `json:"email"`
	TimeZone string `json:"timeZone"`
}

type Booking struct {
	ID          int64      `json:"id"`
	UID         string     `json:"uid"`
	Title       string     `json:"title"`
	Description string     `json:"description"`
	Status      string     `json:"status"`
	Start       time.Time  `json:"start"`
	End         time.Time  `json:"end"`
	MeetingURL  string     `json:"meetingUrl"`
	EventTypeID int64      `json:"eventTypeId"`
	Attendees   []Attendee `json:"attendees"`
	Organizer   *Organizer `json:"organizer"`
}

// Interval is a provider clock interval; start/end are full ISO timestamps
// on the wire.
type Interval struct {
	Start string `json:"startTime"`
	End   string `json:"endTime"`
}

type DateOverride struct {
	Date      string     `json:"date"` // YYYY-MM-DD
	Intervals []Interval `json:"intervals"`
}

// Schedule is the provider's day-indexed representation: one interval
// array per weekday, Sunday first.
type Schedule struct {
	ID           int64          `json:"id"`
	Name         string         `json:"name"`
	TimeZone     string         `json:"timeZone"`
	Availability [7][]Interval  `json:"availability"`
	Overrides    []DateOverride `json:"overrides"`
}

type ScheduleInput struct {
	Availability [7][]Interval  `json:"availability"`
	Overrides    []DateOverride `json:"overrides"`
}
