package subscriber

import (
	"database/sql"
	"time"

	"horoscope_dispatcher/internal/domain/zodiac"
)

// Channel is the subscriber's delivery preference.
type Channel string

const (
	ChannelEmail Channel = "email"
	ChannelSMS   Channel = "sms"
	ChannelBoth  Channel = "both"
)

// ParseChannel returns false for anything other than email, sms or both.
func ParseChannel(raw string) (Channel, bool) {
	switch c := Channel(raw); c {
	case ChannelEmail, ChannelSMS, ChannelBoth:
		return c, true
	default:
		return "", false
	}
}

func (c Channel) IncludesEmail() bool { return c == ChannelEmail || c == ChannelBoth }
func (c Channel) IncludesSMS() bool   { return c == ChannelSMS || c == ChannelBoth }

// Subscriber is a person receiving daily readings.
type Subscriber struct {
	ID        int64
	Email     string
	Phone     sql.NullString // E.164, required when Channel includes SMS
	FirstName sql.NullString
	Birthdate time.Time
	Sign      zodiac.Sign // cached, recomputed only when Birthdate changes
	Timezone  string      // IANA identifier
	Channel   Channel

	// A named partner turns the morning reading into a couples reading.
	PartnerName      sql.NullString
	PartnerBirthdate sql.NullTime
	PartnerSign      zodiac.Sign

	ConsentGiven bool
	ConsentAt    sql.NullTime
	IsActive     bool

	MorningSentAt sql.NullTime
	EveningSentAt sql.NullTime
	// MorningFriction is set when today's morning reading touched on a
	// difficulty; it gates the evening tier.
	MorningFriction  bool
	CasualCloseAt    sql.NullTime
	RecentPatternIDs []string // oldest first

	CreatedAt time.Time
	UpdatedAt time.Time
}

// DisplayName falls back to "Friend" when no first name was given.
func (s *Subscriber) DisplayName() string {
	if s.FirstName.Valid && s.FirstName.String != "" {
		return s.FirstName.String
	}
	return "Friend"
}

// HasPartner reports whether readings are written for a couple.
func (s *Subscriber) HasPartner() bool {
	return s.PartnerName.Valid && s.PartnerName.String != "" && s.PartnerSign != ""
}

// Location resolves the stored timezone, falling back to UTC for rows written
// before validation existed.
func (s *Subscriber) Location() *time.Location {
	loc, err := time.LoadLocation(s.Timezone)
	if err != nil || s.Timezone == "" {
		return time.UTC
	}
	return loc
}
