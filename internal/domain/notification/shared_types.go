package notification

// Tier distinguishes the daily morning reading from the conditional evening one.
type Tier string

const (
	TierMorning Tier = "morning"
	TierEvening Tier = "evening"
)

// Channel identifies a delivery transport.
type Channel string

const (
	ChannelEmail Channel = "email"
	ChannelSMS   Channel = "sms"
)

// Outcome is the recorded result of one delivery attempt on one channel.
type Outcome string

const (
	OutcomeSuccess Outcome = "success"
	OutcomeFailed  Outcome = "failed"
	OutcomeSkipped Outcome = "skipped"
)
