package telegram

// Client sends plain-text operator messages. Keeping it free of bot-library
// types lets the dispatcher alert without importing the transport.
type Client interface {
	SendMessage(chatID int64, text string) error
}
