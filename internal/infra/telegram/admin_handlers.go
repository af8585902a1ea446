package telegram

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"

	"horoscope_dispatcher/internal/app"
	"horoscope_dispatcher/internal/domain/apperr"
	"horoscope_dispatcher/internal/domain/notification"

	"github.com/sirupsen/logrus"
	"gopkg.in/telebot.v3"
)

const unauthorizedReply = "Error: you are not allowed to run this command."

// RegisterAdminHandlers registers handlers for admin commands.
// It requires the bot instance, admin service, and the configured admin Telegram ID.
func RegisterAdminHandlers(ctx context.Context, b *telebot.Bot, adminService *app.AdminService, adminTelegramID int64, baseLogger *logrus.Entry) {
	b.Handle("/stats", func(c telebot.Context) error {
		handlerLogger := baseLogger.WithFields(logrus.Fields{
			"handler":   "/stats",
			"sender_id": c.Sender().ID,
		})
		handlerLogger.Info("Command received")

		if c.Sender().ID != adminTelegramID {
			handlerLogger.Warn("Unauthorized access attempt")
			return c.Send(unauthorizedReply)
		}

		stats, err := adminService.Stats(ctx, c.Sender().ID)
		if err != nil {
			handlerLogger.WithError(err).Error("Failed to load stats")
			return c.Send(fmt.Sprintf("Failed to load stats: %s", err.Error()))
		}
		return c.Send(formatStats(stats))
	})

	b.Handle("/deactivate", func(c telebot.Context) error {
		handlerLogger := baseLogger.WithFields(logrus.Fields{
			"handler":   "/deactivate",
			"sender_id": c.Sender().ID,
		})
		handlerLogger.Info("Command received")

		if c.Sender().ID != adminTelegramID {
			handlerLogger.Warn("Unauthorized access attempt")
			return c.Send(unauthorizedReply)
		}

		args := c.Args()
		// Expected format: /deactivate <email>
		if len(args) != 1 {
			return c.Send("Invalid format. Use: /deactivate <email>")
		}
		email := args[0]
		handlerLogger = handlerLogger.WithField("email", email)

		target, err := adminService.Deactivate(ctx, c.Sender().ID, email)
		if err != nil {
			logWithError := handlerLogger.WithError(err)
			switch {
			case errors.Is(err, app.ErrAdminNotAuthorized):
				logWithError.Warn("Admin not authorized (service level)")
				return c.Send(unauthorizedReply)
			case apperr.IsNotFound(err):
				logWithError.Warn("Subscriber to deactivate not found")
				return c.Send(fmt.Sprintf("No subscriber with email %s.", email))
			case errors.Is(err, app.ErrSubscriberAlreadyInactive):
				return c.Send(fmt.Sprintf("Subscriber %s (ID: %d) was already inactive.", target.Email, target.ID))
			default:
				logWithError.Error("Failed to deactivate subscriber")
				return c.Send(fmt.Sprintf("Failed to deactivate subscriber: %s", err.Error()))
			}
		}

		handlerLogger.WithField("subscriber_id", target.ID).Info("Subscriber deactivated")
		return c.Send(fmt.Sprintf("Subscriber %s (ID: %d) deactivated.", target.Email, target.ID))
	})

	b.Handle("/send", func(c telebot.Context) error {
		handlerLogger := baseLogger.WithFields(logrus.Fields{
			"handler":   "/send",
			"sender_id": c.Sender().ID,
		})
		handlerLogger.Info("Command received")

		if c.Sender().ID != adminTelegramID {
			handlerLogger.Warn("Unauthorized access attempt")
			return c.Send(unauthorizedReply)
		}

		args := c.Args()
		if len(args) != 1 {
			return c.Send("Invalid format. Use: /send <email>")
		}
		email := args[0]

		res, err := adminService.SendNow(ctx, c.Sender().ID, email)
		if err != nil {
			handlerLogger.WithError(err).Warn("Send now did not complete")
			if already, ok := apperr.AsAlreadySent(err); ok {
				return c.Send(fmt.Sprintf("Already sent today at %s.", already.LastSentAt.UTC().Format("15:04 MST")))
			}
			if apperr.IsNotFound(err) {
				return c.Send(fmt.Sprintf("No active subscriber with email %s.", email))
			}
			return c.Send(fmt.Sprintf("Send failed: %s", err.Error()))
		}
		return c.Send(formatSendResult(email, res))
	})
}

func formatStats(stats *app.AdminStats) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Subscribers: %d active, %d inactive\n", stats.Subscribers.Active, stats.Subscribers.Inactive)
	b.WriteString("Deliveries in the last 24h:")
	if len(stats.Outcomes) == 0 {
		b.WriteString(" none")
		return b.String()
	}
	outcomes := make([]string, 0, len(stats.Outcomes))
	for o := range stats.Outcomes {
		outcomes = append(outcomes, string(o))
	}
	sort.Strings(outcomes)
	for _, o := range outcomes {
		fmt.Fprintf(&b, "\n - %s: %d", o, stats.Outcomes[notification.Outcome(o)])
	}
	return b.String()
}

func formatSendResult(email string, res app.SendResult) string {
	var b strings.Builder
	status := "delivered"
	if !res.Success() {
		status = "not delivered"
	}
	fmt.Fprintf(&b, "Reading for %s %s.", email, status)
	for _, ch := range res.Channels {
		fmt.Fprintf(&b, "\n - %s: %s", ch.Channel, ch.Outcome)
		if ch.Error != "" {
			fmt.Fprintf(&b, " (%s)", ch.Error)
		}
	}
	return b.String()
}
