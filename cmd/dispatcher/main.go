package main

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"
	_ "time/tzdata" // subscriber timezones must resolve on minimal images

	"horoscope_dispatcher/internal/app"
	"horoscope_dispatcher/internal/app/content"
	"horoscope_dispatcher/internal/domain/notification"
	"horoscope_dispatcher/internal/domain/subscriber"
	"horoscope_dispatcher/internal/infra/ai"
	"horoscope_dispatcher/internal/infra/config"
	idb "horoscope_dispatcher/internal/infra/database"
	"horoscope_dispatcher/internal/infra/email"
	"horoscope_dispatcher/internal/infra/logger"
	"horoscope_dispatcher/internal/infra/memstore"
	"horoscope_dispatcher/internal/infra/metrics"
	"horoscope_dispatcher/internal/infra/ratelimit"
	"horoscope_dispatcher/internal/infra/retry"
	"horoscope_dispatcher/internal/infra/scheduler"
	"horoscope_dispatcher/internal/infra/sms"
	"horoscope_dispatcher/internal/infra/telegram"
	"horoscope_dispatcher/internal/infra/web"

	"github.com/prometheus/client_golang/prometheus"
	promcollectors "github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/sirupsen/logrus"
	"gopkg.in/telebot.v3"
)

type stores struct {
	subs   subscriber.Repository
	logs   notification.LogRepository
	tokens notification.TokenRepository
	rates  notification.RateLimitRepository
	db     *sql.DB
}

func main() {
	fmt.Println("Horoscope Dispatcher starting...")

	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "FATAL: Could not load application configuration: %v\n", err)
		os.Exit(1)
	}
	logger.Init(cfg)
	mainLogger := logger.Component("main")
	mainLogger.WithFields(logrus.Fields{
		"environment": cfg.Environment,
		"store":       cfg.Store,
		"email":       cfg.Email.Provider,
		"sms":         cfg.SMS.Provider,
		"content":     cfg.Content.Strategy,
	}).Info("Configuration loaded")

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	st, err := openStores(ctx, cfg)
	if err != nil {
		mainLogger.WithError(err).Fatal("Could not initialize the subscriber store")
	}
	if st.db != nil {
		defer st.db.Close()
	}

	policy := retry.Policy{Attempts: cfg.RetryAttempts, Initial: cfg.RetryInitialBackoff}

	generator, err := buildGenerator(cfg)
	if err != nil {
		mainLogger.WithError(err).Fatal("Could not initialize content generation")
	}

	collectors := metrics.New()
	registry := prometheus.NewRegistry()
	registry.MustRegister(promcollectors.NewGoCollector(), promcollectors.NewProcessCollector(promcollectors.ProcessCollectorOpts{}))
	if err := collectors.Register(registry); err != nil {
		mainLogger.WithError(err).Fatal("Could not register metrics")
	}

	deps := app.DispatcherDeps{
		Subscribers: st.subs,
		Logs:        st.logs,
		Tokens:      st.tokens,
		RateLimits:  st.rates,
		Content:     generator,
		Clock:       app.SystemClock{},
		Recorder:    collectors,
	}
	if cfg.Email.Enabled() {
		deps.Email = email.NewSender(buildEmailTransport(cfg.Email), policy, logger.Component("email"))
	} else {
		mainLogger.Warn("Email channel disabled: EMAIL_PROVIDER is not set")
	}
	if cfg.SMS.Enabled() {
		deps.SMS = sms.NewSender(buildSMSTransport(cfg.SMS), sms.Options{
			MaxLength:      cfg.SMS.MaxLength,
			PrefixSegments: cfg.SMS.SegmentPrefix,
			Retry:          policy,
		}, logger.Component("sms"))
	} else {
		mainLogger.Warn("SMS channel disabled: SMS_PROVIDER is not set")
	}

	var bot *telebot.Bot
	if cfg.TelegramEnabled() {
		bot, err = telegram.NewBot(cfg.TelegramToken, logger.Component("telegram"))
		if err != nil {
			mainLogger.WithError(err).Fatal("Could not create Telegram bot")
		}
		deps.Alerts = telegram.NewTelebotAdapter(bot)
		deps.AdminChatID = cfg.AdminTelegramID
	}

	dispatcher := app.NewDispatcher(deps, app.DispatchConfig{
		MorningHour:        cfg.MorningHour,
		EveningEnabled:     cfg.EveningEnabled,
		EveningHour:        cfg.EveningHour,
		IdempotencyClock:   cfg.IdempotencyClock,
		BatchSize:          cfg.SendBatchSize,
		TickTimeout:        cfg.TickTimeout,
		TokenTTL:           cfg.TokenTTL,
		BaseURL:            cfg.BaseURL,
		PatternHistory:     cfg.Content.PatternHistory,
		RateLimitRetention: cfg.RateLimitWindow,
	}, logger.Component("dispatcher"))

	subscriptions := app.NewSubscriptionService(st.subs, st.tokens, dispatcher, app.SystemClock{}, app.SubscriptionConfig{
		DefaultTimezone:       cfg.DefaultTimezone,
		AllowEmailUnsubscribe: cfg.AllowEmailUnsubscribe,
	}, logger.Component("subscriptions"))

	if bot != nil {
		adminService := app.NewAdminService(st.subs, st.logs, dispatcher, app.SystemClock{}, cfg.AdminTelegramID)
		telegramLogger := logger.Component("telegram")
		telegram.RegisterBotCommands(bot, cfg.AdminTelegramID, telegramLogger)
		telegram.RegisterAdminHandlers(ctx, bot, adminService, cfg.AdminTelegramID, telegramLogger)
		go bot.Start()
		mainLogger.Info("Telegram operator chat started")
	}

	limiter, closeLimiter, err := buildLimiter(ctx, cfg, st.rates)
	if err != nil {
		mainLogger.WithError(err).Fatal("Could not initialize rate limiting")
	}
	defer closeLimiter()

	var sched *scheduler.DispatchScheduler
	if cfg.CronSpecTick != "" {
		sched = scheduler.NewDispatchScheduler(dispatcher, logger.Component("scheduler"), cfg.CronSpecTick)
		if err := sched.Start(); err != nil {
			mainLogger.WithError(err).Fatal("Could not start scheduler")
		}
	}

	server := web.NewServer(web.Deps{
		Subscriptions: subscriptions,
		Ticks:         dispatcher,
		Limiter:       limiter,
		Observer:      collectors,
		Metrics:       promhttp.HandlerFor(registry, promhttp.HandlerOpts{}),
	}, web.Config{
		Environment: cfg.Environment,
		CronSecret:  cfg.CronSecret,
		CORSOrigins: cfg.CORSOrigins,
	}, logger.Component("http"))

	httpServer := &http.Server{
		Addr:              cfg.HTTPAddr,
		Handler:           server.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}
	go func() {
		mainLogger.WithField("addr", cfg.HTTPAddr).Info("HTTP server listening")
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			mainLogger.WithError(err).Error("HTTP server stopped")
			stop()
		}
	}()

	<-ctx.Done() // Block until a signal is received

	mainLogger.Info("Shutting down application...")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		mainLogger.WithError(err).Warn("HTTP server did not shut down cleanly")
	}
	if sched != nil {
		sched.Stop()
	}
	if bot != nil {
		bot.Stop()
	}
	mainLogger.Info("Application shut down gracefully.")
}

func openStores(ctx context.Context, cfg *config.AppConfig) (*stores, error) {
	if cfg.Store == config.StoreMemory {
		logger.Component("main").Warn("Using the in-memory store; data is lost on restart")
		return &stores{
			subs:   memstore.NewSubscriberRepository(),
			logs:   memstore.NewLogRepository(),
			tokens: memstore.NewTokenRepository(),
			rates:  memstore.NewRateLimitRepository(),
		}, nil
	}

	db, err := idb.NewPostgresConnection(ctx, cfg.DatabaseURL)
	if err != nil {
		return nil, err
	}
	if err := idb.Migrate(ctx, db); err != nil {
		db.Close()
		return nil, err
	}
	return &stores{
		subs:   idb.NewPostgresSubscriberRepository(db),
		logs:   idb.NewPostgresNotificationRepository(db),
		tokens: idb.NewPostgresTokenRepository(db),
		rates:  idb.NewPostgresRateLimitRepository(db),
		db:     db,
	}, nil
}

func buildGenerator(cfg *config.AppConfig) (*content.Generator, error) {
	seed := cfg.Content.RandomSeed
	if seed == 0 {
		seed = time.Now().UnixNano()
	}
	picker := content.NewPicker(seed)
	contentLogger := logger.Component("content")

	var strategy content.Strategy = content.NewTemplateStrategy(picker)
	if cfg.Content.Strategy == content.StrategyGenerative {
		client, err := ai.New(ai.Config{
			Provider: cfg.Content.AIProvider,
			APIKey:   cfg.Content.AIAPIKey,
			Model:    cfg.Content.AIModel,
			Endpoint: cfg.Content.AIBaseURL,
		})
		if err != nil {
			return nil, err
		}
		strategy = content.NewGenerativeStrategy(client, strategy, contentLogger)
	}
	return content.NewGenerator(strategy, picker, content.GeneratorOptions{
		CasualCloseProbability: cfg.Content.CasualCloseProbability,
	}, contentLogger), nil
}

func buildEmailTransport(c config.EmailConfig) email.Transport {
	switch c.Provider {
	case "resend":
		return email.NewResendTransport(c.ResendAPIKey, c.From)
	case "mailgun":
		return email.NewMailgunTransport(c.MailgunAPIKey, c.MailgunDomain, c.MailgunRegion, c.From)
	case "sendgrid":
		return email.NewSendGridTransport(c.SendGridAPIKey, c.From)
	}
	return email.NewSMTPTransport(email.SMTPConfig{
		Host:     c.SMTPHost,
		Port:     c.SMTPPort,
		Username: c.SMTPUser,
		Password: c.SMTPPassword,
		From:     c.From,
		FromName: c.FromName,
	})
}

func buildSMSTransport(c config.SMSConfig) sms.Transport {
	if c.Provider == "voipms" {
		return sms.NewVoipmsTransport(c.VoipmsUsername, c.VoipmsPassword, c.VoipmsDID)
	}
	return sms.NewTwilioTransport(c.TwilioAccountSID, c.TwilioAuthToken, c.TwilioFrom)
}

// buildLimiter prefers Redis and falls back to the subscriber store. A zero
// RATE_LIMIT_MAX leaves the endpoints unlimited.
func buildLimiter(ctx context.Context, cfg *config.AppConfig, rates notification.RateLimitRepository) (ratelimit.Limiter, func(), error) {
	if cfg.RateLimitMax <= 0 {
		return nil, func() {}, nil
	}
	if cfg.RedisURL == "" {
		return ratelimit.NewStoreLimiter(rates, cfg.RateLimitMax, cfg.RateLimitWindow), func() {}, nil
	}
	rdb, err := ratelimit.Connect(ctx, cfg.RedisURL)
	if err != nil {
		return nil, nil, err
	}
	return ratelimit.NewRedisLimiter(rdb, cfg.RateLimitMax, cfg.RateLimitWindow), func() { _ = rdb.Close() }, nil
}
