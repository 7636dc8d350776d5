package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"
	"google.golang.org/api/option"

	"github.com/napryag/doctor_booking_bot/pkg/domain/bot/dispatcher"
	"github.com/napryag/doctor_booking_bot/pkg/domain/bot/receiver"
	"github.com/napryag/doctor_booking_bot/pkg/domain/bot/receiver/config"
	"github.com/napryag/doctor_booking_bot/pkg/domain/bot/sender"
	"github.com/napryag/doctor_booking_bot/pkg/domain/bot/session"
	"github.com/napryag/doctor_booking_bot/pkg/domain/classifier"
	"github.com/napryag/doctor_booking_bot/pkg/integrations/google"
	"github.com/napryag/doctor_booking_bot/pkg/observability/metrics"
	"github.com/napryag/doctor_booking_bot/pkg/repository/redisstore"
	"github.com/napryag/doctor_booking_bot/pkg/repository/store"
	"github.com/napryag/doctor_booking_bot/pkg/transport/webhook"
	"github.com/napryag/doctor_booking_bot/pkg/utils/errs"
	"github.com/napryag/doctor_booking_bot/pkg/utils/wallclock"
)

const (
	sweepInterval   = time.Hour
	shutdownTimeout = 30 * time.Second
)

func main() {
	// 1) Загружаем конфиг
	cfg, err := config.LoadConfig(config.DefaultPath)
	if err != nil {
		fallback := zerolog.New(os.Stderr).With().Timestamp().Logger()
		fallback.Err(errs.New("failed to load config").Wrap(err)).Msg("config init")
		os.Exit(1)
	}

	// 2) Логгер
	logger := newLogger(cfg.Log)

	// 3) Контекст, завершающийся по SIGINT/SIGTERM
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err = run(ctx, cfg, logger); err != nil {
		logger.Error().Err(err).Msg("bot stopped with error")
		os.Exit(1)
	}
	logger.Info().Msg("bot stopped")
}

func newLogger(c config.LogConfig) zerolog.Logger {
	level, err := zerolog.ParseLevel(c.Level)
	if err != nil || c.Level == "" {
		level = zerolog.InfoLevel
	}
	var logger zerolog.Logger
	if c.Pretty {
		logger = zerolog.New(zerolog.ConsoleWriter{Out: os.Stdout})
	} else {
		logger = zerolog.New(os.Stdout)
	}
	return logger.Level(level).With().Timestamp().Logger()
}

func run(ctx context.Context, cfg *config.Config, logger zerolog.Logger) error {
	loc := wallclock.LoadLocation(cfg.Timezone)
	m := metrics.NewBookingMetrics(prometheus.DefaultRegisterer)

	// 4) Postgres: миграции и репозиторий
	if err := store.Migrate(cfg.PostgreAddr); err != nil {
		return err
	}
	repo, err := store.NewRepo(ctx, cfg.PostgreAddr)
	if err != nil {
		return err
	}
	defer repo.Close()

	// 5) Telegram
	bot, err := tgbotapi.NewBotAPI(cfg.BotToken)
	if err != nil {
		return errs.New("failed to create bot api").Wrap(err)
	}
	bot.Debug = false
	logger.Info().Str("bot", bot.Self.UserName).Msg("authorized")
	out := sender.New(sender.DefaultConfig(), logger, bot)

	// 6) Сессии и фоновая чистка просроченных
	sessions := session.NewStore(repo, repo, cfg.Booking.SessionTTL, logger)
	go sessions.RunSweeper(ctx, sweepInterval)

	// 7) Диспетчер уведомлений (Google Calendar/Sheets по желанию)
	dispatchOpts := []dispatcher.Option{
		dispatcher.WithTimeout(cfg.Booking.ExternalTimeout),
		dispatcher.WithMetrics(m),
	}
	googleOpts, err := googleOptions(cfg.Google)
	if err != nil {
		return err
	}
	if cfg.Google.CalendarID != "" {
		cal, err := google.NewCalendar(ctx, cfg.Google.CalendarID, cfg.Timezone, googleOpts...)
		if err != nil {
			return err
		}
		dispatchOpts = append(dispatchOpts, dispatcher.WithCalendar(cal))
	}
	if cfg.Google.SheetID != "" {
		sheet, err := google.NewSheet(ctx, cfg.Google.SheetID, cfg.Google.SheetRange, googleOpts...)
		if err != nil {
			return err
		}
		dispatchOpts = append(dispatchOpts, dispatcher.WithSheet(sheet))
	}
	disp := dispatcher.New(repo, out, logger, dispatchOpts...)

	// 8) Движок записи
	engineOpts := []receiver.Option{receiver.WithMetrics(m)}
	if cls, closeFn, err := newClassifier(ctx, cfg, logger, m); err != nil {
		return err
	} else if cls != nil {
		defer closeFn()
		engineOpts = append(engineOpts, receiver.WithClassifier(cls))
	}
	engine := receiver.New(receiver.Config{
		DoctorID:           cfg.DoctorID,
		MaxActive:          cfg.Booking.MaxActive,
		HorizonDays:        cfg.Booking.HorizonDays,
		MaxDates:           cfg.Booking.MaxDates,
		DefaultDurationMin: cfg.Booking.DefaultDurationMin,
		Location:           loc,
	}, repo, sessions, out, disp, logger, engineOpts...)

	// 9) Пул воркеров; через Redis апдейты одного пользователя идут по очереди
	poolOpts := []receiver.PoolOption{receiver.WithWorkerCount(cfg.WorkerCount)}
	serverOpts := []webhook.Option{
		webhook.WithMetrics(promhttp.Handler()),
		webhook.WithHealthCheck("postgres", repo),
	}
	if cfg.RedisAddr != "" {
		client, err := redisstore.Connect(ctx, cfg.RedisAddr, cfg.RedisPassword)
		if err != nil {
			return err
		}
		defer client.Close()
		rs := redisstore.New(client)
		poolOpts = append(poolOpts, receiver.WithDeduper(rs), receiver.WithLocker(rs))
		serverOpts = append(serverOpts, webhook.WithHealthCheck("redis", rs))
	}
	pool := receiver.NewPool(engine, logger, poolOpts...)
	pool.Start(ctx)
	defer pool.Stop()

	// 10) HTTP: вебхук, админка, healthz, метрики
	srv := &http.Server{
		Addr: fmt.Sprintf(":%d", cfg.HTTPPort),
		Handler: webhook.NewHandler(webhook.Config{
			WebhookSecret: cfg.WebhookSecret,
			AdminToken:    cfg.AdminToken,
		}, pool, disp, logger, serverOpts...),
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       15 * time.Second,
		WriteTimeout:      15 * time.Second,
		IdleTimeout:       60 * time.Second,
	}
	srvErr := make(chan error, 1)
	go func() {
		logger.Info().Str("addr", srv.Addr).Msg("http server listening")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			srvErr <- errs.New("http server failed").Wrap(err)
		}
		close(srvErr)
	}()

	if cfg.WebhookURL != "" {
		if err = out.SetWebhook(cfg.WebhookURL, cfg.WebhookSecret); err != nil {
			return err
		}
		logger.Info().Str("url", cfg.WebhookURL).Msg("webhook registered")
	} else {
		if err = out.DeleteWebhook(); err != nil {
			return err
		}
		go poll(ctx, bot, pool, logger)
	}

	select {
	case <-ctx.Done():
	case err = <-srvErr:
		if err != nil {
			return err
		}
	}

	logger.Info().Msg("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err = srv.Shutdown(shutdownCtx); err != nil {
		logger.Warn().Err(err).Msg("http server forced to shut down")
	}
	return nil
}

// poll feeds long-polled updates into the pool until ctx is done.
func poll(ctx context.Context, bot *tgbotapi.BotAPI, pool *receiver.Pool, logger zerolog.Logger) {
	u := tgbotapi.NewUpdate(0)
	u.Timeout = 30
	updates := bot.GetUpdatesChan(u)

	go func() {
		<-ctx.Done()
		// Останавливаем лонг-поллинг -> канал updates закроется
		bot.StopReceivingUpdates()
	}()

	logger.Info().Msg("long polling started")
	for upd := range updates {
		// при поллинге повторной доставки не будет, ждём место в очереди
		err := pool.Submit(ctx, upd)
		for errors.Is(err, receiver.ErrPoolBusy) && ctx.Err() == nil {
			err = pool.Submit(ctx, upd)
		}
		if err != nil {
			logger.Warn().Err(err).Int("update_id", upd.UpdateID).Msg("failed to queue update")
		}
	}
}

func googleOptions(g config.GoogleConfig) ([]option.ClientOption, error) {
	if !g.Enabled() {
		return nil, nil
	}
	if g.CredentialsFile == "" {
		return nil, errs.New("google integration needs credentials_file")
	}
	return []option.ClientOption{option.WithCredentialsFile(g.CredentialsFile)}, nil
}

// newClassifier builds the configured backend; nil when none is configured.
func newClassifier(ctx context.Context, cfg *config.Config, logger zerolog.Logger, m *metrics.BookingMetrics) (*classifier.Service, func(), error) {
	key := cfg.ClassifierKey()
	if cfg.Classifier.Provider == "" || key == "" {
		return nil, nil, nil
	}

	var (
		completer classifier.Completer
		closeFn   = func() {}
	)
	switch cfg.Classifier.Provider {
	case "openai":
		completer = classifier.NewOpenAI(key, cfg.Classifier.Model)
	case "gemini":
		g, err := classifier.NewGemini(ctx, key, cfg.Classifier.Model)
		if err != nil {
			return nil, nil, err
		}
		completer = g
		closeFn = func() {
			if err := g.Close(); err != nil {
				logger.Warn().Err(err).Msg("failed to close gemini client")
			}
		}
	}
	logger.Info().Str("provider", cfg.Classifier.Provider).Msg("service classifier enabled")
	return classifier.New(completer, cfg.Classifier.Threshold, cfg.Booking.ExternalTimeout, logger, m), closeFn, nil
}
