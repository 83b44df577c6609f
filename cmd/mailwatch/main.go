package main

import (
	"context"
	"errors"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"

	"github.com/nhle/mailwatch/internal/credential"
	"github.com/nhle/mailwatch/internal/mailbox"
	"github.com/nhle/mailwatch/internal/model"
	"github.com/nhle/mailwatch/internal/notify"
	"github.com/nhle/mailwatch/internal/obs"
	"github.com/nhle/mailwatch/internal/store"
	"github.com/nhle/mailwatch/internal/watch"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	cfgPath := os.Getenv("MAILWATCH_CONFIG")
	if cfgPath == "" {
		cfgPath = "config.yaml"
	}

	cfg, err := model.Load(cfgPath)
	if err != nil {
		log.Fatal(err)
	}
	if cfg.IMAPPassword == "" {
		pw, err := credential.Get(cfg.IMAPUser)
		if err != nil {
			log.Fatalf("imap_password not configured and keyring lookup failed: %v", err)
		}
		cfg.IMAPPassword = pw
	}
	if err := cfg.Validate(); err != nil {
		log.Fatal(err)
	}

	l, err := obs.NewLogger(cfg.Log)
	if err != nil {
		log.Fatal(err)
	}
	defer func() { _ = l.Sync() }()

	l.Info("starting mailwatch",
		zap.String("imap_host", cfg.IMAPHost),
		zap.String("imap_user", cfg.IMAPUser),
		zap.String("mailbox", cfg.Mailbox),
		zap.Duration("interval", cfg.Interval()),
	)

	matcher := watch.Matcher{
		Senders:           cfg.EmailSenders,
		Keywords:          cfg.Keywords,
		ExcludeRecipients: cfg.RecipientExcludeList,
	}

	w := watch.New(
		l,
		mailbox.NewClient(cfg),
		notify.NewDiscord(cfg.WebhookURL, cfg.IOTimeout(), l),
		matcher,
		cfg.Interval(),
	).WithMetrics(obs.NewMetrics())

	var history http.Handler
	if cfg.HistoryDB != "" {
		st, err := store.NewSQLiteStore(cfg.HistoryDB)
		if err != nil {
			l.Fatal("opening history db", zap.Error(err))
		}
		defer func() { _ = st.Close() }()
		w = w.WithRecorder(st)
		history = st.HistoryHandler()
	}

	var ms *http.Server
	if cfg.MetricsAddr != "" {
		ms = obs.BootstrapMetricsServer(cfg.MetricsAddr, history, l)
	}

	errCh := make(chan error, 1)
	go func() { errCh <- w.Run(ctx) }()

	select {
	case <-ctx.Done():
	case err = <-errCh:
		if err != nil && !errors.Is(err, context.Canceled) {
			l.Error("watcher error", zap.Error(err))
		}
	}

	if ms != nil {
		shCtx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
		defer cancel()
		_ = ms.Shutdown(shCtx)
	}
	l.Info("bye")
}
