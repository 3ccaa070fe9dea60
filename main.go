package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net"
	"net/http"
	"net/url"
	"os/signal"
	"syscall"
	"time"

	log "github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"

	"smsrelay/bulk"
	"smsrelay/config"
	"smsrelay/crypto"
	"smsrelay/delta"
	"smsrelay/discovery"
	"smsrelay/events"
	"smsrelay/logging"
	"smsrelay/media"
	"smsrelay/metrics"
	"smsrelay/mirror"
	"smsrelay/models"
	"smsrelay/outbox"
	"smsrelay/relay"
	"smsrelay/session"
	"smsrelay/storage"
)

const (
	dialTimeout     = 3 * time.Second
	shutdownTimeout = 5 * time.Second
)

func main() {
	link := flag.String("link", "", "run a one-shot bulk sync before streaming: upload or download")
	flag.Parse()

	cfg, cfgPath, err := config.LoadOrCreate()
	if err != nil {
		log.Fatalf("startup failed while loading config: %v", err)
	}
	logging.Setup(cfg.LogLevel)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg, cfgPath, *link); err != nil && !errors.Is(err, context.Canceled) {
		log.WithError(err).Fatal("smsrelay stopped")
	}
	log.Info("shut down")
}

func run(ctx context.Context, cfg *config.DeviceConfig, cfgPath, link string) error {
	entry := logging.For("main")

	store, err := storage.OpenPath(cfg.DatabasePath)
	if err != nil {
		return fmt.Errorf("open database: %w", err)
	}
	defer func() {
		if err := store.Close(); err != nil {
			entry.WithError(err).Warn("database close error")
		}
	}()

	sess, err := openSession(cfg, cfgPath)
	if err != nil {
		entry.WithError(err).Warn("device is not linked; relay sync paused until credentials are configured")
	}

	m := metrics.New()
	if cfg.MetricsAddr != "" {
		stopMetrics := serveMetrics(cfg.MetricsAddr, m)
		defer stopMetrics()
	}

	baseURL, err := relayURL(ctx, cfg.RelayURL)
	if err != nil {
		return err
	}
	client, err := relay.NewClient(relay.Config{
		BaseURL:     baseURL,
		Account:     sess,
		RequestRate: cfg.RequestRate,
		Metrics:     m,
	})
	if err != nil {
		return err
	}

	files, err := media.NewFileStore(cfg.MediaDir)
	if err != nil {
		return err
	}
	transfer, err := media.NewTransfer(media.Config{
		Blobs:   client,
		Keys:    sess,
		Files:   files,
		Metrics: m,
	})
	if err != nil {
		return err
	}

	retrier := relay.NewRetrier(ctx, relay.DefaultRetryAttempts)
	box := outbox.New(store, m)
	publisher, err := mirror.New(mirror.Config{
		Client:  client,
		Keys:    sess,
		Outbox:  box,
		Retrier: retrier,
		Media:   transfer,
	})
	if err != nil {
		return err
	}
	defer publisher.Wait()

	runner, err := outbox.NewRunner(outbox.Config{
		Outbox:    box,
		Entities:  store,
		Publisher: publisher,
		Interval:  cfg.OutboxInterval,
		Online:    reachable(client.BaseURL()),
	})
	if err != nil {
		return err
	}
	runner.Start()
	defer runner.Stop()

	bus := events.NewBus(events.DefaultBuffer)
	processor, err := delta.NewProcessor(delta.Config{
		Store:     store,
		Session:   sess,
		Publisher: publisher,
		Fetcher:   client,
		Sender:    logSender{log: logging.For("carrier")},
		Media:     transfer,
		Events:    bus,
		Metrics:   m,
	})
	if err != nil {
		return err
	}

	entry.WithFields(log.Fields{
		"device_id":   cfg.DeviceID,
		"device_name": cfg.DeviceName,
		"primary":     sess.Primary(),
		"relay":       baseURL,
		"database":    cfg.DatabasePath,
		"fingerprint": crypto.FormatFingerprint(cfg.KeyFingerprint),
		"outbox":      box.Depth(),
	}).Info("smsrelay starting")

	if link != "" {
		if err := runLink(ctx, link, client, store, sess, transfer, m, cfg.MediaWorkers); err != nil {
			return err
		}
	}

	frames := make(chan relay.Frame, 64)
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return client.Stream().Run(gctx, frames)
	})
	g.Go(func() error {
		processor.Run(gctx, frames)
		return gctx.Err()
	})
	g.Go(func() error {
		logEvents(gctx, bus)
		return nil
	})
	runner.Kick()
	return g.Wait()
}

func openSession(cfg *config.DeviceConfig, cfgPath string) (*session.Session, error) {
	sess, err := session.New(session.Config{
		Load: func() (session.Credentials, error) {
			current, err := config.Load(cfgPath)
			if err != nil {
				return session.Credentials{}, err
			}
			return session.Credentials{
				AccountID:      current.AccountID,
				PassHash:       current.PassHash,
				Salt:           current.Salt,
				DeviceID:       current.DeviceID,
				Primary:        current.Primary,
				KeyFingerprint: current.KeyFingerprint,
			}, nil
		},
		Save: func(creds session.Credentials) error {
			cfg.Primary = creds.Primary
			return config.Save(cfgPath, cfg)
		},
		OnReauth: func(reason error) {
			logging.For("session").WithError(reason).Error("sign in again to resume sync")
		},
	})
	if sess == nil {
		return nil, err
	}
	if err == nil && cfg.KeyFingerprint == "" {
		if codec, codecErr := sess.Codec(); codecErr == nil {
			cfg.KeyFingerprint = codec.Fingerprint()
			if saveErr := config.Save(cfgPath, cfg); saveErr != nil {
				return sess, fmt.Errorf("persist key fingerprint: %w", saveErr)
			}
		}
	}
	return sess, err
}

func relayURL(ctx context.Context, configured string) (string, error) {
	if configured != config.RelayURLDiscover {
		return configured, nil
	}
	endpoint, err := discovery.Resolve(ctx, discovery.Config{})
	if err != nil {
		return "", fmt.Errorf("discover relay: %w", err)
	}
	logging.For("discovery").WithFields(log.Fields{
		"instance": endpoint.Instance,
		"url":      endpoint.URL(),
	}).Info("relay discovered")
	return endpoint.URL(), nil
}

func runLink(ctx context.Context, mode string, client *relay.Client, store *storage.Store, sess *session.Session, transfer *media.Transfer, m *metrics.Metrics, workers int) error {
	entry := logging.For("link")
	switch mode {
	case "upload":
		uploader, err := bulk.NewUploader(bulk.UploaderConfig{
			Client:  client,
			Store:   store,
			Keys:    sess,
			Media:   transfer,
			Metrics: m,
		})
		if err != nil {
			return err
		}
		report, err := uploader.Run(ctx)
		if err != nil {
			return fmt.Errorf("bulk upload: %w", err)
		}
		entry.WithField("media", report.Media.Completed).Info("upload complete")
	case "download":
		downloader, err := bulk.NewDownloader(bulk.DownloaderConfig{
			Client:       client,
			Store:        store,
			Keys:         sess,
			Media:        transfer,
			Metrics:      m,
			MediaWorkers: workers,
		})
		if err != nil {
			return err
		}
		report, err := downloader.Run(ctx)
		if err != nil {
			return fmt.Errorf("bulk download: %w", err)
		}
		entry.WithFields(log.Fields{
			"messages": report.Entities[relay.Messages].Records,
			"retried":  report.MessagesRetried,
			"media":    report.Media.Completed,
		}).Info("download complete")
	default:
		return fmt.Errorf("unknown link mode %q (want upload or download)", mode)
	}
	return nil
}

// reachable reports whether a TCP connection to the relay can be opened.
func reachable(base *url.URL) func(ctx context.Context) bool {
	host := base.Host
	if base.Port() == "" {
		port := "80"
		if base.Scheme == "https" {
			port = "443"
		}
		host = net.JoinHostPort(base.Hostname(), port)
	}
	return func(ctx context.Context) bool {
		dialer := net.Dialer{Timeout: dialTimeout}
		conn, err := dialer.DialContext(ctx, "tcp", host)
		if err != nil {
			return false
		}
		_ = conn.Close()
		return true
	}
}

func serveMetrics(addr string, m *metrics.Metrics) func() {
	server := &http.Server{
		Addr:              addr,
		Handler:           m.Handler(),
		ReadHeaderTimeout: 5 * time.Second,
	}
	go func() {
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logging.For("metrics").WithError(err).Error("metrics server failed")
		}
	}()
	return func() {
		ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		_ = server.Shutdown(ctx)
	}
}

func logEvents(ctx context.Context, bus *events.Bus) {
	entry := logging.For("events")
	for {
		select {
		case <-ctx.Done():
			return
		case e := <-bus.Messages():
			entry.WithFields(log.Fields{
				"change":          e.Change,
				"conversation_id": e.ConversationID,
				"message_id":      e.MessageID,
			}).Debug("message list changed")
		case e := <-bus.Conversations():
			entry.WithFields(log.Fields{
				"change":          e.Change,
				"conversation_id": e.ConversationID,
			}).Debug("conversation list changed")
		}
	}
}

// logSender stands in for the carrier radio on hosts without one.
type logSender struct {
	log *log.Entry
}

func (s logSender) Send(_ context.Context, recipients []string, m models.Message) error {
	s.log.WithFields(log.Fields{
		"message_id": m.ID,
		"recipients": len(recipients),
		"mime_type":  m.MimeType,
	}).Info("carrier send")
	return nil
}
