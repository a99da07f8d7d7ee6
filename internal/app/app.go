// Package app assembles the trust center services from configuration.
package app

import (
	"context"
	"crypto/rand"
	"database/sql"
	"encoding/hex"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"trustcenter.dev/internal/access"
	"trustcenter.dev/internal/audit"
	"trustcenter.dev/internal/auth"
	"trustcenter.dev/internal/config"
	"trustcenter.dev/internal/documents"
	"trustcenter.dev/internal/notify"
	"trustcenter.dev/internal/obs"
	"trustcenter.dev/internal/orgs"
	"trustcenter.dev/internal/salesforce"
	"trustcenter.dev/internal/storage"
	"trustcenter.dev/internal/store/pg"
	"trustcenter.dev/internal/stream"
	"trustcenter.dev/internal/trust"
	"trustcenter.dev/internal/webhook"
)

const webhookTimeout = 10 * time.Second

// App holds every long-lived service. OAuth, Syncer and Scheduler are nil
// when the CRM integration is not configured.
type App struct {
	Config    config.Config
	Store     trust.Store
	DB        *sql.DB
	Auth      *auth.Service
	Recorder  *audit.Recorder
	Stream    *stream.Stream
	Access    *access.Workflow
	Documents *documents.Catalog
	Downloads *storage.Server
	Orgs      *orgs.Admin
	Webhooks  *webhook.Registry
	OAuth     *salesforce.OAuth
	Syncer    *salesforce.Syncer
	Scheduler *salesforce.Scheduler

	closers []func() error
}

// Build wires the services. Without a database DSN the in-memory store is
// used, which only makes sense for demos and local development.
func Build(ctx context.Context, cfg config.Config) (*App, error) {
	log := obs.Logger()
	a := &App{Config: cfg}

	if cfg.PGDSN != "" {
		st, err := pg.Open(cfg.PGDSN)
		if err != nil {
			return nil, fmt.Errorf("open database: %w", err)
		}
		a.Store, a.DB = st, st.DB()
		a.closers = append(a.closers, st.Close)
	} else {
		if cfg.Production() {
			return nil, errors.New("database DSN is required in production")
		}
		log.Warn("no database configured, using in-memory store")
		a.Store = trust.NewInMemory()
	}

	secret, err := authSecret(cfg)
	if err != nil {
		a.Close()
		return nil, err
	}
	issuer, err := auth.NewIssuer(secret, cfg.AdminTokenTTL)
	if err != nil {
		a.Close()
		return nil, fmt.Errorf("token issuer: %w", err)
	}
	a.Auth = auth.NewService(a.Store.Admins(), issuer)

	blobs, err := storage.FromConfig(ctx, cfg.Storage)
	if err != nil {
		a.Close()
		return nil, fmt.Errorf("storage: %w", err)
	}
	a.Downloads = storage.NewServer(blobs, cfg.Storage.LinkTTL, placeholderAllowed(cfg))

	mailer, err := notify.FromConfig(cfg.Email)
	if err != nil {
		a.Close()
		return nil, fmt.Errorf("email: %w", err)
	}

	a.Stream = stream.New()
	a.Recorder = audit.NewRecorder(a.Store.Activity(), a.Stream)
	hooks := webhook.NewDispatcher(a.Store.Webhooks(), webhookTimeout)
	a.Webhooks = webhook.NewRegistry(a.Store.Webhooks())

	a.Access = access.New(a.Store,
		access.WithMailer(notify.NewNotifier(mailer, cfg.Email.From)),
		access.WithRecorder(a.Recorder),
		access.WithWebhooks(hooks),
		access.WithDownloads(a.Downloads),
		access.WithLinkBaseURL(cfg.PublicBaseURL),
	)

	bulk := 0
	if cfg.DemoMode {
		bulk = cfg.DemoBulkLimit
	}
	a.Documents = documents.NewCatalog(a.Store.Documents(), documents.Options{
		Blobs:     blobs,
		Downloads: a.Downloads,
		Recorder:  a.Recorder,
		Webhooks:  hooks,
		BulkLimit: bulk,
	})
	a.Orgs = orgs.NewAdmin(a.Store.Organizations(), a.Recorder)

	if cfg.SalesforceEnabled() {
		if err := a.wireSalesforce(ctx, secret); err != nil {
			a.Close()
			return nil, err
		}
	}

	log.Info("services_ready",
		zap.Bool("database", a.DB != nil),
		zap.String("storage", cfg.Storage.Provider),
		zap.String("email", cfg.Email.Provider),
		zap.Bool("salesforce", a.Syncer != nil),
		zap.Bool("demo_mode", cfg.DemoMode),
	)
	return a, nil
}

func (a *App) wireSalesforce(ctx context.Context, stateSecret string) error {
	cfg := a.Config
	cipher, err := salesforce.NewTokenCipher(cfg.Salesforce.TokenEncryptionKey)
	if err != nil {
		return fmt.Errorf("salesforce token key: %w", err)
	}

	var verifiers salesforce.VerifierStore = salesforce.NewMemoryVerifierStore()
	if cfg.Redis.Addr != "" {
		client := redis.NewClient(&redis.Options{
			Addr:     cfg.Redis.Addr,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		})
		pingCtx, cancel := context.WithTimeout(ctx, 3*time.Second)
		defer cancel()
		if err := client.Ping(pingCtx).Err(); err != nil {
			_ = client.Close()
			return fmt.Errorf("redis ping: %w", err)
		}
		a.closers = append(a.closers, client.Close)
		verifiers = salesforce.NewRedisVerifierStore(client)
	}

	a.OAuth = salesforce.NewOAuth(cfg.Salesforce, stateSecret, verifiers, cipher, a.Store.Salesforce())
	a.Syncer = salesforce.NewSyncer(a.Store, cfg.Salesforce, cipher, a.Recorder)

	if spec := strings.TrimSpace(cfg.Salesforce.SyncSchedule); spec != "" {
		sched, err := salesforce.NewScheduler(spec, a.Syncer)
		if err != nil {
			return fmt.Errorf("salesforce schedule %q: %w", spec, err)
		}
		a.Scheduler = sched
	}
	return nil
}

// placeholderAllowed gates the generated stand-in PDF for documents without a
// stored file. It is a demo aid and never applies to production.
func placeholderAllowed(cfg config.Config) bool {
	return cfg.DemoMode && !cfg.Production()
}

// Close releases the database and cache connections.
func (a *App) Close() error {
	var errs []error
	for i := len(a.closers) - 1; i >= 0; i-- {
		if err := a.closers[i](); err != nil {
			errs = append(errs, err)
		}
	}
	a.closers = nil
	return errors.Join(errs...)
}

// authSecret returns the configured signing secret. Outside production a
// random one is generated so local runs work without setup; tokens then do
// not survive a restart.
func authSecret(cfg config.Config) (string, error) {
	if s := strings.TrimSpace(cfg.AuthSecret); s != "" {
		return s, nil
	}
	if cfg.Production() {
		return "", auth.ErrMissingSecret
	}
	buf := make([]byte, 32)
	if _, err := rand.Read(buf); err != nil {
		return "", fmt.Errorf("generate auth secret: %w", err)
	}
	obs.Logger().Warn("auth secret not configured, using an ephemeral one")
	return hex.EncodeToString(buf), nil
}
