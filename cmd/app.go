package cmd

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/kozaktomas/voter-gate/internal/config"
	"github.com/kozaktomas/voter-gate/internal/constants"
	"github.com/kozaktomas/voter-gate/internal/database"
	"github.com/kozaktomas/voter-gate/internal/database/mariadb"
	"github.com/kozaktomas/voter-gate/internal/database/memory"
	"github.com/kozaktomas/voter-gate/internal/database/postgres"
	"github.com/kozaktomas/voter-gate/internal/database/redis"
	"github.com/kozaktomas/voter-gate/internal/delivery"
	"github.com/kozaktomas/voter-gate/internal/embedding"
	"github.com/kozaktomas/voter-gate/internal/gate"
	"github.com/kozaktomas/voter-gate/internal/identity"
	"github.com/kozaktomas/voter-gate/internal/imagestore"
	"github.com/kozaktomas/voter-gate/internal/logger"
	"github.com/kozaktomas/voter-gate/internal/provider"
	"github.com/kozaktomas/voter-gate/internal/registry"
	"github.com/kozaktomas/voter-gate/internal/token"
	"github.com/kozaktomas/voter-gate/internal/verify"
)

// app holds the wired components shared by the commands.
type app struct {
	cfg          *config.Config
	log          *zap.Logger
	orchestrator *verify.Orchestrator
	registry     *registry.Registry
	tokens       *token.Issuer
	sweeper      challengeSweeper // set when challenges live in PostgreSQL
	closers      []func() error
}

// challengeSweeper deletes challenges from stores without key expiry.
type challengeSweeper interface {
	DeleteIssuedBefore(ctx context.Context, cutoff time.Time) (int64, error)
}

// loadConfig reads and validates the environment and builds the logger.
func loadConfig() (*config.Config, *zap.Logger, error) {
	cfg := config.Load()
	log, err := logger.New(cfg.Log)
	if err != nil {
		return nil, nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return cfg, log, nil
}

// newApp connects every backend selected by cfg.
func newApp(ctx context.Context, cfg *config.Config, log *zap.Logger) (*app, error) {
	a := &app{cfg: cfg, log: log}
	if err := a.wire(ctx); err != nil {
		a.Close()
		return nil, err
	}
	return a, nil
}

func (a *app) wire(ctx context.Context) error {
	cfg, log := a.cfg, a.log

	if cfg.Registry.Backend == config.BackendPostgres || cfg.OTP.Backend == config.BackendPostgres {
		log.Info("connecting to PostgreSQL")
		if err := postgres.Initialize(&cfg.Database, log); err != nil {
			return fmt.Errorf("failed to initialize PostgreSQL: %w", err)
		}
		a.closers = append(a.closers, postgres.GetGlobalPool().Close)
	}

	voters, err := a.voterStore(ctx)
	if err != nil {
		return err
	}
	challenges, err := a.challengeStore(ctx)
	if err != nil {
		return err
	}

	g := gate.New(challenges,
		gate.WithWindow(cfg.OTP.Window),
		gate.WithCodeLength(cfg.OTP.Length),
		gate.WithHasher(gate.NewArgon2Hasher(cfg.OTP.HashMemoryKiB, cfg.OTP.HashTime)),
		gate.WithLogger(log.Named("gate")),
	)

	regOpts := []registry.Option{registry.WithLogger(log.Named("registry"))}
	if cfg.Registry.DedupThreshold > 0 {
		regOpts = append(regOpts, registry.WithDuplicateCheck(database.NewFaceIndex(), cfg.Registry.DedupThreshold))
	}
	a.registry = registry.New(voters, regOpts...)
	if n, err := a.registry.RebuildIndex(ctx); err != nil {
		log.Warn("failed to build duplicate face index, duplicate checks see only new enrollments", zap.Error(err))
	} else if cfg.Registry.DedupThreshold > 0 {
		log.Info("duplicate face index built", zap.Int("references", n))
	}

	p, err := a.provider(ctx)
	if err != nil {
		return err
	}

	images, err := imagestore.New(cfg.Images)
	if err != nil {
		return fmt.Errorf("failed to open image store: %w", err)
	}

	sender, err := delivery.New(cfg, log.Named("delivery"))
	if err != nil {
		return fmt.Errorf("failed to set up OTP delivery: %w", err)
	}
	if q, ok := sender.(*delivery.QueueSender); ok {
		a.closers = append(a.closers, q.Close)
	}

	opts := []verify.Option{
		verify.WithImageStore(images),
		verify.WithSender(sender),
		verify.WithPolicy(verify.EnrollmentPolicy(cfg.Verification.EnrollmentPolicy)),
		verify.WithThreshold(cfg.Threshold()),
		verify.WithMaxImageSize(cfg.Verification.MaxImageSize),
		verify.WithExposeCode(cfg.OTP.ExposeCode && !cfg.IsProduction()),
		verify.WithLogger(log.Named("verify")),
	}
	for name, prof := range cfg.Profiles.Providers {
		opts = append(opts, verify.WithProfile(name, verify.Profile{
			Dim:          prof.Dim,
			LengthPolicy: embedding.ParseLengthPolicy(prof.LengthPolicy),
		}))
	}

	if cfg.Roll.DatabaseURL != "" {
		roll, err := mariadb.NewPool(cfg.Roll.DatabaseURL, cfg.Roll.Table)
		if err != nil {
			return fmt.Errorf("failed to connect to the electoral roll: %w", err)
		}
		a.closers = append(a.closers, roll.Close)
		opts = append(opts, verify.WithRollChecker(roll))
		log.Info("electoral roll check enabled", zap.String("table", cfg.Roll.Table))
	}

	if cfg.Token.Secret != "" {
		a.tokens, err = token.NewIssuer(cfg.Token.Secret, cfg.Token.TTL)
		if err != nil {
			return err
		}
		opts = append(opts, verify.WithTokenIssuer(a.tokens))
	}

	a.orchestrator = verify.New(identity.NewDeriver(cfg.Identity.Pepper), g, a.registry, p, opts...)

	if a.orchestrator.Policy() == verify.PolicyFirstSeen {
		log.Warn("first-seen enrollment is enabled: the first face presented for an unknown identity becomes its reference")
	}
	if cfg.OTP.ExposeCode {
		log.Warn("one-time codes are returned in API responses, development only")
	}
	return nil
}

func (a *app) voterStore(ctx context.Context) (database.VoterWriter, error) {
	if a.cfg.Registry.Backend == config.BackendPostgres {
		return database.GetVoterWriter(ctx)
	}
	a.log.Warn("using the in-memory voter registry, enrollments are lost on restart")
	return memory.NewVoterStore(), nil
}

func (a *app) challengeStore(ctx context.Context) (database.ChallengeStore, error) {
	switch a.cfg.OTP.Backend {
	case config.BackendPostgres:
		store, err := database.GetChallengeStore(ctx)
		if err != nil {
			return nil, err
		}
		if s, ok := store.(challengeSweeper); ok {
			a.sweeper = s
		}
		return store, nil
	case config.BackendRedis:
		client, err := redis.NewClient(a.cfg.Redis)
		if err != nil {
			return nil, fmt.Errorf("failed to connect to Redis: %w", err)
		}
		a.closers = append(a.closers, client.Close)
		return redis.NewChallengeStore(client, a.cfg.OTP.Window), nil
	default:
		a.log.Warn("using the in-memory challenge store, pending codes are lost on restart")
		return memory.NewChallengeStore(), nil
	}
}

// provider builds the primary face provider with its per-call timeout and
// the optional fallback.
func (a *app) provider(ctx context.Context) (provider.Provider, error) {
	cfg := a.cfg
	primary, err := provider.New(ctx, cfg.Verification.Provider, cfg)
	if err != nil {
		return nil, fmt.Errorf("failed to create face provider: %w", err)
	}
	primary = provider.WithTimeout(primary, cfg.Verification.Timeout)

	if cfg.Verification.FallbackProvider == "" {
		a.log.Info("face provider ready", zap.String("provider", primary.Name()), zap.String("model", primary.Model()))
		return primary, nil
	}

	secondary, err := provider.New(ctx, cfg.Verification.FallbackProvider, cfg)
	if err != nil {
		return nil, fmt.Errorf("failed to create fallback provider: %w", err)
	}
	p, err := provider.Fallback(primary, provider.WithTimeout(secondary, cfg.Verification.Timeout))
	if err != nil {
		return nil, err
	}
	a.log.Info("face provider ready",
		zap.String("provider", primary.Name()),
		zap.String("model", primary.Model()),
		zap.String("fallback", secondary.Name()),
	)
	return p, nil
}

// sweepChallenges periodically deletes challenges that can no longer be
// verified. Only PostgreSQL needs this, Redis keys carry a TTL.
func (a *app) sweepChallenges(ctx context.Context) {
	if a.sweeper == nil {
		return
	}
	ticker := time.NewTicker(constants.ChallengeSweepInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			cutoff := time.Now().Add(-constants.ChallengeRetentionFactor * a.cfg.OTP.Window)
			n, err := a.sweeper.DeleteIssuedBefore(ctx, cutoff)
			if err != nil {
				a.log.Warn("challenge sweep failed", zap.Error(err))
				continue
			}
			if n > 0 {
				a.log.Info("expired challenges removed", zap.Int64("count", n))
			}
		}
	}
}

// Close releases every connection in reverse order.
func (a *app) Close() {
	for i := len(a.closers) - 1; i >= 0; i-- {
		if err := a.closers[i](); err != nil {
			a.log.Warn("close failed", zap.Error(err))
		}
	}
	_ = a.log.Sync()
}
