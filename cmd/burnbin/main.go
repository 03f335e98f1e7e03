package main

import (
	"context"
	"encoding/base64"
	"os"
	"os/signal"
	"syscall"
	"time"

	"burnbin/cfg"
	"burnbin/pkg/secrets"
	"burnbin/svc/access"
	"burnbin/svc/api"
	"burnbin/svc/auth"
	"burnbin/svc/cache"
	"burnbin/svc/db"
	"burnbin/svc/highlight"
	"burnbin/svc/lim"
	"burnbin/svc/svc"
	"burnbin/svc/util"
)

func main() {
	if len(os.Args) > 1 && os.Args[1] == "-health" {
		os.Exit(healthCheck())
	}

	c, err := cfg.Load()
	if err != nil {
		util.Fatal().Err(err).Msg("failed to load configuration")
		os.Exit(1)
	}
	if err := cfg.Validate(c); err != nil {
		util.Fatal().Err(err).Msg("invalid configuration")
		os.Exit(1)
	}
	defer c.Wipe()
	util.InitLog(c.LogLevel, c.Environment == "development")
	util.Info().Msg("starting burnbin")

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	pepper, cookieKey, err := loadSecrets(ctx, c)
	if err != nil {
		util.Fatal().Err(err).Msg("failed to load secrets")
		os.Exit(1)
	}

	signer, err := util.NewSigner(cookieKey)
	util.Wipe(cookieKey)
	if err != nil {
		util.Wipe(pepper)
		util.Fatal().Err(err).Msg("failed to initialize cookie signer")
		os.Exit(1)
	}

	hasher, err := auth.NewHasher(auth.Params{
		Time:        c.Argon2Time,
		Memory:      c.Argon2Memory,
		Parallelism: c.Argon2Parallelism,
		KeyLen:      c.Argon2KeyLen,
	}, pepper, c.HasherWorkerCount)
	util.Wipe(pepper)
	if err != nil {
		util.Fatal().Err(err).Msg("failed to initialize hasher")
		os.Exit(1)
	}
	defer hasher.Stop()
	util.Info().Int("workers", c.HasherWorkerCount).Msg("hasher initialized")

	sqlDB, err := db.NewSQLiteWithOptions(c.DatabasePath, hasher, db.Options{
		MaxOpenConns:    c.DBMaxOpenConns,
		MaxIdleConns:    c.DBMaxIdleConns,
		QueryTimeout:    c.DBQueryTimeout,
		MinResponseTime: c.DBMinResponseTime,
	})
	if err != nil {
		util.Fatal().Err(err).Msg("failed to initialize database")
		os.Exit(1)
	}
	defer sqlDB.Close()
	util.Info().Str("path", c.DatabasePath).Msg("database initialized")

	// Interface values stay nil when Redis is off so nothing downstream sees
	// a typed nil.
	var (
		counter   lim.Counter
		redisPing api.Pinger
	)
	if c.RedisURL != "" {
		rdb, err := db.NewRedis(c.RedisURL, c)
		if err != nil {
			if c.Environment == "production" {
				util.Fatal().Err(err).Msg("redis required in production")
				os.Exit(1)
			}
			util.Warn().Err(err).Msg("redis unavailable, using local rate limits")
		} else {
			defer rdb.Close()
			counter, redisPing = rdb, rdb
			util.Info().Msg("redis connected")
		}
	}

	render, err := cache.NewRender(c.RenderCacheSize)
	if err != nil {
		util.Fatal().Err(err).Msg("failed to create render cache")
		os.Exit(1)
	}
	util.Info().Int("size", c.RenderCacheSize).Msg("render cache initialized")

	hl := highlight.New(highlight.Options{
		Style:    c.HighlightStyle,
		Workers:  c.HighlightWorkers,
		MaxBytes: c.MaxHighlightBytes,
	})

	pasteSvc := svc.NewPaste(sqlDB, hl, render, access.NewController(signer))

	limiter := lim.New(lim.Options{
		RPM:               c.RateLimit.RPM,
		Burst:             c.RateLimit.Burst,
		ConservativeLimit: c.RateLimit.ConservativeLimit,
		TrustedProxies:    c.TrustedProxies,
	}, counter)
	defer limiter.Stop()
	util.Info().
		Int("rpm", c.RateLimit.RPM).
		Int("burst", c.RateLimit.Burst).
		Strs("trusted_proxies", c.TrustedProxies).
		Msg("rate limiter initialized")

	server, err := api.NewServer(c, api.Deps{
		Paste:   pasteSvc,
		Limiter: limiter,
		Styles:  hl,
		DB:      sqlDB,
		Cache:   redisPing,
	})
	if err != nil {
		util.Fatal().Err(err).Msg("failed to build server")
		os.Exit(1)
	}

	walDone := make(chan struct{})
	go func() {
		defer close(walDone)
		db.StartWALMaintenance(ctx, sqlDB.DB(), c.WALInterval)
	}()
	if err := svc.StartCleaner(ctx, sqlDB, c.CleanupInterval); err != nil {
		util.Error().Err(err).Msg("failed to start cleaner")
	}

	util.Info().Str("port", c.Port).Str("environment", c.Environment).Msg("server starting")
	go func() {
		if err := server.Start(); err != nil {
			util.Fatal().Err(err).Msg("server failed")
			os.Exit(1)
		}
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)
	<-sigCh
	util.Info().Msg("shutting down")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer shutdownCancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		util.Error().Err(err).Msg("server shutdown error")
	}
	pasteSvc.Shutdown()
	cancel()
	select {
	case <-walDone:
	case <-time.After(10 * time.Second):
		util.Warn().Msg("WAL maintenance did not stop in time")
	}
	util.Info().Msg("shutdown complete")
}

func healthCheck() int {
	dbPath := os.Getenv("DATABASE_PATH")
	if dbPath == "" {
		dbPath = "burnbin.db"
	}
	store, err := db.NewSQLite(dbPath, nil)
	if err != nil {
		return 1
	}
	defer store.Close()
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	if err := store.Ping(ctx); err != nil {
		return 1
	}
	return 0
}

// loadSecrets returns the pepper and the cookie signing key. With
// SECRETS_FROM_STORE they come from Vault or AWS Secrets Manager and may be
// base64 encoded; otherwise the environment values are used as is.
func loadSecrets(ctx context.Context, c *cfg.Cfg) (pepper, cookieKey []byte, err error) {
	if !c.SecretsFromStore {
		return []byte(c.Pepper.Value()), []byte(c.CookieKey.Value()), nil
	}
	store, err := secrets.NewStore(ctx, secrets.OptionsFromEnv())
	if err != nil {
		return nil, nil, err
	}
	util.Info().Str("source", store.Source()).Msg("secret store initialized")

	pepper, err = fetchSecret(ctx, store, "PEPPER")
	if err != nil {
		return nil, nil, err
	}
	cookieKey, err = fetchSecret(ctx, store, "COOKIE_KEY")
	if err != nil {
		util.Wipe(pepper)
		return nil, nil, err
	}
	return pepper, cookieKey, nil
}

func fetchSecret(ctx context.Context, store *secrets.Store, name string) ([]byte, error) {
	v, err := store.GetSecret(ctx, name)
	if err != nil {
		return nil, err
	}
	if b, err := base64.StdEncoding.DecodeString(v); err == nil && len(b) >= 32 {
		return b, nil
	}
	return []byte(v), nil
}
