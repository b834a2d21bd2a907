package main

import (
	"context"
	"log/slog"
	"os"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/ilyakaznacheev/cleanenv"
	"github.com/redis/go-redis/v9"
	"github.com/tendant/chi-demo/app"
	dbutils "github.com/tendant/db-utils/db"

	"github.com/markusahlstrand/authhero-sub008/pkg/bootstrap"
	"github.com/markusahlstrand/authhero-sub008/pkg/clients"
	"github.com/markusahlstrand/authhero-sub008/pkg/codes"
	pkgconfig "github.com/markusahlstrand/authhero-sub008/pkg/config"
	"github.com/markusahlstrand/authhero-sub008/pkg/frontchannel"
	"github.com/markusahlstrand/authhero-sub008/pkg/loginflow"
	loginapi "github.com/markusahlstrand/authhero-sub008/pkg/loginflow/api"
	"github.com/markusahlstrand/authhero-sub008/pkg/loginsession"
	"github.com/markusahlstrand/authhero-sub008/pkg/notification"
	"github.com/markusahlstrand/authhero-sub008/pkg/pagehooks"
	"github.com/markusahlstrand/authhero-sub008/pkg/passwordless"
	"github.com/markusahlstrand/authhero-sub008/pkg/permissions"
	"github.com/markusahlstrand/authhero-sub008/pkg/ratelimit"
	"github.com/markusahlstrand/authhero-sub008/pkg/requestctx"
	"github.com/markusahlstrand/authhero-sub008/pkg/users"
	"github.com/markusahlstrand/authhero-sub008/pkg/workflow"
)

type BootstrapConfig struct {
	TenantID              string   `env:"DEFAULT_TENANT" env-default:"default"`
	TenantName            string   `env:"DEFAULT_TENANT_NAME"`
	ClientID              string   `env:"BOOTSTRAP_CLIENT_ID" env-default:"default"`
	ClientName            string   `env:"BOOTSTRAP_CLIENT_NAME" env-default:"Default App"`
	ClientSecret          string   `env:"BOOTSTRAP_CLIENT_SECRET"`
	CallbackURLs          []string `env:"BOOTSTRAP_CALLBACK_URLS" env-separator:","`
	UniversalLoginVersion string   `env:"BOOTSTRAP_UNIVERSAL_LOGIN_VERSION"`
}

type Config struct {
	AppConfig          app.AppConfig
	DatabaseConfig     pkgconfig.DatabaseConfig
	StorageConfig      pkgconfig.StorageConfig
	LoginFlowConfig    pkgconfig.LoginFlowConfig
	PasswordlessConfig pkgconfig.PasswordlessConfig
	TokenConfig        pkgconfig.TokenConfig
	EmailConfig        pkgconfig.EmailConfig
	SMSConfig          pkgconfig.SMSConfig
	RateLimitConfig    pkgconfig.RateLimitConfig
	PrefixConfig       pkgconfig.PrefixConfig
	BootstrapConfig    BootstrapConfig
}

// stores are the repositories selected by STORAGE_BACKEND.
type stores struct {
	sessions    loginsession.Repository
	codes       codes.Repository
	permissions permissions.Repository
	users       users.Repository
	closers     []func()
}

func (s *stores) Close() {
	for i := len(s.closers) - 1; i >= 0; i-- {
		s.closers[i]()
	}
}

func main() {
	// Create a logger with source enabled
	logger := slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{
		AddSource: true, // Enables line number & file path
	}))

	// Set the logger as the default
	slog.SetDefault(logger)

	config := Config{}
	if err := cleanenv.ReadEnv(&config); err != nil {
		slog.Error("Failed to read configuration", "err", err)
		os.Exit(-1)
	}
	if err := pkgconfig.Validate(
		config.StorageConfig.Validate,
		config.LoginFlowConfig.Validate,
		config.PasswordlessConfig.Validate,
		config.TokenConfig.Validate,
		config.RateLimitConfig.Validate,
		config.PrefixConfig.Validate,
		config.SMSConfig.Validate,
	); err != nil {
		slog.Error("Invalid configuration", "err", err)
		os.Exit(-1)
	}

	ctx := context.Background()
	st, err := openStores(ctx, config)
	if err != nil {
		slog.Error("Failed opening storage", "backend", config.StorageConfig.Backend, "err", err)
		os.Exit(-1)
	}
	defer st.Close()

	registry := clients.NewInMemoryRepository()
	bootstrapResult, err := bootstrap.BootstrapClient(ctx, bootstrap.ClientBootstrapConfig{
		TenantID:              config.BootstrapConfig.TenantID,
		TenantName:            config.BootstrapConfig.TenantName,
		ClientID:              config.BootstrapConfig.ClientID,
		ClientName:            config.BootstrapConfig.ClientName,
		ClientSecret:          config.BootstrapConfig.ClientSecret,
		CallbackURLs:          config.BootstrapConfig.CallbackURLs,
		UniversalLoginVersion: config.BootstrapConfig.UniversalLoginVersion,
		Registry:              registry,
	})
	if err != nil {
		slog.Error("Failed bootstrapping client", "err", err)
		os.Exit(-1)
	}
	bootstrap.PrintBootstrapResult(bootstrapResult)
	bootstrap.LogBootstrapSummary(bootstrapResult)

	cacheTTL, _ := config.StorageConfig.ParseClientCacheTTL()
	lookup := clients.NewCachedLookup(registry, cacheTTL)
	defer lookup.Stop()

	builderConfig, err := config.TokenConfig.ToBuilderConfig()
	if err != nil {
		slog.Error("Invalid token configuration", "err", err)
		os.Exit(-1)
	}
	builder := frontchannel.NewDefaultBuilder(st.sessions, st.codes, builderConfig)

	attemptWindow, _ := config.PasswordlessConfig.ParseAttemptWindow()
	attempts := ratelimit.NewAttemptLimiter(config.PasswordlessConfig.MaxAttempts, attemptWindow)
	passwordlessService := passwordless.NewService(lookup, st.codes, st.sessions, st.users, builder,
		passwordless.WithAttemptLimiter(attempts),
		passwordless.WithOptions(config.PasswordlessConfig.ToOptions(config.PrefixConfig.PublicBaseURL())),
		passwordless.WithLogger(logger),
	)

	notificationManager := notification.NewManager()
	if config.EmailConfig.Enabled() {
		emailNotifier, err := notification.NewEmailNotifier(config.EmailConfig.ToSMTPConfig())
		if err != nil {
			slog.Error("Failed initialize email notifier", "err", err)
			os.Exit(-1)
		}
		notificationManager.RegisterNotifier(notification.ChannelEmail, emailNotifier)
		slog.Info("Email delivery configured", "host", config.EmailConfig.Host, "port", config.EmailConfig.Port)
	} else {
		slog.Warn("EMAIL_HOST not set, login codes sent by email are only logged")
	}
	if config.SMSConfig.Enabled() {
		smsNotifier, err := notification.NewSMSNotifier(config.SMSConfig.ToTwilioConfig())
		if err != nil {
			slog.Error("Failed initialize sms notifier", "err", err)
			os.Exit(-1)
		}
		notificationManager.RegisterNotifier(notification.ChannelSMS, smsNotifier)
		slog.Info("SMS delivery configured", "from", config.SMSConfig.TwilioFrom)
	}

	flowOptions, err := config.LoginFlowConfig.ToOptions(config.PrefixConfig.UniversalLoginPath(), config.PasswordlessConfig.EnforceIPCheck)
	if err != nil {
		slog.Error("Invalid login flow configuration", "err", err)
		os.Exit(-1)
	}
	engine := workflow.NewEngine(workflow.NewRegistry(),
		workflow.WithLogger(logger),
		workflow.WithDefaultExpiresIn(flowOptions.SessionExpiration),
	)
	loginService, err := loginflow.NewService(engine, &loginflow.Deps{
		Sessions:     st.sessions,
		Codes:        st.codes,
		Users:        st.users,
		Clients:      lookup,
		Passwordless: passwordlessService,
		PageHooks:    pagehooks.NewService(st.permissions, lookup, st.sessions, config.PrefixConfig.PublicBaseURL()),
		Builder:      builder,
		Notifier:     notificationManager,
	}, flowOptions)
	if err != nil {
		slog.Error("Failed registering login workflow", "err", err)
		os.Exit(-1)
	}

	loginHandle := loginapi.NewHandle(loginService, passwordlessService).
		WithEnforceIPCheck(config.PasswordlessConfig.EnforceIPCheck)
	limiters := []*ratelimit.RateLimiter{attempts}
	if config.RateLimitConfig.Enabled {
		grantLimiter := ratelimit.NewRateLimiter(config.RateLimitConfig.Capacity, config.RateLimitConfig.RefillRate)
		loginHandle.WithGrantLimiter(ratelimit.PerIP(grantLimiter, config.RateLimitConfig.RetryAfterSeconds))
		limiters = append(limiters, grantLimiter)
	}
	bucketTTL, _ := config.RateLimitConfig.ParseBucketTTL()
	go pruneLimiters(bucketTTL, limiters...)
	slog.Info("Rate limiting configured",
		"grant_per_ip", config.RateLimitConfig.Enabled,
		"max_attempts", config.PasswordlessConfig.MaxAttempts)

	server := app.DefaultApp()

	app.RegisterHealthzRoutes(server.R)

	loginRouter := chi.NewRouter()
	loginRouter.Use(requestctx.Middleware(config.BootstrapConfig.TenantID))
	loginHandle.RegisterRoutes(loginRouter)
	server.R.Mount(config.PrefixConfig.LoginMount(), loginRouter)

	slog.Info("Login routes mounted",
		"prefix", config.PrefixConfig.LoginMount(),
		"universal_login", config.PrefixConfig.UniversalLoginPath(),
		"storage", config.StorageConfig.Backend)

	server.Run()
}

func openStores(ctx context.Context, config Config) (*stores, error) {
	st := &stores{}
	storage := config.StorageConfig

	switch storage.Backend {
	case pkgconfig.StorageFile:
		sessions, err := loginsession.NewFileRepository(storage.DataDir)
		if err != nil {
			return nil, err
		}
		st.sessions = sessions

	case pkgconfig.StoragePostgres:
		dbConfig := config.DatabaseConfig.ToDbConfig()
		pool, err := dbutils.NewDbPool(ctx, dbConfig)
		if err != nil {
			slog.Error("Failed creating dbpool", "db", dbConfig.Database, "host", dbConfig.Host, "port", dbConfig.Port, "user", dbConfig.User)
			return nil, err
		}
		st.closers = append(st.closers, pool.Close)
		repo := loginsession.NewPostgresRepository(pool)
		if err := repo.EnsureSchema(ctx); err != nil {
			st.Close()
			return nil, err
		}
		st.sessions = repo

	case pkgconfig.StorageRedis:
		client := redis.NewClient(&redis.Options{
			Addr:     storage.RedisAddr,
			Password: storage.RedisPassword,
			DB:       storage.RedisDB,
		})
		st.closers = append(st.closers, func() { client.Close() })
		if err := client.Ping(ctx).Err(); err != nil {
			st.Close()
			return nil, err
		}
		st.sessions = loginsession.NewRedisRepository(client, storage.RedisPrefix)

	default:
		st.sessions = loginsession.NewInMemoryRepository()
	}

	// Users and permissions are JSON files next to the other data for every
	// persistent backend, so user ids held by stored sessions keep resolving.
	if storage.Backend == pkgconfig.StorageMemory {
		st.permissions = permissions.NewInMemoryRepository()
		st.users = users.NewInMemoryRepository()
	} else {
		perms, err := permissions.NewFileRepository(storage.DataDir)
		if err != nil {
			st.Close()
			return nil, err
		}
		st.permissions = perms
		userRepo, err := users.NewFileRepository(storage.DataDir)
		if err != nil {
			st.Close()
			return nil, err
		}
		st.users = userRepo
	}

	if storage.CodesSQLitePath != "" {
		sqliteCodes, err := codes.OpenSQLite(storage.CodesSQLitePath)
		if err != nil {
			st.Close()
			return nil, err
		}
		st.closers = append(st.closers, func() { sqliteCodes.Close() })
		st.codes = sqliteCodes
	} else {
		st.codes = codes.NewInMemoryRepository()
	}

	slog.Info("Storage opened", "backend", storage.Backend, "codes_sqlite", storage.CodesSQLitePath != "")
	return st, nil
}

// pruneLimiters drops buckets idle for longer than ttl.
func pruneLimiters(ttl time.Duration, limiters ...*ratelimit.RateLimiter) {
	if ttl <= 0 {
		return
	}
	ticker := time.NewTicker(ttl / 2)
	defer ticker.Stop()
	for range ticker.C {
		for _, l := range limiters {
			if n := l.Prune(ttl); n > 0 {
				slog.Debug("Pruned rate limit buckets", "count", n)
			}
		}
	}
}
