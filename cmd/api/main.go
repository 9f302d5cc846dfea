package main

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/go-phone-verify/internal/application/challenge"
	"github.com/go-phone-verify/internal/application/delivery"
	"github.com/go-phone-verify/internal/application/verification"
	"github.com/go-phone-verify/internal/config"
	"github.com/go-phone-verify/internal/infrastructure/captcha"
	"github.com/go-phone-verify/internal/infrastructure/dynamo"
	jwtinfra "github.com/go-phone-verify/internal/infrastructure/jwt"
	"github.com/go-phone-verify/internal/infrastructure/sns"
	"github.com/go-phone-verify/internal/pkg/ttlcache"
	transporthttp "github.com/go-phone-verify/internal/transport/http"
	"github.com/joho/godotenv"
	"github.com/redis/go-redis/v9"
)

func main() {
	if err := godotenv.Load(); err != nil {
		slog.Info("no .env file found, reading from environment")
	}

	cfg := config.Load()
	slog.SetDefault(slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: logLevel(cfg.LogLevel)})))

	if err := run(cfg); err != nil {
		slog.Error("fatal", "err", err)
		os.Exit(1)
	}
}

func run(cfg *config.Config) error {
	ctx := context.Background()

	// Bootstrap DynamoDB tables (creates them if they don't exist).
	dynamoClient, err := dynamo.NewClient(cfg)
	if err != nil {
		return fmt.Errorf("dynamo client: %w", err)
	}
	dynamo.Bootstrap(ctx, dynamoClient, cfg.DynamoTables)
	identities := dynamo.NewIdentityRepo(dynamoClient, cfg.DynamoTables.Identities)
	challenges := dynamo.NewChallengeRepo(dynamoClient, cfg.DynamoTables.PhoneChallenges)

	jwtProvider, err := jwtinfra.NewProvider(cfg)
	if err != nil {
		return fmt.Errorf("jwt provider: %w", err)
	}

	store, closeStore, err := newStore(ctx, cfg)
	if err != nil {
		return err
	}
	defer closeStore()

	smsSender, err := sns.NewSender(cfg)
	if err != nil {
		if cfg.IsProduction() {
			return fmt.Errorf("sns sender: %w", err)
		}
		slog.Warn("SNS sender not available, logging codes instead", "err", err)
		smsSender = sns.NewLogSender()
	}

	deliverySvc := delivery.NewService(challenges, identities, smsSender, delivery.Config{
		CodeTTL:        cfg.CodeTTL,
		MaxAttempts:    cfg.CodeMaxAttempts,
		PerNumberEvery: cfg.SMSPerNumberRate,
		PerNumberBurst: cfg.SMSPerNumberBurst,
		HourlyQuota:    cfg.SMSHourlyQuota,
	})
	defer deliverySvc.Close()

	manager := verification.NewManager(newSurface(cfg), store, deliverySvc, identities, verification.ManagerConfig{
		Domain:          cfg.AppDomain,
		DefaultPrefix:   cfg.DefaultPhonePrefix,
		RenderTimeout:   cfg.RenderTimeout,
		DispatchTimeout: cfg.DispatchTimeout,
		ResendCooldown:  cfg.ResendCooldown,
		VerifiedTTL:     cfg.PhoneVerificationTTL,
		StatusTTL:       cfg.ChallengeStatusTTL,
		ResponseTTL:     cfg.ChallengeResponseTTL,
		TrustCache:      cfg.TrustCachedVerification,
	})
	defer manager.Shutdown()

	router, stopRouter := transporthttp.NewRouter(cfg, &transporthttp.Deps{
		Manager:     manager,
		JWTVerifier: jwtProvider,
	})
	defer stopRouter()

	srv := &http.Server{
		Addr:         fmt.Sprintf(":%s", cfg.AppPort),
		Handler:      router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: cfg.DispatchTimeout + cfg.RenderTimeout + 5*time.Second,
		IdleTimeout:  60 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		slog.Info("server starting", "port", cfg.AppPort, "env", cfg.AppEnv)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	select {
	case <-quit:
	case err := <-errCh:
		return fmt.Errorf("server error: %w", err)
	}

	slog.Info("shutting down server")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("forced shutdown: %w", err)
	}
	slog.Info("server stopped")
	return nil
}

// newStore selects the TTL cache backend.
func newStore(ctx context.Context, cfg *config.Config) (ttlcache.Store, func(), error) {
	if cfg.CacheBackend != "redis" {
		mem := ttlcache.NewMemoryStore()
		stop := make(chan struct{})
		go func() {
			t := time.NewTicker(time.Minute)
			defer t.Stop()
			for {
				select {
				case <-stop:
					return
				case <-t.C:
					mem.Sweep()
				}
			}
		}()
		return mem, func() { close(stop) }, nil
	}

	rdb := redis.NewClient(&redis.Options{
		Addr:     cfg.RedisAddr,
		Password: cfg.RedisPassword,
		DB:       cfg.RedisDB,
	})
	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := rdb.Ping(pingCtx).Err(); err != nil {
		_ = rdb.Close()
		return nil, nil, fmt.Errorf("redis ping %s: %w", cfg.RedisAddr, err)
	}
	return ttlcache.NewRedisStore(rdb, "phone-verify"), func() { _ = rdb.Close() }, nil
}

// newSurface returns the captcha widget, or the bypass surface when no secret
// is configured outside production.
func newSurface(cfg *config.Config) challenge.Surface {
	if cfg.CaptchaSecret == "" && !cfg.IsProduction() {
		return captcha.NewBypass()
	}
	return captcha.NewWidget(captcha.Config{
		SiteKey:     cfg.CaptchaSiteKey,
		Secret:      cfg.CaptchaSecret,
		VerifyURL:   cfg.CaptchaVerifyURL,
		Hostnames:   cfg.CaptchaHostnames,
		TokenTTL:    cfg.CaptchaTokenTTL,
		HTTPTimeout: cfg.CaptchaHTTPTimeout,
	})
}

func logLevel(s string) slog.Level {
	switch strings.ToLower(s) {
	case "debug":
		return slog.LevelDebug
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}
