package config

import (
	"os"
	"strconv"
	"strings"
	"time"
)

// Config holds all runtime configuration loaded from environment variables.
type Config struct {
	AppPort        string
	AppEnv         string
	AppDomain      string // public hostname, reported in configuration diagnostics
	LogLevel       string
	AWSRegion      string
	AWSEndpointURL string // empty in prod, set to LocalStack URL in dev
	AWSAccessKeyID string
	AWSSecretKey   string
	DynamoTables   DynamoTables
	SNSRegion      string
	SMSSenderID    string

	JWTPublicKeyPath  string
	JWTPrivateKeyPath string
	JWTExpiry         time.Duration

	CacheBackend  string // "memory" | "redis"
	RedisAddr     string
	RedisPassword string
	RedisDB       int

	CaptchaSiteKey     string
	CaptchaSecret      string // empty selects the bypass surface outside production
	CaptchaVerifyURL   string
	CaptchaHostnames   []string
	CaptchaTokenTTL    time.Duration
	CaptchaHTTPTimeout time.Duration

	RenderTimeout   time.Duration
	DispatchTimeout time.Duration
	ResendCooldown  time.Duration

	PhoneVerificationTTL    time.Duration
	ChallengeStatusTTL      time.Duration
	ChallengeResponseTTL    time.Duration
	TrustCachedVerification bool

	CodeTTL           time.Duration
	CodeMaxAttempts   int
	SMSPerNumberRate  time.Duration // minimum spacing between codes to the same number
	SMSPerNumberBurst int
	SMSHourlyQuota    int

	DefaultPhonePrefix string
	AllowedOrigins     []string // CORS allowed origins
}

// DynamoTables holds the DynamoDB table name for each entity.
type DynamoTables struct {
	Identities      string
	PhoneChallenges string
}

// Load reads all configuration from environment variables.
func Load() *Config {
	return &Config{
		AppPort:        getEnv("APP_PORT", "3000"),
		AppEnv:         getEnv("APP_ENV", "development"),
		AppDomain:      getEnv("APP_DOMAIN", "localhost"),
		LogLevel:       getEnv("LOG_LEVEL", "info"),
		AWSRegion:      getEnv("AWS_REGION", "us-east-1"),
		AWSEndpointURL: getEnv("AWS_ENDPOINT_URL", ""),
		AWSAccessKeyID: getEnv("AWS_ACCESS_KEY_ID", ""),
		AWSSecretKey:   getEnv("AWS_SECRET_ACCESS_KEY", ""),
		DynamoTables: DynamoTables{
			Identities:      getEnv("DYNAMO_TABLE_IDENTITIES", "identities"),
			PhoneChallenges: getEnv("DYNAMO_TABLE_PHONE_CHALLENGES", "phone_challenges"),
		},
		SNSRegion:   getEnv("SNS_REGION", "us-east-1"),
		SMSSenderID: getEnv("SMS_SENDER_ID", ""),

		JWTPublicKeyPath:  getEnv("JWT_PUBLIC_KEY_PATH", "./public_key.pem"),
		JWTPrivateKeyPath: getEnv("JWT_PRIVATE_KEY_PATH", ""),
		JWTExpiry:         getEnvDuration("JWT_EXPIRY", 24*time.Hour),

		CacheBackend:  getEnv("CACHE_BACKEND", "memory"),
		RedisAddr:     getEnv("REDIS_ADDR", "localhost:6379"),
		RedisPassword: getEnv("REDIS_PASSWORD", ""),
		RedisDB:       getEnvInt("REDIS_DB", 0),

		CaptchaSiteKey:     getEnv("CAPTCHA_SITE_KEY", ""),
		CaptchaSecret:      getEnv("CAPTCHA_SECRET", ""),
		CaptchaVerifyURL:   getEnv("CAPTCHA_VERIFY_URL", "https://www.google.com/recaptcha/api/siteverify"),
		CaptchaHostnames:   splitList(getEnv("CAPTCHA_HOSTNAMES", "")),
		CaptchaTokenTTL:    getEnvDuration("CAPTCHA_TOKEN_TTL", 2*time.Minute),
		CaptchaHTTPTimeout: getEnvDuration("CAPTCHA_HTTP_TIMEOUT", 15*time.Second),

		RenderTimeout:   getEnvDuration("CHALLENGE_RENDER_TIMEOUT", 10*time.Second),
		DispatchTimeout: getEnvDuration("CODE_DISPATCH_TIMEOUT", 30*time.Second),
		ResendCooldown:  getEnvDuration("RESEND_COOLDOWN", 60*time.Second),

		PhoneVerificationTTL:    getEnvDuration("PHONE_VERIFICATION_TTL", 24*time.Hour),
		ChallengeStatusTTL:      getEnvDuration("CHALLENGE_STATUS_TTL", 24*time.Hour),
		ChallengeResponseTTL:    getEnvDuration("CHALLENGE_RESPONSE_TTL", 2*time.Hour),
		TrustCachedVerification: getEnvBool("TRUST_CACHED_VERIFICATION", true),

		CodeTTL:           getEnvDuration("CODE_TTL", 10*time.Minute),
		CodeMaxAttempts:   getEnvInt("CODE_MAX_ATTEMPTS", 5),
		SMSPerNumberRate:  getEnvDuration("SMS_PER_NUMBER_INTERVAL", 30*time.Second),
		SMSPerNumberBurst: getEnvInt("SMS_PER_NUMBER_BURST", 3),
		SMSHourlyQuota:    getEnvInt("SMS_HOURLY_QUOTA", 500),

		DefaultPhonePrefix: getEnv("DEFAULT_PHONE_PREFIX", "+41"),
		AllowedOrigins:     strings.Split(getEnv("ALLOWED_ORIGINS", "*"), ","),
	}
}

// IsProduction reports whether the service runs with APP_ENV=production.
func (c *Config) IsProduction() bool {
	return c.AppEnv == "production"
}

func getEnv(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func getEnvInt(key string, fallback int) int {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return fallback
}

func getEnvDuration(key string, fallback time.Duration) time.Duration {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil && d > 0 {
			return d
		}
	}
	return fallback
}

func getEnvBool(key string, fallback bool) bool {
	if v := os.Getenv(key); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			return b
		}
	}
	return fallback
}

func splitList(s string) []string {
	if s == "" {
		return nil
	}
	var out []string
	for _, p := range strings.Split(s, ",") {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}
