package config // package config loads application configuration from environment variables

import (
    "log" // log is used to report configuration errors and halt execution
    "os"  // os provides access to environment variables
)

// minSecretLen is the minimum length accepted for token signing
// secrets and webhook shared secrets. Short secrets make the HMAC
// constructions brute-forceable regardless of everything else.
const minSecretLen = 32

// Config holds all runtime configuration values.  Each field
// corresponds to an environment variable.  Access and refresh tokens
// are signed with distinct secrets so a leak of one never compromises
// the other; webhook secrets are held per provider.
type Config struct {
    Env  string // application environment (e.g. "dev", "prod")
    Port string // HTTP port to listen on

    DBUser string // database username
    DBPass string // database password (optional)
    DBHost string // database host address
    DBPort string // database port number
    DBName string // database name

    AccessSecret  string // secret used to sign access JWTs
    RefreshSecret string // secret used to sign refresh JWTs

    AccessTTLMin   int // access token time-to-live in minutes
    RefreshTTLDays int // refresh token time-to-live in days
    VerifyTTLHours int // email-verification token time-to-live in hours
    ResetTTLMin    int // password-reset token time-to-live in minutes

    BcryptCost int // bcrypt cost for password hashing

    WebhookSecrets map[string]string // provider name -> shared secret

    WebhookWorkers   int // dispatcher worker goroutines
    WebhookQueueSize int // dispatcher queue capacity
}

// Load reads configuration values from environment variables and
// returns a Config.  Required variables are enforced by must() and
// missing values cause the program to exit with a fatal log message.
// Token lifetimes have the documented defaults and stay individually
// configurable; the two single-use purposes deliberately do not share
// one constant.
func Load() Config {
    return Config{
        Env:    must("APP_ENV"),
        Port:   must("APP_PORT"),
        DBUser: must("DB_USER"),
        DBPass: os.Getenv("DB_PASS"), // empty allowed
        DBHost: must("DB_HOST"),
        DBPort: must("DB_PORT"),
        DBName: must("DB_NAME"),

        AccessSecret:  mustSecret("ACCESS_TOKEN_SECRET"),
        RefreshSecret: mustSecret("REFRESH_TOKEN_SECRET"),

        AccessTTLMin:   envInt("ACCESS_TOKEN_TTL_MIN", 15),
        RefreshTTLDays: envInt("REFRESH_TOKEN_TTL_DAYS", 30),
        VerifyTTLHours: envInt("VERIFY_TOKEN_TTL_HOURS", 24),
        ResetTTLMin:    envInt("RESET_TOKEN_TTL_MIN", 60),

        BcryptCost: envInt("BCRYPT_COST", 12),

        WebhookSecrets: map[string]string{
            "billing": mustSecret("BILLING_WEBHOOK_SECRET"),
            "bgcheck": mustSecret("BGCHECK_WEBHOOK_SECRET"),
        },

        WebhookWorkers:   envInt("WEBHOOK_WORKERS", 4),
        WebhookQueueSize: envInt("WEBHOOK_QUEUE_SIZE", 256),
    }
}

// must retrieves the value of a required environment variable.  If the
// variable is unset or empty, the application logs a fatal error and exits.
func must(key string) string {
    v, ok := os.LookupEnv(key)
    if !ok || v == "" {
        log.Fatalf("missing required env var: %s", key)
    }
    return v
}

// mustSecret is like must() but additionally enforces the minimum
// secret length.  Starting up with a weak secret is a misconfiguration,
// not something to limp along with.
func mustSecret(key string) string {
    v := must(key)
    if len(v) < minSecretLen {
        log.Fatalf("env var %s must be at least %d characters", key, minSecretLen)
    }
    return v
}

