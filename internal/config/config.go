/**
 * @description
 * This package handles the configuration management for the peer-network-service. It uses the
 * Viper library to read configuration from environment variables (and an optional .env file),
 * providing a centralized way to manage application settings.
 *
 * @dependencies
 * - github.com/spf13/viper: Environment and .env configuration.
 * - github.com/shopspring/decimal: Exact naira-to-kobo conversion of amount settings.
 */

package config

import (
	"log"
	"os"
	"strings"

	"github.com/shopspring/decimal"
	"github.com/spf13/viper"
)

// Config holds all the configuration variables for the peer-network-service.
type Config struct {
	ServerPort           string `mapstructure:"SERVER_PORT"`
	DatabaseURL          string `mapstructure:"DATABASE_URL"`
	RedisURL             string `mapstructure:"REDIS_URL"`
	RedisRateLimitPrefix string `mapstructure:"REDIS_RATE_LIMIT_PREFIX"`
	RabbitMQURL          string `mapstructure:"RABBITMQ_URL"`
	ReviewDecisionQueue  string `mapstructure:"REVIEW_DECISION_QUEUE"`
	ReviewPrefetch       int    `mapstructure:"REVIEW_CONSUMER_PREFETCH"`

	GraphURI      string `mapstructure:"GRAPH_URI"`
	GraphDatabase string `mapstructure:"GRAPH_DATABASE"`
	GraphUsername string `mapstructure:"GRAPH_USERNAME"`
	GraphPassword string `mapstructure:"GRAPH_PASSWORD"`

	ProfileServiceURL   string `mapstructure:"PROFILE_SERVICE_URL"`
	PaymentValidatorURL string `mapstructure:"PAYMENT_VALIDATOR_URL"`
	TransferExecutorURL string `mapstructure:"TRANSFER_EXECUTOR_URL"`
	InternalAPIKey      string `mapstructure:"INTERNAL_API_KEY"`
	JWTSigningKey       string `mapstructure:"JWT_SIGNING_KEY"`
	CORSAllowedOrigins  string `mapstructure:"CORS_ALLOWED_ORIGINS"`

	LogLevel       string `mapstructure:"LOG_LEVEL"`
	LogFormat      string `mapstructure:"LOG_FORMAT"`
	MetricsEnabled bool   `mapstructure:"METRICS_ENABLED"`

	RiskMaxAmountKobo     int64   `mapstructure:"RISK_MAX_AMOUNT_KOBO"`
	RiskHourlyTransferCap int     `mapstructure:"RISK_HOURLY_TRANSFER_CAP"`
	RiskBlockThreshold    float64 `mapstructure:"RISK_BLOCK_THRESHOLD"`
	RiskReviewThreshold   float64 `mapstructure:"RISK_REVIEW_THRESHOLD"`
	RiskBlockedCountries  string  `mapstructure:"RISK_BLOCKED_COUNTRIES"`
	RiskSuspiciousTerms   string  `mapstructure:"RISK_SUSPICIOUS_PATTERNS"`

	RateLimitPerMinute      int `mapstructure:"RATE_LIMIT_PER_MINUTE"`
	BreakerFailureThreshold int `mapstructure:"BREAKER_FAILURE_THRESHOLD"`
	BreakerCooldownSeconds  int `mapstructure:"BREAKER_COOLDOWN_SECONDS"`
	RetryMaxAttempts        int `mapstructure:"RETRY_MAX_ATTEMPTS"`
	RetryDelayMillis        int `mapstructure:"RETRY_DELAY_MS"`
	ExecutorTimeoutSeconds  int `mapstructure:"EXECUTOR_TIMEOUT_SECONDS"`

	DailyLimitKobo   int64 `mapstructure:"DAILY_LIMIT_KOBO"`
	MonthlyLimitKobo int64 `mapstructure:"MONTHLY_LIMIT_KOBO"`

	MatchCandidatePoolSize int     `mapstructure:"MATCH_CANDIDATE_POOL_SIZE"`
	MatchMaxResults        int     `mapstructure:"MATCH_MAX_RESULTS"`
	MatchMaxGroupResults   int     `mapstructure:"MATCH_MAX_GROUP_RESULTS"`
	MatchPeerThreshold     float64 `mapstructure:"MATCH_PEER_THRESHOLD"`
	MatchGroupThreshold    float64 `mapstructure:"MATCH_GROUP_THRESHOLD"`

	AutoGroupSchedule   string `mapstructure:"AUTO_GROUP_SCHEDULE"`
	AutoGroupMinSize    int    `mapstructure:"AUTO_GROUP_MIN_SIZE"`
	StaleReviewSchedule string `mapstructure:"STALE_REVIEW_SCHEDULE"`
}

var defaults = map[string]any{
	"SERVER_PORT":               "8080",
	"REDIS_RATE_LIMIT_PREFIX":   "transfa:peer_rate_limit",
	"REVIEW_DECISION_QUEUE":     "peer_network_service.review_decisions",
	"REVIEW_CONSUMER_PREFETCH":  16,
	"GRAPH_DATABASE":            "neo4j",
	"LOG_LEVEL":                 "info",
	"LOG_FORMAT":                "json",
	"METRICS_ENABLED":           true,
	"CORS_ALLOWED_ORIGINS":      "*",
	"RISK_MAX_AMOUNT_KOBO":      1_000_000,
	"RISK_HOURLY_TRANSFER_CAP":  10,
	"RISK_BLOCK_THRESHOLD":      80.0,
	"RISK_REVIEW_THRESHOLD":     50.0,
	"RISK_SUSPICIOUS_PATTERNS":  "test,fake,scam,fraud",
	"RATE_LIMIT_PER_MINUTE":     10,
	"BREAKER_FAILURE_THRESHOLD": 5,
	"BREAKER_COOLDOWN_SECONDS":  30,
	"RETRY_MAX_ATTEMPTS":        3,
	"RETRY_DELAY_MS":            500,
	"EXECUTOR_TIMEOUT_SECONDS":  10,
	"DAILY_LIMIT_KOBO":          2_000_000,
	"MONTHLY_LIMIT_KOBO":        20_000_000,
	"MATCH_CANDIDATE_POOL_SIZE": 50,
	"MATCH_MAX_RESULTS":         10,
	"MATCH_MAX_GROUP_RESULTS":   5,
	"MATCH_PEER_THRESHOLD":      50.0,
	"MATCH_GROUP_THRESHOLD":     60.0,
	"AUTO_GROUP_SCHEDULE":       "0 3 * * *",
	"AUTO_GROUP_MIN_SIZE":       5,
	"STALE_REVIEW_SCHEDULE":     "0 * * * *",
}

// LoadConfig reads configuration from environment variables and an optional .env file in path.
func LoadConfig(path string) (config Config, err error) {
	viper.AddConfigPath(path)
	viper.SetConfigName(".env")
	viper.SetConfigType("env")

	viper.AutomaticEnv()
	viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))

	for key, value := range defaults {
		viper.SetDefault(key, value)
		_ = viper.BindEnv(key)
	}
	for _, key := range []string{
		"DATABASE_URL", "RABBITMQ_URL", "GRAPH_URI", "GRAPH_USERNAME", "GRAPH_PASSWORD",
		"PROFILE_SERVICE_URL", "PAYMENT_VALIDATOR_URL", "TRANSFER_EXECUTOR_URL", "JWT_SIGNING_KEY",
		"RISK_BLOCKED_COUNTRIES", "RISK_MAX_AMOUNT", "DAILY_LIMIT", "MONTHLY_LIMIT",
	} {
		_ = viper.BindEnv(key)
	}
	_ = viper.BindEnv("REDIS_URL", "REDIS_URL", "PEER_NETWORK_REDIS_URL")
	_ = viper.BindEnv("INTERNAL_API_KEY", "INTERNAL_API_KEY", "PEER_NETWORK_SERVICE_INTERNAL_API_KEY")

	if err = viper.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			log.Printf("level=warn component=config msg=\"failed to read config file; using environment values\" err=%v", err)
		}
		err = nil
	}

	if err = viper.Unmarshal(&config); err != nil {
		return
	}

	if port := strings.TrimSpace(os.Getenv("PORT")); port != "" {
		config.ServerPort = port
	}
	if strings.TrimSpace(config.InternalAPIKey) == "" {
		config.InternalAPIKey = strings.TrimSpace(os.Getenv("PEER_NETWORK_SERVICE_INTERNAL_API_KEY"))
	}
	config.RedisURL = strings.TrimSpace(config.RedisURL)
	config.RedisRateLimitPrefix = strings.TrimSpace(config.RedisRateLimitPrefix)
	if config.RedisRateLimitPrefix == "" {
		config.RedisRateLimitPrefix = defaults["REDIS_RATE_LIMIT_PREFIX"].(string)
	}
	config.LogLevel = strings.ToLower(strings.TrimSpace(config.LogLevel))
	config.LogFormat = strings.ToLower(strings.TrimSpace(config.LogFormat))
	if config.LogFormat != "json" && config.LogFormat != "text" {
		log.Printf("level=warn component=config msg=\"unknown LOG_FORMAT; using json\" value=%q", config.LogFormat)
		config.LogFormat = "json"
	}

	// Amount settings may also be given in whole naira.
	overrideFromNaira("RISK_MAX_AMOUNT", &config.RiskMaxAmountKobo)
	overrideFromNaira("DAILY_LIMIT", &config.DailyLimitKobo)
	overrideFromNaira("MONTHLY_LIMIT", &config.MonthlyLimitKobo)

	positiveInt64("RISK_MAX_AMOUNT_KOBO", &config.RiskMaxAmountKobo)
	nonNegativeInt64("DAILY_LIMIT_KOBO", &config.DailyLimitKobo)
	nonNegativeInt64("MONTHLY_LIMIT_KOBO", &config.MonthlyLimitKobo)

	positiveInt("RISK_HOURLY_TRANSFER_CAP", &config.RiskHourlyTransferCap)
	positiveInt("RATE_LIMIT_PER_MINUTE", &config.RateLimitPerMinute)
	positiveInt("BREAKER_FAILURE_THRESHOLD", &config.BreakerFailureThreshold)
	positiveInt("BREAKER_COOLDOWN_SECONDS", &config.BreakerCooldownSeconds)
	positiveInt("RETRY_MAX_ATTEMPTS", &config.RetryMaxAttempts)
	positiveInt("EXECUTOR_TIMEOUT_SECONDS", &config.ExecutorTimeoutSeconds)
	positiveInt("MATCH_CANDIDATE_POOL_SIZE", &config.MatchCandidatePoolSize)
	positiveInt("MATCH_MAX_RESULTS", &config.MatchMaxResults)
	positiveInt("MATCH_MAX_GROUP_RESULTS", &config.MatchMaxGroupResults)
	positiveInt("AUTO_GROUP_MIN_SIZE", &config.AutoGroupMinSize)
	positiveInt("REVIEW_CONSUMER_PREFETCH", &config.ReviewPrefetch)
	if config.RetryDelayMillis < 0 {
		log.Printf("level=warn component=config msg=\"negative RETRY_DELAY_MS; using default\" value=%d", config.RetryDelayMillis)
		config.RetryDelayMillis = defaults["RETRY_DELAY_MS"].(int)
	}

	score("RISK_BLOCK_THRESHOLD", &config.RiskBlockThreshold)
	score("RISK_REVIEW_THRESHOLD", &config.RiskReviewThreshold)
	score("MATCH_PEER_THRESHOLD", &config.MatchPeerThreshold)
	score("MATCH_GROUP_THRESHOLD", &config.MatchGroupThreshold)
	if config.RiskReviewThreshold >= config.RiskBlockThreshold {
		log.Printf("level=warn component=config msg=\"review threshold must be below block threshold; using defaults\" review=%v block=%v", config.RiskReviewThreshold, config.RiskBlockThreshold)
		config.RiskBlockThreshold = defaults["RISK_BLOCK_THRESHOLD"].(float64)
		config.RiskReviewThreshold = defaults["RISK_REVIEW_THRESHOLD"].(float64)
	}

	return
}

// BlockedCountries returns the configured deny list of destination countries.
func (c Config) BlockedCountries() []string {
	return SplitList(c.RiskBlockedCountries)
}

// SuspiciousPatterns returns the address substrings that raise risk.
func (c Config) SuspiciousPatterns() []string {
	return SplitList(c.RiskSuspiciousTerms)
}

// AllowedOrigins returns the CORS origins.
func (c Config) AllowedOrigins() []string {
	origins := SplitList(c.CORSAllowedOrigins)
	if len(origins) == 0 {
		return []string{"*"}
	}
	return origins
}

// SplitList splits a comma-separated setting, dropping blanks.
func SplitList(raw string) []string {
	parts := strings.Split(raw, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}

func overrideFromNaira(key string, target *int64) {
	if !viper.IsSet(key) {
		return
	}
	raw := strings.TrimSpace(viper.GetString(key))
	if raw == "" {
		return
	}
	value, err := decimal.NewFromString(raw)
	if err != nil {
		log.Printf("level=warn component=config msg=\"invalid naira amount\" key=%s value=%q err=%v", key, raw, err)
		return
	}
	*target = value.Shift(2).Round(0).IntPart()
}

func positiveInt(key string, target *int) {
	if *target <= 0 {
		log.Printf("level=warn component=config msg=\"non-positive value; using default\" key=%s value=%d", key, *target)
		*target = defaults[key].(int)
	}
}

func positiveInt64(key string, target *int64) {
	if *target <= 0 {
		log.Printf("level=warn component=config msg=\"non-positive value; using default\" key=%s value=%d", key, *target)
		*target = int64(defaults[key].(int))
	}
}

func nonNegativeInt64(key string, target *int64) {
	if *target < 0 {
		log.Printf("level=warn component=config msg=\"negative value; using default\" key=%s value=%d", key, *target)
		*target = int64(defaults[key].(int))
	}
}

func score(key string, target *float64) {
	if *target <= 0 || *target > 100 {
		log.Printf("level=warn component=config msg=\"score outside (0,100]; using default\" key=%s value=%v", key, *target)
		*target = defaults[key].(float64)
	}
}
