package config

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"starlane-server/internal/shared/utils"

	"github.com/joho/godotenv"
)

type Config struct {
	Server    ServerConfig
	Database  DatabaseConfig
	Redis     RedisConfig
	Gateway   GatewayConfig
	Frontend  FrontendConfig
	Logging   LoggingConfig
	RateLimit RateLimitConfig
	Analytics AnalyticsConfig
	Galaxy    GalaxyConfig
	Balance   Balance
}

type ServerConfig struct {
	Port         string
	Environment  string
	ReadTimeout  time.Duration
	WriteTimeout time.Duration
	IdleTimeout  time.Duration
}

type DatabaseConfig struct {
	Driver          string
	Path            string
	URL             string
	MaxOpenConns    int
	MaxIdleConns    int
	ConnMaxLifetime time.Duration
	LockTimeout     time.Duration
	ShutdownTimeout time.Duration
}

type RedisConfig struct {
	Enabled  bool
	URL      string
	Host     string
	Port     string
	Password string
	DB       int
	Channel  string
}

type GatewayConfig struct {
	Token         string
	GuildID       int64
	TokenLifetime time.Duration
	MapPublic     bool
	Admins        []int64
}

type FrontendConfig struct {
	URL       string
	CORSDebug bool
}

type LoggingConfig struct {
	Level      string
	Format     string
	JSONFormat bool
}

type RateLimitConfig struct {
	Enabled               bool
	RequestsPerSecond     float64
	BurstSize             int
	InteractionsPerSecond float64
	InteractionBurst      int
	TrustProxy            bool
}

type AnalyticsConfig struct {
	Enabled bool
	Dir     string
}

// GalaxyConfig seeds the galaxy clock on first start. Later starts keep the
// persisted values.
type GalaxyConfig struct {
	Name      string
	Epoch     time.Time
	TimeScale float64
}

var GlobalConfig *Config

func Init() error {
	if err := godotenv.Load(); err != nil {
		fmt.Println("No .env file found, using system environment variables")
	}

	config, err := load()
	if err != nil {
		return fmt.Errorf("failed to load configuration: %w", err)
	}

	if err := config.validate(); err != nil {
		return fmt.Errorf("invalid configuration: %w", err)
	}

	GlobalConfig = config
	return nil
}

func load() (*Config, error) {
	balance, err := LoadBalance(utils.GetEnv("BALANCE_FILE", ""))
	if err != nil {
		return nil, err
	}

	galaxy, err := loadGalaxyConfig()
	if err != nil {
		return nil, err
	}

	config := &Config{
		Server:    loadServerConfig(),
		Database:  loadDatabaseConfig(),
		Redis:     loadRedisConfig(),
		Gateway:   loadGatewayConfig(),
		Frontend:  loadFrontendConfig(),
		Logging:   loadLoggingConfig(),
		RateLimit: loadRateLimitConfig(),
		Analytics: loadAnalyticsConfig(),
		Galaxy:    galaxy,
		Balance:   *balance,
	}

	return config, nil
}

func loadServerConfig() ServerConfig {
	return ServerConfig{
		Port:         utils.GetEnv("SERVER_PORT", "8080"),
		Environment:  utils.GetEnv("ENVIRONMENT", "development"),
		ReadTimeout:  utils.GetEnvSeconds("SERVER_READ_TIMEOUT_SECONDS", 15*time.Second),
		WriteTimeout: utils.GetEnvSeconds("SERVER_WRITE_TIMEOUT_SECONDS", 15*time.Second),
		IdleTimeout:  utils.GetEnvSeconds("SERVER_IDLE_TIMEOUT_SECONDS", 60*time.Second),
	}
}

func loadDatabaseConfig() DatabaseConfig {
	connMaxLifetime, _ := strconv.Atoi(utils.GetEnv("DB_CONN_MAX_LIFETIME_MINUTES", "30"))

	return DatabaseConfig{
		Driver:          strings.ToLower(utils.GetEnv("DB_DRIVER", "sqlite")),
		Path:            utils.GetEnv("DB_PATH", "data/starlane.db"),
		URL:             utils.GetEnv("DATABASE_URL", ""),
		MaxOpenConns:    utils.GetEnvInt("DB_MAX_OPEN_CONNS", 8),
		MaxIdleConns:    utils.GetEnvInt("DB_MAX_IDLE_CONNS", 4),
		ConnMaxLifetime: time.Duration(connMaxLifetime) * time.Minute,
		LockTimeout:     utils.GetEnvSeconds("DB_LOCK_TIMEOUT_SECONDS", 30*time.Second),
		ShutdownTimeout: utils.GetEnvSeconds("DB_SHUTDOWN_TIMEOUT_SECONDS", 10*time.Second),
	}
}

func loadRedisConfig() RedisConfig {
	db, _ := strconv.Atoi(utils.GetEnv("REDIS_DB", "0"))

	return RedisConfig{
		Enabled:  utils.GetEnv("REDIS_ENABLED", "false") == "true",
		URL:      utils.GetEnv("REDIS_URL", ""),
		Host:     utils.GetEnv("REDIS_HOST", "localhost"),
		Port:     utils.GetEnv("REDIS_PORT", "6379"),
		Password: utils.GetEnv("REDIS_PASSWORD", ""),
		DB:       db,
		Channel:  utils.GetEnv("REDIS_MAP_CHANNEL", "starlane:map"),
	}
}

func loadGatewayConfig() GatewayConfig {
	guildID, _ := strconv.ParseInt(utils.GetEnv("GUILD_ID", "0"), 10, 64)
	lifetime, _ := strconv.Atoi(utils.GetEnv("GATEWAY_TOKEN_LIFETIME_HOURS", "24"))

	return GatewayConfig{
		Token:         utils.GetEnv("GATEWAY_TOKEN", ""),
		GuildID:       guildID,
		TokenLifetime: time.Duration(lifetime) * time.Hour,
		MapPublic:     utils.GetEnvBool("MAP_PUBLIC", true),
		Admins:        parseIDs(utils.GetEnv("ADMIN_USER_IDS", "")),
	}
}

// parseIDs reads a comma-separated list of user ids, skipping junk.
func parseIDs(raw string) []int64 {
	var ids []int64
	for _, part := range strings.Split(raw, ",") {
		id, err := strconv.ParseInt(strings.TrimSpace(part), 10, 64)
		if err == nil && id > 0 {
			ids = append(ids, id)
		}
	}
	return ids
}

func loadFrontendConfig() FrontendConfig {
	return FrontendConfig{
		URL:       utils.GetEnv("FRONTEND_URL", "http://localhost:3000"),
		CORSDebug: utils.GetEnv("CORS_DEBUG", "") == "true",
	}
}

func loadLoggingConfig() LoggingConfig {
	environment := utils.GetEnv("ENVIRONMENT", "development")
	format := utils.GetEnv("LOG_FORMAT", "text")

	return LoggingConfig{
		Level:      utils.GetEnv("LOG_LEVEL", "debug"),
		Format:     format,
		JSONFormat: environment == "production" || format == "json",
	}
}

func loadRateLimitConfig() RateLimitConfig {
	requestsPerSecond, _ := strconv.ParseFloat(utils.GetEnv("RATE_LIMIT_REQUESTS_PER_SECOND", "10"), 64)
	interactionsPerSecond, _ := strconv.ParseFloat(utils.GetEnv("RATE_LIMIT_INTERACTIONS_PER_SECOND", "2"), 64)

	return RateLimitConfig{
		Enabled:               utils.GetEnv("RATE_LIMIT_ENABLED", "true") == "true",
		RequestsPerSecond:     requestsPerSecond,
		BurstSize:             utils.GetEnvInt("RATE_LIMIT_BURST_SIZE", 20),
		InteractionsPerSecond: interactionsPerSecond,
		InteractionBurst:      utils.GetEnvInt("RATE_LIMIT_INTERACTION_BURST", 5),
		TrustProxy:            utils.GetEnvBool("RATE_LIMIT_TRUST_PROXY", false),
	}
}

func loadAnalyticsConfig() AnalyticsConfig {
	return AnalyticsConfig{
		Enabled: utils.GetEnv("ANALYTICS_ENABLED", "true") == "true",
		Dir:     utils.GetEnv("ANALYTICS_DIR", "data/analytics"),
	}
}

func loadGalaxyConfig() (GalaxyConfig, error) {
	epoch, err := time.Parse(time.RFC3339, utils.GetEnv("GALAXY_EPOCH", "2751-01-01T00:00:00Z"))
	if err != nil {
		return GalaxyConfig{}, fmt.Errorf("GALAXY_EPOCH must be an RFC 3339 timestamp: %w", err)
	}
	scale, err := strconv.ParseFloat(utils.GetEnv("TIME_SCALE_FACTOR", "4"), 64)
	if err != nil {
		return GalaxyConfig{}, fmt.Errorf("TIME_SCALE_FACTOR must be a number: %w", err)
	}

	return GalaxyConfig{
		Name:      utils.GetEnv("GALAXY_NAME", "Starlane"),
		Epoch:     epoch.UTC(),
		TimeScale: scale,
	}, nil
}

func (c *Config) validate() error {
	if c.Gateway.Token == "" {
		return fmt.Errorf("GATEWAY_TOKEN is required")
	}

	if len(c.Gateway.Token) < 32 {
		return fmt.Errorf("GATEWAY_TOKEN must be at least 32 characters long")
	}

	if c.Gateway.GuildID == 0 {
		return fmt.Errorf("GUILD_ID is required")
	}

	if c.Server.Port == "" {
		return fmt.Errorf("SERVER_PORT is required")
	}

	switch c.Database.Driver {
	case "sqlite":
		if c.Database.Path == "" {
			return fmt.Errorf("DB_PATH is required")
		}
	case "postgres":
		if c.Database.URL == "" {
			return fmt.Errorf("DATABASE_URL is required when DB_DRIVER=postgres")
		}
	default:
		return fmt.Errorf("unsupported DB_DRIVER %q", c.Database.Driver)
	}

	if c.Galaxy.TimeScale <= 0 {
		return fmt.Errorf("TIME_SCALE_FACTOR must be positive")
	}

	if c.Database.LockTimeout <= 0 {
		return fmt.Errorf("DB_LOCK_TIMEOUT_SECONDS must be positive")
	}

	return nil
}

// DataSource returns the driver-specific connection string.
func (c *Config) DataSource() string {
	if c.Database.Driver == "postgres" {
		return c.Database.URL
	}
	return c.Database.Path
}
