package config

import (
	"strings"
	"time"

	"github.com/Netflix/go-env"
	"github.com/joho/godotenv"
	"github.com/nimasrn/cod-ledger/pkg/logger"
	"github.com/nimasrn/cod-ledger/pkg/pg"
	"github.com/pkg/errors"
	"github.com/shopspring/decimal"
)

// Config holds every setting of the cod-ledger binaries. Values come from the environment,
// optionally seeded from a .env file; nothing else should read os.Getenv directly.
type Config struct {
	AppEnv  string `env:"APP_ENV,default=dev"`
	AppName string `env:"APP_NAME,default=cod_ledger"`

	HttpListenAddr         string        `env:"HTTP_LISTEN_ADDR,default=:8080"`
	HttpRequestTimeout     time.Duration `env:"HTTP_REQUEST_TIMEOUT,default=5s"`
	HttpServerReadTimeout  time.Duration `env:"HTTP_SERVER_READ_TIMEOUT,default=2500ms"`
	HttpServerWriteTimeout time.Duration `env:"HTTP_SERVER_WRITE_TIMEOUT,default=2500ms"`
	HttpThrottlePerSecond  float64       `env:"HTTP_THROTTLE_PER_SECOND,default=20"`
	HttpThrottleBurst      int           `env:"HTTP_THROTTLE_BURST,default=40"`

	PostgresReadHost     string `env:"POSTGRES_READ_HOST,default=localhost"`
	PostgresReadPort     string `env:"POSTGRES_READ_PORT,default=5432"`
	PostgresReadUser     string `env:"POSTGRES_READ_USER"`
	PostgresReadPassword string `env:"POSTGRES_READ_PASSWORD"`
	PostgresReadDatabase string `env:"POSTGRES_READ_DBNAME"`

	PostgresWriteHost     string `env:"POSTGRES_WRITE_HOST,default=localhost"`
	PostgresWritePort     string `env:"POSTGRES_WRITE_PORT,default=5432"`
	PostgresWriteUser     string `env:"POSTGRES_WRITE_USER"`
	PostgresWritePassword string `env:"POSTGRES_WRITE_PASSWORD"`
	PostgresWriteDatabase string `env:"POSTGRES_WRITE_DBNAME"`
	PostgresSSLMode       string `env:"POSTGRES_SSLMODE,default=disable"`

	RedisAddr               string `env:"REDIS_ADDR,default=localhost:6379"`
	RedisUsername           string `env:"REDIS_USER"`
	RedisPassword           string `env:"REDIS_PASS"`
	RedisDatabase           int    `env:"REDIS_DATABASE"`
	RedisUniversalKeyPrefix string `env:"REDIS_UNIVERSAL_KEY_PREFIX,default=cod:"`

	PromNamespace  string `env:"PROM_NAMESPACE,default=cod_ledger"`
	PromListenAddr string `env:"PROM_LISTEN_ADDR,default=:9100"`

	JwtSecret string `env:"JWT_SECRET"`
	JwtIssuer string `env:"JWT_ISSUER,default=cod-ledger"`

	OrderServiceURLs    []string      `env:"ORDER_SERVICE_URLS,default=http://localhost:8090"`
	OrderServiceTimeout time.Duration `env:"ORDER_SERVICE_TIMEOUT,default=3s"`
	OrderServiceRetries int           `env:"ORDER_SERVICE_RETRIES,default=2"`

	CodRateLimit            int           `env:"COD_RATE_LIMIT,default=10"`
	CodRateWindow           time.Duration `env:"COD_RATE_WINDOW,default=1h"`
	CodAutoApproveTolerance string        `env:"COD_AUTO_APPROVE_TOLERANCE,default=2"`
	CodDiscrepancyThreshold string        `env:"COD_DISCREPANCY_THRESHOLD,default=50"`
	CodMaxOverpayment       string        `env:"COD_MAX_OVERPAYMENT,default=100"`
	CodTimezone             string        `env:"COD_TIMEZONE,default=UTC"`

	QueueName              string        `env:"QUEUE_NAME,default=audit"`
	QueueConsumerGroup     string        `env:"QUEUE_CONSUMER_GROUP,default=audit-writers"`
	QueueConsumerName      string        `env:"QUEUE_CONSUMER_NAME,default=processor-1"`
	QueueMaxRetries        int           `env:"QUEUE_MAX_RETRIES,default=5"`
	QueueVisibilityTimeout time.Duration `env:"QUEUE_VISIBILITY_TIMEOUT,default=30s"`
	QueuePollInterval      time.Duration `env:"QUEUE_POLL_INTERVAL,default=500ms"`
	QueueBatchSize         int64         `env:"QUEUE_BATCH_SIZE,default=50"`
	QueueMaxLen            int64         `env:"QUEUE_MAX_LEN,default=100000"`
	QueueEnableDLQ         bool          `env:"QUEUE_ENABLE_DLQ,default=true"`
	NotificationQueueName  string        `env:"NOTIFICATION_QUEUE_NAME,default=notifications"`

	WorkerCount      int `env:"WORKER_COUNT,default=8"`
	WorkerBufferSize int `env:"WORKER_BUFFER_SIZE,default=256"`

	SweepEnabled bool          `env:"SWEEP_ENABLED,default=true"`
	SweepAt      string        `env:"SWEEP_AT,default=23:30"`
	SweepLockTTL time.Duration `env:"SWEEP_LOCK_TTL,default=5m"`
}

// Load reads an optional .env file at path and maps the environment onto a Config.
func Load(path string) (*Config, error) {
	logger.Info("loading configs..", "path", path)
	if path != "" {
		if err := godotenv.Load(path); err != nil {
			return nil, errors.Wrapf(err, "failed to load configuration file %s", path)
		}
	}

	c := &Config{}
	if _, err := env.UnmarshalFromEnviron(c); err != nil {
		return nil, errors.Wrap(err, "failed to map env variables to configuration")
	}
	if err := c.Validate(); err != nil {
		return nil, err
	}
	return c, nil
}

// Validate rejects settings the services cannot run with.
func (c *Config) Validate() error {
	for name, raw := range map[string]string{
		"COD_AUTO_APPROVE_TOLERANCE": c.CodAutoApproveTolerance,
		"COD_DISCREPANCY_THRESHOLD":  c.CodDiscrepancyThreshold,
		"COD_MAX_OVERPAYMENT":        c.CodMaxOverpayment,
	} {
		d, err := decimal.NewFromString(strings.TrimSpace(raw))
		if err != nil {
			return errors.Wrapf(err, "%s is not a number", name)
		}
		if d.IsNegative() {
			return errors.Errorf("%s must not be negative", name)
		}
	}
	if c.CodRateLimit <= 0 {
		return errors.New("COD_RATE_LIMIT must be positive")
	}
	if c.CodRateWindow <= 0 {
		return errors.New("COD_RATE_WINDOW must be positive")
	}
	if _, err := time.LoadLocation(c.CodTimezone); err != nil {
		return errors.Wrap(err, "COD_TIMEZONE")
	}
	if _, err := time.Parse("15:04", c.SweepAt); err != nil {
		return errors.Wrap(err, "SWEEP_AT must be HH:MM")
	}
	return nil
}

func (c *Config) IsDev() bool {
	return c.AppEnv == "dev"
}

func (c *Config) PostgresRead() pg.Config {
	return pg.Config{
		User:     c.PostgresReadUser,
		Host:     c.PostgresReadHost,
		Port:     c.PostgresReadPort,
		Password: c.PostgresReadPassword,
		Database: c.PostgresReadDatabase,
		SSLMode:  c.PostgresSSLMode,
	}
}

func (c *Config) PostgresWrite() pg.Config {
	return pg.Config{
		User:     c.PostgresWriteUser,
		Host:     c.PostgresWriteHost,
		Port:     c.PostgresWritePort,
		Password: c.PostgresWritePassword,
		Database: c.PostgresWriteDatabase,
		SSLMode:  c.PostgresSSLMode,
	}
}

// Location is the timezone that decides which calendar day a collection belongs to.
func (c *Config) Location() *time.Location {
	loc, err := time.LoadLocation(c.CodTimezone)
	if err != nil {
		return time.UTC
	}
	return loc
}

func (c *Config) AutoApproveTolerance() decimal.Decimal {
	return decimal.RequireFromString(strings.TrimSpace(c.CodAutoApproveTolerance))
}

func (c *Config) DiscrepancyThreshold() decimal.Decimal {
	return decimal.RequireFromString(strings.TrimSpace(c.CodDiscrepancyThreshold))
}

func (c *Config) MaxOverpayment() decimal.Decimal {
	return decimal.RequireFromString(strings.TrimSpace(c.CodMaxOverpayment))
}

// EnvPathFromArgs returns the value of a --env=path argument when the file exists.
func EnvPathFromArgs(args []string) string {
	for _, v := range args {
		if path, ok := strings.CutPrefix(v, "--env="); ok {
			if _, err := godotenv.Read(path); err != nil {
				logger.Error("failed to open the passed env file", "path", path, "error", err)
				return ""
			}
			return path
		}
	}
	return ""
}
