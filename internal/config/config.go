// Package config предоставляет структуры и функции для загрузки и проверки конфига.
package config

import (
	"errors"
	"fmt"
	"log"
	"os"
	"time"

	"github.com/go-playground/validator"
	"github.com/ilyakaznacheev/cleanenv"
)

// Config общая структура для хранения настроек.
type Config struct {
	Env             string   `yaml:"env" env:"ENV" env-default:"local" validate:"oneof=local dev prod test"`
	Telegram        Telegram `yaml:"telegram"`
	Storage         Storage  `yaml:"storage"`
	Health          Health   `yaml:"health"`
	RabbitMQ        RabbitMQ `yaml:"rabbitmq"`
	Policy          Policy   `yaml:"policy"`
	RedisConnection `yaml:"redis_connection"`
	HTTPServer      `yaml:"http_server"`
}

// Telegram настройки Bot API и единственного администратора.
type Telegram struct {
	BotToken       string        `yaml:"bot_token" env:"TELEGRAM_BOT_TOKEN" validate:"required"`
	AdminID        int64         `yaml:"admin_id" env:"TELEGRAM_ADMIN_ID" validate:"required"`
	APIURL         string        `yaml:"api_url" env-default:"https://api.telegram.org" validate:"required,url"`
	PollTimeout    time.Duration `yaml:"poll_timeout" env-default:"30s"`
	RequestTimeout time.Duration `yaml:"request_timeout" env-default:"15s"`
	Workers        int           `yaml:"workers" env-default:"16" validate:"gt=0"`
}

// Storage где лежат учётные записи и пул точек.
type Storage struct {
	Driver           string `yaml:"driver" env:"STORAGE_DRIVER" env-default:"file" validate:"oneof=file postgres"`
	AccountsPath     string `yaml:"accounts_path" env-default:"users.json"`
	EndpointsPath    string `yaml:"endpoints_path" env-default:"ip.txt" validate:"required"`
	ConnectionString string `yaml:"connection_string" env:"STORAGE_CONNECTION_STRING"`
	MigrationsPath   string `yaml:"migrations_path" env-default:"./migrations"`
}

// Health настройки монитора доступности и внешнего сервиса проверки.
type Health struct {
	CacheDriver       string        `yaml:"cache_driver" env-default:"file" validate:"oneof=file redis"`
	CachePath         string        `yaml:"cache_path" env-default:"proxy_status.json"`
	CacheKey          string        `yaml:"cache_key" env-default:"proxy:health"`
	Schedule          string        `yaml:"schedule" env-default:"@every 1h" validate:"required"`
	FirstRunDelay     time.Duration `yaml:"first_run_delay" env-default:"5s"`
	CheckerURL        string        `yaml:"checker_url" env-default:"https://proxychecker.org/api" validate:"required,url"`
	Credentials       []string      `yaml:"credentials" env:"HEALTH_CHECKER_CREDENTIALS" env-separator:","`
	RequestTimeout    time.Duration `yaml:"request_timeout" env-default:"15s"`
	RequestsPerSecond float64       `yaml:"requests_per_second" env-default:"2" validate:"gt=0"`
}

// RabbitMQ очередь рассылок. При Enabled=false рассылка идёт напрямую.
type RabbitMQ struct {
	Enabled    bool          `yaml:"enabled" env:"RABBITMQ_ENABLED"`
	URL        string        `yaml:"url" env:"RABBITMQ_URL"`
	MaxRetries int           `yaml:"max_retries" env-default:"5"`
	RetryDelay time.Duration `yaml:"retry_delay" env-default:"2s"`
}

// Policy правила подписки и значения по умолчанию для балансов.
type Policy struct {
	SubscriptionDays int           `yaml:"subscription_days" env-default:"30" validate:"gt=0"`
	Cooldown         time.Duration `yaml:"cooldown" env-default:"5s"`
	AutoDeleteAfter  time.Duration `yaml:"autodelete_after" env-default:"5s"`
	DefaultRate      float64       `yaml:"default_rate" env-default:"120" validate:"gt=0"`
	DefaultDue       float64       `yaml:"default_due" env-default:"1400" validate:"gte=0"`
	DefaultDueRate   float64       `yaml:"default_due_rate" env-default:"1400" validate:"gte=0"`
	ReminderDays     int           `yaml:"reminder_days" env-default:"3" validate:"gte=0"`
	ReminderSchedule string        `yaml:"reminder_schedule" env-default:"0 0 0 * * *" validate:"required"`
	Currency         string        `yaml:"currency" env-default:"BDT"`
}

// HTTPServer служебный HTTP: /healthz, /metrics и статус точек.
type HTTPServer struct {
	AddressHTTP string        `yaml:"addresshttp" env-default:":8080"`
	TimeoutHTTP time.Duration `yaml:"timeouthttp" env-default:"10s"`
	IdleTimeout time.Duration `yaml:"idle_timeout" env-default:"60s"`
	APIRate     float64       `yaml:"api_rate" env-default:"5" validate:"gt=0"`
	APIBurst    int           `yaml:"api_burst" env-default:"10" validate:"gt=0"`
}

// RedisConnection структура для настройки подключения к redis.
type RedisConnection struct {
	AddressRedis string        `yaml:"addressredis" env:"REDIS_ADDRESS"`
	Password     string        `yaml:"password" env:"REDIS_PASSWORD"`
	User         string        `yaml:"user"`
	DB           int           `yaml:"db"`
	MaxRetries   int           `yaml:"max_retries"`
	DialTimeout  time.Duration `yaml:"dial_timeout"`
	TimeoutRedis time.Duration `yaml:"timeoutredis"`
}

// MustLoad читает конфиг из CONFIG_PATH и завершает процесс при ошибке.
func MustLoad() *Config {
	configPath := os.Getenv("CONFIG_PATH")
	if configPath == "" {
		log.Fatal("CONFIG_PATH is not set")
	}
	if _, err := os.Stat(configPath); os.IsNotExist(err) {
		log.Fatalf("file: %s - does not exist", configPath)
	}

	cfg, err := Load(configPath)
	if err != nil {
		log.Fatalf("cannot read config: %s", err)
	}
	return cfg
}

// Load читает и проверяет конфиг по пути path.
func Load(path string) (*Config, error) {
	var cfg Config
	if err := cleanenv.ReadConfig(path, &cfg); err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate проверяет теги validate и связи между секциями.
func (c *Config) Validate() error {
	if err := validator.New().Struct(c); err != nil {
		return fmt.Errorf("config: %w", err)
	}
	if c.Storage.Driver == "postgres" && c.Storage.ConnectionString == "" {
		return errors.New("config: storage.connection_string is required for postgres driver")
	}
	if c.Health.CacheDriver == "redis" && c.AddressRedis == "" {
		return errors.New("config: redis_connection.addressredis is required for redis cache")
	}
	if c.RabbitMQ.Enabled && c.RabbitMQ.URL == "" {
		return errors.New("config: rabbitmq.url is required when rabbitmq is enabled")
	}
	return nil
}

// String печатает конфиг без секретов.
func (c *Config) String() string {
	return fmt.Sprintf(
		"Env: %s\n"+
			"Telegram:\n"+
			"  APIURL: %s\n"+
			"  AdminID: %d\n"+
			"  BotToken: %s\n"+
			"Storage:\n"+
			"  Driver: %s\n"+
			"  AccountsPath: %s\n"+
			"  EndpointsPath: %s\n"+
			"Health:\n"+
			"  CacheDriver: %s\n"+
			"  Schedule: %s\n"+
			"  CheckerURL: %s\n"+
			"  Credentials: %d\n"+
			"RabbitMQ:\n"+
			"  Enabled: %t\n"+
			"HTTPServer:\n"+
			"  Address: %s\n"+
			"  Timeout: %s\n"+
			"  IdleTimeout: %s\n",
		c.Env,
		c.Telegram.APIURL,
		c.Telegram.AdminID,
		mask(c.Telegram.BotToken),
		c.Storage.Driver,
		c.Storage.AccountsPath,
		c.Storage.EndpointsPath,
		c.Health.CacheDriver,
		c.Health.Schedule,
		c.Health.CheckerURL,
		len(c.Health.Credentials),
		c.RabbitMQ.Enabled,
		c.AddressHTTP,
		c.TimeoutHTTP,
		c.IdleTimeout,
	)
}

func mask(s string) string {
	if s == "" {
		return ""
	}
	return "****"
}
