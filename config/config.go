// Ininicializing common application configuration
package config

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

type Config struct {
	Server      ServerConfig      `mapstructure:"server"`
	Database    DatabaseConfig    `mapstructure:"database"`
	Redis       RedisConfig       `mapstructure:"redis"`
	Kafka       KafkaConfig       `mapstructure:"kafka"`
	JWT         JWTConfig         `mapstructure:"jwt"`
	Email       EmailConfig       `mapstructure:"email"`
	Telegram    TelegramConfig    `mapstructure:"telegram"`
	Reservation ReservationConfig `mapstructure:"reservation"`
	Worker      WorkerConfig      `mapstructure:"worker"`
	Log         LogConfig         `mapstructure:"log"`
}

type ServerConfig struct {
	AppVersion  string        `mapstructure:"app_version"`
	Host        string        `mapstructure:"host"`
	Port        string        `mapstructure:"port"`
	Timeout     time.Duration `mapstructure:"timeout"`
	IdleTimeout time.Duration `mapstructure:"idle_timeout"`
	Env         string        `mapstructure:"environment"`
	Mode        string        `mapstructure:"mode"`
}

type DatabaseConfig struct {
	Host            string        `mapstructure:"host"`
	Port            int           `mapstructure:"port"`
	User            string        `mapstructure:"user"`
	Password        string        `mapstructure:"password"`
	DBName          string        `mapstructure:"dbname"`
	SSLMode         string        `mapstructure:"sslmode"`
	MaxOpenConns    int           `mapstructure:"max_open_conns"`
	MaxIdleConns    int           `mapstructure:"max_idle_conns"`
	ConnMaxLifetime time.Duration `mapstructure:"conn_max_lifetime"`
}

type RedisConfig struct {
	Enabled  bool   `mapstructure:"enabled"`
	Host     string `mapstructure:"host"`
	Port     int    `mapstructure:"port"`
	Password string `mapstructure:"password"`
	DB       int    `mapstructure:"db"`

	// Настройки пула соединений
	MaxRetries   int           `mapstructure:"max_retries"`
	PoolSize     int           `mapstructure:"pool_size"`
	MinIdleConns int           `mapstructure:"min_idle_conns"`
	DialTimeout  time.Duration `mapstructure:"dial_timeout"`
	ReadTimeout  time.Duration `mapstructure:"read_timeout"`
	WriteTimeout time.Duration `mapstructure:"write_timeout"`
	PoolTimeout  time.Duration `mapstructure:"pool_timeout"`

	KeyPrefix string `mapstructure:"key_prefix"`
}

type KafkaConfig struct {
	Brokers []string `mapstructure:"brokers"`
	Topic   string   `mapstructure:"topic"`
}

type JWTConfig struct {
	Secret string `mapstructure:"secret"`
}

type EmailConfig struct {
	From     string        `mapstructure:"from"`
	Host     string        `mapstructure:"host"`
	Port     int           `mapstructure:"port"`
	Username string        `mapstructure:"username"`
	Password string        `mapstructure:"password"`
	Timeout  time.Duration `mapstructure:"timeout"`
	Enabled  bool          `mapstructure:"enabled"`
}

type TelegramConfig struct {
	BotToken string `mapstructure:"bot_token"`
	Enabled  bool   `mapstructure:"enabled"`
}

type ReservationConfig struct {
	MaxActivity          int    `mapstructure:"max_activity"`
	PickupExpirationDays int    `mapstructure:"pickup_expiration_days"`
	ExtensionDays        int    `mapstructure:"extension_days"`
	OverdueHandlingDays  int    `mapstructure:"overdue_handling_days"`
	BorrowDays           int    `mapstructure:"borrow_days"`
	TimezoneOffsetHours  int    `mapstructure:"timezone_offset_hours"`
	TimezoneName         string `mapstructure:"timezone_name"`
}

// Location is the fixed zone used for calendar-day logic (pickup codes,
// expiry dates). It never depends on the host's zone.
func (r ReservationConfig) Location() *time.Location {
	name := r.TimezoneName
	if name == "" {
		name = fmt.Sprintf("UTC%+d", r.TimezoneOffsetHours)
	}
	return time.FixedZone(name, r.TimezoneOffsetHours*3600)
}

type WorkerConfig struct {
	SweepCron       string        `mapstructure:"sweep_cron"`
	TaskMaxRetries  int           `mapstructure:"task_max_retries"`
	TaskBaseDelay   time.Duration `mapstructure:"task_base_delay"`
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout"`
}

type LogConfig struct {
	Level string `mapstructure:"level"`
}

func LoadConfig() (*viper.Viper, error) {
	// .env is optional, real environment always wins
	if err := godotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
		return nil, fmt.Errorf("failed to load .env: %w", err)
	}

	viperInstance := viper.New()

	viperInstance.AddConfigPath("./config")
	viperInstance.SetConfigName("config")
	viperInstance.SetConfigType("yaml")

	setDefaults(viperInstance)

	viperInstance.SetEnvPrefix("LIBRARY")
	viperInstance.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	viperInstance.AutomaticEnv()

	err := viperInstance.ReadInConfig()
	if err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return nil, err
		}
	}
	return viperInstance, nil
}

func ParseConfig(v *viper.Viper) (*Config, error) {

	var c Config

	err := v.Unmarshal(&c)
	if err != nil {
		return nil, fmt.Errorf("unable to decode config into struct: %w", err)
	}
	if err := c.validate(); err != nil {
		return nil, err
	}
	return &c, nil
}

func (c *Config) validate() error {
	if c.Reservation.MaxActivity <= 0 {
		return fmt.Errorf("reservation.max_activity must be positive, got %d", c.Reservation.MaxActivity)
	}
	if c.Reservation.PickupExpirationDays <= 0 {
		return fmt.Errorf("reservation.pickup_expiration_days must be positive, got %d", c.Reservation.PickupExpirationDays)
	}
	if c.JWT.Secret == "" {
		return errors.New("jwt.secret is required")
	}
	return nil
}

// GetDatabaseDSN returns the lib/pq connection string
func (c *Config) GetDatabaseDSN() string {
	return fmt.Sprintf(
		"host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		c.Database.Host, c.Database.Port, c.Database.User, c.Database.Password, c.Database.DBName, c.Database.SSLMode,
	)
}

// IsProduction проверяет, production ли окружение
func (c *Config) IsProduction() bool {
	return c.Server.Env == "production"
}

// setDefaults устанавливает значения по умолчанию
func setDefaults(v *viper.Viper) {
	v.SetDefault("server.app_version", "1.0.0")
	v.SetDefault("server.host", "0.0.0.0")
	v.SetDefault("server.port", "8080")
	v.SetDefault("server.timeout", 30*time.Second)
	v.SetDefault("server.idle_timeout", 60*time.Second)
	v.SetDefault("server.environment", "development")
	v.SetDefault("server.mode", "debug")

	v.SetDefault("database.host", "localhost")
	v.SetDefault("database.port", 5432)
	v.SetDefault("database.user", "library")
	v.SetDefault("database.dbname", "library")
	v.SetDefault("database.sslmode", "disable")
	v.SetDefault("database.max_open_conns", 25)
	v.SetDefault("database.max_idle_conns", 5)
	v.SetDefault("database.conn_max_lifetime", 5*time.Minute)

	v.SetDefault("redis.enabled", false)
	v.SetDefault("redis.host", "localhost")
	v.SetDefault("redis.port", 6379)
	v.SetDefault("redis.pool_size", 10)
	v.SetDefault("redis.min_idle_conns", 2)
	v.SetDefault("redis.dial_timeout", 5*time.Second)
	v.SetDefault("redis.read_timeout", 3*time.Second)
	v.SetDefault("redis.write_timeout", 3*time.Second)
	v.SetDefault("redis.key_prefix", "library_reservation")

	v.SetDefault("kafka.topic", "library.reservations")

	v.SetDefault("email.from", "noreply@library.local")
	v.SetDefault("email.port", 587)
	v.SetDefault("email.timeout", 15*time.Second)
	v.SetDefault("email.enabled", false)

	v.SetDefault("telegram.enabled", false)

	v.SetDefault("reservation.max_activity", 5)
	v.SetDefault("reservation.pickup_expiration_days", 3)
	v.SetDefault("reservation.extension_days", 7)
	v.SetDefault("reservation.overdue_handling_days", 3)
	v.SetDefault("reservation.borrow_days", 14)
	v.SetDefault("reservation.timezone_offset_hours", 7)
	v.SetDefault("reservation.timezone_name", "ICT")

	v.SetDefault("worker.sweep_cron", "@every 5m")
	v.SetDefault("worker.task_max_retries", 3)
	v.SetDefault("worker.task_base_delay", 5*time.Second)
	v.SetDefault("worker.shutdown_timeout", 10*time.Second)

	v.SetDefault("log.level", "info")
}
