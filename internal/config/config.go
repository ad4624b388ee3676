package config

import (
	"fmt"
	"os"
	"time"

	"github.com/spf13/viper"
)

type Config struct {
	Server      ServerConfig      `mapstructure:"server"`
	Serial      SerialConfig      `mapstructure:"serial"`
	Machine     MachineConfig     `mapstructure:"machine"`
	Diagnostics DiagnosticsConfig `mapstructure:"diagnostics"`
	Health      HealthConfig      `mapstructure:"health"`
	Auth        AuthConfig        `mapstructure:"auth"`
	Database    DatabaseConfig    `mapstructure:"database"`
}

type ServerConfig struct {
	HTTPPort        int           `mapstructure:"http_port"`
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout"`
}

type SerialConfig struct {
	Device         string        `mapstructure:"device"`
	Baud           int           `mapstructure:"baud"`
	CommandTimeout time.Duration `mapstructure:"command_timeout"`
	StatsWindow    time.Duration `mapstructure:"stats_window"`
}

type MachineConfig struct {
	StatusMaxAge  time.Duration `mapstructure:"status_max_age"`
	PollInterval  time.Duration `mapstructure:"poll_interval"`
	HomingTimeout time.Duration `mapstructure:"homing_timeout"`
}

type DiagnosticsConfig struct {
	SequencePath string        `mapstructure:"sequence_path"`
	StepTimeout  time.Duration `mapstructure:"step_timeout"`
}

type HealthConfig struct {
	ConnectionTimeout        time.Duration `mapstructure:"connection_timeout"`
	MachineTimeout           time.Duration `mapstructure:"machine_timeout"`
	SystemTimeout            time.Duration `mapstructure:"system_timeout"`
	ErrorRateCriticalPercent float64       `mapstructure:"error_rate_critical_percent"`
	ResponseTimeCriticalMs   float64       `mapstructure:"response_time_critical_ms"`
	ResponseTimeWarningMs    float64       `mapstructure:"response_time_warning_ms"`
	MemoryCriticalPercent    float64       `mapstructure:"memory_critical_percent"`
}

// Auth Configuration
type AuthConfig struct {
	JWTSecretEnv   string        `mapstructure:"jwt_secret_env"`
	AccessTokenTTL time.Duration `mapstructure:"access_token_ttl"`
	Users          []UserConfig  `mapstructure:"users"`
}

type UserConfig struct {
	Username     string `mapstructure:"username"`
	PasswordHash string `mapstructure:"password_hash"`
	Role         string `mapstructure:"role"`
}

type DatabaseConfig struct {
	Host           string `mapstructure:"host"`
	Port           int    `mapstructure:"port"`
	Database       string `mapstructure:"database"`
	User           string `mapstructure:"user"`
	Password       string `mapstructure:"password"`
	MaxConnections int    `mapstructure:"max_connections"`
}

func Load(path string) (*Config, error) {
	v := viper.New()

	setDefaults(v)

	v.AutomaticEnv()
	v.SetEnvPrefix("CNC")

	if path != "" {
		v.SetConfigFile(path)
		v.SetConfigType("yaml")
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("failed to read config: %w", err)
		}
	}

	var config Config
	if err := v.Unmarshal(&config); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	return &config, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("server.http_port", 8080)
	v.SetDefault("server.shutdown_timeout", "30s")

	v.SetDefault("serial.device", "/dev/ttyUSB0")
	v.SetDefault("serial.baud", 115200)
	v.SetDefault("serial.command_timeout", "2s")
	v.SetDefault("serial.stats_window", "60s")

	v.SetDefault("machine.status_max_age", "2s")
	v.SetDefault("machine.poll_interval", "500ms")
	v.SetDefault("machine.homing_timeout", "30s")

	v.SetDefault("diagnostics.step_timeout", "5s")

	v.SetDefault("health.connection_timeout", "5s")
	v.SetDefault("health.machine_timeout", "5s")
	v.SetDefault("health.system_timeout", "1s")
	v.SetDefault("health.error_rate_critical_percent", 5.0)
	v.SetDefault("health.response_time_critical_ms", 10000.0)
	v.SetDefault("health.response_time_warning_ms", 2000.0)
	v.SetDefault("health.memory_critical_percent", 85.0)

	v.SetDefault("auth.jwt_secret_env", "JWT_SECRET")
	v.SetDefault("auth.access_token_ttl", "60m")

	v.SetDefault("database.port", 5432)
	v.SetDefault("database.max_connections", 10)
}

func (c *DatabaseConfig) DSN() string {
	return fmt.Sprintf("postgres://%s:%s@%s:%d/%s?sslmode=disable",
		c.User, c.Password, c.Host, c.Port, c.Database)
}

// Enabled reports whether report persistence is configured at all. The
// service runs without a database; persistence is best effort.
func (c *DatabaseConfig) Enabled() bool {
	return c.Host != ""
}

// GetJWTSecret loads the signing secret from the configured env variable.
func (a *AuthConfig) GetJWTSecret() string {
	envVar := a.JWTSecretEnv
	if envVar == "" {
		envVar = "JWT_SECRET"
	}

	secret := os.Getenv(envVar)
	if secret == "" {
		// Development fallback, rejected by IsProductionReady.
		return "dev-secret-change-in-production-min-32-chars"
	}
	return secret
}

func (a *AuthConfig) IsProductionReady() bool {
	secret := a.GetJWTSecret()
	return secret != "dev-secret-change-in-production-min-32-chars" && len(secret) >= 32
}
