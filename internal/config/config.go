package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config holds all configuration for the build pipeline.
type Config struct {
	Pipeline  PipelineConfig
	Capture   CaptureConfig
	Fetch     FetchConfig
	Toolchain ToolchainConfig
	Worker    WorkerConfig
	Redis     RedisConfig
	Database  DatabaseConfig
	RabbitMQ  RabbitMQConfig
	Log       LogConfig
}

type PipelineConfig struct {
	Timeout      time.Duration `mapstructure:"PASS_TIMEOUT"`
	PollInterval time.Duration `mapstructure:"PASS_POLL_INTERVAL"`
	TempDir      string        `mapstructure:"PASS_TEMP_DIR"`
	// ProcessEnv is merged into every child environment.
	ProcessEnv []string `mapstructure:"PASS_PROCESS_ENV"`
}

type CaptureConfig struct {
	MaxOutput    int64  `mapstructure:"PASS_MAX_OUTPUT"`
	VerbMaxChars int    `mapstructure:"PASS_VERB_MAX_CHARS"`
	VerbTabCount int    `mapstructure:"PASS_VERB_TAB_COUNT"`
	Encoding     string `mapstructure:"PASS_ENCODING"`
}

type FetchConfig struct {
	Timeout time.Duration `mapstructure:"PASS_FETCH_TIMEOUT"`
}

// ToolchainConfig names the external programs used by the build strategies.
type ToolchainConfig struct {
	Javac  string `mapstructure:"PASS_JAVAC"`
	Java   string `mapstructure:"PASS_JAVA"`
	CC     string `mapstructure:"PASS_CC"`
	CXX    string `mapstructure:"PASS_CXX"`
	Perl   string `mapstructure:"PASS_PERL"`
	Lua    string `mapstructure:"PASS_LUA"`
	Bash   string `mapstructure:"PASS_BASH"`
	Make   string `mapstructure:"PASS_MAKE"`
	Sh     string `mapstructure:"PASS_SH"`
	Python string `mapstructure:"PASS_PYTHON"`
	PHP    string `mapstructure:"PASS_PHP"`
}

type WorkerConfig struct {
	PoolSize    int    `mapstructure:"PASS_POOL_SIZE"`
	MetricsFile string `mapstructure:"PASS_METRICS_FILE"`
}

// RedisConfig enables per-session locking when URL is set.
type RedisConfig struct {
	URL     string        `mapstructure:"REDIS_URL"`
	LockTTL time.Duration `mapstructure:"PASS_LOCK_TTL"`
}

// DatabaseConfig enables report persistence when URL is set.
type DatabaseConfig struct {
	URL string `mapstructure:"DATABASE_URL"`
}

// RabbitMQConfig enables report publishing when URL is set.
type RabbitMQConfig struct {
	URL      string `mapstructure:"RABBITMQ_URL"`
	Exchange string `mapstructure:"PASS_REPORT_EXCHANGE"`
	Queue    string `mapstructure:"PASS_REPORT_QUEUE"`
}

type LogConfig struct {
	Level string `mapstructure:"PASS_LOG_LEVEL"`
}

// Load reads configuration from the environment, optionally layered over a
// config file. An empty path falls back to a .env file in the working
// directory, which may be absent.
func Load(path string) (*Config, error) {
	v := viper.New()
	setDefaults(v)
	v.AutomaticEnv()

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("read config %s: %w", path, err)
		}
	} else {
		v.SetConfigFile(".env")
		v.SetConfigType("env")
		_ = v.ReadInConfig()
	}

	cfg := &Config{}
	cfg.Pipeline.Timeout = v.GetDuration("PASS_TIMEOUT")
	cfg.Pipeline.PollInterval = v.GetDuration("PASS_POLL_INTERVAL")
	cfg.Pipeline.TempDir = v.GetString("PASS_TEMP_DIR")
	cfg.Pipeline.ProcessEnv = splitEnv(v.GetString("PASS_PROCESS_ENV"))

	cfg.Capture.MaxOutput = v.GetInt64("PASS_MAX_OUTPUT")
	cfg.Capture.VerbMaxChars = v.GetInt("PASS_VERB_MAX_CHARS")
	cfg.Capture.VerbTabCount = v.GetInt("PASS_VERB_TAB_COUNT")
	cfg.Capture.Encoding = v.GetString("PASS_ENCODING")

	cfg.Fetch.Timeout = v.GetDuration("PASS_FETCH_TIMEOUT")

	cfg.Toolchain.Javac = v.GetString("PASS_JAVAC")
	cfg.Toolchain.Java = v.GetString("PASS_JAVA")
	cfg.Toolchain.CC = v.GetString("PASS_CC")
	cfg.Toolchain.CXX = v.GetString("PASS_CXX")
	cfg.Toolchain.Perl = v.GetString("PASS_PERL")
	cfg.Toolchain.Lua = v.GetString("PASS_LUA")
	cfg.Toolchain.Bash = v.GetString("PASS_BASH")
	cfg.Toolchain.Make = v.GetString("PASS_MAKE")
	cfg.Toolchain.Sh = v.GetString("PASS_SH")
	cfg.Toolchain.Python = v.GetString("PASS_PYTHON")
	cfg.Toolchain.PHP = v.GetString("PASS_PHP")

	cfg.Worker.PoolSize = v.GetInt("PASS_POOL_SIZE")
	cfg.Worker.MetricsFile = v.GetString("PASS_METRICS_FILE")

	cfg.Redis.URL = v.GetString("REDIS_URL")
	cfg.Redis.LockTTL = v.GetDuration("PASS_LOCK_TTL")
	cfg.Database.URL = v.GetString("DATABASE_URL")
	cfg.RabbitMQ.URL = v.GetString("RABBITMQ_URL")
	cfg.RabbitMQ.Exchange = v.GetString("PASS_REPORT_EXCHANGE")
	cfg.RabbitMQ.Queue = v.GetString("PASS_REPORT_QUEUE")

	cfg.Log.Level = v.GetString("PASS_LOG_LEVEL")

	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("PASS_TIMEOUT", 120*time.Second)
	v.SetDefault("PASS_POLL_INTERVAL", 100*time.Millisecond)
	v.SetDefault("PASS_TEMP_DIR", "")
	v.SetDefault("PASS_PROCESS_ENV", "")
	v.SetDefault("PASS_MAX_OUTPUT", 10240)
	v.SetDefault("PASS_VERB_MAX_CHARS", 80)
	v.SetDefault("PASS_VERB_TAB_COUNT", 8)
	v.SetDefault("PASS_ENCODING", "UTF-8")
	v.SetDefault("PASS_FETCH_TIMEOUT", 5*time.Second)

	v.SetDefault("PASS_JAVAC", "javac")
	v.SetDefault("PASS_JAVA", "java")
	v.SetDefault("PASS_CC", "gcc")
	v.SetDefault("PASS_CXX", "g++")
	v.SetDefault("PASS_PERL", "perl")
	v.SetDefault("PASS_LUA", "lua")
	v.SetDefault("PASS_BASH", "bash")
	v.SetDefault("PASS_MAKE", "make")
	v.SetDefault("PASS_SH", "sh")
	v.SetDefault("PASS_PYTHON", "python3")
	v.SetDefault("PASS_PHP", "php")

	v.SetDefault("PASS_POOL_SIZE", 1)
	v.SetDefault("PASS_METRICS_FILE", "")

	// Empty URLs disable the optional integrations.
	v.SetDefault("REDIS_URL", "")
	v.SetDefault("PASS_LOCK_TTL", 10*time.Minute)
	v.SetDefault("DATABASE_URL", "")
	v.SetDefault("RABBITMQ_URL", "")
	v.SetDefault("PASS_REPORT_EXCHANGE", "")
	v.SetDefault("PASS_REPORT_QUEUE", "passbuild.reports")

	v.SetDefault("PASS_LOG_LEVEL", "info")
}

func (c *Config) validate() error {
	if c.Pipeline.Timeout <= 0 {
		return fmt.Errorf("PASS_TIMEOUT must be positive, got %s", c.Pipeline.Timeout)
	}
	if c.Pipeline.PollInterval <= 0 {
		return fmt.Errorf("PASS_POLL_INTERVAL must be positive, got %s", c.Pipeline.PollInterval)
	}
	if c.Capture.MaxOutput <= 0 {
		return fmt.Errorf("PASS_MAX_OUTPUT must be positive, got %d", c.Capture.MaxOutput)
	}
	if c.Capture.VerbMaxChars <= 0 || c.Capture.VerbTabCount <= 0 {
		return fmt.Errorf("verbatim width and tab count must be positive")
	}
	if c.Worker.PoolSize < 1 {
		return fmt.Errorf("PASS_POOL_SIZE must be at least 1, got %d", c.Worker.PoolSize)
	}
	return nil
}

// splitEnv parses "K=V;K2=V2" into an environment slice.
func splitEnv(raw string) []string {
	var env []string
	for _, kv := range strings.Split(raw, ";") {
		kv = strings.TrimSpace(kv)
		if kv == "" || !strings.Contains(kv, "=") {
			continue
		}
		env = append(env, kv)
	}
	return env
}
