package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"gopkg.in/yaml.v2"

	"confload/pkg/utils"
	"confload/pkg/validation"
)

type Config struct {
	Target struct {
		Domain      string `yaml:"domain"`
		RoomAddress string `yaml:"room_address"`
		Focus       string `yaml:"focus"`
	} `yaml:"target"`

	Fleet struct {
		Users                  int           `yaml:"users"`
		NicknameBase           string        `yaml:"nickname_base"`
		Pacing                 time.Duration `yaml:"pacing"`
		MediaPolicy            string        `yaml:"media_policy"` // "synthetic" or "null"
		AbortOnPacingInterrupt bool          `yaml:"abort_on_pacing_interrupt"`
		CredentialsFile        string        `yaml:"credentials_file"`
	} `yaml:"fleet"`

	Stats struct {
		Enabled      bool          `yaml:"enabled"`
		Overall      bool          `yaml:"overall"`
		AllStats     bool          `yaml:"all_stats"`
		Summary      bool          `yaml:"summary"`
		PollInterval time.Duration `yaml:"poll_interval"`
		OutputFile   string        `yaml:"output_file"`
	} `yaml:"stats"`

	Signaling struct {
		DialTimeout  time.Duration `yaml:"dial_timeout"`
		PingInterval time.Duration `yaml:"ping_interval"`
		PongTimeout  time.Duration `yaml:"pong_timeout"`
		WriteTimeout time.Duration `yaml:"write_timeout"`
		TokenSecret  string        `yaml:"token_secret"`
		TokenTTL     time.Duration `yaml:"token_ttl"`
		DialRetry    struct {
			Enabled     bool          `yaml:"enabled"`
			MaxAttempts int           `yaml:"max_attempts"`
			Delay       time.Duration `yaml:"delay"`
		} `yaml:"dial_retry"`
	} `yaml:"signaling"`

	Media struct {
		FrameInterval time.Duration `yaml:"frame_interval"`
		VideoBitrate  int           `yaml:"video_bitrate"` // kbps
	} `yaml:"media"`

	Redis struct {
		Enabled       bool          `yaml:"enabled"`
		Address       string        `yaml:"address"`
		Password      string        `yaml:"password"`
		DB            int           `yaml:"db"`
		Key           string        `yaml:"key"` // list the aggregate records are pushed to
		BatchSize     int           `yaml:"batch_size"`
		BatchInterval time.Duration `yaml:"batch_interval"`
	} `yaml:"redis"`

	Monitoring struct {
		Enabled bool   `yaml:"enabled"`
		Address string `yaml:"address"`
	} `yaml:"monitoring"`

	Tracing struct {
		Enabled    bool    `yaml:"enabled"`
		JaegerURL  string  `yaml:"jaeger_url"`
		SampleRate float64 `yaml:"sample_rate"`
	} `yaml:"tracing"`

	Logging struct {
		Level  string `yaml:"level"`
		Format string `yaml:"format"`
	} `yaml:"logging"`
}

// Validate checks that configuration values are within acceptable ranges.
func (c *Config) Validate() error {
	// Target
	if err := validation.ValidateDomain(c.Target.Domain); err != nil {
		return fmt.Errorf("target.domain: %w", err)
	}
	if err := validation.ValidateRoomAddress(c.Target.RoomAddress); err != nil {
		return fmt.Errorf("target.room_address: %w", err)
	}

	// Fleet
	if c.Fleet.Users < 1 {
		return fmt.Errorf("fleet.users must be >= 1")
	}
	if err := validation.ValidateNicknameBase(c.Fleet.NicknameBase); err != nil {
		return fmt.Errorf("fleet.nickname_base: %w", err)
	}
	if c.Fleet.Pacing < 0 {
		return fmt.Errorf("fleet.pacing must be >= 0")
	}
	if c.Fleet.MediaPolicy != "synthetic" && c.Fleet.MediaPolicy != "null" {
		return fmt.Errorf("fleet.media_policy must be one of: synthetic, null")
	}

	// Stats
	if c.Stats.Enabled {
		if c.Stats.PollInterval < time.Second {
			return fmt.Errorf("stats.poll_interval must be >= 1s when stats are enabled")
		}
		if c.Stats.OutputFile == "" {
			return fmt.Errorf("stats.output_file must not be empty when stats are enabled")
		}
	}

	// Signaling
	if c.Signaling.DialTimeout <= 0 {
		return fmt.Errorf("signaling.dial_timeout must be > 0")
	}
	if c.Signaling.PingInterval <= 0 {
		return fmt.Errorf("signaling.ping_interval must be > 0")
	}
	if c.Signaling.PongTimeout <= 0 {
		return fmt.Errorf("signaling.pong_timeout must be > 0")
	}
	if c.Signaling.WriteTimeout <= 0 {
		return fmt.Errorf("signaling.write_timeout must be > 0")
	}
	if c.Signaling.TokenSecret != "" && c.Signaling.TokenTTL <= 0 {
		return fmt.Errorf("signaling.token_ttl must be > 0 when token_secret is set")
	}
	if c.Signaling.DialRetry.Enabled {
		if c.Signaling.DialRetry.MaxAttempts <= 0 {
			return fmt.Errorf("signaling.dial_retry.max_attempts must be > 0 when dial retry is enabled")
		}
		if c.Signaling.DialRetry.Delay <= 0 {
			return fmt.Errorf("signaling.dial_retry.delay must be > 0 when dial retry is enabled")
		}
	}

	// Media
	if c.Media.FrameInterval <= 0 {
		return fmt.Errorf("media.frame_interval must be > 0")
	}
	if c.Media.VideoBitrate <= 0 {
		return fmt.Errorf("media.video_bitrate must be > 0")
	}

	// Redis
	if c.Redis.Enabled {
		if c.Redis.Address == "" {
			return fmt.Errorf("redis.address must not be empty when redis.enabled=true")
		}
		if c.Redis.Key == "" {
			return fmt.Errorf("redis.key must not be empty when redis.enabled=true")
		}
	}

	// Monitoring
	if c.Monitoring.Enabled && c.Monitoring.Address == "" {
		return fmt.Errorf("monitoring.address must not be empty when monitoring.enabled=true")
	}

	// Tracing
	if c.Tracing.Enabled {
		if c.Tracing.JaegerURL == "" {
			return fmt.Errorf("tracing.jaeger_url must not be empty when tracing.enabled=true")
		}
		if c.Tracing.SampleRate < 0 || c.Tracing.SampleRate > 1 {
			return fmt.Errorf("tracing.sample_rate must be in [0, 1]")
		}
	}

	// Logging
	if c.Logging.Level == "" {
		return fmt.Errorf("logging.level must not be empty")
	}

	return nil
}

// Load reads configuration from YAML file, applies defaults and env overrides.
func Load(configPath string) (*Config, error) {
	// If file does not exist, fall back to defaults
	if _, err := os.Stat(configPath); os.IsNotExist(err) {
		cfg := DefaultConfig()
		cfg.applyEnvOverrides()
		return cfg, nil
	}

	data, err := os.ReadFile(configPath)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file %s: %w", configPath, err)
	}

	cfg := DefaultConfig()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config yaml: %w", err)
	}

	cfg.applyEnvOverrides()
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return cfg, nil
}

// DefaultConfig returns configuration with sane defaults.
func DefaultConfig() *Config {
	cfg := &Config{}

	cfg.Target.Domain = "localhost:8081"
	cfg.Target.RoomAddress = "loadtest"
	cfg.Target.Focus = ""

	cfg.Fleet.Users = 1
	cfg.Fleet.NicknameBase = "loaduser"
	cfg.Fleet.Pacing = 2 * time.Second
	cfg.Fleet.MediaPolicy = "synthetic"
	cfg.Fleet.AbortOnPacingInterrupt = false

	cfg.Stats.Enabled = true
	cfg.Stats.Overall = true
	cfg.Stats.AllStats = false
	cfg.Stats.Summary = true
	cfg.Stats.PollInterval = 5 * time.Second
	cfg.Stats.OutputFile = "stats.jsonl"

	cfg.Signaling.DialTimeout = 10 * time.Second
	cfg.Signaling.PingInterval = 30 * time.Second
	cfg.Signaling.PongTimeout = 60 * time.Second
	cfg.Signaling.WriteTimeout = 10 * time.Second
	cfg.Signaling.TokenTTL = 15 * time.Minute
	cfg.Signaling.DialRetry.Enabled = false
	cfg.Signaling.DialRetry.MaxAttempts = 3
	cfg.Signaling.DialRetry.Delay = 500 * time.Millisecond

	cfg.Media.FrameInterval = 33 * time.Millisecond // ~30fps
	cfg.Media.VideoBitrate = 500

	cfg.Redis.Enabled = false
	cfg.Redis.Address = "localhost:6379"
	cfg.Redis.DB = 0
	cfg.Redis.Key = "confload:aggregates"
	cfg.Redis.BatchSize = 16
	cfg.Redis.BatchInterval = 2 * time.Second

	cfg.Monitoring.Enabled = false
	cfg.Monitoring.Address = ":9095"

	cfg.Tracing.Enabled = false
	cfg.Tracing.JaegerURL = "http://localhost:14268/api/traces"
	cfg.Tracing.SampleRate = 1.0

	cfg.Logging.Level = "info"
	cfg.Logging.Format = "json"

	return cfg
}

func (c *Config) applyEnvOverrides() {
	// Apply environment variable overrides
	if domain := os.Getenv("CONFLOAD_TARGET_DOMAIN"); domain != "" {
		c.Target.Domain = domain
	}
	if room := os.Getenv("CONFLOAD_TARGET_ROOM"); room != "" {
		c.Target.RoomAddress = room
	}
	if users := os.Getenv("CONFLOAD_FLEET_USERS"); users != "" {
		if n, err := strconv.Atoi(users); err == nil {
			c.Fleet.Users = n
		}
	}
	if interval := os.Getenv("CONFLOAD_STATS_POLL_INTERVAL"); interval != "" {
		c.Stats.PollInterval = utils.ParseDurationSafe(interval, c.Stats.PollInterval)
	}
	if level := os.Getenv("CONFLOAD_LOG_LEVEL"); level != "" {
		c.Logging.Level = level
	}
	if secret := os.Getenv("CONFLOAD_TOKEN_SECRET"); secret != "" {
		c.Signaling.TokenSecret = secret
	}
}
