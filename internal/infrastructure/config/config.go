package config

import (
	"errors"
	"os"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
)

type Config struct {
	Instruments struct {
		List []string `toml:"list"`
	} `toml:"instruments"`

	Schedule struct {
		Enabled        bool `toml:"enabled"`
		IntervalSec    int  `toml:"interval_sec"`
		MaxIdleWaitSec int  `toml:"max_idle_wait_sec"`
	} `toml:"schedule"`

	Volatility struct {
		PollIntervalSec   int     `toml:"poll_interval_sec"`
		ThresholdBps      float64 `toml:"threshold_bps"`
		DebounceWindowSec int     `toml:"debounce_window_sec"`
		MaxAttempts       int     `toml:"max_attempts"`
		RetryBackoffMs    int     `toml:"retry_backoff_ms"`
	} `toml:"volatility"`

	Agent struct {
		BaseURL            string `toml:"base_url"`
		AnalysisTimeoutSec int    `toml:"analysis_timeout_sec"`
		ReconnectDelaySec  int    `toml:"reconnect_delay_sec"`
	} `toml:"agent"`

	Reconcile struct {
		SweepIntervalSec int `toml:"sweep_interval_sec"`
	} `toml:"reconcile"`

	Exchange struct {
		OKX struct {
			RestURL    string `toml:"rest_url"`
			APIKey     string `toml:"api_key"`
			APISecret  string `toml:"api_secret"`
			Passphrase string `toml:"passphrase"`
		} `toml:"okx"`
	} `toml:"exchange"`

	Storage struct {
		Postgres struct {
			Enabled bool   `toml:"enabled"`
			DSN     string `toml:"dsn"`
		} `toml:"postgres"`
		SQLite struct {
			Enabled bool   `toml:"enabled"`
			Path    string `toml:"path"`
		} `toml:"sqlite"`
		Redis struct {
			Enabled bool   `toml:"enabled"`
			Addr    string `toml:"addr"`
			Prefix  string `toml:"prefix"`
			TTLSec  int    `toml:"ttl_sec"`
		} `toml:"redis"`
	} `toml:"storage"`

	Metrics struct {
		ListenAddr string `toml:"listen_addr"`
	} `toml:"metrics"`
}

func Load(path string) (*Config, error) {
	var cfg Config
	if _, err := toml.DecodeFile(path, &cfg); err != nil {
		return nil, err
	}
	applyEnvOverrides(&cfg)
	applyDefaults(&cfg)
	if err := validate(&cfg); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// applyEnvOverrides 敏感配置优先从环境变量读取，不落在 toml 里。
func applyEnvOverrides(cfg *Config) {
	if v := os.Getenv("OKX_API_KEY"); v != "" {
		cfg.Exchange.OKX.APIKey = v
	}
	if v := os.Getenv("OKX_API_SECRET"); v != "" {
		cfg.Exchange.OKX.APISecret = v
	}
	if v := os.Getenv("OKX_PASSPHRASE"); v != "" {
		cfg.Exchange.OKX.Passphrase = v
	}
	if v := os.Getenv("POSTGRES_DSN"); v != "" {
		cfg.Storage.Postgres.DSN = v
	}
	if v := os.Getenv("REDIS_ADDR"); v != "" {
		cfg.Storage.Redis.Addr = v
	}
	if v := os.Getenv("AGENT_BASE_URL"); v != "" {
		cfg.Agent.BaseURL = v
	}
}

func applyDefaults(cfg *Config) {
	if cfg.Schedule.IntervalSec <= 0 {
		cfg.Schedule.IntervalSec = 900
	}
	if cfg.Schedule.MaxIdleWaitSec <= 0 {
		cfg.Schedule.MaxIdleWaitSec = 30
	}
	if cfg.Volatility.PollIntervalSec <= 0 {
		cfg.Volatility.PollIntervalSec = 5
	}
	if cfg.Volatility.ThresholdBps <= 0 {
		cfg.Volatility.ThresholdBps = 50
	}
	if cfg.Volatility.DebounceWindowSec <= 0 {
		cfg.Volatility.DebounceWindowSec = 120
	}
	if cfg.Volatility.MaxAttempts <= 0 {
		cfg.Volatility.MaxAttempts = 3
	}
	if cfg.Volatility.RetryBackoffMs <= 0 {
		cfg.Volatility.RetryBackoffMs = 500
	}
	if cfg.Agent.AnalysisTimeoutSec <= 0 {
		cfg.Agent.AnalysisTimeoutSec = 120
	}
	if cfg.Agent.ReconnectDelaySec <= 0 {
		cfg.Agent.ReconnectDelaySec = 5
	}
	if cfg.Reconcile.SweepIntervalSec <= 0 {
		cfg.Reconcile.SweepIntervalSec = 60
	}
	if cfg.Storage.Redis.Prefix == "" {
		cfg.Storage.Redis.Prefix = "tradepulse"
	}
	if cfg.Storage.Redis.TTLSec <= 0 {
		cfg.Storage.Redis.TTLSec = 300
	}
	if cfg.Metrics.ListenAddr == "" {
		cfg.Metrics.ListenAddr = ":9109"
	}
}

func validate(cfg *Config) error {
	cfg.Instruments.List = normalizeInstIDs(cfg.Instruments.List)
	if len(cfg.Instruments.List) == 0 {
		return errors.New("instruments.list is empty")
	}
	if strings.TrimSpace(cfg.Agent.BaseURL) == "" {
		return errors.New("agent.base_url is empty")
	}
	if cfg.Storage.Postgres.Enabled && strings.TrimSpace(cfg.Storage.Postgres.DSN) == "" {
		return errors.New("storage.postgres.dsn empty but enabled")
	}
	if cfg.Storage.SQLite.Enabled && strings.TrimSpace(cfg.Storage.SQLite.Path) == "" {
		return errors.New("storage.sqlite.path empty but enabled")
	}
	if cfg.Storage.Redis.Enabled && strings.TrimSpace(cfg.Storage.Redis.Addr) == "" {
		return errors.New("storage.redis.addr empty but enabled")
	}
	if !cfg.Storage.Postgres.Enabled && !cfg.Storage.SQLite.Enabled {
		return errors.New("at least one of storage.postgres / storage.sqlite must be enabled")
	}
	return nil
}

func normalizeInstIDs(in []string) []string {
	out := make([]string, 0, len(in))
	seen := map[string]struct{}{}
	for _, s := range in {
		u := strings.ToUpper(strings.TrimSpace(s))
		if u == "" {
			continue
		}
		if _, ok := seen[u]; ok {
			continue
		}
		seen[u] = struct{}{}
		out = append(out, u)
	}
	return out
}

func (c *Config) ScheduleInterval() time.Duration {
	return time.Duration(c.Schedule.IntervalSec) * time.Second
}

func (c *Config) MaxIdleWait() time.Duration {
	return time.Duration(c.Schedule.MaxIdleWaitSec) * time.Second
}

func (c *Config) PollInterval() time.Duration {
	return time.Duration(c.Volatility.PollIntervalSec) * time.Second
}

func (c *Config) DebounceWindow() time.Duration {
	return time.Duration(c.Volatility.DebounceWindowSec) * time.Second
}

func (c *Config) RetryBackoff() time.Duration {
	return time.Duration(c.Volatility.RetryBackoffMs) * time.Millisecond
}

func (c *Config) AnalysisTimeout() time.Duration {
	return time.Duration(c.Agent.AnalysisTimeoutSec) * time.Second
}

func (c *Config) ReconnectDelay() time.Duration {
	return time.Duration(c.Agent.ReconnectDelaySec) * time.Second
}

func (c *Config) SweepInterval() time.Duration {
	return time.Duration(c.Reconcile.SweepIntervalSec) * time.Second
}

func (c *Config) RedisTTL() time.Duration {
	return time.Duration(c.Storage.Redis.TTLSec) * time.Second
}
