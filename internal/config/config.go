package config

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"gopkg.in/yaml.v3"

	"parkgate/internal/availability"
	"parkgate/internal/model"
)

type Config struct {
	Database struct {
		Path string `yaml:"path"`
	} `yaml:"database"`

	Redis struct {
		Address  string `yaml:"address"`
		Password string `yaml:"password"`
		DB       int    `yaml:"db"`
	} `yaml:"redis"`

	API struct {
		Port int `yaml:"port"`
	} `yaml:"api"`

	Monitoring struct {
		HealthCheckPort   int  `yaml:"health_check_port"`
		PrometheusEnabled bool `yaml:"prometheus_enabled"`
		PrometheusPort    int  `yaml:"prometheus_port"`
	} `yaml:"monitoring"`

	Monitor struct {
		CheckIntervalSeconds   int `yaml:"check_interval_seconds"`
		DetectionWindowMinutes int `yaml:"detection_window_minutes"`
		ReminderLeadMinutes    int `yaml:"reminder_lead_minutes"`
	} `yaml:"monitor"`

	Gate struct {
		SessionTimeoutMinutes int `yaml:"session_timeout_minutes"`
		OTPTTLMinutes         int `yaml:"otp_ttl_minutes"`
	} `yaml:"gate"`

	Notifications struct {
		RatePerSecond float64 `yaml:"rate_per_second"`
		Burst         int     `yaml:"burst"`
	} `yaml:"notifications"`

	Rates model.RateTable     `yaml:"rates"`
	Lot   availability.Layout `yaml:"lot"`
}

func Load(path string) (*Config, error) {
	if path == "" {
		path = "configs/config.yaml"
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}

	// Support ${ENV_VAR} placeholders in YAML config.
	data = []byte(os.ExpandEnv(string(data)))

	var cfg Config
	if err = yaml.Unmarshal(data, &cfg); err != nil {
		return nil, err
	}

	if cfg.Database.Path == "" {
		cfg.Database.Path = "data/parkgate.db"
	}
	if cfg.API.Port == 0 {
		cfg.API.Port = 8080
	}
	if cfg.Rates == (model.RateTable{}) {
		cfg.Rates = model.DefaultRateTable()
	}
	if len(cfg.Lot.Floors) == 0 {
		return nil, fmt.Errorf("config %s defines no parking floors", path)
	}

	if err = os.MkdirAll(filepath.Dir(cfg.Database.Path), 0o755); err != nil {
		return nil, err
	}

	return &cfg, nil
}

func (c *Config) MonitorCheckInterval() time.Duration {
	if c.Monitor.CheckIntervalSeconds <= 0 {
		return 30 * time.Second
	}
	return time.Duration(c.Monitor.CheckIntervalSeconds) * time.Second
}

func (c *Config) MonitorDetectionWindow() time.Duration {
	if c.Monitor.DetectionWindowMinutes <= 0 {
		return 15 * time.Minute
	}
	return time.Duration(c.Monitor.DetectionWindowMinutes) * time.Minute
}

func (c *Config) MonitorReminderLead() time.Duration {
	if c.Monitor.ReminderLeadMinutes <= 0 {
		return 10 * time.Minute
	}
	return time.Duration(c.Monitor.ReminderLeadMinutes) * time.Minute
}

func (c *Config) GateSessionTimeout() time.Duration {
	if c.Gate.SessionTimeoutMinutes <= 0 {
		return 30 * time.Minute
	}
	return time.Duration(c.Gate.SessionTimeoutMinutes) * time.Minute
}

func (c *Config) OTPTTL() time.Duration {
	if c.Gate.OTPTTLMinutes <= 0 {
		return 5 * time.Minute
	}
	return time.Duration(c.Gate.OTPTTLMinutes) * time.Minute
}
