package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"grinder/internal/logging"
	"grinder/internal/master/scheduler"
	"grinder/pkg/model"

	"github.com/spf13/viper"
)

type Config struct {
	Etcd      EtcdConfig               `mapstructure:"etcd"`
	Redis     RedisConfig              `mapstructure:"redis"`
	Logging   logging.Config           `mapstructure:"logging"`
	Scheduler SchedulerConfig          `mapstructure:"scheduler"`
	Payloads  map[string]PayloadConfig `mapstructure:"payloads"`
	Worker    WorkerConfig             `mapstructure:"worker"`
	Status    StatusConfig             `mapstructure:"status"`
}

type EtcdConfig struct {
	Endpoints []string `mapstructure:"endpoints"`
}

type RedisConfig struct {
	Enabled  bool   `mapstructure:"enabled"`
	Addr     string `mapstructure:"addr"`
	Password string `mapstructure:"password"`
	DB       int    `mapstructure:"db"`
}

type SchedulerConfig struct {
	Mode           string        `mapstructure:"mode"`
	Home           string        `mapstructure:"home"`
	NodeOrder      string        `mapstructure:"node_order"`
	BatchSpacing   time.Duration `mapstructure:"batch_spacing"`
	SecurityBuffer float64       `mapstructure:"security_buffer"`
	MoneyThreshold float64       `mapstructure:"money_threshold"`
	HackFraction   float64       `mapstructure:"hack_fraction"`
	Ratios         RatiosConfig  `mapstructure:"ratios"`
	TargetDelay    time.Duration `mapstructure:"target_delay"`
	IterationDelay time.Duration `mapstructure:"iteration_delay"`
	IdleDelay      time.Duration `mapstructure:"idle_delay"`
	SimpleRetries  int           `mapstructure:"simple_retries"`
	RetryDelay     time.Duration `mapstructure:"retry_delay"`
	NodeTimeout    time.Duration `mapstructure:"node_timeout"`
}

type RatiosConfig struct {
	Weaken float64 `mapstructure:"weaken"`
	Grow   float64 `mapstructure:"grow"`
	Hack   float64 `mapstructure:"hack"`
}

type PayloadConfig struct {
	Name    string   `mapstructure:"name"`
	Image   string   `mapstructure:"image"`
	Command []string `mapstructure:"command"`
	Cost    float64  `mapstructure:"cost"`
}

type WorkerConfig struct {
	ID                string        `mapstructure:"id"`
	Capacity          float64       `mapstructure:"capacity"` // 0 derives it from host memory
	Neighbors         []string      `mapstructure:"neighbors"`
	HeartbeatInterval time.Duration `mapstructure:"heartbeat_interval"`
	Executor          string        `mapstructure:"executor"` // effect | docker
}

type StatusConfig struct {
	Addr string `mapstructure:"addr"`
}

// Load reads path (or configs/config.yaml when empty), then GRINDER_*
// environment overrides, on top of the defaults.
func Load(path string) (*Config, error) {
	v := viper.New()
	setDefaults(v)

	v.SetEnvPrefix("grinder")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if path != "" {
		v.SetConfigFile(path)
	} else {
		v.SetConfigName("config")
		v.SetConfigType("yaml")
		v.AddConfigPath("configs")
	}

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if path != "" || !errors.As(err, &notFound) {
			return nil, fmt.Errorf("error reading config file: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}
	if err := validate(&cfg); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}
	return &cfg, nil
}

func setDefaults(v *viper.Viper) {
	d := scheduler.DefaultConfig()

	v.SetDefault("etcd.endpoints", []string{"localhost:2379"})

	v.SetDefault("redis.enabled", false)
	v.SetDefault("redis.addr", "localhost:6379")
	v.SetDefault("redis.password", "")
	v.SetDefault("redis.db", 0)

	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.format", "json")

	v.SetDefault("scheduler.mode", string(d.Mode))
	v.SetDefault("scheduler.home", d.Home)
	v.SetDefault("scheduler.node_order", string(d.NodeOrder))
	v.SetDefault("scheduler.batch_spacing", d.BatchSpacing)
	v.SetDefault("scheduler.security_buffer", d.SecurityBuffer)
	v.SetDefault("scheduler.money_threshold", d.MoneyThreshold)
	v.SetDefault("scheduler.hack_fraction", d.HackFraction)
	v.SetDefault("scheduler.ratios.weaken", d.Ratios.Weaken)
	v.SetDefault("scheduler.ratios.grow", d.Ratios.Grow)
	v.SetDefault("scheduler.ratios.hack", d.Ratios.Hack)
	v.SetDefault("scheduler.target_delay", d.TargetDelay)
	v.SetDefault("scheduler.iteration_delay", d.IterationDelay)
	v.SetDefault("scheduler.idle_delay", d.IdleDelay)
	v.SetDefault("scheduler.simple_retries", d.SimpleRetries)
	v.SetDefault("scheduler.retry_delay", d.RetryDelay)
	v.SetDefault("scheduler.node_timeout", d.NodeTimeout)

	v.SetDefault("payloads.weaken.name", "weaken.js")
	v.SetDefault("payloads.weaken.cost", 1.75)
	v.SetDefault("payloads.grow.name", "grow.js")
	v.SetDefault("payloads.grow.cost", 1.75)
	v.SetDefault("payloads.hack.name", "hack.js")
	v.SetDefault("payloads.hack.cost", 1.7)

	v.SetDefault("worker.id", "")
	v.SetDefault("worker.capacity", 0)
	v.SetDefault("worker.heartbeat_interval", 3*time.Second)
	v.SetDefault("worker.executor", "effect")

	v.SetDefault("status.addr", ":9090")
}

func validate(cfg *Config) error {
	if len(cfg.Etcd.Endpoints) == 0 {
		return errors.New("at least one etcd endpoint is required")
	}
	if cfg.Redis.Enabled && cfg.Redis.Addr == "" {
		return errors.New("redis address is required when redis is enabled")
	}
	if _, err := cfg.Scheduler.Build(); err != nil {
		return err
	}
	for _, op := range model.Operations {
		p, ok := cfg.Payloads[string(op)]
		if !ok {
			return fmt.Errorf("payload for %s is required", op)
		}
		if !(p.Cost > 0) {
			return fmt.Errorf("payload %s cost must be positive, got %v", op, p.Cost)
		}
	}
	for name := range cfg.Payloads {
		if !model.Operation(name).Valid() {
			return fmt.Errorf("unknown payload operation %q", name)
		}
	}
	switch cfg.Worker.Executor {
	case "effect", "docker":
	default:
		return fmt.Errorf("unknown worker executor %q", cfg.Worker.Executor)
	}
	if cfg.Worker.Capacity < 0 {
		return fmt.Errorf("worker capacity cannot be negative, got %v", cfg.Worker.Capacity)
	}
	if cfg.Worker.HeartbeatInterval <= 0 {
		return errors.New("worker heartbeat interval must be positive")
	}
	return nil
}

// Build converts the file form into a validated scheduler configuration.
func (s SchedulerConfig) Build() (scheduler.Config, error) {
	cfg := scheduler.Config{
		Mode:           scheduler.Mode(s.Mode),
		Home:           s.Home,
		NodeOrder:      scheduler.NodeOrder(s.NodeOrder),
		BatchSpacing:   s.BatchSpacing,
		SecurityBuffer: s.SecurityBuffer,
		MoneyThreshold: s.MoneyThreshold,
		HackFraction:   s.HackFraction,
		Ratios: scheduler.Ratios{
			Weaken: s.Ratios.Weaken,
			Grow:   s.Ratios.Grow,
			Hack:   s.Ratios.Hack,
		},
		TargetDelay:    s.TargetDelay,
		IterationDelay: s.IterationDelay,
		IdleDelay:      s.IdleDelay,
		SimpleRetries:  s.SimpleRetries,
		RetryDelay:     s.RetryDelay,
		NodeTimeout:    s.NodeTimeout,
	}
	if err := cfg.Validate(); err != nil {
		return scheduler.Config{}, fmt.Errorf("scheduler: %w", err)
	}
	return cfg, nil
}

// PayloadSet is the payload table keyed by operation.
func (c *Config) PayloadSet() map[model.Operation]model.Payload {
	out := make(map[model.Operation]model.Payload, len(c.Payloads))
	for name, p := range c.Payloads {
		op := model.Operation(name)
		out[op] = model.Payload{Op: op, Name: p.Name, Image: p.Image, Command: p.Command, Cost: p.Cost}
	}
	return out
}
