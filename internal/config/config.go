package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"
)

const DefaultPath = "config/fleet.yaml"

type Config struct {
	Simulation SimulationConfig `yaml:"simulation"`
	Agents     AgentsConfig     `yaml:"agents"`
	Report     ReportConfig     `yaml:"report"`
	Log        LogConfig        `yaml:"log"`
	Store      StoreConfig      `yaml:"store"`
	NATS       NATSConfig       `yaml:"nats"`
	Web        WebConfig        `yaml:"web"`
	Watch      WatchConfig      `yaml:"watch"`
	Nodes      []Node           `yaml:"nodes"`
	Drones     []Drone          `yaml:"drones"`
	Managers   []Manager        `yaml:"managers"`
}

type SimulationConfig struct {
	Tick                 time.Duration `yaml:"tick"`
	TrafficProbability   float64       `yaml:"traffic_probability"`
	CrossNodeProbability float64       `yaml:"cross_node_probability"`
	TopologyResync       time.Duration `yaml:"topology_resync"`
	Seed                 uint64        `yaml:"seed"`
	// IndexTTL enables the directory's agent location cache when > 0.
	IndexTTL time.Duration `yaml:"index_ttl"`
}

type AgentsConfig struct {
	Drone   AgentTiming `yaml:"drone"`
	Manager AgentTiming `yaml:"manager"`
}

type AgentTiming struct {
	Heartbeat time.Duration `yaml:"heartbeat"`
	Work      time.Duration `yaml:"work"`
	// InboxLimit bounds the inbox; 0 keeps it unbounded.
	InboxLimit int `yaml:"inbox_limit"`
}

type ReportConfig struct {
	Schedule     string        `yaml:"schedule"`
	PollInterval time.Duration `yaml:"poll_interval"`
}

type LogConfig struct {
	Level       string `yaml:"level"`
	Path        string `yaml:"path"`
	FailurePath string `yaml:"failure_path"`
}

type StoreConfig struct {
	Enabled bool   `yaml:"enabled"`
	Path    string `yaml:"path"`
}

type NATSConfig struct {
	Enabled bool   `yaml:"enabled"`
	Port    int    `yaml:"port"`
	DataDir string `yaml:"data_dir"`
}

type WebConfig struct {
	Enabled bool   `yaml:"enabled"`
	Port    int    `yaml:"port"`
	Auth    string `yaml:"auth"`
}

type WatchConfig struct {
	Enabled  bool          `yaml:"enabled"`
	Debounce time.Duration `yaml:"debounce"`
}

func defaults() Config {
	return Config{
		Simulation: SimulationConfig{
			Tick:                 500 * time.Millisecond,
			TrafficProbability:   0.6,
			CrossNodeProbability: 0.2,
			TopologyResync:       5 * time.Second,
		},
		Agents: AgentsConfig{
			Drone:   AgentTiming{Heartbeat: time.Second, Work: 2 * time.Second},
			Manager: AgentTiming{Heartbeat: 2 * time.Second, Work: 3 * time.Second},
		},
		Report: ReportConfig{
			Schedule:     "@every 10s",
			PollInterval: time.Second,
		},
		Log: LogConfig{
			Level:       "info",
			Path:        "data/log.txt",
			FailurePath: "data/fail_log.txt",
		},
		Store: StoreConfig{
			Enabled: true,
			Path:    "data/fleet.db",
		},
		NATS: NATSConfig{
			Enabled: true,
			Port:    4222,
			DataDir: "data/nats",
		},
		Web: WebConfig{
			Enabled: true,
			Port:    8080,
		},
		Watch: WatchConfig{
			Enabled:  true,
			Debounce: 200 * time.Millisecond,
		},
	}
}

// Path returns the config file location, honouring FLEETCTL_CONFIG.
func Path() string {
	if p := os.Getenv("FLEETCTL_CONFIG"); p != "" {
		return p
	}
	return DefaultPath
}

func Load() (*Config, error) {
	return LoadFile(Path())
}

func LoadFile(path string) (*Config, error) {
	cfg := defaults()

	data, err := os.ReadFile(path)
	if err != nil {
		if !os.IsNotExist(err) {
			return nil, fmt.Errorf("read config: %w", err)
		}
		// Config file not found, use defaults + env
	} else {
		// Expand environment variables in YAML
		expanded := os.ExpandEnv(string(data))
		if err := yaml.Unmarshal([]byte(expanded), &cfg); err != nil {
			return nil, fmt.Errorf("parse config: %w", err)
		}
	}

	// Environment variable overrides
	applyEnv(&cfg)

	return &cfg, nil
}

func applyEnv(cfg *Config) {
	if v := os.Getenv("FLEETCTL_LOG_LEVEL"); v != "" {
		cfg.Log.Level = v
	}
	if v := os.Getenv("FLEETCTL_LOG_PATH"); v != "" {
		cfg.Log.Path = v
	}
	if v := os.Getenv("FLEETCTL_STORE_PATH"); v != "" {
		cfg.Store.Path = v
	}
	if v := os.Getenv("FLEETCTL_WEB_PASSWORD"); v != "" {
		cfg.Web.Auth = v
	}
	if v := os.Getenv("FLEETCTL_WEB_PORT"); v != "" {
		if port, err := strconv.Atoi(v); err == nil {
			cfg.Web.Port = port
		}
	}
	if v := os.Getenv("FLEETCTL_NATS_PORT"); v != "" {
		if port, err := strconv.Atoi(v); err == nil {
			cfg.NATS.Port = port
		}
	}
	if v := os.Getenv("FLEETCTL_SEED"); v != "" {
		if seed, err := strconv.ParseUint(v, 10, 64); err == nil {
			cfg.Simulation.Seed = seed
		}
	}
}
