package roundtable

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v2"
)

// Defaults applied when the config file leaves a value unset or gives
// one the server cannot run with.
const (
	DefaultPort       = 6667
	DefaultWorkers    = 2
	DefaultMaxClients = 20
	DefaultServerName = "roundtable.example.com"
	DefaultNickLen    = 25
	DefaultGroupLen   = 25
)

// Config is the process configuration. It is read once at startup and
// never reloaded.
type Config struct {
	Server struct {
		Name       string `yaml:"name"`
		Port       int    `yaml:"port"`
		Workers    int    `yaml:"workers"`
		MaxClients int    `yaml:"max-clients"`
	} `yaml:"server"`

	Limits struct {
		NickLen  int `yaml:"nicklen"`
		GroupLen int `yaml:"grouplen"`
	} `yaml:"limits"`

	Logging struct {
		Level      string `yaml:"level"`
		Directory  string `yaml:"directory"`
		EnableFile bool   `yaml:"enable-file"`
	} `yaml:"logging"`
}

// LoadConfig loads the given YAML configuration file and fills in
// defaults. The returned warnings describe values that were adjusted;
// the caller decides where they go.
func LoadConfig(filename string) (*Config, []string, error) {
	data, err := os.ReadFile(filename)
	if err != nil {
		return nil, nil, fmt.Errorf("could not read config file: %w", err)
	}

	var config Config
	if err := yaml.Unmarshal(data, &config); err != nil {
		return nil, nil, fmt.Errorf("could not parse config file: %w", err)
	}

	warnings := config.normalize()
	return &config, warnings, nil
}

// normalize enforces the minimums the runtime depends on and fills in
// defaults for everything left unset.
func (config *Config) normalize() (warnings []string) {
	if config.Server.Workers < 2 {
		if config.Server.Workers != 0 {
			warnings = append(warnings, fmt.Sprintf("must have at least 2 workers, using %d", DefaultWorkers))
		}
		config.Server.Workers = DefaultWorkers
	}
	if config.Server.MaxClients < 1 {
		if config.Server.MaxClients != 0 {
			warnings = append(warnings, fmt.Sprintf("max clients must be at least 1, using %d", DefaultMaxClients))
		}
		config.Server.MaxClients = DefaultMaxClients
	}
	if config.Server.Port <= 0 || config.Server.Port > 65535 {
		config.Server.Port = DefaultPort
	}
	if config.Server.Name == "" {
		config.Server.Name = DefaultServerName
	}
	if config.Limits.NickLen <= 0 {
		config.Limits.NickLen = DefaultNickLen
	}
	if config.Limits.GroupLen <= 0 {
		config.Limits.GroupLen = DefaultGroupLen
	}
	if config.Logging.Level == "" {
		config.Logging.Level = "info"
	}
	return warnings
}
