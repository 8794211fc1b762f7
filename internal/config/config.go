// Package config loads the litepipe configuration file.
package config

import (
	"errors"
	"fmt"
	"os"
	"sort"
	"strings"

	"github.com/go-playground/validator/v10"
	"gopkg.in/yaml.v3"

	"github.com/sourceplane/litepipe/internal/action"
)

// DefaultFile is picked up from the working directory when present
const DefaultFile = "litepipe.yaml"

type Config struct {
	WorkDir     string `yaml:"workdir"`
	LogDir      string `yaml:"logDir"`
	LogLevel    string `yaml:"logLevel" validate:"oneof=debug info warn error"`
	MaxParallel int    `yaml:"maxParallel" validate:"gte=0"`
	Shell       string `yaml:"shell" validate:"required"`

	// Actions maps owner/name to a command template
	Actions map[string]string `yaml:"actions" validate:"dive,keys,contains=/,endkeys,required"`

	Server  ServerConfig  `yaml:"server"`
	Events  EventsConfig  `yaml:"events"`
	Tracing TracingConfig `yaml:"tracing"`
}

type ServerConfig struct {
	Listen        string `yaml:"listen" validate:"required,hostname_port"`
	Secret        string `yaml:"secret"`
	DefaultBranch string `yaml:"defaultBranch" validate:"required"`
}

type EventsConfig struct {
	Topic        string   `yaml:"topic" validate:"required"`
	KafkaBrokers []string `yaml:"kafkaBrokers" validate:"dive,hostname_port"`
}

type TracingConfig struct {
	Enabled     bool   `yaml:"enabled"`
	ServiceName string `yaml:"serviceName" validate:"required_if=Enabled true"`
	Endpoint    string `yaml:"endpoint"`
}

// Default returns the configuration used when no file is given
func Default() *Config {
	return &Config{
		WorkDir:  ".",
		LogLevel: "info",
		Shell:    "sh",
		Actions:  map[string]string{},
		Server: ServerConfig{
			Listen:        ":8080",
			DefaultBranch: "main",
		},
		Events: EventsConfig{
			Topic: "litepipe.runs",
		},
		Tracing: TracingConfig{
			ServiceName: "litepipe",
		},
	}
}

// Resolve returns the config file to load: explicit when set, otherwise
// DefaultFile if it exists, otherwise "" for defaults only
func Resolve(explicit string) string {
	if explicit != "" {
		return explicit
	}
	if _, err := os.Stat(DefaultFile); err == nil {
		return DefaultFile
	}
	return ""
}

// Load reads path over the defaults and validates the result. An empty
// path yields the validated defaults.
func Load(path string) (*Config, error) {
	cfg := Default()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("failed to read config %s: %w", path, err)
		}
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("failed to parse config %s: %w", path, err)
		}
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks field constraints
func (c *Config) Validate() error {
	validate := validator.New(validator.WithRequiredStructEnabled())

	err := validate.Struct(c)
	if err == nil {
		return nil
	}

	var validationErrors validator.ValidationErrors
	if !errors.As(err, &validationErrors) {
		return fmt.Errorf("invalid config: %w", err)
	}

	problems := make([]string, 0, len(validationErrors))
	for _, fe := range validationErrors {
		problems = append(problems, fmt.Sprintf("%s fails %q", fe.Namespace(), fe.Tag()))
	}
	return fmt.Errorf("invalid config: %s", strings.Join(problems, "; "))
}

// RegisterActions adds the configured template actions to reg
func (c *Config) RegisterActions(reg *action.Registry) error {
	names := make([]string, 0, len(c.Actions))
	for name := range c.Actions {
		names = append(names, name)
	}
	sort.Strings(names)

	for _, name := range names {
		if err := reg.RegisterTemplate(name, c.Actions[name]); err != nil {
			return err
		}
	}
	return nil
}
