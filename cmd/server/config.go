package main

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

type config struct {
	Port              string   `yaml:"port"`
	Endpoints         []string `yaml:"endpoints"`
	AskTimeout        duration `yaml:"askTimeout"`
	ProbeTimeout      duration `yaml:"probeTimeout"`
	StartupProbeDelay duration `yaml:"startupProbeDelay"`
	AllowedOrigins    []string `yaml:"allowedOrigins"`
	WelcomeMessage    string   `yaml:"welcomeMessage"`
	LoadingMessage    string   `yaml:"loadingMessage"`
}

// duration wraps time.Duration so config values can be written in Go duration syntax ("30s",
// "250ms") instead of bare nanosecond counts.
type duration struct {
	time.Duration
}

func (d *duration) UnmarshalYAML(value *yaml.Node) error {
	var raw string
	if err := value.Decode(&raw); err != nil {
		return err
	}
	parsed, err := time.ParseDuration(raw)
	if err != nil {
		return fmt.Errorf("invalid duration %q: %w", raw, err)
	}
	d.Duration = parsed
	return nil
}

// defaultConfig mirrors the widget's stock candidate list: the local backend first by loopback
// address then by name, then the production address. The ask timeout is kept well above the probe
// timeout to tolerate slow knowledge-base lookups.
func defaultConfig() config {
	return config{
		Port: "8080",
		Endpoints: []string{
			"http://127.0.0.1:8000/ask",
			"http://localhost:8000/ask",
			"https://api.qadrigroup.com/ask",
		},
		AskTimeout:        duration{30 * time.Second},
		ProbeTimeout:      duration{5 * time.Second},
		StartupProbeDelay: duration{2 * time.Second},
		AllowedOrigins:    []string{"*"},
		WelcomeMessage:    "Ask me anything about HR policies, procedures, or general inquiries.",
		LoadingMessage:    "",
	}
}

// loadConfig reads the YAML config at path over the defaults. A missing file is not an error; the
// defaults apply as-is.
func loadConfig(path string) (config, error) {
	cfg := defaultConfig()

	f, err := os.Open(path)
	if err != nil {
		if os.IsNotExist(err) {
			return cfg, nil
		}
		return config{}, fmt.Errorf("error opening config file: %w", err)
	}
	defer f.Close()

	if err := yaml.NewDecoder(f).Decode(&cfg); err != nil {
		return config{}, fmt.Errorf("error decoding config file: %w", err)
	}

	if cfg.Port == "" {
		return config{}, fmt.Errorf("port is required")
	}
	if len(cfg.Endpoints) == 0 {
		return config{}, fmt.Errorf("at least one endpoint is required")
	}
	if cfg.AskTimeout.Duration <= cfg.ProbeTimeout.Duration {
		return config{}, fmt.Errorf("askTimeout must be larger than probeTimeout")
	}
	return cfg, nil
}
