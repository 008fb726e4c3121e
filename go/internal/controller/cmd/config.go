package main

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/mcdev12/chatplays/go/clients/identity"
	"github.com/mcdev12/chatplays/go/clients/obsws"
	"github.com/mcdev12/chatplays/go/internal/controller"
	"gopkg.in/yaml.v3"
)

type Config struct {
	Controller controller.Config `yaml:"controller"`
	OBS        struct {
		Host     string `yaml:"host"`
		Password string `yaml:"password"`
	} `yaml:"obs"`
	Relay struct {
		URL string `yaml:"url"`
	} `yaml:"relay"`
	Identity struct {
		URL string `yaml:"url"`
	} `yaml:"identity"`
	Settings struct {
		Path     string `yaml:"path"`
		Postgres bool   `yaml:"postgres"`
	} `yaml:"settings"`
	Events struct {
		NATSURL string `yaml:"nats_url"`
	} `yaml:"events"`
	HTTP struct {
		Addr string `yaml:"addr"`
	} `yaml:"http"`
}

func defaultConfig() *Config {
	cfg := &Config{Controller: controller.DefaultConfig()}
	cfg.OBS.Host = obsws.DefaultConfig().Host
	cfg.Relay.URL = "http://localhost:8000"
	cfg.Identity.URL = identity.DefaultBaseURL
	cfg.Settings.Path = "settings.yaml"
	cfg.HTTP.Addr = ":8090"
	return cfg
}

// loadConfig reads the YAML file at path over the defaults. A missing file
// leaves the defaults in place so environment variables alone can drive a run.
func loadConfig(path string) (*Config, error) {
	cfg := defaultConfig()

	data, err := os.ReadFile(path)
	switch {
	case os.IsNotExist(err):
	case err != nil:
		return nil, fmt.Errorf("failed to read config file: %w", err)
	default:
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("failed to parse config: %w", err)
		}
	}

	cfg.Controller.SceneName = getEnv("OBS_SCENE", cfg.Controller.SceneName)
	cfg.Controller.StreamerName = getEnv("STREAMER_NAME", cfg.Controller.StreamerName)
	cfg.Controller.ReconnectDelay = getEnvAsDuration("RECONNECT_DELAY", cfg.Controller.ReconnectDelay)
	cfg.OBS.Host = getEnv("OBS_HOST", cfg.OBS.Host)
	cfg.OBS.Password = getEnv("OBS_PASSWORD", cfg.OBS.Password)
	cfg.Relay.URL = getEnv("RELAY_URL", cfg.Relay.URL)
	cfg.Events.NATSURL = getEnv("NATS_URL", cfg.Events.NATSURL)
	cfg.HTTP.Addr = getEnv("CONTROLLER_ADDR", cfg.HTTP.Addr)
	cfg.Controller.SendBuffer = getEnvAsInt("RELAY_SEND_BUFFER", cfg.Controller.SendBuffer)

	if cfg.Controller.SceneName == "" {
		return nil, fmt.Errorf("scene name is required")
	}
	if cfg.Controller.StreamerName == "" {
		return nil, fmt.Errorf("streamer name is required")
	}
	return cfg, nil
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvAsInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intValue, err := strconv.Atoi(value); err == nil {
			return intValue
		}
	}
	return defaultValue
}

func getEnvAsDuration(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if d, err := time.ParseDuration(value); err == nil {
			return d
		}
	}
	return defaultValue
}
