package main

import (
	"errors"
	"fmt"
	"os"
	"time"

	govauth "github.com/CBA-Consult/ICT-Governance-Framework-Application-sub000"
	"github.com/CBA-Consult/ICT-Governance-Framework-Application-sub000/permission"
	"github.com/kelseyhightower/envconfig"
	"github.com/sirupsen/logrus"
)

// settings holds the CLI configuration read from GOVAUTH_* variables.
type settings struct {
	APIBaseURL string        `envconfig:"API_BASE_URL" required:"true"`
	APITimeout time.Duration `envconfig:"API_TIMEOUT" default:"15s"`

	RedisAddr     string `envconfig:"REDIS_ADDR" default:"127.0.0.1:6379"`
	RedisPassword string `envconfig:"REDIS_PASSWORD"`
	RedisDB       int    `envconfig:"REDIS_DB" default:"0"`
	RedisPrefix   string `envconfig:"REDIS_PREFIX" default:"govauth:session"`

	SessionKey     string        `envconfig:"SESSION_KEY" default:"default"`
	SessionTTL     time.Duration `envconfig:"SESSION_TTL" default:"168h"`
	RefreshTimeout time.Duration `envconfig:"REFRESH_TIMEOUT" default:"10s"`

	PermissionBits int `envconfig:"PERMISSION_BITS" default:"256"`

	Username string `envconfig:"USERNAME"`
	Password string `envconfig:"PASSWORD"`

	MetricsAddr string `envconfig:"METRICS_ADDR" default:"127.0.0.1:9464"`
	LogLevel    string `envconfig:"LOG_LEVEL" default:"info"`
	LogFormat   string `envconfig:"LOG_FORMAT" default:"text"`
}

func loadSettings() (*settings, error) {
	var s settings
	if err := envconfig.Process("GOVAUTH", &s); err != nil {
		return nil, err
	}
	if s.APIBaseURL == "" {
		return nil, errors.New("api base url must be provided")
	}
	if s.RedisAddr == "" {
		return nil, errors.New("redis address must be provided")
	}
	return &s, nil
}

func (s *settings) clientConfig() govauth.Config {
	cfg := govauth.DefaultConfig()
	cfg.API.BaseURL = s.APIBaseURL
	cfg.API.Timeout = s.APITimeout
	cfg.API.UserAgent = "govauth-session"
	cfg.Session.RedisPrefix = s.RedisPrefix
	cfg.Session.Key = s.SessionKey
	cfg.Session.PersistTTL = s.SessionTTL
	cfg.Session.RefreshTimeout = s.RefreshTimeout
	cfg.Permission.MaxBits = s.PermissionBits
	return cfg
}

func (s *settings) logger() (*logrus.Logger, error) {
	level, err := logrus.ParseLevel(s.LogLevel)
	if err != nil {
		return nil, err
	}
	log := logrus.New()
	log.SetLevel(level)
	log.SetOutput(os.Stderr)
	switch s.LogFormat {
	case "json":
		log.SetFormatter(&logrus.JSONFormatter{})
	case "text", "":
		log.SetFormatter(&logrus.TextFormatter{DisableTimestamp: true})
	default:
		return nil, fmt.Errorf("unknown log format %q", s.LogFormat)
	}
	return log, nil
}

// loadCatalog reads a YAML catalog file, or returns nil for the built-in one.
func loadCatalog(path string, width int) (*permission.Catalog, error) {
	if path == "" {
		return nil, nil
	}
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	return permission.LoadCatalogYAML(f, width)
}
