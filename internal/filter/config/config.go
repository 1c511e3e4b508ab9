package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/knadh/koanf/providers/env/v2"
	"github.com/knadh/koanf/providers/structs"
	"github.com/knadh/koanf/v2"
)

// AppConfig holds configuration values parsed from environment variables.
type AppConfig struct {
	// Env is the runtime environment, either "dev" or "prod".
	Env string `koanf:"env" validate:"required,oneof=dev prod"`

	// LogLevel controls log verbosity: "debug", "info", "warn", or "error".
	LogLevel string `koanf:"log_level" validate:"required,oneof=debug info warn error"`

	// ProxyPort is the port the forward proxy listens on.
	ProxyPort int `koanf:"proxy_port" validate:"required,gte=1,lt=65535"`

	// ControlPort is the port the control API listens on.
	ControlPort int `koanf:"control_port" validate:"required,gte=1,lt=65535,nefield=ProxyPort"`

	// DBPath is the bbolt database file holding rules, counters, and settings.
	DBPath string `koanf:"db_path" validate:"required"`

	// Sources are the blocklist URLs fetched on every update cycle.
	Sources []string `koanf:"sources" validate:"required,min=1,dive,url"`

	// UpdateInterval is how often the updater refreshes rule sources.
	UpdateInterval time.Duration `koanf:"update_interval" validate:"required,gte=1m"`

	// StaleAfter is the persisted-rules age past which startup triggers a fetch.
	StaleAfter time.Duration `koanf:"stale_after" validate:"required,gte=1m"`

	// MinDomains is the sanity-guard threshold for a compiled rule set.
	MinDomains int `koanf:"min_domains" validate:"gte=0"`

	// CacheSize is the capacity of the sanitizer's rewrite cache (0 disables).
	CacheSize int `koanf:"cache_size" validate:"gte=0"`

	// FetchTimeout bounds each blocklist source download.
	FetchTimeout time.Duration `koanf:"fetch_timeout" validate:"required,gte=1s"`
}

// envLoader loads environment variables with the prefix "RRF_",
// lowercasing keys and stripping the prefix. It can be swapped in tests.
var envLoader = func(k *koanf.Koanf) error {
	return k.Load(env.Provider(".", env.Opt{
		Prefix: "RRF_",
		TransformFunc: func(key, value string) (string, any) {
			key = strings.ToLower(strings.TrimPrefix(key, "RRF_"))
			// SOURCES is a comma-separated list.
			if key == "sources" {
				return key, strings.Split(value, ",")
			}
			return key, value
		},
	}), nil)
}

// Load parses environment variables and returns an AppConfig instance.
// It applies default values and runs validation automatically.
func Load() (*AppConfig, error) {
	k := koanf.New(".")

	// Load default values using structs provider.
	k.Load(structs.Provider(AppConfig{
		Env:            "prod",
		LogLevel:       "info",
		ProxyPort:      8080,
		ControlPort:    8081,
		DBPath:         "rr-filter.db",
		Sources:        []string{"https://raw.githubusercontent.com/StevenBlack/hosts/master/hosts"},
		UpdateInterval: 24 * time.Hour,
		StaleAfter:     24 * time.Hour,
		MinDomains:     10000,
		CacheSize:      1024,
		FetchTimeout:   30 * time.Second,
	}, "koanf"), nil)

	err := envLoader(k)
	if err != nil {
		return nil, fmt.Errorf("error loading env: %w", err)
	}

	var cfg AppConfig

	if err := k.Unmarshal("", &cfg); err != nil {
		return nil, fmt.Errorf("error unmarshalling config: %w", err)
	}

	validate := validator.New(validator.WithRequiredStructEnabled())

	err = validate.Struct(&cfg)
	if err != nil {
		return nil, fmt.Errorf("validation failed: %w", err)
	}

	return &cfg, nil
}
