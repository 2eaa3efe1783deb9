package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"

	"github.com/go-playground/validator/v10"
	"gopkg.in/yaml.v3"
)

type Config struct {
	Server struct {
		Addr      string `yaml:"addr" validate:"required"`
		PublicURL string `yaml:"public_url" validate:"omitempty,url"`
	} `yaml:"server"`
	Log struct {
		Level string `yaml:"level"`
	} `yaml:"log"`
	Metrics struct {
		Enabled bool `yaml:"enabled"`
	} `yaml:"metrics"`
	Ledger struct {
		RPCURL     string `yaml:"rpc_url" validate:"required,url"`
		Commitment string `yaml:"commitment" validate:"omitempty,oneof=processed confirmed finalized"`
		Mint       string `yaml:"mint"`
		Recipient  string `yaml:"recipient"`
		Currency   string `yaml:"currency"`
	} `yaml:"ledger"`
	Identity struct {
		RequestKeyHex string `yaml:"request_key_hex"`
		ReceiptKeyHex string `yaml:"receipt_key_hex"`
		AccessSecret  string `yaml:"access_secret"`
	} `yaml:"identity"`
	Redis struct {
		Addr     string `yaml:"addr"`
		Password string `yaml:"password"`
		DB       int    `yaml:"db"`
	} `yaml:"redis"`
	DB struct {
		DSN string `yaml:"dsn"`
	} `yaml:"db"`
	Provider struct {
		BaseURL        string `yaml:"base_url" validate:"required,url"`
		Key            string `yaml:"key"`
		ImageModel     string `yaml:"image_model"`
		AnimationModel string `yaml:"animation_model"`
		MusicModel     string `yaml:"music_model"`
	} `yaml:"provider"`
	Jobs struct {
		PollInitialSeconds int `yaml:"poll_initial_seconds"`
		PollMaxSeconds     int `yaml:"poll_max_seconds"`
		TimeoutMinutes     int `yaml:"timeout_minutes"`
	} `yaml:"jobs"`
	Payment struct {
		RequestTTLMinutes int `yaml:"request_ttl_minutes"`
		AccessTTLSeconds  int `yaml:"access_ttl_seconds"`
		Prices            struct {
			Image     int64 `yaml:"image"`
			Animation int64 `yaml:"animation"`
			Music30   int64 `yaml:"music_30"`
			Music60   int64 `yaml:"music_60"`
			Music120  int64 `yaml:"music_120"`
		} `yaml:"prices"`
	} `yaml:"payment"`
	Assets struct {
		Dir string `yaml:"dir"`
	} `yaml:"assets"`
}

func Load(path string) (*Config, error) {
	if path == "" {
		path = os.Getenv("CONFIG_PATH")
	}
	if path == "" {
		path = "configs/config.yaml"
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, err
	}

	applyEnvOverrides(&cfg)
	applyDefaults(&cfg)

	if err := validator.New().Struct(&cfg); err != nil {
		return nil, fmt.Errorf("config validation: %w", err)
	}
	return &cfg, nil
}

// MissingIdentity lists the identity inputs the operator has not supplied.
// An empty result means payment requests and receipts can be issued.
func (c *Config) MissingIdentity() []string {
	var missing []string
	if c.Identity.RequestKeyHex == "" {
		missing = append(missing, "SERVER_PRIVATE_KEY_HEX")
	}
	if c.Identity.ReceiptKeyHex == "" {
		missing = append(missing, "RECEIPT_SERVICE_PRIVATE_KEY_HEX")
	}
	if c.Identity.AccessSecret == "" {
		missing = append(missing, "ACCESS_TOKEN_SECRET")
	}
	if c.Ledger.Recipient == "" {
		missing = append(missing, "LEDGER_RECIPIENT")
	}
	return missing
}

func applyDefaults(cfg *Config) {
	if cfg.Server.PublicURL == "" && cfg.Server.Addr != "" {
		cfg.Server.PublicURL = "http://localhost" + cfg.Server.Addr
	}
	if cfg.Log.Level == "" {
		cfg.Log.Level = "info"
	}
	if cfg.Ledger.Commitment == "" {
		cfg.Ledger.Commitment = "confirmed"
	}
	if cfg.Ledger.Currency == "" {
		cfg.Ledger.Currency = "USDC"
	}
	if cfg.Provider.ImageModel == "" {
		cfg.Provider.ImageModel = "fal-ai/flux/dev"
	}
	if cfg.Provider.AnimationModel == "" {
		cfg.Provider.AnimationModel = "fal-ai/kling-video/v2.1/master/image-to-video"
	}
	if cfg.Provider.MusicModel == "" {
		cfg.Provider.MusicModel = "cassetteai/music-generator"
	}
	if cfg.Jobs.PollInitialSeconds <= 0 {
		cfg.Jobs.PollInitialSeconds = 2
	}
	if cfg.Jobs.PollMaxSeconds <= 0 {
		cfg.Jobs.PollMaxSeconds = 15
	}
	if cfg.Jobs.TimeoutMinutes <= 0 {
		cfg.Jobs.TimeoutMinutes = 10
	}
	if cfg.Payment.RequestTTLMinutes <= 0 {
		cfg.Payment.RequestTTLMinutes = 10
	}
	if cfg.Payment.AccessTTLSeconds <= 0 {
		cfg.Payment.AccessTTLSeconds = 300
	}
	p := &cfg.Payment.Prices
	if p.Image <= 0 {
		p.Image = 10000
	}
	if p.Animation <= 0 {
		p.Animation = 500000
	}
	if p.Music30 <= 0 {
		p.Music30 = 10000
	}
	if p.Music60 <= 0 {
		p.Music60 = 20000
	}
	if p.Music120 <= 0 {
		p.Music120 = 30000
	}
	if cfg.Assets.Dir == "" {
		cfg.Assets.Dir = "assets"
	}
}

func applyEnvOverrides(cfg *Config) {
	if v := os.Getenv("SERVER_ADDR"); v != "" {
		cfg.Server.Addr = v
	}
	if v := os.Getenv("PUBLIC_URL"); v != "" {
		cfg.Server.PublicURL = v
	}
	if v := os.Getenv("LOG_LEVEL"); v != "" {
		cfg.Log.Level = v
	}
	if v := os.Getenv("METRICS_ENABLED"); v != "" {
		cfg.Metrics.Enabled = boolOr(cfg.Metrics.Enabled, v)
	}
	if v := os.Getenv("LEDGER_RPC_URL"); v != "" {
		cfg.Ledger.RPCURL = v
	}
	if v := os.Getenv("LEDGER_COMMITMENT"); v != "" {
		cfg.Ledger.Commitment = v
	}
	if v := os.Getenv("LEDGER_MINT"); v != "" {
		cfg.Ledger.Mint = v
	}
	if v := os.Getenv("LEDGER_RECIPIENT"); v != "" {
		cfg.Ledger.Recipient = v
	}
	if v := os.Getenv("SERVER_PRIVATE_KEY_HEX"); v != "" {
		cfg.Identity.RequestKeyHex = v
	}
	if v := os.Getenv("RECEIPT_SERVICE_PRIVATE_KEY_HEX"); v != "" {
		cfg.Identity.ReceiptKeyHex = v
	}
	if v := os.Getenv("ACCESS_TOKEN_SECRET"); v != "" {
		cfg.Identity.AccessSecret = v
	}
	if v := os.Getenv("REDIS_ADDR"); v != "" {
		cfg.Redis.Addr = v
	}
	if v := os.Getenv("REDIS_PASSWORD"); v != "" {
		cfg.Redis.Password = v
	}
	if v := os.Getenv("DB_DSN"); v != "" {
		cfg.DB.DSN = v
	}
	if v := os.Getenv("PROVIDER_BASE_URL"); v != "" {
		cfg.Provider.BaseURL = v
	}
	if v := os.Getenv("PROVIDER_KEY"); v != "" {
		cfg.Provider.Key = v
	}
	if v := os.Getenv("JOB_TIMEOUT_MINUTES"); v != "" {
		cfg.Jobs.TimeoutMinutes = atoiOr(cfg.Jobs.TimeoutMinutes, v)
	}
	if v := os.Getenv("REQUEST_TTL_MINUTES"); v != "" {
		cfg.Payment.RequestTTLMinutes = atoiOr(cfg.Payment.RequestTTLMinutes, v)
	}
	if v := os.Getenv("ASSETS_DIR"); v != "" {
		cfg.Assets.Dir = v
	}
}

func atoiOr(fallback int, v string) int {
	i, err := strconv.Atoi(v)
	if err != nil {
		return fallback
	}
	return i
}

func boolOr(fallback bool, v string) bool {
	switch strings.ToLower(v) {
	case "1", "true", "yes":
		return true
	case "0", "false", "no":
		return false
	}
	return fallback
}
