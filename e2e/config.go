package e2e

import (
	"github.com/kelseyhightower/envconfig"
)

type Config struct {
	// HERDCHAT_ADDR targets an already running node; when empty the suite
	// boots an in-process node on a random port.
	Addr        string `envconfig:"HERDCHAT_ADDR"`
	TokenSecret string `envconfig:"TOKEN_SECRET" default:"e2e_secret"`
	// E2E_DEBUG_JSON dumps full request/response bodies as JSON
	DebugJSON bool `envconfig:"E2E_DEBUG_JSON" default:"false"`
	// E2E_COLOURS enables colorized output for better log readability
	Colours bool `envconfig:"E2E_COLOURS" default:"true"`
}

func LoadConfig() (Config, error) {
	var cfg Config
	err := envconfig.Process("", &cfg)
	return cfg, err
}
