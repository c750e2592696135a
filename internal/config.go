package internal

import (
	"fmt"
	"time"
)

type Config struct {
	BadgerFilepath string `env:"BADGER_FILEPATH,required=true"`
	TokenSecret    string `env:"TOKEN_SECRET,required=true"`
	LogLevel       string `env:"LOG_LEVEL,default=INFO"`
	Host           string `env:"HOST,default=0.0.0.0"`
	Port           int    `env:"PORT,default=9090"`

	// Empty NatsURL selects the in-process feed.
	NatsURL string `env:"NATS_URL"`

	BufferSize        int           `env:"BUFFER_SIZE,default=64"`
	HistoryLimit      int           `env:"HISTORY_LIMIT,default=30"`
	MaxContentLength  int           `env:"MAX_CONTENT_LENGTH,default=500"`
	CharReplacement   string        `env:"CHARACTER_REPLACEMENT,default=*"`
	ReconnectWait     time.Duration `env:"RECONNECT_WAIT,default=1s"`
	RestartInterval   time.Duration `env:"RESTART_INTERVAL,default=200ms"`
	AuthTokenDuration time.Duration `env:"AUTH_TOKEN_DURATION,default=24h"`
	MetricInterval    time.Duration `env:"METRIC_INTERVAL,default=30s"`

	DebugPort int `env:"DEBUG_PORT,default=8081"`
}

func (c Config) CharacterRune() (rune, error) {
	r := []rune(c.CharReplacement)
	if len(r) != 1 {
		return 0, fmt.Errorf(
			"CHARACTER_REPLACEMENT must be a single character, got %q",
			c.CharReplacement,
		)
	}
	return r[0], nil
}

func (c Config) ListenAddr() string {
	return fmt.Sprintf("%s:%d", c.Host, c.Port)
}
