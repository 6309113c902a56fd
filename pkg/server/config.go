package server

import (
	"time"

	"github.com/marquee-dev/marquee/pkg/protocol"
)

// Config controls the coordinator's WebSocket server.
type Config struct {
	// Addr is the listen address, e.g. ":8090".
	Addr string

	// WSPath is the route the WebSocket upgrade is served on.
	WSPath string

	// ReadLimit caps the size of a single inbound frame in bytes.
	ReadLimit int64

	// WriteTimeout bounds each outbound write.
	WriteTimeout time.Duration

	// PongWait is how long a connection may stay silent before the read
	// loop gives up. The ping interval is derived from it.
	PongWait time.Duration

	// CompressionThreshold is the encoded payload size at which outbound
	// messages switch to gzip-compressed binary frames. Zero uses
	// protocol.DefaultCompressionThreshold.
	CompressionThreshold int

	// StaleTimeout is how long a registered device may go unseen before
	// the sweep removes it.
	StaleTimeout time.Duration

	// SweepInterval is how often the stale sweep runs. Zero disables the
	// sweep.
	SweepInterval time.Duration
}

// DefaultConfig returns the production defaults.
func DefaultConfig() Config {
	return Config{
		Addr:                 ":8090",
		WSPath:               "/ws",
		ReadLimit:            32 * 1024 * 1024,
		WriteTimeout:         10 * time.Second,
		PongWait:             60 * time.Second,
		CompressionThreshold: protocol.DefaultCompressionThreshold,
		StaleTimeout:         90 * time.Second,
		SweepInterval:        30 * time.Second,
	}
}

// WithAddr returns a copy of the config with the listen address set.
func (c Config) WithAddr(addr string) Config {
	c.Addr = addr
	return c
}

// WithCompressionThreshold returns a copy with the compression
// threshold set.
func (c Config) WithCompressionThreshold(n int) Config {
	c.CompressionThreshold = n
	return c
}

// pingInterval derives the keep-alive ping period from PongWait.
func (c Config) pingInterval() time.Duration {
	return c.PongWait * 9 / 10
}
