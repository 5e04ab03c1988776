// Copyright (c) 2013, Daniel Morsing
// For more information, see the LICENSE file

package spdy

import (
	"time"

	"github.com/DanielMorsing/spdy/framing"
	"go.uber.org/zap"
)

// Config defines the parameters of a session.
type Config struct {
	ReadTimeout  time.Duration // Maximum idle time between frames. Zero means no limit.
	WriteTimeout time.Duration // Maximum duration of a single frame write.

	// the maximum number of concurrent streams the peer may open.
	MaxConcurrentStreams uint32
	InitialWindowSize    uint32

	// AnnounceSettings sends MaxConcurrentStreams and InitialWindowSize in a
	// SETTINGS frame as soon as the session starts.
	AnnounceSettings bool

	// Logger receives session diagnostics. Nil disables logging.
	Logger *zap.Logger
}

// DefaultConfig returns the session defaults.
func DefaultConfig() Config {
	return Config{
		WriteTimeout:         10 * time.Second,
		MaxConcurrentStreams: 100,
		InitialWindowSize:    64 << 10, // 64 kb
	}
}

func (c Config) logger() *zap.Logger {
	if c.Logger == nil {
		return zap.NewNop()
	}
	return c.Logger
}

func (c Config) settings() SettingsInfo {
	return SettingsInfo{Values: []framing.SettingsFlagIdValue{
		{Id: framing.SettingsMaxConcurrentStreams, Value: c.maxStreams()},
		{Id: framing.SettingsInitialWindowSize, Value: c.InitialWindowSize},
	}}
}

func (c Config) maxStreams() uint32 {
	if c.MaxConcurrentStreams == 0 {
		return DefaultConfig().MaxConcurrentStreams
	}
	return c.MaxConcurrentStreams
}
