// Copyright (c) 2013, Daniel Morsing
// For more information, see the LICENSE file

package main

import (
	"fmt"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/DanielMorsing/spdy"
	"github.com/DanielMorsing/spdy/internal/observability"
)

type appConfig struct {
	Listen  string
	TLSCert string
	TLSKey  string
	// how long serve waits for sessions to drain after GOAWAY.
	Grace   time.Duration
	Session spdy.Config
	Log     observability.LoggerConfig
}

func defaultAppConfig() appConfig {
	return appConfig{
		Listen:  "127.0.0.1:6121",
		Grace:   10 * time.Second,
		Session: spdy.DefaultConfig(),
		Log:     observability.DefaultLoggerConfig(),
	}
}

type fileConfig struct {
	Listen               string  `toml:"listen"`
	TLSCert              string  `toml:"tls_cert"`
	TLSKey               string  `toml:"tls_key"`
	Grace                string  `toml:"grace"`
	ReadTimeout          string  `toml:"read_timeout"`
	WriteTimeout         string  `toml:"write_timeout"`
	MaxConcurrentStreams uint32  `toml:"max_concurrent_streams"`
	InitialWindowSize    uint32  `toml:"initial_window_size"`
	AnnounceSettings     bool    `toml:"announce_settings"`
	Log                  logFile `toml:"log"`
}

type logFile struct {
	Level      string `toml:"level"`
	Format     string `toml:"format"`
	File       string `toml:"file"`
	MaxSize    int    `toml:"max_size"`
	MaxBackups int    `toml:"max_backups"`
	MaxAge     int    `toml:"max_age"`
	Compress   bool   `toml:"compress"`
}

// loadConfig overlays the keys present in the TOML file at path onto the
// defaults. An empty path returns the defaults.
func loadConfig(path string) (appConfig, error) {
	cfg := defaultAppConfig()
	if path == "" {
		return cfg, nil
	}

	var raw fileConfig
	meta, err := toml.DecodeFile(path, &raw)
	if err != nil {
		return appConfig{}, fmt.Errorf("load spdyctl config: %w", err)
	}
	if undecoded := meta.Undecoded(); len(undecoded) != 0 {
		return appConfig{}, fmt.Errorf("load spdyctl config: unknown key %q", undecoded[0].String())
	}

	if meta.IsDefined("listen") {
		if v := strings.TrimSpace(raw.Listen); v != "" {
			cfg.Listen = v
		}
	}
	if meta.IsDefined("tls_cert") {
		cfg.TLSCert = strings.TrimSpace(raw.TLSCert)
	}
	if meta.IsDefined("tls_key") {
		cfg.TLSKey = strings.TrimSpace(raw.TLSKey)
	}
	durations := []struct {
		key string
		raw string
		dst *time.Duration
	}{
		{"grace", raw.Grace, &cfg.Grace},
		{"read_timeout", raw.ReadTimeout, &cfg.Session.ReadTimeout},
		{"write_timeout", raw.WriteTimeout, &cfg.Session.WriteTimeout},
	}
	for _, d := range durations {
		if !meta.IsDefined(d.key) {
			continue
		}
		v, err := time.ParseDuration(strings.TrimSpace(d.raw))
		if err != nil {
			return appConfig{}, fmt.Errorf("parse %s: %w", d.key, err)
		}
		*d.dst = v
	}
	if meta.IsDefined("max_concurrent_streams") {
		cfg.Session.MaxConcurrentStreams = raw.MaxConcurrentStreams
	}
	if meta.IsDefined("initial_window_size") {
		cfg.Session.InitialWindowSize = raw.InitialWindowSize
	}
	if meta.IsDefined("announce_settings") {
		cfg.Session.AnnounceSettings = raw.AnnounceSettings
	}

	if meta.IsDefined("log", "level") {
		cfg.Log.Level = strings.TrimSpace(raw.Log.Level)
	}
	if meta.IsDefined("log", "format") {
		cfg.Log.Format = strings.TrimSpace(raw.Log.Format)
	}
	if meta.IsDefined("log", "file") {
		cfg.Log.File = strings.TrimSpace(raw.Log.File)
	}
	if meta.IsDefined("log", "max_size") {
		cfg.Log.MaxSize = raw.Log.MaxSize
	}
	if meta.IsDefined("log", "max_backups") {
		cfg.Log.MaxBackups = raw.Log.MaxBackups
	}
	if meta.IsDefined("log", "max_age") {
		cfg.Log.MaxAge = raw.Log.MaxAge
	}
	if meta.IsDefined("log", "compress") {
		cfg.Log.Compress = raw.Log.Compress
	}
	return cfg, nil
}
