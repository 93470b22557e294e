package main

import (
	"fmt"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/OpenPeeDeeP/xdg"
)

const configName = "config.toml"

// fileConfig is the optional TOML config. Flags given on the command line
// take precedence over it.
type fileConfig struct {
	Serve struct {
		Bind        string `toml:"bind"`
		Origin      string `toml:"origin"`
		AllowOrigin string `toml:"allow_origin"`
		Scope       string `toml:"scope"`
		Transport   string `toml:"transport"`
		TLSHost     string `toml:"tlshost"`
	} `toml:"serve"`

	Call struct {
		Origin    string `toml:"origin"`
		Scope     string `toml:"scope"`
		Transport string `toml:"transport"`
		Timeout   string `toml:"timeout"`
	} `toml:"call"`
}

// findConfig returns the config path to use, or "" if there is none.
func findConfig(overridePath string) string {
	if overridePath != "" {
		return overridePath
	}
	return xdg.New("", "framechan").QueryConfig(configName)
}

// loadConfig reads the config file. A missing default config is not an
// error, a missing --config path is.
func loadConfig(overridePath string) (fileConfig, error) {
	var conf fileConfig
	path := findConfig(overridePath)
	if path == "" {
		return conf, nil
	}
	meta, err := toml.DecodeFile(path, &conf)
	if err != nil {
		return conf, fmt.Errorf("load config %s: %w", path, err)
	}
	if undecoded := meta.Undecoded(); len(undecoded) > 0 {
		logger.Warningf("Ignoring unknown config keys in %s: %v", path, undecoded)
	}
	logger.Debugf("Loaded config: %s", path)
	return conf, nil
}

func firstOf(values ...string) string {
	for _, v := range values {
		if v = strings.TrimSpace(v); v != "" {
			return v
		}
	}
	return ""
}

type serveConfig struct {
	Bind        string
	Origin      string
	AllowOrigin string
	Scope       string
	Transport   string
	TLSHost     string
}

func serveSettings(options Options, conf fileConfig) serveConfig {
	return serveConfig{
		Bind:        firstOf(options.Serve.Bind, conf.Serve.Bind, "0.0.0.0:8080"),
		Origin:      firstOf(options.Serve.Origin, conf.Serve.Origin),
		AllowOrigin: firstOf(options.Serve.AllowOrigin, conf.Serve.AllowOrigin, "*"),
		Scope:       firstOf(options.Serve.Scope, conf.Serve.Scope),
		Transport:   firstOf(options.Serve.Transport, conf.Serve.Transport, "gorilla"),
		TLSHost:     firstOf(options.Serve.TLSHost, conf.Serve.TLSHost),
	}
}

type callConfig struct {
	URL       string
	Method    string
	Params    string
	Origin    string
	Scope     string
	Transport string
	Timeout   time.Duration
	Callbacks []string
}

func callSettings(options Options, conf fileConfig) (callConfig, error) {
	timeout := options.Call.Timeout
	if timeout == 0 && conf.Call.Timeout != "" {
		d, err := time.ParseDuration(strings.TrimSpace(conf.Call.Timeout))
		if err != nil {
			return callConfig{}, fmt.Errorf("parse call timeout: %w", err)
		}
		timeout = d
	}
	if timeout == 0 {
		timeout = 5 * time.Second
	}
	return callConfig{
		URL:       options.Call.Args.URL,
		Method:    options.Call.Args.Method,
		Params:    options.Call.Args.Params,
		Origin:    firstOf(options.Call.Origin, conf.Call.Origin, "http://localhost"),
		Scope:     firstOf(options.Call.Scope, conf.Call.Scope),
		Transport: firstOf(options.Call.Transport, conf.Call.Transport, "gorilla"),
		Timeout:   timeout,
		Callbacks: options.Call.Callbacks,
	}, nil
}
