// Package config loads the monitor configuration from a YAML file and
// supports live reload of the trace verbosity toggles.
package config

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/fsnotify/fsnotify"
	"gopkg.in/yaml.v3"
)

// TraceConfig enables the diagnostic trace domains independently.
type TraceConfig struct {
	Calls    bool `yaml:"calls"`
	Registry bool `yaml:"registry"`
	Internal bool `yaml:"internal"`
}

// Config is the monitor configuration.
type Config struct {
	Trace          TraceConfig `yaml:"trace"`
	DataDir        string      `yaml:"data_dir"`
	WebAddr        string      `yaml:"web_addr"`
	RulesDir       string      `yaml:"rules_dir"`
	ScopeCacheSize int         `yaml:"scope_cache_size"`
}

// Default returns the configuration used when no file is given.
func Default() *Config {
	return &Config{
		DataDir:        "data",
		WebAddr:        ":8080",
		RulesDir:       "rules",
		ScopeCacheSize: 256,
	}
}

// Load reads path and overlays it on the defaults. A missing file is not an
// error; the defaults are returned unchanged.
func Load(path string) (*Config, error) {
	cfg := Default()
	if path == "" {
		return cfg, nil
	}

	content, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return cfg, nil
		}
		return nil, fmt.Errorf("failed to read config file: %v", err)
	}

	if err := yaml.Unmarshal(content, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config file: %v", err)
	}

	if cfg.ScopeCacheSize <= 0 {
		cfg.ScopeCacheSize = Default().ScopeCacheSize
	}
	return cfg, nil
}

// Watch reloads path on every write and hands the result to apply. It
// returns the watcher so the caller can close it on shutdown.
func Watch(path string, apply func(*Config)) (*fsnotify.Watcher, error) {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("failed to create file watcher: %v", err)
	}

	// Watch the directory: editors often replace the file, which drops a
	// watch on the file itself.
	dir := filepath.Dir(path)
	if err := watcher.Add(dir); err != nil {
		watcher.Close()
		return nil, fmt.Errorf("failed to watch directory %s: %v", dir, err)
	}

	go func() {
		for {
			select {
			case ev, ok := <-watcher.Events:
				if !ok {
					return
				}
				if filepath.Clean(ev.Name) != filepath.Clean(path) {
					continue
				}
				if ev.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Rename) == 0 {
					continue
				}
				cfg, err := Load(path)
				if err != nil {
					fmt.Fprintf(os.Stderr, "config reload failed: %v\n", err)
					continue
				}
				apply(cfg)
			case err, ok := <-watcher.Errors:
				if !ok {
					return
				}
				fmt.Fprintf(os.Stderr, "config watcher error: %v\n", err)
			}
		}
	}()

	return watcher, nil
}
