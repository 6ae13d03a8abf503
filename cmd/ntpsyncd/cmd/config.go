/*
Copyright (c) Facebook, Inc. and its affiliates.

Licensed under the Apache License, Version 2.0 (the "License");
you may not use this file except in compliance with the License.
You may obtain a copy of the License at

    http://www.apache.org/licenses/LICENSE-2.0

Unless required by applicable law or agreed to in writing, software
distributed under the License is distributed on an "AS IS" BASIS,
WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
See the License for the specific language governing permissions and
limitations under the License.
*/

package cmd

import (
	"fmt"
	"os"

	log "github.com/sirupsen/logrus"
	yaml "gopkg.in/yaml.v2"
)

// Config is ntpsyncd's on-disk configuration, layered under CLI flags: a
// flag set explicitly on the command line always wins over the file.
type Config struct {
	Server           string  `yaml:"server"`
	MaxOffsetMs      float64 `yaml:"max_offset_ms"`
	InterSyncDelayMs float64 `yaml:"inter_sync_delay_ms"`
	MetricsAddr      string  `yaml:"metrics_addr"`
	MetricsInterval  int     `yaml:"metrics_interval_seconds"`
}

// DefaultConfig returns the configuration used when no file and no
// overriding flags are given.
func DefaultConfig() *Config {
	return &Config{
		Server:           "pool.ntp.org",
		MaxOffsetMs:      0.5,
		InterSyncDelayMs: 16000,
		MetricsAddr:      ":9123",
		MetricsInterval:  5,
	}
}

// ReadConfig loads a YAML config file, starting from DefaultConfig so
// unset fields keep their defaults.
func ReadConfig(path string) (*Config, error) {
	cfg := DefaultConfig()
	f, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading %q: %w", path, err)
	}
	if err := yaml.Unmarshal(f, cfg); err != nil {
		return nil, fmt.Errorf("parsing %q: %w", path, err)
	}
	log.Debugf("loaded config: %+v", cfg)
	return cfg, nil
}
