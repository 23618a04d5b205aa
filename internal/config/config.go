// SPDX-License-Identifier: MPL-2.0
/*
 * Copyright (C) 2024 Damian Peckett <damian@pecke.tt>.
 *
 * This Source Code Form is subject to the terms of the Mozilla Public
 * License, v. 2.0. If a copy of the MPL was not distributed with this
 * file, You can obtain one at http://mozilla.org/MPL/2.0/.
 */

// Package config loads and saves the recorder configuration as YAML.
package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"time"

	"github.com/OpenPSG/adsrecorder/edf"
	"github.com/OpenPSG/adsrecorder/internal/ads"
	"github.com/OpenPSG/adsrecorder/internal/serialport"
	"github.com/sirupsen/logrus"
	"gopkg.in/yaml.v3"
)

// Config is the complete recorder configuration.
type Config struct {
	Settings  Settings         `yaml:"settings"`
	Serial    SerialConfig     `yaml:"serial"`
	Recording RecordingConfig  `yaml:"recording"`
	Device    ads.DeviceConfig `yaml:"device"`
	Journal   JournalConfig    `yaml:"journal"`
}

// Settings represents global application settings
type Settings struct {
	LogLevel string `yaml:"logLevel"`
}

// SerialConfig selects the link to the device.
type SerialConfig struct {
	Port     string `yaml:"port"`
	BaudRate int    `yaml:"baudRate"`
}

// RecordingConfig controls the files produced by a recording.
type RecordingConfig struct {
	Directory      string     `yaml:"directory"`
	Name           string     `yaml:"name"` // Appended to the file name
	RecordDuration Duration   `yaml:"recordDuration"`
	FileFormat     edf.Format `yaml:"fileFormat"`
	PatientID      string     `yaml:"patientID"`
	RecordingID    string     `yaml:"recordingID"` // A new identifier per recording when empty
	NotifyPeriod   Duration   `yaml:"notifyPeriod"`
	UniformSamples bool       `yaml:"uniformSamples"` // Reduce every signal to the same sample count
}

// JournalConfig locates the catalog of recordings.
type JournalConfig struct {
	Enabled bool   `yaml:"enabled"`
	Path    string `yaml:"path"`
}

// Default returns the configuration used when no file exists.
func Default() *Config {
	return &Config{
		Settings: Settings{LogLevel: "info"},
		Serial: SerialConfig{
			Port:     "/dev/ttyUSB0",
			BaudRate: serialport.DefaultBaudRate,
		},
		Recording: RecordingConfig{
			Directory:      "records",
			RecordDuration: Duration(time.Second),
			FileFormat:     edf.FormatBDF,
			PatientID:      "X X X X",
			NotifyPeriod:   Duration(time.Second),
		},
		Device: ads.DefaultConfig(ads.Type8Channel),
		Journal: JournalConfig{
			Enabled: true,
			Path:    filepath.Join("records", "journal.sqlite"),
		},
	}
}

// Load reads the configuration at path over the defaults. A missing file
// yields the defaults.
func Load(path string) (*Config, error) {
	cfg := Default()

	data, err := os.ReadFile(path)
	if errors.Is(err, fs.ErrNotExist) {
		return cfg, nil
	} else if err != nil {
		return nil, fmt.Errorf("failed to read config: %w", err)
	}

	// Channel defaults depend on the device type.
	var probe struct {
		Device struct {
			DeviceType ads.DeviceType `yaml:"deviceType"`
		} `yaml:"device"`
	}
	if err := yaml.Unmarshal(data, &probe); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}
	if t := probe.Device.DeviceType; t != ads.DeviceTypeUnknown {
		cfg.Device = ads.DefaultConfig(t)
	}

	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config %s: %w", path, err)
	}

	return cfg, nil
}

// Save writes the configuration to path. The file is replaced atomically.
func Save(path string, cfg *Config) error {
	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("invalid config: %w", err)
	}

	data, err := yaml.Marshal(cfg)
	if err != nil {
		return fmt.Errorf("failed to encode config: %w", err)
	}

	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}

	tmp, err := os.CreateTemp(dir, "."+filepath.Base(path)+".*")
	if err != nil {
		return fmt.Errorf("failed to create temporary file: %w", err)
	}
	defer func() {
		_ = os.Remove(tmp.Name())
	}()

	if _, err := tmp.Write(data); err != nil {
		_ = tmp.Close()
		return fmt.Errorf("failed to write config: %w", err)
	}
	if err := tmp.Sync(); err != nil {
		_ = tmp.Close()
		return fmt.Errorf("failed to sync config: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("failed to close config: %w", err)
	}

	if err := os.Rename(tmp.Name(), path); err != nil {
		return fmt.Errorf("failed to replace config: %w", err)
	}

	return nil
}

// Validate checks every section of the configuration.
func (c *Config) Validate() error {
	if _, err := logrus.ParseLevel(c.Settings.LogLevel); err != nil {
		return fmt.Errorf("settings: %w", err)
	}
	if c.Serial.Port == "" {
		return errors.New("serial: port is required")
	}
	if c.Serial.BaudRate <= 0 {
		return fmt.Errorf("serial: invalid baud rate %d", c.Serial.BaudRate)
	}
	if c.Recording.Directory == "" {
		return errors.New("recording: directory is required")
	}
	if c.Recording.RecordDuration <= 0 {
		return fmt.Errorf("recording: record duration must be positive, got %s", c.Recording.RecordDuration)
	}
	if c.Recording.NotifyPeriod < 0 {
		return fmt.Errorf("recording: notify period must not be negative, got %s", c.Recording.NotifyPeriod)
	}
	if c.Journal.Enabled && c.Journal.Path == "" {
		return errors.New("journal: path is required when enabled")
	}
	if err := c.Device.Validate(); err != nil {
		return fmt.Errorf("device: %w", err)
	}
	return nil
}
