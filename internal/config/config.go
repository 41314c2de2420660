/*
 * Copyright (c) 2025 by Alexander Drost, Oldenburg, Germany.
 * This file is licensed to you under the Apache License, Version 2.0 (the "License"); you may not use this file except in compliance with the License.  You may obtain a copy of the License at
 *   http://www.apache.org/licenses/LICENSE-2.0
 * Unless required by applicable law or agreed to in writing, software distributed under the License is distributed on an
 * "AS IS" BASIS, WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.  See the License for the specific language governing permissions and limitations under the License.
 */

package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"strconv"
	"strings"

	"github.com/zalando/go-keyring"
	"gopkg.in/yaml.v3"
)

// AppConfig is the user-editable configuration persisted to a YAML file in the user scope.
// Environment variables are read-only overrides applied at load time.
//
// config_version: bump when the structure changes in a backward-incompatible way.
type AppConfig struct {
	ConfigVersion int           `yaml:"config_version"`
	General       GeneralConfig `yaml:"general"`
	Server        ServerConfig  `yaml:"server"`
	Library       LibraryConfig `yaml:"library"`
	Export        ExportConfig  `yaml:"export"`
	Logging       LoggingConfig `yaml:"logging"`
}

type GeneralConfig struct {
	ThemeColor     string `yaml:"theme_color"`
	RenderMode     string `yaml:"render_mode"` // raw | escape | sanitize
	TelemetryOptIn bool   `yaml:"telemetry_opt_in"`
}

type ServerConfig struct {
	Addr              string `yaml:"addr"`
	FetchRemoteImages bool   `yaml:"fetch_remote_images"`
	// The admin token is not stored on disk; it lives in the OS keychain.
}

type LibraryConfig struct {
	Driver string `yaml:"driver"` // sqlite | postgres
	DSN    string `yaml:"dsn"`    // empty for sqlite means <workspace>/.flyer/library.sqlite
}

type ExportConfig struct {
	BaseName string  `yaml:"base_name"`
	Scale    float64 `yaml:"scale"`
	FontDir  string  `yaml:"font_dir"`
}

type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
	Source bool   `yaml:"source"`
	File   string `yaml:"file"`
}

// Defaults returns the application defaults.
func Defaults() AppConfig {
	return AppConfig{
		ConfigVersion: 1,
		General:       GeneralConfig{ThemeColor: "#4f46e5", RenderMode: "raw"},
		Server:        ServerConfig{Addr: "127.0.0.1:8080"},
		Library:       LibraryConfig{Driver: "sqlite"},
		Export:        ExportConfig{BaseName: "my-flyer", Scale: 2},
		Logging:       LoggingConfig{Level: "info", Format: "console"},
	}
}

// Env var names used as overrides.
const (
	EnvConfigFile     = "FLY_CONFIG_FILE"
	EnvThemeColor     = "FLY_THEME_COLOR"
	EnvRenderMode     = "FLY_RENDER_MODE"
	EnvTelemetryOptIn = "FLY_TELEMETRY_OPT_IN"
	EnvServerAddr     = "FLY_ADDR"
	EnvFetchRemote    = "FLY_FETCH_REMOTE_IMAGES"
	EnvLibraryDriver  = "FLY_LIBRARY_DRIVER"
	EnvLibraryDSN     = "FLY_LIBRARY_DSN"
	EnvExportScale    = "FLY_EXPORT_SCALE"
	EnvFontDir        = "FLY_FONT_DIR"
	EnvAdminToken     = "FLY_ADMIN_TOKEN"
	// EnvLogLevel Logging envs
	EnvLogLevel  = "FLY_LOG_LEVEL"
	EnvLogFormat = "FLY_LOG_FORMAT"
	EnvLogSource = "FLY_LOG_SOURCE"
	EnvLogFile   = "FLY_LOG_FILE"
)

const (
	keyringService = "FlyerPro"
	keyringToken   = "admin_token"
)

// TokenStore abstracts the OS keyring so tests can swap it out.
type TokenStore interface {
	Get(service, key string) (string, error)
	Set(service, key, value string) error
	Delete(service, key string) error
}

type osKeyring struct{}

func (osKeyring) Get(service, key string) (string, error) { return keyring.Get(service, key) }
func (osKeyring) Set(service, key, value string) error    { return keyring.Set(service, key, value) }
func (osKeyring) Delete(service, key string) error        { return keyring.Delete(service, key) }

var tokenStore TokenStore = osKeyring{}

// ConfigPath returns the per-user config file path. FLY_CONFIG_FILE wins when set.
func ConfigPath() (string, error) {
	if p := strings.TrimSpace(os.Getenv(EnvConfigFile)); p != "" {
		return p, nil
	}
	var base string
	switch runtime.GOOS {
	case "windows":
		base = os.Getenv("AppData")
		if base == "" {
			base = filepath.Join(os.Getenv("USERPROFILE"), "AppData", "Roaming")
		}
		base = filepath.Join(base, "FlyerPro")
	case "darwin":
		base = filepath.Join(os.Getenv("HOME"), "Library", "Application Support", "FlyerPro")
	default:
		if xdg := os.Getenv("XDG_CONFIG_HOME"); xdg != "" {
			base = filepath.Join(xdg, "flyerpro")
		} else {
			base = filepath.Join(os.Getenv("HOME"), ".config", "flyerpro")
		}
	}
	if base == "" {
		return "", errors.New("cannot resolve config directory")
	}
	return filepath.Join(base, "config.yaml"), nil
}

// Load reads the user config file (if present), applies defaults, and merges env overrides.
// The admin token comes from FLY_ADMIN_TOKEN or the OS keyring and is returned separately.
func Load() (AppConfig, string, error) {
	cfg := Defaults()
	path, err := ConfigPath()
	if err != nil {
		return cfg, "", err
	}
	data, err := os.ReadFile(path)
	switch {
	case err == nil:
		var fileCfg AppConfig
		if err := yaml.Unmarshal(data, &fileCfg); err != nil {
			return cfg, "", fmt.Errorf("parse %s: %w", path, err)
		}
		mergeInto(&cfg, &fileCfg)
	case !errors.Is(err, os.ErrNotExist):
		return cfg, "", fmt.Errorf("read %s: %w", path, err)
	}
	applyEnvOverrides(&cfg)

	tok := strings.TrimSpace(os.Getenv(EnvAdminToken))
	if tok == "" {
		// a missing keyring entry simply means admin endpoints stay open
		tok, _ = tokenStore.Get(keyringService, keyringToken)
	}
	return cfg, tok, nil
}

// Save writes the user config YAML and persists the token into the OS keyring (if non-empty).
func Save(cfg AppConfig, token string) error {
	path, err := ConfigPath()
	if err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}
	data, err := yaml.Marshal(cfg)
	if err != nil {
		return err
	}
	if err := os.WriteFile(path, data, 0o600); err != nil {
		return err
	}
	if token != "" {
		if err := tokenStore.Set(keyringService, keyringToken, token); err != nil {
			return fmt.Errorf("store admin token: %w", err)
		}
	}
	return nil
}

// ClearToken removes the admin token from the keyring.
func ClearToken() error {
	err := tokenStore.Delete(keyringService, keyringToken)
	if errors.Is(err, keyring.ErrNotFound) {
		return nil
	}
	return err
}

func mergeInto(dst, src *AppConfig) {
	if src.ConfigVersion != 0 {
		dst.ConfigVersion = src.ConfigVersion
	}
	setStr(&dst.General.ThemeColor, src.General.ThemeColor)
	if m := strings.ToLower(strings.TrimSpace(src.General.RenderMode)); m != "" {
		dst.General.RenderMode = m
	}
	dst.General.TelemetryOptIn = src.General.TelemetryOptIn

	setStr(&dst.Server.Addr, src.Server.Addr)
	dst.Server.FetchRemoteImages = src.Server.FetchRemoteImages

	if d := strings.ToLower(strings.TrimSpace(src.Library.Driver)); d != "" {
		dst.Library.Driver = d
	}
	setStr(&dst.Library.DSN, src.Library.DSN)

	setStr(&dst.Export.BaseName, src.Export.BaseName)
	if src.Export.Scale > 0 {
		dst.Export.Scale = src.Export.Scale
	}
	setStr(&dst.Export.FontDir, src.Export.FontDir)

	if l := strings.ToLower(strings.TrimSpace(src.Logging.Level)); l != "" {
		dst.Logging.Level = l
	}
	if f := strings.ToLower(strings.TrimSpace(src.Logging.Format)); f != "" {
		dst.Logging.Format = f
	}
	dst.Logging.Source = src.Logging.Source
	setStr(&dst.Logging.File, src.Logging.File)
}

func setStr(dst *string, v string) {
	if v = strings.TrimSpace(v); v != "" {
		*dst = v
	}
}

func applyEnvOverrides(cfg *AppConfig) {
	env := func(k string) string { return strings.TrimSpace(os.Getenv(k)) }

	setStr(&cfg.General.ThemeColor, env(EnvThemeColor))
	if v := env(EnvRenderMode); v != "" {
		cfg.General.RenderMode = strings.ToLower(v)
	}
	if v := env(EnvTelemetryOptIn); v != "" {
		cfg.General.TelemetryOptIn = truthy(v)
	}
	setStr(&cfg.Server.Addr, env(EnvServerAddr))
	if v := env(EnvFetchRemote); v != "" {
		cfg.Server.FetchRemoteImages = truthy(v)
	}
	if v := env(EnvLibraryDriver); v != "" {
		cfg.Library.Driver = strings.ToLower(v)
	}
	setStr(&cfg.Library.DSN, env(EnvLibraryDSN))
	if v := env(EnvExportScale); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil && f > 0 {
			cfg.Export.Scale = f
		}
	}
	setStr(&cfg.Export.FontDir, env(EnvFontDir))
	if v := env(EnvLogLevel); v != "" {
		cfg.Logging.Level = strings.ToLower(v)
	}
	if v := env(EnvLogFormat); v != "" {
		cfg.Logging.Format = strings.ToLower(v)
	}
	if v := env(EnvLogSource); v != "" {
		cfg.Logging.Source = truthy(v)
	}
	setStr(&cfg.Logging.File, env(EnvLogFile))
}

func truthy(v string) bool {
	lv := strings.ToLower(v)
	return lv == "1" || lv == "true" || lv == "on" || lv == "yes"
}

var overrideKeys = map[string]string{
	"general.theme_color":        EnvThemeColor,
	"general.render_mode":        EnvRenderMode,
	"general.telemetry_opt_in":   EnvTelemetryOptIn,
	"server.addr":                EnvServerAddr,
	"server.fetch_remote_images": EnvFetchRemote,
	"library.driver":             EnvLibraryDriver,
	"library.dsn":                EnvLibraryDSN,
	"export.scale":               EnvExportScale,
	"export.font_dir":            EnvFontDir,
	"logging.level":              EnvLogLevel,
	"logging.format":             EnvLogFormat,
	"logging.source":             EnvLogSource,
	"logging.file":               EnvLogFile,
}

// EnvOverrideFor returns the env var name if the field is overridden by environment variables.
func EnvOverrideFor(key string) (string, bool) {
	name, ok := overrideKeys[key]
	if !ok || os.Getenv(name) == "" {
		return "", false
	}
	return name, true
}
