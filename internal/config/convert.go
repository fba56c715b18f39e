package config

import (
	"errors"
	"fmt"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/robfig/cron/v3"

	"wearnotify/internal/cache"
	"wearnotify/internal/pipeline"
	"wearnotify/internal/storage"
	"wearnotify/pkg/logx"
)

const (
	DefaultDataPath  = "./data"
	DefaultHTTPAddr  = "127.0.0.1:8750"
	DefaultSeparator = "========"
	DefaultMnemMode  = 1
)

// Data returns the data directory, defaulting to ./data.
func (c *Config) Data() string {
	if c == nil || strings.TrimSpace(c.DataPath) == "" {
		return DefaultDataPath
	}
	return c.DataPath
}

// DataFile joins name onto the data directory.
func (c *Config) DataFile(name string) string { return filepath.Join(c.Data(), name) }

// PipelineDefaults converts the pipeline section, filling defaults.
func (c *Config) PipelineDefaults() (pipeline.Config, error) {
	out := pipeline.DefaultConfig()
	if c == nil {
		return out, nil
	}
	p := c.Pipeline
	out.Start, out.Stop = p.Start, p.Stop
	if p.Step != nil {
		out.Step = *p.Step
	}
	if p.MaxPacketLength > 0 {
		out.MaxPacketLength = p.MaxPacketLength
	}
	out.AllowPartNumber = p.AllowPartNumber
	if s := strings.TrimSpace(p.LimitType); s != "" {
		out.LimitType = pipeline.LimitType(strings.ToLower(s))
	}
	out.ClearText = p.ClearText
	if p.PacketsCount > 0 {
		out.PacketsCount = p.PacketsCount
	}
	var err error
	if out.PacketDelay, err = ParseDurationOrDefault("pipeline.packet_delay", p.PacketDelay, out.PacketDelay); err != nil {
		return out, err
	}
	if out.InitialDelay, err = ParseDurationOrDefault("pipeline.initial_delay", p.InitialDelay, out.InitialDelay); err != nil {
		return out, err
	}
	if out.SpecialDelay, err = ParseDurationField("pipeline.special_delay", p.SpecialDelay); err != nil {
		return out, err
	}
	if s := strings.TrimSpace(p.AfterLimit); s != "" {
		out.AfterLimit = pipeline.AfterLimit(strings.ToLower(s))
	}
	if err := out.Validate(); err != nil {
		return out, fmt.Errorf("pipeline: %w", err)
	}
	return out, nil
}

// Engine resolves pipeline_engine.
func (c *Config) Engine() (pipeline.Engine, error) {
	if c == nil {
		return pipeline.EngineByName("")
	}
	return pipeline.EngineByName(c.PipelineEngine)
}

// ShardSize is the request cache shard cap.
func (c *Config) ShardSize() int64 {
	if c == nil || c.Cache.ShardSize <= 0 {
		return cache.DefaultShardSize
	}
	return c.Cache.ShardSize
}

// MnemonicMode is the startup mnemonic mode.
func (c *Config) MnemonicMode() int {
	if c == nil || c.Mnemonic.DefaultMode == nil {
		return DefaultMnemMode
	}
	return *c.Mnemonic.DefaultMode
}

// LogConfig converts the logging section.
func (c *Config) LogConfig() logx.Config {
	if c == nil {
		return logx.Config{Level: "info", Console: true}
	}
	l := c.Logging
	out := logx.Config{
		Level:   l.Level,
		Console: l.Console,
		File: logx.FileConfig{
			Enabled:    l.File.Enabled,
			Path:       l.File.Path,
			MaxSizeMB:  l.File.MaxSizeMB,
			MaxBackups: l.File.MaxBackups,
			MaxAgeDays: l.File.MaxAgeDays,
			Compress:   l.File.Compress,
		},
		Remote: logx.RemoteConfig{
			Enabled:    l.Telegram.Enabled,
			MinLevel:   l.Telegram.MinLevel,
			RatePerSec: l.Telegram.RatePerSec,
		},
	}
	if out.File.Enabled && strings.TrimSpace(out.File.Path) == "" {
		out.File.Path = filepath.Join(c.Data(), "cache", "logs", "wearnotify.log")
	}
	return out
}

// StoreConfig converts the storage section. A nil section disables storage.
func (c *Config) StoreConfig() (storage.Config, error) {
	if c == nil || c.Storage == nil {
		return storage.Config{}, nil
	}
	bt, err := ParseDurationField("storage.busy_timeout", c.Storage.BusyTimeout)
	if err != nil {
		return storage.Config{}, err
	}
	return storage.Config{Driver: c.Storage.Driver, Path: c.Storage.Path, BusyTimeout: bt}, nil
}

// Validate checks cross-field constraints that decoding cannot.
func Validate(c *Config) error {
	if c == nil {
		return errors.New("config is nil")
	}
	var errs []error
	if _, err := c.PipelineDefaults(); err != nil {
		errs = append(errs, err)
	}
	if _, err := c.Engine(); err != nil {
		errs = append(errs, err)
	}
	if _, err := c.StoreConfig(); err != nil {
		errs = append(errs, err)
	}
	if c.Storage != nil {
		switch strings.ToLower(strings.TrimSpace(c.Storage.Driver)) {
		case "", "none", "file", "sqlite", "sqlite3":
		default:
			errs = append(errs, fmt.Errorf("storage.driver: unknown driver %q", c.Storage.Driver))
		}
	}
	if spec := strings.TrimSpace(c.Cache.CleanupCron); spec != "" {
		if _, err := cron.ParseStandard(spec); err != nil {
			errs = append(errs, fmt.Errorf("cache.cleanup_cron: %w", err))
		}
	}
	if m := c.MnemonicMode(); m != 0 && m != 1 {
		errs = append(errs, fmt.Errorf("mnemonic.default_mode: must be 0 or 1, got %d", m))
	}
	for _, f := range []struct{ path, raw string }{
		{"http.read_timeout", c.HTTP.ReadTimeout},
		{"http.write_timeout", c.HTTP.WriteTimeout},
		{"telegram.poll_timeout", c.Telegram.PollTimeout},
		{"telegram.ephemeral_delay", c.Telegram.EphemeralDelay},
	} {
		if _, err := ParseDurationField(f.path, f.raw); err != nil {
			errs = append(errs, err)
		}
	}
	if (c.Telegram.Output || c.Telegram.Input || c.Logging.Telegram.Enabled) && strings.TrimSpace(c.Telegram.Token) == "" {
		errs = append(errs, errors.New("telegram.token is required when a telegram channel is enabled"))
	}
	return errors.Join(errs...)
}

// ParseDurationField parses a Go duration string. A bare integer is read as
// milliseconds. Empty yields 0.
func ParseDurationField(path, raw string) (time.Duration, error) {
	s := strings.TrimSpace(raw)
	if s == "" {
		return 0, nil
	}
	var (
		d   time.Duration
		err error
	)
	if ms, perr := strconv.ParseInt(s, 10, 64); perr == nil {
		d = time.Duration(ms) * time.Millisecond
	} else if d, err = time.ParseDuration(s); err != nil {
		return 0, fmt.Errorf("%s: invalid duration %q: %w", path, raw, err)
	}
	if d < 0 {
		return 0, fmt.Errorf("%s: duration must be >= 0", path)
	}
	return d, nil
}

// ParseDurationOrDefault is ParseDurationField with def for empty or zero.
func ParseDurationOrDefault(path, raw string, def time.Duration) (time.Duration, error) {
	d, err := ParseDurationField(path, raw)
	if err != nil || d > 0 {
		return d, err
	}
	return def, nil
}

// Duration parses a field that was already validated; invalid values yield def.
func Duration(raw string, def time.Duration) time.Duration {
	d, err := ParseDurationOrDefault("", raw, def)
	if err != nil {
		return def
	}
	return d
}
