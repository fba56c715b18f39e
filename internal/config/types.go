package config

import (
	"encoding/json"
)

// Config is the application config file.
type Config struct {
	// DataPath holds the cache, registry.json, mnemonic.json, commands.json
	// and allowed_cache.json. Default "./data".
	DataPath string        `json:"data_path"`
	Logging  LoggingConfig `json:"logging"`

	Pipeline PipelineConfig `json:"pipeline"`
	// PipelineEngine is "batched" (default) or "windowed".
	PipelineEngine string `json:"pipeline_engine,omitempty"`
	// ResetPipelineConfig drops per-response overrides after every delivery.
	ResetPipelineConfig bool `json:"reset_pipeline_config,omitempty"`
	// OnlyStringIO coerces opaque handler responses to strings.
	OnlyStringIO bool `json:"only_string_io,omitempty"`

	Cache    CacheConfig    `json:"cache"`
	Storage  *StorageConfig `json:"storage,omitempty"`
	HTTP     HTTPConfig     `json:"http"`
	Telegram TelegramConfig `json:"telegram"`
	Console  ConsoleConfig  `json:"console"`
	Mnemonic MnemonicConfig `json:"mnemonic"`

	// Handlers holds one raw section per handler name. Sections are decoded
	// leniently by the handlers themselves.
	Handlers map[string]json.RawMessage `json:"handlers,omitempty"`
}

// PipelineConfig is the file form of the packetizer config.
//
// Delays are Go duration strings (e.g. "1250ms", "2s").
//
// Defaults (when fields are omitted/zero):
//   - step: -1
//   - max_packet_length: 126
//   - limit_type: "symbol"
//   - packets_count: 16
//   - packet_delay: "1250ms"
//   - initial_delay: "800ms"
//   - special_delay: "0s"
//   - after_limit: "user_action"
type PipelineConfig struct {
	Start           *int   `json:"start,omitempty"`
	Stop            *int   `json:"stop,omitempty"`
	Step            *int   `json:"step,omitempty"`
	MaxPacketLength int    `json:"max_packet_length,omitempty"`
	AllowPartNumber bool   `json:"allow_part_number,omitempty"`
	LimitType       string `json:"limit_type,omitempty"`
	ClearText       bool   `json:"clear_text,omitempty"`
	PacketsCount    int    `json:"packets_count,omitempty"`
	PacketDelay     string `json:"packet_delay,omitempty"`
	InitialDelay    string `json:"initial_delay,omitempty"`
	SpecialDelay    string `json:"special_delay,omitempty"`
	AfterLimit      string `json:"after_limit,omitempty"`
}

// CacheConfig controls the request cache.
type CacheConfig struct {
	// ShardSize is the byte size after which a new shard is opened.
	// Default 262144.
	ShardSize int64 `json:"shard_size,omitempty"`
	// CleanupCron is a standard 5-field cron spec for a scheduled,
	// non-forced cleanup. Empty disables it.
	CleanupCron    string `json:"cleanup_cron,omitempty"`
	CleanupOnStart bool   `json:"cleanup_on_start,omitempty"`
}

// StorageConfig controls the delivery audit store.
//
// Example:
//
//	"storage": { "driver": "sqlite", "path": "./data/audit.db" }
type StorageConfig struct {
	Driver      string `json:"driver"`
	Path        string `json:"path"`
	BusyTimeout string `json:"busy_timeout,omitempty"` // Go duration string (sqlite)
}

// HTTPConfig controls the HTTP input channel.
//
// Security note: prefer binding to localhost; the endpoint has no auth.
type HTTPConfig struct {
	Enabled bool   `json:"enabled"`
	Addr    string `json:"addr,omitempty"` // default: "127.0.0.1:8750"
	// Metrics mounts /metrics on the same listener.
	Metrics bool `json:"metrics,omitempty"`
	// Pprof mounts the runtime profiler under /debug.
	Pprof        bool   `json:"pprof,omitempty"`
	ReadTimeout  string `json:"read_timeout,omitempty"`
	WriteTimeout string `json:"write_timeout,omitempty"`
}

type TelegramConfig struct {
	Token        string  `json:"token"`
	OwnerUserIDs []int64 `json:"owner_user_ids"`
	// ChatID receives output packets and remote log lines.
	ChatID int64 `json:"chat_id"`
	// PollTimeout is a Go duration string (e.g. "10s", "2m").
	PollTimeout string `json:"poll_timeout"`
	Output      bool   `json:"output"`
	Input       bool   `json:"input"`
	// Ephemeral deletes delivered packets EphemeralDelay after Finished.
	Ephemeral      bool    `json:"ephemeral,omitempty"`
	EphemeralDelay string  `json:"ephemeral_delay,omitempty"`
	RatePerSec     float64 `json:"rate_per_sec,omitempty"`
}

type ConsoleConfig struct {
	Output bool `json:"output"`
	Input  bool `json:"input"`
	// Separator is printed after every packet. Default "========".
	Separator string `json:"separator,omitempty"`
}

type MnemonicConfig struct {
	// DefaultMode is the mnemonic mode at startup (0 or 1). Default 1.
	DefaultMode *int `json:"default_mode,omitempty"`
}

type LoggingConfig struct {
	Level    string          `json:"level"`
	Console  bool            `json:"console"`
	File     LoggingFile     `json:"file"`
	Telegram LoggingTelegram `json:"telegram"`
}

type LoggingFile struct {
	Enabled    bool   `json:"enabled"`
	Path       string `json:"path"`
	MaxSizeMB  int    `json:"max_size_mb,omitempty"`
	MaxBackups int    `json:"max_backups,omitempty"`
	MaxAgeDays int    `json:"max_age_days,omitempty"`
	Compress   bool   `json:"compress,omitempty"`
}

type LoggingTelegram struct {
	Enabled    bool   `json:"enabled"`
	MinLevel   string `json:"min_level"`
	RatePerSec int    `json:"rate_per_sec"`
}
