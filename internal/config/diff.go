package config

import (
	"reflect"
	"sort"
	"strings"

	"wearnotify/pkg/logx"
)

// SummarizeConfigChange returns (1) a compact list of changed sections,
// (2) safe structured attrs for logging (never includes secrets like tokens),
// and (3) the names of handlers whose section changed.
func SummarizeConfigChange(oldCfg, newCfg *Config) ([]string, []logx.Field, []string) {
	if oldCfg == nil {
		oldCfg = &Config{}
	}
	if newCfg == nil {
		newCfg = &Config{}
	}

	changed := make([]string, 0, 8)
	attrs := make([]logx.Field, 0, 16)

	if oldCfg.Data() != newCfg.Data() {
		changed = append(changed, "data_path")
		attrs = append(attrs, logx.String("data_path", newCfg.Data()))
	}

	if !reflect.DeepEqual(oldCfg.Logging, newCfg.Logging) {
		changed = append(changed, "logging")
		attrs = append(attrs,
			logx.String("logging.level", newCfg.Logging.Level),
			logx.Bool("logging.console", newCfg.Logging.Console),
			logx.Bool("logging.file_enabled", newCfg.Logging.File.Enabled),
			logx.Bool("logging.telegram_enabled", newCfg.Logging.Telegram.Enabled),
		)
	}

	if !reflect.DeepEqual(oldCfg.Pipeline, newCfg.Pipeline) ||
		!strings.EqualFold(oldCfg.PipelineEngine, newCfg.PipelineEngine) ||
		oldCfg.ResetPipelineConfig != newCfg.ResetPipelineConfig ||
		oldCfg.OnlyStringIO != newCfg.OnlyStringIO {
		changed = append(changed, "pipeline")
		attrs = append(attrs,
			logx.String("pipeline.engine", newCfg.PipelineEngine),
			logx.Int("pipeline.max_packet_length", newCfg.Pipeline.MaxPacketLength),
			logx.Int("pipeline.packets_count", newCfg.Pipeline.PacketsCount),
			logx.String("pipeline.after_limit", newCfg.Pipeline.AfterLimit),
		)
	}

	if oldCfg.Cache != newCfg.Cache {
		changed = append(changed, "cache")
		attrs = append(attrs, logx.String("cache.cleanup_cron", newCfg.Cache.CleanupCron))
	}

	if !reflect.DeepEqual(oldCfg.Storage, newCfg.Storage) {
		changed = append(changed, "storage")
	}
	if oldCfg.HTTP != newCfg.HTTP {
		changed = append(changed, "http")
		attrs = append(attrs, logx.Bool("http.enabled", newCfg.HTTP.Enabled), logx.String("http.addr", newCfg.HTTP.Addr))
	}

	// Telegram (never log token)
	ot, nt := oldCfg.Telegram, newCfg.Telegram
	if ot.Token != nt.Token || ot.ChatID != nt.ChatID || ot.PollTimeout != nt.PollTimeout ||
		ot.Output != nt.Output || ot.Input != nt.Input || ot.Ephemeral != nt.Ephemeral ||
		ot.EphemeralDelay != nt.EphemeralDelay || ot.RatePerSec != nt.RatePerSec ||
		!reflect.DeepEqual(ot.OwnerUserIDs, nt.OwnerUserIDs) {
		changed = append(changed, "telegram")
		attrs = append(attrs,
			logx.Bool("telegram.token_set", strings.TrimSpace(nt.Token) != ""),
			logx.Int("telegram.owner_count", len(nt.OwnerUserIDs)),
		)
	}
	if oldCfg.Console != newCfg.Console {
		changed = append(changed, "console")
	}
	if oldCfg.MnemonicMode() != newCfg.MnemonicMode() {
		changed = append(changed, "mnemonic")
		attrs = append(attrs, logx.Int("mnemonic.default_mode", newCfg.MnemonicMode()))
	}

	var handlers []string
	names := map[string]struct{}{}
	for k := range oldCfg.Handlers {
		names[k] = struct{}{}
	}
	for k := range newCfg.Handlers {
		names[k] = struct{}{}
	}
	for k := range names {
		if canonicalHashJSON(oldCfg.Handlers[k]) != canonicalHashJSON(newCfg.Handlers[k]) {
			handlers = append(handlers, k)
		}
	}
	sort.Strings(handlers)
	if len(handlers) > 0 {
		changed = append(changed, "handlers")
		attrs = append(attrs, logx.Strings("handlers.changed", handlers))
	}
	return changed, attrs, handlers
}
