// Package logx configures wearnotify's structured logging.
//
// A small value-type wrapper (logx.Logger) sits on top of zerolog to keep:
//   - Console output readable (short timestamp + short caller)
//   - File output JSON-structured and rotated (lumberjack)
//   - An optional remote sink (min-level + rate limiting), usually the
//     Telegram channel, that never blocks the caller
package logx
