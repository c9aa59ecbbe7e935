// Package logx is cmmsd's structured logging.
//
// Logger is a small value type over zerolog. Loggers derived from a Service
// follow live config changes; the zero Logger discards everything.
//
// Sinks:
//   - console, human readable with a short caller
//   - file, one JSON object per line
//   - Telegram chat, for records at or above a level, rate limited
package logx
