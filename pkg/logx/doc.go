// Package logx is chanrelay's structured logger.
//
// Logger wraps zerolog with typed Field helpers and a zero value that
// discards everything. Service owns the live outputs: a readable console, an
// optional JSON file and an optional chat sink that mirrors WARN+ lines into a
// Telegram chat. Loggers derived from a Service follow Apply() without being
// rebuilt.
package logx
