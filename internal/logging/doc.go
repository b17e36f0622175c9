// Package logging configures the process-wide slog logger for ragkb.
//
// Logs are JSON records. They go to stderr by default. A rotating file under
// the data directory is added when a file path is configured. The MCP server
// mode writes to the file only, because stdout carries the protocol stream.
package logging
