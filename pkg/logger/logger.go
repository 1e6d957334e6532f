// Package logger provides component-scoped structured logging used
// throughout the gateway (agent turns, provider retries, tool execution,
// audit records). Output is newline-delimited JSON.
package logger

import (
	"os"
	"sync"

	"github.com/rs/zerolog"
)

var (
	once sync.Once
	base zerolog.Logger
)

func log() zerolog.Logger {
	once.Do(func() {
		base = zerolog.New(os.Stdout).With().Timestamp().Logger()
	})
	return base
}

// SetOutput redirects the base logger; primarily for tests.
func SetOutput(w *os.File) {
	once.Do(func() {})
	base = zerolog.New(w).With().Timestamp().Logger()
}

func withFields(e *zerolog.Event, component string, fields map[string]interface{}) *zerolog.Event {
	e = e.Str("component", component)
	for k, v := range fields {
		e = e.Interface(k, v)
	}
	return e
}

// InfoC logs a bare info message tagged with component, no extra fields.
func InfoC(component, message string) {
	log().Info().Str("component", component).Msg(message)
}

// InfoCF logs an info message with component and structured fields.
func InfoCF(component, message string, fields map[string]interface{}) {
	withFields(log().Info(), component, fields).Msg(message)
}

// DebugCF logs a debug message with component and structured fields.
func DebugCF(component, message string, fields map[string]interface{}) {
	withFields(log().Debug(), component, fields).Msg(message)
}

// WarnCF logs a warning message with component and structured fields.
func WarnCF(component, message string, fields map[string]interface{}) {
	withFields(log().Warn(), component, fields).Msg(message)
}

// ErrorCF logs an error message with component and structured fields.
func ErrorCF(component, message string, fields map[string]interface{}) {
	withFields(log().Error(), component, fields).Msg(message)
}

// Audit emits a structured audit record at the dedicated "audit" component,
// mirroring original_source's log_audit_internal: event_type plus a
// session_key and a details bag, timestamped by the logger itself.
func Audit(eventType, sessionKey string, details map[string]interface{}) {
	e := log().Info().Str("component", "audit").Str("event_type", eventType).Str("session_key", sessionKey)
	for k, v := range details {
		e = e.Interface(k, v)
	}
	e.Msg(eventType)
}
