// internal/logging/testing.go
package logging

import (
	"strings"
	"testing"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"
)

// TestLogger wraps Logger with an observer core so tests can assert on
// emitted entries and fields.
type TestLogger struct {
	*Logger
	Observed *observer.ObservedLogs
}

// NewTestLogger returns a logger that records every entry at TraceLevel
// and above for later assertions.
func NewTestLogger(t *testing.T) *TestLogger {
	t.Helper()

	core, observed := observer.New(TraceLevel)
	zl := zap.New(core, zap.AddCaller())

	return &TestLogger{
		Logger:   &Logger{zap: zl, config: NewDefaultConfig()},
		Observed: observed,
	}
}

// Entries returns all recorded entries.
func (tl *TestLogger) Entries() []observer.LoggedEntry {
	return tl.Observed.All()
}

// Reset drops all recorded entries.
func (tl *TestLogger) Reset() {
	tl.Observed.TakeAll()
}

// AssertLogged fails the test unless an entry at lvl contains msg as a
// substring.
func (tl *TestLogger) AssertLogged(t *testing.T, lvl zapcore.Level, msg string) {
	t.Helper()

	for _, entry := range tl.Observed.All() {
		if entry.Level == lvl && strings.Contains(entry.Message, msg) {
			return
		}
	}
	t.Errorf("expected log entry at %s containing %q, got none", lvl, msg)
}

// AssertNotLogged fails the test if any entry contains msg as a substring.
func (tl *TestLogger) AssertNotLogged(t *testing.T, msg string) {
	t.Helper()

	for _, entry := range tl.Observed.All() {
		if strings.Contains(entry.Message, msg) {
			t.Errorf("unexpected log entry containing %q: %s", msg, entry.Message)
			return
		}
	}
}

// AssertField fails the test unless some entry carries the given field
// key with a string value containing want.
func (tl *TestLogger) AssertField(t *testing.T, key, want string) {
	t.Helper()

	for _, entry := range tl.Observed.All() {
		for _, f := range entry.Context {
			if f.Key != key {
				continue
			}
			if strings.Contains(fieldString(f), want) {
				return
			}
		}
	}
	t.Errorf("expected a log field %q containing %q, got none", key, want)
}

// AssertNoSecrets fails the test if any recorded field with a
// secret-looking key still carries a readable value.
func (tl *TestLogger) AssertNoSecrets(t *testing.T) {
	t.Helper()

	for _, entry := range tl.Observed.All() {
		for _, f := range entry.Context {
			if !isSecretKey(f.Key) {
				continue
			}
			v := fieldString(f)
			if v != "" && v != RedactedValue {
				t.Errorf("field %q leaked value %q in entry %q", f.Key, v, entry.Message)
			}
		}
	}
}

func isSecretKey(key string) bool {
	lower := strings.ToLower(key)
	for _, name := range secretFieldNames {
		if strings.Contains(lower, name) {
			return true
		}
	}
	return false
}

func fieldString(f zapcore.Field) string {
	switch f.Type {
	case zapcore.StringType:
		return f.String
	case zapcore.ByteStringType:
		if b, ok := f.Interface.([]byte); ok {
			return string(b)
		}
	case zapcore.StringerType:
		if s, ok := f.Interface.(interface{ String() string }); ok {
			return s.String()
		}
	}
	return ""
}
