// internal/logging/levels.go
package logging

import (
	"strings"

	"go.uber.org/zap/zapcore"
)

// TraceLevel sits below Debug. Raw provider payloads and per-candidate
// scoring details are logged at this level.
const TraceLevel = zapcore.Level(-2)

// ParseLevel parses a level name, accepting "trace" in addition to the
// zap level names.
func ParseLevel(name string) (zapcore.Level, error) {
	if strings.EqualFold(strings.TrimSpace(name), "trace") {
		return TraceLevel, nil
	}
	var lvl zapcore.Level
	if err := lvl.UnmarshalText([]byte(strings.ToLower(strings.TrimSpace(name)))); err != nil {
		return zapcore.InfoLevel, err
	}
	return lvl, nil
}
