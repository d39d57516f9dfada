// Package obslog constructs the structured logger shared across this
// module's components. It is built once per process entrypoint and passed
// explicitly into constructors — never stashed behind a package-level
// global, per the "no free-floating singleton" design note in spec.md §9.
package obslog

import (
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// New builds a production zap logger with the given service name attached
// to every log line, matching the construction style used for this
// module's ambient logging stack.
func New(service string, debug bool) (*zap.Logger, error) {
	cfg := zap.NewProductionConfig()
	if debug {
		cfg = zap.NewDevelopmentConfig()
		cfg.Level = zap.NewAtomicLevelAt(zapcore.DebugLevel)
	}
	cfg.InitialFields = map[string]interface{}{"service": service}

	logger, err := cfg.Build()
	if err != nil {
		return nil, err
	}
	return logger, nil
}

// Nop returns a logger that discards everything, for tests that do not
// care about log output.
func Nop() *zap.Logger {
	return zap.NewNop()
}
