package logging

import (
	"errors"
	"fmt"
	"io"
	"os"

	"go.opentelemetry.io/contrib/bridges/otelzap"
	"go.opentelemetry.io/otel/log"
	"go.uber.org/zap/zapcore"
)

const otelScope = "github.com/fyrsmithlabs/remedyd"

// newCore tees the enabled outputs and wraps them in the sampler. Stdout
// entries pass the redacting encoder; the OTEL bridge gets the same level
// floor.
func newCore(cfg *Config, otelProvider log.LoggerProvider, stdout io.Writer) (zapcore.Core, error) {
	var cores []zapcore.Core

	if cfg.Output.Stdout {
		if stdout == nil {
			stdout = os.Stdout
		}
		enc, err := NewRedactingEncoder(newEncoder(cfg.Format), cfg.Redaction)
		if err != nil {
			return nil, fmt.Errorf("failed to create redacting encoder: %w", err)
		}
		cores = append(cores, zapcore.NewCore(enc, zapcore.AddSync(stdout), cfg.Level))
	}

	if cfg.Output.OTEL && otelProvider != nil {
		bridge, err := zapcore.NewIncreaseLevelCore(
			otelzap.NewCore(otelScope, otelzap.WithLoggerProvider(otelProvider)), cfg.Level)
		if err != nil {
			return nil, fmt.Errorf("failed to create otel core: %w", err)
		}
		cores = append(cores, bridge)
	}

	switch len(cores) {
	case 0:
		return nil, errors.New("at least one output must be enabled and available")
	case 1:
		return newSampledCore(cores[0], cfg.Sampling), nil
	}
	return newSampledCore(zapcore.NewTee(cores...), cfg.Sampling), nil
}
