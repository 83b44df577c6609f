package obs

import (
	"fmt"
	"os"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/nhle/mailwatch/internal/model"
)

// NewLogger builds the process logger as a tee of up to three cores:
// the console and the operational log file receive the configured level
// (info by default), while the verbose file receives everything down to
// debug. This reproduces the two independent streams the agent keeps:
// an operational log and a file-only diagnostic log.
func NewLogger(c model.LogConfig) (*zap.Logger, error) {
	opsLevel := zapcore.InfoLevel
	if c.Level != "" {
		if err := opsLevel.Set(c.Level); err != nil {
			opsLevel = zapcore.InfoLevel
		}
	}

	encCfg := zap.NewProductionEncoderConfig()
	encCfg.TimeKey = "ts"
	encCfg.EncodeTime = zapcore.ISO8601TimeEncoder
	enc := zapcore.NewConsoleEncoder(encCfg)

	cores := []zapcore.Core{
		zapcore.NewCore(enc, zapcore.Lock(os.Stdout), opsLevel),
	}

	if c.OpsFile != "" {
		sink, err := openLogFile(c.OpsFile)
		if err != nil {
			return nil, err
		}
		cores = append(cores, zapcore.NewCore(enc, sink, opsLevel))
	}

	if c.VerboseFile != "" {
		sink, err := openLogFile(c.VerboseFile)
		if err != nil {
			return nil, err
		}
		cores = append(cores, zapcore.NewCore(enc, sink, zapcore.DebugLevel))
	}

	return zap.New(zapcore.NewTee(cores...)), nil
}

func openLogFile(path string) (zapcore.WriteSyncer, error) {
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return nil, fmt.Errorf("opening log file %s: %w", path, err)
	}
	return zapcore.Lock(zapcore.AddSync(f)), nil
}
