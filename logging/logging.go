// Package logging builds the zap logger shared by the module.
package logging

import (
	"os"

	"github.com/pkg/errors"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/niclabs/p11nethsm/config"
)

// New returns a logger writing to conf.File, appending, or to stderr
// when no file is set.
func New(conf config.LogConfig) (*zap.SugaredLogger, error) {
	level := zapcore.InfoLevel
	if conf.Level != "" {
		if err := level.UnmarshalText([]byte(conf.Level)); err != nil {
			return nil, errors.Wrapf(err, "bad log level %q", conf.Level)
		}
	}

	sink := zapcore.Lock(os.Stderr)
	if conf.File != "" {
		f, err := os.OpenFile(conf.File, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o600)
		if err != nil {
			return nil, errors.Wrap(err, "cannot open log file")
		}
		sink = zapcore.Lock(f)
	}

	encoderConf := zap.NewProductionEncoderConfig()
	encoderConf.EncodeTime = zapcore.ISO8601TimeEncoder
	core := zapcore.NewCore(zapcore.NewJSONEncoder(encoderConf), sink, zap.NewAtomicLevelAt(level))
	return zap.New(core, zap.AddCaller()).Sugar().With("module", "p11nethsm"), nil
}
