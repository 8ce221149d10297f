package logger

import (
	"os"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

var l *zap.Logger

// Init builds the process-wide JSON logger and installs it as the zap
// global. service tags every line so app, worker and migrator logs can be
// told apart downstream.
func Init(service string) error {
	encCfg := zap.NewProductionEncoderConfig()
	encCfg.TimeKey = "@timestamp"
	encCfg.MessageKey = "message"
	encCfg.LevelKey = "level"
	enc := zapcore.NewJSONEncoder(encCfg)

	core := zapcore.NewCore(enc, zapcore.AddSync(os.Stdout), zapcore.InfoLevel)
	base := zap.New(core).With(
		zap.String("service", service),
	)

	l = base
	zap.ReplaceGlobals(l)
	return nil
}

func L() *zap.Logger {
	if l == nil {
		_ = Init("papertrade")
	}
	return l
}

// WithRequest returns a logger scoped to one HTTP request.
func WithRequest(requestID, method, path string) *zap.Logger {
	return L().With(
		zap.String("request_id", requestID),
		zap.String("method", method),
		zap.String("path", path),
	)
}

// WithUser returns a logger scoped to one account.
func WithUser(userID int64) *zap.Logger {
	return L().With(zap.Int64("user_id", userID))
}
