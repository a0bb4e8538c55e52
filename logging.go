package chainvault

import (
	"os"
	"time"

	"github.com/mattn/go-isatty"
	"github.com/ncruces/go-strftime"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// NewLogger builds the zap.Logger every chain/mesh/registry component in
// this package logs through. Output is a human-readable console encoder when
// attached to a terminal (matching the teacher's own TTY-aware formatting)
// and structured JSON otherwise, the same console/non-console split the
// teacher's log output applies when piped versus run interactively.
func NewLogger() (*zap.Logger, error) {
	cfg := zap.NewProductionEncoderConfig()
	cfg.EncodeTime = strftimeEncoder

	var encoder zapcore.Encoder
	if isatty.IsTerminal(os.Stdout.Fd()) || isatty.IsCygwinTerminal(os.Stdout.Fd()) {
		cfg.EncodeLevel = zapcore.CapitalColorLevelEncoder
		encoder = zapcore.NewConsoleEncoder(cfg)
	} else {
		encoder = zapcore.NewJSONEncoder(cfg)
	}

	core := zapcore.NewCore(encoder, zapcore.Lock(os.Stdout), zap.NewAtomicLevelAt(zapcore.InfoLevel))
	return zap.New(core), nil
}

// strftimeEncoder renders log timestamps with strftime's "%Y-%m-%d
// %H:%M:%S.%f" layout rather than zap's RFC3339 default, matching the
// timestamp prefix the teacher's own log lines carry.
func strftimeEncoder(t time.Time, enc zapcore.PrimitiveArrayEncoder) {
	enc.AppendString(strftime.Format("%Y-%m-%d %H:%M:%S.%f", t))
}
