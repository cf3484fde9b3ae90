package logger

import (
	"io"
	"log/slog"
	"os"
	"strings"
	"time"

	"github.com/google/uuid"
	slogzap "github.com/samber/slog-zap/v2"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

type Env string

const (
	EnvDev   Env = "dev"
	EnvStage Env = "stage"
	EnvProd  Env = "prod"
)

type Backend string

const (
	BackendStd Backend = "std" // text, dev
	BackendZap Backend = "zap" // JSON through zap
)

type Config struct {
	Service    string
	Version    string
	InstanceID string

	Level     slog.Level
	Env       Env
	Backend   Backend // default: std in dev, zap elsewhere
	Debug     bool
	AddSource bool

	Sampling Sampling

	// Output defaults to os.Stdout.
	Output io.Writer
}

// Sampling caps repeated entries per second: the first Initial pass, then
// one in every Thereafter.
type Sampling struct {
	Initial    int
	Thereafter int
}

func (s Sampling) orDefault() Sampling {
	if s.Initial <= 0 {
		s.Initial = 100
	}
	if s.Thereafter <= 0 {
		s.Thereafter = 10
	}
	return s
}

func DetectEnv() Env {
	switch strings.ToLower(strings.TrimSpace(os.Getenv("APP_ENV"))) {
	case "prod", "production":
		return EnvProd
	case "stage", "staging", "preprod":
		return EnvStage
	default:
		return EnvDev
	}
}

// New builds a logger and installs it as the slog default.
func New(cfg Config) *slog.Logger {
	if cfg.Env == "" {
		cfg.Env = DetectEnv()
	}
	if cfg.Service == "" {
		cfg.Service = "taleforge"
	}
	if cfg.Output == nil {
		cfg.Output = os.Stdout
	}
	if cfg.Debug && cfg.Level == 0 {
		cfg.Level = slog.LevelDebug
	}
	cfg.InstanceID = ensureInstanceID(cfg.InstanceID)

	if cfg.Backend == "" {
		if cfg.Env == EnvDev {
			cfg.Backend = BackendStd
		} else {
			cfg.Backend = BackendZap
		}
	}

	var h slog.Handler
	switch cfg.Backend {
	case BackendZap:
		h = newZapHandler(cfg)
	default:
		h = slog.NewTextHandler(cfg.Output, &slog.HandlerOptions{
			Level:     cfg.Level,
			AddSource: cfg.AddSource,
		})
	}

	l := slog.New(h.WithAttrs(commonAttrs(cfg)))
	slog.SetDefault(l)
	return l
}

// Discard is for tests and optional components without a logger.
func Discard() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func newZapHandler(cfg Config) slog.Handler {
	enc := zap.NewProductionEncoderConfig()
	enc.TimeKey = "ts"
	enc.EncodeTime = zapcore.ISO8601TimeEncoder
	enc.EncodeLevel = zapcore.CapitalLevelEncoder
	if cfg.AddSource {
		enc.EncodeCaller = zapcore.ShortCallerEncoder
	}

	sample := cfg.Sampling.orDefault()
	core := zapcore.NewSamplerWithOptions(
		zapcore.NewCore(zapcore.NewJSONEncoder(enc), zapcore.AddSync(cfg.Output), zapLevel(cfg.Level)),
		time.Second, sample.Initial, sample.Thereafter,
	)
	z := zap.New(core, zap.AddCaller(), zap.AddCallerSkip(1))
	return slogzap.Option{Level: cfg.Level, Logger: z}.NewZapHandler()
}

// zapLevel maps slog's levels (-4, 0, 4, 8) onto zap's (-1, 0, 1, 2).
func zapLevel(lvl slog.Level) zapcore.Level {
	lvl = max(min(lvl, slog.LevelError), slog.LevelDebug)
	return zapcore.Level(lvl / 4)
}

func ensureInstanceID(v string) string {
	if v != "" {
		return v
	}
	hn, _ := os.Hostname()
	return hn + "-" + uuid.New().String()[:8]
}

func commonAttrs(cfg Config) []slog.Attr {
	return []slog.Attr{
		slog.String("service", cfg.Service),
		slog.String("env", string(cfg.Env)),
		slog.String("version", cfg.Version),
		slog.String("instance_id", cfg.InstanceID),
	}
}
