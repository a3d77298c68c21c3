package log

import (
	"fmt"
	"io"
	"log/slog"
	"strings"

	"github.com/mattn/go-isatty"
	"github.com/urfave/cli/v2"

	"github.com/ethereum/go-ethereum/log"

	opservice "github.com/yhl125/op-soak/op-service"
)

const (
	LevelFlagName  = "log.level"
	FormatFlagName = "log.format"
	ColorFlagName  = "log.color"
)

// FormatType defines a type of log format.
// Supported formats: 'text', 'terminal', 'logfmt', 'json'
type FormatType string

const (
	FormatText     FormatType = "text"
	FormatTerminal FormatType = "terminal"
	FormatLogFmt   FormatType = "logfmt"
	FormatJSON     FormatType = "json"
)

func (ft FormatType) String() string {
	return string(ft)
}

// Set implements cli.Generic.
func (ft *FormatType) Set(value string) error {
	switch FormatType(value) {
	case FormatText, FormatTerminal, FormatLogFmt, FormatJSON:
		*ft = FormatType(value)
		return nil
	default:
		return fmt.Errorf("unrecognized log-format: %q", value)
	}
}

func (ft *FormatType) Clone() any {
	cpy := *ft
	return &cpy
}

// LevelFromString parses a log level name, case-insensitive.
func LevelFromString(lvl string) (slog.Level, error) {
	switch strings.ToLower(lvl) {
	case "trace":
		return log.LevelTrace, nil
	case "debug", "dbug":
		return log.LevelDebug, nil
	case "info":
		return log.LevelInfo, nil
	case "warn":
		return log.LevelWarn, nil
	case "error", "eror":
		return log.LevelError, nil
	case "crit":
		return log.LevelCrit, nil
	default:
		return 0, fmt.Errorf("unknown level: %v", lvl)
	}
}

func CLIFlags(envPrefix string) []cli.Flag {
	return []cli.Flag{
		&cli.StringFlag{
			Name:    LevelFlagName,
			Usage:   "The lowest log level that will be output",
			Value:   "info",
			EnvVars: opservice.PrefixEnvVar(envPrefix, "LOG_LEVEL"),
			Action: func(_ *cli.Context, v string) error {
				_, err := LevelFromString(v)
				return err
			},
		},
		&cli.GenericFlag{
			Name:    FormatFlagName,
			Usage:   "Format the log output. Supported formats: 'text', 'terminal', 'logfmt', 'json'",
			EnvVars: opservice.PrefixEnvVar(envPrefix, "LOG_FORMAT"),
			Value: func() *FormatType {
				f := FormatText
				return &f
			}(),
		},
		&cli.BoolFlag{
			Name:    ColorFlagName,
			Usage:   "Color the log output if in terminal mode",
			EnvVars: opservice.PrefixEnvVar(envPrefix, "LOG_COLOR"),
		},
	}
}

type CLIConfig struct {
	Level  slog.Level
	Color  bool
	Format FormatType
}

// DefaultCLIConfig enables color. Handlers only apply it when their writer is a terminal.
func DefaultCLIConfig() CLIConfig {
	return CLIConfig{
		Level:  log.LevelInfo,
		Color:  true,
		Format: FormatText,
	}
}

func ReadCLIConfig(ctx *cli.Context) CLIConfig {
	cfg := DefaultCLIConfig()
	if lvl, err := LevelFromString(ctx.String(LevelFlagName)); err == nil {
		cfg.Level = lvl
	}
	if ft, ok := ctx.Generic(FormatFlagName).(*FormatType); ok && ft != nil {
		cfg.Format = *ft
	}
	if ctx.IsSet(ColorFlagName) {
		cfg.Color = ctx.Bool(ColorFlagName)
	}
	return cfg
}

// NewLogger creates a logger that writes to w with the configured format and level.
func NewLogger(w io.Writer, cfg CLIConfig) log.Logger {
	return log.NewLogger(NewHandler(w, cfg))
}

func NewHandler(w io.Writer, cfg CLIConfig) slog.Handler {
	switch cfg.Format {
	case FormatJSON:
		return log.JSONHandlerWithLevel(w, cfg.Level)
	case FormatLogFmt:
		return log.LogfmtHandlerWithLevel(w, cfg.Level)
	default:
		return log.NewTerminalHandlerWithLevel(w, cfg.Level, cfg.Color && isTerminal(w))
	}
}

// isTerminal reports whether w is backed by a terminal file descriptor.
func isTerminal(w io.Writer) bool {
	f, ok := w.(interface{ Fd() uintptr })
	if !ok {
		return false
	}
	return isatty.IsTerminal(f.Fd()) || isatty.IsCygwinTerminal(f.Fd())
}

// SetGlobalLogHandler sets the log handler of the root logger of go-ethereum,
// so that libraries logging through the global logger use the same output.
func SetGlobalLogHandler(h slog.Handler) {
	log.SetDefault(log.NewLogger(h))
}
