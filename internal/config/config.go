// Package config loads screentime configuration.
//
// Configuration is CUE: an embedded #Config schema supplies constraints and
// defaults, an optional user file is unified with it, and the result must be
// concrete before it is decoded into Config.
package config

import (
	_ "embed"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"time"

	"cuelang.org/go/cue"
	"cuelang.org/go/cue/cuecontext"
	cueerrors "cuelang.org/go/cue/errors"
	"cuelang.org/go/cue/token"

	"github.com/roach88/screentime/internal/assignment"
)

// DefaultFile is loaded when no explicit path is given and it exists.
const DefaultFile = "screentime.cue"

//go:embed schema.cue
var schemaSource string

// Config is the decoded configuration.
type Config struct {
	Database         string `json:"database"`
	SharedDir        string `json:"shared_dir"`
	EventKey         string `json:"event_key"`
	MonitorScope     string `json:"monitor_scope"`
	ThresholdSeconds int64  `json:"threshold_seconds"`
	PickerTimeoutRaw string `json:"picker_timeout"`
	Rates            Rates  `json:"rates"`
	LogLevel         string `json:"log_level"`
	MetricsAddr      string `json:"metrics_addr"`

	// PickerTimeout is PickerTimeoutRaw parsed.
	PickerTimeout time.Duration `json:"-"`
}

// Rates are default points per minute per category.
type Rates struct {
	Learning int64 `json:"learning"`
	Reward   int64 `json:"reward"`
}

// Assignment converts r to the assignment store's form.
func (r Rates) Assignment() assignment.Rates {
	return assignment.Rates{Learning: r.Learning, Reward: r.Reward}
}

// Level returns the slog level named by LogLevel.
func (c Config) Level() slog.Level {
	switch c.LogLevel {
	case "debug":
		return slog.LevelDebug
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	}
	return slog.LevelInfo
}

// Error is a configuration error with the source position CUE reported.
type Error struct {
	Message string
	Pos     token.Pos
}

func (e *Error) Error() string {
	if e.Pos.IsValid() {
		return fmt.Sprintf("%s:%d:%d: %s",
			e.Pos.Filename(), e.Pos.Line(), e.Pos.Column(), e.Message)
	}
	return e.Message
}

// Default returns the schema defaults.
func Default() (Config, error) {
	return decode(nil, "")
}

// Load reads path and unifies it with the schema. An empty path loads
// DefaultFile from the working directory if present, and the schema
// defaults otherwise.
func Load(path string) (Config, error) {
	explicit := path != ""
	if !explicit {
		path = DefaultFile
	}
	data, err := os.ReadFile(path)
	if err != nil {
		if !explicit && errors.Is(err, os.ErrNotExist) {
			return Default()
		}
		return Config{}, fmt.Errorf("read config: %w", err)
	}
	return Parse(data, path)
}

// Parse unifies CUE source with the schema and decodes it. filename is used
// in error positions only.
func Parse(src []byte, filename string) (Config, error) {
	return decode(src, filename)
}

func decode(src []byte, filename string) (Config, error) {
	ctx := cuecontext.New()
	schema := ctx.CompileString(schemaSource, cue.Filename("schema.cue"))
	if err := schema.Err(); err != nil {
		return Config{}, fmt.Errorf("compile config schema: %w", formatCUEError(err))
	}
	v := schema.LookupPath(cue.ParsePath("#Config"))

	if src != nil {
		user := ctx.CompileBytes(src, cue.Filename(filename))
		if err := user.Err(); err != nil {
			return Config{}, formatCUEError(err)
		}
		v = v.Unify(user)
	}
	if err := v.Validate(cue.Concrete(true)); err != nil {
		return Config{}, formatCUEError(err)
	}

	var cfg Config
	if err := v.Decode(&cfg); err != nil {
		return Config{}, formatCUEError(err)
	}
	d, err := time.ParseDuration(cfg.PickerTimeoutRaw)
	if err != nil || d <= 0 {
		return Config{}, &Error{Message: fmt.Sprintf("picker_timeout: invalid duration %q", cfg.PickerTimeoutRaw)}
	}
	cfg.PickerTimeout = d
	return cfg, nil
}

// formatCUEError keeps the first error and its position.
func formatCUEError(err error) error {
	errs := cueerrors.Errors(err)
	if len(errs) == 0 {
		return err
	}
	first := errs[0]
	if positions := cueerrors.Positions(first); len(positions) > 0 {
		return &Error{Message: first.Error(), Pos: positions[0]}
	}
	return &Error{Message: first.Error()}
}
