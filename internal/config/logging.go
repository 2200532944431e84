package config

import (
	"fmt"
	"io"
	"os"

	"github.com/ethereum/go-ethereum/log"
	"github.com/mattn/go-colorable"
	"github.com/mattn/go-isatty"
)

// Handler builds the log handler described by c, writing to w.
func (c LogConfig) Handler(w io.Writer) (log.Handler, error) {
	lvl, err := log.LvlFromString(c.Level)
	if err != nil {
		return nil, &ValidationError{Path: "log.level", Message: err.Error(), Value: c.Level}
	}

	var format log.Format
	switch c.Format {
	case "", FormatTerminal:
		usecolor := false
		if f, ok := w.(*os.File); ok {
			usecolor = (isatty.IsTerminal(f.Fd()) || isatty.IsCygwinTerminal(f.Fd())) && os.Getenv("TERM") != "dumb"
			if usecolor {
				w = colorable.NewColorable(f)
			}
		}
		format = log.TerminalFormat(usecolor)
	case FormatLogfmt:
		format = log.LogfmtFormat()
	case FormatJSON:
		format = log.JSONFormat()
	default:
		return nil, &ValidationError{Path: "log.format", Message: "unknown format", Value: c.Format}
	}
	return log.LvlFilterHandler(lvl, log.StreamHandler(w, format)), nil
}

// SetupLogging installs the root log handler. Logs go to c.File when set,
// otherwise to stderr. The returned closer releases the log file.
func SetupLogging(c LogConfig, stderr io.Writer) (io.Closer, error) {
	out := stderr
	var closer io.Closer = nopCloser{}
	if c.File != "" {
		f, err := os.OpenFile(c.File, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
		if err != nil {
			return nil, fmt.Errorf("opening log file: %w", err)
		}
		out, closer = f, f
	}

	h, err := c.Handler(out)
	if err != nil {
		_ = closer.Close()
		return nil, err
	}
	log.Root().SetHandler(h)
	return closer, nil
}

type nopCloser struct{}

func (nopCloser) Close() error { return nil }
