// Package report is the sink for errors caught on asynchronous paths,
// where no caller is positioned to receive a return value.
package report

import (
	"sync"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

// Reporter receives every error the coordinator and adapters catch.
type Reporter interface {
	Report(err error)
}

// LogReporter reports through the global zerolog logger.
type LogReporter struct {
	logger *zerolog.Logger
}

// NewLogReporter creates a reporter writing at error level. Passing nil
// uses the global logger.
func NewLogReporter(logger *zerolog.Logger) *LogReporter {
	return &LogReporter{logger: logger}
}

// Report logs the error.
func (r *LogReporter) Report(err error) {
	if err == nil {
		return
	}
	if r.logger != nil {
		r.logger.Error().Err(err).Msg("reported error")
		return
	}
	log.Error().Err(err).Msg("reported error")
}

// Capture records reported errors for assertions in tests.
type Capture struct {
	mu     sync.Mutex
	errors []error
}

// Report records the error.
func (c *Capture) Report(err error) {
	if err == nil {
		return
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.errors = append(c.errors, err)
}

// Errors returns a snapshot of everything reported so far.
func (c *Capture) Errors() []error {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]error, len(c.errors))
	copy(out, c.errors)
	return out
}
