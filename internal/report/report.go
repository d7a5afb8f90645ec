// Package report provides the error-reporting sink shared by the index,
// XML and query components. Components receive a Reporter instead of
// writing to a process global, so tests can capture what was reported.
package report

import (
	"fmt"
	"log/slog"
	"sync"
)

// Severity classifies a report.
type Severity int

const (
	SeverityDebug Severity = iota
	SeverityWarning
	SeverityFailure
)

func (s Severity) String() string {
	switch s {
	case SeverityDebug:
		return "debug"
	case SeverityWarning:
		return "warning"
	case SeverityFailure:
		return "failure"
	default:
		return "unknown"
	}
}

// Code identifies the class of a reported problem.
type Code int

const (
	CodeNone Code = iota
	CodeAppDefined
	CodeFileIO
	CodeOpenFailed
	CodeIllegalArg
	CodeNotSupported
	CodeCorrupt
)

func (c Code) String() string {
	switch c {
	case CodeNone:
		return "none"
	case CodeAppDefined:
		return "app_defined"
	case CodeFileIO:
		return "file_io"
	case CodeOpenFailed:
		return "open_failed"
	case CodeIllegalArg:
		return "illegal_arg"
	case CodeNotSupported:
		return "not_supported"
	case CodeCorrupt:
		return "corrupt"
	default:
		return "unknown"
	}
}

// Reporter accepts (severity, code, formatted message) reports.
type Reporter interface {
	Report(sev Severity, code Code, format string, args ...any)
}

type slogReporter struct {
	logger *slog.Logger
}

// NewSlog returns a Reporter writing to logger (slog.Default() if nil).
func NewSlog(logger *slog.Logger) Reporter {
	if logger == nil {
		logger = slog.Default()
	}
	return &slogReporter{logger: logger}
}

func (r *slogReporter) Report(sev Severity, code Code, format string, args ...any) {
	msg := fmt.Sprintf(format, args...)
	switch sev {
	case SeverityDebug:
		r.logger.Debug(msg, "code", code.String())
	case SeverityWarning:
		r.logger.Warn(msg, "code", code.String())
	default:
		r.logger.Error(msg, "code", code.String())
	}
}

// Discard drops every report.
var Discard Reporter = discard{}

type discard struct{}

func (discard) Report(Severity, Code, string, ...any) {}

// Entry is one captured report.
type Entry struct {
	Severity Severity
	Code     Code
	Message  string
}

// Recorder captures reports in memory.
type Recorder struct {
	mu      sync.Mutex
	entries []Entry
}

// Report records the entry.
func (r *Recorder) Report(sev Severity, code Code, format string, args ...any) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.entries = append(r.entries, Entry{Severity: sev, Code: code, Message: fmt.Sprintf(format, args...)})
}

// Entries returns a copy of everything recorded so far.
func (r *Recorder) Entries() []Entry {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]Entry(nil), r.entries...)
}

// Last returns the most recent entry and whether there was one.
func (r *Recorder) Last() (Entry, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if len(r.entries) == 0 {
		return Entry{}, false
	}
	return r.entries[len(r.entries)-1], true
}
