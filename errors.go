package tracker

import (
	"errors"
	"fmt"
	"log/slog"
	"strings"
)

// Severity controls what happens to a detected violation.
type Severity int

const (
	// SeverityRaise returns the violation to the caller.
	SeverityRaise Severity = iota
	// SeverityWarn logs the violation and carries on.
	SeverityWarn
	// SeveritySilent drops the violation.
	SeveritySilent
)

func (s Severity) String() string {
	switch s {
	case SeverityRaise:
		return "raise"
	case SeverityWarn:
		return "warn"
	case SeveritySilent:
		return "silent"
	}
	return fmt.Sprintf("Severity(%d)", int(s))
}

// ParseSeverity accepts the names produced by Severity.String.
func ParseSeverity(s string) (Severity, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "raise", "":
		return SeverityRaise, nil
	case "warn":
		return SeverityWarn, nil
	case "silent":
		return SeveritySilent, nil
	}
	return 0, fmt.Errorf("unknown error severity %q", s)
}

func (s *Severity) UnmarshalYAML(unmarshal func(interface{}) error) error {
	var raw string
	if err := unmarshal(&raw); err != nil {
		return err
	}
	v, err := ParseSeverity(raw)
	if err != nil {
		return err
	}
	*s = v
	return nil
}

// ErrRequestReused is returned when a request is fired a second time.
var ErrRequestReused = errors.New("tracking request already fired")

// ValidationError reports invalid input detected before any state changed.
type ValidationError struct {
	Op      string
	Message string
}

func (e *ValidationError) Error() string {
	return e.Op + ": " + e.Message
}

// QuotaAdvisory reports a session beyond the number of requests the
// collector guarantees to process.
type QuotaAdvisory struct {
	TrackCount int
	Limit      int
}

func (e *QuotaAdvisory) Error() string {
	return fmt.Sprintf("session track count %d exceeds the %d requests per session the collector guarantees to process", e.TrackCount, e.Limit)
}

// TransportError wraps a failed delivery. StatusCode is 0 when no response
// was received.
type TransportError struct {
	URL        string
	StatusCode int
	Err        error
}

func (e *TransportError) Error() string {
	if e.StatusCode != 0 {
		return fmt.Sprintf("tracking request failed with status %d", e.StatusCode)
	}
	return fmt.Sprintf("tracking request failed: %v", e.Err)
}

func (e *TransportError) Unwrap() error {
	return e.Err
}

func validationErrorf(op, format string, args ...any) *ValidationError {
	return &ValidationError{Op: op, Message: fmt.Sprintf(format, args...)}
}

// reporter applies the configured severity to violations.
type reporter struct {
	severity Severity
	log      *slog.Logger
}

// report returns err only under SeverityRaise.
func (r reporter) report(err error) error {
	if err == nil {
		return nil
	}
	switch r.severity {
	case SeveritySilent:
		return nil
	case SeverityWarn:
		r.log.Warn("Tracking violation", slog.Any("error", err))
		return nil
	}
	return err
}
