package server

import (
	"sync"

	"github.com/iyulab/threatlens/internal/analyzer"
)

// Session is the dashboard state shared by every browser tab: the selected
// model and persona, and the last completed analysis.
type Session struct {
	mu       sync.RWMutex
	defaults analyzer.Settings
	settings analyzer.Settings
	source   string
	report   *analyzer.Report
	lastErr  string
}

// SessionState is a point-in-time copy of a Session.
type SessionState struct {
	Settings analyzer.Settings
	Source   string
	Report   *analyzer.Report
	Error    string
}

// NewSession creates a session with the given default settings.
func NewSession(defaults analyzer.Settings) *Session {
	return &Session{defaults: defaults, settings: defaults}
}

// Snapshot returns the current state.
func (s *Session) Snapshot() SessionState {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return SessionState{Settings: s.settings, Source: s.source, Report: s.report, Error: s.lastErr}
}

// Complete records a finished analysis and the settings that produced it.
func (s *Session) Complete(settings analyzer.Settings, source string, report *analyzer.Report) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.settings = settings
	s.source = source
	s.report = report
	s.lastErr = ""
}

// Fail records a failed analysis. The previous result is kept.
func (s *Session) Fail(settings analyzer.Settings, msg string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.settings = settings
	s.lastErr = msg
}

// Reject records an error for a request whose settings were refused. The
// current settings and result are kept.
func (s *Session) Reject(msg string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.lastErr = msg
}

// Reset clears the result and error and restores the default settings.
func (s *Session) Reset() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.settings = s.defaults
	s.source = ""
	s.report = nil
	s.lastErr = ""
}
