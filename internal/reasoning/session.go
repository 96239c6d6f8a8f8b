// Package reasoning implements the Persistent Session (C7): the
// long-running reasoning session paid cycles address by an opaque session
// id, reset (respawned) on any of three triggers (spec.md §4.7). Grounded on
// the teacher's general long-running-session-with-reset shape plus
// internal/tokenutil for the token-based reset trigger.
package reasoning

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"sync"

	"agentloop/internal/tokenutil"
)

// SystemPrompt is the fixed system prompt text for the paid persistent
// session (spec.md §6 "Fixed system prompt"). Session does not send it:
// neither NewSession nor Reset attaches it to any request, and no caller in
// this module does either.
const SystemPrompt = "You are the user's autonomous agent running in a persistent session. " +
	"You remember previous cycles. Do NOT repeat work you already did in previous messages. " +
	"Check your conversation history before acting. If you already completed a task, skip it and move to the next one."

// maxAccumulatedTokens and maxCyclesSinceReset are the spec's unchanged
// reset thresholds (spec.md §4.7).
const (
	maxAccumulatedTokens = 100_000
	maxCyclesSinceReset  = 10
)

// Session is the paid backend's long-running reasoning session. It tracks
// just enough state to decide when a reset is due; the actual conversation
// history lives with the Backend Router's invocation, not here.
type Session struct {
	mu sync.Mutex

	id                string
	accumulatedTokens int
	cyclesSinceReset  int
	lastCycleErrored  bool
	cancelInFlight    context.CancelFunc
}

// NewSession creates a fresh session with a random opaque id.
func NewSession() *Session {
	return &Session{id: newSessionID()}
}

func newSessionID() string {
	b := make([]byte, 16)
	if _, err := rand.Read(b); err != nil {
		// crypto/rand failing is effectively unrecoverable on any real
		// platform; fall back to a fixed marker rather than panic.
		return "session-fallback"
	}
	return "session-" + hex.EncodeToString(b)
}

// ID returns the current opaque session id.
func (s *Session) ID() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.id
}

// RecordCycle accumulates this cycle's token usage (estimated via
// tokenutil.CountTokens when the backend omitted usage) and whether it
// threw an unhandled error, then reports whether a reset is now due.
func (s *Session) RecordCycle(tokensUsed int, erroredUnhandled bool) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.accumulatedTokens += tokensUsed
	s.cyclesSinceReset++
	s.lastCycleErrored = erroredUnhandled
	return s.resetDueLocked()
}

// EstimateAndRecordCycle is RecordCycle but estimates tokensUsed from raw
// text when the backend's response omitted a usage count.
func (s *Session) EstimateAndRecordCycle(promptText, responseText string, erroredUnhandled bool) bool {
	tokens := tokenutil.CountTokens(promptText) + tokenutil.CountTokens(responseText)
	return s.RecordCycle(tokens, erroredUnhandled)
}

func (s *Session) resetDueLocked() bool {
	return s.accumulatedTokens > maxAccumulatedTokens ||
		s.cyclesSinceReset >= maxCyclesSinceReset ||
		s.lastCycleErrored
}

// ResetDue reports whether a reset is currently due without recording a
// cycle.
func (s *Session) ResetDue() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.resetDueLocked()
}

// TrackToolCall registers the cancel func for an in-flight tool call so
// Reset can cancel it. Call the returned cleanup func once the call
// completes normally.
func (s *Session) TrackToolCall(cancel context.CancelFunc) (cleanup func()) {
	s.mu.Lock()
	s.cancelInFlight = cancel
	s.mu.Unlock()
	return func() {
		s.mu.Lock()
		defer s.mu.Unlock()
		s.cancelInFlight = nil
	}
}

// Reset respawns the session: new session id, zeroed accumulators,
// cancellation of any in-flight tool call (spec.md §4.7, §5).
func (s *Session) Reset() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.cancelInFlight != nil {
		s.cancelInFlight()
		s.cancelInFlight = nil
	}
	s.id = newSessionID()
	s.accumulatedTokens = 0
	s.cyclesSinceReset = 0
	s.lastCycleErrored = false
}

// Snapshot is a read-only view of session state for logging/diagnostics.
type Snapshot struct {
	ID                string
	AccumulatedTokens int
	CyclesSinceReset  int
	LastCycleErrored  bool
}

func (s *Session) Snapshot() Snapshot {
	s.mu.Lock()
	defer s.mu.Unlock()
	return Snapshot{
		ID:                s.id,
		AccumulatedTokens: s.accumulatedTokens,
		CyclesSinceReset:  s.cyclesSinceReset,
		LastCycleErrored:  s.lastCycleErrored,
	}
}
