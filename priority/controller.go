// Package priority arbitrates concurrent response sessions pushed by a
// remote backend, guaranteeing at most one authoritative session at any
// instant and interrupting the side effects of a superseded session.
package priority

import (
	"sync"

	"github.com/lumipet/lumipet/logging"
)

// Session is a snapshot of the current authoritative response session.
type Session struct {
	ResponseID string
	Priority   int
	AudioOn    bool
}

// InterruptFunc is invoked when an accepted session supersedes the current
// one. hadAudio reports whether the interrupted session had live audio that
// must be stopped. The function runs inside the controller's decision and
// must not call back into the controller.
type InterruptFunc func(interrupted Session, hadAudio bool)

// ControllerOptions configure NewController.
type ControllerOptions struct {
	Logger      logging.Logger
	OnInterrupt InterruptFunc
}

// Controller is the response-priority state machine. Decisions are made under
// one mutex and never suspend, so concurrent callers observe acceptance and
// interruption as a single atomic step.
type Controller struct {
	mu        sync.Mutex
	logger    logging.Logger
	interrupt InterruptFunc
	current   *Session
	discarded map[string]struct{}
}

// NewController creates a controller with no current session.
func NewController(optFns ...func(o *ControllerOptions)) *Controller {
	opts := ControllerOptions{Logger: logging.NoOpLogger{}}
	for _, fn := range optFns {
		fn(&opts)
	}
	return &Controller{
		logger:    logging.OrNoOp(opts.Logger),
		interrupt: opts.OnInterrupt,
		discarded: make(map[string]struct{}),
	}
}

// ShouldAccept decides whether a message for responseID may proceed.
//
// Rules:
//   - no current session, or matching id: accept and (re)establish current
//   - priority >= current priority: interrupt current, adopt the new session
//   - otherwise: reject and remember the id so later duplicates short-circuit
func (c *Controller) ShouldAccept(responseID string, priority int) bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	if _, dropped := c.discarded[responseID]; dropped {
		return false
	}
	if c.current != nil && c.current.ResponseID == responseID {
		// Re-accepting the current session must not reset AudioOn; only the
		// priority may move.
		c.current.Priority = priority
		return true
	}
	if c.current == nil {
		c.current = &Session{ResponseID: responseID, Priority: priority}
		return true
	}
	if priority >= c.current.Priority {
		interrupted := *c.current
		c.current = &Session{ResponseID: responseID, Priority: priority}
		c.logger.Info("priority.interrupt",
			"superseded", interrupted.ResponseID, "by", responseID,
			"had_audio", interrupted.AudioOn)
		if c.interrupt != nil {
			c.interrupt(interrupted, interrupted.AudioOn)
		}
		return true
	}
	c.discarded[responseID] = struct{}{}
	c.logger.Debug("priority.rejected", "response_id", responseID, "priority", priority)
	return false
}

// NotifyComplete clears the current session when ids match and removes the id
// from the discard set either way.
func (c *Controller) NotifyComplete(responseID string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.discarded, responseID)
	if c.current != nil && c.current.ResponseID == responseID {
		c.current = nil
	}
}

// MarkAudioActive flags the current session as having live audio so a later
// interruption knows to stop playback.
func (c *Controller) MarkAudioActive() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.current != nil {
		c.current.AudioOn = true
	}
}

// Current returns a snapshot of the authoritative session, if any.
func (c *Controller) Current() (Session, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.current == nil {
		return Session{}, false
	}
	return *c.current, true
}

// Reset drops the current session and forgets all discarded ids.
func (c *Controller) Reset() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.current = nil
	c.discarded = make(map[string]struct{})
}
