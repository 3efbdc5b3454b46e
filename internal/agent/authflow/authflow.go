// Package authflow negotiates server-side chat authentication. It
// passively classifies inbound chat lines and, when a prompt appears,
// submits the configured credentials over chat with throttling between
// attempt sequences.
package authflow

import (
	"context"
	"log"
	"regexp"
	"sync"
	"time"
)

// Outcome of classifying one chat line.
type class int

const (
	classNone class = iota
	classSuccess
	classRegister
	classLogin
)

// Pattern classes, checked in priority order: success wins over a
// registration prompt, which wins over a login prompt.
var (
	successRe  = regexp.MustCompile(`(?i)(successfully (logged in|registered)|login successful|authentication successful|you are now logged in|welcome back)`)
	registerRe = regexp.MustCompile(`(?i)(/register|please register|not registered|register first|create (a|an) (password|account))`)
	loginRe    = regexp.MustCompile(`(?i)(/login|please log ?in|login required|enter your password)`)
)

// registeredHintRe marks success lines that also confirm registration.
var registeredHintRe = regexp.MustCompile(`(?i)register`)

func classify(line string) class {
	switch {
	case successRe.MatchString(line):
		return classSuccess
	case registerRe.MatchString(line):
		return classRegister
	case loginRe.MatchString(line):
		return classLogin
	default:
		return classNone
	}
}

// Chatter sends one outbound chat line.
type Chatter interface {
	SendChat(text string) error
}

// Recorder receives structured auth events; nil is fine.
type Recorder interface {
	Record(kind string, fields map[string]any)
}

type Config struct {
	Password    string
	AutoSubmit  bool
	MinInterval time.Duration // throttle between attempt sequences
	StepDelay   time.Duration // pause before and between submissions
	Ceiling     time.Duration // one-shot deadline after activation
}

func (c *Config) defaults() {
	if c.MinInterval <= 0 {
		c.MinInterval = 10 * time.Second
	}
	if c.StepDelay <= 0 {
		c.StepDelay = 500 * time.Millisecond
	}
	if c.Ceiling <= 0 {
		c.Ceiling = 60 * time.Second
	}
}

// State is the observable auth snapshot. LoggedIn and Attempts only
// ever move forward.
type State struct {
	Registered  bool      `json:"registered"`
	LoggedIn    bool      `json:"logged_in"`
	Attempts    int       `json:"attempts"`
	LastAttempt time.Time `json:"last_attempt"`
	TimedOut    bool      `json:"timed_out,omitempty"`
}

type Negotiator struct {
	chat   Chatter
	cfg    Config
	logger *log.Logger
	rec    Recorder

	mu       sync.Mutex
	st       State
	active   bool
	deadline *time.Timer

	// submitting serializes attempt sequences; prompts arriving while
	// one runs are dropped rather than queued.
	submitting bool

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

func New(chat Chatter, cfg Config, logger *log.Logger, rec Recorder) *Negotiator {
	cfg.defaults()
	ctx, cancel := context.WithCancel(context.Background())
	return &Negotiator{chat: chat, cfg: cfg, logger: logger, rec: rec, ctx: ctx, cancel: cancel}
}

// Activate arms the ceiling timer. Classification before activation
// still works; the timer just isn't running yet. Idempotent.
func (n *Negotiator) Activate() {
	n.mu.Lock()
	defer n.mu.Unlock()
	if n.active || n.st.LoggedIn {
		return
	}
	n.active = true
	n.deadline = time.AfterFunc(n.cfg.Ceiling, n.timeout)
}

// Close releases the ceiling timer and any in-flight attempt sequence.
func (n *Negotiator) Close() {
	n.cancel()
	n.mu.Lock()
	if n.deadline != nil {
		n.deadline.Stop()
		n.deadline = nil
	}
	n.active = false
	n.mu.Unlock()
	n.wg.Wait()
}

// State returns a copy of the current snapshot.
func (n *Negotiator) State() State {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.st
}

func (n *Negotiator) LoggedIn() bool {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.st.LoggedIn
}

// ObserveChat feeds one inbound line through the classifier. Safe to
// call from the link's event callback.
func (n *Negotiator) ObserveChat(line string) {
	n.mu.Lock()
	if n.st.LoggedIn {
		n.mu.Unlock()
		return
	}
	c := classify(line)
	// After the ceiling prompts go unanswered, but a success line still
	// flips the flag; LoggedIn stays monotonic either way.
	if n.st.TimedOut && c != classSuccess {
		n.mu.Unlock()
		return
	}

	switch c {
	case classSuccess:
		n.st.LoggedIn = true
		if registeredHintRe.MatchString(line) {
			n.st.Registered = true
		}
		n.disarmLocked()
		n.mu.Unlock()
		if n.logger != nil {
			n.logger.Printf("authenticated")
		}
		n.record("authenticated", nil)
		return

	case classRegister:
		if n.st.Registered {
			n.mu.Unlock()
			return
		}
		n.promptLocked(true)

	case classLogin:
		n.promptLocked(false)

	default:
		n.mu.Unlock()
	}
}

// promptLocked handles a register/login prompt; it unlocks n.mu.
func (n *Negotiator) promptLocked(register bool) {
	if !n.cfg.AutoSubmit {
		n.mu.Unlock()
		if n.logger != nil {
			n.logger.Printf("auth prompt seen; manual action required")
		}
		n.record("auth_manual_required", map[string]any{"register": register})
		return
	}
	if n.submitting || (!n.st.LastAttempt.IsZero() && time.Since(n.st.LastAttempt) < n.cfg.MinInterval) {
		n.mu.Unlock()
		return
	}
	n.submitting = true
	n.mu.Unlock()

	n.wg.Add(1)
	go n.runAttempts(register)
}

// runAttempts sends the candidate credential lines with fixed delays,
// stopping early once logged in.
func (n *Negotiator) runAttempts(register bool) {
	defer n.wg.Done()
	defer func() {
		n.mu.Lock()
		n.submitting = false
		n.mu.Unlock()
	}()

	var candidates []string
	if register {
		candidates = append(candidates, "/register "+n.cfg.Password+" "+n.cfg.Password)
	}
	candidates = append(candidates, "/login "+n.cfg.Password)

	for _, cmd := range candidates {
		if !n.sleep(n.cfg.StepDelay) || n.LoggedIn() {
			return
		}
		n.mu.Lock()
		n.st.Attempts++
		n.st.LastAttempt = time.Now()
		n.mu.Unlock()

		if err := n.chat.SendChat(cmd); err != nil {
			if n.logger != nil {
				n.logger.Printf("auth submission failed: %v", err)
			}
			return
		}
		n.record("auth_attempt", map[string]any{"register": register})
	}
}

func (n *Negotiator) sleep(d time.Duration) bool {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
		return true
	case <-n.ctx.Done():
		return false
	}
}

// timeout fires once at the ceiling. Non-fatal: the link stays up, we
// just stop negotiating.
func (n *Negotiator) timeout() {
	n.mu.Lock()
	if n.st.LoggedIn {
		n.mu.Unlock()
		return
	}
	n.st.TimedOut = true
	n.disarmLocked()
	n.mu.Unlock()

	if n.logger != nil {
		n.logger.Printf("auth timeout")
	}
	n.record("auth_timeout", nil)
}

func (n *Negotiator) record(kind string, fields map[string]any) {
	if n.rec != nil {
		n.rec.Record(kind, fields)
	}
}

func (n *Negotiator) disarmLocked() {
	if n.deadline != nil {
		n.deadline.Stop()
		n.deadline = nil
	}
	n.active = false
}
