// Package gate decides whether a saved project file should be uploaded.
//
// Decide is pure apart from one fingerprint read. Cooldown is evaluated
// before the fingerprint so that saves during cooldown never pay for I/O.
package gate

import (
	"fmt"
	"math"
	"time"

	"github.com/openmined/quicksave/internal/fingerprint"
	"github.com/openmined/quicksave/internal/state"
)

// Kind classifies a Decision
type Kind int

const (
	Send Kind = iota
	SkipNoChange
	SkipCooldown
	SkipNotConfigured
	Failed
)

func (k Kind) String() string {
	switch k {
	case Send:
		return "send"
	case SkipNoChange:
		return "skip_no_change"
	case SkipCooldown:
		return "skip_cooldown"
	case SkipNotConfigured:
		return "skip_not_configured"
	case Failed:
		return "failed"
	default:
		return fmt.Sprintf("kind(%d)", int(k))
	}
}

// Decision is the outcome of Decide. Fingerprint is set for Send, Remaining
// for SkipCooldown and Err for Failed.
type Decision struct {
	Kind        Kind
	Fingerprint fingerprint.Fingerprint
	Remaining   time.Duration
	Err         error
}

// RemainingSeconds rounds the cooldown remainder up to whole seconds, so a
// remainder of 0.2s is reported as 1 rather than 0.
func (d Decision) RemainingSeconds() int {
	return int(math.Ceil(d.Remaining.Seconds()))
}

func (d Decision) String() string {
	switch d.Kind {
	case Send:
		return fmt.Sprintf("send(%s)", d.Fingerprint)
	case SkipCooldown:
		return fmt.Sprintf("skip_cooldown(%ds)", d.RemainingSeconds())
	case Failed:
		return fmt.Sprintf("failed(%v)", d.Err)
	default:
		return d.Kind.String()
	}
}

// Trigger says who asked for the decision.
type Trigger int

const (
	// OnSave is an automatic save event; it requires auto-send to be enabled.
	OnSave Trigger = iota
	// Manual is an explicit "send now" request; auto-send is not required.
	Manual
)

// Request bundles the inputs of one decision.
type Request struct {
	State   *state.ProjectState
	Path    string
	Now     time.Time
	Trigger Trigger
}

// Gate evaluates requests with a Fingerprinter.
type Gate struct {
	fp fingerprint.Fingerprinter
}

// New returns a Gate that fingerprints projects with fp.
func New(fp fingerprint.Fingerprinter) *Gate {
	if fp == nil {
		fp = fingerprint.PartialHasher{}
	}
	return &Gate{fp: fp}
}

// Decide applies, in order: configuration, cooldown, fingerprint comparison.
func (g *Gate) Decide(req Request) Decision {
	st := req.State
	if st == nil || req.Path == "" || !st.EndpointConfigured() {
		return Decision{Kind: SkipNotConfigured}
	}
	if req.Trigger == OnSave && !st.AutoSend {
		return Decision{Kind: SkipNotConfigured}
	}

	if remaining := CooldownRemaining(st, req.Now); remaining > 0 {
		return Decision{Kind: SkipCooldown, Remaining: remaining}
	}

	fp, err := g.fp.Compute(req.Path)
	if err != nil {
		return Decision{Kind: Failed, Err: err}
	}
	if fp == st.LastFingerprint {
		return Decision{Kind: SkipNoChange}
	}

	return Decision{Kind: Send, Fingerprint: fp}
}

// CooldownRemaining returns how long the project must still wait, or 0 when
// cooldown is inactive. A project that was never sent is never cooling down.
// A send timestamp in the future (wall clock moved backwards) counts as zero
// elapsed time, keeping the full cooldown in force.
func CooldownRemaining(st *state.ProjectState, now time.Time) time.Duration {
	if st.NeverSent() || st.CooldownSeconds <= 0 {
		return 0
	}

	elapsed := max(now.Sub(st.LastSendAt), 0)
	remaining := time.Duration(st.CooldownSeconds)*time.Second - elapsed
	return max(remaining, 0)
}
