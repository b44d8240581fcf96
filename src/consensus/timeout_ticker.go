package consensus

import (
	"sync"
	"time"
)

const timeoutChannelSize = 100

// Step identifies the phase of a round.
type Step uint8

const (
	// StepPropose ...
	StepPropose Step = iota + 1
	// StepPreVote ...
	StepPreVote
	// StepPreCommit ...
	StepPreCommit
	// StepCommit ...
	StepCommit
)

// String ...
func (s Step) String() string {
	switch s {
	case StepPropose:
		return "Propose"
	case StepPreVote:
		return "PreVote"
	case StepPreCommit:
		return "PreCommit"
	case StepCommit:
		return "Commit"
	default:
		return "Unknown"
	}
}

// TimeoutInfo describes one scheduled timeout. Retries counts the rounds
// since the last commit; each barren round stretches the next timeout by the
// step's delta so a slow network eventually gets enough time.
type TimeoutInfo struct {
	Duration time.Duration
	Round    int
	Step     Step
	Retries  int
}

// Timeouts holds the base and per-retry durations for each step.
type Timeouts struct {
	Propose        time.Duration
	ProposeDelta   time.Duration
	PreVote        time.Duration
	PreVoteDelta   time.Duration
	PreCommit      time.Duration
	PreCommitDelta time.Duration
	Commit         time.Duration
}

// DefaultTimeouts ...
func DefaultTimeouts() Timeouts {
	return Timeouts{
		Propose:        3000 * time.Millisecond,
		ProposeDelta:   500 * time.Millisecond,
		PreVote:        1000 * time.Millisecond,
		PreVoteDelta:   500 * time.Millisecond,
		PreCommit:      1000 * time.Millisecond,
		PreCommitDelta: 500 * time.Millisecond,
		Commit:         1000 * time.Millisecond,
	}
}

// TimeoutTicker runs a single timer for the engine. Scheduling a timeout
// replaces any pending one; only the most recent schedule can fire.
type TimeoutTicker struct {
	mu      sync.Mutex
	conf    Timeouts
	timer   *time.Timer
	tickCh  chan TimeoutInfo
	tockCh  chan TimeoutInfo
	stopCh  chan struct{}
	running bool
}

// NewTimeoutTicker ...
func NewTimeoutTicker(conf Timeouts) *TimeoutTicker {
	return &TimeoutTicker{
		conf:   conf,
		tickCh: make(chan TimeoutInfo, timeoutChannelSize),
		tockCh: make(chan TimeoutInfo, timeoutChannelSize),
		stopCh: make(chan struct{}),
	}
}

// Start ...
func (tt *TimeoutTicker) Start() {
	tt.mu.Lock()
	defer tt.mu.Unlock()

	if tt.running {
		return
	}
	tt.running = true

	go tt.run()
}

// Stop ...
func (tt *TimeoutTicker) Stop() {
	tt.mu.Lock()
	defer tt.mu.Unlock()

	if !tt.running {
		return
	}
	tt.running = false

	close(tt.stopCh)
	if tt.timer != nil {
		tt.timer.Stop()
	}
}

// Chan delivers fired timeouts.
func (tt *TimeoutTicker) Chan() <-chan TimeoutInfo {
	return tt.tockCh
}

// ScheduleTimeout arms the timer for ti, cancelling any pending timeout.
func (tt *TimeoutTicker) ScheduleTimeout(ti TimeoutInfo) {
	select {
	case tt.tickCh <- ti:
	case <-tt.stopCh:
	}
}

func (tt *TimeoutTicker) run() {
	for {
		select {
		case <-tt.stopCh:
			return

		case ti := <-tt.tickCh:
			tt.mu.Lock()
			if tt.timer != nil {
				tt.timer.Stop()
			}

			ti.Duration = tt.duration(ti)
			tiCopy := ti

			tt.timer = time.AfterFunc(ti.Duration, func() {
				select {
				case tt.tockCh <- tiCopy:
				case <-tt.stopCh:
				}
			})
			tt.mu.Unlock()
		}
	}
}

func (tt *TimeoutTicker) duration(ti TimeoutInfo) time.Duration {
	retries := time.Duration(ti.Retries)
	switch ti.Step {
	case StepPropose:
		return tt.conf.Propose + retries*tt.conf.ProposeDelta
	case StepPreVote:
		return tt.conf.PreVote + retries*tt.conf.PreVoteDelta
	case StepPreCommit:
		return tt.conf.PreCommit + retries*tt.conf.PreCommitDelta
	case StepCommit:
		return tt.conf.Commit
	default:
		return time.Second
	}
}
