package consensus

import (
	"testing"
	"time"
)

func fastTimeouts() Timeouts {
	return Timeouts{
		Propose:        20 * time.Millisecond,
		ProposeDelta:   10 * time.Millisecond,
		PreVote:        20 * time.Millisecond,
		PreVoteDelta:   10 * time.Millisecond,
		PreCommit:      20 * time.Millisecond,
		PreCommitDelta: 10 * time.Millisecond,
		Commit:         10 * time.Millisecond,
	}
}

func TestTimeoutTickerFires(t *testing.T) {
	tt := NewTimeoutTicker(fastTimeouts())
	tt.Start()
	defer tt.Stop()

	tt.ScheduleTimeout(TimeoutInfo{Round: 3, Step: StepPropose})

	select {
	case ti := <-tt.Chan():
		if ti.Round != 3 || ti.Step != StepPropose {
			t.Fatalf("wrong timeout fired: %+v", ti)
		}
	case <-time.After(time.Second):
		t.Fatal("timeout never fired")
	}
}

func TestTimeoutTickerReplace(t *testing.T) {
	tt := NewTimeoutTicker(fastTimeouts())
	tt.Start()
	defer tt.Stop()

	// the second schedule replaces the first
	tt.ScheduleTimeout(TimeoutInfo{Round: 0, Step: StepPropose})
	tt.ScheduleTimeout(TimeoutInfo{Round: 1, Step: StepPreVote})

	select {
	case ti := <-tt.Chan():
		if ti.Round != 1 || ti.Step != StepPreVote {
			t.Fatalf("replaced timeout fired: %+v", ti)
		}
	case <-time.After(time.Second):
		t.Fatal("timeout never fired")
	}
}

func TestTimeoutEscalation(t *testing.T) {
	tt := NewTimeoutTicker(fastTimeouts())

	base := tt.duration(TimeoutInfo{Step: StepPreVote, Retries: 0})
	escalated := tt.duration(TimeoutInfo{Step: StepPreVote, Retries: 4})

	if escalated != base+4*10*time.Millisecond {
		t.Fatalf("expected linear escalation, base=%v escalated=%v", base, escalated)
	}
}

func TestTimeoutTickerStop(t *testing.T) {
	tt := NewTimeoutTicker(fastTimeouts())
	tt.Start()

	tt.ScheduleTimeout(TimeoutInfo{Round: 0, Step: StepPropose})
	tt.Stop()

	// scheduling after Stop must not block
	done := make(chan struct{})
	go func() {
		tt.ScheduleTimeout(TimeoutInfo{Round: 1, Step: StepPropose})
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("ScheduleTimeout blocked after Stop")
	}
}
