package executor

import (
	"time"
)

// OutcomeKind is the closed set of step results.
type OutcomeKind string

const (
	// OutcomeAdvance moves the enrollment to NextNodeID immediately.
	OutcomeAdvance OutcomeKind = "advance"
	// OutcomeWait parks the enrollment until WakeAt, then resumes at
	// NextNodeID.
	OutcomeWait OutcomeKind = "wait"
	// OutcomeTerminate ends the journey with Reason.
	OutcomeTerminate OutcomeKind = "terminate"
	// OutcomeRetry reschedules the same node After a backoff.
	OutcomeRetry OutcomeKind = "retry"
	// OutcomeFail ends the journey as failed with Err.
	OutcomeFail OutcomeKind = "fail"
)

// Termination reasons.
const (
	ReasonExitNode  = "exit_node"
	ReasonEndOfFlow = "end_of_flow"
)

// Outcome is the result of executing one node for one enrollment. The
// fields beyond Kind are only meaningful for the kinds noted on each.
type Outcome struct {
	Kind       OutcomeKind
	NextNodeID string        // advance, wait
	WakeAt     time.Time     // wait
	Reason     string        // terminate
	After      time.Duration // retry
	Err        error         // retry, fail
	Goal       string        // advance past a goal node
}

// Advance moves to the next node with no side state.
func Advance(nextNodeID string) Outcome {
	return Outcome{Kind: OutcomeAdvance, NextNodeID: nextNodeID}
}

// Wait parks the enrollment until wakeAt and resumes at nextNodeID, so
// a woken enrollment never re-enters the delay node it slept on.
func Wait(wakeAt time.Time, nextNodeID string) Outcome {
	return Outcome{Kind: OutcomeWait, WakeAt: wakeAt, NextNodeID: nextNodeID}
}

// Terminate ends the journey. ReasonExitNode maps to the exited
// status, ReasonEndOfFlow to completed.
func Terminate(reason string) Outcome {
	return Outcome{Kind: OutcomeTerminate, Reason: reason}
}

// Retry requests re-execution of the same node after a backoff.
func Retry(after time.Duration, err error) Outcome {
	return Outcome{Kind: OutcomeRetry, After: after, Err: err}
}

// Fail ends the journey as failed with a non-retryable error.
func Fail(err error) Outcome {
	return Outcome{Kind: OutcomeFail, Err: err}
}

const (
	backoffBase = 30 * time.Second
	backoffMax  = 30 * time.Minute
)

// Backoff returns the exponential delay before re-attempting a node.
// attempt is the number of failures already recorded for the node.
func Backoff(attempt int) time.Duration {
	d := backoffBase
	for range attempt {
		d *= 2
		if d >= backoffMax {
			return backoffMax
		}
	}

	return d
}
