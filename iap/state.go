package iap

type State uint8

const (
	StateIdle State = iota
	StateQuerying
	StatePurchasing
	StatePending
	StateVerifying
	StateAcknowledging
	StateAwaitingCompletion
	StateConsuming
	StateCompleted
	StateCancelled
	StateFailed
)

var stateNames = map[State]string{
	StateIdle:               "idle",
	StateQuerying:           "querying",
	StatePurchasing:         "purchasing",
	StatePending:            "pending",
	StateVerifying:          "verifying",
	StateAcknowledging:      "acknowledging",
	StateAwaitingCompletion: "awaiting_completion",
	StateConsuming:          "consuming",
	StateCompleted:          "completed",
	StateCancelled:          "cancelled",
	StateFailed:             "failed",
}

func (s State) String() string {
	if name, ok := stateNames[s]; ok {
		return name
	}
	return "unknown"
}

var transitions = map[State]map[State]struct{}{
	StateIdle: {
		StatePurchasing: {},
		StateQuerying:   {},
	},
	StateQuerying: {
		StateVerifying: {},
		StateFailed:    {},
	},
	StatePurchasing: {
		StateVerifying: {},
		StatePending:   {},
		StateCancelled: {},
		StateFailed:    {},
	},
	StatePending: {
		StateVerifying: {},
		StateCancelled: {},
		StateFailed:    {},
	},
	StateVerifying: {
		StateAcknowledging: {},
		StateFailed:        {},
	},
	StateAcknowledging: {
		StateCompleted:          {},
		StateConsuming:          {},
		StateAwaitingCompletion: {},
		StateFailed:             {},
	},
	StateAwaitingCompletion: {
		StateConsuming: {},
	},
	StateConsuming: {
		StateCompleted: {},
		StateFailed:    {},
	},
	// Only retained finish failures leave Failed; see Transaction.CanRetryFinish.
	StateFailed: {
		StateAcknowledging: {},
		StateConsuming:     {},
	},
	StateCompleted: {},
	StateCancelled: {},
}

// CanTransition reports whether from → to is an edge of the lifecycle. Self
// transitions are never valid, which is what suppresses redelivered native
// updates.
func CanTransition(from, to State) bool {
	allowed, ok := transitions[from]
	if !ok {
		return false
	}
	_, ok = allowed[to]
	return ok
}

// IsTerminal reports whether the state ends the purchase attempt. A failed
// finish is terminal for the attempt even though the transaction is retained.
func (s State) IsTerminal() bool {
	switch s {
	case StateCompleted, StateCancelled, StateFailed:
		return true
	default:
		return false
	}
}

// IsReported reports whether reaching the state produces a purchase-update.
func (s State) IsReported() bool {
	return s.IsTerminal() || s == StatePending || s == StateAwaitingCompletion
}

// CanRetryFinish reports whether complete-purchase may reopen the transaction.
func (t *Transaction) CanRetryFinish() bool {
	return t.State == StateFailed && t.Err.Retryable()
}
