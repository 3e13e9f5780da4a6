package sandbox

import (
	"strings"
	"sync"

	"github.com/pkg/errors"
)

// Outcome is the scripted result of the next purchase sheet.
type Outcome int

const (
	OutcomeSuccess Outcome = iota
	OutcomeCancel
	OutcomePending
	OutcomeFail
)

var outcomeNames = map[Outcome]string{
	OutcomeSuccess: "success",
	OutcomeCancel:  "cancel",
	OutcomePending: "pending",
	OutcomeFail:    "fail",
}

func (o Outcome) String() string {
	if name, ok := outcomeNames[o]; ok {
		return name
	}
	return "unknown"
}

func ParseOutcome(s string) (Outcome, error) {
	for outcome, name := range outcomeNames {
		if name == strings.ToLower(strings.TrimSpace(s)) {
			return outcome, nil
		}
	}
	return 0, errors.Errorf("unknown outcome %q", s)
}

// Script queues the behaviour of a sandbox store. Unscripted operations
// succeed.
type Script struct {
	mu              sync.Mutex
	outcomes        []Outcome
	queryFailures   int
	finishFailures  int
	restoreFailures int
}

// QueueOutcomes sets the results of the next purchases, in order.
func (s *Script) QueueOutcomes(outcomes ...Outcome) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.outcomes = append(s.outcomes, outcomes...)
}

// FailQueries fails the next n product queries.
func (s *Script) FailQueries(n int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.queryFailures += n
}

// FailFinishes fails the next n finish calls on purchased transactions.
func (s *Script) FailFinishes(n int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.finishFailures += n
}

// FailRestores fails the next n restores.
func (s *Script) FailRestores(n int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.restoreFailures += n
}

func (s *Script) nextOutcome() Outcome {
	s.mu.Lock()
	defer s.mu.Unlock()

	if len(s.outcomes) == 0 {
		return OutcomeSuccess
	}
	outcome := s.outcomes[0]
	s.outcomes = s.outcomes[1:]
	return outcome
}

func (s *Script) queryFails() bool {
	return take(&s.mu, &s.queryFailures)
}

func (s *Script) finishFails() bool {
	return take(&s.mu, &s.finishFailures)
}

func (s *Script) restoreFails() bool {
	return take(&s.mu, &s.restoreFailures)
}

func take(mu *sync.Mutex, n *int) bool {
	mu.Lock()
	defer mu.Unlock()

	if *n == 0 {
		return false
	}
	*n--
	return true
}
