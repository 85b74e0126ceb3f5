package engine

import "errors"

// ErrNoCandidates is returned by a policy given an empty candidate set
var ErrNoCandidates = errors.New("no rotamer candidates")

// RotamerPolicy picks one candidate; it returns a position in candidates
type RotamerPolicy interface {
	Select(candidates []Candidate) (int, error)
}

// RotamerPolicyFunc adapts a function to RotamerPolicy
type RotamerPolicyFunc func(candidates []Candidate) (int, error)

// Select calls f
func (f RotamerPolicyFunc) Select(candidates []Candidate) (int, error) {
	return f(candidates)
}

// HighestScore selects the best-scoring candidate. Ties go to the lowest
// candidate position, so the result is deterministic.
type HighestScore struct{}

// Select implements RotamerPolicy
func (HighestScore) Select(candidates []Candidate) (int, error) {
	if len(candidates) == 0 {
		return -1, ErrNoCandidates
	}
	best := 0
	for i := 1; i < len(candidates); i++ {
		if candidates[i].Score > candidates[best].Score {
			best = i
		}
	}
	return best, nil
}

// candidatePosition finds the candidate with the given rotamer index
func candidatePosition(candidates []Candidate, index int) (int, bool) {
	for i, c := range candidates {
		if c.Index == index {
			return i, true
		}
	}
	return -1, false
}
