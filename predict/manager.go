package predict

import (
	"log/slog"
	"strings"
	"sync"
)

// MaxRoundsToInvalidate caps how many unrelated command lines a candidate set
// survives.
const MaxRoundsToInvalidate = 10

// Manager holds the current candidate set. The set is replaced wholesale,
// never edited in place, so a slice returned by Candidates stays intact.
type Manager struct {
	log *slog.Logger

	mu           sync.Mutex
	candidates   []Candidate
	next         int
	invalidation int  // lines left before the set expires; -1 when empty
	checkResult  bool // the last accepted line matched the head candidate
	unregistered bool
}

// NewManager returns an empty manager.
func NewManager(log *slog.Logger) *Manager {
	if log == nil {
		log = slog.Default()
	}
	return &Manager{log: log.With("component", "predict"), invalidation: -1}
}

// SetCandidates replaces the candidate set. An empty set clears it.
// It is a no-op after Unregister.
func (m *Manager) SetCandidates(candidates []Candidate) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.unregistered {
		return
	}
	if len(candidates) == 0 {
		m.resetLocked()
		return
	}
	m.candidates = append([]Candidate(nil), candidates...)
	m.next = 0
	m.checkResult = false
	m.invalidation = invalidationRounds(len(m.candidates))
	m.log.Debug("candidates set", "count", len(m.candidates))
}

// Clear drops the candidate set.
func (m *Manager) Clear() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.resetLocked()
}

func (m *Manager) resetLocked() {
	m.candidates = nil
	m.next = 0
	m.checkResult = false
	m.invalidation = -1
}

// Candidates returns the current set, or nil.
func (m *Manager) Candidates() []Candidate {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.candidates
}

// Next returns the next candidate in rank order, wrapping around.
func (m *Manager) Next() (Candidate, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if len(m.candidates) == 0 {
		return Candidate{}, false
	}
	c := m.candidates[m.next%len(m.candidates)]
	m.next = (m.next + 1) % len(m.candidates)
	return c, true
}

// Suggest returns the candidates whose code starts with input, ignoring case.
func (m *Manager) Suggest(input string) []Candidate {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []Candidate
	prefix := strings.ToLower(input)
	for _, c := range m.candidates {
		if strings.HasPrefix(strings.ToLower(c.Code), prefix) {
			out = append(out, c)
		}
	}
	return out
}

// CommandLineAccepted updates the set after the user accepts line. Candidates
// ranked above the best section match are dropped; a line that matches
// nothing counts down towards expiring the whole set.
func (m *Manager) CommandLineAccepted(line string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.candidates == nil {
		return
	}

	if !strings.Contains(line, "\n") {
		input := NewCandidate(line, "")
		longest, index, ties := 0, -1, 0
		for i, c := range m.candidates {
			switch n := input.matchingSections(c); {
			case n > longest:
				longest, index, ties = n, i, 1
			case n == longest && n > 0:
				ties++
			}
		}

		if index >= 0 {
			m.candidates = append([]Candidate(nil), m.candidates[index:]...)
			m.next = 0
			if ties == 1 {
				// Drop the match only once the command succeeds; a failed run
				// is likely retried.
				m.checkResult = true
			}
			m.invalidation = invalidationRounds(len(m.candidates))
			return
		}
	}

	m.invalidation--
	if m.invalidation < 0 {
		m.log.Debug("candidates expired")
		m.resetLocked()
	}
}

// CommandLineExecuted drops the head candidate when the line accepted last
// matched it and ran successfully.
func (m *Manager) CommandLineExecuted(line string, success bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if !m.checkResult {
		return
	}
	m.checkResult = false
	if !success || len(m.candidates) == 0 {
		return
	}

	m.candidates = append([]Candidate(nil), m.candidates[1:]...)
	m.next = 0
	if len(m.candidates) == 0 {
		m.resetLocked()
	}
}

// Unregister detaches the manager from the shell and clears the set.
func (m *Manager) Unregister() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.resetLocked()
	m.unregistered = true
}

// Registered reports whether Unregister has not been called.
func (m *Manager) Registered() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return !m.unregistered
}

func invalidationRounds(n int) int {
	return min(2*n, MaxRoundsToInvalidate)
}
