// Package claims implements the advisory file-claim arbitrator: an
// in-memory exclusive-claim table over normalized filesystem paths.
//
// Claims are cooperative. Nothing prevents out-of-band writes — the
// arbitrator records intent and surfaces it to cooperating agents. The
// table is process-lifetime only and is never persisted; claim audit
// rows still go through the write queue like every other mutation.
package claims

import (
	"errors"
	"fmt"
	"path/filepath"
	"sync"
	"time"
)

// ErrConflict is returned when a path is already held by another agent.
var ErrConflict = errors.New("claims: path already claimed")

// Claim statuses. "released" is accepted as a claim input meaning drop.
const (
	StatusEditing   = "editing"
	StatusReading   = "reading"
	StatusReviewing = "reviewing"
	StatusReleased  = "released"
)

// Claim is one advisory marker on a path.
type Claim struct {
	Path      string    `json:"path"`
	AgentID   string    `json:"agent_id"`
	Status    string    `json:"status"`
	ClaimedAt time.Time `json:"claimed_at"`
}

// Table is the in-memory claim table.
type Table struct {
	mu     sync.Mutex
	claims map[string]Claim
}

// New creates an empty claim table.
func New() *Table {
	return &Table{claims: make(map[string]Claim)}
}

// Check reports the claim on path, if any.
func (t *Table) Check(path string) (Claim, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	c, ok := t.claims[normalize(path)]
	return c, ok
}

// Claim records an exclusive claim for agentID on path. A path held by
// a different agent conflicts unless the new status is "released".
// Releasing a path that is not held, or held by someone else, is a
// no-op result rather than an error.
func (t *Table) Claim(agentID, path, status string) (Claim, error) {
	norm := normalize(path)

	t.mu.Lock()
	defer t.mu.Unlock()

	existing, held := t.claims[norm]

	if status == StatusReleased {
		if held && existing.AgentID == agentID {
			delete(t.claims, norm)
		}
		return Claim{Path: norm, AgentID: agentID, Status: StatusReleased}, nil
	}

	if !validStatus(status) {
		return Claim{}, fmt.Errorf("claims: invalid status %q", status)
	}

	if held && existing.AgentID != agentID {
		return existing, fmt.Errorf("claims: %s held by %s since %s: %w",
			norm, existing.AgentID, existing.ClaimedAt.UTC().Format(time.RFC3339), ErrConflict)
	}

	c := Claim{Path: norm, AgentID: agentID, Status: status, ClaimedAt: time.Now()}
	if held && existing.AgentID == agentID {
		// Same holder changing status keeps the original claim time.
		c.ClaimedAt = existing.ClaimedAt
	}
	t.claims[norm] = c
	return c, nil
}

// ReleaseAll drops every claim held by agentID, for agent termination.
func (t *Table) ReleaseAll(agentID string) int {
	t.mu.Lock()
	defer t.mu.Unlock()

	n := 0
	for path, c := range t.claims {
		if c.AgentID == agentID {
			delete(t.claims, path)
			n++
		}
	}
	return n
}

// All returns a snapshot of the claim table.
func (t *Table) All() []Claim {
	t.mu.Lock()
	defer t.mu.Unlock()

	out := make([]Claim, 0, len(t.claims))
	for _, c := range t.claims {
		out = append(out, c)
	}
	return out
}

func validStatus(status string) bool {
	switch status {
	case StatusEditing, StatusReading, StatusReviewing:
		return true
	}
	return false
}

// normalize cleans the path to a canonical absolute form so "/src/a.py"
// and "/src/./a.py" key the same claim.
func normalize(path string) string {
	if !filepath.IsAbs(path) {
		abs, err := filepath.Abs(path)
		if err == nil {
			path = abs
		}
	}
	return filepath.Clean(path)
}
