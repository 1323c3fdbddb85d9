// Package registry manages agent lifecycle and identity: creation,
// termination, bearer-token resolution, color tagging, and the
// in-memory mirror of the agents table.
//
// All mutations route through the write-serialization queue and update
// both the store and the mirror before returning. Agents are never
// physically deleted; termination preserves history.
package registry

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"path/filepath"
	"sync"

	"github.com/golang-jwt/jwt/v4"
	"github.com/google/uuid"

	"github.com/HendryAvila/wrangler/internal/audit"
	"github.com/HendryAvila/wrangler/internal/queue"
	"github.com/HendryAvila/wrangler/internal/store"
)

// ErrUnauthorized is returned for tokens that do not resolve to a live
// identity. No further detail is leaked to the caller.
var ErrUnauthorized = errors.New("registry: token invalid for this operation")

// AdminID is the acting identity recorded for admin-token operations.
const AdminID = "admin"

// colorPalette is cycled deterministically so concurrent agents are
// visually distinguishable. Collisions once exhausted are acceptable.
var colorPalette = []string{
	"red", "blue", "green", "yellow", "magenta", "cyan", "orange", "purple",
}

// Identity is the resolved caller of an operation.
type Identity struct {
	AgentID string
	Admin   bool
}

// Notify receives state-change events for the observer stream. May be nil.
type Notify func(eventType string, payload any)

// Registry is the agent registry.
type Registry struct {
	st     *store.Store
	q      *queue.Queue
	log    *audit.Logger
	notify Notify

	adminToken  string
	tokenSecret []byte

	mu     sync.RWMutex
	agents map[string]store.Agent
}

// New creates a Registry and loads the in-memory mirror from the store.
// Individual row failures during cache load degrade to a smaller mirror
// rather than aborting startup.
func New(st *store.Store, q *queue.Queue, log *audit.Logger, adminToken, tokenSecret string, notify Notify) (*Registry, error) {
	r := &Registry{
		st:          st,
		q:           q,
		log:         log,
		notify:      notify,
		adminToken:  adminToken,
		tokenSecret: []byte(tokenSecret),
		agents:      make(map[string]store.Agent),
	}

	agents, err := st.ListAgents(false)
	if err != nil {
		return nil, fmt.Errorf("registry: load cache: %w", err)
	}
	for _, a := range agents {
		r.agents[a.AgentID] = a
	}
	return r, nil
}

// ─── Lifecycle ───────────────────────────────────────────────────────────────

// Create registers a new agent and returns its bearer token. Fails with
// store.ErrAlreadyExists if the id is present — active or terminated.
func (r *Registry) Create(ctx context.Context, agentID string, capabilities []string, workingDir string) (string, error) {
	if agentID == "" {
		return "", fmt.Errorf("registry: agent_id is required")
	}
	if agentID == AdminID {
		return "", fmt.Errorf("registry: agent_id %q is reserved", AdminID)
	}

	r.mu.RLock()
	_, exists := r.agents[agentID]
	r.mu.RUnlock()
	if exists {
		return "", fmt.Errorf("registry: agent %s: %w", agentID, store.ErrAlreadyExists)
	}

	absDir, err := filepath.Abs(workingDir)
	if err != nil {
		return "", fmt.Errorf("registry: working directory: %w", err)
	}

	token, err := r.mintToken(agentID)
	if err != nil {
		return "", err
	}

	n, err := r.st.CountAgents()
	if err != nil {
		return "", err
	}

	agent := store.Agent{
		AgentID:      agentID,
		Token:        token,
		Capabilities: capabilities,
		Color:        colorPalette[n%len(colorPalette)],
		Status:       store.AgentActive,
		WorkingDir:   absDir,
	}

	err = r.q.Do(ctx, func() error {
		return r.st.WithTx(func(tx *sql.Tx) error {
			if err := r.st.InsertAgent(tx, agent); err != nil {
				return err
			}
			return r.log.Append(tx, store.AuditEntry{
				AgentID:    AdminID,
				ActionType: "agent_create",
				Detail: audit.Detail(map[string]any{
					"agent_id":          agentID,
					"capabilities":      capabilities,
					"working_directory": absDir,
					"color":             agent.Color,
				}),
			})
		})
	})
	if err != nil {
		return "", err
	}

	// Re-read for store-assigned timestamps, then mirror.
	created, err := r.st.GetAgent(agentID)
	if err == nil {
		agent = *created
	}
	r.mu.Lock()
	r.agents[agentID] = agent
	r.mu.Unlock()

	r.publish("agent_update", agent)
	return token, nil
}

// Terminate transitions an agent to terminated and clears it from live
// routing while preserving its history. Allowed for the admin and for
// the agent terminating itself.
func (r *Registry) Terminate(ctx context.Context, acting Identity, agentID string) error {
	if !acting.Admin && acting.AgentID != agentID {
		return ErrUnauthorized
	}

	r.mu.RLock()
	agent, ok := r.agents[agentID]
	r.mu.RUnlock()
	if !ok {
		return fmt.Errorf("registry: agent %s: %w", agentID, store.ErrNotFound)
	}
	if agent.Status == store.AgentTerminated {
		return fmt.Errorf("registry: agent %s already terminated", agentID)
	}

	err := r.q.Do(ctx, func() error {
		return r.st.WithTx(func(tx *sql.Tx) error {
			if err := r.st.TerminateAgent(tx, agentID); err != nil {
				return err
			}
			return r.log.Append(tx, store.AuditEntry{
				AgentID:    acting.AgentID,
				ActionType: "agent_terminate",
				Detail:     audit.Detail(map[string]any{"agent_id": agentID}),
			})
		})
	})
	if err != nil {
		return err
	}

	r.mu.Lock()
	agent.Status = store.AgentTerminated
	agent.CurrentTask = nil
	now := store.Now()
	agent.TerminatedAt = &now
	r.agents[agentID] = agent
	r.mu.Unlock()

	r.publish("agent_update", agent)
	return nil
}

// ─── Identity resolution ─────────────────────────────────────────────────────

// Resolve maps a bearer token to an identity. The admin token bypasses
// per-agent checks and may act as any role. Agent tokens are verified
// JWTs and must match the stored secret of a non-terminated agent.
func (r *Registry) Resolve(token string) (Identity, error) {
	if token == "" {
		return Identity{}, ErrUnauthorized
	}
	if token == r.adminToken {
		return Identity{AgentID: AdminID, Admin: true}, nil
	}

	claims := jwt.RegisteredClaims{}
	parsed, err := jwt.ParseWithClaims(token, &claims, func(t *jwt.Token) (any, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method %v", t.Header["alg"])
		}
		return r.tokenSecret, nil
	})
	if err != nil || !parsed.Valid || claims.Subject == "" {
		return Identity{}, ErrUnauthorized
	}

	r.mu.RLock()
	agent, ok := r.agents[claims.Subject]
	r.mu.RUnlock()

	// The stored token must match: termination or reissue revokes old tokens.
	if !ok || agent.Status == store.AgentTerminated || agent.Token != token {
		return Identity{}, ErrUnauthorized
	}
	return Identity{AgentID: agent.AgentID}, nil
}

// ─── Mirror maintenance ──────────────────────────────────────────────────────

// Get returns an agent from the mirror.
func (r *Registry) Get(agentID string) (store.Agent, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	a, ok := r.agents[agentID]
	return a, ok
}

// List returns all mirrored agents, terminated included unless liveOnly.
func (r *Registry) List(liveOnly bool) []store.Agent {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var out []store.Agent
	for _, a := range r.agents {
		if liveOnly && a.Status == store.AgentTerminated {
			continue
		}
		out = append(out, a)
	}
	return out
}

// SetCurrentTask updates the mirror's current-task pointer. The task
// graph engine owns the corresponding store write.
func (r *Registry) SetCurrentTask(agentID string, taskID *int64) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if a, ok := r.agents[agentID]; ok {
		a.CurrentTask = taskID
		r.agents[agentID] = a
	}
}

func (r *Registry) mintToken(agentID string) (string, error) {
	claims := jwt.RegisteredClaims{
		Subject: agentID,
		ID:      uuid.NewString(),
	}
	tok := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signed, err := tok.SignedString(r.tokenSecret)
	if err != nil {
		return "", fmt.Errorf("registry: sign token: %w", err)
	}
	return signed, nil
}

func (r *Registry) publish(eventType string, payload any) {
	if r.notify != nil {
		r.notify(eventType, payload)
	}
}
