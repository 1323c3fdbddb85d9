package registry_test

import (
	"context"
	"errors"
	"testing"

	"github.com/HendryAvila/wrangler/internal/audit"
	"github.com/HendryAvila/wrangler/internal/queue"
	"github.com/HendryAvila/wrangler/internal/registry"
	"github.com/HendryAvila/wrangler/internal/store"
)

const (
	testAdminToken = "test-admin-token"
	testSecret     = "test-signing-secret"
)

// newTestRegistry wires a registry over a temp store and live queue.
func newTestRegistry(t *testing.T) (*registry.Registry, *store.Store) {
	t.Helper()

	dir := t.TempDir()
	st, err := store.New(store.Config{DataDir: dir, EmbeddingDim: 4})
	if err != nil {
		t.Fatalf("store: %v", err)
	}
	q := queue.New()
	log, err := audit.New(st, dir)
	if err != nil {
		t.Fatalf("audit: %v", err)
	}
	t.Cleanup(func() {
		q.Shutdown()
		log.Close()
		st.Close()
	})

	r, err := registry.New(st, q, log, testAdminToken, testSecret, nil)
	if err != nil {
		t.Fatalf("registry: %v", err)
	}
	return r, st
}

func TestCreate_MintsResolvableToken(t *testing.T) {
	r, _ := newTestRegistry(t)

	token, err := r.Create(context.Background(), "agent-1", []string{"golang"}, "/tmp/work")
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	if token == "" {
		t.Fatal("empty token")
	}

	id, err := r.Resolve(token)
	if err != nil {
		t.Fatalf("resolve: %v", err)
	}
	if id.AgentID != "agent-1" || id.Admin {
		t.Fatalf("identity = %+v, want agent-1 non-admin", id)
	}
}

func TestCreate_DuplicateIncludingTerminated(t *testing.T) {
	r, _ := newTestRegistry(t)
	ctx := context.Background()

	if _, err := r.Create(ctx, "agent-1", nil, "/tmp"); err != nil {
		t.Fatal(err)
	}
	if _, err := r.Create(ctx, "agent-1", nil, "/tmp"); !errors.Is(err, store.ErrAlreadyExists) {
		t.Fatalf("expected ErrAlreadyExists, got %v", err)
	}

	admin := registry.Identity{AgentID: registry.AdminID, Admin: true}
	if err := r.Terminate(ctx, admin, "agent-1"); err != nil {
		t.Fatal(err)
	}
	// Terminated ids stay reserved — history is preserved.
	if _, err := r.Create(ctx, "agent-1", nil, "/tmp"); !errors.Is(err, store.ErrAlreadyExists) {
		t.Fatalf("expected ErrAlreadyExists for terminated id, got %v", err)
	}
}

func TestCreate_ReservedID(t *testing.T) {
	r, _ := newTestRegistry(t)
	if _, err := r.Create(context.Background(), registry.AdminID, nil, "/tmp"); err == nil {
		t.Fatal("expected error for reserved agent_id")
	}
}

func TestResolve_AdminToken(t *testing.T) {
	r, _ := newTestRegistry(t)

	id, err := r.Resolve(testAdminToken)
	if err != nil {
		t.Fatalf("resolve admin: %v", err)
	}
	if !id.Admin || id.AgentID != registry.AdminID {
		t.Fatalf("identity = %+v, want admin", id)
	}
}

func TestResolve_RejectsGarbageAndEmpty(t *testing.T) {
	r, _ := newTestRegistry(t)

	for _, token := range []string{"", "not-a-jwt", "a.b.c"} {
		if _, err := r.Resolve(token); !errors.Is(err, registry.ErrUnauthorized) {
			t.Fatalf("token %q: expected ErrUnauthorized, got %v", token, err)
		}
	}
}

func TestTerminate_RevokesToken(t *testing.T) {
	r, _ := newTestRegistry(t)
	ctx := context.Background()

	token, err := r.Create(ctx, "agent-1", nil, "/tmp")
	if err != nil {
		t.Fatal(err)
	}

	admin := registry.Identity{AgentID: registry.AdminID, Admin: true}
	if err := r.Terminate(ctx, admin, "agent-1"); err != nil {
		t.Fatalf("terminate: %v", err)
	}

	if _, err := r.Resolve(token); !errors.Is(err, registry.ErrUnauthorized) {
		t.Fatalf("terminated agent token must stop resolving, got %v", err)
	}
	if err := r.Terminate(ctx, admin, "agent-1"); err == nil {
		t.Fatal("double terminate should fail")
	}
}

func TestTerminate_SelfAllowedOthersNot(t *testing.T) {
	r, _ := newTestRegistry(t)
	ctx := context.Background()

	if _, err := r.Create(ctx, "agent-1", nil, "/tmp"); err != nil {
		t.Fatal(err)
	}
	if _, err := r.Create(ctx, "agent-2", nil, "/tmp"); err != nil {
		t.Fatal(err)
	}

	other := registry.Identity{AgentID: "agent-2"}
	if err := r.Terminate(ctx, other, "agent-1"); !errors.Is(err, registry.ErrUnauthorized) {
		t.Fatalf("expected ErrUnauthorized, got %v", err)
	}

	self := registry.Identity{AgentID: "agent-1"}
	if err := r.Terminate(ctx, self, "agent-1"); err != nil {
		t.Fatalf("self-terminate: %v", err)
	}
}

func TestCreate_ColorsCycleThroughPalette(t *testing.T) {
	r, _ := newTestRegistry(t)
	ctx := context.Background()

	if _, err := r.Create(ctx, "agent-a", nil, "/tmp"); err != nil {
		t.Fatal(err)
	}
	if _, err := r.Create(ctx, "agent-b", nil, "/tmp"); err != nil {
		t.Fatal(err)
	}

	a, _ := r.Get("agent-a")
	b, _ := r.Get("agent-b")
	if a.Color == "" || b.Color == "" {
		t.Fatal("colors not assigned")
	}
	if a.Color == b.Color {
		t.Fatalf("first two agents share color %q", a.Color)
	}
}

func TestCreate_WritesAudit(t *testing.T) {
	r, st := newTestRegistry(t)

	if _, err := r.Create(context.Background(), "agent-1", nil, "/tmp"); err != nil {
		t.Fatal(err)
	}

	entries, err := st.RecentAudit("", 10)
	if err != nil {
		t.Fatal(err)
	}
	found := false
	for _, e := range entries {
		if e.ActionType == "agent_create" {
			found = true
		}
	}
	if !found {
		t.Fatal("agent_create audit entry missing")
	}
}
