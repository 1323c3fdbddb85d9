package claims_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/HendryAvila/wrangler/internal/claims"
)

func TestClaim_MutualExclusion(t *testing.T) {
	table := claims.New()

	_, err := table.Claim("agent-1", "/src/main.py", claims.StatusEditing)
	require.NoError(t, err)

	// Different agent conflicts and the error names the holder.
	existing, err := table.Claim("agent-2", "/src/main.py", claims.StatusEditing)
	require.ErrorIs(t, err, claims.ErrConflict)
	assert.Contains(t, err.Error(), "agent-1")
	assert.Equal(t, "agent-1", existing.AgentID)

	// After release, the second agent's claim succeeds.
	_, err = table.Claim("agent-1", "/src/main.py", claims.StatusReleased)
	require.NoError(t, err)

	c, err := table.Claim("agent-2", "/src/main.py", claims.StatusEditing)
	require.NoError(t, err)
	assert.Equal(t, "agent-2", c.AgentID)
}

func TestClaim_SameHolderChangesStatus(t *testing.T) {
	table := claims.New()

	first, err := table.Claim("agent-1", "/src/a.go", claims.StatusReading)
	require.NoError(t, err)

	second, err := table.Claim("agent-1", "/src/a.go", claims.StatusEditing)
	require.NoError(t, err)
	assert.Equal(t, claims.StatusEditing, second.Status)
	assert.Equal(t, first.ClaimedAt, second.ClaimedAt, "status change keeps original claim time")
}

func TestClaim_ReleaseNotHolderIsNoop(t *testing.T) {
	table := claims.New()

	_, err := table.Claim("agent-1", "/src/a.go", claims.StatusEditing)
	require.NoError(t, err)

	// Releasing someone else's claim is a no-op result, not an error.
	_, err = table.Claim("agent-2", "/src/a.go", claims.StatusReleased)
	require.NoError(t, err)

	c, held := table.Check("/src/a.go")
	require.True(t, held)
	assert.Equal(t, "agent-1", c.AgentID)

	// Releasing an unclaimed path is also fine.
	_, err = table.Claim("agent-2", "/nowhere.txt", claims.StatusReleased)
	assert.NoError(t, err)
}

func TestClaim_InvalidStatus(t *testing.T) {
	table := claims.New()
	_, err := table.Claim("agent-1", "/src/a.go", "locked")
	assert.Error(t, err)
}

func TestClaim_PathNormalization(t *testing.T) {
	table := claims.New()

	_, err := table.Claim("agent-1", "/src/./main.py", claims.StatusEditing)
	require.NoError(t, err)

	_, held := table.Check("/src/main.py")
	assert.True(t, held, "equivalent paths must key the same claim")
}

func TestReleaseAll(t *testing.T) {
	table := claims.New()

	_, err := table.Claim("agent-1", "/a", claims.StatusEditing)
	require.NoError(t, err)
	_, err = table.Claim("agent-1", "/b", claims.StatusReading)
	require.NoError(t, err)
	_, err = table.Claim("agent-2", "/c", claims.StatusEditing)
	require.NoError(t, err)

	assert.Equal(t, 2, table.ReleaseAll("agent-1"))
	assert.Len(t, table.All(), 1)
}
