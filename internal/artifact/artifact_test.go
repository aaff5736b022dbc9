package artifact

import (
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestStore(t *testing.T) *FileStore {
	t.Helper()
	store, err := NewFileStore(t.TempDir(), nil)
	require.NoError(t, err)
	return store
}

func TestFileStore_PutGetRoundTrip(t *testing.T) {
	store := newTestStore(t)
	payload := json.RawMessage(`{"title":"auth service","endpoints":["/login","/logout"]}`)

	id, err := store.Put("sess-1", "design", payload, []string{"two endpoints"}, nil)
	require.NoError(t, err)
	require.NotEmpty(t, id)

	env, err := store.Get("sess-1", id)
	require.NoError(t, err)

	assert.Equal(t, id, env.ArtifactID)
	assert.Equal(t, "design", env.Stage)
	assert.Equal(t, "sess-1", env.SessionID)
	assert.Equal(t, SchemaVersion, env.SchemaVersion)
	assert.JSONEq(t, string(payload), string(env.Payload))
}

func TestFileStore_IDIsContentDerived(t *testing.T) {
	store := newTestStore(t)
	payload := json.RawMessage(`{"v":1}`)

	id1, err := store.Put("s", "plan", payload, nil, nil)
	require.NoError(t, err)
	id2, err := store.Put("s", "plan", payload, nil, nil)
	require.NoError(t, err)

	// Same stage + payload yields the same id; rewrites are last-writer-wins.
	assert.Equal(t, id1, id2)

	// Different stage changes the id even for identical payload.
	id3, err := store.Put("s", "coding", payload, nil, nil)
	require.NoError(t, err)
	assert.NotEqual(t, id1, id3)
}

func TestFileStore_Lineage(t *testing.T) {
	store := newTestStore(t)

	first, err := store.Put("s", "design", json.RawMessage(`{"rev":1}`), nil, nil)
	require.NoError(t, err)

	second, err := store.Put("s", "design", json.RawMessage(`{"rev":2}`), nil, []string{first})
	require.NoError(t, err)
	require.NotEqual(t, first, second)

	env, err := store.Get("s", second)
	require.NoError(t, err)
	assert.Equal(t, []string{first}, env.Lineage)
}

func TestFileStore_GetMissing(t *testing.T) {
	store := newTestStore(t)
	_, err := store.Get("s", "deadbeef0000")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestFileStore_List(t *testing.T) {
	store := newTestStore(t)

	_, err := store.Put("s", "requirements", json.RawMessage(`{"n":1}`), nil, nil)
	require.NoError(t, err)
	_, err = store.Put("s", "design", json.RawMessage(`{"n":2}`), nil, nil)
	require.NoError(t, err)

	envelopes, err := store.List("s")
	require.NoError(t, err)
	assert.Len(t, envelopes, 2)

	// Sessions are isolated.
	other, err := store.List("other")
	require.NoError(t, err)
	assert.Empty(t, other)
}

func TestFileStore_WritesMarkdownRendering(t *testing.T) {
	root := t.TempDir()
	store, err := NewFileStore(root, nil)
	require.NoError(t, err)

	id, err := store.Put("s", "plan", json.RawMessage(`{"steps":3}`),
		[]string{"three steps planned"}, []string{"abc123def456"})
	require.NoError(t, err)

	data, err := os.ReadFile(filepath.Join(root, "s", "artifacts", "plan."+id+".md"))
	require.NoError(t, err)

	md := string(data)
	assert.True(t, strings.Contains(md, "# Artifact "+id))
	assert.True(t, strings.Contains(md, "three steps planned"))
	assert.True(t, strings.Contains(md, "abc123def456"))
}

func TestFileStore_ValidatesInput(t *testing.T) {
	store := newTestStore(t)

	_, err := store.Put("", "design", json.RawMessage(`{}`), nil, nil)
	assert.ErrorIs(t, err, ErrEmptySession)

	_, err = store.Put("s", "", json.RawMessage(`{}`), nil, nil)
	assert.ErrorIs(t, err, ErrEmptyStage)
}

func TestComputeID_Stable(t *testing.T) {
	a := ComputeID("design", []byte(`{"x":1}`))
	b := ComputeID("design", []byte(`{"x":1}`))
	c := ComputeID("design", []byte(`{"x":2}`))

	assert.Equal(t, a, b)
	assert.NotEqual(t, a, c)
	assert.Len(t, a, 12)
}
