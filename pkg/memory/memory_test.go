package memory

import (
	"context"
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseActionKind(t *testing.T) {
	assert.Equal(t, KindDeleteRows, ParseActionKind("delete-rows"))
	assert.Equal(t, KindOther, ParseActionKind("launch-rockets"))
	assert.Equal(t, KindOther, ParseActionKind(""))
	assert.True(t, KindMoveSheet.Known())
	assert.False(t, ActionKind("nope").Known())
}

func TestActionKindUnmarshalMapsUnknownToOther(t *testing.T) {
	var entry ActionEntry
	require.NoError(t, json.Unmarshal([]byte(`{"id":"x","kind":"teleport","status":"success"}`), &entry))
	assert.Equal(t, KindOther, entry.Kind)

	require.NoError(t, json.Unmarshal([]byte(`{"id":"x","kind":"sort-range","status":"success"}`), &entry))
	assert.Equal(t, KindSortRange, entry.Kind)
}

func TestDestructiveKinds(t *testing.T) {
	assert.True(t, KindDeleteSheet.Destructive())
	assert.True(t, KindDeleteColumns.Destructive())
	assert.False(t, KindWriteValues.Destructive())
}

func TestDecode(t *testing.T) {
	mem, ok := Decode([]byte(`{"recentActions":[{"id":"a","kind":"write-values","status":"success"}]}`))
	require.True(t, ok)
	require.Len(t, mem.RecentActions, 1)
	assert.NotNil(t, mem.RecentErrors, "missing lists normalize to empty")
	assert.NotNil(t, mem.Notes)

	mem, ok = Decode([]byte(`{not json`))
	assert.False(t, ok)
	assert.Equal(t, Empty(), mem)

	mem, ok = Decode(nil)
	assert.False(t, ok)
	assert.Equal(t, Empty(), mem)
}

func TestEmptyMarshalsArrays(t *testing.T) {
	data, err := json.Marshal(Empty())
	require.NoError(t, err)
	assert.JSONEq(t, `{"recentActions":[],"recentErrors":[],"notes":[]}`, string(data))
}

func TestCloneIsIndependent(t *testing.T) {
	orig := Empty()
	orig.RecentActions = append(orig.RecentActions, ActionEntry{ID: "a"})
	c := orig.Clone()
	c.RecentActions[0].ID = "changed"
	assert.Equal(t, "a", orig.RecentActions[0].ID)
}

func TestInMemoryRepository(t *testing.T) {
	repo := NewInMemoryRepository()
	ctx := context.Background()

	got, err := repo.Load(ctx, "missing")
	require.NoError(t, err)
	assert.Equal(t, Empty(), got)

	mem := Empty()
	mem.Notes = append(mem.Notes, Note{ID: "n"})
	require.NoError(t, repo.Save(ctx, "wb", mem))

	mem.Notes[0].ID = "mutated"
	got, err = repo.Load(ctx, "wb")
	require.NoError(t, err)
	assert.Equal(t, "n", got.Notes[0].ID, "repository stores a copy")
}
