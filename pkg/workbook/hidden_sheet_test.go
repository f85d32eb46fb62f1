package workbook

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/xuri/excelize/v2"

	"github.com/odvcencio/excella/pkg/memory"
)

func TestHiddenSheetRepositoryRoundTrip(t *testing.T) {
	path := salesWorkbook(t)
	repo := NewHiddenSheetRepository(path)
	ctx := context.Background()

	mem, err := repo.Load(ctx, "ignored")
	require.NoError(t, err)
	assert.Equal(t, memory.Empty(), mem)

	mem.RecentActions = append(mem.RecentActions, memory.ActionEntry{
		ID:        "a1",
		Timestamp: time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC),
		Kind:      memory.KindWriteValues,
		Status:    memory.StatusSuccess,
	})
	require.NoError(t, repo.Save(ctx, "ignored", mem))
	require.NoError(t, repo.Save(ctx, "ignored", mem))

	loaded, err := repo.Load(ctx, "other")
	require.NoError(t, err)
	assert.Equal(t, mem.Normalize(), loaded)

	f, err := excelize.OpenFile(path)
	require.NoError(t, err)
	defer f.Close()
	visible, err := f.GetSheetVisible(ContextSheetName)
	require.NoError(t, err)
	assert.False(t, visible)
	assert.Equal(t, "Data", f.GetSheetName(f.GetActiveSheetIndex()))
}

func TestHiddenSheetRepositoryCorruptContent(t *testing.T) {
	path := salesWorkbook(t)
	repo := NewHiddenSheetRepository(path)
	require.NoError(t, repo.Save(context.Background(), "", memory.Empty()))

	f, err := excelize.OpenFile(path)
	require.NoError(t, err)
	require.NoError(t, f.SetCellValue(ContextSheetName, "A1", "{not json"))
	require.NoError(t, f.Save())
	require.NoError(t, f.Close())

	mem, err := repo.Load(context.Background(), "")
	require.NoError(t, err)
	assert.Equal(t, memory.Empty(), mem)
}
