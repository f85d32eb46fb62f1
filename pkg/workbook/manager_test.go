package workbook

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/odvcencio/excella/pkg/memory"
)

type fakeGateway struct {
	meta      Meta
	structure Structure
	selection *Selection
	preview   Preview
	err       error

	gotPreviewSel *Selection
	gotOpts       PreviewOptions
}

func (g *fakeGateway) Meta(context.Context) (Meta, error) { return g.meta, nil }

func (g *fakeGateway) Structure(context.Context) (Structure, error) { return g.structure, g.err }

func (g *fakeGateway) Selection(context.Context) (*Selection, error) { return g.selection, nil }

func (g *fakeGateway) Preview(_ context.Context, sel *Selection, opts PreviewOptions) (Preview, error) {
	g.gotPreviewSel = sel
	g.gotOpts = opts
	return g.preview, nil
}

func newFakeGateway() *fakeGateway {
	return &fakeGateway{
		meta: Meta{SnapshotID: "snap-1", SnapshotVersion: 3, WorkbookID: "wb-1", CreatedAt: time.Now()},
		structure: Structure{
			WorksheetCount: 1,
			Worksheets:     []WorksheetSummary{{ID: "1", Name: "Data", Visibility: Visible}},
		},
		selection: &Selection{Type: SelectionRange, WorksheetName: "Data", RangeAddress: "Data!A1:B20000", RowCount: 20000, ColumnCount: 2},
		preview:   Preview{SecondarySamples: []RangeSample{}},
	}
}

func TestManagerSnapshot(t *testing.T) {
	gw := newFakeGateway()
	repo := memory.NewInMemoryRepository()
	stored := memory.Empty()
	stored.Notes = append(stored.Notes, memory.Note{ID: "n1", Text: "totals in column F"})
	require.NoError(t, repo.Save(context.Background(), "wb-1", stored))

	opts := DefaultPreviewOptions()
	opts.IncludeFormulas = true
	m := NewManager(gw, repo, nil, WithPreviewOptions(opts))

	snap, err := m.Snapshot(context.Background())
	require.NoError(t, err)

	assert.Equal(t, "snap-1", snap.ID())
	assert.Equal(t, int64(3), snap.Meta.SnapshotVersion)
	assert.Equal(t, gw.selection, snap.Selection)
	assert.Same(t, gw.selection, gw.gotPreviewSel)
	assert.True(t, gw.gotOpts.IncludeFormulas)
	require.Len(t, snap.Memory.Notes, 1)
	assert.Equal(t, "totals in column F", snap.Memory.Notes[0].Text)

	assert.Equal(t, DefaultLimits(), snap.Safety.Limits)
	require.NotNil(t, snap.Safety.CurrentRisk)
	assert.Equal(t, RiskHigh, snap.Safety.CurrentRisk.Level)
}

func TestManagerSnapshotWithoutRepository(t *testing.T) {
	gw := newFakeGateway()
	gw.selection = nil

	snap, err := NewManager(gw, nil, NewStaticSafety(DefaultLimits(), Flags{ReadOnlyMode: true})).Snapshot(context.Background())
	require.NoError(t, err)
	assert.Equal(t, memory.Empty(), snap.Memory)
	assert.Nil(t, snap.Safety.CurrentRisk)
	assert.True(t, snap.Safety.Flags.ReadOnlyMode)
}

func TestManagerSnapshotGatewayError(t *testing.T) {
	gw := newFakeGateway()
	gw.err = errors.New("sheet xml corrupt")

	_, err := NewManager(gw, nil, nil).Snapshot(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "read structure")
}

func TestManagerRequiresGateway(t *testing.T) {
	_, err := NewManager(nil, nil, nil).Snapshot(context.Background())
	assert.Error(t, err)
}
