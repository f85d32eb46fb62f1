package workbook

import (
	"context"
	"fmt"

	"golang.org/x/sync/errgroup"

	"github.com/odvcencio/excella/pkg/logging"
	"github.com/odvcencio/excella/pkg/memory"
)

// Gateway reads workbook state. Implementations must be safe for
// concurrent use; the manager issues independent reads in parallel.
type Gateway interface {
	Meta(ctx context.Context) (Meta, error)
	Structure(ctx context.Context) (Structure, error)
	Selection(ctx context.Context) (*Selection, error)
	Preview(ctx context.Context, sel *Selection, opts PreviewOptions) (Preview, error)
}

// Manager assembles snapshots from a gateway, a memory repository and a
// safety provider.
type Manager struct {
	gateway Gateway
	memory  memory.Repository
	safety  SafetyProvider
	preview PreviewOptions
	logger  *logging.Logger
}

// ManagerOption configures a Manager.
type ManagerOption func(*Manager)

// WithPreviewOptions overrides the preview bounds.
func WithPreviewOptions(opts PreviewOptions) ManagerOption {
	return func(m *Manager) { m.preview = opts }
}

// WithManagerLogger attaches a logger.
func WithManagerLogger(l *logging.Logger) ManagerOption {
	return func(m *Manager) { m.logger = l }
}

// NewManager creates a snapshot manager. repo may be nil, in which case
// snapshots carry empty memory. A nil safety provider uses DefaultLimits.
func NewManager(gw Gateway, repo memory.Repository, safety SafetyProvider, opts ...ManagerOption) *Manager {
	if safety == nil {
		safety = NewStaticSafety(DefaultLimits(), Flags{})
	}
	m := &Manager{
		gateway: gw,
		memory:  repo,
		safety:  safety,
		preview: DefaultPreviewOptions(),
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// Snapshot reads the workbook in two phases: metadata, structure and
// selection first, then the preview, memory and safety context that depend
// on them.
func (m *Manager) Snapshot(ctx context.Context) (Snapshot, error) {
	if m.gateway == nil {
		return Snapshot{}, fmt.Errorf("workbook gateway not configured")
	}

	var (
		meta      Meta
		structure Structure
		selection *Selection
	)
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		var err error
		meta, err = m.gateway.Meta(gctx)
		if err != nil {
			return fmt.Errorf("read metadata: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		var err error
		structure, err = m.gateway.Structure(gctx)
		if err != nil {
			return fmt.Errorf("read structure: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		var err error
		selection, err = m.gateway.Selection(gctx)
		if err != nil {
			return fmt.Errorf("read selection: %w", err)
		}
		return nil
	})
	if err := g.Wait(); err != nil {
		return Snapshot{}, err
	}

	var (
		preview Preview
		mem     = memory.Empty()
		safety  Safety
	)
	g, gctx = errgroup.WithContext(ctx)
	g.Go(func() error {
		var err error
		preview, err = m.gateway.Preview(gctx, selection, m.preview)
		if err != nil {
			return fmt.Errorf("read preview: %w", err)
		}
		return nil
	})
	if m.memory != nil {
		g.Go(func() error {
			loaded, err := m.memory.Load(gctx, meta.WorkbookID)
			if err != nil {
				return fmt.Errorf("load memory: %w", err)
			}
			mem = loaded.Normalize()
			return nil
		})
	}
	g.Go(func() error {
		var err error
		safety, err = m.safetyContext(gctx, selection)
		return err
	})
	if err := g.Wait(); err != nil {
		return Snapshot{}, err
	}

	snap := Snapshot{
		Meta:      meta,
		Workbook:  structure,
		Selection: selection,
		Preview:   preview,
		Memory:    mem,
		Safety:    safety,
	}

	details := map[string]any{
		"snapshot_id": meta.SnapshotID,
		"version":     meta.SnapshotVersion,
		"worksheets":  structure.WorksheetCount,
	}
	if safety.CurrentRisk != nil {
		details["risk"] = string(safety.CurrentRisk.Level)
	}
	m.logger.Debug(logging.CategoryWorkbook, "snapshot_built", "workbook snapshot assembled", details)
	return snap, nil
}

func (m *Manager) safetyContext(ctx context.Context, sel *Selection) (Safety, error) {
	limits, err := m.safety.Limits(ctx)
	if err != nil {
		return Safety{}, fmt.Errorf("read safety limits: %w", err)
	}
	flags, err := m.safety.Flags(ctx)
	if err != nil {
		return Safety{}, fmt.Errorf("read safety flags: %w", err)
	}
	risk, err := m.safety.AssessRisk(ctx, sel)
	if err != nil {
		return Safety{}, fmt.Errorf("assess risk: %w", err)
	}
	return Safety{Limits: limits, CurrentRisk: risk, Flags: flags}, nil
}
