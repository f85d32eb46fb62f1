package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/odvcencio/excella/pkg/approval"
	"github.com/odvcencio/excella/pkg/bus"
	"github.com/odvcencio/excella/pkg/config"
	"github.com/odvcencio/excella/pkg/email"
	"github.com/odvcencio/excella/pkg/errors"
	"github.com/odvcencio/excella/pkg/logging"
	"github.com/odvcencio/excella/pkg/memory"
	"github.com/odvcencio/excella/pkg/plan"
	"github.com/odvcencio/excella/pkg/plan/xlsx"
	"github.com/odvcencio/excella/pkg/storage"
	"github.com/odvcencio/excella/pkg/telemetry"
	"github.com/odvcencio/excella/pkg/tool"
	"github.com/odvcencio/excella/pkg/tool/builtin"
	"github.com/odvcencio/excella/pkg/workbook"
)

// app holds the collaborators one command invocation needs. Everything is
// built from the loaded config; optional pieces stay nil when unconfigured.
type app struct {
	cfg       *config.Config
	sessionID string

	logger    *logging.Logger
	hub       *telemetry.Hub
	store     *storage.Store
	bus       bus.MessageBus
	watcher   *workbook.Watcher
	snapshots *workbook.Manager
	memRepo   memory.Repository
	updater   *memory.Updater
	validator *plan.Validator
	engine    *plan.Engine
	sender    *email.Sender
	tracer    *telemetry.TracerProvider
	ownerID   string

	closers []func()
}

type appOptions struct {
	// logOut, when set, receives log events instead of the log directory.
	logOut io.Writer
	// watch starts a file watcher that versions snapshots.
	watch bool
}

// newAppFn allows tests to stub runtime construction.
var newAppFn = newApp

// newHubFn allows tests to observe the event hub an app owns.
var newHubFn = telemetry.NewHub

func newApp(cfg *config.Config, sessionID string, opts appOptions) (*app, error) {
	a := &app{cfg: cfg, sessionID: sessionID, hub: newHubFn()}
	a.closers = append(a.closers, a.hub.Close)

	if err := a.open(opts); err != nil {
		a.Close()
		return nil, err
	}

	a.updater = memory.NewUpdater(a.memRepo, memory.WithCap(cfg.Memory.Cap), memory.WithLogger(a.logger))
	a.validator = plan.NewValidator(a.logger)
	engineOpts := []plan.EngineOption{
		plan.WithUpdater(a.updater),
		plan.WithLogger(a.logger),
		plan.WithHub(a.hub),
	}
	if path := strings.TrimSpace(cfg.Workbook.Path); path != "" {
		engineOpts = append(engineOpts, plan.WithExecutor(xlsx.NewExecutor(path, xlsx.WithLogger(a.logger))))
	}
	a.engine = plan.NewEngine(engineOpts...)
	a.sender = email.NewSender(email.NewBusMailer(a.bus, cfg.Email.OutboxQueue),
		email.WithFrom(cfg.Email.From),
		email.WithRateLimit(cfg.Email.RatePerMinute, cfg.Email.Burst),
		email.WithLogger(a.logger),
		email.WithHub(a.hub),
	)
	return a, nil
}

// open opens the configured collaborators in dependency order. The caller
// closes whatever was opened when it fails.
func (a *app) open(opts appOptions) error {
	if err := a.initLogger(opts.logOut); err != nil {
		return err
	}
	if a.cfg.Telemetry.TracingEnabled {
		tp, err := telemetry.NewTracerProvider(a.cfg.Telemetry.ServiceName, os.Stderr)
		if err != nil {
			return err
		}
		a.tracer = tp
	}
	if err := a.initStore(); err != nil {
		return err
	}
	if err := a.initBus(); err != nil {
		return err
	}
	return a.initWorkbook(opts.watch)
}

func (a *app) initLogger(out io.Writer) error {
	var logger *logging.Logger
	switch {
	case out != nil:
		logger = logging.NewWriterLogger(out, a.sessionID)
	case strings.TrimSpace(a.cfg.Logging.Dir) != "":
		l, err := logging.NewLogger(a.cfg.Logging.Dir, a.sessionID)
		if err != nil {
			return withExitCode(err, exitConfig)
		}
		logger = l
	}
	logger.SetMinLevel(logging.ParseLevel(a.cfg.Logging.Level))
	a.logger = logger
	a.closers = append(a.closers, func() { _ = logger.Close() })
	return nil
}

func (a *app) initStore() error {
	path := strings.TrimSpace(a.cfg.Storage.Path)
	if path == "" {
		return nil
	}
	store, err := storage.New(path)
	if err != nil {
		return errors.Wrap(err, errors.ErrCodeStorageRead, "open store").WithContext("path", path)
	}
	store.AddObserver(storage.ObserverFunc(a.observeStore))
	a.store = store
	a.closers = append(a.closers, func() { _ = store.Close() })
	return nil
}

// observeStore mirrors committed writes into the session log. Memory saves
// also reach the hub; approvals are published by the reviewer itself.
func (a *app) observeStore(e storage.Event) {
	a.logger.Debug(logging.CategorySession, string(e.Type), "store write", map[string]any{
		"entity":  e.EntityID,
		"session": e.SessionID,
	})
	if e.Type == storage.EventMemorySaved {
		a.hub.Publish(telemetry.Event{
			Type:      telemetry.EventMemorySaved,
			SessionID: a.sessionID,
			Data:      map[string]any{"owner": e.EntityID},
		})
	}
}

func (a *app) initBus() error {
	cfg := bus.DefaultConfig()
	if a.cfg.Bus.Backend == config.BusBackendNATS {
		nc := a.cfg.Bus.NATS
		cfg.URL = nc.URL
		cfg.Username = nc.Username
		cfg.Password = nc.Password
		cfg.Token = nc.Token
		cfg.TLS = nc.TLS
		if nc.ConnectTimeout > 0 {
			cfg.Timeout = nc.ConnectTimeout
		}
	}
	mb, err := bus.Open(cfg)
	if err != nil {
		return errors.Wrap(err, errors.ErrCodeConfigInvalid, "open message bus").
			WithRemediation("Check bus.nats.url or set bus.backend: memory.")
	}
	a.bus = mb
	a.closers = append(a.closers, func() { _ = mb.Close() })
	return nil
}

func (a *app) initWorkbook(watch bool) error {
	switch a.cfg.Memory.Backend {
	case config.MemoryBackendSQLite:
		if a.store != nil {
			a.memRepo = storage.NewMemoryRepository(a.store)
		}
	case config.MemoryBackendWorkbook:
		a.memRepo = workbook.NewHiddenSheetRepository(a.cfg.Workbook.Path)
	}
	if a.memRepo == nil {
		a.memRepo = memory.NewInMemoryRepository()
	}

	path := strings.TrimSpace(a.cfg.Workbook.Path)
	if path == "" {
		return nil
	}
	a.ownerID = workbook.WorkbookID(path)

	gwOpts := []workbook.GatewayOption{}
	if sel := strings.TrimSpace(a.cfg.Workbook.Selection); sel != "" {
		gwOpts = append(gwOpts, workbook.WithSelection(sel))
	}
	if watch && a.cfg.Workbook.Watch {
		w, err := workbook.NewWatcher(path, workbook.WithWatcherLogger(a.logger))
		if err != nil {
			return errors.Wrap(err, errors.ErrCodeConfigInvalid, "watch workbook").WithContext("path", path)
		}
		a.watcher = w
		a.closers = append(a.closers, func() { _ = w.Close() })
		gwOpts = append(gwOpts, workbook.WithClock(w))
	}

	preview := workbook.DefaultPreviewOptions()
	if a.cfg.Workbook.PreviewRows > 0 {
		preview.MaxPrimaryRows = a.cfg.Workbook.PreviewRows
	}
	if a.cfg.Workbook.PreviewCols > 0 {
		preview.MaxPrimaryColumns = a.cfg.Workbook.PreviewCols
	}
	a.snapshots = workbook.NewManager(
		workbook.NewFileGateway(path, gwOpts...),
		a.memRepo,
		workbook.SafetyFromConfig(a.cfg.Safety),
		workbook.WithPreviewOptions(preview),
		workbook.WithManagerLogger(a.logger),
	)
	return nil
}

// snapshot reads the configured workbook.
func (a *app) snapshot(ctx context.Context) (workbook.Snapshot, error) {
	if a.snapshots == nil {
		return workbook.Snapshot{}, errors.New(errors.ErrCodeConfigInvalid, "no workbook configured").
			WithRemediation("Set workbook.path in config or EXCELLA_WORKBOOK.")
	}
	return a.snapshots.Snapshot(ctx)
}

// snapshotProvider returns a nil interface, not a nil *Manager, when no
// workbook is configured.
func (a *app) snapshotProvider() builtin.SnapshotProvider {
	if a.snapshots == nil {
		return nil
	}
	return a.snapshots
}

// storeReviewer queues reviews as pending approvals for the API or the
// approvals command to decide.
func (a *app) storeReviewer() approval.Reviewer {
	if a.store == nil {
		return nil
	}
	return approval.NewStoreReviewer(a.store,
		approval.WithReviewTTL(a.cfg.Tools.ReviewTTL),
		approval.WithReviewLogger(a.logger),
		approval.WithReviewHub(a.hub),
	)
}

// registry builds the tool registry for one session. A nil reviewer leaves
// the review tools failing with a configuration error.
func (a *app) registry(reviewer approval.Reviewer) *tool.Registry {
	return tool.NewRegistry(
		tool.WithBuiltins(tool.Deps{
			Snapshots:    a.snapshotProvider(),
			Reviewer:     reviewer,
			Validator:    a.validator,
			Engine:       a.engine,
			Sender:       a.sender,
			Memory:       a.updater,
			MemoryRepo:   a.memRepo,
			OwnerID:      a.ownerID,
			WorkbookPath: strings.TrimSpace(a.cfg.Workbook.Path),
		}),
		tool.WithHub(a.hub),
		tool.WithLogger(a.logger),
		tool.WithStore(a.store),
		tool.WithSession(a.sessionID),
		tool.WithConfig(a.cfg),
	)
}

// Close releases everything in reverse construction order.
func (a *app) Close() {
	if a == nil {
		return
	}
	if a.tracer != nil {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		_ = a.tracer.Shutdown(ctx)
		cancel()
	}
	for i := len(a.closers) - 1; i >= 0; i-- {
		a.closers[i]()
	}
	a.closers = nil
}

func requireSession(id string) (string, error) {
	id = strings.TrimSpace(id)
	if id == "" {
		return "", withExitCode(fmt.Errorf("--session is required"), exitInvalid)
	}
	return id, nil
}
