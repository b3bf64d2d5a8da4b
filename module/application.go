// Package module implements the PKCS#11 token model on top of NetHSM
// instances: slots, sessions, object search and signing.
package module

import (
	"context"
	"net/http"
	"sync"
	"time"

	"github.com/pkg/errors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/niclabs/p11nethsm/ckr"
	"github.com/niclabs/p11nethsm/config"
	"github.com/niclabs/p11nethsm/nethsm"
	"github.com/niclabs/p11nethsm/objects"
	"github.com/niclabs/p11nethsm/storage"
	_ "github.com/niclabs/p11nethsm/storage/sqlite3"
)

// Application is the state of an initialized module.
type Application struct {
	Config   *config.Config
	Slots    []*Slot
	Sessions *SessionManager
	Aliases  *objects.AliasTable
	Handles  *objects.HandleTable
	Storage  storage.KeyStorage

	log     *zap.SugaredLogger
	ctx     context.Context
	cancel  context.CancelFunc
	metrics *http.Server
	wg      sync.WaitGroup
}

// NewApplication builds the slots described by conf. The key cache is
// skipped when storage.type is "none".
func NewApplication(conf *config.Config, logger *zap.SugaredLogger) (*Application, error) {
	if logger == nil {
		logger = zap.NewNop().Sugar()
	}
	app := &Application{
		Config:   conf,
		Sessions: NewSessionManager(),
		Aliases:  objects.NewAliasTable(),
		Handles:  objects.NewHandleTable(),
		log:      logger,
	}
	app.ctx, app.cancel = context.WithCancel(context.Background())

	if conf.Storage.Type != "" && conf.Storage.Type != "none" {
		db, err := storage.NewDatabase(conf.Storage.Type)
		if err != nil {
			app.cancel()
			return nil, ckr.Wrap("NewApplication", err, ckr.GeneralError)
		}
		app.Storage = db
	}

	for i, slotConf := range conf.Slots {
		slot, err := app.newSlot(uint(i), slotConf)
		if err != nil {
			app.Close()
			return nil, ckr.Wrap("NewApplication", err, ckr.GeneralError)
		}
		app.Slots = append(app.Slots, slot)
	}

	if conf.Metrics.Listen != "" {
		app.serveMetrics(conf.Metrics.Listen)
	}
	logger.Infow("module initialized", "slots", len(app.Slots), "storage", conf.Storage.Type)
	return app, nil
}

func (app *Application) newSlot(id uint, conf *config.SlotsConfig) (*Slot, error) {
	logger := app.log.With("slot", id, "label", conf.Label)
	client, err := nethsm.NewClient(app.Config.Client(conf), logger)
	if err != nil {
		return nil, errors.Wrapf(err, "slot %d", id)
	}
	creds := map[Role]nethsm.Credentials{
		Operator:      conf.Operator,
		Administrator: conf.Administrator,
	}
	return &Slot{
		ID:      id,
		Config:  conf,
		Login:   NewLoginCtx(client, creds, logger),
		Catalog: NewCatalog(id, conf.URL, app.Handles, app.Aliases, app.Storage, app.Config.Storage.TTL, logger),
		app:     app,
		client:  client,
		log:     logger,
	}, nil
}

func (app *Application) serveMetrics(addr string) {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	app.metrics = &http.Server{Addr: addr, Handler: mux, ReadHeaderTimeout: 5 * time.Second}
	app.wg.Add(1)
	go func() {
		defer app.wg.Done()
		if err := app.metrics.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			app.log.Errorw("metrics listener stopped", "addr", addr, "error", err)
		}
	}()
}

// Context is cancelled when the application is closed. Backend calls
// made on behalf of callers derive from it.
func (app *Application) Context() context.Context {
	return app.ctx
}

// Logger returns the application logger.
func (app *Application) Logger() *zap.SugaredLogger {
	return app.log
}

// Slot returns the slot with the given id.
func (app *Application) Slot(id uint) (*Slot, error) {
	if id >= uint(len(app.Slots)) {
		return nil, ckr.New("Application.Slot", "no such slot", ckr.SlotIDInvalid)
	}
	return app.Slots[id], nil
}

// OpenSession opens a session on a slot whose token is present.
func (app *Application) OpenSession(slotID, flags uint) (uint, error) {
	slot, err := app.Slot(slotID)
	if err != nil {
		return 0, err
	}
	if !slot.Present(app.ctx) {
		return 0, ckr.New("Application.OpenSession", "instance not ready", ckr.TokenNotPresent)
	}
	return app.Sessions.Open(slot, flags)
}

// WithSession runs body on a session, see SessionManager.WithSession.
func (app *Application) WithSession(handle uint, body func(*Session) error) error {
	return app.Sessions.WithSession(handle, body)
}

// Close drops the sessions and releases the storage and the metrics
// listener.
func (app *Application) Close() error {
	for _, slot := range app.Slots {
		app.Sessions.CloseAll(slot.ID)
	}
	app.cancel()
	if app.metrics != nil {
		ctx, cancel := context.WithTimeout(context.Background(), time.Second)
		_ = app.metrics.Shutdown(ctx)
		cancel()
	}
	app.wg.Wait()
	var err error
	if app.Storage != nil {
		err = app.Storage.CloseStorage()
	}
	_ = app.log.Sync()
	return err
}
