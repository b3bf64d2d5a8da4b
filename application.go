package main

import (
	"sync"

	"go.uber.org/zap"

	"github.com/niclabs/p11nethsm/ckr"
	"github.com/niclabs/p11nethsm/config"
	"github.com/niclabs/p11nethsm/logging"
	"github.com/niclabs/p11nethsm/module"
)

var (
	appMu sync.RWMutex
	// App is the module state between C_Initialize and C_Finalize.
	App *module.Application
)

// Initialize loads the configuration and builds the slots.
func Initialize() error {
	appMu.Lock()
	defer appMu.Unlock()
	if App != nil {
		return ckr.New("Initialize", "already initialized", ckr.CryptokiAlreadyInitialized)
	}
	conf, err := config.Load()
	if err != nil {
		return ckr.Wrap("Initialize", err, ckr.GeneralError)
	}
	logger, err := logging.New(conf.Log)
	if err != nil {
		return ckr.Wrap("Initialize", err, ckr.GeneralError)
	}
	app, err := module.NewApplication(conf, logger)
	if err != nil {
		return err
	}
	App = app
	return nil
}

// Finalize closes every session and releases the module state.
func Finalize() error {
	appMu.Lock()
	defer appMu.Unlock()
	if App == nil {
		return ckr.New("Finalize", "not initialized", ckr.CryptokiNotInitialized)
	}
	err := App.Close()
	App = nil
	if err != nil {
		return ckr.Wrap("Finalize", err, ckr.GeneralError)
	}
	return nil
}

// GetApplication returns the initialized module.
func GetApplication() (*module.Application, error) {
	appMu.RLock()
	defer appMu.RUnlock()
	if App == nil {
		return nil, ckr.New("GetApplication", "not initialized", ckr.CryptokiNotInitialized)
	}
	return App, nil
}

func logger() *zap.SugaredLogger {
	appMu.RLock()
	defer appMu.RUnlock()
	if App == nil {
		return zap.S()
	}
	return App.Logger()
}
