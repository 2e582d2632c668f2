package cmd

import (
	"context"

	"github.com/spf13/viper"

	"invoice-reconciliation-engine/cmd/reconciler/config"
	"invoice-reconciliation-engine/internal/reconciler"
	"invoice-reconciliation-engine/pkg/errors"
	"invoice-reconciliation-engine/pkg/logger"
)

// app holds the components one command run needs
type app struct {
	settings *config.Settings
	logger   logger.Logger
	service  *reconciler.Service

	closers []func() error
}

// newApp loads the settings and wires the store, publisher, locker and
// service together.
func newApp(ctx context.Context, showProgress bool) (*app, error) {
	settings, err := config.Load(viper.GetViper())
	if err != nil {
		return nil, err
	}

	logConfig, err := config.CreateLoggerConfig(settings.Log, viper.GetBool("verbose"))
	if err != nil {
		return nil, err
	}
	log, err := logger.NewLogger(logConfig)
	if err != nil {
		return nil, errors.ConfigurationError(errors.CodeInvalidConfig, "log", settings.Log.Level, err)
	}
	logger.SetGlobalLogger(log)

	a := &app{settings: settings, logger: log.WithComponent("cli")}

	matchConfig, err := config.CreateMatchingConfig(settings.Matching)
	if err != nil {
		return nil, err
	}

	st, err := config.OpenStore(settings.Store, log)
	if err != nil {
		return nil, err
	}
	a.closers = append(a.closers, st.Close)

	publisher, err := config.CreatePublisher(ctx, settings.Events, log)
	if err != nil {
		a.close()
		return nil, err
	}
	a.closers = append(a.closers, publisher.Close)

	locker, closeLocker, err := config.CreateLocker(ctx, settings.Lock, log)
	if err != nil {
		a.close()
		return nil, err
	}
	a.closers = append(a.closers, closeLocker)

	a.service, err = reconciler.NewService(reconciler.Dependencies{
		Store:       st,
		MatchConfig: matchConfig,
		Publisher:   publisher,
		Locker:      locker,
		Logger:      log,
	}, config.CreateReconcilerConfig(settings.Batch, showProgress))
	if err != nil {
		a.close()
		return nil, err
	}

	a.logger.WithFields(logger.Fields{
		"store":       settings.Store.Driver,
		"events":      settings.Events.Driver,
		"lock":        settings.Lock.Driver,
		"matching":    a.service.GetMatchingConfig().String(),
		"concurrency": a.service.GetConfig().BatchConcurrency,
	}).Debug("Application wired")
	return a, nil
}

// close releases components in reverse order of creation
func (a *app) close() {
	for i := len(a.closers) - 1; i >= 0; i-- {
		if err := a.closers[i](); err != nil {
			a.logger.WithError(err).Warn("Failed to close component")
		}
	}
	a.closers = nil
}
