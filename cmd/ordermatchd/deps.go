package main

import (
	"context"
	"errors"
	"fmt"

	"go.uber.org/zap"

	"github.com/fyrsmithlabs/ordermatch/internal/address"
	"github.com/fyrsmithlabs/ordermatch/internal/config"
	"github.com/fyrsmithlabs/ordermatch/internal/embeddings"
	"github.com/fyrsmithlabs/ordermatch/internal/events"
	"github.com/fyrsmithlabs/ordermatch/internal/logging"
	"github.com/fyrsmithlabs/ordermatch/internal/material"
	"github.com/fyrsmithlabs/ordermatch/internal/partners"
	"github.com/fyrsmithlabs/ordermatch/internal/pipeline"
	"github.com/fyrsmithlabs/ordermatch/internal/provider"
	"github.com/fyrsmithlabs/ordermatch/internal/search"
	"github.com/fyrsmithlabs/ordermatch/internal/telemetry"
	"github.com/fyrsmithlabs/ordermatch/internal/translate"
	"github.com/fyrsmithlabs/ordermatch/internal/vectorstore"
)

// dependencies holds everything a running service owns.
type dependencies struct {
	cfg       *config.Config
	logger    *logging.Logger
	telemetry *telemetry.Telemetry
	pipeline  *pipeline.Pipeline
	closers   []func() error
}

// initDependencies loads configuration and wires the pipeline:
//  1. config, telemetry and logger
//  2. provider endpoints and the race
//  3. embeddings, catalogs, address parser and translation
//  4. partner table and event publisher
func initDependencies(ctx context.Context, path string) (*dependencies, error) {
	cfg, err := config.Load(path)
	if err != nil {
		return nil, err
	}
	d := &dependencies{cfg: cfg}

	tcfg := telemetry.NewDefaultConfig()
	if err := cfg.Decode("telemetry", tcfg); err != nil {
		return nil, err
	}
	if d.telemetry, err = telemetry.New(ctx, tcfg); err != nil {
		return nil, err
	}

	lcfg := logging.NewDefaultConfig()
	if err := cfg.Decode("logging", lcfg); err != nil {
		return nil, err
	}
	if d.logger, err = logging.NewLogger(lcfg, d.telemetry.LoggerProvider()); err != nil {
		return nil, err
	}
	logger := d.logger

	if err := d.wire(ctx); err != nil {
		d.Close(ctx)
		return nil, err
	}
	logger.Info(ctx, "dependencies initialized",
		zap.String("vectorstore", cfg.VectorStore.Provider),
		zap.String("embeddings", cfg.Embeddings.Backend),
		zap.Int("endpoints", len(cfg.Providers.Endpoints)),
		zap.Bool("events", cfg.Events.Enabled))
	return d, nil
}

func (d *dependencies) wire(ctx context.Context) error {
	cfg, logger := d.cfg, d.logger

	endpoints := make([]*provider.Endpoint, 0, len(cfg.Providers.Endpoints))
	for _, ep := range cfg.Providers.Endpoints {
		e, err := provider.NewEndpoint(ep, nil)
		if err != nil {
			return err
		}
		endpoints = append(endpoints, e)
	}
	racer, err := provider.NewRacer(endpoints, cfg.Providers.ProbeInput, logger, provider.NewMetrics())
	if err != nil {
		return fmt.Errorf("provider race: %w", err)
	}

	source, closeSource, err := embeddings.NewSource(*cfg, racer, logger)
	if err != nil {
		return err
	}
	d.closers = append(d.closers, closeSource)

	index, err := vectorstore.NewIndex(ctx, cfg.VectorStore, logger)
	if err != nil {
		return err
	}
	d.closers = append(d.closers, index.Close)
	addresses := vectorstore.NewCatalog(index, cfg.VectorStore.Addresses, cfg.Providers.Dimensions)
	materials := vectorstore.NewCatalog(index, cfg.VectorStore.Materials, cfg.Providers.Dimensions)

	parser := address.NewParser(address.Config{
		URL:     cfg.AddressParser.URL,
		Timeout: cfg.AddressParser.Timeout.Duration(),
	}, logger)

	var translator translate.Translator = translate.Identity{}
	if cfg.Translate.URL != "" {
		translator = translate.NewClient(cfg.Translate, nil, logger)
	}

	deps := pipeline.Deps{
		Searcher:   search.NewEngine(addresses, parser, translator, logger),
		Materials:  material.NewResolver(materials, logger),
		Embeddings: source,
		Chat:       pipeline.RacerChat{Racer: racer},
		Translator: translator,
	}

	if cfg.Partners.Path != "" {
		table, err := partners.Load(cfg.Partners.Path, logger)
		if err != nil {
			return err
		}
		if cfg.Partners.Watch {
			if err := table.Watch(ctx); err != nil {
				logger.Warn(ctx, "partner table will not hot reload", zap.Error(err))
			}
		}
		deps.Partners = table
	}

	if cfg.Events.Enabled {
		pub, err := events.Connect(cfg.Events, logger)
		if err != nil {
			return err
		}
		d.closers = append(d.closers, pub.Close)
		deps.Publisher = pub
	}

	d.pipeline, err = pipeline.New(deps, cfg.Pipeline, logger)
	return err
}

// Close releases connections in reverse order and flushes telemetry.
func (d *dependencies) Close(ctx context.Context) {
	var errs []error
	for i := len(d.closers) - 1; i >= 0; i-- {
		errs = append(errs, d.closers[i]())
	}
	if d.telemetry != nil {
		errs = append(errs, d.telemetry.Shutdown(ctx))
	}
	if err := errors.Join(errs...); err != nil && d.logger != nil {
		d.logger.Warn(ctx, "errors during shutdown", zap.Error(err))
	}
	if d.logger != nil {
		_ = d.logger.Sync()
	}
}
