package main

import (
	"fmt"

	"agri-price-api/config"
	"agri-price-api/database"
	"agri-price-api/kamis"
	"agri-price-api/logging"
	"agri-price-api/prediction"
	"agri-price-api/store"
	"agri-price-api/syncer"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

// app holds what the subcommands share. Fields left nil are filled from the
// environment on first use.
type app struct {
	cfg    *config.Config
	logger *zap.Logger
	db     *gorm.DB
	source kamis.Source
}

func (a *app) init() error {
	if a.cfg == nil {
		cfg, err := config.LoadConfig()
		if err != nil {
			return fmt.Errorf("load config: %w", err)
		}
		a.cfg = cfg
	}
	if a.logger == nil {
		logger, err := logging.New(a.cfg.Log)
		if err != nil {
			return fmt.Errorf("build logger: %w", err)
		}
		a.logger = logger
	}
	return nil
}

func (a *app) database() (*gorm.DB, error) {
	if a.db != nil {
		return a.db, nil
	}
	db, err := database.Open(a.cfg.Database)
	if err != nil {
		return nil, err
	}
	a.db = db
	return db, nil
}

func (a *app) engine(db *gorm.DB) *prediction.Engine {
	return prediction.NewEngine(store.New(db), a.cfg.Prediction, a.logger.Named("prediction"))
}

// orchestrator runs syncs inline, so it needs no executor.
func (a *app) orchestrator(db *gorm.DB) *syncer.Orchestrator {
	src := a.source
	if src == nil {
		src = kamis.NewHTMLSource(a.cfg.Kamis)
	}
	return syncer.New(db, src, nil, syncer.Options{
		StaleAfter: a.cfg.Sync.StaleAfter(),
		Predictor:  a.engine(db),
		Logger:     a.logger.Named("sync"),
	})
}

func newRootCmd(a *app) *cobra.Command {
	root := &cobra.Command{
		Use:           "agrictl",
		Short:         "Maintenance commands for the agricultural price service",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			return a.init()
		},
	}
	root.AddCommand(
		newMigrateCmd(a),
		newSeedCmd(a),
		newImportCmd(a),
		newSyncCmd(a),
		newPredictCmd(a),
		newResetSyncCmd(a),
	)
	return root
}
