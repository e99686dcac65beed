package main

import (
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"agri-price-api/database"
	"agri-price-api/kamis"
	"agri-price-api/models"
	"agri-price-api/prediction"
	"agri-price-api/seed"

	"github.com/spf13/cobra"
)

func newMigrateCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "migrate",
		Short: "Create or update the database schema",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			db, err := a.database()
			if err != nil {
				return err
			}
			if err := database.Migrate(db); err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), "schema up to date")
			return nil
		},
	}
}

func newSeedCmd(a *app) *cobra.Command {
	var file string
	cmd := &cobra.Command{
		Use:   "seed",
		Short: "Insert missing crops, regions and markets from a YAML catalog",
		Long: `Insert missing crops, regions and markets.

Without --file the built-in Kenyan catalog is used. Existing rows are
matched by name, case-insensitively, and left untouched.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			catalog, err := seed.LoadFile(file)
			if err != nil {
				return err
			}
			db, err := a.database()
			if err != nil {
				return err
			}
			res, err := seed.Apply(cmd.Context(), db, catalog)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "created %d crops, %d regions, %d markets\n", res.Crops, res.Regions, res.Markets)
			return nil
		},
	}
	cmd.Flags().StringVarP(&file, "file", "f", "", "catalog YAML file")
	return cmd
}

func printRun(w io.Writer, run *models.SyncLog) {
	fmt.Fprintf(w, "run %s %s: %d total, %d synced, %d failed\n",
		run.RunID, run.Status, run.RecordsTotal, run.RecordsSynced, run.RecordsFailed)
	if run.ErrorDetail != "" {
		fmt.Fprintln(w, run.ErrorDetail)
	}
}

func newImportCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "import <file.csv|file.xlsx>",
		Short: "Import a KAMIS export and wait for it to finish",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			f, err := os.Open(args[0])
			if err != nil {
				return err
			}
			defer f.Close()

			db, err := a.database()
			if err != nil {
				return err
			}
			run, err := a.orchestrator(db).ImportFileNow(cmd.Context(), filepath.Base(args[0]), f)
			if run != nil {
				printRun(cmd.OutOrStdout(), run)
			}
			return err
		},
	}
}

func newSyncCmd(a *app) *cobra.Command {
	var crop, region, from, to string
	var products []int
	cmd := &cobra.Command{
		Use:   "sync",
		Short: "Fetch prices from the KAMIS site and wait for the run to finish",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			q := kamis.Query{ProductIDs: products, Crop: crop, Region: region}
			if err := q.SetRange(from, to); err != nil {
				return err
			}
			db, err := a.database()
			if err != nil {
				return err
			}
			run, err := a.orchestrator(db).SyncNow(cmd.Context(), q)
			if run != nil {
				printRun(cmd.OutOrStdout(), run)
			}
			return err
		},
	}
	cmd.Flags().StringVar(&crop, "crop", "", "only this crop")
	cmd.Flags().StringVar(&region, "region", "", "only this region")
	cmd.Flags().StringVar(&from, "from", "", "first entry date (YYYY-MM-DD)")
	cmd.Flags().StringVar(&to, "to", "", "last entry date (YYYY-MM-DD)")
	cmd.Flags().IntSliceVar(&products, "product", nil, "KAMIS product ids")
	return cmd
}

func newPredictCmd(a *app) *cobra.Command {
	var cropID, regionID uint
	var horizon int
	cmd := &cobra.Command{
		Use:   "predict",
		Short: "Regenerate predictions for one pair, or for every pair with recent data",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if (cropID == 0) != (regionID == 0) {
				return errors.New("--crop-id and --region-id go together")
			}
			if horizon != 0 && !prediction.ValidHorizon(horizon) {
				return fmt.Errorf("horizon must be between %d and %d days", prediction.MinHorizon, prediction.MaxHorizon)
			}
			db, err := a.database()
			if err != nil {
				return err
			}
			engine := a.engine(db)
			out := cmd.OutOrStdout()

			if cropID == 0 {
				sum, err := engine.GenerateAll(cmd.Context())
				if err != nil {
					return err
				}
				fmt.Fprintf(out, "%d pairs: %d generated, %d skipped, %d failed\n", sum.Pairs, sum.Generated, sum.Skipped, sum.Failed)
				return nil
			}

			f, row, err := engine.Predict(cmd.Context(), prediction.Pair{CropID: cropID, RegionID: regionID}, horizon)
			if err != nil {
				return err
			}
			fmt.Fprintf(out, "%s: %s -> %s in %d days (confidence %.2f)\n",
				f.Trend, row.CurrentPrice.StringFixed(2), row.PredictedPrice.StringFixed(2), f.HorizonDays, f.Confidence)
			return nil
		},
	}
	cmd.Flags().UintVar(&cropID, "crop-id", 0, "crop id")
	cmd.Flags().UintVar(&regionID, "region-id", 0, "region id")
	cmd.Flags().IntVar(&horizon, "horizon", 0, "forecast horizon in days (default from config)")
	return cmd
}

func newResetSyncCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "reset-sync",
		Short: "Mark every running sync as failed and release the guard",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			db, err := a.database()
			if err != nil {
				return err
			}
			n, err := a.orchestrator(db).ForceReset(cmd.Context())
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "reset %d running sync(s)\n", n)
			return nil
		},
	}
}
