package main

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"example.com/userexports/internal/config"
	"example.com/userexports/internal/domain"
	"example.com/userexports/internal/export"
	"example.com/userexports/internal/jobs"
	"example.com/userexports/internal/logging"
	"example.com/userexports/internal/storage/postgres"
)

type exportSummary struct {
	JobID          string `json:"jobId"`
	ExportType     string `json:"exportType"`
	OutputFilename string `json:"outputFilename"`
	Outcome        string `json:"outcome"`
	RowsExported   int    `json:"rowsExported"`
}

func newExportCmd(cfg *config.Config) *cobra.Command {
	var consumer, typ, filename string

	cmd := &cobra.Command{
		Use:   "export",
		Short: "Run one export job in the foreground",
		RunE: func(cmd *cobra.Command, args []string) error {
			t := domain.ExportType(typ)
			if !t.Valid() {
				return fmt.Errorf("unknown export type %q", typ)
			}
			if errs := domain.ValidateConsumerID(consumer); len(errs) > 0 {
				return errs[0]
			}
			if filename == "" {
				filename = domain.OutputFilename(t, consumer, time.Now())
			}

			log, err := logging.New(cfg.LogLevel, "console")
			if err != nil {
				return err
			}
			defer func() { _ = log.Sync() }()

			ctx := cmd.Context()
			db, err := postgres.Connect(ctx, cfg.PostgresDSN)
			if err != nil {
				return fmt.Errorf("db connect: %w", err)
			}
			defer db.Close()

			runner := jobs.NewRunner(beginFunc(db), export.New(cfg.OutputDir), jobs.NewLogSink(log))
			job := domain.Job{ID: uuid.NewString(), ConsumerID: consumer, Type: t, OutputFilename: filename}
			res, err := runner.Run(ctx, job)
			if err != nil {
				return err
			}

			enc := json.NewEncoder(cmd.OutOrStdout())
			enc.SetIndent("", "  ")
			return enc.Encode(exportSummary{
				JobID:          job.ID,
				ExportType:     typ,
				OutputFilename: filename,
				Outcome:        string(res.Outcome),
				RowsExported:   res.Rows,
			})
		},
	}
	cmd.Flags().StringVar(&consumer, "consumer", "", "consumer id (required)")
	cmd.Flags().StringVar(&typ, "type", string(domain.ExportFull), "full, incremental or delta")
	cmd.Flags().StringVar(&filename, "filename", "", "output file name (default: generated)")
	_ = cmd.MarkFlagRequired("consumer")
	return cmd
}
