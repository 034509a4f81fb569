package cmd

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/marketscope/vacancy-crawler/internal/export"
	"github.com/marketscope/vacancy-crawler/internal/scrape"
	"github.com/marketscope/vacancy-crawler/internal/store"
)

func newExportCmd() *cobra.Command {
	var (
		format     string
		output     string
		keyword    string
		location   string
		experience string
		remoteOnly bool
	)

	cmd := &cobra.Command{
		Use:   "export",
		Short: "Export stored vacancies to a file",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, logger, err := bootstrap()
			if err != nil {
				return err
			}
			defer func() { _ = logger.Sync() }()

			fm, err := export.ParseFormat(format)
			if err != nil {
				return err
			}
			exp := scrape.Experience(experience)
			if !exp.Valid() {
				return fmt.Errorf("unknown experience %q", experience)
			}

			db, err := store.NewPostgres(cmd.Context(), store.Config{
				DSN:      cfg.DB.DSN,
				Table:    cfg.DB.Table,
				MaxConns: cfg.DB.MaxConns,
			}, logger)
			if err != nil {
				return fmt.Errorf("init store: %w", err)
			}
			defer db.Close()

			vacancies, err := db.Query(cmd.Context(), store.Filter{
				Keyword:    keyword,
				Location:   location,
				Experience: exp,
				RemoteOnly: remoteOnly,
			})
			if err != nil {
				return fmt.Errorf("query vacancies: %w", err)
			}

			if output == "" {
				name := fmt.Sprintf("vacancies-%s.%s", time.Now().UTC().Format("20060102-150405"), fm.Ext())
				output = filepath.Join(cfg.Export.Dir, name)
			}
			if dir := filepath.Dir(output); dir != "." {
				if err := os.MkdirAll(dir, 0o755); err != nil {
					return fmt.Errorf("create export dir: %w", err)
				}
			}
			f, err := os.Create(output)
			if err != nil {
				return fmt.Errorf("create export file: %w", err)
			}
			defer f.Close()

			if err := export.Write(f, fm, vacancies); err != nil {
				return fmt.Errorf("write export: %w", err)
			}
			logger.Info("export written",
				zap.String("path", output),
				zap.Int("vacancies", len(vacancies)))
			fmt.Fprintf(os.Stdout, "wrote %d vacancies to %s\n", len(vacancies), output)
			return nil
		},
	}

	cmd.Flags().StringVarP(&format, "format", "f", "csv", "output format: csv, json or xlsx")
	cmd.Flags().StringVarP(&output, "output", "o", "", "output file (default export.dir with a timestamped name)")
	cmd.Flags().StringVarP(&keyword, "keyword", "k", "", "filter by title keyword")
	cmd.Flags().StringVarP(&location, "location", "l", "", "filter by location")
	cmd.Flags().StringVarP(&experience, "experience", "e", "", "filter by experience bucket")
	cmd.Flags().BoolVar(&remoteOnly, "remote", false, "only remote vacancies")
	return cmd
}
