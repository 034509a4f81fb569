package cmd

import (
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/marketscope/vacancy-crawler/internal/scrape"
)

func newSearchCmd() *cobra.Command {
	var (
		location   string
		experience string
		pages      int
		reimport   bool
	)

	cmd := &cobra.Command{
		Use:   "search <keyword>",
		Short: "Run one vacancy search and store the results",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, logger, err := bootstrap()
			if err != nil {
				return err
			}
			defer func() { _ = logger.Sync() }()

			exp := scrape.Experience(experience)
			if !exp.Valid() {
				return fmt.Errorf("unknown experience %q (want none, 1-3, 3-6 or 6+)", experience)
			}

			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			r, db, err := buildRunner(ctx, cfg, logger)
			if err != nil {
				return err
			}
			defer db.Close()

			sum, err := r.Run(ctx, scrape.SearchRequest{
				Keyword:    args[0],
				Location:   location,
				Experience: exp,
				PageLimit:  pages,
				Reimport:   reimport,
			})
			if err != nil {
				return fmt.Errorf("search: %w", err)
			}

			fmt.Fprintf(os.Stdout, "pages:    %d\n", sum.Pages)
			fmt.Fprintf(os.Stdout, "inserted: %d\n", sum.Inserted)
			if sum.Updated > 0 {
				fmt.Fprintf(os.Stdout, "updated:  %d\n", sum.Updated)
			}
			fmt.Fprintf(os.Stdout, "skipped:  %d\n", sum.Skipped)
			fmt.Fprintf(os.Stdout, "failed:   %d\n", sum.Failed)
			if sum.Partial {
				fmt.Fprintf(os.Stdout, "stopped early: %s\n", sum.Note)
			}
			logger.Info("search finished",
				zap.String("keyword", sum.Keyword),
				zap.Duration("took", sum.FinishedAt.Sub(sum.StartedAt)))
			return nil
		},
	}

	cmd.Flags().StringVarP(&location, "location", "l", "", "location name, e.g. Москва")
	cmd.Flags().StringVarP(&experience, "experience", "e", "", "experience bucket: none, 1-3, 3-6, 6+")
	cmd.Flags().IntVarP(&pages, "pages", "p", 0, "max pages to fetch (0 uses scrape.page_limit)")
	cmd.Flags().BoolVar(&reimport, "reimport", false, "overwrite already stored links")
	return cmd
}
