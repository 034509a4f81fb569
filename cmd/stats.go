package cmd

import (
	"fmt"
	"os"
	"sort"

	"github.com/spf13/cobra"

	"github.com/marketscope/vacancy-crawler/internal/scrape"
	"github.com/marketscope/vacancy-crawler/internal/store"
)

func newStatsCmd() *cobra.Command {
	var (
		keyword    string
		location   string
		experience string
	)

	cmd := &cobra.Command{
		Use:   "stats",
		Short: "Print aggregate statistics over stored vacancies",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, logger, err := bootstrap()
			if err != nil {
				return err
			}
			defer func() { _ = logger.Sync() }()

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

			stats, err := db.Statistics(cmd.Context(), store.Filter{
				Keyword:    keyword,
				Location:   location,
				Experience: exp,
			})
			if err != nil {
				return fmt.Errorf("query statistics: %w", err)
			}

			out := os.Stdout
			fmt.Fprintf(out, "vacancies: %d\n", stats.Count)
			fmt.Fprintf(out, "remote:    %.0f%%\n", stats.RemoteFraction*100)
			if stats.Salary.Samples > 0 {
				fmt.Fprintf(out, "salary (%d samples):\n", stats.Salary.Samples)
				if stats.Salary.Min != nil {
					fmt.Fprintf(out, "  min:    %d\n", *stats.Salary.Min)
				}
				if stats.Salary.Max != nil {
					fmt.Fprintf(out, "  max:    %d\n", *stats.Salary.Max)
				}
				if stats.Salary.Avg != nil {
					fmt.Fprintf(out, "  avg:    %.0f\n", *stats.Salary.Avg)
				}
				if stats.Salary.Median != nil {
					fmt.Fprintf(out, "  median: %.0f\n", *stats.Salary.Median)
				}
			}
			printBreakdown(out, "locations", stats.Locations)
			printBreakdown(out, "experience", stats.Experience)
			return nil
		},
	}

	cmd.Flags().StringVarP(&keyword, "keyword", "k", "", "filter by title keyword")
	cmd.Flags().StringVarP(&location, "location", "l", "", "filter by location")
	cmd.Flags().StringVarP(&experience, "experience", "e", "", "filter by experience bucket")
	return cmd
}

// printBreakdown renders a count map sorted by count descending.
func printBreakdown(out *os.File, title string, counts map[string]int) {
	if len(counts) == 0 {
		return
	}
	keys := make([]string, 0, len(counts))
	for k := range counts {
		keys = append(keys, k)
	}
	sort.Slice(keys, func(i, j int) bool {
		if counts[keys[i]] != counts[keys[j]] {
			return counts[keys[i]] > counts[keys[j]]
		}
		return keys[i] < keys[j]
	})
	fmt.Fprintf(out, "%s:\n", title)
	for _, k := range keys {
		label := k
		if label == "" {
			label = "(unknown)"
		}
		fmt.Fprintf(out, "  %-24s %d\n", label, counts[k])
	}
}
