package cmd

import (
	"fmt"
	"time"

	"github.com/pkg/errors"
	"github.com/spf13/cobra"
	"github.com/sugawarayuuta/sonnet"

	"steadybench/internal/storage"
)

var historyCmd = &cobra.Command{
	Use:   "history",
	Short: "List recorded runs, newest first",
	RunE: func(cmd *cobra.Command, args []string) error {
		store, err := openHistory()
		if err != nil {
			return err
		}
		defer store.Close()

		items, err := store.List()
		if err != nil {
			return err
		}
		out := cmd.OutOrStdout()
		if len(items) == 0 {
			fmt.Fprintf(out, "No runs recorded in %s\n", store.Path())
			return nil
		}
		fmt.Fprintf(out, "%-36s  %-20s  %-12s  %-19s  %-8s  %s\n", "ID", "TIME", "SCENARIO", "MODE", "RESULT", "METRIC")
		for _, it := range items {
			fmt.Fprintf(out, "%-36s  %-20s  %-12s  %-19s  %-8s  %s = %.4f\n",
				it.ID,
				it.Timestamp.Format(time.DateTime),
				it.Scenario,
				it.Mode,
				verdict(it.Summary),
				it.Summary.Metric.Name, it.Summary.Metric.Value,
			)
		}
		return nil
	},
}

var historyShowCmd = &cobra.Command{
	Use:   "show <id>",
	Short: "Print one recorded run as JSON",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		store, err := openHistory()
		if err != nil {
			return err
		}
		defer store.Close()

		item, err := store.Get(args[0])
		if err != nil {
			return err
		}
		data, err := sonnet.Marshal(item)
		if err != nil {
			return err
		}
		fmt.Fprintln(cmd.OutOrStdout(), string(data))
		return nil
	},
}

func init() {
	historyCmd.AddCommand(historyShowCmd)
}

func openHistory() (*storage.Store, error) {
	path := v.GetString("log.history_path")
	if path == "" {
		return nil, errors.New("no history database configured")
	}
	return storage.NewStore(path)
}

func verdict(s storage.RunSummary) string {
	switch {
	case !s.Valid:
		return "INVALID"
	case s.Pass:
		return "PASS"
	default:
		return "FAIL"
	}
}
