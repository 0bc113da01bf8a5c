package main

import (
	"encoding/json"
	"fmt"
	"os"
	"sort"

	"github.com/spf13/cobra"

	"github.com/mvasile/fileward/internal/duplicates"
)

var historyCmd = &cobra.Command{
	Use:   "history",
	Short: "Show the audit trail of executed actions",
	Example: `  fileward history
  fileward history --limit 100
  fileward history --stats`,
	RunE: runHistory,
}

var (
	historyLimit int
	historyStats bool
	historyDisk  string
)

func init() {
	rootCmd.AddCommand(historyCmd)

	historyCmd.Flags().IntVarP(&historyLimit, "limit", "n", 20,
		"Maximum entries to show")
	historyCmd.Flags().BoolVar(&historyStats, "stats", false,
		"Show aggregate statistics instead of entries")
	historyCmd.Flags().StringVar(&historyDisk, "disk", "",
		"Also report disk usage for the given path")
}

func runHistory(cmd *cobra.Command, args []string) error {
	if auditStore == nil {
		return fmt.Errorf("history store is not configured")
	}

	if historyStats {
		return runHistoryStats()
	}

	actions, err := auditStore.QueryHistory(historyLimit)
	if err != nil {
		return err
	}

	if jsonOutput {
		return json.NewEncoder(os.Stdout).Encode(actions)
	}

	if len(actions) == 0 {
		printInfo("No actions recorded yet.")
		return nil
	}
	for _, action := range actions {
		fmt.Printf("%s  %-6s  %s", action.CreatedAt.Format("2006-01-02 15:04"),
			action.Operation, action.OldPath)
		if action.NewPath != "" {
			fmt.Printf(" -> %s", action.NewPath)
		}
		fmt.Println()
	}
	return maybeReportDisk()
}

func runHistoryStats() error {
	stats, err := auditStore.QueryStats()
	if err != nil {
		return err
	}

	if jsonOutput {
		return json.NewEncoder(os.Stdout).Encode(stats)
	}

	fmt.Printf("Total actions:  %d\n", stats.TotalActions)
	fmt.Printf("Minutes saved:  %.1f\n", stats.TotalTimeSaved)

	if len(stats.ByOperation) > 0 {
		fmt.Println("By operation:")
		for _, op := range sortedKeys(stats.ByOperation) {
			fmt.Printf("  %-8s %d\n", op, stats.ByOperation[op])
		}
	}
	if len(stats.ByCategory) > 0 {
		fmt.Println("By category:")
		for _, category := range sortedKeys(stats.ByCategory) {
			fmt.Printf("  %-16s %d\n", category, stats.ByCategory[category])
		}
	}
	return maybeReportDisk()
}

func maybeReportDisk() error {
	if historyDisk == "" {
		return nil
	}
	report, err := duplicates.DiskUsage(historyDisk)
	if err != nil {
		return fmt.Errorf("disk usage for %s: %w", historyDisk, err)
	}
	fmt.Printf("\nDisk %s: %s free of %s (%.1f%% used)\n", report.Path,
		formatBytes(int64(report.FreeBytes)), formatBytes(int64(report.TotalBytes)),
		report.UsedPercent)
	return nil
}

func sortedKeys(m map[string]int) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
