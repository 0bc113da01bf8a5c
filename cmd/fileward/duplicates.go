package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"os/signal"

	"github.com/spf13/cobra"

	"github.com/mvasile/fileward/internal/duplicates"
)

var duplicatesCmd = &cobra.Command{
	Use:     "duplicates <directory>...",
	Aliases: []string{"dupes"},
	Short:   "Find and optionally clean duplicate files",
	Long: `Duplicates hashes every file under the given roots and groups exact
matches. With --clean the newest copy of each group is kept and the rest
are deleted, subject to the deletion whitelist and, when configured, an
archive copy taken before each delete.

Groups containing any protected file are excluded entirely.`,
	Example: `  fileward duplicates ~/Downloads
  fileward duplicates ~/Downloads ~/Desktop --clean
  fileward duplicates ~/Downloads --clean --execute`,
	Args: cobra.MinimumNArgs(1),
	RunE: runDuplicates,
}

var (
	duplicatesClean   bool
	duplicatesJunk    bool
	duplicatesMinSize int64
)

func init() {
	rootCmd.AddCommand(duplicatesCmd)

	duplicatesCmd.Flags().BoolVar(&duplicatesClean, "clean", false,
		"Delete redundant copies, keeping the newest")
	duplicatesCmd.Flags().BoolVar(&duplicatesJunk, "junk", false,
		"Also list temp and installer leftovers")
	duplicatesCmd.Flags().Int64Var(&duplicatesMinSize, "min-size", 0,
		"Override the minimum file size in bytes")
}

func runDuplicates(cmd *cobra.Command, args []string) error {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt)
	go func() {
		<-sigChan
		printWarning("\nInterrupted, discarding partial results...")
		cancel()
	}()

	store, err := newArchiveStore()
	if err != nil {
		return fmt.Errorf("configure archive: %w", err)
	}

	if cmd.Flags().Changed("min-size") {
		cfg.Duplicates.MinFileSize = duplicatesMinSize
	}
	engine := duplicates.NewEngine(cfg.Duplicates, judge, opLog, store, logger)

	printInfo("Hashing files under %d root(s)...", len(args))
	groups, err := engine.FindDuplicates(ctx, args)
	if err != nil {
		return err
	}

	safeGroups, skippedGroups, skippedFiles := engine.FilterProtected(groups)
	summary := engine.Summarize(safeGroups)

	if jsonOutput && !duplicatesClean {
		return json.NewEncoder(os.Stdout).Encode(struct {
			Groups  interface{}        `json:"groups"`
			Summary duplicates.Summary `json:"summary"`
		}{safeGroups, summary})
	}

	if len(safeGroups) == 0 {
		printInfo("No duplicate files found.")
	}
	for i, group := range safeGroups {
		resolution := engine.SuggestResolution(group)
		fmt.Printf("\nGroup %d (%s each, %s wasted):\n", i+1,
			formatBytes(group.Files[0].Size), formatBytes(group.WastedBytes()))
		fmt.Printf("  keep   %s\n", resolution.Keep.Path)
		for _, doomed := range resolution.Delete {
			fmt.Printf("  delete %s\n", doomed.Path)
		}
	}
	if skippedGroups > 0 {
		printWarning("Excluded %d group(s) containing %d protected file(s)", skippedGroups, skippedFiles)
	}
	fmt.Printf("\n%d group(s), %d file(s), %s reclaimable\n",
		summary.Groups, summary.Files, formatBytes(summary.WastedBytes))

	if duplicatesJunk {
		reportJunk(engine, args)
	}

	if !duplicatesClean || len(safeGroups) == 0 {
		return nil
	}

	dryRun := exec.DryRun()
	if !dryRun {
		question := fmt.Sprintf("This will permanently delete %d file(s) (%s).",
			summary.Files-summary.Groups, formatBytes(summary.WastedBytes))
		if !confirmTyped(question, "delete") {
			return fmt.Errorf("aborted")
		}
	}

	var deleted int
	var freed int64
	for _, group := range safeGroups {
		result := engine.Cleanup(ctx, group, dryRun)
		deleted += result.DeletedCount
		freed += result.FreedBytes
		for _, msg := range result.Errors {
			printWarning("%s", msg)
		}
	}

	if dryRun {
		fmt.Printf("\nWould delete %d file(s), reclaiming %s\n", deleted, formatBytes(freed))
	} else {
		printSuccess("Deleted %d file(s), reclaimed %s", deleted, formatBytes(freed))
	}
	reportSimulated(!dryRun)
	return ctx.Err()
}

func reportJunk(engine *duplicates.Engine, roots []string) {
	var junk []string
	for _, root := range roots {
		found, err := engine.FindJunk(root)
		if err != nil {
			printWarning("junk scan of %s failed: %v", root, err)
			continue
		}
		junk = append(junk, found...)
	}
	if len(junk) == 0 {
		return
	}
	fmt.Printf("\nJunk candidates (not deleted automatically):\n")
	for _, path := range junk {
		fmt.Printf("  %s\n", path)
	}
}
