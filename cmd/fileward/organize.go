package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"os/signal"
	"time"

	"github.com/spf13/cobra"

	"github.com/mvasile/fileward/internal/organize"
)

var organizeCmd = &cobra.Command{
	Use:   "organize <directory>",
	Short: "Classify and file everything in a directory",
	Long: `Organize scans a directory, asks the local model where each file
belongs and moves approved files under the configured destination root.

The scan refuses protected locations outright, and each individual move
passes the safety classifier and the guardian before anything happens.`,
	Example: `  fileward organize ~/Downloads
  fileward organize ~/Downloads --execute
  fileward organize ~/Desktop --recursive --yes`,
	Args: cobra.ExactArgs(1),
	RunE: runOrganize,
}

var (
	organizeRecursive bool
	organizeYes       bool
)

func init() {
	rootCmd.AddCommand(organizeCmd)

	organizeCmd.Flags().BoolVarP(&organizeRecursive, "recursive", "r", false,
		"Descend into subdirectories")
	organizeCmd.Flags().BoolVarP(&organizeYes, "yes", "y", false,
		"Skip the large-batch confirmation prompt")
}

func runOrganize(cmd *cobra.Command, args []string) error {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt)
	go func() {
		<-sigChan
		printWarning("\nInterrupted, stopping after the current file...")
		cancel()
	}()

	classifier := newContentClassifier()
	if !classifier.Available(ctx) {
		printWarning("Classifier service unavailable, files will go to %s", "Unsorted")
	}

	pipeline := organize.New(cfg, judge, classifier, exec, logger)

	files, err := pipeline.Scan(ctx, args[0], organizeRecursive)
	if err != nil {
		return err
	}
	if len(files) == 0 {
		printInfo("Nothing to organize in %s", args[0])
		return nil
	}

	printInfo("Classifying %d files...", len(files))
	plan := pipeline.Plan(ctx, files)

	if !exec.DryRun() && !organizeYes {
		total := organize.TotalBytes(plan)
		if len(plan) > cfg.Organize.ConfirmAboveFiles || total > cfg.Organize.ConfirmAboveBytes {
			question := fmt.Sprintf("About to process %d files (%s).",
				len(plan), formatBytes(total))
			if !confirm(question) {
				return fmt.Errorf("aborted")
			}
		}
	}

	start := time.Now()
	report := pipeline.Execute(ctx, plan)
	report.Scanned = len(files)

	if jsonOutput {
		return json.NewEncoder(os.Stdout).Encode(report)
	}

	for _, result := range report.Results {
		switch {
		case result.Success && result.Simulated:
			printInfo("  would: %s", result.Message)
		case result.Success:
			printSuccess("%s", result.Message)
		default:
			printWarning("%s: %s", result.OldPath, result.Message)
		}
	}

	fmt.Printf("\nOrganized %d/%d files in %s", report.Succeeded, report.Scanned,
		time.Since(start).Round(time.Millisecond))
	if report.Degraded > 0 {
		fmt.Printf(" (%d unclassified)", report.Degraded)
	}
	if report.TimeSaved > 0 {
		fmt.Printf(", ~%.1f minutes of sorting saved", report.TimeSaved)
	}
	fmt.Println()

	reportSimulated(!report.Simulated)
	return ctx.Err()
}
