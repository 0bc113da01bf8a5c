package main

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"github.com/mvasile/fileward/internal/models"
	"github.com/mvasile/fileward/internal/oplog"
)

var undoCmd = &cobra.Command{
	Use:   "undo",
	Short: "Move files back to where they came from",
	Long: `Undo walks the operation log newest first and reverses successful
moves. A file whose current location has vanished is skipped; a file
whose original location is occupied is left where it is.

Each reversal is itself appended to the log.`,
	Example: `  fileward undo --last 5
  fileward undo --interactive --execute
  fileward undo --last 1 --execute`,
	RunE: runUndo,
}

var (
	undoLast        int
	undoInteractive bool
)

func init() {
	rootCmd.AddCommand(undoCmd)

	undoCmd.Flags().IntVarP(&undoLast, "last", "n", 1,
		"Number of operations to reverse")
	undoCmd.Flags().BoolVarP(&undoInteractive, "interactive", "i", false,
		"Choose which operations to reverse")
}

func runUndo(cmd *cobra.Command, args []string) error {
	undoer := oplog.NewUndoer(opLog, exec.DryRun(), logger)

	if undoInteractive {
		return runUndoInteractive(undoer)
	}

	if undoLast < 1 {
		return fmt.Errorf("--last must be at least 1")
	}

	report, err := undoer.UndoLast(undoLast)
	if errors.Is(err, models.ErrNothingToUndo) {
		printInfo("Nothing to undo.")
		return nil
	}
	if err != nil {
		return err
	}
	return printUndoReport(report)
}

func runUndoInteractive(undoer *oplog.Undoer) error {
	candidates, err := undoer.Candidates(20)
	if err != nil {
		return err
	}
	if len(candidates) == 0 {
		printInfo("Nothing to undo.")
		return nil
	}

	fmt.Println("Recent operations, newest first:")
	for i, entry := range candidates {
		fmt.Printf("  [%d] %s  %s -> %s\n", i+1,
			entry.Timestamp.Format("2006-01-02 15:04"),
			entry.OldLocation, entry.NewLocation)
	}

	fmt.Print("Numbers to undo (e.g. 1,3) or 'all': ")
	var input string
	if _, err := fmt.Fscanln(os.Stdin, &input); err != nil {
		return fmt.Errorf("read selection: %w", err)
	}

	var selected []oplog.Entry
	if strings.EqualFold(strings.TrimSpace(input), "all") {
		selected = candidates
	} else {
		for _, token := range strings.Split(input, ",") {
			var idx int
			if _, err := fmt.Sscanf(strings.TrimSpace(token), "%d", &idx); err != nil {
				return fmt.Errorf("invalid selection %q", token)
			}
			if idx < 1 || idx > len(candidates) {
				return fmt.Errorf("selection %d out of range", idx)
			}
			selected = append(selected, candidates[idx-1])
		}
	}

	return printUndoReport(undoer.UndoEntries(selected))
}

func printUndoReport(report oplog.UndoReport) error {
	if jsonOutput {
		return json.NewEncoder(os.Stdout).Encode(report)
	}

	for _, failure := range report.Failures {
		printWarning("%s", failure)
	}

	verb := "Restored"
	if report.Simulated {
		verb = "Would restore"
	}
	fmt.Printf("%s %d file(s)", verb, report.Restored)
	if report.Skipped > 0 {
		fmt.Printf(", skipped %d", report.Skipped)
	}
	fmt.Println()

	reportSimulated(!report.Simulated)
	if len(report.Failures) > 0 {
		return fmt.Errorf("%d operation(s) could not be reversed", len(report.Failures))
	}
	return nil
}
