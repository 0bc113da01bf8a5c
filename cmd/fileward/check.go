package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/mvasile/fileward/internal/guardian"
	"github.com/mvasile/fileward/internal/models"
	"github.com/mvasile/fileward/internal/safety"
)

var checkCmd = &cobra.Command{
	Use:   "check <path>...",
	Short: "Explain what the safety gates would decide",
	Long: `Check runs each path through the protection ruleset and, when a
destination is given, through the guardian, without touching anything.
Useful for understanding why a file was refused.`,
	Example: `  fileward check ~/Downloads/setup.exe
  fileward check ~/Downloads/report.pdf --dest Documents/Reports
  fileward check --service`,
	Args: cobra.ArbitraryArgs,
	RunE: runCheck,
}

var (
	checkDest    string
	checkService bool
)

func init() {
	rootCmd.AddCommand(checkCmd)

	checkCmd.Flags().StringVarP(&checkDest, "dest", "d", "",
		"Relative destination to evaluate against the guardian")
	checkCmd.Flags().BoolVar(&checkService, "service", false,
		"Probe the classifier service instead of checking paths")
}

type checkReport struct {
	Path     string             `json:"path"`
	Verdict  safety.Verdict     `json:"verdict"`
	Decision *guardian.Decision `json:"decision,omitempty"`
}

func runCheck(cmd *cobra.Command, args []string) error {
	if checkService {
		return runServiceCheck()
	}
	if len(args) == 0 {
		return fmt.Errorf("no paths given (or use --service)")
	}

	ctx := context.Background()
	var reports []checkReport

	for _, arg := range args {
		abs, err := filepath.Abs(arg)
		if err != nil {
			return fmt.Errorf("resolve %s: %w", arg, err)
		}

		report := checkReport{Path: abs, Verdict: judge.Classify(abs)}

		if checkDest != "" && report.Verdict.Safe {
			dest := filepath.Join(cfg.Organize.BaseDestination, checkDest, filepath.Base(abs))
			decision := guard.EvaluateOperation(ctx, guardian.Operation{
				SourcePath:      abs,
				DestinationPath: dest,
				Kind:            models.OpMove,
			})
			report.Decision = &decision
		}
		reports = append(reports, report)
	}

	if jsonOutput {
		return json.NewEncoder(os.Stdout).Encode(reports)
	}

	for _, report := range reports {
		if report.Verdict.Safe {
			printSuccess("%s: safe to organize", report.Path)
		} else {
			printWarning("%s: protected (%s) %s", report.Path,
				report.Verdict.Reason, report.Verdict.Detail)
		}
		if report.Decision != nil {
			d := report.Decision
			if d.Approved {
				printInfo("  guardian: %s risk, approved", d.RiskLevel)
			} else {
				printWarning("  guardian: %s risk, refused: %s", d.RiskLevel, d.Reasoning)
			}
			for _, threat := range d.Threats {
				fmt.Printf("    threat [%s] %s\n", threat.Severity, threat.Message)
			}
			for _, warning := range d.Warnings {
				fmt.Printf("    warning %s\n", warning)
			}
		}
	}
	return nil
}

func runServiceCheck() error {
	classifier := newContentClassifier()
	if classifier.Available(context.Background()) {
		printSuccess("Classifier %s reachable at %s", cfg.Classifier.Model, cfg.Classifier.BaseURL)
		return nil
	}
	printWarning("Classifier unreachable at %s. Files will be filed as Unsorted.", cfg.Classifier.BaseURL)
	return nil
}
