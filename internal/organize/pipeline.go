// Package organize orchestrates the scan, classify and execute stages
// for a target directory.
package organize

import (
	"context"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/google/uuid"

	"github.com/mvasile/fileward/internal/classify"
	"github.com/mvasile/fileward/internal/config"
	"github.com/mvasile/fileward/internal/events"
	"github.com/mvasile/fileward/internal/executor"
	"github.com/mvasile/fileward/internal/models"
	"github.com/mvasile/fileward/internal/safety"
)

const snippetLimit = 512

// snippetExtensions are content types worth sending a text preview for.
var snippetExtensions = map[string]bool{
	".txt": true, ".md": true, ".csv": true, ".log": true,
	".json": true, ".xml": true, ".html": true, ".yaml": true, ".yml": true,
}

// PlannedAction pairs a file with the classification that produced its
// request.
type PlannedAction struct {
	File           models.FileRecord
	Classification classify.Result
	Request        models.ActionRequest
}

// Report summarizes one pipeline run.
type Report struct {
	Scanned   int                   `json:"scanned"`
	Planned   int                   `json:"planned"`
	Degraded  int                   `json:"degraded"`
	Succeeded int                   `json:"succeeded"`
	Refused   int                   `json:"refused"`
	TimeSaved float64               `json:"time_saved"`
	Simulated bool                  `json:"simulated"`
	Results   []models.ActionResult `json:"results"`
}

// Pipeline wires the stages together. Construct with New; the zero value
// is not usable.
type Pipeline struct {
	cfg        *config.Config
	safety     *safety.Classifier
	classifier classify.Classifier
	exec       *executor.Executor
	logger     *events.Logger
}

func New(cfg *config.Config, sc *safety.Classifier, classifier classify.Classifier,
	exec *executor.Executor, logger *events.Logger) *Pipeline {
	return &Pipeline{
		cfg:        cfg,
		safety:     sc,
		classifier: classifier,
		exec:       exec,
		logger:     logger.WithField("component", "pipeline"),
	}
}

// Scan lists candidate files under dir. The directory itself must pass
// the scan-root check; individual protected files are filtered silently
// here and re-checked by the executor at mutation time.
func (p *Pipeline) Scan(ctx context.Context, dir string, recursive bool) ([]models.FileRecord, error) {
	abs, err := filepath.Abs(dir)
	if err != nil {
		return nil, fmt.Errorf("resolve scan directory: %w", err)
	}

	if verdict := p.safety.ValidateScanRoot(abs); !verdict.Safe {
		return nil, fmt.Errorf("refusing to organize %s: %s", abs, verdict.Detail)
	}

	var files []models.FileRecord
	walk := func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			if d != nil && d.IsDir() {
				return fs.SkipDir
			}
			return nil
		}
		if ctx.Err() != nil {
			return ctx.Err()
		}
		if d.IsDir() {
			if path != abs && !recursive {
				return fs.SkipDir
			}
			return nil
		}
		if strings.HasPrefix(d.Name(), ".") {
			return nil
		}
		info, err := d.Info()
		if err != nil {
			return nil
		}
		files = append(files, models.FileRecord{
			Path:         path,
			Size:         info.Size(),
			ModifiedTime: info.ModTime(),
		})
		return nil
	}
	if err := filepath.WalkDir(abs, walk); err != nil {
		return nil, err
	}

	sort.Slice(files, func(i, j int) bool { return files[i].Path < files[j].Path })

	p.logger.WithFields(map[string]interface{}{
		"dir":   abs,
		"files": len(files),
	}).Debug("scan complete")

	return files, nil
}

// Plan asks the content classifier about each file and turns the answers
// into action requests. Classification never fails a file; degraded
// results land in Unsorted.
func (p *Pipeline) Plan(ctx context.Context, files []models.FileRecord) []PlannedAction {
	plan := make([]PlannedAction, 0, len(files))
	for _, f := range files {
		if ctx.Err() != nil {
			break
		}

		result := p.classifier.ClassifyFile(ctx, classify.Request{
			Filename:        filepath.Base(f.Path),
			Extension:       strings.ToLower(filepath.Ext(f.Path)),
			Size:            f.Size,
			CurrentLocation: filepath.Dir(f.Path),
			Snippet:         readSnippet(f.Path),
		})

		req := models.ActionRequest{
			SourcePath:    f.Path,
			Category:      result.Category,
			SuggestedPath: result.SuggestedPath,
			RenameTo:      result.RenameTo,
		}
		if req.SuggestedPath == "" && req.RenameTo == "" {
			req.SuggestedPath = result.Category
		}

		plan = append(plan, PlannedAction{File: f, Classification: result, Request: req})
	}
	return plan
}

// Execute runs the planned requests and aggregates the outcome.
func (p *Pipeline) Execute(ctx context.Context, plan []PlannedAction) Report {
	report := Report{
		Planned:   len(plan),
		Simulated: p.exec.DryRun(),
	}

	for _, action := range plan {
		if action.Classification.Degraded {
			report.Degraded++
		}
	}

	for _, action := range plan {
		if ctx.Err() != nil {
			break
		}
		result := p.exec.Execute(ctx, action.Request)
		report.Results = append(report.Results, result)
		if result.Success {
			report.Succeeded++
			report.TimeSaved += result.TimeSaved
		} else {
			report.Refused++
		}
	}
	return report
}

// Run is the scan, plan, execute convenience entry point. The context is
// tagged with a run ID that downstream log entries carry.
func (p *Pipeline) Run(ctx context.Context, dir string, recursive bool) (Report, error) {
	ctx = events.WithOperationID(ctx, uuid.New().String())
	ctx = events.WithScanRoot(ctx, dir)

	files, err := p.Scan(ctx, dir, recursive)
	if err != nil {
		return Report{}, err
	}
	plan := p.Plan(ctx, files)
	report := p.Execute(ctx, plan)
	report.Scanned = len(files)
	return report, nil
}

// TotalBytes sums the sizes in a plan, for confirmation thresholds.
func TotalBytes(plan []PlannedAction) int64 {
	var total int64
	for _, action := range plan {
		total += action.File.Size
	}
	return total
}

func readSnippet(path string) string {
	if !snippetExtensions[strings.ToLower(filepath.Ext(path))] {
		return ""
	}
	f, err := os.Open(path)
	if err != nil {
		return ""
	}
	defer f.Close()

	buf := make([]byte, snippetLimit)
	n, _ := f.Read(buf)
	return strings.ToValidUTF8(string(buf[:n]), "")
}
