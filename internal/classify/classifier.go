// Package classify wraps the local model server behind a Classifier
// interface. Classification is advisory: any transport or schema failure
// degrades to the Unsorted category instead of returning an error, so a
// dead model server can never stall or misdirect the action pipeline.
package classify

import (
	"context"
	"encoding/json"
	"fmt"
	"path/filepath"
	"strings"
	"time"

	"github.com/mvasile/fileward/internal/config"
	"github.com/mvasile/fileward/internal/events"
	"github.com/mvasile/fileward/internal/transport"
)

// Confidence grades how much the caller should trust a result.
type Confidence string

const (
	ConfidenceHigh   Confidence = "high"
	ConfidenceMedium Confidence = "medium"
	ConfidenceLow    Confidence = "low"
)

// FallbackCategory is returned whenever classification cannot be trusted.
const FallbackCategory = "Unsorted"

// Request describes one file to classify. Snippet is optional extracted
// text, already truncated by the caller.
type Request struct {
	Filename        string
	Extension       string
	Size            int64
	CurrentLocation string
	Snippet         string
}

// Result of a classification. Degraded marks fallback results so callers
// can report why a file landed in Unsorted.
type Result struct {
	Category      string     `json:"category"`
	SuggestedPath string     `json:"suggested_path,omitempty"`
	RenameTo      string     `json:"rename,omitempty"`
	Confidence    Confidence `json:"confidence"`
	Reasoning     string     `json:"reasoning,omitempty"`
	Degraded      bool       `json:"degraded,omitempty"`
}

// Classifier is the pluggable content-classification collaborator.
type Classifier interface {
	ClassifyFile(ctx context.Context, req Request) Result
}

// Func adapts a plain function to the Classifier interface.
type Func func(ctx context.Context, req Request) Result

func (f Func) ClassifyFile(ctx context.Context, req Request) Result {
	return f(ctx, req)
}

// OllamaClassifier calls a local Ollama server with a single structured
// prompt and validates the response schema strictly.
type OllamaClassifier struct {
	http   *transport.HTTPClient
	model  string
	logger *events.Logger
}

func NewOllamaClassifier(cfg *config.ClassifierConfig, logger *events.Logger) *OllamaClassifier {
	return &OllamaClassifier{
		http:   transport.NewHTTPClient(cfg, logger),
		model:  cfg.Model,
		logger: logger.WithField("component", "classifier"),
	}
}

// Available probes the server's model list for the configured model.
func (c *OllamaClassifier) Available(ctx context.Context) bool {
	result, err := c.http.GetJSON(ctx, "/api/tags", 5*time.Second)
	if err != nil {
		c.logger.WithError(err).Debug("model server not reachable")
		return false
	}

	models, ok := result["models"].([]interface{})
	if !ok {
		return false
	}
	for _, entry := range models {
		m, ok := entry.(map[string]interface{})
		if !ok {
			continue
		}
		if name, _ := m["name"].(string); name == c.model {
			return true
		}
	}
	return false
}

// ClassifyFile asks the model for a category and suggested destination.
// It never returns an error: failures degrade to Unsorted with low
// confidence.
func (c *OllamaClassifier) ClassifyFile(ctx context.Context, req Request) Result {
	payload := map[string]interface{}{
		"model":  c.model,
		"prompt": buildPrompt(req),
		"stream": false,
		"format": "json",
		"options": map[string]interface{}{
			"temperature": 0.3,
			"num_predict": 500,
		},
	}

	response, err := c.http.PostJSON(ctx, "/api/generate", payload)
	if err != nil {
		return c.degrade(req, fmt.Sprintf("model server unavailable: %v", err))
	}

	text, _ := response["response"].(string)
	if text == "" {
		return c.degrade(req, "empty model response")
	}

	result, err := parseResult(text)
	if err != nil {
		return c.degrade(req, fmt.Sprintf("malformed model response: %v", err))
	}

	c.logger.WithFields(map[string]interface{}{
		"file":       req.Filename,
		"category":   result.Category,
		"confidence": string(result.Confidence),
	}).Debug("file classified")

	return result
}

func (c *OllamaClassifier) degrade(req Request, reason string) Result {
	c.logger.WithFields(map[string]interface{}{
		"file":   req.Filename,
		"reason": reason,
	}).Warn("classification degraded")

	return Result{
		Category:   FallbackCategory,
		Confidence: ConfidenceLow,
		Reasoning:  reason,
		Degraded:   true,
	}
}

// parseResult decodes and validates the model's JSON. Models sometimes
// wrap JSON in markdown fences even with format=json, so fences are
// stripped first.
func parseResult(text string) (Result, error) {
	text = stripFences(text)

	var raw struct {
		Category      string      `json:"category"`
		SuggestedPath string      `json:"suggested_path"`
		Rename        string      `json:"rename"`
		Confidence    interface{} `json:"confidence"`
		Reasoning     string      `json:"reasoning"`
	}

	decoder := json.NewDecoder(strings.NewReader(text))
	decoder.UseNumber()
	if err := decoder.Decode(&raw); err != nil {
		return Result{}, fmt.Errorf("decode: %w", err)
	}

	category := strings.TrimSpace(raw.Category)
	if err := validateCategory(category); err != nil {
		return Result{}, err
	}

	suggested := strings.TrimSpace(raw.SuggestedPath)
	if suggested != "" {
		if err := validateRelativePath(suggested); err != nil {
			return Result{}, fmt.Errorf("suggested_path: %w", err)
		}
	}

	rename := strings.TrimSpace(raw.Rename)
	if rename != "" {
		if strings.ContainsAny(rename, `/\`) || strings.Contains(rename, "..") {
			return Result{}, fmt.Errorf("rename %q contains path elements", rename)
		}
	}

	return Result{
		Category:      category,
		SuggestedPath: suggested,
		RenameTo:      rename,
		Confidence:    coerceConfidence(raw.Confidence),
		Reasoning:     strings.TrimSpace(raw.Reasoning),
	}, nil
}

func validateCategory(category string) error {
	if category == "" {
		return fmt.Errorf("missing category")
	}
	if len(category) > 64 {
		return fmt.Errorf("category too long (%d chars)", len(category))
	}
	if strings.Contains(category, "..") {
		return fmt.Errorf("category %q contains traversal", category)
	}
	if strings.HasPrefix(category, "/") || strings.HasSuffix(category, "/") ||
		strings.ContainsAny(category, `\`+"\x00\n\r\t") {
		return fmt.Errorf("category %q is not a clean relative name", category)
	}
	return nil
}

func validateRelativePath(path string) error {
	if filepath.IsAbs(path) || strings.HasPrefix(path, "/") {
		return fmt.Errorf("%q is absolute", path)
	}
	if strings.Contains(path, "..") {
		return fmt.Errorf("%q contains traversal", path)
	}
	if strings.ContainsAny(path, "\x00\n\r\t") {
		return fmt.Errorf("%q contains control characters", path)
	}
	return nil
}

// coerceConfidence accepts either the string form or the numeric 0..1
// form some models emit.
func coerceConfidence(value interface{}) Confidence {
	switch v := value.(type) {
	case string:
		switch strings.ToLower(strings.TrimSpace(v)) {
		case "high":
			return ConfidenceHigh
		case "medium":
			return ConfidenceMedium
		case "low":
			return ConfidenceLow
		}
	case json.Number:
		if f, err := v.Float64(); err == nil {
			switch {
			case f >= 0.75:
				return ConfidenceHigh
			case f >= 0.4:
				return ConfidenceMedium
			}
		}
	}
	return ConfidenceLow
}

func stripFences(text string) string {
	if idx := strings.Index(text, "```json"); idx >= 0 {
		text = text[idx+len("```json"):]
		if end := strings.Index(text, "```"); end >= 0 {
			text = text[:end]
		}
	} else if idx := strings.Index(text, "```"); idx >= 0 {
		text = text[idx+3:]
		if end := strings.Index(text, "```"); end >= 0 {
			text = text[:end]
		}
	}
	return strings.TrimSpace(text)
}

func buildPrompt(req Request) string {
	var b strings.Builder
	b.WriteString("Analyze this file and classify it for organization. Respond with JSON only.\n\n")
	fmt.Fprintf(&b, "File: %s\nExtension: %s\n", req.Filename, req.Extension)
	if req.Size > 0 {
		fmt.Fprintf(&b, "Size: %d bytes\n", req.Size)
	}
	if req.CurrentLocation != "" {
		fmt.Fprintf(&b, "Current location: %s\n", req.CurrentLocation)
	}
	if req.Snippet != "" {
		snippet := req.Snippet
		if len(snippet) > 1000 {
			snippet = snippet[:1000] + "..."
		}
		fmt.Fprintf(&b, "\nContent:\n%s\n", snippet)
	}
	b.WriteString(`
Respond with this exact JSON structure:
{
  "category": "top-level category such as Documents, Finance, Pictures, Media, Code, Unsorted",
  "suggested_path": "relative folder path under the category, or empty",
  "rename": "better filename without path separators, or empty",
  "confidence": "high, medium or low",
  "reasoning": "one short sentence"
}

Rules: the category and suggested_path must be relative, must not contain
'..', and must not reference system folders. When unsure, use category
"Unsorted" with low confidence.`)
	return b.String()
}
