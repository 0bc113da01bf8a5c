package testutil

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"sync"
)

// ModelServer mimics a local Ollama endpoint, answering classification
// prompts by filename extension.
type ModelServer struct {
	*httptest.Server
	mu       sync.Mutex
	model    string
	requests int
	routes   map[string]ModelAnswer
}

// ModelAnswer is the classification the fake model returns for an
// extension.
type ModelAnswer struct {
	Category      string
	SuggestedPath string
	Rename        string
	Confidence    string
}

// NewModelServer starts a fake model server for the given model name.
func NewModelServer(model string) *ModelServer {
	ms := &ModelServer{
		model: model,
		routes: map[string]ModelAnswer{
			".pdf": {Category: "Documents", SuggestedPath: "Documents", Confidence: "high"},
			".jpg": {Category: "Pictures", SuggestedPath: "Pictures", Confidence: "high"},
			".mp3": {Category: "Music", SuggestedPath: "Music", Confidence: "medium"},
		},
	}

	mux := http.NewServeMux()
	mux.HandleFunc("/api/tags", ms.handleTags)
	mux.HandleFunc("/api/generate", ms.handleGenerate)
	ms.Server = httptest.NewServer(mux)
	return ms
}

// Route sets the answer returned for an extension.
func (ms *ModelServer) Route(ext string, answer ModelAnswer) {
	ms.mu.Lock()
	defer ms.mu.Unlock()
	ms.routes[ext] = answer
}

// Requests reports how many generate calls were served.
func (ms *ModelServer) Requests() int {
	ms.mu.Lock()
	defer ms.mu.Unlock()
	return ms.requests
}

func (ms *ModelServer) handleTags(w http.ResponseWriter, r *http.Request) {
	resp := map[string]interface{}{
		"models": []map[string]string{{"name": ms.model}},
	}
	json.NewEncoder(w).Encode(resp)
}

func (ms *ModelServer) handleGenerate(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Model  string `json:"model"`
		Prompt string `json:"prompt"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	ms.mu.Lock()
	ms.requests++
	answer, ok := ms.routes[extractExtension(req.Prompt)]
	ms.mu.Unlock()

	if !ok {
		// An unroutable file gets free-form text, which callers must
		// treat as a degraded classification.
		json.NewEncoder(w).Encode(map[string]string{
			"response": "I am not sure how to classify this file.",
		})
		return
	}

	payload := map[string]interface{}{
		"category":   answer.Category,
		"confidence": answer.Confidence,
	}
	if answer.SuggestedPath != "" {
		payload["suggested_path"] = answer.SuggestedPath
	}
	if answer.Rename != "" {
		payload["rename"] = answer.Rename
	}
	body, _ := json.Marshal(payload)

	json.NewEncoder(w).Encode(map[string]string{
		"response": string(body),
	})
}

// extractExtension pulls the filename extension out of the prompt text.
func extractExtension(prompt string) string {
	for _, line := range strings.Split(prompt, "\n") {
		if name, ok := strings.CutPrefix(line, "File: "); ok {
			return strings.ToLower(filepath.Ext(strings.TrimSpace(name)))
		}
	}
	return ""
}
