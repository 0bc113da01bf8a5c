package models

// ActionType identifies the outcome kind of an executed request.
type ActionType string

const (
	ActionMove              ActionType = "move"
	ActionRename            ActionType = "rename"
	ActionCopy              ActionType = "copy"
	ActionBlocked           ActionType = "blocked"
	ActionBlockedByGuardian ActionType = "blocked_by_guardian"
	ActionSimulated         ActionType = "simulated"
	ActionNone              ActionType = "none"
)

// OperationKind names the mutation a caller asks for. Copy vs move vs
// rename is requested semantics, never inferred.
type OperationKind string

const (
	OpMove   OperationKind = "move"
	OpRename OperationKind = "rename"
	OpCopy   OperationKind = "copy"
	OpDelete OperationKind = "delete"
)

// ActionRequest is a single proposed mutation. It is consumed exactly once
// by the executor, producing exactly one ActionResult.
type ActionRequest struct {
	SourcePath    string        `json:"source_path"`
	Category      string        `json:"category"`
	SuggestedPath string        `json:"suggested_path,omitempty"`
	RenameTo      string        `json:"rename_to,omitempty"`
	Operation     OperationKind `json:"operation"`
	Approved      bool          `json:"approved"`
}

// ActionResult reports what the executor did, or why it refused.
type ActionResult struct {
	Success   bool       `json:"success"`
	Action    ActionType `json:"action"`
	OldPath   string     `json:"old_path"`
	NewPath   string     `json:"new_path,omitempty"`
	Message   string     `json:"message"`
	TimeSaved float64    `json:"time_saved"`
	Simulated bool       `json:"simulated"`

	// Decision carries the guardian payload on blocked_by_guardian results
	// and approved-with-warnings executions.
	Decision interface{} `json:"decision,omitempty"`
}
