// Package approval owns the lifecycle of a pending visual edit: the live
// preview is applied at once, a source patch is generated in the
// background, and the user's accept or reject (or an automatic cancel)
// decides whether the patch reaches disk.
package approval

import (
	"context"
	"errors"

	"livepatch/internal/history"
	"livepatch/internal/llm"
	"livepatch/internal/patchgen"
	"livepatch/internal/types"
)

var (
	// ErrNotFound means no live approval has the id.
	ErrNotFound = errors.New("approval not found")

	// ErrDuplicateID means an approval with the id is still live.
	ErrDuplicateID = errors.New("approval id already in use")

	// ErrUnknownTab means the tab is not registered.
	ErrUnknownTab = errors.New("unknown tab")

	// ErrNotCancellable means the approval was accepted or is writing.
	ErrNotCancellable = errors.New("approval can no longer be cancelled")

	// ErrNoPatch means the approval was accepted without a usable patch.
	ErrNoPatch = errors.New("no source patch available")

	// ErrClosed means the manager has shut down.
	ErrClosed = errors.New("approval manager closed")
)

// Generator produces source patches.
type Generator interface {
	Generate(ctx context.Context, req patchgen.Request) (*types.SourcePatch, error)
}

// Writer puts an accepted patch on disk.
type Writer interface {
	ApplyPatch(ctx context.Context, patch *types.SourcePatch, description string, opts ...history.ApplyOption) (history.ApplyResult, error)
}

// Settings is read when a patch becomes ready.
type Settings interface {
	FastPathAutoApply() bool
	ProviderConfig() llm.ProviderConfig
}

// Executors finds the live page of a tab.
type Executors interface {
	Lookup(tabID string) (types.PageExecutor, bool)
}

// Pending is a snapshot of one approval.
type Pending struct {
	ID           string                 `json:"id"`
	TabID        string                 `json:"tabId"`
	Element      *types.SelectedElement `json:"element"`
	CSS          types.CSSChanges       `json:"cssChanges,omitempty"`
	Text         *types.TextChange      `json:"textChange,omitempty"`
	Src          *types.SrcChange       `json:"srcChange,omitempty"`
	Description  string                 `json:"description,omitempty"`
	UndoCode     string                 `json:"undoCode"`
	ApplyCode    string                 `json:"applyCode"`
	UserRequest  string                 `json:"userRequest,omitempty"`
	ProjectPath  string                 `json:"projectPath,omitempty"`
	Status       types.PatchStatus      `json:"patchStatus"`
	Patch        *types.SourcePatch     `json:"patch,omitempty"`
	PatchError   string                 `json:"patchError,omitempty"`
	UserApproved bool                   `json:"userApproved"`
	Writing      bool                   `json:"writing"`
}

// Delta returns the proposed change.
func (p Pending) Delta() types.Delta {
	return types.Delta{CSS: p.CSS, Text: p.Text, Src: p.Src}
}

// PrepareRequest opens an approval. ApplyCode runs immediately in the tab;
// UndoCode reverts it.
type PrepareRequest struct {
	ID          string                 `json:"id"`
	TabID       string                 `json:"tabId"`
	Element     *types.SelectedElement `json:"element"`
	CSS         types.CSSChanges       `json:"cssChanges,omitempty"`
	Text        *types.TextChange      `json:"textChange,omitempty"`
	Src         *types.SrcChange       `json:"srcChange,omitempty"`
	Description string                 `json:"description,omitempty"`
	UndoCode    string                 `json:"undoCode"`
	ApplyCode   string                 `json:"applyCode"`
	UserRequest string                 `json:"userRequest,omitempty"`
	ProjectPath string                 `json:"projectPath,omitempty"`
}

// EventType names an approval change.
type EventType string

const (
	EventCreated EventType = "created"
	EventUpdated EventType = "updated"
	EventClosed  EventType = "closed"
)

// Event is delivered to subscribers on every state change.
type Event struct {
	Type     EventType     `json:"type"`
	Approval Pending       `json:"approval"`
	Outcome  types.Outcome `json:"outcome,omitempty"`
}
