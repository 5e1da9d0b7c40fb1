package approval

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"sync"
	"time"

	"github.com/google/uuid"

	"livepatch/internal/history"
	"livepatch/internal/llm"
	"livepatch/internal/logging"
	"livepatch/internal/patchgen"
	"livepatch/internal/resolver"
	"livepatch/internal/telemetry"
	"livepatch/internal/types"
)

// DefaultTimeout bounds one patch generation attempt.
const DefaultTimeout = 30 * time.Second

const subscriberBuffer = 32

type approval struct {
	Pending

	exec      types.PageExecutor
	providers llm.ProviderConfig
	ctx       context.Context
	cancel    context.CancelFunc
	token     string
	done      bool
}

// Manager runs approvals. At most one approval is active; a new one
// supersedes an active approval that is neither approved nor writing.
type Manager struct {
	gen      Generator
	writer   Writer
	settings Settings
	tabs     Executors
	sink     types.MessageSink
	tel      *telemetry.Recorder
	timeout  time.Duration

	ctx  context.Context
	stop context.CancelFunc
	wg   sync.WaitGroup

	mu        sync.Mutex
	approvals map[string]*approval
	active    string
	activeTab string
	cancelled map[string]struct{}
	closed    bool

	subMu  sync.Mutex
	subs   map[int]chan Event
	nextID int
}

// Option configures a Manager.
type Option func(*Manager)

// WithTimeout sets the generation timeout.
func WithTimeout(d time.Duration) Option {
	return func(m *Manager) {
		if d > 0 {
			m.timeout = d
		}
	}
}

// WithMessageSink sets where user-visible failures are reported.
func WithMessageSink(s types.MessageSink) Option {
	return func(m *Manager) { m.sink = s }
}

// WithTelemetry sets the lifecycle recorder.
func WithTelemetry(r *telemetry.Recorder) Option {
	return func(m *Manager) { m.tel = r }
}

// NewManager wires a manager to its collaborators.
func NewManager(gen Generator, writer Writer, settings Settings, tabs Executors, opts ...Option) *Manager {
	ctx, stop := context.WithCancel(context.Background())
	m := &Manager{
		gen:       gen,
		writer:    writer,
		settings:  settings,
		tabs:      tabs,
		timeout:   DefaultTimeout,
		ctx:       ctx,
		stop:      stop,
		approvals: make(map[string]*approval),
		cancelled: make(map[string]struct{}),
		subs:      make(map[int]chan Event),
	}
	for _, opt := range opts {
		opt(m)
	}
	if m.tel == nil {
		m.tel = telemetry.NewRecorder(nil)
	}
	return m
}

// Prepare runs the live preview and starts patch generation in the
// background. The result is delivered through Subscribe and Active.
func (m *Manager) Prepare(ctx context.Context, req PrepareRequest) error {
	if req.ID == "" {
		return errors.New("approval id required")
	}
	if req.Element == nil {
		return errors.New("element required")
	}
	var exec types.PageExecutor
	if m.tabs != nil {
		exec, _ = m.tabs.Lookup(req.TabID)
	}
	if exec == nil {
		return fmt.Errorf("%w: %q", ErrUnknownTab, req.TabID)
	}

	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return ErrClosed
	}
	_, live := m.approvals[req.ID]
	_, draining := m.cancelled[req.ID]
	if live || draining {
		m.mu.Unlock()
		return fmt.Errorf("%w: %s", ErrDuplicateID, req.ID)
	}
	var superseded *approval
	if prev, ok := m.approvals[m.active]; ok {
		if cancellable(prev) {
			superseded = prev
			m.cancelLocked(prev)
		} else {
			logging.ApprovalDebug("approval %s stays in flight (approved=%v writing=%v)", prev.ID, prev.UserApproved, prev.Writing)
		}
	}

	actx, cancel := context.WithCancel(m.ctx)
	a := &approval{
		Pending: Pending{
			ID:          req.ID,
			TabID:       req.TabID,
			Element:     req.Element,
			CSS:         req.CSS,
			Text:        req.Text,
			Src:         req.Src,
			Description: req.Description,
			UndoCode:    req.UndoCode,
			ApplyCode:   req.ApplyCode,
			UserRequest: req.UserRequest,
			ProjectPath: req.ProjectPath,
			Status:      types.PatchPreparing,
		},
		exec:   exec,
		ctx:    actx,
		cancel: cancel,
		token:  uuid.NewString(),
	}
	if m.settings != nil {
		a.providers = m.settings.ProviderConfig()
	}
	m.approvals[a.ID] = a
	m.active = a.ID
	if req.TabID != "" {
		m.activeTab = req.TabID
	}
	snap := a.Pending
	token := a.token
	m.wg.Add(1)
	m.mu.Unlock()

	if superseded != nil {
		m.finishCancelled(ctx, superseded, "superseded")
	}

	if a.ApplyCode != "" {
		if _, err := exec.ExecuteJavaScript(ctx, a.ApplyCode); err != nil {
			logging.ApprovalWarn("live preview for %s failed: %v", a.ID, err)
		}
	}
	m.tel.Mark(a.ID, telemetry.PreviewApplied)
	m.publish(Event{Type: EventCreated, Approval: snap})
	logging.Approval("approval %s created for %s", a.ID, req.Element.Identity())

	m.tel.Mark(a.ID, telemetry.PatchGenerationStarted)
	go m.run(a, token)
	return nil
}

// run generates the patch for one attempt. The result is dropped when the
// approval was cancelled or a newer attempt replaced the token.
func (m *Manager) run(a *approval, token string) {
	defer m.wg.Done()
	defer func() {
		m.mu.Lock()
		a.done = true
		delete(m.cancelled, a.ID)
		m.mu.Unlock()
	}()

	req := patchgen.Request{
		Element:     a.Element,
		CSS:         a.CSS,
		Providers:   a.providers,
		ProjectPath: a.ProjectPath,
		UserRequest: a.UserRequest,
		Text:        a.Text,
		Src:         a.Src,
	}

	genCtx, cancel := context.WithTimeout(a.ctx, m.timeout)
	defer cancel()

	type result struct {
		patch *types.SourcePatch
		err   error
	}
	done := make(chan result, 1)
	m.wg.Add(1)
	go func() {
		defer m.wg.Done()
		p, err := m.gen.Generate(genCtx, req)
		done <- result{p, err}
	}()

	select {
	case r := <-done:
		m.complete(a.ID, token, r.patch, r.err)
	case <-genCtx.Done():
		if errors.Is(genCtx.Err(), context.DeadlineExceeded) {
			m.timedOut(a.ID, token)
		}
	}
}

// currentLocked returns the live approval for an async callback, or nil
// when the callback is stale.
func (m *Manager) currentLocked(id, token string) *approval {
	if _, gone := m.cancelled[id]; gone {
		return nil
	}
	a, ok := m.approvals[id]
	if !ok || a.token != token {
		return nil
	}
	return a
}

func (m *Manager) complete(id, token string, patch *types.SourcePatch, err error) {
	m.mu.Lock()
	a := m.currentLocked(id, token)
	if a == nil {
		m.mu.Unlock()
		logging.ApprovalDebug("discarding late patch result for %s", id)
		return
	}
	if a.Status != types.PatchPreparing {
		m.mu.Unlock()
		return
	}

	if err != nil || patch == nil {
		if err == nil {
			err = patchgen.ErrExhausted
		}
		m.mu.Unlock()
		m.fail(a, token, err.Error(), failureMessage(err))
		return
	}

	a.Status = types.PatchReady
	a.Patch = patch
	m.tel.Mark(id, telemetry.PatchReady)
	if !a.UserApproved && patch.GeneratedBy == types.GeneratedByFastPath &&
		m.settings != nil && m.settings.FastPathAutoApply() {
		a.UserApproved = true
		m.tel.Mark(id, telemetry.AutoAccept)
		logging.Approval("auto-applying fast-path patch for %s", id)
	}
	write := a.UserApproved
	if write {
		a.Writing = true
	}
	snap := a.Pending
	m.mu.Unlock()

	logging.Approval("patch ready for %s (%s, %dms)", id, patch.GeneratedBy, patch.DurationMs)
	m.publish(Event{Type: EventUpdated, Approval: snap})
	if write {
		_ = m.write(a)
	}
}

func (m *Manager) timedOut(id, token string) {
	m.mu.Lock()
	a := m.currentLocked(id, token)
	if a == nil || a.Status != types.PatchPreparing {
		m.mu.Unlock()
		return
	}
	m.mu.Unlock()
	logging.ApprovalWarn("patch generation for %s timed out after %v", id, m.timeout)
	m.fail(a, token, "Patch generation timed out", "Patch generation timed out.")
}

// fail moves the approval to error. An approval the user already accepted
// has nothing left to wait for and is closed with its preview reverted.
func (m *Manager) fail(a *approval, token, reason, message string) {
	m.mu.Lock()
	if m.currentLocked(a.ID, token) == nil || a.Status != types.PatchPreparing {
		m.mu.Unlock()
		return
	}
	a.Status = types.PatchError
	a.PatchError = reason
	m.tel.Mark(a.ID, telemetry.PatchFailed)
	closeNow := a.UserApproved
	if closeNow {
		m.removeLocked(a)
	}
	snap := a.Pending
	m.mu.Unlock()

	logging.ApprovalWarn("patch generation failed for %s: %s", a.ID, reason)
	if message != "" {
		m.message(message)
	}
	if closeNow {
		m.revert(m.ctx, a)
		m.tel.Finalize(a.ID, types.OutcomeCancelled)
		m.publish(Event{Type: EventClosed, Approval: snap, Outcome: types.OutcomeCancelled})
		return
	}
	m.publish(Event{Type: EventUpdated, Approval: snap})
}

// failureMessage turns a generation error into a user-visible message.
// Missing or refused source locations stay silent: the edit simply has no
// source patch.
func failureMessage(err error) string {
	switch {
	case errors.Is(err, patchgen.ErrNoSourceLocation),
		errors.Is(err, patchgen.ErrUnresolvable),
		errors.Is(err, resolver.ErrSelfPatch):
		return ""
	case errors.Is(err, patchgen.ErrExhausted):
		return "Couldn't generate a source patch for this edit. The preview stays applied until you reject it."
	default:
		return fmt.Sprintf("Couldn't generate a source patch: %v", err)
	}
}

// Accept approves an edit. A preparing approval is applied once its patch
// is ready; a ready approval is written now.
func (m *Manager) Accept(ctx context.Context, id string) error {
	m.mu.Lock()
	a, ok := m.approvals[id]
	if !ok {
		m.mu.Unlock()
		return fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	m.tel.Mark(id, telemetry.UserAccept)
	if a.Writing {
		m.mu.Unlock()
		return nil
	}

	switch {
	case a.Status == types.PatchPreparing:
		a.UserApproved = true
		snap := a.Pending
		m.mu.Unlock()
		logging.ApprovalDebug("approval %s accepted while preparing", id)
		m.publish(Event{Type: EventUpdated, Approval: snap})
		return nil

	case a.Status == types.PatchError || a.Patch == nil:
		reason := a.PatchError
		m.removeLocked(a)
		snap := a.Pending
		m.mu.Unlock()
		if reason == "" {
			reason = "no patch was generated"
		}
		m.revert(ctx, a)
		m.message(fmt.Sprintf("No source patch is available for this edit: %s", reason))
		m.tel.Finalize(id, types.OutcomeCancelled)
		m.publish(Event{Type: EventClosed, Approval: snap, Outcome: types.OutcomeCancelled})
		return fmt.Errorf("%w: %s", ErrNoPatch, reason)
	}

	a.UserApproved = true
	a.Writing = true
	m.mu.Unlock()
	return m.write(a)
}

// write applies a ready patch. It runs without the approval's context:
// a write that has started is never cancelled.
func (m *Manager) write(a *approval) error {
	ctx := context.WithoutCancel(a.ctx)
	m.tel.Mark(a.ID, telemetry.SourceWriteStarted)

	description := a.Description
	if description == "" {
		description = a.UserRequest
	}
	_, err := m.writer.ApplyPatch(ctx, a.Patch, description, history.WithUndoCode(a.UndoCode))

	m.mu.Lock()
	a.Writing = false
	m.removeLocked(a)
	snap := a.Pending
	m.mu.Unlock()

	if err != nil {
		m.tel.Mark(a.ID, telemetry.SourceWriteFailed)
		logging.ApprovalWarn("write for %s failed: %v", a.ID, err)
		m.revert(ctx, a)
		m.message(fmt.Sprintf("Failed to write %s: %v", filepath.Base(a.Patch.FilePath), err))
		m.tel.Finalize(a.ID, types.OutcomeCancelled)
		m.publish(Event{Type: EventClosed, Approval: snap, Outcome: types.OutcomeCancelled})
		return err
	}
	m.tel.Mark(a.ID, telemetry.SourceWriteSucceeded)
	logging.Approval("approval %s applied to %s", a.ID, a.Patch.FilePath)
	m.tel.Finalize(a.ID, types.OutcomeAccepted)
	m.publish(Event{Type: EventClosed, Approval: snap, Outcome: types.OutcomeAccepted})
	return nil
}

// Reject reverts the live preview and drops the approval.
func (m *Manager) Reject(ctx context.Context, id string) error {
	m.mu.Lock()
	a, ok := m.approvals[id]
	if !ok {
		m.mu.Unlock()
		return fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	if a.Writing {
		m.mu.Unlock()
		return ErrNotCancellable
	}
	m.tel.Mark(id, telemetry.UserReject)
	m.removeLocked(a)
	snap := a.Pending
	m.mu.Unlock()

	m.revert(ctx, a)
	m.tel.Finalize(id, types.OutcomeRejected)
	m.publish(Event{Type: EventClosed, Approval: snap, Outcome: types.OutcomeRejected})
	logging.Approval("approval %s rejected", id)
	return nil
}

// Cancel drops an approval that is neither approved nor writing and
// reverts its live preview.
func (m *Manager) Cancel(ctx context.Context, id string) error {
	m.mu.Lock()
	a, ok := m.approvals[id]
	if !ok {
		m.mu.Unlock()
		return fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	if !cancellable(a) {
		m.mu.Unlock()
		return ErrNotCancellable
	}
	m.cancelLocked(a)
	m.mu.Unlock()

	m.finishCancelled(ctx, a, "cancelled")
	return nil
}

// SetActiveTab records the focused tab. Switching away from the tab of an
// unapproved active edit cancels it.
func (m *Manager) SetActiveTab(ctx context.Context, tabID string) {
	m.mu.Lock()
	if m.activeTab == tabID {
		m.mu.Unlock()
		return
	}
	m.activeTab = tabID
	a := m.approvals[m.active]
	if a == nil || a.TabID == tabID || !cancellable(a) {
		m.mu.Unlock()
		return
	}
	m.cancelLocked(a)
	m.mu.Unlock()

	m.finishCancelled(ctx, a, "tab changed")
}

// SetSelection records the selected element. Selecting anything other than
// the active edit's element cancels it; nil clears the selection.
func (m *Manager) SetSelection(ctx context.Context, el *types.SelectedElement) {
	m.mu.Lock()
	a := m.approvals[m.active]
	if a == nil || !cancellable(a) || (el != nil && el.Identity() == a.Element.Identity()) {
		m.mu.Unlock()
		return
	}
	m.cancelLocked(a)
	m.mu.Unlock()

	m.finishCancelled(ctx, a, "selection changed")
}

// TabClosed cancels approvals on a tab that no longer exists. There is no
// page left to revert.
func (m *Manager) TabClosed(tabID string) {
	m.mu.Lock()
	var dropped []*approval
	for _, a := range m.approvals {
		if a.TabID == tabID && cancellable(a) {
			m.cancelLocked(a)
			a.exec = nil
			dropped = append(dropped, a)
		}
	}
	if m.activeTab == tabID {
		m.activeTab = ""
	}
	m.mu.Unlock()

	for _, a := range dropped {
		m.finishCancelled(m.ctx, a, "tab closed")
	}
}

// InvalidateFile moves ready approvals whose patch targets path to error.
// Called when the file changes on disk behind the approval's back.
func (m *Manager) InvalidateFile(path string) {
	m.mu.Lock()
	var changed []Pending
	for _, a := range m.approvals {
		if a.Writing || a.Status != types.PatchReady || a.Patch == nil || a.Patch.FilePath != path {
			continue
		}
		a.Status = types.PatchError
		a.Patch = nil
		a.PatchError = "source changed on disk"
		changed = append(changed, a.Pending)
	}
	m.mu.Unlock()

	for _, snap := range changed {
		logging.ApprovalWarn("approval %s invalidated: %s changed on disk", snap.ID, path)
		m.publish(Event{Type: EventUpdated, Approval: snap})
	}
}

// Active returns the active approval.
func (m *Manager) Active() (Pending, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	a, ok := m.approvals[m.active]
	if !ok {
		return Pending{}, false
	}
	return a.Pending, true
}

// Get returns any live approval by id.
func (m *Manager) Get(id string) (Pending, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	a, ok := m.approvals[id]
	if !ok {
		return Pending{}, false
	}
	return a.Pending, true
}

// Subscribe delivers approval events until the returned func is called.
// Slow subscribers miss events rather than block the manager.
func (m *Manager) Subscribe() (<-chan Event, func()) {
	ch := make(chan Event, subscriberBuffer)
	m.subMu.Lock()
	id := m.nextID
	m.nextID++
	m.subs[id] = ch
	m.subMu.Unlock()

	var once sync.Once
	return ch, func() {
		once.Do(func() {
			m.subMu.Lock()
			delete(m.subs, id)
			m.subMu.Unlock()
			close(ch)
		})
	}
}

// Close cancels in-flight generation and waits for background work.
func (m *Manager) Close() {
	m.mu.Lock()
	m.closed = true
	m.mu.Unlock()
	m.stop()
	m.wg.Wait()
}

func cancellable(a *approval) bool {
	return !a.UserApproved && !a.Writing
}

// cancelLocked marks a as cancelled so late results are discarded.
func (m *Manager) cancelLocked(a *approval) {
	if !a.done {
		m.cancelled[a.ID] = struct{}{}
	}
	m.tel.Mark(a.ID, telemetry.AutoCancel)
	m.removeLocked(a)
}

func (m *Manager) removeLocked(a *approval) {
	delete(m.approvals, a.ID)
	if m.active == a.ID {
		m.active = ""
	}
	a.cancel()
}

// finishCancelled reverts the preview and reports the outcome. It runs
// before the triggering call returns.
func (m *Manager) finishCancelled(ctx context.Context, a *approval, reason string) {
	m.revert(ctx, a)
	m.tel.Finalize(a.ID, types.OutcomeCancelled)
	m.publish(Event{Type: EventClosed, Approval: a.Pending, Outcome: types.OutcomeCancelled})
	logging.Approval("approval %s cancelled: %s", a.ID, reason)
}

func (m *Manager) revert(ctx context.Context, a *approval) {
	if a.exec == nil || a.UndoCode == "" {
		return
	}
	if _, err := a.exec.ExecuteJavaScript(ctx, a.UndoCode); err != nil {
		logging.ApprovalWarn("reverting preview for %s failed: %v", a.ID, err)
	}
}

func (m *Manager) message(text string) {
	if m.sink == nil {
		return
	}
	m.sink.SystemMessage(m.ctx, text)
}

func (m *Manager) publish(ev Event) {
	m.subMu.Lock()
	defer m.subMu.Unlock()
	for _, ch := range m.subs {
		select {
		case ch <- ev:
		default:
		}
	}
}
