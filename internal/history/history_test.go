package history

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"livepatch/internal/files"
	"livepatch/internal/types"
)

const appPath = "/Users/dev/shop/src/App.tsx"

const original = "export function App() {\n  return <button className=\"btn\">Buy</button>\n}\n"

func patched(s string) *types.SourcePatch {
	return &types.SourcePatch{
		FilePath:        appPath,
		OriginalContent: original,
		PatchedContent:  s,
		LineNumber:      2,
		GeneratedBy:     types.GeneratedByFastPath,
	}
}

const buyNow = "export function App() {\n  return <button className=\"btn\">Buy now</button>\n}\n"

func newApplicator(t *testing.T, store Store) (*Applicator, *files.Memory) {
	t.Helper()
	mem := files.NewMemory("/Users/dev/shop", map[string]string{appPath: original})
	return NewApplicator(mem, store, NewEditedFiles("/Users/dev/shop")), mem
}

func stores(t *testing.T) map[string]func(t *testing.T) Store {
	return map[string]func(t *testing.T) Store{
		"memory": func(t *testing.T) Store { return NewMemoryStore() },
		"sqlite": func(t *testing.T) Store {
			s, err := NewSQLiteStore(filepath.Join(t.TempDir(), "history", "history.db"))
			require.NoError(t, err)
			t.Cleanup(func() { s.Close() })
			return s
		},
	}
}

func TestApplyUndoRedo(t *testing.T) {
	for name, mk := range stores(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			a, mem := newApplicator(t, mk(t))

			res, err := a.ApplyPatch(ctx, patched(buyNow), "rename button")
			require.NoError(t, err)
			assert.Equal(t, ApplyResult{Success: true, FilePath: appPath, CanUndo: true}, res)
			got, _ := mem.Content(appPath)
			assert.Equal(t, buyNow, got)

			e, err := a.Undo(ctx, appPath)
			require.NoError(t, err)
			assert.Equal(t, "rename button", e.Description)
			got, _ = mem.Content(appPath)
			assert.Equal(t, original, got)

			_, err = a.Undo(ctx, appPath)
			assert.ErrorIs(t, err, ErrNothingToUndo)

			_, err = a.Redo(ctx, appPath)
			require.NoError(t, err)
			got, _ = mem.Content(appPath)
			assert.Equal(t, buyNow, got)

			_, err = a.Redo(ctx, appPath)
			assert.ErrorIs(t, err, ErrNothingToRedo)
		})
	}
}

func TestPushDropsRedoEntries(t *testing.T) {
	for name, mk := range stores(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			s := mk(t)
			for i, after := range []string{"a", "b", "c"} {
				require.NoError(t, s.Push(ctx, Entry{ID: after, Path: "f", Before: string(rune('0' + i)), After: after, CreatedAt: time.Unix(int64(i), 0)}))
			}
			require.NoError(t, s.SetCursor(ctx, "f", 1))
			require.NoError(t, s.Push(ctx, Entry{ID: "d", Path: "f", Before: "a", After: "d", CreatedAt: time.Unix(9, 0)}))

			entries, cursor, err := s.Stack(ctx, "f")
			require.NoError(t, err)
			assert.Equal(t, 2, cursor)
			require.Len(t, entries, 2)
			assert.Equal(t, "a", entries[0].ID)
			assert.Equal(t, "d", entries[1].ID)

			assert.Error(t, s.SetCursor(ctx, "f", 5))

			paths, err := s.Paths(ctx)
			require.NoError(t, err)
			assert.Equal(t, []string{"f"}, paths)
		})
	}
}

func TestApplyRefusesNoOp(t *testing.T) {
	a, mem := newApplicator(t, nil)
	_, err := a.ApplyPatch(context.Background(), patched(original), "nothing")
	assert.ErrorIs(t, err, ErrNoChange)
	assert.Zero(t, mem.Writes())
}

func TestApplyRefusesStaleOriginal(t *testing.T) {
	a, mem := newApplicator(t, nil)
	mem.Set(appPath, original+"// edited elsewhere\n")

	_, err := a.ApplyPatch(context.Background(), patched(buyNow), "rename button")
	assert.ErrorIs(t, err, ErrSourceChanged)
	assert.Zero(t, mem.Writes())
	assert.Empty(t, a.Edited().List())
}

func TestApplyWriteFailure(t *testing.T) {
	a, mem := newApplicator(t, nil)
	boom := errors.New("disk full")
	mem.FailWrites(boom)

	res, err := a.ApplyPatch(context.Background(), patched(buyNow), "rename button")
	assert.ErrorIs(t, err, boom)
	assert.False(t, res.Success)
	_, cursor, _ := a.store.Stack(context.Background(), appPath)
	assert.Zero(t, cursor)
}

type failingStore struct{ *MemoryStore }

func (failingStore) Push(context.Context, Entry) error { return errors.New("db locked") }

func TestHistoryFailureOnlyClearsCanUndo(t *testing.T) {
	a, mem := newApplicator(t, failingStore{NewMemoryStore()})
	res, err := a.ApplyPatch(context.Background(), patched(buyNow), "rename button")
	require.NoError(t, err)
	assert.True(t, res.Success)
	assert.False(t, res.CanUndo)
	got, _ := mem.Content(appPath)
	assert.Equal(t, buyNow, got)
}

func TestUndoRefusesExternalEdit(t *testing.T) {
	ctx := context.Background()
	a, mem := newApplicator(t, nil)
	_, err := a.ApplyPatch(ctx, patched(buyNow), "rename button")
	require.NoError(t, err)

	mem.Set(appPath, "rewritten")
	_, err = a.Undo(ctx, appPath)
	assert.ErrorIs(t, err, ErrSourceChanged)
	got, _ := mem.Content(appPath)
	assert.Equal(t, "rewritten", got)
}

func TestEditedFilesAccumulate(t *testing.T) {
	ctx := context.Background()
	a, _ := newApplicator(t, nil)

	_, err := a.ApplyPatch(ctx, patched(buyNow), "rename", WithUndoCode("revert()"))
	require.NoError(t, err)
	second := &types.SourcePatch{
		FilePath:        appPath,
		OriginalContent: buyNow,
		PatchedContent:  buyNow + "export const x = 1\n",
		GeneratedBy:     types.GeneratedByGemini,
	}
	_, err = a.ApplyPatch(ctx, second, "add export")
	require.NoError(t, err)

	f, ok := a.Edited().Get(appPath)
	require.True(t, ok)
	assert.Equal(t, "src/App.tsx", f.DisplayName)
	assert.Equal(t, 2, f.Additions)
	assert.Equal(t, 1, f.Deletions)
	assert.Equal(t, "revert()", f.UndoCode)

	_, err = a.Undo(ctx, appPath)
	require.NoError(t, err)
	_, ok = a.Edited().Get(appPath)
	assert.False(t, ok)
}

func TestEditedFilesListOrder(t *testing.T) {
	e := NewEditedFiles("/p")
	tick := time.Unix(0, 0)
	e.now = func() time.Time {
		tick = tick.Add(time.Second)
		return tick
	}
	e.Record("/p/a.tsx", "", "x\n", "")
	e.Record("/p/b.tsx", "", "y\n", "")
	e.Record("/elsewhere/c.tsx", "", "z\n", "")

	list := e.List()
	require.Len(t, list, 3)
	assert.Equal(t, "c.tsx", list[0].DisplayName)
	assert.Equal(t, "b.tsx", list[1].DisplayName)
	assert.Equal(t, "a.tsx", list[2].DisplayName)

	assert.True(t, e.Dismiss("/p/b.tsx"))
	assert.False(t, e.Dismiss("/p/b.tsx"))
	e.Clear()
	assert.Empty(t, e.List())
}

func TestCheckpoints(t *testing.T) {
	for name, mk := range stores(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			a, mem := newApplicator(t, mk(t))

			_, err := a.ApplyPatch(ctx, patched(buyNow), "rename")
			require.NoError(t, err)
			cp, err := a.CreateCheckpoint(ctx, "before-gemini")
			require.NoError(t, err)
			assert.Equal(t, map[string]string{appPath: buyNow}, cp.Files)

			mem.Set(appPath, "broken")
			restored, err := a.RestoreCheckpoint(ctx, "before-gemini")
			require.NoError(t, err)
			assert.Equal(t, []string{appPath}, restored)
			got, _ := mem.Content(appPath)
			assert.Equal(t, buyNow, got)

			// The restore itself is undoable.
			_, err = a.Undo(ctx, appPath)
			require.NoError(t, err)
			got, _ = mem.Content(appPath)
			assert.Equal(t, "broken", got)

			_, err = a.RestoreCheckpoint(ctx, "missing")
			assert.ErrorIs(t, err, ErrNoCheckpoint)
		})
	}
}

func TestSQLiteStorePersists(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "history.db")

	s, err := NewSQLiteStore(path)
	require.NoError(t, err)
	require.NoError(t, s.Push(ctx, Entry{ID: "1", Path: appPath, Before: "a", After: "b", GeneratedBy: types.GeneratedByFastApply, CreatedAt: time.Unix(5, 0)}))
	require.NoError(t, s.Close())

	s, err = NewSQLiteStore(path)
	require.NoError(t, err)
	defer s.Close()
	entries, cursor, err := s.Stack(ctx, appPath)
	require.NoError(t, err)
	assert.Equal(t, 1, cursor)
	require.Len(t, entries, 1)
	assert.Equal(t, types.GeneratedByFastApply, entries[0].GeneratedBy)
	assert.True(t, entries[0].CreatedAt.Equal(time.Unix(5, 0)))
}
