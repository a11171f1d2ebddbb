package client

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/eltffn/dane-table-app/internal/app"
	"github.com/eltffn/dane-table-app/internal/config"
	"github.com/eltffn/dane-table-app/internal/store"
)

const testSecret = "s3cret"

func newTestBackend(t *testing.T) (*httptest.Server, *store.Store) {
	t.Helper()
	dir := t.TempDir()
	defaultFile := filepath.Join(dir, "default.json")
	require.NoError(t, os.WriteFile(defaultFile, []byte(`{"Name":["X"]}`), 0o644))

	cfg := config.Config{
		EditToken:   testSecret,
		DataDir:     filepath.Join(dir, "data"),
		DefaultFile: defaultFile,
		CORSOrigin:  "*",
	}
	st := store.New(cfg.DataDir, cfg.DefaultFile, zap.NewNop())
	require.NoError(t, st.EnsureFiles())

	service := app.New(cfg, st, nil, zap.NewNop())
	server := httptest.NewServer(app.NewHTTPServer(service, nil, "*", zap.NewNop()).Handler())
	t.Cleanup(server.Close)
	return server, st
}

func TestLoadPopulatesStateAndYear(t *testing.T) {
	server, st := newTestBackend(t)
	require.NoError(t, st.WriteTable(store.Document{"Name": []any{"A", "B"}}))
	require.NoError(t, st.WriteYear("Year: 1500"))

	editor := NewEditor(New(server.URL, zap.NewNop()), DefaultDebounce, zap.NewNop())
	editor.Load(context.Background())

	assert.Equal(t, 2, editor.State().RowCount())
	assert.Equal(t, "Year: 1500", editor.Year())
}

func TestLoadFallsBackToEmptyOnBrokenBackend(t *testing.T) {
	broken := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "boom", http.StatusInternalServerError)
	}))
	defer broken.Close()

	editor := NewEditor(New(broken.URL, zap.NewNop()), DefaultDebounce, zap.NewNop())
	editor.Load(context.Background())

	assert.Equal(t, 0, editor.State().RowCount())
	assert.Equal(t, store.DefaultYear, editor.Year())
}

func TestLoginGatesEditing(t *testing.T) {
	server, _ := newTestBackend(t)
	editor := NewEditor(New(server.URL, zap.NewNop()), DefaultDebounce, zap.NewNop())
	editor.Load(context.Background())

	// Read-only before login.
	assert.ErrorIs(t, editor.EditCell("Name", 0, "edited"), ErrNotAuthorized)
	assert.ErrorIs(t, editor.DeleteRow(context.Background(), 0), ErrNotAuthorized)

	ok, err := editor.Login(context.Background(), "wrong")
	require.NoError(t, err)
	assert.False(t, ok)
	assert.False(t, editor.Authorized())

	ok, err = editor.Login(context.Background(), testSecret)
	require.NoError(t, err)
	assert.True(t, ok)
	assert.True(t, editor.Authorized())
}

func TestEditCellAutosavesThroughDebounce(t *testing.T) {
	server, st := newTestBackend(t)
	editor := NewEditor(New(server.URL, zap.NewNop()), 20*time.Millisecond, zap.NewNop())
	editor.Load(context.Background())

	ok, err := editor.Login(context.Background(), testSecret)
	require.NoError(t, err)
	require.True(t, ok)

	require.NoError(t, editor.EditCell("Name", 0, "France"))
	require.NoError(t, editor.EditCell("Name", 0, "Castile"))

	require.Eventually(t, func() bool {
		doc, err := st.ReadTable()
		if err != nil {
			return false
		}
		names, _ := doc["Name"].([]any)
		return len(names) == 1 && names[0] == "Castile"
	}, time.Second, 10*time.Millisecond, "debounced autosave should persist the last edit")
}

func TestDeleteRowSavesImmediately(t *testing.T) {
	server, st := newTestBackend(t)
	require.NoError(t, st.WriteTable(store.Document{"Name": []any{"A", "B", "C"}}))

	editor := NewEditor(New(server.URL, zap.NewNop()), time.Hour, zap.NewNop())
	editor.Load(context.Background())
	ok, err := editor.Login(context.Background(), testSecret)
	require.NoError(t, err)
	require.True(t, ok)

	require.NoError(t, editor.DeleteRow(context.Background(), 1))

	doc, err := st.ReadTable()
	require.NoError(t, err)
	assert.Equal(t, []any{"A", "C"}, doc["Name"])
}

func TestEditsDuringAutosaveDoNotRace(t *testing.T) {
	server, st := newTestBackend(t)
	editor := NewEditor(New(server.URL, zap.NewNop()), time.Millisecond, zap.NewNop())
	editor.Load(context.Background())
	ok, err := editor.Login(context.Background(), testSecret)
	require.NoError(t, err)
	require.True(t, ok)

	// Keep editing while autosaves fire on the timer goroutine; the save
	// marshals a snapshot, never the live state.
	for i := 0; i < 200; i++ {
		require.NoError(t, editor.EditCell("Name", 0, fmt.Sprintf("edit-%d", i)))
		if i%10 == 0 {
			time.Sleep(2 * time.Millisecond)
		}
	}
	// Re-flush while polling: a save that was already in flight when the
	// loop ended may land after the first flush.
	require.Eventually(t, func() bool {
		editor.Flush()
		doc, err := st.ReadTable()
		if err != nil {
			return false
		}
		names, _ := doc["Name"].([]any)
		return len(names) == 1 && names[0] == "edit-199"
	}, 2*time.Second, 50*time.Millisecond, "final edit must be the one persisted")
}

func TestLogoutDropsSessionAndPendingSave(t *testing.T) {
	server, st := newTestBackend(t)
	editor := NewEditor(New(server.URL, zap.NewNop()), 30*time.Millisecond, zap.NewNop())
	editor.Load(context.Background())
	ok, err := editor.Login(context.Background(), testSecret)
	require.NoError(t, err)
	require.True(t, ok)

	require.NoError(t, editor.EditCell("Name", 0, "pending"))
	editor.Logout()

	time.Sleep(100 * time.Millisecond)
	doc, err := st.ReadTable()
	require.NoError(t, err)
	assert.Equal(t, store.Document{"Name": []any{"X"}}, doc,
		"pending autosave must not fire after logout")

	assert.ErrorIs(t, editor.EditCell("Name", 0, "nope"), ErrNotAuthorized)
}

func TestRestoreReloadsDefaultDocument(t *testing.T) {
	server, st := newTestBackend(t)
	require.NoError(t, st.WriteTable(store.Document{"Name": []any{"edited"}}))

	editor := NewEditor(New(server.URL, zap.NewNop()), DefaultDebounce, zap.NewNop())
	editor.Load(context.Background())
	ok, err := editor.Login(context.Background(), testSecret)
	require.NoError(t, err)
	require.True(t, ok)

	require.NoError(t, editor.Restore(context.Background()))
	assert.Equal(t, "X", editor.State().Cell("Name", 0))
}

func TestSearchAndSortDriveTheVisibleRows(t *testing.T) {
	server, st := newTestBackend(t)
	require.NoError(t, st.WriteTable(store.Document{
		"Name": []any{"France", "Castile", "Aragon"},
		"TAG":  []any{"FRA", "CAS", "ARA"},
	}))

	editor := NewEditor(New(server.URL, zap.NewNop()), DefaultDebounce, zap.NewNop())
	editor.Load(context.Background())

	editor.Search("a")
	editor.SortBy("Name", false)
	// All three names contain an "a"; sorted: Aragon, Castile, France.
	assert.Equal(t, []int{2, 1, 0}, editor.State().VisibleRows())

	editor.ClearView()
	assert.Equal(t, []int{0, 1, 2}, editor.State().VisibleRows())
}
