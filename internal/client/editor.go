package client

import (
	"context"
	"errors"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/eltffn/dane-table-app/internal/table"
)

// ErrNotAuthorized rejects mutations attempted without an admin session.
var ErrNotAuthorized = errors.New("login to admin panel to edit")

// Editor drives the table the way the page does: it owns the state object,
// gates mutations on an admin session, and schedules debounced autosaves
// after edits. Render layers only ever read from it; there is no scraping
// of display state back into the model.
type Editor struct {
	mu    sync.Mutex
	api   *Client
	state *table.State
	year  string

	authorized bool
	saver      *Autosaver
	logger     *zap.Logger
}

func NewEditor(api *Client, debounce time.Duration, logger *zap.Logger) *Editor {
	e := &Editor{
		api:    api,
		state:  table.New(nil, nil),
		year:   "",
		logger: logger,
	}
	e.saver = NewAutosaver(debounce, e.saveNow)
	return e
}

// Load refreshes the table and year from the server. It never fails; a
// broken backend yields an empty table and the default year.
func (e *Editor) Load(ctx context.Context) {
	state := e.api.LoadTable(ctx)
	year := e.api.LoadYear(ctx)

	e.mu.Lock()
	e.state = state
	e.year = year
	e.mu.Unlock()
}

// Login verifies the candidate secret. On success the session becomes
// authorized and the secret is echoed on every later mutating call.
func (e *Editor) Login(ctx context.Context, secret string) (bool, error) {
	ok, err := e.api.Verify(ctx, secret)
	if err != nil {
		return false, err
	}
	if ok {
		e.mu.Lock()
		e.authorized = true
		e.mu.Unlock()
		e.api.SetToken(secret)
	}
	return ok, nil
}

// Logout drops the session and any pending autosave.
func (e *Editor) Logout() {
	e.saver.Stop()
	e.mu.Lock()
	e.authorized = false
	e.mu.Unlock()
	e.api.ClearToken()
}

func (e *Editor) Authorized() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.authorized
}

// EditCell mutates a cell and schedules an autosave. Without an admin
// session the cell is read-only and the edit is rejected.
func (e *Editor) EditCell(column string, row int, value string) error {
	e.mu.Lock()
	if !e.authorized {
		e.mu.Unlock()
		return ErrNotAuthorized
	}
	e.state.SetCell(column, row, value)
	e.mu.Unlock()

	e.saver.Trigger()
	return nil
}

// DeleteRow removes a row and saves immediately, skipping the debounce the
// way the page's delete action does.
func (e *Editor) DeleteRow(ctx context.Context, row int) error {
	e.mu.Lock()
	if !e.authorized {
		e.mu.Unlock()
		return ErrNotAuthorized
	}
	e.state.DeleteRow(row)
	snapshot := e.state.Clone()
	e.mu.Unlock()

	if err := e.api.SaveTable(ctx, snapshot); err != nil {
		return err
	}
	return nil
}

// SetYear saves the year display string.
func (e *Editor) SetYear(ctx context.Context, year string) error {
	e.mu.Lock()
	if !e.authorized {
		e.mu.Unlock()
		return ErrNotAuthorized
	}
	e.year = year
	e.mu.Unlock()
	return e.api.SaveYear(ctx, year)
}

// Restore overwrites the table with the bundled default document and
// reloads.
func (e *Editor) Restore(ctx context.Context) error {
	e.mu.Lock()
	authorized := e.authorized
	e.mu.Unlock()
	if !authorized {
		return ErrNotAuthorized
	}
	if err := e.api.Restore(ctx); err != nil {
		return err
	}
	e.Load(ctx)
	return nil
}

// Search filters the visible rows; SortBy orders them; ClearView restores
// the on-disk order.
func (e *Editor) Search(query string) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.state.Filter(query)
}

func (e *Editor) SortBy(column string, desc bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.state.Sort(column, desc)
}

func (e *Editor) ClearView() {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.state.ResetView()
}

// Replace swaps in a full table received from a live sync message.
func (e *Editor) Replace(state *table.State) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.state = state
}

// State returns the current state object. Callers treat it as read-only.
func (e *Editor) State() *table.State {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.state
}

func (e *Editor) Year() string {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.year
}

// Flush forces any pending autosave through immediately.
func (e *Editor) Flush() {
	e.saver.Flush()
}

// saveNow runs on the autosaver's timer goroutine. The state is deep-copied
// under the lock so edits landing mid-save cannot race the marshal.
func (e *Editor) saveNow() {
	e.mu.Lock()
	if !e.authorized {
		e.mu.Unlock()
		return
	}
	snapshot := e.state.Clone()
	e.mu.Unlock()

	if err := e.api.SaveTable(context.Background(), snapshot); err != nil {
		e.logger.Warn("autosave failed", zap.Error(err))
	}
}
