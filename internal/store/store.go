// Package store owns the on-disk table and year documents. All access goes
// through per-path locks so concurrent read-modify-write sequences on the
// same document cannot interleave, and every write is atomic
// (temp sibling + rename).
package store

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"go.uber.org/zap"
)

const (
	tableFile = "dane.json"
	yearFile  = "year.json"

	// DefaultYear is served whenever the year document is absent or unreadable.
	DefaultYear = "Year: 1444"

	// reservedYearKey never appears in the table document; the year lives in
	// its own file.
	reservedYearKey = "yearText"
)

// Document is the table document: column name to an array of cell values.
// Values stay as decoded JSON; shape coercion is the table package's job.
type Document map[string]any

// Store persists the table and year documents under a data directory.
type Store struct {
	dataDir     string
	defaultFile string
	logger      *zap.Logger

	lockMu sync.Mutex
	locks  map[string]*sync.Mutex

	subMu     sync.Mutex
	subs      map[int]chan json.RawMessage
	nextSubID int

	writeMu       sync.Mutex
	lastWriteTime time.Time
}

func New(dataDir, defaultFile string, logger *zap.Logger) *Store {
	return &Store{
		dataDir:     dataDir,
		defaultFile: defaultFile,
		logger:      logger,
		locks:       make(map[string]*sync.Mutex),
		subs:        make(map[int]chan json.RawMessage),
	}
}

func (s *Store) TablePath() string { return filepath.Join(s.dataDir, tableFile) }
func (s *Store) yearPath() string  { return filepath.Join(s.dataDir, yearFile) }

// EnsureFiles creates the data directory and seeds missing documents: the
// table from the default document (or empty) and the year with DefaultYear.
func (s *Store) EnsureFiles() error {
	if err := os.MkdirAll(s.dataDir, 0o755); err != nil {
		return fmt.Errorf("create data dir: %w", err)
	}

	tablePath := s.TablePath()
	lock := s.pathLock(tablePath)
	lock.Lock()
	if _, err := readJSONSafe(tablePath); err != nil {
		seed := []byte("{}")
		if raw, derr := os.ReadFile(s.defaultFile); derr == nil {
			if cleaned, serr := stripReservedRaw(raw); serr == nil {
				seed = cleaned
			}
		}
		if werr := s.writeBytesAtomic(tablePath, seed); werr != nil {
			lock.Unlock()
			return fmt.Errorf("seed table document: %w", werr)
		}
	}
	lock.Unlock()

	yearPath := s.yearPath()
	lock = s.pathLock(yearPath)
	lock.Lock()
	defer lock.Unlock()
	if _, err := readJSONSafe(yearPath); err != nil {
		if werr := s.writeJSONAtomic(yearPath, map[string]string{"year": DefaultYear}); werr != nil {
			return fmt.Errorf("seed year document: %w", werr)
		}
	}
	return nil
}

// ReadTable returns the current table document with the reserved year field
// stripped. Absent or corrupt files read as an empty document.
func (s *Store) ReadTable() (Document, error) {
	path := s.TablePath()
	lock := s.pathLock(path)
	lock.Lock()
	defer lock.Unlock()

	doc, err := readJSONSafe(path)
	if err != nil {
		return Document{}, nil
	}
	return stripReserved(doc), nil
}

// ReadTableRaw returns the table document with the reserved year field
// stripped and the column order intact. Missing or corrupt files read
// as "{}".
func (s *Store) ReadTableRaw() ([]byte, error) {
	path := s.TablePath()
	lock := s.pathLock(path)
	lock.Lock()
	defer lock.Unlock()
	return s.readTableRawLocked(), nil
}

func (s *Store) readTableRawLocked() []byte {
	raw, err := os.ReadFile(s.TablePath())
	if err != nil {
		return []byte("{}")
	}
	cleaned, err := stripReservedRaw(raw)
	if err != nil {
		return []byte("{}")
	}
	return cleaned
}

// WriteTableRaw persists the document bytes atomically, dropping the
// reserved year field but keeping the caller's column order on disk. It
// fails when the bytes are not a JSON object. Subscribers are notified
// while the path lock is still held, so event order always matches disk
// order.
func (s *Store) WriteTableRaw(raw []byte) error {
	cleaned, err := stripReservedRaw(raw)
	if err != nil {
		return fmt.Errorf("table document is not an object: %w", err)
	}

	path := s.TablePath()
	lock := s.pathLock(path)
	lock.Lock()
	defer lock.Unlock()
	if err := s.writeBytesAtomic(path, cleaned); err != nil {
		return fmt.Errorf("write table document: %w", err)
	}
	s.notify(cleaned)
	return nil
}

// WriteTable is the map-shaped write; column order follows the marshaled
// map. Order-sensitive callers use WriteTableRaw.
func (s *Store) WriteTable(doc Document) error {
	payload, err := json.Marshal(stripReserved(doc))
	if err != nil {
		return fmt.Errorf("marshal table document: %w", err)
	}
	return s.WriteTableRaw(payload)
}

// ReadYear returns the stored year string, falling back to DefaultYear when
// the document is absent, corrupt, or not year-shaped.
func (s *Store) ReadYear() (string, error) {
	path := s.yearPath()
	lock := s.pathLock(path)
	lock.Lock()
	defer lock.Unlock()

	doc, err := readJSONSafe(path)
	if err != nil {
		return DefaultYear, nil
	}
	if year := yearFromDocument(doc); year != "" {
		return year, nil
	}
	return DefaultYear, nil
}

func (s *Store) WriteYear(year string) error {
	path := s.yearPath()
	lock := s.pathLock(path)
	lock.Lock()
	defer lock.Unlock()

	if err := s.writeJSONAtomic(path, map[string]string{"year": year}); err != nil {
		return fmt.Errorf("write year document: %w", err)
	}
	return nil
}

// Restore copies the default document over the table document. It fails when
// the default document is missing or invalid.
func (s *Store) Restore() error {
	raw, err := os.ReadFile(s.defaultFile)
	if err != nil {
		return fmt.Errorf("default document not found or invalid: %w", err)
	}
	cleaned, err := stripReservedRaw(raw)
	if err != nil {
		return fmt.Errorf("default document not found or invalid: %w", err)
	}

	path := s.TablePath()
	lock := s.pathLock(path)
	lock.Lock()
	defer lock.Unlock()
	if err := s.writeBytesAtomic(path, cleaned); err != nil {
		return fmt.Errorf("restore table document: %w", err)
	}
	s.notify(cleaned)
	return nil
}

// Subscribe registers a change listener for the table document. Events carry
// the document bytes as written, emitted under the same lock as the write so
// they arrive in disk order; slow subscribers drop events rather than block
// writers. The returned func cancels the subscription.
func (s *Store) Subscribe() (<-chan json.RawMessage, func()) {
	s.subMu.Lock()
	defer s.subMu.Unlock()

	id := s.nextSubID
	s.nextSubID++
	ch := make(chan json.RawMessage, 8)
	s.subs[id] = ch

	cancel := func() {
		s.subMu.Lock()
		defer s.subMu.Unlock()
		if existing, ok := s.subs[id]; ok {
			delete(s.subs, id)
			close(existing)
		}
	}
	return ch, cancel
}

// EmitCurrent re-reads the table document and notifies subscribers. The file
// watcher calls this when an external writer changed the file.
func (s *Store) EmitCurrent() error {
	path := s.TablePath()
	lock := s.pathLock(path)
	lock.Lock()
	defer lock.Unlock()
	s.notify(s.readTableRawLocked())
	return nil
}

// LastWriteTime reports the modification time of the store's own most recent
// table write, so the external watcher can tell our renames from foreign edits.
func (s *Store) LastWriteTime() time.Time {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()
	return s.lastWriteTime
}

func (s *Store) notify(raw json.RawMessage) {
	s.subMu.Lock()
	defer s.subMu.Unlock()
	for _, ch := range s.subs {
		select {
		case ch <- raw:
		default:
			if s.logger != nil {
				s.logger.Warn("dropping table change event for slow subscriber")
			}
		}
	}
}

// pathLock returns the mutex serializing access to path, creating it on first
// use. Lock granularity is the document path, matching the original per-file
// promise queue.
func (s *Store) pathLock(path string) *sync.Mutex {
	s.lockMu.Lock()
	defer s.lockMu.Unlock()
	lock, ok := s.locks[path]
	if !ok {
		lock = &sync.Mutex{}
		s.locks[path] = lock
	}
	return lock
}

func (s *Store) writeJSONAtomic(path string, v any) error {
	payload, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal document: %w", err)
	}
	return s.writeBytesAtomic(path, payload)
}

func (s *Store) writeBytesAtomic(path string, payload []byte) error {
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, append(payload, '\n'), 0o644); err != nil {
		return fmt.Errorf("write temp file: %w", err)
	}
	if err := os.Rename(tmp, path); err != nil {
		return fmt.Errorf("rename temp file: %w", err)
	}
	if path == s.TablePath() {
		if info, serr := os.Stat(path); serr == nil {
			s.writeMu.Lock()
			s.lastWriteTime = info.ModTime()
			s.writeMu.Unlock()
		}
	}
	return nil
}

// readJSONSafe parses the file at path as a JSON object. It reports an error
// only to signal "treat as absent"; callers substitute their own default.
func readJSONSafe(path string) (Document, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var doc Document
	if err := json.Unmarshal(raw, &doc); err != nil {
		return nil, err
	}
	if doc == nil {
		return nil, errors.New("document is null")
	}
	return doc, nil
}

// field is one column of the document with its raw value, kept in the order
// the document declared it. encoding/json maps lose that order.
type field struct {
	name  string
	value json.RawMessage
}

func decodeFields(raw []byte) ([]field, error) {
	dec := json.NewDecoder(bytes.NewReader(raw))
	tok, err := dec.Token()
	if err != nil {
		return nil, err
	}
	if delim, ok := tok.(json.Delim); !ok || delim != '{' {
		return nil, errors.New("document is not an object")
	}
	var fields []field
	for dec.More() {
		keyTok, err := dec.Token()
		if err != nil {
			return nil, err
		}
		key, ok := keyTok.(string)
		if !ok {
			return nil, errors.New("unexpected key token")
		}
		var value json.RawMessage
		if err := dec.Decode(&value); err != nil {
			return nil, fmt.Errorf("decode field %q: %w", key, err)
		}
		fields = append(fields, field{name: key, value: value})
	}
	return fields, nil
}

func encodeFields(fields []field) ([]byte, error) {
	var buf bytes.Buffer
	buf.WriteByte('{')
	for i, f := range fields {
		if i > 0 {
			buf.WriteByte(',')
		}
		name, err := json.Marshal(f.name)
		if err != nil {
			return nil, err
		}
		buf.Write(name)
		buf.WriteByte(':')
		buf.Write(f.value)
	}
	buf.WriteByte('}')

	var out bytes.Buffer
	if err := json.Indent(&out, buf.Bytes(), "", "  "); err != nil {
		return nil, err
	}
	return out.Bytes(), nil
}

// stripReservedRaw drops the reserved year field without disturbing the
// order of the remaining columns.
func stripReservedRaw(raw []byte) ([]byte, error) {
	fields, err := decodeFields(raw)
	if err != nil {
		return nil, err
	}
	kept := make([]field, 0, len(fields))
	for _, f := range fields {
		if f.name == reservedYearKey {
			continue
		}
		kept = append(kept, f)
	}
	return encodeFields(kept)
}

func stripReserved(doc Document) Document {
	cleaned := make(Document, len(doc))
	for key, value := range doc {
		if key == reservedYearKey {
			continue
		}
		cleaned[key] = value
	}
	return cleaned
}

func yearFromDocument(doc Document) string {
	for _, key := range []string{"year", reservedYearKey} {
		if value, ok := doc[key]; ok {
			if text, ok := value.(string); ok && text != "" {
				return text
			}
		}
	}
	return ""
}
