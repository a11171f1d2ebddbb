package app

import (
	"encoding/json"
	"fmt"
	"strconv"

	"go.uber.org/zap"

	"github.com/eltffn/dane-table-app/internal/config"
	"github.com/eltffn/dane-table-app/internal/history"
	"github.com/eltffn/dane-table-app/internal/store"
)

// Service is the business layer between the HTTP transport and persistence.
type Service struct {
	cfg     config.Config
	store   *store.Store
	history *history.Service
	logger  *zap.Logger
}

// New creates the service. hist may be nil when write history is disabled.
func New(cfg config.Config, st *store.Store, hist *history.Service, logger *zap.Logger) *Service {
	return &Service{cfg: cfg, store: st, history: hist, logger: logger}
}

func (s *Service) TableRaw() ([]byte, error) {
	return s.store.ReadTableRaw()
}

// SaveTable persists the table document bytes, keeping the caller's column
// order. History recording is advisory: a history failure never fails a
// write that already hit disk.
func (s *Service) SaveTable(raw json.RawMessage) error {
	if err := s.store.WriteTableRaw(raw); err != nil {
		return err
	}
	s.record("table updated via API")
	return nil
}

func (s *Service) Year() (string, error) {
	return s.store.ReadYear()
}

// SaveYear accepts the year from any of the body shapes the original API
// tolerated: {"year": ...}, {"yearText": ...}, a bare string, or a number.
// The coerced string is persisted and returned.
func (s *Service) SaveYear(raw json.RawMessage) (string, error) {
	year := coerceYear(raw)
	if err := s.store.WriteYear(year); err != nil {
		return "", err
	}
	return year, nil
}

// Authorized compares the presented key to the configured shared secret.
// Comparison is exact string equality; the empty secret never authorizes.
func (s *Service) Authorized(key string) bool {
	return s.cfg.EditToken != "" && key == s.cfg.EditToken
}

func (s *Service) Restore() error {
	if err := s.store.Restore(); err != nil {
		return err
	}
	s.record("restored default table")
	return nil
}

func (s *Service) HistoryEnabled() bool {
	return s.history != nil
}

func (s *Service) History(limit int) ([]history.CommitInfo, error) {
	if s.history == nil {
		return nil, fmt.Errorf("history is not configured")
	}
	return s.history.History(limit)
}

// HistorySnapshot returns the table document recorded at a given commit,
// bytes as committed so the column order survives.
func (s *Service) HistorySnapshot(hash string) (json.RawMessage, error) {
	if s.history == nil {
		return nil, fmt.Errorf("history is not configured")
	}
	return s.history.Snapshot(hash)
}

// record snapshots the table as it now stands on disk, so history entries
// show exactly what the write produced.
func (s *Service) record(message string) {
	if s.history == nil {
		return
	}
	raw, err := s.store.ReadTableRaw()
	if err != nil {
		return
	}
	if _, err := s.history.Record(raw, "api", message); err != nil {
		s.logger.Warn("history record failed", zap.Error(err))
	}
}

func coerceYear(raw json.RawMessage) string {
	if len(raw) == 0 {
		return ""
	}
	var value any
	if err := json.Unmarshal(raw, &value); err != nil {
		return ""
	}
	switch v := value.(type) {
	case map[string]any:
		for _, key := range []string{"year", "yearText"} {
			if field, ok := v[key]; ok {
				if text := stringify(field); text != "" {
					return text
				}
			}
		}
		return ""
	default:
		return stringify(value)
	}
}

func stringify(value any) string {
	switch v := value.(type) {
	case nil:
		return ""
	case string:
		return v
	case float64:
		return strconv.FormatFloat(v, 'f', -1, 64)
	case bool:
		return strconv.FormatBool(v)
	default:
		raw, err := json.Marshal(v)
		if err != nil {
			return ""
		}
		return string(raw)
	}
}
