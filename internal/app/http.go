package app

import (
	"bufio"
	"crypto/rand"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"net"
	"net/http"
	"strconv"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/eltffn/dane-table-app/internal/table"
	"github.com/eltffn/dane-table-app/internal/view"
)

// apiKeyHeader carries the shared secret on every mutating request.
const apiKeyHeader = "x-api-key"

// maxBodyBytes caps request bodies, matching the original JSON body limit.
const maxBodyBytes = 50 << 20

type HTTPServer struct {
	service    *Service
	live       http.Handler
	corsOrigin string
	logger     *zap.Logger
}

// NewHTTPServer wires the REST surface. live handles websocket upgrades at
// /ws and may be nil when the live variant is disabled.
func NewHTTPServer(service *Service, live http.Handler, corsOrigin string, logger *zap.Logger) *HTTPServer {
	return &HTTPServer{service: service, live: live, corsOrigin: corsOrigin, logger: logger}
}

func (s *HTTPServer) Handler() http.Handler {
	return s.withMiddleware(http.HandlerFunc(s.handle))
}

func (s *HTTPServer) handle(w http.ResponseWriter, r *http.Request) {
	if r.Method == http.MethodOptions {
		w.WriteHeader(http.StatusNoContent)
		return
	}

	if r.URL.Path == "/ws" && s.live != nil {
		s.live.ServeHTTP(w, r)
		return
	}

	if r.Method == http.MethodGet && r.URL.Path == "/" {
		s.handleView(w, r)
		return
	}

	setJSONHeaders(w.Header())

	if (r.Method == http.MethodGet || r.Method == http.MethodHead) && r.URL.Path == "/api/health" {
		writeJSON(w, http.StatusOK, map[string]any{"ok": true})
		return
	}

	switch {
	case r.Method == http.MethodGet && r.URL.Path == "/api/data":
		s.handleGetData(w, r)
	case r.Method == http.MethodPost && r.URL.Path == "/api/data":
		s.handlePostData(w, r)
	case r.Method == http.MethodGet && r.URL.Path == "/api/year":
		s.handleGetYear(w, r)
	case r.Method == http.MethodPost && r.URL.Path == "/api/year":
		s.handlePostYear(w, r)
	case r.Method == http.MethodPost && r.URL.Path == "/api/verify":
		s.handleVerify(w, r)
	case r.Method == http.MethodPost && r.URL.Path == "/api/restore":
		s.handleRestore(w, r)
	case r.Method == http.MethodGet && r.URL.Path == "/api/history":
		s.handleHistory(w, r)
	case r.Method == http.MethodGet && strings.HasPrefix(r.URL.Path, "/api/history/"):
		s.handleHistorySnapshot(w, r, strings.TrimPrefix(r.URL.Path, "/api/history/"))
	default:
		writeFailure(w, http.StatusNotFound, "Not found")
	}
}

// handleGetData embeds the stored bytes unparsed, so the response keeps the
// column order the document was saved with.
func (s *HTTPServer) handleGetData(w http.ResponseWriter, r *http.Request) {
	raw, err := s.service.TableRaw()
	if err != nil {
		s.logger.Error("read table failed", zap.Error(err))
		writeFailure(w, http.StatusInternalServerError, "Failed to read data")
		return
	}
	writeSuccess(w, map[string]any{"data": json.RawMessage(raw)})
}

func (s *HTTPServer) handlePostData(w http.ResponseWriter, r *http.Request) {
	if !s.requireKey(w, r) {
		return
	}
	raw, err := readBody(r)
	if err != nil {
		writeFailure(w, http.StatusBadRequest, "Invalid payload")
		return
	}
	// Shape check only; the raw bytes carry the column order through to disk.
	var doc map[string]any
	if err := json.Unmarshal(raw, &doc); err != nil || doc == nil {
		writeFailure(w, http.StatusBadRequest, "Invalid payload")
		return
	}
	if err := s.service.SaveTable(raw); err != nil {
		s.logger.Error("save table failed", zap.Error(err))
		writeFailure(w, http.StatusInternalServerError, "Failed to save data")
		return
	}
	writeSuccess(w, nil)
}

func (s *HTTPServer) handleGetYear(w http.ResponseWriter, r *http.Request) {
	year, err := s.service.Year()
	if err != nil {
		s.logger.Error("read year failed", zap.Error(err))
		writeFailure(w, http.StatusInternalServerError, "Failed to read year")
		return
	}
	writeSuccess(w, map[string]any{"year": year})
}

func (s *HTTPServer) handlePostYear(w http.ResponseWriter, r *http.Request) {
	if !s.requireKey(w, r) {
		return
	}
	var raw json.RawMessage
	if err := decodeBody(r, &raw); err != nil {
		writeFailure(w, http.StatusBadRequest, "Invalid payload")
		return
	}
	if _, err := s.service.SaveYear(raw); err != nil {
		s.logger.Error("save year failed", zap.Error(err))
		writeFailure(w, http.StatusInternalServerError, "Failed to save year")
		return
	}
	writeSuccess(w, nil)
}

// handleVerify always responds 200; a wrong key is an authorization outcome,
// not a transport error.
func (s *HTTPServer) handleVerify(w http.ResponseWriter, r *http.Request) {
	authorized := s.service.Authorized(r.Header.Get(apiKeyHeader))
	writeSuccess(w, map[string]any{"authorized": authorized})
}

func (s *HTTPServer) handleRestore(w http.ResponseWriter, r *http.Request) {
	if !s.requireKey(w, r) {
		return
	}
	if err := s.service.Restore(); err != nil {
		s.logger.Error("restore failed", zap.Error(err))
		writeFailure(w, http.StatusInternalServerError, "Restore failed")
		return
	}
	writeSuccess(w, nil)
}

func (s *HTTPServer) handleHistory(w http.ResponseWriter, r *http.Request) {
	if !s.requireKey(w, r) {
		return
	}
	if !s.service.HistoryEnabled() {
		writeFailure(w, http.StatusServiceUnavailable, "History is not configured")
		return
	}
	limit := 20
	if raw := strings.TrimSpace(r.URL.Query().Get("limit")); raw != "" {
		parsed, err := strconv.Atoi(raw)
		if err != nil || parsed < 1 {
			writeFailure(w, http.StatusBadRequest, "Invalid limit")
			return
		}
		limit = parsed
	}
	entries, err := s.service.History(limit)
	if err != nil {
		s.logger.Error("read history failed", zap.Error(err))
		writeFailure(w, http.StatusInternalServerError, "Failed to read history")
		return
	}
	writeSuccess(w, map[string]any{"history": entries})
}

func (s *HTTPServer) handleHistorySnapshot(w http.ResponseWriter, r *http.Request, hash string) {
	if !s.requireKey(w, r) {
		return
	}
	if !s.service.HistoryEnabled() {
		writeFailure(w, http.StatusServiceUnavailable, "History is not configured")
		return
	}
	if hash == "" {
		writeFailure(w, http.StatusBadRequest, "Missing commit hash")
		return
	}
	doc, err := s.service.HistorySnapshot(hash)
	if err != nil {
		writeFailure(w, http.StatusNotFound, "Snapshot not found")
		return
	}
	writeSuccess(w, map[string]any{"data": doc})
}

func (s *HTTPServer) handleView(w http.ResponseWriter, r *http.Request) {
	raw, err := s.service.TableRaw()
	if err != nil {
		http.Error(w, "failed to read table", http.StatusInternalServerError)
		return
	}
	state, err := table.FromJSON(raw)
	if err != nil {
		state = table.New(nil, nil)
	}

	query := r.URL.Query().Get("q")
	state.Filter(query)
	sortColumn := r.URL.Query().Get("sort")
	sortDesc := r.URL.Query().Get("dir") == "desc"
	state.Sort(sortColumn, sortDesc)

	year, _ := s.service.Year()
	if err := view.Render(w, view.BuildPage(state, year, query, sortColumn, sortDesc)); err != nil {
		s.logger.Error("render view failed", zap.Error(err))
	}
}

// requireKey rejects the request with the Unauthorized envelope unless the
// shared secret header matches exactly.
func (s *HTTPServer) requireKey(w http.ResponseWriter, r *http.Request) bool {
	if !s.service.Authorized(r.Header.Get(apiKeyHeader)) {
		writeFailure(w, http.StatusForbidden, "Unauthorized")
		return false
	}
	return true
}

func (s *HTTPServer) withMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		requestID := r.Header.Get("X-Request-ID")
		if requestID == "" {
			requestID = randomRequestID()
		}

		started := time.Now()
		writer := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		setCORSHeaders(writer.Header(), s.corsOrigin)
		writer.Header().Set("X-Request-ID", requestID)

		defer func() {
			if recovered := recover(); recovered != nil {
				// Last-resort safety net; handlers are expected to respond
				// with the failure envelope themselves.
				s.logger.Error("panic in handler",
					zap.String("request_id", requestID),
					zap.Any("panic", recovered),
				)
				setJSONHeaders(writer.Header())
				writeFailure(writer, http.StatusInternalServerError, "Internal server error")
			}
		}()

		next.ServeHTTP(writer, r)

		s.logger.Info("request",
			zap.String("request_id", requestID),
			zap.String("method", r.Method),
			zap.String("path", r.URL.Path),
			zap.Int("status", writer.status),
			zap.Int64("duration_ms", time.Since(started).Milliseconds()),
		)
	})
}

type statusRecorder struct {
	http.ResponseWriter
	status int
	wrote  bool
}

func (r *statusRecorder) WriteHeader(status int) {
	if r.wrote {
		return
	}
	r.wrote = true
	r.status = status
	r.ResponseWriter.WriteHeader(status)
}

func (r *statusRecorder) Write(p []byte) (int, error) {
	r.wrote = true
	return r.ResponseWriter.Write(p)
}

// Hijack is required by the websocket upgrade at /ws; the embedded interface
// value does not promote it.
func (r *statusRecorder) Hijack() (net.Conn, *bufio.ReadWriter, error) {
	hijacker, ok := r.ResponseWriter.(http.Hijacker)
	if !ok {
		return nil, nil, fmt.Errorf("response writer does not support hijacking")
	}
	r.wrote = true
	r.status = http.StatusSwitchingProtocols
	return hijacker.Hijack()
}

func (r *statusRecorder) Unwrap() http.ResponseWriter { return r.ResponseWriter }

func randomRequestID() string {
	buf := make([]byte, 8)
	_, _ = rand.Read(buf)
	return hex.EncodeToString(buf)
}

func setCORSHeaders(header http.Header, corsOrigin string) {
	header.Set("Access-Control-Allow-Origin", corsOrigin)
	header.Set("Access-Control-Allow-Headers", "Content-Type, X-Request-ID, "+apiKeyHeader)
	header.Set("Access-Control-Allow-Methods", "GET,POST,OPTIONS")
	header.Set("Cache-Control", "no-store")
}

func setJSONHeaders(header http.Header) {
	header.Set("Content-Type", "application/json")
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

// writeSuccess responds with the success envelope, merging in extra fields.
func writeSuccess(w http.ResponseWriter, fields map[string]any) {
	response := map[string]any{"success": true}
	for key, value := range fields {
		response[key] = value
	}
	writeJSON(w, http.StatusOK, response)
}

func writeFailure(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, map[string]any{"success": false, "error": message})
}

func decodeBody(r *http.Request, target any) error {
	if r.Body == nil {
		return nil
	}
	defer r.Body.Close()
	decoder := json.NewDecoder(http.MaxBytesReader(nil, r.Body, maxBodyBytes))
	if err := decoder.Decode(target); err != nil {
		if err == io.EOF {
			return nil
		}
		return fmt.Errorf("invalid JSON body")
	}
	return nil
}

// readBody returns the request body bytes, capped at maxBodyBytes, for
// handlers that persist the payload verbatim.
func readBody(r *http.Request) ([]byte, error) {
	if r.Body == nil {
		return nil, nil
	}
	defer r.Body.Close()
	return io.ReadAll(http.MaxBytesReader(nil, r.Body, maxBodyBytes))
}
