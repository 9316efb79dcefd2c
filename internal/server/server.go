// Package server is the local dashboard: it serves the input form and
// results, and runs one analysis at a time on request.
package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"mime"
	"net"
	"net/http"
	"os"
	"strings"
	"sync/atomic"
	"time"

	"github.com/iyulab/threatlens/internal/analyzer"
	"github.com/iyulab/threatlens/internal/input"
	"github.com/iyulab/threatlens/internal/reporter"
	"github.com/iyulab/threatlens/internal/status"
)

// maxBodyBytes bounds an analyze request; input beyond input.MaxChars is
// truncated anyway.
const maxBodyBytes = 16 << 20

// Analyzer runs analyses for the server.
type Analyzer interface {
	Analyze(ctx context.Context, s analyzer.Settings, data string) (*analyzer.Report, error)
	Models() []string
}

// Options configures a Server.
type Options struct {
	Analyzer Analyzer
	Reporter *reporter.Reporter
	Version  string
	// Persona is the initial persona; empty uses the built-in default.
	Persona string
	Verbose bool
}

// Server is a local HTTP server that serves the dashboard and handles analysis requests.
type Server struct {
	analyzer Analyzer
	reporter *reporter.Reporter
	hub      *status.Hub
	session  *Session
	busy     atomic.Bool
	version  string
	verbose  bool

	httpServer *http.Server
}

// New creates a Server.
func New(opts Options) *Server {
	return &Server{
		analyzer: opts.Analyzer,
		reporter: opts.Reporter,
		hub:      status.NewHub(opts.Verbose),
		session:  NewSession(analyzer.Settings{Model: defaultModel(opts.Analyzer), Persona: opts.Persona}),
		version:  opts.Version,
		verbose:  opts.Verbose,
	}
}

// Session returns the dashboard session.
func (s *Server) Session() *Session {
	return s.session
}

// Handler returns the route table.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /{$}", s.handleDashboard)
	mux.HandleFunc("GET /health", s.handleHealth)
	mux.HandleFunc("GET /api/models", s.handleModels)
	mux.HandleFunc("GET /api/persona/default", s.handleDefaultPersona)
	mux.HandleFunc("POST /api/analyze", s.handleAnalyze)
	mux.HandleFunc("POST /api/reset", s.handleReset)
	mux.HandleFunc("GET /ws", s.hub.ServeWS)
	return mux
}

// Start begins listening on the given port (0 = OS-assigned). Returns "host:port".
func (s *Server) Start(ctx context.Context, port int) (string, error) {
	ln, err := net.Listen("tcp", fmt.Sprintf("127.0.0.1:%d", port))
	if err != nil {
		return "", fmt.Errorf("listen: %w", err)
	}

	go s.hub.Run()
	s.httpServer = &http.Server{
		Handler:           s.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
		BaseContext:       func(net.Listener) context.Context { return ctx },
	}
	go s.httpServer.Serve(ln) //nolint:errcheck

	return ln.Addr().String(), nil
}

// Stop shuts down the server and disconnects live status clients.
func (s *Server) Stop() {
	if s.httpServer != nil {
		s.httpServer.Close()
	}
	s.hub.Stop()
}

func (s *Server) handleDashboard(w http.ResponseWriter, r *http.Request) {
	st := s.session.Snapshot()
	data := reporter.ReportData{
		Version:        s.version,
		GeneratedAt:    time.Now(),
		Interactive:    true,
		Models:         s.analyzer.Models(),
		Model:          st.Settings.Model,
		Persona:        st.Settings.Persona,
		DefaultPersona: analyzer.DefaultPersona,
		Busy:           s.busy.Load(),
		Source:         st.Source,
		Report:         st.Report,
		Error:          st.Error,
	}

	html, err := s.reporter.GenerateString(data)
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	fmt.Fprint(w, html)
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"status":  "ok",
		"busy":    s.busy.Load(),
		"clients": s.hub.Clients(),
	})
}

func (s *Server) handleModels(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"models":  s.analyzer.Models(),
		"default": defaultModel(s.analyzer),
		"current": s.session.Snapshot().Settings.Model,
	})
}

func (s *Server) handleDefaultPersona(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"persona": analyzer.DefaultPersona})
}

// analyzeRequest is the JSON form of POST /api/analyze.
type analyzeRequest struct {
	Text    string `json:"text"`
	Model   string `json:"model"`
	Persona string `json:"persona"`
}

// analyzeResponse is returned for a completed analysis, including one that
// fell back to the placeholder result.
type analyzeResponse struct {
	Source   string           `json:"source"`
	Fallback bool             `json:"fallback"`
	Report   *analyzer.Report `json:"report"`
}

func (s *Server) handleAnalyze(w http.ResponseWriter, r *http.Request) {
	if !s.busy.CompareAndSwap(false, true) {
		writeError(w, http.StatusConflict, "analysis already in progress")
		return
	}
	defer s.busy.Store(false)

	r.Body = http.MaxBytesReader(w, r.Body, maxBodyBytes)
	doc, req, err := readAnalyzeRequest(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	if strings.TrimSpace(doc.Text) == "" {
		writeError(w, http.StatusBadRequest, "no input provided")
		return
	}

	settings := analyzer.Settings{Model: req.Model, Persona: strings.TrimSpace(req.Persona)}
	if settings.Model == "" {
		settings.Model = defaultModel(s.analyzer)
	}
	if settings.Persona == strings.TrimSpace(analyzer.DefaultPersona) {
		settings.Persona = ""
	}

	s.hub.Publish(status.AnalysisStarted, map[string]interface{}{
		"source": doc.Name,
		"model":  settings.Model,
		"chars":  len([]rune(doc.Text)),
	})
	if s.verbose {
		fmt.Fprintf(os.Stderr, "[server] analyzing %s (%d bytes, model %s)\n", doc.Name, doc.Size, settings.Model)
	}

	report, err := s.analyzer.Analyze(r.Context(), settings, doc.Text)
	if err != nil {
		msg := err.Error()
		code := http.StatusBadGateway
		if errors.Is(err, analyzer.ErrUnknownModel) {
			code = http.StatusBadRequest
			s.session.Reject(msg)
		} else {
			if !errors.Is(err, analyzer.ErrAnalysisFailed) {
				code = http.StatusInternalServerError
			}
			s.session.Fail(settings, msg)
		}
		s.hub.Publish(status.AnalysisFailed, map[string]string{"error": msg})
		fmt.Fprintf(os.Stderr, "[server] %s: %v\n", doc.Name, err)
		writeError(w, code, msg)
		return
	}

	if doc.Truncated {
		report.Truncated = true
	}
	s.session.Complete(analyzer.Settings{Model: report.Model, Persona: settings.Persona}, doc.Name, report)
	s.hub.Publish(status.AnalysisCompleted, map[string]interface{}{
		"id":          report.ID,
		"threatScore": report.Result.ThreatScore,
		"fallback":    report.Fallback,
	})

	writeJSON(w, http.StatusOK, analyzeResponse{Source: doc.Name, Fallback: report.Fallback, Report: report})
}

func (s *Server) handleReset(w http.ResponseWriter, r *http.Request) {
	if s.busy.Load() {
		writeError(w, http.StatusConflict, "analysis in progress")
		return
	}
	s.session.Reset()
	s.hub.Publish(status.SessionReset, nil)
	writeJSON(w, http.StatusOK, map[string]string{"status": "reset"})
}

// readAnalyzeRequest extracts the input document and settings from a
// multipart form (file or text field), a urlencoded form, or a JSON body.
// A file takes precedence over pasted text.
func readAnalyzeRequest(r *http.Request) (*input.Document, analyzeRequest, error) {
	var req analyzeRequest
	mediaType, _, _ := mime.ParseMediaType(r.Header.Get("Content-Type"))

	switch mediaType {
	case "application/json":
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			return nil, req, fmt.Errorf("invalid JSON: %w", err)
		}
		return input.FromText(req.Text), req, nil

	case "multipart/form-data":
		if err := r.ParseMultipartForm(maxBodyBytes); err != nil {
			return nil, req, fmt.Errorf("invalid form: %w", err)
		}
		req = formRequest(r)
		file, header, err := r.FormFile("file")
		if err == nil {
			defer file.Close()
			if header.Size > 0 {
				doc, err := input.Load(header.Filename, file)
				return doc, req, err
			}
		} else if !errors.Is(err, http.ErrMissingFile) {
			return nil, req, fmt.Errorf("read upload: %w", err)
		}
		return input.FromText(req.Text), req, nil

	default:
		if err := r.ParseForm(); err != nil {
			return nil, req, fmt.Errorf("invalid form: %w", err)
		}
		req = formRequest(r)
		return input.FromText(req.Text), req, nil
	}
}

func formRequest(r *http.Request) analyzeRequest {
	return analyzeRequest{
		Text:    r.FormValue("text"),
		Model:   r.FormValue("model"),
		Persona: r.FormValue("persona"),
	}
}

func defaultModel(a Analyzer) string {
	if a == nil {
		return ""
	}
	if models := a.Models(); len(models) > 0 {
		return models[0]
	}
	return ""
}

func writeJSON(w http.ResponseWriter, code int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	json.NewEncoder(w).Encode(v) //nolint:errcheck
}

func writeError(w http.ResponseWriter, code int, msg string) {
	writeJSON(w, code, map[string]string{"error": msg})
}
