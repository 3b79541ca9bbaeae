// Package server exposes the recording on/off control over HTTP so a
// phone or another machine on the network can drive a headless logger.
package server

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/tangym/sensorlog/internal/session"
)

// Recorder is the part of the session controller the server drives
type Recorder interface {
	Start() (*session.Info, error)
	Stop() (*session.Summary, error)
	State() (session.State, *session.Info)
	AudioErr() error
	LastError() string
}

// Server serves the control API for one recorder
type Server struct {
	recorder  Recorder
	outputDir string
	port      string
	mux       *http.ServeMux
	hub       *hub

	// controlMu makes toggle decisions atomic across HTTP and WebSocket clients
	controlMu sync.Mutex
}

// StatusResponse is the JSON body of /status
type StatusResponse struct {
	Status    string       `json:"status"`
	Message   string       `json:"message,omitempty"`
	Session   *SessionInfo `json:"session,omitempty"`
	AudioErr  string       `json:"audio_error,omitempty"`
	LastError string       `json:"last_error,omitempty"`
}

// SessionInfo describes a session in JSON responses
type SessionInfo struct {
	ID        string    `json:"id"`
	StartTime time.Time `json:"start_time"`
	SensorLog string    `json:"sensor_log"`
	Audio     string    `json:"audio"`
	Sensors   int       `json:"sensor_count"`
}

// SummaryResponse is the JSON body returned by /stop
type SummaryResponse struct {
	Success    bool         `json:"success"`
	Message    string       `json:"message"`
	Session    *SessionInfo `json:"session,omitempty"`
	StopTime   *time.Time   `json:"stop_time,omitempty"`
	Records    int          `json:"records"`
	Dropped    int          `json:"dropped_records"`
	AudioBytes int64        `json:"audio_bytes"`
	AudioError string       `json:"audio_error,omitempty"`
	Error      string       `json:"error,omitempty"`
}

// RecordingFile is one finished session found in the output directory
type RecordingFile struct {
	ID        string     `json:"id"`
	Started   time.Time  `json:"started"`
	Stopped   *time.Time `json:"stopped,omitempty"`
	SensorLog string     `json:"sensor_log"`
	Audio     string     `json:"audio"`
	Records   int        `json:"records"`
}

// New creates a server for recorder listening on port
func New(recorder Recorder, outputDir, port string) *Server {
	s := &Server{
		recorder:  recorder,
		outputDir: outputDir,
		port:      port,
		mux:       http.NewServeMux(),
		hub:       newHub(),
	}
	s.mux.HandleFunc("/start", s.handleStart)
	s.mux.HandleFunc("/stop", s.handleStop)
	s.mux.HandleFunc("/toggle", s.handleToggle)
	s.mux.HandleFunc("/status", s.handleStatus)
	s.mux.HandleFunc("/api/sessions", s.handleSessions)
	s.mux.HandleFunc("/ws", s.handleWebSocket)
	return s
}

// Handler returns the HTTP handler of the control API
func (s *Server) Handler() http.Handler {
	return s.mux
}

// Start listens and serves until the listener fails
func (s *Server) Start() error {
	localIP := getLocalIP()

	slog.Info("Starting control server",
		"port", s.port,
		"local_url", fmt.Sprintf("http://%s:%s", localIP, s.port),
		"localhost_url", fmt.Sprintf("http://localhost:%s", s.port))

	return http.ListenAndServe(":"+s.port, s.mux)
}

// handleStart transitions Idle -> Recording
func (s *Server) handleStart(w http.ResponseWriter, r *http.Request) {
	if !requireMethod(w, r, http.MethodPost) {
		return
	}
	s.controlMu.Lock()
	defer s.controlMu.Unlock()
	s.start(w)
}

func (s *Server) start(w http.ResponseWriter) {
	info, err := s.recorder.Start()
	defer s.notify()
	if errors.Is(err, session.ErrAlreadyRecording) {
		s.sendErrorResponse(w, http.StatusConflict, err.Error(), "operation", "start")
		return
	}
	if err != nil {
		s.sendErrorResponse(w, http.StatusInternalServerError,
			fmt.Sprintf("Failed to start recording: %v", err), "operation", "start")
		return
	}

	writeJSON(w, http.StatusOK, map[string]interface{}{
		"success": true,
		"message": "Recording started",
		"session": toSessionInfo(info),
	})
}

// handleStop transitions Recording -> Idle
func (s *Server) handleStop(w http.ResponseWriter, r *http.Request) {
	if !requireMethod(w, r, http.MethodPost) {
		return
	}
	s.controlMu.Lock()
	defer s.controlMu.Unlock()
	s.stop(w)
}

func (s *Server) stop(w http.ResponseWriter) {
	summary, err := s.recorder.Stop()
	defer s.notify()
	if summary == nil && err == nil {
		writeJSON(w, http.StatusOK, SummaryResponse{Success: true, Message: "Not recording"})
		return
	}

	response := SummaryResponse{Success: err == nil, Message: "Recording stopped"}
	if summary != nil {
		stop := summary.StopTime
		response.Session = toSessionInfo(&summary.Info)
		response.StopTime = &stop
		response.Records = summary.Log.Records
		response.Dropped = summary.Log.Dropped
		response.AudioBytes = summary.Audio.Bytes
		if summary.Audio.Err != nil {
			response.AudioError = summary.Audio.Err.Error()
		}
	}
	status := http.StatusOK
	if err != nil {
		slog.Error("Recording stopped with errors", "error", err)
		response.Message = "Recording stopped with errors"
		response.Error = err.Error()
		status = http.StatusInternalServerError
	}
	writeJSON(w, status, response)
}

// handleToggle flips the single recording on/off control
func (s *Server) handleToggle(w http.ResponseWriter, r *http.Request) {
	if !requireMethod(w, r, http.MethodPost) {
		return
	}
	s.controlMu.Lock()
	defer s.controlMu.Unlock()
	if state, _ := s.recorder.State(); state == session.StateRecording {
		s.stop(w)
		return
	}
	s.start(w)
}

// handleStatus returns the current state and session info
func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	if !requireMethod(w, r, http.MethodGet) {
		return
	}
	writeJSON(w, http.StatusOK, s.currentStatus())
}

func (s *Server) currentStatus() StatusResponse {
	state, info := s.recorder.State()
	response := StatusResponse{
		Status:    string(state),
		Message:   describeState(state, info),
		Session:   toSessionInfo(info),
		LastError: s.recorder.LastError(),
	}
	if err := s.recorder.AudioErr(); err != nil {
		response.AudioErr = err.Error()
	}
	return response
}

// handleSessions lists the sessions recorded in the output directory, newest first
func (s *Server) handleSessions(w http.ResponseWriter, r *http.Request) {
	if !requireMethod(w, r, http.MethodGet) {
		return
	}

	files, err := ListRecordings(s.outputDir)
	if err != nil {
		s.sendErrorResponse(w, http.StatusInternalServerError,
			fmt.Sprintf("Failed to list recordings: %v", err), "directory", s.outputDir)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"success":    true,
		"recordings": files,
	})
}

// ListRecordings reads every session sidecar in dir. Unreadable sidecars are skipped.
func ListRecordings(dir string) ([]RecordingFile, error) {
	entries, err := os.ReadDir(dir)
	if errors.Is(err, os.ErrNotExist) {
		return []RecordingFile{}, nil
	}
	if err != nil {
		return nil, err
	}

	files := []RecordingFile{}
	for _, e := range entries {
		if e.IsDir() || !strings.HasPrefix(e.Name(), "s") || filepath.Ext(e.Name()) != ".yaml" {
			continue
		}
		sc, err := session.ReadSidecar(filepath.Join(dir, e.Name()))
		if err != nil {
			slog.Debug("Skipping unreadable sidecar", "file", e.Name(), "error", err)
			continue
		}
		rec := RecordingFile{
			ID:        sc.SessionID,
			Started:   sc.Started,
			Stopped:   sc.Stopped,
			SensorLog: sc.SensorLog,
			Audio:     sc.Audio.File,
		}
		if sc.Records != nil {
			rec.Records = sc.Records.Records
		}
		files = append(files, rec)
	}

	sort.Slice(files, func(i, j int) bool {
		return files[i].Started.After(files[j].Started)
	})
	return files, nil
}

func describeState(state session.State, info *session.Info) string {
	if state != session.StateRecording || info == nil {
		return "Idle"
	}
	return fmt.Sprintf("Recording since %s (%d sensors)", info.StartTime.Format(time.TimeOnly), len(info.Sensors))
}

func toSessionInfo(info *session.Info) *SessionInfo {
	if info == nil {
		return nil
	}
	return &SessionInfo{
		ID:        info.ID,
		StartTime: info.StartTime,
		SensorLog: info.Paths.Log,
		Audio:     info.Paths.Audio,
		Sensors:   len(info.Sensors),
	}
}

func requireMethod(w http.ResponseWriter, r *http.Request, method string) bool {
	if r.Method == method {
		return true
	}
	writeJSON(w, http.StatusMethodNotAllowed, map[string]interface{}{
		"success": false,
		"error":   "Method not allowed",
	})
	return false
}

func writeJSON(w http.ResponseWriter, status int, body interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(body); err != nil {
		slog.Warn("Failed to write response", "error", err)
	}
}

// sendErrorResponse logs and sends a JSON error
func (s *Server) sendErrorResponse(w http.ResponseWriter, statusCode int, errorMsg string, logContext ...interface{}) {
	logFields := []interface{}{"error_message", errorMsg, "status_code", statusCode}
	if len(logContext) > 0 {
		logFields = append(logFields, logContext...)
	}
	slog.Error("Sending error response to client", logFields...)

	writeJSON(w, statusCode, map[string]interface{}{
		"success": false,
		"error":   errorMsg,
	})
}

func getLocalIP() string {
	// The dial only selects a route, nothing is sent
	conn, err := net.Dial("udp", "8.8.8.8:80")
	if err != nil {
		return "localhost"
	}
	defer conn.Close()

	localAddr := conn.LocalAddr().(*net.UDPAddr)
	return localAddr.IP.String()
}
