package server

import (
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"gopkg.in/yaml.v3"

	"github.com/tangym/sensorlog/internal/audio"
	"github.com/tangym/sensorlog/internal/naming"
	"github.com/tangym/sensorlog/internal/sensorlog"
	"github.com/tangym/sensorlog/internal/session"
)

type fakeRecorder struct {
	mu       sync.Mutex
	state    session.State
	info     *session.Info
	startErr error
	stopErr  error
	audioErr error
	starts   int
	stops    int
}

func (f *fakeRecorder) Start() (*session.Info, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.state == session.StateRecording {
		return nil, session.ErrAlreadyRecording
	}
	if f.startErr != nil {
		return nil, f.startErr
	}
	f.starts++
	f.state = session.StateRecording
	f.info = &session.Info{ID: "abc", StartTime: time.Now(), Paths: naming.Paths{Log: "/tmp/s1.csv", Audio: "/tmp/s1_le.pcm"}}
	return f.info, nil
}

func (f *fakeRecorder) Stop() (*session.Summary, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.state != session.StateRecording {
		return nil, nil
	}
	f.stops++
	f.state = session.StateIdle
	summary := &session.Summary{
		Info:     *f.info,
		StopTime: time.Now(),
		Log:      sensorlog.Stats{Descriptors: 2, Records: 10, Dropped: 1},
		Audio:    audio.Result{Frames: 3, Bytes: 6144, Err: f.audioErr},
	}
	f.info = nil
	return summary, f.stopErr
}

func (f *fakeRecorder) State() (session.State, *session.Info) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.state == "" {
		return session.StateIdle, nil
	}
	return f.state, f.info
}

func (f *fakeRecorder) AudioErr() error   { return nil }
func (f *fakeRecorder) LastError() string { return "" }

func do(t *testing.T, s *Server, method, path string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(method, path, nil)
	rec := httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, req)
	return rec
}

func TestStartStop(t *testing.T) {
	rec := &fakeRecorder{}
	s := New(rec, t.TempDir(), "0")

	if resp := do(t, s, http.MethodPost, "/start"); resp.Code != http.StatusOK {
		t.Fatalf("start returned %d: %s", resp.Code, resp.Body.String())
	}
	if resp := do(t, s, http.MethodPost, "/start"); resp.Code != http.StatusConflict {
		t.Errorf("second start returned %d, want %d", resp.Code, http.StatusConflict)
	}

	resp := do(t, s, http.MethodGet, "/status")
	var status StatusResponse
	if err := json.Unmarshal(resp.Body.Bytes(), &status); err != nil {
		t.Fatal(err)
	}
	if status.Status != string(session.StateRecording) || status.Session == nil || status.Session.ID != "abc" {
		t.Errorf("unexpected status %+v", status)
	}

	resp = do(t, s, http.MethodPost, "/stop")
	if resp.Code != http.StatusOK {
		t.Fatalf("stop returned %d", resp.Code)
	}
	var summary SummaryResponse
	if err := json.Unmarshal(resp.Body.Bytes(), &summary); err != nil {
		t.Fatal(err)
	}
	if !summary.Success || summary.Records != 10 || summary.Dropped != 1 || summary.AudioBytes != 6144 {
		t.Errorf("unexpected summary %+v", summary)
	}

	resp = do(t, s, http.MethodPost, "/stop")
	if resp.Code != http.StatusOK {
		t.Errorf("stop while idle returned %d", resp.Code)
	}
	if rec.stops != 1 {
		t.Errorf("expected 1 stop, got %d", rec.stops)
	}
}

func TestToggle(t *testing.T) {
	rec := &fakeRecorder{}
	s := New(rec, t.TempDir(), "0")

	do(t, s, http.MethodPost, "/toggle")
	if rec.state != session.StateRecording {
		t.Fatalf("toggle did not start recording")
	}
	do(t, s, http.MethodPost, "/toggle")
	if rec.state != session.StateIdle {
		t.Fatalf("toggle did not stop recording")
	}
	if rec.starts != 1 || rec.stops != 1 {
		t.Errorf("starts=%d stops=%d", rec.starts, rec.stops)
	}
}

func TestStopReportsErrors(t *testing.T) {
	rec := &fakeRecorder{stopErr: errors.New("close failed"), audioErr: audio.ErrMicrophoneUnavailable}
	s := New(rec, t.TempDir(), "0")
	do(t, s, http.MethodPost, "/start")

	resp := do(t, s, http.MethodPost, "/stop")
	if resp.Code != http.StatusInternalServerError {
		t.Fatalf("stop returned %d, want 500", resp.Code)
	}
	var summary SummaryResponse
	if err := json.Unmarshal(resp.Body.Bytes(), &summary); err != nil {
		t.Fatal(err)
	}
	if summary.Success || summary.Error == "" || summary.AudioError == "" {
		t.Errorf("unexpected summary %+v", summary)
	}
}

func TestStartFailure(t *testing.T) {
	s := New(&fakeRecorder{startErr: errors.New("disk full")}, t.TempDir(), "0")
	if resp := do(t, s, http.MethodPost, "/start"); resp.Code != http.StatusInternalServerError {
		t.Errorf("start returned %d, want 500", resp.Code)
	}
}

func TestMethodNotAllowed(t *testing.T) {
	s := New(&fakeRecorder{}, t.TempDir(), "0")
	if resp := do(t, s, http.MethodGet, "/start"); resp.Code != http.StatusMethodNotAllowed {
		t.Errorf("GET /start returned %d", resp.Code)
	}
	if resp := do(t, s, http.MethodPost, "/status"); resp.Code != http.StatusMethodNotAllowed {
		t.Errorf("POST /status returned %d", resp.Code)
	}
}

func TestListRecordings(t *testing.T) {
	dir := t.TempDir()
	older := time.Date(2024, 1, 1, 10, 0, 0, 0, time.UTC)
	newer := older.Add(time.Hour)

	for i, started := range []time.Time{older, newer} {
		sc := session.Sidecar{
			SessionID: []string{"old", "new"}[i],
			Started:   started,
			SensorLog: "s.csv",
			Records:   &sensorlog.Stats{Records: i + 1},
		}
		data, err := yaml.Marshal(sc)
		if err != nil {
			t.Fatal(err)
		}
		name := filepath.Join(dir, "s"+naming.Format(started)+".yaml")
		if err := os.WriteFile(name, data, 0644); err != nil {
			t.Fatal(err)
		}
	}
	for name, body := range map[string]string{
		"sbroken.yaml": "::: not yaml",
		"snotes.yaml":  "todo: buy milk\n",
		"sempty.yaml":  "",
	} {
		if err := os.WriteFile(filepath.Join(dir, name), []byte(body), 0644); err != nil {
			t.Fatal(err)
		}
	}

	files, err := ListRecordings(dir)
	if err != nil {
		t.Fatal(err)
	}
	if len(files) != 2 {
		t.Fatalf("expected 2 recordings, got %d", len(files))
	}
	if files[0].ID != "new" || files[1].Records != 1 {
		t.Errorf("unexpected order or content: %+v", files)
	}

	missing, err := ListRecordings(filepath.Join(dir, "missing"))
	if err != nil || len(missing) != 0 {
		t.Errorf("missing dir = (%v, %v)", missing, err)
	}
}

func readStatus(t *testing.T, ws *websocket.Conn) StatusResponse {
	t.Helper()
	ws.SetReadDeadline(time.Now().Add(2 * time.Second))
	_, data, err := ws.ReadMessage()
	if err != nil {
		t.Fatalf("read message failed: %v", err)
	}
	var status StatusResponse
	if err := json.Unmarshal(data, &status); err != nil {
		t.Fatalf("invalid status message %q: %v", data, err)
	}
	return status
}

func TestWebSocketControl(t *testing.T) {
	s := New(&fakeRecorder{}, t.TempDir(), "0")
	httpSrv := httptest.NewServer(s.Handler())
	defer httpSrv.Close()

	wsURL := "ws" + strings.TrimPrefix(httpSrv.URL, "http") + "/ws"
	ws, _, err := websocket.DefaultDialer.Dial(wsURL, nil)
	if err != nil {
		t.Fatalf("websocket dial failed: %v", err)
	}
	defer ws.Close()

	if status := readStatus(t, ws); status.Status != string(session.StateIdle) {
		t.Fatalf("initial status = %s, want IDLE", status.Status)
	}

	ws.WriteMessage(websocket.TextMessage, []byte("toggle"))
	if status := readStatus(t, ws); status.Status != string(session.StateRecording) || status.Session == nil {
		t.Fatalf("status after toggle = %+v, want RECORDING", status)
	}

	ws.WriteMessage(websocket.TextMessage, []byte("stop"))
	if status := readStatus(t, ws); status.Status != string(session.StateIdle) {
		t.Fatalf("status after stop = %s, want IDLE", status.Status)
	}
}

func TestHTTPStartNotifiesWebSocket(t *testing.T) {
	s := New(&fakeRecorder{}, t.TempDir(), "0")
	httpSrv := httptest.NewServer(s.Handler())
	defer httpSrv.Close()

	wsURL := "ws" + strings.TrimPrefix(httpSrv.URL, "http") + "/ws"
	ws, _, err := websocket.DefaultDialer.Dial(wsURL, nil)
	if err != nil {
		t.Fatalf("websocket dial failed: %v", err)
	}
	defer ws.Close()
	readStatus(t, ws)

	resp, err := http.Post(httpSrv.URL+"/start", "application/json", nil)
	if err != nil {
		t.Fatal(err)
	}
	resp.Body.Close()

	if status := readStatus(t, ws); status.Status != string(session.StateRecording) {
		t.Errorf("pushed status = %s, want RECORDING", status.Status)
	}
}
