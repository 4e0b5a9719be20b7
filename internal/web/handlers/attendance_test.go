package handlers

import (
	"bytes"
	"context"
	"encoding/json"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"net/url"
	"os"
	"path/filepath"
	"testing"

	"github.com/kozaktomas/facewatch/internal/attendance"
	"github.com/kozaktomas/facewatch/internal/recognition"
)

const rosterJSON = `{"img_folder_path":"imgs","details":[
	{"name":"Alice Tan","images":["alice_01.png","alice_02.png"]},
	{"name":"Bob Lim","images":["bob.jpg"]}
]}`

func newAttendanceHandler(t *testing.T, outputPath string) (*AttendanceHandler, *attendance.Collator) {
	t.Helper()
	collator := attendance.NewCollator(attendance.NewStore(testLog(t)), testLog(t))
	t.Cleanup(collator.Close)

	// the local stream never delivers anything in these tests
	local := func(ctx context.Context) <-chan recognition.ResultSet {
		ch := make(chan recognition.ResultSet)
		go func() {
			<-ctx.Done()
			close(ch)
		}()
		return ch
	}
	return NewAttendanceHandler(collator, local, outputPath, testLog(t)), collator
}

func rosterUpload(t *testing.T, content string) *http.Request {
	t.Helper()
	var body bytes.Buffer
	writer := multipart.NewWriter(&body)
	part, err := writer.CreateFormFile("jsonFile", "people.json")
	if err != nil {
		t.Fatalf("CreateFormFile: %v", err)
	}
	part.Write([]byte(content))
	writer.Close()

	req := httptest.NewRequest(http.MethodPost, "/api/v1/attendance/roster", &body)
	req.Header.Set("Content-Type", writer.FormDataContentType())
	return req
}

func TestAttendanceHandler_UploadRosterAndCount(t *testing.T) {
	h, collator := newAttendanceHandler(t, "")

	recorder := httptest.NewRecorder()
	h.UploadRoster(recorder, rosterUpload(t, rosterJSON))
	if recorder.Code != http.StatusOK {
		t.Fatalf("expected status 200, got %d: %s", recorder.Code, recorder.Body.String())
	}

	collator.Store().Check("Alice Tan")

	recorder = httptest.NewRecorder()
	h.Count(recorder, httptest.NewRequest(http.MethodGet, "/api/v1/attendance/count", nil))

	var count attendance.Count
	if err := json.Unmarshal(recorder.Body.Bytes(), &count); err != nil {
		t.Fatalf("failed to unmarshal response: %v", err)
	}
	if count.Total != 2 || count.Detected != 1 {
		t.Errorf("unexpected count %+v", count)
	}
}

func TestAttendanceHandler_UploadRosterInvalid(t *testing.T) {
	h, _ := newAttendanceHandler(t, "")

	recorder := httptest.NewRecorder()
	h.UploadRoster(recorder, rosterUpload(t, "not json"))
	if recorder.Code != http.StatusBadRequest {
		t.Errorf("expected status 400, got %d", recorder.Code)
	}

	recorder = httptest.NewRecorder()
	h.UploadRoster(recorder, httptest.NewRequest(http.MethodPost, "/api/v1/attendance/roster", nil))
	if recorder.Code != http.StatusBadRequest {
		t.Errorf("expected status 400 without a form, got %d", recorder.Code)
	}
}

func TestAttendanceHandler_ChangeAttendance(t *testing.T) {
	h, collator := newAttendanceHandler(t, "")
	if err := collator.Store().LoadRoster([]byte(rosterJSON)); err != nil {
		t.Fatalf("LoadRoster: %v", err)
	}

	recorder := httptest.NewRecorder()
	h.ChangeAttendance(recorder, httptest.NewRequest(http.MethodPost, "/api/v1/attendance/mark?name=Bob+Lim", nil))
	if recorder.Code != http.StatusOK {
		t.Fatalf("expected status 200, got %d", recorder.Code)
	}
	if got := collator.Store().Count().Attended; got != 1 {
		t.Errorf("expected 1 attended, got %d", got)
	}

	recorder = httptest.NewRecorder()
	h.ChangeAttendance(recorder, httptest.NewRequest(http.MethodPost, "/api/v1/attendance/mark?name=Carol", nil))
	if recorder.Code != http.StatusNotFound {
		t.Errorf("expected status 404 for unknown name, got %d", recorder.Code)
	}
}

func TestAttendanceHandler_FetchSavesOutput(t *testing.T) {
	output := filepath.Join(t.TempDir(), "output.json")
	h, collator := newAttendanceHandler(t, output)
	if err := collator.Store().LoadRoster([]byte(rosterJSON)); err != nil {
		t.Fatalf("LoadRoster: %v", err)
	}

	recorder := httptest.NewRecorder()
	h.Fetch(recorder, httptest.NewRequest(http.MethodGet, "/api/v1/attendance", nil))

	var records map[string]attendance.Record
	if err := json.Unmarshal(recorder.Body.Bytes(), &records); err != nil {
		t.Fatalf("failed to unmarshal response: %v", err)
	}
	if records["Alice Tan"].ReferenceID != "alice_01" {
		t.Errorf("unexpected record %+v", records["Alice Tan"])
	}

	saved, err := os.ReadFile(output)
	if err != nil {
		t.Fatalf("output file not written: %v", err)
	}
	if !bytes.Equal(saved, recorder.Body.Bytes()) {
		t.Error("saved output should match the response")
	}
}

func TestAttendanceHandler_Collate(t *testing.T) {
	h, collator := newAttendanceHandler(t, "")

	start := func(values url.Values) int {
		recorder := httptest.NewRecorder()
		h.StartCollate(recorder, formRequest(http.MethodPost, "/api/v1/attendance/collate", values))
		return recorder.Code
	}

	if code := start(url.Values{"updateInterval": {"abc"}}); code != http.StatusBadRequest {
		t.Errorf("expected 400 for a bad interval, got %d", code)
	}
	if code := start(url.Values{"updateInterval": {"0.5"}}); code != http.StatusOK {
		t.Fatalf("expected 200 for local collation, got %d", code)
	}
	if code := start(url.Values{"updateInterval": {"0.5"}, "frUrl": {"local"}}); code != http.StatusConflict {
		t.Errorf("expected 409 for a duplicate source, got %d", code)
	}
	if code := start(url.Values{"updateInterval": {"1"}, "frUrl": {"http://127.0.0.1:1/frResults"}}); code != http.StatusBadRequest {
		t.Errorf("expected 400 for an unreachable URL, got %d", code)
	}

	sources := collator.Sources()
	if len(sources) != 1 || sources[0].Name != attendance.LocalSource {
		t.Fatalf("unexpected sources %+v", sources)
	}

	recorder := httptest.NewRecorder()
	h.StopCollate(recorder, httptest.NewRequest(http.MethodPost, "/api/v1/attendance/collate/stop", nil))
	if recorder.Code != http.StatusOK {
		t.Errorf("expected status 200, got %d", recorder.Code)
	}
	if len(collator.Sources()) != 0 {
		t.Errorf("expected no sources after stop, got %+v", collator.Sources())
	}
}
