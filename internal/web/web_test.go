package web

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
)

func TestStatusWriter(t *testing.T) {
	w := httptest.NewRecorder()
	sw := &StatusWriter{ResponseWriter: w, Code: 200}

	sw.WriteHeader(http.StatusNotFound)
	if sw.Code != http.StatusNotFound {
		t.Errorf("expected Code 404, got %d", sw.Code)
	}
	if w.Code != http.StatusNotFound {
		t.Errorf("expected recorded code 404, got %d", w.Code)
	}

	// Test default code
	w2 := httptest.NewRecorder()
	sw2 := &StatusWriter{ResponseWriter: w2, Code: 200}
	sw2.Write([]byte("ok"))
	if sw2.Code != 200 {
		t.Errorf("expected default code 200, got %d", sw2.Code)
	}
}

func TestStatusWriterHijackUnsupported(t *testing.T) {
	sw := &StatusWriter{ResponseWriter: httptest.NewRecorder()}
	if _, _, err := sw.Hijack(); err == nil {
		t.Errorf("expected error when underlying writer is not a Hijacker")
	}
}

func TestJSON(t *testing.T) {
	w := httptest.NewRecorder()
	data := map[string]string{"foo": "bar"}
	JSON(w, http.StatusCreated, data)

	if w.Code != http.StatusCreated {
		t.Errorf("expected status 201, got %d", w.Code)
	}
	if ct := w.Header().Get("Content-Type"); ct != "application/json" {
		t.Errorf("expected content-type application/json, got %q", ct)
	}
	expectedBody := `{"foo":"bar"}` + "\n"
	if w.Body.String() != expectedBody {
		t.Errorf("expected body %q, got %q", expectedBody, w.Body.String())
	}
}

func TestOK(t *testing.T) {
	w := httptest.NewRecorder()
	OK(w, map[string]string{"tabId": "tab_1"})

	if w.Code != 200 {
		t.Fatalf("expected status 200, got %d", w.Code)
	}

	var env Envelope
	if err := json.Unmarshal(w.Body.Bytes(), &env); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if !env.Success {
		t.Errorf("expected success=true")
	}
	if env.Error != "" || env.Code != "" {
		t.Errorf("success envelope must not carry error/code, got %+v", env)
	}
}

func TestFail(t *testing.T) {
	tests := []struct {
		name     string
		status   int
		code     string
		message  string
		wantCode bool
	}{
		{"with code", 401, "INVALID_CREDENTIALS", "invalid credentials", true},
		{"without code", 404, "", "tab not found: tab_x", false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := httptest.NewRecorder()
			Fail(w, tt.status, tt.code, tt.message)

			if w.Code != tt.status {
				t.Fatalf("expected %d, got %d", tt.status, w.Code)
			}

			var raw map[string]any
			if err := json.Unmarshal(w.Body.Bytes(), &raw); err != nil {
				t.Fatalf("unmarshal: %v", err)
			}
			if raw["success"] != false {
				t.Errorf("expected success=false")
			}
			if raw["error"] != tt.message {
				t.Errorf("expected error %q, got %v", tt.message, raw["error"])
			}
			if _, hasCode := raw["code"]; hasCode != tt.wantCode {
				t.Errorf("code presence = %v, want %v", hasCode, tt.wantCode)
			}
			if _, hasData := raw["data"]; hasData {
				t.Errorf("failure envelope must not carry data")
			}
		})
	}
}
