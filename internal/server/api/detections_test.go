package api

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"
	"time"

	"github.com/ayusman/mudra/internal/app"
	"github.com/ayusman/mudra/internal/store"
)

// newTestStore creates a new Store with a temporary database for testing.
func newTestStore(t *testing.T) *store.Store {
	t.Helper()

	s, err := store.New(filepath.Join(t.TempDir(), "test.db"))
	if err != nil {
		t.Fatalf("failed to create store: %v", err)
	}
	t.Cleanup(func() {
		s.Close()
	})

	return s
}

func serve(h http.Handler, method, target string, body []byte) *httptest.ResponseRecorder {
	var req *http.Request
	if body != nil {
		req = httptest.NewRequest(method, target, bytes.NewReader(body))
		req.Header.Set("Content-Type", "application/json")
	} else {
		req = httptest.NewRequest(method, target, nil)
	}
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func TestDetectionHandler_List(t *testing.T) {
	s := newTestStore(t)
	now := time.Date(2026, 3, 14, 15, 0, 0, 0, time.UTC)

	seed := []*store.Detection{
		{Kind: store.KindSign, Label: "hello", Confidence: 0.9, DetectedAt: now.Add(-48 * time.Hour)},
		{Kind: store.KindSign, Label: "yes", Confidence: 0.8, DetectedAt: now.Add(-time.Hour)},
		{Kind: store.KindSpeech, Label: "magandang umaga", Confidence: 1, DetectedAt: now.Add(-time.Minute)},
	}
	for _, d := range seed {
		if err := s.Detections().Create(d); err != nil {
			t.Fatalf("failed to create detection: %v", err)
		}
	}

	handler := NewDetectionHandler(s, nil)
	handler.now = func() time.Time { return now }

	rec := serve(handler, http.MethodGet, "/api/detections?type=sign", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected status %d, got %d", http.StatusOK, rec.Code)
	}

	contentType := rec.Header().Get("Content-Type")
	if contentType != "application/json" {
		t.Errorf("expected Content-Type application/json, got %s", contentType)
	}

	var response listDetectionsResponse
	if err := json.NewDecoder(rec.Body).Decode(&response); err != nil {
		t.Fatalf("failed to decode response: %v", err)
	}

	if len(response.Detections) != 2 {
		t.Fatalf("expected 2 detections, got %d", len(response.Detections))
	}
	if response.Detections[0].Label != "yes" {
		t.Errorf("expected newest detection first, got %q", response.Detections[0].Label)
	}
	if response.TotalToday != 1 {
		t.Errorf("expected 1 sign today, got %d", response.TotalToday)
	}

	rec = serve(handler, http.MethodGet, "/api/detections?limit=1", nil)
	response = listDetectionsResponse{}
	json.NewDecoder(rec.Body).Decode(&response)
	if len(response.Detections) != 1 || response.Detections[0].Label != "magandang umaga" {
		t.Errorf("limit=1 returned %+v", response.Detections)
	}
	if response.TotalToday != 2 {
		t.Errorf("expected 2 detections today across kinds, got %d", response.TotalToday)
	}
}

func TestDetectionHandler_ListEmpty(t *testing.T) {
	handler := NewDetectionHandler(newTestStore(t), nil)

	rec := serve(handler, http.MethodGet, "/api/detections", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected status %d, got %d", http.StatusOK, rec.Code)
	}

	var raw map[string]json.RawMessage
	if err := json.NewDecoder(rec.Body).Decode(&raw); err != nil {
		t.Fatalf("failed to decode response: %v", err)
	}
	if string(raw["detections"]) != "[]" {
		t.Errorf("expected empty array, got %s", raw["detections"])
	}
}

func TestDetectionHandler_ListRejectsBadQuery(t *testing.T) {
	handler := NewDetectionHandler(newTestStore(t), nil)

	for _, target := range []string{
		"/api/detections?type=gesture",
		"/api/detections?limit=0",
		"/api/detections?limit=many",
	} {
		rec := serve(handler, http.MethodGet, target, nil)
		if rec.Code != http.StatusBadRequest {
			t.Errorf("%s: expected status %d, got %d", target, http.StatusBadRequest, rec.Code)
		}
	}
}

func TestDetectionHandler_Create(t *testing.T) {
	s := newTestStore(t)
	handler := NewDetectionHandler(s, nil)

	body, _ := json.Marshal(map[string]any{"label": "thanks", "translation": "salamat", "confidence": 0.87})
	rec := serve(handler, http.MethodPost, "/api/detections", body)
	if rec.Code != http.StatusCreated {
		t.Fatalf("expected status %d, got %d: %s", http.StatusCreated, rec.Code, rec.Body.String())
	}

	var created store.Detection
	if err := json.NewDecoder(rec.Body).Decode(&created); err != nil {
		t.Fatalf("failed to decode response: %v", err)
	}
	if created.ID == "" {
		t.Error("expected an ID to be assigned")
	}
	if created.Kind != store.KindSign {
		t.Errorf("expected kind to default to sign, got %q", created.Kind)
	}

	got, err := s.Detections().GetByID(created.ID)
	if err != nil {
		t.Fatalf("failed to read back detection: %v", err)
	}
	if got.Label != "thanks" || got.Translation != "salamat" || got.Confidence != 0.87 {
		t.Errorf("stored detection = %+v", got)
	}
}

func TestDetectionHandler_CreateSpeechDefaultsToFullConfidence(t *testing.T) {
	handler := NewDetectionHandler(newTestStore(t), nil)

	rec := serve(handler, http.MethodPost, "/api/detections", []byte(`{"type":"speech","label":"salamat po"}`))
	if rec.Code != http.StatusCreated {
		t.Fatalf("expected status %d, got %d", http.StatusCreated, rec.Code)
	}

	var created store.Detection
	json.NewDecoder(rec.Body).Decode(&created)
	if created.Confidence != 1.0 {
		t.Errorf("expected confidence 1.0, got %v", created.Confidence)
	}
}

func TestDetectionHandler_CreateFromLatest(t *testing.T) {
	at := time.Date(2026, 3, 14, 9, 30, 0, 0, time.UTC)
	current := app.Detection{Label: "iloveyou", Confidence: 0.72, Timestamp: at, Translation: "mahal kita"}
	handler := NewDetectionHandler(newTestStore(t), func() app.Detection { return current })

	rec := serve(handler, http.MethodPost, "/api/detections", nil)
	if rec.Code != http.StatusCreated {
		t.Fatalf("expected status %d, got %d: %s", http.StatusCreated, rec.Code, rec.Body.String())
	}

	var created store.Detection
	json.NewDecoder(rec.Body).Decode(&created)
	if created.Label != "iloveyou" || created.Translation != "mahal kita" || created.Confidence != 0.72 {
		t.Errorf("created = %+v", created)
	}
	if !created.DetectedAt.Equal(at) {
		t.Errorf("expected detected_at %v, got %v", at, created.DetectedAt)
	}

	current = app.Detection{}
	rec = serve(handler, http.MethodPost, "/api/detections", nil)
	if rec.Code != http.StatusBadRequest {
		t.Errorf("expected status %d with nothing detected, got %d", http.StatusBadRequest, rec.Code)
	}
}

func TestDetectionHandler_CreateValidation(t *testing.T) {
	handler := NewDetectionHandler(newTestStore(t), nil)

	tests := []struct {
		name string
		body string
	}{
		{"invalid json", `{"label":`},
		{"no label", `{"type":"sign"}`},
		{"bad type", `{"type":"gesture","label":"a"}`},
		{"confidence too high", `{"label":"a","confidence":1.5}`},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := serve(handler, http.MethodPost, "/api/detections", []byte(tt.body))
			if rec.Code != http.StatusBadRequest {
				t.Errorf("expected status %d, got %d", http.StatusBadRequest, rec.Code)
			}
		})
	}
}

func TestDetectionHandler_GetAndDelete(t *testing.T) {
	s := newTestStore(t)
	handler := NewDetectionHandler(s, nil)

	d := &store.Detection{Kind: store.KindSign, Label: "no", Confidence: 0.66}
	if err := s.Detections().Create(d); err != nil {
		t.Fatalf("failed to create detection: %v", err)
	}

	rec := serve(handler, http.MethodGet, "/api/detections/"+d.ID, nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("GET expected status %d, got %d", http.StatusOK, rec.Code)
	}

	rec = serve(handler, http.MethodDelete, "/api/detections/"+d.ID, nil)
	if rec.Code != http.StatusNoContent {
		t.Fatalf("DELETE expected status %d, got %d", http.StatusNoContent, rec.Code)
	}

	rec = serve(handler, http.MethodDelete, "/api/detections/"+d.ID, nil)
	if rec.Code != http.StatusNotFound {
		t.Errorf("second DELETE expected status %d, got %d", http.StatusNotFound, rec.Code)
	}

	rec = serve(handler, http.MethodGet, "/api/detections/"+d.ID, nil)
	if rec.Code != http.StatusNotFound {
		t.Errorf("GET after delete expected status %d, got %d", http.StatusNotFound, rec.Code)
	}
}

func TestDetectionHandler_DeleteByKind(t *testing.T) {
	s := newTestStore(t)
	handler := NewDetectionHandler(s, nil)

	for _, d := range []*store.Detection{
		{Kind: store.KindSign, Label: "a"},
		{Kind: store.KindSign, Label: "b"},
		{Kind: store.KindSpeech, Label: "kumusta"},
	} {
		if err := s.Detections().Create(d); err != nil {
			t.Fatalf("failed to create detection: %v", err)
		}
	}

	rec := serve(handler, http.MethodDelete, "/api/detections", nil)
	if rec.Code != http.StatusBadRequest {
		t.Errorf("DELETE without type expected status %d, got %d", http.StatusBadRequest, rec.Code)
	}

	rec = serve(handler, http.MethodDelete, "/api/detections?type=sign", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected status %d, got %d", http.StatusOK, rec.Code)
	}
	var resp struct {
		Deleted int64 `json:"deleted"`
	}
	json.NewDecoder(rec.Body).Decode(&resp)
	if resp.Deleted != 2 {
		t.Errorf("expected 2 deleted, got %d", resp.Deleted)
	}

	remaining, err := s.Detections().List("", 0)
	if err != nil {
		t.Fatalf("failed to list detections: %v", err)
	}
	if len(remaining) != 1 || remaining[0].Kind != store.KindSpeech {
		t.Errorf("expected only the speech detection to remain, got %+v", remaining)
	}
}

func TestDetectionHandler_MethodNotAllowed(t *testing.T) {
	handler := NewDetectionHandler(newTestStore(t), nil)

	rec := serve(handler, http.MethodPut, "/api/detections", nil)
	if rec.Code != http.StatusMethodNotAllowed {
		t.Errorf("expected status %d, got %d", http.StatusMethodNotAllowed, rec.Code)
	}
	rec = serve(handler, http.MethodPost, "/api/detections/abc", nil)
	if rec.Code != http.StatusMethodNotAllowed {
		t.Errorf("expected status %d, got %d", http.StatusMethodNotAllowed, rec.Code)
	}
}
