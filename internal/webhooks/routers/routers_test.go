package routers

import (
	"bytes"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/rshade/fleetscale/internal/autoscaler"
)

type fakeRecorder struct {
	values []float64
	times  []time.Time
}

func (f *fakeRecorder) Record(at time.Time, utilization float64) error {
	if utilization > 100 {
		return errors.New("utilization outside [0, 100]")
	}
	f.values = append(f.values, utilization)
	f.times = append(f.times, at)
	return nil
}

func TestSampleHandler(t *testing.T) {
	recorder := &fakeRecorder{}
	r := chi.NewRouter()
	r.Post("/webhook/samples", SampleHandler(recorder))

	at := time.Date(2026, 10, 17, 9, 0, 0, 0, time.UTC)
	payload := map[string]interface{}{"utilization": 42.5, "at": at, "source": "test"}
	body, _ := json.Marshal(payload)
	req := httptest.NewRequest("POST", "/webhook/samples", bytes.NewBuffer(body))
	w := httptest.NewRecorder()

	r.ServeHTTP(w, req)

	if w.Code != http.StatusAccepted {
		t.Errorf("Handler returned wrong status code: got %v want %v", w.Code, http.StatusAccepted)
	}
	if len(recorder.values) != 1 || recorder.values[0] != 42.5 {
		t.Fatalf("Wrong recorded values: %v", recorder.values)
	}
	if !recorder.times[0].Equal(at) {
		t.Errorf("Wrong sample time: got %v want %v", recorder.times[0], at)
	}
}

func TestSampleHandler_Rejects(t *testing.T) {
	tests := []struct {
		name string
		body string
		want int
	}{
		{"invalid json", "{", http.StatusBadRequest},
		{"missing utilization", `{"source":"test"}`, http.StatusBadRequest},
		{"out of range", `{"utilization":150}`, http.StatusUnprocessableEntity},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			recorder := &fakeRecorder{}
			req := httptest.NewRequest("POST", "/webhook/samples", bytes.NewBufferString(tt.body))
			w := httptest.NewRecorder()

			SampleHandler(recorder).ServeHTTP(w, req)

			if w.Code != tt.want {
				t.Errorf("Handler returned wrong status code: got %v want %v", w.Code, tt.want)
			}
			if len(recorder.values) != 0 {
				t.Errorf("Nothing should be recorded, got %v", recorder.values)
			}
		})
	}
}

type fakeStatus struct {
	status autoscaler.Status
}

func (f fakeStatus) Status() autoscaler.Status { return f.status }

func TestStatusHandler(t *testing.T) {
	provider := fakeStatus{status: autoscaler.Status{
		Desired:       3,
		ActiveFloors:  map[string]int{"business-hours": 3},
		ScheduleFloor: 3,
		Bounds:        autoscaler.CapacityBounds{Min: 1, Max: 5},
	}}

	req := httptest.NewRequest("GET", "/status", nil)
	w := httptest.NewRecorder()
	StatusHandler(provider).ServeHTTP(w, req)

	if w.Code != http.StatusOK {
		t.Fatalf("Handler returned wrong status code: got %v want %v", w.Code, http.StatusOK)
	}
	var got autoscaler.Status
	if err := json.Unmarshal(w.Body.Bytes(), &got); err != nil {
		t.Fatalf("Invalid JSON: %v", err)
	}
	if got.Desired != 3 || got.ActiveFloors["business-hours"] != 3 || got.Bounds.Max != 5 {
		t.Errorf("Unexpected status: %+v", got)
	}
}
