package http

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/crstnmac/FencePing-sub003/module/engine/domain"
)

type mockStates struct {
	fn func(deviceID string) (map[string]*domain.ContainmentState, error)
}

func (m *mockStates) ListByDevice(_ context.Context, deviceID string) (map[string]*domain.ContainmentState, error) {
	return m.fn(deviceID)
}

type mockEvents struct {
	fn func(deviceID string, limit int) ([]domain.GeofenceEvent, error)
}

func (m *mockEvents) RecentByDevice(_ context.Context, deviceID string, limit int) ([]domain.GeofenceEvent, error) {
	return m.fn(deviceID, limit)
}

func testRouter(states stateReader, events eventReader) *gin.Engine {
	gin.SetMode(gin.TestMode)
	r := gin.New()
	NewStateHandler(states, events).Register(&r.RouterGroup)
	return r
}

func TestDeviceStates(t *testing.T) {
	states := &mockStates{fn: func(deviceID string) (map[string]*domain.ContainmentState, error) {
		return map[string]*domain.ContainmentState{
			"gf-1": {Status: domain.StatusInside, LastSampleAt: time.Now()},
		}, nil
	}}
	r := testRouter(states, &mockEvents{})

	w := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/devices/dev-1/states", nil)
	r.ServeHTTP(w, req)

	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", w.Code)
	}
	var body struct {
		DeviceID string                              `json:"device_id"`
		States   map[string]*domain.ContainmentState `json:"states"`
	}
	if err := json.Unmarshal(w.Body.Bytes(), &body); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if body.DeviceID != "dev-1" {
		t.Errorf("device_id = %s", body.DeviceID)
	}
	if body.States["gf-1"] == nil || body.States["gf-1"].Status != domain.StatusInside {
		t.Errorf("states wrong: %+v", body.States)
	}
}

func TestDeviceStates_Error(t *testing.T) {
	states := &mockStates{fn: func(_ string) (map[string]*domain.ContainmentState, error) {
		return nil, errors.New("db down")
	}}
	r := testRouter(states, &mockEvents{})

	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/devices/dev-1/states", nil))
	if w.Code != http.StatusInternalServerError {
		t.Fatalf("status = %d, want 500", w.Code)
	}
}

func TestDeviceEvents_LimitValidation(t *testing.T) {
	events := &mockEvents{fn: func(_ string, limit int) ([]domain.GeofenceEvent, error) {
		return nil, nil
	}}
	r := testRouter(&mockStates{}, events)

	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/devices/dev-1/events?limit=0", nil))
	if w.Code != http.StatusBadRequest {
		t.Fatalf("status = %d, want 400", w.Code)
	}

	w = httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/devices/dev-1/events?limit=junk", nil))
	if w.Code != http.StatusBadRequest {
		t.Fatalf("status = %d, want 400", w.Code)
	}
}

func TestDeviceEvents_DefaultLimit(t *testing.T) {
	var gotLimit int
	events := &mockEvents{fn: func(_ string, limit int) ([]domain.GeofenceEvent, error) {
		gotLimit = limit
		return []domain.GeofenceEvent{}, nil
	}}
	r := testRouter(&mockStates{}, events)

	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/devices/dev-1/events", nil))
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", w.Code)
	}
	if gotLimit != 50 {
		t.Errorf("default limit = %d, want 50", gotLimit)
	}
}
