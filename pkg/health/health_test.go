package health

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/jonboulle/clockwork"
)

func TestNewHealthChecker(t *testing.T) {
	hc := NewHealthChecker(nil)

	if hc == nil {
		t.Fatal("NewHealthChecker returned nil")
	}
	if hc.checks == nil || hc.readyChecks == nil || hc.liveChecks == nil {
		t.Error("check maps not initialized")
	}
}

func TestRegisterReadinessCheck(t *testing.T) {
	hc := NewHealthChecker(nil)

	called := false
	hc.RegisterReadinessCheck("ready-test", func() Check {
		called = true
		return Check{Status: StatusHealthy}
	})

	hc.Check()
	if called {
		t.Error("readiness check should not be called for Check()")
	}

	resp := hc.CheckReadiness()
	if !called {
		t.Error("readiness check was not called")
	}
	if got := resp.Checks["ready-test"].Name; got != "ready-test" {
		t.Errorf("check name = %q, want registered name", got)
	}
}

func TestOverallStatus(t *testing.T) {
	tests := []struct {
		name     string
		statuses []Status
		want     Status
	}{
		{"none", nil, StatusHealthy},
		{"all healthy", []Status{StatusHealthy, StatusHealthy}, StatusHealthy},
		{"one degraded", []Status{StatusHealthy, StatusDegraded}, StatusDegraded},
		{"unhealthy wins", []Status{StatusDegraded, StatusUnhealthy, StatusHealthy}, StatusUnhealthy},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			hc := NewHealthChecker(nil)
			for i, s := range tt.statuses {
				hc.RegisterCheck(string(rune('a'+i)), func() Check { return Check{Status: s} })
			}
			if got := hc.Check().Status; got != tt.want {
				t.Errorf("status = %s, want %s", got, tt.want)
			}
		})
	}
}

func TestUptime(t *testing.T) {
	clock := clockwork.NewFakeClock()
	hc := NewHealthChecker(clock)
	clock.Advance(90 * time.Second)

	if got := hc.Check().Uptime; got != 90*time.Second {
		t.Errorf("uptime = %v, want 90s", got)
	}
}

func TestTopologyCheck(t *testing.T) {
	tests := []struct {
		name   string
		loaded bool
		nodes  int
		want   Status
	}{
		{"not loaded", false, 0, StatusUnhealthy},
		{"empty", true, 0, StatusDegraded},
		{"loaded", true, 4, StatusHealthy},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			check := TopologyCheck(func() (bool, int, int, int) { return tt.loaded, tt.nodes, 3, 2 })()
			if check.Status != tt.want {
				t.Errorf("status = %s, want %s", check.Status, tt.want)
			}
			if check.Details["links"] != 3 || check.Details["routes"] != 2 {
				t.Errorf("details = %v", check.Details)
			}
		})
	}
}

func TestSwitchesCheck(t *testing.T) {
	tests := []struct {
		name    string
		summary map[string]int
		want    Status
	}{
		{"no switches", map[string]int{}, StatusHealthy},
		{"only disconnected", map[string]int{"disconnected": 2}, StatusHealthy},
		{"settling", map[string]int{"settling": 1, "synced": 3}, StatusDegraded},
		{"all synced", map[string]int{"synced": 4, "disconnected": 1}, StatusHealthy},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			check := SwitchesCheck(func() map[string]int { return tt.summary })()
			if check.Status != tt.want {
				t.Errorf("status = %s, want %s (%s)", check.Status, tt.want, check.Message)
			}
		})
	}
}

func TestBarrierCheck(t *testing.T) {
	if s := BarrierCheck(func() int { return 3 }, 10)().Status; s != StatusHealthy {
		t.Errorf("status = %s, want healthy", s)
	}
	if s := BarrierCheck(func() int { return 11 }, 10)().Status; s != StatusDegraded {
		t.Errorf("status = %s, want degraded", s)
	}
}

func TestHTTPHandlers(t *testing.T) {
	tests := []struct {
		name    string
		status  Status
		handler func(*HealthChecker) http.HandlerFunc
		reg     func(*HealthChecker, string, CheckFunc)
		want    int
	}{
		{"health degraded", StatusDegraded, (*HealthChecker).HTTPHandler, (*HealthChecker).RegisterCheck, http.StatusOK},
		{"health unhealthy", StatusUnhealthy, (*HealthChecker).HTTPHandler, (*HealthChecker).RegisterCheck, http.StatusServiceUnavailable},
		{"ready degraded", StatusDegraded, (*HealthChecker).ReadinessHandler, (*HealthChecker).RegisterReadinessCheck, http.StatusServiceUnavailable},
		{"ready healthy", StatusHealthy, (*HealthChecker).ReadinessHandler, (*HealthChecker).RegisterReadinessCheck, http.StatusOK},
		{"live healthy", StatusHealthy, (*HealthChecker).LivenessHandler, (*HealthChecker).RegisterLivenessCheck, http.StatusOK},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			hc := NewHealthChecker(nil)
			tt.reg(hc, "c", func() Check { return Check{Status: tt.status} })

			rec := httptest.NewRecorder()
			tt.handler(hc)(rec, httptest.NewRequest(http.MethodGet, "/health", nil))

			if rec.Code != tt.want {
				t.Errorf("code = %d, want %d", rec.Code, tt.want)
			}
			if ct := rec.Header().Get("Content-Type"); ct != "application/json" {
				t.Errorf("content type = %q", ct)
			}
			var resp Response
			if err := json.NewDecoder(rec.Body).Decode(&resp); err != nil {
				t.Fatalf("decode: %v", err)
			}
			if resp.Status != tt.status {
				t.Errorf("body status = %s, want %s", resp.Status, tt.status)
			}
		})
	}
}
