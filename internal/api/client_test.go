package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"vireworkplace/attendance/internal/auth"
	"vireworkplace/attendance/internal/markers"
)

func newTestClient(t *testing.T, handler http.HandlerFunc) (*Client, *markers.MemoryStorage) {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)
	storage := markers.NewMemoryStorage()
	_ = storage.Set(context.Background(), "authToken", "stored-token")
	tokens := auth.NewDefaultTokens(auth.NewMemoryLocation(""), storage)
	return New(srv.URL+"/api/v1/", 5*time.Second, tokens), storage
}

func writeJSON(w http.ResponseWriter, status int, payload interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

func TestCheckInSendsBearerAndBody(t *testing.T) {
	client, _ := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost || r.URL.Path != "/api/v1/attendance/checkin" {
			t.Errorf("unexpected request %s %s", r.Method, r.URL.Path)
		}
		if got := r.Header.Get("Authorization"); got != "Bearer stored-token" {
			t.Errorf("unexpected authorization %q", got)
		}
		if r.Header.Get("X-Request-ID") == "" {
			t.Errorf("expected request id header")
		}
		var body map[string]interface{}
		if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
			t.Errorf("decode body: %v", err)
		}
		if body["workingLocation"] != "office" || body["latitude"] != 5.767477 {
			t.Errorf("unexpected body %v", body)
		}
		writeJSON(w, http.StatusCreated, map[string]interface{}{
			"success": true,
			"message": "Checked in successfully",
			"isLate":  true,
			"data":    map[string]interface{}{"workingLocation": "office", "checkInTime": "2026-10-19T09:20:00Z"},
		})
	})

	lat, lng := 5.767477, -0.180019
	res, err := client.CheckIn(context.Background(), CheckInRequest{WorkingLocation: "office", Latitude: &lat, Longitude: &lng})
	if err != nil {
		t.Fatalf("check-in error: %v", err)
	}
	if !res.Late || res.Attendance.WorkingLocation != "office" || res.Attendance.CheckInTime == nil {
		t.Fatalf("unexpected result %+v", res)
	}
}

func TestRemoteCheckInOmitsCoordinates(t *testing.T) {
	client, _ := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		var body map[string]interface{}
		_ = json.NewDecoder(r.Body).Decode(&body)
		if _, ok := body["latitude"]; ok {
			t.Errorf("remote check-in must not send coordinates: %v", body)
		}
		writeJSON(w, http.StatusOK, map[string]interface{}{"success": true})
	})
	if _, err := client.CheckIn(context.Background(), CheckInRequest{WorkingLocation: "remote"}); err != nil {
		t.Fatalf("check-in error: %v", err)
	}
}

func TestCheckOutOvertime(t *testing.T) {
	client, _ := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPatch || r.URL.Path != "/api/v1/attendance/checkout" {
			t.Errorf("unexpected request %s %s", r.Method, r.URL.Path)
		}
		writeJSON(w, http.StatusOK, map[string]interface{}{
			"success": true,
			"data":    map[string]interface{}{"overtimeHours": 1.5, "dailySummary": "done"},
		})
	})
	res, err := client.CheckOut(context.Background(), "done")
	if err != nil {
		t.Fatalf("checkout error: %v", err)
	}
	if res.OvertimeHours != 1.5 {
		t.Fatalf("expected overtime 1.5, got %v", res.OvertimeHours)
	}
}

func TestErrorClassification(t *testing.T) {
	cases := []struct {
		status  int
		message string
		check   func(error) bool
	}{
		{http.StatusBadRequest, "You have Already Checked Out today", IsAlreadyCheckedOut},
		{http.StatusConflict, "User already checked in for today", IsAlreadyCheckedIn},
		{http.StatusNotFound, "No attendance record found", IsNotFound},
	}
	for _, tc := range cases {
		client, _ := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
			writeJSON(w, tc.status, map[string]interface{}{"success": false, "message": tc.message})
		})
		_, err := client.CheckOut(context.Background(), "summary")
		if err == nil || !tc.check(err) {
			t.Fatalf("status %d: unexpected classification for %v", tc.status, err)
		}
		if Message(err, "fallback") != tc.message {
			t.Fatalf("expected server message, got %q", Message(err, "fallback"))
		}
	}
}

func TestSuccessFalseIsError(t *testing.T) {
	client, _ := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, map[string]interface{}{"success": false, "message": "Validation failed"})
	})
	_, err := client.CheckIn(context.Background(), CheckInRequest{WorkingLocation: "remote"})
	var apiErr *Error
	if !errors.As(err, &apiErr) || apiErr.Message != "Validation failed" {
		t.Fatalf("expected api error, got %v", err)
	}
}

func TestUnauthorizedClearsTokens(t *testing.T) {
	for _, status := range []int{http.StatusUnauthorized, http.StatusForbidden} {
		client, storage := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
			writeJSON(w, status, map[string]interface{}{"message": "jwt expired"})
		})
		_, err := client.Status(context.Background())
		if !IsAuth(err) {
			t.Fatalf("status %d: expected auth error, got %v", status, err)
		}
		if _, ok, _ := storage.Get(context.Background(), "authToken"); ok {
			t.Fatalf("status %d: expected stored token cleared", status)
		}
	}
}

func TestMissingTokenSkipsNetwork(t *testing.T) {
	called := false
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		called = true
	}))
	defer srv.Close()
	client := New(srv.URL, time.Second, auth.NewTokens(auth.NewMemoryLocation("")))
	_, err := client.Status(context.Background())
	if !IsAuth(err) {
		t.Fatalf("expected auth error, got %v", err)
	}
	if called {
		t.Fatalf("expected no request without a token")
	}
}

func TestTransportError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		time.Sleep(200 * time.Millisecond)
	}))
	defer srv.Close()
	client := New(srv.URL, 20*time.Millisecond, auth.NewTokens(auth.NewMemoryLocation("abc")))
	_, err := client.Status(context.Background())
	if !IsTransport(err) {
		t.Fatalf("expected transport error, got %v", err)
	}
}

func TestStatus(t *testing.T) {
	client, _ := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, map[string]interface{}{
			"success": true,
			"data": map[string]interface{}{
				"checkedIn":  true,
				"checkedOut": false,
				"attendance": map[string]interface{}{"workingLocation": "remote"},
			},
		})
	})
	status, err := client.Status(context.Background())
	if err != nil {
		t.Fatalf("status error: %v", err)
	}
	if !status.CheckedIn || status.CheckedOut || status.Attendance == nil || status.Attendance.WorkingLocation != "remote" {
		t.Fatalf("unexpected status %+v", status)
	}
}
