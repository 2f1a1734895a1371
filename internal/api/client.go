package api

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"

	"vireworkplace/attendance/internal/auth"
	"vireworkplace/attendance/internal/metrics"
)

const maxResponseBytes = 1 << 20

type TokenSource interface {
	Token(ctx context.Context) (string, error)
	Clear(ctx context.Context) error
}

type Client struct {
	baseURL string
	http    *http.Client
	tokens  TokenSource
}

func New(baseURL string, timeout time.Duration, tokens TokenSource) *Client {
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		http:    &http.Client{Timeout: timeout},
		tokens:  tokens,
	}
}

// Models

type Attendance struct {
	ID              string     `json:"_id,omitempty"`
	WorkingLocation string     `json:"workingLocation,omitempty"`
	CheckInTime     *time.Time `json:"checkInTime,omitempty"`
	CheckOutTime    *time.Time `json:"checkOutTime,omitempty"`
	DailySummary    string     `json:"dailySummary,omitempty"`
	OvertimeHours   float64    `json:"overtimeHours"`
	IsLate          bool       `json:"isLate"`
	Status          string     `json:"status,omitempty"`
}

type Status struct {
	CheckedIn  bool        `json:"checkedIn"`
	CheckedOut bool        `json:"checkedOut"`
	Attendance *Attendance `json:"attendance,omitempty"`
}

type CheckInRequest struct {
	WorkingLocation string   `json:"workingLocation"`
	Latitude        *float64 `json:"latitude,omitempty"`
	Longitude       *float64 `json:"longitude,omitempty"`
}

type CheckInResult struct {
	Attendance Attendance
	Late       bool
	Message    string
}

type CheckOutResult struct {
	Attendance    Attendance
	OvertimeHours float64
	Message       string
}

type envelope struct {
	Success *bool           `json:"success"`
	Message string          `json:"message"`
	Error   string          `json:"error"`
	Data    json.RawMessage `json:"data"`
	IsLate  *bool           `json:"isLate"`
}

// Operations

func (c *Client) Status(ctx context.Context) (Status, error) {
	var status Status
	_, err := c.do(ctx, "status", http.MethodGet, "/attendance/status", nil, &status)
	return status, err
}

func (c *Client) CheckIn(ctx context.Context, req CheckInRequest) (CheckInResult, error) {
	var att Attendance
	env, err := c.do(ctx, "checkin", http.MethodPost, "/attendance/checkin", req, &att)
	if err != nil {
		return CheckInResult{}, err
	}
	late := att.IsLate
	if env.IsLate != nil {
		late = *env.IsLate
	}
	return CheckInResult{Attendance: att, Late: late, Message: env.Message}, nil
}

func (c *Client) CheckOut(ctx context.Context, dailySummary string) (CheckOutResult, error) {
	var att Attendance
	body := map[string]string{"dailySummary": dailySummary}
	env, err := c.do(ctx, "checkout", http.MethodPatch, "/attendance/checkout", body, &att)
	if err != nil {
		return CheckOutResult{}, err
	}
	return CheckOutResult{Attendance: att, OvertimeHours: att.OvertimeHours, Message: env.Message}, nil
}

func (c *Client) do(ctx context.Context, op, method, path string, payload, out interface{}) (envelope, error) {
	env, err := c.roundTrip(ctx, method, path, payload, out)
	metrics.ObserveAPICall(op, outcomeLabel(err))
	return env, err
}

func (c *Client) roundTrip(ctx context.Context, method, path string, payload, out interface{}) (envelope, error) {
	token, err := c.tokens.Token(ctx)
	if err != nil {
		if errors.Is(err, auth.ErrMissingToken) || errors.Is(err, auth.ErrSessionExpired) {
			return envelope{}, &Error{StatusCode: http.StatusUnauthorized, Message: sessionExpiredMessage, Err: auth.ErrSessionExpired}
		}
		return envelope{}, err
	}

	var body io.Reader
	if payload != nil {
		data, err := json.Marshal(payload)
		if err != nil {
			return envelope{}, err
		}
		body = bytes.NewReader(data)
	}
	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, body)
	if err != nil {
		return envelope{}, err
	}
	req.Header.Set("Authorization", "Bearer "+token)
	req.Header.Set("Accept", "application/json")
	req.Header.Set("X-Request-ID", uuid.NewString())
	if payload != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return envelope{}, fmt.Errorf("%s %s: %w: %w", method, path, ErrTransport, err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
	if err != nil {
		return envelope{}, fmt.Errorf("%s %s: %w: %w", method, path, ErrTransport, err)
	}
	var env envelope
	if len(bytes.TrimSpace(raw)) > 0 {
		if err := json.Unmarshal(raw, &env); err != nil && resp.StatusCode < 400 {
			return envelope{}, fmt.Errorf("decode %s %s: %w", method, path, err)
		}
	}
	message := strings.TrimSpace(env.Message)
	if message == "" {
		message = strings.TrimSpace(env.Error)
	}

	if resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden {
		_ = c.tokens.Clear(ctx)
		if message == "" {
			message = sessionExpiredMessage
		}
		return env, &Error{StatusCode: resp.StatusCode, Message: message, Err: auth.ErrSessionExpired}
	}
	if resp.StatusCode >= 400 || (env.Success != nil && !*env.Success) {
		return env, &Error{StatusCode: resp.StatusCode, Message: message}
	}

	if out != nil && len(env.Data) > 0 && string(env.Data) != "null" {
		if err := json.Unmarshal(env.Data, out); err != nil {
			return env, fmt.Errorf("decode %s %s data: %w", method, path, err)
		}
	}
	return env, nil
}
