package main

import (
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fyrsmithlabs/deadlined/internal/assistant"
	"github.com/fyrsmithlabs/deadlined/internal/deadline"
	httpapi "github.com/fyrsmithlabs/deadlined/internal/http"
	"github.com/fyrsmithlabs/deadlined/internal/tracker"
)

// withServer points the CLI at h for the duration of the test.
func withServer(t *testing.T, h http.HandlerFunc) {
	t.Helper()
	srv := httptest.NewServer(h)
	prev := serverURL
	serverURL = srv.URL
	t.Cleanup(func() {
		serverURL = prev
		srv.Close()
	})
}

func TestParseDue(t *testing.T) {
	tests := []struct {
		name    string
		input   string
		want    time.Time
		wantErr bool
	}{
		{
			name:  "rfc3339",
			input: "2024-01-20T17:00:00Z",
			want:  time.Date(2024, 1, 20, 17, 0, 0, 0, time.UTC),
		},
		{
			name:  "local minute",
			input: "2024-01-20 17:00",
			want:  time.Date(2024, 1, 20, 17, 0, 0, 0, time.Local),
		},
		{
			name:  "local date",
			input: " 2024-01-20 ",
			want:  time.Date(2024, 1, 20, 0, 0, 0, 0, time.Local),
		},
		{
			name:    "garbage",
			input:   "next tuesday",
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := parseDue(tt.input)
			if tt.wantErr {
				require.Error(t, err)
				assert.True(t, errors.Is(err, errUsage))
				return
			}
			require.NoError(t, err)
			assert.True(t, tt.want.Equal(got), "got %s want %s", got, tt.want)
		})
	}
}

func TestFormatOffset(t *testing.T) {
	tests := []struct {
		seconds int64
		want    string
	}{
		{0, "at due time"},
		{-3600, "1h0m0s before"},
		{-86400, "24h0m0s before"},
		{900, "15m0s after"},
	}
	for _, tt := range tests {
		if got := formatOffset(tt.seconds); got != tt.want {
			t.Errorf("formatOffset(%d) = %q, want %q", tt.seconds, got, tt.want)
		}
	}
}

func TestTruncate(t *testing.T) {
	tests := []struct {
		name   string
		input  string
		maxLen int
		want   string
	}{
		{"shorter than max", "hello", 10, "hello"},
		{"equal to max", "hello", 5, "hello"},
		{"longer than max", "hello world", 8, "hello..."},
		{"very short max", "hello", 3, "..."},
		{"multibyte", "réunion à midi", 8, "réuni..."},
		{"empty", "", 10, ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := truncate(tt.input, tt.maxLen); got != tt.want {
				t.Errorf("truncate(%q, %d) = %q, want %q", tt.input, tt.maxLen, got, tt.want)
			}
		})
	}
}

func TestBuildCreateRequest(t *testing.T) {
	addDue = "2024-01-20T17:00:00Z"
	addOffsets = []int64{-3600, 0}
	addChannels = []string{"desktop", "mobile-push"}
	addPriority = "high"
	t.Cleanup(func() {
		addDue, addOffsets, addChannels, addPriority = "", nil, nil, ""
	})

	req, err := buildCreateRequest("Submit report")
	require.NoError(t, err)

	assert.Equal(t, "Submit report", req.Title)
	assert.Equal(t, deadline.PriorityHigh, req.Priority)
	require.Len(t, req.Rules, 4)
	assert.Equal(t, tracker.RuleSpec{OffsetSeconds: -3600, Channel: deadline.ChannelDesktop}, req.Rules[0])
	assert.Equal(t, tracker.RuleSpec{OffsetSeconds: 0, Channel: deadline.ChannelMobilePush}, req.Rules[3])
}

func TestBuildCreateRequest_NoOffsetsLeavesServerDefaults(t *testing.T) {
	addDue = "2024-01-20"
	t.Cleanup(func() { addDue = "" })

	req, err := buildCreateRequest("Pay rent")
	require.NoError(t, err)
	assert.Empty(t, req.Rules)
}

func TestCall(t *testing.T) {
	t.Run("decodes success", func(t *testing.T) {
		withServer(t, func(w http.ResponseWriter, r *http.Request) {
			assert.Equal(t, http.MethodPost, r.Method)
			assert.Equal(t, "/api/v1/extract", r.URL.Path)
			assert.Equal(t, "application/json", r.Header.Get("Content-Type"))

			var req httpapi.ExtractRequest
			assert.NoError(t, json.NewDecoder(r.Body).Decode(&req))
			assert.Equal(t, "pattern", req.Provider)

			_ = json.NewEncoder(w).Encode(httpapi.ExtractResponse{Interpreter: "pattern"})
		})

		var resp httpapi.ExtractResponse
		err := call(http.MethodPost, "/api/v1/extract", httpapi.ExtractRequest{Text: "x", Provider: "pattern"}, &resp)
		require.NoError(t, err)
		assert.Equal(t, "pattern", resp.Interpreter)
	})

	t.Run("surfaces api error message", func(t *testing.T) {
		withServer(t, func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusNotFound)
			_ = json.NewEncoder(w).Encode(httpapi.ErrorResponse{Error: "deadline not found"})
		})

		err := call(http.MethodGet, "/api/v1/deadlines/missing", nil, &deadline.Deadline{})
		require.Error(t, err)
		assert.Equal(t, "server returned status 404: deadline not found", err.Error())
	})

	t.Run("plain text error body", func(t *testing.T) {
		withServer(t, func(w http.ResponseWriter, r *http.Request) {
			http.Error(w, "bad gateway", http.StatusBadGateway)
		})

		err := call(http.MethodGet, "/health", nil, nil)
		require.Error(t, err)
		assert.Contains(t, err.Error(), "502: bad gateway")
	})

	t.Run("no content", func(t *testing.T) {
		withServer(t, func(w http.ResponseWriter, r *http.Request) {
			assert.Equal(t, http.MethodDelete, r.Method)
			w.WriteHeader(http.StatusNoContent)
		})

		var out deadline.Deadline
		require.NoError(t, call(http.MethodDelete, deadlinePath("a b"), nil, &out))
	})
}

func TestRunDone_SendsStatusUpdate(t *testing.T) {
	withServer(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPut, r.Method)
		assert.Equal(t, "/api/v1/deadlines/d1", r.URL.Path)

		var body map[string]any
		assert.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		assert.Equal(t, map[string]any{"status": "done"}, body)

		_ = json.NewEncoder(w).Encode(deadline.Deadline{ID: "d1", Status: deadline.StatusDone})
	})

	require.NoError(t, runDone(doneCmd, []string{"d1"}))
}

func TestRunAsk(t *testing.T) {
	t.Run("joins words into one question", func(t *testing.T) {
		withServer(t, func(w http.ResponseWriter, r *http.Request) {
			assert.Equal(t, http.MethodPost, r.Method)
			assert.Equal(t, "/api/v1/chat", r.URL.Path)

			var req httpapi.ChatRequest
			assert.NoError(t, json.NewDecoder(r.Body).Decode(&req))
			assert.Equal(t, "what is due this week", req.Question)

			_ = json.NewEncoder(w).Encode(assistant.Answer{Answer: "Nothing this week."})
		})

		require.NoError(t, runAsk(askCmd, []string{"what", "is", "due", "this", "week"}))
	})

	t.Run("requires a question", func(t *testing.T) {
		err := runAsk(askCmd, nil)
		assert.True(t, errors.Is(err, errUsage))
	})
}
