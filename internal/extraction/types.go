package extraction

import (
	"context"
	"errors"
)

// Interpreter names in canonical chain order.
const (
	NameCloud   = "cloud"
	NameLocal   = "local"
	NamePattern = "pattern"
)

// Sentinel errors.
var (
	// ErrAllInterpretersFailed is returned when no interpreter produced a result.
	ErrAllInterpretersFailed = errors.New("all interpreters failed")

	// ErrNotConfigured means an interpreter lacks required credentials.
	ErrNotConfigured = errors.New("interpreter not configured")

	// ErrUnknownInterpreter is returned for an override naming no interpreter.
	ErrUnknownInterpreter = errors.New("unknown interpreter")

	// ErrMalformedOutput means a model reply held no parseable candidate list.
	ErrMalformedOutput = errors.New("malformed model output")
)

// Candidate is one deadline found in text. Date is YYYY-MM-DD for model
// output and the matched text for pattern output; Time is HH:MM or nil.
type Candidate struct {
	Task string  `json:"task"`
	Date string  `json:"date"`
	Time *string `json:"time"`
}

// Interpreter turns free text into candidates.
type Interpreter interface {
	// Name identifies the interpreter for overrides and status.
	Name() string

	// Extract returns the candidates in text. An empty slice with a nil
	// error is a final answer.
	Extract(ctx context.Context, text string) ([]Candidate, error)

	// Available reports whether the interpreter can currently be used.
	// It must not run an extraction.
	Available(ctx context.Context) Availability
}

// Completer sends one prompt to a language model and returns its reply.
type Completer interface {
	Complete(ctx context.Context, prompt string) (string, error)
}

// Pinger is implemented by completers that can probe their backend.
type Pinger interface {
	Ping(ctx context.Context) error
}

// Availability is the status of one interpreter.
type Availability struct {
	Name      string `json:"name"`
	Available bool   `json:"available"`
	Provider  string `json:"provider,omitempty"`
	Model     string `json:"model,omitempty"`
	Reason    string `json:"reason,omitempty"`
}

// FailureKind classifies why an interpreter attempt failed.
type FailureKind string

const (
	FailureNone        FailureKind = ""
	FailureUnavailable FailureKind = "unavailable"
	FailureTransport   FailureKind = "transport"
	FailureMalformed   FailureKind = "malformed-output"
	FailureOther       FailureKind = "other"
)

// Attempt records one interpreter try.
type Attempt struct {
	Interpreter string      `json:"interpreter"`
	Failure     FailureKind `json:"failure,omitempty"`
	Error       string      `json:"error,omitempty"`
}

// Result is the outcome of a chain extraction.
type Result struct {
	Candidates []Candidate `json:"candidates"`
	// Interpreter is the name of the interpreter that produced Candidates,
	// empty when every interpreter failed.
	Interpreter string    `json:"interpreter,omitempty"`
	Attempts    []Attempt `json:"attempts"`
}

// FromModel reports whether the candidates came from a language model.
func (r Result) FromModel() bool {
	return r.Interpreter == NameCloud || r.Interpreter == NameLocal
}
