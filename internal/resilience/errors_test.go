package resilience

import (
	"context"
	"errors"
	"fmt"
	"syscall"
	"testing"

	"github.com/sells-group/ncsr-ingest/internal/model"
)

func TestIsTransient(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want bool
	}{
		{"nil", nil, false},
		{"plain error", errors.New("boom"), false},
		{"transient error", NewTransientError(errors.New("503"), 503), true},
		{"wrapped transient", fmt.Errorf("outer: %w", NewTransientError(errors.New("429"), 429)), true},
		{"econnreset", syscall.ECONNRESET, true},
		{"econnrefused", fmt.Errorf("dial: %w", syscall.ECONNREFUSED), true},
		{"connection reset string", errors.New("read tcp: connection reset by peer"), true},
		{"no such host", errors.New("dial tcp: lookup www.sec.gov: no such host"), true},
		{"io timeout string", errors.New("read: i/o timeout"), true},
		{"parse failure", errors.New("sgml: missing header terminator"), false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := IsTransient(tt.err); got != tt.want {
				t.Errorf("IsTransient(%v) = %v, want %v", tt.err, got, tt.want)
			}
		})
	}
}

func TestIsTransientHTTPStatus(t *testing.T) {
	transient := []int{408, 429, 500, 502, 503, 504}
	for _, code := range transient {
		if !IsTransientHTTPStatus(code) {
			t.Errorf("expected %d to be transient", code)
		}
	}
	permanent := []int{200, 301, 400, 401, 403, 404, 501}
	for _, code := range permanent {
		if IsTransientHTTPStatus(code) {
			t.Errorf("expected %d to be permanent", code)
		}
	}
}

func TestFetchError_Unwrap(t *testing.T) {
	inner := NewTransientError(errors.New("service unavailable"), 503)
	fe := &FetchError{URL: "https://www.sec.gov/x.idx", StatusCode: 503, Err: inner}

	var te *TransientError
	if !errors.As(fe, &te) {
		t.Error("expected FetchError to unwrap to TransientError")
	}
	if te.StatusCode != 503 {
		t.Errorf("expected status 503, got %d", te.StatusCode)
	}
}

func TestClassify(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want model.FailureType
	}{
		{"nil", nil, ""},
		{"deadline exceeded", context.DeadlineExceeded, model.FailureTimeout},
		{"wrapped deadline", fmt.Errorf("parse: %w", context.DeadlineExceeded), model.FailureTimeout},
		{"out of memory", errors.New("runtime: out of memory"), model.FailureMemory},
		{"cannot allocate", errors.New("mmap: cannot allocate memory"), model.FailureMemory},
		{"fetch error", &FetchError{URL: "https://www.sec.gov/a.txt", StatusCode: 503, Err: errors.New("503")}, model.FailureNetwork},
		{"transient", NewTransientError(errors.New("reset"), 0), model.FailureNetwork},
		{"connection reset", errors.New("connection reset by peer"), model.FailureNetwork},
		{"anything else", errors.New("store: save result: constraint violation"), model.FailureProcessing},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := Classify(tt.err); got != tt.want {
				t.Errorf("Classify(%v) = %q, want %q", tt.err, got, tt.want)
			}
		})
	}
}
