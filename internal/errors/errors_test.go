package errors

import (
	"fmt"
	"io"
	"testing"
)

func TestNetworkError_Format(t *testing.T) {
	tests := []struct {
		name string
		err  NetworkError
		want string
	}{
		{
			name: "retryable",
			err:  NetworkError{Op: "dial", Addr: "example.com:5555", Err: io.EOF, Retryable: true},
			want: "dial example.com:5555: EOF (retryable)",
		},
		{
			name: "non-retryable",
			err:  NetworkError{Op: "listen", Addr: ":5555", Err: fmt.Errorf("bind failed")},
			want: "listen :5555: bind failed",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.err.Error(); got != tt.want {
				t.Errorf("got %q, want %q", got, tt.want)
			}
		})
	}
}

func TestNetworkError_Unwrap(t *testing.T) {
	err := &NetworkError{Op: "dial", Addr: "x", Err: io.EOF}
	if !Is(err, io.EOF) {
		t.Error("should unwrap to io.EOF")
	}
}

func TestConfigError_Format(t *testing.T) {
	tests := []struct {
		name string
		err  ConfigError
		want string
	}{
		{
			name: "with value and hint",
			err: ConfigError{
				Field:   "pattern",
				Value:   "fanout",
				Message: "unknown pattern",
				Hint:    "use one of pair, reqrep, pubsub, pipeline, survey, bus",
			},
			want: "config: pattern=fanout: unknown pattern\n  hint: use one of pair, reqrep, pubsub, pipeline, survey, bus",
		},
		{
			name: "missing value no hint",
			err: ConfigError{
				Field:   "front",
				Message: "endpoint required",
			},
			want: "config: front: endpoint required",
		},
		{
			name: "no field",
			err:  ConfigError{Message: "no sockets"},
			want: "config: no sockets",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.err.Error(); got != tt.want {
				t.Errorf("got:\n%s\nwant:\n%s", got, tt.want)
			}
		})
	}
}

func TestConfigError_Class(t *testing.T) {
	err := Invalid("domain", 1, "both sockets must be raw")
	if !Is(err, ErrInvalidConfig) {
		t.Error("Invalid should match ErrInvalidConfig")
	}
	if Is(err, ErrBadDescriptor) {
		t.Error("Invalid should not match ErrBadDescriptor")
	}
}

func TestFatal_Panics(t *testing.T) {
	inner := fmt.Errorf("queue corrupted")
	defer func() {
		r := recover()
		fe, ok := r.(*FatalError)
		if !ok {
			t.Fatalf("recovered %T, want *FatalError", r)
		}
		if fe.Op != "recv" || !Is(fe, inner) {
			t.Errorf("unexpected fatal error: %v", fe)
		}
		if got, want := fe.Error(), "fatal: recv: queue corrupted"; got != want {
			t.Errorf("got %q, want %q", got, want)
		}
	}()
	Fatal("recv", inner)
}

func TestWrap(t *testing.T) {
	inner := fmt.Errorf("connection refused")
	err := Wrap("dial", "10.0.0.1:5555", inner)

	if err.Op != "dial" || err.Addr != "10.0.0.1:5555" {
		t.Errorf("wrong fields: Op=%q Addr=%q", err.Op, err.Addr)
	}
	if !Is(err, inner) {
		t.Error("should unwrap to inner error")
	}
	if err.Retryable {
		t.Error("plain errors are not retryable")
	}
}

func TestIsShutdown(t *testing.T) {
	if !IsShutdown(fmt.Errorf("device a->b: %w", ErrShutdown)) {
		t.Error("wrapped ErrShutdown should be shutdown")
	}
	if IsShutdown(ErrInvalidConfig) {
		t.Error("ErrInvalidConfig is not shutdown")
	}
}

func TestIsRetryable_Nil(t *testing.T) {
	if IsRetryable(nil) {
		t.Error("nil should not be retryable")
	}
}
