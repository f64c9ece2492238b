package device

import (
	"reflect"
	"testing"

	"spdev/internal/errors"
	"spdev/internal/metrics"
	"spdev/internal/sp"
)

// ── Validation ───────────────────────────────────────────────────────

func TestRun_NoSockets(t *testing.T) {
	d := &Device{Layer: newFake()}
	err := d.Run(Ordinary(), sp.NoSocket, sp.NoSocket, 0)
	if !errors.Is(err, errors.ErrBadDescriptor) {
		t.Fatalf("err = %v, want ErrBadDescriptor", err)
	}
	var ce *errors.ConfigError
	if !errors.As(err, &ce) {
		t.Errorf("err = %T, want *errors.ConfigError", err)
	}
}

func TestRun_LoopbackNeedsRaw(t *testing.T) {
	s := rawSocket(sp.Bus, "a")
	s.domain = sp.AFSP
	d := &Device{Layer: newFake(s)}

	err := d.Run(Ordinary(), 0, sp.NoSocket, 0)
	if !errors.Is(err, errors.ErrInvalidConfig) {
		t.Fatalf("err = %v, want ErrInvalidConfig", err)
	}
	if len(s.sent) != 0 {
		t.Errorf("sent %d messages before failing validation", len(s.sent))
	}
}

func TestRun_Loopback(t *testing.T) {
	tests := []struct {
		name   string
		s1, s2 sp.Socket
	}{
		{"second-missing", 0, sp.NoSocket},
		{"first-missing", sp.NoSocket, 0},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s := rawSocket(sp.Bus, "a", "b", "c")
			m := metrics.New()
			d := &Device{Layer: newFake(s), Metrics: m}

			err := d.Run(Ordinary(), tt.s1, tt.s2, 0)
			if !errors.IsShutdown(err) {
				t.Fatalf("err = %v, want ErrShutdown", err)
			}
			if got := bodies(s.sent); !reflect.DeepEqual(got, []string{"a", "b", "c"}) {
				t.Errorf("looped back %q", got)
			}
			if m.MessagesForwarded() != 3 || m.BytesForwarded() != 3 {
				t.Errorf("forwarded = %d msgs / %d bytes, want 3/3",
					m.MessagesForwarded(), m.BytesForwarded())
			}
			if m.DevicesRunning() != 0 {
				t.Errorf("devices running = %d after return", m.DevicesRunning())
			}
		})
	}
}

func TestRun_RequireRaw(t *testing.T) {
	a, b := rawSocket(sp.Pull), rawSocket(sp.Push)
	b.domain = sp.AFSP
	d := &Device{Layer: newFake(a, b)}

	if err := d.Run(Ordinary(), 0, 1, 0); !errors.Is(err, errors.ErrInvalidConfig) {
		t.Fatalf("err = %v, want ErrInvalidConfig", err)
	}

	// Without the check the cooked socket is accepted.
	r := Ordinary()
	r.Checks.RequireRaw = false
	if err := d.Run(r, 0, 1, 0); !errors.IsShutdown(err) {
		t.Fatalf("unchecked err = %v, want ErrShutdown", err)
	}
}

func TestRun_SameFamily(t *testing.T) {
	d := &Device{Layer: newFake(rawSocket(sp.Pull), rawSocket(sp.Pub))}
	err := d.Run(Ordinary(), 0, 1, 0)
	if !errors.Is(err, errors.ErrInvalidConfig) {
		t.Fatalf("err = %v, want ErrInvalidConfig", err)
	}
	var ce *errors.ConfigError
	if !errors.As(err, &ce) || ce.Field != "protocol" {
		t.Errorf("err = %#v, want protocol ConfigError", err)
	}
}

func TestRun_BadSecondSocket(t *testing.T) {
	d := &Device{Layer: newFake(rawSocket(sp.Pair))}
	err := d.Run(Ordinary(), 0, 7, 0)
	if !errors.Is(err, sp.ErrBadSocket) {
		t.Fatalf("err = %v, want ErrBadSocket", err)
	}
}

func TestRun_DirectionalityMismatch(t *testing.T) {
	// PULL receives, PULL cannot send: nothing feeds the first socket's
	// receive side from the second.
	d := &Device{Layer: newFake(rawSocket(sp.Pull), rawSocket(sp.Pull))}
	err := d.Run(Ordinary(), 0, 1, 0)
	var ce *errors.ConfigError
	if !errors.As(err, &ce) || ce.Field != "directions" {
		t.Fatalf("err = %v, want directions ConfigError", err)
	}
	if errors.Is(err, errors.ErrNoStrategy) {
		t.Error("directionality failure reported as ErrNoStrategy")
	}
}

func TestRun_NoStrategy(t *testing.T) {
	r := Ordinary()
	r.Checks.Directionality = false
	r.Checks.AllowBidirectional = false
	d := &Device{Layer: newFake(rawSocket(sp.Pair), rawSocket(sp.Pair))}

	err := d.Run(r, 0, 1, 0)
	if !errors.Is(err, errors.ErrNoStrategy) || !errors.Is(err, errors.ErrInvalidConfig) {
		t.Fatalf("err = %v, want ErrNoStrategy and ErrInvalidConfig", err)
	}

	fe := mustPanicFatal(t, func() { _ = d.Run(r, 0, 1, AbortOnNoStrategy) })
	if !errors.Is(fe, errors.ErrNoStrategy) {
		t.Errorf("fatal = %v, want it to wrap ErrNoStrategy", fe)
	}
}

func TestRun_NegativeDescriptor(t *testing.T) {
	a := rawSocket(sp.Pair)
	a.rcvFd = -5
	d := &Device{Layer: newFake(a, rawSocket(sp.Pair))}
	mustPanicFatal(t, func() { _ = d.Run(Ordinary(), 0, 1, 0) })
}

func TestRun_UnknownBackend(t *testing.T) {
	d := &Device{Layer: newFake(rawSocket(sp.Pair), rawSocket(sp.Pair)), Backend: "epoll"}
	if err := d.Run(Ordinary(), 0, 1, 0); err == nil {
		t.Fatal("expected an error for an unknown backend")
	}
}

// ── One-way ──────────────────────────────────────────────────────────

func TestRun_OneWay(t *testing.T) {
	t.Run("forward", func(t *testing.T) {
		pull, push := rawSocket(sp.Pull, "1", "2", "3"), rawSocket(sp.Push)
		d := &Device{Layer: newFake(pull, push)}
		if err := d.Proxy(0, 1); !errors.IsShutdown(err) {
			t.Fatalf("err = %v, want ErrShutdown", err)
		}
		if got := bodies(push.sent); !reflect.DeepEqual(got, []string{"1", "2", "3"}) {
			t.Errorf("forwarded %q", got)
		}
	})
	t.Run("backward", func(t *testing.T) {
		push, pull := rawSocket(sp.Push), rawSocket(sp.Pull, "x", "y")
		d := &Device{Layer: newFake(push, pull)}
		if err := d.Proxy(0, 1); !errors.IsShutdown(err) {
			t.Fatalf("err = %v, want ErrShutdown", err)
		}
		if got := bodies(push.sent); !reflect.DeepEqual(got, []string{"x", "y"}) {
			t.Errorf("forwarded %q", got)
		}
	})
	t.Run("disabled", func(t *testing.T) {
		r := Ordinary()
		r.Checks.AllowUnidirectional = false
		d := &Device{Layer: newFake(rawSocket(sp.Pull, "1"), rawSocket(sp.Push))}
		if err := d.Run(r, 0, 1, 0); !errors.Is(err, errors.ErrNoStrategy) {
			t.Fatalf("err = %v, want ErrNoStrategy", err)
		}
	})
}

// ── Moving messages ──────────────────────────────────────────────────

func TestMove_RewriteSeesMessage(t *testing.T) {
	src, dst := rawSocket(sp.Pull, "hello"), rawSocket(sp.Push)
	d := &Device{Layer: newFake(src, dst)}

	var seen struct {
		from, to sp.Socket
		flags    sp.Flags
		n        int
	}
	r := Ordinary()
	r.Rewrite = RewriteFunc(func(_ *Recipe, from, to sp.Socket, flags sp.Flags, msg *sp.Message, n int) (Verdict, error) {
		seen.from, seen.to, seen.flags, seen.n = from, to, flags, n
		msg.Body = append(msg.Body, '!')
		return Forward, nil
	})

	if err := d.move(r, 0, 1, sp.DontWait); err != nil {
		t.Fatalf("move: %v", err)
	}
	if seen.from != 0 || seen.to != 1 || seen.flags != sp.DontWait || seen.n != 5 {
		t.Errorf("hook saw %+v", seen)
	}
	if got := bodies(dst.sent); !reflect.DeepEqual(got, []string{"hello!"}) {
		t.Errorf("sent %q, want rewritten body", got)
	}
}

func TestMove_Drop(t *testing.T) {
	src, dst := rawSocket(sp.Pull, "keep", "skip", "keep"), rawSocket(sp.Push)
	m := metrics.New()
	d := &Device{Layer: newFake(src, dst), Metrics: m}
	r := Ordinary()
	r.Rewrite = RewriteFunc(func(_ *Recipe, _, _ sp.Socket, _ sp.Flags, msg *sp.Message, _ int) (Verdict, error) {
		if string(msg.Body) == "skip" {
			return Drop, nil
		}
		return Forward, nil
	})

	if err := d.Run(r, 0, 1, 0); !errors.IsShutdown(err) {
		t.Fatalf("err = %v, want ErrShutdown", err)
	}
	if got := bodies(dst.sent); !reflect.DeepEqual(got, []string{"keep", "keep"}) {
		t.Errorf("sent %q", got)
	}
	if m.MessagesDropped() != 1 || m.MessagesForwarded() != 2 {
		t.Errorf("dropped=%d forwarded=%d, want 1/2", m.MessagesDropped(), m.MessagesForwarded())
	}
}

func TestMove_HookFailure(t *testing.T) {
	boom := errors.New("boom")
	tests := []struct {
		name string
		fn   RewriteFunc
	}{
		{"error", func(*Recipe, sp.Socket, sp.Socket, sp.Flags, *sp.Message, int) (Verdict, error) {
			return Forward, boom
		}},
		{"bad-verdict", func(*Recipe, sp.Socket, sp.Socket, sp.Flags, *sp.Message, int) (Verdict, error) {
			return Verdict(7), nil
		}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			src, dst := rawSocket(sp.Pull, "a", "b"), rawSocket(sp.Push)
			m := metrics.New()
			d := &Device{Layer: newFake(src, dst), Metrics: m}
			r := Ordinary()
			r.Rewrite = tt.fn

			err := d.Run(r, 0, 1, 0)
			var he *HookError
			if !errors.As(err, &he) {
				t.Fatalf("err = %v, want *HookError", err)
			}
			if he.From != 0 || he.To != 1 {
				t.Errorf("hook error direction %d->%d", he.From, he.To)
			}
			if len(dst.sent) != 0 {
				t.Errorf("sent %d messages after hook failure", len(dst.sent))
			}
			if len(src.inbound) != 1 {
				t.Errorf("device kept reading after hook failure")
			}
			if m.HookFailures() != 1 {
				t.Errorf("hook failures = %d, want 1", m.HookFailures())
			}
		})
	}
}

func TestMove_Shutdown(t *testing.T) {
	tests := []struct {
		name    string
		recvErr error
		sendErr error
	}{
		{"recv-terminated", sp.ErrTerminated, nil},
		{"recv-closed", sp.ErrBadSocket, nil},
		{"send-terminated", nil, sp.ErrTerminated},
		{"send-closed", nil, sp.ErrBadSocket},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			src, dst := rawSocket(sp.Pull), rawSocket(sp.Push)
			if tt.recvErr != nil {
				src.recvErr = tt.recvErr
			} else {
				src.inbound = []*sp.Message{{Body: []byte("x")}}
				dst.sendErr = tt.sendErr
			}
			d := &Device{Layer: newFake(src, dst)}
			if err := d.move(Ordinary(), 0, 1, sp.Blocking); !errors.IsShutdown(err) {
				t.Fatalf("err = %v, want ErrShutdown", err)
			}
		})
	}
}

func TestMove_ContractViolation(t *testing.T) {
	t.Run("recv", func(t *testing.T) {
		src := rawSocket(sp.Pull)
		src.recvErr = sp.ErrAgain
		d := &Device{Layer: newFake(src, rawSocket(sp.Push))}
		fe := mustPanicFatal(t, func() { _ = d.move(Ordinary(), 0, 1, sp.DontWait) })
		if !errors.Is(fe, sp.ErrAgain) {
			t.Errorf("fatal = %v, want it to wrap ErrAgain", fe)
		}
	})
	t.Run("send", func(t *testing.T) {
		dst := rawSocket(sp.Push)
		dst.sendErr = sp.ErrNotSupported
		d := &Device{Layer: newFake(rawSocket(sp.Pull, "x"), dst)}
		mustPanicFatal(t, func() { _ = d.move(Ordinary(), 0, 1, sp.Blocking) })
	})
}
