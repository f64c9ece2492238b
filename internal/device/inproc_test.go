//go:build unix

package device

import (
	"fmt"
	"testing"
	"time"

	"spdev/internal/errors"
	"spdev/internal/metrics"
	"spdev/internal/poller"
	"spdev/internal/sp"
	"spdev/internal/sp/inproc"
)

// bridge wires two raw device sockets, each bound at its own address,
// and one cooked application socket connected to each.
type bridge struct {
	l          *inproc.Layer
	dev1, dev2 sp.Socket
	app1, app2 sp.Socket
}

func newBridge(t *testing.T, front, back, appFront, appBack sp.Protocol) *bridge {
	t.Helper()
	b := &bridge{l: inproc.New()}
	t.Cleanup(b.l.Term)

	mk := func(domain sp.Domain, p sp.Protocol) sp.Socket {
		s, err := b.l.Socket(domain, p)
		if err != nil {
			t.Fatalf("socket %s: %v", p, err)
		}
		return s
	}
	b.dev1, b.dev2 = mk(sp.AFSPRaw, front), mk(sp.AFSPRaw, back)
	b.app1, b.app2 = mk(sp.AFSP, appFront), mk(sp.AFSP, appBack)

	if err := b.l.Bind(b.dev1, "inproc://front"); err != nil {
		t.Fatal(err)
	}
	if err := b.l.Bind(b.dev2, "inproc://back"); err != nil {
		t.Fatal(err)
	}
	if err := b.l.Connect(b.app1, "inproc://front"); err != nil {
		t.Fatal(err)
	}
	if err := b.l.Connect(b.app2, "inproc://back"); err != nil {
		t.Fatal(err)
	}
	return b
}

// start runs d over the bridge and returns a channel with its result.
func (b *bridge) start(d *Device, r *Recipe) <-chan error {
	d.Layer = b.l
	done := make(chan error, 1)
	go func() { done <- d.Run(r, b.dev1, b.dev2, 0) }()
	return done
}

func recvTimeout(t *testing.T, l *inproc.Layer, s sp.Socket) string {
	t.Helper()
	type result struct {
		body []byte
		err  error
	}
	ch := make(chan result, 1)
	go func() {
		body, err := l.Recv(s, sp.Blocking)
		ch <- result{body, err}
	}()
	select {
	case r := <-ch:
		if r.err != nil {
			t.Fatalf("recv on %d: %v", s, r.err)
		}
		return string(r.body)
	case <-time.After(5 * time.Second):
		t.Fatalf("recv on %d: timed out", s)
		return ""
	}
}

func send(t *testing.T, l *inproc.Layer, s sp.Socket, body string) {
	t.Helper()
	if err := l.Send(s, []byte(body), sp.Blocking); err != nil {
		t.Fatalf("send on %d: %v", s, err)
	}
}

func waitDone(t *testing.T, done <-chan error) error {
	t.Helper()
	select {
	case err := <-done:
		return err
	case <-time.After(5 * time.Second):
		t.Fatal("device did not stop")
		return nil
	}
}

func TestTwoWay_PingPong(t *testing.T) {
	for _, backend := range poller.Backends() {
		t.Run(backend, func(t *testing.T) {
			b := newBridge(t, sp.Pair, sp.Pair, sp.Pair, sp.Pair)
			done := b.start(&Device{Backend: backend}, Ordinary())

			send(t, b.l, b.app1, "ping")
			if got := recvTimeout(t, b.l, b.app2); got != "ping" {
				t.Errorf("back got %q, want ping", got)
			}
			send(t, b.l, b.app2, "pong")
			if got := recvTimeout(t, b.l, b.app1); got != "pong" {
				t.Errorf("front got %q, want pong", got)
			}

			b.l.Term()
			if err := waitDone(t, done); !errors.IsShutdown(err) {
				t.Fatalf("device returned %v, want ErrShutdown", err)
			}
		})
	}
}

// TestTwoWay_Order sends a burst each way at once and checks that both
// directions arrive complete and in order.
func TestTwoWay_Order(t *testing.T) {
	const n = 100
	for _, backend := range poller.Backends() {
		t.Run(backend, func(t *testing.T) {
			b := newBridge(t, sp.Pair, sp.Pair, sp.Pair, sp.Pair)
			m := metrics.New()
			done := b.start(&Device{Backend: backend, Metrics: m}, Ordinary())

			errc := make(chan error, 2)
			burst := func(s sp.Socket, prefix string) {
				for i := 0; i < n; i++ {
					if err := b.l.Send(s, []byte(fmt.Sprintf("%s%d", prefix, i)), sp.Blocking); err != nil {
						errc <- err
						return
					}
				}
				errc <- nil
			}
			go burst(b.app1, "a")
			go burst(b.app2, "b")

			for i := 0; i < n; i++ {
				if got, want := recvTimeout(t, b.l, b.app2), fmt.Sprintf("a%d", i); got != want {
					t.Fatalf("back got %q, want %q", got, want)
				}
				if got, want := recvTimeout(t, b.l, b.app1), fmt.Sprintf("b%d", i); got != want {
					t.Fatalf("front got %q, want %q", got, want)
				}
			}
			for i := 0; i < 2; i++ {
				if err := <-errc; err != nil {
					t.Fatalf("burst: %v", err)
				}
			}
			if got := m.MessagesForwarded(); got != 2*n {
				t.Errorf("forwarded %d, want %d", got, 2*n)
			}

			b.l.Term()
			if err := waitDone(t, done); !errors.IsShutdown(err) {
				t.Fatalf("device returned %v, want ErrShutdown", err)
			}
		})
	}
}

func TestTwoWay_CloseStops(t *testing.T) {
	for _, backend := range poller.Backends() {
		t.Run(backend, func(t *testing.T) {
			b := newBridge(t, sp.Pair, sp.Pair, sp.Pair, sp.Pair)
			done := b.start(&Device{Backend: backend}, Ordinary())

			send(t, b.l, b.app1, "x")
			recvTimeout(t, b.l, b.app2)

			if err := b.l.Close(b.dev1); err != nil {
				t.Fatal(err)
			}
			if err := waitDone(t, done); !errors.IsShutdown(err) {
				t.Fatalf("device returned %v, want ErrShutdown", err)
			}
		})
	}
}

func TestTwoWay_ReqRep(t *testing.T) {
	// Clients talk REQ to the front; services answer as REP behind.
	b := newBridge(t, sp.Rep, sp.Req, sp.Req, sp.Rep)
	done := b.start(&Device{}, Ordinary())

	send(t, b.l, b.app1, "question")
	if got := recvTimeout(t, b.l, b.app2); got != "question" {
		t.Fatalf("service got %q", got)
	}
	send(t, b.l, b.app2, "answer")
	if got := recvTimeout(t, b.l, b.app1); got != "answer" {
		t.Fatalf("client got %q", got)
	}

	b.l.Term()
	if err := waitDone(t, done); !errors.IsShutdown(err) {
		t.Fatalf("device returned %v, want ErrShutdown", err)
	}
}

func TestTwoWay_ReqRepRoutesReplies(t *testing.T) {
	for _, backend := range poller.Backends() {
		t.Run(backend, func(t *testing.T) {
			b := newBridge(t, sp.Rep, sp.Req, sp.Req, sp.Rep)
			c2 := b.app1
			c1, err := b.l.Socket(sp.AFSP, sp.Req)
			if err != nil {
				t.Fatal(err)
			}
			if err := b.l.Connect(c1, "inproc://front"); err != nil {
				t.Fatal(err)
			}
			c3, err := b.l.Socket(sp.AFSP, sp.Req)
			if err != nil {
				t.Fatal(err)
			}
			if err := b.l.Connect(c3, "inproc://front"); err != nil {
				t.Fatal(err)
			}
			done := b.start(&Device{Backend: backend}, Ordinary())

			// Only c2 asks.
			send(t, b.l, c2, "from-c2")
			if got := recvTimeout(t, b.l, b.app2); got != "from-c2" {
				t.Fatalf("service got %q", got)
			}
			send(t, b.l, b.app2, "re:from-c2")
			if got := recvTimeout(t, b.l, c2); got != "re:from-c2" {
				t.Fatalf("c2 got %q", got)
			}

			// Two requests in flight; the service answers both in order.
			send(t, b.l, c3, "from-c3")
			send(t, b.l, c1, "from-c1")
			for i := 0; i < 2; i++ {
				q := recvTimeout(t, b.l, b.app2)
				send(t, b.l, b.app2, "re:"+q)
			}
			if got := recvTimeout(t, b.l, c1); got != "re:from-c1" {
				t.Errorf("c1 got %q", got)
			}
			if got := recvTimeout(t, b.l, c3); got != "re:from-c3" {
				t.Errorf("c3 got %q", got)
			}
			for _, c := range []sp.Socket{c1, c2, c3} {
				if body, err := b.l.Recv(c, sp.DontWait); !errors.Is(err, sp.ErrAgain) {
					t.Errorf("client %d got a stray %q", c, body)
				}
			}

			b.l.Term()
			if err := waitDone(t, done); !errors.IsShutdown(err) {
				t.Fatalf("device returned %v, want ErrShutdown", err)
			}
		})
	}
}

// TestTwoWay_PeerLeavesWhileOthersFull closes the only front peer with
// room after the device has seen the front writable.  The next message
// towards the front must be discarded, not crash the device.
func TestTwoWay_PeerLeavesWhileOthersFull(t *testing.T) {
	for _, backend := range poller.Backends() {
		t.Run(backend, func(t *testing.T) {
			l := inproc.New(inproc.WithQueueLen(1))
			t.Cleanup(l.Term)
			mk := func(domain sp.Domain, addr string, bind bool) sp.Socket {
				s, err := l.Socket(domain, sp.Pair)
				if err != nil {
					t.Fatal(err)
				}
				if bind {
					err = l.Bind(s, addr)
				} else {
					err = l.Connect(s, addr)
				}
				if err != nil {
					t.Fatal(err)
				}
				return s
			}
			front := mk(sp.AFSPRaw, "inproc://front", true)
			back := mk(sp.AFSPRaw, "inproc://back", true)
			x := mk(sp.AFSP, "inproc://front", false)
			y := mk(sp.AFSP, "inproc://front", false)
			app := mk(sp.AFSP, "inproc://back", false)

			d := &Device{Layer: l, Backend: backend}
			done := make(chan error, 1)
			go func() { done <- d.Run(Ordinary(), front, back, 0) }()

			// Round robin fills x and then y, one message each.
			send(t, l, app, "1")
			send(t, l, app, "2")

			// Draining x makes the front writable again; the device
			// notes it and waits for traffic from the back.
			if got := recvTimeout(t, l, x); got != "1" {
				t.Fatalf("x got %q", got)
			}
			time.Sleep(50 * time.Millisecond)
			if err := l.Close(x); err != nil {
				t.Fatal(err)
			}

			send(t, l, app, "3")
			time.Sleep(50 * time.Millisecond)
			select {
			case err := <-done:
				t.Fatalf("device stopped: %v", err)
			default:
			}

			if got := recvTimeout(t, l, y); got != "2" {
				t.Fatalf("y got %q", got)
			}
			send(t, l, app, "4")
			if got := recvTimeout(t, l, y); got != "4" {
				t.Errorf("y got %q, want 4", got)
			}

			l.Term()
			if err := waitDone(t, done); !errors.IsShutdown(err) {
				t.Fatalf("device returned %v, want ErrShutdown", err)
			}
		})
	}
}

func TestOneWay_Pipeline(t *testing.T) {
	b := newBridge(t, sp.Pull, sp.Push, sp.Push, sp.Pull)
	done := b.start(&Device{}, Ordinary())

	for i := 0; i < 10; i++ {
		send(t, b.l, b.app1, fmt.Sprint(i))
	}
	for i := 0; i < 10; i++ {
		if got := recvTimeout(t, b.l, b.app2); got != fmt.Sprint(i) {
			t.Fatalf("got %q, want %d", got, i)
		}
	}

	if err := b.l.Close(b.dev2); err != nil {
		t.Fatal(err)
	}
	// The device sits in a blocking receive on the front socket; the
	// next message makes it try the closed back socket.
	send(t, b.l, b.app1, "late")
	if err := waitDone(t, done); !errors.IsShutdown(err) {
		t.Fatalf("device returned %v, want ErrShutdown", err)
	}
}

func TestOneWay_PubSub(t *testing.T) {
	// Publishers feed a raw SUB front; the raw PUB back fans out.
	b := newBridge(t, sp.Sub, sp.Pub, sp.Pub, sp.Sub)
	done := b.start(&Device{}, Ordinary())

	send(t, b.l, b.app1, "news")
	if got := recvTimeout(t, b.l, b.app2); got != "news" {
		t.Fatalf("subscriber got %q", got)
	}

	b.l.Term()
	if err := waitDone(t, done); !errors.IsShutdown(err) {
		t.Fatalf("device returned %v, want ErrShutdown", err)
	}
}

func TestLoopback_Bus(t *testing.T) {
	l := inproc.New()
	t.Cleanup(l.Term)
	dev, err := l.Socket(sp.AFSPRaw, sp.Bus)
	if err != nil {
		t.Fatal(err)
	}
	if err := l.Bind(dev, "inproc://bus"); err != nil {
		t.Fatal(err)
	}
	var nodes []sp.Socket
	for i := 0; i < 3; i++ {
		n, err := l.Socket(sp.AFSP, sp.Bus)
		if err != nil {
			t.Fatal(err)
		}
		if err := l.Connect(n, "inproc://bus"); err != nil {
			t.Fatal(err)
		}
		nodes = append(nodes, n)
	}

	d := &Device{Layer: l}
	done := make(chan error, 1)
	go func() { done <- d.Run(Ordinary(), dev, sp.NoSocket, 0) }()

	send(t, l, nodes[0], "hello")
	for _, n := range nodes[1:] {
		if got := recvTimeout(t, l, n); got != "hello" {
			t.Fatalf("node %d got %q, want hello", n, got)
		}
	}
	if _, err := l.Recv(nodes[0], sp.DontWait); !errors.Is(err, sp.ErrAgain) {
		t.Errorf("sender got its own message: err = %v", err)
	}

	l.Term()
	if err := waitDone(t, done); !errors.IsShutdown(err) {
		t.Fatalf("device returned %v, want ErrShutdown", err)
	}
}

func TestTwoWay_Hooks(t *testing.T) {
	for _, backend := range poller.Backends() {
		t.Run(backend, func(t *testing.T) {
			b := newBridge(t, sp.Pair, sp.Pair, sp.Pair, sp.Pair)
			m := metrics.New()
			r := Ordinary()
			r.Rewrite = RewriteFunc(func(_ *Recipe, _, _ sp.Socket, _ sp.Flags, msg *sp.Message, _ int) (Verdict, error) {
				switch string(msg.Body) {
				case "drop":
					return Drop, nil
				case "fail":
					return Forward, errors.New("refused")
				}
				return Forward, nil
			})
			done := b.start(&Device{Backend: backend, Metrics: m}, r)

			send(t, b.l, b.app1, "drop")
			send(t, b.l, b.app1, "keep")
			if got := recvTimeout(t, b.l, b.app2); got != "keep" {
				t.Fatalf("got %q, want keep", got)
			}
			if m.MessagesDropped() != 1 {
				t.Errorf("dropped = %d, want 1", m.MessagesDropped())
			}

			send(t, b.l, b.app2, "fail")
			err := waitDone(t, done)
			var he *HookError
			if !errors.As(err, &he) {
				t.Fatalf("device returned %v, want *HookError", err)
			}
			if he.From != b.dev2 || he.To != b.dev1 {
				t.Errorf("hook error %d->%d, want %d->%d", he.From, he.To, b.dev2, b.dev1)
			}
		})
	}
}
