package transport

import (
	"bytes"
	"context"
	"crypto/ed25519"
	"crypto/rand"
	"crypto/tls"
	"crypto/x509"
	"errors"
	"fmt"
	"io"
	"math/big"
	"net"
	"sync"
	"time"

	"github.com/quic-go/quic-go"
	"github.com/zeebo/blake3"

	"spdev/config"
)

const (
	quicALPN             = "spdev"
	quicHandshakeTimeout = 10 * time.Second

	quicCodeClosed   quic.ApplicationErrorCode = 0
	quicCodeProtocol quic.ApplicationErrorCode = 1
)

// quicPreamble opens every stream.  QUIC only announces a stream to the
// peer once data flows on it, and a device side may have nothing to say
// until the peer speaks first.
var quicPreamble = []byte("SPQ1")

const certDeriveContext = "spdev 2026 quic certificate seed v1"

// quicIdentity derives the certificate both ends share from key.  The
// Ed25519 key pair is a pure function of key, so a dialer accepts any
// peer presenting the same public key.
func quicIdentity(key string) (tls.Certificate, ed25519.PublicKey, error) {
	var seed [ed25519.SeedSize]byte
	blake3.DeriveKey(certDeriveContext, []byte(key), seed[:])
	priv := ed25519.NewKeyFromSeed(seed[:])
	pub := priv.Public().(ed25519.PublicKey)

	template := &x509.Certificate{
		SerialNumber: big.NewInt(1),
		NotBefore:    time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC),
		NotAfter:     time.Date(2044, 1, 1, 0, 0, 0, 0, time.UTC),
		KeyUsage:     x509.KeyUsageDigitalSignature,
		ExtKeyUsage:  []x509.ExtKeyUsage{x509.ExtKeyUsageServerAuth, x509.ExtKeyUsageClientAuth},
	}
	der, err := x509.CreateCertificate(rand.Reader, template, template, pub, priv)
	if err != nil {
		return tls.Certificate{}, nil, fmt.Errorf("quic certificate: %w", err)
	}
	return tls.Certificate{Certificate: [][]byte{der}, PrivateKey: priv}, pub, nil
}

func quicTLS(key string, server bool) (*tls.Config, error) {
	cert, pub, err := quicIdentity(key)
	if err != nil {
		return nil, err
	}
	conf := &tls.Config{
		Certificates: []tls.Certificate{cert},
		NextProtos:   []string{quicALPN},
		MinVersion:   tls.VersionTLS13,
	}
	if server {
		conf.ClientAuth = tls.NoClientCert
		return conf, nil
	}
	// The certificate is self-signed; pin its key instead of a chain.
	conf.InsecureSkipVerify = true
	conf.VerifyPeerCertificate = func(raw [][]byte, _ [][]*x509.Certificate) error {
		if len(raw) == 0 {
			return errors.New("quic: peer sent no certificate")
		}
		leaf, err := x509.ParseCertificate(raw[0])
		if err != nil {
			return fmt.Errorf("quic: peer certificate: %w", err)
		}
		if got, ok := leaf.PublicKey.(ed25519.PublicKey); !ok || !got.Equal(pub) {
			return errors.New("quic: peer key does not match the shared key")
		}
		return nil
	}
	return conf, nil
}

func quicConfig() *quic.Config {
	return &quic.Config{
		MaxIncomingStreams:     1,
		MaxIdleTimeout:         60 * time.Second,
		KeepAlivePeriod:        15 * time.Second,
		HandshakeIdleTimeout:   quicHandshakeTimeout,
		MaxStreamReceiveWindow: 16 << 20,
	}
}

// ── Stream ───────────────────────────────────────────────────────────

// quicStream is the one stream of a connection.  Closing it closes the
// connection.
type quicStream struct {
	*quic.Stream
	conn    *quic.Conn
	once    sync.Once
	release func()
}

func (s *quicStream) Read(p []byte) (int, error) {
	n, err := s.Stream.Read(p)
	var appErr *quic.ApplicationError
	if errors.As(err, &appErr) && appErr.ErrorCode == quicCodeClosed {
		err = io.EOF
	}
	return n, err
}

func (s *quicStream) Close() error {
	var err error
	s.once.Do(func() {
		s.Stream.Close()
		err = s.conn.CloseWithError(quicCodeClosed, "")
		if s.release != nil {
			s.release()
		}
	})
	return err
}

// ── Dialer ───────────────────────────────────────────────────────────

// QUICDialer opens one QUIC connection, and one stream on it, per Dial.
type QUICDialer struct {
	Timeout time.Duration
	tls     *tls.Config
}

// NewQUICDialer returns a dialer that trusts peers holding key.
func NewQUICDialer(key string, timeout time.Duration) (*QUICDialer, error) {
	conf, err := quicTLS(key, false)
	if err != nil {
		return nil, err
	}
	return &QUICDialer{Timeout: timeout, tls: conf}, nil
}

// Dial connects to ep and opens the message stream.
func (d *QUICDialer) Dial(ctx context.Context, ep config.Endpoint) (Conn, error) {
	if d.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, d.Timeout)
		defer cancel()
	}
	qc, err := quic.DialAddr(ctx, ep.Address, d.tls, quicConfig())
	if err != nil {
		return nil, err
	}
	s, err := qc.OpenStreamSync(ctx)
	if err != nil {
		qc.CloseWithError(quicCodeProtocol, "open stream")
		return nil, fmt.Errorf("open stream: %w", err)
	}
	if _, err := s.Write(quicPreamble); err != nil {
		qc.CloseWithError(quicCodeProtocol, "preamble")
		return nil, fmt.Errorf("write preamble: %w", err)
	}
	return newStreamConn(&quicStream{Stream: s, conn: qc}, "quic://"+qc.RemoteAddr().String()), nil
}

// Close is a no-op: every connection owns its UDP socket.
func (d *QUICDialer) Close() error { return nil }

// ── Listener ─────────────────────────────────────────────────────────

type quicListener struct {
	ln    *quic.Listener
	conns chan Conn
	slots chan struct{} // nil when unlimited

	done      chan struct{}
	closeOnce sync.Once
	failed    chan struct{}
	err       error
}

// ListenQUIC accepts QUIC connections from peers holding key.  With
// maxConns > 0 the listener stops accepting while that many
// connections are open.
func ListenQUIC(address, key string, maxConns int) (Listener, error) {
	conf, err := quicTLS(key, true)
	if err != nil {
		return nil, err
	}
	ln, err := quic.ListenAddr(address, conf, quicConfig())
	if err != nil {
		return nil, fmt.Errorf("listen on quic://%s: %w", address, err)
	}
	l := &quicListener{
		ln:     ln,
		conns:  make(chan Conn),
		done:   make(chan struct{}),
		failed: make(chan struct{}),
	}
	if maxConns > 0 {
		l.slots = make(chan struct{}, maxConns)
	}
	go l.acceptLoop()
	return l, nil
}

func (l *quicListener) acquire() bool {
	if l.slots == nil {
		return true
	}
	select {
	case l.slots <- struct{}{}:
		return true
	case <-l.done:
		return false
	}
}

func (l *quicListener) release() {
	if l.slots != nil {
		<-l.slots
	}
}

func (l *quicListener) acceptLoop() {
	for {
		if !l.acquire() {
			return
		}
		qc, err := l.ln.Accept(context.Background())
		if err != nil {
			l.release()
			l.err = err
			close(l.failed)
			return
		}
		go l.handshake(qc)
	}
}

// handshake waits for the peer's stream and its preamble.
func (l *quicListener) handshake(qc *quic.Conn) {
	ctx, cancel := context.WithTimeout(context.Background(), quicHandshakeTimeout)
	defer cancel()

	s, err := qc.AcceptStream(ctx)
	if err == nil {
		s.SetReadDeadline(time.Now().Add(quicHandshakeTimeout)) //nolint:errcheck
		head := make([]byte, len(quicPreamble))
		if _, err = io.ReadFull(s, head); err == nil && !bytes.Equal(head, quicPreamble) {
			err = fmt.Errorf("bad preamble %q", head)
		}
		s.SetReadDeadline(time.Time{}) //nolint:errcheck
	}
	if err != nil {
		qc.CloseWithError(quicCodeProtocol, "handshake")
		l.release()
		return
	}

	c := newStreamConn(&quicStream{Stream: s, conn: qc, release: l.release}, "quic://"+qc.RemoteAddr().String())
	select {
	case l.conns <- c:
	case <-l.done:
		c.Close()
	}
}

func (l *quicListener) Accept() (Conn, error) {
	select {
	case c := <-l.conns:
		return c, nil
	case <-l.done:
		return nil, net.ErrClosed
	case <-l.failed:
		return nil, l.err
	}
}

func (l *quicListener) Close() error {
	var err error
	l.closeOnce.Do(func() {
		close(l.done)
		err = l.ln.Close()
	})
	return err
}

func (l *quicListener) Addr() string { return l.ln.Addr().String() }
