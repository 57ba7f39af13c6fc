// Package payload moves bulk data over ephemeral TCP+TLS streams, out of
// band from the control session. The sender listens on a fresh port and
// announces it inside a control packet's payloadTransferInfo; the receiver
// connects, completes TLS against the same trust store, and reads exactly
// payloadSize bytes. There is no higher-level framing.
package payload

import (
	"context"
	"crypto/tls"
	"fmt"
	"io"
	"net"
	"time"

	"github.com/olafkfreund/cconnect/internal/logger"
	"github.com/olafkfreund/cconnect/pkg/cerr"
	"github.com/olafkfreund/cconnect/pkg/transfer"
)

// ChunkSize is the streaming unit. Progress callbacks fire per chunk and the
// cancel flag is polled between chunks, so a chunk bounds cancellation
// latency.
const ChunkSize = 64 * 1024

// AcceptTimeout bounds how long a payload server waits for the receiver to
// connect after the announcing packet was sent.
const AcceptTimeout = 30 * time.Second

// Server is a one-shot payload listener. Create it, embed Port() in the
// announcing packet, then Serve the bytes.
type Server struct {
	ln     net.Listener
	tlsCfg *tls.Config
}

// NewServer opens a listener on any free TCP port.
func NewServer(tlsCfg *tls.Config) (*Server, error) {
	ln, err := net.Listen("tcp", ":0")
	if err != nil {
		return nil, cerr.Wrap(cerr.CodePayloadIO, "opening payload listener", err)
	}
	return &Server{ln: ln, tlsCfg: tlsCfg}, nil
}

// Port returns the ephemeral port the receiver must connect to.
func (s *Server) Port() int {
	return s.ln.Addr().(*net.TCPAddr).Port
}

// Close releases the listener. Safe after Serve has returned.
func (s *Server) Close() error {
	return s.ln.Close()
}

// Serve accepts exactly one connection and streams size bytes from r to it.
// progress (optional) is called with cumulative bytes after every chunk;
// flag (optional) is polled between chunks and aborts with Cancelled when
// set.
func (s *Server) Serve(ctx context.Context, r io.Reader, size int64, progress func(int64), flag *transfer.Flag) error {
	defer s.ln.Close()

	type acceptResult struct {
		conn net.Conn
		err  error
	}
	accepted := make(chan acceptResult, 1)

	if tcp, ok := s.ln.(*net.TCPListener); ok {
		tcp.SetDeadline(time.Now().Add(AcceptTimeout))
	}
	go func() {
		conn, err := s.ln.Accept()
		accepted <- acceptResult{conn, err}
	}()

	var conn net.Conn
	select {
	case <-ctx.Done():
		s.ln.Close()
		return cerr.Wrap(cerr.CodePayloadIO, "payload serve aborted", ctx.Err())
	case res := <-accepted:
		if res.err != nil {
			return cerr.Wrap(cerr.CodePayloadIO, "accepting payload connection", res.err)
		}
		conn = res.conn
	}
	defer conn.Close()

	tlsConn := tls.Server(conn, s.tlsCfg)
	if err := tlsConn.HandshakeContext(ctx); err != nil {
		return fmt.Errorf("payload TLS handshake: %w", err)
	}
	defer tlsConn.Close()

	return stream(tlsConn, r, size, progress, flag)
}

// Fetch connects to a peer's announced payload port and copies exactly size
// bytes into w. A byte count short of size is a PayloadIO failure; the
// control session is unaffected either way.
func Fetch(ctx context.Context, tlsCfg *tls.Config, host string, port int, size int64, w io.Writer, progress func(int64), flag *transfer.Flag) error {
	if size < 0 {
		return cerr.Newf(cerr.CodeInvalidArgument, "negative payload size %d", size)
	}
	dialer := &net.Dialer{Timeout: 10 * time.Second}
	addr := net.JoinHostPort(host, fmt.Sprintf("%d", port))

	conn, err := dialer.DialContext(ctx, "tcp", addr)
	if err != nil {
		return cerr.Wrap(cerr.CodePayloadIO, "connecting to payload port", err)
	}
	defer conn.Close()

	tlsConn := tls.Client(conn, tlsCfg)
	if err := tlsConn.HandshakeContext(ctx); err != nil {
		return fmt.Errorf("payload TLS handshake: %w", err)
	}
	defer tlsConn.Close()

	return stream(w, tlsConn, size, progress, flag)
}

// stream copies exactly size bytes in ChunkSize units, reporting progress
// and honoring the cancel flag between chunks.
func stream(dst io.Writer, src io.Reader, size int64, progress func(int64), flag *transfer.Flag) error {
	buf := make([]byte, ChunkSize)
	var done int64

	for done < size {
		if flag != nil && flag.Cancelled() {
			logger.Debug("Payload transfer cancelled", logger.KeyBytesDone, done, logger.KeySize, size)
			return cerr.New(cerr.CodeCancelled, "cancelled")
		}

		want := int64(len(buf))
		if remaining := size - done; remaining < want {
			want = remaining
		}

		n, err := io.ReadFull(src, buf[:want])
		if n > 0 {
			if _, werr := dst.Write(buf[:n]); werr != nil {
				return cerr.Wrap(cerr.CodePayloadIO, "writing payload chunk", werr)
			}
			done += int64(n)
			if progress != nil {
				progress(done)
			}
		}
		if err != nil {
			return cerr.Wrap(cerr.CodePayloadIO,
				fmt.Sprintf("payload ended after %d of %d bytes", done, size), err)
		}
	}
	return nil
}
