package protocol

import (
	"bufio"
	"bytes"
	"encoding/json"
	"io"

	"github.com/olafkfreund/cconnect/pkg/cerr"
)

// MaxFrameSize bounds a single packet line. A line exceeding it drops the
// session with FrameTooLarge.
const MaxFrameSize = 1 << 20 // 1 MiB

// Reader decodes newline-delimited JSON packets from a stream.
//
// Reader is not safe for concurrent use; each session owns exactly one.
type Reader struct {
	br *bufio.Reader
}

// NewReader wraps r in a packet reader.
func NewReader(r io.Reader) *Reader {
	return &Reader{br: bufio.NewReaderSize(r, 64*1024)}
}

// Read returns the next packet, blocking until a full line arrives.
//
// Errors:
//   - FrameTooLarge when a line exceeds MaxFrameSize
//   - MalformedPacket when a line is not a valid packet
//   - the underlying I/O error (including io.EOF) otherwise
func (r *Reader) Read() (*Packet, error) {
	var line []byte
	for {
		chunk, err := r.br.ReadSlice('\n')
		line = append(line, chunk...)
		if len(line) > MaxFrameSize {
			return nil, cerr.Newf(cerr.CodeFrameTooLarge, "packet line exceeds %d bytes", MaxFrameSize)
		}
		if err == nil {
			break
		}
		if err == bufio.ErrBufferFull {
			continue
		}
		return nil, err
	}

	line = bytes.TrimRight(line, "\r\n")
	if len(bytes.TrimSpace(line)) == 0 {
		// Bare newlines are tolerated as keep-alive noise.
		return r.Read()
	}

	var p Packet
	if err := json.Unmarshal(line, &p); err != nil {
		return nil, cerr.Wrap(cerr.CodeMalformedPacket, "decoding packet", err)
	}
	if p.Type == "" {
		return nil, cerr.New(cerr.CodeMalformedPacket, "packet missing type")
	}
	return &p, nil
}

// Writer encodes packets as newline-delimited JSON.
//
// Writer is not safe for concurrent use; callers serialize sends per session.
type Writer struct {
	bw *bufio.Writer
}

// NewWriter wraps w in a packet writer.
func NewWriter(w io.Writer) *Writer {
	return &Writer{bw: bufio.NewWriterSize(w, 64*1024)}
}

// Write serializes the packet and flushes it to the stream.
func (w *Writer) Write(p *Packet) error {
	data, err := Marshal(p)
	if err != nil {
		return err
	}
	if _, err := w.bw.Write(data); err != nil {
		return err
	}
	return w.bw.Flush()
}

// Marshal serializes a packet into its wire form, newline included.
func Marshal(p *Packet) ([]byte, error) {
	data, err := json.Marshal(p)
	if err != nil {
		return nil, cerr.Wrap(cerr.CodeMalformedPacket, "encoding packet", err)
	}
	if len(data) > MaxFrameSize {
		return nil, cerr.Newf(cerr.CodeFrameTooLarge, "packet line exceeds %d bytes", MaxFrameSize)
	}
	return append(data, '\n'), nil
}

// Unmarshal parses a single wire-form packet (as produced by Marshal or a
// discovery datagram).
func Unmarshal(data []byte) (*Packet, error) {
	data = bytes.TrimRight(data, "\r\n")
	if len(data) > MaxFrameSize {
		return nil, cerr.Newf(cerr.CodeFrameTooLarge, "packet exceeds %d bytes", MaxFrameSize)
	}
	var p Packet
	if err := json.Unmarshal(data, &p); err != nil {
		return nil, cerr.Wrap(cerr.CodeMalformedPacket, "decoding packet", err)
	}
	if p.Type == "" {
		return nil, cerr.New(cerr.CodeMalformedPacket, "packet missing type")
	}
	return &p, nil
}
