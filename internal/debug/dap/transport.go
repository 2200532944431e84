// Package dap carries Debug Adapter Protocol messages for the debugger: the
// Content-Length framed transport, the custom messages of the transaction
// debugger and a client used to drive a session programmatically.
package dap

import (
	"bufio"
	"encoding/json"
	"fmt"
	"io"
	"net"
	"sync"

	godap "github.com/google/go-dap"
)

// Transport moves framed DAP messages.
type Transport interface {
	// Send writes one message.
	Send(msg *Message) error

	// Receive blocks until the next message arrives.
	Receive() (*Message, error)

	// Close closes the transport.
	Close() error
}

// Message is the JSON content of one frame.
type Message struct {
	Content json.RawMessage
}

// StreamTransport implements Transport over a byte stream.
type StreamTransport struct {
	r  *bufio.Reader
	w  io.Writer
	c  io.Closer
	mu sync.Mutex
}

// NewStreamTransport creates a transport reading from r and writing to w.
// Close closes c when it is not nil.
func NewStreamTransport(r io.Reader, w io.Writer, c io.Closer) *StreamTransport {
	return &StreamTransport{r: bufio.NewReader(r), w: w, c: c}
}

// NewRawTransport creates a transport from any ReadWriteCloser.
func NewRawTransport(rwc io.ReadWriteCloser) *StreamTransport {
	return NewStreamTransport(rwc, rwc, rwc)
}

// NewSocketTransport dials a debug adapter listening on address.
func NewSocketTransport(address string) (*StreamTransport, error) {
	conn, err := net.Dial("tcp", address)
	if err != nil {
		return nil, fmt.Errorf("dial %s: %w", address, err)
	}
	return NewRawTransport(conn), nil
}

// Send writes msg as one frame.
func (t *StreamTransport) Send(msg *Message) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	if err := godap.WriteBaseMessage(t.w, msg.Content); err != nil {
		return fmt.Errorf("write message: %w", err)
	}
	return nil
}

// Receive reads the next frame.
func (t *StreamTransport) Receive() (*Message, error) {
	content, err := godap.ReadBaseMessage(t.r)
	if err != nil {
		return nil, err
	}
	return &Message{Content: content}, nil
}

// Close closes the underlying stream.
func (t *StreamTransport) Close() error {
	if t.c == nil {
		return nil
	}
	return t.c.Close()
}
