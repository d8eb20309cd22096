package worker

import (
	"bufio"
	"context"
	"encoding/binary"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"

	"github.com/cozy-creator/genjobs/internal/types"
)

const maxFrameSize = 64 << 20

var ErrFrameTooLarge = errors.New("frame exceeds maximum size")

// daemonRequest is written as one newline-terminated json line.
type daemonRequest struct {
	Command      Subcommand     `json:"command"`
	GenerationID string         `json:"generation_id,omitempty"`
	Payload      *types.Payload `json:"payload,omitempty"`
}

// daemonReply is read as a single frame: a 4 byte big endian size followed by
// the json document.
type daemonReply struct {
	OK    bool            `json:"ok"`
	Body  json.RawMessage `json:"body,omitempty"`
	Error string          `json:"error,omitempty"`
}

type frameConn struct {
	conn   net.Conn
	reader *bufio.Reader
	writer *bufio.Writer
}

func dialFrame(ctx context.Context, address string) (*frameConn, error) {
	var dialer net.Dialer
	conn, err := dialer.DialContext(ctx, "tcp", address)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to worker daemon: %w", err)
	}

	return &frameConn{
		conn:   conn,
		reader: bufio.NewReader(conn),
		writer: bufio.NewWriter(conn),
	}, nil
}

func (c *frameConn) Send(req daemonRequest) error {
	data, err := json.Marshal(req)
	if err != nil {
		return fmt.Errorf("failed to marshal request: %w", err)
	}

	if _, err := c.writer.Write(append(data, '\n')); err != nil {
		return fmt.Errorf("failed to send data: %w", err)
	}

	if err := c.writer.Flush(); err != nil {
		return fmt.Errorf("failed to flush data: %w", err)
	}

	return nil
}

func (c *frameConn) ReceiveFrame() ([]byte, error) {
	header := make([]byte, 4)
	if _, err := io.ReadFull(c.reader, header); err != nil {
		return nil, fmt.Errorf("failed to receive size prefix: %w", err)
	}

	size := binary.BigEndian.Uint32(header)
	if size > maxFrameSize {
		return nil, fmt.Errorf("%w: %d bytes", ErrFrameTooLarge, size)
	}

	body := make([]byte, size)
	if _, err := io.ReadFull(c.reader, body); err != nil {
		return nil, fmt.Errorf("failed to receive frame: %w", err)
	}

	return body, nil
}

func (c *frameConn) Close() error {
	return c.conn.Close()
}
