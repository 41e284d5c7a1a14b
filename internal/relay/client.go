package relay

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"sync"
	"time"

	"github.com/skypro1111/form-relay-service/internal/config"
	"github.com/skypro1111/form-relay-service/internal/protocol"
)

var (
	// ErrAckTimeout is returned in acknowledged mode when no ack arrives in time.
	ErrAckTimeout = errors.New("relay acknowledgement timed out")
	// ErrNotStored is returned in acknowledged mode when the ingest server
	// reports that the record could not be stored.
	ErrNotStored = errors.New("ingest server failed to store record")
)

// TransportError reports a failed UDP operation against the relay endpoint
type TransportError struct {
	Op       string
	Endpoint string
	Err      error
}

func (e *TransportError) Error() string {
	return fmt.Sprintf("relay %s %s: %v", e.Op, e.Endpoint, e.Err)
}

func (e *TransportError) Unwrap() error {
	return e.Err
}

// Client sends form payloads to the relay endpoint as single datagrams
type Client struct {
	endpoint   *net.UDPAddr
	ack        bool
	ackTimeout time.Duration
	logger     *slog.Logger

	conn   *net.UDPConn
	mu     sync.Mutex
	closed bool
}

// NewClient resolves the relay endpoint and opens the shared send socket
func NewClient(cfg *config.RelayConfig, logger *slog.Logger) (*Client, error) {
	addr, err := net.ResolveUDPAddr("udp", cfg.Endpoint())
	if err != nil {
		return nil, fmt.Errorf("failed to resolve relay address: %w", err)
	}

	c := &Client{
		endpoint:   addr,
		ack:        cfg.Ack,
		ackTimeout: cfg.GetAckTimeout(),
		logger:     logger,
	}

	// Acknowledged mode dials a socket per send so each ack is matched to
	// its datagram by the ephemeral port.
	if !c.ack {
		conn, err := net.DialUDP("udp", nil, addr)
		if err != nil {
			return nil, fmt.Errorf("failed to open relay socket: %w", err)
		}
		c.conn = conn
	}

	return c, nil
}

// Endpoint returns the relay address
func (c *Client) Endpoint() string {
	return c.endpoint.String()
}

// Send transmits payload as one datagram. In acknowledged mode it then waits
// for the ingest server's ack, bounded by the configured timeout.
func (c *Client) Send(ctx context.Context, payload []byte) error {
	if len(payload) > config.MaxUDPPayload {
		return &TransportError{Op: "send", Endpoint: c.Endpoint(),
			Err: fmt.Errorf("payload of %d bytes exceeds %d byte datagram limit", len(payload), config.MaxUDPPayload)}
	}

	c.mu.Lock()
	closed := c.closed
	c.mu.Unlock()
	if closed {
		return &TransportError{Op: "send", Endpoint: c.Endpoint(), Err: net.ErrClosed}
	}

	if c.ack {
		return c.sendAcknowledged(ctx, payload)
	}

	if _, err := c.conn.Write(payload); err != nil {
		return &TransportError{Op: "send", Endpoint: c.Endpoint(), Err: err}
	}

	c.logger.Debug("Datagram relayed",
		slog.String("endpoint", c.Endpoint()),
		slog.Int("size", len(payload)),
	)
	return nil
}

func (c *Client) sendAcknowledged(ctx context.Context, payload []byte) error {
	conn, err := net.DialUDP("udp", nil, c.endpoint)
	if err != nil {
		return &TransportError{Op: "dial", Endpoint: c.Endpoint(), Err: err}
	}
	defer conn.Close()

	deadline := time.Now().Add(c.ackTimeout)
	if d, ok := ctx.Deadline(); ok && d.Before(deadline) {
		deadline = d
	}
	if err := conn.SetDeadline(deadline); err != nil {
		return &TransportError{Op: "deadline", Endpoint: c.Endpoint(), Err: err}
	}

	// Abort the pending read if the caller gives up first.
	stop := context.AfterFunc(ctx, func() {
		conn.SetDeadline(time.Now())
	})
	defer stop()

	if _, err := conn.Write(payload); err != nil {
		return &TransportError{Op: "send", Endpoint: c.Endpoint(), Err: err}
	}

	buf := make([]byte, 16)
	n, err := conn.Read(buf)
	if err != nil {
		if ctx.Err() != nil {
			return &TransportError{Op: "ack", Endpoint: c.Endpoint(), Err: ctx.Err()}
		}
		var netErr net.Error
		if errors.As(err, &netErr) && netErr.Timeout() {
			return &TransportError{Op: "ack", Endpoint: c.Endpoint(), Err: ErrAckTimeout}
		}
		return &TransportError{Op: "ack", Endpoint: c.Endpoint(), Err: err}
	}

	stored, err := protocol.ParseAck(buf[:n])
	if err != nil {
		return &TransportError{Op: "ack", Endpoint: c.Endpoint(), Err: err}
	}
	if !stored {
		return ErrNotStored
	}

	c.logger.Debug("Datagram relayed and acknowledged",
		slog.String("endpoint", c.Endpoint()),
		slog.Int("size", len(payload)),
	)
	return nil
}

// Close releases the send socket. Subsequent sends fail with a TransportError.
func (c *Client) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed {
		return nil
	}
	c.closed = true

	if c.conn != nil {
		return c.conn.Close()
	}
	return nil
}
