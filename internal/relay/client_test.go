package relay

import (
	"bytes"
	"context"
	"errors"
	"log/slog"
	"net"
	"os"
	"testing"
	"time"

	"github.com/skypro1111/form-relay-service/internal/config"
	"github.com/skypro1111/form-relay-service/internal/protocol"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelError}))
}

// listenLoopback opens a UDP listener on an ephemeral loopback port and
// returns a relay config pointing at it.
func listenLoopback(t *testing.T) (*net.UDPConn, *config.RelayConfig) {
	t.Helper()
	conn, err := net.ListenUDP("udp", &net.UDPAddr{IP: net.IPv4(127, 0, 0, 1), Port: 0})
	if err != nil {
		t.Fatalf("Failed to listen: %v", err)
	}
	t.Cleanup(func() { conn.Close() })

	addr := conn.LocalAddr().(*net.UDPAddr)
	return conn, &config.RelayConfig{IP: "127.0.0.1", Port: addr.Port, AckTimeoutMs: 500}
}

func readDatagram(t *testing.T, conn *net.UDPConn) ([]byte, *net.UDPAddr) {
	t.Helper()
	buf := make([]byte, 65535)
	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	n, from, err := conn.ReadFromUDP(buf)
	if err != nil {
		t.Fatalf("Failed to read datagram: %v", err)
	}
	return buf[:n], from
}

func TestSendDeliversPayloadUnchanged(t *testing.T) {
	listener, cfg := listenLoopback(t)

	client, err := NewClient(cfg, testLogger())
	if err != nil {
		t.Fatalf("NewClient failed: %v", err)
	}
	defer client.Close()

	payloads := [][]byte{
		[]byte("name=Jane&msg=Hello+World"),
		[]byte("binary=\x00\x01\xff"),
		bytes.Repeat([]byte("a"), 8192),
	}

	for _, payload := range payloads {
		if err := client.Send(context.Background(), payload); err != nil {
			t.Fatalf("Send failed: %v", err)
		}
		got, _ := readDatagram(t, listener)
		if !bytes.Equal(got, payload) {
			t.Errorf("Expected datagram of %d bytes to match, got %d bytes", len(payload), len(got))
		}
	}
}

func TestSendAfterClose(t *testing.T) {
	_, cfg := listenLoopback(t)

	client, err := NewClient(cfg, testLogger())
	if err != nil {
		t.Fatalf("NewClient failed: %v", err)
	}
	if err := client.Close(); err != nil {
		t.Fatalf("Close failed: %v", err)
	}
	// Close is idempotent.
	if err := client.Close(); err != nil {
		t.Fatalf("Second close failed: %v", err)
	}

	err = client.Send(context.Background(), []byte("a=b"))
	var transportErr *TransportError
	if !errors.As(err, &transportErr) {
		t.Fatalf("Expected *TransportError, got %v", err)
	}
	if !errors.Is(err, net.ErrClosed) {
		t.Errorf("Expected net.ErrClosed cause, got %v", err)
	}
}

func TestSendRejectsOversizedPayload(t *testing.T) {
	_, cfg := listenLoopback(t)

	client, err := NewClient(cfg, testLogger())
	if err != nil {
		t.Fatalf("NewClient failed: %v", err)
	}
	defer client.Close()

	err = client.Send(context.Background(), make([]byte, config.MaxUDPPayload+1))
	var transportErr *TransportError
	if !errors.As(err, &transportErr) {
		t.Fatalf("Expected *TransportError, got %v", err)
	}
}

func TestAcknowledgedSend(t *testing.T) {
	tests := []struct {
		name      string
		reply     []byte
		expectErr error
	}{
		{name: "stored", reply: protocol.AckOK},
		{name: "store failed", reply: protocol.AckError, expectErr: ErrNotStored},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			listener, cfg := listenLoopback(t)
			cfg.Ack = true

			client, err := NewClient(cfg, testLogger())
			if err != nil {
				t.Fatalf("NewClient failed: %v", err)
			}
			defer client.Close()

			done := make(chan []byte, 1)
			go func() {
				buf := make([]byte, 1024)
				listener.SetReadDeadline(time.Now().Add(2 * time.Second))
				n, from, err := listener.ReadFromUDP(buf)
				if err != nil {
					done <- nil
					return
				}
				listener.WriteToUDP(tt.reply, from)
				done <- buf[:n]
			}()

			err = client.Send(context.Background(), []byte("name=Jane"))
			if tt.expectErr == nil && err != nil {
				t.Fatalf("Send failed: %v", err)
			}
			if tt.expectErr != nil && !errors.Is(err, tt.expectErr) {
				t.Fatalf("Expected %v, got %v", tt.expectErr, err)
			}

			if got := <-done; string(got) != "name=Jane" {
				t.Errorf("Expected relayed payload name=Jane, got %q", got)
			}
		})
	}
}

func TestAcknowledgedSendTimeout(t *testing.T) {
	_, cfg := listenLoopback(t)
	cfg.Ack = true
	cfg.AckTimeoutMs = 100

	client, err := NewClient(cfg, testLogger())
	if err != nil {
		t.Fatalf("NewClient failed: %v", err)
	}
	defer client.Close()

	start := time.Now()
	err = client.Send(context.Background(), []byte("name=Jane"))
	if !errors.Is(err, ErrAckTimeout) {
		t.Fatalf("Expected ErrAckTimeout, got %v", err)
	}
	if elapsed := time.Since(start); elapsed > time.Second {
		t.Errorf("Send blocked for %v, expected it to respect the 100ms timeout", elapsed)
	}
}

func TestAcknowledgedSendCancelled(t *testing.T) {
	_, cfg := listenLoopback(t)
	cfg.Ack = true
	cfg.AckTimeoutMs = 5000

	client, err := NewClient(cfg, testLogger())
	if err != nil {
		t.Fatalf("NewClient failed: %v", err)
	}
	defer client.Close()

	ctx, cancel := context.WithCancel(context.Background())
	time.AfterFunc(50*time.Millisecond, cancel)

	err = client.Send(ctx, []byte("name=Jane"))
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("Expected context.Canceled, got %v", err)
	}
}
