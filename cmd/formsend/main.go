// Command formsend submits a test form to a running form relay service, either
// through the HTTP front end or directly to the UDP ingest endpoint.
package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"os"
	"strings"
	"time"

	"github.com/skypro1111/form-relay-service/internal/config"
	"github.com/skypro1111/form-relay-service/internal/relay"
)

func main() {
	httpURL := flag.String("http", "", "POST the form to this URL, e.g. http://localhost:3000/submit")
	udpIP := flag.String("udp-ip", "127.0.0.1", "Ingest IP used when -http is empty")
	udpPort := flag.Int("udp-port", 5000, "Ingest port used when -http is empty")
	ack := flag.Bool("ack", false, "Wait for the ingest acknowledgement (UDP only)")
	timeout := flag.Duration("timeout", 5*time.Second, "Overall timeout")
	flag.Parse()

	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelInfo}))

	payload, err := buildPayload(flag.Args())
	if err != nil {
		fmt.Fprintf(os.Stderr, "%v\nusage: formsend [flags] key=value ...\n", err)
		os.Exit(2)
	}

	ctx, cancel := context.WithTimeout(context.Background(), *timeout)
	defer cancel()

	if *httpURL != "" {
		err = postForm(ctx, *httpURL, payload, logger)
	} else {
		cfg := &config.RelayConfig{
			IP:           *udpIP,
			Port:         *udpPort,
			Ack:          *ack,
			AckTimeoutMs: int(timeout.Milliseconds()),
		}
		err = sendDatagram(ctx, cfg, payload, logger)
	}

	if err != nil {
		logger.Error("Submission failed", slog.String("error", err.Error()))
		os.Exit(1)
	}
}

// buildPayload URL-encodes key=value arguments in the order given
func buildPayload(args []string) ([]byte, error) {
	if len(args) == 0 {
		return nil, fmt.Errorf("no fields given")
	}

	parts := make([]string, 0, len(args))
	for _, arg := range args {
		key, value, ok := strings.Cut(arg, "=")
		if !ok || key == "" {
			return nil, fmt.Errorf("invalid field %q, expected key=value", arg)
		}
		parts = append(parts, url.QueryEscape(key)+"="+url.QueryEscape(value))
	}
	return []byte(strings.Join(parts, "&")), nil
}

func postForm(ctx context.Context, target string, payload []byte, logger *slog.Logger) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, target, strings.NewReader(string(payload)))
	if err != nil {
		return fmt.Errorf("failed to build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	client := &http.Client{
		CheckRedirect: func(*http.Request, []*http.Request) error { return http.ErrUseLastResponse },
	}
	resp, err := client.Do(req)
	if err != nil {
		return fmt.Errorf("failed to post form: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusFound {
		return fmt.Errorf("unexpected status %s", resp.Status)
	}

	logger.Info("Form submitted",
		slog.String("url", target),
		slog.String("payload", string(payload)),
		slog.String("location", resp.Header.Get("Location")),
	)
	return nil
}

func sendDatagram(ctx context.Context, cfg *config.RelayConfig, payload []byte, logger *slog.Logger) error {
	client, err := relay.NewClient(cfg, logger)
	if err != nil {
		return err
	}
	defer client.Close()

	if err := client.Send(ctx, payload); err != nil {
		return err
	}

	logger.Info("Datagram sent",
		slog.String("endpoint", client.Endpoint()),
		slog.String("payload", string(payload)),
		slog.Bool("acknowledged", cfg.Ack),
	)
	return nil
}
