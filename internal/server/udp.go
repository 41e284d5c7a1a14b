package server

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"github.com/skypro1111/form-relay-service/internal/config"
	"github.com/skypro1111/form-relay-service/internal/metrics"
	"github.com/skypro1111/form-relay-service/internal/protocol"
	"github.com/skypro1111/form-relay-service/internal/storage"
)

const (
	readDeadline     = time.Second
	readErrorBackoff = 100 * time.Millisecond
)

// UDPServer receives relayed form payloads and writes them to storage
type UDPServer struct {
	conn          *net.UDPConn
	address       string
	config        *config.IngestConfig
	ack           bool
	insertTimeout time.Duration
	logger        *slog.Logger
	sink          storage.Sink
	metrics       *metrics.Metrics
	limiter       *rate.Limiter

	// Concurrency management
	ctx      context.Context
	cancel   context.CancelFunc
	wg       sync.WaitGroup
	stopOnce sync.Once

	packetChan chan *incomingDatagram

	// Counters
	datagramsReceived uint64
	recordsStored     uint64
	decodeErrors      uint64
	storeErrors       uint64
	rateLimited       uint64
	oversized         uint64
	mu                sync.RWMutex
}

// incomingDatagram represents a received UDP datagram with metadata
type incomingDatagram struct {
	data       []byte
	remoteAddr *net.UDPAddr
	timestamp  time.Time
}

// NewUDPServer creates a new UDP ingest server bound to the relay endpoint
func NewUDPServer(cfg *config.Config, logger *slog.Logger, sink storage.Sink, m *metrics.Metrics) *UDPServer {
	ctx, cancel := context.WithCancel(context.Background())

	s := &UDPServer{
		address:       cfg.Relay.Endpoint(),
		config:        &cfg.Ingest,
		ack:           cfg.Relay.Ack,
		insertTimeout: cfg.Storage.GetInsertTimeout(),
		logger:        logger,
		sink:          sink,
		metrics:       m,
		ctx:           ctx,
		cancel:        cancel,
		packetChan:    make(chan *incomingDatagram, cfg.Ingest.QueueSize),
	}

	if cfg.Ingest.RateLimit > 0 {
		s.limiter = rate.NewLimiter(rate.Limit(cfg.Ingest.RateLimit), cfg.Ingest.RateBurst)
	}

	return s
}

// Start binds the relay endpoint and starts the receive loop and workers
func (s *UDPServer) Start() error {
	addr, err := net.ResolveUDPAddr("udp", s.address)
	if err != nil {
		return fmt.Errorf("failed to resolve UDP address: %w", err)
	}

	conn, err := net.ListenUDP("udp", addr)
	if err != nil {
		return fmt.Errorf("failed to listen on UDP: %w", err)
	}

	s.conn = conn

	if err := s.conn.SetReadBuffer(s.config.ReadBufferSize); err != nil {
		s.logger.Warn("Failed to set UDP read buffer size",
			slog.Int("buffer_size", s.config.ReadBufferSize),
			slog.String("error", err.Error()),
		)
	}

	s.logger.Info("UDP server started",
		slog.String("address", s.conn.LocalAddr().String()),
		slog.Int("workers", s.config.Workers),
		slog.Bool("ack", s.ack),
	)

	for i := 0; i < s.config.Workers; i++ {
		s.wg.Add(1)
		go s.recordWriter(i)
	}

	s.wg.Add(1)
	go s.receiveLoop()

	return nil
}

// Addr returns the bound address, or nil before Start
func (s *UDPServer) Addr() net.Addr {
	if s.conn == nil {
		return nil
	}
	return s.conn.LocalAddr()
}

// Stop closes the socket and abandons queued and in-flight datagrams
func (s *UDPServer) Stop() error {
	s.stopOnce.Do(func() {
		s.logger.Info("Stopping UDP server...")

		s.cancel()

		// Closing the socket unblocks a pending read.
		if s.conn != nil {
			if err := s.conn.Close(); err != nil {
				s.logger.Warn("Error closing UDP connection", slog.String("error", err.Error()))
			}
		}

		s.wg.Wait()

		stats := s.GetStatistics()
		s.logger.Info("UDP server stopped",
			slog.Uint64("datagrams_received", stats.DatagramsReceived),
			slog.Uint64("records_stored", stats.RecordsStored),
			slog.Uint64("decode_errors", stats.DecodeErrors),
			slog.Uint64("store_errors", stats.StoreErrors),
			slog.Int("abandoned", len(s.packetChan)),
		)
	})

	return nil
}

// receiveLoop is the main datagram receiving loop
func (s *UDPServer) receiveLoop() {
	defer s.wg.Done()

	// One spare byte detects datagrams larger than the limit.
	buffer := make([]byte, s.config.MaxDatagramBytes+1)

	for {
		select {
		case <-s.ctx.Done():
			return
		default:
		}

		// Set read timeout to allow periodic context checking
		if err := s.conn.SetReadDeadline(time.Now().Add(readDeadline)); err != nil {
			if s.ctx.Err() != nil || errors.Is(err, net.ErrClosed) {
				return
			}
		}

		n, remoteAddr, err := s.conn.ReadFromUDP(buffer)
		if err != nil {
			if s.ctx.Err() != nil || errors.Is(err, net.ErrClosed) {
				return
			}
			var netErr net.Error
			if errors.As(err, &netErr) && netErr.Timeout() {
				continue
			}
			s.logger.Error("Failed to read UDP datagram", slog.String("error", err.Error()))
			select {
			case <-s.ctx.Done():
				return
			case <-time.After(readErrorBackoff):
			}
			continue
		}

		s.mu.Lock()
		s.datagramsReceived++
		s.mu.Unlock()
		s.metrics.RecordDatagramReceived()

		if n > s.config.MaxDatagramBytes {
			s.metrics.RecordOversized()
			s.mu.Lock()
			s.oversized++
			s.mu.Unlock()
			s.logger.Warn("Datagram exceeds size limit, dropping",
				slog.String("remote_addr", remoteAddr.String()),
				slog.Int("max_bytes", s.config.MaxDatagramBytes),
			)
			s.reply(remoteAddr, protocol.AckError)
			continue
		}

		if s.limiter != nil && !s.limiter.Allow() {
			s.metrics.RecordRateLimited()
			s.mu.Lock()
			s.rateLimited++
			s.mu.Unlock()
			s.logger.Warn("Ingest rate limit exceeded, dropping datagram",
				slog.String("remote_addr", remoteAddr.String()),
				slog.Int("size", n),
			)
			s.reply(remoteAddr, protocol.AckError)
			continue
		}

		// Copy out of the reused buffer
		data := make([]byte, n)
		copy(data, buffer[:n])

		datagram := &incomingDatagram{
			data:       data,
			remoteAddr: remoteAddr,
			timestamp:  time.Now(),
		}

		// Block rather than drop: a received datagram always gets a decode attempt
		// unless the server is shutting down.
		select {
		case s.packetChan <- datagram:
			s.metrics.SetQueueSize(len(s.packetChan))
		case <-s.ctx.Done():
			return
		}
	}
}

// recordWriter decodes queued datagrams and inserts them into storage
func (s *UDPServer) recordWriter(workerID int) {
	defer s.wg.Done()

	s.logger.Debug("Record writer started", slog.Int("worker_id", workerID))

	for {
		select {
		case <-s.ctx.Done():
			s.logger.Debug("Record writer stopped", slog.Int("worker_id", workerID))
			return
		case datagram := <-s.packetChan:
			s.metrics.SetQueueSize(len(s.packetChan))
			s.handleDatagram(datagram, workerID)
		}
	}
}

// handleDatagram processes a single datagram: decode, stamp, insert
func (s *UDPServer) handleDatagram(datagram *incomingDatagram, workerID int) {
	s.logger.Debug("Datagram received",
		slog.String("remote_addr", datagram.remoteAddr.String()),
		slog.String("data", string(datagram.data)),
		slog.Int("worker_id", workerID),
	)

	// Datagrams still queued at shutdown are abandoned, not inserted
	if s.ctx.Err() != nil {
		s.logger.Debug("Abandoning datagram after shutdown",
			slog.String("remote_addr", datagram.remoteAddr.String()),
			slog.Int("worker_id", workerID),
		)
		return
	}

	record, err := protocol.ParseDatagram(datagram.data, datagram.timestamp.UTC())
	if err != nil {
		s.mu.Lock()
		s.decodeErrors++
		s.mu.Unlock()
		s.metrics.RecordDecodeError()

		s.logger.Warn("Dropped malformed fragments from datagram",
			slog.String("remote_addr", datagram.remoteAddr.String()),
			slog.Int("size", len(datagram.data)),
			slog.String("error", err.Error()),
			slog.Int("worker_id", workerID),
		)
	}

	ctx, cancel := context.WithTimeout(s.ctx, s.insertTimeout)
	start := time.Now()
	err = s.sink.Insert(ctx, record)
	cancel()
	s.metrics.RecordInsert(err == nil, time.Since(start).Seconds())

	if err != nil {
		s.mu.Lock()
		s.storeErrors++
		s.mu.Unlock()

		s.logger.Error("Failed to write record to storage",
			slog.Any("record", record),
			slog.String("error", err.Error()),
			slog.Int("worker_id", workerID),
		)
		s.reply(datagram.remoteAddr, protocol.AckError)
		return
	}

	s.mu.Lock()
	s.recordsStored++
	s.mu.Unlock()

	s.logger.Debug("Record stored",
		slog.Int("fields", len(record.Fields)),
		slog.Int("worker_id", workerID),
	)
	s.reply(datagram.remoteAddr, protocol.AckOK)
}

// reply writes an ack frame to the sender when acknowledged mode is on
func (s *UDPServer) reply(addr *net.UDPAddr, frame []byte) {
	if !s.ack {
		return
	}
	if _, err := s.conn.WriteToUDP(frame, addr); err != nil && s.ctx.Err() == nil {
		s.logger.Warn("Failed to send ack",
			slog.String("remote_addr", addr.String()),
			slog.String("error", err.Error()),
		)
	}
}

// GetStatistics returns current server statistics
func (s *UDPServer) GetStatistics() ServerStatistics {
	s.mu.RLock()
	defer s.mu.RUnlock()

	return ServerStatistics{
		DatagramsReceived: s.datagramsReceived,
		RecordsStored:     s.recordsStored,
		DecodeErrors:      s.decodeErrors,
		StoreErrors:       s.storeErrors,
		RateLimited:       s.rateLimited,
		Oversized:         s.oversized,
		QueueSize:         uint64(len(s.packetChan)),
		QueueCapacity:     uint64(cap(s.packetChan)),
	}
}

// ServerStatistics represents ingest counters
type ServerStatistics struct {
	DatagramsReceived uint64 `json:"datagrams_received"`
	RecordsStored     uint64 `json:"records_stored"`
	DecodeErrors      uint64 `json:"decode_errors"`
	StoreErrors       uint64 `json:"store_errors"`
	RateLimited       uint64 `json:"rate_limited"`
	Oversized         uint64 `json:"oversized"`
	QueueSize         uint64 `json:"queue_size"`
	QueueCapacity     uint64 `json:"queue_capacity"`
}
