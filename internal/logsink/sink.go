// Package logsink ships log records to a central collector without ever
// blocking the code that logs.
package logsink

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"meshgate/internal/metrics"
)

// Config configures a Sink
type Config struct {
	Endpoint      string
	QueueSize     int
	BatchSize     int
	FlushInterval time.Duration
	Timeout       time.Duration
	Level         slog.Leveler
}

func (c Config) withDefaults() Config {
	if c.QueueSize <= 0 {
		c.QueueSize = 1024
	}
	if c.BatchSize <= 0 {
		c.BatchSize = 100
	}
	if c.FlushInterval <= 0 {
		c.FlushInterval = time.Second
	}
	if c.Timeout <= 0 {
		c.Timeout = 5 * time.Second
	}
	if c.Level == nil {
		c.Level = slog.LevelInfo
	}
	return c
}

// Sink queues JSON-encoded records and POSTs them in batches to the
// collector endpoint. Records offered while the queue is full are dropped.
type Sink struct {
	config  Config
	client  *http.Client
	metrics *metrics.Metrics

	// mu orders offers against Close: once closed is set no record can
	// reach the queue, so the final drain sees every accepted record.
	mu     sync.RWMutex
	closed bool
	queue  chan []byte
	stop   chan struct{}
	done   chan struct{}
}

// New creates a Sink and starts its delivery worker
func New(cfg Config, m *metrics.Metrics) (*Sink, error) {
	if cfg.Endpoint == "" {
		return nil, fmt.Errorf("log sink endpoint is required")
	}
	cfg = cfg.withDefaults()

	s := &Sink{
		config:  cfg,
		client:  &http.Client{Timeout: cfg.Timeout},
		metrics: m,
		queue:   make(chan []byte, cfg.QueueSize),
		stop:    make(chan struct{}),
		done:    make(chan struct{}),
	}
	go s.run()
	return s, nil
}

// Handler returns a JSON slog.Handler whose output feeds the sink
func (s *Sink) Handler() slog.Handler {
	return slog.NewJSONHandler(queueWriter{s}, &slog.HandlerOptions{Level: s.config.Level})
}

// offer enqueues one record without blocking
func (s *Sink) offer(record []byte) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		s.dropped()
		return
	}
	select {
	case s.queue <- record:
	default:
		s.dropped()
	}
}

func (s *Sink) dropped() {
	if s.metrics != nil {
		s.metrics.LogRecordsDropped.Inc()
	}
}

func (s *Sink) run() {
	defer close(s.done)

	ticker := time.NewTicker(s.config.FlushInterval)
	defer ticker.Stop()

	batch := make([]json.RawMessage, 0, s.config.BatchSize)
	flush := func() {
		if len(batch) == 0 {
			return
		}
		s.deliver(batch)
		batch = batch[:0]
	}

	for {
		select {
		case record := <-s.queue:
			batch = append(batch, record)
			if len(batch) >= s.config.BatchSize {
				flush()
			}
		case <-ticker.C:
			flush()
		case <-s.stop:
			for {
				select {
				case record := <-s.queue:
					batch = append(batch, record)
					if len(batch) >= s.config.BatchSize {
						flush()
					}
				default:
					flush()
					return
				}
			}
		}
	}
}

// deliver POSTs one batch. Failures are counted and otherwise ignored.
func (s *Sink) deliver(batch []json.RawMessage) {
	body, err := json.Marshal(batch)
	if err != nil {
		s.failed()
		return
	}

	req, err := http.NewRequest(http.MethodPost, s.config.Endpoint, bytes.NewReader(body))
	if err != nil {
		s.failed()
		return
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := s.client.Do(req)
	if err != nil {
		s.failed()
		return
	}
	io.Copy(io.Discard, resp.Body)
	resp.Body.Close()
	if resp.StatusCode >= 300 {
		s.failed()
		return
	}
	if s.metrics != nil {
		s.metrics.LogRecordsShipped.Add(float64(len(batch)))
	}
}

func (s *Sink) failed() {
	if s.metrics != nil {
		s.metrics.LogDeliveryFailures.Inc()
	}
}

// Close stops accepting records and delivers what is queued, giving up
// when ctx expires.
func (s *Sink) Close(ctx context.Context) error {
	s.mu.Lock()
	if !s.closed {
		s.closed = true
		close(s.stop)
	}
	s.mu.Unlock()

	select {
	case <-s.done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// queueWriter adapts the sink to the io.Writer a slog.JSONHandler writes
// each formatted record to.
type queueWriter struct {
	sink *Sink
}

func (w queueWriter) Write(p []byte) (int, error) {
	w.sink.offer(bytes.TrimRight(bytes.Clone(p), "\n"))
	return len(p), nil
}
