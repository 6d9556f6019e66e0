package analytics

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"

	"formauth-service/internal/bucketing"
	"formauth-service/internal/client"
	"formauth-service/internal/models"
	"formauth-service/internal/util"
)

const (
	insertQuery = `INSERT INTO login_attempts (
        event_bucket, event_date, occurred_at, login, ip_address,
        user_agent, succeeded, failure_reason, failure_count)`

	bufferSize    = 1024
	flushSize     = 100
	flushInterval = 5 * time.Second
)

// Sink buffers login attempt rows and flushes them to ClickHouse in
// batches. Record never blocks the login path; rows are dropped with a
// warning when the buffer is full.
type Sink struct {
	clickhouse *client.ClickHouseClient
	bucketing  *bucketing.BucketingManager

	attempts chan *models.LoginAttempt
	done     chan struct{}
	wg       sync.WaitGroup
	once     sync.Once
}

func NewSink(chClient *client.ClickHouseClient, bm *bucketing.BucketingManager) *Sink {
	s := &Sink{
		clickhouse: chClient,
		bucketing:  bm,
		attempts:   make(chan *models.LoginAttempt, bufferSize),
		done:       make(chan struct{}),
	}

	s.wg.Add(1)
	go s.flusher()

	return s
}

// Record queues a login attempt for background insertion.
func (s *Sink) Record(attempt *models.LoginAttempt) {
	if attempt.OccurredAt.IsZero() {
		attempt.OccurredAt = time.Now().UTC()
	}
	attempt.EventBucket = s.bucketing.GetEventBucket(attempt.Login)
	attempt.EventDate = s.bucketing.GetDateBucket()

	select {
	case s.attempts <- attempt:
	default:
		util.Warn("Login attempt buffer full, dropping row",
			zap.String("login", attempt.Login))
	}
}

func (s *Sink) flusher() {
	defer s.wg.Done()

	ticker := time.NewTicker(flushInterval)
	defer ticker.Stop()

	batch := make([]*models.LoginAttempt, 0, flushSize)

	flush := func() {
		if len(batch) == 0 {
			return
		}
		s.flush(batch)
		batch = batch[:0]
	}

	for {
		select {
		case attempt := <-s.attempts:
			batch = append(batch, attempt)
			if len(batch) >= flushSize {
				flush()
			}
		case <-ticker.C:
			flush()
		case <-s.done:
			// Drain whatever is still queued before exiting.
			for {
				select {
				case attempt := <-s.attempts:
					batch = append(batch, attempt)
				default:
					flush()
					return
				}
			}
		}
	}
}

func (s *Sink) flush(batch []*models.LoginAttempt) {
	ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()

	rows := make([][]interface{}, 0, len(batch))
	for _, a := range batch {
		rows = append(rows, []interface{}{
			a.EventBucket, a.EventDate, a.OccurredAt, a.Login,
			a.IPAddress, a.UserAgent, a.Succeeded, a.FailureReason,
			a.FailureCount,
		})
	}

	if err := s.clickhouse.BatchInsert(ctx, insertQuery, rows); err != nil {
		util.Error("Failed to flush login attempts",
			zap.Int("rows", len(rows)),
			zap.Error(err))
		return
	}

	util.Debug("Login attempts flushed", zap.Int("rows", len(rows)))
}

// Close stops the flusher after draining the buffer.
func (s *Sink) Close() {
	s.once.Do(func() {
		close(s.done)
		s.wg.Wait()
	})
}
