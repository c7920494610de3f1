package worker

import (
	"context"
	"encoding/json"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	"github.com/proctorly/examlive-backend/internal/config"
)

const (
	BatchSize    = 50
	BatchTimeout = 2 * time.Second
	PollTimeout  = 1 * time.Second // Must be >= 1s to satisfy Redis
)

// ProctorWorker drains the proctoring persist queue into the append-only
// proctoring_events table. Events arrive through Redis so the hot websocket
// path never waits on Postgres.
type ProctorWorker struct {
	pool *pgxpool.Pool
	rdb  *redis.Client
	log  zerolog.Logger
}

func NewProctorWorker(pool *pgxpool.Pool, rdb *redis.Client, log zerolog.Logger) *ProctorWorker {
	return &ProctorWorker{
		pool: pool,
		rdb:  rdb,
		log:  log.With().Str("component", "proctor_worker").Logger(),
	}
}

type proctorPayload struct {
	AttemptID string          `json:"attempt_id"`
	ExamID    string          `json:"exam_id"`
	UserID    string          `json:"user_id"`
	Type      string          `json:"type"`
	Details   json.RawMessage `json:"details,omitempty"`
	Timestamp int64           `json:"timestamp"`
}

func (w *ProctorWorker) Start(ctx context.Context) {
	w.log.Info().Msg("ProctorWorker started")

	buffer := make([]*proctorPayload, 0, BatchSize)
	lastFlushTime := time.Now()

	for {
		// Flush on size or age.
		if len(buffer) > 0 {
			if len(buffer) >= BatchSize || time.Since(lastFlushTime) >= BatchTimeout {
				w.flushSafe(ctx, buffer)
				buffer = buffer[:0]
				lastFlushTime = time.Now()
			}
		}

		select {
		case <-ctx.Done():
			w.shutdown(buffer)
			return
		default:
		}

		// BLPop blocks for 1 second. Returns immediately if data exists.
		result, err := w.rdb.BLPop(ctx, PollTimeout, config.WorkerKey.PersistProctoringQueue).Result()
		if err != nil {
			if err == redis.Nil {
				continue // Queue empty, loop back to check the flush timer.
			}
			if ctx.Err() != nil {
				return
			}
			w.log.Error().Err(err).Msg("Redis connection error, sleeping 3s")
			time.Sleep(3 * time.Second)
			continue
		}

		if len(result) < 2 {
			continue
		}

		var payload proctorPayload
		if err := json.Unmarshal([]byte(result[1]), &payload); err != nil {
			// Malformed JSON can never succeed on retry. Log and discard.
			w.log.Error().Err(err).Str("data", result[1]).Msg("Discarding malformed JSON")
			continue
		}

		buffer = append(buffer, &payload)
	}
}

// flushSafe attempts bulk insert, then fallback insert, then requeue.
func (w *ProctorWorker) flushSafe(ctx context.Context, batch []*proctorPayload) {
	if err := w.bulkInsert(ctx, batch); err != nil {
		w.log.Warn().Err(err).Int("count", len(batch)).Msg("Bulk insert failed, attempting row-by-row recovery")
		w.fallbackInsert(ctx, batch)
	}
}

func (w *ProctorWorker) bulkInsert(ctx context.Context, batch []*proctorPayload) error {
	rows := make([][]interface{}, 0, len(batch))
	for _, p := range batch {
		ids, err := parseIDs(p)
		if err != nil {
			// Trigger the fallback, which drops the bad row individually.
			return err
		}
		rows = append(rows, []interface{}{
			ids.attemptID, ids.examID, ids.userID, p.Type, detailsOrEmpty(p), time.Unix(p.Timestamp, 0),
		})
	}

	_, err := w.pool.CopyFrom(
		ctx,
		pgx.Identifier{"proctoring_events"},
		[]string{"attempt_id", "exam_id", "user_id", "event_type", "details", "recorded_at"},
		pgx.CopyFromRows(rows),
	)
	return err
}

func (w *ProctorWorker) fallbackInsert(ctx context.Context, batch []*proctorPayload) {
	requeueList := make([]*proctorPayload, 0)

	for _, p := range batch {
		ids, err := parseIDs(p)
		if err != nil {
			w.log.Error().Str("attempt_id", p.AttemptID).Msg("Dropping proctoring event with invalid UUID")
			continue
		}

		_, err = w.pool.Exec(ctx,
			`INSERT INTO proctoring_events (attempt_id, exam_id, user_id, event_type, details, recorded_at)
             VALUES ($1, $2, $3, $4, $5::jsonb, $6)`,
			ids.attemptID, ids.examID, ids.userID, p.Type, detailsOrEmpty(p), time.Unix(p.Timestamp, 0),
		)
		if err != nil {
			// Requeue everything that fails the insert; if the DB is down
			// the pipeline will push the rows back for the next flush.
			w.log.Error().Err(err).Str("attempt_id", p.AttemptID).Msg("Insert failed, requeueing")
			requeueList = append(requeueList, p)
		}
	}

	if len(requeueList) > 0 {
		w.requeue(ctx, requeueList)
	}
}

func (w *ProctorWorker) requeue(ctx context.Context, items []*proctorPayload) {
	pipe := w.rdb.Pipeline()
	for _, p := range items {
		data, _ := json.Marshal(p)
		pipe.RPush(ctx, config.WorkerKey.PersistProctoringQueue, data)
	}
	_, err := pipe.Exec(ctx)
	if err != nil {
		w.log.Error().Err(err).Msg("CRITICAL: Failed to requeue items to Redis. Data loss occurred.")
	} else {
		w.log.Info().Int("count", len(items)).Msg("Requeued failed items back to Redis")
		// Avoid thrashing while the DB is down hard.
		time.Sleep(2 * time.Second)
	}
}

func (w *ProctorWorker) shutdown(buffer []*proctorPayload) {
	w.log.Info().Msg("Worker stopping, flushing remaining buffer...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if len(buffer) > 0 {
		w.flushSafe(shutdownCtx, buffer)
	}
}

type eventIDs struct {
	attemptID uuid.UUID
	examID    uuid.UUID
	userID    uuid.UUID
}

func parseIDs(p *proctorPayload) (eventIDs, error) {
	var ids eventIDs
	var err error
	if ids.attemptID, err = uuid.Parse(p.AttemptID); err != nil {
		return ids, err
	}
	if ids.examID, err = uuid.Parse(p.ExamID); err != nil {
		return ids, err
	}
	ids.userID, err = uuid.Parse(p.UserID)
	return ids, err
}

func detailsOrEmpty(p *proctorPayload) []byte {
	if len(p.Details) == 0 {
		return []byte("{}")
	}
	return p.Details
}
