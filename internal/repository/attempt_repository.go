package repository

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/proctorly/examlive-backend/internal/model"
)

// AttemptRepository is the source of truth for exam attempts. All components
// read-modify-write through it; per-attempt serialization is enforced one
// layer up by the relay and scoring services.
type AttemptRepository struct {
	pool *pgxpool.Pool
}

// NewAttemptRepository creates a new AttemptRepository.
func NewAttemptRepository(pool *pgxpool.Pool) *AttemptRepository {
	return &AttemptRepository{pool: pool}
}

const attemptColumns = `
	id, exam_id, user_id, status, answers, tab_switches, copy_paste_attempts,
	total_score, max_score, percentage, rank, percentile,
	started_at, submitted_at, ended_at`

func scanAttempt(row interface{ Scan(dest ...any) error }) (*model.ExamAttempt, error) {
	a := &model.ExamAttempt{}
	var answersRaw []byte
	err := row.Scan(&a.ID, &a.ExamID, &a.UserID, &a.Status, &answersRaw,
		&a.TabSwitches, &a.CopyPasteAttempts,
		&a.TotalScore, &a.MaxScore, &a.Percentage, &a.Rank, &a.Percentile,
		&a.StartedAt, &a.SubmittedAt, &a.EndedAt)
	if err != nil {
		return nil, err
	}
	if len(answersRaw) > 0 {
		if err := json.Unmarshal(answersRaw, &a.Answers); err != nil {
			return nil, fmt.Errorf("decode answers: %w", err)
		}
	}
	return a, nil
}

// Get retrieves an attempt by id.
func (r *AttemptRepository) Get(ctx context.Context, id uuid.UUID) (*model.ExamAttempt, error) {
	row := r.pool.QueryRow(ctx,
		`SELECT `+attemptColumns+` FROM exam_attempts WHERE id = $1`, id)
	return scanAttempt(row)
}

// GetActiveByUserAndExam retrieves the single non-terminal attempt for a
// (user, exam) pair, if any.
func (r *AttemptRepository) GetActiveByUserAndExam(ctx context.Context, userID, examID uuid.UUID) (*model.ExamAttempt, error) {
	row := r.pool.QueryRow(ctx,
		`SELECT `+attemptColumns+` FROM exam_attempts
		 WHERE user_id = $1 AND exam_id = $2 AND status IN ('started', 'in_progress')`,
		userID, examID)
	return scanAttempt(row)
}

// Create inserts a new attempt. A partial unique index guarantees at most
// one active attempt per (user, exam); a concurrent insert surfaces as
// pgx.ErrNoRows from the conflict clause, and the caller re-fetches.
func (r *AttemptRepository) Create(ctx context.Context, a *model.ExamAttempt) error {
	return r.pool.QueryRow(ctx,
		`INSERT INTO exam_attempts (exam_id, user_id, status)
		 VALUES ($1, $2, $3)
		 ON CONFLICT (exam_id, user_id) WHERE status IN ('started', 'in_progress') DO NOTHING
		 RETURNING id, started_at`,
		a.ExamID, a.UserID, model.AttemptStatusStarted,
	).Scan(&a.ID, &a.StartedAt)
}

// SaveAnswers persists the attempt's answer collection and status. The write
// is durable before the relay acknowledges the client.
func (r *AttemptRepository) SaveAnswers(ctx context.Context, a *model.ExamAttempt) error {
	answersRaw, err := json.Marshal(a.Answers)
	if err != nil {
		return fmt.Errorf("encode answers: %w", err)
	}

	_, err = r.pool.Exec(ctx,
		`UPDATE exam_attempts
		 SET answers = $1, status = $2
		 WHERE id = $3`,
		answersRaw, a.Status, a.ID)
	return err
}

// IncrementTabSwitches atomically bumps the tab-switch counter.
func (r *AttemptRepository) IncrementTabSwitches(ctx context.Context, id uuid.UUID) error {
	_, err := r.pool.Exec(ctx,
		`UPDATE exam_attempts SET tab_switches = tab_switches + 1 WHERE id = $1`, id)
	return err
}

// IncrementCopyPasteAttempts atomically bumps the copy-paste counter.
func (r *AttemptRepository) IncrementCopyPasteAttempts(ctx context.Context, id uuid.UUID) error {
	_, err := r.pool.Exec(ctx,
		`UPDATE exam_attempts SET copy_paste_attempts = copy_paste_attempts + 1 WHERE id = $1`, id)
	return err
}

// Finalize writes the scored answers, totals, terminal status and lifecycle
// timestamps. The status guard makes the transition exactly-once: a
// concurrent finalization loses the race and affects zero rows.
func (r *AttemptRepository) Finalize(ctx context.Context, a *model.ExamAttempt) (bool, error) {
	answersRaw, err := json.Marshal(a.Answers)
	if err != nil {
		return false, fmt.Errorf("encode answers: %w", err)
	}

	tag, err := r.pool.Exec(ctx,
		`UPDATE exam_attempts
		 SET status = $1, answers = $2, total_score = $3, max_score = $4,
		     percentage = $5, submitted_at = $6, ended_at = $7
		 WHERE id = $8 AND status IN ('started', 'in_progress')`,
		a.Status, answersRaw, a.TotalScore, a.MaxScore,
		a.Percentage, a.SubmittedAt, a.EndedAt, a.ID)
	if err != nil {
		return false, err
	}
	return tag.RowsAffected() > 0, nil
}

// SetRanking persists the one-time rank and percentile snapshot.
func (r *AttemptRepository) SetRanking(ctx context.Context, id uuid.UUID, rank, percentile int) error {
	_, err := r.pool.Exec(ctx,
		`UPDATE exam_attempts SET rank = $1, percentile = $2 WHERE id = $3`,
		rank, percentile, id)
	return err
}

// ListTerminalByExam retrieves all finalized attempts for an exam in ranking
// order: score descending, earlier submission breaking ties.
func (r *AttemptRepository) ListTerminalByExam(ctx context.Context, examID uuid.UUID) ([]model.ExamAttempt, error) {
	return r.listByExam(ctx, examID,
		`status IN ('submitted', 'timeout', 'completed')`,
		`ORDER BY total_score DESC, submitted_at ASC`)
}

// ListActiveByExam retrieves all non-terminal attempts for an exam.
func (r *AttemptRepository) ListActiveByExam(ctx context.Context, examID uuid.UUID) ([]model.ExamAttempt, error) {
	return r.listByExam(ctx, examID,
		`status IN ('started', 'in_progress')`,
		`ORDER BY started_at`)
}

func (r *AttemptRepository) listByExam(ctx context.Context, examID uuid.UUID, where, order string) ([]model.ExamAttempt, error) {
	rows, err := r.pool.Query(ctx,
		`SELECT `+attemptColumns+` FROM exam_attempts
		 WHERE exam_id = $1 AND `+where+` `+order, examID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var attempts []model.ExamAttempt
	for rows.Next() {
		a, err := scanAttempt(rows)
		if err != nil {
			return nil, err
		}
		attempts = append(attempts, *a)
	}
	return attempts, rows.Err()
}
