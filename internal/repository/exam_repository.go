package repository

import (
	"context"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/proctorly/examlive-backend/internal/model"
)

// ExamRepository provides read-only access to exam definitions. The live
// coordinator never mutates exams.
type ExamRepository struct {
	pool *pgxpool.Pool
}

// NewExamRepository creates a new ExamRepository.
func NewExamRepository(pool *pgxpool.Pool) *ExamRepository {
	return &ExamRepository{pool: pool}
}

const examColumns = `
	e.id, e.title, e.duration_seconds, e.scheduled_start, e.scheduled_end,
	e.is_active, e.created_at,
	(SELECT COUNT(*) FROM questions q WHERE q.exam_id = e.id) AS question_count`

// GetByID retrieves an exam definition with its question count.
func (r *ExamRepository) GetByID(ctx context.Context, id uuid.UUID) (*model.Exam, error) {
	e := &model.Exam{}
	err := r.pool.QueryRow(ctx,
		`SELECT `+examColumns+` FROM exams e WHERE e.id = $1`, id,
	).Scan(&e.ID, &e.Title, &e.DurationSeconds, &e.ScheduledStart, &e.ScheduledEnd,
		&e.IsActive, &e.CreatedAt, &e.QuestionCount)
	if err != nil {
		return nil, err
	}
	return e, nil
}

// ListActive retrieves every exam whose active flag is set. Used to prewarm
// the Redis definition cache on boot.
func (r *ExamRepository) ListActive(ctx context.Context) ([]model.Exam, error) {
	rows, err := r.pool.Query(ctx,
		`SELECT `+examColumns+` FROM exams e WHERE e.is_active ORDER BY e.created_at`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var exams []model.Exam
	for rows.Next() {
		var e model.Exam
		if err := rows.Scan(&e.ID, &e.Title, &e.DurationSeconds, &e.ScheduledStart,
			&e.ScheduledEnd, &e.IsActive, &e.CreatedAt, &e.QuestionCount); err != nil {
			return nil, err
		}
		exams = append(exams, e)
	}
	return exams, rows.Err()
}
