package quiz

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/quizlive/quizlive/internal/store"
)

// PostgresLoader reads quiz definitions from the quizzes table (see
// db/migrations). Questions are stored as one jsonb column; quiz content is
// small and read-only at play time, so there is no per-question schema.
type PostgresLoader struct {
	pool *pgxpool.Pool
}

var _ Loader = (*PostgresLoader)(nil)

func NewPostgresLoader(pool *pgxpool.Pool) *PostgresLoader {
	return &PostgresLoader{pool: pool}
}

func (l *PostgresLoader) Load(ctx context.Context, id string) (Quiz, error) {
	row := l.pool.QueryRow(ctx,
		`SELECT id, title, description, questions FROM quizzes WHERE id = $1`, id)

	var q Quiz
	var questions []byte
	if err := row.Scan(&q.ID, &q.Title, &q.Description, &questions); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Quiz{}, fmt.Errorf("quiz %q: %w", id, store.ErrNotFound)
		}
		return Quiz{}, fmt.Errorf("query quiz %q: %w", id, err)
	}
	if err := json.Unmarshal(questions, &q.Questions); err != nil {
		return Quiz{}, fmt.Errorf("decode questions for %q: %w", id, err)
	}
	return q, nil
}

func (l *PostgresLoader) LoadAll(ctx context.Context) ([]Quiz, error) {
	rows, err := l.pool.Query(ctx,
		`SELECT id, title, description, questions FROM quizzes ORDER BY title`)
	if err != nil {
		return nil, fmt.Errorf("query quizzes: %w", err)
	}
	defer rows.Close()

	var out []Quiz
	for rows.Next() {
		var q Quiz
		var questions []byte
		if err := rows.Scan(&q.ID, &q.Title, &q.Description, &questions); err != nil {
			return nil, fmt.Errorf("scan quiz: %w", err)
		}
		if err := json.Unmarshal(questions, &q.Questions); err != nil {
			return nil, fmt.Errorf("decode questions for %q: %w", q.ID, err)
		}
		out = append(out, q)
	}
	return out, rows.Err()
}
