package postgres

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/jackc/pgx/v4/pgxpool"
	"quizroom-service/internal/domain"
)

// QuestionLoader loads a game's approved community questions from Postgres.
type QuestionLoader struct {
	pool *pgxpool.Pool
}

func NewQuestionLoader(pool *pgxpool.Pool) *QuestionLoader {
	return &QuestionLoader{pool: pool}
}

func (l *QuestionLoader) LoadApproved(ctx context.Context, gameID string) ([]domain.QuizQuestion, error) {
	rows, err := l.pool.Query(ctx, `
		SELECT question, options, correct_answer, type, media_url, category
		FROM community_questions
		WHERE game_id = $1 AND status = 'approved'
		ORDER BY id`, gameID)
	if err != nil {
		return nil, fmt.Errorf("load community questions: %w", err)
	}
	defer rows.Close()

	var out []domain.QuizQuestion
	for rows.Next() {
		var (
			q       domain.QuizQuestion
			options []byte
		)
		if err := rows.Scan(&q.Question, &options, &q.CorrectAnswer, &q.Type, &q.MediaURL, &q.Category); err != nil {
			return nil, fmt.Errorf("scan community question: %w", err)
		}
		if err := json.Unmarshal(options, &q.Options); err != nil {
			return nil, fmt.Errorf("unmarshal options: %w", err)
		}
		out = append(out, q)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("load community questions: %w", err)
	}
	return out, nil
}
