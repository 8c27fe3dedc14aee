package postgres

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/jackc/pgx/v4/pgxpool"
	"quizroom-service/internal/domain"
)

// Outbox persists notifications, question reports, the points ledger and
// achievement grants.
type Outbox struct {
	pool *pgxpool.Pool
}

func NewOutbox(pool *pgxpool.Pool) *Outbox {
	return &Outbox{pool: pool}
}

func (o *Outbox) Send(ctx context.Context, uid string, n domain.Notification) error {
	payload, err := json.Marshal(n.Payload)
	if err != nil {
		return fmt.Errorf("marshal notification payload: %w", err)
	}
	_, err = o.pool.Exec(ctx, `
		INSERT INTO notifications (user_id, type, title, body, payload)
		VALUES ($1, $2, $3, $4, $5)`, uid, n.Type, n.Title, n.Body, payload)
	if err != nil {
		return fmt.Errorf("insert notification: %w", err)
	}
	return nil
}

func (o *Outbox) Report(ctx context.Context, r domain.QuestionReport) error {
	question, err := json.Marshal(r.Question)
	if err != nil {
		return fmt.Errorf("marshal reported question: %w", err)
	}
	_, err = o.pool.Exec(ctx, `
		INSERT INTO question_reports (room_id, game_id, game_name, question, reporter_id, reporter, reported_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)`,
		r.RoomID, r.GameID, r.GameName, question, r.ReporterID, r.Reporter, r.ReportedAt)
	if err != nil {
		return fmt.Errorf("insert question report: %w", err)
	}
	return nil
}

func (o *Outbox) Log(ctx context.Context, c domain.PointsChange) error {
	_, err := o.pool.Exec(ctx, `
		INSERT INTO points_log (user_id, change, reason, at)
		VALUES ($1, $2, $3, $4)`, c.UserID, c.Change, c.Reason, c.At)
	if err != nil {
		return fmt.Errorf("insert points log: %w", err)
	}
	return nil
}

// Grant records an achievement and reports whether it is new for the user.
func (o *Outbox) Grant(ctx context.Context, uid, achievementID string) (bool, error) {
	tag, err := o.pool.Exec(ctx, `
		INSERT INTO user_achievements (user_id, achievement_id)
		VALUES ($1, $2)
		ON CONFLICT DO NOTHING`, uid, achievementID)
	if err != nil {
		return false, fmt.Errorf("grant achievement: %w", err)
	}
	return tag.RowsAffected() == 1, nil
}
