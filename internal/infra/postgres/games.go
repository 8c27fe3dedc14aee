package postgres

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v4"
	"github.com/jackc/pgx/v4/pgxpool"
	"quizroom-service/internal/domain"
)

// GameCatalog resolves games from the games table.
type GameCatalog struct {
	pool *pgxpool.Pool
}

func NewGameCatalog(pool *pgxpool.Pool) *GameCatalog {
	return &GameCatalog{pool: pool}
}

func (c *GameCatalog) Game(ctx context.Context, gameID string) (domain.Game, error) {
	g := domain.Game{ID: gameID}
	err := c.pool.QueryRow(ctx, `SELECT name FROM games WHERE id = $1`, gameID).Scan(&g.Name)
	if errors.Is(err, pgx.ErrNoRows) {
		return domain.Game{}, domain.ErrGameNotFound
	}
	if err != nil {
		return domain.Game{}, fmt.Errorf("load game: %w", err)
	}
	return g, nil
}
