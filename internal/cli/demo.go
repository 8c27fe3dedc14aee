package cli

import (
	"context"
	"errors"
	"fmt"

	"quizroom-service/internal/app"
	"quizroom-service/internal/domain"
)

// demoGames is the catalog used when no Postgres is configured.
func demoGames() []domain.Game {
	return []domain.Game{
		{ID: "geo", Name: "Geography"},
		{ID: "math", Name: "Mental Math"},
	}
}

// demoQuestions provides a small community pool per demo game; swap this
// loader for the Postgres one in production.
func demoQuestions() map[string][]domain.QuizQuestion {
	geo := []domain.QuizQuestion{
		{Question: "Capital of Japan?", Options: []string{"Osaka", "Tokyo", "Kyoto", "Nagoya"}, CorrectAnswer: "Tokyo", Type: "text", Category: "capitals"},
		{Question: "Longest river in Africa?", Options: []string{"Congo", "Niger", "Nile", "Zambezi"}, CorrectAnswer: "Nile", Type: "text", Category: "rivers"},
		{Question: "Capital of Canada?", Options: []string{"Toronto", "Ottawa", "Montreal", "Vancouver"}, CorrectAnswer: "Ottawa", Type: "text", Category: "capitals"},
		{Question: "Largest ocean?", Options: []string{"Atlantic", "Indian", "Arctic", "Pacific"}, CorrectAnswer: "Pacific", Type: "text", Category: "oceans"},
		{Question: "Capital of Australia?", Options: []string{"Sydney", "Melbourne", "Canberra", "Perth"}, CorrectAnswer: "Canberra", Type: "text", Category: "capitals"},
	}
	maths := make([]domain.QuizQuestion, 0, 10)
	for i := 1; i <= 10; i++ {
		answer := fmt.Sprint(i * 7)
		maths = append(maths, domain.QuizQuestion{
			Question:      fmt.Sprintf("What is %d x 7?", i),
			Options:       []string{fmt.Sprint(i*7 - 1), answer, fmt.Sprint(i*7 + 1), fmt.Sprint(i*7 + 7)},
			CorrectAnswer: answer,
			Type:          "text",
			Category:      "multiplication",
		})
	}
	return map[string][]domain.QuizQuestion{"geo": geo, "math": maths}
}

// seedDemoUsers creates a few profiles so local clients can connect without
// an account service. Existing profiles are left alone.
func seedDemoUsers(ctx context.Context, store app.Store) error {
	users := []domain.UserProfile{
		{UID: "alice", Username: "alice", Points: 1000},
		{UID: "bob", Username: "bob", Points: 1000, Friends: []string{"alice"}},
		{UID: "carol", Username: "carol", Points: 500},
		{UID: "admin", Username: "admin", Role: "admin"},
	}
	for _, u := range users {
		_, err := store.GetUser(ctx, u.UID)
		if err == nil {
			continue
		}
		if !errors.Is(err, domain.ErrUserNotFound) {
			return fmt.Errorf("seed user %s: %w", u.UID, err)
		}
		if err := store.PutUser(ctx, u); err != nil {
			return fmt.Errorf("seed user %s: %w", u.UID, err)
		}
	}
	return nil
}
