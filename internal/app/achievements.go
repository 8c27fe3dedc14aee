package app

import (
	"context"

	"quizroom-service/internal/domain"
)

type threshold struct {
	id  string
	min int
}

var (
	winAchievements = []threshold{
		{"first_win", 1}, {"win_25", 25}, {"win_100", 100}, {"win_500", 500},
	}
	playedAchievements = []threshold{
		{"played_10", 10}, {"played_100", 100},
	}
	correctAchievements = []threshold{
		{"correct_50", 50}, {"correct_250", 250}, {"correct_1000", 1000},
	}
	streakAchievements = []threshold{
		{"win_streak_3", 3}, {"win_streak_7", 7}, {"win_streak_15", 15},
	}
	tierAchievements = map[string]string{
		"gold":    "reach_gold_tier",
		"diamond": "reach_diamond_tier",
	}
)

// EarnedAchievements lists every achievement the settled profile qualifies for.
// streak is the win streak including this room's result.
func EarnedAchievements(user domain.UserProfile, room domain.QuizRoom, streak int) []string {
	var ids []string
	reached := func(list []threshold, v int) {
		for _, t := range list {
			if v >= t.min {
				ids = append(ids, t.id)
			}
		}
	}
	won := room.WinnerID == user.UID
	if won {
		reached(winAchievements, user.QuizWins)
	}
	reached(playedAchievements, user.QuizzesPlayed)
	reached(correctAchievements, user.QuizStats.CorrectAnswers)
	reached(streakAchievements, streak)
	if p, ok := room.Players[user.UID]; ok && won && len(p.Answers) > 0 {
		flawless := true
		for _, a := range p.Answers {
			if !a.Correct {
				flawless = false
				break
			}
		}
		if flawless {
			ids = append(ids, "flawless_victory")
		}
	}
	if id, ok := tierAchievements[user.QuizTier]; ok {
		ids = append(ids, id)
	}
	return ids
}

// CheckAchievements runs after settlement for the local player only. It moves
// the win streak once per room and grants whatever is newly earned.
func (s *RoomService) CheckAchievements(ctx context.Context, room domain.QuizRoom, uid string) ([]string, error) {
	if !room.PrizesAwarded {
		return nil, domain.ErrWrongStatus
	}
	var settled domain.UserProfile
	err := s.Store.RunTransaction(ctx, func(tx Tx) error {
		u, err := tx.User(uid)
		if err != nil {
			return err
		}
		settled = u
		if u.LastStreakRoom == room.ID {
			return nil
		}
		if room.WinnerID == uid {
			u.QuizWinStreak++
		} else {
			u.QuizWinStreak = 0
		}
		u.LastStreakRoom = room.ID
		tx.PutUser(u)
		settled = u
		return nil
	})
	if err != nil {
		return nil, err
	}
	if s.Achievements == nil {
		return nil, nil
	}
	var granted []string
	for _, id := range EarnedAchievements(settled, room, settled.QuizWinStreak) {
		ok, err := s.Achievements.Grant(ctx, uid, id)
		if err != nil {
			s.log.Warn().Err(err).Str("user", uid).Str("achievement", id).Msg("grant failed")
			continue
		}
		if ok {
			granted = append(granted, id)
		}
	}
	return granted, nil
}
