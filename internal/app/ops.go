package app

import (
	"time"

	"quizroom-service/internal/domain"
)

// Field-level writes shared by the lobby, the room screen and the host timers.
// Each op leaves the document untouched when its target is absent.

func setReady(uid string, ready bool) FieldOp {
	return func(r *domain.QuizRoom) {
		p, ok := r.Players[uid]
		if !ok {
			return
		}
		p.Ready = ready
		r.Players[uid] = p
	}
}

func setLastEmoji(uid, emoji string, at time.Time) FieldOp {
	return func(r *domain.QuizRoom) {
		p, ok := r.Players[uid]
		if !ok {
			return
		}
		p.LastEmoji = &domain.Emote{Emoji: emoji, Timestamp: at}
		r.Players[uid] = p
	}
}

func setLastInteraction(target string, in domain.Interaction) FieldOp {
	return func(r *domain.QuizRoom) {
		p, ok := r.Players[target]
		if !ok {
			return
		}
		p.LastInteraction = &in
		r.Players[target] = p
	}
}

func banUser(uid, username string, at time.Time) FieldOp {
	return func(r *domain.QuizRoom) {
		r.BannedUIDs[uid] = domain.Ban{Username: username, BannedAt: at}
		delete(r.Spectators, uid)
	}
}

func unbanUser(uid string) FieldOp {
	return func(r *domain.QuizRoom) {
		delete(r.BannedUIDs, uid)
	}
}

func inviteUser(uid string) FieldOp {
	return func(r *domain.QuizRoom) {
		if !r.IsInvited(uid) {
			r.InvitedUIDs = append(r.InvitedUIDs, uid)
		}
	}
}

// castVote moves uid's vote to category, removing it from any other bucket.
func castVote(uid, category string) FieldOp {
	return func(r *domain.QuizRoom) {
		if r.Status != domain.StatusVoting {
			return
		}
		if _, ok := r.Players[uid]; !ok {
			return
		}
		dropVotes(r, uid)
		r.QuestionCategoryVotes[category] = append(r.QuestionCategoryVotes[category], uid)
	}
}

func dropVotes(r *domain.QuizRoom, uid string) {
	for cat, uids := range r.QuestionCategoryVotes {
		r.QuestionCategoryVotes[cat] = without(uids, uid)
		if len(r.QuestionCategoryVotes[cat]) == 0 {
			delete(r.QuestionCategoryVotes, cat)
		}
	}
}

func without(list []string, v string) []string {
	out := list[:0:0]
	for _, item := range list {
		if item != v {
			out = append(out, item)
		}
	}
	return out
}

func intPtr(v int) *int { return &v }

func timePtr(t time.Time) *time.Time { return &t }
