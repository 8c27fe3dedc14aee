package app

import (
	"context"

	"quizroom-service/internal/domain"
)

// PhaseGuard is the state a host timer was armed in. A transition only
// applies while the room still matches it; otherwise ErrStaleTimer.
type PhaseGuard struct {
	HostID string
	Epoch  int
	Index  int
}

func guardFor(room domain.QuizRoom) PhaseGuard {
	return PhaseGuard{HostID: room.HostID, Epoch: room.HostEpoch, Index: room.CurrentQuestionIndex}
}

func (s *RoomService) transition(ctx context.Context, roomID string, g PhaseGuard, apply func(room *domain.QuizRoom) bool) error {
	return s.Store.RunTransaction(ctx, func(tx Tx) error {
		room, err := tx.Room(roomID)
		if err != nil {
			return err
		}
		if room.HostID != g.HostID || room.HostEpoch != g.Epoch {
			return domain.ErrStaleTimer
		}
		if !apply(&room) {
			return domain.ErrStaleTimer
		}
		tx.PutRoom(room)
		return nil
	})
}

// BeginQuestions ends the start countdown and opens question 0 in its get-ready state.
func (s *RoomService) BeginQuestions(ctx context.Context, roomID string, g PhaseGuard) error {
	return s.transition(ctx, roomID, g, func(r *domain.QuizRoom) bool {
		if r.Status != domain.StatusStarting {
			return false
		}
		r.Status = domain.StatusPlaying
		r.CurrentQuestionIndex = 0
		r.QuestionStartTime = nil
		r.RevealAnswerForIndex = nil
		r.InterstitialForIndex = nil
		return true
	})
}

// StampQuestionStart ends the get-ready pause and starts the answer clock.
func (s *RoomService) StampQuestionStart(ctx context.Context, roomID string, g PhaseGuard) error {
	return s.transition(ctx, roomID, g, func(r *domain.QuizRoom) bool {
		if r.Status != domain.StatusPlaying || r.CurrentQuestionIndex != g.Index || r.QuestionStartTime != nil {
			return false
		}
		r.QuestionStartTime = timePtr(s.now())
		return true
	})
}

// RevealAnswer closes answering on the current question.
func (s *RoomService) RevealAnswer(ctx context.Context, roomID string, g PhaseGuard) error {
	return s.transition(ctx, roomID, g, func(r *domain.QuizRoom) bool {
		if r.Status != domain.StatusPlaying || r.CurrentQuestionIndex != g.Index ||
			r.QuestionStartTime == nil || r.RevealAnswerForIndex != nil {
			return false
		}
		r.RevealAnswerForIndex = intPtr(g.Index)
		return true
	})
}

// ShowInterstitial swaps the reveal overlay for the standings overlay.
func (s *RoomService) ShowInterstitial(ctx context.Context, roomID string, g PhaseGuard) error {
	return s.transition(ctx, roomID, g, func(r *domain.QuizRoom) bool {
		if r.Status != domain.StatusPlaying || r.CurrentQuestionIndex != g.Index {
			return false
		}
		if r.RevealAnswerForIndex == nil || *r.RevealAnswerForIndex != g.Index || r.InterstitialForIndex != nil {
			return false
		}
		r.InterstitialForIndex = intPtr(g.Index)
		return true
	})
}

// AdvanceQuestion moves past the interstitial to the next question, or
// finishes the match after the last one.
func (s *RoomService) AdvanceQuestion(ctx context.Context, roomID string, g PhaseGuard) error {
	return s.transition(ctx, roomID, g, func(r *domain.QuizRoom) bool {
		if r.Status != domain.StatusPlaying || r.CurrentQuestionIndex != g.Index {
			return false
		}
		if r.InterstitialForIndex == nil || *r.InterstitialForIndex != g.Index {
			return false
		}
		next := g.Index + 1
		r.QuestionStartTime = nil
		r.RevealAnswerForIndex = nil
		r.InterstitialForIndex = nil
		if next >= r.GameLength || next >= len(r.Questions) {
			r.Status = domain.StatusFinished
			return true
		}
		r.CurrentQuestionIndex = next
		return true
	})
}
