package app

import (
	"context"
	"errors"
	"fmt"

	"quizroom-service/internal/domain"
)

// Settlement summarizes a completed payout.
type Settlement struct {
	RoomID     string         `json:"roomId"`
	WinnerID   string         `json:"winnerId"`
	Payout     domain.Payout  `json:"payout"`
	BetPayouts map[string]int `json:"betPayouts,omitempty"`
}

// Settle pays out a finished room exactly once: winner share, host share,
// per-player stats and spectator bets are written in one transaction together
// with the prizesAwarded flag. A nil Settlement means it was already settled.
func (s *RoomService) Settle(ctx context.Context, roomID, hostUID string) (*Settlement, error) {
	var (
		result  *Settlement
		refunds map[string]int
	)
	err := s.Store.RunTransaction(ctx, func(tx Tx) error {
		result, refunds = nil, nil
		room, err := tx.Room(roomID)
		if err != nil {
			return err
		}
		if room.PrizesAwarded {
			return nil
		}
		if room.Status != domain.StatusFinished {
			return domain.ErrWrongStatus
		}
		if room.HostID != hostUID {
			return domain.ErrUnauthorized
		}
		standings := room.Standings()
		if len(standings) == 0 {
			refunds = make(map[string]int, len(room.Bets))
			for uid, bet := range room.Bets {
				u, err := tx.User(uid)
				if err != nil {
					return fmt.Errorf("load bettor %s: %w", uid, err)
				}
				u.Points += bet.Amount
				tx.PutUser(u)
				refunds[uid] = bet.Amount
			}
			room.PrizesAwarded = true
			tx.PutRoom(room)
			return nil
		}
		winner := standings[0]
		payout := domain.SplitPrize(room.PrizePool, s.economy.WinnerShare, winner.UID, room.HostID)

		users := make(map[string]domain.UserProfile, len(standings))
		for _, p := range standings {
			u, err := tx.User(p.UID)
			if err != nil {
				return fmt.Errorf("load %s: %w", p.UID, err)
			}
			correct, incorrect := p.Tally()
			u.QuizStats.TotalScore += p.Score
			u.QuizStats.CorrectAnswers += correct
			u.QuizStats.IncorrectAnswers += incorrect
			users[u.UID] = u
		}
		w := users[winner.UID]
		w.Points += payout.WinnerShare
		w.QuizWins++
		users[winner.UID] = w
		if payout.HostShare > 0 {
			h, ok := users[payout.HostID]
			if !ok {
				if h, err = tx.User(payout.HostID); err != nil {
					return fmt.Errorf("load host %s: %w", payout.HostID, err)
				}
			}
			h.Points += payout.HostShare
			users[h.UID] = h
		}

		bets := domain.ResolveBets(room.Bets, winner.UID)
		for uid, amount := range bets {
			u, ok := users[uid]
			if !ok {
				if u, err = tx.User(uid); err != nil {
					return fmt.Errorf("load bettor %s: %w", uid, err)
				}
			}
			u.Points += amount
			users[uid] = u
		}

		for _, u := range users {
			tx.PutUser(u)
		}
		room.PrizesAwarded = true
		room.WinnerID = winner.UID
		tx.PutRoom(room)
		result = &Settlement{RoomID: room.ID, WinnerID: winner.UID, Payout: payout, BetPayouts: bets}
		return nil
	})
	if err != nil {
		s.log.Error().Err(err).Str("room", roomID).Msg("settlement failed")
		return nil, err
	}
	for uid, amount := range refunds {
		s.logPoints(ctx, uid, amount, "quiz bet refund")
	}
	if result == nil {
		return nil, nil
	}
	s.logPoints(ctx, result.Payout.WinnerID, result.Payout.WinnerShare, "quiz winnings")
	s.logPoints(ctx, result.Payout.HostID, result.Payout.HostShare, "quiz host share")
	for uid, amount := range result.BetPayouts {
		s.logPoints(ctx, uid, amount, "quiz bet payout")
	}
	s.log.Info().Str("room", roomID).Str("winner", result.WinnerID).Int("winnerShare", result.Payout.WinnerShare).
		Int("hostShare", result.Payout.HostShare).Msg("room settled")
	return result, nil
}

// ClosureKind is what a client learns when its room disappears mid-session.
type ClosureKind string

const (
	// ClosedByHost means the room vanished before any fee was escrowed.
	ClosedByHost ClosureKind = "host_closed"
	// ClosedAfterFinish means prizes were already paid; nothing to refund.
	ClosedAfterFinish ClosureKind = "finished"
	// ClosedRefunded means the entry fee or bet stake was credited back.
	ClosedRefunded ClosureKind = "refunded"
)

type ClosureOutcome struct {
	Kind   ClosureKind `json:"kind"`
	Amount int         `json:"amount,omitempty"`
}

// HandleUnexpectedClosure decides the outcome for uid given the last room
// snapshot seen before deletion. Players get their entry fee back when the
// room died mid-game; spectators get their unresolved stake back whenever
// prizes were never paid. Refunds are keyed per room and user, so repeated
// delivery never credits twice.
func (s *RoomService) HandleUnexpectedClosure(ctx context.Context, last domain.QuizRoom, uid string) (ClosureOutcome, error) {
	if last.PrizesAwarded {
		return ClosureOutcome{Kind: ClosedAfterFinish}, nil
	}
	if bet, ok := last.Bets[uid]; ok && bet.Amount > 0 {
		key := fmt.Sprintf("betrefund:%s:%s", last.ID, uid)
		return s.refund(ctx, last.ID, uid, bet.Amount, key, "quiz bet refund")
	}
	if last.Status == domain.StatusFinished {
		return ClosureOutcome{Kind: ClosedAfterFinish}, nil
	}
	if !last.Status.Active() || last.EntryFee <= 0 {
		return ClosureOutcome{Kind: ClosedByHost}, nil
	}
	if _, played := last.Players[uid]; !played {
		return ClosureOutcome{Kind: ClosedByHost}, nil
	}
	key := fmt.Sprintf("refund:%s:%s", last.ID, uid)
	return s.refund(ctx, last.ID, uid, last.EntryFee, key, "quiz refund")
}

func (s *RoomService) refund(ctx context.Context, roomID, uid string, amount int, key, reason string) (ClosureOutcome, error) {
	credited, err := s.Store.CreditPoints(ctx, uid, amount, key)
	if err != nil {
		if errors.Is(err, domain.ErrUserNotFound) {
			return ClosureOutcome{Kind: ClosedByHost}, err
		}
		return ClosureOutcome{}, fmt.Errorf("%s: %w", reason, err)
	}
	if credited {
		s.logPoints(ctx, uid, amount, reason)
		s.log.Info().Str("room", roomID).Str("user", uid).Int("amount", amount).Str("reason", reason).Msg("points refunded")
	}
	return ClosureOutcome{Kind: ClosedRefunded, Amount: amount}, nil
}
