package app

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"quizroom-service/internal/domain"
)

// ToggleReady flips uid's ready flag in the lobby and returns the new value.
func (s *RoomService) ToggleReady(ctx context.Context, roomID, uid string) (bool, error) {
	room, err := s.Store.GetRoom(ctx, roomID)
	if err != nil {
		return false, err
	}
	p, ok := room.Players[uid]
	if !ok {
		return false, domain.ErrNotInRoom
	}
	if !room.Status.Joinable() {
		return false, domain.ErrWrongStatus
	}
	ready := !p.Ready
	if err := s.Store.UpdateRoom(ctx, roomID, setReady(uid, ready)); err != nil {
		return false, err
	}
	return ready, nil
}

// OpenVoting moves a waiting room into category voting. Host only.
func (s *RoomService) OpenVoting(ctx context.Context, roomID, hostUID string) error {
	return s.Store.RunTransaction(ctx, func(tx Tx) error {
		room, err := tx.Room(roomID)
		if err != nil {
			return err
		}
		if room.HostID != hostUID {
			return domain.ErrUnauthorized
		}
		if room.Status != domain.StatusWaiting {
			return domain.ErrWrongStatus
		}
		room.Status = domain.StatusVoting
		room.QuestionCategoryVotes = map[string][]string{}
		tx.PutRoom(room)
		return nil
	})
}

// VoteCategory records uid's vote. Each player holds at most one vote.
func (s *RoomService) VoteCategory(ctx context.Context, roomID, uid, category string) error {
	category = strings.TrimSpace(category)
	if category == "" {
		return &domain.ValidationError{Field: "category", Reason: "must not be empty"}
	}
	room, err := s.Store.GetRoom(ctx, roomID)
	if err != nil {
		return err
	}
	if _, ok := room.Players[uid]; !ok {
		return domain.ErrNotInRoom
	}
	if room.Status != domain.StatusVoting {
		return domain.ErrWrongStatus
	}
	return s.Store.UpdateRoom(ctx, roomID, castVote(uid, category))
}

// StartGame escrows every entry fee, loads the questions and moves the room to
// starting. Escrow is all-or-nothing: on a shortfall nobody is charged and the
// offending players are kicked.
func (s *RoomService) StartGame(ctx context.Context, roomID, hostUID string) error {
	room, err := s.hostRoom(ctx, roomID, hostUID)
	if err != nil {
		return err
	}
	if err := checkStartable(room); err != nil {
		return err
	}

	// Questions first: a generation failure must leave every balance untouched.
	questions, err := s.loadQuestions(ctx, room)
	if err != nil {
		s.log.Error().Err(err).Str("room", roomID).Msg("failed to load questions")
		return err
	}

	var shortfall *domain.InsufficientFundsError
	var charged []string
	err = s.Store.RunTransaction(ctx, func(tx Tx) error {
		shortfall, charged = nil, nil
		room, err := tx.Room(roomID)
		if err != nil {
			return err
		}
		if room.HostID != hostUID {
			return domain.ErrUnauthorized
		}
		if err := checkStartable(room); err != nil {
			return err
		}
		users := make([]domain.UserProfile, 0, len(room.Players))
		missing := &domain.InsufficientFundsError{Required: room.EntryFee}
		for _, p := range room.PlayersByJoin() {
			u, err := tx.User(p.UID)
			if err != nil {
				return err
			}
			if u.Points < room.EntryFee {
				missing.Players = append(missing.Players, domain.FundShortfall{UID: u.UID, Username: u.Username, Points: u.Points})
			}
			users = append(users, u)
		}
		if len(missing.Players) > 0 {
			shortfall = missing
			return missing
		}
		for _, u := range users {
			u.Points -= room.EntryFee
			u.QuizzesPlayed++
			tx.PutUser(u)
			charged = append(charged, u.UID)
		}
		room.PrizePool = room.EntryFee * len(users)
		room.Questions = questions
		room.Status = domain.StatusStarting
		room.CurrentQuestionIndex = -1
		room.QuestionStartTime = nil
		room.RevealAnswerForIndex = nil
		room.InterstitialForIndex = nil
		tx.PutRoom(room)
		return nil
	})
	if shortfall != nil {
		offenders := make([]string, 0, len(shortfall.Players))
		for _, p := range shortfall.Players {
			offenders = append(offenders, p.UID)
		}
		if kerr := s.kick(ctx, roomID, offenders...); kerr != nil {
			s.log.Warn().Err(kerr).Str("room", roomID).Msg("failed to kick players short on points")
		}
		return shortfall
	}
	if err != nil {
		return err
	}
	for _, uid := range charged {
		s.logPoints(ctx, uid, -room.EntryFee, "quiz entry fee")
	}
	s.log.Info().Str("room", roomID).Int("players", len(charged)).Int("pool", room.EntryFee*len(charged)).
		Int("questions", len(questions)).Msg("game starting")
	return nil
}

func checkStartable(room domain.QuizRoom) error {
	if !room.Status.Joinable() {
		return domain.ErrWrongStatus
	}
	if len(room.Players) < minPlayers {
		return domain.ErrNotEnoughPlayers
	}
	for _, p := range room.Players {
		if !p.Ready {
			return domain.ErrPlayersNotReady
		}
	}
	return nil
}

// loadQuestions fetches exactly GameLength playable questions.
func (s *RoomService) loadQuestions(ctx context.Context, room domain.QuizRoom) ([]domain.QuizQuestion, error) {
	var (
		raw []domain.QuizQuestion
		err error
	)
	switch room.QuestionTopic {
	case domain.SourceCommunity:
		if s.Bank == nil {
			return nil, &domain.ExternalServiceError{Service: "question bank", Err: errors.New("not configured")}
		}
		raw, err = s.Bank.Approved(ctx, room.GameID, room.GameLength)
		if err != nil {
			if errors.Is(err, domain.ErrNotEnoughQuestions) {
				return nil, err
			}
			return nil, &domain.ExternalServiceError{Service: "question bank", Err: err}
		}
	default:
		if s.Generator == nil {
			return nil, &domain.ExternalServiceError{Service: "question generator", Err: errors.New("not configured")}
		}
		raw, err = s.Generator.Generate(ctx, room.GameName, room.GameLength, room.TopCategories(2), room.Difficulty)
		if err != nil {
			var ext *domain.ExternalServiceError
			if errors.As(err, &ext) {
				return nil, err
			}
			return nil, &domain.ExternalServiceError{Service: "question generator", Err: err}
		}
	}
	questions := make([]domain.QuizQuestion, 0, room.GameLength)
	for _, q := range raw {
		if !playable(q) {
			continue
		}
		if q.Type == "" {
			q.Type = "text"
		}
		questions = append(questions, q)
		if len(questions) == room.GameLength {
			break
		}
	}
	if len(questions) < room.GameLength {
		if room.QuestionTopic == domain.SourceCommunity {
			return nil, domain.ErrNotEnoughQuestions
		}
		return nil, &domain.ExternalServiceError{
			Service: "question generator",
			Err:     fmt.Errorf("got %d usable questions, need %d", len(questions), room.GameLength),
		}
	}
	return questions, nil
}

func playable(q domain.QuizQuestion) bool {
	if strings.TrimSpace(q.Question) == "" || len(q.Options) < 2 {
		return false
	}
	for _, o := range q.Options {
		if o == q.CorrectAnswer {
			return true
		}
	}
	return false
}

// SubmitAnswer scores uid's answer to the current question. A second
// submission for the same question fails with ErrAlreadyAnswered.
func (s *RoomService) SubmitAnswer(ctx context.Context, roomID, uid, answer string) (domain.QuizAnswer, error) {
	var recorded domain.QuizAnswer
	err := s.Store.RunTransaction(ctx, func(tx Tx) error {
		room, err := tx.Room(roomID)
		if err != nil {
			return err
		}
		p, ok := room.Players[uid]
		if !ok {
			return domain.ErrNotInRoom
		}
		q, err := openQuestion(room)
		if err != nil {
			return err
		}
		if _, done := p.AnswerFor(room.CurrentQuestionIndex); done {
			return domain.ErrAlreadyAnswered
		}
		taken := s.now().Sub(*room.QuestionStartTime).Milliseconds()
		if taken < 0 {
			taken = 0
		}
		correct := answer == q.CorrectAnswer
		recorded = domain.QuizAnswer{
			QuestionIndex: room.CurrentQuestionIndex,
			Answer:        answer,
			Correct:       correct,
			TimeTaken:     taken,
			Score:         domain.ScoreAnswer(correct, taken, p.SelectedPowerup),
		}
		p.Answers = append(p.Answers, recorded)
		p.Score += recorded.Score
		if correct {
			p.Streak++
		} else {
			p.Streak = 0
		}
		p.SelectedPowerup = ""
		p.EliminatedOptions = nil
		room.Players[uid] = p
		tx.PutRoom(room)
		return nil
	})
	if err != nil {
		return domain.QuizAnswer{}, err
	}
	return recorded, nil
}

// openQuestion returns the current question if it is accepting answers.
func openQuestion(room domain.QuizRoom) (domain.QuizQuestion, error) {
	if room.Status != domain.StatusPlaying && room.Status != domain.StatusTiebreaker {
		return domain.QuizQuestion{}, domain.ErrNotPlaying
	}
	if room.QuestionStartTime == nil || room.RevealAnswerForIndex != nil || room.InterstitialForIndex != nil {
		return domain.QuizQuestion{}, domain.ErrNotPlaying
	}
	q, ok := room.CurrentQuestion()
	if !ok {
		return domain.QuizQuestion{}, domain.ErrNotPlaying
	}
	return q, nil
}

// PowerupResult tells the caller what a powerup did.
type PowerupResult struct {
	Powerup domain.Powerup `json:"powerup"`
	// Eliminated holds the two wrong options removed by fiftyFifty.
	Eliminated []string `json:"eliminated,omitempty"`
	Remaining  int      `json:"remaining"`
}

// UsePowerup consumes one p. fiftyFifty eliminates two wrong options picked
// here; the others mark the player's next answer.
func (s *RoomService) UsePowerup(ctx context.Context, roomID, uid string, p domain.Powerup) (PowerupResult, error) {
	var result PowerupResult
	err := s.Store.RunTransaction(ctx, func(tx Tx) error {
		room, err := tx.Room(roomID)
		if err != nil {
			return err
		}
		player, ok := room.Players[uid]
		if !ok {
			return domain.ErrNotInRoom
		}
		q, err := openQuestion(room)
		if err != nil {
			return err
		}
		if !player.Powerups.Consume(p) {
			return domain.ErrNoPowerup
		}
		result = PowerupResult{Powerup: p, Remaining: player.Powerups.Count(p)}
		switch p {
		case domain.PowerupFiftyFifty:
			player.EliminatedOptions = s.eliminate(q, 2)
			result.Eliminated = player.EliminatedOptions
		default:
			player.SelectedPowerup = p
		}
		room.Players[uid] = player
		tx.PutRoom(room)
		return nil
	})
	if err != nil {
		return PowerupResult{}, err
	}
	return result, nil
}

// eliminate picks up to n incorrect options at random.
func (s *RoomService) eliminate(q domain.QuizQuestion, n int) []string {
	wrong := make([]string, 0, len(q.Options))
	for _, o := range q.Options {
		if o != q.CorrectAnswer {
			wrong = append(wrong, o)
		}
	}
	s.shuffle(len(wrong), func(i, j int) { wrong[i], wrong[j] = wrong[j], wrong[i] })
	if len(wrong) > n {
		wrong = wrong[:n]
	}
	return wrong
}

// ReportQuestion flags the current question for moderators.
func (s *RoomService) ReportQuestion(ctx context.Context, roomID, uid string) error {
	room, err := s.Store.GetRoom(ctx, roomID)
	if err != nil {
		return err
	}
	p, ok := room.Players[uid]
	if !ok {
		return domain.ErrNotInRoom
	}
	q, ok := room.CurrentQuestion()
	if !ok {
		return domain.ErrNotPlaying
	}
	if s.Reports == nil {
		return nil
	}
	err = s.Reports.Report(ctx, domain.QuestionReport{
		RoomID:     room.ID,
		GameID:     room.GameID,
		GameName:   room.GameName,
		Question:   q,
		ReporterID: uid,
		Reporter:   p.Username,
		ReportedAt: s.now(),
	})
	if err != nil {
		return fmt.Errorf("report question: %w", err)
	}
	return nil
}
