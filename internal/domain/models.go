package domain

import (
	"sort"
	"time"
)

// RoomStatus is a room's position in the match lifecycle.
type RoomStatus string

const (
	StatusWaiting    RoomStatus = "waiting"
	StatusVoting     RoomStatus = "voting"
	StatusStarting   RoomStatus = "starting"
	StatusPlaying    RoomStatus = "playing"
	StatusTiebreaker RoomStatus = "tiebreaker"
	StatusFinished   RoomStatus = "finished"
)

// Joinable reports whether new players may still enter the roster.
func (s RoomStatus) Joinable() bool {
	return s == StatusWaiting || s == StatusVoting
}

// Listed reports whether rooms in this status show up in the lobby.
func (s RoomStatus) Listed() bool {
	switch s {
	case StatusWaiting, StatusVoting, StatusStarting, StatusPlaying:
		return true
	}
	return false
}

// Active reports whether a match is underway (entry fees already escrowed).
func (s RoomStatus) Active() bool {
	switch s {
	case StatusStarting, StatusPlaying, StatusTiebreaker, StatusFinished:
		return true
	}
	return false
}

type Mode string

const (
	ModeClassic     Mode = "classic"
	ModeTeams       Mode = "teams"
	ModeElimination Mode = "elimination"
)

func (m Mode) Valid() bool {
	return m == ModeClassic || m == ModeTeams || m == ModeElimination
}

type Difficulty string

const (
	DifficultyEasy   Difficulty = "easy"
	DifficultyMedium Difficulty = "medium"
	DifficultyHard   Difficulty = "hard"
)

func (d Difficulty) Valid() bool {
	return d == DifficultyEasy || d == DifficultyMedium || d == DifficultyHard
}

// QuestionSource selects where question content comes from at game start.
type QuestionSource string

const (
	SourceAI        QuestionSource = "ai"
	SourceCommunity QuestionSource = "community"
)

func (s QuestionSource) Valid() bool {
	return s == SourceAI || s == SourceCommunity
}

// QuizQuestion is a multiple-choice question. CorrectAnswer matches one of Options.
type QuizQuestion struct {
	Question      string   `json:"question"`
	Options       []string `json:"options"`
	CorrectAnswer string   `json:"correctAnswer"`
	Type          string   `json:"type,omitempty"`
	MediaURL      string   `json:"mediaUrl,omitempty"`
	Category      string   `json:"category,omitempty"`
}

// QuizAnswer is one recorded answer of a player.
type QuizAnswer struct {
	QuestionIndex int    `json:"questionIndex"`
	Answer        string `json:"answer"`
	Correct       bool   `json:"correct"`
	TimeTaken     int64  `json:"timeTaken"` // ms from question start
	Score         int    `json:"score"`
}

// Emote is the last emoji a player broadcast.
type Emote struct {
	Emoji     string    `json:"emoji"`
	Timestamp time.Time `json:"timestamp"`
}

// Interaction is the last gesture another player aimed at this player.
type Interaction struct {
	FromUID      string    `json:"fromUid"`
	FromUsername string    `json:"fromUsername"`
	Gesture      Gesture   `json:"type"`
	Timestamp    time.Time `json:"timestamp"`
}

// QuizPlayer is a roster entry, keyed by UID inside the room.
type QuizPlayer struct {
	UID               string       `json:"uid"`
	Username          string       `json:"username"`
	Avatar            string       `json:"avatar,omitempty"`
	Score             int          `json:"score"`
	Streak            int          `json:"streak"`
	Ready             bool         `json:"ready"`
	Answers           []QuizAnswer `json:"answers"`
	Powerups          Powerups     `json:"powerups"`
	SelectedPowerup   Powerup      `json:"selectedPowerup,omitempty"`
	EliminatedOptions []string     `json:"eliminatedOptions,omitempty"`
	JoinedAt          time.Time    `json:"joinedAt"`
	LastEmoji         *Emote       `json:"lastEmoji,omitempty"`
	LastInteraction   *Interaction `json:"lastInteraction,omitempty"`
}

// NewPlayer builds a fresh roster entry with zeroed counters.
func NewPlayer(user UserProfile, joinedAt time.Time) QuizPlayer {
	return QuizPlayer{
		UID:      user.UID,
		Username: user.Username,
		Avatar:   user.Avatar,
		Answers:  []QuizAnswer{},
		Powerups: StartingPowerups(),
		JoinedAt: joinedAt,
	}
}

// AnswerFor returns the recorded answer for a question index.
func (p QuizPlayer) AnswerFor(index int) (QuizAnswer, bool) {
	for _, a := range p.Answers {
		if a.QuestionIndex == index {
			return a, true
		}
	}
	return QuizAnswer{}, false
}

// Tally counts correct and incorrect answers.
func (p QuizPlayer) Tally() (correct, incorrect int) {
	for _, a := range p.Answers {
		if a.Correct {
			correct++
		} else {
			incorrect++
		}
	}
	return correct, incorrect
}

// Spectator is the lightweight profile kept for watchers.
type Spectator struct {
	UID      string `json:"uid"`
	Username string `json:"username"`
	Avatar   string `json:"avatar,omitempty"`
}

// Ban records who was banned and when.
type Ban struct {
	Username string    `json:"username"`
	BannedAt time.Time `json:"bannedAt"`
}

// Bet is a spectator's stake on a player winning.
type Bet struct {
	PlayerUID string `json:"playerUid"`
	Amount    int    `json:"amount"`
}

// QuizRoom is the shared room document.
type QuizRoom struct {
	ID       string `json:"id"`
	ShortID  string `json:"shortId"`
	HostID   string `json:"hostId"`
	HostName string `json:"hostUsername"`
	// HostEpoch increments on every host handoff; host timers capture it.
	HostEpoch int `json:"hostEpoch"`

	GameID        string         `json:"gameId"`
	GameName      string         `json:"gameName"`
	MaxPlayers    int            `json:"maxPlayers"`
	EntryFee      int            `json:"entryFee"`
	GameLength    int            `json:"gameLength"`
	Mode          Mode           `json:"mode"`
	Difficulty    Difficulty     `json:"difficulty"`
	QuestionTopic QuestionSource `json:"questionTopic"`
	Theme         string         `json:"theme,omitempty"`
	Private       bool           `json:"private"`
	Password      string         `json:"password,omitempty"`
	Featured      bool           `json:"featured,omitempty"`

	IsChallenge  bool     `json:"isChallenge,omitempty"`
	ChallengerID string   `json:"challengerId,omitempty"`
	ChallengedID string   `json:"challengedId,omitempty"`
	InvitedUIDs  []string `json:"invitedUids,omitempty"`

	Players    map[string]QuizPlayer `json:"players"`
	Spectators map[string]Spectator  `json:"spectators"`
	BannedUIDs map[string]Ban        `json:"bannedUids"`

	Status                RoomStatus          `json:"status"`
	CurrentQuestionIndex  int                 `json:"currentQuestionIndex"`
	QuestionStartTime     *time.Time          `json:"questionStartTime,omitempty"`
	RevealAnswerForIndex  *int                `json:"revealAnswerForIndex,omitempty"`
	InterstitialForIndex  *int                `json:"interstitialForIndex,omitempty"`
	QuestionCategoryVotes map[string][]string `json:"questionCategoryVotes,omitempty"`

	Questions []QuizQuestion `json:"questions"`

	PrizePool     int            `json:"prizePool"`
	PrizesAwarded bool           `json:"prizesAwarded"`
	WinnerID      string         `json:"winnerId,omitempty"`
	Bets          map[string]Bet `json:"bets,omitempty"`

	CreatedAt time.Time `json:"createdAt"`
}

// Normalize allocates nil maps so callers can write into them.
func (r *QuizRoom) Normalize() {
	if r.Players == nil {
		r.Players = make(map[string]QuizPlayer)
	}
	if r.Spectators == nil {
		r.Spectators = make(map[string]Spectator)
	}
	if r.BannedUIDs == nil {
		r.BannedUIDs = make(map[string]Ban)
	}
	if r.Bets == nil {
		r.Bets = make(map[string]Bet)
	}
	if r.QuestionCategoryVotes == nil {
		r.QuestionCategoryVotes = make(map[string][]string)
	}
}

// Clone deep-copies the room so snapshots never share mutable state.
func (r QuizRoom) Clone() QuizRoom {
	out := r
	out.InvitedUIDs = append([]string(nil), r.InvitedUIDs...)
	out.Questions = append([]QuizQuestion(nil), r.Questions...)
	out.Players = make(map[string]QuizPlayer, len(r.Players))
	for uid, p := range r.Players {
		p.Answers = append([]QuizAnswer{}, p.Answers...)
		p.EliminatedOptions = append([]string(nil), p.EliminatedOptions...)
		if p.LastEmoji != nil {
			e := *p.LastEmoji
			p.LastEmoji = &e
		}
		if p.LastInteraction != nil {
			i := *p.LastInteraction
			p.LastInteraction = &i
		}
		out.Players[uid] = p
	}
	out.Spectators = make(map[string]Spectator, len(r.Spectators))
	for uid, s := range r.Spectators {
		out.Spectators[uid] = s
	}
	out.BannedUIDs = make(map[string]Ban, len(r.BannedUIDs))
	for uid, b := range r.BannedUIDs {
		out.BannedUIDs[uid] = b
	}
	out.Bets = make(map[string]Bet, len(r.Bets))
	for uid, b := range r.Bets {
		out.Bets[uid] = b
	}
	out.QuestionCategoryVotes = make(map[string][]string, len(r.QuestionCategoryVotes))
	for cat, uids := range r.QuestionCategoryVotes {
		out.QuestionCategoryVotes[cat] = append([]string(nil), uids...)
	}
	if r.QuestionStartTime != nil {
		t := *r.QuestionStartTime
		out.QuestionStartTime = &t
	}
	if r.RevealAnswerForIndex != nil {
		v := *r.RevealAnswerForIndex
		out.RevealAnswerForIndex = &v
	}
	if r.InterstitialForIndex != nil {
		v := *r.InterstitialForIndex
		out.InterstitialForIndex = &v
	}
	return out
}

// IsInvited reports whether uid was explicitly invited to a private room.
func (r QuizRoom) IsInvited(uid string) bool {
	if r.ChallengedID == uid {
		return true
	}
	for _, invited := range r.InvitedUIDs {
		if invited == uid {
			return true
		}
	}
	return false
}

// CurrentQuestion returns the question being played, if any.
func (r QuizRoom) CurrentQuestion() (QuizQuestion, bool) {
	if r.CurrentQuestionIndex < 0 || r.CurrentQuestionIndex >= len(r.Questions) {
		return QuizQuestion{}, false
	}
	return r.Questions[r.CurrentQuestionIndex], true
}

// AllAnswered reports whether every player has an answer for the current index.
func (r QuizRoom) AllAnswered() bool {
	if len(r.Players) == 0 {
		return false
	}
	for _, p := range r.Players {
		if _, ok := p.AnswerFor(r.CurrentQuestionIndex); !ok {
			return false
		}
	}
	return true
}

// PlayersByJoin orders the roster by joinedAt, then UID.
func (r QuizRoom) PlayersByJoin() []QuizPlayer {
	players := make([]QuizPlayer, 0, len(r.Players))
	for _, p := range r.Players {
		players = append(players, p)
	}
	sort.Slice(players, func(i, j int) bool {
		if !players[i].JoinedAt.Equal(players[j].JoinedAt) {
			return players[i].JoinedAt.Before(players[j].JoinedAt)
		}
		return players[i].UID < players[j].UID
	})
	return players
}

// Standings orders players by score desc; ties go to the earliest joiner, then UID.
func (r QuizRoom) Standings() []QuizPlayer {
	players := r.PlayersByJoin()
	sort.SliceStable(players, func(i, j int) bool {
		return players[i].Score > players[j].Score
	})
	return players
}

// TopCategories returns up to n voted categories, most votes first.
func (r QuizRoom) TopCategories(n int) []string {
	type tally struct {
		category string
		votes    int
	}
	tallies := make([]tally, 0, len(r.QuestionCategoryVotes))
	for cat, uids := range r.QuestionCategoryVotes {
		if len(uids) > 0 {
			tallies = append(tallies, tally{category: cat, votes: len(uids)})
		}
	}
	sort.Slice(tallies, func(i, j int) bool {
		if tallies[i].votes != tallies[j].votes {
			return tallies[i].votes > tallies[j].votes
		}
		return tallies[i].category < tallies[j].category
	})
	out := make([]string, 0, n)
	for i := 0; i < len(tallies) && i < n; i++ {
		out = append(out, tallies[i].category)
	}
	return out
}

// QuizStats are lifetime aggregates on a user profile.
type QuizStats struct {
	TotalScore       int `json:"totalScore"`
	CorrectAnswers   int `json:"correctAnswers"`
	IncorrectAnswers int `json:"incorrectAnswers"`
}

// UserProfile is the subset of the user document this service reads and writes.
type UserProfile struct {
	UID           string    `json:"uid"`
	Username      string    `json:"username"`
	Avatar        string    `json:"avatar,omitempty"`
	Role          string    `json:"role,omitempty"`
	Points        int       `json:"points"`
	QuizWins      int       `json:"quizWins"`
	QuizzesPlayed int       `json:"quizzesPlayed"`
	QuizWinStreak int       `json:"quizWinStreak"`
	QuizTier      string    `json:"quizTier,omitempty"`
	QuizStats     QuizStats `json:"quizStats"`
	Friends       []string  `json:"friends,omitempty"`

	// LastStreakRoom is the room whose result last moved QuizWinStreak.
	LastStreakRoom string `json:"lastStreakRoom,omitempty"`
}

// IsAdmin reports whether the user holds the global admin role.
func (u UserProfile) IsAdmin() bool {
	return u.Role == "admin"
}

// ChatMessage is one entry of a room's chat sub-collection.
type ChatMessage struct {
	UID       string    `json:"uid"`
	Username  string    `json:"username"`
	Avatar    string    `json:"avatar,omitempty"`
	Message   string    `json:"message"`
	CreatedAt time.Time `json:"createdAt"`
}

// Notification is an out-of-band message delivered to a user's inbox.
type Notification struct {
	Title   string            `json:"title"`
	Body    string            `json:"body"`
	Type    string            `json:"type"`
	Payload map[string]string `json:"payload,omitempty"`
}

// QuestionReport flags a question for moderator review.
type QuestionReport struct {
	RoomID     string       `json:"roomId"`
	GameID     string       `json:"gameId"`
	GameName   string       `json:"gameName"`
	Question   QuizQuestion `json:"question"`
	ReporterID string       `json:"reporterId"`
	Reporter   string       `json:"reporter"`
	ReportedAt time.Time    `json:"reportedAt"`
}

// PointsChange is an append-only ledger entry for audit.
type PointsChange struct {
	UserID string    `json:"userId"`
	Change int       `json:"change"`
	Reason string    `json:"reason"`
	At     time.Time `json:"at"`
}

// Game is a catalog entry a room is played about.
type Game struct {
	ID   string `json:"id"`
	Name string `json:"name"`
}
