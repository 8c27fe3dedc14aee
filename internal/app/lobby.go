package app

import (
	"context"
	"crypto/rand"
	"errors"
	"fmt"
	"math/big"
	"sort"
	"strings"

	"github.com/google/uuid"
	"quizroom-service/internal/domain"
)

const (
	// shortIDAlphabet leaves out O and 0 so codes read unambiguously.
	shortIDAlphabet = "ABCDEFGHIJKLMNPQRSTUVWXYZ123456789"
	shortIDLength   = 6
	lobbyLimit      = 50

	minPlayers       = 2
	maxPlayers       = 8
	maxGameLength    = 50
	defaultMaxPlayer = 8
	defaultLength    = 10
)

// FeeBand buckets entry fees for the lobby filter.
type FeeBand string

const (
	FeeAny    FeeBand = ""
	FeeLow    FeeBand = "low"    // <= 100
	FeeMedium FeeBand = "medium" // 101..500
	FeeHigh   FeeBand = "high"   // > 500
)

func (b FeeBand) match(fee int) bool {
	switch b {
	case FeeLow:
		return fee <= 100
	case FeeMedium:
		return fee > 100 && fee <= 500
	case FeeHigh:
		return fee > 500
	}
	return true
}

// LobbyFilter narrows the public room list.
type LobbyFilter struct {
	GameID string      `json:"gameId,omitempty"`
	Mode   domain.Mode `json:"mode,omitempty"`
	Fee    FeeBand     `json:"fee,omitempty"`
}

func (f LobbyFilter) Match(r domain.QuizRoom) bool {
	if f.GameID != "" && r.GameID != f.GameID {
		return false
	}
	if f.Mode != "" && r.Mode != f.Mode {
		return false
	}
	return f.Fee.match(r.EntryFee)
}

// RoomSummary is one lobby card.
type RoomSummary struct {
	ID          string            `json:"id"`
	ShortID     string            `json:"shortId"`
	GameID      string            `json:"gameId"`
	GameName    string            `json:"gameName"`
	HostName    string            `json:"hostUsername"`
	Mode        domain.Mode       `json:"mode"`
	EntryFee    int               `json:"entryFee"`
	Players     int               `json:"players"`
	MaxPlayers  int               `json:"maxPlayers"`
	Status      domain.RoomStatus `json:"status"`
	Private     bool              `json:"private"`
	IsChallenge bool              `json:"isChallenge,omitempty"`
	Featured    bool              `json:"featured,omitempty"`
	// Joinable is false once the roster is full or the match started.
	Joinable bool `json:"joinable"`
}

func summarize(r domain.QuizRoom) RoomSummary {
	return RoomSummary{
		ID:          r.ID,
		ShortID:     r.ShortID,
		GameID:      r.GameID,
		GameName:    r.GameName,
		HostName:    r.HostName,
		Mode:        r.Mode,
		EntryFee:    r.EntryFee,
		Players:     len(r.Players),
		MaxPlayers:  r.MaxPlayers,
		Status:      r.Status,
		Private:     r.Private,
		IsChallenge: r.IsChallenge,
		Featured:    r.Featured,
		Joinable:    r.Status.Joinable() && len(r.Players) < r.MaxPlayers,
	}
}

// LobbyView is what the lobby renders after each live-query delivery.
type LobbyView struct {
	Featured []RoomSummary `json:"featured"`
	Rooms    []RoomSummary `json:"rooms"`
}

// BuildLobbyView keeps listed statuses and hides private rooms unless they are
// challenges. Newest rooms come first and at most 50 are shown.
func BuildLobbyView(rooms []domain.QuizRoom, filter LobbyFilter) LobbyView {
	visible := make([]domain.QuizRoom, 0, len(rooms))
	for _, r := range rooms {
		if !r.Status.Listed() || (r.Private && !r.IsChallenge) {
			continue
		}
		if !filter.Match(r) {
			continue
		}
		visible = append(visible, r)
	}
	sort.Slice(visible, func(i, j int) bool {
		if !visible[i].CreatedAt.Equal(visible[j].CreatedAt) {
			return visible[i].CreatedAt.After(visible[j].CreatedAt)
		}
		return visible[i].ID < visible[j].ID
	})
	if len(visible) > lobbyLimit {
		visible = visible[:lobbyLimit]
	}
	view := LobbyView{Featured: []RoomSummary{}, Rooms: []RoomSummary{}}
	for _, r := range visible {
		if r.Featured {
			view.Featured = append(view.Featured, summarize(r))
			continue
		}
		view.Rooms = append(view.Rooms, summarize(r))
	}
	return view
}

// LobbyFeed is a filtered live view of the lobby. SetFilter re-renders
// immediately from the last delivery.
type LobbyFeed struct {
	views   chan LobbyView
	filters chan LobbyFilter
	done    chan struct{}
	cancel  func()
}

// ListRooms subscribes to every room and emits filtered lobby views.
// The caller must invoke Close to avoid leaks.
func (s *RoomService) ListRooms(ctx context.Context, filter LobbyFilter) (*LobbyFeed, error) {
	updates, cancel, err := s.Store.SubscribeRooms(ctx)
	if err != nil {
		return nil, err
	}
	feed := &LobbyFeed{
		views:   make(chan LobbyView, 1),
		filters: make(chan LobbyFilter),
		done:    make(chan struct{}),
		cancel:  cancel,
	}
	go feed.run(updates, filter)
	return feed, nil
}

func (f *LobbyFeed) run(updates <-chan []domain.QuizRoom, filter LobbyFilter) {
	defer close(f.views)
	var last []domain.QuizRoom
	for {
		select {
		case <-f.done:
			return
		case rooms, ok := <-updates:
			if !ok {
				return
			}
			last = rooms
		case filter = <-f.filters:
			if last == nil {
				continue
			}
		}
		view := BuildLobbyView(last, filter)
		// Drop the stale view so a slow reader only sees the latest one.
		select {
		case f.views <- view:
		default:
			select {
			case <-f.views:
			default:
			}
			f.views <- view
		}
	}
}

// Views delivers lobby renders; it is closed after Close.
func (f *LobbyFeed) Views() <-chan LobbyView { return f.views }

func (f *LobbyFeed) SetFilter(filter LobbyFilter) {
	select {
	case f.filters <- filter:
	case <-f.done:
	}
}

func (f *LobbyFeed) Close() {
	select {
	case <-f.done:
		return
	default:
	}
	close(f.done)
	f.cancel()
}

// RoomConfig is the host's create-room form.
type RoomConfig struct {
	GameID        string                `json:"gameId"`
	MaxPlayers    int                   `json:"maxPlayers"`
	EntryFee      int                   `json:"entryFee"`
	GameLength    int                   `json:"gameLength"`
	Mode          domain.Mode           `json:"mode"`
	Difficulty    domain.Difficulty     `json:"difficulty"`
	QuestionTopic domain.QuestionSource `json:"questionTopic"`
	Theme         string                `json:"theme,omitempty"`
	Private       bool                  `json:"private"`
	Password      string                `json:"password,omitempty"`
}

func (c *RoomConfig) normalize() error {
	c.Password = strings.TrimSpace(c.Password)
	if c.MaxPlayers == 0 {
		c.MaxPlayers = defaultMaxPlayer
	}
	if c.GameLength == 0 {
		c.GameLength = defaultLength
	}
	if c.Mode == "" {
		c.Mode = domain.ModeClassic
	}
	if c.Difficulty == "" {
		c.Difficulty = domain.DifficultyMedium
	}
	if c.QuestionTopic == "" {
		c.QuestionTopic = domain.SourceAI
	}
	switch {
	case c.GameID == "":
		return &domain.ValidationError{Field: "gameId", Reason: "no valid game selected"}
	case c.EntryFee < 0:
		return &domain.ValidationError{Field: "entryFee", Reason: "must not be negative"}
	case c.MaxPlayers < minPlayers || c.MaxPlayers > maxPlayers:
		return &domain.ValidationError{Field: "maxPlayers", Reason: fmt.Sprintf("must be between %d and %d", minPlayers, maxPlayers)}
	case c.GameLength < 1 || c.GameLength > maxGameLength:
		return &domain.ValidationError{Field: "gameLength", Reason: fmt.Sprintf("must be between 1 and %d", maxGameLength)}
	case !c.Mode.Valid():
		return &domain.ValidationError{Field: "mode", Reason: fmt.Sprintf("unknown mode %q", c.Mode)}
	case !c.Difficulty.Valid():
		return &domain.ValidationError{Field: "difficulty", Reason: fmt.Sprintf("unknown difficulty %q", c.Difficulty)}
	case !c.QuestionTopic.Valid():
		return &domain.ValidationError{Field: "questionTopic", Reason: fmt.Sprintf("unknown source %q", c.QuestionTopic)}
	}
	return nil
}

// CreateRoom creates a room with the host as its sole player. A non-empty
// challengeTarget turns it into a private 1v1 challenge and notifies the target.
func (s *RoomService) CreateRoom(ctx context.Context, hostUID string, cfg RoomConfig, challengeTarget string) (domain.QuizRoom, error) {
	host, err := s.Store.GetUser(ctx, hostUID)
	if err != nil {
		return domain.QuizRoom{}, err
	}
	if challengeTarget != "" {
		if challengeTarget == hostUID {
			return domain.QuizRoom{}, &domain.ValidationError{Field: "challenge", Reason: "cannot challenge yourself"}
		}
		if _, err := s.Store.GetUser(ctx, challengeTarget); err != nil {
			return domain.QuizRoom{}, err
		}
		cfg.Mode = domain.ModeClassic
		cfg.MaxPlayers = 2
		cfg.Private = true
		cfg.Password = "challenge_" + uuid.NewString()[:8]
	}
	if err := cfg.normalize(); err != nil {
		return domain.QuizRoom{}, err
	}
	if cfg.Private && cfg.Password == "" {
		return domain.QuizRoom{}, &domain.ValidationError{Field: "password", Reason: "private rooms need a password"}
	}
	if !cfg.Private {
		cfg.Password = ""
	}
	game, err := s.Games.Game(ctx, cfg.GameID)
	if err != nil {
		if errors.Is(err, domain.ErrGameNotFound) {
			return domain.QuizRoom{}, &domain.ValidationError{Field: "gameId", Reason: "no valid game selected"}
		}
		return domain.QuizRoom{}, err
	}
	if host.Points < cfg.EntryFee {
		return domain.QuizRoom{}, &domain.InsufficientFundsError{
			Required: cfg.EntryFee,
			Players:  []domain.FundShortfall{{UID: host.UID, Username: host.Username, Points: host.Points}},
		}
	}
	shortID, err := s.newShortID(ctx)
	if err != nil {
		return domain.QuizRoom{}, err
	}

	now := s.now()
	room := domain.QuizRoom{
		ShortID:              shortID,
		HostID:               host.UID,
		HostName:             host.Username,
		GameID:               game.ID,
		GameName:             game.Name,
		MaxPlayers:           cfg.MaxPlayers,
		EntryFee:             cfg.EntryFee,
		GameLength:           cfg.GameLength,
		Mode:                 cfg.Mode,
		Difficulty:           cfg.Difficulty,
		QuestionTopic:        cfg.QuestionTopic,
		Theme:                cfg.Theme,
		Private:              cfg.Private,
		Password:             cfg.Password,
		Status:               domain.StatusWaiting,
		CurrentQuestionIndex: -1,
		Questions:            []domain.QuizQuestion{},
		CreatedAt:            now,
	}
	room.Normalize()
	room.Players[host.UID] = domain.NewPlayer(host, now)
	if challengeTarget != "" {
		room.IsChallenge = true
		room.ChallengerID = host.UID
		room.ChallengedID = challengeTarget
	}

	created, err := s.Store.CreateRoom(ctx, room)
	if err != nil {
		return domain.QuizRoom{}, err
	}
	s.log.Info().Str("room", created.ID).Str("shortId", created.ShortID).Str("host", host.UID).
		Bool("challenge", created.IsChallenge).Msg("room created")

	if created.IsChallenge {
		n := domain.Notification{
			Type:  "quiz_challenge",
			Title: "Quiz challenge",
			Body:  fmt.Sprintf("%s challenged you to a %s quiz", host.Username, game.Name),
			Payload: map[string]string{
				"roomId":   created.ID,
				"shortId":  created.ShortID,
				"password": created.Password,
			},
		}
		if err := s.notify(ctx, challengeTarget, n); err != nil {
			s.log.Warn().Err(err).Str("room", created.ID).Msg("challenge notification failed")
		}
	}
	return created, nil
}

// newShortID draws a fresh code, retrying a few times on a live collision.
func (s *RoomService) newShortID(ctx context.Context) (string, error) {
	var code string
	for attempt := 0; attempt < 3; attempt++ {
		var err error
		code, err = randomShortID()
		if err != nil {
			return "", fmt.Errorf("generate room code: %w", err)
		}
		if _, err := s.Store.FindRoomByShortID(ctx, code); errors.Is(err, domain.ErrRoomNotFound) {
			return code, nil
		}
	}
	return code, nil
}

func randomShortID() (string, error) {
	var sb strings.Builder
	limit := big.NewInt(int64(len(shortIDAlphabet)))
	for i := 0; i < shortIDLength; i++ {
		n, err := rand.Int(rand.Reader, limit)
		if err != nil {
			return "", err
		}
		sb.WriteByte(shortIDAlphabet[n.Int64()])
	}
	return sb.String(), nil
}

// QuickJoin joins the oldest public waiting room the user can afford and fit into.
func (s *RoomService) QuickJoin(ctx context.Context, uid string) (domain.QuizRoom, error) {
	user, err := s.Store.GetUser(ctx, uid)
	if err != nil {
		return domain.QuizRoom{}, err
	}
	rooms, err := s.Store.ListRooms(ctx)
	if err != nil {
		return domain.QuizRoom{}, err
	}
	sort.Slice(rooms, func(i, j int) bool {
		return rooms[i].CreatedAt.Before(rooms[j].CreatedAt)
	})
	for _, r := range rooms {
		if r.Status != domain.StatusWaiting || r.Private || len(r.Players) >= r.MaxPlayers {
			continue
		}
		if r.EntryFee > user.Points {
			continue
		}
		if _, banned := r.BannedUIDs[uid]; banned {
			continue
		}
		if _, in := r.Players[uid]; in {
			return r, nil
		}
		joined, err := s.JoinRoom(ctx, r.ID, uid, "", false)
		if err == nil {
			return joined, nil
		}
		// The room may have filled or started since the listing; try the next one.
		s.log.Debug().Err(err).Str("room", r.ID).Msg("quick join candidate rejected")
	}
	return domain.QuizRoom{}, domain.ErrNoRoomAvailable
}

// JoinByCode resolves a short code (case-insensitive) and joins it.
func (s *RoomService) JoinByCode(ctx context.Context, uid, code, password string, asSpectator bool) (domain.QuizRoom, error) {
	code = strings.ToUpper(strings.TrimSpace(code))
	if code == "" {
		return domain.QuizRoom{}, &domain.ValidationError{Field: "code", Reason: "room code is required"}
	}
	room, err := s.Store.FindRoomByShortID(ctx, code)
	if err != nil {
		return domain.QuizRoom{}, err
	}
	return s.JoinRoom(ctx, room.ID, uid, password, asSpectator)
}
