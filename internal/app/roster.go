package app

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"quizroom-service/internal/domain"
)

// JoinRoom adds uid as a player, or as a spectator when asSpectator is set.
// Joining a room the user is already in is a no-op, checked before status and
// capacity so reconnecting sockets always get back in.
func (s *RoomService) JoinRoom(ctx context.Context, roomID, uid, password string, asSpectator bool) (domain.QuizRoom, error) {
	var joined domain.QuizRoom
	err := s.Store.RunTransaction(ctx, func(tx Tx) error {
		room, err := tx.Room(roomID)
		if err != nil {
			return err
		}
		user, err := tx.User(uid)
		if err != nil {
			return err
		}
		if _, banned := room.BannedUIDs[uid]; banned {
			return domain.ErrBanned
		}
		if _, in := room.Players[uid]; in {
			joined = room
			return nil
		}
		// Watching never needs the password; listed challenges draw spectators and bets.
		if !asSpectator && room.Private && !room.IsInvited(uid) && password != room.Password {
			return domain.ErrWrongPassword
		}
		if asSpectator {
			if _, in := room.Spectators[uid]; in {
				joined = room
				return nil
			}
			room.Spectators[uid] = domain.Spectator{UID: uid, Username: user.Username, Avatar: user.Avatar}
			tx.PutRoom(room)
			joined = room
			return nil
		}
		if !room.Status.Joinable() {
			return domain.ErrGameAlreadyStarted
		}
		if len(room.Players) >= room.MaxPlayers {
			return domain.ErrRoomFull
		}
		if user.Points < room.EntryFee {
			return &domain.InsufficientFundsError{
				Required: room.EntryFee,
				Players:  []domain.FundShortfall{{UID: uid, Username: user.Username, Points: user.Points}},
			}
		}
		delete(room.Spectators, uid)
		room.Players[uid] = domain.NewPlayer(user, s.now())
		tx.PutRoom(room)
		joined = room
		return nil
	})
	if err != nil {
		return domain.QuizRoom{}, err
	}
	s.log.Debug().Str("room", roomID).Str("user", uid).Bool("spectator", asSpectator).Msg("joined room")
	return joined, nil
}

// LeaveRoom removes uid from the room. When the host leaves, the room is deleted
// if it is empty or not yet started; otherwise the earliest joiner takes over.
func (s *RoomService) LeaveRoom(ctx context.Context, roomID, uid string) error {
	err := s.Store.RunTransaction(ctx, func(tx Tx) error {
		room, err := tx.Room(roomID)
		if err != nil {
			return err
		}
		if _, in := room.Players[uid]; in {
			s.departPlayer(tx, &room, uid)
			return nil
		}
		if _, in := room.Spectators[uid]; in {
			delete(room.Spectators, uid)
			tx.PutRoom(room)
		}
		return nil
	})
	if errors.Is(err, domain.ErrRoomNotFound) {
		return nil
	}
	return err
}

// departPlayer removes a player, handling host succession or room deletion.
// It reports whether the room was deleted.
func (s *RoomService) departPlayer(tx Tx, room *domain.QuizRoom, uid string) bool {
	delete(room.Players, uid)
	dropVotes(room, uid)
	if room.HostID != uid {
		tx.PutRoom(*room)
		return false
	}
	if len(room.Players) == 0 || room.Status.Joinable() {
		tx.DeleteRoom(room.ID)
		s.log.Info().Str("room", room.ID).Msg("host left, room closed")
		return true
	}
	next := room.PlayersByJoin()[0]
	room.HostID = next.UID
	room.HostName = next.Username
	room.HostEpoch++
	tx.PutRoom(*room)
	s.log.Info().Str("room", room.ID).Str("host", next.UID).Int("epoch", room.HostEpoch).Msg("host handed off")
	return false
}

// authorizeModerator allows the room host or a global admin.
func (s *RoomService) authorizeModerator(ctx context.Context, room domain.QuizRoom, actorUID string) error {
	if room.HostID == actorUID {
		return nil
	}
	actor, err := s.Store.GetUser(ctx, actorUID)
	if err != nil {
		if errors.Is(err, domain.ErrUserNotFound) {
			return domain.ErrUnauthorized
		}
		return err
	}
	if !actor.IsAdmin() {
		return domain.ErrUnauthorized
	}
	return nil
}

// KickPlayer removes target from the roster. Host or admin only.
func (s *RoomService) KickPlayer(ctx context.Context, roomID, actorUID, targetUID string) error {
	room, err := s.Store.GetRoom(ctx, roomID)
	if err != nil {
		return err
	}
	if err := s.authorizeModerator(ctx, room, actorUID); err != nil {
		return err
	}
	return s.kick(ctx, roomID, targetUID)
}

func (s *RoomService) kick(ctx context.Context, roomID string, targets ...string) error {
	return s.Store.RunTransaction(ctx, func(tx Tx) error {
		room, err := tx.Room(roomID)
		if err != nil {
			return err
		}
		for _, uid := range targets {
			if _, in := room.Players[uid]; !in {
				continue
			}
			if closed := s.departPlayer(tx, &room, uid); closed {
				return nil
			}
		}
		return nil
	})
}

// BanPlayer kicks target and blocks any future join. Host only.
func (s *RoomService) BanPlayer(ctx context.Context, roomID, actorUID, targetUID string) error {
	room, err := s.hostRoom(ctx, roomID, actorUID)
	if err != nil {
		return err
	}
	if targetUID == actorUID {
		return &domain.ValidationError{Field: "target", Reason: "cannot ban yourself"}
	}
	username := targetUID
	if p, ok := room.Players[targetUID]; ok {
		username = p.Username
	} else if sp, ok := room.Spectators[targetUID]; ok {
		username = sp.Username
	}
	if err := s.Store.UpdateRoom(ctx, roomID, banUser(targetUID, username, s.now())); err != nil {
		return err
	}
	s.log.Info().Str("room", roomID).Str("user", targetUID).Msg("user banned")
	return s.kick(ctx, roomID, targetUID)
}

// UnbanPlayer lifts a ban. Host only.
func (s *RoomService) UnbanPlayer(ctx context.Context, roomID, actorUID, targetUID string) error {
	if _, err := s.hostRoom(ctx, roomID, actorUID); err != nil {
		return err
	}
	return s.Store.UpdateRoom(ctx, roomID, unbanUser(targetUID))
}

// CloseRoom deletes the room outright. Host or admin only.
func (s *RoomService) CloseRoom(ctx context.Context, roomID, actorUID string) error {
	room, err := s.Store.GetRoom(ctx, roomID)
	if err != nil {
		return err
	}
	if err := s.authorizeModerator(ctx, room, actorUID); err != nil {
		return err
	}
	s.log.Info().Str("room", roomID).Str("by", actorUID).Msg("room closed")
	return s.Store.DeleteRoom(ctx, roomID)
}

// InviteFriend notifies friendUID and, for private rooms, lets them skip the password.
func (s *RoomService) InviteFriend(ctx context.Context, roomID, actorUID, friendUID string) error {
	room, err := s.Store.GetRoom(ctx, roomID)
	if err != nil {
		return err
	}
	if _, in := room.Players[actorUID]; !in {
		return domain.ErrNotInRoom
	}
	if _, err := s.Store.GetUser(ctx, friendUID); err != nil {
		return err
	}
	if room.Private {
		if err := s.Store.UpdateRoom(ctx, roomID, inviteUser(friendUID)); err != nil {
			return err
		}
	}
	inviter := room.Players[actorUID].Username
	return s.notify(ctx, friendUID, domain.Notification{
		Type:  "quiz_invite",
		Title: "Quiz invite",
		Body:  fmt.Sprintf("%s invited you to play %s", inviter, room.GameName),
		Payload: map[string]string{
			"roomId":  room.ID,
			"shortId": room.ShortID,
		},
	})
}

// RoomSettings are the fields a host may edit before the game starts.
type RoomSettings struct {
	MaxPlayers *int                   `json:"maxPlayers,omitempty"`
	EntryFee   *int                   `json:"entryFee,omitempty"`
	GameLength *int                   `json:"gameLength,omitempty"`
	Difficulty *domain.Difficulty     `json:"difficulty,omitempty"`
	Topic      *domain.QuestionSource `json:"questionTopic,omitempty"`
	Theme      *string                `json:"theme,omitempty"`
	Private    *bool                  `json:"private,omitempty"`
	Password   *string                `json:"password,omitempty"`
}

// UpdateSettings edits a waiting room. The entry fee can only change while the
// host is alone so nobody joins on one price and pays another.
func (s *RoomService) UpdateSettings(ctx context.Context, roomID, actorUID string, in RoomSettings) error {
	return s.Store.RunTransaction(ctx, func(tx Tx) error {
		room, err := tx.Room(roomID)
		if err != nil {
			return err
		}
		if room.HostID != actorUID {
			return domain.ErrUnauthorized
		}
		if !room.Status.Joinable() {
			return domain.ErrWrongStatus
		}
		if in.MaxPlayers != nil {
			v := *in.MaxPlayers
			if v < minPlayers || v > maxPlayers || v < len(room.Players) {
				return &domain.ValidationError{Field: "maxPlayers", Reason: "out of range for the current roster"}
			}
			if room.IsChallenge && v != 2 {
				return &domain.ValidationError{Field: "maxPlayers", Reason: "challenges are 1v1"}
			}
			room.MaxPlayers = v
		}
		if in.EntryFee != nil {
			if len(room.Players) > 1 {
				return &domain.ValidationError{Field: "entryFee", Reason: "can only change while you are alone in the room"}
			}
			if *in.EntryFee < 0 {
				return &domain.ValidationError{Field: "entryFee", Reason: "must not be negative"}
			}
			host, err := tx.User(actorUID)
			if err != nil {
				return err
			}
			if host.Points < *in.EntryFee {
				return &domain.InsufficientFundsError{
					Required: *in.EntryFee,
					Players:  []domain.FundShortfall{{UID: host.UID, Username: host.Username, Points: host.Points}},
				}
			}
			room.EntryFee = *in.EntryFee
		}
		if in.GameLength != nil {
			if *in.GameLength < 1 || *in.GameLength > maxGameLength {
				return &domain.ValidationError{Field: "gameLength", Reason: fmt.Sprintf("must be between 1 and %d", maxGameLength)}
			}
			room.GameLength = *in.GameLength
		}
		if in.Difficulty != nil {
			if !in.Difficulty.Valid() {
				return &domain.ValidationError{Field: "difficulty", Reason: fmt.Sprintf("unknown difficulty %q", *in.Difficulty)}
			}
			room.Difficulty = *in.Difficulty
		}
		if in.Topic != nil {
			if !in.Topic.Valid() {
				return &domain.ValidationError{Field: "questionTopic", Reason: fmt.Sprintf("unknown source %q", *in.Topic)}
			}
			room.QuestionTopic = *in.Topic
		}
		if in.Theme != nil {
			room.Theme = *in.Theme
		}
		if in.Private != nil || in.Password != nil {
			if room.IsChallenge {
				return &domain.ValidationError{Field: "private", Reason: "challenges stay private"}
			}
			private, password := room.Private, room.Password
			if in.Private != nil {
				private = *in.Private
			}
			if in.Password != nil {
				password = strings.TrimSpace(*in.Password)
			}
			if private && password == "" {
				return &domain.ValidationError{Field: "password", Reason: "private rooms need a password"}
			}
			if !private {
				password = ""
			}
			room.Private, room.Password = private, password
		}
		tx.PutRoom(room)
		return nil
	})
}
