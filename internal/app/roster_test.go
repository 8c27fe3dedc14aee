package app_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"quizroom-service/internal/app"
	"quizroom-service/internal/domain"
)

func TestJoinRoomRules(t *testing.T) {
	f := newFixture(t)
	f.user(t, "host", 1000)
	f.user(t, "p2", 1000)
	f.user(t, "poor", 10)
	f.user(t, "late", 1000)
	room, err := f.svc.CreateRoom(f.ctx, "host", app.RoomConfig{GameID: "trivia", EntryFee: 100, MaxPlayers: 2}, "")
	require.NoError(t, err)

	_, err = f.svc.JoinRoom(f.ctx, room.ID, "poor", "", false)
	var funds *domain.InsufficientFundsError
	require.ErrorAs(t, err, &funds)

	_, err = f.svc.JoinRoom(f.ctx, room.ID, "p2", "", false)
	require.NoError(t, err)
	// Rejoining is a no-op even when the room is full.
	_, err = f.svc.JoinRoom(f.ctx, room.ID, "p2", "", false)
	require.NoError(t, err)

	_, err = f.svc.JoinRoom(f.ctx, room.ID, "late", "", false)
	require.ErrorIs(t, err, domain.ErrRoomFull)

	// Spectators ignore capacity and fee.
	got, err := f.svc.JoinRoom(f.ctx, room.ID, "poor", "", true)
	require.NoError(t, err)
	assert.Contains(t, got.Spectators, "poor")
	assert.Len(t, got.Players, 2)
}

func TestJoinRoomAfterStartFails(t *testing.T) {
	f := newFixture(t)
	f.user(t, "host", 100)
	f.user(t, "p2", 100)
	f.user(t, "late", 100)
	room := f.readyRoom(t, app.RoomConfig{GameID: "trivia", GameLength: 3}, "host", "p2")
	require.NoError(t, f.svc.StartGame(f.ctx, room.ID, "host"))

	_, err := f.svc.JoinRoom(f.ctx, room.ID, "late", "", false)
	require.ErrorIs(t, err, domain.ErrGameAlreadyStarted)
	_, err = f.svc.JoinRoom(f.ctx, room.ID, "late", "", true)
	require.NoError(t, err)
}

func TestBannedUserCanNeverJoin(t *testing.T) {
	f := newFixture(t)
	f.user(t, "host", 100)
	f.user(t, "troll", 100)
	room, err := f.svc.CreateRoom(f.ctx, "host", app.RoomConfig{GameID: "trivia"}, "")
	require.NoError(t, err)
	_, err = f.svc.JoinRoom(f.ctx, room.ID, "troll", "", false)
	require.NoError(t, err)

	require.NoError(t, f.svc.BanPlayer(f.ctx, room.ID, "host", "troll"))
	got := f.room(t, room.ID)
	assert.NotContains(t, got.Players, "troll")
	assert.Equal(t, "user-troll", got.BannedUIDs["troll"].Username)

	_, err = f.svc.JoinRoom(f.ctx, room.ID, "troll", "", false)
	require.ErrorIs(t, err, domain.ErrBanned)
	_, err = f.svc.JoinRoom(f.ctx, room.ID, "troll", "", true)
	require.ErrorIs(t, err, domain.ErrBanned)

	require.ErrorIs(t, f.svc.UnbanPlayer(f.ctx, room.ID, "troll", "troll"), domain.ErrUnauthorized)
	require.NoError(t, f.svc.UnbanPlayer(f.ctx, room.ID, "host", "troll"))
	_, err = f.svc.JoinRoom(f.ctx, room.ID, "troll", "", false)
	require.NoError(t, err)
}

func TestKickRequiresHostOrAdmin(t *testing.T) {
	f := newFixture(t)
	f.user(t, "host", 100)
	f.user(t, "p2", 100)
	f.user(t, "p3", 100)
	require.NoError(t, f.store.PutUser(f.ctx, domain.UserProfile{UID: "mod", Username: "mod", Role: "admin"}))
	room, err := f.svc.CreateRoom(f.ctx, "host", app.RoomConfig{GameID: "trivia"}, "")
	require.NoError(t, err)
	for _, uid := range []string{"p2", "p3"} {
		_, err := f.svc.JoinRoom(f.ctx, room.ID, uid, "", false)
		require.NoError(t, err)
	}

	err = f.svc.KickPlayer(f.ctx, room.ID, "p2", "p3")
	require.ErrorIs(t, err, domain.ErrUnauthorized)
	assert.Equal(t, domain.SeveritySilent, domain.Classify(err))

	require.NoError(t, f.svc.KickPlayer(f.ctx, room.ID, "host", "p3"))
	require.NoError(t, f.svc.KickPlayer(f.ctx, room.ID, "mod", "p2"))
	got := f.room(t, room.ID)
	assert.Len(t, got.Players, 1)
}

func TestHostLeavingWaitingRoomDeletesIt(t *testing.T) {
	f := newFixture(t)
	f.user(t, "host", 100)
	f.user(t, "p2", 100)
	room, err := f.svc.CreateRoom(f.ctx, "host", app.RoomConfig{GameID: "trivia"}, "")
	require.NoError(t, err)
	_, err = f.svc.JoinRoom(f.ctx, room.ID, "p2", "", false)
	require.NoError(t, err)

	require.NoError(t, f.svc.LeaveRoom(f.ctx, room.ID, "host"))
	_, err = f.store.GetRoom(f.ctx, room.ID)
	require.ErrorIs(t, err, domain.ErrRoomNotFound)

	// Leaving a gone room is fine.
	require.NoError(t, f.svc.LeaveRoom(f.ctx, room.ID, "p2"))
}

func TestHostLeavingMidGameHandsOff(t *testing.T) {
	f := newFixture(t)
	f.user(t, "host", 100)
	f.user(t, "p2", 100)
	f.user(t, "p3", 100)
	room, err := f.svc.CreateRoom(f.ctx, "host", app.RoomConfig{GameID: "trivia", GameLength: 2}, "")
	require.NoError(t, err)
	f.clock.Advance(1)
	_, err = f.svc.JoinRoom(f.ctx, room.ID, "p3", "", false)
	require.NoError(t, err)
	f.clock.Advance(1)
	_, err = f.svc.JoinRoom(f.ctx, room.ID, "p2", "", false)
	require.NoError(t, err)
	for _, uid := range []string{"host", "p2", "p3"} {
		_, err := f.svc.ToggleReady(f.ctx, room.ID, uid)
		require.NoError(t, err)
	}
	require.NoError(t, f.svc.StartGame(f.ctx, room.ID, "host"))

	require.NoError(t, f.svc.LeaveRoom(f.ctx, room.ID, "host"))
	got := f.room(t, room.ID)
	assert.Equal(t, "p3", got.HostID, "earliest joiner inherits the room")
	assert.Equal(t, 1, got.HostEpoch)

	// The old host's guard is now stale.
	err = f.svc.BeginQuestions(f.ctx, room.ID, app.PhaseGuard{HostID: "host", Epoch: 0})
	require.ErrorIs(t, err, domain.ErrStaleTimer)
	require.NoError(t, f.svc.BeginQuestions(f.ctx, room.ID, app.PhaseGuard{HostID: "p3", Epoch: 1}))
}

func TestCloseRoom(t *testing.T) {
	f := newFixture(t)
	f.user(t, "host", 100)
	f.user(t, "p2", 100)
	room, err := f.svc.CreateRoom(f.ctx, "host", app.RoomConfig{GameID: "trivia"}, "")
	require.NoError(t, err)
	_, err = f.svc.JoinRoom(f.ctx, room.ID, "p2", "", false)
	require.NoError(t, err)

	require.ErrorIs(t, f.svc.CloseRoom(f.ctx, room.ID, "p2"), domain.ErrUnauthorized)
	require.NoError(t, f.svc.CloseRoom(f.ctx, room.ID, "host"))
	_, err = f.store.GetRoom(f.ctx, room.ID)
	require.ErrorIs(t, err, domain.ErrRoomNotFound)
}

func TestInviteFriendToPrivateRoom(t *testing.T) {
	f := newFixture(t)
	f.user(t, "host", 100)
	f.user(t, "friend", 100)
	room, err := f.svc.CreateRoom(f.ctx, "host", app.RoomConfig{GameID: "trivia", Private: true, Password: "secret"}, "")
	require.NoError(t, err)

	require.NoError(t, f.svc.InviteFriend(f.ctx, room.ID, "host", "friend"))
	notes := f.outbox.Notifications("friend")
	require.Len(t, notes, 1)
	assert.Equal(t, "quiz_invite", notes[0].Type)
	assert.Contains(t, f.room(t, room.ID).InvitedUIDs, "friend")

	_, err = f.svc.JoinRoom(f.ctx, room.ID, "friend", "", false)
	require.NoError(t, err)
}

func TestUpdateSettingsEntryFeeOnlyWhileAlone(t *testing.T) {
	f := newFixture(t)
	f.user(t, "host", 300)
	f.user(t, "p2", 300)
	room, err := f.svc.CreateRoom(f.ctx, "host", app.RoomConfig{GameID: "trivia"}, "")
	require.NoError(t, err)

	fee := 200
	require.NoError(t, f.svc.UpdateSettings(f.ctx, room.ID, "host", app.RoomSettings{EntryFee: &fee}))
	assert.Equal(t, 200, f.room(t, room.ID).EntryFee)

	tooMuch := 500
	var funds *domain.InsufficientFundsError
	require.ErrorAs(t, f.svc.UpdateSettings(f.ctx, room.ID, "host", app.RoomSettings{EntryFee: &tooMuch}), &funds)

	_, err = f.svc.JoinRoom(f.ctx, room.ID, "p2", "", false)
	require.NoError(t, err)
	fee = 0
	var verr *domain.ValidationError
	require.ErrorAs(t, f.svc.UpdateSettings(f.ctx, room.ID, "host", app.RoomSettings{EntryFee: &fee}), &verr)

	length := 15
	require.NoError(t, f.svc.UpdateSettings(f.ctx, room.ID, "host", app.RoomSettings{GameLength: &length}))
	assert.Equal(t, 15, f.room(t, room.ID).GameLength)
	require.ErrorIs(t, f.svc.UpdateSettings(f.ctx, room.ID, "p2", app.RoomSettings{GameLength: &length}), domain.ErrUnauthorized)
}

func TestUpdateSettingsPrivacy(t *testing.T) {
	f := newFixture(t)
	f.user(t, "host", 300)
	f.user(t, "guest", 300)
	room, err := f.svc.CreateRoom(f.ctx, "host", app.RoomConfig{GameID: "trivia"}, "")
	require.NoError(t, err)

	private, blank := true, "   "
	var verr *domain.ValidationError
	require.ErrorAs(t, f.svc.UpdateSettings(f.ctx, room.ID, "host", app.RoomSettings{Private: &private}), &verr)
	require.ErrorAs(t, f.svc.UpdateSettings(f.ctx, room.ID, "host", app.RoomSettings{Private: &private, Password: &blank}), &verr)
	assert.False(t, f.room(t, room.ID).Private)

	pw := " secret "
	require.NoError(t, f.svc.UpdateSettings(f.ctx, room.ID, "host", app.RoomSettings{Private: &private, Password: &pw}))
	got := f.room(t, room.ID)
	assert.True(t, got.Private)
	assert.Equal(t, "secret", got.Password)
	_, err = f.svc.JoinRoom(f.ctx, room.ID, "guest", "", false)
	require.ErrorIs(t, err, domain.ErrWrongPassword)

	pw = "other"
	require.NoError(t, f.svc.UpdateSettings(f.ctx, room.ID, "host", app.RoomSettings{Password: &pw}))
	assert.Equal(t, "other", f.room(t, room.ID).Password)

	public := false
	require.NoError(t, f.svc.UpdateSettings(f.ctx, room.ID, "host", app.RoomSettings{Private: &public}))
	got = f.room(t, room.ID)
	assert.False(t, got.Private)
	assert.Empty(t, got.Password)
	_, err = f.svc.JoinRoom(f.ctx, room.ID, "guest", "", false)
	require.NoError(t, err)

	challenge, err := f.svc.CreateRoom(f.ctx, "host", app.RoomConfig{GameID: "trivia"}, "guest")
	require.NoError(t, err)
	require.ErrorAs(t, f.svc.UpdateSettings(f.ctx, challenge.ID, "host", app.RoomSettings{Private: &public}), &verr)
	assert.True(t, f.room(t, challenge.ID).Private)
}

func TestSpectatorsWatchListedChallengeWithoutPassword(t *testing.T) {
	f := newFixture(t)
	f.user(t, "host", 500)
	f.user(t, "rival", 500)
	f.user(t, "watcher", 500)
	f.user(t, "stranger", 500)
	room, err := f.svc.CreateRoom(f.ctx, "host", app.RoomConfig{GameID: "trivia"}, "rival")
	require.NoError(t, err)

	rooms, err := f.store.ListRooms(f.ctx)
	require.NoError(t, err)
	view := app.BuildLobbyView(rooms, app.LobbyFilter{})
	require.Len(t, view.Rooms, 1)
	assert.True(t, view.Rooms[0].IsChallenge)

	_, err = f.svc.JoinRoom(f.ctx, room.ID, "stranger", "", false)
	require.ErrorIs(t, err, domain.ErrWrongPassword)

	got, err := f.svc.JoinRoom(f.ctx, room.ID, "watcher", "", true)
	require.NoError(t, err)
	assert.Contains(t, got.Spectators, "watcher")
	require.NoError(t, f.svc.PlaceBet(f.ctx, room.ID, "watcher", "host", 50))
	assert.Equal(t, 450, f.points(t, "watcher"))
}
