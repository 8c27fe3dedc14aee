package app

import (
	"context"

	"quizroom-service/internal/domain"
)

// Store abstracts the shared document database (in-memory, Redis, etc).
// Room and user documents live side by side so a single transaction can
// touch both, which escrow and settlement rely on.
type Store interface {
	CreateRoom(ctx context.Context, room domain.QuizRoom) (domain.QuizRoom, error)
	GetRoom(ctx context.Context, roomID string) (domain.QuizRoom, error)
	FindRoomByShortID(ctx context.Context, shortID string) (domain.QuizRoom, error)
	ListRooms(ctx context.Context) ([]domain.QuizRoom, error)
	// UpdateRoom applies field-level ops atomically to the latest document,
	// without a caller-visible read. Fails with ErrRoomNotFound if the room is gone.
	UpdateRoom(ctx context.Context, roomID string, ops ...FieldOp) error
	DeleteRoom(ctx context.Context, roomID string) error
	// RunTransaction runs fn with optimistic-concurrency retries. Writes buffered on
	// the Tx are committed only if nothing fn read changed in the meantime.
	RunTransaction(ctx context.Context, fn func(tx Tx) error) error
	// SubscribeRoom delivers the full document after every mutation. The caller must
	// invoke the returned cancel function to avoid leaks.
	SubscribeRoom(ctx context.Context, roomID string) (<-chan RoomSnapshot, func(), error)
	// SubscribeRooms is the lobby's live query over every room.
	SubscribeRooms(ctx context.Context) (<-chan []domain.QuizRoom, func(), error)

	GetUser(ctx context.Context, uid string) (domain.UserProfile, error)
	PutUser(ctx context.Context, user domain.UserProfile) error
	// CreditPoints adds amount to a balance at most once per idempotency key.
	CreditPoints(ctx context.Context, uid string, amount int, key string) (bool, error)

	AddChat(ctx context.Context, roomID string, msg domain.ChatMessage) error
	// SubscribeChat delivers the most recent limit messages, oldest first.
	SubscribeChat(ctx context.Context, roomID string, limit int) (<-chan []domain.ChatMessage, func(), error)
}

// Tx is the read-modify-write view handed to RunTransaction callbacks.
type Tx interface {
	Room(roomID string) (domain.QuizRoom, error)
	User(uid string) (domain.UserProfile, error)
	PutRoom(room domain.QuizRoom)
	DeleteRoom(roomID string)
	PutUser(user domain.UserProfile)
}

// RoomSnapshot is one delivery of a room subscription.
type RoomSnapshot struct {
	Room    domain.QuizRoom
	Deleted bool
	Err     error
}

// FieldOp mutates one room in place. Ops must tolerate absent players.
type FieldOp func(room *domain.QuizRoom)

// MaxTxAttempts bounds optimistic retries for store implementations.
const MaxTxAttempts = 8

// QuestionGenerator is the AI question-generation service.
type QuestionGenerator interface {
	Generate(ctx context.Context, gameName string, count int, categories []string, difficulty domain.Difficulty) ([]domain.QuizQuestion, error)
}

// QuestionBank serves approved community questions.
type QuestionBank interface {
	Approved(ctx context.Context, gameID string, count int) ([]domain.QuizQuestion, error)
}

// GameCatalog resolves the games a room can be created for.
type GameCatalog interface {
	Game(ctx context.Context, gameID string) (domain.Game, error)
}

// Notifier is the out-of-band notification outbox.
type Notifier interface {
	Send(ctx context.Context, uid string, n domain.Notification) error
}

// ReportSink stores question reports for moderators.
type ReportSink interface {
	Report(ctx context.Context, report domain.QuestionReport) error
}

// PointsLog records every balance change for audit.
type PointsLog interface {
	Log(ctx context.Context, change domain.PointsChange) error
}

// AchievementGranter is the achievement catalog's grant capability.
type AchievementGranter interface {
	Grant(ctx context.Context, uid, achievementID string) (bool, error)
}
