package http

import (
	"encoding/json"
	"time"

	"quizroom-service/internal/app"
	"quizroom-service/internal/domain"
)

type inboundMessage struct {
	Type    string          `json:"type"`
	Payload json.RawMessage `json:"payload"`
}

type outboundMessage struct {
	Type    string `json:"type"`
	Payload any    `json:"payload,omitempty"`
}

type toastPayload struct {
	Severity domain.Severity `json:"severity"`
	Message  string          `json:"message"`
}

type joinedPayload struct {
	RoomID  string `json:"roomId"`
	ShortID string `json:"shortId"`
}

type renderPayload struct {
	View app.View        `json:"view"`
	Room domain.QuizRoom `json:"room"`
}

type emojiPayload struct {
	From  string `json:"fromUid"`
	Emoji string `json:"emoji"`
}

type interactionPayload struct {
	From    string         `json:"fromUid"`
	Target  string         `json:"targetUid"`
	Gesture domain.Gesture `json:"type"`
}

type bubblePayload struct {
	UID        string `json:"uid"`
	Message    string `json:"message"`
	LifetimeMs int64  `json:"lifetimeMs"`
}

type rosterPayload struct {
	Ready map[string]bool     `json:"ready"`
	Votes map[string][]string `json:"votes"`
}

type closedPayload struct {
	Kind   app.ClosureKind `json:"kind"`
	Amount int             `json:"amount,omitempty"`
}

// Inbound payloads.

type createPayload struct {
	Config          app.RoomConfig `json:"config"`
	ChallengeTarget string         `json:"challengeTarget,omitempty"`
}

type joinByCodePayload struct {
	Code     string `json:"code"`
	Password string `json:"password"`
	Spectate bool   `json:"spectate"`
}

type answerPayload struct {
	Answer string `json:"answer"`
}

type powerupPayload struct {
	Powerup string `json:"powerup"`
}

type votePayload struct {
	Category string `json:"category"`
}

type targetPayload struct {
	UID string `json:"uid"`
}

type chatPayload struct {
	Message string `json:"message"`
}

type emojiInPayload struct {
	Emoji string `json:"emoji"`
}

type interactionInPayload struct {
	Target  string `json:"targetUid"`
	Gesture string `json:"type"`
}

type betPayload struct {
	PlayerUID string `json:"playerUid"`
	Amount    int    `json:"amount"`
}

func toast(err error) (outboundMessage, bool) {
	sev := domain.Classify(err)
	if sev == domain.SeveritySilent {
		return outboundMessage{}, false
	}
	return outboundMessage{Type: "toast", Payload: toastPayload{Severity: sev, Message: err.Error()}}, true
}

// publicRoom strips what clients must not see: the room password and every
// correct answer that has not been revealed yet. Questions past the current
// one are withheld entirely until the match is over.
func publicRoom(room domain.QuizRoom) domain.QuizRoom {
	out := room.Clone()
	out.Password = ""
	if out.Status == domain.StatusFinished {
		return out
	}
	limit := out.CurrentQuestionIndex + 1
	if limit < 0 {
		limit = 0
	}
	if limit > len(out.Questions) {
		limit = len(out.Questions)
	}
	questions := make([]domain.QuizQuestion, limit)
	copy(questions, out.Questions[:limit])
	for i := range questions {
		if i == out.CurrentQuestionIndex && (out.RevealAnswerForIndex == nil || *out.RevealAnswerForIndex != i) {
			questions[i].CorrectAnswer = ""
		}
	}
	out.Questions = questions
	return out
}

// frameFor maps a controller event to its wire frame.
func frameFor(e app.Event) (outboundMessage, bool) {
	switch e.Kind {
	case app.EventRender:
		return outboundMessage{Type: "render", Payload: renderPayload{View: e.View, Room: publicRoom(*e.Room)}}, true
	case app.EventEmoji:
		return outboundMessage{Type: "emoji", Payload: emojiPayload{From: e.FromUID, Emoji: e.Emoji}}, true
	case app.EventInteraction:
		return outboundMessage{Type: "interaction", Payload: interactionPayload{From: e.FromUID, Target: e.TargetUID, Gesture: e.Gesture}}, true
	case app.EventChat:
		return outboundMessage{Type: "chat", Payload: e.Chat}, true
	case app.EventBubble:
		return outboundMessage{Type: "bubble", Payload: bubblePayload{
			UID:        e.Bubble.UID,
			Message:    e.Bubble.Message,
			LifetimeMs: e.Bubble.Lifetime.Milliseconds(),
		}}, true
	case app.EventClosed:
		return outboundMessage{Type: "closed", Payload: closedPayload{Kind: e.Closure.Kind, Amount: e.Closure.Amount}}, true
	case app.EventKicked:
		return outboundMessage{Type: "kicked"}, true
	case app.EventRoster:
		return outboundMessage{Type: "roster", Payload: rosterPayload{Ready: e.Roster.Ready, Votes: e.Roster.Votes}}, true
	case app.EventAchievements:
		return outboundMessage{Type: "achievements", Payload: e.Achievements}, true
	case app.EventError:
		return toast(e.Err)
	}
	return outboundMessage{}, false
}

const writeWait = 10 * time.Second
