package http

import (
	"context"

	"golang.org/x/time/rate"
	"quizroom-service/internal/app"
	"quizroom-service/internal/domain"
)

var cosmeticActions = map[string]bool{"chat": true, "emoji": true, "interaction": true}

// dispatchRoom runs one inbound room action. It reports whether the
// connection should end because the user left.
func (h *WSHandler) dispatchRoom(ctx context.Context, sess *wsSession, ctrl *app.RoomController, limiter *rate.Limiter, in inboundMessage) (bool, error) {
	roomID, uid := ctrl.RoomID(), ctrl.UserID()
	if cosmeticActions[in.Type] && !limiter.Allow() {
		sess.send <- outboundMessage{Type: "toast", Payload: toastPayload{Severity: domain.SeverityAdvisory, Message: "slow down"}}
		return false, nil
	}

	switch in.Type {
	case "ready":
		ready, err := h.service.ToggleReady(ctx, roomID, uid)
		if err != nil {
			return false, err
		}
		sess.send <- outboundMessage{Type: "ready", Payload: map[string]bool{"ready": ready}}
	case "openVoting":
		return false, h.service.OpenVoting(ctx, roomID, uid)
	case "vote":
		var p votePayload
		if err := decode(in.Payload, &p); err != nil {
			return false, err
		}
		return false, h.service.VoteCategory(ctx, roomID, uid, p.Category)
	case "start":
		return false, h.service.StartGame(ctx, roomID, uid)
	case "answer":
		var p answerPayload
		if err := decode(in.Payload, &p); err != nil {
			return false, err
		}
		ans, err := h.service.SubmitAnswer(ctx, roomID, uid, p.Answer)
		if err != nil {
			return false, err
		}
		sess.send <- outboundMessage{Type: "answerResult", Payload: ans}
	case "powerup":
		var p powerupPayload
		if err := decode(in.Payload, &p); err != nil {
			return false, err
		}
		pu, err := domain.ParsePowerup(p.Powerup)
		if err != nil {
			return false, err
		}
		res, err := h.service.UsePowerup(ctx, roomID, uid, pu)
		if err != nil {
			return false, err
		}
		sess.send <- outboundMessage{Type: "powerup", Payload: res}
	case "kick", "ban", "unban":
		var p targetPayload
		if err := decode(in.Payload, &p); err != nil {
			return false, err
		}
		switch in.Type {
		case "kick":
			return false, h.service.KickPlayer(ctx, roomID, uid, p.UID)
		case "ban":
			return false, h.service.BanPlayer(ctx, roomID, uid, p.UID)
		default:
			return false, h.service.UnbanPlayer(ctx, roomID, uid, p.UID)
		}
	case "chat":
		var p chatPayload
		if err := decode(in.Payload, &p); err != nil {
			return false, err
		}
		return false, h.service.SendChat(ctx, roomID, uid, p.Message)
	case "emoji":
		var p emojiInPayload
		if err := decode(in.Payload, &p); err != nil {
			return false, err
		}
		return false, h.service.SendEmoji(ctx, roomID, uid, p.Emoji)
	case "interaction":
		var p interactionInPayload
		if err := decode(in.Payload, &p); err != nil {
			return false, err
		}
		g, err := domain.ParseGesture(p.Gesture)
		if err != nil {
			return false, err
		}
		return false, h.service.SendInteraction(ctx, roomID, uid, p.Target, g)
	case "bet":
		var p betPayload
		if err := decode(in.Payload, &p); err != nil {
			return false, err
		}
		return false, h.service.PlaceBet(ctx, roomID, uid, p.PlayerUID, p.Amount)
	case "report":
		if err := h.service.ReportQuestion(ctx, roomID, uid); err != nil {
			return false, err
		}
		sess.send <- outboundMessage{Type: "toast", Payload: toastPayload{Severity: domain.SeverityAdvisory, Message: "question reported"}}
	case "invite":
		var p targetPayload
		if err := decode(in.Payload, &p); err != nil {
			return false, err
		}
		return false, h.service.InviteFriend(ctx, roomID, uid, p.UID)
	case "settings":
		var p app.RoomSettings
		if err := decode(in.Payload, &p); err != nil {
			return false, err
		}
		return false, h.service.UpdateSettings(ctx, roomID, uid, p)
	case "close":
		return false, h.service.CloseRoom(ctx, roomID, uid)
	case "leave":
		return true, ctrl.Leave(ctx)
	default:
		return false, errUnsupported
	}
	return false, nil
}
