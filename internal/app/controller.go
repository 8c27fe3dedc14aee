package app

import (
	"context"
	"maps"
	"slices"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"
	"quizroom-service/internal/domain"
)

// View is the screen a room session is showing.
type View string

const (
	ViewWaiting      View = "waiting"
	ViewVoting       View = "voting"
	ViewStarting     View = "starting"
	ViewGetReady     View = "getReady"
	ViewQuestion     View = "question"
	ViewReveal       View = "reveal"
	ViewInterstitial View = "interstitial"
	ViewFinished     View = "finished"
	ViewSpectating   View = "spectating"
)

// ViewFor picks the screen for uid. Overlays take precedence over the question.
func ViewFor(room domain.QuizRoom, uid string) View {
	_, player := room.Players[uid]
	if !player && room.Status != domain.StatusFinished {
		return ViewSpectating
	}
	switch room.Status {
	case domain.StatusWaiting:
		return ViewWaiting
	case domain.StatusVoting:
		return ViewVoting
	case domain.StatusStarting:
		return ViewStarting
	case domain.StatusFinished:
		return ViewFinished
	}
	switch {
	case room.InterstitialForIndex != nil:
		return ViewInterstitial
	case room.RevealAnswerForIndex != nil:
		return ViewReveal
	case room.QuestionStartTime == nil:
		return ViewGetReady
	}
	return ViewQuestion
}

// Signature is the part of a room that decides whether to re-render.
type Signature struct {
	Status       domain.RoomStatus
	Index        int
	Reveal       int
	Interstitial int
	Started      bool
	Players      int
	HostID       string
	Epoch        int
}

func SignatureOf(r domain.QuizRoom) Signature {
	sig := Signature{
		Status:       r.Status,
		Index:        r.CurrentQuestionIndex,
		Reveal:       -1,
		Interstitial: -1,
		Started:      r.QuestionStartTime != nil,
		Players:      len(r.Players),
		HostID:       r.HostID,
		Epoch:        r.HostEpoch,
	}
	if r.RevealAnswerForIndex != nil {
		sig.Reveal = *r.RevealAnswerForIndex
	}
	if r.InterstitialForIndex != nil {
		sig.Interstitial = *r.InterstitialForIndex
	}
	return sig
}

// phase drops the roster size; timers only follow phase and host changes.
func (s Signature) phase() Signature {
	s.Players = 0
	return s
}

type EventKind string

const (
	EventRender       EventKind = "render"
	EventEmoji        EventKind = "emoji"
	EventInteraction  EventKind = "interaction"
	EventChat         EventKind = "chat"
	EventBubble       EventKind = "bubble"
	EventClosed       EventKind = "closed"
	EventKicked       EventKind = "kicked"
	EventAchievements EventKind = "achievements"
	// EventRoster carries ready flags and category votes when nothing else
	// about the room changed.
	EventRoster EventKind = "roster"
	EventError        EventKind = "error"
)

// Bubble is a chat message floated over the sender's avatar.
type Bubble struct {
	UID      string
	Message  string
	Lifetime time.Duration
}

// Roster is the lobby-side player state that changes without a re-render.
type Roster struct {
	Ready map[string]bool
	Votes map[string][]string
}

func rosterOf(r domain.QuizRoom) Roster {
	ready := make(map[string]bool, len(r.Players))
	for uid, p := range r.Players {
		ready[uid] = p.Ready
	}
	votes := make(map[string][]string, len(r.QuestionCategoryVotes))
	for cat, uids := range r.QuestionCategoryVotes {
		votes[cat] = append([]string(nil), uids...)
	}
	return Roster{Ready: ready, Votes: votes}
}

func (r Roster) equal(o Roster) bool {
	return maps.Equal(r.Ready, o.Ready) && maps.EqualFunc(r.Votes, o.Votes, slices.Equal[[]string])
}

// Event is one thing the room screen has to show.
type Event struct {
	Kind         EventKind
	View         View
	Room         *domain.QuizRoom
	FromUID      string
	TargetUID    string
	Emoji        string
	Gesture      domain.Gesture
	Chat         []domain.ChatMessage
	Bubble       *Bubble
	Closure      *ClosureOutcome
	Roster       *Roster
	Achievements []string
	Err          error
}

type hostStep func(ctx context.Context, roomID string, g PhaseGuard) error

// armed is one pending host timer.
type armed struct {
	name  string
	guard PhaseGuard
	step  hostStep
}

// RoomController owns one client's session in a room: its subscriptions, its
// host timers and its post-game side effects. Every field below the channels
// is touched only by the run loop.
type RoomController struct {
	svc    *RoomService
	roomID string
	uid    string
	log    zerolog.Logger

	ctx     context.Context
	stop    context.CancelFunc
	events  chan Event
	fired   chan *armed
	done    chan struct{}
	leaving atomic.Bool
	once    sync.Once

	snapshots  <-chan RoomSnapshot
	chat       <-chan []domain.ChatMessage
	cancelRoom func()
	cancelChat func()

	last            *domain.QuizRoom
	sig             Signature
	timer           Timer
	pending         *armed
	revealRequested int
	settleTried     bool
	achievementsRun bool
	lastBubble      time.Time
}

// OpenRoom starts a session for uid, who must already be a player or spectator.
// The caller must Close (or Leave) the controller to release its subscriptions.
func (s *RoomService) OpenRoom(ctx context.Context, roomID, uid string) (*RoomController, error) {
	snapshots, cancelRoom, err := s.Store.SubscribeRoom(ctx, roomID)
	if err != nil {
		return nil, err
	}
	chat, cancelChat, err := s.SubscribeChat(ctx, roomID)
	if err != nil {
		cancelRoom()
		return nil, err
	}
	loopCtx, stop := context.WithCancel(context.WithoutCancel(ctx))
	c := &RoomController{
		svc:             s,
		roomID:          roomID,
		uid:             uid,
		log:             s.log.With().Str("room", roomID).Str("user", uid).Logger(),
		ctx:             loopCtx,
		stop:            stop,
		events:          make(chan Event, 32),
		fired:           make(chan *armed),
		done:            make(chan struct{}),
		snapshots:       snapshots,
		chat:            chat,
		cancelRoom:      cancelRoom,
		cancelChat:      cancelChat,
		revealRequested: -1,
	}
	go c.run()
	return c, nil
}

func (c *RoomController) RoomID() string { return c.roomID }

func (c *RoomController) UserID() string { return c.uid }

// Events is closed once the session ends for any reason.
func (c *RoomController) Events() <-chan Event { return c.events }

// Done is closed after teardown completes.
func (c *RoomController) Done() <-chan struct{} { return c.done }

// Close tears the session down and waits until every subscription and timer is gone.
func (c *RoomController) Close() {
	c.once.Do(c.stop)
	<-c.done
}

// Leave removes the user from the room, then closes the session. The room
// deletion a host's departure may cause is not treated as a closure.
func (c *RoomController) Leave(ctx context.Context) error {
	c.leaving.Store(true)
	err := c.svc.LeaveRoom(ctx, c.roomID, c.uid)
	c.Close()
	return err
}

func (c *RoomController) run() {
	defer c.teardown()
	for {
		select {
		case <-c.ctx.Done():
			return
		case snap, ok := <-c.snapshots:
			if !ok || !c.onSnapshot(snap) {
				return
			}
		case msgs, ok := <-c.chat:
			if !ok {
				c.chat = nil
				continue
			}
			c.onChat(msgs)
		case a := <-c.fired:
			c.onTimer(a)
		}
	}
}

func (c *RoomController) teardown() {
	c.once.Do(c.stop)
	c.disarm()
	c.cancelRoom()
	c.cancelChat()
	close(c.events)
	close(c.done)
}

func (c *RoomController) emit(e Event) {
	select {
	case c.events <- e:
	case <-c.ctx.Done():
	}
}

// onSnapshot reports whether the session continues.
func (c *RoomController) onSnapshot(snap RoomSnapshot) bool {
	if snap.Err != nil {
		c.log.Error().Err(snap.Err).Msg("room subscription failed")
		c.emit(Event{Kind: EventError, Err: snap.Err})
		return false
	}
	if snap.Deleted {
		c.onDeleted()
		return false
	}
	room := snap.Room
	first := c.last == nil
	if !first && isMember(*c.last, c.uid) && !isMember(room, c.uid) {
		if !c.leaving.Load() {
			c.emit(Event{Kind: EventKicked})
		}
		return false
	}
	if first && !isMember(room, c.uid) {
		c.emit(Event{Kind: EventError, Err: domain.ErrNotInRoom})
		return false
	}
	if !first {
		c.emitCosmetics(*c.last, room)
	}
	sig := SignatureOf(room)
	if first || sig != c.sig {
		view := room.Clone()
		c.emit(Event{Kind: EventRender, View: ViewFor(room, c.uid), Room: &view})
	} else if roster := rosterOf(room); !roster.equal(rosterOf(*c.last)) {
		c.emit(Event{Kind: EventRoster, Roster: &roster})
	}
	if first || sig.phase() != c.sig.phase() {
		c.arm(room)
	}
	c.sig = sig
	c.last = &room

	c.maybeRevealEarly(room)
	c.maybeSettle(room)
	c.maybeCheckAchievements(room)
	return true
}

func isMember(room domain.QuizRoom, uid string) bool {
	if _, ok := room.Players[uid]; ok {
		return true
	}
	_, ok := room.Spectators[uid]
	return ok
}

// emitCosmetics fires one-shot animations for emotes and gestures newer than
// the previous snapshot.
func (c *RoomController) emitCosmetics(prev, next domain.QuizRoom) {
	for uid, p := range next.Players {
		old := prev.Players[uid]
		if e := p.LastEmoji; e != nil && (old.LastEmoji == nil || e.Timestamp.After(old.LastEmoji.Timestamp)) {
			c.emit(Event{Kind: EventEmoji, FromUID: uid, Emoji: e.Emoji})
		}
		if in := p.LastInteraction; in != nil && (old.LastInteraction == nil || in.Timestamp.After(old.LastInteraction.Timestamp)) {
			c.emit(Event{Kind: EventInteraction, FromUID: in.FromUID, TargetUID: uid, Gesture: in.Gesture})
		}
	}
}

func (c *RoomController) onDeleted() {
	if c.leaving.Load() {
		return
	}
	if c.last == nil {
		c.emit(Event{Kind: EventClosed, Closure: &ClosureOutcome{Kind: ClosedByHost}})
		return
	}
	outcome, err := c.svc.HandleUnexpectedClosure(c.ctx, *c.last, c.uid)
	if err != nil {
		c.log.Error().Err(err).Msg("closure handling failed")
		c.emit(Event{Kind: EventError, Err: err})
	}
	c.emit(Event{Kind: EventClosed, Closure: &outcome})
}

// arm replaces the pending host timer with the one for room's current phase.
func (c *RoomController) arm(room domain.QuizRoom) {
	c.disarm()
	if room.HostID != c.uid {
		return
	}
	t := c.svc.timings
	var (
		name string
		d    time.Duration
		step hostStep
	)
	switch {
	case room.Status == domain.StatusStarting:
		name, d, step = "countdown", t.StartCountdown, c.svc.BeginQuestions
	case room.Status != domain.StatusPlaying:
		return
	case room.InterstitialForIndex != nil:
		name, d, step = "interstitial", t.Interstitial, c.svc.AdvanceQuestion
	case room.RevealAnswerForIndex != nil:
		name, d, step = "reveal", t.Reveal, c.svc.ShowInterstitial
	case room.QuestionStartTime == nil:
		name, d, step = "get-ready", t.GetReady, c.svc.StampQuestionStart
	default:
		name, step = "question", c.svc.RevealAnswer
		d = t.QuestionTime - c.svc.now().Sub(*room.QuestionStartTime)
		if d < 0 {
			d = 0
		}
	}
	a := &armed{name: name, guard: guardFor(room), step: step}
	c.pending = a
	c.timer = c.svc.clock.AfterFunc(d, func() {
		select {
		case c.fired <- a:
		case <-c.ctx.Done():
		}
	})
	c.log.Debug().Str("timer", name).Dur("in", d).Int("index", room.CurrentQuestionIndex).Msg("host timer armed")
}

func (c *RoomController) disarm() {
	if c.timer != nil {
		c.timer.Stop()
	}
	c.timer = nil
	c.pending = nil
}

func (c *RoomController) onTimer(a *armed) {
	if a != c.pending {
		return
	}
	c.timer, c.pending = nil, nil
	c.runStep(a.name, a.step, a.guard)
}

func (c *RoomController) runStep(name string, step hostStep, g PhaseGuard) {
	err := step(c.ctx, c.roomID, g)
	switch domain.Classify(err) {
	case domain.SeveritySilent:
		if err != nil {
			c.log.Debug().Err(err).Str("step", name).Msg("host step skipped")
		}
	default:
		c.log.Warn().Err(err).Str("step", name).Msg("host step failed")
	}
}

// maybeRevealEarly closes the question as soon as every player answered.
func (c *RoomController) maybeRevealEarly(room domain.QuizRoom) {
	if room.HostID != c.uid || room.Status != domain.StatusPlaying {
		return
	}
	if room.QuestionStartTime == nil || room.RevealAnswerForIndex != nil || room.InterstitialForIndex != nil {
		return
	}
	if c.revealRequested == room.CurrentQuestionIndex || !room.AllAnswered() {
		return
	}
	c.revealRequested = room.CurrentQuestionIndex
	c.runStep("early-reveal", c.svc.RevealAnswer, guardFor(room))
}

func (c *RoomController) maybeSettle(room domain.QuizRoom) {
	if room.HostID != c.uid || room.Status != domain.StatusFinished || room.PrizesAwarded || c.settleTried {
		return
	}
	c.settleTried = true
	if _, err := c.svc.Settle(c.ctx, c.roomID, c.uid); err != nil {
		c.emit(Event{Kind: EventError, Err: err})
	}
}

func (c *RoomController) maybeCheckAchievements(room domain.QuizRoom) {
	if room.Status != domain.StatusFinished || !room.PrizesAwarded || c.achievementsRun {
		return
	}
	if _, ok := room.Players[c.uid]; !ok {
		return
	}
	c.achievementsRun = true
	ids, err := c.svc.CheckAchievements(c.ctx, room, c.uid)
	if err != nil {
		c.log.Warn().Err(err).Msg("achievement check failed")
		return
	}
	if len(ids) > 0 {
		c.emit(Event{Kind: EventAchievements, Achievements: ids})
	}
}

func (c *RoomController) onChat(msgs []domain.ChatMessage) {
	c.emit(Event{Kind: EventChat, Chat: msgs})
	if len(msgs) == 0 {
		return
	}
	latest := msgs[len(msgs)-1]
	if !latest.CreatedAt.After(c.lastBubble) {
		return
	}
	c.lastBubble = latest.CreatedAt
	if c.svc.now().Sub(latest.CreatedAt) > c.svc.timings.BubbleMaxAge {
		return
	}
	c.emit(Event{Kind: EventBubble, Bubble: &Bubble{
		UID:      latest.UID,
		Message:  latest.Message,
		Lifetime: c.svc.timings.BubbleLifetime,
	}})
}
