package nats

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/rs/zerolog"
	"quizroom-service/internal/domain"
)

// DefaultSubject is where the question-generation worker listens.
const DefaultSubject = "questions.generate"

// Requester is the request/reply half of *nats.Conn.
type Requester interface {
	RequestWithContext(ctx context.Context, subj string, data []byte) (*nats.Msg, error)
}

// GenerateRequest is the payload sent to the generation worker.
type GenerateRequest struct {
	GameName   string            `json:"gameName"`
	Count      int               `json:"count"`
	Categories []string          `json:"categories,omitempty"`
	Difficulty domain.Difficulty `json:"difficulty"`
}

// GenerateResponse is the worker's reply. A non-empty Error means the
// generation failed on the worker side.
type GenerateResponse struct {
	Questions []domain.QuizQuestion `json:"questions"`
	Error     string                `json:"error,omitempty"`
}

// Generator asks an AI question worker over NATS request/reply.
type Generator struct {
	req     Requester
	subject string
	timeout time.Duration
	log     zerolog.Logger
}

func NewGenerator(req Requester, subject string, timeout time.Duration, log zerolog.Logger) *Generator {
	if subject == "" {
		subject = DefaultSubject
	}
	if timeout <= 0 {
		timeout = 20 * time.Second
	}
	return &Generator{
		req:     req,
		subject: subject,
		timeout: timeout,
		log:     log.With().Str("component", "question-generator").Logger(),
	}
}

func (g *Generator) Generate(ctx context.Context, gameName string, count int, categories []string, difficulty domain.Difficulty) ([]domain.QuizQuestion, error) {
	payload, err := json.Marshal(GenerateRequest{
		GameName:   gameName,
		Count:      count,
		Categories: categories,
		Difficulty: difficulty,
	})
	if err != nil {
		return nil, fmt.Errorf("encode generate request: %w", err)
	}

	ctx, cancel := context.WithTimeout(ctx, g.timeout)
	defer cancel()
	started := time.Now()
	msg, err := g.req.RequestWithContext(ctx, g.subject, payload)
	if err != nil {
		g.log.Warn().Err(err).Str("game", gameName).Msg("generate request failed")
		return nil, g.wrap(fmt.Errorf("request %s: %w", g.subject, err))
	}

	var resp GenerateResponse
	if err := json.Unmarshal(msg.Data, &resp); err != nil {
		return nil, g.wrap(fmt.Errorf("decode generate response: %w", err))
	}
	if resp.Error != "" {
		return nil, g.wrap(errors.New(resp.Error))
	}
	g.log.Debug().
		Str("game", gameName).
		Int("requested", count).
		Int("received", len(resp.Questions)).
		Dur("took", time.Since(started)).
		Msg("questions generated")
	return resp.Questions, nil
}

func (g *Generator) wrap(err error) error {
	return &domain.ExternalServiceError{Service: "question generator", Err: err}
}

// Connect dials NATS with reconnect logging.
func Connect(url string, log zerolog.Logger) (*nats.Conn, error) {
	conn, err := nats.Connect(url,
		nats.MaxReconnects(-1),
		nats.ReconnectWait(2*time.Second),
		nats.Timeout(10*time.Second),
		nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
			log.Warn().Err(err).Msg("disconnected from nats")
		}),
		nats.ReconnectHandler(func(nc *nats.Conn) {
			log.Info().Str("url", nc.ConnectedUrl()).Msg("reconnected to nats")
		}),
		nats.ClosedHandler(func(*nats.Conn) {
			log.Info().Msg("nats connection closed")
		}),
	)
	if err != nil {
		return nil, fmt.Errorf("connect nats: %w", err)
	}
	return conn, nil
}
