package negotiation

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/cloudwego/eino/schema"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/zhouzirui/mora-bot/backend/internal/logging"
	model "github.com/zhouzirui/mora-bot/backend/internal/model/session"
	"github.com/zhouzirui/mora-bot/backend/internal/service/ai"
	"github.com/zhouzirui/mora-bot/backend/internal/service/payment"
	"github.com/zhouzirui/mora-bot/backend/internal/service/session"
)

var (
	ErrMessageRequired      = errors.New("message is required")
	ErrGeneratorUnavailable = errors.New("reply generator unavailable")
)

// Generator produces assistant replies for a negotiation turn.
type Generator interface {
	Generate(ctx context.Context, in ai.Input) (*schema.Message, error)
	Stream(ctx context.Context, in ai.Input) (*schema.StreamReader[*schema.Message], error)
	StreamingEnabled() bool
}

// Turn is the outcome of one chat exchange.
type Turn struct {
	SessionID string
	Reply     string
	Payment   decimal.Decimal
	Context   model.FinancialContext
}

// Service pairs the session store with the reply generator.
type Service struct {
	sessions  *session.Store
	generator Generator
	timeout   time.Duration
	logger    *zap.Logger
}

// NewService wires the turn handler. A zero timeout leaves generation
// bounded only by the caller's context.
func NewService(sessions *session.Store, generator Generator, timeout time.Duration, logger *zap.Logger) *Service {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Service{
		sessions:  sessions,
		generator: generator,
		timeout:   timeout,
		logger:    logger,
	}
}

// Start creates a session and generates the assistant's opening message.
// The session is kept even if the greeting fails.
func (s *Service) Start(ctx context.Context, initial model.FinancialContext) (model.Session, string, error) {
	created := s.sessions.Create(initial)
	logging.FromContext(ctx, s.logger).Info("session started",
		zap.String("session_id", created.ID),
		zap.String("amount_owed", created.Context.AmountOwedFixed()),
		zap.Int("days_in_mora", created.Context.DaysInMora),
	)

	turn, err := s.Handle(ctx, created.ID, ai.SessionStartedInput)
	if err != nil {
		return created, "", fmt.Errorf("session initialization failed: %w", err)
	}

	created.Context = turn.Context
	return created, turn.Reply, nil
}

// Handle runs one turn: generate a reply from the current context, then
// deduct any payment mentioned in the user's text. The session lock is held
// for the whole turn so concurrent turns on one session apply in order.
func (s *Service) Handle(ctx context.Context, sessionID, userText string) (Turn, error) {
	return s.run(ctx, sessionID, userText, func(ctx context.Context, in ai.Input) (string, error) {
		reply, err := s.generator.Generate(ctx, in)
		if err != nil {
			return "", err
		}
		return reply.Content, nil
	})
}

// Stream is Handle with incremental output: each generated chunk is passed
// to onDelta. The payment is applied only once the stream completes.
func (s *Service) Stream(ctx context.Context, sessionID, userText string, onDelta func(string) error) (Turn, error) {
	if s.generator == nil || !s.generator.StreamingEnabled() {
		turn, err := s.Handle(ctx, sessionID, userText)
		if err == nil && onDelta != nil {
			err = onDelta(turn.Reply)
		}
		return turn, err
	}

	return s.run(ctx, sessionID, userText, func(ctx context.Context, in ai.Input) (string, error) {
		stream, err := s.generator.Stream(ctx, in)
		if err != nil {
			return "", err
		}
		defer stream.Close()

		chunks := make([]*schema.Message, 0, 8)
		for {
			chunk, recvErr := stream.Recv()
			if errors.Is(recvErr, io.EOF) {
				break
			}
			if recvErr != nil {
				return "", recvErr
			}
			if chunk == nil {
				continue
			}

			chunks = append(chunks, chunk)
			if chunk.Content != "" && onDelta != nil {
				if err := onDelta(chunk.Content); err != nil {
					return "", err
				}
			}
		}

		if len(chunks) == 0 {
			return "", nil
		}
		response, err := schema.ConcatMessages(chunks)
		if err != nil {
			return "", err
		}
		return response.Content, nil
	})
}

// Context returns the session's current financial context.
func (s *Service) Context(sessionID string) (model.Session, error) {
	return s.sessions.Get(sessionID)
}

// UpdateContext applies a manual partial update.
func (s *Service) UpdateContext(ctx context.Context, sessionID string, update model.ContextUpdate) (model.FinancialContext, error) {
	updated, err := s.sessions.ApplyUpdate(sessionID, update)
	if err != nil {
		return model.FinancialContext{}, err
	}

	logging.FromContext(ctx, s.logger).Info("context updated",
		zap.String("session_id", sessionID),
		zap.String("amount_owed", updated.AmountOwedFixed()),
		zap.Int("days_in_mora", updated.DaysInMora),
	)
	return updated, nil
}

// SessionCount reports live sessions.
func (s *Service) SessionCount() int {
	return s.sessions.Len()
}

type generateFunc func(ctx context.Context, in ai.Input) (string, error)

func (s *Service) run(ctx context.Context, sessionID, userText string, generate generateFunc) (Turn, error) {
	// Unknown sessions report ErrSessionNotFound ahead of any other error.
	if _, err := s.sessions.Get(sessionID); err != nil {
		return Turn{}, err
	}
	if strings.TrimSpace(userText) == "" {
		return Turn{}, ErrMessageRequired
	}
	if s.generator == nil {
		return Turn{}, ErrGeneratorUnavailable
	}

	logger := logging.FromContext(ctx, s.logger).With(zap.String("session_id", sessionID))

	var turn Turn
	updated, err := s.sessions.WithSession(sessionID, func(fc *model.FinancialContext) error {
		genCtx, cancel := s.generationContext(ctx)
		defer cancel()

		reply, err := generate(genCtx, ai.Input{Query: userText, Context: *fc})
		if err != nil {
			return fmt.Errorf("message processing failed: %w", err)
		}

		paid := payment.Extract(userText)
		if paid.IsPositive() {
			before := fc.AmountOwedFixed()
			fc.ApplyPayment(paid)
			logger.Info("payment detected",
				zap.String("payment", paid.StringFixed(2)),
				zap.String("amount_before", before),
				zap.String("amount_after", fc.AmountOwedFixed()),
			)
		}

		turn = Turn{SessionID: sessionID, Reply: reply, Payment: paid}
		return nil
	})
	if err != nil {
		if !errors.Is(err, session.ErrSessionNotFound) {
			logger.Error("turn failed", zap.Error(err))
		}
		return Turn{}, err
	}

	turn.Context = updated
	return turn, nil
}

func (s *Service) generationContext(ctx context.Context) (context.Context, context.CancelFunc) {
	if s.timeout > 0 {
		return context.WithTimeout(ctx, s.timeout)
	}
	return context.WithCancel(ctx)
}
