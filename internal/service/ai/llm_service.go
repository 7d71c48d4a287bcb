package ai

import (
	"context"
	"fmt"
	"strconv"

	"github.com/cloudwego/eino/components/model"
	"github.com/cloudwego/eino/components/prompt"
	"github.com/cloudwego/eino/components/retriever"
	"github.com/cloudwego/eino/compose"
	"github.com/cloudwego/eino/schema"
	"go.uber.org/zap"

	"github.com/zhouzirui/mora-bot/backend/internal/config"
	"github.com/zhouzirui/mora-bot/backend/internal/logging"
	"github.com/zhouzirui/mora-bot/backend/internal/model/session"
)

// Input is one generation request: the user text plus the financial
// context interpolated into the prompt.
type Input struct {
	Query   string
	Context session.FinancialContext
}

// Service runs the retrieval-augmented negotiation chain. It is built once
// at startup and shared by all requests.
type Service struct {
	chatModel model.BaseChatModel
	retriever retriever.Retriever
	streaming bool
	chain     compose.Runnable[Input, *schema.Message]
	logger    *zap.Logger
}

// NewService creates the chat model from cfg and compiles the chain.
func NewService(ctx context.Context, cfg config.AIConfig, docs retriever.Retriever, logger *zap.Logger) (*Service, error) {
	chatModel, err := cfg.NewChatModel(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to create chat model: %w", err)
	}
	return NewServiceWithModel(ctx, chatModel, docs, cfg.StreamResponse, logger)
}

// NewServiceWithModel compiles the chain around an existing chat model.
func NewServiceWithModel(ctx context.Context, chatModel model.BaseChatModel, docs retriever.Retriever, streaming bool, logger *zap.Logger) (*Service, error) {
	if chatModel == nil {
		return nil, fmt.Errorf("chat model is required")
	}
	if docs == nil {
		return nil, fmt.Errorf("retriever is required")
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	s := &Service{
		chatModel: chatModel,
		retriever: docs,
		streaming: streaming,
		logger:    logger,
	}

	promptTemplate := prompt.FromMessages(
		schema.FString,
		schema.SystemMessage(negotiationSystemPrompt),
		schema.UserMessage("{input}"),
		schema.SystemMessage(negotiationReminderPrompt),
	)

	chain := compose.NewChain[Input, *schema.Message]()
	chain.AppendLambda(compose.InvokableLambda(s.buildChainInput))
	chain.AppendChatTemplate(promptTemplate)
	chain.AppendChatModel(chatModel)

	runnable, err := chain.Compile(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to compile negotiation chain: %w", err)
	}
	s.chain = runnable

	return s, nil
}

// StreamingEnabled 指示是否开启 SSE 流式输出。
func (s *Service) StreamingEnabled() bool {
	return s.streaming
}

// Generate produces a full reply for in.
func (s *Service) Generate(ctx context.Context, in Input) (*schema.Message, error) {
	defer logging.LogDuration(ctx, s.logger, "ai.Generate")()

	response, err := s.chain.Invoke(ctx, in)
	if err != nil {
		return nil, fmt.Errorf("failed to run negotiation chain: %w", err)
	}

	logging.FromContext(ctx, s.logger).Info("generated negotiation reply", zap.Int("length", len(response.Content)))
	return response, nil
}

// Stream streams reply chunks for in.
func (s *Service) Stream(ctx context.Context, in Input) (*schema.StreamReader[*schema.Message], error) {
	if !s.StreamingEnabled() {
		return nil, fmt.Errorf("streaming disabled in configuration")
	}

	stream, err := s.chain.Stream(ctx, in)
	if err != nil {
		return nil, fmt.Errorf("failed to stream negotiation chain output: %w", err)
	}
	return stream, nil
}

// buildChainInput retrieves example transcripts and fills the prompt variables.
func (s *Service) buildChainInput(ctx context.Context, in Input) (map[string]any, error) {
	docs, err := s.retriever.Retrieve(ctx, in.Query)
	if err != nil {
		return nil, fmt.Errorf("failed to retrieve transcripts: %w", err)
	}

	ids := make([]string, 0, len(docs))
	for _, doc := range docs {
		ids = append(ids, doc.ID)
	}
	logging.FromContext(ctx, s.logger).Debug("retrieved transcripts", zap.Strings("documents", ids))

	return map[string]any{
		"input":        in.Query,
		"amount_owed":  in.Context.AmountOwedFixed(),
		"days_in_mora": strconv.Itoa(in.Context.DaysInMora),
		"context":      formatDocuments(docs),
	}, nil
}
