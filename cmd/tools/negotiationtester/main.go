package main

import (
	"bufio"
	"context"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/cloudwego/eino/components/retriever"
	"github.com/joho/godotenv"
	"github.com/shopspring/decimal"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/zhouzirui/mora-bot/backend/internal/config"
	"github.com/zhouzirui/mora-bot/backend/internal/logging"
	model "github.com/zhouzirui/mora-bot/backend/internal/model/session"
	"github.com/zhouzirui/mora-bot/backend/internal/service/ai"
	"github.com/zhouzirui/mora-bot/backend/internal/service/negotiation"
	"github.com/zhouzirui/mora-bot/backend/internal/service/payment"
	"github.com/zhouzirui/mora-bot/backend/internal/service/rag"
	"github.com/zhouzirui/mora-bot/backend/internal/service/session"
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	rootCmd := &cobra.Command{
		Use:   "negotiationtester",
		Short: "Exercise the negotiation pipeline without the HTTP server",
		PersistentPreRun: func(cmd *cobra.Command, args []string) {
			if err := godotenv.Load(); err != nil {
				fmt.Fprintf(os.Stderr, "[WARN] 无法加载 .env，改用系统环境变量: %v\n", err)
			}
		},
		SilenceUsage: true,
	}

	rootCmd.AddCommand(newExtractCmd())
	rootCmd.AddCommand(newRetrieveCmd())
	rootCmd.AddCommand(newChatCmd())

	return rootCmd
}

// newExtractCmd prints the payment total detected in text.
func newExtractCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "extract [TEXT]",
		Short: "Show the payment amounts detected in a message",
		Args:  cobra.MinimumNArgs(1),
		Run: func(cmd *cobra.Command, args []string) {
			text := strings.Join(args, " ")
			for _, amount := range payment.Matches(text) {
				fmt.Fprintf(cmd.OutOrStdout(), "match: $%s\n", amount.StringFixed(2))
			}
			fmt.Fprintf(cmd.OutOrStdout(), "total: $%s\n", payment.Extract(text).StringFixed(2))
		},
	}
}

func newRetrieveCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "retrieve [QUERY]",
		Short: "Query the transcript index",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			topK, _ := cmd.Flags().GetInt("top-k")

			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			ctx := cmd.Context()
			index, err := buildIndex(ctx, cfg)
			if err != nil {
				return err
			}

			var opts []retriever.Option
			if topK > 0 {
				opts = append(opts, retriever.WithTopK(topK))
			}

			docs, err := index.Retrieve(ctx, strings.Join(args, " "), opts...)
			if err != nil {
				return err
			}
			for i, doc := range docs {
				fmt.Fprintf(cmd.OutOrStdout(), "%d. %s (score %.3f)\n", i+1, doc.ID, doc.Score())
			}
			return nil
		},
	}

	cmd.Flags().Int("top-k", 0, "Number of transcripts to return (default RAG_TOP_K)")
	return cmd
}

func newChatCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "chat",
		Short: "Run an interactive negotiation session in the terminal",
		RunE: func(cmd *cobra.Command, args []string) error {
			amountRaw, _ := cmd.Flags().GetString("amount")
			days, _ := cmd.Flags().GetInt("days")

			amount, err := decimal.NewFromString(amountRaw)
			if err != nil {
				return fmt.Errorf("invalid --amount %q: %w", amountRaw, err)
			}

			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			return runChat(cmd.Context(), cfg, model.FinancialContext{AmountOwed: amount, DaysInMora: days})
		},
	}

	cmd.Flags().String("amount", "1000", "Initial amount owed")
	cmd.Flags().Int("days", 30, "Initial days in mora")
	return cmd
}

func runChat(ctx context.Context, cfg *config.Config, initial model.FinancialContext) error {
	if ctx == nil {
		ctx = context.Background()
	}

	logger, err := logging.New(config.LogConfig{Level: "warn"})
	if err != nil {
		return err
	}

	index, err := buildIndex(ctx, cfg)
	if err != nil {
		return err
	}
	generator, err := ai.NewService(ctx, cfg.AI, index, logger)
	if err != nil {
		return err
	}

	svc := negotiation.NewService(session.NewStore(), generator, cfg.AI.GenerationTimeout, logger)

	created, greeting, err := svc.Start(ctx, initial)
	if err != nil {
		return err
	}
	fmt.Printf("[%s] bot: %s\n", created.ID, greeting)

	scanner := bufio.NewScanner(os.Stdin)
	for {
		fmt.Print("> ")
		if !scanner.Scan() {
			return scanner.Err()
		}
		text := strings.TrimSpace(scanner.Text())
		if text == "" {
			continue
		}
		if text == "exit" || text == "quit" {
			return nil
		}

		start := time.Now()
		turn, err := svc.Handle(ctx, created.ID, text)
		if err != nil {
			logger.Error("turn failed", zap.Error(err))
			continue
		}
		fmt.Printf("bot: %s\n", turn.Reply)
		fmt.Printf("   deuda: $%s | días mora: %d | %s\n",
			turn.Context.AmountOwedFixed(), turn.Context.DaysInMora, time.Since(start).Round(time.Millisecond))
	}
}

func loadConfig() (*config.Config, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, fmt.Errorf("配置加载失败: %w", err)
	}
	if !cfg.AI.Enabled() {
		return nil, fmt.Errorf("AI 未启用，请先配置 AI_PROVIDER、AI_MODEL 及对应凭证")
	}
	return cfg, nil
}

func buildIndex(ctx context.Context, cfg *config.Config) (*rag.MemoryIndex, error) {
	docs, err := rag.LoadCorpus(cfg.RAG.CorpusDir)
	if err != nil {
		return nil, err
	}
	embedder, err := cfg.AI.NewEmbedder(ctx)
	if err != nil {
		return nil, err
	}
	return rag.NewMemoryIndex(ctx, embedder, docs, rag.IndexConfig{
		TopK:           cfg.RAG.TopK,
		ScoreThreshold: cfg.RAG.ScoreThreshold,
		BatchSize:      cfg.RAG.EmbedBatchSize,
	})
}
