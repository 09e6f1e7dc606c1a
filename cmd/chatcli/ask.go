package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"strings"

	mstream "github.com/haowjy/meridian-stream-go"
	"github.com/spf13/cobra"

	"sandchat/internal/capabilities"
	chatModels "sandchat/internal/domain/models/chat"
	domainchat "sandchat/internal/domain/services/chat"
	"sandchat/internal/repository/memory"
	"sandchat/internal/service/conversation"
	"sandchat/internal/service/events"
	serviceLLM "sandchat/internal/service/llm"
	"sandchat/internal/service/sandbox"
	"sandchat/internal/service/turn"
)

var (
	askVariant  string
	askProvider string
	askSearch   bool
	askShowCode bool
)

var askCmd = &cobra.Command{
	Use:   "ask <prompt>",
	Short: "Run one assistant turn and print the result",
	Long: `Run one assistant turn through the turn controller with an in-memory
store, then print the display text, the plan and the sandbox files the
assistant produced.`,
	Args: cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg := loadConfig()
		if askProvider != "" {
			cfg.DefaultProvider = askProvider
		}
		if askVariant != "" {
			cfg.DefaultVariant = askVariant
		}
		logger := newLogger()

		caps, err := capabilities.NewRegistry()
		if err != nil {
			return fmt.Errorf("load capabilities: %w", err)
		}
		source, err := serviceLLM.SetupTokenSource(cfg, caps, logger)
		if err != nil {
			return err
		}

		ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt)
		defer stop()

		conversations := conversation.NewService(memory.NewBlobStore(), "", logger)
		controller := turn.NewController(
			conversations,
			source,
			events.NewHub(logger),
			sandbox.NewPreviewer(0, nil, logger),
			mstream.NewRegistry(),
			turn.Config{
				IdleTimeout:        cfg.StreamIdleTimeout,
				HistoryTokenBudget: cfg.HistoryTokenBudget,
				DefaultVariant:     cfg.DefaultVariant,
			},
			logger,
		)

		resp, err := controller.Send(ctx, &domainchat.SendRequest{
			Prompt:        strings.Join(args, " "),
			SearchEnabled: askSearch,
		})
		if err != nil {
			return err
		}

		// Ctrl-C cancels the turn; whatever was produced is still printed
		waitErr := controller.Wait(ctx)
		if waitErr != nil {
			controller.Stop(context.Background(), resp.ChatID)
			_ = controller.Wait(context.Background())
		}

		chat, err := conversations.GetChat(context.Background(), resp.ChatID)
		if err != nil {
			return err
		}
		msg := chat.FindMessage(resp.AIMessage.ID)
		if msg == nil {
			return fmt.Errorf("assistant message %s missing", resp.AIMessage.ID)
		}

		out := cmd.OutOrStdout()
		fmt.Fprintln(out, msg.Text)
		printReasoning(out, msg.Reasoning)
		printPlan(out, msg.Plan)
		printSandbox(out, chat.SandboxState, askShowCode)

		if msg.Status == chatModels.StatusError {
			return fmt.Errorf("turn failed")
		}
		return nil
	},
}

func init() {
	askCmd.Flags().StringVar(&askVariant, "variant", "", "Model variant (fast, smart) or explicit model")
	askCmd.Flags().StringVar(&askProvider, "provider", "", "Provider to resolve variants against (anthropic, lorem)")
	askCmd.Flags().BoolVar(&askSearch, "search", false, "Enable web search when the model supports it")
	askCmd.Flags().BoolVar(&askShowCode, "show-files", false, "Print sandbox file contents")
}
