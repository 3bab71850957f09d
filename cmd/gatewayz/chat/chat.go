// Package chatcmder provides the chat command for interactive streaming chat
// against the Gatewayz inference gateway.
package chatcmder

import (
	"bufio"
	"context"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"time"

	"github.com/charmbracelet/lipgloss"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/Alpaca-Network/gatewayz-frontend-sub017/pkg/cliui"
	"github.com/Alpaca-Network/gatewayz-frontend-sub017/pkg/config"
	"github.com/Alpaca-Network/gatewayz-frontend-sub017/pkg/credentials"
	"github.com/Alpaca-Network/gatewayz-frontend-sub017/pkg/llm"
	"github.com/Alpaca-Network/gatewayz-frontend-sub017/pkg/logger"
	"github.com/Alpaca-Network/gatewayz-frontend-sub017/pkg/stream"
	"github.com/Alpaca-Network/gatewayz-frontend-sub017/pkg/timeout"
)

var (
	userPrompt      = lipgloss.NewStyle().Foreground(lipgloss.Color("82")).Bold(true).Render("you> ")
	assistantPrompt = lipgloss.NewStyle().Foreground(lipgloss.Color("245")).Render("assistant> ")
	reasoningStyle  = lipgloss.NewStyle().Foreground(lipgloss.Color("241")).Italic(true)
	noticeStyle     = lipgloss.NewStyle().Foreground(lipgloss.Color("241"))
)

// chatFlags is the flag registry for the chat command. The same logical
// flags appear on "gatewayz ask", so definitions live in one place.
var chatFlags = config.FlagSet{
	config.FlagModel:             {Name: "model", Shorthand: "m", ViperKey: "chat.model", Description: "Model to chat with (e.g. openai/gpt-4o)"},
	config.FlagSystem:            {Name: "system", Shorthand: "s", ViperKey: "chat.system_prompt", Description: "System prompt for the session"},
	config.FlagBaseURL:           {Name: "base-url", ViperKey: "gateway.base_url", Description: "Gateway base URL"},
	config.FlagReasoning:         {Name: "reasoning", ViperKey: "chat.show_reasoning", Description: "Show model reasoning while streaming"},
	config.FlagMaxRetries:        {Name: "max-retries", ViperKey: "retry.max_retries", Description: "Max reconnect attempts for retryable gateway errors (negative disables)"},
	config.FlagFirstChunkTimeout: {Name: "first-chunk-timeout", ViperKey: "timeouts.first_chunk_seconds", Description: "Seconds to wait for the first chunk"},
	config.FlagInterChunkTimeout: {Name: "inter-chunk-timeout", ViperKey: "timeouts.inter_chunk_seconds", Description: "Seconds to wait between chunks"},
	config.FlagTotalTimeout:      {Name: "total-timeout", ViperKey: "timeouts.total_seconds", Description: "Total seconds allowed for a whole response"},
}

// chatFlagKeys lists the registry entries bound to viper in PreRunE.
var chatFlagKeys = []string{
	config.FlagModel,
	config.FlagSystem,
	config.FlagBaseURL,
	config.FlagReasoning,
	config.FlagMaxRetries,
	config.FlagFirstChunkTimeout,
	config.FlagInterChunkTimeout,
	config.FlagTotalTimeout,
}

type chatCommander struct {
	baseURL       string
	model         string
	system        string
	showReasoning bool
	maxRetries    int
	backoff       time.Duration
	timeoutCfg    timeout.Config

	mobile      bool
	slowNetwork bool
	hidden      bool

	modelPinned     bool
	reasoningPinned bool
	configDir       string
	debug           bool

	logger     *zap.Logger
	controller *stream.Controller
}

const chatLongDesc string = `Start an interactive chat session against the Gatewayz gateway.

Messages stream back token by token over SSE. Reasoning models show
their thinking in dim text before the answer (disable with
--reasoning=false or "gatewayz config set chat.show_reasoning false").

Flags override config.toml values, which override defaults. Environment
variables with the GATEWAYZ_ prefix sit between the two, so
GATEWAYZ_CHAT_MODEL=deepseek/deepseek-r1 works in scripts.

While a response is streaming, Ctrl+C cancels it without leaving the
session. Edits to config.toml are picked up between turns.

Examples:
  gatewayz chat
  gatewayz chat --model anthropic/claude-sonnet-4
  gatewayz chat --slow-network --total-timeout 900`

const chatShortDesc string = "Interactive streaming chat through the gateway"

func NewChatCmd() *cobra.Command {
	cmder := &chatCommander{}

	cmd := &cobra.Command{
		Use:   "chat",
		Short: chatShortDesc,
		Long:  chatLongDesc,
		Args:  cobra.NoArgs,
		PreRunE: func(cmd *cobra.Command, _ []string) error {
			cmder.configDir, _ = cmd.Flags().GetString("config-dir")

			v, err := config.InitViper(cmder.configDir)
			if err != nil {
				return fmt.Errorf("loading config: %w", err)
			}

			config.BindRegisteredFlags(v, cmd, chatFlags, chatFlagKeys)

			cmder.baseURL = v.GetString("gateway.base_url")
			cmder.model = v.GetString("chat.model")
			cmder.system = v.GetString("chat.system_prompt")
			cmder.showReasoning = v.GetBool("chat.show_reasoning")
			cmder.maxRetries = v.GetInt("retry.max_retries")
			cmder.backoff = time.Duration(v.GetInt("retry.backoff_ms")) * time.Millisecond
			cmder.timeoutCfg = config.TimeoutConfigFromViper(v)

			// Values picked on the command line win over config file
			// edits made while the session is running.
			cmder.modelPinned = cmd.Flags().Changed("model")
			cmder.reasoningPinned = cmd.Flags().Changed("reasoning")

			return nil
		},
		RunE: func(cmd *cobra.Command, _ []string) error {
			var err error
			cmder.debug, err = cmd.Flags().GetBool("debug")
			if err != nil {
				return fmt.Errorf("could not get debug flag: %w", err)
			}

			return cmder.run()
		},
	}

	var model, system, baseURL string
	var reasoning bool
	var maxRetries int
	var firstChunk, interChunk, total uint

	config.AddStringFlag(cmd, chatFlags, config.FlagModel, &model)
	config.AddStringFlag(cmd, chatFlags, config.FlagSystem, &system)
	config.AddStringFlag(cmd, chatFlags, config.FlagBaseURL, &baseURL)
	config.AddBoolFlag(cmd, chatFlags, config.FlagReasoning, &reasoning)
	config.AddIntFlag(cmd, chatFlags, config.FlagMaxRetries, &maxRetries)
	config.AddUintFlag(cmd, chatFlags, config.FlagFirstChunkTimeout, &firstChunk)
	config.AddUintFlag(cmd, chatFlags, config.FlagInterChunkTimeout, &interChunk)
	config.AddUintFlag(cmd, chatFlags, config.FlagTotalTimeout, &total)

	cmd.Flags().BoolVar(&cmder.mobile, "mobile", false, "Apply the mobile timeout multiplier")
	cmd.Flags().BoolVar(&cmder.slowNetwork, "slow-network", false, "Apply the slow-network timeout multiplier")
	cmd.Flags().BoolVar(&cmder.hidden, "hidden", false, "Apply the backgrounded-session timeout multiplier")

	return cmd
}

func (c *chatCommander) run() error {
	c.logger = logger.NewLogger(c.debug)
	defer func() { _ = c.logger.Sync() }()

	mgr, err := credentials.NewManager(c.configDir)
	if err != nil {
		return fmt.Errorf("loading credentials: %w", err)
	}

	apiKey, err := mgr.ResolveKey()
	if err != nil {
		return fmt.Errorf("resolving API key: %w", err)
	}
	if apiKey == "" {
		return fmt.Errorf("no API key configured: run 'gatewayz auth' or set %s", credentials.EnvAPIKey)
	}

	budget := timeout.NewBudget(c.timeoutCfg, timeout.Signals{
		Mobile:      c.mobile,
		SlowNetwork: c.slowNetwork,
		Hidden:      c.hidden,
	})

	c.controller = stream.NewController(stream.Config{
		BaseURL:      c.baseURL,
		APIKey:       apiKey,
		Logger:       c.logger,
		MaxRetries:   c.maxRetries,
		RetryBackoff: c.backoff,
		Budget:       budget,
	})

	fmt.Println()
	fmt.Printf("  %s %s\n", cliui.KeyStyle.Render("Gateway:"), cliui.DimStyle.Render(c.baseURL))
	fmt.Printf("  %s %s\n\n", cliui.KeyStyle.Render("Model:"), cliui.NameStyle.Render(c.model))
	fmt.Printf("  %s\n\n", cliui.DimStyle.Render("Type your message and press Enter. /reset clears history, /exit or Ctrl+D quits."))

	// Pick up config.toml edits between turns.
	watchCtx, stopWatch := context.WithCancel(context.Background())
	defer stopWatch()
	changes := c.watchConfig(watchCtx)

	var messages []llm.Message
	if c.system != "" {
		messages = append(messages, llm.NewSystemMessage(c.system))
	}

	scanner := bufio.NewScanner(os.Stdin)

	for {
		select {
		case _, ok := <-changes:
			if ok {
				c.reloadConfig()
			}
		default:
		}

		fmt.Print(userPrompt)
		if !scanner.Scan() {
			// EOF or error
			break
		}

		input := strings.TrimSpace(scanner.Text())
		if input == "" {
			continue
		}
		if input == "/exit" {
			break
		}
		if input == "/reset" {
			messages = messages[:0]
			if c.system != "" {
				messages = append(messages, llm.NewSystemMessage(c.system))
			}
			fmt.Printf("  %s\n\n", cliui.DimStyle.Render("history cleared"))
			continue
		}

		messages = append(messages, llm.NewUserMessage(input))

		// Ctrl+C cancels the in-flight response without ending the session.
		ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
		assistantContent, err := c.sendAndStream(ctx, messages)
		stop()

		if err != nil {
			fmt.Fprintf(os.Stderr, "\n  %s %v\n\n", cliui.FailMark, err)
			// Remove the failed user message so we can retry
			messages = messages[:len(messages)-1]
			continue
		}

		if assistantContent == "" {
			// Cancelled before anything arrived
			messages = messages[:len(messages)-1]
			continue
		}

		messages = append(messages, llm.NewAssistantMessage(assistantContent))

		fmt.Println()
	}

	if err := scanner.Err(); err != nil {
		return fmt.Errorf("reading input: %w", err)
	}

	fmt.Println()
	return nil
}

// watchConfig starts a config file watcher. Returns a nil channel if the
// watcher cannot be started, which is fine to select on.
func (c *chatCommander) watchConfig(ctx context.Context) <-chan struct{} {
	cfger, err := config.NewConfiger(c.configDir)
	if err != nil {
		c.logger.Debug("config watcher unavailable", zap.Error(err))
		return nil
	}

	changes, err := cfger.Watch(ctx, c.logger)
	if err != nil {
		c.logger.Debug("config watcher unavailable", zap.Error(err))
		return nil
	}

	return changes
}

// reloadConfig re-reads config.toml and applies the fields that are safe
// to change mid-session.
func (c *chatCommander) reloadConfig() {
	cfger, err := config.NewConfiger(c.configDir)
	if err != nil {
		return
	}

	cfg, err := cfger.LoadConfig()
	if err != nil {
		c.logger.Debug("config reload failed", zap.Error(err))
		return
	}

	if !c.modelPinned && cfg.Chat.Model != c.model {
		c.model = cfg.Chat.Model
		fmt.Printf("  %s %s\n\n",
			cliui.DimStyle.Render("model changed to"),
			cliui.NameStyle.Render(c.model),
		)
	}

	if !c.reasoningPinned {
		c.showReasoning = cfg.Chat.ShowReasoning
	}
}

// sendAndStream sends the conversation to the gateway and streams the
// response to stdout. Returns the full assistant response text.
func (c *chatCommander) sendAndStream(ctx context.Context, messages []llm.Message) (string, error) {
	req := llm.ChatRequest{
		Model:    c.model,
		Messages: messages,
		Stream:   true,
	}

	c.logger.Debug("sending chat request",
		zap.String("base_url", c.baseURL),
		zap.String("model", c.model),
		zap.Int("message_count", len(messages)),
	)

	session := c.controller.Stream(ctx, req)

	var fullContent strings.Builder
	promptShown := false
	inReasoning := false

	showPrompt := func() {
		if !promptShown {
			fmt.Print(assistantPrompt)
			promptShown = true
		}
	}

	for ev := range session.Events() {
		if ev.Err != nil {
			return fullContent.String(), ev.Err
		}

		switch ev.Status {
		case stream.StatusRateLimitRetry:
			fmt.Printf("  %s\n", noticeStyle.Render("gateway busy, retrying..."))
			continue
		case stream.StatusTimingInfo:
			if inReasoning {
				fmt.Println()
				inReasoning = false
			}
			if ev.Timing != nil {
				fmt.Printf("\n  %s\n", noticeStyle.Render(formatTiming(ev.Timing)))
			}
			continue
		}

		if ev.ReasoningDelta != "" && c.showReasoning {
			showPrompt()
			fmt.Print(reasoningStyle.Render(ev.ReasoningDelta))
			inReasoning = true
		}

		if ev.Content != "" {
			showPrompt()
			if inReasoning {
				fmt.Print("\n\n")
				inReasoning = false
			}
			fmt.Print(ev.Content)
			fullContent.WriteString(ev.Content)
		}
	}

	if session.State() == stream.StateCancelled {
		fmt.Printf("\n  %s\n", noticeStyle.Render("cancelled"))
	}

	return fullContent.String(), nil
}

// formatTiming renders the timing footer shown after each response.
func formatTiming(t *stream.Timing) string {
	parts := []string{
		fmt.Sprintf("%s to first token", cliui.FormatDuration(t.TimeToFirstToken)),
		fmt.Sprintf("%s total", cliui.FormatDuration(t.TotalTime)),
	}

	if t.TokensPerSecond > 0 {
		parts = append(parts, fmt.Sprintf("%.1f tok/s", t.TokensPerSecond))
	}

	if t.Usage != nil && t.Usage.TotalTokens > 0 {
		parts = append(parts, fmt.Sprintf("%d tokens", t.Usage.TotalTokens))
	}

	return strings.Join(parts, " · ")
}
