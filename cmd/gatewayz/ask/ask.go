// Package askcmder provides the ask command for one-shot questions
// against the Gatewayz inference gateway.
package askcmder

import (
	"bufio"
	"context"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"golang.org/x/term"

	"github.com/Alpaca-Network/gatewayz-frontend-sub017/pkg/cliui"
	"github.com/Alpaca-Network/gatewayz-frontend-sub017/pkg/config"
	"github.com/Alpaca-Network/gatewayz-frontend-sub017/pkg/credentials"
	"github.com/Alpaca-Network/gatewayz-frontend-sub017/pkg/llm"
	"github.com/Alpaca-Network/gatewayz-frontend-sub017/pkg/logger"
	"github.com/Alpaca-Network/gatewayz-frontend-sub017/pkg/stream"
	"github.com/Alpaca-Network/gatewayz-frontend-sub017/pkg/timeout"
)

// askFlags is the flag registry for the ask command. Shared logical flags
// (model, system, base-url, timeouts) carry the same definitions as the
// chat command so the two never drift apart.
var askFlags = config.FlagSet{
	config.FlagModel:             {Name: "model", Shorthand: "m", ViperKey: "chat.model", Description: "Model to query (e.g. openai/gpt-4o)"},
	config.FlagSystem:            {Name: "system", Shorthand: "s", ViperKey: "chat.system_prompt", Description: "System prompt for the request"},
	config.FlagBaseURL:           {Name: "base-url", ViperKey: "gateway.base_url", Description: "Gateway base URL"},
	config.FlagMarkdown:          {Name: "markdown", ViperKey: "chat.markdown", Description: "Render the answer as markdown when stdout is a terminal"},
	config.FlagMaxRetries:        {Name: "max-retries", ViperKey: "retry.max_retries", Description: "Max reconnect attempts for retryable gateway errors (negative disables)"},
	config.FlagFirstChunkTimeout: {Name: "first-chunk-timeout", ViperKey: "timeouts.first_chunk_seconds", Description: "Seconds to wait for the first chunk"},
	config.FlagInterChunkTimeout: {Name: "inter-chunk-timeout", ViperKey: "timeouts.inter_chunk_seconds", Description: "Seconds to wait between chunks"},
	config.FlagTotalTimeout:      {Name: "total-timeout", ViperKey: "timeouts.total_seconds", Description: "Total seconds allowed for the whole response"},
}

// askFlagKeys lists the registry entries bound to viper in PreRunE.
var askFlagKeys = []string{
	config.FlagModel,
	config.FlagSystem,
	config.FlagBaseURL,
	config.FlagMarkdown,
	config.FlagMaxRetries,
	config.FlagFirstChunkTimeout,
	config.FlagInterChunkTimeout,
	config.FlagTotalTimeout,
}

type askCommander struct {
	baseURL    string
	model      string
	system     string
	markdown   bool
	maxRetries int
	backoff    time.Duration
	timeoutCfg timeout.Config

	mobile      bool
	slowNetwork bool
	hidden      bool

	configDir string
	debug     bool

	logger *zap.Logger
}

const askLongDesc string = `Ask a single question and print the answer.

The question comes from the command arguments, or from stdin when piped:

  gatewayz ask "explain CIDR notation"
  cat error.log | gatewayz ask "what went wrong here?"

When stdin carries piped input AND arguments are given, the arguments
become the question and the piped input is appended as context.

Answers stream token by token. When chat.markdown is enabled and stdout
is a terminal, the full answer is buffered and rendered as markdown
instead. Piped output is always raw text, so "gatewayz ask ... | pbcopy"
never picks up ANSI codes. Reasoning traces are never printed; use
"gatewayz chat" to watch a model think.`

const askShortDesc string = "Ask a one-shot question through the gateway"

// NewAskCmd creates the "ask" subcommand.
func NewAskCmd() *cobra.Command {
	cmder := &askCommander{}

	cmd := &cobra.Command{
		Use:   "ask [question]",
		Short: askShortDesc,
		Long:  askLongDesc,
		Args:  cobra.ArbitraryArgs,
		PreRunE: func(cmd *cobra.Command, _ []string) error {
			cmder.configDir, _ = cmd.Flags().GetString("config-dir")

			v, err := config.InitViper(cmder.configDir)
			if err != nil {
				return fmt.Errorf("loading config: %w", err)
			}

			config.BindRegisteredFlags(v, cmd, askFlags, askFlagKeys)

			cmder.baseURL = v.GetString("gateway.base_url")
			cmder.model = v.GetString("chat.model")
			cmder.system = v.GetString("chat.system_prompt")
			cmder.markdown = v.GetBool("chat.markdown")
			cmder.maxRetries = v.GetInt("retry.max_retries")
			cmder.backoff = time.Duration(v.GetInt("retry.backoff_ms")) * time.Millisecond
			cmder.timeoutCfg = config.TimeoutConfigFromViper(v)

			return nil
		},
		RunE: func(cmd *cobra.Command, args []string) error {
			var err error
			cmder.debug, err = cmd.Flags().GetBool("debug")
			if err != nil {
				return fmt.Errorf("could not get debug flag: %w", err)
			}

			question, err := readQuestion(args)
			if err != nil {
				return err
			}

			return cmder.run(question)
		},
	}

	var model, system, baseURL string
	var markdown bool
	var maxRetries int
	var firstChunk, interChunk, total uint

	config.AddStringFlag(cmd, askFlags, config.FlagModel, &model)
	config.AddStringFlag(cmd, askFlags, config.FlagSystem, &system)
	config.AddStringFlag(cmd, askFlags, config.FlagBaseURL, &baseURL)
	config.AddBoolFlag(cmd, askFlags, config.FlagMarkdown, &markdown)
	config.AddIntFlag(cmd, askFlags, config.FlagMaxRetries, &maxRetries)
	config.AddUintFlag(cmd, askFlags, config.FlagFirstChunkTimeout, &firstChunk)
	config.AddUintFlag(cmd, askFlags, config.FlagInterChunkTimeout, &interChunk)
	config.AddUintFlag(cmd, askFlags, config.FlagTotalTimeout, &total)

	cmd.Flags().BoolVar(&cmder.mobile, "mobile", false, "Apply the mobile timeout multiplier")
	cmd.Flags().BoolVar(&cmder.slowNetwork, "slow-network", false, "Apply the slow-network timeout multiplier")
	cmd.Flags().BoolVar(&cmder.hidden, "hidden", false, "Apply the backgrounded-session timeout multiplier")

	return cmd
}

// readQuestion assembles the question from args and piped stdin.
func readQuestion(args []string) (string, error) {
	question := strings.TrimSpace(strings.Join(args, " "))

	stat, err := os.Stdin.Stat()
	if err == nil && stat.Mode()&os.ModeCharDevice == 0 {
		var b strings.Builder
		scanner := bufio.NewScanner(os.Stdin)
		scanner.Buffer(make([]byte, 64*1024), 1024*1024)
		for scanner.Scan() {
			b.WriteString(scanner.Text())
			b.WriteString("\n")
		}
		if err := scanner.Err(); err != nil {
			return "", fmt.Errorf("reading stdin: %w", err)
		}

		piped := strings.TrimSpace(b.String())
		switch {
		case question == "":
			question = piped
		case piped != "":
			question = question + "\n\n" + piped
		}
	}

	if question == "" {
		return "", fmt.Errorf("no question provided: pass one as an argument or pipe it on stdin")
	}

	return question, nil
}

func (c *askCommander) run(question string) error {
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

	controller := stream.NewController(stream.Config{
		BaseURL:      c.baseURL,
		APIKey:       apiKey,
		Logger:       c.logger,
		MaxRetries:   c.maxRetries,
		RetryBackoff: c.backoff,
		Budget:       budget,
	})

	var messages []llm.Message
	if c.system != "" {
		messages = append(messages, llm.NewSystemMessage(c.system))
	}
	messages = append(messages, llm.NewUserMessage(question))

	req := llm.ChatRequest{
		Model:    c.model,
		Messages: messages,
		Stream:   true,
	}

	c.logger.Debug("sending ask request",
		zap.String("base_url", c.baseURL),
		zap.String("model", c.model),
	)

	// Ctrl+C cancels the request cleanly.
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()

	// Markdown needs the whole answer before rendering, and ANSI styling
	// only makes sense on a terminal.
	buffered := c.markdown && term.IsTerminal(int(os.Stdout.Fd()))

	session := controller.Stream(ctx, req)

	var full strings.Builder
	var timing *stream.Timing

	consume := func() error {
		for ev := range session.Events() {
			if ev.Err != nil {
				return ev.Err
			}

			switch ev.Status {
			case stream.StatusRateLimitRetry:
				if buffered {
					c.logger.Debug("gateway busy, retrying")
				} else {
					fmt.Fprintln(os.Stderr, "gateway busy, retrying...")
				}
				continue
			case stream.StatusTimingInfo:
				timing = ev.Timing
				continue
			}

			if ev.Content != "" {
				full.WriteString(ev.Content)
				if !buffered {
					fmt.Print(ev.Content)
				}
			}
		}

		return nil
	}

	if buffered {
		// Spinner on stderr keeps stdout clean for the rendered answer.
		err = cliui.Step(os.Stderr, "thinking", consume)
	} else {
		err = consume()
	}
	if err != nil {
		return err
	}

	if session.State() == stream.StateCancelled {
		fmt.Fprintln(os.Stderr, "cancelled")
		return nil
	}

	if buffered {
		// RenderMarkdown falls back to the raw content on error.
		rendered, err := cliui.RenderMarkdown(full.String())
		if err != nil {
			c.logger.Debug("markdown rendering failed", zap.Error(err))
		}
		fmt.Print(rendered)
	} else if !strings.HasSuffix(full.String(), "\n") {
		fmt.Println()
	}

	if timing != nil {
		c.logger.Debug("stream complete",
			zap.Duration("time_to_first_token", timing.TimeToFirstToken),
			zap.Duration("total_time", timing.TotalTime),
			zap.Float64("tokens_per_second", timing.TokensPerSecond),
		)
	}

	return nil
}
