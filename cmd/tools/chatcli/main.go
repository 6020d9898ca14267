// chatcli 是聊天挂件的终端版本，直接在进程内驱动会话控制器。
package main

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/charmbracelet/lipgloss"
	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/zhouzirui/skychat/backend/internal/config"
	"github.com/zhouzirui/skychat/backend/internal/logging"
	"github.com/zhouzirui/skychat/backend/internal/model/chat"
	"github.com/zhouzirui/skychat/backend/internal/service/ai"
	chatservice "github.com/zhouzirui/skychat/backend/internal/service/chat"
	"github.com/zhouzirui/skychat/backend/internal/service/weather"
)

var (
	userStyle   = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("12"))
	botStyle    = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("10"))
	noticeStyle = lipgloss.NewStyle().Faint(true)
	errorStyle  = lipgloss.NewStyle().Foreground(lipgloss.Color("9"))
)

var (
	message string
	verbose bool
)

var rootCmd = &cobra.Command{
	Use:   "chatcli",
	Short: "Talk to the weather-aware chatbot from a terminal",
	Long: `chatcli runs a chat session in process. Each line read from stdin is
sent when Enter is pressed. Messages mentioning "weather" are answered by
the weather API, everything else by the configured AI provider.`,
	SilenceUsage: true,
	RunE:         runChat,
}

func init() {
	rootCmd.Flags().StringVarP(&message, "message", "m", "", "send a single message and exit")
	rootCmd.Flags().BoolVarP(&verbose, "verbose", "v", false, "enable debug logging")
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func runChat(cmd *cobra.Command, _ []string) error {
	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	_ = godotenv.Load()

	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	level := "error"
	if verbose {
		level = "debug"
	}
	logger, err := logging.New(level)
	if err != nil {
		return fmt.Errorf("build logger: %w", err)
	}
	defer func() { _ = logger.Sync() }()

	var replies chatservice.ReplyGenerator
	if cfg.AI.Enabled() {
		chatModel, err := ai.NewChatModel(ctx, cfg.AI)
		if err != nil {
			return fmt.Errorf("init chat model: %w", err)
		}
		aiService, err := ai.NewService(ctx, chatModel, cfg.AI, logger)
		if err != nil {
			return fmt.Errorf("init ai service: %w", err)
		}
		replies = aiService
	} else {
		logger.Warn("AI credentials not configured, chat replies will use the fallback text")
	}

	svc := chatservice.NewService(weather.NewClient(cfg.Weather, logger), replies, logger)
	_, controller := svc.CreateSession(ctx)

	out := cmd.OutOrStdout()
	if message != "" {
		return sendOnce(ctx, out, controller, message)
	}
	return runREPL(ctx, cmd.InOrStdin(), out, controller, logger)
}

// sendOnce 发送单条消息并打印这一轮对话。
func sendOnce(ctx context.Context, out io.Writer, controller *chatservice.Controller, text string) error {
	entry, err := controller.SendText(ctx, text)
	if err != nil {
		if errors.Is(err, chatservice.ErrEmptyDraft) {
			return nil
		}
		return err
	}
	printEntry(out, entry)
	return nil
}

// runREPL reads one message per line until EOF or "/quit".
func runREPL(ctx context.Context, in io.Reader, out io.Writer, controller *chatservice.Controller, logger *zap.Logger) error {
	fmt.Fprintln(out, botStyle.Render("Chatbot:"), chatservice.Greeting)
	fmt.Fprintln(out, noticeStyle.Render("Type a message and press Enter. /quit exits."))

	scanner := bufio.NewScanner(in)
	for {
		if ctx.Err() != nil {
			return nil
		}
		fmt.Fprint(out, userStyle.Render("> "))
		if !scanner.Scan() {
			fmt.Fprintln(out)
			return scanner.Err()
		}

		line := scanner.Text()
		if strings.TrimSpace(line) == "/quit" {
			return nil
		}

		entry, err := controller.SendText(ctx, line)
		switch {
		case err == nil:
			printEntry(out, entry)
		case errors.Is(err, chatservice.ErrEmptyDraft):
		case errors.Is(err, chatservice.ErrLocationRequired):
			fmt.Fprintln(out, errorStyle.Render(`Please say where, e.g. "weather in Paris".`))
		default:
			logger.Debug("send failed", zap.Error(err))
			fmt.Fprintln(out, errorStyle.Render(err.Error()))
		}
	}
}

func printEntry(out io.Writer, entry chat.Entry) {
	fmt.Fprintln(out, userStyle.Render("You:"), entry.User)
	fmt.Fprintln(out, botStyle.Render("Chatbot:"), entry.Bot)
}
