// Package main is the FortisVoice entry point: the chat web server plus a
// one-shot command for trying the reply engine from a terminal.
package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"

	"github.com/fortisvoice/backend/internal/config"
	"github.com/fortisvoice/backend/internal/handler"
	"github.com/fortisvoice/backend/internal/logger"
	"github.com/fortisvoice/backend/internal/model/chat"
	chatService "github.com/fortisvoice/backend/internal/service/chat"
	"github.com/fortisvoice/backend/internal/service/reply"
	"github.com/fortisvoice/backend/internal/service/transcribe"
)

var (
	addr     string
	logLevel string
	envFile  string
	version  = "0.1.0" // set at build time with -ldflags
)

var rootCmd = &cobra.Command{
	Use:   "fortisvoice",
	Short: "FortisVoice - voice-enabled chat assistant",
	Long: `FortisVoice serves a WhatsApp-style chat page that accepts typed or spoken
messages in English and Urdu and can read its replies aloud.`,
	SilenceUsage: true,
	RunE:         runServe,
}

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the chat web server",
	RunE:  runServe,
}

var askCmd = &cobra.Command{
	Use:   "ask <text>",
	Short: "Print the reply to one utterance",
	Long:  `Run a single utterance through the configured reply engine and print the answer.`,
	Args:  cobra.MinimumNArgs(1),
	RunE:  runAsk,
}

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Show version information",
	Run: func(cmd *cobra.Command, _ []string) {
		fmt.Fprintf(cmd.OutOrStdout(), "FortisVoice v%s\n", version)
	},
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func init() {
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "", "Set log level (debug|info|warn|error) [default: FORTIS_LOG_LEVEL or info]")
	rootCmd.PersistentFlags().StringVar(&envFile, "env-file", ".env", "Load environment variables from this file if it exists")
	rootCmd.PersistentFlags().StringVar(&addr, "addr", "", "Listen address, overrides PORT")

	rootCmd.AddCommand(serveCmd)
	rootCmd.AddCommand(askCmd)
	rootCmd.AddCommand(versionCmd)

	cobra.OnInitialize(initConfig)
}

func initConfig() {
	if envFile != "" {
		if err := godotenv.Load(envFile); err != nil && !errors.Is(err, os.ErrNotExist) {
			fmt.Fprintf(os.Stderr, "warning: failed to load %s: %v\n", envFile, err)
		}
	}
	logger.Configure(logLevel, os.Stderr)
}

func loadConfig() (*config.Config, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, fmt.Errorf("failed to load configuration: %w", err)
	}
	if addr != "" {
		cfg.Server.Addr = addr
	}
	return cfg, nil
}

func runServe(cmd *cobra.Command, _ []string) error {
	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	log := logger.For("main")

	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	engine, err := reply.New(ctx, cfg)
	if err != nil {
		return err
	}

	opts := []chatService.Option{
		chatService.WithDefaults(chat.Settings{Locale: cfg.Chat.DefaultLocale, AutoSpeak: cfg.Chat.AutoSpeak}),
	}
	transcriber, err := transcribe.New(cfg.Speech)
	switch {
	case errors.Is(err, transcribe.ErrNotConfigured):
		log.Info("speech-to-text not configured; audio uploads get a placeholder reply")
	case err != nil:
		return err
	default:
		log.Info("speech-to-text enabled", "provider", cfg.Speech.Provider)
		opts = append(opts, chatService.WithTranscriber(transcriber))
	}

	chatSvc := chatService.NewService(engine, opts...)
	go chatSvc.RunJanitor(ctx, time.Minute, cfg.Chat.IdleTTL)
	router := handler.NewRouter(cfg.Server.CORSOrigins, chatSvc)

	srv := &http.Server{
		Addr:              cfg.Server.Addr,
		Handler:           router,
		ReadHeaderTimeout: 5 * time.Second,
		IdleTimeout:       120 * time.Second,
	}

	log.Info("FortisVoice listening", "addr", cfg.Server.Addr, "version", version, "strategy", cfg.Reply.Strategy)
	if err := runServer(ctx, srv); err != nil {
		return fmt.Errorf("server error: %w", err)
	}
	log.Info("server stopped")
	return nil
}

func runServer(ctx context.Context, srv *http.Server) error {
	errCh := make(chan error, 1)
	go func() {
		errCh <- srv.ListenAndServe()
	}()

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
		err := <-errCh
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	}
}

func runAsk(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	engine, err := reply.New(cmd.Context(), cfg)
	if err != nil {
		return err
	}

	answer := engine.GenerateReply(cmd.Context(), nil, strings.Join(args, " "))
	fmt.Fprintln(cmd.OutOrStdout(), answer)
	return nil
}
