package main

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/fortisvoice/backend/internal/handler/session"
	"github.com/fortisvoice/backend/internal/logger"
	"github.com/fortisvoice/backend/internal/model/chat"
	"github.com/fortisvoice/backend/internal/service/transcribe"
)

var transcribeCmd = &cobra.Command{
	Use:   "transcribe <audio-file>",
	Short: "Transcribe an audio file with the configured speech-to-text provider",
	Long: `Send one recording to the configured speech-to-text provider and print the
transcript. Useful for checking STT_PROVIDER credentials without the browser.`,
	Args: cobra.ExactArgs(1),
	RunE: runTranscribe,
}

func init() {
	transcribeCmd.Flags().String("format", "", "Audio container (default: from the file extension)")
	transcribeCmd.Flags().String("locale", "", "Recognition locale (default: DEFAULT_LOCALE)")
	transcribeCmd.Flags().Duration("timeout", 45*time.Second, "Request timeout")
	rootCmd.AddCommand(transcribeCmd)
}

func runTranscribe(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	t, err := transcribe.New(cfg.Speech)
	if err != nil {
		return fmt.Errorf("speech-to-text unavailable: %w", err)
	}

	audioPath := args[0]
	audio, err := os.ReadFile(audioPath)
	if err != nil {
		return fmt.Errorf("read audio: %w", err)
	}

	format, _ := cmd.Flags().GetString("format")
	if format == "" {
		format = session.AudioFormat(audioPath, "")
	}
	locale, _ := cmd.Flags().GetString("locale")
	if locale == "" {
		locale = cfg.Chat.DefaultLocale
	}
	timeout, _ := cmd.Flags().GetDuration("timeout")

	ctx, cancel := context.WithTimeout(cmd.Context(), timeout)
	defer cancel()

	log := logger.For("transcribe")
	log.Info("transcribing", "file", audioPath, "format", format, "locale", locale, "provider", cfg.Speech.Provider)

	start := time.Now()
	text, err := t.Transcribe(ctx, audio, format, chat.LanguageHint(locale))
	if err != nil {
		return fmt.Errorf("transcription failed: %w", err)
	}

	log.Info("transcribed", "elapsed", time.Since(start).Round(time.Millisecond), "chars", len(text))
	fmt.Fprintln(cmd.OutOrStdout(), text)
	return nil
}
