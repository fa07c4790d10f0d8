package cmd

import (
	"bufio"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"github.com/docuchat/docuchat/internal/app"
	"github.com/docuchat/docuchat/internal/chat"
	"github.com/docuchat/docuchat/internal/config"
	"github.com/docuchat/docuchat/internal/gemini"
	"github.com/docuchat/docuchat/internal/log"
)

var verbose bool

func init() {
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "enable debug logging")
}

// newApp loads configuration and wires the application container.
func newApp(cmd *cobra.Command) (*app.App, error) {
	level := slog.LevelWarn
	if verbose {
		level = slog.LevelDebug
	}
	logger := log.New(log.Config{Level: level})

	cfg, err := config.Load()
	if err != nil {
		return nil, err
	}

	return app.New(cmd.Context(), cfg, logger)
}

// runChat is the interactive loop. Sends are serialized by construction:
// the next prompt is not read until the previous stream finishes.
func runChat(cmd *cobra.Command, _ []string) error {
	a, err := newApp(cmd)
	if err != nil {
		return err
	}
	defer func() { _ = a.Close() }()

	fmt.Println("docuchat: ask about your documents (add some with `docuchat files add`).")
	fmt.Println("Type /quit to exit.")

	scanner := bufio.NewScanner(os.Stdin)
	for {
		fmt.Print("\n> ")
		if !scanner.Scan() {
			break
		}
		input := strings.TrimSpace(scanner.Text())
		if input == "" {
			continue
		}
		if input == "/quit" || input == "/exit" {
			break
		}

		msg := chat.NewModelMessage()
		_, err := a.Chat.Send(cmd.Context(), input, func(text string, citations []gemini.Citation) {
			msg.Append(text, citations)
			fmt.Print(text)
		})
		msg.Finalize()
		fmt.Println()

		if err != nil {
			if errors.Is(err, chat.ErrSessionStale) {
				fmt.Fprintf(os.Stderr, "\n%v\n", err)
				continue
			}
			fmt.Fprintf(os.Stderr, "\nerror: %v\n", err)
			continue
		}

		printCitations(a, msg)
	}

	if err := scanner.Err(); err != nil {
		return fmt.Errorf("reading input: %w", err)
	}
	return nil
}

// printCitations lists the turn's grounding sources, resolving document
// citations back to the local file names.
func printCitations(a *app.App, msg *chat.Message) {
	if len(msg.Citations) == 0 {
		return
	}
	fmt.Println("\nSources:")
	for _, c := range msg.Citations {
		name := a.Ingest.ResolveCitation(c)
		if name == "" {
			name = c.URI
		}
		switch c.Kind {
		case gemini.CitationWeb:
			fmt.Printf("  - %s (%s)\n", name, c.URI)
		default:
			fmt.Printf("  - %s\n", name)
		}
	}
}
