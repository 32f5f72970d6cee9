// aichat - a terminal chat client for cloud and local LLM backends.
//
// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"strings"

	"github.com/peterh/liner"

	"github.com/jeranaias/aichat-tui/internal/chat"
	"github.com/jeranaias/aichat-tui/internal/config"
	"github.com/jeranaias/aichat-tui/internal/knowledge"
	"github.com/jeranaias/aichat-tui/internal/model"
	"github.com/jeranaias/aichat-tui/internal/storage"
)

// Version information (set at build time)
var (
	Version   = "0.1.0"
	GitCommit = "unknown"
	BuildDate = "unknown"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		os.Exit(1)
	}
}

func run() error {
	configPath := flag.String("config", "", "path to models.toml")
	showVersion := flag.Bool("version", false, "print version and exit")
	flag.Parse()

	if *showVersion {
		fmt.Printf("aichat %s (%s, built %s)\n", Version, GitCommit, BuildDate)
		return nil
	}

	cfgFile, err := findConfigFile(*configPath)
	if err != nil {
		return err
	}
	cfg, err := config.LoadFile(cfgFile)
	if err != nil {
		return err
	}

	logger, closeLog, err := newLogger(cfg.Logging)
	if err != nil {
		return err
	}
	defer closeLog()

	logger.Info("starting aichat", "version", Version, "config", cfgFile)

	var store *storage.Store
	if cfg.Storage.Enabled {
		store, err = storage.Open(cfg.Storage.DataDirectory, logger)
		if err != nil {
			return err
		}
		defer store.Close()
	}

	knowledgeSvc := knowledge.NewService(
		filepath.Join(cfg.Storage.DataDirectory, "knowledge_cache"), logger)

	svc := chat.NewService(cfg, store, knowledgeSvc, logger)
	if err := svc.NewConversation(); err != nil {
		return err
	}

	// Config edits apply to the next exchange without a restart.
	watcher, err := config.Watch(cfgFile, logger, svc.ReloadConfig)
	if err != nil {
		logger.Warn("config watching disabled", "error", err)
	} else {
		defer watcher.Close()
	}

	return repl(svc, store, logger)
}

// findConfigFile returns the first existing path from the search order.
func findConfigFile(custom string) (string, error) {
	paths := config.SearchPaths(custom)
	for _, p := range paths {
		if _, err := os.Stat(p); err == nil {
			return p, nil
		}
	}
	return "", fmt.Errorf("no configuration file found (searched: %s)", strings.Join(paths, ", "))
}

// newLogger builds the application logger per the logging config. The
// returned closer is a no-op for stderr logging.
func newLogger(cfg config.LoggingConfig) (*slog.Logger, func(), error) {
	opts := &slog.HandlerOptions{Level: cfg.SlogLevel()}

	if cfg.File == "" {
		return slog.New(slog.NewTextHandler(os.Stderr, opts)), func() {}, nil
	}

	f, err := os.OpenFile(cfg.File, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to open log file: %w", err)
	}
	return slog.New(slog.NewTextHandler(f, opts)), func() { f.Close() }, nil
}

// =============================================================================
// REPL
// =============================================================================

func repl(svc *chat.Service, store *storage.Store, logger *slog.Logger) error {
	line := liner.NewLiner()
	defer line.Close()
	line.SetCtrlCAborts(true)

	fmt.Printf("aichat %s — /help for commands\n", Version)
	fmt.Printf("model: %s | agent: %s\n\n", svc.CurrentModel(), svc.CurrentAgent())

	for {
		input, err := line.Prompt("> ")
		if err != nil {
			if errors.Is(err, liner.ErrPromptAborted) || errors.Is(err, io.EOF) {
				fmt.Println()
				return nil
			}
			return err
		}

		input = strings.TrimSpace(input)
		if input == "" {
			continue
		}
		line.AppendHistory(input)

		if strings.HasPrefix(input, "/") {
			if quit := runCommand(svc, store, input); quit {
				return nil
			}
			continue
		}

		streamExchange(svc, input, logger)
	}
}

// streamExchange sends one user message and prints the streamed reply.
// Ctrl-C cancels the in-flight stream without leaving the program.
func streamExchange(svc *chat.Service, input string, logger *slog.Logger) {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()

	inReasoning := false
	err := svc.StreamResponse(ctx, model.NewUserMessage(input), func(chunk model.StreamChunk) {
		switch {
		case chunk.IsReasoning:
			if !inReasoning {
				fmt.Print("\n[thinking] ")
				inReasoning = true
			}
			fmt.Print(chunk.Reasoning)
		case chunk.Content != "":
			if inReasoning {
				fmt.Print("\n\n")
				inReasoning = false
			}
			fmt.Print(chunk.Content)
		}
	})
	fmt.Println()

	if err != nil {
		logger.Error("exchange failed", "error", err)
		fmt.Fprintln(os.Stderr, "error:", err)
	}
	fmt.Println()
}

// runCommand handles a slash command. It returns true when the REPL should
// exit.
func runCommand(svc *chat.Service, store *storage.Store, input string) bool {
	fields := strings.Fields(input)
	cmd, args := fields[0], fields[1:]

	switch cmd {
	case "/quit", "/exit":
		return true

	case "/help":
		fmt.Println(`commands:
  /model [key]    show or switch the active model
  /agent [key]    show or switch the active agent
  /new            start a new conversation
  /history        print the current conversation
  /list           list saved conversations
  /load <id>      load a saved conversation
  /export [file]  export the conversation as Markdown
  /quit           exit`)

	case "/model":
		if len(args) == 0 {
			fmt.Println("model:", svc.CurrentModel())
			return false
		}
		if err := svc.SetModel(args[0]); err != nil {
			fmt.Fprintln(os.Stderr, "error:", err)
		}

	case "/agent":
		if len(args) == 0 {
			fmt.Println("agent:", svc.CurrentAgent())
			return false
		}
		if err := svc.SetAgent(args[0]); err != nil {
			fmt.Fprintln(os.Stderr, "error:", err)
		}

	case "/new":
		if err := svc.NewConversation(); err != nil {
			fmt.Fprintln(os.Stderr, "error:", err)
		} else {
			fmt.Println("started a new conversation")
		}

	case "/history":
		for _, msg := range svc.History() {
			fmt.Printf("%s: %s\n", msg.Role.DisplayName(), msg.Content)
		}

	case "/list":
		if store == nil {
			fmt.Fprintln(os.Stderr, "error: storage is disabled")
			return false
		}
		summaries, err := store.ListConversations()
		if err != nil {
			fmt.Fprintln(os.Stderr, "error:", err)
			return false
		}
		for _, s := range summaries {
			fmt.Printf("%s  %-40s  %d messages  %s\n",
				s.ID[:8], s.Title, s.MessageCount, s.UpdatedAt.Local().Format("2006-01-02 15:04"))
		}

	case "/load":
		if len(args) == 0 {
			fmt.Fprintln(os.Stderr, "usage: /load <id>")
			return false
		}
		id, err := resolveConversationID(store, args[0])
		if err == nil {
			err = svc.LoadConversation(id)
		}
		if err != nil {
			fmt.Fprintln(os.Stderr, "error:", err)
		} else {
			fmt.Printf("loaded conversation (%d messages)\n", svc.MessageCount())
		}

	case "/export":
		exportConversation(svc, store, args)

	default:
		fmt.Fprintf(os.Stderr, "unknown command %s (try /help)\n", cmd)
	}
	return false
}

// resolveConversationID accepts a full ID or an unambiguous prefix.
func resolveConversationID(store *storage.Store, prefix string) (string, error) {
	if store == nil {
		return "", fmt.Errorf("storage is disabled")
	}
	summaries, err := store.ListConversations()
	if err != nil {
		return "", err
	}

	var match string
	for _, s := range summaries {
		if !strings.HasPrefix(s.ID, prefix) {
			continue
		}
		if match != "" {
			return "", fmt.Errorf("ambiguous conversation ID %q", prefix)
		}
		match = s.ID
	}
	if match == "" {
		return "", storage.ErrConversationNotFound
	}
	return match, nil
}

func exportConversation(svc *chat.Service, store *storage.Store, args []string) {
	if store == nil {
		fmt.Fprintln(os.Stderr, "error: storage is disabled")
		return
	}
	id := svc.ConversationID()
	if id == "" {
		fmt.Fprintln(os.Stderr, "error: nothing to export")
		return
	}

	conv, err := store.GetConversation(id)
	if err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		return
	}

	out := "conversation-" + id[:8] + ".md"
	if len(args) > 0 {
		out = args[0]
	}
	if err := os.WriteFile(out, []byte(conv.ExportMarkdown()), 0644); err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		return
	}
	fmt.Println("exported to", out)
}
