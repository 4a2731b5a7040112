package main

import (
	"context"
	"fmt"
	"os/signal"
	"syscall"

	"github.com/urfave/cli/v2"

	"sharebox/internal/adapter/repository"
	"sharebox/internal/infrastructure/firebase"
	"sharebox/internal/usecase"
	"sharebox/pkg/config"
	"sharebox/pkg/logger"
)

func userFlag() cli.Flag {
	return &cli.StringFlag{
		Name:     "user",
		Aliases:  []string{"u"},
		Usage:    "Firebase uid of the viewer",
		Required: true,
	}
}

// WatchCommand prints the viewer's badge every time it changes.
func WatchCommand() *cli.Command {
	return &cli.Command{
		Name:   "watch",
		Usage:  "Follow a viewer's unread count live",
		Flags:  []cli.Flag{userFlag()},
		Action: runWatch,
	}
}

// MarkReadCommand commits pending read receipts for one conversation once.
func MarkReadCommand() *cli.Command {
	return &cli.Command{
		Name:  "mark-read",
		Usage: "Mark every message the viewer has not read in a conversation as read",
		Flags: []cli.Flag{
			userFlag(),
			&cli.StringFlag{
				Name:     "conversation",
				Aliases:  []string{"c"},
				Usage:    "Request id of the conversation",
				Required: true,
			},
		},
		Action: runMarkRead,
	}
}

type app struct {
	cfg     *config.Config
	clients *firebase.Clients
	chat    *usecase.ChatUseCase
}

func setup(c *cli.Context) (*app, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}
	level := cfg.LogLevel
	if override := c.String("log-level"); override != "" {
		level = override
	}
	logger.Init(level, cfg.Environment)

	clients, err := firebase.NewClients(c.Context, cfg.Firebase)
	if err != nil {
		return nil, err
	}

	identity := firebase.NewFirebaseAuthClient(clients.Auth)
	chat := usecase.NewChatUseCase(
		repository.NewFirestoreConversationRepository(clients.Firestore),
		repository.NewFirestoreUserRepository(clients.Firestore, identity),
		nil,
		usecase.InboxOptions{
			ResubscribeInterval:  cfg.Inbox.ResubscribeInterval,
			ResubscribeBurst:     cfg.Inbox.ResubscribeBurst,
			WatcherWarnThreshold: cfg.Inbox.WatcherWarnThreshold,
		},
	)

	return &app{cfg: cfg, clients: clients, chat: chat}, nil
}

func runWatch(c *cli.Context) error {
	a, err := setup(c)
	if err != nil {
		return err
	}
	defer a.clients.Close()

	ctx, stop := signal.NotifyContext(c.Context, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	updates := make(chan usecase.InboxState, 1)
	inbox, err := a.chat.OpenInbox(c.String("user"), func(state usecase.InboxState) {
		// Keep only the newest state; the printer may lag behind.
		select {
		case <-updates:
		default:
		}
		updates <- state
	})
	if err != nil {
		return err
	}
	defer inbox.Close()

	last := ""
	for {
		select {
		case <-ctx.Done():
			return nil
		case state := <-updates:
			line := fmt.Sprintf("unread=%d conversations=%d stale=%v tallies=%v",
				state.UnreadCount, len(state.Conversations), state.Stale, state.Tallies)
			if line != last {
				fmt.Println(line)
				last = line
			}
		}
	}
}

func runMarkRead(c *cli.Context) error {
	a, err := setup(c)
	if err != nil {
		return err
	}
	defer a.clients.Close()

	ctx, cancel := context.WithCancel(c.Context)
	defer cancel()

	marked, err := a.chat.MarkConversationRead(ctx, c.String("user"), c.String("conversation"))
	if err != nil {
		return err
	}
	fmt.Printf("Marked %d message(s) read in %s\n", marked, c.String("conversation"))
	return nil
}
