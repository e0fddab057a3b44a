package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/gotd/td/tg"
	"github.com/joho/godotenv"

	"github.com/blockedby/tg-autoforwarder/internal/config"
	"github.com/blockedby/tg-autoforwarder/internal/database"
	"github.com/blockedby/tg-autoforwarder/internal/logger"
	"github.com/blockedby/tg-autoforwarder/internal/telegram"
)

// list-chats prints the account's dialogs with the identifiers accepted in
// the chats file, to help pick source chats and the destination.
func main() {
	_ = godotenv.Load()

	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintln(os.Stderr, "failed to load config:", err)
		os.Exit(1)
	}
	if err := logger.Init("warn", ""); err != nil {
		fmt.Fprintln(os.Stderr, "failed to init logger:", err)
		os.Exit(1)
	}

	db, err := database.New(cfg.SessionDB)
	if err != nil {
		fmt.Fprintln(os.Stderr, "failed to open session database:", err)
		os.Exit(1)
	}
	defer db.Close()

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	manager := telegram.NewManager(cfg, db.GORM)
	if err := manager.Init(ctx); err != nil || manager.GetStatus() != telegram.StatusReady {
		fmt.Fprintln(os.Stderr, "telegram client not authorized, run tg-auth first")
		os.Exit(1)
	}
	defer manager.Stop()

	client := telegram.NewClient(manager, nil)
	api, err := client.API()
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}

	dialogs, err := api.MessagesGetDialogs(ctx, &tg.MessagesGetDialogsRequest{
		OffsetPeer: &tg.InputPeerEmpty{},
		Limit:      100,
	})
	if err != nil {
		fmt.Fprintln(os.Stderr, "failed to fetch dialogs:", err)
		os.Exit(1)
	}

	fmt.Printf("%-16s %-8s %s\n", "ID", "KIND", "TITLE")
	printDialogs(dialogs)
}

func printDialogs(raw tg.MessagesDialogsClass) {
	var chats []tg.ChatClass
	var users []tg.UserClass
	switch d := raw.(type) {
	case *tg.MessagesDialogs:
		chats, users = d.Chats, d.Users
	case *tg.MessagesDialogsSlice:
		chats, users = d.Chats, d.Users
	default:
		return
	}

	for _, raw := range chats {
		switch ch := raw.(type) {
		case *tg.Channel:
			kind := "channel"
			if ch.Megagroup {
				kind = "supergroup"
			}
			fmt.Printf("%-16d %-8s %s\n", ch.ID, kind, ch.Title)
		case *tg.Chat:
			fmt.Printf("%-16d %-8s %s\n", ch.ID, "group", ch.Title)
		}
	}
	for _, raw := range users {
		if u, ok := raw.(*tg.User); ok && !u.Bot && !u.Self {
			name := u.Username
			if name == "" {
				name = u.FirstName + " " + u.LastName
			}
			fmt.Printf("%-16d %-8s %s\n", u.ID, "private", name)
		}
	}
}
