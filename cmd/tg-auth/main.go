package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/joho/godotenv"
	"github.com/mdp/qrterminal/v3"

	"github.com/blockedby/tg-autoforwarder/internal/config"
	"github.com/blockedby/tg-autoforwarder/internal/database"
	"github.com/blockedby/tg-autoforwarder/internal/logger"
	"github.com/blockedby/tg-autoforwarder/internal/telegram"
)

// tg-auth performs the QR login flow and stores the resulting session in the
// forwarder's session database. Run it once before starting the daemon.
func main() {
	_ = godotenv.Load()

	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintln(os.Stderr, "failed to load config:", err)
		os.Exit(1)
	}
	if err := logger.Init(cfg.LogLevel, ""); err != nil {
		fmt.Fprintln(os.Stderr, "failed to init logger:", err)
		os.Exit(1)
	}
	if cfg.TGApiID == 0 || cfg.TGApiHash == "" {
		fmt.Fprintln(os.Stderr, "TG_API_ID and TG_API_HASH are required")
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

	fmt.Println("=== telegram auth tool ===")
	fmt.Println("scan the QR code with the Telegram app:")
	fmt.Println("Settings -> Devices -> Link Desktop Device")
	fmt.Println()

	err = manager.StartQR(ctx, func(url string) {
		qrterminal.GenerateHalfBlock(url, qrterminal.L, os.Stdout)
		fmt.Println()
	})
	if err != nil {
		fmt.Fprintln(os.Stderr, "QR login failed:", err)
		os.Exit(1)
	}

	fmt.Println("login successful, session saved to", cfg.SessionDB)
	manager.Stop()
}
