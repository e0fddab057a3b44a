package telegram

import (
	"encoding/json"
	"fmt"

	"github.com/celestix/gotgproto/storage"
	"github.com/gotd/td/session"
	"github.com/gotd/td/telegram"
	"github.com/gotd/td/tg"

	"github.com/blockedby/tg-autoforwarder/internal/config"
)

// QRClientBundle bundles the raw gotd client with the pieces the QR flow
// needs: the dispatcher that receives the login token updates and the
// in-memory storage the fresh session lands in before being persisted.
type QRClientBundle struct {
	Client     *telegram.Client
	Dispatcher tg.UpdateDispatcher
	Storage    *session.StorageMemory
}

// NewQRClient builds a bare gotd client for the QR login flow. gotgproto's
// own client is unsuitable here: it insists on interactive terminal auth,
// while QR login only needs the update stream and a throwaway session store.
func NewQRClient(cfg *config.Config) (*QRClientBundle, error) {
	mem := &session.StorageMemory{}
	dispatcher := tg.NewUpdateDispatcher()

	return &QRClientBundle{
		Client: telegram.NewClient(cfg.TGApiID, cfg.TGApiHash, telegram.Options{
			SessionStorage: mem,
			UpdateHandler:  &dispatcher,
		}),
		Dispatcher: dispatcher,
		Storage:    mem,
	}, nil
}

// gotgprotoSession wraps raw gotd session data in the record gotgproto reads
// from its sessions table, so a QR-obtained session is usable by the daemon.
func gotgprotoSession(data *session.Data) (*storage.Session, error) {
	if data == nil {
		return nil, fmt.Errorf("session data is nil")
	}

	raw, err := json.Marshal(data)
	if err != nil {
		return nil, fmt.Errorf("marshal session data: %w", err)
	}

	return &storage.Session{
		Version: storage.LatestVersion,
		Data:    raw,
	}, nil
}
