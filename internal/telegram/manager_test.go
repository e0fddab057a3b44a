package telegram

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"

	"github.com/celestix/gotgproto"
	"github.com/glebarez/sqlite"
	"github.com/gotd/td/session"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"

	"github.com/blockedby/tg-autoforwarder/internal/config"
)

func newTestDB(t *testing.T) *gorm.DB {
	t.Helper()
	db, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{})
	require.NoError(t, err)
	db.Exec("CREATE TABLE sessions (version integer primary key, data blob)")
	return db
}

func TestManager_Init_NoSession_Unauthorized(t *testing.T) {
	db := newTestDB(t)
	m := NewManager(&config.Config{TGApiID: 1, TGApiHash: "h"}, db)

	factoryCalled := false
	m.SetClientFactory(func(ctx context.Context, cfg *config.Config, db *gorm.DB) (*gotgproto.Client, error) {
		factoryCalled = true
		return nil, errors.New("should not be called")
	})

	require.NoError(t, m.Init(context.Background()))
	assert.Equal(t, StatusUnauthorized, m.GetStatus())
	assert.False(t, factoryCalled, "no session and no phone must not attempt a connect")
}

func TestManager_Init_FactoryError_Unauthorized(t *testing.T) {
	db := newTestDB(t)
	db.Exec("INSERT INTO sessions (version, data) VALUES (1, ?)", []byte(`{"mock":"data"}`))

	m := NewManager(&config.Config{TGApiID: 1, TGApiHash: "h"}, db)
	m.SetClientFactory(func(ctx context.Context, cfg *config.Config, db *gorm.DB) (*gotgproto.Client, error) {
		return nil, errors.New("factory failure")
	})

	require.NoError(t, m.Init(context.Background()), "a connect failure downgrades, it is not fatal")
	assert.Equal(t, StatusUnauthorized, m.GetStatus())
}

func TestManager_StartQR_FactoryError(t *testing.T) {
	db := newTestDB(t)
	m := NewManager(&config.Config{TGApiID: 1, TGApiHash: "h"}, db)

	m.SetQRClientFactory(func(cfg *config.Config) (*QRClientBundle, error) {
		return nil, errors.New("no network")
	})

	var codeShown bool
	err := m.StartQR(context.Background(), func(url string) { codeShown = true })
	require.Error(t, err)
	assert.Contains(t, err.Error(), "no network")
	assert.False(t, codeShown)
	assert.False(t, m.IsQRInProgress(), "in-progress flag must clear on failure")
}

func TestManager_GetStatus_Concurrent(t *testing.T) {
	m := NewManager(&config.Config{}, newTestDB(t))

	start := make(chan struct{})
	var wg sync.WaitGroup
	for i := 0; i < 100; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			<-start
			m.GetStatus()
		}()
	}
	close(start)
	wg.Wait()
}

func TestManager_Stop_WithoutClient(t *testing.T) {
	m := NewManager(&config.Config{}, newTestDB(t))
	assert.NotPanics(t, func() { m.Stop() })
}

func TestGotgprotoSession_RoundTrip(t *testing.T) {
	input := &session.Data{
		DC:      2,
		Addr:    "1.2.3.4:443",
		AuthKey: []byte("test-key-32-bytes-long-abc-12345"),
	}

	sess, err := gotgprotoSession(input)
	require.NoError(t, err)

	var restored session.Data
	require.NoError(t, json.Unmarshal(sess.Data, &restored))
	assert.Equal(t, input.DC, restored.DC)
	assert.Equal(t, input.Addr, restored.Addr)
	assert.Equal(t, input.AuthKey, restored.AuthKey)
}

func TestGotgprotoSession_Nil(t *testing.T) {
	_, err := gotgprotoSession(nil)
	assert.Error(t, err)
}
