package main

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mcdev12/codeclash/go/internal/api"
	"github.com/mcdev12/codeclash/go/internal/config"
	"github.com/mcdev12/codeclash/go/internal/roomsync"
	"github.com/mcdev12/codeclash/go/internal/session"
)

func TestFollow_ReturnsSyncFailure(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusNotFound)
		_, _ = w.Write([]byte(`{"message":"room not found"}`))
	}))
	defer srv.Close()

	sessions := session.NewManager(session.NewMemoryHub(), session.DefaultConfig())
	require.NoError(t, sessions.Connect(context.Background(), "memory://"))
	services := &Services{
		Sessions: sessions,
		API:      api.NewClient(srv.URL),
	}
	services.Sync = roomsync.NewSynchronizer(services.API, sessions, roomsync.Config{
		TickInterval: time.Second,
		Clock:        clockwork.NewFakeClock(),
	})
	defer services.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	err := follow(ctx, services, config.RoomConfig{ID: "r1"})
	assert.ErrorIs(t, err, api.ErrRoomNotFound)
	assert.NoError(t, ctx.Err(), "the failure is reported before shutdown")
}

func TestRun_ReturnsSetupFailure(t *testing.T) {
	srv := httptest.NewServer(http.NotFoundHandler())
	endpoint := "ws" + srv.URL[len("http"):] + "/ws"
	srv.Close()

	cfg := config.Default()
	cfg.Session.Endpoint = endpoint
	cfg.Session.DialTimeout = time.Second
	cfg.Room.ID = "r1"

	err := run(context.Background(), &cfg)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "failed to set up services")
}
