package notify

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hackgods/booking-settlement-engine/internal/audit"
)

func TestRegistryPublishReachesConnectedUser(t *testing.T) {
	reg := NewRegistry(zerolog.Nop())
	defer reg.Close()
	userID := uuid.New()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		reg.ServeWS(w, r, userID, audit.RolePatient)
	}))
	defer srv.Close()

	conn, _, err := websocket.DefaultDialer.Dial("ws"+strings.TrimPrefix(srv.URL, "http"), nil)
	require.NoError(t, err)
	defer conn.Close()

	require.Eventually(t, func() bool { return reg.Count(audit.RolePatient, userID) == 1 }, time.Second, 10*time.Millisecond)

	assert.Zero(t, reg.Publish(userID, audit.RoleProvider, map[string]string{"type": "booking.new"}))
	assert.Equal(t, 1, reg.Publish(userID, audit.RolePatient, map[string]string{"type": "booking.confirmed"}))

	require.NoError(t, conn.SetReadDeadline(time.Now().Add(2*time.Second)))
	_, data, err := conn.ReadMessage()
	require.NoError(t, err)

	var msg map[string]string
	require.NoError(t, json.Unmarshal(data, &msg))
	assert.Equal(t, "booking.confirmed", msg["type"])
}

func TestRegistryRemovesClosedConnection(t *testing.T) {
	reg := NewRegistry(zerolog.Nop())
	userID := uuid.New()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		reg.ServeWS(w, r, userID, audit.RoleProvider)
	}))
	defer srv.Close()

	conn, _, err := websocket.DefaultDialer.Dial("ws"+strings.TrimPrefix(srv.URL, "http"), nil)
	require.NoError(t, err)
	require.Eventually(t, func() bool { return reg.Count(audit.RoleProvider, userID) == 1 }, time.Second, 10*time.Millisecond)

	require.NoError(t, conn.Close())
	assert.Eventually(t, func() bool { return reg.Count(audit.RoleProvider, userID) == 0 }, 2*time.Second, 10*time.Millisecond)
}
