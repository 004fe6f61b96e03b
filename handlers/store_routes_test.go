package handlers

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"duel-arena/models"
	"duel-arena/services"
	"duel-arena/store"

	"github.com/gofiber/fiber/v2"
	"github.com/google/uuid"
	"github.com/jonboulle/clockwork"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

type testServer struct {
	app  *fiber.App
	conn *store.MemoryConn
}

func newTestServer(t *testing.T) *testServer {
	t.Helper()
	dsn := fmt.Sprintf("file:%s?mode=memory&cache=shared", uuid.NewString())
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{Logger: logger.Default.LogMode(logger.Silent)})
	require.NoError(t, err)
	sqlDB, err := db.DB()
	require.NoError(t, err)
	sqlDB.SetMaxOpenConns(1)
	t.Cleanup(func() { sqlDB.Close() })
	require.NoError(t, db.AutoMigrate(&models.StoreSession{}, &models.DisconnectHook{}))

	clock := clockwork.NewRealClock()
	conn := store.NewMemory(clock).Connect()
	t.Cleanup(func() { conn.Close() })

	storeService := services.NewStoreService(conn)
	storeService.KeepAlive = 50 * time.Millisecond
	app := fiber.New()
	SetupStoreRoutes(app, storeService, services.NewSessionService(db, conn, clock, time.Minute))
	return &testServer{app: app, conn: conn}
}

func (s *testServer) do(t *testing.T, method, target, body string, header map[string]string) (int, map[string]interface{}) {
	t.Helper()
	var rd io.Reader
	if body != "" {
		rd = strings.NewReader(body)
	}
	req := httptest.NewRequest(method, target, rd)
	for k, v := range header {
		req.Header.Set(k, v)
	}
	resp, err := s.app.Test(req, -1)
	require.NoError(t, err)
	defer resp.Body.Close()
	data, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	out := map[string]interface{}{}
	if len(data) > 0 {
		require.NoError(t, json.Unmarshal(data, &out), string(data))
	}
	return resp.StatusCode, out
}

func TestStoreValueRoutes(t *testing.T) {
	s := newTestServer(t)

	code, _ := s.do(t, http.MethodPut, "/store/value?path=balances/alice/coins", `100`, nil)
	require.Equal(t, http.StatusOK, code)

	code, body := s.do(t, http.MethodGet, "/store/value?path=balances/alice/coins", "", nil)
	require.Equal(t, http.StatusOK, code)
	assert.EqualValues(t, 100, body["value"])
	version := int64(body["version"].(float64))
	assert.NotZero(t, version)

	stale := map[string]string{"If-Match": fmt.Sprint(version + 1)}
	code, _ = s.do(t, http.MethodPut, "/store/value?path=balances/alice/coins", `90`, stale)
	assert.Equal(t, http.StatusPreconditionFailed, code)

	current := map[string]string{"If-Match": fmt.Sprint(version)}
	code, body = s.do(t, http.MethodPut, "/store/value?path=balances/alice/coins", `80`, current)
	require.Equal(t, http.StatusOK, code)
	assert.NotEqual(t, float64(version), body["version"])

	snap, err := s.conn.Get(context.Background(), "balances/alice/coins")
	require.NoError(t, err)
	assert.JSONEq(t, `80`, string(snap.Value))

	code, _ = s.do(t, http.MethodPut, "/store/value?path=balances/alice/coins", `{oops`, nil)
	assert.Equal(t, http.StatusBadRequest, code)
	code, _ = s.do(t, http.MethodGet, "/store/value?path=balances//coins", "", nil)
	assert.Equal(t, http.StatusBadRequest, code)
	code, _ = s.do(t, http.MethodPut, "/store/value?path=a", `1`, map[string]string{"If-Match": "soon"})
	assert.Equal(t, http.StatusBadRequest, code)

	code, _ = s.do(t, http.MethodDelete, "/store/value?path=balances/alice/coins", "", nil)
	require.Equal(t, http.StatusOK, code)
	code, body = s.do(t, http.MethodGet, "/store/value?path=balances/alice/coins", "", nil)
	require.Equal(t, http.StatusOK, code)
	assert.Nil(t, body["value"])
}

func TestStorePushRoute(t *testing.T) {
	s := newTestServer(t)

	code, body := s.do(t, http.MethodPost, "/store/push?path=matches", `{"status":"pending"}`, nil)
	require.Equal(t, http.StatusCreated, code)
	key, _ := body["key"].(string)
	require.NotEmpty(t, key)

	code, body = s.do(t, http.MethodGet, "/store/value?path=matches", "", nil)
	require.Equal(t, http.StatusOK, code)
	children, _ := body["children"].(map[string]interface{})
	assert.Contains(t, children, key)
}

func TestSessionRoutes(t *testing.T) {
	s := newTestServer(t)
	ctx := context.Background()
	require.NoError(t, s.conn.Set(ctx, "presence/alice", json.RawMessage(`{"playerId":"alice"}`)))

	code, _ := s.do(t, http.MethodPost, "/sessions", "", nil)
	assert.Equal(t, http.StatusUnauthorized, code)

	player := map[string]string{"X-Player-ID": "alice"}
	code, body := s.do(t, http.MethodPost, "/sessions", "", player)
	require.Equal(t, http.StatusCreated, code)
	id, _ := body["session_id"].(string)
	require.NotEmpty(t, id)
	assert.EqualValues(t, 60, body["ttl_seconds"])

	code, _ = s.do(t, http.MethodPost, "/sessions/"+id+"/heartbeat", "", player)
	assert.Equal(t, http.StatusNoContent, code)
	code, _ = s.do(t, http.MethodPost, "/sessions/missing/heartbeat", "", player)
	assert.Equal(t, http.StatusNotFound, code)

	code, _ = s.do(t, http.MethodPost, "/sessions/"+id+"/on-disconnect?path=presence/alice", "", player)
	assert.Equal(t, http.StatusNoContent, code)
	code, _ = s.do(t, http.MethodPost, "/sessions/"+id+"/on-disconnect?path=presence/$x", "", player)
	assert.Equal(t, http.StatusBadRequest, code)

	code, body = s.do(t, http.MethodDelete, "/sessions/"+id, "", player)
	require.Equal(t, http.StatusOK, code)
	assert.EqualValues(t, 1, body["removed"])

	snap, err := s.conn.Get(ctx, "presence/alice")
	require.NoError(t, err)
	assert.False(t, snap.Exists())
}
