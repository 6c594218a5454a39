package rest

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strconv"
	"strings"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Xminent/shiki-server/internal/auth"
	"github.com/Xminent/shiki-server/internal/cache"
	"github.com/Xminent/shiki-server/internal/config"
	"github.com/Xminent/shiki-server/internal/hub"
	"github.com/Xminent/shiki-server/internal/id"
	"github.com/Xminent/shiki-server/internal/model"
	"github.com/Xminent/shiki-server/internal/store"
)

func TestMain(m *testing.M) {
	gin.SetMode(gin.TestMode)
	m.Run()
}

func newTestServer(t *testing.T) *Server {
	t.Helper()

	st, err := store.New(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { _ = st.Close() })

	f := cache.New(st, nil)

	h, err := hub.New(context.Background(), f, auth.NewValidator(f), f)
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)
	go h.Run(ctx)

	gen, err := id.New(1)
	require.NoError(t, err)

	cfg := &config.Config{Addr: ":0", ClientURL: "http://localhost:3000"}
	return New(cfg, h, st, f, gen)
}

func doJSON(t *testing.T, srv *Server, method, path, token string, body any) *httptest.ResponseRecorder {
	t.Helper()

	var reader *bytes.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		require.NoError(t, err)
		reader = bytes.NewReader(raw)
	} else {
		reader = bytes.NewReader(nil)
	}

	req := httptest.NewRequest(method, path, reader)
	req.Header.Set("Content-Type", "application/json")
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}

	rec := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, req)
	return rec
}

// registerAndLogin runs the full account flow and returns the bearer
// token the gateway and the authed routes accept.
func registerAndLogin(t *testing.T, srv *Server) string {
	t.Helper()

	rec := doJSON(t, srv, http.MethodPost, "/auth/register", "", gin.H{
		"email":    "mina@example.com",
		"username": "mina",
		"password": "hunter2hunter2",
	})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	rec = doJSON(t, srv, http.MethodPost, "/auth/login", "", gin.H{
		"email":    "mina@example.com",
		"password": "hunter2hunter2",
	})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	var user model.User
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &user))
	require.NotEmpty(t, user.Token)
	return user.Token
}

func TestRegisterValidation(t *testing.T) {
	srv := newTestServer(t)

	for _, tt := range []struct {
		name string
		body gin.H
	}{
		{name: "bad email", body: gin.H{"email": "nope", "username": "mina", "password": "hunter2hunter2"}},
		{name: "short username", body: gin.H{"email": "a@example.com", "username": "ab", "password": "hunter2hunter2"}},
		{name: "short password", body: gin.H{"email": "a@example.com", "username": "mina", "password": "short"}},
	} {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			rec := doJSON(t, srv, http.MethodPost, "/auth/register", "", tt.body)
			assert.Equal(t, http.StatusBadRequest, rec.Code)
		})
	}
}

func TestRegisterDuplicate(t *testing.T) {
	srv := newTestServer(t)
	registerAndLogin(t, srv)

	rec := doJSON(t, srv, http.MethodPost, "/auth/register", "", gin.H{
		"email":    "mina@example.com",
		"username": "other",
		"password": "hunter2hunter2",
	})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Contains(t, rec.Body.String(), "user already exists")
}

func TestLoginRejectsBadCredentials(t *testing.T) {
	srv := newTestServer(t)
	registerAndLogin(t, srv)

	rec := doJSON(t, srv, http.MethodPost, "/auth/login", "", gin.H{
		"email":    "mina@example.com",
		"password": "wrong password",
	})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Contains(t, rec.Body.String(), "invalid password")

	rec = doJSON(t, srv, http.MethodPost, "/auth/login", "", gin.H{
		"email":    "nobody@example.com",
		"password": "hunter2hunter2",
	})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Contains(t, rec.Body.String(), "invalid credentials")
}

func TestLoginDoesNotLeakPasswordHash(t *testing.T) {
	srv := newTestServer(t)
	registerAndLogin(t, srv)

	rec := doJSON(t, srv, http.MethodPost, "/auth/login", "", gin.H{
		"email":    "mina@example.com",
		"password": "hunter2hunter2",
	})
	require.Equal(t, http.StatusOK, rec.Code)
	assert.NotContains(t, rec.Body.String(), "$2a$")
	assert.NotContains(t, rec.Body.String(), "password")
}

func TestCount(t *testing.T) {
	srv := newTestServer(t)

	rec := doJSON(t, srv, http.MethodGet, "/api/count", "", nil)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "Visitors: 0", rec.Body.String())
}

func TestAuthedRoutesRejectMissingOrBadTokens(t *testing.T) {
	srv := newTestServer(t)

	rec := doJSON(t, srv, http.MethodPost, "/api/channels", "", gin.H{"name": "general"})
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	rec = doJSON(t, srv, http.MethodPost, "/api/channels", "not-a-uuid", gin.H{"name": "general"})
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	req := httptest.NewRequest(http.MethodPost, "/api/channels", bytes.NewReader(nil))
	req.Header.Set("Authorization", "Basic abc")
	rec2 := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec2, req)
	assert.Equal(t, http.StatusUnauthorized, rec2.Code)
}

func TestChannelLifecycle(t *testing.T) {
	srv := newTestServer(t)
	token := registerAndLogin(t, srv)

	rec := doJSON(t, srv, http.MethodGet, "/api/channels", "", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "[]", rec.Body.String())

	rec = doJSON(t, srv, http.MethodPost, "/api/channels", token, gin.H{"name": "general"})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	var created struct {
		ID   int64  `json:"id"`
		Name string `json:"name"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &created))
	assert.NotZero(t, created.ID)
	assert.Equal(t, "general", created.Name)

	rec = doJSON(t, srv, http.MethodGet, "/api/channels", "", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "general")
}

func TestMessageLifecycle(t *testing.T) {
	srv := newTestServer(t)
	token := registerAndLogin(t, srv)

	rec := doJSON(t, srv, http.MethodPost, "/api/channels", token, gin.H{"name": "general"})
	require.Equal(t, http.StatusOK, rec.Code)

	var channel struct {
		ID int64 `json:"id"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &channel))

	path := "/api/channels/" + strconv.FormatInt(channel.ID, 10) + "/messages"

	rec = doJSON(t, srv, http.MethodPost, path, token, gin.H{"content": "hello"})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	rec = doJSON(t, srv, http.MethodGet, path, token, nil)
	require.Equal(t, http.StatusOK, rec.Code)

	var messages []model.Message
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &messages))
	require.Len(t, messages, 1)
	assert.Equal(t, "hello", messages[0].Content)
}

func TestMessageToMissingChannel(t *testing.T) {
	srv := newTestServer(t)
	token := registerAndLogin(t, srv)

	rec := doJSON(t, srv, http.MethodPost, "/api/channels/404/messages", token, gin.H{"content": "hello"})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Contains(t, rec.Body.String(), "channel does not exist")

	rec = doJSON(t, srv, http.MethodPost, "/api/channels/abc/messages", token, gin.H{"content": "hello"})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestJoinChannel(t *testing.T) {
	srv := newTestServer(t)
	token := registerAndLogin(t, srv)

	rec := doJSON(t, srv, http.MethodPost, "/api/channels", token, gin.H{"name": "general"})
	require.Equal(t, http.StatusOK, rec.Code)

	var channel struct {
		ID int64 `json:"id"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &channel))

	rec = doJSON(t, srv, http.MethodPost, "/api/channels/"+strconv.FormatInt(channel.ID, 10)+"/join", token, nil)
	assert.Equal(t, http.StatusOK, rec.Code)

	rec = doJSON(t, srv, http.MethodPost, "/api/channels/404/join", token, nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestUpdateMe(t *testing.T) {
	srv := newTestServer(t)
	token := registerAndLogin(t, srv)

	rec := doJSON(t, srv, http.MethodPatch, "/api/users/me", token, gin.H{
		"username": "renamed",
		"avatar":   "https://cdn.example.com/a.png",
	})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	var updated model.User
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &updated))
	assert.Equal(t, "renamed", updated.Username)
	require.NotNil(t, updated.Avatar)
	assert.Equal(t, "https://cdn.example.com/a.png", *updated.Avatar)

	rec = doJSON(t, srv, http.MethodPatch, "/api/users/me", token, gin.H{"username": "x"})
	assert.Equal(t, http.StatusBadRequest, rec.Code, "username below minimum length")

	rec = doJSON(t, srv, http.MethodPatch, "/api/users/me", "", gin.H{"username": "renamed"})
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestGatewayEndToEnd(t *testing.T) {
	srv := newTestServer(t)
	token := registerAndLogin(t, srv)

	ts := httptest.NewServer(srv.Handler())
	t.Cleanup(ts.Close)

	url := "ws" + strings.TrimPrefix(ts.URL, "http") + "/gateway"
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	t.Cleanup(func() { _ = conn.Close() })

	_, data, err := conn.ReadMessage()
	require.NoError(t, err)
	assert.JSONEq(t, `{"op":4,"d":""}`, string(data), "greeting")

	frame, err := json.Marshal(gin.H{"op": 0, "d": gin.H{"token": token}})
	require.NoError(t, err)
	require.NoError(t, conn.WriteMessage(websocket.TextMessage, frame))

	_, data, err = conn.ReadMessage()
	require.NoError(t, err)
	assert.JSONEq(t, `{"op":4,"d":"`+token+`"}`, string(data), "token echo")

	_, data, err = conn.ReadMessage()
	require.NoError(t, err)

	var ready struct {
		Op int `json:"op"`
		D  struct {
			User struct {
				Username string `json:"username"`
			} `json:"user"`
			Users []json.RawMessage `json:"users"`
		} `json:"d"`
	}
	require.NoError(t, json.Unmarshal(data, &ready))
	assert.Equal(t, 1, ready.Op)
	assert.Equal(t, "mina", ready.D.User.Username)
	assert.Len(t, ready.D.Users, 1)

	rec := doJSON(t, srv, http.MethodGet, "/api/count", "", nil)
	assert.Equal(t, "Visitors: 1", rec.Body.String())
}
