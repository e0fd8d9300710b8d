package handler

import (
	"bytes"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	appErrors "sudooom.im.messaging/internal/errors"
	"sudooom.im.messaging/internal/jwt"
	"sudooom.im.messaging/internal/middleware"
	"sudooom.im.messaging/internal/model"
	"sudooom.im.messaging/internal/realtime"
	"sudooom.im.messaging/internal/repository"
	"sudooom.im.messaging/internal/service"
	"sudooom.im.messaging/internal/session"
	"sudooom.im.messaging/internal/snowflake"
	"sudooom.im.messaging/internal/unread"
)

const (
	alice int64 = 1001
	bob   int64 = 1002
	carol int64 = 1003
)

type envelope struct {
	Code    int             `json:"code"`
	Message string          `json:"message"`
	Data    json.RawMessage `json:"data"`
}

type apiEnv struct {
	engine   *gin.Engine
	jwt      *jwt.Service
	hub      *realtime.Hub
	sessions *session.Manager
}

func newAPIEnv(t *testing.T) *apiEnv {
	t.Helper()
	gin.SetMode(gin.TestMode)

	node, err := snowflake.NewNode(3)
	require.NoError(t, err)

	store := repository.NewMemoryStore()
	hub := realtime.NewHub()
	convs := service.NewConversationService(store, hub, node)
	receipts := service.NewReadReceiptService(store, hub)
	messages := service.NewMessageService(store, hub, node)
	sessions := session.NewManager(hub, convs, session.Config{
		RetryWait:        20 * time.Millisecond,
		FallbackInterval: 50 * time.Millisecond,
		SafetyInterval:   time.Hour,
		FetchTimeout:     time.Second,
	})
	t.Cleanup(sessions.Shutdown)

	jwtService := jwt.NewService("handler-test", time.Hour)

	convH := NewConversationHandler(convs, receipts, sessions)
	msgH := NewMessageHandler(messages, sessions)
	unreadH := NewUnreadHandler(convs, sessions, []string{"*"})

	r := gin.New()
	r.Use(middleware.RequestCache())
	v1 := r.Group("/api/v1", middleware.TokenAuth(jwtService, nil))
	v1.GET("/conversations", convH.List)
	v1.POST("/conversations", convH.Create)
	v1.GET("/conversations/:id/participants", convH.Participants)
	v1.DELETE("/conversations/:id/participants/me", convH.Leave)
	v1.POST("/conversations/:id/read", convH.MarkRead)
	v1.POST("/conversations/:id/delivered", convH.MarkDelivered)
	v1.GET("/conversations/:id/messages", msgH.History)
	v1.POST("/conversations/:id/messages", msgH.Send)
	v1.DELETE("/messages/:id", msgH.Delete)
	v1.GET("/unread", unreadH.Count)
	v1.GET("/unread/ws", unreadH.Stream)

	return &apiEnv{engine: r, jwt: jwtService, hub: hub, sessions: sessions}
}

func (e *apiEnv) token(t *testing.T, userID int64) string {
	t.Helper()
	tok, _, err := e.jwt.IssueAccessToken(userID, "test-device", jwt.PlatformWeb)
	require.NoError(t, err)
	return tok
}

func (e *apiEnv) call(t *testing.T, userID int64, method, path string, body interface{}) (int, envelope) {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Authorization", "Bearer "+e.token(t, userID))
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	w := httptest.NewRecorder()
	e.engine.ServeHTTP(w, req)

	var env envelope
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &env), w.Body.String())
	return w.Code, env
}

func (e *apiEnv) createConversation(t *testing.T, creator int64, isGroup bool, members ...int64) int64 {
	t.Helper()
	list := make([]map[string]string, 0, len(members))
	for _, m := range members {
		list = append(list, map[string]string{"user_id": fmt.Sprint(m)})
	}
	status, env := e.call(t, creator, http.MethodPost, "/api/v1/conversations", gin.H{
		"is_group": isGroup,
		"members":  list,
	})
	require.Equal(t, http.StatusOK, status, env.Message)

	var conv model.Conversation
	require.NoError(t, json.Unmarshal(env.Data, &conv))
	require.NotZero(t, conv.ID)
	return conv.ID
}

func (e *apiEnv) send(t *testing.T, sender, convID int64, content string) *model.Message {
	t.Helper()
	status, env := e.call(t, sender, http.MethodPost,
		fmt.Sprintf("/api/v1/conversations/%d/messages", convID),
		gin.H{"content": content, "type": "text"})
	require.Equal(t, http.StatusOK, status, env.Message)

	var msg model.Message
	require.NoError(t, json.Unmarshal(env.Data, &msg))
	return &msg
}

func (e *apiEnv) unreadTotal(t *testing.T, userID int64) int {
	t.Helper()
	status, env := e.call(t, userID, http.MethodGet, "/api/v1/unread", nil)
	require.Equal(t, http.StatusOK, status)

	var snap unread.Snapshot
	require.NoError(t, json.Unmarshal(env.Data, &snap))
	return snap.Total
}

func TestUnreadFlow_SendThenRead(t *testing.T) {
	e := newAPIEnv(t)
	convID := e.createConversation(t, alice, false, bob)

	e.send(t, alice, convID, "hello")
	e.send(t, alice, convID, "are you there?")

	assert.Equal(t, 2, e.unreadTotal(t, bob))
	assert.Equal(t, 0, e.unreadTotal(t, alice))

	status, env := e.call(t, bob, http.MethodPost, fmt.Sprintf("/api/v1/conversations/%d/read", convID), nil)
	require.Equal(t, http.StatusOK, status, env.Message)
	assert.Equal(t, 0, e.unreadTotal(t, bob))

	// 会话列表中的未读数一致
	_, env = e.call(t, bob, http.MethodGet, "/api/v1/conversations", nil)
	var list struct {
		List []model.ConversationSummary `json:"list"`
	}
	require.NoError(t, json.Unmarshal(env.Data, &list))
	require.Len(t, list.List, 1)
	assert.Equal(t, 0, list.List[0].UnreadCount)
	assert.Equal(t, "are you there?", list.List[0].LastMessagePreview)
}

func TestCreate_DirectConversationIsReused(t *testing.T) {
	e := newAPIEnv(t)
	first := e.createConversation(t, alice, false, bob)
	second := e.createConversation(t, bob, false, alice)
	assert.Equal(t, first, second)
}

func TestCreate_NotEnoughMembers(t *testing.T) {
	e := newAPIEnv(t)
	status, env := e.call(t, alice, http.MethodPost, "/api/v1/conversations", gin.H{
		"is_group": true,
		"members":  []gin.H{{"user_id": fmt.Sprint(alice)}},
	})
	assert.Equal(t, http.StatusBadRequest, status)
	assert.Equal(t, appErrors.CodeNotEnoughMembers, env.Code)
}

func TestErrorMapping(t *testing.T) {
	e := newAPIEnv(t)
	convID := e.createConversation(t, alice, true, bob)
	msg := e.send(t, alice, convID, "mine")

	tests := []struct {
		name   string
		user   int64
		method string
		path   string
		status int
		code   int
	}{
		{"malformed id", alice, http.MethodGet, "/api/v1/conversations/abc/participants", http.StatusBadRequest, appErrors.CodeInvalidParams},
		{"unknown conversation", alice, http.MethodGet, "/api/v1/conversations/42/participants", http.StatusNotFound, appErrors.CodeConversationNotFound},
		{"not a member", carol, http.MethodGet, fmt.Sprintf("/api/v1/conversations/%d/participants", convID), http.StatusForbidden, appErrors.CodeForbidden},
		{"not a member reads", carol, http.MethodPost, fmt.Sprintf("/api/v1/conversations/%d/read", convID), http.StatusForbidden, appErrors.CodeForbidden},
		{"delete someone else's", bob, http.MethodDelete, fmt.Sprintf("/api/v1/messages/%d", msg.ID), http.StatusForbidden, appErrors.CodeForbidden},
		{"delete unknown", alice, http.MethodDelete, "/api/v1/messages/99", http.StatusNotFound, appErrors.CodeMessageNotFound},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			status, env := e.call(t, tt.user, tt.method, tt.path, nil)
			assert.Equal(t, tt.status, status)
			assert.Equal(t, tt.code, env.Code)
		})
	}
}

func TestDeleteAndHistory(t *testing.T) {
	e := newAPIEnv(t)
	convID := e.createConversation(t, alice, true, bob, carol)

	first := e.send(t, alice, convID, "one")
	e.send(t, bob, convID, "two")
	e.send(t, alice, convID, "three")

	status, _ := e.call(t, alice, http.MethodDelete, fmt.Sprintf("/api/v1/messages/%d", first.ID), nil)
	require.Equal(t, http.StatusOK, status)

	_, env := e.call(t, carol, http.MethodGet, fmt.Sprintf("/api/v1/conversations/%d/messages?limit=10", convID), nil)
	var page struct {
		List []model.Message `json:"list"`
	}
	require.NoError(t, json.Unmarshal(env.Data, &page))
	require.Len(t, page.List, 3)
	assert.True(t, page.List[0].IsDeleted)
	assert.Empty(t, page.List[0].Content)
	assert.Equal(t, "three", page.List[2].Content)

	// 已删除的消息不计入未读
	assert.Equal(t, 2, e.unreadTotal(t, carol))
}

func TestHistory_RejectsCursorFromOtherConversation(t *testing.T) {
	e := newAPIEnv(t)
	mine := e.createConversation(t, alice, false, bob)
	theirs := e.createConversation(t, alice, false, carol)
	e.send(t, alice, mine, "hi bob")
	foreign := e.send(t, alice, theirs, "hi carol")

	status, env := e.call(t, bob, http.MethodGet,
		fmt.Sprintf("/api/v1/conversations/%d/messages?before=%d", mine, foreign.ID), nil)
	assert.Equal(t, http.StatusBadRequest, status)
	assert.Equal(t, appErrors.CodeInvalidParams, env.Code)
}

func TestLeave(t *testing.T) {
	e := newAPIEnv(t)
	convID := e.createConversation(t, alice, true, bob, carol)
	e.send(t, alice, convID, "bye soon")
	require.Equal(t, 1, e.unreadTotal(t, carol))

	status, _ := e.call(t, carol, http.MethodDelete, fmt.Sprintf("/api/v1/conversations/%d/participants/me", convID), nil)
	require.Equal(t, http.StatusOK, status)
	assert.Equal(t, 0, e.unreadTotal(t, carol))

	_, env := e.call(t, alice, http.MethodGet, fmt.Sprintf("/api/v1/conversations/%d/participants", convID), nil)
	var list struct {
		List []model.Participant `json:"list"`
	}
	require.NoError(t, json.Unmarshal(env.Data, &list))
	assert.Len(t, list.List, 2)
}

func TestMarkDelivered(t *testing.T) {
	e := newAPIEnv(t)
	convID := e.createConversation(t, alice, false, bob)
	e.send(t, alice, convID, "ping")

	status, env := e.call(t, bob, http.MethodPost, fmt.Sprintf("/api/v1/conversations/%d/delivered", convID), nil)
	require.Equal(t, http.StatusOK, status)
	var out struct {
		Updated int64 `json:"updated"`
	}
	require.NoError(t, json.Unmarshal(env.Data, &out))
	assert.Equal(t, int64(1), out.Updated)
}

func TestUnauthenticated(t *testing.T) {
	e := newAPIEnv(t)
	w := httptest.NewRecorder()
	e.engine.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/api/v1/unread", nil))
	assert.Equal(t, http.StatusUnauthorized, w.Code)
}

func readSnapshotUntil(t *testing.T, ws *websocket.Conn, want int) *Frame {
	t.Helper()
	deadline := time.Now().Add(3 * time.Second)
	for {
		require.NoError(t, ws.SetReadDeadline(deadline))
		var frame Frame
		require.NoError(t, ws.ReadJSON(&frame))
		if frame.Type == FrameSnapshot && frame.Snapshot != nil && frame.Snapshot.Total == want {
			return &frame
		}
	}
}

func TestStream_PushesSnapshots(t *testing.T) {
	e := newAPIEnv(t)
	srv := httptest.NewServer(e.engine)
	defer srv.Close()

	convID := e.createConversation(t, alice, false, bob)

	url := strings.Replace(srv.URL, "http", "ws", 1) + "/api/v1/unread/ws?token=" + e.token(t, bob)
	ws, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	defer ws.Close()

	initial := readSnapshotUntil(t, ws, 0)
	assert.Equal(t, bob, initial.Snapshot.UserID)
	assert.Equal(t, 1, e.sessions.Count())

	e.send(t, alice, convID, "first")
	e.send(t, alice, convID, "second")
	frame := readSnapshotUntil(t, ws, 2)
	assert.Equal(t, 2, frame.Snapshot.Unread(convID))

	status, _ := e.call(t, bob, http.MethodPost, fmt.Sprintf("/api/v1/conversations/%d/read", convID), nil)
	require.Equal(t, http.StatusOK, status)
	readSnapshotUntil(t, ws, 0)

	require.NoError(t, ws.WriteJSON(clientAction{Action: "refresh"}))
	require.NoError(t, ws.Close())
	assert.Eventually(t, func() bool { return e.sessions.Count() == 0 }, 3*time.Second, 10*time.Millisecond)
}

func TestStream_HealsAfterRealtimeOutage(t *testing.T) {
	e := newAPIEnv(t)
	srv := httptest.NewServer(e.engine)
	defer srv.Close()

	convID := e.createConversation(t, alice, false, bob)

	url := strings.Replace(srv.URL, "http", "ws", 1) + "/api/v1/unread/ws?token=" + e.token(t, bob)
	ws, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	defer ws.Close()
	readSnapshotUntil(t, ws, 0)

	e.hub.Disconnect()
	e.send(t, alice, convID, "lost notification")
	readSnapshotUntil(t, ws, 1)

	e.hub.Reconnect()
	e.send(t, alice, convID, "live again")
	readSnapshotUntil(t, ws, 2)
}

func TestOriginChecker(t *testing.T) {
	check := originChecker([]string{"https://app.example.com"})

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	assert.True(t, check(req))

	req.Header.Set("Origin", "https://app.example.com")
	assert.True(t, check(req))

	req.Header.Set("Origin", "https://evil.example.com")
	assert.False(t, check(req))
}

func TestStreamConn_PushKeepsLatest(t *testing.T) {
	sc := &streamConn{pending: make(chan *unread.Snapshot, 1)}
	for i := 1; i <= 5; i++ {
		sc.push(&unread.Snapshot{Total: i})
	}
	got := <-sc.pending
	assert.Equal(t, 5, got.Total)
}
