package handler

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"

	"sudooom.im.messaging/internal/middleware"
	"sudooom.im.messaging/internal/model"
	"sudooom.im.messaging/internal/service"
	"sudooom.im.messaging/internal/session"
	"sudooom.im.messaging/internal/unread"
	"sudooom.im.messaging/pkg/response"
)

const (
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingPeriod     = (pongWait * 9) / 10
	maxInboundSize = 1024
)

// 未读推送帧类型
const (
	FrameSnapshot = "snapshot"
	FrameState    = "state"
)

// Frame 未读推送帧
type Frame struct {
	Type     string           `json:"type"`
	Snapshot *unread.Snapshot `json:"snapshot,omitempty"`
	Realtime string           `json:"realtime,omitempty"`
	Degraded bool             `json:"degraded"`
}

// clientAction 客户端上行指令
type clientAction struct {
	Action string `json:"action"`
}

// UnreadHandler 未读数接口与实时推送
type UnreadHandler struct {
	convs    *service.ConversationService
	sessions *session.Manager
	upgrader websocket.Upgrader
}

// NewUnreadHandler 创建未读数处理器
func NewUnreadHandler(convs *service.ConversationService, sessions *session.Manager, allowedOrigins []string) *UnreadHandler {
	return &UnreadHandler{
		convs:    convs,
		sessions: sessions,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 4096,
			CheckOrigin:     originChecker(allowedOrigins),
		},
	}
}

// Count godoc
// @Summary  Current unread totals
// @Tags     unread
// @Produce  json
// @Security BearerAuth
// @Success  200 {object} response.Response
// @Router   /api/v1/unread [get]
func (h *UnreadHandler) Count(c *gin.Context) {
	snap, err := h.convs.GetUnreadCount(c.Request.Context(), middleware.GetUserID(c))
	if err != nil {
		response.ErrorFromAppError(c, err)
		return
	}
	response.Success(c, snap)
}

// Stream godoc
// @Summary  Live unread stream over websocket
// @Tags     unread
// @Security BearerAuth
// @Param    token query string false "access token when headers are unavailable"
// @Router   /api/v1/unread/ws [get]
func (h *UnreadHandler) Stream(c *gin.Context) {
	userID := middleware.GetUserID(c)

	ws, err := h.upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		slog.Warn("Websocket upgrade failed", "userId", userID, "error", err)
		return
	}

	sess := h.sessions.Open(userID)
	defer h.sessions.Close(sess.ID)

	conn := newStreamConn(ws)
	unsubscribe := sess.Subscribe(func(snap *unread.Snapshot) {
		conn.push(snap)
	})
	defer unsubscribe()

	// 订阅前可能已有快照
	if snap := sess.Snapshot(); snap != nil {
		conn.push(snap)
	}

	go conn.writeLoop(sess)
	conn.readLoop(sess)
	conn.close()

	slog.Info("Unread stream closed", "sessionId", sess.ID, "userId", userID)
}

// streamConn 单个 WebSocket 连接。快照只保留最新，慢客户端跳过中间状态
type streamConn struct {
	ws      *websocket.Conn
	pending chan *unread.Snapshot
	done    chan struct{}
	once    sync.Once
}

func newStreamConn(ws *websocket.Conn) *streamConn {
	return &streamConn{
		ws:      ws,
		pending: make(chan *unread.Snapshot, 1),
		done:    make(chan struct{}),
	}
}

func (sc *streamConn) push(snap *unread.Snapshot) {
	for {
		select {
		case sc.pending <- snap:
			return
		default:
		}
		select {
		case <-sc.pending:
		default:
		}
	}
}

func (sc *streamConn) close() {
	sc.once.Do(func() {
		close(sc.done)
		_ = sc.ws.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
			time.Now().Add(writeWait))
		_ = sc.ws.Close()
	})
}

func (sc *streamConn) write(frame *Frame) error {
	payload, err := json.Marshal(frame)
	if err != nil {
		return err
	}
	_ = sc.ws.SetWriteDeadline(time.Now().Add(writeWait))
	return sc.ws.WriteMessage(websocket.TextMessage, payload)
}

func (sc *streamConn) writeLoop(sess *session.Session) {
	ticker := time.NewTicker(pingPeriod)
	defer ticker.Stop()
	defer sc.close()

	lastState := ""
	for {
		select {
		case <-sc.done:
			return
		case snap := <-sc.pending:
			frame := &Frame{
				Type:     FrameSnapshot,
				Snapshot: snap,
				Realtime: sess.RealtimeState().String(),
				Degraded: sess.Degraded(),
			}
			lastState = frame.Realtime
			if err := sc.write(frame); err != nil {
				return
			}
		case <-ticker.C:
			if st := sess.RealtimeState().String(); st != lastState {
				lastState = st
				if err := sc.write(&Frame{Type: FrameState, Realtime: st, Degraded: sess.Degraded()}); err != nil {
					return
				}
			}
			_ = sc.ws.SetWriteDeadline(time.Now().Add(writeWait))
			if err := sc.ws.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

func (sc *streamConn) readLoop(sess *session.Session) {
	sc.ws.SetReadLimit(maxInboundSize)
	_ = sc.ws.SetReadDeadline(time.Now().Add(pongWait))
	sc.ws.SetPongHandler(func(string) error {
		return sc.ws.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		_, data, err := sc.ws.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				slog.Warn("Unread stream read error", "sessionId", sess.ID, "error", err)
			}
			return
		}

		var action clientAction
		if err := json.Unmarshal(data, &action); err != nil {
			continue
		}
		switch action.Action {
		case "refresh":
			sess.Trigger("client")
		case "wake":
			sess.Wake()
		}
	}
}

func originChecker(allowed []string) func(r *http.Request) bool {
	return func(r *http.Request) bool {
		origin := r.Header.Get("Origin")
		if origin == "" {
			return true
		}
		for _, o := range allowed {
			if o == "*" || o == origin {
				return true
			}
		}
		return false
	}
}

func memberFromProfile(p *middleware.UserProfile) model.Member {
	return model.Member{
		UserID:      p.UserID,
		DisplayName: p.Nickname,
		AvatarURL:   p.Avatar,
	}
}
