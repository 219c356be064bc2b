package chat

import (
	"context"
	"net/http"
	"time"

	"ChatX/logger"
	chatsrv "ChatX/module/chat/service"
	usersrv "ChatX/module/user/service"
	syncsrv "ChatX/service/sync"
	"ChatX/tools/errs"
	ids "ChatX/tools/ids"
	"ChatX/tools/safe"
	jwtlib "ChatX/tools/security"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  4096,
	WriteBufferSize: 4096,
	CheckOrigin:     func(r *http.Request) bool { return true },
}

// Server 同步网关：握手鉴权 -> 连接内 subscribe/unsubscribe ->
// 引擎事件转下行帧。连接断开取消全部订阅。
type Server struct {
	engine  *syncsrv.Engine
	conv    *chatsrv.ConversationStore
	users   *usersrv.UserStore
	jwtOpts jwtlib.Options
}

func NewServer(engine *syncsrv.Engine, conv *chatsrv.ConversationStore, users *usersrv.UserStore, jwtOpts jwtlib.Options) *Server {
	return &Server{engine: engine, conv: conv, users: users, jwtOpts: jwtOpts}
}

// HandleWS gin 入口：/ws?token=xxx
func (s *Server) HandleWS(c *gin.Context) {
	token := c.Query("token")
	if token == "" {
		token = c.GetHeader("Authorization")
	}
	claims, err := jwtlib.Verify(s.jwtOpts, token)
	if err != nil {
		c.JSON(http.StatusUnauthorized, gin.H{"code": errs.CodePermissionDenied, "msg": "bad token"})
		return
	}
	userID := claims.UserID()

	ws, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		logger.Infof("[ws] upgrade error: %v", err)
		return
	}

	client := NewClient(ids.GenerateString(), userID, ws)
	logger.Infof("[ws] connected conn=%s user=%s", client.ConnID, userID)

	if err := s.users.SetOnline(c.Request.Context(), userID); err != nil {
		logger.Warnf("[ws] set online user=%s: %v", userID, err)
	}

	safe.Go(client.writePump)
	s.readPump(client)
}

func (s *Server) readPump(c *Client) {
	defer func() {
		c.Close()
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		if err := s.users.SetOffline(ctx, c.UserID); err != nil {
			logger.Warnf("[ws] set offline user=%s: %v", c.UserID, err)
		}
		logger.Infof("[ws] disconnected conn=%s user=%s", c.ConnID, c.UserID)
	}()

	c.WS.SetReadLimit(maxFrameBytes)
	_ = c.WS.SetReadDeadline(time.Now().Add(pongWait))
	c.WS.SetPongHandler(func(string) error {
		// 心跳同时续租在线标记
		_ = c.WS.SetReadDeadline(time.Now().Add(pongWait))
		ctx, cancel := context.WithTimeout(context.Background(), time.Second)
		defer cancel()
		_ = s.users.SetOnline(ctx, c.UserID)
		return nil
	})

	for {
		mt, data, err := c.WS.ReadMessage()
		if err != nil {
			if websocket.IsCloseError(err,
				websocket.CloseNormalClosure,
				websocket.CloseGoingAway,
				websocket.CloseNoStatusReceived,
			) {
				logger.Infof("[ws] peer closed conn=%s", c.ConnID)
			} else {
				logger.Infof("[ws] read err conn=%s: %v", c.ConnID, err)
			}
			return
		}
		if mt != websocket.TextMessage && mt != websocket.BinaryMessage {
			continue
		}

		frame, perr := ParseClientFrame(data)
		if perr != nil {
			c.enqueue(errorFrame("", perr))
			continue
		}
		s.handleFrame(c, frame)
	}
}

func (s *Server) handleFrame(c *Client, f *ClientFrame) {
	switch f.Op {
	case OpPing:
		c.enqueue(encodeFrame(&ServerFrame{Op: OpPong}))

	case OpSubscribe:
		if f.SubID == "" {
			c.enqueue(errorFrame("", errs.ErrInvalidArgument.WrapMsg("subscribe requires sub_id")))
			return
		}
		if err := s.subscribe(c, f); err != nil {
			c.enqueue(errorFrame(f.SubID, err))
			return
		}
		c.enqueue(ackFrame(f.SubID))

	case OpUnsubscribe:
		if sub := c.untrack(f.SubID); sub != nil {
			sub.Cancel()
			c.enqueue(ackFrame(f.SubID))
			return
		}
		c.enqueue(errorFrame(f.SubID, errs.ErrNotFound.WrapMsg("unknown subscription", "sub", f.SubID)))

	default:
		c.enqueue(errorFrame(f.SubID, errs.ErrInvalidArgument.WrapMsg("unknown op", "op", f.Op)))
	}
}

func (s *Server) subscribe(c *Client, f *ClientFrame) error {
	filter := syncsrv.Filter{
		Entity:         syncsrv.Entity(f.Entity),
		ConversationID: f.ConversationID,
		UserID:         c.UserID,
	}

	// 消息流先做成员校验，入口挡住非参与者
	if filter.Entity == syncsrv.EntityMessage {
		ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
		defer cancel()
		conv, err := s.conv.Get(ctx, f.ConversationID)
		if err != nil {
			return err
		}
		if !conv.HasParticipant(c.UserID) {
			return errs.ErrPermissionDenied.WrapMsg("not a participant", "conversation", f.ConversationID)
		}
	}

	sub, err := s.engine.Subscribe(context.Background(), filter)
	if err != nil {
		return err
	}
	c.track(f.SubID, sub)
	safe.Go(func() { c.forward(f.SubID, sub) })
	return nil
}
