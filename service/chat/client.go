package chat

import (
	"sync"
	"time"

	"ChatX/logger"
	syncsrv "ChatX/service/sync"

	"github.com/gorilla/websocket"
)

const (
	writeWait     = 10 * time.Second
	pongWait      = 60 * time.Second
	pingPeriod    = (pongWait * 9) / 10
	maxFrameBytes = 64 << 10
	sendQueueSize = 256
)

// Client 网关上的一条用户连接。单读单写：读循环处理上行帧，
// 写协程独占 WS 写端消费 Send 队列。
type Client struct {
	ConnID string
	UserID string
	WS     *websocket.Conn
	Send   chan []byte

	mu   sync.Mutex
	subs map[string]*syncsrv.Subscription // sub_id -> 引擎订阅

	closeOnce sync.Once
	closed    chan struct{}
}

func NewClient(connID, userID string, ws *websocket.Conn) *Client {
	return &Client{
		ConnID: connID,
		UserID: userID,
		WS:     ws,
		Send:   make(chan []byte, sendQueueSize),
		subs:   map[string]*syncsrv.Subscription{},
		closed: make(chan struct{}),
	}
}

// track 记录一路订阅；同 sub_id 重复订阅时替换并取消旧的。
func (c *Client) track(subID string, sub *syncsrv.Subscription) {
	c.mu.Lock()
	old := c.subs[subID]
	c.subs[subID] = sub
	c.mu.Unlock()
	if old != nil {
		old.Cancel()
	}
}

func (c *Client) untrack(subID string) *syncsrv.Subscription {
	c.mu.Lock()
	sub := c.subs[subID]
	delete(c.subs, subID)
	c.mu.Unlock()
	return sub
}

// Close 取消全部订阅并停写协程，幂等。连接断开时先取消订阅
// 再放走写协程，不留服务端监听资源。
func (c *Client) Close() {
	c.closeOnce.Do(func() {
		c.mu.Lock()
		subs := c.subs
		c.subs = map[string]*syncsrv.Subscription{}
		c.mu.Unlock()
		for _, sub := range subs {
			sub.Cancel()
		}
		close(c.closed)
	})
}

// enqueue 非阻塞入队；队列满说明客户端彻底跟不上，断开由读写循环收尾。
func (c *Client) enqueue(data []byte) bool {
	select {
	case c.Send <- data:
		return true
	case <-c.closed:
		return false
	default:
		logger.Warnf("[ws] send queue full, dropping conn=%s user=%s", c.ConnID, c.UserID)
		return false
	}
}

// writePump 独占写端：发队列数据 + 周期 ping。
func (c *Client) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		_ = c.WS.Close()
	}()

	for {
		select {
		case data := <-c.Send:
			_ = c.WS.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.WS.WriteMessage(websocket.TextMessage, data); err != nil {
				logger.Infof("[ws] write err conn=%s: %v", c.ConnID, err)
				return
			}
		case <-ticker.C:
			_ = c.WS.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.WS.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		case <-c.closed:
			_ = c.WS.SetWriteDeadline(time.Now().Add(writeWait))
			_ = c.WS.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
			return
		}
	}
}

// forward 把一路引擎订阅的事件转成下行帧，直到订阅结束。
func (c *Client) forward(subID string, sub *syncsrv.Subscription) {
	for {
		select {
		case ev := <-sub.Events():
			if !c.enqueue(eventFrame(subID, ev)) {
				sub.Cancel()
				return
			}
		case <-sub.Done():
			return
		case <-c.closed:
			sub.Cancel()
			return
		}
	}
}
