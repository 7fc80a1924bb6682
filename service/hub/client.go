package hub

import (
	"sync"

	jwtsec "MotPad/tools/security"

	"github.com/gorilla/websocket"
)

// Client 一条已鉴权的 ws 连接。写操作只由 writePump 执行
type Client struct {
	ConnID  string
	Subject string
	Claims  *jwtsec.JWTClaims
	WS      *websocket.Conn
	Send    chan []byte // 出站队列

	mu     sync.Mutex
	groups map[string]struct{}

	done      chan struct{}
	closeOnce sync.Once
	// 慢客户端丢弃计数
	dropped int
}

func NewClient(connID string, claims *jwtsec.JWTClaims, ws *websocket.Conn, sendQueueSize int) *Client {
	if sendQueueSize <= 0 {
		sendQueueSize = 64
	}
	sub := ""
	if claims != nil {
		sub = claims.Subject()
	}
	return &Client{
		ConnID:  connID,
		Subject: sub,
		Claims:  claims,
		WS:      ws,
		Send:    make(chan []byte, sendQueueSize),
		groups:  make(map[string]struct{}),
		done:    make(chan struct{}),
	}
}

// enqueue 非阻塞；队列满或连接已关闭返回 false
func (c *Client) enqueue(payload []byte) bool {
	select {
	case <-c.done:
		return false
	default:
	}
	select {
	case c.Send <- payload:
		return true
	case <-c.done:
		return false
	default:
		c.mu.Lock()
		c.dropped++
		c.mu.Unlock()
		return false
	}
}

func (c *Client) Dropped() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.dropped
}

func (c *Client) close() {
	c.closeOnce.Do(func() { close(c.done) })
}

func (c *Client) Groups() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]string, 0, len(c.groups))
	for g := range c.groups {
		out = append(out, g)
	}
	return out
}

func (c *Client) addGroup(g string) {
	c.mu.Lock()
	c.groups[g] = struct{}{}
	c.mu.Unlock()
}

func (c *Client) removeGroup(g string) {
	c.mu.Lock()
	delete(c.groups, g)
	c.mu.Unlock()
}
