package ws

import (
	"context"
	"errors"
	"log"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/naumanshiraz/collab-editor/internal/collab"
)

const presenceTTL = 600 * time.Second

type Conn struct {
	ws       *websocket.Conn
	hub      *Hub
	docID    string
	userID   string
	username string
	joined   bool

	// send 是连接独占的出站队列，writeLoop 持续消费
	send    chan OutboundMessage
	closeMu sync.RWMutex
	closed  bool

	// 文档同步引擎
	engine *collab.Engine
	// 信号量控制：限制全进程在途补丁数
	sem *collab.SemaphoreControl
}

func NewConn(ws *websocket.Conn, hub *Hub, userID string, username string, engine *collab.Engine, sem *collab.SemaphoreControl) *Conn {
	return &Conn{
		ws:       ws,
		hub:      hub,
		userID:   userID,
		username: username,
		send:     make(chan OutboundMessage, 32),
		engine:   engine,
		sem:      sem,
	}
}

// SendMessage_Enqueue 入队出站消息；队列满了直接丢（慢消费者不拖垮广播），
// 连接关闭后静默忽略（断线者的 ack 就是这样被丢掉的）
func (c *Conn) SendMessage_Enqueue(msg OutboundMessage) {
	c.closeMu.RLock()
	defer c.closeMu.RUnlock()
	if c.closed {
		return
	}
	select {
	case c.send <- msg:
	default:
	}
}

// shutdown 先退出房间再关队列，避免并发广播打在已关闭的通道上
func (c *Conn) shutdown(ctx context.Context) {
	if c.joined {
		c.hub.Leave(c.docID, c)
		c.notifyLeave(ctx)
	}
	c.closeMu.Lock()
	c.closed = true
	close(c.send)
	c.closeMu.Unlock()
}

// notifyLeave 成员真正被移除时才广播 user-left
func (c *Conn) notifyLeave(ctx context.Context) {
	leaveCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 2*time.Second)
	defer cancel()
	removed, err := c.engine.Leave(leaveCtx, c.docID, c.userID)
	if err != nil {
		log.Printf("leave error (user=%s, doc=%s): %v", c.userID, c.docID, err)
	}
	if removed {
		c.hub.BroadcastToOthers(c.docID, c, UserLeftMessage{Type: "user-left", UserID: c.userID})
	}
	if err := c.hub.presence.RemoveMember(leaveCtx, c.docID, c.userID); err != nil {
		log.Printf("remove presence error (user=%s, doc=%s): %v", c.userID, c.docID, err)
	}
}

func (c *Conn) handleJoin(ctx context.Context, msg ClientMessage, defaultDocID string) {
	docID := msg.DocID
	if docID == "" {
		docID = defaultDocID
	}
	userID := msg.UserID
	if userID == "" {
		// 原版客户端只带 user，不带 userId
		userID = msg.User
	}
	if userID == "" {
		userID = c.userID
	}
	name := msg.User
	if name == "" {
		name = c.username
	}

	joinCtx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()
	res, err := c.engine.Join(joinCtx, docID, userID, name)
	if err != nil {
		if errors.Is(err, collab.ErrInvalidUser) {
			c.SendMessage_Enqueue(JoinErrorMessage{Type: "join-error", Error: "user missing or invalid"})
			return
		}
		log.Printf("join error (user=%s, doc=%s): %v", userID, docID, err)
		c.SendMessage_Enqueue(JoinErrorMessage{Type: "join-error", Error: "temporary server error"})
		return
	}
	if res.Status == collab.JoinRoomFull {
		c.SendMessage_Enqueue(RoomFullMessage{
			Type:    "room-full",
			Message: "room " + docID + " is full, try again later",
		})
		return
	}

	// 动态换房：先离开旧房间
	if c.joined && c.docID != docID {
		c.hub.Leave(c.docID, c)
		c.notifyLeave(ctx)
	}
	c.docID = docID
	c.userID = userID
	c.username = name
	c.joined = true

	c.hub.Join(docID, c)
	if err := c.hub.presence.AddMember(ctx, docID, userID, name, presenceTTL); err != nil {
		log.Printf("add presence error (user=%s, doc=%s): %v", userID, docID, err)
	}

	c.SendMessage_Enqueue(InitMessage{
		Type:          "init",
		Content:       res.Snapshot.Content,
		VersionNumber: res.Snapshot.VersionNumber,
		Versions:      res.Snapshot.Versions,
	})
	// 进房广播发给其他人，不包括自己
	c.hub.BroadcastToOthers(docID, c, UserJoinedMessage{Type: "user-joined", UserID: userID, Name: name})
	log.Printf("%s joined %s", userID, docID)
}

func (c *Conn) handlePatchEdit(ctx context.Context, msg ClientMessage) {
	if !c.joined {
		c.SendMessage_Enqueue(ConflictMessage{Type: "conflict", Reason: "not-joined", Message: "join a document first"})
		return
	}

	acquireCtx, cancel := context.WithTimeout(ctx, 200*time.Millisecond)
	if err := c.sem.Acquire(acquireCtx); err != nil {
		cancel()
		c.SendMessage_Enqueue(ConflictMessage{Type: "conflict", Reason: "overloaded", Message: err.Error()})
		return
	}
	cancel()
	defer c.sem.Release()

	ts := time.Time{}
	if msg.Timestamp != "" {
		if parsed, err := time.Parse(time.RFC3339, msg.Timestamp); err == nil {
			ts = parsed
		}
	}
	author := msg.User
	if author == "" {
		author = c.userID
	}

	submitCtx, cancelSubmit := context.WithTimeout(ctx, 2*time.Second)
	defer cancelSubmit()
	res, err := c.engine.Submit(submitCtx, collab.Patch{
		DocID:       c.docID,
		PatchText:   msg.PatchText,
		Author:      author,
		BaseVersion: msg.BaseVersion,
		Timestamp:   ts,
	})
	if err != nil {
		// 存储类故障：原子中止，无半截状态，对客户端只报瞬态错误
		log.Printf("patch-edit error (user=%s, doc=%s): %v", c.userID, c.docID, err)
		c.SendMessage_Enqueue(ConflictMessage{Type: "conflict", Reason: "transient-error", Message: "temporary server error, retry later"})
		return
	}

	switch res.Status {
	case collab.StatusAccepted:
		c.SendMessage_Enqueue(AckMessage{
			Type:          "ack",
			Accepted:      true,
			VersionNumber: res.VersionNumber,
			NeedsReview:   res.NeedsReview,
			ServerContent: res.Content,
		})
		// needsReview 一起广播出去：部分成功已被持久接受，但要给人看见
		c.hub.BroadcastToOthers(c.docID, c, RemoteMergeMessage{
			Type:          "remote-merge",
			Content:       res.Content,
			Author:        author,
			VersionNumber: res.VersionNumber,
			NeedsReview:   res.NeedsReview,
		})
		log.Printf("accepted merge v%d from %s (confidence=%.2f)", res.VersionNumber, author, res.Confidence)

	case collab.StatusNoChange:
		c.SendMessage_Enqueue(AckMessage{
			Type:          "ack",
			Accepted:      false,
			VersionNumber: res.VersionNumber,
			ServerContent: res.Content,
		})

	case collab.StatusInvalidPatch:
		c.SendMessage_Enqueue(ConflictMessage{
			Type:          "conflict",
			Reason:        "invalid-patch",
			Message:       "patch text could not be parsed",
			ServerContent: res.Content,
			VersionNumber: res.VersionNumber,
		})

	case collab.StatusMergeFailed:
		// 客户端要用 serverContent 从头重同步
		c.SendMessage_Enqueue(ConflictMessage{
			Type:          "conflict",
			Reason:        "merge-failed",
			Message:       "no hunk could be applied, resync from server content",
			ServerContent: res.Content,
			VersionNumber: res.VersionNumber,
		})

	case collab.StatusLowConfidence:
		c.SendMessage_Enqueue(ConflictMessage{
			Type:          "conflict",
			Reason:        "low-confidence",
			Message:       "merge confidence below threshold, rejected",
			ServerContent: res.Content,
			VersionNumber: res.VersionNumber,
		})
	}
}

func (c *Conn) handleTyping(ctx context.Context, msg ClientMessage) {
	if !c.joined {
		return
	}
	user := msg.User
	if user == "" {
		user = c.userID
	}
	// 顺手刷新在线 TTL
	if err := c.hub.presence.AddMember(ctx, c.docID, c.userID, c.username, presenceTTL); err != nil {
		log.Printf("refresh presence error (user=%s, doc=%s): %v", c.userID, c.docID, err)
	}
	c.hub.BroadcastToOthers(c.docID, c, TypingMessage{Type: "typing", User: user, IsTyping: msg.IsTyping})
}

func (c *Conn) readLoop(ctx context.Context, defaultDocID string) {
	defer c.shutdown(ctx)
	for {
		var clientMessage ClientMessage
		if err := c.ws.ReadJSON(&clientMessage); err != nil {
			log.Printf("read json error (user=%s, doc=%s): %v", c.userID, c.docID, err)
			return
		}
		switch clientMessage.Type {
		case "join":
			c.handleJoin(ctx, clientMessage, defaultDocID)

		case "typing":
			c.handleTyping(ctx, clientMessage)

		case "patch-edit":
			c.handlePatchEdit(ctx, clientMessage)

		case "leave":
			if c.joined {
				c.hub.Leave(c.docID, c)
				c.notifyLeave(ctx)
				c.joined = false
			}

		default:
			// 忽略未知类型
		}
	}
}

func (c *Conn) writeLoop() {
	// 持续消费通道中的出站消息
	for msg := range c.send {
		_ = c.ws.WriteJSON(msg)
	}
}
