package ws

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/naumanshiraz/collab-editor/internal/cache"
	"github.com/naumanshiraz/collab-editor/internal/collab"
)

func newTestConn() *Conn {
	// ws 为 nil：入队和广播不触网络，writeLoop 不启动
	return NewConn(nil, nil, "u", "U", nil, nil)
}

// seedStore 只支持读路径的存储桩，给进退房测试用
type seedStore struct{ seed string }

func (s seedStore) snapshot(docID string) *collab.DocumentSnapshot {
	now := time.Now()
	return &collab.DocumentSnapshot{
		DocID:         docID,
		Content:       s.seed,
		VersionNumber: 1,
		LastUpdate:    now,
		Versions: []collab.Version{
			{Content: s.seed, Author: "system", Timestamp: now, VersionNumber: 1},
		},
	}
}

func (s seedStore) GetOrCreate(ctx context.Context, docID string) (*collab.DocumentSnapshot, error) {
	return s.snapshot(docID), nil
}

func (s seedStore) Read(ctx context.Context, docID string) (*collab.DocumentSnapshot, error) {
	return s.snapshot(docID), nil
}

func (s seedStore) Commit(ctx context.Context, docID string, content string, author string, ts time.Time) (collab.Version, error) {
	return collab.Version{}, errors.New("read-only store")
}

func (s seedStore) VersionContent(ctx context.Context, docID string, versionNumber int64) (string, error) {
	return "", collab.ErrVersionNotFound
}

// fakePresence 内存版 PresenceCache
type fakePresence struct {
	mu      sync.Mutex
	members map[string]map[string]string // docID -> userID -> name
}

func newFakePresence() *fakePresence {
	return &fakePresence{members: make(map[string]map[string]string)}
}

func (p *fakePresence) AddMember(ctx context.Context, docID string, userID string, name string, ttl time.Duration) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.members[docID] == nil {
		p.members[docID] = make(map[string]string)
	}
	p.members[docID][userID] = name
	return nil
}

func (p *fakePresence) RemoveMember(ctx context.Context, docID string, userID string) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	delete(p.members[docID], userID)
	return nil
}

func (p *fakePresence) GetAliveMembersWithNames(ctx context.Context, docID string) ([]cache.PresenceMember, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	var out []cache.PresenceMember
	for id, name := range p.members[docID] {
		out = append(out, cache.PresenceMember{UserID: id, Name: name})
	}
	return out, nil
}

func (p *fakePresence) GetDocuments(ctx context.Context) ([]string, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	var out []string
	for docID := range p.members {
		out = append(out, docID)
	}
	return out, nil
}

func (p *fakePresence) has(docID, userID string) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	_, ok := p.members[docID][userID]
	return ok
}

func drain(c *Conn) []OutboundMessage {
	var out []OutboundMessage
	for {
		select {
		case msg := <-c.send:
			out = append(out, msg)
		default:
			return out
		}
	}
}

func TestHub_BroadcastToOthers(t *testing.T) {
	h := NewHub(nil)
	c1, c2, c3 := newTestConn(), newTestConn(), newTestConn()
	h.Join("d1", c1)
	h.Join("d1", c2)
	h.Join("d1", c3)

	h.BroadcastToOthers("d1", c1, UserLeftMessage{Type: "user-left", UserID: "a"})

	if got := len(drain(c1)); got != 0 {
		t.Fatalf("sender received its own broadcast (%d messages)", got)
	}
	for i, c := range []*Conn{c2, c3} {
		msgs := drain(c)
		if len(msgs) != 1 {
			t.Fatalf("conn %d got %d messages, want 1", i, len(msgs))
		}
		if msgs[0].MessageType() != "user-left" {
			t.Fatalf("conn %d got type %q, want user-left", i, msgs[0].MessageType())
		}
	}
}

func TestHub_LeaveStopsDelivery(t *testing.T) {
	h := NewHub(nil)
	c1, c2 := newTestConn(), newTestConn()
	h.Join("d1", c1)
	h.Join("d1", c2)

	h.Leave("d1", c2)
	h.Broadcast("d1", TypingMessage{Type: "typing", User: "a", IsTyping: true})

	if got := len(drain(c2)); got != 0 {
		t.Fatalf("left conn received %d messages", got)
	}
	if got := len(drain(c1)); got != 1 {
		t.Fatalf("remaining conn got %d messages, want 1", got)
	}
}

func TestConn_EnqueueDropsWhenFull(t *testing.T) {
	c := newTestConn()
	// 队列容量 32，慢消费者多出来的消息直接丢，不阻塞广播方
	for i := 0; i < 40; i++ {
		c.SendMessage_Enqueue(TypingMessage{Type: "typing", User: "a", IsTyping: true})
	}
	if got := len(c.send); got != 32 {
		t.Fatalf("queue len = %d, want 32", got)
	}
}

func TestConn_DisconnectBroadcastsUserLeft(t *testing.T) {
	engine := collab.NewEngine(seedStore{seed: "Hello"}, collab.NewRoomRegistry(2),
		collab.NewDiffMatchPatchCodec(), collab.DefaultMergePolicy(), nil)
	presence := newFakePresence()
	h := NewHub(presence)
	ctx := context.Background()

	c1 := NewConn(nil, h, "u1", "Alice", engine, nil)
	c2 := NewConn(nil, h, "u2", "Bob", engine, nil)
	c1.handleJoin(ctx, ClientMessage{Type: "join", DocID: "d1", UserID: "u1", User: "Alice"}, "d1")
	c2.handleJoin(ctx, ClientMessage{Type: "join", DocID: "d1", UserID: "u2", User: "Bob"}, "d1")
	drain(c1)
	drain(c2)

	// 连接断开走 shutdown：退房、广播 user-left、清在线镜像
	c2.shutdown(ctx)

	msgs := drain(c1)
	if len(msgs) != 1 {
		t.Fatalf("remaining conn got %d messages, want 1", len(msgs))
	}
	left, ok := msgs[0].(UserLeftMessage)
	if !ok || left.UserID != "u2" {
		t.Fatalf("got %+v, want user-left for u2", msgs[0])
	}

	members := engine.Members("d1")
	if len(members) != 1 || members[0].UserID != "u1" {
		t.Fatalf("members after disconnect = %v, want only u1", members)
	}
	if presence.has("d1", "u2") {
		t.Fatalf("presence still lists the dropped user")
	}

	// 腾出的坑位立刻可用
	c3 := NewConn(nil, h, "u3", "Cara", engine, nil)
	c3.handleJoin(ctx, ClientMessage{Type: "join", DocID: "d1", UserID: "u3", User: "Cara"}, "d1")
	msgs = drain(c3)
	if len(msgs) == 0 || msgs[0].MessageType() != "init" {
		t.Fatalf("rejoin after disconnect got %v, want init", msgs)
	}
}

func TestConn_EnqueueAfterShutdown(t *testing.T) {
	c := newTestConn()
	c.shutdown(context.Background())

	// 关闭后入队必须静默忽略，不 panic（断线者的 ack 就是这么丢的）
	c.SendMessage_Enqueue(AckMessage{Type: "ack", Accepted: true})
}
