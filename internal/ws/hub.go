package ws

import (
	"sync"

	"github.com/naumanshiraz/collab-editor/internal/cache"
)

// Hub 负责"消息送到哪些连接"；谁有资格在房间里由 collab.RoomRegistry 决定
type Hub struct {
	// presence 不存数据本身，只提供对外部存储（redis）的读写能力，
	// 用来跨实例共享在线状态
	presence cache.PresenceCache
	// 保护 rooms 这类 map 在并发下安全访问
	mu sync.RWMutex
	// docID -> set of connections
	// 房间里存连接而不是 userID：同一用户可开多个标签页/设备，
	// 广播要逐连接发，不能只按 userID 发一次
	rooms map[string]map[*Conn]struct{}
}

func NewHub(p cache.PresenceCache) *Hub {
	return &Hub{presence: p, rooms: make(map[string]map[*Conn]struct{})}
}

// Join 将连接加入指定文档房间
func (h *Hub) Join(docID string, c *Conn) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.rooms[docID] == nil {
		h.rooms[docID] = make(map[*Conn]struct{})
	}
	h.rooms[docID][c] = struct{}{}
}

// Leave 将连接从指定文档房间移除
func (h *Hub) Leave(docID string, c *Conn) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if conns, ok := h.rooms[docID]; ok {
		delete(conns, c)
		if len(conns) == 0 {
			delete(h.rooms, docID)
		}
	}
}

// Broadcast 发给房间内所有连接。
// 入队是非阻塞的，整个遍历都在读锁里完成，避免和进退房竞争
func (h *Hub) Broadcast(docID string, msg OutboundMessage) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	for c := range h.rooms[docID] {
		c.SendMessage_Enqueue(msg)
	}
}

// BroadcastToOthers 发给房间内除 except 外的所有连接
// （合并结果、进退房通知、typing 转发都走这里）
func (h *Hub) BroadcastToOthers(docID string, except *Conn, msg OutboundMessage) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	for c := range h.rooms[docID] {
		if c == except {
			continue
		}
		c.SendMessage_Enqueue(msg)
	}
}
