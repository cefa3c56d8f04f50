package collab

import (
	"sync"
	"time"
)

// DefaultRoomLimit 原版是双人编辑器，容量默认 2
const DefaultRoomLimit = 2

// RoomRegistry 记录每个文档当前占坑的成员，并限制房间容量。
// 写操作（join/leave）只在对应文档的 actor 里被调用，
// 读（Members）给广播和展示用，走自己的读锁，不占文档串行队列。
type RoomRegistry struct {
	mu    sync.RWMutex
	limit int
	rooms map[string]map[string]Participant // docID -> userID -> Participant
}

func NewRoomRegistry(limit int) *RoomRegistry {
	if limit <= 0 {
		limit = DefaultRoomLimit
	}
	return &RoomRegistry{
		limit: limit,
		rooms: make(map[string]map[string]Participant),
	}
}

func (r *RoomRegistry) Limit() int { return r.limit }

// Join 已是成员则幂等成功；满员拒绝；否则占坑。
// check-then-add 的原子性由调用方（文档 actor）保证跨实例串行，
// 这里的锁保证注册表自身并发安全。
func (r *RoomRegistry) Join(docID, userID, name string) JoinStatus {
	r.mu.Lock()
	defer r.mu.Unlock()
	room := r.rooms[docID]
	if room == nil {
		room = make(map[string]Participant)
		r.rooms[docID] = room
	}
	if _, ok := room[userID]; ok {
		return JoinOK
	}
	if len(room) >= r.limit {
		return JoinRoomFull
	}
	room[userID] = Participant{UserID: userID, Name: name, JoinedAt: time.Now()}
	return JoinOK
}

// Leave 不在房间里则 no-op，返回值告诉调用方是否需要广播 user-left
func (r *RoomRegistry) Leave(docID, userID string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	room, ok := r.rooms[docID]
	if !ok {
		return false
	}
	if _, ok := room[userID]; !ok {
		return false
	}
	delete(room, userID)
	if len(room) == 0 {
		delete(r.rooms, docID)
	}
	return true
}

func (r *RoomRegistry) Members(docID string) []Participant {
	r.mu.RLock()
	defer r.mu.RUnlock()
	room := r.rooms[docID]
	members := make([]Participant, 0, len(room))
	for _, p := range room {
		members = append(members, p)
	}
	return members
}
