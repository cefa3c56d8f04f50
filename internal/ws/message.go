package ws

import (
	"github.com/naumanshiraz/collab-editor/internal/collab"
)

// ClientMessage 客户端入站事件的统一载体（join / typing / patch-edit / leave）
type ClientMessage struct {
	Type        string `json:"type"`
	DocID       string `json:"docId"`
	UserID      string `json:"userId"`
	User        string `json:"user"` // 显示名；原版客户端只发 user
	IsTyping    bool   `json:"isTyping"`
	PatchText   string `json:"patchText"`
	BaseVersion int64  `json:"baseVersion"`
	Timestamp   string `json:"timestamp"` // RFC3339
}

// 出站消息接口
type OutboundMessage interface {
	MessageType() string
}

// InitMessage 进房成功后发给提交者本人的全量快照
type InitMessage struct {
	Type          string           `json:"type"` // 固定 "init"
	Content       string           `json:"content"`
	VersionNumber int64            `json:"versionNumber"`
	Versions      []collab.Version `json:"versions"`
}

type RoomFullMessage struct {
	Type    string `json:"type"` // 固定 "room-full"
	Message string `json:"message"`
}

type JoinErrorMessage struct {
	Type  string `json:"type"` // 固定 "join-error"
	Error string `json:"error"`
}

type UserJoinedMessage struct {
	Type   string `json:"type"` // 固定 "user-joined"
	UserID string `json:"userId"`
	Name   string `json:"name"`
}

type UserLeftMessage struct {
	Type   string `json:"type"` // 固定 "user-left"
	UserID string `json:"userId"`
}

// TypingMessage 无状态转发，不落地、不保序，接收端按最近一条为准
type TypingMessage struct {
	Type     string `json:"type"` // 固定 "typing"
	User     string `json:"user"`
	IsTyping bool   `json:"isTyping"`
}

// AckMessage 只发给提交者：ack 是客户端推进"已知 base 版本"的唯一信号
type AckMessage struct {
	Type          string `json:"type"` // 固定 "ack"
	Accepted      bool   `json:"accepted"`
	VersionNumber int64  `json:"versionNumber"`
	NeedsReview   bool   `json:"needsReview,omitempty"`
	ServerContent string `json:"serverContent"`
}

// RemoteMergeMessage 广播给房间内其他成员的已接受合并
type RemoteMergeMessage struct {
	Type          string `json:"type"` // 固定 "remote-merge"
	Content       string `json:"content"`
	Author        string `json:"author"`
	VersionNumber int64  `json:"versionNumber"`
	NeedsReview   bool   `json:"needsReview,omitempty"`
}

// ConflictMessage 合并失败/补丁非法/无变化时只回提交者，
// 带上权威内容供客户端全量重同步
type ConflictMessage struct {
	Type          string `json:"type"` // 固定 "conflict"
	Reason        string `json:"reason"`
	Message       string `json:"message"`
	ServerContent string `json:"serverContent"`
	VersionNumber int64  `json:"versionNumber"`
}

// 隐式实现 OutboundMessage 接口
func (m InitMessage) MessageType() string        { return m.Type }
func (m RoomFullMessage) MessageType() string    { return m.Type }
func (m JoinErrorMessage) MessageType() string   { return m.Type }
func (m UserJoinedMessage) MessageType() string  { return m.Type }
func (m UserLeftMessage) MessageType() string    { return m.Type }
func (m TypingMessage) MessageType() string      { return m.Type }
func (m AckMessage) MessageType() string         { return m.Type }
func (m RemoteMergeMessage) MessageType() string { return m.Type }
func (m ConflictMessage) MessageType() string    { return m.Type }
