package collab

import (
	"context"
	"errors"
	"time"
)

// Version 不可变的文档快照，追加后不再修改
type Version struct {
	Content       string    `json:"content"`
	Author        string    `json:"author"`
	Timestamp     time.Time `json:"timestamp"`
	VersionNumber int64     `json:"versionNumber"`
}

// Participant 只在连接存活期间存在，断开即移除
type Participant struct {
	UserID   string    `json:"userId"`
	Name     string    `json:"name"`
	JoinedAt time.Time `json:"joinedAt"`
}

// DocumentSnapshot 某一时刻的一致视图（内容 + 版本号 + 全量版本列表 + 成员）
type DocumentSnapshot struct {
	DocID         string        `json:"docId"`
	Content       string        `json:"content"`
	VersionNumber int64         `json:"versionNumber"`
	LastUpdate    time.Time     `json:"lastUpdate"`
	Versions      []Version     `json:"versions"`
	Users         []Participant `json:"users"`
}

// Patch 线上的临时对象，只被消费不被原样保存
type Patch struct {
	DocID       string
	PatchText   string
	Author      string
	BaseVersion int64
	Timestamp   time.Time
}

type MergeStatus string

const (
	StatusAccepted      MergeStatus = "accepted"
	StatusNoChange      MergeStatus = "no-change"
	StatusInvalidPatch  MergeStatus = "invalid-patch"
	StatusMergeFailed   MergeStatus = "merge-failed"
	StatusLowConfidence MergeStatus = "rejected-low-confidence"
)

// MergeResult Content 始终是权威内容：
// - accepted 时是合并后的新内容
// - 其余状态是当前服务端内容，客户端用它做全量重同步
type MergeResult struct {
	Status        MergeStatus
	Content       string
	VersionNumber int64
	Confidence    float64
	NeedsReview   bool
}

type JoinStatus string

const (
	JoinOK       JoinStatus = "ok"
	JoinRoomFull JoinStatus = "room-full"
)

type JoinResult struct {
	Status   JoinStatus
	Snapshot *DocumentSnapshot
}

var (
	ErrInvalidUser     = errors.New("INVALID_USER")
	ErrVersionNotFound = errors.New("VERSION_NOT_FOUND")
	ErrEmptyPatch      = errors.New("EMPTY_PATCH")
)

// DocumentStore 持久化接口
// 只声明，实现在 store 包中（MySQL）
type DocumentStore interface {
	// GetOrCreate 不存在则创建，并用欢迎内容播种 versionNumber=1 的初始版本。
	// 只有创建时落盘。
	GetOrCreate(ctx context.Context, docID string) (*DocumentSnapshot, error)

	Read(ctx context.Context, docID string) (*DocumentSnapshot, error)

	// Commit 原子地推进 versionNumber 并追加一条 Version。
	// 同一 docID 的并发 Commit 不允许算出相同的下一个版本号。
	Commit(ctx context.Context, docID string, content string, author string, ts time.Time) (Version, error)

	// VersionContent 按版本号取历史内容，供 base-version 重定位用。
	// 不存在返回 ErrVersionNotFound。
	VersionContent(ctx context.Context, docID string, versionNumber int64) (string, error)
}
