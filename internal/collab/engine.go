package collab

import (
	"context"
	"fmt"
	"log"
	"sync"
	"time"
)

// MergePolicy 低置信度合并的策略是显式配置：
// - RejectBelowThreshold=false：低于阈值照常提交，只打 needsReview 标记（默认）
// - RejectBelowThreshold=true：低于阈值直接拒绝，走 conflict 通道
type MergePolicy struct {
	LowConfidenceThreshold float64
	RejectBelowThreshold   bool
}

func DefaultMergePolicy() MergePolicy {
	return MergePolicy{LowConfidenceThreshold: 0.5}
}

// docState 文档的内存权威状态，只会在自己的 actor 里被读写
type docState struct {
	content  string
	version  int64
	versions []Version // 按 versionNumber 升序的不可变版本库，用下标引用
	loaded   bool
}

// versionContent 按版本号查历史内容（版本号连续，从 versions[0] 起算）
func (ds *docState) versionContent(n int64) (string, bool) {
	if len(ds.versions) == 0 {
		return "", false
	}
	first := ds.versions[0].VersionNumber
	idx := n - first
	if idx < 0 || idx >= int64(len(ds.versions)) {
		return "", false
	}
	return ds.versions[idx].Content, true
}

// docActor 每个 docID 一个串行邮箱：join、patch 合并、leave
// 按到达顺序一个一个执行，互不交叉。不同文档完全并行。
type docActor struct {
	mailbox chan func()
	state   docState
}

func (a *docActor) run() {
	for fn := range a.mailbox {
		fn()
	}
}

// Engine 文档同步引擎：串行化并发修改，调和分歧的客户端补丁
type Engine struct {
	mu     sync.Mutex
	actors map[string]*docActor

	store  DocumentStore
	rooms  *RoomRegistry
	codec  PatchCodec
	policy MergePolicy
	audit  *AuditDispatcher // 可为 nil（不发审计事件）
}

func NewEngine(store DocumentStore, rooms *RoomRegistry, codec PatchCodec, policy MergePolicy, audit *AuditDispatcher) *Engine {
	if policy.LowConfidenceThreshold <= 0 {
		policy.LowConfidenceThreshold = DefaultMergePolicy().LowConfidenceThreshold
	}
	return &Engine{
		actors: make(map[string]*docActor),
		store:  store,
		rooms:  rooms,
		codec:  codec,
		policy: policy,
		audit:  audit,
	}
}

func (e *Engine) Rooms() *RoomRegistry { return e.rooms }

func (e *Engine) actor(docID string) *docActor {
	e.mu.Lock()
	defer e.mu.Unlock()
	a := e.actors[docID]
	if a == nil {
		a = &docActor{mailbox: make(chan func(), 64)}
		e.actors[docID] = a
		go a.run()
	}
	return a
}

// dispatch 把操作投递到文档邮箱并等它执行完。
// 注意：入队之后操作一定会执行，即使 ctx 先到期——
// 提交者断线时在途的 commit 照常完成并广播，只是它自己收不到 ack。
func (e *Engine) dispatch(ctx context.Context, docID string, fn func()) error {
	a := e.actor(docID)
	done := make(chan struct{})
	select {
	case a.mailbox <- func() { fn(); close(done) }:
	case <-ctx.Done():
		return ctx.Err()
	}
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// ensureLoaded 懒加载：首次访问时从存储取或建文档。
// 这是 join/submit 路径上除 Commit 外唯一的存储调用点。
func (e *Engine) ensureLoaded(ctx context.Context, docID string, a *docActor) error {
	if a.state.loaded {
		return nil
	}
	snap, err := e.store.GetOrCreate(ctx, docID)
	if err != nil {
		return fmt.Errorf("load document %s: %w", docID, err)
	}
	a.state.content = snap.Content
	a.state.version = snap.VersionNumber
	a.state.versions = snap.Versions
	a.state.loaded = true
	return nil
}

func (e *Engine) snapshotLocked(docID string, a *docActor) *DocumentSnapshot {
	versions := make([]Version, len(a.state.versions))
	copy(versions, a.state.versions)
	var last time.Time
	if n := len(versions); n > 0 {
		last = versions[n-1].Timestamp
	}
	return &DocumentSnapshot{
		DocID:         docID,
		Content:       a.state.content,
		VersionNumber: a.state.version,
		LastUpdate:    last,
		Versions:      versions,
		Users:         e.rooms.Members(docID),
	}
}

// Join 进房：容量检查和文档修改共用同一个串行域，
// 两个同时到达的 join 不可能都看到"未满"而双双挤进去。
func (e *Engine) Join(ctx context.Context, docID, userID, name string) (JoinResult, error) {
	if userID == "" {
		return JoinResult{}, ErrInvalidUser
	}
	if name == "" {
		name = userID
	}
	var res JoinResult
	var opErr error
	a := e.actor(docID)
	err := e.dispatch(ctx, docID, func() {
		if opErr = e.ensureLoaded(ctx, docID, a); opErr != nil {
			return
		}
		res.Status = e.rooms.Join(docID, userID, name)
		if res.Status == JoinOK {
			res.Snapshot = e.snapshotLocked(docID, a)
		}
	})
	if err != nil {
		// 等待超时不等于没执行：入队成功的 join 闭包照样会占坑，
		// 而调用方已按失败处理，不会再发 leave。
		// 追加一个补偿 leave：同一邮箱先进先出，必然排在 join 之后，
		// 没占到坑时是 no-op。
		go func() {
			a.mailbox <- func() { e.rooms.Leave(docID, userID) }
		}()
		return JoinResult{}, err
	}
	return res, opErr
}

// Leave 退房，返回是否真的移除了成员
func (e *Engine) Leave(ctx context.Context, docID, userID string) (bool, error) {
	var removed bool
	err := e.dispatch(ctx, docID, func() {
		removed = e.rooms.Leave(docID, userID)
	})
	return removed, err
}

func (e *Engine) Members(docID string) []Participant {
	return e.rooms.Members(docID)
}

// Snapshot 一致的时点视图（走 actor，保证不和提交交叉）
func (e *Engine) Snapshot(ctx context.Context, docID string) (*DocumentSnapshot, error) {
	var snap *DocumentSnapshot
	var opErr error
	a := e.actor(docID)
	err := e.dispatch(ctx, docID, func() {
		if opErr = e.ensureLoaded(ctx, docID, a); opErr != nil {
			return
		}
		snap = e.snapshotLocked(docID, a)
	})
	if err != nil {
		return nil, err
	}
	return snap, opErr
}

// Submit 把一个补丁串行地合并进文档
func (e *Engine) Submit(ctx context.Context, p Patch) (MergeResult, error) {
	var res MergeResult
	var opErr error
	a := e.actor(p.DocID)
	err := e.dispatch(ctx, p.DocID, func() {
		if opErr = e.ensureLoaded(ctx, p.DocID, a); opErr != nil {
			return
		}
		res, opErr = e.merge(ctx, a, p)
	})
	if err != nil {
		return MergeResult{}, err
	}
	if opErr != nil {
		return MergeResult{}, opErr
	}
	if res.Status == StatusAccepted && e.audit != nil {
		evt := NewMergeEvent(p, res)
		if err := e.audit.Enqueue(ctx, evt); err != nil {
			// 审计是尽力而为，不回滚已提交的合并
			log.Printf("audit enqueue failed doc=%s v=%d: %v", p.DocID, res.VersionNumber, err)
		}
	}
	return res, nil
}
