package collab

import (
	"context"
	"testing"
	"time"
)

func TestRoomRegistry_Capacity(t *testing.T) {
	r := NewRoomRegistry(2)

	if got := r.Join("d1", "a", "A"); got != JoinOK {
		t.Fatalf("join a = %s, want ok", got)
	}
	if got := r.Join("d1", "b", "B"); got != JoinOK {
		t.Fatalf("join b = %s, want ok", got)
	}
	// 满员拒绝，成员不变
	if got := r.Join("d1", "c", "C"); got != JoinRoomFull {
		t.Fatalf("join c = %s, want room-full", got)
	}
	if got := len(r.Members("d1")); got != 2 {
		t.Fatalf("len(members) = %d, want 2", got)
	}

	// 已是成员则幂等成功，不占新坑
	if got := r.Join("d1", "a", "A"); got != JoinOK {
		t.Fatalf("rejoin a = %s, want ok", got)
	}
	if got := len(r.Members("d1")); got != 2 {
		t.Fatalf("len(members) after rejoin = %d, want 2", got)
	}

	// 不同文档互不影响
	if got := r.Join("d2", "c", "C"); got != JoinOK {
		t.Fatalf("join c on d2 = %s, want ok", got)
	}
}

func TestRoomRegistry_Leave(t *testing.T) {
	r := NewRoomRegistry(2)
	r.Join("d1", "a", "A")

	if !r.Leave("d1", "a") {
		t.Fatalf("Leave() = false, want true for member")
	}
	// 不在房间里是 no-op
	if r.Leave("d1", "a") {
		t.Fatalf("Leave() = true for absent member")
	}
	if r.Leave("d1", "ghost") {
		t.Fatalf("Leave() = true for never-joined member")
	}
}

func TestEngine_JoinRoomFull(t *testing.T) {
	e, _ := newTestEngine("Hello", 2, DefaultMergePolicy(), NewDiffMatchPatchCodec())
	ctx := context.Background()

	for _, u := range []string{"a", "b"} {
		res, err := e.Join(ctx, "d1", u, u)
		if err != nil {
			t.Fatalf("Join(%s) error = %v", u, err)
		}
		if res.Status != JoinOK {
			t.Fatalf("Join(%s) = %s, want ok", u, res.Status)
		}
		if res.Snapshot == nil || res.Snapshot.Content != "Hello" {
			t.Fatalf("Join(%s) snapshot missing or wrong", u)
		}
	}

	res, err := e.Join(ctx, "d1", "c", "c")
	if err != nil {
		t.Fatalf("Join(c) error = %v", err)
	}
	if res.Status != JoinRoomFull {
		t.Fatalf("Join(c) = %s, want room-full", res.Status)
	}

	members := e.Members("d1")
	if len(members) != 2 {
		t.Fatalf("len(members) = %d, want 2", len(members))
	}
	for _, m := range members {
		if m.UserID != "a" && m.UserID != "b" {
			t.Fatalf("unexpected member %q", m.UserID)
		}
	}
}

func TestEngine_JoinTimeoutReleasesSlot(t *testing.T) {
	// 慢存储让 join 的等待超时：闭包入队后照样执行并占坑，
	// 但调用方拿到的是错误，不会再发 leave。补偿 leave 必须把坑还回来。
	store := newMemStore("Hello")
	store.getDelay = 100 * time.Millisecond
	e := NewEngine(store, NewRoomRegistry(2), NewDiffMatchPatchCodec(), DefaultMergePolicy(), nil)

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()
	if _, err := e.Join(ctx, "d1", "ghost", "Ghost"); err == nil {
		t.Fatalf("Join() expected timeout error")
	}

	// 等慢存储返回、join 闭包和补偿 leave 都跑完，成员表必须为空
	time.Sleep(300 * time.Millisecond)
	if got := e.Members("d1"); len(got) != 0 {
		t.Fatalf("timed-out join left member behind: %v", got)
	}

	// 坑位确实可用：两个新成员都能进来
	store.getDelay = 0
	for _, u := range []string{"a", "b"} {
		res, err := e.Join(context.Background(), "d1", u, u)
		if err != nil || res.Status != JoinOK {
			t.Fatalf("Join(%s) after timeout: status=%v err=%v", u, res.Status, err)
		}
	}
}

func TestEngine_JoinInvalidUser(t *testing.T) {
	e, _ := newTestEngine("Hello", 2, DefaultMergePolicy(), NewDiffMatchPatchCodec())

	if _, err := e.Join(context.Background(), "d1", "", ""); err != ErrInvalidUser {
		t.Fatalf("Join() error = %v, want ErrInvalidUser", err)
	}
}

func TestEngine_LeaveThenRejoin(t *testing.T) {
	e, _ := newTestEngine("Hello", 2, DefaultMergePolicy(), NewDiffMatchPatchCodec())
	ctx := context.Background()

	e.Join(ctx, "d1", "a", "A")
	e.Join(ctx, "d1", "b", "B")

	removed, err := e.Leave(ctx, "d1", "a")
	if err != nil {
		t.Fatalf("Leave() error = %v", err)
	}
	if !removed {
		t.Fatalf("Leave() = false, want true")
	}

	// 腾出坑位后 c 能进来
	res, err := e.Join(ctx, "d1", "c", "C")
	if err != nil || res.Status != JoinOK {
		t.Fatalf("Join(c) after leave: status=%v err=%v", res.Status, err)
	}
}
