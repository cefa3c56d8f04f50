package cache

import (
	"context"
	"testing"
	"time"

	redis "github.com/redis/go-redis/v9"
)

// 集成测试：若 Redis 未启动则跳过
func openTestRedis(t *testing.T) redis.UniversalClient {
	t.Helper()
	rdb := redis.NewClient(&redis.Options{Addr: "127.0.0.1:6379"})
	if err := rdb.Ping(context.Background()).Err(); err != nil {
		t.Skipf("skip: redis not available: %v", err)
	}
	return rdb
}

func TestPresence_AddAndList(t *testing.T) {
	rdb := openTestRedis(t)
	defer rdb.Close()
	ctx := context.Background()
	p := NewRedisPresence(rdb)

	docID := "pt-" + time.Now().Format("20060102150405.000")
	if err := p.AddMember(ctx, docID, "u1", "Alice", 30*time.Second); err != nil {
		t.Fatalf("AddMember error: %v", err)
	}
	if err := p.AddMember(ctx, docID, "u2", "Bob", 30*time.Second); err != nil {
		t.Fatalf("AddMember error: %v", err)
	}

	members, err := p.GetAliveMembersWithNames(ctx, docID)
	if err != nil {
		t.Fatalf("GetAliveMembersWithNames error: %v", err)
	}
	if len(members) != 2 {
		t.Fatalf("len(members) = %d, want 2", len(members))
	}
	names := map[string]string{}
	for _, m := range members {
		names[m.UserID] = m.Name
	}
	if names["u1"] != "Alice" || names["u2"] != "Bob" {
		t.Fatalf("unexpected members: %v", names)
	}

	if err := p.RemoveMember(ctx, docID, "u1"); err != nil {
		t.Fatalf("RemoveMember error: %v", err)
	}
	members, err = p.GetAliveMembersWithNames(ctx, docID)
	if err != nil {
		t.Fatalf("GetAliveMembersWithNames error: %v", err)
	}
	if len(members) != 1 || members[0].UserID != "u2" {
		t.Fatalf("after remove: %v", members)
	}
}

func TestPresence_ExpiredMembersSwept(t *testing.T) {
	rdb := openTestRedis(t)
	defer rdb.Close()
	ctx := context.Background()
	p := NewRedisPresence(rdb)

	docID := "pt-exp-" + time.Now().Format("20060102150405.000")
	// 逻辑 TTL 已过期的成员会被 lua 清理掉
	if err := p.AddMember(ctx, docID, "u1", "Alice", -1*time.Second); err != nil {
		t.Fatalf("AddMember error: %v", err)
	}

	members, err := p.GetAliveMembersWithNames(ctx, docID)
	if err != nil {
		t.Fatalf("GetAliveMembersWithNames error: %v", err)
	}
	if len(members) != 0 {
		t.Fatalf("expired member still listed: %v", members)
	}
}
