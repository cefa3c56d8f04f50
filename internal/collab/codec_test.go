package collab

import (
	"testing"
)

func TestCodec_RoundTrip(t *testing.T) {
	codec := NewDiffMatchPatchCodec()
	pre := "The quick brown fox\njumps over the lazy dog\n"
	post := "The quick brown cat\njumps over the sleeping dog\n"

	parsed, err := codec.Parse(codec.Make(pre, post))
	if err != nil {
		t.Fatalf("Parse() error = %v", err)
	}
	if parsed.HunkCount() == 0 {
		t.Fatalf("HunkCount() = 0, want > 0")
	}

	merged, applied := codec.Apply(pre, parsed)
	for i, ok := range applied {
		if !ok {
			t.Fatalf("hunk %d did not apply", i)
		}
	}
	// 置信度 1.0 的补丁在原内容上重放必须精确复现目标内容
	if merged != post {
		t.Fatalf("Apply() = %q, want %q", merged, post)
	}
}

func TestCodec_ParseErrors(t *testing.T) {
	codec := NewDiffMatchPatchCodec()

	if _, err := codec.Parse("this is not a patch"); err == nil {
		t.Fatalf("Parse() expected error for malformed text")
	}
	// 空补丁按不可解析处理
	if _, err := codec.Parse(""); err == nil {
		t.Fatalf("Parse() expected error for empty text")
	}
}

func TestCodec_UnanchoredHunkFails(t *testing.T) {
	codec := NewDiffMatchPatchCodec()
	parsed, err := codec.Parse(codec.Make("The quick brown fox jumped", "The quick brown cat jumped"))
	if err != nil {
		t.Fatalf("Parse() error = %v", err)
	}

	// 上下文锚点在目标文本里完全不存在，模糊匹配是有界的，不能硬套
	merged, applied := codec.Apply("Hello World", parsed)
	if len(applied) == 0 {
		t.Fatalf("expected per-hunk flags")
	}
	for i, ok := range applied {
		if ok {
			t.Fatalf("hunk %d applied against unrelated content", i)
		}
	}
	if merged != "Hello World" {
		t.Fatalf("failed apply must not mutate content: %q", merged)
	}
}
