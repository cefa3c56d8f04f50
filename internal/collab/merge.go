package collab

import (
	"context"
	"fmt"
	"time"
)

// merge 在文档 actor 里执行：解析 -> 解析 base -> 应用 -> 打分 -> 决策。
// 除了走 store.Commit，绝不原地改 doc。
func (e *Engine) merge(ctx context.Context, a *docActor, p Patch) (MergeResult, error) {
	parsed, err := e.codec.Parse(p.PatchText)
	if err != nil {
		return MergeResult{
			Status:        StatusInvalidPatch,
			Content:       a.state.content,
			VersionNumber: a.state.version,
		}, nil
	}

	// base 解析：补丁声明的 baseVersion 若是已知历史版本，
	// 先在那个快照上还原作者意图，再重新生成锚定良好的 hunk。
	// 这让基于陈旧 base 的补丁有机会在已前进的文档上干净落位。
	parsed = e.rebase(a, p, parsed)

	merged, applied := e.codec.Apply(a.state.content, parsed)
	total := len(applied)
	ok := 0
	for _, f := range applied {
		if f {
			ok++
		}
	}
	confidence := 0.0
	if total > 0 {
		confidence = float64(ok) / float64(total)
	}

	if ok == 0 {
		// 一个 hunk 都放不进去：客户端拿权威内容从头重同步
		return MergeResult{
			Status:        StatusMergeFailed,
			Content:       a.state.content,
			VersionNumber: a.state.version,
			Confidence:    0,
		}, nil
	}
	if merged == a.state.content {
		return MergeResult{
			Status:        StatusNoChange,
			Content:       a.state.content,
			VersionNumber: a.state.version,
			Confidence:    confidence,
		}, nil
	}
	if e.policy.RejectBelowThreshold && confidence < e.policy.LowConfidenceThreshold {
		return MergeResult{
			Status:        StatusLowConfidence,
			Content:       a.state.content,
			VersionNumber: a.state.version,
			Confidence:    confidence,
		}, nil
	}

	ts := p.Timestamp
	if ts.IsZero() {
		ts = time.Now()
	}
	author := p.Author
	if author == "" {
		author = "anonymous"
	}
	// 唯一的落盘点。失败则不推进内存状态，调用方报一个瞬态错误。
	ver, err := e.store.Commit(ctx, p.DocID, merged, author, ts)
	if err != nil {
		return MergeResult{}, fmt.Errorf("commit doc %s: %w", p.DocID, err)
	}
	a.state.content = merged
	a.state.version = ver.VersionNumber
	a.state.versions = append(a.state.versions, ver)

	// 部分成功仍然持久接受，needsReview 只是给人看的信号，不拦提交。
	// 全 hunk 落位不标记；有 hunk 丢失且置信度掉到阈值（含）以下才标记。
	return MergeResult{
		Status:        StatusAccepted,
		Content:       merged,
		VersionNumber: ver.VersionNumber,
		Confidence:    confidence,
		NeedsReview:   confidence < 1 && confidence <= e.policy.LowConfidenceThreshold,
	}, nil
}

// rebase 尝试用 base 快照重定位补丁；任何一步不成立就原样返回
func (e *Engine) rebase(a *docActor, p Patch, parsed ParsedPatch) ParsedPatch {
	if p.BaseVersion <= 0 || p.BaseVersion == a.state.version {
		return parsed
	}
	base, ok := a.state.versionContent(p.BaseVersion)
	if !ok || base == a.state.content {
		return parsed
	}
	intended, flags := e.codec.Apply(base, parsed)
	for _, f := range flags {
		if !f {
			// 在自己声明的 base 上都放不干净，按当前内容直接模糊匹配
			return parsed
		}
	}
	if intended == base {
		return parsed
	}
	rebased, err := e.codec.Parse(e.codec.Make(base, intended))
	if err != nil {
		return parsed
	}
	return rebased
}
