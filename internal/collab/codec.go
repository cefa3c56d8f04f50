package collab

import (
	"github.com/sergi/go-diff/diffmatchpatch"
)

// ParsedPatch 解析后的补丁（有序 hunk 列表），对引擎不透明
type ParsedPatch interface {
	HunkCount() int
}

// PatchCodec 差异/补丁算法的可插拔契约。
// 引擎只消费这三个能力，不关心内部的模糊上下文匹配怎么做。
type PatchCodec interface {
	// Parse 解析补丁文本，失败或空补丁返回 error
	Parse(patchText string) (ParsedPatch, error)
	// Apply 逐 hunk 应用到 base，返回合并结果和每个 hunk 是否落位
	Apply(base string, p ParsedPatch) (merged string, applied []bool)
	// Make 由前后内容生成补丁文本（base 重定位和审计回放用）
	Make(before, after string) string
}

type dmpPatch struct {
	patches []diffmatchpatch.Patch
}

func (p dmpPatch) HunkCount() int { return len(p.patches) }

// DiffMatchPatchCodec 基于 diff-match-patch 的默认实现。
// hunk 自带上下文锚点，PatchApply 做有界距离的模糊匹配，
// 所以对陈旧 base 提交的补丁也可能在前进后的文档上干净落位。
type DiffMatchPatchCodec struct {
	dmp *diffmatchpatch.DiffMatchPatch
}

func NewDiffMatchPatchCodec() *DiffMatchPatchCodec {
	return &DiffMatchPatchCodec{dmp: diffmatchpatch.New()}
}

func (c *DiffMatchPatchCodec) Parse(patchText string) (ParsedPatch, error) {
	patches, err := c.dmp.PatchFromText(patchText)
	if err != nil {
		return nil, err
	}
	if len(patches) == 0 {
		// 空补丁按不可解析处理，上层拒绝且不改状态
		return nil, ErrEmptyPatch
	}
	return dmpPatch{patches: patches}, nil
}

func (c *DiffMatchPatchCodec) Apply(base string, p ParsedPatch) (string, []bool) {
	dp, ok := p.(dmpPatch)
	if !ok {
		return base, nil
	}
	return c.dmp.PatchApply(dp.patches, base)
}

func (c *DiffMatchPatchCodec) Make(before, after string) string {
	return c.dmp.PatchToText(c.dmp.PatchMake(before, after))
}
