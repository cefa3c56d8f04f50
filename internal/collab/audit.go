package collab

import (
	"time"

	"github.com/google/uuid"
)

// MergeEvent 已接受合并的审计事件（append-only，按 docId 分区）。
// 原始补丁文本一并记录，方便事后回放分歧现场。
type MergeEvent struct {
	EventType     string    `json:"eventType"` // 固定 "MERGE_ACCEPTED"
	EventID       string    `json:"eventId"`
	DocID         string    `json:"docId"`
	VersionNumber int64     `json:"versionNumber"`
	Author        string    `json:"author"`
	BaseVersion   int64     `json:"baseVersion"`
	PatchText     string    `json:"patchText"`
	Confidence    float64   `json:"confidence"`
	NeedsReview   bool      `json:"needsReview"`
	AppliedAt     time.Time `json:"appliedAt"`
}

func NewMergeEvent(p Patch, res MergeResult) MergeEvent {
	return MergeEvent{
		EventType:     "MERGE_ACCEPTED",
		EventID:       uuid.NewString(),
		DocID:         p.DocID,
		VersionNumber: res.VersionNumber,
		Author:        p.Author,
		BaseVersion:   p.BaseVersion,
		PatchText:     p.PatchText,
		Confidence:    res.Confidence,
		NeedsReview:   res.NeedsReview,
		AppliedAt:     time.Now(),
	}
}
