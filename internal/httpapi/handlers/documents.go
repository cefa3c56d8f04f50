package handlers

import (
	"context"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/naumanshiraz/collab-editor/internal/cache"
	"github.com/naumanshiraz/collab-editor/internal/collab"
)

// DocumentHandler 只读检索面：快照查询和活跃房间列表，
// 不参与同步主链路
type DocumentHandler struct {
	engine   *collab.Engine
	presence cache.PresenceCache
}

func NewDocumentHandler(engine *collab.Engine, presence cache.PresenceCache) *DocumentHandler {
	return &DocumentHandler{engine: engine, presence: presence}
}

// GetDocument GET /doc/:docId 当前时点快照
func (h *DocumentHandler) GetDocument(c *gin.Context) {
	docID := c.Param("docId")
	if docID == "" {
		c.JSON(400, gin.H{"error": "Document ID missing"})
		return
	}

	ctx, cancel := context.WithTimeout(c.Request.Context(), 2*time.Second)
	defer cancel()
	snap, err := h.engine.Snapshot(ctx, docID)
	if err != nil {
		c.JSON(500, gin.H{"error": err.Error()})
		return
	}
	c.JSON(200, snap)
}

// GetRooms GET /rooms 各实例共享的活跃房间视图（redis 镜像，仅展示用）
func (h *DocumentHandler) GetRooms(c *gin.Context) {
	ctx, cancel := context.WithTimeout(c.Request.Context(), 2*time.Second)
	defer cancel()
	docs, err := h.presence.GetDocuments(ctx)
	if err != nil {
		c.JSON(500, gin.H{"error": err.Error()})
		return
	}
	rooms := make([]gin.H, 0, len(docs))
	for _, docID := range docs {
		members, err := h.presence.GetAliveMembersWithNames(ctx, docID)
		if err != nil {
			c.JSON(500, gin.H{"error": err.Error()})
			return
		}
		rooms = append(rooms, gin.H{"docId": docID, "members": members})
	}
	c.JSON(200, gin.H{"rooms": rooms})
}
