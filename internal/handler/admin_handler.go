package handler

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"

	"querytube-go/internal/middleware"
	"querytube-go/internal/model"
	"querytube-go/internal/service"
	"querytube-go/pkg/apperr"
	"querytube-go/pkg/log"
)

// DefaultProgressInterval 是 WebSocket 推送进度的轮询间隔。
const DefaultProgressInterval = 2 * time.Second

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool {
		return true // 已经过 token 校验
	},
}

// AdminHandler 负责处理所有与管理员相关的 API 请求。
type AdminHandler struct {
	adminService service.AdminService
	interval     time.Duration
}

// NewAdminHandler 创建一个新的 AdminHandler 实例。
func NewAdminHandler(adminService service.AdminService, interval time.Duration) *AdminHandler {
	if interval <= 0 {
		interval = DefaultProgressInterval
	}
	return &AdminHandler{adminService: adminService, interval: interval}
}

// RebuildIndex 处理 POST /api/v1/admin/index/rebuild，投递一个索引重建任务。
func (h *AdminHandler) RebuildIndex(c *gin.Context) {
	var req service.RebuildRequest
	if err := c.ShouldBindJSON(&req); err != nil && !errors.Is(err, io.EOF) {
		log.Warnf("[AdminHandler] 重建请求体无效: %v", err)
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid request body"})
		return
	}
	requestedBy := ""
	if claims, ok := middleware.ClaimsFrom(c); ok {
		requestedBy = claims.Subject
	}

	task, err := h.adminService.RequestRebuild(c.Request.Context(), req, requestedBy)
	if err != nil {
		writeError(c, "[AdminHandler] 发起索引重建失败", err)
		return
	}
	c.JSON(http.StatusAccepted, gin.H{"task": task})
}

// ListGenerations 处理 GET /api/v1/admin/generations。
func (h *AdminHandler) ListGenerations(c *gin.Context) {
	limit, err := parseIntParam(c.Query("limit"), 20)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "limit must be an integer"})
		return
	}
	gens, err := h.adminService.ListGenerations(limit)
	if err != nil {
		writeError(c, "[AdminHandler] 查询索引代次失败", err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"generations": gens})
}

// CollectionStatus 处理 GET /api/v1/admin/collection/status，返回最近一次采集的进度快照。
func (h *AdminHandler) CollectionStatus(c *gin.Context) {
	snap, err := h.adminService.CollectionStatus(c.Request.Context())
	if err != nil {
		writeError(c, "[AdminHandler] 查询采集进度失败", err)
		return
	}
	c.JSON(http.StatusOK, snap)
}

// CollectionStream 处理 GET /api/v1/admin/collection/ws，快照变化时推送给客户端。
func (h *AdminHandler) CollectionStream(c *gin.Context) {
	conn, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		log.Error("[AdminHandler] WebSocket 升级失败", err)
		return
	}
	defer conn.Close()
	log.Infof("[AdminHandler] 进度 WebSocket 连接已建立, remote: %s", c.ClientIP())

	ctx, cancel := context.WithCancel(c.Request.Context())
	defer cancel()

	// 读循环只用来感知客户端断开
	go func() {
		defer cancel()
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()

	ticker := time.NewTicker(h.interval)
	defer ticker.Stop()

	lastKey := ""
	for {
		snap, err := h.adminService.CollectionStatus(ctx)
		switch {
		case err == nil && snapshotKey(snap) != lastKey:
			lastKey = snapshotKey(snap)
			if err := conn.WriteJSON(snap); err != nil {
				log.Warnf("[AdminHandler] 推送进度失败: %v", err)
				return
			}
		case err != nil && !apperr.Is(err, apperr.InputNotFound):
			_ = conn.WriteJSON(gin.H{"error": apperr.PublicMessage(err)})
			return
		}
		if snap != nil && snap.Status != "" && snap.Status != model.ProgressRunning {
			_ = conn.WriteMessage(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseNormalClosure, snap.Status))
			return
		}

		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}

// snapshotKey 标识一次进度变化。UpdatedAt 只精确到秒，同一秒内的计数和状态变化也要推送。
func snapshotKey(s *model.ProgressSnapshot) string {
	return fmt.Sprintf("%s|%s|%s|%d|%d|%d|%d", s.RunID, s.UpdatedAt, s.Status, s.Total, s.Processed, s.Succeeded, s.Failed)
}
