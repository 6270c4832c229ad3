// Package handler 包含了处理 HTTP 请求的控制器逻辑。
package handler

import (
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"unicode/utf8"

	"github.com/gin-gonic/gin"

	"querytube-go/internal/config"
	"querytube-go/internal/model"
	"querytube-go/internal/service"
	"querytube-go/pkg/apperr"
	"querytube-go/pkg/log"
)

const (
	defaultLimit          = 10
	defaultMaxLimit       = 50
	defaultMinQueryLength = 3
)

// SearchHandler 结构体定义了检索相关的处理器。
type SearchHandler struct {
	searchService  service.SearchService
	defaultLimit   int
	maxLimit       int
	minQueryLength int
}

// NewSearchHandler 创建一个新的 SearchHandler 实例，cfg 中为 0 的字段使用默认值。
func NewSearchHandler(searchService service.SearchService, cfg config.SearchConfig) *SearchHandler {
	h := &SearchHandler{
		searchService:  searchService,
		defaultLimit:   cfg.DefaultLimit,
		maxLimit:       cfg.MaxLimit,
		minQueryLength: cfg.MinQueryLength,
	}
	if h.maxLimit <= 0 {
		h.maxLimit = defaultMaxLimit
	}
	if h.defaultLimit <= 0 {
		h.defaultLimit = defaultLimit
	}
	if h.defaultLimit > h.maxLimit {
		h.defaultLimit = h.maxLimit
	}
	if h.minQueryLength <= 0 {
		h.minQueryLength = defaultMinQueryLength
	}
	return h
}

// InitialVideos 处理 GET /initial-videos，按写入顺序分页浏览，不做排序。
func (h *SearchHandler) InitialVideos(c *gin.Context) {
	offset, err := parseIntParam(c.Query("offset"), 0)
	if err != nil {
		log.Warnf("[SearchHandler] offset 参数无效: %q", c.Query("offset"))
		c.JSON(http.StatusBadRequest, gin.H{"error": "offset must be an integer"})
		return
	}
	limit, err := parseIntParam(c.Query("limit"), h.defaultLimit)
	if err != nil {
		log.Warnf("[SearchHandler] limit 参数无效: %q", c.Query("limit"))
		c.JSON(http.StatusBadRequest, gin.H{"error": "limit must be an integer"})
		return
	}
	offset, limit = h.clamp(offset, limit)

	res, err := h.searchService.Search(c.Request.Context(), "", offset, limit)
	if err != nil {
		writeError(c, "[SearchHandler] 获取初始视频失败", err)
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"videos":   nonNil(res.Results),
		"has_more": res.HasMore,
		"total":    res.Total,
	})
}

// Search 处理 POST /search。
func (h *SearchHandler) Search(c *gin.Context) {
	var req model.SearchRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		log.Warnf("[SearchHandler] 请求体解析失败: %v", err)
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid request body. Expected {\"query\": string, \"offset\": int, \"limit\": int}."})
		return
	}
	query := strings.TrimSpace(req.Query)
	if utf8.RuneCountInString(query) < h.minQueryLength {
		log.Warnf("[SearchHandler] 查询过短: %q", req.Query)
		c.JSON(http.StatusBadRequest, gin.H{
			"error": fmt.Sprintf("Invalid query provided. Query must be at least %d characters long.", h.minQueryLength),
		})
		return
	}

	offset, limit := 0, h.defaultLimit
	if req.Offset != nil {
		offset = *req.Offset
	}
	if req.Limit != nil {
		limit = *req.Limit
	}
	offset, limit = h.clamp(offset, limit)
	log.Infof("[SearchHandler] 收到检索请求, query: '%s', offset: %d, limit: %d", query, offset, limit)

	res, err := h.searchService.Search(c.Request.Context(), query, offset, limit)
	if err != nil {
		writeError(c, "[SearchHandler] 检索失败", err)
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"results":  nonNil(res.Results),
		"has_more": res.HasMore,
		"total":    res.Total,
	})
}

func (h *SearchHandler) clamp(offset, limit int) (int, int) {
	if offset < 0 {
		offset = 0
	}
	if limit < 1 {
		limit = 1
	}
	if limit > h.maxLimit {
		limit = h.maxLimit
	}
	return offset, limit
}

func parseIntParam(raw string, def int) (int, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return def, nil
	}
	return strconv.Atoi(raw)
}

func nonNil(results []model.VideoResult) []model.VideoResult {
	if results == nil {
		return []model.VideoResult{}
	}
	return results
}

// writeError 按错误类别返回状态码，响应体统一为 {"error": "..."}。
func writeError(c *gin.Context, logPrefix string, err error) {
	status := apperr.HTTPStatus(err)
	if status >= http.StatusInternalServerError {
		log.Errorf("%s, error: %v", logPrefix, err)
	} else {
		log.Warnf("%s, error: %v", logPrefix, err)
	}
	c.JSON(status, gin.H{"error": apperr.PublicMessage(err)})
}
