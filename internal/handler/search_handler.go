// Package handler 包含了处理 HTTP 请求的控制器逻辑。
package handler

import (
	"chara-chat-go/internal/service"

	"github.com/gin-gonic/gin"
)

// SearchHandler 负责处理角色目录的搜索请求。
type SearchHandler struct {
	searchService service.SearchService
}

// NewSearchHandler 创建一个新的 SearchHandler 实例。
func NewSearchHandler(searchService service.SearchService) *SearchHandler {
	return &SearchHandler{searchService: searchService}
}

// SearchCharacters 按关键词搜索角色目录。
// 搜索者开启了安全过滤时，结果只包含同样开启安全过滤的角色。
func (h *SearchHandler) SearchCharacters(c *gin.Context) {
	user, okUser := currentUser(c)
	if !okUser {
		return
	}

	query := c.Query("q")
	results, err := h.searchService.SearchCharacters(c.Request.Context(), query, user.ID, user.SafetyFilter)
	if err != nil {
		fail(c, err)
		return
	}
	ok(c, results)
}
