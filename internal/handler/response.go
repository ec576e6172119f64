// Package handler 包含了处理 HTTP 请求的控制器逻辑。
package handler

import (
	"net/http"

	"chara-chat-go/internal/apperr"
	"chara-chat-go/internal/model"

	"github.com/gin-gonic/gin"
)

// ok 以统一的成功响应格式返回数据。
func ok(c *gin.Context, data interface{}) {
	c.JSON(http.StatusOK, gin.H{"code": http.StatusOK, "message": "success", "data": data})
}

// okMsg 返回只有提示消息的成功响应。
func okMsg(c *gin.Context, message string) {
	c.JSON(http.StatusOK, gin.H{"code": http.StatusOK, "message": message})
}

// fail 将业务错误映射为统一的错误响应，HTTP 状态码由错误分类决定。
func fail(c *gin.Context, err error) {
	status := apperr.HTTPStatus(err)
	c.JSON(status, gin.H{"code": status, "message": apperr.Message(err)})
}

// failBadRequest 返回参数校验失败的错误响应。
func failBadRequest(c *gin.Context, message string) {
	c.JSON(http.StatusBadRequest, gin.H{"code": http.StatusBadRequest, "message": message})
}

// currentUser 从上下文中取出 AuthMiddleware 注入的 User 对象。
// 取不到时直接写入错误响应并返回 false。
func currentUser(c *gin.Context) (*model.User, bool) {
	userValue, exists := c.Get("user")
	if !exists {
		c.JSON(http.StatusInternalServerError, gin.H{
			"code":    http.StatusInternalServerError,
			"message": "无法获取用户信息",
		})
		return nil, false
	}
	user, ok := userValue.(*model.User)
	if !ok || user == nil {
		c.JSON(http.StatusInternalServerError, gin.H{
			"code":    http.StatusInternalServerError,
			"message": "用户数据类型错误",
		})
		return nil, false
	}
	return user, true
}
