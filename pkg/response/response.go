// Package response 提供统一的 HTTP 响应处理
package response

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"

	"feepay/pkg/logger"
	"feepay/pkg/payment/types"
)

// 预定义响应状态
const (
	Success = "success" // 成功状态
	Error   = "error"   // 错误状态
)

/* 标准响应结构
{
    "status": "success",
    "data": {},     // 成功时返回的数据
    "error": "",    // 错误时返回的信息
    "message": "",  // 提示信息
}
*/

// Response 统一响应结构体
type Response struct {
	Status  string      `json:"status"`
	Data    interface{} `json:"data,omitempty"`
	Error   string      `json:"error,omitempty"`
	Message string      `json:"message,omitempty"`
}

// ------------------ 成功响应系列 ------------------

// Data 响应 200 和数据
func Data(c *gin.Context, data interface{}) {
	c.JSON(http.StatusOK, Response{
		Status: Success,
		Data:   data,
	})
}

// Created 成功创建的响应
func Created(c *gin.Context, data interface{}, msg ...string) {
	c.JSON(http.StatusCreated, Response{
		Status:  Success,
		Message: getMsg("创建成功", msg...),
		Data:    data,
	})
}

// ------------------ 错误响应系列 ------------------

// Abort400 响应 400 错误
func Abort400(c *gin.Context, msg ...string) {
	abort(c, http.StatusBadRequest, getMsg("请求参数错误", msg...), nil)
}

// Abort404 响应 404 错误
func Abort404(c *gin.Context, msg ...string) {
	abort(c, http.StatusNotFound, getMsg("资源不存在", msg...), nil)
}

// Abort409 响应 409 错误
func Abort409(c *gin.Context, msg ...string) {
	abort(c, http.StatusConflict, getMsg("请求冲突", msg...), nil)
}

// Abort429 响应 429 错误
func Abort429(c *gin.Context, msg ...string) {
	abort(c, http.StatusTooManyRequests, getMsg("请求太频繁，请稍后再试", msg...), nil)
}

// Abort500 响应 500 错误
func Abort500(c *gin.Context, msg ...string) {
	abort(c, http.StatusInternalServerError, getMsg("服务器内部错误", msg...), nil)
}

// Abort502 响应 502 错误
func Abort502(c *gin.Context, msg ...string) {
	abort(c, http.StatusBadGateway, getMsg("支付网关拒绝请求", msg...), nil)
}

// Abort503 响应 503 错误
func Abort503(c *gin.Context, msg ...string) {
	abort(c, http.StatusServiceUnavailable, getMsg("支付网关暂不可用", msg...), nil)
}

// BadRequest 响应 400 错误（带错误信息）
func BadRequest(c *gin.Context, err error, msg ...string) {
	logger.LogIf(err)
	abort(c, http.StatusBadRequest, getMsg("请求格式错误", msg...), err)
}

// ServerError 响应 500 错误（带错误信息）
func ServerError(c *gin.Context, err error, msg ...string) {
	logger.LogIf(err)
	abort(c, http.StatusInternalServerError, getMsg("服务器内部错误", msg...), err)
}

// ValidationError 响应 422 表单验证错误
func ValidationError(c *gin.Context, errors map[string][]string) {
	c.AbortWithStatusJSON(http.StatusUnprocessableEntity, Response{
		Status:  Error,
		Message: "表单验证失败",
		Data:    errors,
	})
}

// PaymentError 按错误类型响应
//
//	配置 / 校验 / 验签错误 -> 400
//	不存在 -> 404
//	冲突 -> 409
//	网关拒绝 -> 502
//	网关不可用 -> 503
//	其他 -> 500
func PaymentError(c *gin.Context, err error) {
	switch {
	case errors.Is(err, types.ErrConfiguration),
		errors.Is(err, types.ErrValidation),
		errors.Is(err, types.ErrSignature):
		abort(c, http.StatusBadRequest, "请求无法处理", err)
	case errors.Is(err, types.ErrNotFound):
		abort(c, http.StatusNotFound, "资源不存在", err)
	case errors.Is(err, types.ErrConflict):
		abort(c, http.StatusConflict, "请求冲突", err)
	case errors.Is(err, types.ErrGatewayRejected):
		logger.LogWarnIf(err)
		abort(c, http.StatusBadGateway, "支付网关拒绝请求", err)
	case errors.Is(err, types.ErrGatewayUnavailable):
		logger.LogWarnIf(err)
		abort(c, http.StatusServiceUnavailable, "支付网关暂不可用", err)
	default:
		ServerError(c, err)
	}
}

func abort(c *gin.Context, code int, message string, err error) {
	resp := Response{
		Status:  Error,
		Message: message,
	}
	if err != nil {
		resp.Error = err.Error()
	}
	c.AbortWithStatusJSON(code, resp)
}

// getMsg 获取消息内容
func getMsg(defaultMsg string, msg ...string) string {
	if len(msg) > 0 {
		return msg[0]
	}
	return defaultMsg
}
