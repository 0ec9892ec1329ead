package middleware

import (
	"errors"
	"net/http"

	sentinels "github.com/alibaba/sentinel-golang/api"
	"github.com/alibaba/sentinel-golang/core/base"
	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
	"gopherheir.com/pkg/common"
	"gopherheir.com/pkg/logger"
	"gopherheir.com/pkg/metrics"
	"gopherheir.com/pkg/xerr"
)

// Sentinel 资源名用 "METHOD 路由模板"，规则在 bootstrap 里按这个名字加载
func Sentinel(service string) gin.HandlerFunc {
	return func(c *gin.Context) {
		route := c.FullPath()
		if route == "" {
			route = c.Request.URL.Path
		}
		resource := c.Request.Method + " " + route

		entry, blockErr := sentinels.Entry(resource, sentinels.WithTrafficType(base.Inbound))
		if blockErr != nil {
			logger.Warn(c.Request.Context(), "request blocked by sentinel",
				zap.String("resource", resource),
				zap.String("blockType", blockErr.BlockType().String()),
				zap.String("blockMsg", blockErr.Error()),
			)
			metrics.RateLimitBlockTotal.WithLabelValues(service, route, "sentinel").Inc()
			common.Fail(c, http.StatusServiceUnavailable, xerr.ServiceBusy, xerr.MapErrMsg(xerr.ServiceBusy))
			c.Abort()
			return
		}
		defer entry.Exit()

		c.Next()

		// 只有系统错误计入熔断，业务拒绝不算
		for _, ge := range c.Errors {
			if IsSystemError(ge.Err) {
				sentinels.TraceError(entry, ge.Err)
				break
			}
		}
	}
}

// IsSystemError 业务码在 5xx 段的才算依赖不健康
func IsSystemError(err error) bool {
	if err == nil {
		return false
	}
	var ce *xerr.CodeError
	if !errors.As(err, &ce) {
		return true
	}
	return ce.Code >= xerr.ServerCommonError
}
