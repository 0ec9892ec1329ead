package middleware

import (
	"net/http"

	ethcommon "github.com/ethereum/go-ethereum/common"
	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
	"gopherheir.com/pkg/common"
	"gopherheir.com/pkg/logger"
	"gopherheir.com/pkg/metrics"
	"gopherheir.com/pkg/ratelimit"
	"gopherheir.com/pkg/sigauth"
	"gopherheir.com/pkg/xerr"
)

// RateLimit 按 调用方+路由 限流。带签名地址头的按地址算，否则按 ip
func RateLimit(service string, store *ratelimit.Store) gin.HandlerFunc {
	return func(c *gin.Context) {
		route := c.FullPath()
		if route == "" {
			route = c.Request.URL.Path
		}
		caller := c.ClientIP()
		if a := c.GetHeader(sigauth.HeaderAddress); ethcommon.IsHexAddress(a) {
			caller = ethcommon.HexToAddress(a).Hex()
		}
		key := caller + ":" + route

		if !store.Allow(key) {
			// 限流属于可控拒绝，不打堆栈
			logger.Warn(c.Request.Context(), "http rate limited",
				zap.String("request_id", common.RequestIDFromGin(c)),
				zap.String("ip", c.ClientIP()),
				zap.String("route", route),
			)
			metrics.RateLimitBlockTotal.WithLabelValues(service, route, "token_bucket").Inc()
			common.Fail(c, http.StatusTooManyRequests, xerr.TooManyRequests, xerr.MapErrMsg(xerr.TooManyRequests))
			c.Abort()
			return
		}
		c.Next()
	}
}
