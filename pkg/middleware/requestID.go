package middleware

import (
	"context"

	"github.com/gin-gonic/gin"
	"gopherheir.com/pkg/common"
)

// 上游带进来的 request id 超过这个长度就重新生成，日志和事件里都会带它
const maxRequestIDLen = 64

func ReqId() gin.HandlerFunc {
	return func(c *gin.Context) {
		rid := c.GetHeader(common.HeaderRequestID)
		if rid == "" || len(rid) > maxRequestIDLen {
			rid = common.New()
		}
		c.Set(common.CtxKeyRequestID, rid)
		c.Header(common.HeaderRequestID, rid)
		// 写进 request context，service 层和日志都从这里取
		ctx := context.WithValue(c.Request.Context(), common.CtxKeyRequestID, rid)
		c.Request = c.Request.WithContext(ctx)
		c.Next()
	}
}
