package middleware

import (
	"github.com/gin-gonic/gin"

	"github.com/realestate-ai/enhance-pipeline/internal/pkg/ctxutil"
)

// AttachRequestContext seeds an empty RequestData so downstream handlers can
// always call ctxutil.GetRequestData without a nil check; RequireAuth (or the
// upstream session layer) fills in the real UserID/SessionID later.
func AttachRequestContext() gin.HandlerFunc {
	return func(c *gin.Context) {
		ctx := ctxutil.WithRequestData(c.Request.Context(), &ctxutil.RequestData{})
		c.Request = c.Request.WithContext(ctx)
		c.Next()
	}
}
