package middleware

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/realestate-ai/enhance-pipeline/internal/auth"
	"github.com/realestate-ai/enhance-pipeline/internal/http/response"
	"github.com/realestate-ai/enhance-pipeline/internal/pkg/ctxutil"
	"github.com/realestate-ai/enhance-pipeline/internal/pkg/logger"
)

type AuthMiddleware struct {
	log       *logger.Logger
	validator *auth.Validator
}

func NewAuthMiddleware(log *logger.Logger, validator *auth.Validator) *AuthMiddleware {
	return &AuthMiddleware{log: log.With("middleware", "AuthMiddleware"), validator: validator}
}

// RequireAuth resolves the bearer token into a user ID and replaces the
// empty RequestData AttachRequestContext seeded with one carrying it.
// Handlers downstream never see a nil RequestData, only an unauthenticated
// request that never made it past here.
func (am *AuthMiddleware) RequireAuth() gin.HandlerFunc {
	return func(c *gin.Context) {
		tokenString := extractBearerToken(c)
		if tokenString == "" {
			response.RespondError(c, http.StatusUnauthorized, "unauthorized", auth.ErrMissingToken)
			c.Abort()
			return
		}
		userID, err := am.validator.ParseUserID(tokenString)
		if err != nil {
			am.log.Debug("rejected request token", "error", err.Error())
			response.RespondError(c, http.StatusUnauthorized, "unauthorized", err)
			c.Abort()
			return
		}

		ctx := ctxutil.WithRequestData(c.Request.Context(), &ctxutil.RequestData{UserID: userID})
		c.Request = c.Request.WithContext(ctx)
		c.Next()
	}
}

func extractBearerToken(c *gin.Context) string {
	if qToken := c.Query("token"); qToken != "" {
		return qToken
	}
	authHeader := c.GetHeader("Authorization")
	if len(authHeader) > 7 && strings.EqualFold(authHeader[:7], "Bearer ") {
		return strings.TrimSpace(authHeader[7:])
	}
	return ""
}
