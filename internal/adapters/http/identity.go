package http

import (
	"github.com/dkeye/devrooms/internal/domain"
	"github.com/gin-contrib/sessions"
	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog/log"
)

const (
	HeaderUserID = "X-User-ID"

	userKey        = "user_id"
	sessionUserKey = "uid"
)

// IdentityMiddleware resolves the acting user: the X-User-ID header set by
// an upstream auth proxy, otherwise a guest id kept in the cookie session.
func IdentityMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		if raw := c.GetHeader(HeaderUserID); raw != "" {
			id, err := domain.ParseUserID(raw)
			if err != nil {
				writeServiceError(c, err)
				return
			}
			c.Set(userKey, id)
			c.Next()
			return
		}

		s := sessions.Default(c)
		id, _ := s.Get(sessionUserKey).(string)
		if id == "" {
			id = string(domain.NewGuestID())
			s.Set(sessionUserKey, id)
			if err := s.Save(); err != nil {
				log.Error().Err(err).Str("module", "adapters.http").Msg("save session")
			}
			log.Debug().Str("module", "adapters.http").Str("user", id).Msg("new guest")
		}
		c.Set(userKey, domain.UserID(id))
		c.Next()
	}
}

func currentUser(c *gin.Context) domain.UserID {
	v, _ := c.Get(userKey)
	id, _ := v.(domain.UserID)
	return id
}
