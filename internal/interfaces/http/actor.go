package http

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/garyjia/employee-lifecycle/internal/domain/entity"
)

// Identity headers set by the upstream authenticating proxy
const (
	HeaderActorID   = "X-Actor-ID"
	HeaderActorRole = "X-Actor-Role"
)

const actorKey = "lifecycle.actor"

// RequireActor reads the actor from the identity headers.
// Requests without an actor id are rejected with 401; an unknown role is
// passed through and denied by the policy gate.
func RequireActor() gin.HandlerFunc {
	return func(c *gin.Context) {
		id := strings.TrimSpace(c.GetHeader(HeaderActorID))
		if id == "" {
			c.AbortWithStatusJSON(http.StatusUnauthorized, Response{
				Success: false,
				Error:   "missing " + HeaderActorID + " header",
			})
			return
		}

		role := entity.Role(strings.ToUpper(strings.TrimSpace(c.GetHeader(HeaderActorRole))))
		c.Set(actorKey, entity.Actor{ID: id, Role: role})
		c.Next()
	}
}

// actorFrom returns the actor stored by RequireActor
func actorFrom(c *gin.Context) entity.Actor {
	if v, ok := c.Get(actorKey); ok {
		if actor, ok := v.(entity.Actor); ok {
			return actor
		}
	}
	return entity.Actor{}
}
