package httpkit

import (
	"net/http"
	"slices"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
)

// Identity is the caller attached to the request by AuthRequired.
type Identity struct {
	userID uuid.UUID
	roles  []string
}

// UserID is the token subject. It is the actor id of every lease operation.
func (i *Identity) UserID() uuid.UUID {
	return i.userID
}

func (i *Identity) HasRole(role string) bool {
	return slices.Contains(i.roles, role)
}

// MustGetIdentity returns the caller, or aborts with 401 and returns nil when
// the route was reached without AuthRequired.
func MustGetIdentity(c *gin.Context) *Identity {
	raw, ok := c.Get(ContextUserIDKey)
	userID, isUUID := raw.(uuid.UUID)
	if !ok || !isUUID {
		c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "unauthorized"})
		return nil
	}
	roles, _ := c.Get(ContextRolesKey)
	roleList, _ := roles.([]string)
	return &Identity{userID: userID, roles: roleList}
}
