package middleware

import (
	"net/http"
	"strconv"

	"golang.org/x/crypto/bcrypt"

	"xpanel/internal/store"
	"xpanel/pkg/response"

	"github.com/gin-gonic/gin"
)

// NodeAuth authenticates node-initiated callbacks: the caller supplies
// its node ID and a raw API key, checked against the bcrypt hash Store
// holds for that node.
func NodeAuth(st *store.Store) gin.HandlerFunc {
	return func(c *gin.Context) {
		apiKey := c.GetHeader("X-API-Key")
		nodeIDStr := c.GetHeader("X-Node-ID")
		if apiKey == "" || nodeIDStr == "" {
			response.Error(c, http.StatusUnauthorized, "missing node credentials")
			c.Abort()
			return
		}

		nodeID, err := strconv.ParseUint(nodeIDStr, 10, 64)
		if err != nil {
			response.Error(c, http.StatusUnauthorized, "invalid node id")
			c.Abort()
			return
		}

		hash, err := st.GetNodeAPIKeyHash(c.Request.Context(), uint(nodeID))
		if err != nil {
			response.Error(c, http.StatusUnauthorized, "node not recognized")
			c.Abort()
			return
		}

		if bcrypt.CompareHashAndPassword([]byte(hash), []byte(apiKey)) != nil {
			response.Error(c, http.StatusUnauthorized, "invalid API key")
			c.Abort()
			return
		}

		c.Set("node_id", uint(nodeID))
		c.Next()
	}
}

// GetNodeID retrieves the authenticated node ID set by NodeAuth.
func GetNodeID(c *gin.Context) (uint, bool) {
	v, exists := c.Get("node_id")
	if !exists {
		return 0, false
	}
	id, ok := v.(uint)
	return id, ok
}
