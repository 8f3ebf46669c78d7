package http

import (
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog/log"

	"github.com/dkeye/huddle/internal/app"
	"github.com/dkeye/huddle/internal/domain"
	"github.com/dkeye/huddle/internal/presence"
)

// handlePresence answers the "which of these users are online" batch query
// backing contact-list views, with last-seen timestamps for the offline
// ones. A store outage is 503, never "everyone is offline".
func handlePresence(c *gin.Context, hub *app.Hub) {
	raw := c.Query("users")
	if raw == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "missing users parameter"})
		return
	}
	var users []domain.UserID
	for _, u := range strings.Split(raw, ",") {
		if u = strings.TrimSpace(u); u != "" {
			users = append(users, domain.UserID(u))
		}
	}

	online, err := hub.OnlineFriends(c.Request.Context(), users)
	if err != nil {
		presenceError(c, err)
		return
	}
	if online == nil {
		online = []domain.UserID{}
	}

	onlineSet := make(map[domain.UserID]struct{}, len(online))
	for _, u := range online {
		onlineSet[u] = struct{}{}
	}
	// For the offline users the contact list shows a last-seen timestamp
	// instead of a presence dot.
	lastSeen := make(map[domain.UserID]time.Time)
	for _, u := range users {
		if _, ok := onlineSet[u]; ok {
			continue
		}
		at, err := hub.LastSeen(c.Request.Context(), u)
		if err != nil {
			presenceError(c, err)
			return
		}
		if !at.IsZero() {
			lastSeen[u] = at
		}
	}
	c.JSON(http.StatusOK, gin.H{"online": online, "last_seen": lastSeen})
}

func presenceError(c *gin.Context, err error) {
	if errors.Is(err, presence.ErrStoreUnavailable) {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "presence unavailable"})
		return
	}
	log.Error().Err(err).Str("module", "adapters.http").Msg("presence query")
	c.JSON(http.StatusInternalServerError, gin.H{"error": "internal error"})
}
