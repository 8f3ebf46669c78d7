package http

import (
	"context"
	"net/http"
	"strings"

	"github.com/gin-contrib/sessions"
	"github.com/gin-contrib/sessions/cookie"
	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"github.com/dkeye/huddle/internal/adapters/signal"
	"github.com/dkeye/huddle/internal/app"
	"github.com/dkeye/huddle/internal/auth"
	"github.com/dkeye/huddle/internal/config"
)

func genClientToken() string {
	return uuid.NewString()
}

// ClientTokenMiddleware gives browser clients a sticky opaque id so the
// same device is recognizable across page loads. It is not the identity;
// identity comes from the bearer credential.
func ClientTokenMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		token, _ := c.Cookie("ct")
		if token == "" {
			token = genClientToken()
			c.SetCookie("ct", token, 3600*24*7, "/", "", false, true)
		}
		c.Set("client_token", token)
		c.Next()
	}
}

// BearerAuth verifies the bearer credential (Authorization header, or the
// token query parameter for browser WebSocket clients) and aborts with 401
// before the upgrade when it is missing or invalid. No hub state is
// touched for a refused connection.
func BearerAuth(verifier auth.Verifier) gin.HandlerFunc {
	return func(c *gin.Context) {
		token := c.Query("token")
		if h := c.GetHeader("Authorization"); strings.HasPrefix(h, "Bearer ") {
			token = strings.TrimPrefix(h, "Bearer ")
		}
		if token == "" {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": auth.ErrAuthenticationFailed.Error()})
			return
		}
		user, err := verifier.Verify(c.Request.Context(), token)
		if err != nil {
			log.Warn().Err(err).Str("module", "adapters.http").Msg("auth refused")
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": auth.ErrAuthenticationFailed.Error()})
			return
		}
		c.Set("user_id", string(user))
		c.Next()
	}
}

func SetupRouter(ctx context.Context, cfg *config.Config, hub *app.Hub, verifier auth.Verifier) *gin.Engine {
	if cfg.Mode == "release" {
		gin.SetMode(gin.ReleaseMode)
	}

	r := gin.New()
	if cfg.Mode == "debug" {
		r.Use(gin.Logger())
	}
	r.Use(gin.Recovery())

	store := cookie.NewStore([]byte(cfg.Secret))
	r.Use(sessions.Sessions("HuddleSessions", store))
	r.Use(ClientTokenMiddleware())

	r.GET("/healthz", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})

	ctrl := signal.NewController(hub, cfg)
	api := r.Group("/api")
	api.GET("/ws", BearerAuth(verifier), func(c *gin.Context) {
		ctrl.HandleConn(ctx, c)
	})
	api.GET("/presence", BearerAuth(verifier), func(c *gin.Context) {
		handlePresence(c, hub)
	})

	log.Info().Str("module", "adapters.http").Msg("router setup")
	return r
}
