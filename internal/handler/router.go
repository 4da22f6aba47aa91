package handler

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"
	"github.com/sirupsen/logrus"

	"xpanel/internal/adminauth"
	"xpanel/internal/middleware"
	"xpanel/internal/noderegistry"
	"xpanel/internal/operations"
	"xpanel/internal/pki"
	"xpanel/internal/store"
	"xpanel/pkg/jwt"
)

// Deps bundles everything the router needs to build handlers and wire
// middleware.
type Deps struct {
	Store        *store.Store
	Auth         *adminauth.Service
	JWT          *jwt.Manager
	Operations   *operations.Operations
	Registry     *noderegistry.Registry
	PKI          *pki.Manager
	Redis        *redis.Client
	Log          *logrus.Logger
	SubURLPrefix string
	SubSupportURL     string
	SubProfileTitle   string
	SubUpdateInterval int
}

// NewRouter builds the full gin engine: global middleware, public
// routes, admin-session routes, and node-callback routes.
func NewRouter(deps Deps) *gin.Engine {
	router := gin.New()

	router.Use(middleware.CORS())
	router.Use(gin.Recovery())
	router.Use(middleware.Logger(deps.Log))

	rateLimiter := middleware.NewRateLimiter(deps.Redis, 120, 60)
	router.Use(rateLimiter.Middleware())

	router.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})
	router.GET("/metrics", gin.WrapH(promhttp.Handler()))

	authHandler := NewAuthHandler(deps.Auth)
	adminsHandler := NewAdminsHandler(deps.Store)
	usersHandler := NewUsersHandler(deps.Store, deps.Operations)
	nodesHandler := NewNodesHandler(deps.Store, deps.Operations, deps.Registry, deps.PKI)
	activationHandler := NewActivationHandler(deps.Operations)
	subscriptionHandler := NewSubscriptionHandler(deps.Store, deps.JWT, deps.SubSupportURL, deps.SubProfileTitle, deps.SubUpdateInterval)

	router.GET(deps.SubURLPrefix+"/:token", subscriptionHandler.Get)

	v1 := router.Group("/api/v1")
	{
		auth := v1.Group("/auth")
		{
			auth.POST("/login", authHandler.Login)
			auth.POST("/refresh", authHandler.Refresh)
		}

		authMiddleware := middleware.AuthMiddleware(deps.Auth)
		sudoMiddleware := middleware.AdminMiddleware()

		v1.POST("/auth/logout", authMiddleware, authHandler.Logout)
		v1.GET("/auth/me", authMiddleware, authHandler.Me)

		admins := v1.Group("/admins").Use(authMiddleware, sudoMiddleware)
		{
			admins.GET("", adminsHandler.List)
			admins.POST("", adminsHandler.Create)
			admins.PUT("/:id/password", adminsHandler.ChangePassword)
			admins.DELETE("/:id", adminsHandler.Delete)
		}

		users := v1.Group("/users").Use(authMiddleware)
		{
			users.GET("", usersHandler.List)
			users.POST("", usersHandler.Create)
			users.GET("/:account", usersHandler.Get)
			users.PUT("/:account", usersHandler.Update)
			users.DELETE("/:account", usersHandler.Delete)
			users.POST("/:account/reset-usage", usersHandler.ResetUsage)
			users.POST("/:account/revoke-sub", usersHandler.RevokeSub)
			users.POST("/:account/revoke-proxy", usersHandler.RevokeProxy)
			users.POST("/:account/activate", activationHandler.Activate)
			users.POST("/:account/deactivate", activationHandler.Deactivate)
		}

		nodes := v1.Group("/nodes").Use(authMiddleware, sudoMiddleware)
		{
			nodes.GET("", nodesHandler.List)
			nodes.POST("", nodesHandler.Create)
			nodes.GET("/:id", nodesHandler.Get)
			nodes.DELETE("/:id", nodesHandler.Delete)
			nodes.POST("/:id/connect", nodesHandler.Connect)
			nodes.POST("/:id/restart", nodesHandler.Restart)
			nodes.PUT("/:id/services", nodesHandler.UpsertService)
			nodes.DELETE("/:id/services/:service_id", nodesHandler.DeleteService)
		}
	}

	nodeCallback := router.Group("/node-callback").Use(middleware.NodeAuth(deps.Store))
	{
		nodeCallback.GET("/ping", func(c *gin.Context) {
			c.JSON(http.StatusOK, gin.H{"status": "ok"})
		})
	}

	return router
}
