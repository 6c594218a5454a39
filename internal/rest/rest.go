// Package rest exposes the HTTP surface: auth flows, the channel and
// message commands, and the websocket gateway upgrade. It is a peer of
// the hub, never an owner of its state: every mutation goes through the
// hub command surface and is mirrored to the store afterwards.
package rest

import (
	"context"
	"net/http"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"github.com/juju/ratelimit"

	"github.com/Xminent/shiki-server/internal/auth"
	"github.com/Xminent/shiki-server/internal/cache"
	"github.com/Xminent/shiki-server/internal/config"
	"github.com/Xminent/shiki-server/internal/hub"
	"github.com/Xminent/shiki-server/internal/id"
	"github.com/Xminent/shiki-server/internal/model"
	"github.com/Xminent/shiki-server/internal/session"
	"github.com/Xminent/shiki-server/internal/store"
	"github.com/Xminent/shiki-server/internal/zlog"
)

const keyUser = "user"

// Server is the HTTP front of the gateway.
type Server struct {
	cfg       *config.Config
	hub       *hub.Hub
	store     *store.Store
	fetcher   *cache.Fetcher
	validator *auth.Validator
	gen       *id.Generator

	engine     *gin.Engine
	upgrader   websocket.Upgrader
	httpServer *http.Server
}

// New assembles the router.
func New(cfg *config.Config, h *hub.Hub, st *store.Store, f *cache.Fetcher, gen *id.Generator) *Server {
	s := &Server{
		cfg:       cfg,
		hub:       h,
		store:     st,
		fetcher:   f,
		validator: auth.NewValidator(f),
		gen:       gen,
		upgrader: websocket.Upgrader{
			CheckOrigin: func(r *http.Request) bool { return true },
		},
	}
	s.engine = s.build()
	return s
}

func (s *Server) build() *gin.Engine {
	r := gin.New()
	r.Use(gin.Recovery())

	r.Use(cors.New(cors.Config{
		AllowOrigins:     []string{s.cfg.ClientURL},
		AllowMethods:     []string{http.MethodGet, http.MethodPost, http.MethodPatch},
		AllowHeaders:     []string{"Authorization", "Accept", "Content-Type"},
		AllowCredentials: true,
		MaxAge:           time.Hour,
	}))

	// 100 requests/second steady state, bursts of 200.
	bucket := ratelimit.NewBucketWithRate(100, 200)
	r.Use(func(c *gin.Context) {
		if bucket.TakeAvailable(1) == 0 {
			c.AbortWithStatus(http.StatusTooManyRequests)
			return
		}
		c.Next()
	})

	authGroup := r.Group("/auth")
	{
		authGroup.POST("/register", s.register)
		authGroup.POST("/login", s.login)
	}

	api := r.Group("/api")
	{
		api.GET("/count", s.getCount)
		api.GET("/channels", s.getChannels)

		authed := api.Group("", s.requireAuth)
		authed.POST("/channels", s.createChannel)
		authed.POST("/channels/:channel_id/join", s.joinChannel)
		authed.POST("/channels/:channel_id/messages", s.createMessage)
		authed.GET("/channels/:channel_id/messages", s.getMessages)
		authed.PATCH("/users/me", s.updateMe)
	}

	r.GET("/gateway", s.gateway)

	return r
}

// Handler exposes the router, used by tests and by Run.
func (s *Server) Handler() http.Handler {
	return s.engine
}

// Run serves until the listener fails or Shutdown is called.
func (s *Server) Run() error {
	s.httpServer = &http.Server{
		Addr:           s.cfg.Addr,
		Handler:        s.engine,
		ReadTimeout:    10 * time.Second,
		MaxHeaderBytes: 1 << 16,
	}

	zlog.Info("http server is listening on %s", s.cfg.Addr)
	return s.httpServer.ListenAndServe()
}

// Shutdown drains in-flight requests.
func (s *Server) Shutdown(ctx context.Context) error {
	if s.httpServer == nil {
		return nil
	}
	return s.httpServer.Shutdown(ctx)
}

// requireAuth resolves "Authorization: Bearer <token>" into a user and
// aborts with 401 otherwise. Lookup failures are deliberately
// indistinguishable from bad tokens to the caller.
func (s *Server) requireAuth(c *gin.Context) {
	const prefix = "Bearer "

	header := c.GetHeader("Authorization")
	if header == "" {
		c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "missing authorization header"})
		return
	}
	if len(header) <= len(prefix) || header[:len(prefix)] != prefix {
		c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "invalid authorization value, must be 'Bearer <token>'"})
		return
	}

	user, err := s.validator.Validate(c.Request.Context(), header[len(prefix):])
	if err != nil {
		zlog.Debug("token rejected: %v", err)
		c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "unauthorized"})
		return
	}

	c.Set(keyUser, user)
	c.Next()
}

func currentUser(c *gin.Context) *model.User {
	u, _ := c.Get(keyUser)
	user, _ := u.(*model.User)
	return user
}

// gateway upgrades the request and hands the socket to a session.
func (s *Server) gateway(c *gin.Context) {
	conn, err := s.upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		zlog.Warn("failed to upgrade gateway connection: %v", err)
		return
	}

	sess := session.New(conn, s.hub)
	go sess.Serve()
}
