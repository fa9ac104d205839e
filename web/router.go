package web

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/deemkeen/vidfed/activitypub"
	"github.com/deemkeen/vidfed/db"
	"github.com/deemkeen/vidfed/logging"
	"github.com/deemkeen/vidfed/telemetry"
	"github.com/deemkeen/vidfed/util"
	"github.com/gin-contrib/gzip"
	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
	"golang.org/x/time/rate"
)

// maxActivitySize bounds inbox request bodies.
const maxActivitySize = 1 << 20

const shutdownTimeout = 10 * time.Second

// Server is the HTTP surface of the federation: discovery documents, actors,
// collections, video objects and the inboxes.
type Server struct {
	conf     *util.AppConfig
	db       *db.DB
	fed      *activitypub.Federation
	urls     *activitypub.URLs
	engine   *gin.Engine
	limiters []*RateLimiter
	log      *zap.Logger
}

func NewServer(conf *util.AppConfig, database *db.DB, fed *activitypub.Federation) *Server {
	s := &Server{
		conf: conf,
		db:   database,
		fed:  fed,
		urls: fed.URLs,
		log:  logging.WithComponent("web"),
	}
	s.engine = s.router()
	return s
}

// Handler exposes the gin engine, mostly for tests.
func (s *Server) Handler() http.Handler {
	return s.engine
}

func (s *Server) router() *gin.Engine {
	g := gin.New()
	g.Use(gin.Recovery(), RequestLogger(s.log), Tracing())

	// 10 requests per second per IP, burst of 20
	globalLimiter := NewRateLimiter(rate.Limit(10), 20)
	// inbox deliveries: 5 per second per IP
	inboxLimiter := NewRateLimiter(rate.Limit(5), 10)
	s.limiters = []*RateLimiter{globalLimiter, inboxLimiter}

	reads := g.Group("/", RateLimitMiddleware(globalLimiter), gzip.Gzip(gzip.DefaultCompression))
	reads.GET("/.well-known/webfinger", s.getWebfinger)
	reads.GET("/.well-known/nodeinfo", s.getNodeInfoLinks)
	reads.GET("/nodeinfo/2.0.json", s.getNodeInfo)
	reads.GET("/feed", s.getFeed)

	ap := reads.Group("/ap")
	ap.GET("", s.getInstanceActor)
	ap.GET("/outbox", s.getOutbox)
	ap.GET("/following", s.getFollowing)
	ap.GET("/followers", s.getFollowers)

	ap.GET("/account/:username", s.getAccount)
	ap.GET("/account/:username/outbox", s.getOutbox)
	ap.GET("/account/:username/following", s.getFollowing)
	ap.GET("/account/:username/followers", s.getFollowers)
	ap.GET("/account/:username/channel", s.getAccountChannel)

	ap.GET("/channel/:slug", s.getChannel)
	ap.GET("/video/:slug", s.getVideo)
	ap.GET("/video/:slug/:collection", s.getVideoCollection)

	inbox := g.Group("/ap", RateLimitMiddleware(inboxLimiter), MaxBytesMiddleware(maxActivitySize))
	inbox.POST("/inbox", s.postInbox)
	inbox.POST("/account/:username/inbox", s.postInbox)

	if s.conf.Telemetry.Enabled && s.conf.Telemetry.Prometheus {
		g.GET("/metrics", gin.WrapH(telemetry.Handler()))
	}
	return g
}

// Serve listens until ctx is cancelled, then shuts the server down gracefully.
func (s *Server) Serve(ctx context.Context) error {
	addr := fmt.Sprintf("%s:%d", s.conf.Server.Host, s.conf.Server.HttpPort)
	srv := &http.Server{
		Addr:              addr,
		Handler:           s.engine,
		ReadHeaderTimeout: 10 * time.Second,
	}
	for _, rl := range s.limiters {
		go rl.Run(ctx)
	}

	errc := make(chan error, 1)
	go func() {
		s.log.Info("Starting HTTP server", zap.String("addr", addr), zap.String("base_url", s.urls.Base()))
		errc <- srv.ListenAndServe()
	}()

	select {
	case err := <-errc:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
		s.log.Info("Shutting down HTTP server")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	}
}

// activityJSON writes doc with the ActivityPub media type.
func activityJSON(c *gin.Context, status int, doc any) {
	c.Header("Content-Type", activitypub.ContentType+"; charset=utf-8")
	c.JSON(status, doc)
}

func notFound(c *gin.Context) {
	c.JSON(http.StatusNotFound, gin.H{"detail": "Not Found"})
}

func (s *Server) internalError(c *gin.Context, msg string, err error) {
	s.log.Error(msg, zap.String("path", c.Request.URL.Path), zap.Error(err))
	c.JSON(http.StatusInternalServerError, gin.H{"error": "internal error"})
}
