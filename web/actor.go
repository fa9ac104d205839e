package web

import (
	"database/sql"
	"errors"
	"net/http"

	"github.com/deemkeen/vidfed/activitypub"
	"github.com/deemkeen/vidfed/domain"
	"github.com/gin-gonic/gin"
)

// account resolves the :username route parameter. It writes the error
// response itself and returns nil when the request should stop.
func (s *Server) account(c *gin.Context) *domain.Account {
	acc, err := s.db.ReadAccByUsername(c.Request.Context(), c.Param("username"))
	if errors.Is(err, sql.ErrNoRows) {
		notFound(c)
		return nil
	}
	if err != nil {
		s.internalError(c, "Account lookup failed", err)
		return nil
	}
	return acc
}

func (s *Server) getInstanceActor(c *gin.Context) {
	activityJSON(c, http.StatusOK, s.fed.Serializer.Actor(nil))
}

func (s *Server) getAccount(c *gin.Context) {
	acc := s.account(c)
	if acc == nil {
		return
	}
	activityJSON(c, http.StatusOK, s.fed.Serializer.Actor(acc))
}

// getFollowers serves the follower count. Followers are recorded for the
// whole instance, so every actor reports the same registry.
func (s *Server) getFollowers(c *gin.Context) {
	username := c.Param("username")
	if username != "" && s.account(c) == nil {
		return
	}
	n, err := s.db.CountFollowers(c.Request.Context())
	if err != nil {
		s.internalError(c, "Counting followers failed", err)
		return
	}
	activityJSON(c, http.StatusOK, activitypub.Collection(s.urls.FollowersOf(username), n))
}

// getFollowing serves the number of accepted followings of the instance.
// Accounts never follow anyone themselves.
func (s *Server) getFollowing(c *gin.Context) {
	username := c.Param("username")
	if username != "" {
		if s.account(c) == nil {
			return
		}
		activityJSON(c, http.StatusOK, activitypub.Collection(s.urls.FollowingOf(username), 0))
		return
	}
	n, err := s.db.CountFollowingsByStatus(c.Request.Context(), domain.FollowingAccepted)
	if err != nil {
		s.internalError(c, "Counting followings failed", err)
		return
	}
	activityJSON(c, http.StatusOK, activitypub.Collection(s.urls.Following(), n))
}

func (s *Server) getChannel(c *gin.Context) {
	ch, err := s.db.ReadChannelBySlug(c.Request.Context(), c.Param("slug"))
	if errors.Is(err, sql.ErrNoRows) {
		notFound(c)
		return
	}
	if err != nil {
		s.internalError(c, "Channel lookup failed", err)
		return
	}
	activityJSON(c, http.StatusOK, s.fed.Serializer.Channel(ch))
}

func (s *Server) getAccountChannel(c *gin.Context) {
	acc := s.account(c)
	if acc == nil {
		return
	}
	activityJSON(c, http.StatusOK, s.fed.Serializer.AccountChannel(acc))
}
