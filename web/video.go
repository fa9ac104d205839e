package web

import (
	"database/sql"
	"errors"
	"net/http"

	"github.com/deemkeen/vidfed/activitypub"
	"github.com/deemkeen/vidfed/domain"
	"github.com/gin-gonic/gin"
)

// videoCollections are the sub-collections every video advertises. Only
// chapters has content; the others are served as empty stubs.
var videoCollections = map[string]bool{
	"likes":    true,
	"dislikes": true,
	"shares":   true,
	"comments": true,
	"chapters": true,
}

// publicVideo resolves :slug to a video that may be federated. Restricted
// videos and videos still encoding are indistinguishable from missing ones.
func (s *Server) publicVideo(c *gin.Context) *domain.Video {
	v, err := s.db.ReadVideoBySlug(c.Request.Context(), c.Param("slug"))
	if errors.Is(err, sql.ErrNoRows) || (err == nil && !v.IsPublic()) {
		notFound(c)
		return nil
	}
	if err != nil {
		s.internalError(c, "Video lookup failed", err)
		return nil
	}
	return v
}

func (s *Server) getVideo(c *gin.Context) {
	v := s.publicVideo(c)
	if v == nil {
		return
	}
	activityJSON(c, http.StatusOK, s.fed.Serializer.VideoDocument(v))
}

func (s *Server) getVideoCollection(c *gin.Context) {
	name := c.Param("collection")
	if !videoCollections[name] {
		notFound(c)
		return
	}
	v := s.publicVideo(c)
	if v == nil {
		return
	}
	if name == "chapters" {
		activityJSON(c, http.StatusOK, s.fed.Serializer.Chapters(v))
		return
	}
	activityJSON(c, http.StatusOK, activitypub.Collection(s.urls.VideoSub(v.Slug, name), 0))
}
