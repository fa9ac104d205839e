package web

import (
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
)

// parsePage reads the optional ?page parameter. 0 means the collection itself.
func parsePage(raw string) (int, bool) {
	if raw == "" {
		return 0, true
	}
	page, err := strconv.Atoi(raw)
	if err != nil || page < 1 {
		return 0, false
	}
	return page, true
}

func (s *Server) getOutbox(c *gin.Context) {
	page, ok := parsePage(c.Query("page"))
	if !ok {
		c.JSON(http.StatusBadRequest, gin.H{"error": "page must be a positive integer"})
		return
	}

	username := c.Param("username")
	if username != "" && s.account(c) == nil {
		return
	}

	doc, err := s.fed.Paginator.Outbox(c.Request.Context(), username, page)
	if err != nil {
		s.internalError(c, "Rendering outbox failed", err)
		return
	}
	activityJSON(c, http.StatusOK, doc)
}
