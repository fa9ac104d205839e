package web

import (
	"errors"
	"io"
	"net/http"

	"github.com/deemkeen/vidfed/tasks"
	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

// postInbox authenticates a delivery and queues it for the task workers.
// Nothing is applied on the request path.
func (s *Server) postInbox(c *gin.Context) {
	ctx := c.Request.Context()
	body, err := io.ReadAll(c.Request.Body)
	if err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			c.JSON(http.StatusRequestEntityTooLarge, gin.H{"error": "Request body too large"})
			return
		}
		c.JSON(http.StatusBadRequest, gin.H{"error": "failed to read body"})
		return
	}

	if s.conf.Federation.VerifySignatures {
		if err := s.fed.Inbox.Authenticate(ctx, c.Request, body); err != nil {
			s.log.Debug("Rejecting inbox delivery", zap.String("path", c.Request.URL.Path), zap.Error(err))
			c.JSON(http.StatusUnauthorized, gin.H{"error": "signature verification failed"})
			return
		}
	}

	if err := s.fed.Queue.Enqueue(ctx, tasks.NewInboxTask(body)); err != nil {
		s.log.Warn("Failed to queue inbox delivery", zap.Error(err))
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "try again later"})
		return
	}
	c.Status(http.StatusNoContent)
}
