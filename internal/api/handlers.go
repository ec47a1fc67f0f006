package api

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strconv"

	apperrors "story-workers/internal/common/errors"
	"story-workers/internal/models"

	"github.com/gin-gonic/gin"
)

const invalidTopicMessage = "Missing or invalid topic"

// writeError sends the single user-facing message for err. Details stay in
// the log.
func (s *Server) writeError(c *gin.Context, err error) {
	stdErr := apperrors.Normalize(err)
	status := apperrors.HTTPStatus(stdErr.Code)
	if status >= http.StatusInternalServerError {
		s.logger.Error("request error", map[string]interface{}{
			"path":    c.FullPath(),
			"code":    stdErr.Code,
			"details": stdErr.Details,
		})
	}
	c.JSON(status, gin.H{"error": stdErr.Message})
}

func (s *Server) generateStories(c *gin.Context) {
	var in models.GenerateInput
	if err := c.ShouldBindJSON(&in); err != nil {
		var typeErr *json.UnmarshalTypeError
		switch {
		case errors.As(err, &typeErr) && typeErr.Field == "topic", errors.Is(err, io.EOF):
			s.writeError(c, apperrors.NewValidationError(invalidTopicMessage))
		default:
			s.writeError(c, apperrors.NewValidationError("Invalid request body"))
		}
		return
	}

	result, err := s.service.Generate(c.Request.Context(), c.GetString(userIDKey), in)
	if err != nil {
		s.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"stories": result.Stories})
}

func (s *Server) credits(c *gin.Context) {
	account, err := s.service.Balance(c.Request.Context(), c.GetString(userIDKey))
	if err != nil {
		s.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, account)
}

func (s *Server) listStories(c *gin.Context) {
	stories, err := s.service.Stories(c.Request.Context(), c.GetString(userIDKey))
	if err != nil {
		s.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"stories": stories})
}

func (s *Server) syncStories(c *gin.Context) {
	n, err := s.service.Reconcile(c.Request.Context(), c.GetString(userIDKey))
	if err != nil {
		s.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"reconciled": n})
}

func (s *Server) updateStory(c *gin.Context) {
	var update models.StoryUpdate
	if err := c.ShouldBindJSON(&update); err != nil {
		s.writeError(c, apperrors.NewValidationError("Invalid request body"))
		return
	}

	story, err := s.service.UpdateStory(c.Request.Context(), c.GetString(userIDKey), c.Param("id"), update)
	if err != nil {
		s.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, story)
}

func (s *Server) toggleVisibility(c *gin.Context) {
	story, err := s.service.ToggleVisibility(c.Request.Context(), c.GetString(userIDKey), c.Param("id"))
	if err != nil {
		s.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, story)
}

type renameLocalRequest struct {
	Match models.LocalMatch `json:"match"`
	Title string            `json:"title"`
}

func (s *Server) renameLocal(c *gin.Context) {
	var req renameLocalRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		s.writeError(c, apperrors.NewValidationError("Invalid request body"))
		return
	}

	if err := s.service.RenameLocal(c.Request.Context(), c.GetString(userIDKey), req.Match, req.Title); err != nil {
		s.writeError(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

func (s *Server) community(c *gin.Context) {
	stories, err := s.service.Community(c.Request.Context(), c.Query("q"))
	if err != nil {
		s.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"stories": stories})
}

func (s *Server) downloadStory(c *gin.Context) {
	story, err := s.service.Story(c.Request.Context(), c.GetString(userIDKey), c.Param("id"))
	if err != nil {
		s.writeError(c, err)
		return
	}

	format := c.DefaultQuery("format", "audio")
	if format == "audio" && story.AudioURL != nil {
		c.Redirect(http.StatusFound, *story.AudioURL)
		return
	}

	name := DownloadName(story.Title)
	if format == "html" {
		page, err := RenderHTML(*story)
		if err != nil {
			s.writeError(c, apperrors.NewInternalError(err))
			return
		}
		c.Header("Content-Disposition", "attachment; filename="+strconv.Quote(name+".html"))
		c.Data(http.StatusOK, "text/html; charset=utf-8", page)
		return
	}

	c.Header("Content-Disposition", "attachment; filename="+strconv.Quote(name+".txt"))
	c.Data(http.StatusOK, "text/plain; charset=utf-8", []byte(story.Summary))
}
