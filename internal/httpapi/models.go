package httpapi

import (
	"net/http"
	"sort"

	"github.com/gin-gonic/gin"
)

// modelEntry is one row of the /v1/models listing, shaped like OpenAI's
// model object so existing OpenAI-compatible clients parse it unmodified.
type modelEntry struct {
	ID      string `json:"id"`
	Object  string `json:"object"`
	OwnedBy string `json:"owned_by"`
}

func (s *Server) handleListModels(c *gin.Context) {
	names := make([]string, 0, len(s.models))
	for name := range s.models {
		names = append(names, name)
	}
	sort.Strings(names)

	data := make([]modelEntry, 0, len(names))
	for _, name := range names {
		data = append(data, modelEntry{ID: name, Object: "model", OwnedBy: "sora-gateway"})
	}

	c.JSON(http.StatusOK, gin.H{"object": "list", "data": data})
}
