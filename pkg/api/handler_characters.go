package api

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/storyloom/storyloom/pkg/models"
)

// CreateCharacterRequest is the body of POST /v1/characters.
type CreateCharacterRequest struct {
	Name              string            `json:"name" binding:"required"`
	MasterDescription string            `json:"master_description" binding:"required"`
	Appearance        map[string]string `json:"appearance"`
	Clothing          map[string]string `json:"clothing"`
	PersonalityTraits []string          `json:"personality_traits"`
	VisualStyleNotes  string            `json:"visual_style_notes"`
}

// CharacterResponse is the wire form of a character.
type CharacterResponse struct {
	ID                string            `json:"character_id"`
	Name              string            `json:"name"`
	MasterDescription string            `json:"master_description"`
	Appearance        map[string]string `json:"appearance,omitempty"`
	Clothing          map[string]string `json:"clothing,omitempty"`
	PersonalityTraits []string          `json:"personality_traits,omitempty"`
	VisualStyleNotes  string            `json:"visual_style_notes,omitempty"`
	CreatedAt         string            `json:"created_at"`
}

// CreateCharacter handles POST /v1/characters.
func (s *Server) CreateCharacter(c *gin.Context) {
	var req CreateCharacterRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	if len(req.Name) > 40 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "name must be at most 40 characters"})
		return
	}

	character := &models.Character{
		ID:                models.NewCharacterID(time.Now()),
		UserKey:           userKey(c),
		Name:              req.Name,
		MasterDescription: req.MasterDescription,
		Appearance:        mustJSON(req.Appearance),
		Clothing:          mustJSON(req.Clothing),
		PersonalityTraits: mustJSON(req.PersonalityTraits),
		VisualStyleNotes:  req.VisualStyleNotes,
	}
	if err := s.store.CreateCharacter(c.Request.Context(), character); err != nil {
		s.respondError(c, err)
		return
	}
	c.JSON(http.StatusCreated, characterResponse(*character))
}

// ListCharacters handles GET /v1/characters.
func (s *Server) ListCharacters(c *gin.Context) {
	characters, err := s.store.ListCharacters(c.Request.Context(), userKey(c))
	if err != nil {
		s.respondError(c, err)
		return
	}
	out := make([]CharacterResponse, 0, len(characters))
	for _, ch := range characters {
		out = append(out, characterResponse(ch))
	}
	c.JSON(http.StatusOK, gin.H{"characters": out})
}

// GetCharacter handles GET /v1/characters/:character_id.
func (s *Server) GetCharacter(c *gin.Context) {
	character, err := s.store.GetCharacter(c.Request.Context(), userKey(c), c.Param("character_id"))
	if err != nil {
		s.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, characterResponse(*character))
}

// DeleteCharacter handles DELETE /v1/characters/:character_id.
func (s *Server) DeleteCharacter(c *gin.Context) {
	if err := s.store.DeleteCharacter(c.Request.Context(), userKey(c), c.Param("character_id")); err != nil {
		s.respondError(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

func characterResponse(ch models.Character) CharacterResponse {
	resp := CharacterResponse{
		ID:                ch.ID,
		Name:              ch.Name,
		MasterDescription: ch.MasterDescription,
		VisualStyleNotes:  ch.VisualStyleNotes,
		CreatedAt:         ch.CreatedAt.UTC().Format("2006-01-02T15:04:05Z"),
	}
	_ = json.Unmarshal(ch.Appearance, &resp.Appearance)
	_ = json.Unmarshal(ch.Clothing, &resp.Clothing)
	_ = json.Unmarshal(ch.PersonalityTraits, &resp.PersonalityTraits)
	return resp
}

func mustJSON(v any) []byte {
	data, err := json.Marshal(v)
	if err != nil {
		return []byte("null")
	}
	return data
}
