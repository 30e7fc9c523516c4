package server

import (
	"errors"
	"fmt"
	"net/http"

	"github.com/book-expert/logger"
	"github.com/book-expert/voice-model/internal/core"
	"github.com/book-expert/voice-model/internal/tts"
	"github.com/gin-gonic/gin"
)

const (
	contentTypeHTML = "text/html; charset=utf-8"
	contentTypeWAV  = "audio/wav"
	defaultSpeed    = 1.0
)

// synthesisRequest mirrors tts.Request; pointers tell omitted fields from empty ones.
type synthesisRequest struct {
	Text        *string  `json:"text" binding:"required"`
	SpeakerName *string  `json:"speaker_name"`
	Language    *string  `json:"language"`
	Speed       *float64 `json:"speed"`
}

type handlers struct {
	synth           core.Synthesizer
	voices          tts.Voices
	defaultSpeaker  string
	defaultLanguage string
	index           []byte
	log             *logger.Logger
}

func (h *handlers) root(c *gin.Context) {
	c.Data(http.StatusOK, contentTypeHTML, h.index)
}

func (h *handlers) synthesize(c *gin.Context) {
	var body synthesisRequest

	err := c.ShouldBindJSON(&body)
	if err != nil {
		c.JSON(http.StatusUnprocessableEntity, tts.ErrorResponse{Detail: err.Error()})

		return
	}

	req := core.SynthesisRequest{
		Text:     *body.Text,
		Speaker:  h.defaultSpeaker,
		Language: h.defaultLanguage,
		Speed:    defaultSpeed,
	}

	if body.SpeakerName != nil {
		req.Speaker = *body.SpeakerName
	}

	if body.Language != nil {
		req.Language = *body.Language
	}

	if body.Speed != nil {
		req.Speed = *body.Speed
	}

	wav, err := tts.Speak(c.Request.Context(), h.synth, h.voices, req)

	switch {
	case errors.Is(err, tts.ErrUnknownSpeaker), errors.Is(err, tts.ErrUnknownLanguage):
		c.JSON(http.StatusBadRequest, tts.ErrorResponse{Detail: err.Error()})
	case err != nil:
		h.log.Error("Synthesis failed for speaker %s: %v", req.Speaker, err)
		c.JSON(http.StatusInternalServerError, tts.ErrorResponse{
			Detail: fmt.Sprintf("error during TTS processing: %v", err),
		})
	default:
		c.Data(http.StatusOK, contentTypeWAV, wav)
	}
}

func (h *handlers) listSpeakers(c *gin.Context) {
	speakers := h.voices.Speakers
	if speakers == nil {
		speakers = []string{}
	}

	c.JSON(http.StatusOK, tts.SpeakersResponse{Speakers: speakers})
}

func (h *handlers) health(c *gin.Context) {
	c.JSON(http.StatusOK, tts.HealthResponse{Status: "ok", ModelLoaded: h.synth != nil})
}
