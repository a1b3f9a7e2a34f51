package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"

	"github.com/ragline/ragline/internal/engine"
	"github.com/ragline/ragline/internal/llm"
	"github.com/ragline/ragline/internal/log"
)

// maxChatBody bounds the request size. Conversations are plain text, so
// 1MB leaves generous headroom.
const maxChatBody = 1 << 20

// chatHandler serves POST /api/chat.
type chatHandler struct {
	engine ChatEngine
	logger log.Logger
}

// chatRequest is the inbound conversation, oldest message first.
type chatRequest struct {
	Messages []llm.Message `json:"messages"`
}

// sourceRef points a reply back at a passage that grounded it.
type sourceRef struct {
	ID         string  `json:"id"`
	Source     string  `json:"source"`
	Similarity float64 `json:"similarity"`
}

// chatResponse is the assistant's answer with its supporting sources.
type chatResponse struct {
	Message string      `json:"message"`
	Sources []sourceRef `json:"sources"`
	Usage   *llm.Usage  `json:"usage,omitempty"`
}

func (h *chatHandler) send(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, maxChatBody)

	var req chatRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		var maxErr *http.MaxBytesError
		if errors.As(err, &maxErr) {
			writeError(w, http.StatusRequestEntityTooLarge, "request_too_large",
				"request body exceeds 1MB", h.logger)
			return
		}
		writeError(w, http.StatusBadRequest, "invalid_request", "invalid request body", h.logger)
		return
	}

	if len(req.Messages) == 0 {
		writeError(w, http.StatusBadRequest, "missing_messages", "messages is required", h.logger)
		return
	}
	for i, msg := range req.Messages {
		if !msg.Valid() {
			writeError(w, http.StatusBadRequest, "invalid_message",
				fmt.Sprintf("message %d has an unknown role or empty content", i), h.logger)
			return
		}
	}
	if req.Messages[len(req.Messages)-1].Role != llm.RoleUser {
		writeError(w, http.StatusBadRequest, "invalid_message",
			"last message must come from the user", h.logger)
		return
	}

	reply, err := h.engine.Chat(r.Context(), req.Messages)
	if err != nil {
		if errors.Is(err, engine.ErrNoUserMessage) {
			writeError(w, http.StatusBadRequest, "missing_messages",
				"conversation has no user message", h.logger)
			return
		}
		h.logger.Error("chat failed",
			"error", err,
			"request_id", requestIDFromContext(r.Context()),
		)
		writeError(w, http.StatusInternalServerError, "chat_failed",
			"the assistant could not answer", h.logger)
		return
	}

	sources := make([]sourceRef, 0, len(reply.Sources))
	for _, p := range reply.Sources {
		sources = append(sources, sourceRef{ID: p.ID, Source: p.Source, Similarity: p.Score})
	}

	resp := chatResponse{Message: reply.Message.Content, Sources: sources}
	if reply.Usage.TotalTokens > 0 {
		usage := reply.Usage
		resp.Usage = &usage
	}
	writeJSON(w, http.StatusOK, resp, h.logger)
}
