package api

import (
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"
)

// Fill handles POST /api/fill.
//
//	@Summary		Analyze free text and create or update the best-fitting block
//	@Tags			fill
//	@Accept			json
//	@Produce		json
//	@Param			body	body		FillRequest	true	"Text"
//	@Success		200		{object}	fill.Result
//	@Failure		400		{object}	envelope
//	@Security		BearerAuth
//	@Router			/fill [post]
func (h *Handler) Fill(w http.ResponseWriter, r *http.Request) {
	var req FillRequest
	if !decodeBody(w, r, &req) {
		return
	}
	res, err := h.fill.AnalyzeAndFill(r.Context(), req.Text, userFrom(r))
	if err != nil {
		writeError(w, r, "fill", err)
		return
	}
	writeData(w, http.StatusOK, res)
}

// Analyze handles POST /api/fill/analyze.
//
//	@Summary		Analyze free text without writing anything
//	@Tags			fill
//	@Accept			json
//	@Produce		json
//	@Param			body	body		FillRequest	true	"Text"
//	@Success		200		{object}	models.ContentAnalysis
//	@Failure		400		{object}	envelope
//	@Security		BearerAuth
//	@Router			/fill/analyze [post]
func (h *Handler) Analyze(w http.ResponseWriter, r *http.Request) {
	var req FillRequest
	if !decodeBody(w, r, &req) {
		return
	}
	a, err := h.fill.Analyze(r.Context(), req.Text)
	if err != nil {
		writeError(w, r, "analyze", err)
		return
	}
	writeData(w, http.StatusOK, a)
}

// Suggestions handles GET /api/fill/suggestions.
//
//	@Summary		Short suggestions for partial input
//	@Tags			fill
//	@Produce		json
//	@Param			text	query		string	true	"Partial input"
//	@Success		200		{object}	SuggestionsResponse
//	@Security		BearerAuth
//	@Router			/fill/suggestions [get]
func (h *Handler) Suggestions(w http.ResponseWriter, r *http.Request) {
	text := strings.TrimSpace(r.URL.Query().Get("text"))
	if text == "" {
		writeJSON(w, http.StatusBadRequest, errorBody("missing query parameter 'text'"))
		return
	}
	s, err := h.fill.Suggestions(r.Context(), text, userFrom(r))
	if err != nil {
		writeError(w, r, "fill suggestions", err)
		return
	}
	if s == nil {
		s = []string{}
	}
	writeData(w, http.StatusOK, SuggestionsResponse{Suggestions: s})
}

// Chat handles POST /api/chat.
//
//	@Summary		Send one message to the agent
//	@Description	Model failures produce an apology reply rather than an error status.
//	@Tags			chat
//	@Accept			json
//	@Produce		json
//	@Param			body	body		ChatRequest	true	"Message"
//	@Success		200		{object}	agent.Reply
//	@Failure		400		{object}	envelope
//	@Security		BearerAuth
//	@Router			/chat [post]
func (h *Handler) Chat(w http.ResponseWriter, r *http.Request) {
	var req ChatRequest
	if !decodeBody(w, r, &req) {
		return
	}
	reply, err := h.chat.Send(r.Context(), req.ConversationID, userFrom(r), req.Message)
	if err != nil {
		writeError(w, r, "chat", err)
		return
	}
	writeData(w, http.StatusOK, reply)
}

// History handles GET /api/chat/{id}.
//
//	@Summary		Stored history of a conversation
//	@Tags			chat
//	@Produce		json
//	@Param			id	path		string	true	"Conversation id"
//	@Success		200	{object}	HistoryResponse
//	@Failure		404	{object}	envelope
//	@Security		BearerAuth
//	@Router			/chat/{id} [get]
func (h *Handler) History(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	msgs, err := h.chat.History(id, userFrom(r))
	if err != nil {
		writeError(w, r, "chat history", err)
		return
	}
	writeData(w, http.StatusOK, HistoryResponse{ConversationID: id, Messages: msgs})
}

// ClearChat handles DELETE /api/chat/{id}.
//
//	@Summary		Clear a conversation's history
//	@Tags			chat
//	@Param			id	path		string	true	"Conversation id"
//	@Success		200	{object}	envelope
//	@Failure		404	{object}	envelope
//	@Security		BearerAuth
//	@Router			/chat/{id} [delete]
func (h *Handler) ClearChat(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	if err := h.chat.Clear(id, userFrom(r)); err != nil {
		writeError(w, r, "clear chat", err)
		return
	}
	writeData(w, http.StatusOK, map[string]string{"conversationId": id})
}

// SetSystemMessage handles PUT /api/chat/{id}/system.
//
//	@Summary		Replace a conversation's system message
//	@Tags			chat
//	@Accept			json
//	@Param			id		path		string					true	"Conversation id"
//	@Param			body	body		SystemMessageRequest	true	"System message"
//	@Success		200		{object}	envelope
//	@Failure		404		{object}	envelope
//	@Security		BearerAuth
//	@Router			/chat/{id}/system [put]
func (h *Handler) SetSystemMessage(w http.ResponseWriter, r *http.Request) {
	var req SystemMessageRequest
	if !decodeBody(w, r, &req) {
		return
	}
	if strings.TrimSpace(req.Message) == "" {
		writeJSON(w, http.StatusBadRequest, errorBody("message is required"))
		return
	}
	id := chi.URLParam(r, "id")
	if err := h.chat.SetSystemMessage(id, userFrom(r), req.Message); err != nil {
		writeError(w, r, "set system message", err)
		return
	}
	writeData(w, http.StatusOK, map[string]string{"conversationId": id})
}
