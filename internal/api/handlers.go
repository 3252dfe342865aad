package api

import (
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/starford/lifeagent/internal/agent"
	"github.com/starford/lifeagent/internal/apperr"
	"github.com/starford/lifeagent/internal/blockservice"
	"github.com/starford/lifeagent/internal/fill"
	"github.com/starford/lifeagent/internal/models"
	"github.com/starford/lifeagent/internal/retrieval"
	"github.com/starford/lifeagent/internal/templates"
)

// Deps are the services behind the API. Nil services leave their routes
// unmounted; Blocks is required.
type Deps struct {
	Blocks    *blockservice.Service
	Search    *retrieval.Engine
	Fill      *fill.Engine
	Templates *templates.Service
	Chat      *agent.Manager
	Now       func() time.Time
}

// Handler holds API route handlers.
type Handler struct {
	blocks    *blockservice.Service
	search    *retrieval.Engine
	fill      *fill.Engine
	templates *templates.Service
	chat      *agent.Manager
	now       func() time.Time
}

// NewHandler creates a new Handler.
func NewHandler(d Deps) *Handler {
	now := d.Now
	if now == nil {
		now = time.Now
	}
	return &Handler{
		blocks:    d.Blocks,
		search:    d.Search,
		fill:      d.Fill,
		templates: d.Templates,
		chat:      d.Chat,
		now:       now,
	}
}

func queryInt(r *http.Request, key string) int {
	n, _ := strconv.Atoi(r.URL.Query().Get(key))
	return n
}

// ownedBlock loads a block and hides blocks belonging to other users.
func (h *Handler) ownedBlock(r *http.Request, id string) (*models.Block, error) {
	b, err := h.blocks.GetBlock(r.Context(), id)
	if err != nil {
		return nil, err
	}
	if b.UserID != userFrom(r) {
		return nil, apperr.NotFoundf("block %s", id)
	}
	return b, nil
}

// ListBlocks handles GET /api/blocks.
//
//	@Summary		List the caller's blocks, newest first
//	@Tags			blocks
//	@Produce		json
//	@Param			type		query		string	false	"Block type"	Enums(text, heading, todo, table, callout, page)
//	@Param			category	query		string	false	"Metadata category"
//	@Param			limit		query		int		false	"Page size"
//	@Param			offset		query		int		false	"Page offset"
//	@Success		200			{object}	BlockListResponse
//	@Security		BearerAuth
//	@Router			/blocks [get]
func (h *Handler) ListBlocks(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	items, total, err := h.blocks.ListByUser(r.Context(), userFrom(r), blockservice.ListOptions{
		Type:     models.BlockType(q.Get("type")),
		Category: q.Get("category"),
		Limit:    queryInt(r, "limit"),
		Offset:   queryInt(r, "offset"),
	})
	if err != nil {
		writeError(w, r, "list blocks", err)
		return
	}
	writeData(w, http.StatusOK, BlockListResponse{Blocks: items, Total: total})
}

// CreateBlock handles POST /api/blocks.
//
//	@Summary		Create a block
//	@Tags			blocks
//	@Accept			json
//	@Produce		json
//	@Param			body	body		CreateBlockRequest	true	"Block"
//	@Success		201		{object}	models.Block
//	@Failure		400		{object}	envelope
//	@Failure		404		{object}	envelope	"Parent page not found"
//	@Security		BearerAuth
//	@Router			/blocks [post]
func (h *Handler) CreateBlock(w http.ResponseWriter, r *http.Request) {
	var req CreateBlockRequest
	if !decodeBody(w, r, &req) {
		return
	}
	content, err := models.DecodeContent(req.Type, req.Content)
	if err != nil {
		writeError(w, r, "create block", err)
		return
	}
	b, err := h.blocks.CreateBlock(r.Context(), blockservice.CreateParams{
		Type:       req.Type,
		Content:    content,
		Metadata:   req.Metadata,
		ParentID:   req.ParentID,
		TemplateID: req.TemplateID,
		UserID:     userFrom(r),
	})
	if err != nil {
		writeError(w, r, "create block", err)
		return
	}
	w.Header().Set("ETag", strconv.Quote(b.Version()))
	writeData(w, http.StatusCreated, b)
}

// GetBlock handles GET /api/blocks/{id}.
//
//	@Summary		Get a block by id
//	@Tags			blocks
//	@Produce		json
//	@Param			id	path		string	true	"Block id"
//	@Success		200	{object}	models.Block
//	@Failure		404	{object}	envelope
//	@Security		BearerAuth
//	@Router			/blocks/{id} [get]
func (h *Handler) GetBlock(w http.ResponseWriter, r *http.Request) {
	b, err := h.ownedBlock(r, chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, r, "get block", err)
		return
	}
	w.Header().Set("ETag", strconv.Quote(b.Version()))
	writeData(w, http.StatusOK, b)
}

// UpdateBlock handles PATCH /api/blocks/{id}.
//
//	@Summary		Partially update a block
//	@Description	Content is decoded with the block's existing type. An If-Match header carrying the ETag from a previous read turns the update conditional.
//	@Tags			blocks
//	@Accept			json
//	@Produce		json
//	@Param			id			path		string				true	"Block id"
//	@Param			If-Match	header		string				false	"Expected version"
//	@Param			body		body		UpdateBlockRequest	true	"Changes"
//	@Success		200			{object}	models.Block
//	@Failure		400			{object}	envelope
//	@Failure		404			{object}	envelope
//	@Failure		409			{object}	envelope	"Version mismatch"
//	@Security		BearerAuth
//	@Router			/blocks/{id} [patch]
func (h *Handler) UpdateBlock(w http.ResponseWriter, r *http.Request) {
	var req UpdateBlockRequest
	if !decodeBody(w, r, &req) {
		return
	}
	if len(req.Content) == 0 && req.Metadata == nil {
		writeJSON(w, http.StatusBadRequest, errorBody("nothing to update"))
		return
	}
	cur, err := h.ownedBlock(r, chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, r, "update block", err)
		return
	}
	p := blockservice.UpdateParams{Metadata: req.Metadata, IfMatch: req.IfMatch}
	if m := strings.Trim(r.Header.Get("If-Match"), `"`); m != "" {
		p.IfMatch = m
	}
	if len(req.Content) > 0 {
		if p.Content, err = models.DecodeContent(cur.Type, req.Content); err != nil {
			writeError(w, r, "update block", err)
			return
		}
	}
	b, err := h.blocks.UpdateBlock(r.Context(), cur.ID, p)
	if err != nil {
		writeError(w, r, "update block", err)
		return
	}
	w.Header().Set("ETag", strconv.Quote(b.Version()))
	writeData(w, http.StatusOK, b)
}

// DeleteBlock handles DELETE /api/blocks/{id}.
//
//	@Summary		Delete a block and its vector record
//	@Tags			blocks
//	@Param			id	path		string	true	"Block id"
//	@Success		200	{object}	envelope
//	@Failure		404	{object}	envelope
//	@Security		BearerAuth
//	@Router			/blocks/{id} [delete]
func (h *Handler) DeleteBlock(w http.ResponseWriter, r *http.Request) {
	b, err := h.ownedBlock(r, chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, r, "delete block", err)
		return
	}
	if err := h.blocks.DeleteBlock(r.Context(), b.ID); err != nil {
		writeError(w, r, "delete block", err)
		return
	}
	writeData(w, http.StatusOK, map[string]string{"id": b.ID})
}

// Children handles GET /api/blocks/{id}/children.
//
//	@Summary		List a page's children in order
//	@Tags			blocks
//	@Produce		json
//	@Param			id	path		string	true	"Page id"
//	@Success		200	{array}		models.Block
//	@Failure		400	{object}	envelope	"Not a page"
//	@Failure		404	{object}	envelope
//	@Security		BearerAuth
//	@Router			/blocks/{id}/children [get]
func (h *Handler) Children(w http.ResponseWriter, r *http.Request) {
	page, err := h.ownedBlock(r, chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, r, "list children", err)
		return
	}
	children, err := h.blocks.Children(r.Context(), page.ID)
	if err != nil {
		writeError(w, r, "list children", err)
		return
	}
	writeData(w, http.StatusOK, children)
}

// Similar handles GET /api/blocks/{id}/similar.
//
//	@Summary		Blocks semantically close to a reference block
//	@Tags			search
//	@Produce		json
//	@Param			id		path		string	true	"Reference block id"
//	@Param			type	query		string	false	"Block type"
//	@Param			limit	query		int		false	"Max results"
//	@Success		200		{array}		retrieval.Result
//	@Failure		404		{object}	envelope
//	@Security		BearerAuth
//	@Router			/blocks/{id}/similar [get]
func (h *Handler) Similar(w http.ResponseWriter, r *http.Request) {
	ref, err := h.ownedBlock(r, chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, r, "similar blocks", err)
		return
	}
	limit := resultLimit(r)
	results, err := h.search.SearchSimilar(r.Context(), ref.ID, retrieval.Filters{
		Type: models.BlockType(r.URL.Query().Get("type")),
	}, limit)
	if err != nil {
		writeError(w, r, "similar blocks", err)
		return
	}
	writeData(w, http.StatusOK, results)
}

const defaultResultLimit = 10

// resultLimit reads ?limit= for search endpoints, bounded to
// 1..retrieval.MaxLimit.
func resultLimit(r *http.Request) int {
	limit := queryInt(r, "limit")
	if limit <= 0 {
		return defaultResultLimit
	}
	return min(limit, retrieval.MaxLimit)
}

// Search handles GET /api/search.
//
//	@Summary		Hybrid semantic and keyword search
//	@Tags			search
//	@Produce		json
//	@Param			q			query		string	true	"Query"
//	@Param			type		query		string	false	"Block type"
//	@Param			category	query		string	false	"Metadata category"
//	@Param			limit		query		int		false	"Max results"
//	@Success		200			{array}		retrieval.Result
//	@Failure		400			{object}	envelope
//	@Security		BearerAuth
//	@Router			/search [get]
func (h *Handler) Search(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	query := strings.TrimSpace(q.Get("q"))
	if query == "" {
		writeJSON(w, http.StatusBadRequest, errorBody("missing query parameter 'q'"))
		return
	}
	limit := resultLimit(r)
	results, err := h.search.Search(r.Context(), query, userFrom(r), retrieval.Filters{
		Type:     models.BlockType(q.Get("type")),
		Category: q.Get("category"),
	}, limit)
	if err != nil {
		writeError(w, r, "search", err)
		return
	}
	writeData(w, http.StatusOK, results)
}

// Stats handles GET /api/stats.
//
//	@Summary		Block statistics and today's schedule for the caller
//	@Tags			stats
//	@Produce		json
//	@Success		200	{object}	StatsResponse
//	@Security		BearerAuth
//	@Router			/stats [get]
func (h *Handler) Stats(w http.ResponseWriter, r *http.Request) {
	ctx, user := r.Context(), userFrom(r)
	stats, err := h.blocks.Stats(ctx, user)
	if err != nil {
		writeError(w, r, "stats", err)
		return
	}
	overview, err := h.blocks.Overview(ctx, user)
	if err != nil {
		writeError(w, r, "stats", err)
		return
	}
	today, err := h.blocks.TodaysTasks(ctx, user, h.now())
	if err != nil {
		writeError(w, r, "stats", err)
		return
	}
	writeData(w, http.StatusOK, StatsResponse{Stats: stats, Overview: overview, Today: today})
}
