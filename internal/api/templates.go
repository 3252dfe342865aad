package api

import (
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"

	"github.com/starford/lifeagent/internal/apperr"
	"github.com/starford/lifeagent/internal/templates"
)

func (h *Handler) visibleTemplate(r *http.Request, id string) (*templates.Template, error) {
	t, err := h.templates.Get(r.Context(), id)
	if err != nil {
		return nil, err
	}
	if !t.IsPublic && t.UserID != userFrom(r) {
		return nil, apperr.NotFoundf("template %s", id)
	}
	return t, nil
}

func (h *Handler) ownedTemplate(r *http.Request, id string) (*templates.Template, error) {
	t, err := h.visibleTemplate(r, id)
	if err != nil {
		return nil, err
	}
	if t.UserID != userFrom(r) {
		return nil, apperr.Validationf("template %s belongs to another user", id)
	}
	return t, nil
}

// ListTemplates handles GET /api/templates.
//
//	@Summary		List or search templates visible to the caller
//	@Tags			templates
//	@Produce		json
//	@Param			q			query		string	false	"Name or description substring"
//	@Param			category	query		string	false	"Category"	Enums(project, review)
//	@Param			limit		query		int		false	"Max results"
//	@Success		200			{array}		templates.Template
//	@Security		BearerAuth
//	@Router			/templates [get]
func (h *Handler) ListTemplates(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	opts := templates.ListOptions{
		Category: templates.Category(q.Get("category")),
		Limit:    queryInt(r, "limit"),
	}
	var items []*templates.Template
	if query := strings.TrimSpace(q.Get("q")); query != "" {
		items = h.templates.Search(r.Context(), query, userFrom(r), opts)
	} else {
		items = h.templates.ListByUser(r.Context(), userFrom(r), opts)
	}
	writeData(w, http.StatusOK, items)
}

// CreateTemplate handles POST /api/templates.
//
//	@Summary		Create a template owned by the caller
//	@Tags			templates
//	@Accept			json
//	@Produce		json
//	@Param			body	body		CreateTemplateRequest	true	"Template"
//	@Success		201		{object}	templates.Template
//	@Failure		400		{object}	envelope
//	@Security		BearerAuth
//	@Router			/templates [post]
func (h *Handler) CreateTemplate(w http.ResponseWriter, r *http.Request) {
	var req CreateTemplateRequest
	if !decodeBody(w, r, &req) {
		return
	}
	t, err := h.templates.Create(r.Context(), templates.CreateParams{
		Name:        req.Name,
		Description: req.Description,
		Category:    req.Category,
		Icon:        req.Icon,
		Tags:        req.Tags,
		Structure:   req.Structure,
		UserID:      userFrom(r),
		IsPublic:    req.IsPublic,
	})
	if err != nil {
		writeError(w, r, "create template", err)
		return
	}
	writeData(w, http.StatusCreated, t)
}

// GetTemplate handles GET /api/templates/{id}.
//
//	@Summary		Get a template
//	@Tags			templates
//	@Produce		json
//	@Param			id	path		string	true	"Template id"
//	@Success		200	{object}	templates.Template
//	@Failure		404	{object}	envelope
//	@Security		BearerAuth
//	@Router			/templates/{id} [get]
func (h *Handler) GetTemplate(w http.ResponseWriter, r *http.Request) {
	t, err := h.visibleTemplate(r, chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, r, "get template", err)
		return
	}
	writeData(w, http.StatusOK, t)
}

// UpdateTemplate handles PUT /api/templates/{id}.
//
//	@Summary		Update a template owned by the caller
//	@Tags			templates
//	@Accept			json
//	@Produce		json
//	@Param			id		path		string					true	"Template id"
//	@Param			body	body		UpdateTemplateRequest	true	"Changes"
//	@Success		200		{object}	templates.Template
//	@Failure		400		{object}	envelope
//	@Failure		404		{object}	envelope
//	@Security		BearerAuth
//	@Router			/templates/{id} [put]
func (h *Handler) UpdateTemplate(w http.ResponseWriter, r *http.Request) {
	var req UpdateTemplateRequest
	if !decodeBody(w, r, &req) {
		return
	}
	cur, err := h.ownedTemplate(r, chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, r, "update template", err)
		return
	}
	t, err := h.templates.Update(r.Context(), cur.ID, templates.UpdateParams{
		Name:        req.Name,
		Description: req.Description,
		Category:    req.Category,
		Icon:        req.Icon,
		Tags:        req.Tags,
		Structure:   req.Structure,
		IsPublic:    req.IsPublic,
	})
	if err != nil {
		writeError(w, r, "update template", err)
		return
	}
	writeData(w, http.StatusOK, t)
}

// DeleteTemplate handles DELETE /api/templates/{id}.
//
//	@Summary		Delete a template owned by the caller
//	@Tags			templates
//	@Param			id	path		string	true	"Template id"
//	@Success		200	{object}	envelope
//	@Failure		404	{object}	envelope
//	@Security		BearerAuth
//	@Router			/templates/{id} [delete]
func (h *Handler) DeleteTemplate(w http.ResponseWriter, r *http.Request) {
	cur, err := h.ownedTemplate(r, chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, r, "delete template", err)
		return
	}
	if err := h.templates.Delete(r.Context(), cur.ID); err != nil {
		writeError(w, r, "delete template", err)
		return
	}
	writeData(w, http.StatusOK, map[string]string{"id": cur.ID})
}

// InstantiateTemplate handles POST /api/templates/{id}/instantiate.
//
//	@Summary		Create blocks from a template
//	@Tags			templates
//	@Accept			json
//	@Produce		json
//	@Param			id		path		string				true	"Template id"
//	@Param			body	body		InstantiateRequest	false	"Placeholder values"
//	@Success		201		{object}	templates.Instance
//	@Failure		404		{object}	envelope
//	@Security		BearerAuth
//	@Router			/templates/{id}/instantiate [post]
func (h *Handler) InstantiateTemplate(w http.ResponseWriter, r *http.Request) {
	var req InstantiateRequest
	if r.ContentLength != 0 && !decodeBody(w, r, &req) {
		return
	}
	inst, err := h.templates.Instantiate(r.Context(), chi.URLParam(r, "id"), userFrom(r), req.CustomData)
	if err != nil {
		writeError(w, r, "instantiate template", err)
		return
	}
	writeData(w, http.StatusCreated, inst)
}
