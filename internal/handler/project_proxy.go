package handler

import (
	"net/http"
	"strings"

	ctxutil "github.com/relaymesh/ccproxy/internal/context"
	"github.com/relaymesh/ccproxy/internal/domain"
	"github.com/relaymesh/ccproxy/internal/repository/cached"
)

// ProjectProxyHandler resolves a project from the first URL path segment
// (/p/{slug}/...) and delegates the remainder of the request to the normal
// proxy handler with the project pinned, so a client can target a project
// without needing an API token scoped to it. Requests whose first segment
// doesn't match a known project slug fall through unhandled so the caller
// (typically a combined handler) can try serving them another way.
type ProjectProxyHandler struct {
	proxy       *ProxyHandler
	projectRepo *cached.ProjectRepository
}

// NewProjectProxyHandler creates a new project-scoped proxy handler.
func NewProjectProxyHandler(proxy *ProxyHandler, projectRepo *cached.ProjectRepository) *ProjectProxyHandler {
	return &ProjectProxyHandler{proxy: proxy, projectRepo: projectRepo}
}

const projectPathPrefix = "/p/"

// TryServeHTTP attempts to handle the request as a project-scoped proxy
// call. It returns false without writing anything if the path doesn't match
// the /p/{slug}/... shape or the slug isn't a known project, letting the
// caller fall back to another handler.
func (h *ProjectProxyHandler) TryServeHTTP(w http.ResponseWriter, r *http.Request) bool {
	if !strings.HasPrefix(r.URL.Path, projectPathPrefix) {
		return false
	}

	rest := strings.TrimPrefix(r.URL.Path, projectPathPrefix)
	slug, remainder, _ := strings.Cut(rest, "/")
	if slug == "" {
		return false
	}

	project, err := h.lookupBySlug(slug)
	if err != nil || project == nil {
		return false
	}

	r2 := r.Clone(ctxutil.WithPinnedProjectID(r.Context(), project.ID))
	r2.URL.Path = "/" + remainder
	h.proxy.ServeHTTP(w, r2)
	return true
}

// ServeHTTP lets ProjectProxyHandler stand in directly as the root handler
// when static file serving is disabled. Unmatched paths get a 404 rather
// than silently falling through, since there's no static handler to try next.
func (h *ProjectProxyHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if h.TryServeHTTP(w, r) {
		return
	}
	writeJSON(w, http.StatusNotFound, map[string]string{"error": "not found"})
}

func (h *ProjectProxyHandler) lookupBySlug(slug string) (*domain.Project, error) {
	projects, err := h.projectRepo.List()
	if err != nil {
		return nil, err
	}
	for _, p := range projects {
		if p.Slug == slug {
			return p, nil
		}
	}
	return nil, nil
}
