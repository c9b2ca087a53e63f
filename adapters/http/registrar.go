package authhttp

import (
	"net/http"

	"github.com/PaulFidika/tokengate/routes"
	"github.com/go-chi/chi/v5"
)

// ChiRegistrar mounts handlers on a chi router.
type ChiRegistrar struct {
	r chi.Router
}

func NewChiRegistrar(r chi.Router) *ChiRegistrar { return &ChiRegistrar{r: r} }

func (c *ChiRegistrar) GET(path string, h http.Handler)    { c.r.Method(http.MethodGet, path, h) }
func (c *ChiRegistrar) POST(path string, h http.Handler)   { c.r.Method(http.MethodPost, path, h) }
func (c *ChiRegistrar) PUT(path string, h http.Handler)    { c.r.Method(http.MethodPut, path, h) }
func (c *ChiRegistrar) PATCH(path string, h http.Handler)  { c.r.Method(http.MethodPatch, path, h) }
func (c *ChiRegistrar) DELETE(path string, h http.Handler) { c.r.Method(http.MethodDelete, path, h) }

var _ routes.Registrar = (*ChiRegistrar)(nil)
