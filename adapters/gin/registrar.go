package authgin

import (
	"net/http"

	"github.com/PaulFidika/tokengate/routes"
	"github.com/gin-gonic/gin"
)

// Registrar mounts net/http handlers on a gin router or group.
type Registrar struct {
	r gin.IRoutes
}

func NewRegistrar(r gin.IRoutes) *Registrar { return &Registrar{r: r} }

func (g *Registrar) GET(path string, h http.Handler)    { g.r.GET(path, gin.WrapH(h)) }
func (g *Registrar) POST(path string, h http.Handler)   { g.r.POST(path, gin.WrapH(h)) }
func (g *Registrar) PUT(path string, h http.Handler)    { g.r.PUT(path, gin.WrapH(h)) }
func (g *Registrar) PATCH(path string, h http.Handler)  { g.r.PATCH(path, gin.WrapH(h)) }
func (g *Registrar) DELETE(path string, h http.Handler) { g.r.DELETE(path, gin.WrapH(h)) }

var _ routes.Registrar = (*Registrar)(nil)
