// Package routes abstracts route registration so handlers can be mounted on any router.
package routes

import "net/http"

// Registrar registers handlers with one method per HTTP verb. Implementations exist for
// gin (adapters/gin) and chi (adapters/http).
type Registrar interface {
	GET(path string, h http.Handler)
	POST(path string, h http.Handler)
	PUT(path string, h http.Handler)
	PATCH(path string, h http.Handler)
	DELETE(path string, h http.Handler)
}
