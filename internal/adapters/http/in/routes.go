// Package in wires the registry's HTTP surface: route registration,
// request parsing, and error-envelope translation.
package in

import (
	"github.com/gofiber/fiber/v2"

	httpmw "github.com/ktra-go/registry/common/net/http"
	"github.com/ktra-go/registry/internal/domain/regerr"
	"github.com/ktra-go/registry/internal/services/auth"
	"github.com/ktra-go/registry/internal/services/mirror"
	"github.com/ktra-go/registry/internal/services/registry"
)

const meCurlHint = "$ curl -X POST -H 'Content-Type: application/json' -d '{\"password\":\"YOUR PASSWORD\"}' https://<YOURDOMAIN>/ktra/api/v1/login/<YOUR USERNAME>"

// Handler groups the services every route dispatches into.
type Handler struct {
	Registry *registry.Service
	Auth     *auth.Service
	OIDC     *auth.OIDCService
	Mirror   *mirror.Service
	DLPath   string
	Version  string
}

// NewRouter builds the Fiber app and registers every endpoint in the
// registry's HTTP surface.
func NewRouter(h *Handler) *fiber.App {
	f := fiber.New(fiber.Config{
		DisableStartupMessage: true,
	})

	f.Use(httpmw.WithCORS())
	f.Use(httpmw.WithCorrelationID())
	f.Use(httpmw.WithHTTPLogging())

	f.Get("/health", httpmw.Ping)
	f.Get("/version", httpmw.Version(h.Version))

	api := f.Group("/api/v1/crates")
	api.Get("", h.Search)
	api.Get("/:name/owners", h.Owners)
	api.Put("/new", h.Publish)
	api.Delete("/:name/:vers/yank", h.Yank)
	api.Put("/:name/:vers/unyank", h.Unyank)
	api.Put("/:name/owners", h.AddOwners)
	api.Delete("/:name/owners", h.RemoveOwners)

	f.Get(h.DLPath+"/:name/:vers/download", h.Download)

	ktra := f.Group("/ktra/api/v1")
	ktra.Post("/new_user/:name", h.NewUser)
	ktra.Post("/login/:name", h.Login)
	ktra.Post("/change_password/:name", h.ChangePassword)

	if h.OIDC != nil {
		f.Get("/me", h.OIDCStart("ktra/api/v1/openid/me"))
		f.Get("/replace_token", h.OIDCStart("ktra/api/v1/openid/replace"))
		ktra.Get("/openid/me", h.OIDCCallback("ktra/api/v1/openid/me", false))
		ktra.Get("/openid/replace", h.OIDCCallback("ktra/api/v1/openid/replace", true))
	} else {
		f.Get("/me", h.MeCurlHint)
	}

	if h.Mirror != nil {
		ktra.Get("/mirror/:name/:vers/download", h.MirrorDownload)
	}

	f.Use(regerr.NotFound)

	return f
}
