package in

import (
	"github.com/gofiber/fiber/v2"

	"github.com/ktra-go/registry/common/mlog"
	"github.com/ktra-go/registry/internal/domain/entity"
	"github.com/ktra-go/registry/internal/domain/regerr"
)

func token(c *fiber.Ctx) string {
	return c.Get("Authorization")
}

// Search handles GET /api/v1/crates.
func (h *Handler) Search(c *fiber.Ctx) error {
	var query entity.Query
	if err := c.QueryParser(&query); err != nil {
		return regerr.ToResponse(c, regerr.ErrInvalidJSON(err))
	}

	if query.Limit <= 0 {
		query.Limit = entity.DefaultQueryLimit
	}

	result, err := h.Registry.Search(c.UserContext(), query)
	if err != nil {
		return regerr.ToResponse(c, err)
	}

	return c.JSON(result)
}

// Owners handles GET /api/v1/crates/:name/owners. The Authorization
// header is required but never consulted: listing owners does not
// mutate anything.
func (h *Handler) Owners(c *fiber.Ctx) error {
	if token(c) == "" {
		return fiber.NewError(fiber.StatusBadRequest, "missing Authorization header")
	}

	owners, err := h.Registry.Owners(c.UserContext(), c.Params("name"))
	if err != nil {
		return regerr.ToResponse(c, err)
	}

	return c.JSON(fiber.Map{"users": owners})
}

// Publish handles PUT /api/v1/crates/new.
func (h *Handler) Publish(c *fiber.Ctx) error {
	if _, err := h.Registry.Publish(c.UserContext(), token(c), c.Body()); err != nil {
		return regerr.ToResponse(c, err)
	}

	return c.JSON(fiber.Map{"warning": nil})
}

// Yank handles DELETE /api/v1/crates/:name/:vers/yank.
func (h *Handler) Yank(c *fiber.Ctx) error {
	if err := h.Registry.Yank(c.UserContext(), token(c), c.Params("name"), c.Params("vers")); err != nil {
		return regerr.ToResponse(c, err)
	}

	return c.JSON(fiber.Map{"ok": true})
}

// Unyank handles PUT /api/v1/crates/:name/:vers/unyank.
func (h *Handler) Unyank(c *fiber.Ctx) error {
	if err := h.Registry.Unyank(c.UserContext(), token(c), c.Params("name"), c.Params("vers")); err != nil {
		return regerr.ToResponse(c, err)
	}

	return c.JSON(fiber.Map{"ok": true})
}

// AddOwners handles PUT /api/v1/crates/:name/owners.
func (h *Handler) AddOwners(c *fiber.Ctx) error {
	var body entity.Owners
	if err := c.BodyParser(&body); err != nil {
		return regerr.ToResponse(c, regerr.ErrInvalidJSON(err))
	}

	msg, err := h.Registry.AddOwners(c.UserContext(), token(c), c.Params("name"), body.Logins)
	if err != nil {
		return regerr.ToResponse(c, err)
	}

	return c.JSON(fiber.Map{"ok": true, "msg": msg})
}

// RemoveOwners handles DELETE /api/v1/crates/:name/owners. The msg
// field is always empty on success: the protocol does not specify
// its content but the Cargo client demands the field be present.
func (h *Handler) RemoveOwners(c *fiber.Ctx) error {
	var body entity.Owners
	if err := c.BodyParser(&body); err != nil {
		return regerr.ToResponse(c, regerr.ErrInvalidJSON(err))
	}

	if _, err := h.Registry.RemoveOwners(c.UserContext(), token(c), c.Params("name"), body.Logins); err != nil {
		return regerr.ToResponse(c, err)
	}

	return c.JSON(fiber.Map{"ok": true, "msg": ""})
}

// Download handles GET <dl_path>/:name/:vers/download.
func (h *Handler) Download(c *fiber.Ctx) error {
	return c.SendFile(h.Registry.DownloadPath(c.Params("name"), c.Params("vers")))
}

// MirrorDownload handles GET /ktra/api/v1/mirror/:name/:vers/download.
func (h *Handler) MirrorDownload(c *fiber.Ctx) error {
	data, err := h.Mirror.Download(c.UserContext(), c.Params("name"), c.Params("vers"))
	if err != nil {
		return regerr.ToResponse(c, err)
	}

	c.Set(fiber.HeaderContentType, "application/x-tar")

	return c.Send(data)
}

// NewUser handles POST /ktra/api/v1/new_user/:name.
func (h *Handler) NewUser(c *fiber.Ctx) error {
	var body entity.Credential
	if err := c.BodyParser(&body); err != nil {
		return regerr.ToResponse(c, regerr.ErrInvalidJSON(err))
	}

	tok, err := h.Auth.Register(c.UserContext(), c.Params("name"), body.Password)
	if err != nil {
		return regerr.ToResponse(c, err)
	}

	return c.JSON(fiber.Map{"token": tok})
}

// Login handles POST /ktra/api/v1/login/:name.
func (h *Handler) Login(c *fiber.Ctx) error {
	var body entity.Credential
	if err := c.BodyParser(&body); err != nil {
		return regerr.ToResponse(c, regerr.ErrInvalidJSON(err))
	}

	tok, err := h.Auth.Login(c.UserContext(), c.Params("name"), body.Password)
	if err != nil {
		return regerr.ToResponse(c, err)
	}

	return c.JSON(fiber.Map{"token": tok})
}

// ChangePassword handles POST /ktra/api/v1/change_password/:name.
func (h *Handler) ChangePassword(c *fiber.Ctx) error {
	var body entity.ChangePassword
	if err := c.BodyParser(&body); err != nil {
		return regerr.ToResponse(c, regerr.ErrInvalidJSON(err))
	}

	tok, err := h.Auth.ChangePassword(c.UserContext(), c.Params("name"), body.OldPassword, body.NewPassword)
	if err != nil {
		return regerr.ToResponse(c, err)
	}

	return c.JSON(fiber.Map{"token": tok})
}

// MeCurlHint handles GET /me under the password flow: it returns the
// literal curl invocation a user would run to mint a token.
func (h *Handler) MeCurlHint(c *fiber.Ctx) error {
	return c.SendString(meCurlHint)
}

// OIDCStart builds the GET /me or /replace_token handler that begins
// the federated authorization-code flow for redirectPath.
func (h *Handler) OIDCStart(redirectPath string) fiber.Handler {
	return func(c *fiber.Ctx) error {
		url, err := h.OIDC.AuthorizeURL(c.UserContext(), redirectPath)
		if err != nil {
			return regerr.ToResponse(c, err)
		}

		return c.Redirect(url, fiber.StatusTemporaryRedirect)
	}
}

// OIDCCallback builds the GET /ktra/api/v1/openid/{me,replace} handler
// that completes the federated authorization-code flow.
func (h *Handler) OIDCCallback(redirectPath string, revokeOldToken bool) fiber.Handler {
	return func(c *fiber.Ctx) error {
		logger := mlog.NewLoggerFromContext(c.UserContext())

		result, err := h.OIDC.HandleCallback(c.UserContext(), redirectPath, c.Query("code"), c.Query("state"), revokeOldToken)
		if err != nil {
			logger.Errorf("openid callback failed: %v", err)
			return regerr.ToResponse(c, err)
		}

		return c.JSON(result)
	}
}
