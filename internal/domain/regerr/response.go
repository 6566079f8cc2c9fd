package regerr

import "github.com/gofiber/fiber/v2"

// Envelope is the error body shape returned alongside a 200/404/403
// status: a list of human-readable error strings, matching the wire
// format every registry client already understands.
type Envelope struct {
	Errors []EnvelopeError `json:"errors"`
}

// EnvelopeError is a single entry of an Envelope.
type EnvelopeError struct {
	Detail string `json:"detail"`
}

func envelope(msgs ...string) Envelope {
	errs := make([]EnvelopeError, 0, len(msgs))
	for _, m := range msgs {
		errs = append(errs, EnvelopeError{Detail: m})
	}

	return Envelope{Errors: errs}
}

// notFoundKinds status 404: the resource addressed by the request
// (crate, version, route) does not exist.
var notFoundKinds = map[Kind]bool{
	KindCrateNotFoundInDB:   true,
	KindVersionNotFoundInDB: true,
}

// authKinds status 403: the request carried a token that does not
// identify any user, or identifies a user forbidden from the action.
// Every other error, including a failed login, is 200-with-envelope.
var authKinds = map[Kind]bool{
	KindInvalidToken: true,
	KindInvalidUser:  true,
}

// ToResponse writes err to c following the status-mapping rules: 404
// for not-found kinds, 403 for auth kinds, 200-with-envelope for
// everything else a handler deliberately surfaces as a soft failure
// (e.g. change_yanked no-op, already-yanked, user-exists).
func ToResponse(c *fiber.Ctx, err error) error {
	re, ok := As(err)
	if !ok {
		return c.Status(fiber.StatusInternalServerError).JSON(envelope(err.Error()))
	}

	switch {
	case notFoundKinds[re.Kind]:
		return c.Status(fiber.StatusNotFound).JSON(envelope(re.Error()))
	case authKinds[re.Kind]:
		return c.Status(fiber.StatusForbidden).JSON(envelope(re.Error()))
	case re.Kind == KindMultiple:
		msgs := make([]string, 0, len(re.Errs))
		for _, e := range re.Errs {
			msgs = append(msgs, e.Error())
		}

		return c.Status(fiber.StatusOK).JSON(envelope(msgs...))
	default:
		return c.Status(fiber.StatusOK).JSON(envelope(re.Error()))
	}
}

// NotFound writes the 404 envelope for routes that don't match any
// registered endpoint.
func NotFound(c *fiber.Ctx) error {
	return c.Status(fiber.StatusNotFound).JSON(envelope("resource or api is not defined"))
}
