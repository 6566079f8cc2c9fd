package regerr

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gofiber/fiber/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newGetRequest(t *testing.T, path string) *http.Request {
	t.Helper()

	return httptest.NewRequest(http.MethodGet, path, nil)
}

func TestToResponseStatusMapping(t *testing.T) {
	cases := []struct {
		name       string
		err        error
		wantStatus int
	}{
		{"crate not found", ErrCrateNotFoundInDB("foo"), fiber.StatusNotFound},
		{"version not found", ErrVersionNotFoundInDB("1.0.0"), fiber.StatusNotFound},
		{"invalid token", ErrInvalidToken("tok"), fiber.StatusForbidden},
		{"invalid password", ErrInvalidPassword(), fiber.StatusForbidden},
		{"user exists", ErrUserExists("alice"), fiber.StatusOK},
		{"already yanked", ErrAlreadyYanked("foo", "1.0.0"), fiber.StatusOK},
		{"multiple", ErrMultiple([]error{ErrCrateNameNotDefined(), ErrLoginsNotDefined()}), fiber.StatusOK},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			app := fiber.New()
			app.Get("/", func(c *fiber.Ctx) error {
				return ToResponse(c, tc.err)
			})

			req := newGetRequest(t, "/")
			resp, err := app.Test(req)
			require.NoError(t, err)
			assert.Equal(t, tc.wantStatus, resp.StatusCode)
		})
	}
}
