package request

import (
	"errors"
	"net/http"
	"regexp"

	"github.com/go-playground/validator/v10"
)

var validate = validator.New()

// Nation slugs are subdomain labels: the slug becomes the host in
// https://{slug}.nationbuilder.com, so anything else is rejected before
// it can reach a URL.
var slugRegex = regexp.MustCompile(`^[a-z0-9](?:[a-z0-9-]{0,61}[a-z0-9])?$`)

func init() {
	validate.RegisterValidation("nation_slug", func(fl validator.FieldLevel) bool {
		return slugRegex.MatchString(fl.Field().String())
	})
}

// NationSlug reads and validates the nation query parameter.
func NationSlug(r *http.Request) (string, error) {
	slug := r.URL.Query().Get("nation")
	if slug == "" {
		return "", errors.New("missing nation parameter")
	}
	if err := validate.Var(slug, "nation_slug"); err != nil {
		return "", errors.New("invalid nation slug")
	}
	return slug, nil
}
