package services

import (
	"errors"
	"fmt"
	"strings"

	"github.com/go-playground/validator/v10"
	"github.com/paulmach/orb"

	"github.com/dpup/impact.ersn.net/server/internal/lib/geo"
)

// newValidator returns a validator with the "lonlat" tag registered for
// orb.Point fields
func newValidator() *validator.Validate {
	v := validator.New(validator.WithRequiredStructEnabled())
	_ = v.RegisterValidation("lonlat", func(fl validator.FieldLevel) bool {
		p, ok := fl.Field().Interface().(orb.Point)
		return ok && geo.IsValidPoint(p)
	})
	return v
}

// validate checks req and wraps failures in ErrInvalidRequest
func (s *ImpactService) validate(req any) error {
	err := s.validator.Struct(req)
	if err == nil {
		return nil
	}

	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) {
		return fmt.Errorf("%w: %v", ErrInvalidRequest, err)
	}

	fields := make([]string, 0, len(verrs))
	for _, fe := range verrs {
		fields = append(fields, fmt.Sprintf("%s failed %q", fe.Namespace(), fe.Tag()))
	}
	return fmt.Errorf("%w: %s", ErrInvalidRequest, strings.Join(fields, ", "))
}

// resolveBuffer applies the default and the configured maximum
func (s *ImpactService) resolveBuffer(requested *float64) (float64, error) {
	if requested == nil {
		return s.cfg.Impact.DefaultBufferMeters, nil
	}
	if *requested > s.cfg.Impact.MaxBufferMeters {
		return 0, fmt.Errorf("%w: buffer_meters must not exceed %.0f", ErrInvalidRequest, s.cfg.Impact.MaxBufferMeters)
	}
	return *requested, nil
}
