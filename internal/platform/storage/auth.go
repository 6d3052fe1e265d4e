package storage

import (
	"errors"
	"strings"

	"github.com/pharmly/api/internal/platform/auth"
)

// ErrPermissionDenied is returned when the caller may not manage images of a pharmacy.
var ErrPermissionDenied = errors.New("storage: permission denied")

// AuthorizeProductImage reports whether identity may upload images for pharmacyID. Admins may
// upload for any pharmacy; staff only for the pharmacy bound to their token, when one is bound.
func AuthorizeProductImage(identity *auth.Identity, pharmacyID string) error {
	if identity == nil {
		return ErrPermissionDenied
	}
	if identity.HasRole(auth.RoleAdmin) {
		return nil
	}
	if !identity.HasRole(auth.RoleStaff) {
		return ErrPermissionDenied
	}
	bound := strings.TrimSpace(identity.PharmacyID)
	if bound != "" && bound != strings.TrimSpace(pharmacyID) {
		return ErrPermissionDenied
	}
	return nil
}
