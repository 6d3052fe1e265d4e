package firestore

import (
	"context"
	"errors"
	"strings"

	pfirestore "github.com/pharmly/api/internal/platform/firestore"
	"github.com/pharmly/api/internal/repositories"
)

// pharmacyIDKeys are tried in order to find the deployment's pharmacy in config/app.
var pharmacyIDKeys = []string{"pharmacyId", "activePharmacyId", "id"}

// PharmacyRepository reads store-wide settings from config/app.
type PharmacyRepository struct {
	config *pfirestore.Collection[map[string]any]
}

// NewPharmacyRepository constructs the settings reader.
func NewPharmacyRepository(provider *pfirestore.Provider) (*PharmacyRepository, error) {
	if provider == nil {
		return nil, errors.New("pharmacy repository requires firestore provider")
	}
	return &PharmacyRepository{
		config: pfirestore.NewCollection[map[string]any](provider, configCollection, nil),
	}, nil
}

// DefaultPharmacyID returns the configured pharmacy id, or an empty string when config/app is
// absent or names none.
func (r *PharmacyRepository) DefaultPharmacyID(ctx context.Context) (string, error) {
	doc, err := r.config.Get(ctx, appConfigDocument)
	if err != nil {
		var repoErr repositories.RepositoryError
		if errors.As(err, &repoErr) && repoErr.IsNotFound() {
			return "", nil
		}
		return "", err
	}
	return PharmacyIDFromSettings(doc.Data), nil
}

// PharmacyIDFromSettings picks the first non-empty string among the known keys.
func PharmacyIDFromSettings(settings map[string]any) string {
	for _, key := range pharmacyIDKeys {
		if value, ok := settings[key].(string); ok {
			if value = strings.TrimSpace(value); value != "" {
				return value
			}
		}
	}
	return ""
}

var _ repositories.PharmacyRepository = (*PharmacyRepository)(nil)
