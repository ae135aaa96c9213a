// Package tenant carries the per-tenant settings every pass is scoped by.
package tenant

import (
	"fmt"
	"time"

	"github.com/zulandar/caboose/internal/config"
)

// Tenant identifies whose leads a pass works on.
type Tenant struct {
	ID          string
	Name        string
	Location    *time.Location
	CountryCode string
	Instance    string
}

// FromConfig resolves a configured tenant.
func FromConfig(tc config.TenantConfig) (Tenant, error) {
	loc, err := tc.Location()
	if err != nil {
		return Tenant{}, fmt.Errorf("tenant %s: timezone %q: %w", tc.ID, tc.Timezone, err)
	}
	return Tenant{
		ID:          tc.ID,
		Name:        tc.Name,
		Location:    loc,
		CountryCode: tc.CountryCode,
		Instance:    tc.Instance,
	}, nil
}

// All resolves every configured tenant.
func All(cfg *config.Config) ([]Tenant, error) {
	out := make([]Tenant, 0, len(cfg.Tenants))
	for _, tc := range cfg.Tenants {
		t, err := FromConfig(tc)
		if err != nil {
			return nil, err
		}
		out = append(out, t)
	}
	return out, nil
}

// Lookup resolves one configured tenant by ID.
func Lookup(cfg *config.Config, id string) (Tenant, error) {
	tc, ok := cfg.Tenant(id)
	if !ok {
		return Tenant{}, fmt.Errorf("tenant %q is not configured", id)
	}
	return FromConfig(tc)
}

// Local converts t into the tenant's zone. A nil Location means UTC.
func (t Tenant) Local(at time.Time) time.Time {
	if t.Location == nil {
		return at.UTC()
	}
	return at.In(t.Location)
}
