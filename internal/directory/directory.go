// Package directory resolves owner identifiers to their enrolled identity
// profile: the canonical claim values and the credential sources the owner has
// enrolled with. Issuance reads from here; it is the system of record for who
// a code can be minted for.
package directory

import (
	"context"
	"fmt"
	"sync"

	"verigate/internal/verification/models"
	"verigate/pkg/platform/sentinel"
)

// Enrollment records that an owner holds a credential with one source.
type Enrollment struct {
	Kind     models.SourceKind
	SourceID string
}

// Profile is an owner's enrolled identity record.
type Profile struct {
	OwnerID     string
	FullName    string
	DateOfBirth string
	NationalID  string
	Enrollments []Enrollment
}

// Claims renders the profile's canonical claim values keyed by type.
func (p *Profile) Claims() map[models.ClaimType]string {
	return map[models.ClaimType]string{
		models.ClaimFullName:    p.FullName,
		models.ClaimOwnerID:     p.OwnerID,
		models.ClaimDateOfBirth: p.DateOfBirth,
		models.ClaimNationalID:  p.NationalID,
	}
}

// Directory looks up enrolled owner profiles.
type Directory interface {
	Lookup(ctx context.Context, ownerID string) (*Profile, error)
}

// InMemory is a map-backed directory, seeded at startup.
type InMemory struct {
	mu       sync.RWMutex
	profiles map[string]*Profile
}

// NewInMemory constructs an empty in-memory directory.
func NewInMemory() *InMemory {
	return &InMemory{profiles: make(map[string]*Profile)}
}

// Enroll registers or replaces an owner's profile.
func (d *InMemory) Enroll(profile *Profile) {
	d.mu.Lock()
	defer d.mu.Unlock()
	copied := *profile
	copied.Enrollments = append([]Enrollment(nil), profile.Enrollments...)
	d.profiles[profile.OwnerID] = &copied
}

func (d *InMemory) Lookup(_ context.Context, ownerID string) (*Profile, error) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	stored, ok := d.profiles[ownerID]
	if !ok {
		return nil, fmt.Errorf("owner %s: %w", ownerID, sentinel.ErrNotFound)
	}
	copied := *stored
	copied.Enrollments = append([]Enrollment(nil), stored.Enrollments...)
	return &copied, nil
}
