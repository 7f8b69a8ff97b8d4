package directory_test

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"verigate/internal/directory"
	"verigate/internal/verification/models"
	"verigate/pkg/platform/sentinel"
)

func TestInMemory_LookupUnknownOwner(t *testing.T) {
	d := directory.NewInMemory()
	_, err := d.Lookup(context.Background(), "owner-x")
	assert.ErrorIs(t, err, sentinel.ErrNotFound)
}

func TestInMemory_EnrollAndLookup(t *testing.T) {
	d := directory.NewInMemory()
	d.Enroll(&directory.Profile{
		OwnerID:  "owner-1",
		FullName: "Astrid Lindqvist",
		Enrollments: []directory.Enrollment{
			{Kind: models.SourcePassStore, SourceID: "pass-store-main"},
		},
	})

	p, err := d.Lookup(context.Background(), "owner-1")
	require.NoError(t, err)
	assert.Equal(t, "Astrid Lindqvist", p.FullName)
	require.Len(t, p.Enrollments, 1)

	// Mutating the returned profile must not alter the stored one.
	p.FullName = "someone else"
	p.Enrollments[0].SourceID = "tampered"

	again, err := d.Lookup(context.Background(), "owner-1")
	require.NoError(t, err)
	assert.Equal(t, "Astrid Lindqvist", again.FullName)
	assert.Equal(t, "pass-store-main", again.Enrollments[0].SourceID)
}

func TestProfile_Claims(t *testing.T) {
	p := &directory.Profile{
		OwnerID:     "owner-1",
		FullName:    "Astrid Lindqvist",
		DateOfBirth: "1988-03-14",
		NationalID:  "880314-2397",
	}
	claims := p.Claims()
	assert.Equal(t, "Astrid Lindqvist", claims[models.ClaimFullName])
	assert.Equal(t, "owner-1", claims[models.ClaimOwnerID])
	assert.Equal(t, "1988-03-14", claims[models.ClaimDateOfBirth])
	assert.Equal(t, "880314-2397", claims[models.ClaimNationalID])
}

func TestSeedDemoOwners(t *testing.T) {
	d := directory.NewInMemory()
	profiles := directory.SeedDemoOwners(d)
	require.NotEmpty(t, profiles)

	for _, p := range profiles {
		found, err := d.Lookup(context.Background(), p.OwnerID)
		require.NoError(t, err)
		assert.NotEmpty(t, found.FullName)
		assert.NotEmpty(t, found.Enrollments)
	}
}
