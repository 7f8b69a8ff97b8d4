package directory

import "verigate/internal/verification/models"

// SeedDemoOwners enrolls a small fixed population for local development and
// demos. Production deployments load the directory from their identity
// provider instead.
func SeedDemoOwners(d *InMemory) []*Profile {
	profiles := []*Profile{
		{
			OwnerID:     "owner-1001",
			FullName:    "Astrid Lindqvist",
			DateOfBirth: "1988-03-14",
			NationalID:  "880314-2397",
			Enrollments: []Enrollment{
				{Kind: models.SourcePassStore, SourceID: "pass-store-main"},
				{Kind: models.SourceBankID, SourceID: "bank-id-national"},
				{Kind: models.SourceHealthRegistry, SourceID: "health-registry-central"},
			},
		},
		{
			OwnerID:     "owner-1002",
			FullName:    "Tomas Berg",
			DateOfBirth: "1979-11-02",
			NationalID:  "791102-1158",
			Enrollments: []Enrollment{
				{Kind: models.SourcePassStore, SourceID: "pass-store-main"},
				{Kind: models.SourceDataVault, SourceID: "data-vault-eu"},
			},
		},
		{
			OwnerID:     "owner-1003",
			FullName:    "Mira Kovacs",
			DateOfBirth: "1995-06-27",
			NationalID:  "950627-4412",
			Enrollments: []Enrollment{
				{Kind: models.SourceDataVault, SourceID: "data-vault-eu"},
			},
		},
	}
	for _, p := range profiles {
		d.Enroll(p)
	}
	return profiles
}
