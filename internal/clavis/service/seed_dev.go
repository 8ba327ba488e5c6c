package service

import (
	"context"
	"fmt"

	"github.com/pkarsten/clavis/internal/clavis/crypto"
	"github.com/pkarsten/clavis/internal/clavis/types"
)

// DemoTag is one seeded registration. The credential is fixed so the
// console reader can replay it: `<uid> <credential>` simulates a tap of
// the seeded tag.
type DemoTag struct {
	UID          int64
	Role         types.Role
	Label        string
	CredentialID string
}

// SeedDemo registers a starter employee and two keys so a fresh dev
// database has something to tap. Re-seeding overwrites the same uids and
// is harmless. Dev environments only; the fixed credentials below are
// public.
func SeedDemo(ctx context.Context, dir *TagDirectory, cipher *crypto.LabelCipher) ([]DemoTag, error) {
	demo := []DemoTag{
		{UID: 1001, Role: types.RoleEmployee, Label: "Demo Employee", CredentialID: "5df6e0e2761359d30a8275058e299fcc"},
		{UID: 2001, Role: types.RoleKey, Label: "Server Room", CredentialID: "0386afa2b358c5dcb7d176d6f2eff98f"},
		{UID: 2002, Role: types.RoleKey, Label: "Supply Cabinet", CredentialID: "9c56cc51b374c3ba189210d5b6d4bf57"},
	}

	for _, d := range demo {
		encrypted, err := cipher.Encrypt(d.Label)
		if err != nil {
			return nil, fmt.Errorf("seed %q: %w", d.Label, err)
		}
		if err := dir.RegisterOrOverwrite(ctx, d.UID, d.Role, d.CredentialID, encrypted); err != nil {
			return nil, fmt.Errorf("seed %q: %w", d.Label, err)
		}
	}

	return demo, nil
}
