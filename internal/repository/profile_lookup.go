package repository

import (
	"context"
	"errors"
	"strconv"

	"github.com/iliyamo/memory-gallery/internal/admin"
	"github.com/iliyamo/memory-gallery/internal/session"
)

// AdminProfiles answers admin profile lookups for a session by resolving
// its identifier to a user and reading that user's profile.
type AdminProfiles struct {
	Users    *UserRepo
	Profiles *ProfileRepo
}

// LookupProfile implements admin.ProfileLookup.  A missing user or profile
// is reported as admin.ErrProfileNotFound.
func (a AdminProfiles) LookupProfile(ctx context.Context, s session.Session) (admin.Profile, error) {
	u, err := a.Users.GetByIdentifier(ctx, s.Identifier)
	if errors.Is(err, ErrNotFound) {
		return admin.Profile{}, admin.ErrProfileNotFound
	}
	if err != nil {
		return admin.Profile{}, err
	}
	p, err := a.Profiles.GetByUserID(ctx, u.ID)
	if errors.Is(err, ErrNotFound) {
		return admin.Profile{}, admin.ErrProfileNotFound
	}
	if err != nil {
		return admin.Profile{}, err
	}
	return admin.Profile{UserID: strconv.FormatUint(p.UserID, 10), IsAdmin: p.IsAdmin}, nil
}
