package repository

import (
	"context"
	"database/sql"
	"errors"
	"strings"
	"time"

	auth "github.com/goliatone/go-patient-auth"
	bunrepo "github.com/goliatone/go-repository-bun"
	"github.com/google/uuid"
	"github.com/uptrace/bun"
	"github.com/uptrace/bun/driver/pgdriver"
)

// Patients stores patient profiles. It embeds the generic repository for
// the plain CRUD surface.
type Patients struct {
	bunrepo.Repository[*auth.PatientProfile]
	db *bun.DB
}

var _ auth.ProfileStore = (*Patients)(nil)

// NewPatients returns the profile store backed by db
func NewPatients(db *bun.DB) *Patients {
	repo := bunrepo.NewRepository[*auth.PatientProfile](db, bunrepo.ModelHandlers[*auth.PatientProfile]{
		NewRecord: func() *auth.PatientProfile {
			return &auth.PatientProfile{}
		},
		GetID: func(p *auth.PatientProfile) uuid.UUID {
			if p == nil {
				return uuid.Nil
			}
			return p.ID
		},
		SetID: func(p *auth.PatientProfile, id uuid.UUID) {
			if p != nil {
				p.ID = id
			}
		},
		GetIdentifier: func() string {
			return "auth_user_id"
		},
	})

	return &Patients{
		Repository: repo,
		db:         db,
	}
}

// FindByUserIdentity returns the one profile linked to identityID
func (p *Patients) FindByUserIdentity(ctx context.Context, identityID string) (*auth.PatientProfile, error) {
	return p.FindByUserIdentityTx(ctx, p.db, identityID)
}

func (p *Patients) FindByUserIdentityTx(ctx context.Context, tx bun.IDB, identityID string) (*auth.PatientProfile, error) {
	record := &auth.PatientProfile{}
	err := tx.NewSelect().
		Model(record).
		Where("?TableAlias.auth_user_id = ?", identityID).
		Limit(1).
		Scan(ctx)

	if err != nil {
		if errors.Is(err, sql.ErrNoRows) || bunrepo.IsRecordNotFound(err) {
			return nil, auth.ErrProfileNotFound
		}
		return nil, err
	}

	return record, nil
}

// Insert stores a new profile, assigning an id when missing
func (p *Patients) Insert(ctx context.Context, profile *auth.PatientProfile) error {
	return p.InsertTx(ctx, p.db, profile)
}

func (p *Patients) InsertTx(ctx context.Context, tx bun.IDB, profile *auth.PatientProfile) error {
	if profile.ID == uuid.Nil {
		profile.ID = uuid.New()
	}

	if profile.CreatedAt.IsZero() {
		profile.CreatedAt = time.Now().UTC()
	}

	if _, err := tx.NewInsert().Model(profile).Exec(ctx); err != nil {
		if IsUniqueViolation(err) {
			return auth.ErrProfileConflict
		}
		return err
	}

	return nil
}

// IsUniqueViolation reports whether err is a unique constraint failure
// from postgres or sqlite
func IsUniqueViolation(err error) bool {
	if err == nil {
		return false
	}
	var pgErr pgdriver.Error
	if errors.As(err, &pgErr) {
		return pgErr.Field('C') == "23505"
	}
	return strings.Contains(err.Error(), "UNIQUE constraint failed")
}
