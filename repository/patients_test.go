package repository

import (
	"context"
	"testing"
	"time"

	auth "github.com/goliatone/go-patient-auth"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func setupPatients(t *testing.T) *Patients {
	t.Helper()

	db, err := Open(DriverSQLite, ":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })

	group, err := Migrate(context.Background(), db)
	require.NoError(t, err)
	require.False(t, group.IsZero())

	return NewPatients(db)
}

type sqliteMemory struct{}

func (sqliteMemory) GetDebug() bool                { return false }
func (sqliteMemory) GetDriver() string             { return DriverSQLite }
func (sqliteMemory) GetServer() string             { return ":memory:" }
func (sqliteMemory) GetPingTimeout() time.Duration { return time.Second }
func (sqliteMemory) GetOtelIdentifier() string     { return "" }

func TestNewClientMigratesPatients(t *testing.T) {
	ctx := context.Background()

	client, err := NewClient(ctx, sqliteMemory{})
	require.NoError(t, err)
	t.Cleanup(func() { _ = client.DB().Close() })

	require.NoError(t, client.Migrate(ctx))

	repo := NewPatients(client.DB())
	require.NoError(t, repo.Insert(ctx, &auth.PatientProfile{
		ID:         uuid.New(),
		AuthUserID: "user-client",
		Name:       "Ana Silva",
		Email:      "ana@example.com",
	}))

	found, err := repo.FindByUserIdentity(ctx, "user-client")
	require.NoError(t, err)
	assert.Equal(t, "Ana Silva", found.Name)
}

func TestNewClientRejectsUnknownDriver(t *testing.T) {
	_, err := NewClient(context.Background(), unknownDriver{})
	require.Error(t, err)
}

type unknownDriver struct{ sqliteMemory }

func (unknownDriver) GetDriver() string { return "oracle" }

func TestPatientsInsertAndFind(t *testing.T) {
	repo := setupPatients(t)
	ctx := context.Background()

	phone := "+5511987654321"
	birth := time.Date(1990, 5, 17, 0, 0, 0, 0, time.UTC)
	profile := &auth.PatientProfile{
		AuthUserID: "identity-ana",
		Name:       "Ana Silva",
		Email:      "ana@example.com",
		Phone:      &phone,
		BirthDate:  &birth,
	}

	require.NoError(t, repo.Insert(ctx, profile))
	assert.NotEqual(t, uuid.Nil, profile.ID)
	assert.False(t, profile.CreatedAt.IsZero())

	found, err := repo.FindByUserIdentity(ctx, "identity-ana")
	require.NoError(t, err)
	assert.Equal(t, profile.ID, found.ID)
	assert.Equal(t, "Ana Silva", found.Name)
	assert.Equal(t, "ana@example.com", found.Email)
	require.NotNil(t, found.Phone)
	assert.Equal(t, phone, *found.Phone)
	require.NotNil(t, found.BirthDate)
	assert.Equal(t, "1990-05-17", found.BirthDate.UTC().Format(auth.BirthDateLayout))
}

func TestPatientsOptionalFieldsStayNull(t *testing.T) {
	repo := setupPatients(t)
	ctx := context.Background()

	require.NoError(t, repo.Insert(ctx, &auth.PatientProfile{
		AuthUserID: "identity-min",
		Name:       "Min",
		Email:      "min@example.com",
	}))

	found, err := repo.FindByUserIdentity(ctx, "identity-min")
	require.NoError(t, err)
	assert.Nil(t, found.Phone)
	assert.Nil(t, found.BirthDate)
}

func TestPatientsFindMissing(t *testing.T) {
	repo := setupPatients(t)

	found, err := repo.FindByUserIdentity(context.Background(), "nobody")
	require.ErrorIs(t, err, auth.ErrProfileNotFound)
	assert.Nil(t, found)
}

func TestPatientsDuplicateIdentity(t *testing.T) {
	repo := setupPatients(t)
	ctx := context.Background()

	require.NoError(t, repo.Insert(ctx, &auth.PatientProfile{AuthUserID: "dup", Name: "A", Email: "a@example.com"}))

	err := repo.Insert(ctx, &auth.PatientProfile{AuthUserID: "dup", Name: "B", Email: "b@example.com"})
	require.ErrorIs(t, err, auth.ErrProfileConflict)
}

func TestPatientsGetByID(t *testing.T) {
	repo := setupPatients(t)
	ctx := context.Background()

	profile := &auth.PatientProfile{AuthUserID: "identity-id", Name: "Id", Email: "id@example.com"}
	require.NoError(t, repo.Insert(ctx, profile))

	found, err := repo.GetByID(ctx, profile.ID.String())
	require.NoError(t, err)
	assert.Equal(t, "identity-id", found.AuthUserID)
}
