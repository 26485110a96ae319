package repository

import (
	"context"

	auth "github.com/goliatone/go-patient-auth"
	persistence "github.com/goliatone/go-persistence-bun"
)

// MigrationsSourceLabel names the embedded migrations in persistence reports
const MigrationsSourceLabel = "repository/migrations"

// NewClient opens the database described by cfg and registers the patient
// model and migrations with a persistence client. Migrations are validated
// for every supported dialect but not applied, callers run Migrate.
func NewClient(ctx context.Context, cfg persistence.Config) (*persistence.Client, error) {
	sqldb, dialect, err := OpenSQL(cfg.GetDriver(), cfg.GetServer())
	if err != nil {
		return nil, err
	}

	persistence.RegisterModel((*auth.PatientProfile)(nil))

	client, err := persistence.New(cfg, sqldb, dialect)
	if err != nil {
		_ = sqldb.Close()
		return nil, err
	}

	client.RegisterDialectMigrations(
		MigrationsFS(),
		persistence.WithDialectSourceLabel(MigrationsSourceLabel),
		persistence.WithValidationTargets(DriverPostgres, DriverSQLite),
	)

	if err := client.ValidateDialects(ctx); err != nil {
		_ = sqldb.Close()
		return nil, err
	}

	return client, nil
}
