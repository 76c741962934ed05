package testutil

import (
	"context"
	"fmt"
	"io/fs"
	"strings"
	"testing"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
	"github.com/medflow/medflow-pharmacy/pkg/config"
	"github.com/medflow/medflow-pharmacy/pkg/database"
	"github.com/medflow/medflow-pharmacy/pkg/logger"
	"github.com/medflow/medflow-pharmacy/pkg/tenant"
)

// appRole is a non-superuser login so row level security is enforced in tests.
const (
	appRole     = "pharmacy_app"
	appPassword = "pharmacy_app"
)

// IntegrationSuite provides a migrated PostgreSQL database for integration tests.
// Admin connects as the container superuser (RLS bypassed) for fixtures and
// assertions; DB connects as an unprivileged role the way the service does.
type IntegrationSuite struct {
	Container *PostgresContainer
	Admin     *sqlx.DB
	DB        *database.DB
	Logger    *logger.Logger
}

// NewIntegrationSuite starts a container, applies migrations and creates the app role.
//
// Usage:
//
//	var suite *testutil.IntegrationSuite
//
//	func TestMain(m *testing.M) {
//	    flag.Parse()
//	    if testing.Short() { os.Exit(m.Run()) }
//	    ctx := context.Background()
//	    s, err := testutil.NewIntegrationSuite(ctx, migrations.FS)
//	    if err != nil { log.Fatal(err) }
//	    suite = s
//	    code := m.Run()
//	    s.Terminate(ctx)
//	    os.Exit(code)
//	}
func NewIntegrationSuite(ctx context.Context, migrations fs.FS) (*IntegrationSuite, error) {
	container, err := NewPostgresContainer(ctx, DefaultPostgresConfig())
	if err != nil {
		return nil, err
	}

	log := logger.Nop()

	admin, err := container.Connect(ctx)
	if err != nil {
		_ = container.Terminate(ctx)
		return nil, err
	}

	if err := database.FromSQLX(admin, "public", log).Migrate(ctx, migrations); err != nil {
		_ = container.Terminate(ctx)
		return nil, err
	}

	grants := []string{
		fmt.Sprintf("CREATE ROLE %s LOGIN PASSWORD '%s'", appRole, appPassword),
		fmt.Sprintf("GRANT USAGE ON SCHEMA public TO %s", appRole),
		fmt.Sprintf("GRANT SELECT, INSERT, UPDATE, DELETE ON ALL TABLES IN SCHEMA public TO %s", appRole),
	}
	for _, stmt := range grants {
		if _, err := admin.ExecContext(ctx, stmt); err != nil {
			_ = container.Terminate(ctx)
			return nil, fmt.Errorf("failed to prepare app role: %w", err)
		}
	}

	parsed, err := config.ParseDatabaseURL(container.DSN)
	if err != nil {
		_ = container.Terminate(ctx)
		return nil, err
	}
	parsed.User, parsed.Password = appRole, appPassword

	appDB, err := database.NewWithDSN(parsed.ToDSN(), log)
	if err != nil {
		_ = container.Terminate(ctx)
		return nil, err
	}

	return &IntegrationSuite{
		Container: container,
		Admin:     admin,
		DB:        appDB,
		Logger:    log,
	}, nil
}

// CreateTenant registers a tenant and returns a context carrying it.
func (s *IntegrationSuite) CreateTenant(t *testing.T, ctx context.Context, name string) (string, context.Context) {
	t.Helper()

	id := uuid.New().String()
	slug := strings.ToLower(strings.ReplaceAll(name, " ", "-")) + "-" + id[:8]
	if _, err := s.Admin.ExecContext(ctx,
		`INSERT INTO tenants (id, name, slug) VALUES ($1, $2, $3)`, id, name, slug,
	); err != nil {
		t.Fatalf("failed to create tenant: %v", err)
	}
	return id, tenant.WithTenantContext(ctx, id, slug)
}

// Terminate closes connections and removes the container
func (s *IntegrationSuite) Terminate(ctx context.Context) {
	if s.DB != nil {
		_ = s.DB.Close()
	}
	if s.Admin != nil {
		_ = s.Admin.Close()
	}
	if s.Container != nil {
		_ = s.Container.Terminate(ctx)
	}
}
