package service

import (
	"context"
	"fmt"
	"path/filepath"
	"strings"
	"testing"

	"github.com/fluxgate/tenancy/internal/identity/domain"
	"github.com/fluxgate/tenancy/internal/identity/store"
	"github.com/fluxgate/tenancy/internal/identity/store/drivers/sqlite"
	"github.com/fluxgate/tenancy/pkg/cryptox"
	"github.com/fluxgate/tenancy/pkg/idx"
	"github.com/stretchr/testify/require"
)

// newTestStore opens a per-test in-memory database with migrations applied.
// The shared-cache DSN keeps every pooled connection on the same database.
func newTestStore(t *testing.T) store.Store {
	t.Helper()

	dsn := fmt.Sprintf("file:%s?mode=memory&cache=shared", strings.ReplaceAll(t.Name(), "/", "_"))
	st, err := sqlite.NewStore(dsn)
	require.NoError(t, err)
	t.Cleanup(func() { _ = st.Close() })

	require.NoError(t, st.ApplyMigrations())
	return st
}

// newFileTestStore opens a throwaway on-disk database. Concurrency tests use
// this instead of the in-memory store so racing transactions serialize
// through the busy handler the way they do in production.
func newFileTestStore(t *testing.T) store.Store {
	t.Helper()

	dsn := fmt.Sprintf("file:%s?_pragma=busy_timeout(10000)", filepath.Join(t.TempDir(), "test.db"))
	st, err := sqlite.NewStore(dsn)
	require.NoError(t, err)
	t.Cleanup(func() { _ = st.Close() })

	require.NoError(t, st.ApplyMigrations())
	return st
}

func seedTenant(t *testing.T, st store.Store, name string, mfaEnabled bool) domain.Tenant {
	t.Helper()
	tenant := domain.Tenant{
		ID:         idx.New().String(),
		Name:       name,
		MFAEnabled: mfaEnabled,
	}
	require.NoError(t, st.Directory().CreateTenant(context.Background(), tenant))
	return tenant
}

func seedRole(t *testing.T, st store.Store, tenantID, name string) domain.Role {
	t.Helper()
	role := domain.Role{
		ID:       idx.New().String(),
		TenantID: tenantID,
		Name:     name,
	}
	require.NoError(t, st.Directory().CreateRole(context.Background(), role))
	return role
}

func seedActor(t *testing.T, st store.Store, a domain.Actor, password string) domain.Actor {
	t.Helper()
	hash, err := cryptox.HashPassword(password)
	require.NoError(t, err)

	if a.ID == "" {
		a.ID = idx.New().String()
	}
	a.Email = strings.ToLower(a.Email)
	a.PasswordHash = hash
	require.NoError(t, st.Actors().Create(context.Background(), a))
	return a
}

func seedAllocation(t *testing.T, st store.Store, tenantID, licenseType string, allocated, used int) domain.Allocation {
	t.Helper()
	allocation := domain.Allocation{
		ID:          idx.New().String(),
		TenantID:    tenantID,
		LicenseType: licenseType,
		Allocated:   allocated,
		Used:        used,
	}
	require.NoError(t, st.Allocations().Create(context.Background(), allocation))
	return allocation
}

func seedApprovalLevels(t *testing.T, st store.Store, tenantID string, stages ...string) {
	t.Helper()
	for i, stage := range stages {
		require.NoError(t, st.Directory().CreateApprovalLevel(context.Background(), domain.ApprovalLevel{
			ID:        idx.New().String(),
			TenantID:  tenantID,
			StepOrder: i + 1,
			Stage:     stage,
		}))
	}
}
