package postgres

import (
	"context"
	"database/sql"
	"testing"

	_ "github.com/lib/pq"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/pressly/goose/v3"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	tcpostgres "github.com/testcontainers/testcontainers-go/modules/postgres"
	"github.com/testcontainers/testcontainers-go/wait"

	"github.com/otherjamesbrown/ai-aas/services/auth-gateway-service/migrations"
)

func setupStore(t *testing.T) (*Store, func()) {
	t.Helper()

	ctx := context.Background()

	container, err := tcpostgres.RunContainer(ctx,
		tcpostgres.WithDatabase("auth_gateway_service"),
		tcpostgres.WithUsername("postgres"),
		tcpostgres.WithPassword("postgres"),
		testcontainers.WithWaitStrategy(wait.ForListeningPort("5432/tcp")),
	)
	require.NoError(t, err)

	connString, err := container.ConnectionString(ctx, "sslmode=disable")
	require.NoError(t, err)

	db, err := sql.Open("postgres", connString)
	require.NoError(t, err)

	goose.SetBaseFS(migrations.FS)
	require.NoError(t, goose.SetDialect("postgres"))
	require.NoError(t, goose.Up(db, "sql"))

	pool, err := pgxpool.New(ctx, connString)
	require.NoError(t, err)

	store := NewStoreFromPool(pool)

	cleanup := func() {
		store.Close()
		_ = db.Close()
		require.NoError(t, container.Terminate(ctx))
	}

	return store, cleanup
}

func createTestUser(t *testing.T, store *Store, username string) User {
	t.Helper()
	user, err := store.CreateUser(context.Background(), CreateUserParams{
		ID:           uuid.New(),
		Username:     username,
		PasswordHash: "$argon2id$v=19$m=65536,t=2,p=2$c2FsdHNhbHRzYWx0c2FsdA$aGFzaGhhc2hoYXNoaGFzaGhhc2hoYXNoaGFzaGhhc2g",
		Nickname:     "Test User",
		Status:       1,
	})
	require.NoError(t, err)
	return user
}

func TestStoreUserLifecycle(t *testing.T) {
	store, cleanup := setupStore(t)
	defer cleanup()
	ctx := context.Background()

	user := createTestUser(t, store, "alice")

	byName, err := store.GetUserByUsername(ctx, "alice")
	require.NoError(t, err)
	assert.Equal(t, user.ID, byName.ID)

	byID, err := store.GetUserByID(ctx, user.ID)
	require.NoError(t, err)
	assert.Equal(t, "alice", byID.Username)

	_, err = store.GetUserByUsername(ctx, "nobody")
	assert.ErrorIs(t, err, ErrNotFound)

	_, err = store.CreateUser(ctx, CreateUserParams{
		ID:           uuid.New(),
		Username:     "alice",
		PasswordHash: "x",
		Status:       1,
	})
	assert.ErrorIs(t, err, ErrDuplicate)

	require.NoError(t, store.UpdateUserStatus(ctx, user.ID, 0))
	byID, err = store.GetUserByID(ctx, user.ID)
	require.NoError(t, err)
	assert.Equal(t, 0, byID.Status)

	assert.ErrorIs(t, store.UpdateUserStatus(ctx, uuid.New(), 1), ErrNotFound)
}

func TestStoreRolesAndPermissions(t *testing.T) {
	store, cleanup := setupStore(t)
	defer cleanup()
	ctx := context.Background()

	user := createTestUser(t, store, "alice")

	admin, err := store.CreateRole(ctx, "admin", "Administrator", 0)
	require.NoError(t, err)
	auditor, err := store.CreateRole(ctx, "auditor", "Auditor", 1)
	require.NoError(t, err)

	_, err = store.CreateRole(ctx, "admin", "Dup", 0)
	assert.ErrorIs(t, err, ErrDuplicate)

	fetched, err := store.GetRoleByKey(ctx, "admin")
	require.NoError(t, err)
	assert.Equal(t, admin.ID, fetched.ID)

	roles, err := store.ListRoles(ctx)
	require.NoError(t, err)
	require.Len(t, roles, 2)
	assert.Equal(t, "admin", roles[0].RoleKey)
	assert.Equal(t, "auditor", roles[1].RoleKey)

	userMenu, err := store.CreateMenu(ctx, CreateMenuParams{
		MenuName: "User List", APIPath: "/system/user", RequestMethod: "GET", Perms: "system:user:list",
	})
	require.NoError(t, err)
	logMenu, err := store.CreateMenu(ctx, CreateMenuParams{
		MenuName: "Audit Log", APIPath: "/system/audit/**", RequestMethod: "GET", Perms: "system:audit:read",
	})
	require.NoError(t, err)

	require.NoError(t, store.ReplaceRoleMenus(ctx, admin.ID, []uuid.UUID{userMenu.ID}))
	require.NoError(t, store.ReplaceRoleMenus(ctx, auditor.ID, []uuid.UUID{logMenu.ID}))
	require.NoError(t, store.ReplaceUserRoles(ctx, user.ID, []uuid.UUID{admin.ID, auditor.ID}))

	perms, err := store.GetPermissionsByUserID(ctx, user.ID)
	require.NoError(t, err)
	assert.ElementsMatch(t, []string{"system:user:list", "system:audit:read"}, perms)

	roleKeys, err := store.GetRoleKeysByUserID(ctx, user.ID)
	require.NoError(t, err)
	assert.ElementsMatch(t, []string{"admin", "auditor"}, roleKeys)

	// Dropping a role drops its permissions.
	require.NoError(t, store.ReplaceUserRoles(ctx, user.ID, []uuid.UUID{auditor.ID}))
	perms, err = store.GetPermissionsByUserID(ctx, user.ID)
	require.NoError(t, err)
	assert.Equal(t, []string{"system:audit:read"}, perms)
}

func TestStoreMenuCRUD(t *testing.T) {
	store, cleanup := setupStore(t)
	defer cleanup()
	ctx := context.Background()

	parent, err := store.CreateMenu(ctx, CreateMenuParams{MenuName: "System"})
	require.NoError(t, err)

	child, err := store.CreateMenu(ctx, CreateMenuParams{
		MenuName:      "User Management",
		ParentID:      &parent.ID,
		APIPath:       "/system/user/**",
		RequestMethod: "GET",
		Perms:         "system:user:read",
		SortOrder:     1,
	})
	require.NoError(t, err)

	got, err := store.GetMenu(ctx, child.ID)
	require.NoError(t, err)
	assert.Equal(t, "/system/user/**", got.APIPath)
	require.NotNil(t, got.ParentID)
	assert.Equal(t, parent.ID, *got.ParentID)

	_, err = store.GetMenu(ctx, uuid.New())
	assert.ErrorIs(t, err, ErrNotFound)

	listed, err := store.ListMenus(ctx, "user")
	require.NoError(t, err)
	require.Len(t, listed, 1)
	assert.Equal(t, child.ID, listed[0].ID)

	all, err := store.ListMenus(ctx, "")
	require.NoError(t, err)
	assert.Len(t, all, 2)

	updated, err := store.UpdateMenu(ctx, UpdateMenuParams{
		ID:            child.ID,
		MenuName:      "User Management",
		ParentID:      &parent.ID,
		APIPath:       "/system/user/**",
		RequestMethod: "ALL",
		Perms:         "system:user:admin",
		SortOrder:     1,
	})
	require.NoError(t, err)
	assert.Equal(t, "ALL", updated.RequestMethod)
	assert.Equal(t, "system:user:admin", updated.Perms)

	// Updating another menu onto an already mapped method and path trips
	// the same unique index as creation and maps the same way.
	other, err := store.CreateMenu(ctx, CreateMenuParams{
		MenuName:      "Audit Log",
		ParentID:      &parent.ID,
		APIPath:       "/system/audit",
		RequestMethod: "GET",
		Perms:         "system:audit:read",
		SortOrder:     2,
	})
	require.NoError(t, err)
	_, err = store.UpdateMenu(ctx, UpdateMenuParams{
		ID:            other.ID,
		MenuName:      "Audit Log",
		ParentID:      &parent.ID,
		APIPath:       "/system/user/**",
		RequestMethod: "ALL",
		Perms:         "system:audit:read",
		SortOrder:     2,
	})
	assert.ErrorIs(t, err, ErrDuplicate)
	require.NoError(t, store.DeleteMenu(ctx, other.ID))

	// A parent with children cannot be deleted.
	assert.ErrorIs(t, store.DeleteMenu(ctx, parent.ID), ErrHasChildren)

	require.NoError(t, store.DeleteMenu(ctx, child.ID))
	require.NoError(t, store.DeleteMenu(ctx, parent.ID))
	assert.ErrorIs(t, store.DeleteMenu(ctx, parent.ID), ErrNotFound)
}

func TestStoreListAuthorizationRules(t *testing.T) {
	store, cleanup := setupStore(t)
	defer cleanup()
	ctx := context.Background()

	_, err := store.CreateMenu(ctx, CreateMenuParams{MenuName: "Pure UI Node"})
	require.NoError(t, err)
	_, err = store.CreateMenu(ctx, CreateMenuParams{
		MenuName: "User List", APIPath: "/system/user", RequestMethod: "GET", Perms: "system:user:list",
	})
	require.NoError(t, err)
	_, err = store.CreateMenu(ctx, CreateMenuParams{
		MenuName: "Config", APIPath: "/system/config", Perms: "system:config",
	})
	require.NoError(t, err)

	rows, err := store.ListAuthorizationRules(ctx)
	require.NoError(t, err)

	// UI-only rows contribute nothing; a missing method comes back empty
	// and is defaulted downstream.
	require.Len(t, rows, 2)
	assert.ElementsMatch(t, []RuleRow{
		{RequestMethod: "GET", APIPath: "/system/user", Perms: "system:user:list"},
		{RequestMethod: "", APIPath: "/system/config", Perms: "system:config"},
	}, rows)
}
