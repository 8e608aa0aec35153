// Command seed applies the schema and bootstraps an admin principal for
// development and testing.
//
// Purpose:
//   Runs the embedded goose migrations, then creates an admin role, an
//   admin user with a hashed password, and the system menu rows that feed
//   the authorization rule table. Safe to re-run: existing rows are left
//   alone unless -force is given.
//
// Debugging Notes:
//   - Requires DATABASE_URL
//   - Generated passwords are printed to stdout (development only)
//   - Password hashing uses Argon2id (same as production)
package main

import (
	"context"
	"crypto/rand"
	"database/sql"
	"encoding/base64"
	"flag"
	"fmt"
	"log"
	"time"

	"github.com/google/uuid"
	_ "github.com/lib/pq"
	"github.com/pressly/goose/v3"

	"github.com/otherjamesbrown/ai-aas/services/auth-gateway-service/internal/config"
	"github.com/otherjamesbrown/ai-aas/services/auth-gateway-service/internal/security"
	"github.com/otherjamesbrown/ai-aas/services/auth-gateway-service/internal/storage/postgres"
	"github.com/otherjamesbrown/ai-aas/services/auth-gateway-service/migrations"
)

func main() {
	var (
		username = flag.String("username", "admin", "Admin username")
		password = flag.String("password", "", "Admin password (default: generate random)")
		force    = flag.Bool("force", false, "Re-seed even if the user exists")
	)
	flag.Parse()

	cfg := config.MustLoad()

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := migrate(cfg.DatabaseURL); err != nil {
		log.Fatalf("migrate: %v", err)
	}
	fmt.Println("✓ Migrations applied")

	store, err := postgres.NewStore(ctx, cfg.DatabaseURL)
	if err != nil {
		log.Fatalf("create store: %v", err)
	}
	defer store.Close()

	pw := *password
	if pw == "" {
		pw = generatePassword()
		fmt.Printf("✓ Generated password: %s\n", pw)
	}

	userID, roleID, err := seedAdmin(ctx, store, *username, pw, *force)
	if err != nil {
		log.Fatalf("seed admin: %v", err)
	}
	fmt.Printf("✓ Admin user: %s (ID: %s)\n", *username, userID)

	count, err := seedMenus(ctx, store, roleID)
	if err != nil {
		log.Fatalf("seed menus: %v", err)
	}
	fmt.Printf("✓ Rule-bearing menus: %d\n", count)

	fmt.Println("\n✓ Seed completed successfully!")
	fmt.Printf("\nYou can now authenticate with:\n")
	fmt.Printf("  Username: %s\n", *username)
	fmt.Printf("  Password: %s\n", pw)
}

func migrate(databaseURL string) error {
	db, err := sql.Open("postgres", databaseURL)
	if err != nil {
		return fmt.Errorf("open database: %w", err)
	}
	defer db.Close()

	goose.SetBaseFS(migrations.FS)
	if err := goose.SetDialect("postgres"); err != nil {
		return fmt.Errorf("set dialect: %w", err)
	}
	if err := goose.Up(db, "sql"); err != nil {
		return fmt.Errorf("apply migrations: %w", err)
	}
	return nil
}

func seedAdmin(ctx context.Context, store *postgres.Store, username, password string, force bool) (uuid.UUID, uuid.UUID, error) {
	role, err := store.CreateRole(ctx, "admin", "Administrator", 0)
	if err == postgres.ErrDuplicate {
		role, err = store.GetRoleByKey(ctx, "admin")
	}
	if err != nil {
		return uuid.Nil, uuid.Nil, fmt.Errorf("ensure admin role: %w", err)
	}

	existing, err := store.GetUserByUsername(ctx, username)
	if err == nil && !force {
		return existing.ID, role.ID, nil
	}

	hash, err := security.HashPassword(password)
	if err != nil {
		return uuid.Nil, uuid.Nil, fmt.Errorf("hash password: %w", err)
	}

	user, err := store.CreateUser(ctx, postgres.CreateUserParams{
		ID:           uuid.New(),
		Username:     username,
		PasswordHash: hash,
		Nickname:     "Administrator",
		Status:       1,
	})
	if err != nil {
		return uuid.Nil, uuid.Nil, fmt.Errorf("create user: %w", err)
	}
	if err := store.ReplaceUserRoles(ctx, user.ID, []uuid.UUID{role.ID}); err != nil {
		return uuid.Nil, uuid.Nil, fmt.Errorf("assign role: %w", err)
	}
	return user.ID, role.ID, nil
}

// seedMenus creates the rule rows guarding the system management routes
// and grants them to the admin role.
func seedMenus(ctx context.Context, store *postgres.Store, roleID uuid.UUID) (int, error) {
	seeds := []postgres.CreateMenuParams{
		{MenuName: "Menu List", APIPath: "/v1/system/menus", RequestMethod: "GET", Perms: "system:menu:list", SortOrder: 1},
		{MenuName: "Menu Create", APIPath: "/v1/system/menus", RequestMethod: "POST", Perms: "system:menu:create", SortOrder: 2},
		{MenuName: "Menu Detail", APIPath: "/v1/system/menus/*", RequestMethod: "GET", Perms: "system:menu:read", SortOrder: 3},
		{MenuName: "Menu Update", APIPath: "/v1/system/menus/*", RequestMethod: "PUT", Perms: "system:menu:update", SortOrder: 4},
		{MenuName: "Menu Delete", APIPath: "/v1/system/menus/*", RequestMethod: "DELETE", Perms: "system:menu:delete", SortOrder: 5},
		{MenuName: "User Create", APIPath: "/v1/system/users", RequestMethod: "POST", Perms: "system:user:create", SortOrder: 6},
		{MenuName: "User Admin", APIPath: "/v1/system/users/**", RequestMethod: "ALL", Perms: "system:user:admin", SortOrder: 7},
		{MenuName: "Role Admin", APIPath: "/v1/system/roles/**", RequestMethod: "ALL", Perms: "system:role:admin", SortOrder: 8},
	}

	menuIDs := make([]uuid.UUID, 0, len(seeds))
	for _, params := range seeds {
		menu, err := store.CreateMenu(ctx, params)
		if err == postgres.ErrDuplicate {
			continue
		}
		if err != nil {
			return 0, fmt.Errorf("create menu %q: %w", params.MenuName, err)
		}
		menuIDs = append(menuIDs, menu.ID)
	}

	if len(menuIDs) > 0 {
		if err := store.ReplaceRoleMenus(ctx, roleID, menuIDs); err != nil {
			return 0, fmt.Errorf("grant menus: %w", err)
		}
	}
	return len(menuIDs), nil
}

func generatePassword() string {
	buf := make([]byte, 18)
	if _, err := rand.Read(buf); err != nil {
		log.Fatalf("generate password: %v", err)
	}
	return base64.URLEncoding.EncodeToString(buf)
}
