// Package postgres provides the authoritative store for identities, roles,
// and the menu-backed authorization rule table.
//
// Purpose:
//
//	This package is the single write path for rule data and the read path
//	the rule loader falls back to when the shared Redis cache is cold. It
//	also resolves a principal's permission and role-key sets at login time;
//	the request path never touches Postgres.
//
// Dependencies:
//   - github.com/jackc/pgx/v5: Postgres driver and connection pooling
//   - github.com/google/uuid: row identifiers
//
// Key Responsibilities:
//   - ListAuthorizationRules feeds the rule loader
//   - User lookup and permission/role resolution for login
//   - Menu CRUD (the rule-management surface)
//   - Role assignment and status updates (session-revocation triggers)
//
// Error Handling:
//   - pgx.ErrNoRows is translated to ErrNotFound
//   - unique violations are translated to ErrDuplicate
package postgres

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// Store provides Postgres-backed persistence for the auth gateway.
type Store struct {
	pool     *pgxpool.Pool
	ownsPool bool
}

// NewStore creates a store using the provided connection string and takes
// ownership of the pool.
func NewStore(ctx context.Context, connString string) (*Store, error) {
	pool, err := pgxpool.New(ctx, connString)
	if err != nil {
		return nil, fmt.Errorf("create pgx pool: %w", err)
	}
	return &Store{pool: pool, ownsPool: true}, nil
}

// NewStoreFromPool wraps an existing pgx pool.
func NewStoreFromPool(pool *pgxpool.Pool) *Store {
	return &Store{pool: pool}
}

// Close closes the underlying pool if the store owns it.
func (s *Store) Close() {
	if s.ownsPool && s.pool != nil {
		s.pool.Close()
	}
}

// Pool exposes the underlying pgx pool for readiness probes.
func (s *Store) Pool() *pgxpool.Pool {
	return s.pool
}

func (s *Store) withTx(ctx context.Context, fn func(context.Context, pgx.Tx) error) error {
	tx, err := s.pool.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return err
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback(ctx)
		}
	}()

	if err = fn(ctx, tx); err != nil {
		return err
	}
	return tx.Commit(ctx)
}

// RuleRow is one authorization rule as stored, before cleaning.
type RuleRow struct {
	RequestMethod string
	APIPath       string
	Perms         string
}

// ListAuthorizationRules returns every menu row that can contribute a rule.
// Rows with an empty path or permission are filtered here; the loader
// applies the same guard on its side.
func (s *Store) ListAuthorizationRules(ctx context.Context) ([]RuleRow, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT COALESCE(request_method, ''), api_path, perms
		FROM menus
		WHERE api_path <> '' AND perms <> ''`)
	if err != nil {
		return nil, fmt.Errorf("list authorization rules: %w", err)
	}
	defer rows.Close()

	var out []RuleRow
	for rows.Next() {
		var r RuleRow
		if err := rows.Scan(&r.RequestMethod, &r.APIPath, &r.Perms); err != nil {
			return nil, fmt.Errorf("scan rule row: %w", err)
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

// GetUserByUsername returns the user for a login attempt.
func (s *Store) GetUserByUsername(ctx context.Context, username string) (User, error) {
	row := s.pool.QueryRow(ctx, `
		SELECT user_id, username, password_hash, nickname, status, created_at, updated_at
		FROM users
		WHERE username = $1`, username)
	return scanUser(row)
}

// GetUserByID returns one user.
func (s *Store) GetUserByID(ctx context.Context, userID uuid.UUID) (User, error) {
	row := s.pool.QueryRow(ctx, `
		SELECT user_id, username, password_hash, nickname, status, created_at, updated_at
		FROM users
		WHERE user_id = $1`, userID)
	return scanUser(row)
}

// GetPermissionsByUserID resolves the distinct permission identifiers
// granted to a user through its roles. Called once per login.
func (s *Store) GetPermissionsByUserID(ctx context.Context, userID uuid.UUID) ([]string, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT DISTINCT m.perms
		FROM user_roles ur
		JOIN role_menus rm ON rm.role_id = ur.role_id
		JOIN menus m ON m.menu_id = rm.menu_id
		WHERE ur.user_id = $1 AND m.perms <> ''`, userID)
	if err != nil {
		return nil, fmt.Errorf("list user permissions: %w", err)
	}
	defer rows.Close()
	return scanStrings(rows)
}

// GetRoleKeysByUserID resolves the role keys assigned to a user.
func (s *Store) GetRoleKeysByUserID(ctx context.Context, userID uuid.UUID) ([]string, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT r.role_key
		FROM user_roles ur
		JOIN roles r ON r.role_id = ur.role_id
		WHERE ur.user_id = $1
		ORDER BY r.sort_order, r.role_key`, userID)
	if err != nil {
		return nil, fmt.Errorf("list user role keys: %w", err)
	}
	defer rows.Close()
	return scanStrings(rows)
}

// CreateUser inserts a user row.
func (s *Store) CreateUser(ctx context.Context, params CreateUserParams) (User, error) {
	id := params.ID
	if id == uuid.Nil {
		id = uuid.New()
	}
	row := s.pool.QueryRow(ctx, `
		INSERT INTO users (user_id, username, password_hash, nickname, status)
		VALUES ($1, $2, $3, $4, $5)
		RETURNING user_id, username, password_hash, nickname, status, created_at, updated_at`,
		id, params.Username, params.PasswordHash, params.Nickname, params.Status)
	u, err := scanUser(row)
	if isUniqueViolation(err) {
		return User{}, ErrDuplicate
	}
	return u, err
}

// UpdateUserStatus flips the account status. Callers must revoke the
// session record after a successful update so the change takes effect on
// the next request.
func (s *Store) UpdateUserStatus(ctx context.Context, userID uuid.UUID, status int) error {
	tag, err := s.pool.Exec(ctx, `
		UPDATE users SET status = $2, updated_at = now() WHERE user_id = $1`, userID, status)
	if err != nil {
		return fmt.Errorf("update user status: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

// CreateRole inserts a role row.
func (s *Store) CreateRole(ctx context.Context, roleKey, roleName string, sortOrder int) (Role, error) {
	row := s.pool.QueryRow(ctx, `
		INSERT INTO roles (role_id, role_key, role_name, sort_order)
		VALUES ($1, $2, $3, $4)
		RETURNING role_id, role_key, role_name, sort_order, created_at`,
		uuid.New(), roleKey, roleName, sortOrder)
	var r Role
	err := row.Scan(&r.ID, &r.RoleKey, &r.RoleName, &r.SortOrder, &r.CreatedAt)
	if isUniqueViolation(err) {
		return Role{}, ErrDuplicate
	}
	if err != nil {
		return Role{}, fmt.Errorf("create role: %w", err)
	}
	return r, nil
}

// GetRoleByKey fetches a role row by its unique key.
func (s *Store) GetRoleByKey(ctx context.Context, roleKey string) (Role, error) {
	row := s.pool.QueryRow(ctx, `
		SELECT role_id, role_key, role_name, sort_order, created_at
		FROM roles
		WHERE role_key = $1`, roleKey)
	var r Role
	err := row.Scan(&r.ID, &r.RoleKey, &r.RoleName, &r.SortOrder, &r.CreatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return Role{}, ErrNotFound
	}
	if err != nil {
		return Role{}, fmt.Errorf("get role by key: %w", err)
	}
	return r, nil
}

// ListRoles returns all roles ordered stably for display.
func (s *Store) ListRoles(ctx context.Context) ([]Role, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT role_id, role_key, role_name, sort_order, created_at
		FROM roles
		ORDER BY sort_order, role_key`)
	if err != nil {
		return nil, fmt.Errorf("list roles: %w", err)
	}
	defer rows.Close()

	var roles []Role
	for rows.Next() {
		var r Role
		if err := rows.Scan(&r.ID, &r.RoleKey, &r.RoleName, &r.SortOrder, &r.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan role: %w", err)
		}
		roles = append(roles, r)
	}
	return roles, rows.Err()
}

// ReplaceUserRoles rewrites a user's role assignments in one transaction.
// Callers must revoke the session record afterwards: the cached permission
// set in Redis is stale the moment this commits.
func (s *Store) ReplaceUserRoles(ctx context.Context, userID uuid.UUID, roleIDs []uuid.UUID) error {
	return s.withTx(ctx, func(ctx context.Context, tx pgx.Tx) error {
		if _, err := tx.Exec(ctx, `DELETE FROM user_roles WHERE user_id = $1`, userID); err != nil {
			return fmt.Errorf("clear user roles: %w", err)
		}
		for _, roleID := range roleIDs {
			if _, err := tx.Exec(ctx, `
				INSERT INTO user_roles (user_id, role_id) VALUES ($1, $2)`, userID, roleID); err != nil {
				return fmt.Errorf("assign role %s: %w", roleID, err)
			}
		}
		return nil
	})
}

// ReplaceRoleMenus rewrites a role's menu grants in one transaction. This
// changes rule→caller relationships only through future logins; the rule
// table itself is untouched, so no broadcast is needed.
func (s *Store) ReplaceRoleMenus(ctx context.Context, roleID uuid.UUID, menuIDs []uuid.UUID) error {
	return s.withTx(ctx, func(ctx context.Context, tx pgx.Tx) error {
		if _, err := tx.Exec(ctx, `DELETE FROM role_menus WHERE role_id = $1`, roleID); err != nil {
			return fmt.Errorf("clear role menus: %w", err)
		}
		for _, menuID := range menuIDs {
			if _, err := tx.Exec(ctx, `
				INSERT INTO role_menus (role_id, menu_id) VALUES ($1, $2)`, roleID, menuID); err != nil {
				return fmt.Errorf("grant menu %s: %w", menuID, err)
			}
		}
		return nil
	})
}

// ListMenus returns menus, optionally filtered by a name substring,
// ordered stably for display.
func (s *Store) ListMenus(ctx context.Context, nameFilter string) ([]Menu, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT menu_id, menu_name, parent_id, api_path, COALESCE(request_method, ''), perms, sort_order, created_at, updated_at
		FROM menus
		WHERE ($1 = '' OR menu_name ILIKE '%' || $1 || '%')
		ORDER BY sort_order, menu_id`, nameFilter)
	if err != nil {
		return nil, fmt.Errorf("list menus: %w", err)
	}
	defer rows.Close()

	var out []Menu
	for rows.Next() {
		m, err := scanMenuFromRows(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, m)
	}
	return out, rows.Err()
}

// GetMenu returns one menu.
func (s *Store) GetMenu(ctx context.Context, menuID uuid.UUID) (Menu, error) {
	row := s.pool.QueryRow(ctx, `
		SELECT menu_id, menu_name, parent_id, api_path, COALESCE(request_method, ''), perms, sort_order, created_at, updated_at
		FROM menus
		WHERE menu_id = $1`, menuID)
	return scanMenu(row)
}

// CreateMenu inserts a menu row.
func (s *Store) CreateMenu(ctx context.Context, params CreateMenuParams) (Menu, error) {
	row := s.pool.QueryRow(ctx, `
		INSERT INTO menus (menu_id, menu_name, parent_id, api_path, request_method, perms, sort_order)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		RETURNING menu_id, menu_name, parent_id, api_path, COALESCE(request_method, ''), perms, sort_order, created_at, updated_at`,
		uuid.New(), params.MenuName, params.ParentID, params.APIPath, params.RequestMethod, params.Perms, params.SortOrder)
	m, err := scanMenu(row)
	if isUniqueViolation(err) {
		return Menu{}, ErrDuplicate
	}
	return m, err
}

// UpdateMenu rewrites a menu row.
func (s *Store) UpdateMenu(ctx context.Context, params UpdateMenuParams) (Menu, error) {
	row := s.pool.QueryRow(ctx, `
		UPDATE menus
		SET menu_name = $2, parent_id = $3, api_path = $4, request_method = $5, perms = $6, sort_order = $7, updated_at = now()
		WHERE menu_id = $1
		RETURNING menu_id, menu_name, parent_id, api_path, COALESCE(request_method, ''), perms, sort_order, created_at, updated_at`,
		params.ID, params.MenuName, params.ParentID, params.APIPath, params.RequestMethod, params.Perms, params.SortOrder)
	menu, err := scanMenu(row)
	if isUniqueViolation(err) {
		return Menu{}, ErrDuplicate
	}
	return menu, err
}

// DeleteMenu removes a leaf menu. Deleting a menu that still has children
// returns ErrHasChildren so the tree cannot be orphaned.
func (s *Store) DeleteMenu(ctx context.Context, menuID uuid.UUID) error {
	return s.withTx(ctx, func(ctx context.Context, tx pgx.Tx) error {
		var children int
		if err := tx.QueryRow(ctx, `
			SELECT count(*) FROM menus WHERE parent_id = $1`, menuID).Scan(&children); err != nil {
			return fmt.Errorf("count menu children: %w", err)
		}
		if children > 0 {
			return ErrHasChildren
		}
		if _, err := tx.Exec(ctx, `DELETE FROM role_menus WHERE menu_id = $1`, menuID); err != nil {
			return fmt.Errorf("clear menu grants: %w", err)
		}
		tag, err := tx.Exec(ctx, `DELETE FROM menus WHERE menu_id = $1`, menuID)
		if err != nil {
			return fmt.Errorf("delete menu: %w", err)
		}
		if tag.RowsAffected() == 0 {
			return ErrNotFound
		}
		return nil
	})
}

func scanUser(row pgx.Row) (User, error) {
	var u User
	err := row.Scan(&u.ID, &u.Username, &u.PasswordHash, &u.Nickname, &u.Status, &u.CreatedAt, &u.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return User{}, ErrNotFound
	}
	if err != nil {
		return User{}, fmt.Errorf("scan user: %w", err)
	}
	return u, nil
}

func scanMenu(row pgx.Row) (Menu, error) {
	var m Menu
	err := row.Scan(&m.ID, &m.MenuName, &m.ParentID, &m.APIPath, &m.RequestMethod, &m.Perms, &m.SortOrder, &m.CreatedAt, &m.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return Menu{}, ErrNotFound
	}
	if err != nil {
		return Menu{}, fmt.Errorf("scan menu: %w", err)
	}
	return m, nil
}

func scanMenuFromRows(rows pgx.Rows) (Menu, error) {
	var m Menu
	if err := rows.Scan(&m.ID, &m.MenuName, &m.ParentID, &m.APIPath, &m.RequestMethod, &m.Perms, &m.SortOrder, &m.CreatedAt, &m.UpdatedAt); err != nil {
		return Menu{}, fmt.Errorf("scan menu: %w", err)
	}
	return m, nil
}

func scanStrings(rows pgx.Rows) ([]string, error) {
	var out []string
	for rows.Next() {
		var s string
		if err := rows.Scan(&s); err != nil {
			return nil, fmt.Errorf("scan string: %w", err)
		}
		out = append(out, s)
	}
	return out, rows.Err()
}
