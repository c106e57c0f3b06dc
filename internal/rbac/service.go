package rbac

import (
	"context"
	"errors"
	"strings"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/odyssey-erp/pettycash/internal/platform/db"
)

// ErrNotFound indicates that the requested record does not exist.
var ErrNotFound = errors.New("rbac: not found")

// Service orchestrates RBAC operations.
type Service struct {
	pool *pgxpool.Pool
}

// NewService constructs a Service backed by the provided pool.
func NewService(pool *pgxpool.Pool) *Service {
	return &Service{pool: pool}
}

// EnsureRole upserts a role by name.
func (s *Service) EnsureRole(ctx context.Context, name, description string) (Role, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return Role{}, errors.New("rbac: role name required")
	}
	var role Role
	err := db.Conn(ctx, s.pool).QueryRow(ctx, `INSERT INTO roles (name, description) VALUES ($1, $2)
ON CONFLICT (name) DO UPDATE SET description = EXCLUDED.description, updated_at = NOW()
RETURNING id, name, description`, name, strings.TrimSpace(description)).Scan(&role.ID, &role.Name, &role.Description)
	return role, err
}

// EnsurePermission upserts a permission ensuring description is stored.
func (s *Service) EnsurePermission(ctx context.Context, name, description string) (Permission, error) {
	name = strings.ToLower(strings.TrimSpace(name))
	if name == "" {
		return Permission{}, errors.New("rbac: permission name required")
	}
	var perm Permission
	err := db.Conn(ctx, s.pool).QueryRow(ctx, `INSERT INTO permissions (name, description) VALUES ($1, $2)
ON CONFLICT (name) DO UPDATE SET description = EXCLUDED.description
RETURNING id, name, description`, name, strings.TrimSpace(description)).Scan(&perm.ID, &perm.Name, &perm.Description)
	return perm, err
}

// GrantPermission attaches a permission to a role.
func (s *Service) GrantPermission(ctx context.Context, roleID, permissionID int64) error {
	_, err := db.Conn(ctx, s.pool).Exec(ctx, `INSERT INTO role_permissions (role_id, permission_id) VALUES ($1, $2) ON CONFLICT DO NOTHING`, roleID, permissionID)
	return err
}

// AssignRole assigns a role to the given user.
func (s *Service) AssignRole(ctx context.Context, userID, roleID int64) error {
	_, err := db.Conn(ctx, s.pool).Exec(ctx, `INSERT INTO user_roles (user_id, role_id) VALUES ($1, $2) ON CONFLICT DO NOTHING`, userID, roleID)
	return err
}

// RoleByName looks a role up by its unique name.
func (s *Service) RoleByName(ctx context.Context, name string) (Role, error) {
	var role Role
	err := db.Conn(ctx, s.pool).QueryRow(ctx, `SELECT id, name, description FROM roles WHERE name=$1`, strings.TrimSpace(name)).
		Scan(&role.ID, &role.Name, &role.Description)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Role{}, ErrNotFound
		}
		return Role{}, err
	}
	return role, nil
}

// EffectivePermissions returns deduplicated permission names for a user.
func (s *Service) EffectivePermissions(ctx context.Context, userID int64) ([]string, error) {
	rows, err := db.Conn(ctx, s.pool).Query(ctx, `SELECT DISTINCT p.name
FROM user_roles ur
JOIN role_permissions rp ON rp.role_id = ur.role_id
JOIN permissions p ON p.id = rp.permission_id
WHERE ur.user_id = $1
ORDER BY p.name`, userID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var perms []string
	for rows.Next() {
		var name string
		if err := rows.Scan(&name); err != nil {
			return nil, err
		}
		perms = append(perms, name)
	}
	return perms, rows.Err()
}

// HasPermission reports whether the user is granted perm through any role.
func (s *Service) HasPermission(ctx context.Context, userID int64, perm string) (bool, error) {
	granted, err := s.EffectivePermissions(ctx, userID)
	if err != nil {
		return false, err
	}
	return hasAllPermissions(granted, normalizePermissions([]string{perm})), nil
}
