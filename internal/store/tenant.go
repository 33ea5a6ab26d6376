package store

import (
	"database/sql"
	"log/slog"
	"time"

	"github.com/snapgrade/snapgrade/internal/model"
)

// CreateTenant inserts a new tenant.
func (s *Store) CreateTenant(t model.Tenant) (int64, error) {
	res, err := s.db.Exec(
		`INSERT INTO tenants (name, credentials, active, created_at) VALUES (?, ?, ?, ?)`,
		t.Name, t.Credentials, t.Active, time.Now(),
	)
	if err != nil {
		slog.Error("failed to create tenant", "name", t.Name, "error", err)
		return 0, err
	}
	id, err := res.LastInsertId()
	if err != nil {
		return 0, err
	}
	slog.Info("created tenant", "id", id, "name", t.Name)
	return id, nil
}

// GetTenant returns a tenant by ID, or nil if it does not exist.
func (s *Store) GetTenant(id int64) (*model.Tenant, error) {
	var t model.Tenant
	err := s.db.QueryRow(
		`SELECT id, name, credentials, active, created_at FROM tenants WHERE id = ?`, id,
	).Scan(&t.ID, &t.Name, &t.Credentials, &t.Active, &t.CreatedAt)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &t, nil
}

// ListTenants returns all tenants.
func (s *Store) ListTenants() ([]model.Tenant, error) {
	rows, err := s.db.Query(`SELECT id, name, credentials, active, created_at FROM tenants ORDER BY id`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var tenants []model.Tenant
	for rows.Next() {
		var t model.Tenant
		if err := rows.Scan(&t.ID, &t.Name, &t.Credentials, &t.Active, &t.CreatedAt); err != nil {
			return nil, err
		}
		tenants = append(tenants, t)
	}
	return tenants, rows.Err()
}

// ActiveTenants returns tenants that are active and have stored
// credentials, in the order the startup scan should bring them up.
func (s *Store) ActiveTenants() ([]model.Tenant, error) {
	rows, err := s.db.Query(
		`SELECT id, name, credentials, active, created_at
		 FROM tenants WHERE active = 1 AND credentials != '' ORDER BY id`,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var tenants []model.Tenant
	for rows.Next() {
		var t model.Tenant
		if err := rows.Scan(&t.ID, &t.Name, &t.Credentials, &t.Active, &t.CreatedAt); err != nil {
			return nil, err
		}
		tenants = append(tenants, t)
	}
	return tenants, rows.Err()
}

// SetTenantActive flips a tenant's active flag.
func (s *Store) SetTenantActive(id int64, active bool) error {
	_, err := s.db.Exec(`UPDATE tenants SET active = ? WHERE id = ?`, active, id)
	return err
}

// SetTenantCredentials stores transport credentials for a tenant.
func (s *Store) SetTenantCredentials(id int64, credentials string) error {
	_, err := s.db.Exec(`UPDATE tenants SET credentials = ? WHERE id = ?`, credentials, id)
	return err
}

// TenantCounts returns total and active tenant counts.
func (s *Store) TenantCounts() (total, active int, err error) {
	if err = s.db.QueryRow(`SELECT COUNT(*) FROM tenants`).Scan(&total); err != nil {
		return 0, 0, err
	}
	if err = s.db.QueryRow(`SELECT COUNT(*) FROM tenants WHERE active = 1`).Scan(&active); err != nil {
		return 0, 0, err
	}
	return total, active, nil
}
