package repositories

import (
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/desertthunder/agx/internal/models"
)

// CookieRepository implements [models.Repository] for [models.StoredCookie] persistence.
//
// IDs have the form host/name.
type CookieRepository struct {
	db *sql.DB
}

// NewCookieRepository creates a new [CookieRepository] with the given database connection
func NewCookieRepository(db *sql.DB) *CookieRepository {
	return &CookieRepository{db: db}
}

// Create stores a cookie, replacing any cookie with the same host and name.
func (r *CookieRepository) Create(c *models.StoredCookie) error {
	if err := c.Validate(); err != nil {
		return fmt.Errorf("validation failed: %w", err)
	}
	if c.Path == "" {
		c.Path = "/"
	}
	c.Updated = time.Now()

	query := `
		INSERT INTO session_cookies (host, name, value, path, expires_at, updated_at) VALUES (?, ?, ?, ?, ?, ?)
		ON CONFLICT(host, name) DO UPDATE SET value = excluded.value, path = excluded.path,
			expires_at = excluded.expires_at, updated_at = excluded.updated_at
	`
	if _, err := r.db.Exec(query, c.Host, c.Name, c.Value, c.Path, nullTime(c.Expires), c.Updated); err != nil {
		return fmt.Errorf("failed to store cookie: %w", err)
	}
	return nil
}

func splitCookieID(id string) (host, name string, err error) {
	i := strings.LastIndex(id, "/")
	if i <= 0 || i == len(id)-1 {
		return "", "", fmt.Errorf("invalid cookie id %q", id)
	}
	return id[:i], id[i+1:], nil
}

// Get retrieves a cookie by host/name.
func (r *CookieRepository) Get(id string) (*models.StoredCookie, error) {
	host, name, err := splitCookieID(id)
	if err != nil {
		return nil, err
	}

	query := `SELECT host, name, value, path, expires_at, updated_at FROM session_cookies WHERE host = ? AND name = ?`
	c, err := scanCookie(r.db.QueryRow(query, host, name))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: cookie %s", ErrNotFound, id)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to query cookie: %w", err)
	}
	return c, nil
}

// Delete removes a cookie by host/name.
func (r *CookieRepository) Delete(id string) error {
	host, name, err := splitCookieID(id)
	if err != nil {
		return err
	}
	result, err := r.db.Exec(`DELETE FROM session_cookies WHERE host = ? AND name = ?`, host, name)
	if err != nil {
		return fmt.Errorf("failed to delete cookie: %w", err)
	}
	return requireRow(result, "cookie", id)
}

// DeleteHost removes every cookie stored for host. Removing nothing is not an error.
func (r *CookieRepository) DeleteHost(host string) error {
	if _, err := r.db.Exec(`DELETE FROM session_cookies WHERE host = ?`, host); err != nil {
		return fmt.Errorf("failed to delete cookies for %s: %w", host, err)
	}
	return nil
}

// List retrieves cookies. Supported criteria: "host" (string).
func (r *CookieRepository) List(criteria map[string]any) ([]*models.StoredCookie, error) {
	query := `SELECT host, name, value, path, expires_at, updated_at FROM session_cookies`
	args := []any{}

	if host, ok := criteria["host"].(string); ok && host != "" {
		query += " WHERE host = ?"
		args = append(args, host)
	}
	query += " ORDER BY host, name"

	rows, err := r.db.Query(query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query cookies: %w", err)
	}
	defer rows.Close()

	var cookies []*models.StoredCookie
	for rows.Next() {
		c, err := scanCookie(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan cookie: %w", err)
		}
		cookies = append(cookies, c)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("row iteration error: %w", err)
	}
	return cookies, nil
}

type scanner interface {
	Scan(dest ...any) error
}

func scanCookie(s scanner) (*models.StoredCookie, error) {
	var (
		c       models.StoredCookie
		expires sql.NullTime
		updated sql.NullTime
	)
	if err := s.Scan(&c.Host, &c.Name, &c.Value, &c.Path, &expires, &updated); err != nil {
		return nil, err
	}
	if expires.Valid {
		c.Expires = expires.Time
	}
	if updated.Valid {
		c.Updated = updated.Time
	}
	return &c, nil
}
