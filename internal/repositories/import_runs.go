package repositories

import (
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/desertthunder/agx/internal/models"
	"github.com/desertthunder/agx/internal/shared"
)

// ImportRunRepository implements [models.Repository] for [models.ImportRun] history.
type ImportRunRepository struct {
	db *sql.DB
}

// NewImportRunRepository creates a new [ImportRunRepository] with the given database connection
func NewImportRunRepository(db *sql.DB) *ImportRunRepository {
	return &ImportRunRepository{db: db}
}

// Create inserts a run, generating its ID and timestamp when unset.
func (r *ImportRunRepository) Create(run *models.ImportRun) error {
	if run.RunID == "" {
		run.RunID = shared.GenerateID()
	}
	if run.Created.IsZero() {
		run.Created = time.Now()
	}
	if err := run.Validate(); err != nil {
		return fmt.Errorf("validation failed: %w", err)
	}

	query := `
		INSERT INTO import_runs (id, source, total, succeeded, failed, created_at) VALUES (?, ?, ?, ?, ?, ?)
	`
	if _, err := r.db.Exec(query, run.RunID, run.Source, run.Total, run.Succeeded, run.Failed, run.Created); err != nil {
		return fmt.Errorf("failed to insert import run: %w", err)
	}
	return nil
}

// Get retrieves a run by ID.
func (r *ImportRunRepository) Get(id string) (*models.ImportRun, error) {
	query := `SELECT id, source, total, succeeded, failed, created_at FROM import_runs WHERE id = ?`

	var run models.ImportRun
	err := r.db.QueryRow(query, id).Scan(&run.RunID, &run.Source, &run.Total, &run.Succeeded, &run.Failed, &run.Created)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: import run %s", ErrNotFound, id)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to query import run: %w", err)
	}
	return &run, nil
}

// Delete removes a run by ID.
func (r *ImportRunRepository) Delete(id string) error {
	result, err := r.db.Exec(`DELETE FROM import_runs WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("failed to delete import run: %w", err)
	}
	return requireRow(result, "import run", id)
}

// List retrieves runs, newest first. Supported criteria: "source" (string), "limit" (int).
func (r *ImportRunRepository) List(criteria map[string]any) ([]*models.ImportRun, error) {
	query := `SELECT id, source, total, succeeded, failed, created_at FROM import_runs`
	args := []any{}

	if source, ok := criteria["source"].(string); ok && source != "" {
		query += " WHERE source = ?"
		args = append(args, source)
	}
	query += " ORDER BY created_at DESC, id"

	if limit, ok := criteria["limit"].(int); ok && limit > 0 {
		query += " LIMIT ?"
		args = append(args, limit)
	}

	rows, err := r.db.Query(query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query import runs: %w", err)
	}
	defer rows.Close()

	var runs []*models.ImportRun
	for rows.Next() {
		var run models.ImportRun
		if err := rows.Scan(&run.RunID, &run.Source, &run.Total, &run.Succeeded, &run.Failed, &run.Created); err != nil {
			return nil, fmt.Errorf("failed to scan import run: %w", err)
		}
		runs = append(runs, &run)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("row iteration error: %w", err)
	}
	return runs, nil
}

var (
	_ models.Repository[*models.ImportRun]    = (*ImportRunRepository)(nil)
	_ models.Repository[*models.StoredCookie] = (*CookieRepository)(nil)
)
