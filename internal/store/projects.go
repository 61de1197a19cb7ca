package store

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/google/uuid"

	"github.com/coccobas/agent-memory/internal/apperr"
)

// ProjectRepository persists the Project registry backing memory_project,
// grounded on SessionRepository's CRUD shape but simpler: a project has no
// lifecycle, only a name and description that can be registered, listed,
// fetched, and renamed.
type ProjectRepository struct {
	store *Store
}

func NewProjectRepository(s *Store) *ProjectRepository { return &ProjectRepository{store: s} }

// Create registers a new project. An explicit id is honored so callers can
// register a project under the same identifier they already use as a
// scopeId; a blank id is assigned a fresh uuid.
func (r *ProjectRepository) Create(ctx context.Context, id, name, description string) (*Project, error) {
	if name == "" {
		return nil, apperr.Validation("name", "project name is required")
	}
	if id == "" {
		id = uuid.NewString()
	}
	now := time.Now().UnixMilli()
	p := &Project{ID: id, Name: name, Description: description, CreatedAt: now, UpdatedAt: now}
	r.store.mu.Lock()
	defer r.store.mu.Unlock()
	_, err := r.store.db.ExecContext(ctx, `
		INSERT INTO projects (id, name, description, created_at, updated_at) VALUES (?,?,?,?,?)
	`, p.ID, p.Name, p.Description, p.CreatedAt, p.UpdatedAt)
	if err != nil {
		return nil, apperr.New(apperr.CodeDatabaseError, "insert project").Wrap(err)
	}
	return p, nil
}

func (r *ProjectRepository) Get(ctx context.Context, id string) (*Project, error) {
	r.store.mu.RLock()
	defer r.store.mu.RUnlock()
	var p Project
	var description sql.NullString
	err := r.store.db.QueryRowContext(ctx, `
		SELECT id, name, description, created_at, updated_at FROM projects WHERE id = ?
	`, id).Scan(&p.ID, &p.Name, &description, &p.CreatedAt, &p.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, apperr.NotFound("project", id)
	}
	if err != nil {
		return nil, apperr.New(apperr.CodeDatabaseError, "load project").Wrap(err)
	}
	p.Description = description.String
	return &p, nil
}

// Update renames a project and/or changes its description; blank fields
// leave the existing value untouched.
func (r *ProjectRepository) Update(ctx context.Context, id, name, description string) (*Project, error) {
	r.store.mu.Lock()
	defer r.store.mu.Unlock()
	cur, err := r.getLocked(ctx, id)
	if err != nil {
		return nil, err
	}
	if name != "" {
		cur.Name = name
	}
	if description != "" {
		cur.Description = description
	}
	cur.UpdatedAt = time.Now().UnixMilli()
	_, err = r.store.db.ExecContext(ctx, `
		UPDATE projects SET name = ?, description = ?, updated_at = ? WHERE id = ?
	`, cur.Name, cur.Description, cur.UpdatedAt, id)
	if err != nil {
		return nil, apperr.New(apperr.CodeDatabaseError, "update project").Wrap(err)
	}
	return cur, nil
}

func (r *ProjectRepository) getLocked(ctx context.Context, id string) (*Project, error) {
	var p Project
	var description sql.NullString
	err := r.store.db.QueryRowContext(ctx, `
		SELECT id, name, description, created_at, updated_at FROM projects WHERE id = ?
	`, id).Scan(&p.ID, &p.Name, &description, &p.CreatedAt, &p.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, apperr.NotFound("project", id)
	}
	if err != nil {
		return nil, apperr.New(apperr.CodeDatabaseError, "load project").Wrap(err)
	}
	p.Description = description.String
	return &p, nil
}

// List returns every registered project, newest first.
func (r *ProjectRepository) List(ctx context.Context) ([]*Project, error) {
	r.store.mu.RLock()
	defer r.store.mu.RUnlock()
	rows, err := r.store.db.QueryContext(ctx, `
		SELECT id, name, description, created_at, updated_at FROM projects ORDER BY created_at DESC
	`)
	if err != nil {
		return nil, apperr.New(apperr.CodeDatabaseError, "list projects").Wrap(err)
	}
	defer rows.Close()
	var out []*Project
	for rows.Next() {
		var p Project
		var description sql.NullString
		if err := rows.Scan(&p.ID, &p.Name, &description, &p.CreatedAt, &p.UpdatedAt); err != nil {
			return nil, apperr.New(apperr.CodeDatabaseError, "scan project").Wrap(err)
		}
		p.Description = description.String
		out = append(out, &p)
	}
	return out, nil
}
