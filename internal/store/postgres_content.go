package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
)

// Content records are uniform CRUD rows with no lifecycle logic.

const postColumns = `id, slug, title, body, cover_url, published, created_at, updated_at`

func (s *PostgresStore) InsertPost(ctx context.Context, post Post) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO posts (id, slug, title, body, cover_url, published)
		VALUES ($1, $2, $3, $4, $5, $6)
	`, post.ID, post.Slug, post.Title, post.Body, post.CoverURL, post.Published)
	if err != nil {
		return fmt.Errorf("insert post: %w", err)
	}
	return nil
}

func (s *PostgresStore) GetPostBySlug(ctx context.Context, slug string) (Post, error) {
	var post Post
	err := s.db.QueryRowContext(ctx, `SELECT `+postColumns+` FROM posts WHERE slug=$1`, slug).
		Scan(&post.ID, &post.Slug, &post.Title, &post.Body, &post.CoverURL, &post.Published, &post.CreatedAt, &post.UpdatedAt)
	if err != nil {
		return Post{}, err
	}
	return post, nil
}

func (s *PostgresStore) ListPosts(ctx context.Context, publishedOnly bool) ([]Post, error) {
	query := `SELECT ` + postColumns + ` FROM posts`
	if publishedOnly {
		query += ` WHERE published`
	}
	query += ` ORDER BY created_at DESC`

	rows, err := s.db.QueryContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("list posts: %w", err)
	}
	defer rows.Close()

	posts := []Post{}
	for rows.Next() {
		var post Post
		if err := rows.Scan(&post.ID, &post.Slug, &post.Title, &post.Body, &post.CoverURL, &post.Published, &post.CreatedAt, &post.UpdatedAt); err != nil {
			return nil, fmt.Errorf("scan post: %w", err)
		}
		posts = append(posts, post)
	}
	return posts, rows.Err()
}

func (s *PostgresStore) UpdatePost(ctx context.Context, post Post) error {
	result, err := s.db.ExecContext(ctx, `
		UPDATE posts SET slug=$2, title=$3, body=$4, cover_url=$5, published=$6, updated_at=NOW()
		WHERE id=$1
	`, post.ID, post.Slug, post.Title, post.Body, post.CoverURL, post.Published)
	if err != nil {
		return fmt.Errorf("update post: %w", err)
	}
	return requireAffected(result)
}

func (s *PostgresStore) DeletePost(ctx context.Context, id string) error {
	result, err := s.db.ExecContext(ctx, `DELETE FROM posts WHERE id=$1`, id)
	if err != nil {
		return fmt.Errorf("delete post: %w", err)
	}
	return requireAffected(result)
}

const projectColumns = `id, slug, title, summary, body, cover_url, services, published, created_at, updated_at`

func (s *PostgresStore) InsertProject(ctx context.Context, project Project) error {
	services, err := json.Marshal(project.Services)
	if err != nil {
		return fmt.Errorf("marshal services: %w", err)
	}
	_, err = s.db.ExecContext(ctx, `
		INSERT INTO projects (id, slug, title, summary, body, cover_url, services, published)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
	`, project.ID, project.Slug, project.Title, project.Summary, project.Body, project.CoverURL, services, project.Published)
	if err != nil {
		return fmt.Errorf("insert project: %w", err)
	}
	return nil
}

func (s *PostgresStore) GetProjectBySlug(ctx context.Context, slug string) (Project, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+projectColumns+` FROM projects WHERE slug=$1`, slug)
	return scanProject(row)
}

func (s *PostgresStore) ListProjects(ctx context.Context, publishedOnly bool) ([]Project, error) {
	query := `SELECT ` + projectColumns + ` FROM projects`
	if publishedOnly {
		query += ` WHERE published`
	}
	query += ` ORDER BY created_at DESC`

	rows, err := s.db.QueryContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("list projects: %w", err)
	}
	defer rows.Close()

	projects := []Project{}
	for rows.Next() {
		project, err := scanProject(rows)
		if err != nil {
			return nil, fmt.Errorf("scan project: %w", err)
		}
		projects = append(projects, project)
	}
	return projects, rows.Err()
}

func (s *PostgresStore) UpdateProject(ctx context.Context, project Project) error {
	services, err := json.Marshal(project.Services)
	if err != nil {
		return fmt.Errorf("marshal services: %w", err)
	}
	result, err := s.db.ExecContext(ctx, `
		UPDATE projects SET slug=$2, title=$3, summary=$4, body=$5, cover_url=$6, services=$7, published=$8, updated_at=NOW()
		WHERE id=$1
	`, project.ID, project.Slug, project.Title, project.Summary, project.Body, project.CoverURL, services, project.Published)
	if err != nil {
		return fmt.Errorf("update project: %w", err)
	}
	return requireAffected(result)
}

func (s *PostgresStore) DeleteProject(ctx context.Context, id string) error {
	result, err := s.db.ExecContext(ctx, `DELETE FROM projects WHERE id=$1`, id)
	if err != nil {
		return fmt.Errorf("delete project: %w", err)
	}
	return requireAffected(result)
}

func scanProject(row rowScanner) (Project, error) {
	var project Project
	var services []byte
	err := row.Scan(&project.ID, &project.Slug, &project.Title, &project.Summary, &project.Body,
		&project.CoverURL, &services, &project.Published, &project.CreatedAt, &project.UpdatedAt)
	if err != nil {
		return Project{}, err
	}
	if len(services) > 0 {
		if err := json.Unmarshal(services, &project.Services); err != nil {
			return Project{}, fmt.Errorf("unmarshal services: %w", err)
		}
	}
	if project.Services == nil {
		project.Services = []string{}
	}
	return project, nil
}

func (s *PostgresStore) InsertTestimonial(ctx context.Context, t Testimonial) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO testimonials (id, author, company, quote) VALUES ($1, $2, $3, $4)
	`, t.ID, t.Author, t.Company, t.Quote)
	if err != nil {
		return fmt.Errorf("insert testimonial: %w", err)
	}
	return nil
}

func (s *PostgresStore) ListTestimonials(ctx context.Context) ([]Testimonial, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, author, company, quote, created_at FROM testimonials ORDER BY created_at DESC
	`)
	if err != nil {
		return nil, fmt.Errorf("list testimonials: %w", err)
	}
	defer rows.Close()

	testimonials := []Testimonial{}
	for rows.Next() {
		var t Testimonial
		if err := rows.Scan(&t.ID, &t.Author, &t.Company, &t.Quote, &t.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan testimonial: %w", err)
		}
		testimonials = append(testimonials, t)
	}
	return testimonials, rows.Err()
}

func (s *PostgresStore) DeleteTestimonial(ctx context.Context, id string) error {
	result, err := s.db.ExecContext(ctx, `DELETE FROM testimonials WHERE id=$1`, id)
	if err != nil {
		return fmt.Errorf("delete testimonial: %w", err)
	}
	return requireAffected(result)
}

// InsertSubscriber is idempotent on email: re-subscribing an existing
// address is not an error.
func (s *PostgresStore) InsertSubscriber(ctx context.Context, sub Subscriber) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO subscribers (id, email) VALUES ($1, LOWER($2))
		ON CONFLICT (email) DO NOTHING
	`, sub.ID, sub.Email)
	if err != nil {
		return fmt.Errorf("insert subscriber: %w", err)
	}
	return nil
}

func (s *PostgresStore) ListSubscribers(ctx context.Context) ([]Subscriber, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, email, created_at FROM subscribers ORDER BY created_at DESC
	`)
	if err != nil {
		return nil, fmt.Errorf("list subscribers: %w", err)
	}
	defer rows.Close()

	subscribers := []Subscriber{}
	for rows.Next() {
		var sub Subscriber
		if err := rows.Scan(&sub.ID, &sub.Email, &sub.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan subscriber: %w", err)
		}
		subscribers = append(subscribers, sub)
	}
	return subscribers, rows.Err()
}

func requireAffected(result sql.Result) error {
	affected, err := result.RowsAffected()
	if err != nil {
		return err
	}
	if affected == 0 {
		return sql.ErrNoRows
	}
	return nil
}
