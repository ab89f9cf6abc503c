package app

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"regexp"
	"strings"

	"atelier/api/internal/search"
	"atelier/api/internal/store"
	"atelier/api/internal/util"
)

var slugStrip = regexp.MustCompile(`[^a-z0-9]+`)

func slugify(title string) string {
	slug := strings.ToLower(strings.TrimSpace(title))
	slug = slugStrip.ReplaceAllString(slug, "-")
	return strings.Trim(slug, "-")
}

// PostInput is the payload for creating or updating a blog post.
type PostInput struct {
	Slug      string `json:"slug"`
	Title     string `json:"title"`
	Body      string `json:"body"`
	CoverURL  string `json:"coverUrl"`
	Published bool   `json:"published"`
}

func (s *Service) CreatePost(ctx context.Context, ident *Identity, input PostInput) (store.Post, error) {
	if err := s.requireAdmin(ident); err != nil {
		return store.Post{}, err
	}
	if strings.TrimSpace(input.Title) == "" {
		return store.Post{}, validationError(map[string]string{"title": "title is required"})
	}
	slug := strings.TrimSpace(input.Slug)
	if slug == "" {
		slug = slugify(input.Title)
	}

	post := store.Post{
		ID:        util.NewID("post"),
		Slug:      slug,
		Title:     strings.TrimSpace(input.Title),
		Body:      input.Body,
		CoverURL:  input.CoverURL,
		Published: input.Published,
	}
	if err := s.store.InsertPost(ctx, post); err != nil {
		return store.Post{}, fmt.Errorf("insert post: %w", err)
	}
	created, err := s.store.GetPostBySlug(ctx, post.Slug)
	if err != nil {
		return store.Post{}, fmt.Errorf("load created post: %w", err)
	}
	s.indexPost(created)
	return created, nil
}

func (s *Service) UpdatePost(ctx context.Context, ident *Identity, id string, input PostInput) (store.Post, error) {
	if err := s.requireAdmin(ident); err != nil {
		return store.Post{}, err
	}
	if strings.TrimSpace(input.Title) == "" {
		return store.Post{}, validationError(map[string]string{"title": "title is required"})
	}
	slug := strings.TrimSpace(input.Slug)
	if slug == "" {
		slug = slugify(input.Title)
	}

	post := store.Post{
		ID:        id,
		Slug:      slug,
		Title:     strings.TrimSpace(input.Title),
		Body:      input.Body,
		CoverURL:  input.CoverURL,
		Published: input.Published,
	}
	if err := s.store.UpdatePost(ctx, post); err != nil {
		if store.IsNotFound(err) {
			return store.Post{}, notFoundError("post not found")
		}
		return store.Post{}, fmt.Errorf("update post: %w", err)
	}
	updated, err := s.store.GetPostBySlug(ctx, post.Slug)
	if err != nil {
		return store.Post{}, fmt.Errorf("load updated post: %w", err)
	}
	s.indexPost(updated)
	return updated, nil
}

func (s *Service) DeletePost(ctx context.Context, ident *Identity, id string) error {
	if err := s.requireAdmin(ident); err != nil {
		return err
	}
	if err := s.store.DeletePost(ctx, id); err != nil {
		if store.IsNotFound(err) {
			return notFoundError("post not found")
		}
		return fmt.Errorf("delete post: %w", err)
	}
	if s.search != nil {
		s.search.RemovePost(id)
	}
	return nil
}

func (s *Service) GetPost(ctx context.Context, ident *Identity, slug string) (store.Post, error) {
	post, err := s.store.GetPostBySlug(ctx, slug)
	if err != nil {
		if store.IsNotFound(err) {
			return store.Post{}, notFoundError("post not found")
		}
		return store.Post{}, fmt.Errorf("get post: %w", err)
	}
	// Drafts are admin-only.
	if !post.Published && !ident.isAdmin(s.cfg.AdminEmail) {
		return store.Post{}, notFoundError("post not found")
	}
	return post, nil
}

func (s *Service) ListPosts(ctx context.Context, ident *Identity) ([]store.Post, error) {
	publishedOnly := !ident.isAdmin(s.cfg.AdminEmail)
	posts, err := s.store.ListPosts(ctx, publishedOnly)
	if err != nil {
		return nil, fmt.Errorf("list posts: %w", err)
	}
	if posts == nil {
		posts = []store.Post{}
	}
	return posts, nil
}

// ProjectInput is the payload for creating or updating a portfolio project.
type ProjectInput struct {
	Slug      string   `json:"slug"`
	Title     string   `json:"title"`
	Summary   string   `json:"summary"`
	Body      string   `json:"body"`
	CoverURL  string   `json:"coverUrl"`
	Services  []string `json:"services"`
	Published bool     `json:"published"`
}

func (s *Service) CreateProject(ctx context.Context, ident *Identity, input ProjectInput) (store.Project, error) {
	if err := s.requireAdmin(ident); err != nil {
		return store.Project{}, err
	}
	if strings.TrimSpace(input.Title) == "" {
		return store.Project{}, validationError(map[string]string{"title": "title is required"})
	}
	slug := strings.TrimSpace(input.Slug)
	if slug == "" {
		slug = slugify(input.Title)
	}

	project := store.Project{
		ID:        util.NewID("proj"),
		Slug:      slug,
		Title:     strings.TrimSpace(input.Title),
		Summary:   input.Summary,
		Body:      input.Body,
		CoverURL:  input.CoverURL,
		Services:  cleanServices(input.Services),
		Published: input.Published,
	}
	if err := s.store.InsertProject(ctx, project); err != nil {
		return store.Project{}, fmt.Errorf("insert project: %w", err)
	}
	created, err := s.store.GetProjectBySlug(ctx, project.Slug)
	if err != nil {
		return store.Project{}, fmt.Errorf("load created project: %w", err)
	}
	s.indexProject(created)
	return created, nil
}

func (s *Service) UpdateProject(ctx context.Context, ident *Identity, id string, input ProjectInput) (store.Project, error) {
	if err := s.requireAdmin(ident); err != nil {
		return store.Project{}, err
	}
	if strings.TrimSpace(input.Title) == "" {
		return store.Project{}, validationError(map[string]string{"title": "title is required"})
	}
	slug := strings.TrimSpace(input.Slug)
	if slug == "" {
		slug = slugify(input.Title)
	}

	project := store.Project{
		ID:        id,
		Slug:      slug,
		Title:     strings.TrimSpace(input.Title),
		Summary:   input.Summary,
		Body:      input.Body,
		CoverURL:  input.CoverURL,
		Services:  cleanServices(input.Services),
		Published: input.Published,
	}
	if err := s.store.UpdateProject(ctx, project); err != nil {
		if store.IsNotFound(err) {
			return store.Project{}, notFoundError("project not found")
		}
		return store.Project{}, fmt.Errorf("update project: %w", err)
	}
	updated, err := s.store.GetProjectBySlug(ctx, project.Slug)
	if err != nil {
		return store.Project{}, fmt.Errorf("load updated project: %w", err)
	}
	s.indexProject(updated)
	return updated, nil
}

func (s *Service) DeleteProject(ctx context.Context, ident *Identity, id string) error {
	if err := s.requireAdmin(ident); err != nil {
		return err
	}
	if err := s.store.DeleteProject(ctx, id); err != nil {
		if store.IsNotFound(err) {
			return notFoundError("project not found")
		}
		return fmt.Errorf("delete project: %w", err)
	}
	if s.search != nil {
		s.search.RemoveProject(id)
	}
	return nil
}

func (s *Service) GetProject(ctx context.Context, ident *Identity, slug string) (store.Project, error) {
	project, err := s.store.GetProjectBySlug(ctx, slug)
	if err != nil {
		if store.IsNotFound(err) {
			return store.Project{}, notFoundError("project not found")
		}
		return store.Project{}, fmt.Errorf("get project: %w", err)
	}
	if !project.Published && !ident.isAdmin(s.cfg.AdminEmail) {
		return store.Project{}, notFoundError("project not found")
	}
	return project, nil
}

func (s *Service) ListProjects(ctx context.Context, ident *Identity) ([]store.Project, error) {
	publishedOnly := !ident.isAdmin(s.cfg.AdminEmail)
	projects, err := s.store.ListProjects(ctx, publishedOnly)
	if err != nil {
		return nil, fmt.Errorf("list projects: %w", err)
	}
	if projects == nil {
		projects = []store.Project{}
	}
	return projects, nil
}

// TestimonialInput is the payload for creating a testimonial.
type TestimonialInput struct {
	Author  string `json:"author"`
	Company string `json:"company"`
	Quote   string `json:"quote"`
}

func (s *Service) CreateTestimonial(ctx context.Context, ident *Identity, input TestimonialInput) (store.Testimonial, error) {
	if err := s.requireAdmin(ident); err != nil {
		return store.Testimonial{}, err
	}
	problems := map[string]string{}
	if strings.TrimSpace(input.Author) == "" {
		problems["author"] = "author is required"
	}
	if strings.TrimSpace(input.Quote) == "" {
		problems["quote"] = "quote is required"
	}
	if len(problems) > 0 {
		return store.Testimonial{}, validationError(problems)
	}

	t := store.Testimonial{
		ID:      util.NewID("tstm"),
		Author:  strings.TrimSpace(input.Author),
		Company: strings.TrimSpace(input.Company),
		Quote:   strings.TrimSpace(input.Quote),
	}
	if err := s.store.InsertTestimonial(ctx, t); err != nil {
		return store.Testimonial{}, fmt.Errorf("insert testimonial: %w", err)
	}
	return t, nil
}

func (s *Service) ListTestimonials(ctx context.Context) ([]store.Testimonial, error) {
	testimonials, err := s.store.ListTestimonials(ctx)
	if err != nil {
		return nil, fmt.Errorf("list testimonials: %w", err)
	}
	if testimonials == nil {
		testimonials = []store.Testimonial{}
	}
	return testimonials, nil
}

func (s *Service) DeleteTestimonial(ctx context.Context, ident *Identity, id string) error {
	if err := s.requireAdmin(ident); err != nil {
		return err
	}
	if err := s.store.DeleteTestimonial(ctx, id); err != nil {
		if store.IsNotFound(err) {
			return notFoundError("testimonial not found")
		}
		return fmt.Errorf("delete testimonial: %w", err)
	}
	return nil
}

// Subscribe adds an address to the newsletter list. Re-subscribing is
// silently idempotent.
func (s *Service) Subscribe(ctx context.Context, address string) error {
	address = strings.ToLower(strings.TrimSpace(address))
	if !emailPattern.MatchString(address) {
		return validationError(map[string]string{"email": "email must be a valid address"})
	}
	sub := store.Subscriber{
		ID:    util.NewID("sub"),
		Email: address,
	}
	if err := s.store.InsertSubscriber(ctx, sub); err != nil {
		return fmt.Errorf("insert subscriber: %w", err)
	}
	if s.MailConfigured() {
		go func() {
			if err := s.mailer.SendNewsletterConfirmation(address); err != nil {
				slog.Error("send newsletter confirmation", "error", err)
			}
		}()
	}
	return nil
}

func (s *Service) ListSubscribers(ctx context.Context, ident *Identity) ([]store.Subscriber, error) {
	if err := s.requireAdmin(ident); err != nil {
		return nil, err
	}
	subs, err := s.store.ListSubscribers(ctx)
	if err != nil {
		return nil, fmt.Errorf("list subscribers: %w", err)
	}
	if subs == nil {
		subs = []store.Subscriber{}
	}
	return subs, nil
}

// Upload stores a file in object storage and returns its public URL.
func (s *Service) Upload(ctx context.Context, ident *Identity, filename, contentType string, r io.Reader, size int64) (string, error) {
	if err := s.requireAdmin(ident); err != nil {
		return "", err
	}
	if s.uploader == nil {
		return "", domainError(http.StatusServiceUnavailable, "STORAGE_UNAVAILABLE", "Object storage is not configured", nil)
	}
	url, err := s.uploader.Put(ctx, filename, contentType, r, size)
	if err != nil {
		return "", fmt.Errorf("store upload: %w", err)
	}
	return url, nil
}

// SearchContent runs a full-text query over published posts and projects.
func (s *Service) SearchContent(q search.Query) search.Response {
	if s.search == nil {
		return search.Response{Results: []search.Result{}, Query: q.Text}
	}
	return s.search.Search(q)
}

// requireAdmin is the single gate for privileged operations.
func (s *Service) requireAdmin(ident *Identity) error {
	if ident == nil {
		return unauthorizedError()
	}
	if !ident.isAdmin(s.cfg.AdminEmail) {
		return forbiddenError()
	}
	return nil
}

func (s *Service) indexPost(post store.Post) {
	if s.search == nil || !post.Published {
		if s.search != nil && !post.Published {
			s.search.RemovePost(post.ID)
		}
		return
	}
	s.search.IndexPost(search.PostRecord{
		ID:    post.ID,
		Slug:  post.Slug,
		Title: post.Title,
		Body:  post.Body,
	})
}

func (s *Service) indexProject(project store.Project) {
	if s.search == nil || !project.Published {
		if s.search != nil && !project.Published {
			s.search.RemoveProject(project.ID)
		}
		return
	}
	s.search.IndexProject(search.ProjectRecord{
		ID:      project.ID,
		Slug:    project.Slug,
		Title:   project.Title,
		Summary: project.Summary,
		Body:    project.Body,
	})
}
