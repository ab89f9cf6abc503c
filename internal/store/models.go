package store

import "time"

type User struct {
	ID                    string
	Name                  string
	Email                 string
	PasswordHash          string
	IsEmailVerified       bool
	VerificationToken     string
	VerificationExpiresAt *time.Time
	CreatedAt             time.Time
	UpdatedAt             time.Time
}

// Request is a client project inquiry. Only Status ever changes after
// creation; UserID is nil for anonymous submissions and never reassigned.
type Request struct {
	ID        string    `json:"id"`
	Name      string    `json:"name"`
	Email     string    `json:"email"`
	Company   string    `json:"company,omitempty"`
	Budget    string    `json:"budget,omitempty"`
	Message   string    `json:"message,omitempty"`
	Services  []string  `json:"services"`
	Status    string    `json:"status"`
	UserID    *string   `json:"userId"`
	CreatedAt time.Time `json:"createdAt"`
}

type Post struct {
	ID        string    `json:"id"`
	Slug      string    `json:"slug"`
	Title     string    `json:"title"`
	Body      string    `json:"body"`
	CoverURL  string    `json:"coverUrl,omitempty"`
	Published bool      `json:"published"`
	CreatedAt time.Time `json:"createdAt"`
	UpdatedAt time.Time `json:"updatedAt"`
}

type Project struct {
	ID        string    `json:"id"`
	Slug      string    `json:"slug"`
	Title     string    `json:"title"`
	Summary   string    `json:"summary"`
	Body      string    `json:"body"`
	CoverURL  string    `json:"coverUrl,omitempty"`
	Services  []string  `json:"services"`
	Published bool      `json:"published"`
	CreatedAt time.Time `json:"createdAt"`
	UpdatedAt time.Time `json:"updatedAt"`
}

type Testimonial struct {
	ID        string    `json:"id"`
	Author    string    `json:"author"`
	Company   string    `json:"company,omitempty"`
	Quote     string    `json:"quote"`
	CreatedAt time.Time `json:"createdAt"`
}

type Subscriber struct {
	ID        string    `json:"id"`
	Email     string    `json:"email"`
	CreatedAt time.Time `json:"createdAt"`
}
