package account

import "time"

type AuthMethod string

const (
	AuthMethodLocal  AuthMethod = "local"
	AuthMethodGoogle AuthMethod = "google"
)

type Role string

const (
	RoleUser  Role = "user"
	RoleAdmin Role = "admin"
)

// Account is the durable identity record. PasswordHash and GoogleID never
// leave the service; refresh-token references live in their own table and are
// reachable only through the Store methods.
type Account struct {
	ID            string     `json:"id"`
	Username      string     `json:"username,omitempty"`
	Email         string     `json:"email"`
	PasswordHash  string     `json:"-"`
	FirstName     string     `json:"firstName"`
	LastName      string     `json:"lastName"`
	Avatar        *string    `json:"avatar,omitempty"`
	Role          Role       `json:"role"`
	Active        bool       `json:"isActive"`
	EmailVerified bool       `json:"isEmailVerified"`
	AuthMethod    AuthMethod `json:"authMethod"`
	GoogleID      string     `json:"-"`
	LastLogin     *time.Time `json:"lastLogin,omitempty"`
	CreatedAt     time.Time  `json:"createdAt"`
	UpdatedAt     time.Time  `json:"updatedAt"`
}

// Scrub returns a copy safe to hand to callers.
func (a *Account) Scrub() *Account {
	clone := *a
	clone.PasswordHash = ""
	return &clone
}

// Fields is a partial update. Nil pointers leave the column untouched.
type Fields struct {
	Username      *string
	FirstName     *string
	LastName      *string
	Avatar        *string
	PasswordHash  *string
	LastLogin     *time.Time
	Active        *bool
	EmailVerified *bool
}

func (f Fields) Empty() bool {
	return f.Username == nil && f.FirstName == nil && f.LastName == nil &&
		f.Avatar == nil && f.PasswordHash == nil && f.LastLogin == nil &&
		f.Active == nil && f.EmailVerified == nil
}
