package auth

import "time"

type Role string

const (
	RoleClient     Role = "client"
	RoleFreelancer Role = "freelancer"
	RoleArbitrator Role = "arbitrator"
	RoleAdmin      Role = "admin"
)

// User mirrors the users table. Contract and dispute records refer to users
// by ID only.
type User struct {
	ID           string
	Email        string
	PasswordHash string
	Role         Role
	CreatedAt    time.Time
}

type RegisterRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
	Role     Role   `json:"role"`
}

type LoginRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

// Identity is what a verified token asserts about its bearer.
type Identity struct {
	UserID string
	Role   Role
}

// IsAdmin reports whether the identity may assign arbitrators.
func (i Identity) IsAdmin() bool {
	return i.Role == RoleAdmin
}
