package identity

import "time"

// User is a registered account.
type User struct {
	ID           string
	Email        string
	DisplayName  string
	PasswordHash []byte
	Disabled     bool
	TokenVersion int
	CreatedAt    time.Time
}

// Profile is the public view of a user.
type Profile struct {
	UID         string `json:"uid"`
	Email       string `json:"email"`
	DisplayName string `json:"displayName"`
}

// Profile returns the public view of u.
func (u User) Profile() Profile {
	return Profile{UID: u.ID, Email: u.Email, DisplayName: u.DisplayName}
}

// Credentials request structure.
type Credentials struct {
	Email    string
	Password string
}
