package model

import "time"

const (
	RoleBoothUser = "booth_user"
	RoleAdmin     = "admin"
)

// User is a field worker or admin. Phone is the verified login number in
// E.164 form; MobileNumber is the contact number entered on the profile.
type User struct {
	ID           string    `json:"id"`
	Phone        string    `json:"phone"`
	Name         string    `json:"name"`
	MobileNumber string    `json:"mobile_number"`
	BoothNumber  string    `json:"booth_number"`
	Role         string    `json:"role"`
	CreatedAt    time.Time `json:"created_at"`
	UpdatedAt    time.Time `json:"updated_at"`
}

func (u *User) IsAdmin() bool {
	return u.Role == RoleAdmin
}

// DisplayName falls back to "Unknown" like the submission form does.
func (u *User) DisplayName() string {
	if u.Name == "" {
		return "Unknown"
	}
	return u.Name
}
