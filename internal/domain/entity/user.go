package entity

import "strings"

// User mirrors the identity provider's record. Read-only here.
type User struct {
	ID          string `json:"id"`
	DisplayName string `json:"display_name"`
	Email       string `json:"email"`
}

// SenderName picks the name stamped on outgoing messages.
func (u *User) SenderName() string {
	if u.DisplayName != "" {
		return u.DisplayName
	}
	if at := strings.Index(u.Email, "@"); at > 0 {
		return u.Email[:at]
	}
	return "User"
}
