package models

// Identity is what a successful login yields and what the client needs to open
// a session.
type Identity struct {
	Token    string `json:"token"`
	UserID   uint64 `json:"id"`
	Username string `json:"username"`
	Email    string `json:"email"`
}

// Valid reports whether the identity can open a session.
func (i Identity) Valid() bool {
	return i.Token != "" && i.UserID != 0
}
