package models

import "time"

// User represents a registered IsmisTube account. Password holds the bcrypt
// digest, never the raw password.
type User struct {
	Username string `json:"username"`
	Password string `json:"password"`
}

// Video is a single uploaded file in the public feed.
type Video struct {
	ID       int    `json:"id"`
	Filename string `json:"filename"`
	Owner    string `json:"user"`
}

// Session binds an opaque cookie token to an authenticated username.
type Session struct {
	Token     string
	Username  string
	ExpiresAt time.Time
}
