package models

import "time"

type User struct {
	ID         int64
	Name       string
	PasswdHash []byte // HMAC key for the login challenge, never compared directly
	LastLogin  time.Time
	Pubkey     string // empty when the client never reported one
}

type ActiveSession struct {
	ID        int64
	User      string
	IPAddress string
	Port      int
	LoginTime time.Time
}

type LoginRecord struct {
	ID       int64
	User     string
	DateTime time.Time
	IP       string
	Port     int
}

type Contact struct {
	ID      int64
	User    string
	Contact string
}

// MessageStats is one row of the History table joined with its user.
type MessageStats struct {
	User      string
	LastLogin time.Time
	Sent      int64
	Accepted  int64
}
