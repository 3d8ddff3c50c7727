package db

import (
	"database/sql"
	"errors"
	"fmt"
	"msgserver/models"
	"time"

	_ "github.com/mattn/go-sqlite3"
	_ "modernc.org/sqlite"
)

const (
	// DriverSQLite3 is the cgo driver (github.com/mattn/go-sqlite3).
	DriverSQLite3 = "sqlite3"
	// DriverSQLite is the pure Go driver (modernc.org/sqlite).
	DriverSQLite = "sqlite"
)

var (
	ErrNoRows        = errors.New("no rows found")
	ErrUserExists    = errors.New("user already exists")
	ErrUnknownDriver = errors.New("unknown database driver")
	ErrNotRegistered = errors.New("user not registered")
)

type DB struct {
	conn *sql.DB
}

// New opens the store at path with the default driver.
func New(path string) (*DB, error) {
	return Open(DriverSQLite3, path)
}

// Open opens the store with the given driver and prepares the schema.
// Active_users is emptied: no session survives a restart.
func Open(driver, path string) (*DB, error) {
	dsn, err := dataSource(driver, path)
	if err != nil {
		return nil, err
	}

	conn, err := sql.Open(driver, dsn)
	if err != nil {
		return nil, err
	}
	// One connection keeps PRAGMA settings and serializes with the reactor.
	conn.SetMaxOpenConns(1)

	db := &DB{conn: conn}
	if err := db.init(); err != nil {
		conn.Close()
		return nil, err
	}

	if err := db.ClearActiveUsers(); err != nil {
		conn.Close()
		return nil, err
	}

	return db, nil
}

func dataSource(driver, path string) (string, error) {
	switch driver {
	case DriverSQLite3:
		return path + "?_foreign_keys=1&_journal_mode=WAL", nil
	case DriverSQLite:
		return "file:" + path + "?_pragma=foreign_keys(1)&_pragma=journal_mode(WAL)", nil
	default:
		return "", fmt.Errorf("%w: %q", ErrUnknownDriver, driver)
	}
}

func (db *DB) Close() error {
	return db.conn.Close()
}

func (db *DB) init() error {
	queries := []string{
		`CREATE TABLE IF NOT EXISTS Users (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			name TEXT UNIQUE NOT NULL,
			last_login TEXT NOT NULL,
			passwd_hash BLOB NOT NULL,
			pubkey TEXT
		)`,
		`CREATE TABLE IF NOT EXISTS Active_users (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			user_id INTEGER UNIQUE NOT NULL REFERENCES Users(id) ON DELETE CASCADE,
			ip_address TEXT NOT NULL,
			port INTEGER NOT NULL,
			login_time TEXT NOT NULL
		)`,
		`CREATE TABLE IF NOT EXISTS Login_history (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			user_id INTEGER NOT NULL REFERENCES Users(id) ON DELETE CASCADE,
			date_time TEXT NOT NULL,
			ip TEXT NOT NULL,
			port INTEGER NOT NULL
		)`,
		`CREATE TABLE IF NOT EXISTS Contacts (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			user_id INTEGER NOT NULL REFERENCES Users(id) ON DELETE CASCADE,
			contact_id INTEGER NOT NULL REFERENCES Users(id) ON DELETE CASCADE,
			UNIQUE(user_id, contact_id)
		)`,
		`CREATE TABLE IF NOT EXISTS History (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			user_id INTEGER UNIQUE NOT NULL REFERENCES Users(id) ON DELETE CASCADE,
			sent INTEGER NOT NULL DEFAULT 0,
			accepted INTEGER NOT NULL DEFAULT 0
		)`,
		`CREATE INDEX IF NOT EXISTS idx_login_history_user ON Login_history(user_id, date_time)`,
		`CREATE INDEX IF NOT EXISTS idx_contacts_user ON Contacts(user_id)`,
	}

	for _, query := range queries {
		if _, err := db.conn.Exec(query); err != nil {
			return err
		}
	}

	return nil
}

func formatTime(t time.Time) string {
	return t.UTC().Format(time.RFC3339)
}

func parseTime(s string) time.Time {
	t, _ := time.Parse(time.RFC3339, s)
	return t
}

// withTx runs fn in a transaction, rolling back on error.
func (db *DB) withTx(fn func(tx *sql.Tx) error) error {
	tx, err := db.conn.Begin()
	if err != nil {
		return err
	}
	if err := fn(tx); err != nil {
		tx.Rollback()
		return err
	}
	return tx.Commit()
}

// User methods

// AddUser registers a user together with its zeroed statistics row.
func (db *DB) AddUser(name string, passwdHash []byte) error {
	exists, err := db.CheckUser(name)
	if err != nil {
		return err
	}
	if exists {
		return ErrUserExists
	}

	return db.withTx(func(tx *sql.Tx) error {
		res, err := tx.Exec(
			"INSERT INTO Users (name, last_login, passwd_hash) VALUES (?, ?, ?)",
			name, formatTime(time.Now()), passwdHash,
		)
		if err != nil {
			return err
		}
		id, err := res.LastInsertId()
		if err != nil {
			return err
		}
		_, err = tx.Exec("INSERT INTO History (user_id) VALUES (?)", id)
		return err
	})
}

// RemoveUser deletes a user and every row keyed by it. Missing users are
// reported as ErrNoRows.
func (db *DB) RemoveUser(name string) error {
	return db.withTx(func(tx *sql.Tx) error {
		var id int64
		err := tx.QueryRow("SELECT id FROM Users WHERE name = ?", name).Scan(&id)
		if err == sql.ErrNoRows {
			return ErrNoRows
		}
		if err != nil {
			return err
		}

		// Explicit deletes so the cascade does not depend on the foreign_keys pragma.
		if _, err := tx.Exec("DELETE FROM Contacts WHERE user_id = ? OR contact_id = ?", id, id); err != nil {
			return err
		}
		queries := []string{
			"DELETE FROM Active_users WHERE user_id = ?",
			"DELETE FROM Login_history WHERE user_id = ?",
			"DELETE FROM History WHERE user_id = ?",
			"DELETE FROM Users WHERE id = ?",
		}
		for _, q := range queries {
			if _, err := tx.Exec(q, id); err != nil {
				return err
			}
		}
		return nil
	})
}

func (db *DB) CheckUser(name string) (bool, error) {
	var count int
	err := db.conn.QueryRow("SELECT COUNT(*) FROM Users WHERE name = ?", name).Scan(&count)
	if err != nil {
		return false, err
	}
	return count > 0, nil
}

// GetHash returns the stored password hash, or ErrNoRows.
func (db *DB) GetHash(name string) ([]byte, error) {
	var hash []byte
	err := db.conn.QueryRow("SELECT passwd_hash FROM Users WHERE name = ?", name).Scan(&hash)
	if err == sql.ErrNoRows {
		return nil, ErrNoRows
	}
	return hash, err
}

// GetPubkey returns the user's public key; empty when unknown or unset.
func (db *DB) GetPubkey(name string) (string, error) {
	var key sql.NullString
	err := db.conn.QueryRow("SELECT pubkey FROM Users WHERE name = ?", name).Scan(&key)
	if err == sql.ErrNoRows {
		return "", nil
	}
	if err != nil {
		return "", err
	}
	return key.String, nil
}

// UsersList returns every user ordered by name. PasswdHash is not loaded.
func (db *DB) UsersList() ([]models.User, error) {
	rows, err := db.conn.Query("SELECT id, name, last_login, COALESCE(pubkey, '') FROM Users ORDER BY name")
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var users []models.User
	for rows.Next() {
		var u models.User
		var lastLogin string
		if err := rows.Scan(&u.ID, &u.Name, &lastLogin, &u.Pubkey); err != nil {
			return nil, err
		}
		u.LastLogin = parseTime(lastLogin)
		users = append(users, u)
	}

	return users, rows.Err()
}

// Session methods

// UserLogin records a successful authentication: last_login and pubkey on the
// user, a new Active_users row and a Login_history row, all in one transaction.
// An existing Active_users row for the user is replaced.
func (db *DB) UserLogin(name, ip string, port int, pubkey string) error {
	now := formatTime(time.Now())

	return db.withTx(func(tx *sql.Tx) error {
		var id int64
		var current sql.NullString
		err := tx.QueryRow("SELECT id, pubkey FROM Users WHERE name = ?", name).Scan(&id, &current)
		if err == sql.ErrNoRows {
			return ErrNotRegistered
		}
		if err != nil {
			return err
		}

		if _, err := tx.Exec("UPDATE Users SET last_login = ? WHERE id = ?", now, id); err != nil {
			return err
		}
		if pubkey != "" && (!current.Valid || current.String != pubkey) {
			if _, err := tx.Exec("UPDATE Users SET pubkey = ? WHERE id = ?", pubkey, id); err != nil {
				return err
			}
		}

		// A leftover row belongs to no live socket: the caller has already
		// checked that the name is free.
		if _, err := tx.Exec("DELETE FROM Active_users WHERE user_id = ?", id); err != nil {
			return err
		}

		if _, err := tx.Exec(
			"INSERT INTO Active_users (user_id, ip_address, port, login_time) VALUES (?, ?, ?, ?)",
			id, ip, port, now,
		); err != nil {
			return err
		}

		_, err = tx.Exec(
			"INSERT INTO Login_history (user_id, date_time, ip, port) VALUES (?, ?, ?, ?)",
			id, now, ip, port,
		)
		return err
	})
}

// UserLogout drops the active session row, if any.
func (db *DB) UserLogout(name string) error {
	_, err := db.conn.Exec(
		"DELETE FROM Active_users WHERE user_id = (SELECT id FROM Users WHERE name = ?)", name,
	)
	return err
}

func (db *DB) ClearActiveUsers() error {
	_, err := db.conn.Exec("DELETE FROM Active_users")
	return err
}

func (db *DB) ActiveUsersList() ([]models.ActiveSession, error) {
	rows, err := db.conn.Query(`
		SELECT a.id, u.name, a.ip_address, a.port, a.login_time
		FROM Active_users a JOIN Users u ON u.id = a.user_id
		ORDER BY u.name
	`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var sessions []models.ActiveSession
	for rows.Next() {
		var s models.ActiveSession
		var loginTime string
		if err := rows.Scan(&s.ID, &s.User, &s.IPAddress, &s.Port, &loginTime); err != nil {
			return nil, err
		}
		s.LoginTime = parseTime(loginTime)
		sessions = append(sessions, s)
	}

	return sessions, rows.Err()
}

// LoginHistory returns login records, all of them when name is empty.
func (db *DB) LoginHistory(name string) ([]models.LoginRecord, error) {
	query := `
		SELECT h.id, u.name, h.date_time, h.ip, h.port
		FROM Login_history h JOIN Users u ON u.id = h.user_id
	`
	var args []any
	if name != "" {
		query += " WHERE u.name = ?"
		args = append(args, name)
	}
	query += " ORDER BY h.id"

	rows, err := db.conn.Query(query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var records []models.LoginRecord
	for rows.Next() {
		var r models.LoginRecord
		var dateTime string
		if err := rows.Scan(&r.ID, &r.User, &dateTime, &r.IP, &r.Port); err != nil {
			return nil, err
		}
		r.DateTime = parseTime(dateTime)
		records = append(records, r)
	}

	return records, rows.Err()
}

// Contact methods

func (db *DB) GetContacts(name string) ([]string, error) {
	rows, err := db.conn.Query(`
		SELECT c.name
		FROM Contacts k
		JOIN Users u ON u.id = k.user_id
		JOIN Users c ON c.id = k.contact_id
		WHERE u.name = ?
		ORDER BY c.name
	`, name)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var contacts []string
	for rows.Next() {
		var c string
		if err := rows.Scan(&c); err != nil {
			return nil, err
		}
		contacts = append(contacts, c)
	}

	return contacts, rows.Err()
}

// AddContact is idempotent: an existing edge or an unknown user is a no-op.
func (db *DB) AddContact(name, contact string) error {
	_, err := db.conn.Exec(`
		INSERT OR IGNORE INTO Contacts (user_id, contact_id)
		SELECT u.id, c.id FROM Users u, Users c
		WHERE u.name = ? AND c.name = ?
	`, name, contact)
	return err
}

// RemoveContact deletes the edge if present; a missing edge is not an error.
func (db *DB) RemoveContact(name, contact string) error {
	_, err := db.conn.Exec(`
		DELETE FROM Contacts
		WHERE user_id = (SELECT id FROM Users WHERE name = ?)
		  AND contact_id = (SELECT id FROM Users WHERE name = ?)
	`, name, contact)
	return err
}

// Statistics methods

// ProcessMessage counts one routed message: sender.sent and recipient.accepted.
func (db *DB) ProcessMessage(sender, recipient string) error {
	return db.withTx(func(tx *sql.Tx) error {
		// Users created outside AddUser have no counter row yet.
		for _, name := range []string{sender, recipient} {
			if _, err := tx.Exec(
				"INSERT OR IGNORE INTO History (user_id) SELECT id FROM Users WHERE name = ?", name,
			); err != nil {
				return err
			}
		}

		res, err := tx.Exec(
			"UPDATE History SET sent = sent + 1 WHERE user_id = (SELECT id FROM Users WHERE name = ?)", sender,
		)
		if err != nil {
			return err
		}
		if n, _ := res.RowsAffected(); n == 0 {
			return fmt.Errorf("%w: %s", ErrNoRows, sender)
		}

		res, err = tx.Exec(
			"UPDATE History SET accepted = accepted + 1 WHERE user_id = (SELECT id FROM Users WHERE name = ?)", recipient,
		)
		if err != nil {
			return err
		}
		if n, _ := res.RowsAffected(); n == 0 {
			return fmt.Errorf("%w: %s", ErrNoRows, recipient)
		}
		return nil
	})
}

func (db *DB) GetStats(name string) (*models.MessageStats, error) {
	var s models.MessageStats
	var lastLogin string
	err := db.conn.QueryRow(`
		SELECT u.name, u.last_login, COALESCE(h.sent, 0), COALESCE(h.accepted, 0)
		FROM Users u LEFT JOIN History h ON h.user_id = u.id
		WHERE u.name = ?
	`, name).Scan(&s.User, &lastLogin, &s.Sent, &s.Accepted)
	if err == sql.ErrNoRows {
		return nil, ErrNoRows
	}
	if err != nil {
		return nil, err
	}
	s.LastLogin = parseTime(lastLogin)
	return &s, nil
}

func (db *DB) MessageHistory() ([]models.MessageStats, error) {
	rows, err := db.conn.Query(`
		SELECT u.name, u.last_login, COALESCE(h.sent, 0), COALESCE(h.accepted, 0)
		FROM Users u LEFT JOIN History h ON h.user_id = u.id
		ORDER BY u.name
	`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var stats []models.MessageStats
	for rows.Next() {
		var s models.MessageStats
		var lastLogin string
		if err := rows.Scan(&s.User, &lastLogin, &s.Sent, &s.Accepted); err != nil {
			return nil, err
		}
		s.LastLogin = parseTime(lastLogin)
		stats = append(stats, s)
	}

	return stats, rows.Err()
}
