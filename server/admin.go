package server

import (
	"msgserver/auth"
	"msgserver/models"
)

// Administrative operations. Each runs on the reactor so it serializes with
// protocol handling.

// AddUser registers an account and notifies connected clients.
func (s *Server) AddUser(name, password string) error {
	var err error
	if execErr := s.exec(func() {
		if err = s.db.AddUser(name, auth.HashPassword(name, password)); err != nil {
			return
		}
		s.log.Infof("User %s registered", name)
		s.broadcastUpdate()
	}); execErr != nil {
		return execErr
	}
	return err
}

// RemoveUser disconnects the account if it is online, deletes it with every
// row keyed by it, and notifies the remaining clients.
func (s *Server) RemoveUser(name string) error {
	var err error
	if execErr := s.exec(func() {
		if c, ok := s.names[name]; ok {
			s.deregister(c, "account removed")
		}
		if err = s.db.RemoveUser(name); err != nil {
			return
		}
		s.log.Infof("User %s removed", name)
		s.broadcastUpdate()
	}); execErr != nil {
		return execErr
	}
	return err
}

func (s *Server) Users() ([]models.User, error) {
	var users []models.User
	var err error
	if execErr := s.exec(func() { users, err = s.db.UsersList() }); execErr != nil {
		return nil, execErr
	}
	return users, err
}

func (s *Server) ActiveSessions() ([]models.ActiveSession, error) {
	var sessions []models.ActiveSession
	var err error
	if execErr := s.exec(func() { sessions, err = s.db.ActiveUsersList() }); execErr != nil {
		return nil, execErr
	}
	return sessions, err
}

// LoginHistory returns login records for name, or for everyone when empty.
func (s *Server) LoginHistory(name string) ([]models.LoginRecord, error) {
	var records []models.LoginRecord
	var err error
	if execErr := s.exec(func() { records, err = s.db.LoginHistory(name) }); execErr != nil {
		return nil, execErr
	}
	return records, err
}

func (s *Server) MessageStats() ([]models.MessageStats, error) {
	var stats []models.MessageStats
	var err error
	if execErr := s.exec(func() { stats, err = s.db.MessageHistory() }); execErr != nil {
		return nil, execErr
	}
	return stats, err
}
