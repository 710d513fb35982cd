// Package session keeps per-browser state (the signed-in user and pending
// flash messages) server side and binds it to a signed cookie.
package session

import (
	"context"
	"errors"
	"time"
)

// ErrNotFound is returned by a Store when the session does not exist or has
// expired.
var ErrNotFound = errors.New("session not found")

// Flash categories understood by the templates.
const (
	FlashInfo    = "info"
	FlashSuccess = "success"
	FlashError   = "error"
)

type Flash struct {
	Category string `json:"category"`
	Message  string `json:"message"`
}

// Data is the persisted part of a session.
type Data struct {
	UserID  int     `json:"user_id,omitempty"`
	Flashes []Flash `json:"flashes,omitempty"`
}

// Store persists session data by opaque id.
type Store interface {
	Load(ctx context.Context, id string) (Data, error)
	Save(ctx context.Context, id string, data Data, ttl time.Duration) error
	Destroy(ctx context.Context, id string) error
}

// Session is the request-scoped view of a stored session.
type Session struct {
	ID    string
	Data  Data
	dirty bool
}

// UserID returns the signed-in user, if any.
func (s *Session) UserID() (int, bool) {
	if s == nil || s.Data.UserID < 1 {
		return 0, false
	}
	return s.Data.UserID, true
}

// SetUser marks the session as signed in.
func (s *Session) SetUser(userID int) {
	s.Data.UserID = userID
	s.dirty = true
}

// AddFlash queues a message for the next rendered page.
func (s *Session) AddFlash(category, message string) {
	s.Data.Flashes = append(s.Data.Flashes, Flash{Category: category, Message: message})
	s.dirty = true
}

// PopFlashes returns and clears the queued messages.
func (s *Session) PopFlashes() []Flash {
	if len(s.Data.Flashes) == 0 {
		return nil
	}
	flashes := s.Data.Flashes
	s.Data.Flashes = nil
	s.dirty = true
	return flashes
}
