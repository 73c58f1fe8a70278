// Package conversation drives the step-by-step request creation dialogue.
package conversation

import (
	"sync"

	"github.com/facilitydesk/repair-bot/internal/models"
)

type Mode string

const (
	ModeUser     Mode = "user"
	ModeOperator Mode = "operator"
)

type Stage string

const (
	StageIdle        Stage = "idle"
	StageCategory    Stage = "await_category"
	StageRoom        Stage = "await_room"
	StageDescription Stage = "await_description"
	StagePhotoChoice Stage = "await_photo_choice"
	StagePhoto       Stage = "await_photo"
	StageFinalizing  Stage = "finalizing"
)

// Session is the scratch state of one chat. Callers hold the session lock
// for the whole handling of an update, so a chat's updates are processed
// one at a time while different chats proceed independently.
type Session struct {
	mu sync.Mutex

	ChatID int64
	Mode   Mode
	Stage  Stage
	Draft  models.Draft
}

func (s *Session) Lock()   { s.mu.Lock() }
func (s *Session) Unlock() { s.mu.Unlock() }

// Active reports whether a creation flow is in progress.
func (s *Session) Active() bool {
	return s.Stage != StageIdle
}

// Reset drops any draft and returns to idle. The menu mode is kept.
func (s *Session) Reset() {
	s.Stage = StageIdle
	s.Draft = models.Draft{}
}

// SessionStore hands out sessions by chat id. Sessions live in memory only;
// a restart loses drafts in flight.
type SessionStore struct {
	mu       sync.Mutex
	sessions map[int64]*Session
}

func NewSessionStore() *SessionStore {
	return &SessionStore{sessions: make(map[int64]*Session)}
}

// Get returns the chat's session, creating a baseline one on first contact.
func (st *SessionStore) Get(chatID int64) *Session {
	st.mu.Lock()
	defer st.mu.Unlock()

	s, ok := st.sessions[chatID]
	if !ok {
		s = &Session{ChatID: chatID, Mode: ModeUser, Stage: StageIdle}
		st.sessions[chatID] = s
	}
	return s
}

// Len returns the number of known sessions.
func (st *SessionStore) Len() int {
	st.mu.Lock()
	defer st.mu.Unlock()
	return len(st.sessions)
}
