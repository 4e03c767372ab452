package telegram

import "sync"

// State is where a chat user is in the conversation.
type State string

const (
	StateMainMenu      State = "main_menu"
	StateAwaitingPhoto State = "awaiting_photo"
	StateProcessing    State = "processing"
)

// Session is one user's conversation state.
type Session struct {
	UserID int64
	ChatID int64
	State  State
	// LastRequestID is the most recent diagnosis for the user.
	LastRequestID string
}

// SessionStore keeps sessions in memory. Sessions are copied in and out so
// callers never share a pointer with the store.
type SessionStore struct {
	mu       sync.Mutex
	sessions map[int64]Session
}

func NewSessionStore() *SessionStore {
	return &SessionStore{sessions: make(map[int64]Session)}
}

// Get returns the user's session, creating one in the main menu.
func (s *SessionStore) Get(userID, chatID int64) Session {
	s.mu.Lock()
	defer s.mu.Unlock()

	sess, ok := s.sessions[userID]
	if !ok {
		sess = Session{UserID: userID, ChatID: chatID, State: StateMainMenu}
		s.sessions[userID] = sess
	}
	return sess
}

// Save stores sess.
func (s *SessionStore) Save(sess Session) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.sessions[sess.UserID] = sess
}

// TryBegin moves the user into StateProcessing unless a diagnosis is already
// running for them.
func (s *SessionStore) TryBegin(userID, chatID int64) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	sess, ok := s.sessions[userID]
	if !ok {
		sess = Session{UserID: userID, ChatID: chatID}
	}
	if sess.State == StateProcessing {
		return false
	}
	sess.State = StateProcessing
	s.sessions[userID] = sess
	return true
}

// Finish returns the user to the main menu and records requestID.
func (s *SessionStore) Finish(userID int64, requestID string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	sess := s.sessions[userID]
	sess.UserID = userID
	sess.State = StateMainMenu
	if requestID != "" {
		sess.LastRequestID = requestID
	}
	s.sessions[userID] = sess
}
