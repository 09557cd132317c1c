package websocket

import (
	"context"
	"errors"
	"sync"

	"negotiation-engine/internal/domain"
	"negotiation-engine/pkg/logger"
)

// Session is one connected reader.
type Session interface {
	domain.Resyncer
	ID() string
	Close() error
}

type sessionEntry struct {
	session Session
	userID  string
	conn    interface{ Close() error }
}

// SessionManager tracks live sessions and hands them to the resync
// scheduler for their lifetime.
type SessionManager struct {
	sessions  map[string]*sessionEntry
	userIndex map[string]map[string]struct{} // userID -> sessionIDs
	mutex     sync.RWMutex
	scheduler domain.ResyncScheduler
	log       logger.Logger
}

func NewSessionManager(scheduler domain.ResyncScheduler, log logger.Logger) *SessionManager {
	return &SessionManager{
		sessions:  make(map[string]*sessionEntry),
		userIndex: make(map[string]map[string]struct{}),
		scheduler: scheduler,
		log:       log,
	}
}

func (sm *SessionManager) Register(userID string, session Session, conn interface{ Close() error }) {
	sm.mutex.Lock()
	sm.sessions[session.ID()] = &sessionEntry{session: session, userID: userID, conn: conn}
	if userID != "" {
		if sm.userIndex[userID] == nil {
			sm.userIndex[userID] = make(map[string]struct{})
		}
		sm.userIndex[userID][session.ID()] = struct{}{}
	}
	sm.mutex.Unlock()

	if sm.scheduler != nil {
		sm.scheduler.Register(session.ID(), session)
	}
	sm.log.Info("Session registered", "session_id", session.ID(), "user_id", userID)
}

// Unregister closes the session and its connection. Unknown ids are ignored.
func (sm *SessionManager) Unregister(sessionID string) error {
	sm.mutex.Lock()
	entry, ok := sm.sessions[sessionID]
	if ok {
		delete(sm.sessions, sessionID)
		if ids := sm.userIndex[entry.userID]; ids != nil {
			delete(ids, sessionID)
			if len(ids) == 0 {
				delete(sm.userIndex, entry.userID)
			}
		}
	}
	sm.mutex.Unlock()
	if !ok {
		return nil
	}

	if sm.scheduler != nil {
		sm.scheduler.Unregister(sessionID)
	}

	var errs []error
	if err := entry.session.Close(); err != nil {
		errs = append(errs, err)
	}
	if entry.conn != nil {
		if err := entry.conn.Close(); err != nil {
			errs = append(errs, err)
		}
	}
	sm.log.Info("Session unregistered", "session_id", sessionID, "user_id", entry.userID)
	return errors.Join(errs...)
}

func (sm *SessionManager) Get(sessionID string) (Session, bool) {
	sm.mutex.RLock()
	defer sm.mutex.RUnlock()
	entry, ok := sm.sessions[sessionID]
	if !ok {
		return nil, false
	}
	return entry.session, true
}

func (sm *SessionManager) SessionsForUser(userID string) []string {
	sm.mutex.RLock()
	defer sm.mutex.RUnlock()
	ids := make([]string, 0, len(sm.userIndex[userID]))
	for id := range sm.userIndex[userID] {
		ids = append(ids, id)
	}
	return ids
}

func (sm *SessionManager) Count() int {
	sm.mutex.RLock()
	defer sm.mutex.RUnlock()
	return len(sm.sessions)
}

// CloseAll tears down every session, e.g. on shutdown.
func (sm *SessionManager) CloseAll(ctx context.Context) error {
	sm.mutex.RLock()
	ids := make([]string, 0, len(sm.sessions))
	for id := range sm.sessions {
		ids = append(ids, id)
	}
	sm.mutex.RUnlock()

	var errs []error
	for _, id := range ids {
		if ctx.Err() != nil {
			errs = append(errs, ctx.Err())
			break
		}
		if err := sm.Unregister(id); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
