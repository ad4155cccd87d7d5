package tg

import "sync"

// ChatState is what the next plain-text message from a chat is expected to be.
type ChatState int

const (
	StateIdle ChatState = iota
	StateAwaitTxHash
	StateAwaitLargeAmount
	StateAwaitWalletAddress
)

type StateStore struct {
	mu    sync.Mutex
	state map[int64]ChatState
}

func NewStateStore() *StateStore {
	return &StateStore{state: make(map[int64]ChatState)}
}

// Set records st for the chat; idle chats are not kept.
func (s *StateStore) Set(chatID int64, st ChatState) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if st == StateIdle {
		delete(s.state, chatID)
		return
	}
	s.state[chatID] = st
}

func (s *StateStore) Get(chatID int64) ChatState {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state[chatID]
}

// Take returns the chat's state and resets it to idle.
func (s *StateStore) Take(chatID int64) ChatState {
	s.mu.Lock()
	defer s.mu.Unlock()
	st := s.state[chatID]
	delete(s.state, chatID)
	return st
}
