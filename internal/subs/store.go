package subs

import (
	"math/big"
	"slices"
	"strings"
	"sync"

	"github.com/ethereum/go-ethereum/common"
)

// ChatSubs is what one chat wants to hear about.
type ChatSubs struct {
	LargeTxMinWei *big.Int
	Wallet        *common.Address
}

type Store struct {
	mu   sync.RWMutex
	data map[int64]*ChatSubs
}

func NewStore() *Store {
	return &Store{data: make(map[int64]*ChatSubs)}
}

func (s *Store) SetLargeTxMin(chatID int64, minWei *big.Int) {
	s.mu.Lock()
	defer s.mu.Unlock()

	u := s.getOrCreate(chatID)
	if minWei == nil {
		u.LargeTxMinWei = nil
		s.cleanupIfEmpty(chatID, u)
		return
	}
	u.LargeTxMinWei = new(big.Int).Set(minWei)
}

func (s *Store) SetWallet(chatID int64, addr common.Address) {
	s.mu.Lock()
	defer s.mu.Unlock()

	u := s.getOrCreate(chatID)
	u.Wallet = &addr
}

func (s *Store) ClearLargeTx(chatID int64) {
	s.SetLargeTxMin(chatID, nil)
}

func (s *Store) ClearWallet(chatID int64) {
	s.mu.Lock()
	defer s.mu.Unlock()

	u := s.data[chatID]
	if u == nil {
		return
	}
	u.Wallet = nil
	s.cleanupIfEmpty(chatID, u)
}

func (s *Store) ClearAll(chatID int64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.data, chatID)
}

// GetCopy returns a detached copy of the chat's subscriptions.
func (s *Store) GetCopy(chatID int64) (ChatSubs, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	u := s.data[chatID]
	if u == nil {
		return ChatSubs{}, false
	}

	var out ChatSubs
	if u.LargeTxMinWei != nil {
		out.LargeTxMinWei = new(big.Int).Set(u.LargeTxMinWei)
	}
	if u.Wallet != nil {
		a := *u.Wallet
		out.Wallet = &a
	}
	return out, true
}

// Match returns, in ascending order, the chats interested in a transfer between
// from and to. Addresses compare case-insensitively so checksummed and lower-case
// hex both match.
func (s *Store) Match(from, to string, valueWei *big.Int) []int64 {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []int64
	for chatID, u := range s.data {
		if u == nil {
			continue
		}

		if u.LargeTxMinWei != nil && valueWei != nil && valueWei.Sign() > 0 &&
			valueWei.Cmp(u.LargeTxMinWei) >= 0 {
			out = append(out, chatID)
			continue
		}

		if u.Wallet != nil {
			w := u.Wallet.Hex()
			if strings.EqualFold(from, w) || strings.EqualFold(to, w) {
				out = append(out, chatID)
			}
		}
	}
	slices.Sort(out)
	return out
}

func (s *Store) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.data)
}

func (s *Store) getOrCreate(chatID int64) *ChatSubs {
	u := s.data[chatID]
	if u == nil {
		u = &ChatSubs{}
		s.data[chatID] = u
	}
	return u
}

func (s *Store) cleanupIfEmpty(chatID int64, u *ChatSubs) {
	if u == nil {
		return
	}
	if u.LargeTxMinWei == nil && u.Wallet == nil {
		delete(s.data, chatID)
	}
}
