package kiwoom

import (
	"sort"
	"sync"

	"daytrader/internal/types"
)

// subscriptionTable maps stock codes to their tick handlers. It is the
// source of truth for what gets re-registered after a reconnect.
type subscriptionTable struct {
	handlers map[string]types.TickHandler
	mu       sync.RWMutex
}

func newSubscriptionTable() *subscriptionTable {
	return &subscriptionTable{
		handlers: make(map[string]types.TickHandler),
	}
}

func (st *subscriptionTable) add(symbol string, h types.TickHandler) {
	st.mu.Lock()
	defer st.mu.Unlock()

	st.handlers[symbol] = h
}

func (st *subscriptionTable) get(symbol string) (types.TickHandler, bool) {
	st.mu.RLock()
	defer st.mu.RUnlock()

	h, ok := st.handlers[symbol]
	return h, ok
}

func (st *subscriptionTable) remove(symbol string) bool {
	st.mu.Lock()
	defer st.mu.Unlock()

	_, ok := st.handlers[symbol]
	delete(st.handlers, symbol)
	return ok
}

// symbols returns the registered codes in a stable order.
func (st *subscriptionTable) symbols() []string {
	st.mu.RLock()
	defer st.mu.RUnlock()

	out := make([]string, 0, len(st.handlers))
	for s := range st.handlers {
		out = append(out, s)
	}
	sort.Strings(out)
	return out
}

func (st *subscriptionTable) len() int {
	st.mu.RLock()
	defer st.mu.RUnlock()
	return len(st.handlers)
}

func (st *subscriptionTable) clear() []string {
	st.mu.Lock()
	defer st.mu.Unlock()

	out := make([]string, 0, len(st.handlers))
	for s := range st.handlers {
		out = append(out, s)
	}
	sort.Strings(out)
	st.handlers = make(map[string]types.TickHandler)
	return out
}
