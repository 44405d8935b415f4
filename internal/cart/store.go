package cart

import "sync"

// Store хранит активные корзины по идентификатору кассира. Каждая корзина
// принадлежит ровно одной кассовой сессии; блокировка защищает только карту,
// параллельный доступ к одной корзине системой не предусмотрен.
type Store struct {
	mu    sync.Mutex
	carts map[int64]*Cart
}

// NewStore создаёт пустое хранилище корзин.
func NewStore() *Store {
	return &Store{
		carts: make(map[int64]*Cart),
	}
}

// Get возвращает корзину кассира, создавая её при первом обращении.
func (s *Store) Get(cashierID int64) *Cart {
	s.mu.Lock()
	defer s.mu.Unlock()

	c, ok := s.carts[cashierID]
	if !ok {
		c = New()
		s.carts[cashierID] = c
	}
	return c
}
