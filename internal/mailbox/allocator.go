package mailbox

import "sync"

// Allocator раздаёт сделкам адреса для приёма чеков по кругу.
// Назначение липкое: сделка, уже получившая адрес, сохраняет его.
// Состояние чисто в памяти и восстанавливается из конфига при рестарте.
type Allocator struct {
	mu        sync.Mutex
	addresses []string
	next      int
	assigned  map[uint]string
}

func NewAllocator(addresses []string) *Allocator {
	return &Allocator{
		addresses: addresses,
		assigned:  make(map[uint]string),
	}
}

func (a *Allocator) Allocate(tradeID uint) string {
	a.mu.Lock()
	defer a.mu.Unlock()

	if len(a.addresses) == 0 {
		return ""
	}
	if addr, ok := a.assigned[tradeID]; ok {
		return addr
	}

	addr := a.addresses[a.next%len(a.addresses)]
	a.next++
	a.assigned[tradeID] = addr
	return addr
}

// Remember фиксирует уже сохранённое в БД назначение, чтобы после рестарта
// сделка не получила другой адрес.
func (a *Allocator) Remember(tradeID uint, address string) {
	if address == "" {
		return
	}
	a.mu.Lock()
	defer a.mu.Unlock()
	a.assigned[tradeID] = address
}
