package service

import "sync"

// lockTable - рекомендательные блокировки по ключу ("trade:<id>", "msg:<id>").
// Гарантируют не больше одного прогона автоматизации на сделку/сообщение за раз.
// Держатся только на время операции и восстанавливаются пустыми после рестарта.
type lockTable struct {
	mu   sync.Mutex
	held map[string]struct{}
}

func newLockTable() *lockTable {
	return &lockTable{held: make(map[string]struct{})}
}

// TryAcquire возвращает false, если ключ уже занят. Не блокирует:
// конкурирующий цикл просто пропускает элемент и вернётся к нему позже.
func (l *lockTable) TryAcquire(key string) bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	if _, busy := l.held[key]; busy {
		return false
	}
	l.held[key] = struct{}{}
	return true
}

func (l *lockTable) Release(key string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	delete(l.held, key)
}
