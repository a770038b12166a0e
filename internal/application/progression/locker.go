package progression

import (
	"context"
	"sync"
	"time"

	"github.com/lifeloop/progression/internal/domain/shared"
)

// UserLocker сериализует изменения состояния одного пользователя.
// Разные пользователи друг друга не блокируют.
type UserLocker interface {
	// Lock ждёт блокировку пользователя. Возвращённую функцию нужно
	// вызвать ровно один раз.
	Lock(ctx context.Context, userID string) (unlock func(), err error)
}

// KeyedMutex - UserLocker внутри одного процесса.
type KeyedMutex struct {
	mu    sync.Mutex
	locks map[string]*keyedLock
}

type keyedLock struct {
	sem  chan struct{}
	refs int
}

// NewKeyedMutex создаёт пустой набор блокировок.
func NewKeyedMutex() *KeyedMutex {
	return &KeyedMutex{locks: make(map[string]*keyedLock)}
}

// Lock захватывает блокировку key или возвращает ErrLockNotAcquired,
// если контекст завершился раньше.
func (m *KeyedMutex) Lock(ctx context.Context, key string) (func(), error) {
	m.mu.Lock()
	l, ok := m.locks[key]
	if !ok {
		l = &keyedLock{sem: make(chan struct{}, 1)}
		m.locks[key] = l
	}
	l.refs++
	m.mu.Unlock()

	select {
	case l.sem <- struct{}{}:
	case <-ctx.Done():
		m.release(key, l)
		return nil, shared.WrapError("progression", "Lock", shared.ErrLockNotAcquired, "user lock not acquired", ctx.Err())
	}

	var once sync.Once
	return func() {
		once.Do(func() {
			<-l.sem
			m.release(key, l)
		})
	}, nil
}

func (m *KeyedMutex) release(key string, l *keyedLock) {
	m.mu.Lock()
	defer m.mu.Unlock()
	l.refs--
	if l.refs == 0 {
		delete(m.locks, key)
	}
}

// Len возвращает число ключей, за которые сейчас кто-то держится или ждёт.
func (m *KeyedMutex) Len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.locks)
}

// WaitLimit ограничивает ожидание блокировки, даже если у контекста
// вызывающего нет дедлайна.
type WaitLimit struct {
	Locker UserLocker
	Wait   time.Duration
}

// Lock захватывает блокировку не дольше Wait.
func (w WaitLimit) Lock(ctx context.Context, key string) (func(), error) {
	if w.Wait <= 0 {
		return w.Locker.Lock(ctx, key)
	}
	ctx, cancel := context.WithTimeout(ctx, w.Wait)
	defer cancel()
	return w.Locker.Lock(ctx, key)
}
