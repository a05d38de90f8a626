package mailer

import "sync"

// keyedMutex сериализует операции по строковому ключу. Мьютексы не удаляются:
// их количество ограничено числом пар (подписчик, периодичность).
type keyedMutex struct {
	locks sync.Map
}

// Lock захватывает мьютекс ключа и возвращает функцию освобождения.
func (k *keyedMutex) Lock(key string) func() {
	v, _ := k.locks.LoadOrStore(key, &sync.Mutex{})
	mu := v.(*sync.Mutex)
	mu.Lock()
	return mu.Unlock
}
