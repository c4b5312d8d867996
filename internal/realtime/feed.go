package realtime

import "sync"

// Feed notifica cambios por tópico. Las señales se coalescen: un suscriptor
// lento recibe una sola señal pendiente, nunca una cola de deltas.
type Feed struct {
	mu   sync.Mutex
	subs map[string]map[chan struct{}]struct{}
}

func NewFeed() *Feed {
	return &Feed{subs: make(map[string]map[chan struct{}]struct{})}
}

// Listen registra un oyente para topic. La función devuelta lo da de baja.
func (f *Feed) Listen(topic string) (<-chan struct{}, func()) {
	ch := make(chan struct{}, 1)

	f.mu.Lock()
	if f.subs[topic] == nil {
		f.subs[topic] = make(map[chan struct{}]struct{})
	}
	f.subs[topic][ch] = struct{}{}
	f.mu.Unlock()

	var once sync.Once
	return ch, func() {
		once.Do(func() {
			f.mu.Lock()
			defer f.mu.Unlock()
			if listeners, ok := f.subs[topic]; ok {
				delete(listeners, ch)
				if len(listeners) == 0 {
					delete(f.subs, topic)
				}
			}
		})
	}
}

// Publish señala a todos los oyentes de los tópicos dados sin bloquear.
func (f *Feed) Publish(topics ...string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, topic := range topics {
		for ch := range f.subs[topic] {
			select {
			case ch <- struct{}{}:
			default:
			}
		}
	}
}

// Listeners devuelve cuántos oyentes tiene un tópico.
func (f *Feed) Listeners(topic string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.subs[topic])
}
