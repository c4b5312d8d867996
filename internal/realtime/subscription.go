package realtime

import (
	"context"
	"sync"
	"sync/atomic"
)

// SubscriptionState etiqueta el ciclo de vida de una suscripción.
type SubscriptionState int32

const (
	Active SubscriptionState = iota
	Cancelled
)

func (s SubscriptionState) String() string {
	if s == Cancelled {
		return "cancelled"
	}
	return "active"
}

// LoadFunc carga el snapshot completo y ordenado de la colección observada.
type LoadFunc[T any] func(ctx context.Context) ([]T, error)

// Subscription entrega snapshots completos por C. Si el consumidor no lee a
// tiempo, el snapshot pendiente se reemplaza por el más reciente.
type Subscription[T any] struct {
	C <-chan []T

	cancel context.CancelFunc
	done   chan struct{}
	state  atomic.Int32
	once   sync.Once
}

// Cancel detiene la suscripción y espera a que su goroutine termine.
func (s *Subscription[T]) Cancel() {
	s.once.Do(func() {
		s.state.Store(int32(Cancelled))
		s.cancel()
	})
	<-s.done
}

func (s *Subscription[T]) State() SubscriptionState {
	return SubscriptionState(s.state.Load())
}

// Done se cierra cuando la suscripción deja de emitir.
func (s *Subscription[T]) Done() <-chan struct{} {
	return s.done
}

// Watch emite un snapshot inicial y otro cada vez que el feed señala topic.
// Los errores de carga se informan a onError y la suscripción sigue viva.
func Watch[T any](ctx context.Context, feed *Feed, topic string, load LoadFunc[T], onError func(error)) *Subscription[T] {
	ctx, cancel := context.WithCancel(ctx)
	out := make(chan []T, 1)
	sub := &Subscription[T]{
		C:      out,
		cancel: cancel,
		done:   make(chan struct{}),
	}

	// Se escucha antes de la primera carga para no perder cambios intermedios.
	signal, stop := feed.Listen(topic)

	go func() {
		defer close(sub.done)
		defer close(out)
		defer stop()
		defer sub.state.Store(int32(Cancelled))

		emit := func() {
			items, err := load(ctx)
			if err != nil {
				if ctx.Err() == nil && onError != nil {
					onError(err)
				}
				return
			}
			Offer(out, items)
		}

		emit()
		for {
			select {
			case <-ctx.Done():
				return
			case <-signal:
				emit()
			}
		}
	}()

	return sub
}

// Offer publica v en un canal con buffer 1 descartando el valor pendiente.
// Sólo debe usarse con un único productor por canal.
func Offer[T any](ch chan T, v T) {
	for {
		select {
		case ch <- v:
			return
		default:
		}
		select {
		case <-ch:
		default:
		}
	}
}
