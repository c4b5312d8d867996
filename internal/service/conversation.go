package service

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"

	"apoyo-citas/internal/domain"
	"apoyo-citas/internal/realtime"
)

var (
	ErrConversationClosed = errors.New("conversation closed")
	ErrSnapshotTimeout    = errors.New("transcript snapshot timed out")
)

const deliveryTimeout = 10 * time.Second

type responseCycle struct {
	task          ScheduledTask
	placeholderID string
}

// Conversation es el orquestador de una sesión de chat: envía, clasifica,
// espera y responde. Guarda el estado observable de la interfaz.
type Conversation struct {
	svc       *DialogueService
	sessionID string
	userID    string
	context   *SessionContextStore

	mu       sync.Mutex
	state    domain.ConversationState
	tasks    map[uint64]*responseCycle
	nextTask uint64
	closed   bool
	inflight sync.WaitGroup

	watchers    map[uint64]chan domain.ConversationState
	nextWatcher uint64

	// streams cuenta los websockets conectados; lastActive alimenta el barrido por inactividad.
	streams    int
	lastActive time.Time
}

func (c *Conversation) SessionID() string { return c.sessionID }

func (c *Conversation) UserID() string { return c.userID }

// Send agrega el mensaje del usuario, muestra el indicador de escritura y
// programa una única respuesta diferida. Un texto en blanco no hace nada.
func (c *Conversation) Send(ctx context.Context, text string) error {
	text = strings.TrimSpace(text)
	if text == "" {
		return nil
	}

	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return ErrConversationClosed
	}
	c.inflight.Add(1)
	c.lastActive = c.svc.now()
	c.mu.Unlock()
	defer c.inflight.Done()

	transcript := c.svc.transcript
	if _, err := transcript.Append(ctx, domain.Message{
		Text:      text,
		Sender:    domain.SenderUser,
		SessionID: c.sessionID,
	}); err != nil {
		return fmt.Errorf("append user message: %w", err)
	}

	c.update(func(st *domain.ConversationState) {
		st.QuickRepliesVisible = false
	})

	placeholderID, err := transcript.Append(ctx, domain.Message{
		Text:      typingPlaceholderText,
		Sender:    domain.SenderBot,
		SessionID: c.sessionID,
		IsTyping:  true,
	})
	if err != nil {
		c.svc.logger.Warn("typing placeholder append failed", zap.String("session_id", c.sessionID), zap.Error(err))
		placeholderID = ""
	}

	tmpl, category := c.svc.respond(text)
	c.context.Save(ctx, domain.SessionContext{
		LastMessage: text,
		LastEmotion: category,
		UpdatedAt:   c.svc.now().UTC(),
	})

	delay := c.svc.opts.ResponseDelay(tmpl.Text, c.svc.jitter())

	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		if placeholderID != "" {
			if err := transcript.Remove(context.Background(), placeholderID); err != nil && !errors.Is(err, ErrMessageNotFound) {
				c.svc.logger.Warn("typing placeholder cleanup failed", zap.String("session_id", c.sessionID), zap.Error(err))
			}
		}
		return ErrConversationClosed
	}

	id := c.nextTask
	c.nextTask++
	cycle := &responseCycle{placeholderID: placeholderID}
	c.tasks[id] = cycle
	c.state.Pending++
	c.state.Typing = true
	c.inflight.Add(1)
	cycle.task = c.svc.scheduler.AfterFunc(delay, func() {
		c.deliver(id, text, tmpl)
	})
	c.broadcastLocked()
	return nil
}

// SelectOption equivale a escribir el texto de la respuesta rápida.
func (c *Conversation) SelectOption(ctx context.Context, option string) error {
	return c.Send(ctx, option)
}

func (c *Conversation) deliver(id uint64, userText string, tmpl domain.ResponseTemplate) {
	defer c.inflight.Done()

	c.mu.Lock()
	cycle, ok := c.tasks[id]
	if !ok {
		c.mu.Unlock()
		return
	}
	delete(c.tasks, id)
	c.mu.Unlock()

	ctx, cancel := context.WithTimeout(context.Background(), deliveryTimeout)
	defer cancel()

	transcript := c.svc.transcript
	if cycle.placeholderID != "" {
		if err := transcript.Remove(ctx, cycle.placeholderID); err != nil && !errors.Is(err, ErrMessageNotFound) {
			c.svc.logger.Warn("typing placeholder remove failed",
				zap.String("session_id", c.sessionID),
				zap.String("message_id", cycle.placeholderID),
				zap.Error(err),
			)
		}
	}

	reply := domain.Message{
		Text:      tmpl.Text,
		Sender:    domain.SenderBot,
		SessionID: c.sessionID,
		Meta: &domain.MessageMeta{
			Options:   tmpl.Options,
			Emergency: tmpl.Emergency,
		},
	}
	replyID, err := c.appendWithRetry(ctx, reply)

	c.update(func(st *domain.ConversationState) {
		if st.Pending > 0 {
			st.Pending--
		}
		st.Typing = st.Pending > 0
		if err != nil {
			st.LastError = "No pude enviar la respuesta. Intenta de nuevo."
			return
		}
		st.LastError = ""
		st.QuickRepliesVisible = len(tmpl.Options) > 0
	})
	if err != nil {
		c.svc.logger.Error("bot response append failed", zap.String("session_id", c.sessionID), zap.Error(err))
		return
	}

	if tmpl.Emergency {
		event := domain.CrisisEscalation{
			SessionID:  c.sessionID,
			UserID:     c.userID,
			MessageID:  replyID,
			Text:       userText,
			OccurredAt: c.svc.now().UTC(),
		}
		if err := c.svc.escalations.PublishCrisis(ctx, event); err != nil {
			c.svc.logger.Warn("crisis escalation failed", zap.String("session_id", c.sessionID), zap.Error(err))
		}
	}
}

func (c *Conversation) appendWithRetry(ctx context.Context, msg domain.Message) (string, error) {
	var lastErr error
	for attempt := 0; attempt < c.svc.opts.DeliveryAttempts; attempt++ {
		if attempt > 0 {
			select {
			case <-ctx.Done():
				return "", ctx.Err()
			case <-time.After(time.Duration(attempt) * 100 * time.Millisecond):
			}
		}
		id, err := c.svc.transcript.Append(ctx, msg)
		if err == nil {
			return id, nil
		}
		if errors.Is(err, ErrMessageInvalidInput) {
			return "", err
		}
		lastErr = err
	}
	return "", lastErr
}

// SetDarkMode cambia el tema y lo guarda en las preferencias del usuario.
func (c *Conversation) SetDarkMode(ctx context.Context, enabled bool) error {
	c.update(func(st *domain.ConversationState) {
		st.DarkMode = enabled
	})
	if c.svc.prefs == nil || c.userID == "" {
		return nil
	}
	return c.svc.prefs.Set(ctx, c.userID, domain.Preferences{DarkMode: enabled})
}

func (c *Conversation) SetMinimized(minimized bool) {
	c.update(func(st *domain.ConversationState) {
		st.Minimized = minimized
	})
}

func (c *Conversation) State() domain.ConversationState {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// WatchState entrega el estado actual y cada cambio posterior. Si el lector
// se atrasa sólo recibe el último estado. El canal se cierra con cancel o Close.
func (c *Conversation) WatchState() (<-chan domain.ConversationState, func()) {
	ch := make(chan domain.ConversationState, 1)

	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		ch <- c.State()
		close(ch)
		return ch, func() {}
	}
	id := c.nextWatcher
	c.nextWatcher++
	c.watchers[id] = ch
	ch <- c.state
	c.mu.Unlock()

	cancel := func() {
		c.mu.Lock()
		defer c.mu.Unlock()
		if w, ok := c.watchers[id]; ok {
			delete(c.watchers, id)
			close(w)
		}
	}
	return ch, cancel
}

// Close detiene las respuestas pendientes, espera las que ya se están
// entregando y, si corresponde, purga el transcript y el contexto.
func (c *Conversation) Close(ctx context.Context) error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil
	}
	c.closed = true

	var stale []string
	for id, cycle := range c.tasks {
		if cycle.task == nil || !cycle.task.Stop() {
			continue
		}
		delete(c.tasks, id)
		c.inflight.Done()
		if c.state.Pending > 0 {
			c.state.Pending--
		}
		if cycle.placeholderID != "" {
			stale = append(stale, cycle.placeholderID)
		}
	}
	c.mu.Unlock()

	c.inflight.Wait()

	var err error
	if c.svc.opts.PurgeOnEnd {
		err = c.svc.transcript.PurgeSession(ctx, c.sessionID)
		c.context.Clear(ctx)
	} else {
		for _, id := range stale {
			if rmErr := c.svc.transcript.Remove(ctx, id); rmErr != nil && !errors.Is(rmErr, ErrMessageNotFound) {
				c.svc.logger.Warn("typing placeholder cleanup failed", zap.String("session_id", c.sessionID), zap.Error(rmErr))
			}
		}
	}
	c.svc.transcript.Forget(c.sessionID)

	c.mu.Lock()
	c.state.Typing = false
	c.state.Pending = 0
	c.broadcastLocked()
	for id, w := range c.watchers {
		delete(c.watchers, id)
		close(w)
	}
	c.mu.Unlock()

	if err != nil {
		return fmt.Errorf("purge session: %w", err)
	}
	return nil
}

// Messages abre una suscripción al transcript de la sesión. Una sesión
// cerrada no se vuelve a sembrar con el saludo.
func (c *Conversation) Messages(ctx context.Context) (*realtime.Subscription[domain.Message], error) {
	c.mu.Lock()
	closed := c.closed
	c.mu.Unlock()
	if closed {
		return nil, ErrConversationClosed
	}
	return c.svc.transcript.Watch(ctx, domain.MessageFilter{SessionID: c.sessionID})
}

// Snapshot devuelve el primer snapshot de una suscripción de un solo uso, de
// modo que una lectura HTTP siembra el saludo igual que un cliente en vivo.
func (c *Conversation) Snapshot(ctx context.Context, timeout time.Duration) ([]domain.Message, error) {
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()
	sub, err := c.Messages(ctx)
	if err != nil {
		return nil, err
	}
	defer sub.Cancel()
	select {
	case msgs, ok := <-sub.C:
		if !ok {
			return nil, ErrSnapshotTimeout
		}
		return msgs, nil
	case <-ctx.Done():
		return nil, ErrSnapshotTimeout
	}
}

func (c *Conversation) touch() {
	c.mu.Lock()
	c.lastActive = c.svc.now()
	c.mu.Unlock()
}

func (c *Conversation) attach() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.streams++
	c.lastActive = c.svc.now()
}

// detach devuelve cuántos streams siguen conectados.
func (c *Conversation) detach() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.streams > 0 {
		c.streams--
	}
	c.lastActive = c.svc.now()
	return c.streams
}

// idleSince indica si no hay streams, respuestas pendientes ni actividad posterior a cutoff.
func (c *Conversation) idleSince(cutoff time.Time) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.streams == 0 && len(c.tasks) == 0 && !c.lastActive.After(cutoff)
}

func (c *Conversation) update(fn func(st *domain.ConversationState)) {
	c.mu.Lock()
	defer c.mu.Unlock()
	fn(&c.state)
	c.broadcastLocked()
}

func (c *Conversation) broadcastLocked() {
	for _, w := range c.watchers {
		realtime.Offer(w, c.state)
	}
}
