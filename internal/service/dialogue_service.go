package service

import (
	"context"
	"math/rand"
	"time"
	"unicode/utf16"

	"go.uber.org/zap"

	"apoyo-citas/internal/domain"
	"apoyo-citas/internal/escalation"
)

const typingPlaceholderText = "Escribiendo..."

// DialogueOptions unifica las variantes del chatbot (con y sin purga al salir).
type DialogueOptions struct {
	PurgeOnEnd       bool
	ContextTTL       time.Duration
	BaseDelay        time.Duration
	MaxLengthDelay   time.Duration
	PerCharDelay     time.Duration
	MaxJitter        time.Duration
	DeliveryAttempts int
}

func DefaultDialogueOptions() DialogueOptions {
	return DialogueOptions{
		PurgeOnEnd:       true,
		ContextTTL:       24 * time.Hour,
		BaseDelay:        800 * time.Millisecond,
		MaxLengthDelay:   1200 * time.Millisecond,
		PerCharDelay:     8 * time.Millisecond,
		MaxJitter:        400 * time.Millisecond,
		DeliveryAttempts: 3,
	}
}

// ResponseDelay simula el tiempo de escritura: base + min(tope, por carácter) + jitter.
// La longitud se mide en unidades UTF-16, igual que el cliente web; un emoji cuenta dos.
func (o DialogueOptions) ResponseDelay(response string, jitter time.Duration) time.Duration {
	lengthDelay := time.Duration(utf16Len(response)) * o.PerCharDelay
	if lengthDelay > o.MaxLengthDelay {
		lengthDelay = o.MaxLengthDelay
	}
	if jitter < 0 {
		jitter = 0
	}
	return o.BaseDelay + lengthDelay + jitter
}

func utf16Len(s string) int {
	n := 0
	for _, r := range s {
		n += utf16.RuneLen(r)
	}
	return n
}

// ScheduledTask es una respuesta diferida que aún puede cancelarse.
type ScheduledTask interface {
	Stop() bool
}

// Scheduler difiere callbacks; en producción es time.AfterFunc.
type Scheduler interface {
	AfterFunc(d time.Duration, f func()) ScheduledTask
}

type timeScheduler struct{}

func (timeScheduler) AfterFunc(d time.Duration, f func()) ScheduledTask {
	return time.AfterFunc(d, f)
}

// DialogueService crea conversaciones que comparten transcript, contexto,
// preferencias y publicador de escalamientos.
type DialogueService struct {
	logger      *zap.Logger
	transcript  *TranscriptService
	kv          KVStore
	prefs       *PreferencesService
	escalations escalation.Publisher
	catalog     ResponseCatalog
	opts        DialogueOptions

	classify  func(text string) domain.EmotionCategory
	scheduler Scheduler
	jitter    func() time.Duration
	now       func() time.Time
}

func NewDialogueService(logger *zap.Logger, transcript *TranscriptService, kv KVStore, prefs *PreferencesService, escalations escalation.Publisher, opts DialogueOptions) *DialogueService {
	if logger == nil {
		logger = zap.NewNop()
	}
	if escalations == nil {
		escalations = escalation.NoopPublisher{Logger: logger}
	}
	if opts.DeliveryAttempts <= 0 {
		opts.DeliveryAttempts = 1
	}
	s := &DialogueService{
		logger:      logger,
		transcript:  transcript,
		kv:          kv,
		prefs:       prefs,
		escalations: escalations,
		catalog:     DefaultResponseCatalog,
		opts:        opts,
		classify:    DefaultEmotionClassifier.Classify,
		scheduler:   timeScheduler{},
		now:         time.Now,
	}
	s.jitter = func() time.Duration {
		if s.opts.MaxJitter <= 0 {
			return 0
		}
		return time.Duration(rand.Int63n(int64(s.opts.MaxJitter)))
	}
	return s
}

// Open crea la conversación de una sesión. El modo oscuro se toma de las
// preferencias del usuario.
func (s *DialogueService) Open(ctx context.Context, sessionID, userID string) *Conversation {
	conv := &Conversation{
		svc:        s,
		sessionID:  sessionID,
		userID:     userID,
		context:    NewSessionContextStore(s.kv, sessionID, s.opts.ContextTTL, s.logger),
		tasks:      make(map[uint64]*responseCycle),
		watchers:   make(map[uint64]chan domain.ConversationState),
		lastActive: s.now(),
	}
	conv.state.SessionID = sessionID
	conv.state.QuickRepliesVisible = true
	if s.prefs != nil && userID != "" {
		conv.state.DarkMode = s.prefs.Get(ctx, userID).DarkMode
	}
	return conv
}

// respond clasifica el texto y elige la plantilla. Un pánico en el
// clasificador o el catálogo produce la plantilla de disculpa.
func (s *DialogueService) respond(text string) (tmpl domain.ResponseTemplate, category domain.EmotionCategory) {
	defer func() {
		if r := recover(); r != nil {
			s.logger.Error("classification failed", zap.Any("panic", r))
			tmpl = s.catalog.Fallback()
			category = domain.EmotionOther
		}
	}()

	category = s.classify(text)
	tmpl = s.catalog.TemplateFor(category)
	if category == domain.EmotionOther {
		if intentTmpl, ok := s.catalog.TemplateForIntent(DefaultEmotionClassifier.DetectIntent(text)); ok {
			tmpl = intentTmpl
		}
	}
	return tmpl, category
}
