package session

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
)

// State — состояние платежной сессии (QR-челленджа).
type State string

const (
	StateArmed     State = "armed"
	StateSettled   State = "settled"
	StateExpired   State = "expired"
	StateCancelled State = "cancelled"
)

// Ярусы срочности таймера — чисто для отображения, не отдельные состояния.
const (
	TierCalm    = "calm"    // > 240s
	TierWarning = "warning" // 61..240s
	TierUrgent  = "urgent"  // <= 60s
)

// Event — событие сессии, уходит подписчикам (SSE).
type Event struct {
	Status      string `json:"status"` // pending | approved | expired | cancelled
	SecondsLeft int64  `json:"seconds_left,omitempty"`
	Tier        string `json:"tier,omitempty"`
}

// Canceller — часть шлюза, нужная сессии: отмена платежа по истечении.
type Canceller interface {
	CancelCharge(ctx context.Context, chargeRef string) error
}

// Session — вооруженный QR-челлендж, привязанный 1:1 к заказу.
// После settled/expired/cancelled сессия не возрождается: повторная оплата
// идет через новое вооружение с новым платежом.
type Session struct {
	OrderID       uuid.UUID
	ChargeRef     string
	QRPayload     string
	QRImageBase64 string
	RedirectLink  string
	CreatedAt     time.Time
	Deadline      time.Time

	state     State
	subs      map[chan Event]struct{}
	stopTimer context.CancelFunc
}

// Registry — единственный владелец активных сессий. Таймер и слушатель
// подтверждений работают независимо и встречаются только на атомарном
// переходе статуса заказа, который делает вызывающий код.
type Registry struct {
	log     *slog.Logger
	gateway Canceller
	ttl     time.Duration
	tick    time.Duration

	mu      sync.Mutex
	byRef   map[string]*Session
	byOrder map[uuid.UUID]string
}

func NewRegistry(log *slog.Logger, gw Canceller, ttl, tick time.Duration) *Registry {
	if tick <= 0 {
		tick = time.Second
	}
	return &Registry{
		log:     log,
		gateway: gw,
		ttl:     ttl,
		tick:    tick,
		byRef:   make(map[string]*Session),
		byOrder: make(map[uuid.UUID]string),
	}
}

// Arm вооружает сессию для заказа. Если для заказа уже есть активная сессия,
// возвращается она же — повторный клик не создает второй живой платеж.
// Второе возвращаемое значение — была ли создана новая сессия.
func (r *Registry) Arm(orderID uuid.UUID, chargeRef, qrPayload, qrImageBase64, redirectLink string) (*Session, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if ref, ok := r.byOrder[orderID]; ok {
		if s, ok := r.byRef[ref]; ok && s.state == StateArmed {
			return s, false
		}
	}

	now := time.Now()
	ctx, cancel := context.WithCancel(context.Background())
	s := &Session{
		OrderID:       orderID,
		ChargeRef:     chargeRef,
		QRPayload:     qrPayload,
		QRImageBase64: qrImageBase64,
		RedirectLink:  redirectLink,
		CreatedAt:     now,
		Deadline:      now.Add(r.ttl),
		state:         StateArmed,
		subs:          make(map[chan Event]struct{}),
		stopTimer:     cancel,
	}
	r.byRef[chargeRef] = s
	r.byOrder[orderID] = chargeRef

	go r.countdown(ctx, chargeRef)

	r.log.Info("challenge session armed",
		slog.String("orderID", orderID.String()),
		slog.String("chargeRef", chargeRef),
		slog.Time("deadline", s.Deadline),
	)
	return s, true
}

// countdown — кооперативный отсчет, один тик в секунду.
// Останавливается через stopTimer при settle/cancel/shutdown.
func (r *Registry) countdown(ctx context.Context, chargeRef string) {
	ticker := time.NewTicker(r.tick)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if expired := r.tickSession(chargeRef); expired {
				return
			}
		}
	}
}

// tickSession рассылает оставшееся время; по достижении дедлайна переводит
// сессию в expired. Возвращает true, когда отсчет завершен.
func (r *Registry) tickSession(chargeRef string) bool {
	r.mu.Lock()
	s, ok := r.byRef[chargeRef]
	if !ok || s.state != StateArmed {
		r.mu.Unlock()
		return true
	}

	left := time.Until(s.Deadline)
	if left > 0 {
		secs := int64(left / time.Second)
		broadcast(s, Event{Status: "pending", SecondsLeft: secs, Tier: tierFor(secs)})
		r.mu.Unlock()
		return false
	}

	// Дедлайн: мягкое истечение — заказ остается pending,
	// поздняя оплата все еще будет принята слушателем.
	s.state = StateExpired
	broadcast(s, Event{Status: "expired"})
	r.remove(s)
	r.mu.Unlock()

	r.log.Info("challenge session expired",
		slog.String("orderID", s.OrderID.String()),
		slog.String("chargeRef", chargeRef),
	)
	r.cancelUpstream(chargeRef)
	return true
}

// Settle переводит сессию в settled после подтверждения оплаты.
// Отсутствие сессии — не ошибка: оплата могла прийти после локального истечения.
func (r *Registry) Settle(chargeRef string) bool {
	r.mu.Lock()
	s, ok := r.byRef[chargeRef]
	if !ok || s.state != StateArmed {
		r.mu.Unlock()
		return false
	}
	s.state = StateSettled
	s.stopTimer()
	broadcast(s, Event{Status: "approved"})
	r.remove(s)
	r.mu.Unlock()

	r.log.Info("challenge session settled",
		slog.String("orderID", s.OrderID.String()),
		slog.String("chargeRef", chargeRef),
	)
	return true
}

// Cancel — явная отмена пользователем или администратором до оплаты.
// Заказ остается pending, платеж у процессора отменяется best-effort.
func (r *Registry) Cancel(chargeRef string) bool {
	r.mu.Lock()
	s, ok := r.byRef[chargeRef]
	if !ok || s.state != StateArmed {
		r.mu.Unlock()
		return false
	}
	s.state = StateCancelled
	s.stopTimer()
	broadcast(s, Event{Status: "cancelled"})
	r.remove(s)
	r.mu.Unlock()

	r.log.Info("challenge session cancelled",
		slog.String("orderID", s.OrderID.String()),
		slog.String("chargeRef", chargeRef),
	)
	r.cancelUpstream(chargeRef)
	return true
}

// Get возвращает активную сессию по ссылке на платеж.
func (r *Registry) Get(chargeRef string) (*Session, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	s, ok := r.byRef[chargeRef]
	return s, ok
}

// GetByOrder возвращает активную сессию заказа.
func (r *Registry) GetByOrder(orderID uuid.UUID) (*Session, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	ref, ok := r.byOrder[orderID]
	if !ok {
		return nil, false
	}
	s, ok := r.byRef[ref]
	return s, ok
}

// Subscribe подписывает на события сессии. Возвращенную функцию обязательно
// вызвать при закрытии соединения, иначе канал останется в карте подписчиков.
func (r *Registry) Subscribe(chargeRef string) (<-chan Event, func(), bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	s, ok := r.byRef[chargeRef]
	if !ok || s.state != StateArmed {
		return nil, nil, false
	}

	ch := make(chan Event, 8)
	s.subs[ch] = struct{}{}

	unsubscribe := func() {
		r.mu.Lock()
		defer r.mu.Unlock()
		if _, still := s.subs[ch]; still {
			delete(s.subs, ch)
			close(ch)
		}
	}
	return ch, unsubscribe, true
}

// Shutdown останавливает все таймеры; вызывается при graceful shutdown сервера.
func (r *Registry) Shutdown() {
	r.mu.Lock()
	defer r.mu.Unlock()
	for ref, s := range r.byRef {
		s.stopTimer()
		for ch := range s.subs {
			delete(s.subs, ch)
			close(ch)
		}
		delete(r.byRef, ref)
		delete(r.byOrder, s.OrderID)
	}
}

// remove убирает сессию из реестра и закрывает подписчиков; вызывается под мьютексом.
func (r *Registry) remove(s *Session) {
	for ch := range s.subs {
		delete(s.subs, ch)
		close(ch)
	}
	delete(r.byRef, s.ChargeRef)
	delete(r.byOrder, s.OrderID)
}

// broadcast — неблокирующая рассылка; медленный подписчик теряет тик,
// терминальное состояние он доберет догоняющим запросом статуса.
func broadcast(s *Session, e Event) {
	for ch := range s.subs {
		select {
		case ch <- e:
		default:
		}
	}
}

func (r *Registry) cancelUpstream(chargeRef string) {
	if r.gateway == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := r.gateway.CancelCharge(ctx, chargeRef); err != nil {
		// Отмена — вспомогательная, ошибку глотаем.
		r.log.Warn("best-effort upstream cancel failed",
			slog.String("chargeRef", chargeRef),
			slog.Any("error", err),
		)
	}
}

func tierFor(secondsLeft int64) string {
	switch {
	case secondsLeft <= 60:
		return TierUrgent
	case secondsLeft <= 240:
		return TierWarning
	default:
		return TierCalm
	}
}

// State возвращает текущее состояние сессии. Снимок без блокировки реестра
// использовать нельзя, поэтому метод есть только для уже полученной сессии
// в тестах и обработчиках, читающих ее сразу после Arm/Get.
func (s *Session) State() State {
	return s.state
}

// SecondsLeft — остаток времени до дедлайна, не меньше нуля.
func (s *Session) SecondsLeft() int64 {
	left := time.Until(s.Deadline)
	if left < 0 {
		return 0
	}
	return int64(left / time.Second)
}
