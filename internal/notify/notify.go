// Package notify реализует внутрипроцессную рассылку уведомлений и сигналов
// инвалидации для слоя отображения. Рассылка рекомендательная: медленные
// подписчики теряют сообщения, порядок и доставка не гарантируются, и
// полагаться на неё для корректности нельзя.
package notify

import (
	"sync"

	"github.com/mmeshcher/khatapos-system/internal/model"
)

const subscriberBuffer = 16

// Broadcaster рассылает события и сигналы «данные устарели, перечитайте»
// всем подписчикам.
type Broadcaster struct {
	mu        sync.Mutex
	eventSubs []chan model.Event
	staleSubs []chan string
}

// NewBroadcaster создаёт рассыльщик без подписчиков.
func NewBroadcaster() *Broadcaster {
	return &Broadcaster{}
}

// Subscribe возвращает канал событий нового подписчика.
func (b *Broadcaster) Subscribe() <-chan model.Event {
	ch := make(chan model.Event, subscriberBuffer)

	b.mu.Lock()
	b.eventSubs = append(b.eventSubs, ch)
	b.mu.Unlock()

	return ch
}

// SubscribeInvalidations возвращает канал сигналов инвалидации нового подписчика.
func (b *Broadcaster) SubscribeInvalidations() <-chan string {
	ch := make(chan string, subscriberBuffer)

	b.mu.Lock()
	b.staleSubs = append(b.staleSubs, ch)
	b.mu.Unlock()

	return ch
}

// Publish рассылает событие всем подписчикам. Переполненные каналы пропускаются.
func (b *Broadcaster) Publish(eventType model.EventType, message string) {
	e := model.Event{Type: eventType, Message: message}

	b.mu.Lock()
	defer b.mu.Unlock()

	for _, ch := range b.eventSubs {
		select {
		case ch <- e:
		default:
		}
	}
}

// Invalidate рассылает сигнал «данные области scope устарели» всем подписчикам.
func (b *Broadcaster) Invalidate(scope string) {
	b.mu.Lock()
	defer b.mu.Unlock()

	for _, ch := range b.staleSubs {
		select {
		case ch <- scope:
		default:
		}
	}
}
