package twitchlinkr

import "sync"

// NotificationHandler receives decoded notifications.
type NotificationHandler func(msg *NotificationMessage)

// eventDispatcher fans events out to registered handlers. Handlers are
// snapshotted under the read lock and called without it, in registration order.
type eventDispatcher struct {
	mu             sync.RWMutex
	bySubscription map[string][]NotificationHandler
	onNotification []NotificationHandler
	onWelcome      []func(Session)
	onStateChange  []func(ConnectionState)
	onReconnecting []func(attempt int, url string)
	onRevocation   []func(*ServiceMessage)
	onSubRevoked   []func(Subscription)
	onFatal        []func(error)
}

func newEventDispatcher() *eventDispatcher {
	return &eventDispatcher{
		bySubscription: make(map[string][]NotificationHandler),
	}
}

func (d *eventDispatcher) addNotification(h NotificationHandler) {
	d.mu.Lock()
	d.onNotification = append(d.onNotification, h)
	d.mu.Unlock()
}

func (d *eventDispatcher) addSubscription(subscriptionType string, h NotificationHandler) {
	d.mu.Lock()
	d.bySubscription[subscriptionType] = append(d.bySubscription[subscriptionType], h)
	d.mu.Unlock()
}

func (d *eventDispatcher) dispatchNotification(msg *NotificationMessage) {
	d.mu.RLock()
	handlers := append([]NotificationHandler{}, d.onNotification...)
	handlers = append(handlers, d.bySubscription[msg.Metadata.SubscriptionType]...)
	d.mu.RUnlock()

	for _, h := range handlers {
		h(msg)
	}
}

func (d *eventDispatcher) emitWelcome(s Session) {
	d.mu.RLock()
	handlers := append([]func(Session){}, d.onWelcome...)
	d.mu.RUnlock()
	for _, h := range handlers {
		h(s)
	}
}

func (d *eventDispatcher) emitStateChange(state ConnectionState) {
	d.mu.RLock()
	handlers := append([]func(ConnectionState){}, d.onStateChange...)
	d.mu.RUnlock()
	for _, h := range handlers {
		h(state)
	}
}

func (d *eventDispatcher) emitReconnecting(attempt int, url string) {
	d.mu.RLock()
	handlers := append([]func(int, string){}, d.onReconnecting...)
	d.mu.RUnlock()
	for _, h := range handlers {
		h(attempt, url)
	}
}

func (d *eventDispatcher) emitRevocation(msg *ServiceMessage) {
	d.mu.RLock()
	handlers := append([]func(*ServiceMessage){}, d.onRevocation...)
	d.mu.RUnlock()
	for _, h := range handlers {
		h(msg)
	}
}

func (d *eventDispatcher) emitSubscriptionRevoked(sub Subscription) {
	d.mu.RLock()
	handlers := append([]func(Subscription){}, d.onSubRevoked...)
	d.mu.RUnlock()
	for _, h := range handlers {
		h(sub)
	}
}

func (d *eventDispatcher) emitFatal(err error) {
	d.mu.RLock()
	handlers := append([]func(error){}, d.onFatal...)
	d.mu.RUnlock()
	for _, h := range handlers {
		h(err)
	}
}
