package download

// EventType names a download lifecycle transition.
type EventType string

const (
	EventStarted   EventType = "download_started"
	EventSucceeded EventType = "download_succeeded"
	EventFailed    EventType = "download_failed"
)

// Event describes a lifecycle transition of the download identified by Key.
// Err is set only for EventFailed.
type Event struct {
	Type   EventType
	Key    Key
	Record *Record
	Err    error
}

// Listener receives events synchronously on the goroutine that produced
// them. It must not block for long.
type Listener func(Event)

// Subscribe registers l for all future events and returns a function that
// removes it.
func (m *Manager) Subscribe(l Listener) (unsubscribe func()) {
	m.listenersMu.Lock()
	defer m.listenersMu.Unlock()

	id := m.nextListenerID
	m.nextListenerID++
	m.listeners[id] = l

	return func() {
		m.listenersMu.Lock()
		defer m.listenersMu.Unlock()

		delete(m.listeners, id)
	}
}

func (m *Manager) emit(e Event) {
	m.listenersMu.RLock()
	listeners := make([]Listener, 0, len(m.listeners))

	for _, l := range m.listeners {
		listeners = append(listeners, l)
	}
	m.listenersMu.RUnlock()

	for _, l := range listeners {
		l(e)
	}
}
