package notes

import (
	"sync"
	"time"
)

// ChangeKind classifies a PageChange.
type ChangeKind string

const (
	PageInserted      ChangeKind = "inserted"
	PageUpdated       ChangeKind = "updated"
	PageRemoved       ChangeKind = "removed"
	PropertiesUpdated ChangeKind = "properties-updated"
	VersionCommitted  ChangeKind = "version-committed"
)

// PageChange is published after every mutation. PageID is empty for
// VersionCommitted; ManifestHash is set only for VersionCommitted.
type PageChange struct {
	Kind         ChangeKind
	PageID       string
	Timestamp    time.Time
	ManifestHash string
}

// broker fans changes out to subscribers. A subscriber whose buffer is full
// misses the change; the publisher never blocks.
type broker struct {
	mu     sync.Mutex
	nextID int
	subs   map[int]chan PageChange
}

func newBroker() *broker {
	return &broker{subs: make(map[int]chan PageChange)}
}

func (b *broker) subscribe(buffer int) (<-chan PageChange, func()) {
	if buffer < 0 {
		buffer = 0
	}
	ch := make(chan PageChange, buffer)

	b.mu.Lock()
	id := b.nextID
	b.nextID++
	b.subs[id] = ch
	b.mu.Unlock()

	var once sync.Once
	cancel := func() {
		once.Do(func() {
			b.mu.Lock()
			delete(b.subs, id)
			b.mu.Unlock()
			close(ch)
		})
	}
	return ch, cancel
}

func (b *broker) publish(change PageChange) {
	b.mu.Lock()
	defer b.mu.Unlock()
	for _, ch := range b.subs {
		select {
		case ch <- change:
		default:
		}
	}
}

func (b *broker) count() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.subs)
}

// Subscribe registers for change notifications. The returned cancel
// function unregisters and closes the channel; it is safe to call more than
// once.
func (n *NoteArchive) Subscribe(buffer int) (<-chan PageChange, func()) {
	return n.broker.subscribe(buffer)
}
