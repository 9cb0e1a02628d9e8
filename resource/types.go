package resource

import "fmt"

// ID is an opaque reference to a resource in a table.
// IDs are issued in increasing order and are never reused by a table.
type ID uint32

// Resource is a long-lived native object owned by a Table.
type Resource interface {
	// Name identifies the resource kind, e.g. "tcpListener" or "child".
	Name() string
}

// Closer is optionally implemented by resources that need cleanup when
// they are closed through the table.
type Closer interface {
	Close()
}

// Wrapper is implemented by resources that box another resource, such as
// values created on behalf of a loaded plugin. Typed lookups see through it.
type Wrapper interface {
	Unwrap() Resource
}

// Event types for resource lifecycle notifications.
type EventType uint8

const (
	EventCreated EventType = iota
	EventClosed
	EventTaken
)

func (t EventType) String() string {
	switch t {
	case EventCreated:
		return "created"
	case EventClosed:
		return "closed"
	case EventTaken:
		return "taken"
	default:
		return fmt.Sprintf("EventType(%d)", uint8(t))
	}
}

// Event represents a resource lifecycle event.
type Event struct {
	Resource Resource
	Name     string
	ID       ID
	Type     EventType
}

// Observer receives notifications about resource lifecycle events.
type Observer interface {
	OnResourceEvent(Event)
}

// ObserverFunc adapts a function to the Observer interface.
type ObserverFunc func(Event)

// OnResourceEvent calls f(e).
func (f ObserverFunc) OnResourceEvent(e Event) { f(e) }

// Entry describes a live resource without exposing it.
type Entry struct {
	Name string `json:"name" yaml:"name"`
	ID   ID     `json:"rid" yaml:"rid"`
}

// Backend provides the underlying storage mechanism for resources.
type Backend interface {
	// Create stores a value and returns a fresh id.
	Create(value Resource) (ID, error)

	// Get retrieves a value by id.
	Get(id ID) (Resource, bool)

	// Update runs fn on the entry while holding the entry's lock.
	Update(id ID, fn func(Resource)) bool

	// RemoveIf removes the entry when keep returns true for its value.
	RemoveIf(id ID, keep func(Resource) bool) (Resource, bool)

	// Each iterates live entries in id order.
	Each(fn func(ID, Resource) bool)

	// Len returns the number of live entries.
	Len() int

	// Close stops accepting values and returns the remaining ones in id order.
	Close() []Resource
}

// unwrap returns r as a T, looking through Wrapper layers.
func unwrap[T any](r Resource) (T, bool) {
	for r != nil {
		if v, ok := r.(T); ok {
			return v, true
		}
		w, ok := r.(Wrapper)
		if !ok {
			break
		}
		r = w.Unwrap()
	}
	var zero T
	return zero, false
}
