package cache

// State tells whether a cache slot holds data fetched from the remote store.
type State uint8

const (
	// NotLoaded means the remote store has not been asked yet. A slot in this
	// state may still carry a skeleton value from the generation's topology.
	NotLoaded State = iota
	// Loaded means Value holds the remote store's copy.
	Loaded
	// LoadedAbsent means the remote store reported the entity as not found.
	LoadedAbsent
)

func (s State) String() string {
	switch s {
	case NotLoaded:
		return "not_loaded"
	case Loaded:
		return "loaded"
	case LoadedAbsent:
		return "loaded_absent"
	default:
		return "unknown"
	}
}

// Slot is one cached entity together with its load state.
type Slot[T any] struct {
	State State
	Value *T
}

// Resolved reports whether the remote store has already answered for this slot.
func (s Slot[T]) Resolved() bool {
	return s.State != NotLoaded
}

// RelationshipList is the set of relationship ids attached to one end of a
// twin. Complete is set only once every relationship of that direction is
// known; ids learned from the other endpoint never complete a list.
type RelationshipList struct {
	IDs      []string
	Complete bool
}
