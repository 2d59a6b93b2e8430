// Package viewer pages through a brand's captured content one item at a time.
package viewer

type State int

const (
	StateLoading State = iota
	StateEmpty
	StateReady
)

func (s State) String() string {
	switch s {
	case StateEmpty:
		return "empty"
	case StateReady:
		return "ready"
	default:
		return "loading"
	}
}

// Cursor is a wrapping position over a loaded list. The zero value is loading.
// A broken image marks only the current item; moving clears the mark.
type Cursor[T any] struct {
	items       []T
	index       int
	imageFailed bool
	state       State
}

// Load replaces the list and rewinds to the first item.
func (c *Cursor[T]) Load(items []T) {
	c.items = items
	c.index = 0
	c.imageFailed = false
	if len(items) == 0 {
		c.state = StateEmpty
		return
	}
	c.state = StateReady
}

func (c *Cursor[T]) State() State      { return c.state }
func (c *Cursor[T]) Index() int        { return c.index }
func (c *Cursor[T]) Len() int          { return len(c.items) }
func (c *Cursor[T]) ImageFailed() bool { return c.imageFailed }

// CanNavigate reports whether next and previous do anything.
func (c *Cursor[T]) CanNavigate() bool {
	return c.state == StateReady && len(c.items) > 1
}

func (c *Cursor[T]) Current() (T, bool) {
	if c.state != StateReady {
		var zero T
		return zero, false
	}
	return c.items[c.index], true
}

func (c *Cursor[T]) Next() {
	if !c.CanNavigate() {
		return
	}
	if c.index < len(c.items)-1 {
		c.index++
	} else {
		c.index = 0
	}
	c.imageFailed = false
}

func (c *Cursor[T]) Previous() {
	if !c.CanNavigate() {
		return
	}
	if c.index > 0 {
		c.index--
	} else {
		c.index = len(c.items) - 1
	}
	c.imageFailed = false
}

// Seek moves to i, wrapping any integer into range.
func (c *Cursor[T]) Seek(i int) {
	if c.state != StateReady {
		return
	}
	n := len(c.items)
	c.index = ((i % n) + n) % n
	c.imageFailed = false
}

func (c *Cursor[T]) MarkImageFailed() {
	if c.state == StateReady {
		c.imageFailed = true
	}
}
