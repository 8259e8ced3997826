// Package presence tracks which users currently hold a live connection.
package presence

import "sort"

// Registry maps a user id to that user's current connection handle. A user
// has at most one handle; registering again replaces it.
//
// Registry is not safe for concurrent use. The gateway hub owns it and
// touches it only from its event loop.
type Registry[C comparable] struct {
	conns map[string]C
}

// New returns an empty Registry.
func New[C comparable]() *Registry[C] {
	return &Registry[C]{conns: make(map[string]C)}
}

// Register maps user to c, replacing any previous handle. It returns the
// replaced handle, if any.
func (r *Registry[C]) Register(user string, c C) (prev C, replaced bool) {
	prev, replaced = r.conns[user]
	r.conns[user] = c
	return prev, replaced
}

// Lookup returns the handle registered for user.
func (r *Registry[C]) Lookup(user string) (C, bool) {
	c, ok := r.conns[user]
	return c, ok
}

// RemoveByConnection removes the entry whose handle is exactly c. A handle
// that has already been replaced by a newer registration matches nothing,
// so a late disconnect cannot evict the newer connection.
func (r *Registry[C]) RemoveByConnection(c C) (user string, removed bool) {
	for u, cur := range r.conns {
		if cur == c {
			delete(r.conns, u)
			return u, true
		}
	}
	return "", false
}

// Snapshot returns the registered user ids, sorted.
func (r *Registry[C]) Snapshot() []string {
	users := make([]string, 0, len(r.conns))
	for u := range r.conns {
		users = append(users, u)
	}
	sort.Strings(users)
	return users
}

// Len returns the number of registered users.
func (r *Registry[C]) Len() int { return len(r.conns) }
