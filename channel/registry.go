package channel

// routeFunc receives an inbound message that was routed to a channel. method
// is the unscoped method name, or empty when the message was routed by id.
type routeFunc func(ev Event, method string, msg *Message)

type registryEntry struct {
	origin  string
	scope   string
	window  Endpoint
	handler routeFunc
}

// registry maps origin pattern -> scope -> entries.
type registry map[string]map[string][]registryEntry

// conflicts reports whether a channel for window at origin and scope would
// overlap an existing entry. A wildcard origin overlaps every origin.
func (r registry) conflicts(window Endpoint, origin, scope string) bool {
	for o, scopes := range r {
		if o != origin && o != AnyOrigin && origin != AnyOrigin {
			continue
		}
		for _, e := range scopes[scope] {
			if e.window == window {
				return true
			}
		}
	}
	return false
}

func (r registry) add(e registryEntry) error {
	if r.conflicts(e.window, e.origin, e.scope) {
		return &ConflictError{Origin: e.origin, Scope: e.scope}
	}
	scopes, ok := r[e.origin]
	if !ok {
		scopes = map[string][]registryEntry{}
		r[e.origin] = scopes
	}
	scopes[e.scope] = append(scopes[e.scope], e)
	return nil
}

func (r registry) remove(window Endpoint, origin, scope string) bool {
	scopes, ok := r[origin]
	if !ok {
		return false
	}
	entries := scopes[scope]
	for i, e := range entries {
		if e.window != window {
			continue
		}
		entries = append(entries[:i:i], entries[i+1:]...)
		if len(entries) == 0 {
			delete(scopes, scope)
		} else {
			scopes[scope] = entries
		}
		if len(scopes) == 0 {
			delete(r, origin)
		}
		return true
	}
	return false
}

// lookup finds the handler for a message from source at origin within scope.
// Exact origins win over the wildcard.
func (r registry) lookup(source Endpoint, origin, scope string) routeFunc {
	for _, o := range [2]string{origin, AnyOrigin} {
		for _, e := range r[o][scope] {
			if e.window == source {
				return e.handler
			}
		}
	}
	return nil
}
