package channel

import (
	"errors"
	"testing"
)

type nullEndpoint struct{ name string }

func (e *nullEndpoint) PostMessage(data []byte, targetOrigin string) error {
	return nil
}

func noopRoute(ev Event, method string, msg *Message) {}

func TestRegistryConflicts(t *testing.T) {
	w1, w2 := &nullEndpoint{"w1"}, &nullEndpoint{"w2"}

	cases := []struct {
		Name     string
		Existing []registryEntry
		Add      registryEntry
		Conflict bool
	}{
		{
			Name:     "wildcard then concrete",
			Existing: []registryEntry{{origin: "*", scope: "s", window: w1}},
			Add:      registryEntry{origin: "https://a.example", scope: "s", window: w1},
			Conflict: true,
		},
		{
			Name:     "concrete then wildcard",
			Existing: []registryEntry{{origin: "https://a.example", scope: "s", window: w1}},
			Add:      registryEntry{origin: "*", scope: "s", window: w1},
			Conflict: true,
		},
		{
			Name:     "same concrete origin",
			Existing: []registryEntry{{origin: "https://a.example", scope: "s", window: w1}},
			Add:      registryEntry{origin: "https://a.example", scope: "s", window: w1},
			Conflict: true,
		},
		{
			Name:     "disjoint concrete origins",
			Existing: []registryEntry{{origin: "https://a.example", scope: "s", window: w1}},
			Add:      registryEntry{origin: "https://b.example", scope: "s", window: w1},
		},
		{
			Name:     "different scope",
			Existing: []registryEntry{{origin: "*", scope: "s", window: w1}},
			Add:      registryEntry{origin: "*", scope: "t", window: w1},
		},
		{
			Name:     "different window",
			Existing: []registryEntry{{origin: "*", scope: "s", window: w1}},
			Add:      registryEntry{origin: "*", scope: "s", window: w2},
		},
	}

	for _, tc := range cases {
		r := registry{}
		for _, e := range tc.Existing {
			e.handler = noopRoute
			if err := r.add(e); err != nil {
				t.Fatalf("%s: %s", tc.Name, err)
			}
		}
		tc.Add.handler = noopRoute
		err := r.add(tc.Add)
		var conflict *ConflictError
		if got := errors.As(err, &conflict); got != tc.Conflict {
			t.Errorf("%s: got conflict=%t (%v); want %t", tc.Name, got, err, tc.Conflict)
		}
	}
}

func TestRegistryRemove(t *testing.T) {
	w := &nullEndpoint{"w"}
	r := registry{}
	if err := r.add(registryEntry{origin: originA, scope: "s", window: w, handler: noopRoute}); err != nil {
		t.Fatal(err)
	}
	if !r.remove(w, originA, "s") {
		t.Fatal("expected entry to be removed")
	}
	if len(r) != 0 {
		t.Errorf("expected empty buckets to be dropped, got %v", r)
	}
	if r.remove(w, originA, "s") {
		t.Error("removing twice should report false")
	}
	// Re-registering after removal works.
	if err := r.add(registryEntry{origin: "*", scope: "s", window: w, handler: noopRoute}); err != nil {
		t.Fatal(err)
	}
}

func TestRegistryLookupPrefersExact(t *testing.T) {
	w := &nullEndpoint{"w"}
	r := registry{}

	var got string
	exact := func(ev Event, method string, msg *Message) { got = "exact" }
	wildcard := func(ev Event, method string, msg *Message) { got = "wildcard" }

	if err := r.add(registryEntry{origin: originA, scope: "s", window: w, handler: exact}); err != nil {
		t.Fatal(err)
	}
	if err := r.add(registryEntry{origin: "*", scope: "t", window: w, handler: wildcard}); err != nil {
		t.Fatal(err)
	}

	r.lookup(w, originA, "s")(Event{}, "", nil)
	if got != "exact" {
		t.Errorf("got %q; want exact", got)
	}
	r.lookup(w, originB, "t")(Event{}, "", nil)
	if got != "wildcard" {
		t.Errorf("got %q; want wildcard", got)
	}
	if h := r.lookup(w, originB, "s"); h != nil {
		t.Error("origin b should not reach the origin a entry")
	}
	if h := r.lookup(&nullEndpoint{"other"}, originA, "s"); h != nil {
		t.Error("other sources should not be routed")
	}
}
