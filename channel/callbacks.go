package channel

import (
	"encoding/json"
	"errors"
	"reflect"
	"sort"
	"strconv"
	"strings"
)

// Callback is a function passed in call params. It is not serialized: the
// peer receives its path and can invoke it any number of times until the
// call is resolved.
type Callback func(params json.RawMessage)

var errCallbackRoot = errors.New("channel: params cannot be a callback")

// callbackWalker extracts callbacks from a params tree made of map[string]any
// and []any values. Other values are serialized as they are.
type callbackWalker struct {
	callbacks map[string]Callback
	paths     []string
	visiting  map[uintptr]bool
}

// extractCallbacks returns a copy of params with every callback removed, the
// callbacks keyed by path, and the paths in depth-first order. Explicit
// callbacks are added after the ones found in params.
func extractCallbacks(params any, explicit map[string]Callback) (any, map[string]Callback, []string, error) {
	w := &callbackWalker{
		callbacks: map[string]Callback{},
		visiting:  map[uintptr]bool{},
	}
	switch params.(type) {
	case Callback, func(json.RawMessage):
		return nil, nil, nil, errCallbackRoot
	}
	pruned, _, err := w.walk(params, "")
	if err != nil {
		return nil, nil, nil, err
	}

	names := make([]string, 0, len(explicit))
	for path := range explicit {
		names = append(names, path)
	}
	sort.Strings(names)
	for _, path := range names {
		if explicit[path] == nil || path == "" {
			continue
		}
		w.add(path, explicit[path])
	}
	return pruned, w.callbacks, w.paths, nil
}

func (w *callbackWalker) add(path string, cb Callback) {
	if _, ok := w.callbacks[path]; !ok {
		w.paths = append(w.paths, path)
	}
	w.callbacks[path] = cb
}

func joinPath(path, key string) string {
	if path == "" {
		return key
	}
	return path + CallbackSeparator + key
}

// enter marks a container as being walked, failing if it already is.
func (w *callbackWalker) enter(v any) (uintptr, error) {
	ptr := reflect.ValueOf(v).Pointer()
	if ptr == 0 {
		return 0, nil
	}
	if w.visiting[ptr] {
		return 0, ErrRecursiveParams
	}
	w.visiting[ptr] = true
	return ptr, nil
}

func (w *callbackWalker) leave(ptr uintptr) {
	delete(w.visiting, ptr)
}

// walk returns the pruned value and whether it should be kept.
func (w *callbackWalker) walk(v any, path string) (any, bool, error) {
	switch t := v.(type) {
	case Callback:
		w.add(path, t)
		return nil, false, nil
	case func(json.RawMessage):
		w.add(path, Callback(t))
		return nil, false, nil
	case map[string]any:
		ptr, err := w.enter(t)
		if err != nil {
			return nil, false, err
		}
		defer w.leave(ptr)

		keys := make([]string, 0, len(t))
		for k := range t {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		out := make(map[string]any, len(t))
		for _, k := range keys {
			child, keep, err := w.walk(t[k], joinPath(path, k))
			if err != nil {
				return nil, false, err
			}
			if keep {
				out[k] = child
			}
		}
		return out, true, nil
	case []any:
		if len(t) == 0 {
			return t, true, nil
		}
		ptr, err := w.enter(t)
		if err != nil {
			return nil, false, err
		}
		defer w.leave(ptr)

		out := make([]any, len(t))
		for i, item := range t {
			child, _, err := w.walk(item, joinPath(path, strconv.Itoa(i)))
			if err != nil {
				return nil, false, err
			}
			out[i] = child
		}
		return out, true, nil
	}
	return v, true, nil
}

// injectCallbacks places build(path) at every path of tree, creating the
// intermediate maps that are missing. Numeric segments index into existing
// slices.
func injectCallbacks(tree map[string]any, paths []string, build func(path string) any) {
	for _, path := range paths {
		parts := strings.Split(path, CallbackSeparator)
		var node any = tree
		for i, part := range parts {
			last := i == len(parts)-1
			switch n := node.(type) {
			case map[string]any:
				if last {
					n[part] = build(path)
					continue
				}
				child := n[part]
				switch child.(type) {
				case map[string]any, []any:
				default:
					child = map[string]any{}
					n[part] = child
				}
				node = child
			case []any:
				idx, err := strconv.Atoi(part)
				if err != nil || idx < 0 || idx >= len(n) {
					node = nil
					continue
				}
				if last {
					n[idx] = build(path)
					continue
				}
				child := n[idx]
				switch child.(type) {
				case map[string]any, []any:
				default:
					child = map[string]any{}
					n[idx] = child
				}
				node = child
			default:
				// Path runs through a value that cannot hold children.
				node = nil
			}
		}
	}
}
