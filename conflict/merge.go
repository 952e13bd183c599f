// Copyright 2025 Toly Pochkin
// SPDX-License-Identifier: Apache-2.0

package conflict

import (
	"sort"
)

// IDFunc extracts the identity used to match records across both sides. An
// empty id means the record is never matched.
type IDFunc[T any] func(T) string

// Conflict is a record present on both sides, left unresolved.
type Conflict[T any] struct {
	ID     string
	Local  T
	Remote T
}

// Report is the result of DetectConflicts.
type Report[T any] struct {
	Conflicts  []Conflict[T]
	LocalOnly  []T
	RemoteOnly []T
}

// Merge returns the union of local and remote. Records found on one side only
// are kept as they are; records found on both go through resolve. The result
// is ordered by id, followed by records without an id (local ones first).
// When an id repeats within one side, the last occurrence is used.
func Merge[T any](local, remote []T, resolve Resolver[T], id IDFunc[T]) []T {
	l, lAnon := index(local, id)
	r, rAnon := index(remote, id)

	ids := make([]string, 0, len(l)+len(r))
	for k := range l {
		ids = append(ids, k)
	}
	for k := range r {
		if _, ok := l[k]; !ok {
			ids = append(ids, k)
		}
	}
	sort.Strings(ids)

	out := make([]T, 0, len(ids)+len(lAnon)+len(rAnon))
	for _, k := range ids {
		lv, inL := l[k]
		rv, inR := r[k]
		switch {
		case inL && inR:
			out = append(out, resolve(lv, rv))
		case inL:
			out = append(out, lv)
		default:
			out = append(out, rv)
		}
	}
	out = append(out, lAnon...)
	return append(out, rAnon...)
}

// DetectConflicts classifies records like Merge does, without resolving
// anything. Each part is ordered by id; records without an id are listed
// after the others in their own side's part.
func DetectConflicts[T any](local, remote []T, id IDFunc[T]) Report[T] {
	l, lAnon := index(local, id)
	r, rAnon := index(remote, id)

	var rep Report[T]
	for _, k := range sortedKeys(l) {
		if rv, ok := r[k]; ok {
			rep.Conflicts = append(rep.Conflicts, Conflict[T]{ID: k, Local: l[k], Remote: rv})
		} else {
			rep.LocalOnly = append(rep.LocalOnly, l[k])
		}
	}
	for _, k := range sortedKeys(r) {
		if _, ok := l[k]; !ok {
			rep.RemoteOnly = append(rep.RemoteOnly, r[k])
		}
	}
	rep.LocalOnly = append(rep.LocalOnly, lAnon...)
	rep.RemoteOnly = append(rep.RemoteOnly, rAnon...)
	return rep
}

func index[T any](items []T, id IDFunc[T]) (map[string]T, []T) {
	byID := make(map[string]T, len(items))
	var anon []T
	for _, it := range items {
		k := id(it)
		if k == "" {
			anon = append(anon, it)
			continue
		}
		byID[k] = it
	}
	return byID, anon
}

func sortedKeys[T any](m map[string]T) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
