/*
 * Copyright (c) 2018 The Go Authors. All rights reserved.
 * Use of this source code is governed by a BSD-style license that can be found in the LICENSE file.
 */

// Package hdr implements the case-insensitive header map shared by
// requests and responses: field names are canonicalized on write so
// lookups with any case variant of the same name agree (RFC 7230
// §3.2), and repeated occurrences of a field collapse into one value
// with ", "-joined occurrences in arrival order (RFC 7230 §3.2.2).
package hdr

import (
	"io"
	"sort"
	"strings"
)

// Header is a case-insensitive mapping of header field name to the
// list of values received for it, in arrival order. Callers should
// use Add/Set/Get/Del rather than indexing the map directly so the
// canonicalization invariant holds.
type Header map[string][]string

// Add appends value to any values already associated with key.
func (h Header) Add(key, value string) {
	h[CanonicalHeaderKey(key)] = append(h[CanonicalHeaderKey(key)], value)
}

// Set replaces any existing values associated with key with the
// single value given.
func (h Header) Set(key, value string) {
	h[CanonicalHeaderKey(key)] = []string{value}
}

// Get returns the first value associated with key, or "" if absent.
func (h Header) Get(key string) string {
	if h == nil {
		return ""
	}
	v := h[CanonicalHeaderKey(key)]
	if len(v) == 0 {
		return ""
	}
	return v[0]
}

// Values returns all values associated with key, in arrival order.
func (h Header) Values(key string) []string {
	return h[CanonicalHeaderKey(key)]
}

// Joined returns all values associated with key, collapsed per
// RFC 7230 §3.2.2 into one ", "-separated string.
func (h Header) Joined(key string) (string, bool) {
	v := h[CanonicalHeaderKey(key)]
	if len(v) == 0 {
		return "", false
	}
	return strings.Join(v, ", "), true
}

// Del deletes the values associated with key.
func (h Header) Del(key string) {
	delete(h, CanonicalHeaderKey(key))
}

// Clone returns a deep copy of h.
func (h Header) Clone() Header {
	if h == nil {
		return nil
	}
	h2 := make(Header, len(h))
	for k, vv := range h {
		vv2 := make([]string, len(vv))
		copy(vv2, vv)
		h2[k] = vv2
	}
	return h2
}

// Write serializes h in wire format, one "Key: value\r\n" per value,
// keys sorted for deterministic output.
func (h Header) Write(w io.Writer) error {
	return h.WriteSubset(w, nil)
}

// WriteSubset is like Write but skips any key present (with a true
// value) in exclude.
func (h Header) WriteSubset(w io.Writer, exclude map[string]bool) error {
	keys := make([]string, 0, len(h))
	for k := range h {
		if exclude[k] {
			continue
		}
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		for _, v := range h[k] {
			v = headerNewlineToSpace.Replace(v)
			if _, err := io.WriteString(w, k); err != nil {
				return err
			}
			if _, err := io.WriteString(w, ": "); err != nil {
				return err
			}
			if _, err := io.WriteString(w, v); err != nil {
				return err
			}
			if _, err := io.WriteString(w, "\r\n"); err != nil {
				return err
			}
		}
	}
	return nil
}

var headerNewlineToSpace = strings.NewReplacer("\n", " ", "\r", " ")

// CanonicalHeaderKey returns the canonical form of a header key:
// first letter and any letter following a hyphen are upper case, the
// rest is lower case. So "content-type" becomes "Content-Type".
func CanonicalHeaderKey(s string) string {
	if s == "" {
		return s
	}
	b := []byte(s)
	upper := true
	for i, c := range b {
		if upper && 'a' <= c && c <= 'z' {
			b[i] = c - ('a' - 'A')
		} else if !upper && 'A' <= c && c <= 'Z' {
			b[i] = c + ('a' - 'A')
		}
		upper = c == '-'
	}
	return string(b)
}
