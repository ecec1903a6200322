/*
 * Copyright (c) 2018 The Go Authors. All rights reserved.
 * Use of this source code is governed by a BSD-style license that can be found in the LICENSE file.
 */

// Package uri parses the origin-form request target this engine
// accepts (RFC 7230 §5.3.1: "/path?query") into a path and an ordered
// query multi-map. It deliberately does not implement the full
// RFC 3986 URL grammar (scheme, authority, fragments) — absolute-form
// and authority-form targets are outside this engine's scope.
package uri

import (
	"errors"
	"net/url"
	"strings"
)

// ErrInvalidTarget is returned by Parse for a request-target that
// isn't a syntactically valid origin-form URI.
var ErrInvalidTarget = errors.New("uri: invalid request target")

// Target is a parsed origin-form request target.
type Target struct {
	Path     string
	RawQuery string
	Query    Values
}

// Parse splits an origin-form request target into path and query,
// then decodes the query into an ordered multi-map.
func Parse(target string) (*Target, error) {
	if target == "" || target[0] != '/' {
		return nil, ErrInvalidTarget
	}
	path := target
	rawQuery := ""
	if i := strings.IndexByte(target, '?'); i >= 0 {
		path, rawQuery = target[:i], target[i+1:]
	}
	decodedPath, err := url.PathUnescape(path)
	if err != nil {
		return nil, ErrInvalidTarget
	}
	q, err := ParseQuery(rawQuery)
	if err != nil {
		return nil, ErrInvalidTarget
	}
	return &Target{Path: decodedPath, RawQuery: rawQuery, Query: q}, nil
}

// Values is an ordered multi-map: repeated keys keep every value in
// arrival order, unlike net/url.Values which is unordered per key
// but happens to preserve slice order — Values additionally preserves
// the order keys were first seen, for callers that iterate it.
type Values struct {
	keys   []string
	values map[string][]string
}

func newValues() Values {
	return Values{values: make(map[string][]string)}
}

// Get returns the first value for key, or "".
func (v Values) Get(key string) string {
	vv := v.values[key]
	if len(vv) == 0 {
		return ""
	}
	return vv[0]
}

// All returns every value for key, in arrival order.
func (v Values) All(key string) []string {
	return v.values[key]
}

// Keys returns the distinct keys in first-seen order.
func (v Values) Keys() []string {
	return v.keys
}

func (v *Values) add(key, value string) {
	if _, ok := v.values[key]; !ok {
		v.keys = append(v.keys, key)
	}
	v.values[key] = append(v.values[key], value)
}

// ParseQuery decodes a raw query string (no leading "?") into an
// ordered multi-map, preserving repeated keys in arrival order.
func ParseQuery(raw string) (Values, error) {
	vals := newValues()
	for raw != "" {
		var pair string
		if i := strings.IndexByte(raw, '&'); i >= 0 {
			pair, raw = raw[:i], raw[i+1:]
		} else {
			pair, raw = raw, ""
		}
		if pair == "" {
			continue
		}
		key := pair
		value := ""
		if i := strings.IndexByte(pair, '='); i >= 0 {
			key, value = pair[:i], pair[i+1:]
		}
		dk, err := url.QueryUnescape(key)
		if err != nil {
			return vals, ErrInvalidTarget
		}
		dv, err := url.QueryUnescape(value)
		if err != nil {
			return vals, ErrInvalidTarget
		}
		vals.add(dk, dv)
	}
	return vals, nil
}
