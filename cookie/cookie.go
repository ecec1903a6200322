/*
 * Copyright (c) 2018 The Go Authors. All rights reserved.
 * Use of this source code is governed by a BSD-style license that can be found in the LICENSE file.
 */

// Package cookie encodes the Set-Cookie attributes a Response carries
// (RFC 6265) and decodes the Cookie header a Request carries.
package cookie

import (
	"strconv"
	"strings"
	"time"
)

// A Cookie is one Set-Cookie entry a Response will serialize.
type Cookie struct {
	Name    string
	Value   string
	Path    string
	Domain  string
	Expires time.Time
	// MaxAge 0 means "no Max-Age attribute"; MaxAge>0 is written
	// as-is in seconds; MaxAge<0 is written as Max-Age=0.
	MaxAge   int
	Secure   bool
	HttpOnly bool
}

// New builds a Cookie with the given name and value; attributes are
// set on the returned value before handing it to Response.SetCookie.
func New(name, value string) *Cookie {
	return &Cookie{Name: name, Value: value}
}

// String renders c as it appears after "Set-Cookie: " on the wire.
// Returns "" if c is nil or its name isn't a valid cookie token.
func (c *Cookie) String() string {
	if c == nil || !isToken(c.Name) {
		return ""
	}
	var b strings.Builder
	b.WriteString(c.Name)
	b.WriteByte('=')
	b.WriteString(sanitizeValue(c.Value))

	if c.Path != "" {
		b.WriteString("; Path=")
		b.WriteString(sanitizePath(c.Path))
	}
	if c.Domain != "" {
		b.WriteString("; Domain=")
		b.WriteString(c.Domain)
	}
	if !c.Expires.IsZero() {
		b.WriteString("; Expires=")
		b.WriteString(c.Expires.UTC().Format(timeFormat))
	}
	if c.MaxAge > 0 {
		b.WriteString("; Max-Age=")
		b.WriteString(strconv.Itoa(c.MaxAge))
	} else if c.MaxAge < 0 {
		b.WriteString("; Max-Age=0")
	}
	if c.HttpOnly {
		b.WriteString("; HttpOnly")
	}
	if c.Secure {
		b.WriteString("; Secure")
	}
	return b.String()
}

const timeFormat = "Mon, 02 Jan 2006 15:04:05 GMT"

// ParseRequestHeader splits a raw Cookie header value the way
// spec.md §4.1 describes: split on ";", then each part on the first
// "=". Later occurrences of the same name overwrite earlier ones.
func ParseRequestHeader(raw string) map[string]string {
	out := make(map[string]string)
	for _, part := range strings.Split(raw, ";") {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		name, value := part, ""
		if i := strings.IndexByte(part, '='); i >= 0 {
			name, value = part[:i], part[i+1:]
		}
		out[name] = value
	}
	return out
}

func isToken(s string) bool {
	if s == "" {
		return false
	}
	for i := 0; i < len(s); i++ {
		c := s[i]
		if c <= ' ' || c == '=' || c == ';' || c == 0x7f {
			return false
		}
	}
	return true
}

func sanitizeValue(v string) string {
	var b strings.Builder
	for i := 0; i < len(v); i++ {
		c := v[i]
		if c == ';' || c == ',' || c <= ' ' || c == 0x7f {
			continue
		}
		b.WriteByte(c)
	}
	return b.String()
}

func sanitizePath(p string) string {
	var b strings.Builder
	for i := 0; i < len(p); i++ {
		if c := p[i]; c >= 0x20 && c < 0x7f && c != ';' {
			b.WriteByte(c)
		}
	}
	return b.String()
}
