/*
Copyright 2026.

Licensed under the Apache License, Version 2.0 (the "License");
you may not use this file except in compliance with the License.
You may obtain a copy of the License at

    http://www.apache.org/licenses/LICENSE-2.0

Unless required by applicable law or agreed to in writing, software
distributed under the License is distributed on an "AS IS" BASIS,
WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
See the License for the specific language governing permissions and
limitations under the License.
*/

package auth

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"strconv"
	"strings"
)

// ErrUnsupportedClaim is returned when a claim value is not a string, number or bool.
var ErrUnsupportedClaim = errors.New("unsupported claim value")

// ClaimKind enumerates the value kinds a claim can hold.
type ClaimKind int

const (
	KindString ClaimKind = iota + 1
	KindNumber
	KindBool
)

func (k ClaimKind) String() string {
	switch k {
	case KindString:
		return "string"
	case KindNumber:
		return "number"
	case KindBool:
		return "bool"
	default:
		return "invalid"
	}
}

// ClaimValue is a string, a number or a bool. The zero value is invalid.
// ClaimValue is comparable, so Claims can be compared with ==.
type ClaimValue struct {
	kind ClaimKind
	s    string
	n    float64
	b    bool
}

func StringClaim(s string) ClaimValue  { return ClaimValue{kind: KindString, s: s} }
func NumberClaim(n float64) ClaimValue { return ClaimValue{kind: KindNumber, n: n} }
func BoolClaim(b bool) ClaimValue      { return ClaimValue{kind: KindBool, b: b} }

func (v ClaimValue) Kind() ClaimKind { return v.kind }
func (v ClaimValue) IsValid() bool   { return v.kind != 0 }

func (v ClaimValue) AsString() (string, bool) { return v.s, v.kind == KindString }
func (v ClaimValue) AsNumber() (float64, bool) { return v.n, v.kind == KindNumber }
func (v ClaimValue) AsBool() (bool, bool)      { return v.b, v.kind == KindBool }

// Interface returns the value as string, float64 or bool.
func (v ClaimValue) Interface() any {
	switch v.kind {
	case KindString:
		return v.s
	case KindNumber:
		return v.n
	case KindBool:
		return v.b
	default:
		return nil
	}
}

func (v ClaimValue) String() string {
	switch v.kind {
	case KindString:
		return v.s
	case KindNumber:
		return strconv.FormatFloat(v.n, 'g', -1, 64)
	case KindBool:
		return strconv.FormatBool(v.b)
	default:
		return "<invalid>"
	}
}

func (v ClaimValue) MarshalJSON() ([]byte, error) {
	switch v.kind {
	case KindString:
		return json.Marshal(v.s)
	case KindNumber:
		if math.IsNaN(v.n) || math.IsInf(v.n, 0) {
			return nil, fmt.Errorf("%w: %v is not representable in JSON", ErrUnsupportedClaim, v.n)
		}
		return json.Marshal(v.n)
	case KindBool:
		return json.Marshal(v.b)
	default:
		return nil, fmt.Errorf("%w: zero ClaimValue", ErrUnsupportedClaim)
	}
}

func (v *ClaimValue) UnmarshalJSON(data []byte) error {
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()
	var raw any
	if err := dec.Decode(&raw); err != nil {
		return err
	}
	switch t := raw.(type) {
	case string:
		*v = StringClaim(t)
	case bool:
		*v = BoolClaim(t)
	case json.Number:
		n, err := t.Float64()
		if err != nil {
			return fmt.Errorf("%w: %s", ErrUnsupportedClaim, t)
		}
		*v = NumberClaim(n)
	case nil:
		return fmt.Errorf("%w: null", ErrUnsupportedClaim)
	default:
		return fmt.Errorf("%w: %T", ErrUnsupportedClaim, raw)
	}
	return nil
}

// Claims are the custom, typed claims carried by a token.
type Claims map[string]ClaimValue

// Clone returns a copy of c. It never returns nil.
func (c Claims) Clone() Claims {
	out := make(Claims, len(c))
	for k, v := range c {
		out[k] = v
	}
	return out
}

// GetString returns the claim named key if it holds a string.
func (c Claims) GetString(key string) (string, bool) {
	v, ok := c[key]
	if !ok {
		return "", false
	}
	return v.AsString()
}

func (c Claims) validate() error {
	for k, v := range c {
		if k == "" {
			return fmt.Errorf("%w: empty claim name", ErrUnsupportedClaim)
		}
		if !v.IsValid() {
			return fmt.Errorf("%w: claim %q has no value", ErrUnsupportedClaim, k)
		}
		if n, ok := v.AsNumber(); ok && (math.IsNaN(n) || math.IsInf(n, 0)) {
			return fmt.Errorf("%w: claim %q is %v", ErrUnsupportedClaim, k, n)
		}
	}
	return nil
}

// ParseClaim parses "name=value". "true" and "false" become bools, values that
// parse as numbers become numbers, anything else a string. Quote the value
// ("name=\"42\"") to force a string.
func ParseClaim(s string) (string, ClaimValue, error) {
	name, value, ok := strings.Cut(s, "=")
	if !ok || name == "" {
		return "", ClaimValue{}, fmt.Errorf("invalid claim %q, expected name=value", s)
	}
	if len(value) >= 2 && strings.HasPrefix(value, `"`) && strings.HasSuffix(value, `"`) {
		return name, StringClaim(value[1 : len(value)-1]), nil
	}
	if b, err := strconv.ParseBool(value); err == nil && (value == "true" || value == "false") {
		return name, BoolClaim(b), nil
	}
	if n, err := strconv.ParseFloat(value, 64); err == nil && !math.IsNaN(n) && !math.IsInf(n, 0) {
		return name, NumberClaim(n), nil
	}
	return name, StringClaim(value), nil
}
