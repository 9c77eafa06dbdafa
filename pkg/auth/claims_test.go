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
	"encoding/json"
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestClaimValueJSON(t *testing.T) {
	in := Claims{
		"name":  StringClaim("alice"),
		"count": NumberClaim(42),
		"ratio": NumberClaim(0.25),
		"admin": BoolClaim(false),
	}
	b, err := json.Marshal(in)
	require.NoError(t, err)

	var out Claims
	require.NoError(t, json.Unmarshal(b, &out))
	assert.Equal(t, in, out)

	n, ok := out["count"].AsNumber()
	assert.True(t, ok)
	assert.Equal(t, float64(42), n)
	_, ok = out["count"].AsString()
	assert.False(t, ok)
}

func TestClaimValueRejectsOtherKinds(t *testing.T) {
	for _, raw := range []string{`null`, `[1,2]`, `{"a":1}`} {
		var v ClaimValue
		err := json.Unmarshal([]byte(raw), &v)
		assert.ErrorIs(t, err, ErrUnsupportedClaim, raw)
	}

	_, err := json.Marshal(Claims{"x": NumberClaim(math.Inf(1))})
	assert.Error(t, err)
	_, err = json.Marshal(Claims{"x": {}})
	assert.Error(t, err)
}

func TestClaimValueAccessors(t *testing.T) {
	assert.Equal(t, "alice", StringClaim("alice").Interface())
	assert.Equal(t, 1.5, NumberClaim(1.5).Interface())
	assert.Equal(t, true, BoolClaim(true).Interface())
	assert.Nil(t, ClaimValue{}.Interface())

	assert.Equal(t, "1.5", NumberClaim(1.5).String())
	assert.Equal(t, "true", BoolClaim(true).String())
	assert.Equal(t, KindBool, BoolClaim(true).Kind())
	assert.False(t, ClaimValue{}.IsValid())
}

func TestClaimsClone(t *testing.T) {
	var nilClaims Claims
	assert.NotNil(t, nilClaims.Clone())

	orig := Claims{"a": StringClaim("1")}
	c := orig.Clone()
	c["b"] = BoolClaim(true)
	assert.Len(t, orig, 1)
}

func TestParseClaim(t *testing.T) {
	tests := []struct {
		in   string
		name string
		want ClaimValue
	}{
		{"role=ADMIN", "role", StringClaim("ADMIN")},
		{"level=3", "level", NumberClaim(3)},
		{"ratio=-0.5", "ratio", NumberClaim(-0.5)},
		{"active=true", "active", BoolClaim(true)},
		{"active=false", "active", BoolClaim(false)},
		{`zip="01234"`, "zip", StringClaim("01234")},
		{"empty=", "empty", StringClaim("")},
		{"url=a=b", "url", StringClaim("a=b")},
		{"weird=NaN", "weird", StringClaim("NaN")},
		{"upper=TRUE", "upper", StringClaim("TRUE")},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			name, v, err := ParseClaim(tt.in)
			require.NoError(t, err)
			assert.Equal(t, tt.name, name)
			assert.Equal(t, tt.want, v)
		})
	}

	for _, bad := range []string{"", "noequals", "=value"} {
		_, _, err := ParseClaim(bad)
		assert.Error(t, err, bad)
	}
}
