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

package gateway

import (
	"errors"
	"fmt"

	"golang.org/x/crypto/bcrypt"

	"github.com/telekom/tokengate/pkg/api"
	"github.com/telekom/tokengate/pkg/auth"
	"github.com/telekom/tokengate/pkg/config"
)

// ErrInvalidCredentials is returned for an unknown user or a wrong password.
var ErrInvalidCredentials = errors.New("invalid username or password")

// UserStore checks credentials and returns the claims to put into the token.
type UserStore interface {
	Authenticate(username, password string) (auth.Claims, error)
}

type staticUser struct {
	hash   []byte
	claims auth.Claims
}

// StaticUsers authenticates against bcrypt hashes from the configuration.
type StaticUsers struct {
	users map[string]staticUser
	// dummy is compared for unknown users so both paths cost one bcrypt check
	dummy []byte
}

var _ UserStore = (*StaticUsers)(nil)

// NewStaticUsers indexes the configured users. The role becomes the "role" claim
// and overrides a "role" entry in the user's claims.
func NewStaticUsers(users []config.User) (*StaticUsers, error) {
	dummy, err := bcrypt.GenerateFromPassword([]byte("tokengate-dummy-password"), bcrypt.MinCost)
	if err != nil {
		return nil, err
	}
	s := &StaticUsers{users: make(map[string]staticUser, len(users)), dummy: dummy}
	for _, u := range users {
		if _, err := bcrypt.Cost([]byte(u.PasswordHash)); err != nil {
			return nil, fmt.Errorf("user %q: invalid bcrypt hash: %w", u.Username, err)
		}
		claims := auth.Claims{}
		for k, v := range u.Claims {
			claims[k] = auth.StringClaim(v)
		}
		if u.Role != "" {
			claims[api.RoleClaim] = auth.StringClaim(u.Role)
		}
		s.users[u.Username] = staticUser{hash: []byte(u.PasswordHash), claims: claims}
	}
	return s, nil
}

func (s *StaticUsers) Authenticate(username, password string) (auth.Claims, error) {
	u, ok := s.users[username]
	if !ok {
		_ = bcrypt.CompareHashAndPassword(s.dummy, []byte(password))
		return nil, ErrInvalidCredentials
	}
	if err := bcrypt.CompareHashAndPassword(u.hash, []byte(password)); err != nil {
		return nil, ErrInvalidCredentials
	}
	return u.claims.Clone(), nil
}
