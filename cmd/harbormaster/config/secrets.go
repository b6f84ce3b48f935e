// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package config

import (
	"bytes"
	"fmt"
	"log/slog"
	"os"
	"sync"

	"github.com/awnumar/memguard"
	"golang.org/x/sys/unix"
)

// MinMlockLimitKB is the minimum mlock limit required to hold tokens in
// locked memory. Below it, secrets fall back to ordinary heap memory.
const MinMlockLimitKB = 64

var (
	memguardInitOnce sync.Once

	// mlockSufficient is set during initialization to indicate if
	// secure memory is available.
	mlockSufficient bool

	currentMlockLimitKB int64
)

// Secret holds a sensitive value (API tokens) in mlock-backed memory so
// it never reaches swap. The zero value is an unset secret.
type Secret struct {
	buf   *memguard.LockedBuffer
	plain []byte // fallback when mlock limits are too low
}

func initMemguard() {
	memguardInitOnce.Do(func() {
		memguard.CatchInterrupt()
		mlockSufficient, currentMlockLimitKB = checkMlockLimit()
		if !mlockSufficient {
			slog.Warn("mlock limit too low for locked secrets, falling back to heap memory",
				"mlock_limit_kb", currentMlockLimitKB,
				"required_kb", MinMlockLimitKB,
			)
		}
	})
}

// checkMlockLimit queries the kernel for the mlock resource limit.
// Returns -1 for unlimited.
func checkMlockLimit() (bool, int64) {
	var rlimit unix.Rlimit
	if err := unix.Getrlimit(unix.RLIMIT_MEMLOCK, &rlimit); err != nil {
		slog.Warn("Could not determine mlock limit", "error", err)
		return true, -1
	}
	if rlimit.Cur == unix.RLIM_INFINITY {
		return true, -1
	}
	limitKB := int64(rlimit.Cur / 1024)
	return limitKB >= MinMlockLimitKB, limitKB
}

// NewSecret seals value into locked memory and wipes the source slice.
// An empty value yields an unset secret.
func NewSecret(value []byte) *Secret {
	if len(value) == 0 {
		return &Secret{}
	}
	initMemguard()
	if !mlockSufficient {
		cp := make([]byte, len(value))
		copy(cp, value)
		for i := range value {
			value[i] = 0
		}
		return &Secret{plain: cp}
	}
	// NewBufferFromBytes wipes the source for us.
	return &Secret{buf: memguard.NewBufferFromBytes(value)}
}

// IsSet reports whether the secret holds a value.
func (s *Secret) IsSet() bool {
	if s == nil {
		return false
	}
	if s.buf != nil {
		return s.buf.IsAlive()
	}
	return len(s.plain) > 0
}

// Reveal returns a copy of the secret for short-lived use, such as
// building an Authorization header. Empty when unset or destroyed.
func (s *Secret) Reveal() string {
	if !s.IsSet() {
		return ""
	}
	if s.buf != nil {
		return string(s.buf.Bytes())
	}
	return string(s.plain)
}

// Destroy wipes and releases the secret. Safe on nil and safe to call
// twice.
func (s *Secret) Destroy() {
	if s == nil {
		return
	}
	if s.buf != nil {
		s.buf.Destroy()
	}
	for i := range s.plain {
		s.plain[i] = 0
	}
	s.plain = nil
}

// PurgeSecrets wipes every live locked buffer. Called on shutdown.
func PurgeSecrets() {
	memguard.Purge()
}

// LoadToken resolves a credential from an environment variable or a
// file, in that order. Neither configured yields an unset secret, not
// an error.
func LoadToken(envVar, file string) (*Secret, error) {
	if envVar != "" {
		if v := os.Getenv(envVar); v != "" {
			return NewSecret([]byte(v)), nil
		}
	}
	if file != "" {
		data, err := os.ReadFile(file)
		if err != nil {
			return nil, fmt.Errorf("failed to read the token file %s: %w", file, err)
		}
		return NewSecret(bytes.TrimSpace(data)), nil
	}
	return &Secret{}, nil
}

// Token resolves the webhook bearer token.
func (w WebhookConfig) Token() (*Secret, error) {
	return LoadToken(w.TokenEnv, w.TokenFile)
}

// Token resolves the InfluxDB API token.
func (i InfluxConfig) Token() (*Secret, error) {
	return LoadToken(i.TokenEnv, i.TokenFile)
}
