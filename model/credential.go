/*
Copyright 2024 Sunogate Authors.

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

package model

import "time"

// CredentialStatus is the lifecycle state of a pooled credential.
type CredentialStatus string

const (
	// StatusAvailable means the credential can be claimed by a job.
	StatusAvailable CredentialStatus = "available"
	// StatusClaimed means an in-flight job currently holds the credential.
	StatusClaimed CredentialStatus = "claimed"
	// StatusExhausted means the credential has no generation credits left
	// and is waiting for eviction.
	StatusExhausted CredentialStatus = "exhausted"
)

// Credential is one scraped browser session cookie plus its bookkeeping.
// At most one in-flight job holds a credential at a time; the claim is
// enforced with row-level locking in the store, not in memory.
type Credential struct {
	// Secret is the opaque session cookie string. Unique key.
	Secret string `json:"secret"`
	// RemainingUses counts generation calls left. Negative means the
	// upstream reported the account unusable; such rows are excluded from
	// allocation and eventually evicted.
	RemainingUses int              `json:"remaining_uses"`
	Status        CredentialStatus `json:"status"`
	// ClaimedAt is set when a job claims the credential and cleared on
	// release. A claim older than the stale threshold is treated as
	// abandoned by a crashed job.
	ClaimedAt   *time.Time `json:"claimed_at,omitempty"`
	LastTouched time.Time  `json:"last_touched"`
	AddedAt     time.Time  `json:"added_at"`
}

// Usable reports whether the credential could serve a generation job.
func (c *Credential) Usable() bool {
	return c.Status == StatusAvailable && c.RemainingUses > 0
}

// Exhausted reports whether the credential should be evicted.
func (c *Credential) Exhausted() bool {
	return c.RemainingUses < 0
}

// PoolStats is a snapshot of the credential pool counters exposed on the
// admin surface.
type PoolStats struct {
	TotalRemaining int `json:"total_remaining"`
	ValidCount     int `json:"valid_count"`
	InvalidCount   int `json:"invalid_count"`
}
