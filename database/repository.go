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

package database

import (
	"context"
	"time"

	"github.com/sunogate/sunogate/model"
)

// IDataSource defines the interface for data source operations, grouping related functionalities.
type IDataSource interface {
	credential
}

// credential defines methods for handling the credential pool.
type credential interface {
	AddCredentials(ctx context.Context, secrets []string, remainingUses int) (int64, error)  // Inserts new credentials, updating the balance of existing ones
	UpdateCredential(ctx context.Context, secret string, remainingUses int) error            // Sets the remaining balance of one credential
	DeleteCredential(ctx context.Context, secret string) error                               // Removes one credential from the pool
	ClaimCredential(ctx context.Context) (*model.Credential, error)                          // Atomically claims one usable credential and decrements it
	ReleaseCredential(ctx context.Context, secret string) error                              // Returns a claimed credential to the pool
	SetRemainingUses(ctx context.Context, secret string, remainingUses int) error            // Overwrites a credential's balance after a refresh
	AdjustBalance(ctx context.Context, secret string, delta int) error                       // Applies a signed delta to a credential's balance, clamped at zero
	GetCredential(ctx context.Context, secret string) (*model.Credential, error)             // Retrieves one credential by secret
	GetAllCredentials(ctx context.Context) ([]model.Credential, error)                       // Retrieves every credential in the pool
	GetExhaustedCredentials(ctx context.Context) ([]model.Credential, error)                 // Retrieves credentials with no balance left
	GetPoolStats(ctx context.Context) (*model.PoolStats, error)                              // Aggregates remaining uses and valid/invalid counts
	ReleaseStaleClaims(ctx context.Context, olderThan time.Duration) (int64, error)          // Frees claims whose holder never released them
}
