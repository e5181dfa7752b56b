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
package mocks

import (
	"context"
	"time"

	"github.com/stretchr/testify/mock"

	"github.com/sunogate/sunogate/model"
)

// MockDataSource is a mock implementation of the IDataSource interface
type MockDataSource struct {
	mock.Mock
}

func (m *MockDataSource) AddCredentials(ctx context.Context, secrets []string, remainingUses int) (int64, error) {
	args := m.Called(ctx, secrets, remainingUses)
	return args.Get(0).(int64), args.Error(1)
}

func (m *MockDataSource) UpdateCredential(ctx context.Context, secret string, remainingUses int) error {
	args := m.Called(ctx, secret, remainingUses)
	return args.Error(0)
}

func (m *MockDataSource) DeleteCredential(ctx context.Context, secret string) error {
	args := m.Called(ctx, secret)
	return args.Error(0)
}

func (m *MockDataSource) ClaimCredential(ctx context.Context) (*model.Credential, error) {
	args := m.Called(ctx)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*model.Credential), args.Error(1)
}

func (m *MockDataSource) ReleaseCredential(ctx context.Context, secret string) error {
	args := m.Called(ctx, secret)
	return args.Error(0)
}

func (m *MockDataSource) SetRemainingUses(ctx context.Context, secret string, remainingUses int) error {
	args := m.Called(ctx, secret, remainingUses)
	return args.Error(0)
}

func (m *MockDataSource) AdjustBalance(ctx context.Context, secret string, delta int) error {
	args := m.Called(ctx, secret, delta)
	return args.Error(0)
}

func (m *MockDataSource) GetCredential(ctx context.Context, secret string) (*model.Credential, error) {
	args := m.Called(ctx, secret)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*model.Credential), args.Error(1)
}

func (m *MockDataSource) GetAllCredentials(ctx context.Context) ([]model.Credential, error) {
	args := m.Called(ctx)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]model.Credential), args.Error(1)
}

func (m *MockDataSource) GetExhaustedCredentials(ctx context.Context) ([]model.Credential, error) {
	args := m.Called(ctx)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]model.Credential), args.Error(1)
}

func (m *MockDataSource) GetPoolStats(ctx context.Context) (*model.PoolStats, error) {
	args := m.Called(ctx)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*model.PoolStats), args.Error(1)
}

func (m *MockDataSource) ReleaseStaleClaims(ctx context.Context, olderThan time.Duration) (int64, error) {
	args := m.Called(ctx, olderThan)
	return args.Get(0).(int64), args.Error(1)
}
