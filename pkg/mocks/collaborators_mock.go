// Package mocks provides testify mock implementations of the engine's
// collaborator and store interfaces.
package mocks

import (
	"context"

	"github.com/stretchr/testify/mock"
)

// MockMessenger is a mock implementation of executor.Messenger.
type MockMessenger struct {
	mock.Mock
}

func (m *MockMessenger) SendEmail(ctx context.Context, identity, template string, variables map[string]any) error {
	args := m.Called(ctx, identity, template, variables)

	return args.Error(0)
}

func (m *MockMessenger) SendSMS(ctx context.Context, identity, template string, variables map[string]any) error {
	args := m.Called(ctx, identity, template, variables)

	return args.Error(0)
}

// MockTagStore is a mock implementation of executor.TagStore.
type MockTagStore struct {
	mock.Mock
}

func (m *MockTagStore) AddTag(ctx context.Context, identity, tag string) error {
	args := m.Called(ctx, identity, tag)

	return args.Error(0)
}

func (m *MockTagStore) RemoveTag(ctx context.Context, identity, tag string) error {
	args := m.Called(ctx, identity, tag)

	return args.Error(0)
}

// MockWebhookCaller is a mock implementation of executor.WebhookCaller.
type MockWebhookCaller struct {
	mock.Mock
}

func (m *MockWebhookCaller) Post(ctx context.Context, url string, payload map[string]any) (int, error) {
	args := m.Called(ctx, url, payload)

	return args.Int(0), args.Error(1)
}

// MockSubjectAttributes is a mock implementation of
// executor.SubjectAttributes.
type MockSubjectAttributes struct {
	mock.Mock
}

func (m *MockSubjectAttributes) Attributes(ctx context.Context, identity string) (map[string]any, error) {
	args := m.Called(ctx, identity)

	if args.Get(0) == nil {
		return nil, args.Error(1)
	}

	return args.Get(0).(map[string]any), args.Error(1)
}
