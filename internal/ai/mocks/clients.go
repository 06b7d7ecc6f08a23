package mocks

import (
	"context"

	"github.com/stretchr/testify/mock"

	"storybook-server/internal/ai"
)

// MockTextClient is a mock type for the TextClient type
type MockTextClient struct {
	mock.Mock
}

// GenerateText provides a mock function with given fields: ctx, userID, systemPrompt, userInput, params
func (_m *MockTextClient) GenerateText(ctx context.Context, userID string, systemPrompt string, userInput string, params ai.GenerationParams) (string, ai.UsageInfo, error) {
	ret := _m.Called(ctx, userID, systemPrompt, userInput, params)

	var r0 string
	if ret.Get(0) != nil {
		r0 = ret.Get(0).(string)
	}
	var r1 ai.UsageInfo
	if ret.Get(1) != nil {
		r1 = ret.Get(1).(ai.UsageInfo)
	}
	return r0, r1, ret.Error(2)
}

// GenerateWithImage provides a mock function with given fields: ctx, userID, systemPrompt, userInput, imageDataURL, params
func (_m *MockTextClient) GenerateWithImage(ctx context.Context, userID string, systemPrompt string, userInput string, imageDataURL string, params ai.GenerationParams) (string, ai.UsageInfo, error) {
	ret := _m.Called(ctx, userID, systemPrompt, userInput, imageDataURL, params)

	var r0 string
	if ret.Get(0) != nil {
		r0 = ret.Get(0).(string)
	}
	var r1 ai.UsageInfo
	if ret.Get(1) != nil {
		r1 = ret.Get(1).(ai.UsageInfo)
	}
	return r0, r1, ret.Error(2)
}

// NewMockTextClient creates a new instance of MockTextClient. It also registers a testing interface on the mock and a cleanup function to assert the mocks expectations.
// The first argument is typically a *testing.T value.
func NewMockTextClient(t interface {
	mock.TestingT
	Helper()
}) *MockTextClient {
	m := &MockTextClient{}
	m.Mock.Test(t)
	t.Helper()
	return m
}

var _ ai.TextClient = (*MockTextClient)(nil)

// MockImageClient is a mock type for the ImageClient type
type MockImageClient struct {
	mock.Mock
}

// GenerateImage provides a mock function with given fields: ctx, userID, prompt
func (_m *MockImageClient) GenerateImage(ctx context.Context, userID string, prompt string) (string, error) {
	ret := _m.Called(ctx, userID, prompt)

	var r0 string
	if ret.Get(0) != nil {
		r0 = ret.Get(0).(string)
	}
	return r0, ret.Error(1)
}

// NewMockImageClient creates a new instance of MockImageClient.
func NewMockImageClient(t interface {
	mock.TestingT
	Helper()
}) *MockImageClient {
	m := &MockImageClient{}
	m.Mock.Test(t)
	t.Helper()
	return m
}

var _ ai.ImageClient = (*MockImageClient)(nil)

// MockSpeechClient is a mock type for the SpeechClient type
type MockSpeechClient struct {
	mock.Mock
}

// GenerateSpeech provides a mock function with given fields: ctx, userID, text
func (_m *MockSpeechClient) GenerateSpeech(ctx context.Context, userID string, text string) (string, error) {
	ret := _m.Called(ctx, userID, text)

	var r0 string
	if ret.Get(0) != nil {
		r0 = ret.Get(0).(string)
	}
	return r0, ret.Error(1)
}

// NewMockSpeechClient creates a new instance of MockSpeechClient.
func NewMockSpeechClient(t interface {
	mock.TestingT
	Helper()
}) *MockSpeechClient {
	m := &MockSpeechClient{}
	m.Mock.Test(t)
	t.Helper()
	return m
}

var _ ai.SpeechClient = (*MockSpeechClient)(nil)

// MockVideoClient is a mock type for the VideoClient type
type MockVideoClient struct {
	mock.Mock
}

// GenerateVideo provides a mock function with given fields: ctx, userID, prompt, referenceImageDataURL
func (_m *MockVideoClient) GenerateVideo(ctx context.Context, userID string, prompt string, referenceImageDataURL string) (string, error) {
	ret := _m.Called(ctx, userID, prompt, referenceImageDataURL)

	var r0 string
	if ret.Get(0) != nil {
		r0 = ret.Get(0).(string)
	}
	return r0, ret.Error(1)
}

// NewMockVideoClient creates a new instance of MockVideoClient.
func NewMockVideoClient(t interface {
	mock.TestingT
	Helper()
}) *MockVideoClient {
	m := &MockVideoClient{}
	m.Mock.Test(t)
	t.Helper()
	return m
}

var _ ai.VideoClient = (*MockVideoClient)(nil)
