package platform

import (
	"context"
	"errors"
	"sync"
)

var ErrMockFailure = errors.New("mock platform failure")

// A recorded call against MockPlatform.
type MockCall struct {
	AccountID string
	// recipient, comment or candidate ID, depending on the operation
	Target string
	Text   string
}

// In-memory Platform for tests and local development. Everything succeeds unless configured otherwise.
type MockPlatform struct {
	mu sync.Mutex

	// candidate IDs which follow every account
	Followers   map[string]bool
	FailDMs     bool
	FailReplies bool
	FailFollows bool

	DMs          []MockCall
	Replies      []MockCall
	FollowChecks []MockCall
}

var _ Platform = (*MockPlatform)(nil)

func NewMockPlatform() *MockPlatform {
	return &MockPlatform{Followers: make(map[string]bool)}
}

func (m *MockPlatform) SetFollower(candidateID string, following bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.Followers[candidateID] = following
}

func (m *MockPlatform) SetFailDMs(fail bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.FailDMs = fail
}

func (m *MockPlatform) SendDirectMessage(ctx context.Context, creds Credentials, recipientID, text string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.FailDMs {
		return false, ErrMockFailure
	}
	m.DMs = append(m.DMs, MockCall{AccountID: creds.AccountID, Target: recipientID, Text: text})
	return true, nil
}

func (m *MockPlatform) PostCommentReply(ctx context.Context, creds Credentials, commentID, text string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.FailReplies {
		return false, ErrMockFailure
	}
	m.Replies = append(m.Replies, MockCall{AccountID: creds.AccountID, Target: commentID, Text: text})
	return true, nil
}

func (m *MockPlatform) GetFollowStatus(ctx context.Context, creds Credentials, candidateID string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.FollowChecks = append(m.FollowChecks, MockCall{AccountID: creds.AccountID, Target: candidateID})
	if m.FailFollows {
		return false, ErrMockFailure
	}
	return m.Followers[candidateID], nil
}

func (m *MockPlatform) DMCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.DMs)
}

func (m *MockPlatform) ReplyCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.Replies)
}

func (m *MockPlatform) FollowCheckCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.FollowChecks)
}
