// Adapters for the social platforms' messaging and comment APIs.
//
// Every capability reports success as a bool alongside a descriptive error. A non-2xx response or a
// transport failure is an ordinary false result, never a panic; callers decide whether to log,
// retry later, or give up.
package platform

import (
	"context"
	"fmt"
	"sort"
	"sync"
)

// Credentials for acting as a creator's platform account.
type Credentials struct {
	AccountID   string
	AccessToken string
}

type Platform interface {
	SendDirectMessage(ctx context.Context, creds Credentials, recipientID, text string) (bool, error)
	PostCommentReply(ctx context.Context, creds Credentials, commentID, text string) (bool, error)
	// Whether candidateID follows the account in creds.
	GetFollowStatus(ctx context.Context, creds Credentials, candidateID string) (bool, error)
}

// Maps platform names (as they appear on inbound events and rules) to adapters.
type Registry struct {
	mu        sync.RWMutex
	platforms map[string]Platform
}

func NewRegistry() *Registry {
	return &Registry{platforms: make(map[string]Platform)}
}

func (r *Registry) Register(name string, p Platform) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.platforms[name] = p
}

func (r *Registry) Get(name string) (Platform, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	p, ok := r.platforms[name]
	if !ok {
		return nil, fmt.Errorf("unsupported platform: %q", name)
	}
	return p, nil
}

func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]string, 0, len(r.platforms))
	for name := range r.platforms {
		out = append(out, name)
	}
	sort.Strings(out)
	return out
}
