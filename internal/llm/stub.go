package llm

import (
	"context"
	"sync"
)

// StubClient is a scripted Client for tests and the "stub" provider.
// Responses are served in order; once the script is exhausted the final
// entry repeats. An entry with a non-nil error fails that call.
type StubClient struct {
	mu      sync.Mutex
	script  []StubReply
	pos     int
	Prompts []string // every prompt received, in call order
}

// StubReply is one scripted completion result.
type StubReply struct {
	Text string
	Err  error
}

// NewStubClient builds a stub that replies with the given texts in order.
func NewStubClient(texts ...string) *StubClient {
	replies := make([]StubReply, 0, len(texts))
	for _, t := range texts {
		replies = append(replies, StubReply{Text: t})
	}
	return &StubClient{script: replies}
}

// NewFailingStub builds a stub whose every call fails with err.
func NewFailingStub(err error) *StubClient {
	return &StubClient{script: []StubReply{{Err: err}}}
}

// Complete implements Client.
func (s *StubClient) Complete(ctx context.Context, prompt string, opts Options) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	s.Prompts = append(s.Prompts, prompt)
	if len(s.script) == 0 {
		return "", &Failure{Kind: FailServiceError}
	}
	reply := s.script[s.pos]
	if s.pos < len(s.script)-1 {
		s.pos++
	}
	if reply.Err != nil {
		return "", reply.Err
	}
	return reply.Text, nil
}

// Calls returns how many completions have been requested.
func (s *StubClient) Calls() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.Prompts)
}
