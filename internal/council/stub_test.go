package council

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"llmcouncil/internal/core"
)

// stubBehavior scripts one model's reaction.
type stubBehavior struct {
	answer string
	fail   string
	delay  time.Duration
	hang   bool
	panic  bool
	// reply, when set, computes the answer from the prompt.
	reply func(history []core.Message) string
}

// stubInvoker replays scripted behaviors and records every call.
type stubInvoker struct {
	behaviors map[string]stubBehavior
	calls     atomic.Int64

	mu       sync.Mutex
	prompts  map[string][][]core.Message
	inFlight int
	peak     int
}

func newStubInvoker(behaviors map[string]stubBehavior) *stubInvoker {
	return &stubInvoker{behaviors: behaviors, prompts: make(map[string][][]core.Message)}
}

func (s *stubInvoker) Invoke(ctx context.Context, spec core.ModelSpec, history []core.Message, timeout time.Duration) core.InvocationResult {
	s.calls.Add(1)
	s.mu.Lock()
	s.prompts[spec.Name] = append(s.prompts[spec.Name], history)
	s.inFlight++
	if s.inFlight > s.peak {
		s.peak = s.inFlight
	}
	s.mu.Unlock()
	defer func() {
		s.mu.Lock()
		s.inFlight--
		s.mu.Unlock()
	}()

	b, ok := s.behaviors[spec.Name]
	if !ok {
		return core.Failure("unknown model " + spec.Name)
	}
	if b.panic {
		panic("stub panic for " + spec.Name)
	}

	callCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	if b.hang {
		<-callCtx.Done()
		if ctx.Err() != nil {
			return core.Failure("cancelled")
		}
		return core.Failuref("%s after %v", core.TimeoutReasonPrefix, timeout)
	}
	if b.delay > 0 {
		select {
		case <-time.After(b.delay):
		case <-callCtx.Done():
			return core.Failuref("%s after %v", core.TimeoutReasonPrefix, timeout)
		}
	}
	if b.fail != "" {
		return core.Failure(b.fail)
	}
	if b.reply != nil {
		return core.Success(b.reply(history))
	}
	return core.Success(b.answer)
}

func (s *stubInvoker) promptsFor(name string) [][]core.Message {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([][]core.Message(nil), s.prompts[name]...)
}

func specs(names ...string) []core.ModelSpec {
	roster := make([]core.ModelSpec, len(names))
	for i, name := range names {
		roster[i] = core.ModelSpec{Name: name, URL: "http://stub"}
	}
	return roster
}

var question = []core.Message{{Role: core.RoleUser, Content: "What is 2+2?"}}
