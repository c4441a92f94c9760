package stream

import (
	"context"
	"errors"
	"iter"
	"strings"
	"sync"
	"testing"
	"time"

	"OnchainAgent/internal/agent"
	"OnchainAgent/internal/llm"
	"OnchainAgent/internal/registry"
	"OnchainAgent/internal/storage"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var tokenAddress = "0x" + strings.Repeat("A", 40)

func steps(events []agent.StepEvent, tail error) iter.Seq2[agent.StepEvent, error] {
	return func(yield func(agent.StepEvent, error) bool) {
		for _, ev := range events {
			if !yield(ev, nil) {
				return
			}
		}
		if tail != nil {
			yield(agent.StepEvent{}, tail)
		}
	}
}

func collect(seq iter.Seq[Message]) []Message {
	var out []Message
	for msg := range seq {
		out = append(out, msg)
	}
	return out
}

type recordCall struct {
	kind     registry.Kind
	address  string
	ctxAlive bool
	deadline bool
}

type fakeRecorder struct {
	mu    sync.Mutex
	calls []recordCall
}

func (f *fakeRecorder) Record(ctx context.Context, kind registry.Kind, address string) bool {
	_, hasDeadline := ctx.Deadline()
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, recordCall{kind: kind, address: address, ctxAlive: ctx.Err() == nil, deadline: hasDeadline})
	return true
}

func TestDeployStepIsStreamedAndRecorded(t *testing.T) {
	reg := registry.New(storage.NewMemoryStore())
	mux := NewMultiplexer(reg)

	session := mux.Open(context.Background(), steps([]agent.StepEvent{
		{Kind: agent.StepAssistant, Text: "Deploying token..."},
		{Kind: agent.StepToolResult, ToolName: agent.ActionDeployToken, Text: "Deployed at " + tokenAddress},
	}, nil))
	got := collect(session.Messages())

	require.Len(t, got, 2)
	assert.Equal(t, Message{Event: EventAgent, Content: "Deploying token..."}, got[0])
	assert.Equal(t, EventTools, got[1].Event)
	assert.Equal(t, []string{"deploy_token"}, got[1].Functions)
	assert.Equal(t, StateDone, session.State())

	tokens, err := reg.List(context.Background(), registry.KindToken)
	require.NoError(t, err)
	assert.Equal(t, []string{tokenAddress}, tokens)
}

func TestEngineErrorEndsStreamWithOneErrorMessage(t *testing.T) {
	mux := NewMultiplexer(nil)
	pulled := 0
	seq := func(yield func(agent.StepEvent, error) bool) {
		pulled++
		if !yield(agent.StepEvent{Kind: agent.StepAssistant, Text: "thinking"}, nil) {
			return
		}
		pulled++
		if !yield(agent.StepEvent{}, errors.New("timeout")) {
			return
		}
		pulled++
		yield(agent.StepEvent{Kind: agent.StepAssistant, Text: "never"}, nil)
	}

	session := mux.Open(context.Background(), seq)
	got := collect(session.Messages())

	require.Len(t, got, 2)
	assert.Equal(t, EventAgent, got[0].Event)
	assert.Equal(t, Message{Event: EventError, Content: "Error: timeout"}, got[1])
	assert.Equal(t, StateFailed, session.State())
	assert.Equal(t, 2, pulled, "multiplexer must stop pulling after an error")
}

func TestDeployWithoutAddressLeavesRegistryUnchanged(t *testing.T) {
	rec := &fakeRecorder{}
	mux := NewMultiplexer(rec)

	got := collect(mux.Run(context.Background(), steps([]agent.StepEvent{
		{Kind: agent.StepToolResult, ToolName: agent.ActionDeployNFT, Text: "deployment pending, no receipt yet"},
	}, nil)))

	require.Len(t, got, 1)
	assert.Equal(t, EventTools, got[0].Event)
	assert.Equal(t, []string{"deploy_nft"}, got[0].Functions)
	assert.Empty(t, rec.calls)
}

func TestConcurrentConversationsDeployingSameAddress(t *testing.T) {
	reg := registry.New(storage.NewMemoryStore())
	mux := NewMultiplexer(reg)

	var wg sync.WaitGroup
	for i := 0; i < 2; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			collect(mux.Run(context.Background(), steps([]agent.StepEvent{
				{Kind: agent.StepToolResult, ToolName: agent.ActionDeployToken, Text: "Deployed token at " + tokenAddress},
			}, nil)))
		}()
	}
	wg.Wait()

	tokens, err := reg.List(context.Background(), registry.KindToken)
	require.NoError(t, err)
	assert.Equal(t, []string{tokenAddress}, tokens)
}

func TestEmptyAndNonDeployStepsAreNotRecorded(t *testing.T) {
	rec := &fakeRecorder{}
	mux := NewMultiplexer(rec)

	got := collect(mux.Run(context.Background(), steps([]agent.StepEvent{
		{Kind: agent.StepAssistant, Text: ""},
		{Kind: agent.StepToolResult, ToolName: "get_balance", Text: "balance of " + tokenAddress + " is 1 ETH"},
		{Kind: agent.StepToolResult, ToolName: agent.ActionDeployToken, Text: ""},
	}, nil)))

	require.Len(t, got, 1)
	assert.Equal(t, []string{"get_balance"}, got[0].Functions)
	assert.Empty(t, rec.calls)
}

func TestWhitespaceTextIsStillEmitted(t *testing.T) {
	got := collect(NewMultiplexer(nil).Run(context.Background(), steps([]agent.StepEvent{
		{Kind: agent.StepAssistant, Text: "   \n"},
	}, nil)))

	require.Len(t, got, 1)
	assert.Equal(t, Message{Event: EventAgent, Content: "   \n"}, got[0])
}

func TestExecutorModelFailureStreamsCauseMessage(t *testing.T) {
	calls := 0
	model := llm.ChatModelFunc(func(context.Context, llm.ChatRequest) (*llm.ChatResponse, error) {
		calls++
		if calls == 1 {
			return &llm.ChatResponse{
				Text:      "checking balance",
				ToolCalls: []llm.ToolCall{{Name: "get_balance"}},
			}, nil
		}
		return nil, errors.New("timeout")
	})
	exec := agent.NewExecutor(model, nil)

	session := NewMultiplexer(nil).Open(context.Background(), exec.RunStep(context.Background(), "balance?", "s1"))
	got := collect(session.Messages())

	require.Len(t, got, 3)
	assert.Equal(t, EventAgent, got[0].Event)
	assert.Equal(t, EventTools, got[1].Event)
	assert.Equal(t, Message{Event: EventError, Content: "Error: timeout"}, got[2])
	assert.Equal(t, StateFailed, session.State())
}

func TestRecordingSurvivesConsumerStop(t *testing.T) {
	rec := &fakeRecorder{}
	mux := NewMultiplexer(rec, WithRecordTimeout(time.Second))
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	session := mux.Open(ctx, steps([]agent.StepEvent{
		{Kind: agent.StepToolResult, ToolName: agent.ActionDeployToken, Text: "Deployed at " + tokenAddress},
		{Kind: agent.StepAssistant, Text: "unreachable"},
	}, nil))
	for range session.Messages() {
		cancel()
		break
	}

	assert.Equal(t, StateCanceled, session.State())
	require.Len(t, rec.calls, 1)
	assert.Equal(t, registry.KindToken, rec.calls[0].kind)
	assert.True(t, rec.calls[0].ctxAlive, "record must run on a context detached from the request")
	assert.True(t, rec.calls[0].deadline, "record must be bounded by a timeout")
}

func TestCancellationErrorIsNotSurfaced(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	mux := NewMultiplexer(nil)

	session := mux.Open(ctx, steps([]agent.StepEvent{{Kind: agent.StepAssistant, Text: "partial"}}, context.Canceled))
	got := collect(session.Messages())

	require.Len(t, got, 1)
	assert.Equal(t, EventAgent, got[0].Event)
	assert.Equal(t, StateCanceled, session.State())
}

func TestSessionIsSinglePass(t *testing.T) {
	mux := NewMultiplexer(nil)
	session := mux.Open(context.Background(), steps([]agent.StepEvent{{Kind: agent.StepAssistant, Text: "hi"}}, nil))

	assert.Len(t, collect(session.Messages()), 1)
	assert.Empty(t, collect(session.Messages()))
}

func TestInvalidUTF8IsReplacedBeforeEmit(t *testing.T) {
	got := collect(NewMultiplexer(nil).Run(context.Background(), steps([]agent.StepEvent{
		{Kind: agent.StepAssistant, Text: "bad\xffbyte"},
	}, nil)))

	require.Len(t, got, 1)
	assert.Equal(t, "bad�byte", got[0].Content)

	decoded, err := Decode(got[0].Encode())
	require.NoError(t, err)
	assert.Equal(t, got[0], decoded)
}
