package agent

import (
	"sync"

	xerrors "OnchainAgent/internal/errors"
)

// State 描述引擎实例的初始化状态。
type State int

const (
	StateUninitialized State = iota
	StateReady
	StateFailed
)

func (s State) String() string {
	switch s {
	case StateReady:
		return "ready"
	case StateFailed:
		return "failed"
	default:
		return "uninitialized"
	}
}

// Handle 持有进程内唯一的引擎实例，并显式记录其初始化状态。
type Handle struct {
	mu     sync.RWMutex
	state  State
	reason string
	engine Engine
}

// NewHandle 创建一个尚未初始化的句柄。
func NewHandle() *Handle {
	return &Handle{}
}

// Init 调用 build 构造引擎。失败时记录原因并进入 StateFailed，可再次调用重试。
func (h *Handle) Init(build func() (Engine, error)) error {
	engine, err := build()
	if err == nil && engine == nil {
		err = xerrors.New(xerrors.CodeInitializationFailure, "引擎构造结果为空")
	}

	h.mu.Lock()
	defer h.mu.Unlock()
	if err != nil {
		h.state = StateFailed
		h.reason = err.Error()
		h.engine = nil
		return xerrors.Wrap(xerrors.CodeInitializationFailure, err, "初始化智能体失败")
	}
	h.state = StateReady
	h.reason = ""
	h.engine = engine
	return nil
}

// Engine 返回已就绪的引擎；未就绪时返回 INITIALIZATION_FAILURE 错误。
func (h *Handle) Engine() (Engine, error) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	switch h.state {
	case StateReady:
		return h.engine, nil
	case StateFailed:
		return nil, xerrors.New(xerrors.CodeInitializationFailure, "智能体初始化失败: "+h.reason)
	default:
		return nil, xerrors.New(xerrors.CodeInitializationFailure, "智能体尚未初始化")
	}
}

// Status 返回当前状态与失败原因。
func (h *Handle) Status() (State, string) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.state, h.reason
}
