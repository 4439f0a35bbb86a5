package engine

// Hook mutates outgoing requests or inspects responses at the two fixed
// invocation points. A hook returning an error fails the attempt with a
// hard-failure classification.
type Hook interface {
	BeforeSend(req *TransportRequest) error
	AfterResponse(req *TransportRequest, resp *TransportResponse) error
}

// HookChain runs hooks in registration order before sending and in reverse
// order after the response, mirroring nested middleware semantics.
type HookChain struct {
	hooks []Hook
}

func NewHookChain(hooks ...Hook) *HookChain {
	return &HookChain{hooks: hooks}
}

func (h *HookChain) Add(hook Hook) {
	h.hooks = append(h.hooks, hook)
}

func (h *HookChain) BeforeSend(req *TransportRequest) error {
	for _, hook := range h.hooks {
		if err := hook.BeforeSend(req); err != nil {
			return err
		}
	}
	return nil
}

func (h *HookChain) AfterResponse(req *TransportRequest, resp *TransportResponse) error {
	for i := len(h.hooks) - 1; i >= 0; i-- {
		if err := h.hooks[i].AfterResponse(req, resp); err != nil {
			return err
		}
	}
	return nil
}
