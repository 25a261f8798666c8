package protocol

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/commlink-dev/commlink/bus"
	"github.com/commlink-dev/commlink/envelope"
	"github.com/commlink-dev/commlink/errors"
	"github.com/commlink-dev/commlink/logging"
	"github.com/commlink-dev/commlink/registry"
)

// KindHandler processes a received envelope of one message kind and returns
// an optional result payload.
type KindHandler func(ctx context.Context, env *envelope.Envelope) (map[string]interface{}, error)

// Status classifies the outcome of ReceiveMessage.
type Status string

const (
	StatusHandled        Status = "handled"
	StatusExpired        Status = "expired"
	StatusWrongRecipient Status = "wrong_recipient"
	StatusNoHandler      Status = "no_handler"
)

// HandlerResult is the outcome of one handler invocation.
type HandlerResult struct {
	Output map[string]interface{}
	Err    error
}

// Result aggregates the outcome of receiving one envelope.
type Result struct {
	Status  Status
	Results []HandlerResult
}

// Agent is the per-agent protocol facade. It builds envelopes, drives the
// bus, and dispatches received envelopes through a per-kind handler table.
type Agent struct {
	id        string
	agentType string
	bus       *bus.Bus
	log       *logging.Logger

	protocol  envelope.Protocol
	transport envelope.TransportKind

	mu       sync.RWMutex
	handlers map[envelope.Kind][]KindHandler
	closed   bool
}

// Option configures an Agent.
type Option func(*Agent)

// WithProtocol sets the protocol tag stamped on outgoing envelopes.
func WithProtocol(p envelope.Protocol) Option {
	return func(a *Agent) { a.protocol = p }
}

// WithTransport sets the transport tag stamped on outgoing envelopes.
func WithTransport(t envelope.TransportKind) Option {
	return func(a *Agent) { a.transport = t }
}

// WithLogger sets the facade logger.
func WithLogger(l *logging.Logger) Option {
	return func(a *Agent) { a.log = l }
}

// NewAgent creates a facade for one agent, registers the agent with the
// bus's registry, and routes the agent's own id to it.
func NewAgent(id, agentType string, b *bus.Bus, opts ...Option) (*Agent, error) {
	if id == "" {
		return nil, errors.Malformed("empty agent id")
	}
	if id == envelope.BroadcastDestination {
		return nil, errors.Malformed("agent id collides with broadcast destination")
	}

	a := &Agent{
		id:        id,
		agentType: agentType,
		bus:       b,
		protocol:  envelope.ProtocolAgent,
		transport: envelope.TransportInProc,
		handlers:  make(map[envelope.Kind][]KindHandler),
	}
	for _, opt := range opts {
		opt(a)
	}
	if a.log == nil {
		a.log = logging.New()
	}
	a.log = a.log.WithComponent("protocol").WithAgentID(id)

	if err := b.Registry().Register(registry.AgentInfo{ID: id, Type: agentType}); err != nil {
		return nil, err
	}
	b.Router().AddRoute(id, id)

	return a, nil
}

// ID returns the agent id this facade speaks for.
func (a *Agent) ID() string {
	return a.id
}

// Close deregisters the agent from the bus.
func (a *Agent) Close() {
	a.mu.Lock()
	a.closed = true
	a.mu.Unlock()

	a.bus.UnregisterHandler(a.id)
	a.bus.Router().RemoveRoute(a.id, a.id)
	a.bus.Registry().Deregister(a.id)
}

// SendOption configures one outgoing message.
type SendOption func(*sendOptions)

type sendOptions struct {
	priority   envelope.Priority
	protocol   envelope.Protocol
	transport  envelope.TransportKind
	ttl        time.Duration
	maxRetries int
	correlate  string
	replyTo    string
}

// WithPriority sets the message priority.
func WithPriority(p envelope.Priority) SendOption {
	return func(o *sendOptions) { o.priority = p }
}

// WithSendProtocol overrides the protocol tag for one message.
func WithSendProtocol(p envelope.Protocol) SendOption {
	return func(o *sendOptions) { o.protocol = p }
}

// WithSendTransport overrides the transport tag for one message.
func WithSendTransport(t envelope.TransportKind) SendOption {
	return func(o *sendOptions) { o.transport = t }
}

// WithTTL bounds the envelope's lifetime.
func WithTTL(ttl time.Duration) SendOption {
	return func(o *sendOptions) { o.ttl = ttl }
}

// WithMaxRetries overrides the retry budget.
func WithMaxRetries(n int) SendOption {
	return func(o *sendOptions) { o.maxRetries = n }
}

// SendMessage builds a message and envelope for one recipient and submits
// it to the bus. The boolean reports the delivery outcome; delivery-path
// failures are recovered by the bus retry loop.
func (a *Agent) SendMessage(recipient string, kind envelope.Kind, content map[string]interface{}, opts ...SendOption) bool {
	env, err := a.buildEnvelope(recipient, kind, content, opts...)
	if err != nil {
		a.log.Error("send rejected", map[string]interface{}{"error": err.Error()})
		return false
	}

	ok, err := a.bus.Send(env)
	if err != nil {
		a.log.Error("send rejected", map[string]interface{}{"error": err.Error()})
		return false
	}
	return ok
}

func (a *Agent) buildEnvelope(recipient string, kind envelope.Kind, content map[string]interface{}, opts ...SendOption) (*envelope.Envelope, error) {
	if recipient == "" {
		return nil, errors.Malformed("empty recipient")
	}
	if kind != "" && !kind.Valid() {
		return nil, errors.Malformed("unknown message kind " + string(kind))
	}

	o := sendOptions{
		priority:  envelope.PriorityNormal,
		protocol:  a.protocol,
		transport: a.transport,
	}
	for _, opt := range opts {
		opt(&o)
	}

	msg := envelope.NewMessage(a.id, recipient, kind, content)
	msg.Priority = o.priority
	msg.CorrelationID = o.correlate
	msg.ReplyTo = o.replyTo

	env := envelope.New(msg, o.protocol, o.transport)
	if o.ttl > 0 {
		env.WithTTL(o.ttl)
	}
	if o.maxRetries > 0 {
		env.MaxRetries = o.maxRetries
	}
	return env, nil
}

// BroadcastOption configures a broadcast.
type BroadcastOption func(*broadcastOptions)

type broadcastOptions struct {
	recipients []string
	typeFilter string
	sendOpts   []SendOption
}

// ToRecipients broadcasts to an explicit recipient list.
func ToRecipients(ids ...string) BroadcastOption {
	return func(o *broadcastOptions) { o.recipients = ids }
}

// ToAgentType broadcasts to all registered agents of one type.
func ToAgentType(agentType string) BroadcastOption {
	return func(o *broadcastOptions) { o.typeFilter = agentType }
}

// WithSendOptions applies per-message send options to each broadcast send.
func WithSendOptions(opts ...SendOption) BroadcastOption {
	return func(o *broadcastOptions) { o.sendOpts = opts }
}

// BroadcastMessage sends the same content individually to a target set:
// an explicit recipient list, a type-filtered registry lookup, or every
// registered agent. The sender is always excluded. Returns the number of
// successful sends.
func (a *Agent) BroadcastMessage(kind envelope.Kind, content map[string]interface{}, opts ...BroadcastOption) int {
	var o broadcastOptions
	for _, opt := range opts {
		opt(&o)
	}

	targets := o.recipients
	if targets == nil {
		var filter *registry.Filter
		if o.typeFilter != "" {
			filter = &registry.Filter{Type: o.typeFilter}
		}
		targets = a.bus.Registry().IDs(filter)
	}

	count := 0
	for _, target := range targets {
		if target == a.id {
			continue
		}
		if a.SendMessage(target, kind, content, o.sendOpts...) {
			count++
		}
	}
	return count
}

// ReplyToMessage sends a response to the sender of the original message,
// carrying correlation and reply-to links back to it.
func (a *Agent) ReplyToMessage(original *envelope.Message, content map[string]interface{}, opts ...SendOption) bool {
	if original == nil || original.SenderID == "" {
		a.log.Error("reply rejected", map[string]interface{}{"error": "original message has no sender"})
		return false
	}

	correlation := original.CorrelationID
	if correlation == "" {
		correlation = original.ID
	}

	env, err := a.buildEnvelope(original.SenderID, envelope.KindResponse, content, opts...)
	if err != nil {
		a.log.Error("reply rejected", map[string]interface{}{"error": err.Error()})
		return false
	}
	env.Message.CorrelationID = correlation
	env.Message.ReplyTo = original.ID

	ok, err := a.bus.Send(env)
	if err != nil {
		a.log.Error("reply rejected", map[string]interface{}{"error": err.Error()})
		return false
	}
	return ok
}

// RegisterMessageHandler appends a handler for a message kind. Unknown
// kinds are rejected at registration time.
func (a *Agent) RegisterMessageHandler(kind envelope.Kind, h KindHandler) error {
	if !kind.Valid() {
		return errors.Malformed("unknown message kind " + string(kind))
	}
	if h == nil {
		return errors.Malformed("nil handler for kind " + string(kind))
	}

	a.mu.Lock()
	defer a.mu.Unlock()
	a.handlers[kind] = append(a.handlers[kind], h)
	return nil
}

// UnregisterMessageHandler removes all handlers for a kind.
func (a *Agent) UnregisterMessageHandler(kind envelope.Kind) {
	a.mu.Lock()
	defer a.mu.Unlock()
	delete(a.handlers, kind)
}

// ReceiveMessage dispatches one envelope through the per-kind handler
// table. Expired envelopes and envelopes addressed to someone else are
// rejected without invoking any handler. Handler failures are recorded
// individually and do not abort the remaining handlers.
func (a *Agent) ReceiveMessage(ctx context.Context, env *envelope.Envelope) *Result {
	if env.IsExpired() {
		a.log.Debug("rejecting expired envelope", map[string]interface{}{"message_id": env.Message.ID})
		return &Result{Status: StatusExpired}
	}
	if env.Destination != a.id && env.Destination != envelope.BroadcastDestination {
		a.log.Warn("rejecting misdelivered envelope", map[string]interface{}{
			"message_id":  env.Message.ID,
			"destination": env.Destination,
		})
		return &Result{Status: StatusWrongRecipient}
	}

	a.mu.RLock()
	handlers := a.handlers[env.Message.Kind]
	a.mu.RUnlock()

	if len(handlers) == 0 {
		return &Result{Status: StatusNoHandler}
	}

	result := &Result{Status: StatusHandled}
	for _, h := range handlers {
		result.Results = append(result.Results, a.invoke(ctx, h, env))
	}
	return result
}

// invoke runs one handler, converting panics into handler errors.
func (a *Agent) invoke(ctx context.Context, h KindHandler, env *envelope.Envelope) (hr HandlerResult) {
	defer func() {
		if r := recover(); r != nil {
			hr.Err = errors.Handler(fmt.Sprintf("handler panic: %v", r),
				errors.WithAgentID(a.id), errors.WithMessageID(env.Message.ID))
			a.log.Error("handler panic", map[string]interface{}{
				"message_id": env.Message.ID,
				"panic":      fmt.Sprintf("%v", r),
			})
		}
	}()

	out, err := h(ctx, env)
	if err != nil {
		a.log.Error("handler failed", map[string]interface{}{
			"message_id": env.Message.ID,
			"kind":       string(env.Message.Kind),
			"error":      err.Error(),
		})
		return HandlerResult{Err: err}
	}
	return HandlerResult{Output: out}
}

// Listen wires the facade into the bus dispatch loop: envelopes queued for
// this agent are pulled by a bus worker and fed through ReceiveMessage.
func (a *Agent) Listen() error {
	return a.bus.RegisterHandler(a.id, func(ctx context.Context, env *envelope.Envelope) error {
		res := a.ReceiveMessage(ctx, env)
		for _, hr := range res.Results {
			if hr.Err != nil {
				return hr.Err
			}
		}
		return nil
	})
}

// Poll pulls the next envelope queued for this agent without dispatching
// it. Returns queue.ErrEmpty when nothing is queued.
func (a *Agent) Poll() (*envelope.Envelope, error) {
	return a.bus.Receive(a.id)
}

// SubscribeTopic subscribes this agent to a topic channel.
func (a *Agent) SubscribeTopic(topic string) {
	a.bus.Router().Subscribe(topic, a.id)
}

// UnsubscribeTopic removes this agent from a topic channel.
func (a *Agent) UnsubscribeTopic(topic string) {
	a.bus.Router().Unsubscribe(topic, a.id)
}
