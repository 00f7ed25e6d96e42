// Package conversation implements the text modes of the client: plain chat
// with a language model and web-grounded search.
//
// A [Service] keeps the in-memory history of one mode and serialises
// requests to its backend. Provider failures never surface as errors to
// the caller; they become an assistant message carrying a fixed failure
// text, so the history always alternates user turn and reply.
package conversation

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"

	"github.com/MrWong99/parley/internal/observe"
	"github.com/MrWong99/parley/pkg/provider/llm"
	"github.com/MrWong99/parley/pkg/provider/search"
)

var (
	// ErrEmptyMessage is returned by [Service.Send] for blank input.
	ErrEmptyMessage = errors.New("conversation: empty message")

	// ErrBusy is returned by [Service.Send] while a request is in flight.
	ErrBusy = errors.New("conversation: request in flight")
)

// Mode selects the backend of a [Service].
type Mode int

const (
	ModeChat Mode = iota
	ModeSearch
)

// String returns "chat" or "search".
func (m Mode) String() string {
	switch m {
	case ModeChat:
		return "chat"
	case ModeSearch:
		return "search"
	default:
		return "unknown"
	}
}

// Message roles.
const (
	RoleUser      = "user"
	RoleAssistant = "assistant"
)

// Message is one entry of a conversation history.
type Message struct {
	ID        string
	Role      string
	Content   string
	Timestamp time.Time

	// Sources lists the web pages a search answer was grounded on. Nil for
	// chat replies and for answers without grounding.
	Sources []search.Source

	// Failed marks an assistant message that carries the failure text
	// instead of a backend reply.
	Failed bool
}

// Texts are the instruction and canned replies of a mode.
type Texts struct {
	// SystemInstruction is sent with every request.
	SystemInstruction string

	// Empty replaces a reply without text.
	Empty string

	// Failure replaces the reply when the backend request fails.
	Failure string
}

// DefaultChatTexts returns the built-in texts of [ModeChat].
func DefaultChatTexts() Texts {
	return Texts{
		SystemInstruction: "You are a professional and friendly assistant. Keep your answers brief and to the point.",
		Empty:             "Sorry, I could not process your request.",
		Failure:           "An error occurred while contacting the assistant. Please try again.",
	}
}

// DefaultSearchTexts returns the built-in texts of [ModeSearch].
func DefaultSearchTexts() Texts {
	return Texts{
		SystemInstruction: "You are an information assistant. Use Google Search to answer with up-to-date data and keep the answer concise.",
		Empty:             "Could not find up-to-date information for your query.",
		Failure:           "An error occurred while searching. Please try again.",
	}
}

func (t Texts) withDefaults(def Texts) Texts {
	if t.SystemInstruction == "" {
		t.SystemInstruction = def.SystemInstruction
	}
	if t.Empty == "" {
		t.Empty = def.Empty
	}
	if t.Failure == "" {
		t.Failure = def.Failure
	}
	return t
}

// defaultBudgetRatio is the share of the model's context window the chat
// history may fill.
const defaultBudgetRatio = 0.75

// Option configures a [Service].
type Option func(*Service)

// WithTexts overrides the mode's texts. Empty fields keep their defaults.
func WithTexts(t Texts) Option {
	return func(s *Service) { s.texts = t }
}

// WithHistoryLimit caps the number of prior messages sent with a chat
// request. Zero sends all of them, subject to the token budget.
func WithHistoryLimit(n int) Option {
	return func(s *Service) {
		if n >= 0 {
			s.historyLimit = n
		}
	}
}

// WithBudgetRatio sets the share of the context window the chat history
// may fill. Values outside (0, 1] are ignored.
func WithBudgetRatio(r float64) Option {
	return func(s *Service) {
		if r > 0 && r <= 1 {
			s.budgetRatio = r
		}
	}
}

// WithProviderName labels provider metrics. Defaults to the mode name.
func WithProviderName(name string) Option {
	return func(s *Service) {
		if name != "" {
			s.providerName = name
		}
	}
}

// WithMetrics sets the metrics sink. Defaults to [observe.DefaultMetrics].
func WithMetrics(m *observe.Metrics) Option {
	return func(s *Service) {
		if m != nil {
			s.metrics = m
		}
	}
}

// WithClock replaces time.Now for message timestamps and latency.
func WithClock(now func() time.Time) Option {
	return func(s *Service) {
		if now != nil {
			s.now = now
		}
	}
}

// Service runs one text mode. All methods are safe for concurrent use.
type Service struct {
	mode   Mode
	chat   llm.Provider
	search search.Provider

	def          Texts
	budgetRatio  float64
	providerName string
	metrics      *observe.Metrics
	now          func() time.Time

	mu           sync.Mutex
	texts        Texts
	historyLimit int
	history      []Message
	inFlight     bool
}

// turn is the input of one backend request, captured under the lock.
type turn struct {
	prior []Message
	text  string
	texts Texts
	limit int
}

// NewChat creates a [ModeChat] service backed by p.
func NewChat(p llm.Provider, opts ...Option) *Service {
	return newService(ModeChat, DefaultChatTexts(), opts, func(s *Service) { s.chat = p })
}

// NewSearch creates a [ModeSearch] service backed by p.
func NewSearch(p search.Provider, opts ...Option) *Service {
	return newService(ModeSearch, DefaultSearchTexts(), opts, func(s *Service) { s.search = p })
}

func newService(mode Mode, def Texts, opts []Option, bind func(*Service)) *Service {
	s := &Service{
		mode:         mode,
		def:          def,
		texts:        def,
		budgetRatio:  defaultBudgetRatio,
		providerName: mode.String(),
		now:          time.Now,
	}
	bind(s)
	for _, o := range opts {
		o(s)
	}
	s.texts = s.texts.withDefaults(def)
	if s.metrics == nil {
		s.metrics = observe.DefaultMetrics()
	}
	return s
}

// Mode returns the mode of the service.
func (s *Service) Mode() Mode { return s.mode }

// SetTexts replaces the mode's texts for later requests. Empty fields take
// the built-in defaults.
func (s *Service) SetTexts(t Texts) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.texts = t.withDefaults(s.def)
}

// SetHistoryLimit changes the history cap for later requests. Negative
// values are ignored.
func (s *Service) SetHistoryLimit(n int) {
	if n < 0 {
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.historyLimit = n
}

// Busy reports whether a request is in flight.
func (s *Service) Busy() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.inFlight
}

// Send appends text as a user turn, asks the backend, and appends and
// returns the reply. The text is trimmed first.
//
// Send returns [ErrEmptyMessage] or [ErrBusy] without touching the
// history. A failed backend request yields a reply with Failed set and a
// nil error. If ctx is cancelled the user turn stays in the history, no
// reply is appended, and the context error is returned.
func (s *Service) Send(ctx context.Context, text string) (Message, error) {
	text = strings.TrimSpace(text)
	if text == "" {
		return Message{}, ErrEmptyMessage
	}

	s.mu.Lock()
	if s.inFlight {
		s.mu.Unlock()
		return Message{}, ErrBusy
	}
	s.inFlight = true
	req := turn{
		prior: append([]Message(nil), s.history...),
		text:  text,
		texts: s.texts,
		limit: s.historyLimit,
	}
	s.history = append(s.history, s.newMessage(RoleUser, text))
	s.mu.Unlock()

	defer func() {
		s.mu.Lock()
		s.inFlight = false
		s.mu.Unlock()
	}()

	ctx, span := observe.StartSpan(ctx, "conversation."+s.mode.String(), attribute.String("mode", s.mode.String()))
	defer span.End()

	start := s.now()
	reply, err := s.ask(ctx, req)
	s.metrics.RecordConversation(ctx, s.mode.String(), s.now().Sub(start), err)

	log := observe.Logger(ctx).With("mode", s.mode.String())
	switch {
	case err != nil && ctx.Err() != nil:
		span.RecordError(err)
		return Message{}, ctx.Err()
	case err != nil:
		span.RecordError(err)
		s.metrics.RecordProviderRequest(ctx, s.providerName, s.mode.String(), "error")
		s.metrics.RecordProviderError(ctx, s.providerName, s.mode.String())
		log.Warn("conversation request failed", "err", err)
		reply = s.newMessage(RoleAssistant, req.texts.Failure)
		reply.Failed = true
	default:
		s.metrics.RecordProviderRequest(ctx, s.providerName, s.mode.String(), "ok")
		log.Debug("conversation reply", "chars", len(reply.Content), "sources", len(reply.Sources))
	}

	s.mu.Lock()
	s.history = append(s.history, reply)
	s.mu.Unlock()
	return reply, nil
}

func (s *Service) ask(ctx context.Context, req turn) (Message, error) {
	if s.mode == ModeSearch {
		return s.askSearch(ctx, req)
	}
	return s.askChat(ctx, req)
}

func (s *Service) askChat(ctx context.Context, req turn) (Message, error) {
	msgs, err := s.fitHistory(req)
	if err != nil {
		return Message{}, err
	}
	resp, err := s.chat.Complete(ctx, llm.CompletionRequest{
		SystemPrompt: req.texts.SystemInstruction,
		Messages:     msgs,
	})
	if err != nil {
		return Message{}, fmt.Errorf("conversation: chat: %w", err)
	}

	content := ""
	if resp != nil {
		content = strings.TrimSpace(resp.Content)
	}
	if content == "" {
		content = req.texts.Empty
	}
	return s.newMessage(RoleAssistant, content), nil
}

func (s *Service) askSearch(ctx context.Context, req turn) (Message, error) {
	res, err := s.search.Search(ctx, search.Request{
		Query:             req.text,
		SystemInstruction: req.texts.SystemInstruction,
	})
	if err != nil {
		return Message{}, fmt.Errorf("conversation: search: %w", err)
	}

	msg := s.newMessage(RoleAssistant, req.texts.Empty)
	if res == nil {
		return msg, nil
	}
	if content := strings.TrimSpace(res.Text); content != "" {
		msg.Content = content
	}
	if len(res.Sources) > 0 {
		msg.Sources = append([]search.Source(nil), res.Sources...)
	}
	return msg, nil
}

// fitHistory converts the prior messages and appends the new user turn,
// dropping the oldest prior messages until the history limit and the token
// budget are met. The new turn is always kept. Failure replies are never
// sent back to the model.
func (s *Service) fitHistory(req turn) ([]llm.Message, error) {
	msgs := make([]llm.Message, 0, len(req.prior)+1)
	for _, m := range req.prior {
		if m.Failed {
			continue
		}
		role := llm.RoleUser
		if m.Role == RoleAssistant {
			role = llm.RoleAssistant
		}
		msgs = append(msgs, llm.Message{Role: role, Content: m.Content})
	}
	if req.limit > 0 && len(msgs) > req.limit {
		msgs = msgs[len(msgs)-req.limit:]
	}
	msgs = append(msgs, llm.Message{Role: llm.RoleUser, Content: req.text})

	window := s.chat.Capabilities().ContextWindow
	if window <= 0 {
		return msgs, nil
	}
	budget := int(float64(window) * s.budgetRatio)
	system := llm.Message{Role: llm.RoleSystem, Content: req.texts.SystemInstruction}

	for len(msgs) > 1 {
		n, err := s.chat.CountTokens(append([]llm.Message{system}, msgs...))
		if err != nil {
			return nil, fmt.Errorf("conversation: count tokens: %w", err)
		}
		if n <= budget {
			break
		}
		msgs = msgs[1:]
	}
	return msgs, nil
}

func (s *Service) newMessage(role, content string) Message {
	return Message{
		ID:        uuid.NewString(),
		Role:      role,
		Content:   content,
		Timestamp: s.now(),
	}
}

// History returns a copy of the conversation so far.
func (s *Service) History() []Message {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]Message, len(s.history))
	copy(out, s.history)
	return out
}

// Clear empties the history. A request in flight still appends its reply.
func (s *Service) Clear() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.history = nil
}
