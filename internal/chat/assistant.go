// Package chat holds the conversation with the spending assistant.
package chat

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	validation "github.com/go-ozzo/ozzo-validation/v4"

	"ledgerlens/internal/agent"
	"ledgerlens/internal/core"
	"ledgerlens/internal/events"
	"ledgerlens/internal/log"
	"ledgerlens/internal/views"
)

// FailureReply is appended whenever the agent round trip fails.
const FailureReply = "Sorry, I couldn't process your request. Please try again."

const maxQuestionLength = 2000

var ErrBusy = errors.New("a question is already being answered")

// LedgerSource supplies the current ledger snapshot.
type LedgerSource interface {
	All() []core.Expense
}

// Notifier raises the error banner for failed queries.
type Notifier interface {
	Push(kind core.NotificationKind, message string) core.Notification
}

type Assistant struct {
	client  agent.Client
	agentID string
	ledger  LedgerSource
	notify  Notifier
	pub     events.Publisher
	logger  *log.Logger
	now     func() time.Time

	mu         sync.Mutex
	transcript []core.ChatMessage
	inflight   chan struct{}
}

func NewAssistant(client agent.Client, agentID string, ledger LedgerSource, notify Notifier, pub events.Publisher, logger *log.Logger) *Assistant {
	if pub == nil {
		pub = events.Nop{}
	}
	return &Assistant{
		client:   client,
		agentID:  agentID,
		ledger:   ledger,
		notify:   notify,
		pub:      pub,
		logger:   logger.WithComponent(log.ComponentChat),
		now:      time.Now,
		inflight: make(chan struct{}, 1),
	}
}

// Transcript returns a copy of the conversation, oldest first.
func (a *Assistant) Transcript() []core.ChatMessage {
	a.mu.Lock()
	defer a.mu.Unlock()
	out := make([]core.ChatMessage, len(a.transcript))
	copy(out, a.transcript)
	return out
}

// Ask appends the question, sends it with a ledger summary and appends the
// reply. Agent failures are not returned: the failure reply is appended
// and an error banner raised instead. Only validation and ErrBusy come back
// as errors.
func (a *Assistant) Ask(ctx context.Context, question string) (core.ChatMessage, error) {
	question = strings.TrimSpace(question)
	if err := validation.Validate(question,
		validation.Required.Error("question cannot be empty"),
		validation.RuneLength(0, maxQuestionLength),
	); err != nil {
		return core.ChatMessage{}, validation.Errors{"question": err}
	}

	select {
	case a.inflight <- struct{}{}:
		defer func() { <-a.inflight }()
	default:
		return core.ChatMessage{}, ErrBusy
	}

	a.append(ctx, core.RoleUser, question)

	resp, err := agent.Call(ctx, a.client, agent.Request{
		Message: buildPrompt(question, views.Summarize(a.ledger.All())),
		AgentID: a.agentID,
	})
	reply := resp.Text()
	if err == nil && reply == "" {
		err = fmt.Errorf("%w: empty reply", agent.ErrMalformed)
	}
	if err != nil {
		a.logger.WarnContext(ctx, "Assistant query failed",
			log.FieldOperation, log.OpQuery,
			log.FieldAgentID, a.agentID,
			log.FieldError, err.Error())
		reply = FailureReply
		if a.notify != nil {
			a.notify.Push(core.NotificationError, "The assistant could not answer: "+agentReason(err))
		}
	}

	return a.append(ctx, core.RoleAssistant, reply), nil
}

func (a *Assistant) append(ctx context.Context, role core.Role, content string) core.ChatMessage {
	msg := core.ChatMessage{Role: role, Content: content, Timestamp: a.now().UTC()}
	a.mu.Lock()
	a.transcript = append(a.transcript, msg)
	a.mu.Unlock()
	a.pub.Publish(ctx, events.New(events.ChatMessage, msg))
	return msg
}

// agentReason keeps transport details out of the banner.
func agentReason(err error) string {
	switch {
	case errors.Is(err, context.DeadlineExceeded):
		return "the request timed out."
	case errors.Is(err, agent.ErrMalformed):
		return "the reply was empty or unreadable."
	default:
		return "the service is unavailable."
	}
}

func buildPrompt(question, summary string) string {
	var b strings.Builder
	b.WriteString("You are a personal finance assistant. Answer the user's question using only the expense data below. ")
	b.WriteString("Amounts are in the user's currency. Be concise.\n\n")
	b.WriteString("Expense data:\n")
	b.WriteString(summary)
	b.WriteString("\nQuestion: ")
	b.WriteString(question)
	return b.String()
}
