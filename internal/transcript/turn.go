package transcript

import (
	"fmt"

	"github.com/xaenox/aurora-bot/internal/classifier"
	"github.com/xaenox/aurora-bot/internal/models"
)

// Turn is one outgoing request and the assistant message it produces. The
// message moves pending → thinking → complete, or to failed when the stream
// breaks or the request is superseded.
type Turn struct {
	tr    *Transcript
	id    uint64
	query string
	msg   *models.Message
	path  []models.MessageStatus
}

// ID is the request id. Ids grow monotonically within a transcript.
func (u *Turn) ID() uint64 { return u.id }

func (u *Turn) Query() string { return u.query }

func (u *Turn) State() models.MessageStatus {
	u.tr.mu.Lock()
	defer u.tr.mu.Unlock()
	return u.msg.Status
}

// Snapshot returns a copy of the turn's message as it currently stands.
func (u *Turn) Snapshot() *models.Message {
	u.tr.mu.Lock()
	defer u.tr.mu.Unlock()
	return u.msg.Clone()
}

// Path lists every state the message went through, starting with pending.
func (u *Turn) Path() []models.MessageStatus {
	u.tr.mu.Lock()
	defer u.tr.mu.Unlock()
	return append([]models.MessageStatus(nil), u.path...)
}

// advanceLocked moves the message to status. A pending message always goes
// through thinking before it finishes.
func (u *Turn) advanceLocked(status models.MessageStatus) {
	if u.msg.Status == status || u.msg.Status.Terminal() {
		return
	}
	if u.msg.Status == models.StatusPending && status != models.StatusThinking {
		u.advanceLocked(models.StatusThinking)
	}
	u.msg.Status = status
	u.path = append(u.path, status)
}

// checkLocked rejects events for superseded or finished turns.
func (u *Turn) checkLocked() error {
	if u.id != u.tr.current {
		return ErrStale
	}
	if u.msg.Status.Terminal() {
		return ErrFinalized
	}
	return nil
}

// Start marks the request as sent.
func (u *Turn) Start() error {
	u.tr.mu.Lock()
	defer u.tr.mu.Unlock()

	if err := u.checkLocked(); err != nil {
		return err
	}
	u.advanceLocked(models.StatusThinking)
	return nil
}

// Apply folds one stream event into the in-flight message. Events for other
// request ids return ErrStale and leave the transcript untouched.
func (u *Turn) Apply(ev models.StreamEvent) error {
	u.tr.mu.Lock()
	defer u.tr.mu.Unlock()

	if err := u.checkLocked(); err != nil {
		return err
	}

	switch ev.Type {
	case models.EventAgentStep, models.EventToolCall, models.EventContent, models.EventComplete:
	default:
		return nil
	}

	u.advanceLocked(models.StatusThinking)
	if u.msg.Execution == nil {
		u.msg.Execution = &models.ExecutionTrace{}
	}
	now := u.tr.now().UnixMilli()

	switch ev.Type {
	case models.EventAgentStep:
		steps := u.msg.Execution.AgentSteps
		for i := range steps {
			if steps[i].Agent == ev.Agent {
				steps[i].Status = ev.Status
				return nil
			}
		}
		u.msg.Execution.AgentSteps = append(steps, models.AgentStep{
			Agent:     ev.Agent,
			Action:    ev.Action,
			Status:    ev.Status,
			Timestamp: now,
		})

	case models.EventToolCall:
		u.msg.Execution.ToolCalls = append(u.msg.Execution.ToolCalls, models.ToolCall{
			Tool:      ev.Tool,
			Params:    ev.Params,
			Status:    ev.Status,
			Timestamp: now,
		})

	case models.EventContent:
		u.msg.Content = ev.Content

	case models.EventComplete:
		u.completeLocked(ev.Response)
	}
	return nil
}

func (u *Turn) completeLocked(resp *models.ChatResponse) {
	m := u.msg
	if resp != nil {
		if resp.Response != "" {
			m.Content = resp.Response
		}
		m.Products = append([]models.Product(nil), resp.Products...)
		m.Suggestions = append([]string(nil), resp.Suggestions...)
		if resp.Execution != nil {
			m.Execution = resp.Execution.Clone()
		}
	}
	if m.Content == PlaceholderText || m.Content == "" {
		m.Content = CompletedText
	}
	if len(m.Suggestions) == 0 {
		m.Suggestions = classifier.Suggestions(u.query, len(m.Products) > 0)
	}
	if m.Execution.Empty() {
		m.Execution = nil
	}
	if m.Execution != nil && len(m.Execution.AgentSteps) > 0 {
		m.Agent = classifier.AgentOrchestrator
	} else {
		m.Agent = classifier.AgentFor(u.query)
	}

	u.advanceLocked(models.StatusComplete)
	u.tr.active = nil
}

// Fail ends a request that did not complete. The placeholder is dropped and a
// generic failure message with status failed takes its place.
func (u *Turn) Fail() (*models.Message, error) {
	u.tr.mu.Lock()
	defer u.tr.mu.Unlock()

	if err := u.checkLocked(); err != nil {
		return nil, err
	}

	u.advanceLocked(models.StatusFailed)
	u.tr.removeLocked(u.msg)
	u.tr.active = nil

	m := u.tr.newMessage(models.RoleAssistant, FailureText, models.StatusFailed)
	u.tr.messages = append(u.tr.messages, m)
	return m.Clone(), nil
}

// Cancel abandons the request without surfacing an error, for example when
// the user closes the conversation.
func (u *Turn) Cancel() error {
	u.tr.mu.Lock()
	defer u.tr.mu.Unlock()

	if err := u.checkLocked(); err != nil {
		return err
	}
	u.tr.abandonLocked(u)
	return nil
}

func (u *Turn) String() string {
	return fmt.Sprintf("turn#%d(%s)", u.id, u.State())
}
