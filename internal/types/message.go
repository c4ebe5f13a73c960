package types

import "time"

// MessageRole tags who authored a conversation message.
type MessageRole string

const (
	RoleDispatcher MessageRole = "dispatcher"
	RoleBroker     MessageRole = "broker"
)

// Message is one email in a load conversation thread.
type Message struct {
	ID       string      `json:"id"`
	ThreadID string      `json:"threadId"`
	LoadID   string      `json:"loadId,omitempty"`
	Role     MessageRole `json:"role"`
	Subject  string      `json:"subject,omitempty"`
	Body     string      `json:"body"`
	SentAt   time.Time   `json:"sentAt"`
}

// InboundRequest is the normalized unit of work: one broker reply plus the
// records needed to decide what to say back. The surrounding service facade
// produces this shape; the pipeline never sees wire formats.
type InboundRequest struct {
	ThreadID            string         `json:"threadId"`
	LoadID              string         `json:"loadId"`
	Company             CompanyProfile `json:"company"`
	Truck               TruckProfile   `json:"truck"`
	Load                LoadRecord     `json:"load"`
	ConversationHistory []Message      `json:"conversationHistory,omitempty"`
	LatestMessage       Message        `json:"latestMessage"`
}

// Validate fails fast on malformed input before any side effects.
func (r *InboundRequest) Validate() error {
	switch {
	case r.ThreadID == "":
		return &ValidationError{Field: "threadId", Reason: "missing thread id"}
	case r.LoadID == "":
		return &ValidationError{Field: "loadId", Reason: "missing load id"}
	case r.LatestMessage.Body == "":
		return &ValidationError{Field: "latestMessage.body", Reason: "empty message body"}
	}
	return nil
}

// Result is the uniform envelope returned from one pipeline invocation,
// regardless of which stage terminated it.
type Result struct {
	FieldUpdates UpdateSet         `json:"fieldUpdates"`
	EmailToSend  string            `json:"emailToSend,omitempty"`
	Status       NegotiationStatus `json:"status"`
	Message      string            `json:"message"`
}
