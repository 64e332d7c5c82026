package presence

// Event is the json envelope exchanged over a channel. Both directions share
// one flat struct; unused fields are omitted on the wire.
type Event struct {
	Type        string `json:"type"`
	UserID      int64  `json:"userId,omitempty"`
	RecipientID int64  `json:"recipientId,omitempty"`
	MessageID   int64  `json:"messageId,omitempty"`
	Sender      int64  `json:"sender,omitempty"`
	Content     string `json:"content,omitempty"`
	IsTyping    bool   `json:"isTyping,omitempty"`
	Status      string `json:"status,omitempty"`
	LastActive  int64  `json:"lastActive,omitempty"`
	Timestamp   int64  `json:"timestamp,omitempty"`
	Message     string `json:"message,omitempty"`
}

// Inbound event types. Connect and disconnect are not wire events; they are
// carried by the channel lifecycle itself.
const (
	EventSendMessage = "sendMessage"
	EventTyping      = "typing"
)

// Outbound event types. The names match the original client vocabulary.
const (
	EventConnectionSuccess = "connectionSuccess"
	EventConnectionError   = "connectionError"
	EventForceDisconnect   = "forceDisconnect"
	EventStatusUpdate      = "userStatusUpdate"
	EventNewMessage        = "newMessage"
	EventMessageSent       = "messageSent"
	EventMessageError      = "messageError"
	EventUserTyping        = "userTyping"
)

// User presence states carried in userStatusUpdate events.
const (
	StatusOnline  = "online"
	StatusOffline = "offline"
)

// DisconnectReason classifies why a channel went away. Transport loss and
// timeouts get a grace window before the user is declared offline; a normal
// close finalizes immediately.
type DisconnectReason string

const (
	ReasonTransportLoss DisconnectReason = "transport-loss"
	ReasonTimeout       DisconnectReason = "timeout"
	ReasonNormal        DisconnectReason = "normal"
)

// Channel is one persistent bidirectional connection from a client. Send must
// never block; a channel that cannot keep up drops events instead.
type Channel interface {
	ID() string
	Send(event Event)
}
