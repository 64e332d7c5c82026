package internal

import (
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/charmbracelet/bubbles/textinput"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/gorilla/websocket"
)

// tui model struct for all the components and modes
type TUIModel struct {
	textInput   textinput.Model
	serverWSURL string
	baseURL     string
	sessionPath string

	token    string
	username string

	mode          appMode
	notice        string
	isConnected   bool
	wsDisabled    bool
	websocketConn *websocket.Conn
	writeMutex    sync.Mutex

	// auth prompt scratch space
	loginEmail     string
	signupUsername string
	signupEmail    string
	signupPassword string

	friends     []clientFriend
	requests    friendRequestsResponse
	unread      map[int64]int
	friendIndex int

	chatPeer    string
	chatPeerID  int64
	chatLog     []chatLine
	peerTyping  bool
	typingSent  bool
	lastTypedAt time.Time
}

type clientFriend struct {
	ID       int64
	Username string
	Online   bool
	Unread   int
}

type chatLine struct {
	Sender string
	Body   string
	At     time.Time
	System bool
}

type appMode int

const (
	modeAuthMenu appMode = iota
	modeLoginEmail
	modeLoginPassword
	modeSignupUsername
	modeSignupEmail
	modeSignupPassword
	modeSignupGrade
	modeFriends
	modeAddFriend
	modeRequests
	modeChat
)

func NewTUIModel(serverWSURL, email string) (*TUIModel, error) {
	base, err := httpBaseFromWSURL(serverWSURL)
	if err != nil {
		return nil, err
	}

	input := textinput.New()
	input.CharLimit = 0

	model := &TUIModel{
		textInput:   input,
		serverWSURL: serverWSURL,
		baseURL:     base,
		sessionPath: defaultSessionPath(),
		loginEmail:  email,
		unread:      make(map[int64]int),
		mode:        modeAuthMenu,
	}

	if session, err := loadSessionFromDisk(model.sessionPath); err == nil {
		model.token = session.Token
		model.username = session.Username
		model.mode = modeFriends
	}
	return model, nil
}

func defaultSessionPath() string {
	if env := os.Getenv("STUDYCHAT_SESSION_PATH"); env != "" {
		return env
	}
	if home, err := os.UserHomeDir(); err == nil {
		return filepath.Join(home, ".local", "share", "studychat", "session.json")
	}
	return filepath.Join(".", ".studychat", "session.json")
}

func (model *TUIModel) Init() tea.Cmd {
	if model.mode == modeFriends {
		return tea.Batch(model.fetchFriendsCmd(), model.fetchConversationsCmd(), model.connectCmd())
	}
	return nil
}

func (model *TUIModel) promptFor(prompt, placeholder string, secret bool) tea.Cmd {
	model.textInput.SetValue("")
	model.textInput.Prompt = prompt
	model.textInput.Placeholder = placeholder
	if secret {
		model.textInput.EchoMode = textinput.EchoPassword
	} else {
		model.textInput.EchoMode = textinput.EchoNormal
	}
	return model.textInput.Focus()
}
