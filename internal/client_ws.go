package internal

import (
	"fmt"
	"net/url"
	"time"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/gorilla/websocket"

	"studychat/internal/presence"
)

// bubbletea messages for asynchronous events: api results, websocket traffic,
// and timers.
type (
	authOKMsg struct {
		token    string
		username string
	}
	signupOKMsg  struct{ username string }
	apiErrMsg    struct{ err error }
	noticeMsg    string
	friendsMsg   []friendDTO
	requestsMsg  friendRequestsResponse
	historyMsg   struct {
		peer     string
		messages []messageDTO
	}
	conversationsMsg []conversationSummaryDTO
	wsConnectedMsg   struct{}
	wsEventMsg       presence.Event
	wsErrorMsg       struct{ err error }
	reconnectMsg     struct{}
	typingExpiredMsg struct{}
	stopTypingMsg    struct{}
)

func (model *TUIModel) loginCmd(email, password string) tea.Cmd {
	base := model.baseURL
	return func() tea.Msg {
		resp, err := apiLogin(base, email, password)
		if err != nil {
			return apiErrMsg{err: err}
		}
		return authOKMsg{token: resp.Token, username: resp.Username}
	}
}

func (model *TUIModel) signupCmd(username, email, password string, grade int) tea.Cmd {
	base := model.baseURL
	return func() tea.Msg {
		if err := apiSignup(base, username, email, password, grade); err != nil {
			return apiErrMsg{err: err}
		}
		return signupOKMsg{username: username}
	}
}

func (model *TUIModel) fetchFriendsCmd() tea.Cmd {
	base, token := model.baseURL, model.token
	return func() tea.Msg {
		friends, err := apiGetFriends(base, token)
		if err != nil {
			return apiErrMsg{err: err}
		}
		return friendsMsg(friends)
	}
}

func (model *TUIModel) fetchConversationsCmd() tea.Cmd {
	base, token := model.baseURL, model.token
	return func() tea.Msg {
		summaries, err := apiGetConversations(base, token)
		if err != nil {
			return apiErrMsg{err: err}
		}
		return conversationsMsg(summaries)
	}
}

func (model *TUIModel) fetchRequestsCmd() tea.Cmd {
	base, token := model.baseURL, model.token
	return func() tea.Msg {
		requests, err := apiGetFriendRequests(base, token)
		if err != nil {
			return apiErrMsg{err: err}
		}
		return requestsMsg(requests)
	}
}

func (model *TUIModel) addFriendCmd(username string) tea.Cmd {
	base, token := model.baseURL, model.token
	return func() tea.Msg {
		if err := apiSendFriendRequest(base, token, username); err != nil {
			return apiErrMsg{err: err}
		}
		return noticeMsg("Friend request sent to " + username)
	}
}

func (model *TUIModel) respondRequestCmd(username, action string) tea.Cmd {
	base, token := model.baseURL, model.token
	return func() tea.Msg {
		if err := apiRespondFriendRequest(base, token, username, action); err != nil {
			return apiErrMsg{err: err}
		}
		return noticeMsg("Request " + action + "ed: " + username)
	}
}

func (model *TUIModel) fetchHistoryCmd(peer string) tea.Cmd {
	base, token := model.baseURL, model.token
	return func() tea.Msg {
		messages, err := apiGetConversation(base, token, peer)
		if err != nil {
			return apiErrMsg{err: err}
		}
		return historyMsg{peer: peer, messages: messages}
	}
}

func (model *TUIModel) logoutCmd() tea.Cmd {
	base, token, path := model.baseURL, model.token, model.sessionPath
	return func() tea.Msg {
		_ = apiLogout(base, token)
		_ = deleteSessionFile(path)
		return tea.Quit()
	}
}

// connectCmd dials the websocket with the auth token in the query string.
func (model *TUIModel) connectCmd() tea.Cmd {
	return func() tea.Msg {
		parsed, err := url.Parse(model.serverWSURL)
		if err != nil {
			return wsErrorMsg{err: err}
		}
		if parsed.Scheme != "ws" && parsed.Scheme != "wss" {
			return wsErrorMsg{err: fmt.Errorf("invalid scheme for websocket: %s", parsed.Scheme)}
		}
		query := parsed.Query()
		query.Set("token", model.token)
		parsed.RawQuery = query.Encode()

		conn, _, err := websocket.DefaultDialer.Dial(parsed.String(), nil)
		if err != nil {
			return wsErrorMsg{err: err}
		}
		model.websocketConn = conn
		return wsConnectedMsg{}
	}
}

func (model *TUIModel) scheduleReconnect() tea.Cmd {
	const retryDelay = 2 * time.Second
	return tea.Tick(retryDelay, func(time.Time) tea.Msg {
		return reconnectMsg{}
	})
}

// readOnceCmd reads a single event and converts it to a bubbletea message;
// Update reschedules it to keep the loop going.
func (model *TUIModel) readOnceCmd() tea.Cmd {
	return func() tea.Msg {
		if model.websocketConn == nil {
			return wsErrorMsg{err: fmt.Errorf("websocket not connected")}
		}
		var event presence.Event
		if err := model.websocketConn.ReadJSON(&event); err != nil {
			return wsErrorMsg{err: err}
		}
		return wsEventMsg(event)
	}
}

func (model *TUIModel) sendEventCmd(event presence.Event) tea.Cmd {
	return func() tea.Msg {
		if model.websocketConn == nil {
			return wsErrorMsg{err: fmt.Errorf("websocket not connected")}
		}
		model.writeMutex.Lock()
		err := model.websocketConn.WriteJSON(event)
		model.writeMutex.Unlock()
		if err != nil {
			return wsErrorMsg{err: err}
		}
		return nil
	}
}

// typingStopCmd arms the timer that sends isTyping=false once the user pauses.
func (model *TUIModel) typingStopCmd() tea.Cmd {
	const pause = 2 * time.Second
	return tea.Tick(pause, func(time.Time) tea.Msg {
		return stopTypingMsg{}
	})
}

// peerTypingExpireCmd clears the peer's typing indicator if no refresh comes.
func (model *TUIModel) peerTypingExpireCmd() tea.Cmd {
	const ttl = 3 * time.Second
	return tea.Tick(ttl, func(time.Time) tea.Msg {
		return typingExpiredMsg{}
	})
}

func (model *TUIModel) closeWebsocket() {
	if model.websocketConn == nil {
		return
	}
	model.writeMutex.Lock()
	_ = model.websocketConn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
	model.writeMutex.Unlock()
	_ = model.websocketConn.Close()
	model.websocketConn = nil
	model.isConnected = false
}
