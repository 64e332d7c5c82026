package internal

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	tea "github.com/charmbracelet/bubbletea"

	"studychat/internal/presence"
)

func (model *TUIModel) Update(message tea.Msg) (tea.Model, tea.Cmd) {
	switch typedMessage := message.(type) {
	case tea.KeyMsg:
		if typedMessage.Type == tea.KeyCtrlC {
			model.closeWebsocket()
			return model, tea.Quit
		}
		return model.updateKey(typedMessage)

	case authOKMsg:
		model.token = typedMessage.token
		model.username = typedMessage.username
		model.notice = ""
		_ = saveSessionToDisk(model.sessionPath, sessionFile{Username: typedMessage.username, Token: typedMessage.token})
		model.mode = modeFriends
		model.textInput.Blur()
		return model, tea.Batch(model.fetchFriendsCmd(), model.fetchConversationsCmd(), model.connectCmd())

	case signupOKMsg:
		model.notice = "Account created. Log in with your email."
		model.mode = modeLoginEmail
		return model, model.promptFor("email> ", "you@school.edu", false)

	case apiErrMsg:
		if typedMessage.err == errUnauthorized {
			// stale token: wipe the session and start over at the menu
			_ = deleteSessionFile(model.sessionPath)
			model.token = ""
			model.mode = modeAuthMenu
			model.notice = "Session expired. Log in again."
			model.textInput.Blur()
			return model, nil
		}
		model.notice = typedMessage.err.Error()
		return model, nil

	case noticeMsg:
		model.notice = string(typedMessage)
		if model.mode == modeRequests {
			return model, model.fetchRequestsCmd()
		}
		return model, nil

	case friendsMsg:
		model.friends = model.friends[:0]
		for _, f := range typedMessage {
			model.friends = append(model.friends, clientFriend{
				ID:       f.ID,
				Username: f.Username,
				Online:   f.Online,
				Unread:   model.unread[f.ID],
			})
		}
		if model.friendIndex >= len(model.friends) {
			model.friendIndex = 0
		}
		return model, nil

	case conversationsMsg:
		for _, summary := range typedMessage {
			model.unread[summary.Peer.ID] = summary.Unread
		}
		for i := range model.friends {
			model.friends[i].Unread = model.unread[model.friends[i].ID]
		}
		return model, nil

	case requestsMsg:
		model.requests = friendRequestsResponse(typedMessage)
		return model, nil

	case historyMsg:
		model.chatLog = model.chatLog[:0]
		for _, m := range typedMessage.messages {
			model.chatLog = append(model.chatLog, chatLine{Sender: m.Sender, Body: m.Content, At: m.CreatedAt})
		}
		return model, nil

	case wsConnectedMsg:
		model.isConnected = true
		return model, model.readOnceCmd()

	case wsEventMsg:
		return model.updateWSEvent(presence.Event(typedMessage))

	case wsErrorMsg:
		model.isConnected = false
		model.websocketConn = nil
		if model.token == "" || model.wsDisabled {
			return model, nil
		}
		model.notice = "Connection lost, retrying…"
		return model, model.scheduleReconnect()

	case reconnectMsg:
		if !model.isConnected && model.token != "" && !model.wsDisabled {
			return model, model.connectCmd()
		}
		return model, nil

	case stopTypingMsg:
		if model.typingSent && time.Since(model.lastTypedAt) >= 2*time.Second {
			model.typingSent = false
			return model, model.sendEventCmd(presence.Event{
				Type:        presence.EventTyping,
				RecipientID: model.chatPeerID,
				IsTyping:    false,
			})
		}
		if model.typingSent {
			return model, model.typingStopCmd()
		}
		return model, nil

	case typingExpiredMsg:
		model.peerTyping = false
		return model, nil
	}

	return model, nil
}

func (model *TUIModel) updateKey(key tea.KeyMsg) (tea.Model, tea.Cmd) {
	switch model.mode {
	case modeAuthMenu:
		switch key.String() {
		case "1", "l", "L":
			model.mode = modeLoginEmail
			cmd := model.promptFor("email> ", "you@school.edu", false)
			if model.loginEmail != "" {
				model.textInput.SetValue(model.loginEmail)
			}
			return model, cmd
		case "2", "s", "S":
			model.mode = modeSignupUsername
			return model, model.promptFor("username> ", "3-20 letters, digits, underscores", false)
		case "3", "q", "Q":
			return model, tea.Quit
		}
		return model, nil

	case modeLoginEmail:
		return model.updatePrompt(key, func(value string) (tea.Model, tea.Cmd) {
			model.loginEmail = value
			model.mode = modeLoginPassword
			return model, model.promptFor("password> ", "", true)
		})

	case modeLoginPassword:
		return model.updatePrompt(key, func(value string) (tea.Model, tea.Cmd) {
			model.textInput.SetValue("")
			model.notice = "Logging in…"
			return model, model.loginCmd(model.loginEmail, value)
		})

	case modeSignupUsername:
		return model.updatePrompt(key, func(value string) (tea.Model, tea.Cmd) {
			model.signupUsername = value
			model.mode = modeSignupEmail
			return model, model.promptFor("email> ", "you@school.edu", false)
		})

	case modeSignupEmail:
		return model.updatePrompt(key, func(value string) (tea.Model, tea.Cmd) {
			model.signupEmail = value
			model.mode = modeSignupPassword
			return model, model.promptFor("password> ", "6+ chars, mixed case, digit, symbol", true)
		})

	case modeSignupPassword:
		return model.updatePrompt(key, func(value string) (tea.Model, tea.Cmd) {
			model.signupPassword = value
			model.mode = modeSignupGrade
			return model, model.promptFor("grade> ", "1-12", false)
		})

	case modeSignupGrade:
		return model.updatePrompt(key, func(value string) (tea.Model, tea.Cmd) {
			grade, err := strconv.Atoi(value)
			if err != nil || grade < 1 || grade > 12 {
				model.notice = "Grade must be a number between 1 and 12."
				return model, nil
			}
			model.notice = "Creating account…"
			return model, model.signupCmd(model.signupUsername, model.signupEmail, model.signupPassword, grade)
		})

	case modeFriends:
		switch key.String() {
		case "up", "k":
			if model.friendIndex > 0 {
				model.friendIndex--
			}
			return model, nil
		case "down", "j":
			if model.friendIndex < len(model.friends)-1 {
				model.friendIndex++
			}
			return model, nil
		case "enter":
			if model.friendIndex < len(model.friends) {
				friend := model.friends[model.friendIndex]
				model.chatPeer = friend.Username
				model.chatPeerID = friend.ID
				model.peerTyping = false
				model.friends[model.friendIndex].Unread = 0
				delete(model.unread, friend.ID)
				model.mode = modeChat
				cmd := model.promptFor("> ", "Type a message…", false)
				return model, tea.Batch(cmd, model.fetchHistoryCmd(friend.Username))
			}
			return model, nil
		case "a", "A":
			model.mode = modeAddFriend
			return model, model.promptFor("friend> ", "username to request", false)
		case "r":
			return model, tea.Batch(model.fetchFriendsCmd(), model.fetchConversationsCmd())
		case "tab":
			model.mode = modeRequests
			model.friendIndex = 0
			return model, model.fetchRequestsCmd()
		case "q", "Q":
			model.closeWebsocket()
			return model, model.logoutCmd()
		}
		return model, nil

	case modeAddFriend:
		return model.updatePrompt(key, func(value string) (tea.Model, tea.Cmd) {
			model.mode = modeFriends
			model.textInput.Blur()
			return model, model.addFriendCmd(value)
		})

	case modeRequests:
		switch key.String() {
		case "up", "k":
			if model.friendIndex > 0 {
				model.friendIndex--
			}
			return model, nil
		case "down", "j":
			if model.friendIndex < len(model.requests.Incoming)-1 {
				model.friendIndex++
			}
			return model, nil
		case "enter", "y":
			if model.friendIndex < len(model.requests.Incoming) {
				username := model.requests.Incoming[model.friendIndex]
				return model, tea.Batch(
					model.respondRequestCmd(username, "accept"),
					model.fetchFriendsCmd(),
				)
			}
			return model, nil
		case "d", "n":
			if model.friendIndex < len(model.requests.Incoming) {
				username := model.requests.Incoming[model.friendIndex]
				return model, model.respondRequestCmd(username, "decline")
			}
			return model, nil
		case "tab", "esc":
			model.mode = modeFriends
			model.friendIndex = 0
			return model, nil
		}
		return model, nil

	case modeChat:
		switch key.Type {
		case tea.KeyEsc:
			peerID := model.chatPeerID
			model.mode = modeFriends
			model.chatPeer = ""
			model.chatPeerID = 0
			model.textInput.Blur()
			var cmd tea.Cmd
			if model.typingSent {
				model.typingSent = false
				cmd = model.sendEventCmd(presence.Event{
					Type:        presence.EventTyping,
					RecipientID: peerID,
					IsTyping:    false,
				})
			}
			return model, tea.Batch(cmd, model.fetchFriendsCmd())
		case tea.KeyEnter:
			trimmed := strings.TrimSpace(model.textInput.Value())
			if trimmed == "" || !model.isConnected {
				return model, nil
			}
			model.textInput.SetValue("")
			model.typingSent = false
			return model, model.sendEventCmd(presence.Event{
				Type:        presence.EventSendMessage,
				RecipientID: model.chatPeerID,
				Content:     trimmed,
			})
		}
		var cmds []tea.Cmd
		var inputCmd tea.Cmd
		model.textInput, inputCmd = model.textInput.Update(key)
		cmds = append(cmds, inputCmd)
		model.lastTypedAt = time.Now()
		if !model.typingSent && model.isConnected {
			model.typingSent = true
			cmds = append(cmds,
				model.sendEventCmd(presence.Event{
					Type:        presence.EventTyping,
					RecipientID: model.chatPeerID,
					IsTyping:    true,
				}),
				model.typingStopCmd(),
			)
		}
		return model, tea.Batch(cmds...)
	}
	return model, nil
}

// updatePrompt handles the shared enter/escape/edit behavior of the text
// prompts. onEnter receives the trimmed value.
func (model *TUIModel) updatePrompt(key tea.KeyMsg, onEnter func(string) (tea.Model, tea.Cmd)) (tea.Model, tea.Cmd) {
	switch key.Type {
	case tea.KeyEnter:
		trimmed := strings.TrimSpace(model.textInput.Value())
		if trimmed == "" {
			return model, nil
		}
		return onEnter(trimmed)
	case tea.KeyEsc:
		model.mode = modeAuthMenu
		model.notice = ""
		model.textInput.SetValue("")
		model.textInput.Blur()
		return model, nil
	}
	var cmd tea.Cmd
	model.textInput, cmd = model.textInput.Update(key)
	return model, cmd
}

func (model *TUIModel) updateWSEvent(event presence.Event) (tea.Model, tea.Cmd) {
	next := model.readOnceCmd()
	switch event.Type {
	case presence.EventConnectionSuccess:
		return model, next

	case presence.EventConnectionError:
		model.notice = "Connection refused: " + event.Message
		model.isConnected = false
		return model, nil

	case presence.EventForceDisconnect:
		model.notice = "Logged in from another device."
		model.wsDisabled = true
		model.closeWebsocket()
		return model, nil

	case presence.EventStatusUpdate:
		for i := range model.friends {
			if model.friends[i].ID == event.UserID {
				model.friends[i].Online = event.Status == presence.StatusOnline
			}
		}
		return model, next

	case presence.EventNewMessage:
		sender := model.usernameFor(event.Sender)
		if model.mode == modeChat && event.Sender == model.chatPeerID {
			model.chatLog = append(model.chatLog, chatLine{Sender: sender, Body: event.Content, At: time.Unix(event.Timestamp, 0)})
			model.peerTyping = false
		} else {
			model.unread[event.Sender]++
			for i := range model.friends {
				if model.friends[i].ID == event.Sender {
					model.friends[i].Unread++
				}
			}
			model.notice = fmt.Sprintf("New message from %s", sender)
		}
		return model, next

	case presence.EventMessageSent:
		if model.mode == modeChat {
			model.chatLog = append(model.chatLog, chatLine{Sender: model.username, Body: event.Content, At: time.Unix(event.Timestamp, 0)})
		}
		return model, next

	case presence.EventMessageError:
		model.notice = "Send failed: " + event.Message
		return model, next

	case presence.EventUserTyping:
		if model.mode == modeChat && event.UserID == model.chatPeerID {
			model.peerTyping = event.IsTyping
			if event.IsTyping {
				return model, tea.Batch(next, model.peerTypingExpireCmd())
			}
		}
		return model, next
	}
	return model, next
}

func (model *TUIModel) usernameFor(userID int64) string {
	for _, friend := range model.friends {
		if friend.ID == userID {
			return friend.Username
		}
	}
	return fmt.Sprintf("user %d", userID)
}
