package internal

import (
	"fmt"
	"strings"

	"github.com/charmbracelet/lipgloss"
)

var (
	appTitleStyle      = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("213")).Padding(0, 1)
	subtitleStyle      = lipgloss.NewStyle().Foreground(lipgloss.Color("110")).MarginTop(1)
	menuBoxStyle       = lipgloss.NewStyle().BorderStyle(lipgloss.RoundedBorder()).BorderForeground(lipgloss.Color("63")).Padding(1, 2).MarginTop(1)
	menuItemStyle      = lipgloss.NewStyle().Foreground(lipgloss.Color("255")).PaddingLeft(1)
	menuHotkeyStyle    = lipgloss.NewStyle().Foreground(lipgloss.Color("213")).Bold(true)
	menuHintStyle      = lipgloss.NewStyle().Foreground(lipgloss.Color("244")).MarginTop(1)
	noticeStyle        = lipgloss.NewStyle().Foreground(lipgloss.Color("214")).Italic(true).MarginTop(1)
	chatHeaderStyle    = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("213")).BorderStyle(lipgloss.NormalBorder()).BorderBottom(true).BorderForeground(lipgloss.Color("63")).Padding(0, 1)
	statusStyle        = lipgloss.NewStyle().Foreground(lipgloss.Color("109")).MarginTop(1)
	connectedStyle     = statusStyle.Copy().Foreground(lipgloss.Color("42")).Bold(true)
	connectingStyle    = statusStyle.Copy().Foreground(lipgloss.Color("178")).Italic(true)
	onlineDotStyle     = lipgloss.NewStyle().Foreground(lipgloss.Color("42"))
	offlineDotStyle    = lipgloss.NewStyle().Foreground(lipgloss.Color("240"))
	unreadStyle        = lipgloss.NewStyle().Foreground(lipgloss.Color("214")).Bold(true)
	selectedStyle      = lipgloss.NewStyle().Foreground(lipgloss.Color("213")).Bold(true)
	messageBodyStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color("253"))
	messageBoxStyle    = lipgloss.NewStyle().BorderStyle(lipgloss.RoundedBorder()).BorderForeground(lipgloss.Color("60")).Padding(1, 2).MarginTop(1)
	inputBoxStyle      = lipgloss.NewStyle().BorderStyle(lipgloss.RoundedBorder()).BorderForeground(lipgloss.Color("63")).Padding(0, 1).MarginTop(1)
	timestampStyle     = lipgloss.NewStyle().Foreground(lipgloss.Color("244"))
	usernameStyle      = lipgloss.NewStyle().Bold(true)
	ownNameStyle       = usernameStyle.Copy().Foreground(lipgloss.Color("213"))
	peerNameStyle      = usernameStyle.Copy().Foreground(lipgloss.Color("81"))
	systemMessageStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("214")).Italic(true)
	typingStyle        = lipgloss.NewStyle().Foreground(lipgloss.Color("110")).Italic(true)
	dividerStyle       = lipgloss.NewStyle().Foreground(lipgloss.Color("237")).Render(" ┃ ")
)

func (model *TUIModel) View() string {
	switch model.mode {
	case modeAuthMenu:
		return model.renderAuthMenu()
	case modeLoginEmail, modeLoginPassword, modeSignupUsername, modeSignupEmail, modeSignupPassword, modeSignupGrade:
		return model.renderPrompt()
	case modeFriends, modeAddFriend:
		return model.renderFriends()
	case modeRequests:
		return model.renderRequests()
	default:
		return model.renderChat()
	}
}

func (model *TUIModel) renderAuthMenu() string {
	title := appTitleStyle.Render("StudyChat")
	subtitle := subtitleStyle.Render("Chat and study together from your terminal")

	options := []string{
		renderMenuOption("1", "Log in"),
		renderMenuOption("2", "Sign up"),
		renderMenuOption("3", "Quit"),
	}

	sections := []string{
		lipgloss.JoinVertical(lipgloss.Left, title, subtitle),
		menuBoxStyle.Render(lipgloss.JoinVertical(lipgloss.Left, options...)),
	}
	if model.notice != "" {
		sections = append(sections, noticeStyle.Render(model.notice))
	}
	sections = append(sections, menuHintStyle.Render("Press 1, 2, or 3 to choose an option."))
	return lipgloss.JoinVertical(lipgloss.Left, sections...)
}

func (model *TUIModel) renderPrompt() string {
	var title string
	switch model.mode {
	case modeLoginEmail, modeLoginPassword:
		title = "Log in"
	default:
		title = "Create an account"
	}
	sections := []string{
		appTitleStyle.Render(title),
		menuHintStyle.Render("Press Enter to continue, Esc to go back."),
	}
	if model.notice != "" {
		sections = append(sections, noticeStyle.Render(model.notice))
	}
	sections = append(sections, inputBoxStyle.Render(model.textInput.View()))
	return lipgloss.JoinVertical(lipgloss.Left, sections...)
}

func (model *TUIModel) renderFriends() string {
	header := chatHeaderStyle.Render(strings.Join([]string{
		"StudyChat",
		fmt.Sprintf("User %s", model.username),
	}, dividerStyle))

	var rows []string
	for i, friend := range model.friends {
		dot := offlineDotStyle.Render("●")
		if friend.Online {
			dot = onlineDotStyle.Render("●")
		}
		name := friend.Username
		if i == model.friendIndex && model.mode == modeFriends {
			name = selectedStyle.Render("▸ " + name)
		} else {
			name = menuItemStyle.Render("  " + name)
		}
		row := lipgloss.JoinHorizontal(lipgloss.Left, dot, " ", name)
		if friend.Unread > 0 {
			row = lipgloss.JoinHorizontal(lipgloss.Left, row, " ", unreadStyle.Render(fmt.Sprintf("(%d)", friend.Unread)))
		}
		rows = append(rows, row)
	}
	if len(rows) == 0 {
		rows = append(rows, systemMessageStyle.Render("No friends yet. Press 'a' to send a request."))
	}

	sections := []string{
		header,
		model.renderConnStatus(),
		menuBoxStyle.Render(lipgloss.JoinVertical(lipgloss.Left, rows...)),
	}
	if model.notice != "" {
		sections = append(sections, noticeStyle.Render(model.notice))
	}
	if model.mode == modeAddFriend {
		sections = append(sections, inputBoxStyle.Render(model.textInput.View()))
	}
	sections = append(sections, menuHintStyle.Render("Enter opens a chat. a: add friend, tab: requests, r: refresh, q: log out."))
	return lipgloss.JoinVertical(lipgloss.Left, sections...)
}

func (model *TUIModel) renderRequests() string {
	header := chatHeaderStyle.Render("Friend requests")

	var rows []string
	for i, username := range model.requests.Incoming {
		name := username
		if i == model.friendIndex {
			name = selectedStyle.Render("▸ " + name)
		} else {
			name = menuItemStyle.Render("  " + name)
		}
		rows = append(rows, name)
	}
	if len(rows) == 0 {
		rows = append(rows, systemMessageStyle.Render("No incoming requests."))
	}

	var outgoing string
	if len(model.requests.Outgoing) > 0 {
		outgoing = menuHintStyle.Render("Sent: " + strings.Join(model.requests.Outgoing, ", "))
	}

	sections := []string{
		header,
		menuBoxStyle.Render(lipgloss.JoinVertical(lipgloss.Left, rows...)),
	}
	if outgoing != "" {
		sections = append(sections, outgoing)
	}
	if model.notice != "" {
		sections = append(sections, noticeStyle.Render(model.notice))
	}
	sections = append(sections, menuHintStyle.Render("Enter/y accepts, d/n declines, tab goes back."))
	return lipgloss.JoinVertical(lipgloss.Left, sections...)
}

func (model *TUIModel) renderChat() string {
	header := chatHeaderStyle.Render(strings.Join([]string{
		"StudyChat",
		fmt.Sprintf("Chat with %s", model.chatPeer),
		fmt.Sprintf("User %s", model.username),
	}, dividerStyle))

	var lines []string
	for _, line := range model.chatLog {
		lines = append(lines, model.renderChatLine(line))
	}
	if len(lines) == 0 {
		lines = append(lines, systemMessageStyle.Render("No messages yet. Say hi and start the conversation."))
	}

	sections := []string{
		header,
		model.renderConnStatus(),
		messageBoxStyle.Render(lipgloss.JoinVertical(lipgloss.Left, lines...)),
	}
	if model.peerTyping {
		sections = append(sections, typingStyle.Render(model.chatPeer+" is typing…"))
	}
	if model.notice != "" {
		sections = append(sections, noticeStyle.Render(model.notice))
	}
	sections = append(sections, inputBoxStyle.Render(model.textInput.View()))
	sections = append(sections, menuHintStyle.Render("Esc returns to your friends list."))
	return lipgloss.JoinVertical(lipgloss.Left, sections...)
}

func (model *TUIModel) renderConnStatus() string {
	if model.isConnected {
		return connectedStyle.Render("Connected")
	}
	return connectingStyle.Render("Connecting…")
}

func (model *TUIModel) renderChatLine(line chatLine) string {
	timestamp := timestampStyle.Render(fmt.Sprintf("[%s]", line.At.Format("15:04:05")))
	if line.System {
		return lipgloss.JoinHorizontal(lipgloss.Left, timestamp, " ", systemMessageStyle.Render(line.Body))
	}
	nameStyle := peerNameStyle
	if line.Sender == model.username {
		nameStyle = ownNameStyle
	}
	name := nameStyle.Render(line.Sender)
	body := messageBodyStyle.Render(strings.ReplaceAll(line.Body, "\n", "\n   "))
	return lipgloss.JoinHorizontal(lipgloss.Left, timestamp, " ", name, ": ", body)
}

func renderMenuOption(hotkey string, label string) string {
	key := menuHotkeyStyle.Render(hotkey)
	return lipgloss.JoinHorizontal(lipgloss.Left, key, menuItemStyle.Render(label))
}
