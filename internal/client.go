package internal

import (
	tea "github.com/charmbracelet/bubbletea"
)

// RunClient launches the bubbletea program so the user can chat from the
// terminal. A stored session skips the login prompts.
func RunClient(serverWSURL, email string) error {
	model, err := NewTUIModel(serverWSURL, email)
	if err != nil {
		return err
	}
	program := tea.NewProgram(model)
	_, err = program.Run()
	return err
}
