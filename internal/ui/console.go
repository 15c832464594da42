// ABOUTME: Console initialization and control
// ABOUTME: Wraps the bubbletea program for the module console
package ui

import (
	tea "github.com/charmbracelet/bubbletea"
)

// Run starts the console program
func Run(name string, commander Commander) (*tea.Program, error) {
	p := tea.NewProgram(NewModel(name, commander), tea.WithAltScreen())
	return p, nil
}
