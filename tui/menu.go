package tui

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	list "github.com/charmbracelet/bubbles/list"
	textinput "github.com/charmbracelet/bubbles/textinput"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"
)

// Options seeds the menu with the selectable values. CoverageDir is scanned
// for shapefiles and zips on the coverage step.
type Options struct {
	Provinces    []string
	Operators    []string
	Technologies []string
	Years        []string
	Levels       []Choice
	CoverageDir  string
}

// Choice is one selectable entry: Label is shown, Value is submitted.
type Choice struct {
	Label string
	Value string
}

// Selection is the completed menu result, ready to turn into a run request.
type Selection struct {
	Province     string
	Region       string
	Operator     string
	Technology   string
	Year         string
	Level        string
	CoveragePath string
}

type step int

const (
	stepProvince step = iota
	stepRegion
	stepOperator
	stepTechnology
	stepYear
	stepLevel
	stepCoverage
)

var stepTitles = map[step]string{
	stepProvince:   "Province",
	stepRegion:     "Parroquia",
	stepOperator:   "Operator",
	stepTechnology: "Technology",
	stepYear:       "Year",
	stepLevel:      "Coverage level",
	stepCoverage:   "Coverage file",
}

// Styles
var (
	accentFg  = lipgloss.Color("#FF6600")
	baseDimFg = lipgloss.AdaptiveColor{Light: "#6B7280", Dark: "#6B7280"}

	titleStyle = lipgloss.NewStyle().Foreground(accentFg).Bold(true)
	dimStyle   = lipgloss.NewStyle().Foreground(baseDimFg)
	errStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color("#FF5F5F"))
)

type menuItem struct {
	label string
	value string
}

func (i menuItem) Title() string       { return i.label }
func (i menuItem) Description() string { return "" }
func (i menuItem) FilterValue() string { return i.label }

// Model walks through the selection steps one list (or text input) at a
// time and collects a Selection.
type Model struct {
	opts Options

	step      step
	l         list.Model
	input     textinput.Model
	selection Selection
	done      bool
	cancelled bool
	errText   string

	width  int
	height int
}

func New(opts Options) Model {
	d := list.NewDefaultDelegate()
	d.ShowDescription = false
	l := list.New(nil, d, 40, 14)
	l.SetShowHelp(false)
	l.SetShowStatusBar(false)
	l.SetFilteringEnabled(true)

	input := textinput.New()
	input.Placeholder = "Parroquia name"
	input.CharLimit = 64

	m := Model{opts: opts, l: l, input: input}
	m.enterStep(stepProvince)
	return m
}

func (m Model) Init() tea.Cmd { return nil }

func (m Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		m.width = msg.Width
		m.height = msg.Height
		m.l.SetSize(msg.Width-4, msg.Height-6)
		return m, nil

	case tea.KeyMsg:
		if m.step != stepRegion && m.l.FilterState() == list.Filtering {
			var cmd tea.Cmd
			m.l, cmd = m.l.Update(msg)
			return m, cmd
		}

		switch msg.String() {
		case "ctrl+c":
			m.cancelled = true
			return m, tea.Quit
		case "esc":
			return m.back()
		case "enter":
			return m.confirm()
		}

		if m.step == stepRegion {
			var cmd tea.Cmd
			m.input, cmd = m.input.Update(msg)
			return m, cmd
		}
		if msg.String() == "q" {
			m.cancelled = true
			return m, tea.Quit
		}
	}

	if m.step != stepRegion {
		var cmd tea.Cmd
		m.l, cmd = m.l.Update(msg)
		return m, cmd
	}
	return m, nil
}

func (m Model) View() string {
	header := titleStyle.Render(" Coverage Unifier ") +
		dimStyle.Render(fmt.Sprintf(" step %d/%d: %s", int(m.step)+1, len(stepTitles), stepTitles[m.step]))

	var body string
	if m.step == stepRegion {
		body = "\n  " + m.input.View() + "\n"
	} else {
		body = m.l.View()
	}

	footer := dimStyle.Render("  ↑↓ select  Enter confirm  / filter  Esc back  Ctrl+C quit")
	if m.errText != "" {
		footer = errStyle.Render("  "+m.errText) + "\n" + footer
	}

	return lipgloss.JoinVertical(lipgloss.Left, header, body, footer)
}

func (m Model) back() (tea.Model, tea.Cmd) {
	if m.step == stepProvince {
		m.cancelled = true
		return m, tea.Quit
	}
	m.errText = ""
	m.enterStep(m.step - 1)
	return m, nil
}

func (m Model) confirm() (tea.Model, tea.Cmd) {
	m.errText = ""

	if m.step == stepRegion {
		value := strings.TrimSpace(m.input.Value())
		if value == "" {
			m.errText = "a parroquia name is required"
			return m, nil
		}
		m.selection.Region = value
		m.input.Blur()
		m.enterStep(m.step + 1)
		return m, nil
	}

	item, ok := m.l.SelectedItem().(menuItem)
	if !ok {
		m.errText = "nothing to select"
		return m, nil
	}

	switch m.step {
	case stepProvince:
		m.selection.Province = item.value
	case stepOperator:
		m.selection.Operator = item.value
	case stepTechnology:
		m.selection.Technology = item.value
	case stepYear:
		m.selection.Year = item.value
	case stepLevel:
		m.selection.Level = item.value
	case stepCoverage:
		m.selection.CoveragePath = item.value
		m.done = true
		return m, tea.Quit
	}

	m.enterStep(m.step + 1)
	return m, nil
}

func (m *Model) enterStep(s step) {
	m.step = s
	switch s {
	case stepProvince:
		m.setChoices(stringChoices(m.opts.Provinces))
	case stepRegion:
		m.input.SetValue(m.selection.Region)
		m.input.Focus()
	case stepOperator:
		m.setChoices(stringChoices(m.opts.Operators))
	case stepTechnology:
		m.setChoices(stringChoices(m.opts.Technologies))
	case stepYear:
		m.setChoices(stringChoices(m.opts.Years))
	case stepLevel:
		m.setChoices(m.opts.Levels)
	case stepCoverage:
		files := CoverageFiles(m.opts.CoverageDir)
		if len(files) == 0 {
			m.errText = "no coverage files in " + m.opts.CoverageDir
		}
		m.setChoices(files)
	}
}

func (m *Model) setChoices(choices []Choice) {
	items := make([]list.Item, 0, len(choices))
	for _, choice := range choices {
		items = append(items, menuItem{label: choice.Label, value: choice.Value})
	}
	m.l.SetItems(items)
	m.l.ResetFilter()
	m.l.Select(0)
	m.l.Title = stepTitles[m.step]
}

func stringChoices(values []string) []Choice {
	choices := make([]Choice, 0, len(values))
	for _, value := range values {
		choices = append(choices, Choice{Label: value, Value: value})
	}
	return choices
}

// CoverageFiles lists the shapefiles and zip archives under dir, sorted by
// name. Missing directories yield an empty list.
func CoverageFiles(dir string) []Choice {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil
	}
	var choices []Choice
	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		ext := strings.ToLower(filepath.Ext(entry.Name()))
		if ext != ".zip" && ext != ".shp" {
			continue
		}
		choices = append(choices, Choice{Label: entry.Name(), Value: filepath.Join(dir, entry.Name())})
	}
	sort.Slice(choices, func(i, j int) bool { return choices[i].Label < choices[j].Label })
	return choices
}

// Run shows the menu and blocks until the user finishes or cancels. A nil
// selection with a nil error means the menu was cancelled.
func Run(opts Options) (*Selection, error) {
	final, err := tea.NewProgram(New(opts), tea.WithAltScreen()).Run()
	if err != nil {
		return nil, err
	}
	m, ok := final.(Model)
	if !ok || !m.done {
		return nil, nil
	}
	selection := m.selection
	return &selection, nil
}
