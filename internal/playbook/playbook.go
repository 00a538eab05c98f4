// Package playbook parses the markdown document that drives a recruiting
// cycle. The section headed "Tasks" lists one task per top-level list
// item; everything else in the document is the system prompt.
package playbook

import (
	"bytes"
	"errors"
	"fmt"
	"os"
	"strings"

	"github.com/yuin/goldmark"
	"github.com/yuin/goldmark/ast"
	"github.com/yuin/goldmark/text"

	"github.com/nugget/talentscout/playbooks"
)

// TasksHeading is the heading, matched case-insensitively, whose list
// items are the tasks.
const TasksHeading = "Tasks"

// ErrNoTasks is returned for a playbook without a non-empty Tasks section.
var ErrNoTasks = errors.New("playbook has no tasks")

// Playbook is a parsed playbook.
type Playbook struct {
	// Title is the text of the first level-1 heading, if any.
	Title string
	// SystemPrompt is the document with the Tasks section removed.
	SystemPrompt string
	// Tasks run in order, one agent run each.
	Tasks []string
}

// Load reads a playbook from path. An empty path loads the built-in
// default.
func Load(path string) (*Playbook, error) {
	if path == "" {
		return Default()
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read playbook: %w", err)
	}
	pb, err := Parse(data)
	if err != nil {
		return nil, fmt.Errorf("playbook %s: %w", path, err)
	}
	return pb, nil
}

// Default returns the built-in recruiting playbook.
func Default() (*Playbook, error) {
	return Parse(playbooks.Recruiting)
}

// Parse parses playbook markdown.
func Parse(source []byte) (*Playbook, error) {
	doc := goldmark.DefaultParser().Parse(text.NewReader(source))

	pb := &Playbook{}
	var (
		inTasks    bool
		tasksLevel int
		cutStart   = -1
		cutEnd     = -1
	)

	for n := doc.FirstChild(); n != nil; n = n.NextSibling() {
		switch node := n.(type) {
		case *ast.Heading:
			title := strings.TrimSpace(string(node.Text(source)))
			if node.Level == 1 && pb.Title == "" {
				pb.Title = title
			}
			if inTasks && node.Level <= tasksLevel {
				inTasks = false
				cutEnd = lineStart(source, node)
			}
			if cutStart < 0 && strings.EqualFold(title, TasksHeading) {
				inTasks = true
				tasksLevel = node.Level
				cutStart = lineStart(source, node)
			}

		case *ast.List:
			if !inTasks {
				continue
			}
			for item := node.FirstChild(); item != nil; item = item.NextSibling() {
				if task := itemText(item, source); task != "" {
					pb.Tasks = append(pb.Tasks, task)
				}
			}
		}
	}

	if len(pb.Tasks) == 0 {
		return nil, ErrNoTasks
	}

	prompt := source
	if cutStart >= 0 {
		if cutEnd < 0 {
			cutEnd = len(source)
		}
		prompt = append(append([]byte(nil), source[:cutStart]...), source[cutEnd:]...)
	}
	pb.SystemPrompt = strings.TrimSpace(string(prompt))
	if pb.SystemPrompt == "" {
		return nil, errors.New("playbook has no system prompt")
	}
	return pb, nil
}

// itemText returns the raw markdown of a list item's own blocks, lines
// joined by spaces. Nested lists are left out.
func itemText(item ast.Node, source []byte) string {
	var parts []string
	for c := item.FirstChild(); c != nil; c = c.NextSibling() {
		if _, nested := c.(*ast.List); nested {
			continue
		}
		lines := c.Lines()
		for i := 0; i < lines.Len(); i++ {
			seg := lines.At(i)
			if s := strings.TrimSpace(string(seg.Value(source))); s != "" {
				parts = append(parts, s)
			}
		}
	}
	return strings.Join(parts, " ")
}

// lineStart returns the offset of the start of the line holding a
// heading's text.
func lineStart(source []byte, h *ast.Heading) int {
	lines := h.Lines()
	if lines.Len() == 0 {
		return len(source)
	}
	off := lines.At(0).Start
	if i := bytes.LastIndexByte(source[:off], '\n'); i >= 0 {
		return i + 1
	}
	return 0
}
