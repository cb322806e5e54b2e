// Package command holds the data model for pipelines handed to the
// orchestrator: argument vectors, redirections and the background flag.
package command

import (
	"errors"
	"fmt"
	"strings"

	"github.com/kballard/go-shellquote"
)

var (
	// ErrEmptyPipeline is returned when a pipeline has no stages.
	ErrEmptyPipeline = errors.New("empty pipeline")
	// ErrEmptyStage is returned when a stage has no program name.
	ErrEmptyStage = errors.New("empty pipeline stage")
)

// Command is a single pipeline stage.
type Command struct {
	// Args holds the program name followed by its arguments.
	Args []string
	// In is the file to read stdin from, empty to inherit.
	In string
	// Out is the file to write stdout to, empty to inherit.
	Out string
	// Append opens Out for appending rather than truncating.
	Append bool
	// Env holds NAME=value assignments that apply only to this stage.
	Env []string
}

// Name returns the program name or an empty string.
func (c Command) Name() string {
	if len(c.Args) == 0 {
		return ""
	}
	return c.Args[0]
}

// HasRedirect reports whether the stage redirects stdin or stdout.
func (c Command) HasRedirect() bool {
	return c.In != "" || c.Out != ""
}

// String renders the stage the way a user would type it.
func (c Command) String() string {
	var sb strings.Builder
	if len(c.Env) > 0 {
		sb.WriteString(shellquote.Join(c.Env...))
		sb.WriteString(" ")
	}
	sb.WriteString(shellquote.Join(c.Args...))
	if c.In != "" {
		fmt.Fprintf(&sb, " < %s", shellquote.Join(c.In))
	}
	if c.Out != "" {
		op := ">"
		if c.Append {
			op = ">>"
		}
		fmt.Fprintf(&sb, " %s %s", op, shellquote.Join(c.Out))
	}
	return sb.String()
}

// Pipeline is a sequence of stages connected stdout to stdin.
type Pipeline struct {
	Stages []Command
	// Background applies to the whole pipeline.
	Background bool
}

// Len returns the number of stages.
func (p Pipeline) Len() int {
	return len(p.Stages)
}

// HasRedirect reports whether any stage redirects a file.
func (p Pipeline) HasRedirect() bool {
	for _, stage := range p.Stages {
		if stage.HasRedirect() {
			return true
		}
	}
	return false
}

// Validate checks that the pipeline can be executed.
func (p Pipeline) Validate() error {
	if len(p.Stages) == 0 {
		return ErrEmptyPipeline
	}
	for i, stage := range p.Stages {
		if stage.Name() == "" {
			return fmt.Errorf("stage %d: %w", i, ErrEmptyStage)
		}
	}
	return nil
}

// String renders the display text used for job listings. Stages are joined
// with " | " and background pipelines end in " &".
func (p Pipeline) String() string {
	var parts []string
	for _, stage := range p.Stages {
		parts = append(parts, stage.String())
	}
	out := strings.Join(parts, " | ")
	if p.Background {
		out += " &"
	}
	return out
}
