package core

import (
	"errors"
	"fmt"
	"io/ioutil"
	"os"
	"strconv"

	"github.com/anmitsu/go-shlex"
	"github.com/josephlewis42/ushell/core/command"
	"github.com/josephlewis42/ushell/core/env"
	"github.com/josephlewis42/ushell/core/executor"
	"github.com/josephlewis42/ushell/core/stdio"
	"mvdan.cc/sh/v3/expand"
	"mvdan.cc/sh/v3/syntax"
)

// ErrUnsupported is returned for syntax the shell parses but doesn't run.
var ErrUnsupported = errors.New("unsupported syntax")

func unsupported(node syntax.Node, what string) error {
	return fmt.Errorf("%d:%d: %w: %s", node.Pos().Line(), node.Pos().Col(), ErrUnsupported, what)
}

// shellEnviron exposes the shell variables and special parameters to the
// expander. overlay holds prefix assignments evaluated so far.
type shellEnviron struct {
	s       *Shell
	overlay map[string]string
}

var _ expand.Environ = shellEnviron{}

func (e shellEnviron) lookup(name string) (string, bool) {
	if v, ok := e.overlay[name]; ok {
		return v, true
	}
	switch name {
	case "?":
		return strconv.Itoa(e.s.lastRet & 0xff), true
	case "$":
		return strconv.Itoa(os.Getpid()), true
	case "0":
		return Name, true
	case "!":
		if j, ok := e.s.Jobs.Current(); ok {
			return strconv.Itoa(j.Pid), true
		}
		return "", false
	}
	return e.s.Env.Lookup(name)
}

func (e shellEnviron) Get(name string) expand.Variable {
	v, ok := e.lookup(name)
	if !ok {
		return expand.Variable{}
	}
	return expand.Variable{Kind: expand.String, Str: v}
}

func (e shellEnviron) Each(fn func(name string, vr expand.Variable) bool) {
	for _, pair := range e.s.Env.All() {
		name, value := env.SplitPair(pair)
		if !fn(name, expand.Variable{Kind: expand.String, Str: value}) {
			return
		}
	}
}

func (s *Shell) expandConfig(overlay map[string]string) *expand.Config {
	return &expand.Config{
		Env:     shellEnviron{s: s, overlay: overlay},
		ReadDir: ioutil.ReadDir,
	}
}

func (s *Shell) executeStmts(stmts []*syntax.Stmt) {
	for _, stmt := range stmts {
		if s.Quit {
			return
		}
		if err := s.executeStatement(stmt); err != nil {
			s.Stdio.Errorf("%s: %v\n", Name, err)
			s.lastRet = stdio.ExitUsage
		}
	}
}

func (s *Shell) executeStatement(stmt *syntax.Stmt) error {
	if err := s.executeCommand(stmt); err != nil {
		return err
	}
	if stmt.Negated {
		if s.lastRet == 0 {
			s.lastRet = 1
		} else {
			s.lastRet = 0
		}
	}
	return nil
}

func (s *Shell) executeCommand(stmt *syntax.Stmt) error {
	switch cmd := stmt.Cmd.(type) {
	case *syntax.CallExpr, *syntax.DeclClause:
		return s.executePipeline(stmt)

	case *syntax.BinaryCmd:
		switch cmd.Op {
		case syntax.Pipe:
			return s.executePipeline(stmt)

		case syntax.AndStmt, syntax.OrStmt:
			if stmt.Background {
				return unsupported(stmt, "background command list")
			}
			if err := s.executeStatement(cmd.X); err != nil {
				return err
			}
			if s.Quit {
				return nil
			}
			if (cmd.Op == syntax.AndStmt) == (s.lastRet == 0) {
				return s.executeStatement(cmd.Y)
			}
			return nil

		default:
			return unsupported(stmt, cmd.Op.String())
		}

	case *syntax.IfClause:
		if stmt.Background || len(stmt.Redirs) > 0 {
			return unsupported(stmt, "redirected or background if")
		}
		return s.executeIf(cmd)

	case *syntax.Block:
		if stmt.Background || len(stmt.Redirs) > 0 {
			return unsupported(stmt, "redirected or background block")
		}
		s.executeStmts(cmd.Stmts)
		return nil

	case nil:
		return unsupported(stmt, "redirection without a command")

	default:
		return unsupported(stmt, fmt.Sprintf("%T", cmd))
	}
}

func (s *Shell) executeIf(clause *syntax.IfClause) error {
	for clause != nil {
		// An else branch has no condition.
		if len(clause.Cond) == 0 {
			s.executeStmts(clause.Then)
			return nil
		}

		s.executeStmts(clause.Cond)
		if s.Quit {
			return nil
		}
		if s.lastRet == 0 {
			s.executeStmts(clause.Then)
			return nil
		}
		clause = clause.Else
	}
	s.lastRet = 0
	return nil
}

// flattenPipe lists the stages of a pipe in order.
func flattenPipe(stmt *syntax.Stmt) []*syntax.Stmt {
	if bin, ok := stmt.Cmd.(*syntax.BinaryCmd); ok && bin.Op == syntax.Pipe {
		return append(flattenPipe(bin.X), flattenPipe(bin.Y)...)
	}
	return []*syntax.Stmt{stmt}
}

func (s *Shell) executePipeline(stmt *syntax.Stmt) error {
	stages := flattenPipe(stmt)
	pipeline := command.Pipeline{Background: stmt.Background}

	for _, stage := range stages {
		var (
			cmd command.Command
			err error
		)
		switch call := stage.Cmd.(type) {
		case *syntax.CallExpr:
			cmd, err = s.buildCommand(call, stage.Redirs)
		case *syntax.DeclClause:
			cmd, err = s.buildDecl(call, stage.Redirs)
		default:
			return unsupported(stage, "compound command in a pipeline")
		}
		if err != nil {
			return err
		}

		if len(cmd.Args) == 0 {
			// Bare assignments change the shell, unless they run as part of a
			// pipeline or in the background.
			if len(stages) == 1 && !stmt.Background {
				for _, pair := range cmd.Env {
					s.Env.Set(env.SplitPair(pair))
				}
				s.lastRet = 0
				return nil
			}
			cmd.Args = []string{"true"}
		}
		pipeline.Stages = append(pipeline.Stages, cmd)
	}

	if s.Exec == nil {
		s.Stdio.Errorf("%s: %s: no job control in this shell\n", Name, pipeline.String())
		s.lastRet = stdio.ExitFailure
		return nil
	}

	s.lastRet = s.Exec.Execute(pipeline)
	if s.lastRet == executor.StatusExecFailure {
		s.Stdio.Errorf("%s: execution failed\n", Name)
	}
	return nil
}

// buildCommand expands a simple command into a pipeline stage.
func (s *Shell) buildCommand(call *syntax.CallExpr, redirs []*syntax.Redirect) (command.Command, error) {
	var cmd command.Command

	overlay := make(map[string]string)
	for _, assign := range call.Assigns {
		if assign.Name == nil {
			continue
		}
		if assign.Index != nil || assign.Array != nil || assign.Naked {
			return cmd, unsupported(assign, "array assignment")
		}

		value, err := expand.Literal(s.expandConfig(overlay), assign.Value)
		if err != nil {
			return cmd, err
		}
		if assign.Append {
			prev, _ := shellEnviron{s: s, overlay: overlay}.lookup(assign.Name.Value)
			value = prev + value
		}
		overlay[assign.Name.Value] = value
		cmd.Env = append(cmd.Env, assign.Name.Value+"="+value)
	}

	// Arguments see the shell's variables, not the prefix assignments.
	cfg := s.expandConfig(nil)
	words := call.Args
	if len(words) > 0 {
		if alias, ok := s.aliases[words[0].Lit()]; ok && words[0].Lit() != "" {
			tokens, err := shlex.Split(alias, true)
			if err != nil {
				return cmd, fmt.Errorf("alias %s: %w", words[0].Lit(), err)
			}
			cmd.Args = append(cmd.Args, tokens...)
			words = words[1:]
		}
	}
	fields, err := expand.Fields(cfg, words...)
	if err != nil {
		return cmd, err
	}
	cmd.Args = append(cmd.Args, fields...)

	for _, redir := range redirs {
		if err := s.applyRedirect(&cmd, cfg, redir); err != nil {
			return cmd, err
		}
	}
	return cmd, nil
}

// buildDecl turns export and its relatives back into plain arguments for the
// builtin of the same name.
func (s *Shell) buildDecl(decl *syntax.DeclClause, redirs []*syntax.Redirect) (command.Command, error) {
	cmd := command.Command{Args: []string{decl.Variant.Value}}
	cfg := s.expandConfig(nil)

	for _, assign := range decl.Args {
		if assign.Index != nil || assign.Array != nil {
			return cmd, unsupported(assign, "array assignment")
		}

		switch {
		case assign.Naked && assign.Name != nil:
			cmd.Args = append(cmd.Args, assign.Name.Value)
		case assign.Naked:
			fields, err := expand.Fields(cfg, assign.Value)
			if err != nil {
				return cmd, err
			}
			cmd.Args = append(cmd.Args, fields...)
		default:
			value, err := expand.Literal(cfg, assign.Value)
			if err != nil {
				return cmd, err
			}
			if assign.Append {
				value = s.Env.Get(assign.Name.Value) + value
			}
			cmd.Args = append(cmd.Args, assign.Name.Value+"="+value)
		}
	}

	for _, redir := range redirs {
		if err := s.applyRedirect(&cmd, cfg, redir); err != nil {
			return cmd, err
		}
	}
	return cmd, nil
}

func (s *Shell) applyRedirect(cmd *command.Command, cfg *expand.Config, redir *syntax.Redirect) error {
	fd := ""
	if redir.N != nil {
		fd = redir.N.Value
	}

	target, err := expand.Literal(cfg, redir.Word)
	if err != nil {
		return err
	}
	if target == "" {
		return unsupported(redir, "empty redirection target")
	}

	switch {
	case redir.Op == syntax.RdrIn && (fd == "" || fd == "0"):
		cmd.In = target
	case redir.Op == syntax.RdrOut && (fd == "" || fd == "1"):
		cmd.Out = target
		cmd.Append = false
	case redir.Op == syntax.AppOut && (fd == "" || fd == "1"):
		cmd.Out = target
		cmd.Append = true
	default:
		return unsupported(redir, fd+redir.Op.String())
	}
	return nil
}
