// Package query implements the query/expression evaluator collaborator:
// compiling glob patterns and boolean predicate expressions and running
// them against a root's file table.
//
// Two forms are supported, matching the "query" and "find" commands:
//
//   - find/since patterns: a list of shell-style glob strings (matched
//     with github.com/gobwas/glob), any of which may match a file's name.
//   - query expr: a structured description with an optional "patterns"
//     list of globs and an optional "expression" string evaluated with
//     github.com/expr-lang/expr against each file's fields (Name, Exists,
//     Size, MtimeMs, CtimeMs, New, Nlink). A "since" key is not read;
//     the tick floor comes only from the caller of EvaluateSince.
package query

import (
	"fmt"

	"github.com/expr-lang/expr"
	"github.com/expr-lang/expr/vm"
	"github.com/gobwas/glob"

	"github.com/pathwatch/pathwatch/internal/clock"
	"github.com/pathwatch/pathwatch/internal/fsroot"
	"github.com/pathwatch/pathwatch/internal/wire"
)

// Engine evaluates compiled glob patterns and expr-lang programs against
// file records. It caches compiled expr programs by source so repeated
// subscription evaluations don't recompile on every tick.
type Engine struct {
	programs map[string]*vm.Program
}

// NewEngine returns a ready-to-use Engine.
func NewEngine() *Engine {
	return &Engine{programs: make(map[string]*vm.Program)}
}

// fileEnv is the expr-lang evaluation environment for one file record.
type fileEnv struct {
	Name    string
	Exists  bool
	Size    int64
	MtimeMs int64
	CtimeMs int64
	New     bool
	Nlink   uint32
}

// Match evaluates patterns (glob strings, ORed together; empty means
// "match everything") against root's current file table, for the `find`
// and plain `since` commands.
func (e *Engine) Match(root *fsroot.Root, patterns []string, since clock.Ticks) ([]wire.MatchRecord, error) {
	matchers, err := compileGlobs(patterns)
	if err != nil {
		return nil, err
	}

	var files []*fsroot.FileRecord
	if since == 0 {
		files = root.Files()
	} else {
		files = root.FilesSince(since)
	}

	var out []wire.MatchRecord
	for _, f := range files {
		if !matchesAny(matchers, f.Name) {
			continue
		}
		out = append(out, toMatchRecord(f, since))
	}
	return out, nil
}

// Evaluate runs a structured query description (as produced by the
// `query` command's expr argument: {"expression": "...", "patterns":
// [...]}) against root's current file table.
func (e *Engine) Evaluate(root *fsroot.Root, queryDesc any) ([]wire.MatchRecord, error) {
	return e.EvaluateSince(root.Files(), queryDesc, 0)
}

// EvaluateSince implements subscribe.Evaluator: evaluate queryDesc
// against a caller-supplied file slice (already filtered to the tick
// range of interest), so subscription fan-out can evaluate only files
// that actually changed since LastTicks.
func (e *Engine) EvaluateSince(files []*fsroot.FileRecord, queryDesc any, since clock.Ticks) ([]wire.MatchRecord, error) {
	desc, _ := queryDesc.(map[string]any)

	var patterns []string
	if raw, ok := desc["patterns"].([]any); ok {
		for _, p := range raw {
			if s, ok := p.(string); ok {
				patterns = append(patterns, s)
			}
		}
	}
	matchers, err := compileGlobs(patterns)
	if err != nil {
		return nil, err
	}

	var program *vm.Program
	if exprSrc, ok := desc["expression"].(string); ok && exprSrc != "" {
		program, err = e.compile(exprSrc)
		if err != nil {
			return nil, err
		}
	}

	var out []wire.MatchRecord
	for _, f := range files {
		if !matchesAny(matchers, f.Name) {
			continue
		}
		if program != nil {
			ok, err := runExpr(program, f)
			if err != nil {
				return nil, fmt.Errorf("query: evaluating expression: %w", err)
			}
			if !ok {
				continue
			}
		}
		out = append(out, toMatchRecord(f, since))
	}
	return out, nil
}

func (e *Engine) compile(src string) (*vm.Program, error) {
	if p, ok := e.programs[src]; ok {
		return p, nil
	}
	program, err := expr.Compile(src, expr.Env(fileEnv{}), expr.AsBool())
	if err != nil {
		return nil, fmt.Errorf("query: compiling expression %q: %w", src, err)
	}
	e.programs[src] = program
	return program, nil
}

func runExpr(program *vm.Program, f *fsroot.FileRecord) (bool, error) {
	env := fileEnv{
		Name:    f.Name,
		Exists:  f.Exists,
		Size:    f.Size,
		MtimeMs: f.Mtime.UnixMilli(),
		CtimeMs: f.Ctime.UnixMilli(),
		New:     f.OTicks == f.CTicks,
		Nlink:   f.Nlink,
	}
	result, err := expr.Run(program, env)
	if err != nil {
		return false, err
	}
	b, _ := result.(bool)
	return b, nil
}

func compileGlobs(patterns []string) ([]glob.Glob, error) {
	if len(patterns) == 0 {
		return nil, nil
	}
	matchers := make([]glob.Glob, 0, len(patterns))
	for _, p := range patterns {
		g, err := glob.Compile(p, '/')
		if err != nil {
			return nil, fmt.Errorf("query: invalid pattern %q: %w", p, err)
		}
		matchers = append(matchers, g)
	}
	return matchers, nil
}

func matchesAny(matchers []glob.Glob, name string) bool {
	if len(matchers) == 0 {
		return true
	}
	for _, g := range matchers {
		if g.Match(name) {
			return true
		}
	}
	return false
}

func toMatchRecord(f *fsroot.FileRecord, since clock.Ticks) wire.MatchRecord {
	return wire.MatchRecord{
		Name:   f.Name,
		Exists: f.Exists,
		Size:   f.Size,
		Mode:   f.Mode,
		Uid:    f.Uid,
		Gid:    f.Gid,
		Mtime:  f.Mtime.Unix(),
		Ctime:  f.Ctime.Unix(),
		Ino:    f.Ino,
		Dev:    f.Dev,
		Nlink:  f.Nlink,
		New:    f.OTicks > since,
		OClock: clock.ID(f.OTicks),
		CClock: clock.ID(f.CTicks),
	}
}
