// Package shaderc compiles WGSL shader sources into the stage and layout
// blobs consumed by gfx.CreateShader.
//
// Compilation runs the source through a small preprocessor (#include,
// #define, #ifdef), parses and validates it with naga, checks that every
// requested entry point exists for its stage, then generates the target
// code. When DeriveLayout is set the bindings declared by the module are
// reflected into a layout blob that gfx turns into a bind layout.
package shaderc

import (
	"context"
	"errors"
	"fmt"
	"runtime"
	"strings"

	"github.com/gogpu/naga"
	"github.com/gogpu/naga/hlsl"
	"github.com/gogpu/naga/ir"
	"github.com/gogpu/naga/spirv"
	"golang.org/x/sync/errgroup"
)

// ErrCompile is matched by every *CompileError.
var ErrCompile = errors.New("shaderc: compilation failed")

// CompileError is a recoverable shader compilation failure.
type CompileError struct {
	Name        string
	Stage       string // empty when the failure is not stage specific
	Entry       string
	Diagnostics []string
}

func (e *CompileError) Error() string {
	var b strings.Builder
	b.WriteString("shaderc: compile")
	if e.Name != "" {
		fmt.Fprintf(&b, " %q", e.Name)
	}
	if e.Stage != "" {
		fmt.Fprintf(&b, " %s stage", e.Stage)
	}
	if e.Entry != "" {
		fmt.Fprintf(&b, " entry %q", e.Entry)
	}
	if len(e.Diagnostics) > 0 {
		b.WriteString(": ")
		b.WriteString(strings.Join(e.Diagnostics, "; "))
	}
	return b.String()
}

// Is reports whether target is ErrCompile.
func (e *CompileError) Is(target error) bool { return target == ErrCompile }

// Stage is a programmable pipeline stage.
type Stage uint8

const (
	StageVertex Stage = iota
	StageFragment
	StageCompute
)

func (s Stage) String() string {
	switch s {
	case StageVertex:
		return "vertex"
	case StageFragment:
		return "fragment"
	case StageCompute:
		return "compute"
	default:
		return fmt.Sprintf("Stage(%d)", s)
	}
}

func (s Stage) ir() ir.ShaderStage {
	switch s {
	case StageFragment:
		return ir.StageFragment
	case StageCompute:
		return ir.StageCompute
	default:
		return ir.StageVertex
	}
}

// Target is the code a stage blob carries.
type Target uint8

const (
	TargetSPIRV Target = iota
	TargetHLSL
	TargetWGSL
)

func (t Target) String() string {
	switch t {
	case TargetSPIRV:
		return "spirv"
	case TargetHLSL:
		return "hlsl"
	case TargetWGSL:
		return "wgsl"
	default:
		return fmt.Sprintf("Target(%d)", t)
	}
}

// Define is a preprocessor macro injected before parsing.
type Define struct {
	Name  string
	Value string
}

// Entries names the entry point of each stage to compile. Empty names are
// skipped.
type Entries struct {
	Vertex   string
	Fragment string
	Compute  string
}

func (e Entries) each(fn func(Stage, string)) {
	if e.Vertex != "" {
		fn(StageVertex, e.Vertex)
	}
	if e.Fragment != "" {
		fn(StageFragment, e.Fragment)
	}
	if e.Compute != "" {
		fn(StageCompute, e.Compute)
	}
}

// Request describes one compilation.
type Request struct {
	Name         string
	Source       string
	Defines      []Define
	IncludePaths []string
	Entries      Entries
	Target       Target
	DeriveLayout bool
	Debug        bool
}

// Result holds the stage blobs of a successful compilation, keyed by
// stage, and the layout blob when one was requested.
type Result struct {
	Stages map[Stage][]byte
	Layout []byte
}

// Compile compiles req. Failures in the source are reported as
// *CompileError; ctx cancellation is returned as is.
func Compile(ctx context.Context, req Request) (*Result, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	u, err := prepare(req)
	if err != nil {
		return nil, err
	}
	return u.compile(ctx)
}

// unit is a request whose entry points are resolved and whose source has
// been preprocessed.
type unit struct {
	req    Request
	stages []Stage
	names  []string
	src    string
}

func prepare(req Request) (*unit, error) {
	u := &unit{req: req}
	req.Entries.each(func(s Stage, name string) {
		u.stages = append(u.stages, s)
		u.names = append(u.names, name)
	})
	if len(u.stages) == 0 {
		return nil, u.fail("no entry points requested")
	}
	src, err := Preprocess(req.Source, req.Defines, req.IncludePaths)
	if err != nil {
		return nil, u.fail(err.Error())
	}
	u.src = src
	return u, nil
}

func (u *unit) fail(diags ...string) error {
	return &CompileError{Name: u.req.Name, Diagnostics: diags}
}

func (u *unit) compile(ctx context.Context) (*Result, error) {
	req, stages, names, src, fail := u.req, u.stages, u.names, u.src, u.fail
	ast, err := naga.Parse(src)
	if err != nil {
		return nil, fail(err.Error())
	}
	module, err := naga.LowerWithSource(ast, src)
	if err != nil {
		return nil, fail(err.Error())
	}
	verrs, err := naga.Validate(module)
	if err != nil {
		return nil, fail(err.Error())
	}
	if len(verrs) > 0 {
		diags := make([]string, len(verrs))
		for i := range verrs {
			diags[i] = verrs[i].Error()
		}
		return nil, fail(diags...)
	}

	for i, s := range stages {
		if !hasEntry(module, names[i], s) {
			return nil, &CompileError{
				Name:        req.Name,
				Stage:       s.String(),
				Entry:       names[i],
				Diagnostics: []string{fmt.Sprintf("no %s entry point named %q", s, names[i])},
			}
		}
	}

	if err := ctx.Err(); err != nil {
		return nil, err
	}
	payloads := make([][]byte, len(stages))
	entries := append([]string(nil), names...)
	var layout []byte

	var g errgroup.Group
	switch req.Target {
	case TargetSPIRV:
		g.Go(func() error {
			code, err := naga.GenerateSPIRV(module, spirv.Options{Version: spirv.Version1_3, Debug: req.Debug})
			if err != nil {
				return fail(err.Error())
			}
			for i := range payloads {
				payloads[i] = code
			}
			return nil
		})
	case TargetHLSL:
		for i := range stages {
			g.Go(func() error {
				opts := hlsl.DefaultOptions()
				opts.EntryPoint = names[i]
				code, info, err := hlsl.Compile(module, opts)
				if err != nil {
					return &CompileError{Name: req.Name, Stage: stages[i].String(), Entry: names[i], Diagnostics: []string{err.Error()}}
				}
				if info != nil {
					if renamed, ok := info.EntryPointNames[names[i]]; ok && renamed != "" {
						entries[i] = renamed
					}
				}
				payloads[i] = []byte(code)
				return nil
			})
		}
	case TargetWGSL:
		for i := range payloads {
			payloads[i] = []byte(src)
		}
	default:
		return nil, fmt.Errorf("shaderc: unknown target %v", req.Target)
	}
	if req.DeriveLayout {
		g.Go(func() error {
			layout = EncodeLayout(Reflect(module))
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	res := &Result{Stages: make(map[Stage][]byte, len(stages)), Layout: layout}
	for i, s := range stages {
		res.Stages[s] = EncodeStage(&StageBlob{Stage: s, Target: req.Target, Entry: entries[i], Code: payloads[i]})
	}
	slogger().Debug("shaderc: compiled", "name", req.Name, "target", req.Target, "stages", len(stages))
	return res, nil
}

func hasEntry(m *ir.Module, name string, s Stage) bool {
	for _, ep := range m.EntryPoints {
		if ep.Name == name && ep.Stage == s.ir() {
			return true
		}
	}
	return false
}

// CompileAll compiles every request concurrently, bounded by GOMAXPROCS.
// Results are returned in request order. The first failure cancels the
// compilations that have not started yet.
func CompileAll(ctx context.Context, reqs []Request) ([]*Result, error) {
	out := make([]*Result, len(reqs))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(runtime.GOMAXPROCS(0))
	for i := range reqs {
		g.Go(func() error {
			res, err := Compile(gctx, reqs[i])
			if err != nil {
				return err
			}
			out[i] = res
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return out, nil
}
