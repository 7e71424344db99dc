package shaderc

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

const maxIncludeDepth = 32

// ErrInclude is returned when an #include cannot be resolved.
var ErrInclude = errors.New("shaderc: include not found")

// Preprocess expands directives in src:
//
//	#include "file"   inserts file, searched in includePaths; each file once
//	#define NAME val  defines a macro substituted in later lines
//	#undef NAME
//	#ifdef / #ifndef / #else / #endif
//
// Directive lines and lines in inactive branches are blanked so the line
// numbers of the root source are preserved in diagnostics.
func Preprocess(src string, defines []Define, includePaths []string) (string, error) {
	p := &preprocessor{
		macros:   make(map[string]string, len(defines)),
		included: make(map[string]bool),
		paths:    includePaths,
	}
	for _, d := range defines {
		p.macros[d.Name] = d.Value
	}
	var out strings.Builder
	if err := p.run(&out, src, "<source>", 0); err != nil {
		return "", err
	}
	return out.String(), nil
}

type preprocessor struct {
	macros   map[string]string
	included map[string]bool
	paths    []string
}

type branch struct {
	active     bool // lines in this branch are emitted
	parentLive bool
	seenElse   bool
}

func (p *preprocessor) run(out *strings.Builder, src, file string, depth int) error {
	if depth > maxIncludeDepth {
		return fmt.Errorf("shaderc: %s: include depth exceeds %d", file, maxIncludeDepth)
	}
	var stack []branch
	live := func() bool { return len(stack) == 0 || stack[len(stack)-1].active }

	lines := strings.Split(src, "\n")
	for n, line := range lines {
		trimmed := strings.TrimSpace(line)
		if !strings.HasPrefix(trimmed, "#") {
			if live() {
				out.WriteString(p.substitute(line))
			}
			if n < len(lines)-1 {
				out.WriteByte('\n')
			}
			continue
		}

		directive, arg := splitDirective(trimmed[1:])
		at := func(format string, args ...any) error {
			return fmt.Errorf("shaderc: %s:%d: %s", file, n+1, fmt.Sprintf(format, args...))
		}
		switch directive {
		case "ifdef", "ifndef":
			if arg == "" {
				return at("#%s without a name", directive)
			}
			_, defined := p.macros[arg]
			cond := defined == (directive == "ifdef")
			stack = append(stack, branch{active: live() && cond, parentLive: live()})
		case "else":
			if len(stack) == 0 {
				return at("#else without #ifdef")
			}
			top := &stack[len(stack)-1]
			if top.seenElse {
				return at("duplicate #else")
			}
			top.seenElse = true
			top.active = top.parentLive && !top.active
		case "endif":
			if len(stack) == 0 {
				return at("#endif without #ifdef")
			}
			stack = stack[:len(stack)-1]
		case "define":
			if !live() {
				break
			}
			name, value := splitDirective(arg)
			if name == "" {
				return at("#define without a name")
			}
			p.macros[name] = value
		case "undef":
			if live() {
				delete(p.macros, arg)
			}
		case "include":
			if !live() {
				break
			}
			name := strings.Trim(arg, `"<>`)
			if name == "" {
				return at("#include without a file")
			}
			path, body, err := p.resolve(name, filepath.Dir(file))
			if err != nil {
				return at("%v", err)
			}
			if !p.included[path] {
				p.included[path] = true
				if err := p.run(out, body, path, depth+1); err != nil {
					return err
				}
			}
		default:
			return at("unknown directive #%s", directive)
		}
		if n < len(lines)-1 {
			out.WriteByte('\n')
		}
	}
	if len(stack) != 0 {
		return fmt.Errorf("shaderc: %s: unterminated #ifdef", file)
	}
	return nil
}

func (p *preprocessor) resolve(name, dir string) (string, string, error) {
	candidates := make([]string, 0, len(p.paths)+1)
	if dir != "." && dir != "" {
		candidates = append(candidates, filepath.Join(dir, name))
	}
	for _, inc := range p.paths {
		candidates = append(candidates, filepath.Join(inc, name))
	}
	for _, c := range candidates {
		data, err := os.ReadFile(c)
		if err == nil {
			return filepath.Clean(c), string(data), nil
		}
		if !errors.Is(err, os.ErrNotExist) {
			return "", "", err
		}
	}
	return "", "", fmt.Errorf("%w: %q", ErrInclude, name)
}

func splitDirective(s string) (string, string) {
	s = strings.TrimSpace(s)
	i := strings.IndexAny(s, " \t")
	if i < 0 {
		return s, ""
	}
	return s[:i], strings.TrimSpace(s[i+1:])
}

func isIdentStart(c byte) bool {
	return c == '_' || c >= 'a' && c <= 'z' || c >= 'A' && c <= 'Z'
}

func isIdent(c byte) bool { return isIdentStart(c) || c >= '0' && c <= '9' }

// substitute replaces whole identifiers that name macros. Comments are
// left as they are.
func (p *preprocessor) substitute(line string) string {
	if len(p.macros) == 0 {
		return line
	}
	var b strings.Builder
	for i := 0; i < len(line); {
		c := line[i]
		if c == '/' && i+1 < len(line) && line[i+1] == '/' {
			b.WriteString(line[i:])
			break
		}
		if !isIdentStart(c) {
			b.WriteByte(c)
			i++
			continue
		}
		j := i + 1
		for j < len(line) && isIdent(line[j]) {
			j++
		}
		word := line[i:j]
		if v, ok := p.macros[word]; ok {
			b.WriteString(v)
		} else {
			b.WriteString(word)
		}
		i = j
	}
	return b.String()
}
