// Package redact removes secrets from shell commands before they are logged.
package redact

import (
	"bytes"
	"regexp"
	"strings"

	"mvdan.cc/sh/v3/syntax"
)

// Placeholder replaces redacted values.
const Placeholder = "***"

// safeVars are environment variables whose values are not sensitive.
var safeVars = map[string]bool{
	"HOME": true, "USER": true, "PWD": true, "OLDPWD": true,
	"SHELL": true, "PATH": true, "LANG": true, "TERM": true,
	"EDITOR": true, "PAGER": true, "HOSTNAME": true, "LOGNAME": true,
	"TMPDIR": true, "GOPATH": true, "GOOS": true, "GOARCH": true,
	"NODE_ENV": true, "VIRTUAL_ENV": true, "CI": true,
}

// specialParams are shell special parameters.
var specialParams = map[string]bool{
	"?": true, "!": true, "#": true, "@": true, "*": true,
	"-": true, "$": true, "_": true,
	"0": true, "1": true, "2": true, "3": true, "4": true,
	"5": true, "6": true, "7": true, "8": true, "9": true,
}

// secretFlags take a secret as their value, either as --flag=value or as
// the following word.
var secretFlags = map[string]bool{
	"--password": true, "--passwd": true, "--token": true, "--api-key": true,
	"--apikey": true, "--secret": true, "--access-token": true, "--auth": true,
}

// Command rewrites cmd with environment references, assignment values, and
// secret flag values replaced. Safe variables and special parameters are kept.
func Command(cmd string) string {
	parser := syntax.NewParser(syntax.Variant(syntax.LangBash), syntax.KeepComments(true))
	prog, err := parser.Parse(strings.NewReader(cmd), "")
	if err != nil {
		return regexRedact(cmd)
	}

	syntax.Walk(prog, func(node syntax.Node) bool {
		switch n := node.(type) {
		case *syntax.ParamExp:
			if n.Param != nil && !safeVars[n.Param.Value] && !specialParams[n.Param.Value] {
				n.Param.Value = "REDACTED"
			}
		case *syntax.Assign:
			if n.Name != nil && !safeVars[n.Name.Value] && n.Value != nil {
				n.Value.Parts = []syntax.WordPart{&syntax.Lit{Value: Placeholder}}
			}
		case *syntax.CallExpr:
			redactArgs(n.Args)
		}
		return true
	})

	var buf bytes.Buffer
	printer := syntax.NewPrinter(syntax.Indent(0))
	if err := printer.Print(&buf, prog); err != nil {
		return regexRedact(cmd)
	}
	return strings.TrimRight(buf.String(), "\n")
}

// redactArgs masks the values of secret flags and Authorization headers.
func redactArgs(args []*syntax.Word) {
	for i, w := range args {
		lit := w.Lit()
		if lit == "" {
			continue
		}
		if name, _, ok := strings.Cut(lit, "="); ok && secretFlags[name] {
			w.Parts = []syntax.WordPart{&syntax.Lit{Value: name + "=" + Placeholder}}
			continue
		}
		if i+1 >= len(args) {
			continue
		}
		if secretFlags[lit] {
			args[i+1].Parts = []syntax.WordPart{&syntax.Lit{Value: Placeholder}}
			continue
		}
		if lit == "-H" || lit == "--header" {
			if header := wordText(args[i+1]); isAuthHeader(header) {
				name, _, _ := strings.Cut(header, ":")
				args[i+1].Parts = []syntax.WordPart{&syntax.DblQuoted{
					Parts: []syntax.WordPart{&syntax.Lit{Value: name + ": " + Placeholder}},
				}}
			}
		}
	}
}

// wordText returns the literal text of w, looking inside quotes.
func wordText(w *syntax.Word) string {
	var sb strings.Builder
	for _, part := range w.Parts {
		switch p := part.(type) {
		case *syntax.Lit:
			sb.WriteString(p.Value)
		case *syntax.SglQuoted:
			sb.WriteString(p.Value)
		case *syntax.DblQuoted:
			for _, inner := range p.Parts {
				if l, ok := inner.(*syntax.Lit); ok {
					sb.WriteString(l.Value)
				}
			}
		}
	}
	return sb.String()
}

func isAuthHeader(h string) bool {
	name, _, ok := strings.Cut(h, ":")
	if !ok {
		return false
	}
	switch strings.ToLower(strings.TrimSpace(name)) {
	case "authorization", "proxy-authorization", "x-api-key", "cookie":
		return true
	}
	return false
}

var (
	reBraceVar  = regexp.MustCompile(`\$\{([A-Za-z_][A-Za-z0-9_]*)\}`)
	reSimpleVar = regexp.MustCompile(`\$([A-Za-z_][A-Za-z0-9_]*)`)
	reAssign    = regexp.MustCompile(`\b([A-Za-z_][A-Za-z0-9_]*)=(\S+)`)
)

// regexRedact is the fallback for commands that do not parse.
func regexRedact(cmd string) string {
	cmd = reBraceVar.ReplaceAllStringFunc(cmd, func(m string) string {
		name := reBraceVar.FindStringSubmatch(m)[1]
		if safeVars[name] || specialParams[name] {
			return m
		}
		return "${REDACTED}"
	})

	cmd = reSimpleVar.ReplaceAllStringFunc(cmd, func(m string) string {
		name := reSimpleVar.FindStringSubmatch(m)[1]
		if name == "REDACTED" || safeVars[name] || specialParams[name] {
			return m
		}
		return "$REDACTED"
	})

	cmd = reAssign.ReplaceAllStringFunc(cmd, func(m string) string {
		name := reAssign.FindStringSubmatch(m)[1]
		if safeVars[name] {
			return m
		}
		return name + "=" + Placeholder
	})

	return cmd
}
