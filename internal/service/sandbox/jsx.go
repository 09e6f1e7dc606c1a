package sandbox

import (
	"path"
	"regexp"
	"strings"

	chatModels "sandchat/internal/domain/models/chat"
)

var (
	importStmt   = regexp.MustCompile(`(?m)^[ \t]*import\b[^;'"]*?["'][^"'\n]+["'][ \t]*;?`)
	exportDefFn  = regexp.MustCompile(`(?m)^([ \t]*)export\s+default\s+(function|class)\b`)
	exportDefRef = regexp.MustCompile(`(?m)^[ \t]*export\s+default\s+[A-Za-z_$][\w$]*\s*;?[ \t]*$`)
	exportList   = regexp.MustCompile(`(?m)^[ \t]*export\s*\{[^}]*\}\s*;?[ \t]*$`)
	exportDecl   = regexp.MustCompile(`(?m)^([ \t]*)export\s+(const|let|var|function|class|async\s+function)\b`)
	cssImport    = regexp.MustCompile(`(?m)^[ \t]*import\s+["']([^"']+\.css)["']`)
	rootDecl     = regexp.MustCompile(`(?m)^(?:async\s+)?(?:function\s*\*?\s*([A-Z][\w$]*)\s*\(|(?:const|let|var)\s+([A-Z][\w$]*)\s*=|class\s+([A-Z][\w$]*)\b)`)
)

// reactGlobals are exposed to the component code so that stripped
// `import { useState } from "react"` lines keep working
const reactGlobals = "useState, useEffect, useRef, useMemo, useCallback, useReducer, useContext, " +
	"useLayoutEffect, createContext, Fragment"

// StripModuleSyntax removes import statements and export keywords; the
// preview runs the component as a plain script
func StripModuleSyntax(src string) string {
	src = importStmt.ReplaceAllString(src, "")
	src = exportDefRef.ReplaceAllString(src, "")
	src = exportList.ReplaceAllString(src, "")
	src = exportDefFn.ReplaceAllString(src, "$1$2")
	src = exportDecl.ReplaceAllString(src, "$1$2")
	return src
}

// FindRootComponent guesses which component to mount: the last top-level
// function, const or class declaration whose name is capitalised. This is
// a heuristic over the source text, not a parse.
func FindRootComponent(src string) (string, bool) {
	matches := rootDecl.FindAllStringSubmatch(src, -1)
	if len(matches) == 0 {
		return "", false
	}
	last := matches[len(matches)-1]
	for _, name := range last[1:] {
		if name != "" {
			return name, true
		}
	}
	return "", false
}

// jsxDocument mounts the root component with React, ReactDOM and Babel
// standalone loaded from a CDN
func jsxDocument(state *chatModels.SandboxState, docPath, content string) string {
	var head strings.Builder
	head.WriteString(`<script src="` + reactURL + `" crossorigin></script>` + "\n")
	head.WriteString(`<script src="` + reactDOMURL + `" crossorigin></script>` + "\n")
	head.WriteString(`<script src="` + babelURL + `"></script>` + "\n")
	for _, m := range cssImport.FindAllStringSubmatch(content, -1) {
		if f, ok := lookupLocal(state, path.Dir(docPath), m[1]); ok {
			head.WriteString("<style>\n" + f.Content + "\n</style>\n")
		}
	}

	code := StripModuleSyntax(content)
	root, ok := FindRootComponent(code)
	if !ok {
		body := `<div id="root"><div style="font-family:sans-serif;color:#b00;padding:2rem;text-align:center">` +
			`No component found. Declare a capitalised function or const component to preview it.</div></div>`
		return shell("", head.String(), body)
	}

	// the user code sits in its own block so it may redeclare the hooks
	var script strings.Builder
	script.WriteString("<script type=\"text/babel\" data-presets=\"react\">\n(function () {\n")
	script.WriteString("const { " + reactGlobals + " } = React;\n{\n")
	script.WriteString(escapeScript(code))
	script.WriteString("\nReactDOM.createRoot(document.getElementById(\"root\")).render(React.createElement(" + root + "));\n")
	script.WriteString("}\n})();\n</script>")

	return shell("", head.String(), `<div id="root"></div>`+"\n"+script.String())
}
