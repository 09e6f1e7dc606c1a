package sandbox

import (
	"fmt"
	"html"
	"path"
	"regexp"
	"strings"

	chatModels "sandchat/internal/domain/models/chat"
)

const (
	reactURL    = "https://unpkg.com/react@18/umd/react.development.js"
	reactDOMURL = "https://unpkg.com/react-dom@18/umd/react-dom.development.js"
	babelURL    = "https://unpkg.com/@babel/standalone/babel.min.js"
)

var (
	headOpen      = regexp.MustCompile(`(?i)<head[^>]*>`)
	htmlOpen      = regexp.MustCompile(`(?i)<html[^>]*>`)
	scriptSrc     = regexp.MustCompile(`(?is)<script([^>]*?)\ssrc\s*=\s*["']([^"']+)["']([^>]*)>\s*</script>`)
	stylesheet    = regexp.MustCompile(`(?is)<link([^>]*?)\shref\s*=\s*["']([^"']+)["']([^>]*)/?>`)
	relStylesheet = regexp.MustCompile(`(?i)rel\s*=\s*["']?stylesheet`)
	scriptClose   = regexp.MustCompile(`(?i)</script`)
)

// BuildDocument renders the active file of state as a self-contained,
// executable HTML document. Only web-previewable languages render; the
// others get a placeholder page pointing at the run console.
func BuildDocument(state *chatModels.SandboxState) string {
	p, file, ok := state.Active()
	if !ok {
		return placeholderDocument("Nothing to preview yet.")
	}

	switch file.Language {
	case chatModels.LanguageHTML:
		return htmlDocument(state, p, file.Content)
	case chatModels.LanguageJSX:
		return jsxDocument(state, p, file.Content)
	case chatModels.LanguageJavaScript:
		return scriptDocument(file.Content)
	default:
		return placeholderDocument(fmt.Sprintf("%s is not previewable. Use Run to execute it.", p))
	}
}

// htmlDocument injects the shim into the page and inlines local script
// and stylesheet references so the document needs no file server
func htmlDocument(state *chatModels.SandboxState, docPath, content string) string {
	dir := path.Dir(docPath)

	content = scriptSrc.ReplaceAllStringFunc(content, func(tag string) string {
		m := scriptSrc.FindStringSubmatch(tag)
		f, ok := lookupLocal(state, dir, m[2])
		if !ok {
			return tag
		}
		return "<script" + m[1] + m[3] + ">\n" + escapeScript(f.Content) + "\n</script>"
	})
	content = stylesheet.ReplaceAllStringFunc(content, func(tag string) string {
		m := stylesheet.FindStringSubmatch(tag)
		if !relStylesheet.MatchString(tag) {
			return tag
		}
		f, ok := lookupLocal(state, dir, m[2])
		if !ok {
			return tag
		}
		return "<style>\n" + f.Content + "\n</style>"
	})

	if loc := headOpen.FindStringIndex(content); loc != nil {
		return content[:loc[1]] + "\n" + consoleShim + content[loc[1]:]
	}
	if loc := htmlOpen.FindStringIndex(content); loc != nil {
		return content[:loc[1]] + "\n<head>" + consoleShim + "</head>" + content[loc[1]:]
	}
	return "<!DOCTYPE html>\n<html>\n<head>\n<meta charset=\"utf-8\">\n" + consoleShim + "\n</head>\n<body>\n" +
		content + "\n</body>\n</html>\n"
}

func scriptDocument(code string) string {
	return shell("", "", "<script>\n"+escapeScript(code)+"\n</script>")
}

func placeholderDocument(message string) string {
	body := `<div style="font-family:sans-serif;color:#666;padding:2rem;text-align:center">` +
		html.EscapeString(message) + `</div>`
	return shell("", "", body)
}

func shell(title, head, body string) string {
	var b strings.Builder
	b.WriteString("<!DOCTYPE html>\n<html>\n<head>\n<meta charset=\"utf-8\">\n")
	if title != "" {
		b.WriteString("<title>" + html.EscapeString(title) + "</title>\n")
	}
	b.WriteString(consoleShim)
	b.WriteString("\n")
	b.WriteString(head)
	b.WriteString("</head>\n<body>\n")
	b.WriteString(body)
	b.WriteString("\n</body>\n</html>\n")
	return b.String()
}

// lookupLocal resolves a reference relative to the document. Absolute
// URLs never match a sandbox file.
func lookupLocal(state *chatModels.SandboxState, dir, ref string) (chatModels.SandboxFile, bool) {
	if strings.Contains(ref, "://") || strings.HasPrefix(ref, "//") || strings.HasPrefix(ref, "data:") {
		return chatModels.SandboxFile{}, false
	}
	ref = strings.SplitN(strings.SplitN(ref, "?", 2)[0], "#", 2)[0]
	var p string
	if strings.HasPrefix(ref, "/") {
		p = strings.TrimPrefix(path.Clean(ref), "/")
	} else {
		p = strings.TrimPrefix(path.Clean(path.Join("/", dir, ref)), "/")
	}
	f, ok := state.Files[p]
	return f, ok
}

// escapeScript keeps inlined code from closing its script element early
func escapeScript(code string) string {
	return scriptClose.ReplaceAllString(code, `<\/script`)
}
