package chat

import (
	"path"
	"strings"
)

// NormalizeLanguage maps a fenced-code language id to a sandbox language tag
func NormalizeLanguage(tag string) Language {
	fields := strings.Fields(strings.ToLower(tag))
	if len(fields) == 0 {
		return LanguageText
	}
	switch fields[0] {
	case "html", "htm":
		return LanguageHTML
	case "jsx", "react", "tsx":
		return LanguageJSX
	case "js", "javascript", "mjs":
		return LanguageJavaScript
	case "py", "python", "python3":
		return LanguagePython
	case "python-api", "py-api", "pyapi":
		return LanguagePythonAPI
	case "css":
		return LanguageCSS
	default:
		return LanguageText
	}
}

// LanguageForPath infers the language of a sandbox file from its extension.
// Python files are plain python; python-api only comes from a tagged code block.
func LanguageForPath(p string) Language {
	switch strings.ToLower(path.Ext(p)) {
	case ".html", ".htm":
		return LanguageHTML
	case ".jsx", ".tsx":
		return LanguageJSX
	case ".js", ".mjs":
		return LanguageJavaScript
	case ".py":
		return LanguagePython
	case ".css":
		return LanguageCSS
	default:
		return LanguageText
	}
}

// PopulatesSandbox reports whether a complete code block in this language
// becomes the chat's single-file sandbox
func (l Language) PopulatesSandbox() bool {
	switch l {
	case LanguageJSX, LanguageHTML, LanguagePython, LanguagePythonAPI:
		return true
	}
	return false
}
