package turn

import (
	"fmt"
	"strings"

	chatModels "sandchat/internal/domain/models/chat"
)

// BuildAutoFixPrompt asks the assistant to repair a file after a runtime
// error, embedding the error, the file and its language
func BuildAutoFixPrompt(errText, path string, file chatModels.SandboxFile) string {
	fence := "```"
	for strings.Contains(file.Content, fence) {
		fence += "`"
	}

	var b strings.Builder
	fmt.Fprintf(&b, "Running `%s` (%s) failed with this error:\n\n", path, file.Language)
	fmt.Fprintf(&b, "%s\n%s\n%s\n\n", fence, strings.TrimSpace(errText), fence)
	fmt.Fprintf(&b, "Current content of `%s`:\n\n", path)
	fmt.Fprintf(&b, "%s%s\n%s\n%s\n\n", fence, file.Language, file.Content, fence)
	b.WriteString("Find the cause and fix it. Return the corrected file as a file-operation batch.")
	return b.String()
}
