package review

import (
	"path/filepath"
	"strings"
)

var extensionLanguages = map[string]string{
	".py":    "python",
	".js":    "javascript",
	".jsx":   "javascript",
	".ts":    "typescript",
	".tsx":   "typescript",
	".java":  "java",
	".cs":    "csharp",
	".go":    "go",
	".rb":    "ruby",
	".php":   "php",
	".c":     "c",
	".cpp":   "cpp",
	".cc":    "cpp",
	".h":     "c_header",
	".hpp":   "cpp",
	".kt":    "kotlin",
	".swift": "swift",
	".rs":    "rust",
	".md":    "markdown",
	".json":  "json",
	".yaml":  "yaml",
	".yml":   "yaml",
	".html":  "html",
	".css":   "css",
	".scss":  "scss",
	".sh":    "shell",
	".tf":    "terraform",
	".sql":   "sql",
}

// GuessLanguage infers a language name from the file extension.
// It returns "" when the extension is unknown.
func GuessLanguage(path string) string {
	base := filepath.Base(path)
	if base == "Dockerfile" || strings.HasPrefix(base, "Dockerfile.") {
		return "dockerfile"
	}
	return extensionLanguages[strings.ToLower(filepath.Ext(base))]
}

// Languages returns the distinct non-empty languages of the files, in first-seen order.
func Languages(files []ChangedFile) []string {
	seen := make(map[string]bool)
	var langs []string
	for _, f := range files {
		if f.Language == "" || seen[f.Language] {
			continue
		}
		seen[f.Language] = true
		langs = append(langs, f.Language)
	}
	return langs
}
