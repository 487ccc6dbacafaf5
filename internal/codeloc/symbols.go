package codeloc

import (
	"path"
	"regexp"
	"strings"
)

// Language identifies a source language for symbol verification.
type Language string

const (
	LangGo         Language = "go"
	LangPython     Language = "python"
	LangJavaScript Language = "javascript"
	LangTypeScript Language = "typescript"
	LangTSX        Language = "tsx"
	LangRust       Language = "rust"
	LangJava       Language = "java"
	LangKotlin     Language = "kotlin"
	LangUnknown    Language = ""
)

// LanguageFor maps a file extension to a language.
func LanguageFor(p string) Language {
	switch strings.ToLower(path.Ext(p)) {
	case ".go":
		return LangGo
	case ".py", ".pyi":
		return LangPython
	case ".js", ".jsx", ".mjs", ".cjs":
		return LangJavaScript
	case ".ts", ".mts", ".cts":
		return LangTypeScript
	case ".tsx":
		return LangTSX
	case ".rs":
		return LangRust
	case ".java":
		return LangJava
	case ".kt", ".kts":
		return LangKotlin
	default:
		return LangUnknown
	}
}

// symbolName returns the component of a dotted symbol that must be declared,
// e.g. "scan" for "DriftScanner.scan".
func symbolName(symbol string) string {
	symbol = strings.ReplaceAll(symbol, "::", ".")
	if i := strings.LastIndex(symbol, "."); i >= 0 {
		return symbol[i+1:]
	}
	return symbol
}

// regexHasSymbol looks for a declaration of name using keyword heuristics
// common to the supported languages.
func regexHasSymbol(src []byte, name string) bool {
	q := regexp.QuoteMeta(name)
	re := regexp.MustCompile(`(?m)(?:^|[\s;{(])(?:` +
		`(?:class|def|async\s+def|function\*?|interface|enum|trait|struct|object|module|fn|fun|type|const|let|var|impl)\s+` +
		`|func\s+(?:\([^)]*\)\s*)?` +
		`)` + q + `\b`)
	if re.Match(src) {
		return true
	}
	// Python/JS assignments at top level, e.g. "handler = make_handler()".
	assign := regexp.MustCompile(`(?m)^(?:export\s+)?` + q + `\s*[:=]`)
	return assign.Match(src)
}
