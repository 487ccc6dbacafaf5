//go:build cgo

package codeloc

import (
	"context"
	"fmt"

	sitter "github.com/smacker/go-tree-sitter"
	"github.com/smacker/go-tree-sitter/golang"
	"github.com/smacker/go-tree-sitter/java"
	"github.com/smacker/go-tree-sitter/javascript"
	"github.com/smacker/go-tree-sitter/kotlin"
	"github.com/smacker/go-tree-sitter/python"
	"github.com/smacker/go-tree-sitter/rust"
	"github.com/smacker/go-tree-sitter/typescript/tsx"
	"github.com/smacker/go-tree-sitter/typescript/typescript"
)

// SymbolBackend names the verifier compiled into this build.
const SymbolBackend = "tree-sitter"

func grammarFor(lang Language) *sitter.Language {
	switch lang {
	case LangGo:
		return golang.GetLanguage()
	case LangPython:
		return python.GetLanguage()
	case LangJavaScript:
		return javascript.GetLanguage()
	case LangTypeScript:
		return typescript.GetLanguage()
	case LangTSX:
		return tsx.GetLanguage()
	case LangRust:
		return rust.GetLanguage()
	case LangJava:
		return java.GetLanguage()
	case LangKotlin:
		return kotlin.GetLanguage()
	default:
		return nil
	}
}

// declarationTypes are the node kinds whose name can satisfy a [Symbol].
var declarationTypes = map[Language]map[string]bool{
	LangGo: {
		"function_declaration": true, "method_declaration": true, "type_spec": true,
		"const_spec": true, "var_spec": true,
	},
	LangPython: {
		"class_definition": true, "function_definition": true,
	},
	LangJavaScript: {
		"class_declaration": true, "function_declaration": true, "method_definition": true,
		"generator_function_declaration": true, "variable_declarator": true,
	},
	LangTypeScript: {
		"class_declaration": true, "abstract_class_declaration": true, "interface_declaration": true,
		"function_declaration": true, "method_definition": true, "type_alias_declaration": true,
		"enum_declaration": true, "variable_declarator": true,
	},
	LangRust: {
		"struct_item": true, "enum_item": true, "trait_item": true, "function_item": true,
		"type_item": true, "mod_item": true, "const_item": true,
	},
	LangJava: {
		"class_declaration": true, "interface_declaration": true, "enum_declaration": true,
		"method_declaration": true, "record_declaration": true,
	},
	LangKotlin: {
		"class_declaration": true, "object_declaration": true, "function_declaration": true,
	},
}

func init() {
	declarationTypes[LangTSX] = declarationTypes[LangTypeScript]
}

// HasSymbol reports whether src declares symbol. Files in languages without a
// grammar fall back to keyword matching.
func HasSymbol(ctx context.Context, filePath string, src []byte, symbol string) (bool, error) {
	name := symbolName(symbol)
	lang := LanguageFor(filePath)
	grammar := grammarFor(lang)
	if grammar == nil {
		return regexHasSymbol(src, name), nil
	}

	parser := sitter.NewParser()
	defer parser.Close()
	parser.SetLanguage(grammar)
	tree, err := parser.ParseCtx(ctx, nil, src)
	if err != nil {
		return false, fmt.Errorf("parse error: %w", err)
	}
	defer tree.Close()

	return findDeclaration(tree.RootNode(), src, lang, name), nil
}

func findDeclaration(node *sitter.Node, src []byte, lang Language, name string) bool {
	if node == nil {
		return false
	}
	if declarationTypes[lang][node.Type()] && declaredName(node, src, lang) == name {
		return true
	}
	for i := 0; i < int(node.NamedChildCount()); i++ {
		if findDeclaration(node.NamedChild(i), src, lang, name) {
			return true
		}
	}
	return false
}

func declaredName(node *sitter.Node, src []byte, lang Language) string {
	nameNode := node.ChildByFieldName("name")
	if nameNode == nil {
		// Kotlin declarations carry their name as an identifier child.
		for i := 0; i < int(node.NamedChildCount()); i++ {
			child := node.NamedChild(i)
			if child == nil {
				continue
			}
			switch child.Type() {
			case "simple_identifier", "type_identifier", "identifier":
				nameNode = child
			}
			if nameNode != nil {
				break
			}
		}
	}
	if nameNode == nil {
		return ""
	}
	return nameNode.Content(src)
}
