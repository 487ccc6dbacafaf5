//go:build !cgo

package codeloc

import "context"

// SymbolBackend names the verifier compiled into this build.
const SymbolBackend = "regex"

// HasSymbol reports whether src declares symbol using keyword matching;
// tree-sitter requires cgo.
func HasSymbol(ctx context.Context, filePath string, src []byte, symbol string) (bool, error) {
	if err := ctx.Err(); err != nil {
		return false, err
	}
	return regexHasSymbol(src, symbolName(symbol)), nil
}
