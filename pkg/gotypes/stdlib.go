package gotypes

import (
	"log/slog"
	"sync"

	"golang.org/x/tools/go/packages"
)

// stdPackages lists the standard library import paths once per process.
var stdPackages = sync.OnceValue(func() map[string]bool {
	pkgs, err := packages.Load(&packages.Config{Mode: packages.NeedName}, "std")
	if err != nil {
		slog.Warn("list standard library", "error", err)
	}
	std := map[string]bool{"unsafe": true} // go list std omits unsafe
	for _, p := range pkgs {
		std[p.PkgPath] = true
	}
	slog.Debug("loaded std lib packages", "num", len(std))
	return std
})

// isTargetPackage tells the builder whether p's declarations belong in the
// model. Dependencies only contribute the interfaces the targets call.
func isTargetPackage(p *packages.Package) bool {
	if stdPackages()[p.PkgPath] {
		return false
	}
	if p.Module != nil {
		return p.Module.Main
	}
	// GOPATH mode: everything outside the standard library is user code.
	return true
}
