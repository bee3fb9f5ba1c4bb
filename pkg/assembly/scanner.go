// Package assembly scans Go assembly files for the functions they
// implement and the Go functions they reach.
package assembly

import (
	"bufio"
	"fmt"
	"io"
	"os"
	"regexp"
	"strings"

	"golang.org/x/tools/go/packages"
)

// Info lists the package-level symbols an assembly file mentions.
type Info struct {
	// Implemented holds functions whose body is a TEXT block.
	Implemented map[string]struct{}
	// Referenced holds functions the assembly calls, jumps to or takes the
	// address of.
	Referenced map[string]struct{}
}

func newInfo() *Info {
	return &Info{
		Implemented: make(map[string]struct{}),
		Referenced:  make(map[string]struct{}),
	}
}

// Implements reports whether name has an assembly body.
func (i *Info) Implements(name string) bool {
	_, ok := i.Implemented[name]
	return ok
}

// References reports whether assembly code can transfer control to name.
func (i *Info) References(name string) bool {
	_, ok := i.Referenced[name]
	return ok
}

// Empty reports whether no symbol was found.
func (i *Info) Empty() bool {
	return len(i.Implemented) == 0 && len(i.Referenced) == 0
}

// The middle dot marks a symbol of the current package.
var (
	// TEXT ·name(SB)
	textPattern = regexp.MustCompile(`TEXT\s+·([a-zA-Z_][a-zA-Z0-9_]*)\(SB\)`)

	// CALL ·name(SB) and tail calls JMP ·name(SB)
	callPattern = regexp.MustCompile(`(?:CALL|JMP)\s+·([a-zA-Z_][a-zA-Z0-9_]*)\(SB\)`)

	// $·name(SB), a function address loaded for an indirect call
	addrPattern = regexp.MustCompile(`\$·([a-zA-Z_][a-zA-Z0-9_]*)\(SB\)`)
)

// ScanPackage scans the assembly files of pkg. pkg.OtherFiles is already
// filtered by the build configuration used to load the package.
func ScanPackage(pkg *packages.Package) (*Info, error) {
	info := newInfo()
	if pkg == nil {
		return info, nil
	}
	for _, file := range pkg.OtherFiles {
		if !strings.HasSuffix(file, ".s") {
			continue
		}
		if err := scanFile(file, info); err != nil {
			return info, fmt.Errorf("scan assembly file: %s: %w", file, err)
		}
	}
	return info, nil
}

func scanFile(filename string, info *Info) error {
	file, err := os.Open(filename)
	if err != nil {
		return err
	}
	defer file.Close()

	return scanReader(file, info)
}

func scanReader(r io.Reader, info *Info) error {
	scanner := bufio.NewScanner(r)

	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "//") {
			continue
		}
		// Drop trailing comments.
		if i := strings.Index(line, "//"); i >= 0 {
			line = line[:i]
		}

		if m := textPattern.FindStringSubmatch(line); m != nil {
			info.Implemented[m[1]] = struct{}{}
			continue
		}
		for _, m := range callPattern.FindAllStringSubmatch(line, -1) {
			info.Referenced[m[1]] = struct{}{}
		}
		for _, m := range addrPattern.FindAllStringSubmatch(line, -1) {
			info.Referenced[m[1]] = struct{}{}
		}
	}

	return scanner.Err()
}
