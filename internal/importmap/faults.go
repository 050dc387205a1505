package importmap

import (
	"errors"
	"fmt"
	"regexp"

	"github.com/webwriter-app/webwriter-sub004/internal/npm"
)

// ModuleNotFoundError is returned when a specifier can not be linked to an
// existing module.
type ModuleNotFoundError struct {
	Specifier string
	// the url of the missing (or importing) module, if known
	Module string
	Err    error
}

func (e *ModuleNotFoundError) Error() string {
	msg := "Module not found: " + e.Specifier
	if e.Module != "" && e.Module != e.Specifier {
		msg += " (" + e.Module + ")"
	}
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *ModuleNotFoundError) Unwrap() error { return e.Err }

// AnalyzeError is returned when a module can not be parsed or is of an
// unsupported type.
type AnalyzeError struct {
	Specifier string
	Module    string
	Err       error
}

func (e *AnalyzeError) Error() string {
	return fmt.Sprintf("could not analyze %s (%s): %v", e.Specifier, e.Module, e.Err)
}

func (e *AnalyzeError) Unwrap() error { return e.Err }

// HandleMissingError is returned when a local package has no granted directory.
type HandleMissingError struct {
	Package string
	Err     error
}

func (e *HandleMissingError) Error() string {
	return fmt.Sprintf("no directory granted for local package %s", e.Package)
}

func (e *HandleMissingError) Unwrap() error { return e.Err }

// InstallError records the top-level specifier whose installation failed.
type InstallError struct {
	Root string
	Err  error
}

func (e *InstallError) Error() string {
	return fmt.Sprintf("install %s: %v", e.Root, e.Err)
}

func (e *InstallError) Unwrap() error { return e.Err }

type faultKind uint8

const (
	moduleNotFound faultKind = iota + 1
	analyzeFailed
	handleMissing
)

func (k faultKind) String() string {
	switch k {
	case moduleNotFound:
		return "module not found"
	case analyzeFailed:
		return "analyze failed"
	case handleMissing:
		return "handle missing"
	default:
		return "unknown"
	}
}

type fault struct {
	kind      faultKind
	specifier string
	pkgName   string
}

var faultPatterns = []struct {
	re   *regexp.Regexp
	kind faultKind
}{
	{regexp.MustCompile(`Could not resolve "([^"]+)"`), moduleNotFound},
	{regexp.MustCompile(`Module not found: (\S+)`), moduleNotFound},
	{regexp.MustCompile(`could not analyze (\S+)`), analyzeFailed},
}

// classifyFault extracts the member of set that err is about. Typed errors
// are checked first, then known message patterns. ok is false when err does
// not name a member of set.
func classifyFault(err error, set []string) (f fault, ok bool) {
	var kind faultKind
	var named []string

	var handleErr *HandleMissingError
	var analyzeErr *AnalyzeError
	var notFoundErr *ModuleNotFoundError
	switch {
	case errors.As(err, &handleErr):
		kind = handleMissing
	case errors.As(err, &analyzeErr):
		kind = analyzeFailed
		named = append(named, analyzeErr.Specifier)
	case errors.As(err, &notFoundErr):
		kind = moduleNotFound
		named = append(named, notFoundErr.Specifier)
	}

	var installErr *InstallError
	if errors.As(err, &installErr) {
		named = append([]string{installErr.Root}, named...)
	}

	if kind == 0 {
		for _, p := range faultPatterns {
			if m := p.re.FindStringSubmatch(err.Error()); m != nil {
				kind = p.kind
				named = append(named, m[1])
				break
			}
		}
	}
	if kind == 0 {
		return
	}

	if kind == handleMissing && len(named) == 0 {
		for _, s := range set {
			if specifierPkgName(s) == handleErr.Package {
				named = append(named, s)
				break
			}
		}
	}

	for _, name := range named {
		if member, found := findMember(set, name); found {
			return fault{kind: kind, specifier: member, pkgName: specifierPkgName(member)}, true
		}
	}
	return
}

// findMember matches name against the members of set, exactly or by the
// unversioned form of the member.
func findMember(set []string, name string) (string, bool) {
	for _, s := range set {
		if s == name {
			return s, true
		}
	}
	for _, s := range set {
		if spec, err := npm.ParseSpecifier(s); err == nil && spec.Bare() == name {
			return s, true
		}
	}
	return "", false
}

func specifierPkgName(s string) string {
	spec, err := npm.ParseSpecifier(s)
	if err != nil {
		return s
	}
	return spec.PkgName()
}
