// Package platform evaluates a package's os/cpu allow-deny lists
// against the host.
package platform

import "strings"

// Host names the platform/arch tokens of the running system, using the
// same string vocabulary as npm's os/cpu fields (win32, darwin, linux;
// x64, arm64, ...). Tests and callers construct this explicitly rather
// than reading runtime.GOOS/GOARCH directly, so the evaluator stays a
// pure function.
type Host struct {
	OS  string
	CPU string
}

// Matches evaluates a single allow/deny list (either os or cpu)
// against one host token: accept iff host is not in the deny set AND
// (allow set empty OR host is in the allow set).
func Matches(list []string, host string) bool {
	if len(list) == 0 {
		return true
	}

	var allow []string
	denied := false
	hasAllow := false

	for _, entry := range list {
		if strings.HasPrefix(entry, "!") {
			if strings.TrimPrefix(entry, "!") == host {
				denied = true
			}
			continue
		}
		hasAllow = true
		allow = append(allow, entry)
	}

	if denied {
		return false
	}
	if !hasAllow {
		return true
	}
	for _, a := range allow {
		if a == host {
			return true
		}
	}
	return false
}

// Accepts reports whether a package whose manifest declares the given
// os/cpu lists is installable on host.
func Accepts(osList, cpuList []string, host Host) bool {
	return Matches(osList, host.OS) && Matches(cpuList, host.CPU)
}
