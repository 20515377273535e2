package main

import "strings"

// parseSpecifier splits a CLI-style "name", "name@range", or
// "@scope/name@range" argument into its package name and range (empty
// when the argument carried no "@range" suffix, meaning "latest").
func parseSpecifier(arg string) (name, rng string) {
	if strings.HasPrefix(arg, "@") {
		if idx := strings.Index(arg[1:], "@"); idx >= 0 {
			return arg[:idx+1], arg[idx+2:]
		}
		return arg, ""
	}
	if idx := strings.Index(arg, "@"); idx >= 0 {
		return arg[:idx], arg[idx+1:]
	}
	return arg, ""
}
