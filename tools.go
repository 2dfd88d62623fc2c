//go:build tools

// Package tools pins development tools in go.mod. lefthook runs the hooks in
// lefthook.yml; install it with `go install github.com/evilmartians/lefthook`.
package tools

import (
	_ "github.com/evilmartians/lefthook"
)
