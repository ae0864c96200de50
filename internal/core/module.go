// Package core is the module system of ingestd: registration, lifecycle
// and the shared context handed to modules while they provision.
package core

import "strings"

// ModuleID names a module. By convention it is "<namespace>.<name>",
// for example "store.sqlite" or "embedder.http".
type ModuleID string

// Namespace returns the part of the ID before the first dot.
func (id ModuleID) Namespace() string {
	ns, _, _ := strings.Cut(string(id), ".")
	return ns
}

// ModuleInfo describes a registered module.
type ModuleInfo struct {
	ID  ModuleID
	New func() Module
}

// Module is implemented by every pluggable component.
type Module interface {
	ModuleInfo() ModuleInfo
}
