// Package env holds shell variables and tracks which ones are exported to
// child processes.
package env

import (
	"fmt"
	"sort"
	"strings"
	"sync"
)

// SplitPair splits a NAME=value entry. Entries without '=' have an empty value.
func SplitPair(entry string) (key, value string) {
	split := strings.SplitN(entry, "=", 2)
	key = split[0]
	if len(split) > 1 {
		value = split[1]
	}
	return key, value
}

// New creates an empty environment.
func New() *Env {
	return &Env{}
}

// FromEnviron creates an environment where every entry is exported.
func FromEnviron(environ []string) *Env {
	out := &Env{}
	for _, e := range environ {
		key, value := SplitPair(e)
		out.Setenv(key, value)
	}
	return out
}

type variable struct {
	value    string
	exported bool
}

// Env is an in-memory set of shell variables.
type Env struct {
	rw   sync.RWMutex
	vars map[string]variable
}

func (e *Env) set(key, value string, export bool) {
	e.rw.Lock()
	defer e.rw.Unlock()

	if e.vars == nil {
		e.vars = make(map[string]variable)
	}
	v := e.vars[key]
	v.value = value
	v.exported = v.exported || export
	e.vars[key] = v
}

// Set assigns a shell variable, keeping its exported flag.
func (e *Env) Set(key, value string) {
	e.set(key, value, false)
}

// Setenv assigns and exports a variable.
func (e *Env) Setenv(key, value string) {
	e.set(key, value, true)
}

// Export marks an existing variable as exported, creating it empty if needed.
func (e *Env) Export(key string) {
	value, _ := e.Lookup(key)
	e.set(key, value, true)
}

// Unset removes a variable.
func (e *Env) Unset(key string) {
	e.rw.Lock()
	defer e.rw.Unlock()
	delete(e.vars, key)
}

// Lookup returns the value of the variable and whether it was set.
func (e *Env) Lookup(key string) (string, bool) {
	e.rw.RLock()
	defer e.rw.RUnlock()

	v, ok := e.vars[key]
	return v.value, ok
}

// Get returns the value of the variable or an empty string.
func (e *Env) Get(key string) string {
	val, _ := e.Lookup(key)
	return val
}

// Environ returns the exported variables as sorted NAME=value entries.
func (e *Env) Environ() []string {
	return e.list(true)
}

// All returns every variable as sorted NAME=value entries.
func (e *Env) All() []string {
	return e.list(false)
}

func (e *Env) list(exportedOnly bool) []string {
	e.rw.RLock()
	defer e.rw.RUnlock()

	var out []string
	for k, v := range e.vars {
		if exportedOnly && !v.exported {
			continue
		}
		out = append(out, fmt.Sprintf("%s=%s", k, v.value))
	}
	sort.Strings(out)
	return out
}
