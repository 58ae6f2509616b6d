// Package env composes the environment handed to supervised children.
package env

import (
	"fmt"
	"os"
	"sort"
	"strings"
)

// Var maps variable names to values.
type Var map[string]string

// Env layers configured variables over the supervisor's own environment.
type Env struct {
	Var  Var // configured overrides (K->V)
	base Var // snapshot of the OS environment
}

func New() *Env {
	return &Env{Var: make(Var)}
}

// FromMap returns an Env with the given overrides.
func FromMap(m map[string]string) *Env {
	e := New()
	for k, v := range m {
		e.Set(k, v)
	}
	return e
}

// FromOS snapshots the current process environment as the base layer.
func (e *Env) FromOS() {
	e.base = toVar(os.Environ())
}

// Set sets an override K=V. Empty keys are ignored.
func (e *Env) Set(k, v string) {
	if k == "" {
		return
	}
	if e.Var == nil {
		e.Var = make(Var)
	}
	e.Var[k] = v
}

// WithSet returns a copy of e with K=V set.
func (e *Env) WithSet(k, v string) *Env {
	c := &Env{Var: make(Var, len(e.Var)+1), base: e.base}
	for kk, vv := range e.Var {
		c.Var[kk] = vv
	}
	c.Set(k, v)
	return c
}

// Merge composes the child environment: OS base, then configured overrides,
// then the per-process "K=V" entries. Override values are expanded once
// against the composed map (${VAR} only, no recursion). The result is sorted
// by key.
func (e *Env) Merge(perProc []string) []string {
	if e.base == nil {
		e.FromOS()
	}
	m := make(Var, len(e.base)+len(e.Var)+len(perProc))
	for k, v := range e.base {
		m[k] = v
	}
	overrides := make(Var, len(e.Var)+len(perProc))
	for k, v := range e.Var {
		if k != "" {
			overrides[k] = v
		}
	}
	for k, v := range toVar(perProc) {
		overrides[k] = v
	}
	for k, v := range overrides {
		m[k] = v
	}
	expanded := make(Var, len(overrides))
	for k, v := range overrides {
		expanded[k] = expand(v, m)
	}
	for k, v := range expanded {
		m[k] = v
	}
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	out := make([]string, 0, len(keys))
	for _, k := range keys {
		out = append(out, k+"="+m[k])
	}
	return out
}

// ParsePairs validates "K=V" entries as given on the command line.
func ParsePairs(pairs []string) ([]string, error) {
	out := make([]string, 0, len(pairs))
	for _, kv := range pairs {
		i := strings.IndexByte(kv, '=')
		if i <= 0 {
			return nil, fmt.Errorf("invalid env entry %q: want KEY=VALUE", kv)
		}
		out = append(out, kv)
	}
	return out, nil
}

func toVar(kvs []string) Var {
	m := make(Var, len(kvs))
	for _, kv := range kvs {
		if i := strings.IndexByte(kv, '='); i > 0 {
			m[kv[:i]] = kv[i+1:]
		}
	}
	return m
}

// expand replaces ${VAR} references found in m; unknown references stay.
func expand(s string, m Var) string {
	var b strings.Builder
	for {
		i := strings.Index(s, "${")
		if i < 0 {
			b.WriteString(s)
			return b.String()
		}
		j := strings.IndexByte(s[i+2:], '}')
		if j < 0 {
			b.WriteString(s)
			return b.String()
		}
		b.WriteString(s[:i])
		key := s[i+2 : i+2+j]
		if v, ok := m[key]; ok {
			b.WriteString(v)
		} else {
			b.WriteString(s[i : i+3+j])
		}
		s = s[i+3+j:]
	}
}
