package env

import (
	"sort"
	"strings"
	"testing"
)

// FuzzMergeLayers feeds config-level variables and per-start --env pairs
// through ParsePairs and Merge. Per-start literals must win over config
// values, untouched base variables must pass through, and the result must be
// sorted KEY=VALUE pairs.
func FuzzMergeLayers(f *testing.F) {
	f.Add("APP_ENV=prod\nGREETING=hi ${APP_ENV}", "PORT=9000\nAPP_ENV=dev")
	f.Add("PATH=/opt/bin", "PATH=${PATH}:/usr/local/bin")
	f.Add("A=${B}\nB=${A}", "C=${")
	f.Add("", "=novalue\nK=")
	f.Add("X=1", "X==2\nY=a=b")

	f.Fuzz(func(t *testing.T, globalS, perS string) {
		global := map[string]string{}
		for _, kv := range lines(globalS) {
			if i := strings.IndexByte(kv, '='); i > 0 {
				global[kv[:i]] = kv[i+1:]
			}
		}
		raw := lines(perS)
		per, err := ParsePairs(raw)
		if err != nil {
			for _, kv := range raw {
				if strings.IndexByte(kv, '=') <= 0 {
					return
				}
			}
			t.Fatalf("ParsePairs rejected valid pairs %q: %v", raw, err)
		}

		e := FromMap(global)
		e.base = Var{"PMGR_BASE_ONLY": "kept"}
		out := e.Merge(per)

		if !sort.SliceIsSorted(out, func(i, j int) bool { return key(out[i]) < key(out[j]) }) {
			t.Fatalf("output not sorted: %q", out)
		}
		got := make(map[string]string, len(out))
		for _, kv := range out {
			i := strings.IndexByte(kv, '=')
			if i <= 0 {
				t.Fatalf("bad pair: %q", kv)
			}
			if _, dup := got[kv[:i]]; dup {
				t.Fatalf("duplicate key in %q", out)
			}
			got[kv[:i]] = kv[i+1:]
		}

		last := toVar(per)
		for k, v := range last {
			if !strings.Contains(v, "${") && got[k] != v {
				t.Fatalf("per-start %s=%q lost, got %q", k, v, got[k])
			}
		}
		if _, overridden := global["PMGR_BASE_ONLY"]; !overridden {
			if _, ok := last["PMGR_BASE_ONLY"]; !ok && got["PMGR_BASE_ONLY"] != "kept" {
				t.Fatalf("base variable lost: %q", out)
			}
		}
	})
}

func key(kv string) string {
	if i := strings.IndexByte(kv, '='); i >= 0 {
		return kv[:i]
	}
	return kv
}

func lines(s string) []string {
	var out []string
	for _, ln := range strings.Split(s, "\n") {
		if ln = strings.TrimSpace(ln); ln != "" {
			out = append(out, ln)
		}
	}
	return out
}
