package vertex

import (
	"fmt"
	"sort"

	"github.com/Jeffail/gabs/v2"
)

// Rule is an RSS rule as returned by Vertex. The whole document is kept so
// that fields ncwatch does not know about are posted back unchanged.
type Rule struct {
	c *gabs.Container
}

func (r *Rule) ID() string {
	if v := r.c.Path("id").Data(); v != nil {
		return fmt.Sprint(v)
	}
	return ""
}

// Alias is the display name of the rule, falling back to the ID.
func (r *Rule) Alias() string {
	if v, ok := r.c.Path("alias").Data().(string); ok && v != "" {
		return v
	}
	return r.ID()
}

func (r *Rule) Enabled() bool {
	v, _ := r.c.Path("enable").Data().(bool)
	return v
}

// Clients returns the downloader IDs the rule pushes new torrents to.
func (r *Rule) Clients() []string {
	var out []string
	for _, child := range r.c.Path("clientArr").Children() {
		if s, ok := child.Data().(string); ok {
			out = append(out, s)
		}
	}
	return out
}

// SetClients replaces the downloaders of the rule. A rule without downloaders
// is disabled.
func (r *Rule) SetClients(ids []string) {
	arr := make([]interface{}, len(ids))
	for i, id := range ids {
		arr[i] = id
	}
	_, _ = r.c.Set(arr, "clientArr")
	_, _ = r.c.Set(len(ids) > 0, "enable")
}

func (r *Rule) Bytes() []byte {
	return r.c.Bytes()
}

func (r *Rule) String() string {
	return r.c.String()
}

// sameClients compares two client lists as sets.
func sameClients(a, b []string) bool {
	as, bs := unique(a), unique(b)
	if len(as) != len(bs) {
		return false
	}
	for i := range as {
		if as[i] != bs[i] {
			return false
		}
	}
	return true
}

// unique returns the sorted distinct values.
func unique(v []string) []string {
	seen := make(map[string]struct{}, len(v))
	out := make([]string, 0, len(v))
	for _, s := range v {
		if _, ok := seen[s]; ok {
			continue
		}
		seen[s] = struct{}{}
		out = append(out, s)
	}
	sort.Strings(out)
	return out
}
