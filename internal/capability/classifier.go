package capability

import (
	"log/slog"
	"slices"
	"strings"

	"kernscope/internal/config"
	"kernscope/internal/slogutil"
	"kernscope/internal/snapshot"
)

// Classifier assigns capability categories to the functions of a snapshot.
type Classifier struct {
	table    *Table
	hopLimit int
	logger   *slog.Logger
}

// NewClassifier creates a classifier. hopLimit is how many call-graph hops
// import capabilities propagate to callers; 0 means direct calls only.
func NewClassifier(table *Table, hopLimit int, logger *slog.Logger) *Classifier {
	if table == nil {
		table = DefaultTable()
	}
	if hopLimit < 0 {
		hopLimit = 0
	}
	return &Classifier{table: table, hopLimit: hopLimit, logger: slogutil.Component(logger, "capability")}
}

// FromConfig creates a classifier from the capability settings, merging
// the configured rules file over the built-in table.
func FromConfig(cfg config.CapabilityConfig, logger *slog.Logger) (*Classifier, error) {
	table, err := LoadRules(cfg.RulesFile)
	if err != nil {
		return nil, err
	}
	return NewClassifier(table, cfg.HopLimit, logger), nil
}

// Table returns the rule table in use.
func (c *Classifier) Table() *Table { return c.table }

// Profile is the classification of one snapshot. It is immutable.
type Profile struct {
	table *Table

	functions map[snapshot.Address][]Category
	labels    map[Category][]string
	apis      map[string][]Category

	stringKinds map[snapshot.Address]StringKind
	funcStrings map[snapshot.Address][]snapshot.Address
	stringUsers map[snapshot.Address][]snapshot.Address
	kindCounts  map[StringKind]int
}

// Classify builds the profile of s.
func (c *Classifier) Classify(s *snapshot.Snapshot) *Profile {
	p := &Profile{
		table:       c.table,
		functions:   map[snapshot.Address][]Category{},
		labels:      map[Category][]string{},
		apis:        map[string][]Category{},
		stringKinds: map[snapshot.Address]StringKind{},
		funcStrings: map[snapshot.Address][]snapshot.Address{},
		stringUsers: map[snapshot.Address][]snapshot.Address{},
		kindCounts:  map[StringKind]int{},
	}

	addAPI := func(library, name, label string) {
		cats := c.table.Match(library, name)
		if len(cats) == 0 {
			return
		}
		key := strings.ToLower(name)
		p.apis[key] = c.table.union(p.apis[key], cats)
		for _, cat := range cats {
			if !slices.Contains(p.labels[cat], label) {
				p.labels[cat] = append(p.labels[cat], label)
			}
		}
	}
	for _, imp := range s.Imports() {
		addAPI(imp.Library, imp.Name, imp.Label())
	}
	for _, exp := range s.Exports() {
		addAPI("", exp.Name, exp.Name)
	}

	functions := s.Functions()
	direct := make(map[snapshot.Address][]Category, len(functions))
	for i := range functions {
		fn := &functions[i]
		var cats []Category
		for _, target := range s.Callees(fn.Entry) {
			cats = c.table.union(cats, p.calleeCategories(s, target))
		}
		for _, x := range fn.XrefsOut {
			if api, ok := p.apis[strings.ToLower(x.Name)]; ok {
				cats = c.table.union(cats, api)
				continue
			}
			if _, known := s.ImportAt(x.Target); x.Target.External && !known {
				cats = c.table.union(cats, c.table.Match("", x.Name))
			}
		}
		direct[fn.Entry] = cats
	}

	for i := range functions {
		entry := functions[i].Entry
		cats := direct[entry]
		if c.hopLimit > 0 {
			for _, callee := range reachable(s, entry, c.hopLimit) {
				cats = c.table.union(cats, direct[callee])
			}
		}
		if len(cats) > 0 {
			p.functions[entry] = cats
		}
	}

	for _, str := range s.Strings() {
		kind, ok := ClassifyString(str.Value)
		if !ok {
			continue
		}
		p.stringKinds[str.Address] = kind
		p.kindCounts[kind]++
		users := useSiteFunctions(s, str.Xrefs)
		if len(users) > 0 {
			p.stringUsers[str.Address] = users
		}
		for _, entry := range users {
			if !slices.Contains(p.funcStrings[entry], str.Address) {
				p.funcStrings[entry] = append(p.funcStrings[entry], str.Address)
			}
			if caps := KindCapabilities(kind); len(caps) > 0 {
				p.functions[entry] = c.table.union(p.functions[entry], caps)
			}
		}
	}
	for entry, list := range p.funcStrings {
		slices.Sort(list)
		p.funcStrings[entry] = list
	}

	c.logger.Debug("capabilities classified",
		"functions", len(functions),
		"tagged", len(p.functions),
		"classifiedStrings", len(p.stringKinds),
		"hopLimit", c.hopLimit,
	)
	return p
}

// calleeCategories classifies one call target: an import by its thunk
// address, else whatever API the target's name matches.
func (p *Profile) calleeCategories(s *snapshot.Snapshot, target snapshot.Ref) []Category {
	if imp, ok := s.ImportAt(target); ok {
		return p.table.Match(imp.Library, imp.Name)
	}
	name := s.NameOf(target)
	if name == "" {
		return nil
	}
	if cats, ok := p.apis[strings.ToLower(name)]; ok {
		return cats
	}
	if target.External {
		return p.table.Match("", name)
	}
	return nil
}

// reachable returns the internal functions within hops call-graph steps of
// entry, excluding entry itself. Traversal is breadth-first with a visited
// set, so cycles terminate.
func reachable(s *snapshot.Snapshot, entry snapshot.Address, hops int) []snapshot.Address {
	visited := map[snapshot.Address]bool{entry: true}
	frontier := []snapshot.Address{entry}
	var out []snapshot.Address
	for depth := 0; depth < hops && len(frontier) > 0; depth++ {
		var next []snapshot.Address
		for _, a := range frontier {
			for _, t := range s.Callees(a) {
				if t.External || visited[t.Addr] {
					continue
				}
				if _, ok := s.Function(t.Addr); !ok {
					continue
				}
				visited[t.Addr] = true
				next = append(next, t.Addr)
				out = append(out, t.Addr)
			}
		}
		frontier = next
	}
	return out
}

// useSiteFunctions resolves the functions holding each use site, by
// address first and by recorded name second.
func useSiteFunctions(s *snapshot.Snapshot, sites []snapshot.UseSite) []snapshot.Address {
	var out []snapshot.Address
	for _, site := range sites {
		if fn, ok := s.FunctionContaining(site.From); ok {
			out = append(out, fn.Entry)
			continue
		}
		if site.Function == "" {
			continue
		}
		for _, fn := range s.FunctionsByName(site.Function, false) {
			out = append(out, fn.Entry)
		}
	}
	slices.Sort(out)
	return slices.Compact(out)
}

// union merges b into a, keeping table order and no duplicates.
func (t *Table) union(a, b []Category) []Category {
	if len(b) == 0 {
		return a
	}
	out := slices.Clone(a)
	for _, c := range b {
		if !slices.Contains(out, c) {
			out = append(out, c)
		}
	}
	slices.SortStableFunc(out, func(x, y Category) int { return t.rank(x) - t.rank(y) })
	return out
}

// Of returns the categories of the function at entry, in table order.
func (p *Profile) Of(entry snapshot.Address) []Category {
	return slices.Clone(p.functions[entry])
}

// Has reports whether the function at entry carries category c.
func (p *Profile) Has(entry snapshot.Address, c Category) bool {
	return slices.Contains(p.functions[entry], c)
}

// Categories returns every category of the rule table in order.
func (p *Profile) Categories() []Category { return p.table.Categories() }

// Labels returns the "library!name" labels of imports and exports that
// matched c, in import order.
func (p *Profile) Labels(c Category) []string {
	return slices.Clone(p.labels[c])
}

// StringKind returns the kind of the string at a, if classified.
func (p *Profile) StringKind(a snapshot.Address) (StringKind, bool) {
	k, ok := p.stringKinds[a]
	return k, ok
}

// StringsOf returns the classified strings referenced by the function at
// entry, by ascending address.
func (p *Profile) StringsOf(entry snapshot.Address) []snapshot.Address {
	return slices.Clone(p.funcStrings[entry])
}

// StringUsers returns the functions referencing the classified string at
// a, by ascending entry.
func (p *Profile) StringUsers(a snapshot.Address) []snapshot.Address {
	return slices.Clone(p.stringUsers[a])
}

// KindCount returns how many strings were classified as k.
func (p *Profile) KindCount(k StringKind) int { return p.kindCounts[k] }
