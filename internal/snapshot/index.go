package snapshot

import (
	"slices"
	"sort"
	"strings"
)

// span is one function range tagged with its owner.
type span struct {
	r  Range
	fn int
}

// indexes are built once at load and never mutated.
type indexes struct {
	// spans holds every function range sorted by start; ranges never overlap
	spans []span

	funcByEntry map[Address]int
	funcByName  map[string][]int
	funcByFold  map[string][]int

	stringByAddr map[Address]int
	dataByAddr   map[Address]int
	dataByName   map[string][]Address
	dataByFold   map[string][]Address

	importByRef map[Ref]int

	// sections sorted by start; maxEnd[i] is the largest End in sections[:i+1]
	maxEnd []Address

	edgesFrom map[Address][]int
	edgesTo   map[Ref][]int
}

func buildIndexes(s *Snapshot, aliases map[string]Address, dataAliases map[string]Address) *indexes {
	ix := &indexes{
		funcByEntry:  make(map[Address]int, len(s.functions)),
		funcByName:   map[string][]int{},
		funcByFold:   map[string][]int{},
		stringByAddr: make(map[Address]int, len(s.strings)),
		dataByAddr:   make(map[Address]int, len(s.data)),
		dataByName:   map[string][]Address{},
		dataByFold:   map[string][]Address{},
		importByRef:  map[Ref]int{},
		edgesFrom:    map[Address][]int{},
		edgesTo:      map[Ref][]int{},
	}

	for i := range s.functions {
		fn := &s.functions[i]
		ix.funcByEntry[fn.Entry] = i
		ix.funcByName[fn.Name] = append(ix.funcByName[fn.Name], i)
		fold := strings.ToLower(fn.Name)
		ix.funcByFold[fold] = append(ix.funcByFold[fold], i)
		for _, r := range fn.Ranges {
			ix.spans = append(ix.spans, span{r: r, fn: i})
		}
	}
	sortSpans(ix.spans)

	// index.json may name functions by aliases the records do not carry
	for _, name := range sortedKeys(aliases) {
		i, ok := ix.funcByEntry[aliases[name]]
		if !ok || slices.Contains(ix.funcByName[name], i) {
			continue
		}
		ix.funcByName[name] = append(ix.funcByName[name], i)
		fold := strings.ToLower(name)
		if !slices.Contains(ix.funcByFold[fold], i) {
			ix.funcByFold[fold] = append(ix.funcByFold[fold], i)
		}
	}
	for name, list := range ix.funcByName {
		slices.Sort(list)
		ix.funcByName[name] = list
	}
	for name, list := range ix.funcByFold {
		slices.Sort(list)
		ix.funcByFold[name] = list
	}

	for i, str := range s.strings {
		ix.stringByAddr[str.Address] = i
	}

	addData := func(name string, a Address) {
		if name == "" || slices.Contains(ix.dataByName[name], a) {
			return
		}
		ix.dataByName[name] = append(ix.dataByName[name], a)
		fold := strings.ToLower(name)
		if !slices.Contains(ix.dataByFold[fold], a) {
			ix.dataByFold[fold] = append(ix.dataByFold[fold], a)
		}
	}
	for i, d := range s.data {
		ix.dataByAddr[d.Address] = i
		addData(d.Name, d.Address)
	}
	for _, name := range sortedKeys(dataAliases) {
		addData(name, dataAliases[name])
	}
	for _, m := range []map[string][]Address{ix.dataByName, ix.dataByFold} {
		for k, list := range m {
			slices.Sort(list)
			m[k] = list
		}
	}

	for i, imp := range s.imports {
		if imp.Address != nil {
			if _, dup := ix.importByRef[*imp.Address]; !dup {
				ix.importByRef[*imp.Address] = i
			}
		}
	}
	ix.maxEnd = make([]Address, len(s.sections))
	var hi Address
	for i, sec := range s.sections {
		if sec.End > hi {
			hi = sec.End
		}
		ix.maxEnd[i] = hi
	}

	for i, e := range s.edges {
		ix.edgesFrom[e.From] = append(ix.edgesFrom[e.From], i)
		ix.edgesTo[e.To] = append(ix.edgesTo[e.To], i)
	}
	return ix
}

// functionContaining finds the function whose ranges hold a.
func (ix *indexes) functionContaining(a Address) (int, bool) {
	// first span starting after a; the candidate is the one before it
	i := sort.Search(len(ix.spans), func(i int) bool { return ix.spans[i].r.Start > a })
	if i == 0 {
		return 0, false
	}
	sp := ix.spans[i-1]
	if !sp.r.Contains(a) {
		return 0, false
	}
	return sp.fn, true
}

// sectionContaining returns the image section holding a. Sections in a
// non-default address space only match when no image section does.
func (ix *indexes) sectionContaining(sections []Section, a Address) (int, bool) {
	i := sort.Search(len(sections), func(i int) bool { return sections[i].Start > a })
	best, found := 0, false
	for j := i - 1; j >= 0 && ix.maxEnd[j] > a; j-- {
		if !sections[j].Contains(a) {
			continue
		}
		if !found || (sections[best].Space != "" && sections[j].Space == "") {
			best, found = j, true
		}
		if sections[j].Space == "" {
			break
		}
	}
	return best, found
}

func sortSpans(spans []span) {
	sort.Slice(spans, func(a, b int) bool {
		if spans[a].r.Start != spans[b].r.Start {
			return spans[a].r.Start < spans[b].r.Start
		}
		return spans[a].fn < spans[b].fn
	})
}

func sortedKeys[V any](m map[string]V) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
