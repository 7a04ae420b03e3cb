package scoring

import (
	"context"
	"math"
	"slices"
	"testing"

	"kernscope/internal/capability"
	"kernscope/internal/snapshot"
	"kernscope/internal/testutil"
)

func TestScoreFunction_Terms(t *testing.T) {
	s := NewDefaultScorer(nil)
	got := s.ScoreFunction(FunctionFacts{
		Entry:      0x1000,
		Complexity: 100,
		Size:       1023,
		FanIn:      3,
		FanOut:     4,
		Caps:       []capability.Category{capability.Network, capability.Persistence},
		Entrypoint: true,
		StringRefs: 9,
		Anomalous:  true,
	})

	want := Breakdown{
		Complexity:        0.25 * 60,
		Capabilities:      3.0 * 2,
		Degree:            1.0 * 3,
		HighRisk:          4.0,
		Size:              0.5 * 10,
		Entrypoint:        5.0,
		StringRefs:        1.0 * 5,
		SuspiciousSection: 2.0,
	}
	if got.Breakdown != want {
		t.Errorf("Breakdown = %+v, want %+v", got.Breakdown, want)
	}
	if math.Abs(got.Score-want.Total()) > 1e-9 {
		t.Errorf("Score = %v, want %v", got.Score, want.Total())
	}
}

func TestScoreFunction_Empty(t *testing.T) {
	got := NewDefaultScorer(nil).ScoreFunction(FunctionFacts{Entry: 0x1000})
	if got.Score != 0 {
		t.Errorf("Score = %v, want 0", got.Score)
	}
}

func TestRankFunctions_Scenario(t *testing.T) {
	s := NewDefaultScorer(nil)
	facts := []FunctionFacts{
		{Entry: 0x1000, Name: "A", Size: 50, Complexity: 2},
		{Entry: 0x1010, Name: "B", Size: 800, Complexity: 12, Caps: []capability.Category{capability.Network}},
		{Entry: 0x2000, Name: "C", Size: 30, Complexity: 1, Caps: []capability.Category{capability.Persistence}},
	}
	scores, err := s.ScoreFunctions(context.Background(), facts)
	if err != nil {
		t.Fatal(err)
	}

	ranked := RankFunctions(scores)
	var top []string
	for _, f := range ranked[:2] {
		top = append(top, f.Name)
	}
	if !slices.Equal(top, []string{"B", "C"}) {
		t.Errorf("top 2 = %v, want [B C]", top)
	}
}

func TestRankFunctions_TopFortyOfTwoHundred(t *testing.T) {
	s := NewDefaultScorer(nil)
	facts := make([]FunctionFacts, 200)
	for i := range facts {
		facts[i] = FunctionFacts{
			Entry:      snapshot.Address(0x10000 + (199-i)*0x10),
			Size:       64,
			Complexity: i % 10,
		}
	}
	scores, err := s.ScoreFunctions(context.Background(), facts)
	if err != nil {
		t.Fatal(err)
	}
	top := RankFunctions(scores)[:40]

	for i, f := range top {
		wantCC := 9
		if i >= 20 {
			wantCC = 8
		}
		if f.Complexity != wantCC {
			t.Fatalf("rank %d has complexity %d, want %d", i, f.Complexity, wantCC)
		}
		if i > 0 && top[i-1].Score == f.Score && top[i-1].Entry >= f.Entry {
			t.Fatalf("ties must be ordered by address: %s before %s", top[i-1].Entry, f.Entry)
		}
	}
}

func TestRankFunctions_DoesNotMutateInput(t *testing.T) {
	in := []FunctionScore{
		{FunctionFacts: FunctionFacts{Entry: 2}, Score: 1},
		{FunctionFacts: FunctionFacts{Entry: 1}, Score: 5},
	}
	RankFunctions(in)
	if in[0].Entry != 2 {
		t.Error("input reordered")
	}
}

func TestIsEntrypointName(t *testing.T) {
	for _, name := range []string{"main", "WinMain", "DllMain", "_start", "__scrt_common_main_seh_mainCRTStartup", "wWinMainCRTStartup"} {
		if !IsEntrypointName(name) {
			t.Errorf("%s should be an entrypoint", name)
		}
	}
	for _, name := range []string{"helper", "sub_401000", "mainloop"} {
		if IsEntrypointName(name) {
			t.Errorf("%s should not be an entrypoint", name)
		}
	}
}

func TestAnalyzeSections(t *testing.T) {
	sections := []snapshot.Section{
		{Name: ".text", Start: 0x1000, End: 0x3000, Size: 0x2000, Permissions: snapshot.Permissions{Read: true, Execute: true}},
		{Name: ".data", Start: 0x3000, End: 0x4000, Size: 0x1000, Permissions: snapshot.Permissions{Read: true, Write: true}},
		{Name: "UPX0", Start: 0x4000, End: 0x24000, Size: 0x20000, Permissions: snapshot.Permissions{Read: true, Write: true, Execute: true}},
		{Name: ".stub", Start: 0x24000, End: 0x24100, Size: 0x100, Permissions: snapshot.Permissions{Read: true, Execute: true}},
	}
	r := AnalyzeSections(sections, FormatPE)
	if !r.HasRWX {
		t.Error("HasRWX = false")
	}
	if len(r.Anomalies) != 2 {
		t.Fatalf("anomalies = %d, want 2", len(r.Anomalies))
	}
	upx := r.Anomalies[0]
	if upx.Section.Name != "UPX0" || !slices.Equal(upx.Reasons, []string{ReasonNonStandardName, ReasonRWX, ReasonLargeWriteExec}) {
		t.Errorf("UPX0 = %+v", upx)
	}
	stub := r.Anomalies[1]
	if !slices.Equal(stub.Reasons, []string{ReasonNonStandardName, ReasonTinyExec}) {
		t.Errorf(".stub = %+v", stub)
	}
	if !r.Contains(0x5000) || r.Contains(0x1500) {
		t.Error("Contains must follow anomalous sections")
	}
}

func TestNormalizeFormat(t *testing.T) {
	tests := map[string]string{
		"Portable Executable (PE)":            FormatPE,
		"Executable and Linking Format (ELF)": FormatELF,
		"Mac OS X Mach-O":                     FormatMachO,
		"COFF":                                FormatPE,
		"raw binary":                          FormatUnknown,
		"":                                    FormatUnknown,
	}
	for in, want := range tests {
		if got := NormalizeFormat(snapshot.Meta{ExecutableFormat: in}); got != want {
			t.Errorf("NormalizeFormat(%q) = %q, want %q", in, got, want)
		}
	}
}

func TestCollectAndScoreStrings(t *testing.T) {
	b := testutil.NewSnapshotBuilder()
	b.AddFunction(0x1000, 0x40, "main")
	b.AddFunction(0x1100, 0x40, "beacon")
	b.Call(0x1000, 0x1100)
	b.CallImport(0x1100, "WININET.DLL", "InternetOpenA")
	b.AddString(0x5000, "http://203.0.113.7/gate.php", 0x1100)
	b.AddString(0x5100, "http://203.0.113.8/gate.php")
	b.AddString(0x5200, "plain text")
	b.AddExport(0x1100, "beacon")

	snap, err := snapshot.Load(context.Background(), b.WriteDir(t), snapshot.Options{SkipTextIndex: true})
	if err != nil {
		t.Fatal(err)
	}
	defer snap.Close()
	profile := capability.NewClassifier(nil, 0, nil).Classify(snap)

	facts, err := CollectFacts(context.Background(), snap, profile, SectionReport{})
	if err != nil {
		t.Fatal(err)
	}
	if len(facts) != 2 {
		t.Fatalf("facts = %d", len(facts))
	}
	main, beacon := facts[0], facts[1]
	if !main.Entrypoint || main.FanOut != 1 {
		t.Errorf("main = %+v", main)
	}
	if !beacon.Entrypoint || beacon.FanIn != 1 || beacon.StringRefs != 1 {
		t.Errorf("beacon = %+v", beacon)
	}

	s := NewDefaultScorer(nil)
	strs, err := s.ScoreStrings(context.Background(), snap, profile, map[snapshot.Address]bool{0x1100: true})
	if err != nil {
		t.Fatal(err)
	}
	if len(strs) != 2 {
		t.Fatalf("classified strings = %d, want 2", len(strs))
	}
	ranked := RankStrings(strs)
	if ranked[0].Address != 0x5000 || !ranked[0].Hot {
		t.Errorf("hot string must rank first: %+v", ranked[0])
	}
	if ranked[1].Hot {
		t.Error("unreferenced string cannot be hot")
	}
}
