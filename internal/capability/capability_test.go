package capability

import (
	"context"
	"os"
	"path/filepath"
	"slices"
	"testing"

	"kernscope/internal/snapshot"
	"kernscope/internal/testutil"
)

func TestTable_Match(t *testing.T) {
	table := DefaultTable()
	tests := []struct {
		library, name string
		want          Category
	}{
		{"WININET.DLL", "InternetOpenA", Network},
		{"KERNEL32.DLL", "CreateRemoteThread", MemoryInjection},
		{"KERNEL32.DLL", "CreateRemoteThread", Process},
		{"ADVAPI32.DLL", "RegSetValueExA", Persistence},
		{"ADVAPI32.DLL", "RegSetValueExA", Registry},
		{"KERNEL32.DLL", "IsDebuggerPresent", AntiDebugVM},
		{"ADVAPI32.DLL", "CryptEncrypt", Crypto},
		{"KERNEL32.DLL", "CreateNamedPipeW", IPC},
		{"libc.so.6", "popen", ScriptingShell},
	}
	for _, tt := range tests {
		t.Run(tt.name+"/"+string(tt.want), func(t *testing.T) {
			got := table.Match(tt.library, tt.name)
			if !slices.Contains(got, tt.want) {
				t.Errorf("Match(%s, %s) = %v, want to contain %s", tt.library, tt.name, got, tt.want)
			}
		})
	}

	if got := table.Match("USER32.DLL", "GetDlgItem"); len(got) != 0 {
		t.Errorf("unmatched API got %v", got)
	}
}

func TestTable_MatchOrder(t *testing.T) {
	got := DefaultTable().Match("ADVAPI32.DLL", "RegSetValueExA")
	want := []Category{Persistence, Registry}
	if !slices.Equal(got, want) {
		t.Errorf("Match = %v, want %v", got, want)
	}
}

func TestLoadRules(t *testing.T) {
	path := filepath.Join(t.TempDir(), "rules.toml")
	content := `
[[rule]]
category = "network"
patterns = ["ZMQ_"]

[[rule]]
category = "clipboard"
patterns = ["getclipboarddata", "setclipboarddata"]
`
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}

	table, err := LoadRules(path)
	if err != nil {
		t.Fatalf("LoadRules: %v", err)
	}
	if got := DefaultTable().Match("libzmq.so", "zmq_ctx_new"); len(got) != 0 {
		t.Fatalf("built-in table already matches: %v", got)
	}
	if got := table.Match("libzmq.so", "zmq_ctx_new"); !slices.Equal(got, []Category{Network}) {
		t.Errorf("extended network rule not applied: %v", got)
	}
	cats := table.Categories()
	if cats[len(cats)-1] != "clipboard" {
		t.Errorf("new category must come last: %v", cats)
	}
	if len(DefaultTable().Categories()) != 12 {
		t.Error("the built-in table must not be modified")
	}
}

func TestLoadRules_Invalid(t *testing.T) {
	tests := map[string]string{
		"unknown key":   "[[rule]]\ncategory = \"network\"\npatterns = [\"x\"]\nweight = 2\n",
		"no patterns":   "[[rule]]\ncategory = \"network\"\n",
		"no category":   "[[rule]]\npatterns = [\"x\"]\n",
		"empty pattern": "[[rule]]\ncategory = \"network\"\npatterns = [\" \"]\n",
		"bad toml":      "[[rule]\n",
	}
	for name, content := range tests {
		t.Run(name, func(t *testing.T) {
			path := filepath.Join(t.TempDir(), "rules.toml")
			if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
				t.Fatal(err)
			}
			if _, err := LoadRules(path); err == nil {
				t.Error("expected an error")
			}
		})
	}

	if table, err := LoadRules(""); err != nil || table == nil {
		t.Errorf("empty path must yield the built-in table: %v", err)
	}
}

func TestClassifyString(t *testing.T) {
	tests := []struct {
		in   string
		want StringKind
		ok   bool
	}{
		{"http://203.0.113.7/gate.php", KindURL, true},
		{"connect to 8.8.8.8 now", KindIP, true},
		{"192.168.1.10", "", false},
		{"10.0.0.1", "", false},
		{"172.20.1.1", "", false},
		{"evil-cdn.xyz", KindDomain, true},
		{`HKLM\Software\Foo`, KindRegistry, true},
		{`Software\Microsoft\Windows\CurrentVersion\Run`, KindRegistry, true},
		{`Global\MyMutex1`, KindMutex, true},
		{`\\.\pipe\msagent_12`, KindMutex, true},
		{`C:\Windows\Temp\x`, KindPath, true},
		{"/etc/passwd", KindPath, true},
		{"cmd.exe /c whoami", KindCommand, true},
		{"enter your password", KindAuth, true},
		{"running under vmware", KindKeyword, true},
		{"ftp://files", KindURL, true},
		{"svchost.exe", KindFileExt, true},
		{"abc", "", false},
		{"hello world", "", false},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			got, ok := ClassifyString(tt.in)
			if ok != tt.ok || got != tt.want {
				t.Errorf("ClassifyString(%q) = %q, %v; want %q, %v", tt.in, got, ok, tt.want, tt.ok)
			}
		})
	}
}

func loadSnapshot(t *testing.T, b *testutil.SnapshotBuilder) *snapshot.Snapshot {
	t.Helper()
	s, err := snapshot.Load(context.Background(), b.WriteDir(t), snapshot.Options{SkipTextIndex: true})
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

func TestClassifier_Direct(t *testing.T) {
	b := testutil.NewSnapshotBuilder()
	b.AddFunction(0x1000, 0x40, "main")
	b.AddFunction(0x1100, 0x40, "beacon")
	b.AddFunction(0x1200, 0x40, "inject")
	b.AddFunction(0x1300, 0x40, "quiet")
	b.Call(0x1000, 0x1100)
	b.CallImport(0x1100, "WININET.DLL", "InternetOpenA")
	b.CallImport(0x1200, "KERNEL32.DLL", "CreateRemoteThread")
	b.AddString(0x5000, "cmd.exe /c whoami > out.txt", 0x1300)

	p := NewClassifier(nil, 0, nil).Classify(loadSnapshot(t, b))

	if got := p.Of(0x1100); !slices.Equal(got, []Category{Network}) {
		t.Errorf("beacon = %v", got)
	}
	if !p.Has(0x1200, MemoryInjection) || !p.Has(0x1200, Process) {
		t.Errorf("inject = %v", p.Of(0x1200))
	}
	if got := p.Of(0x1000); len(got) != 0 {
		t.Errorf("main with hop limit 0 = %v, want none", got)
	}
	if got := p.Of(0x1300); !slices.Equal(got, []Category{Process, ScriptingShell}) {
		t.Errorf("quiet = %v", got)
	}
	if got := p.StringsOf(0x1300); !slices.Equal(got, []snapshot.Address{0x5000}) {
		t.Errorf("StringsOf(quiet) = %v", got)
	}
	if k, ok := p.StringKind(0x5000); !ok || k != KindCommand {
		t.Errorf("StringKind = %q, %v", k, ok)
	}
	if p.KindCount(KindCommand) != 1 {
		t.Errorf("KindCount(command) = %d", p.KindCount(KindCommand))
	}
	if got := p.Labels(Network); !slices.Equal(got, []string{"WININET.DLL!InternetOpenA"}) {
		t.Errorf("Labels(network) = %v", got)
	}
}

func TestClassifier_HopLimit(t *testing.T) {
	b := testutil.NewSnapshotBuilder()
	b.AddFunction(0x1000, 0x40, "a")
	b.AddFunction(0x1100, 0x40, "b")
	b.AddFunction(0x1200, 0x40, "c")
	b.Call(0x1000, 0x1100)
	b.Call(0x1100, 0x1200)
	b.Call(0x1200, 0x1000)
	b.CallImport(0x1200, "WS2_32.DLL", "connect")
	s := loadSnapshot(t, b)

	tests := []struct {
		hops   int
		tagged []snapshot.Address
	}{
		{0, []snapshot.Address{0x1200}},
		{1, []snapshot.Address{0x1100, 0x1200}},
		{2, []snapshot.Address{0x1000, 0x1100, 0x1200}},
		{5, []snapshot.Address{0x1000, 0x1100, 0x1200}},
	}
	for _, tt := range tests {
		p := NewClassifier(nil, tt.hops, nil).Classify(s)
		var tagged []snapshot.Address
		for _, a := range []snapshot.Address{0x1000, 0x1100, 0x1200} {
			if p.Has(a, Network) {
				tagged = append(tagged, a)
			}
		}
		if !slices.Equal(tagged, tt.tagged) {
			t.Errorf("hops=%d tagged %v, want %v", tt.hops, tagged, tt.tagged)
		}
	}
}

func TestClassifier_ExternalWithoutImportRecord(t *testing.T) {
	b := testutil.NewSnapshotBuilder()
	b.AddFunction(0x1000, 0x40, "a")
	b.FunctionAt(0x1000)["xrefs_out"] = []testutil.Record{
		{"ea": "EXTERNAL:00000100", "name": "VirtualAllocEx", "type": "UNCONDITIONAL_CALL"},
	}
	b.Omit("imports_exports.json")

	p := NewClassifier(nil, 0, nil).Classify(loadSnapshot(t, b))
	if !p.Has(0x1000, MemoryInjection) {
		t.Errorf("a = %v, want memory_injection", p.Of(0x1000))
	}
}
