// Package capability maps imported APIs and referenced strings of a
// snapshot to advisory capability categories.
package capability

import (
	"fmt"
	"os"
	"slices"
	"strings"

	"github.com/BurntSushi/toml"
)

// Category is a capability tag such as "network" or "persistence".
type Category string

const (
	Network          Category = "network"
	Filesystem       Category = "filesystem"
	Process          Category = "process"
	MemoryInjection  Category = "memory_injection"
	Crypto           Category = "crypto"
	Persistence      Category = "persistence"
	Privilege        Category = "privilege"
	Registry         Category = "registry"
	AntiDebugVM      Category = "anti_debug_vm"
	UserCredPhishing Category = "user_cred_phishing"
	ScriptingShell   Category = "scripting_shell"
	IPC              Category = "ipc"
)

// Rule maps case-insensitive substrings of "library::name" to a category.
type Rule struct {
	Category Category `toml:"category"`
	Patterns []string `toml:"patterns"`
}

// defaultRules is the built-in table. Order is the category order used in
// every output.
var defaultRules = []Rule{
	{Network, []string{
		"wininet", "winhttp", "urlmon", "cfnetwork", "nsurlsession", "inet",
		"socket", "connect", "send", "recv", "bind", "listen", "accept",
		"http", "ws2_", "gethostbyname", "dns", "getaddrinfo", "curl", "wget",
	}},
	{Filesystem, []string{
		"createfile", "readfile", "writefile", "deletefile", "copyfile",
		"movefile", "findfirst", "findnext", "setfile", "getfile",
		"fopen", "fread", "fwrite", "unlink", "stat", "chmod", "mkdir",
		"rmdir", "gettemp", "shfileoperation",
	}},
	{Process, []string{
		"createprocess", "createremotethread", "openprocess", "terminateprocess",
		"shellexecute", "winexec", "ntcreateprocess", "ntqueueapcthread",
		"fork", "execve", "ptrace", "task_for_pid", "kill", "launchapplication",
	}},
	{MemoryInjection, []string{
		"virtualalloc", "virtualprotect", "virtualquery",
		"writeprocessmemory", "readprocessmemory", "mapviewoffile", "unmapviewoffile",
		"createremotethread", "queueuserapc", "ntmapviewofsection",
		"setthreadcontext", "getthreadcontext", "mprotect", "dlopen", "dlsym",
		"mach_vm_", "mach_port", "mach_task_self",
	}},
	{Crypto, []string{
		"crypt", "bcrypt", "ncrypt", "aes", "sha", "md5",
		"hash", "rsa", "cccrypt", "secrandom", "commoncrypto",
	}},
	{Persistence, []string{
		"regsetvalue", "regcreatekey", "runonce", "runservicestart",
		"schtask", "schedule", "createservice", "startservice", "setservice",
		"launchagent", "launchdaemon", "loginitem", "initlaunch", "nsbundle",
	}},
	{Privilege, []string{
		"adjusttokenprivileges", "lookupprivilege", "setthreadtoken",
		"seteuid", "setuid", "setreuid", "chown",
		"privilege", "impersonat", "token", "authoriza", "sudo",
	}},
	{Registry, []string{
		"regopenkey", "regcreatekey", "regsetvalue", "regqueryvalue", "regdeletekey",
		"regdeletevalue", "regenumkey", "regenumvalue", "shdeletekey", "shsetvalue",
		"ntopenkey", "ntsetvaluekey", "zwsetvaluekey",
	}},
	{AntiDebugVM, []string{
		"isdebuggerpresent", "checkremotedebuggerpresent", "outputdebugstring",
		"ntqueryinformationprocess", "ntsetinformationthread", "verifydebugger",
		"gettickcount", "queryperformancecounter", "getlocaltime", "rdtsc",
		"cpuid", "vmware", "virtualbox", "hyperv", "sandbox", "debugactiveprocess",
	}},
	{UserCredPhishing, []string{
		"credui", "credread", "internetsetoption", "setwindowshook",
		"getasynckeystate", "setwinhookex", "osascript", "nsalert",
		"nsapp", "uiapplication", "secitemcopy", "credential", "keychain",
	}},
	{ScriptingShell, []string{
		"cmd.exe", "powershell", "pwsh", "wscript", "cscript", "mshta",
		"shshell", "system", "popen", "/bin/sh", "/bin/bash", "osascript",
		"bash", "python", "perl", "ruby",
	}},
	{IPC, []string{
		"createnamedpipe", "connectnamedpipe", "createpipe", "peeknamedpipe",
		"waitnamedpipe", "ncalrpc", "alpc", "mach_port", "sndmsg",
		"sharedmemory", "shmget", "messagequeue", "mq_open",
	}},
}

// Table is an ordered, immutable rule table.
type Table struct {
	rules []Rule
}

// DefaultTable returns the built-in rule table.
func DefaultTable() *Table {
	rules := make([]Rule, len(defaultRules))
	for i, r := range defaultRules {
		rules[i] = Rule{Category: r.Category, Patterns: slices.Clone(r.Patterns)}
	}
	return &Table{rules: rules}
}

// Categories returns every category in table order.
func (t *Table) Categories() []Category {
	out := make([]Category, len(t.rules))
	for i, r := range t.rules {
		out[i] = r.Category
	}
	return out
}

// Match returns the categories whose patterns occur in "library::name",
// in table order.
func (t *Table) Match(library, name string) []Category {
	if name == "" {
		return nil
	}
	target := strings.ToLower(library) + "::" + strings.ToLower(name)
	var out []Category
	for _, r := range t.rules {
		for _, p := range r.Patterns {
			if strings.Contains(target, p) {
				out = append(out, r.Category)
				break
			}
		}
	}
	return out
}

// rank returns the table position of c, or len(rules) when unknown.
func (t *Table) rank(c Category) int {
	for i, r := range t.rules {
		if r.Category == c {
			return i
		}
	}
	return len(t.rules)
}

// Extend returns a table with extra patterns appended to existing
// categories and new categories appended at the end.
func (t *Table) Extend(extra []Rule) (*Table, error) {
	next := &Table{rules: make([]Rule, len(t.rules))}
	for i, r := range t.rules {
		next.rules[i] = Rule{Category: r.Category, Patterns: slices.Clone(r.Patterns)}
	}
	for i, r := range extra {
		if r.Category == "" {
			return nil, fmt.Errorf("rule[%d]: category is required", i)
		}
		if len(r.Patterns) == 0 {
			return nil, fmt.Errorf("rule[%d] (%s): at least one pattern is required", i, r.Category)
		}
		patterns := make([]string, 0, len(r.Patterns))
		for _, p := range r.Patterns {
			p = strings.ToLower(strings.TrimSpace(p))
			if p == "" {
				return nil, fmt.Errorf("rule[%d] (%s): empty pattern", i, r.Category)
			}
			patterns = append(patterns, p)
		}

		j := next.rank(r.Category)
		if j == len(next.rules) {
			next.rules = append(next.rules, Rule{Category: r.Category})
		}
		for _, p := range patterns {
			if !slices.Contains(next.rules[j].Patterns, p) {
				next.rules[j].Patterns = append(next.rules[j].Patterns, p)
			}
		}
	}
	return next, nil
}

// RulesFile is the TOML layout of a rule override file:
//
//	[[rule]]
//	category = "network"
//	patterns = ["nghttp2_", "quic"]
type RulesFile struct {
	Rules []Rule `toml:"rule"`
}

// LoadRules reads a TOML rule file and merges it over the built-in table.
// An empty path returns the built-in table.
func LoadRules(path string) (*Table, error) {
	if path == "" {
		return DefaultTable(), nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read rules file: %w", err)
	}

	var file RulesFile
	md, err := toml.Decode(string(data), &file)
	if err != nil {
		return nil, fmt.Errorf("parse rules file: %w", err)
	}
	if undecoded := md.Undecoded(); len(undecoded) > 0 {
		return nil, fmt.Errorf("parse rules file: unknown key %s", undecoded[0])
	}

	table, err := DefaultTable().Extend(file.Rules)
	if err != nil {
		return nil, fmt.Errorf("invalid rules file: %w", err)
	}
	return table, nil
}
