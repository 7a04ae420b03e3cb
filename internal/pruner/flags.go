package pruner

import (
	"kernscope/internal/capability"
)

// Suspicion flag names.
const (
	FlagUsesNetwork            = "uses_network"
	FlagUsesFilesystem         = "uses_filesystem"
	FlagSpawnsProcessesOrShell = "spawns_processes_or_shell"
	FlagAllocatesRemoteOrRWX   = "allocates_remote_or_rwx_memory"
	FlagPersistenceIndicators  = "has_persistence_indicators"
	FlagCredentialTheft        = "has_credential_theft_indicators"
	FlagAntiDebugVM            = "has_anti_debug_vm_indicators"
	FlagSuspiciousURLsOrIPs    = "has_suspicious_urls_or_ips"
	FlagOverlayOrUICredStrings = "has_overlay_or_ui_cred_strings"
	FlagSmallButComplex        = "is_unusually_small_but_complex"
	FlagShellExecutionStrings  = "has_shell_execution_strings"
	FlagNetworkAndPersistence  = "has_network_and_persistence"
	FlagInjectionAndProcess    = "has_injection_and_process"
)

// Thresholds of is_unusually_small_but_complex.
const (
	smallFileSize      = 200_000
	complexCyclomatic  = 30
	complexSizeInBytes = 2000
)

// evidence is what the flag predicates look at.
type evidence struct {
	profile   *capability.Profile
	hasRWX    bool
	fileSize  int64
	functions []FunctionEvidence
}

func (e evidence) imports(c capability.Category) bool {
	return len(e.profile.Labels(c)) > 0
}

func (e evidence) strings(kinds ...capability.StringKind) bool {
	for _, k := range kinds {
		if e.profile.KindCount(k) > 0 {
			return true
		}
	}
	return false
}

func (e evidence) complexFunction() bool {
	for _, f := range e.functions {
		if f.Complexity >= complexCyclomatic || f.SizeBytes >= complexSizeInBytes {
			return true
		}
	}
	return false
}

// flag is one named predicate.
type flag struct {
	name string
	test func(evidence) bool
}

var flags = []flag{
	{FlagUsesNetwork, func(e evidence) bool {
		return e.imports(capability.Network) || e.strings(capability.KindURL, capability.KindDomain, capability.KindIP)
	}},
	{FlagUsesFilesystem, func(e evidence) bool {
		return e.imports(capability.Filesystem) || e.strings(capability.KindPath)
	}},
	{FlagSpawnsProcessesOrShell, func(e evidence) bool {
		return e.imports(capability.Process) || e.imports(capability.ScriptingShell) || e.strings(capability.KindCommand)
	}},
	{FlagAllocatesRemoteOrRWX, func(e evidence) bool {
		return e.imports(capability.MemoryInjection) || e.hasRWX
	}},
	{FlagPersistenceIndicators, func(e evidence) bool {
		return e.imports(capability.Persistence) || e.strings(capability.KindRegistry)
	}},
	{FlagCredentialTheft, func(e evidence) bool {
		return e.imports(capability.UserCredPhishing) || e.strings(capability.KindAuth)
	}},
	{FlagAntiDebugVM, func(e evidence) bool {
		return e.imports(capability.AntiDebugVM) || e.strings(capability.KindKeyword)
	}},
	{FlagSuspiciousURLsOrIPs, func(e evidence) bool {
		return e.strings(capability.KindURL, capability.KindDomain, capability.KindIP)
	}},
	{FlagOverlayOrUICredStrings, func(e evidence) bool {
		return e.imports(capability.UserCredPhishing) || e.strings(capability.KindAuth)
	}},
	{FlagSmallButComplex, func(e evidence) bool {
		return e.fileSize <= smallFileSize && e.complexFunction()
	}},
	{FlagShellExecutionStrings, func(e evidence) bool {
		return e.strings(capability.KindCommand)
	}},
}

// compound flags combine earlier results.
var compound = []struct {
	name string
	all  []string
}{
	{FlagNetworkAndPersistence, []string{FlagUsesNetwork, FlagPersistenceIndicators}},
	{FlagInjectionAndProcess, []string{FlagAllocatesRemoteOrRWX, FlagSpawnsProcessesOrShell}},
}

func evaluateFlags(e evidence) map[string]bool {
	out := make(map[string]bool, len(flags)+len(compound))
	for _, f := range flags {
		out[f.name] = f.test(e)
	}
	for _, c := range compound {
		v := true
		for _, name := range c.all {
			v = v && out[name]
		}
		out[c.name] = v
	}
	return out
}
