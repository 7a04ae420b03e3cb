package capability

import (
	"net/netip"
	"regexp"
	"strings"
)

// StringKind classifies a string literal by what it looks like.
type StringKind string

const (
	KindURL      StringKind = "url"
	KindIP       StringKind = "ip"
	KindDomain   StringKind = "domain"
	KindRegistry StringKind = "registry"
	KindMutex    StringKind = "mutex"
	KindPath     StringKind = "path"
	KindCommand  StringKind = "command"
	KindAuth     StringKind = "auth"
	KindKeyword  StringKind = "keyword"
	KindFileExt  StringKind = "file_ext"
)

// Kinds lists every kind in classification order.
var Kinds = []StringKind{
	KindURL, KindIP, KindDomain, KindRegistry, KindMutex,
	KindPath, KindCommand, KindAuth, KindKeyword, KindFileExt,
}

// minClassifiedLength is the shortest string ever classified.
const minClassifiedLength = 4

var (
	reURL      = regexp.MustCompile(`(?i)https?://[^\s"'<>]{4,}`)
	reIP       = regexp.MustCompile(`\b(?:\d{1,3}\.){3}\d{1,3}\b`)
	reDomain   = regexp.MustCompile(`(?i)\b[a-z0-9][a-z0-9\-._]{1,62}\.(com|net|org|io|ru|cn|xyz|top|info|biz|cc|pw|uk|ua|su|club|co|app|site|online)\b`)
	reRegistry = regexp.MustCompile(`(?i)(HK(LM|CU|CR|U|CC)|HKEY_[A-Z_]+)\\|^(software|system)\\(microsoft|currentcontrolset|classes|policies)\\|\\currentversion\\run`)
	reMutex    = regexp.MustCompile(`(?i)^(global|local|session)\\|\\\\\.\\pipe\\|\bmutex\b`)
	reWinPath  = regexp.MustCompile(`[A-Za-z]:\\|%(appdata|temp|programdata|userprofile|windir|systemroot)%`)
	rePosix    = regexp.MustCompile(`(?i)^/|/etc/|/var/|/usr/|/bin/|/sbin/|/home/|~/`)
	reFileExt  = regexp.MustCompile(`(?i)^[\w\-. ]{1,64}\.(exe|dll|sys|scr|bat|cmd|ps1|vbs|js|jar|lnk|tmp|dat|ini|db|sqlite|key|pem|crt|p12|zip|rar|7z|so|dylib)$`)
)

var (
	commandKeywords = []string{
		"cmd.exe", "powershell", "pwsh", "wscript", "cscript", "mshta", "/bin/sh",
		"/bin/bash", "bash -c", "sh -c", "python ", "perl ", "ruby ", "osascript",
		"invoke-expression", "invoke-webrequest", "curl ", "wget ", "scp ",
	}
	suspiciousCommandFragments = []string{
		"chmod +x", "base64", "certutil", "bitsadmin", "whoami", "netstat", "tasklist",
		"sc ", "reg ", "schtasks", "curl", "wget", "sh -c",
	}
	authKeywords = []string{
		"password", "passwd", "token", "secret", "apikey", "auth", "login", "credential",
		"otp", "pin", "passphrase",
	}
	securityKeywords = []string{
		"sandbox", "virtualbox", "vmware", "hyper-v", "qemu", "debugger", "rdtsc",
		"antivirus", "edr", "isdebuggerpresent", "xen", "kvm",
	}
)

// ClassifyString returns the first matching kind of s. Strings shorter
// than four characters are never classified.
func ClassifyString(s string) (StringKind, bool) {
	if len(s) < minClassifiedLength {
		return "", false
	}
	trimmed := strings.TrimSpace(s)
	lower := strings.ToLower(trimmed)

	if reURL.MatchString(trimmed) {
		return KindURL, true
	}
	for _, m := range reIP.FindAllString(trimmed, -1) {
		if isPublicIP(m) {
			return KindIP, true
		}
	}
	if reDomain.MatchString(trimmed) {
		return KindDomain, true
	}
	if reRegistry.MatchString(trimmed) {
		return KindRegistry, true
	}
	if reMutex.MatchString(trimmed) {
		return KindMutex, true
	}
	if reWinPath.MatchString(trimmed) || rePosix.MatchString(trimmed) {
		return KindPath, true
	}
	if containsAny(lower, commandKeywords) || containsAny(lower, suspiciousCommandFragments) {
		return KindCommand, true
	}
	if containsAny(lower, authKeywords) {
		return KindAuth, true
	}
	if containsAny(lower, securityKeywords) {
		return KindKeyword, true
	}
	if strings.Contains(trimmed, "://") {
		return KindURL, true
	}
	if reFileExt.MatchString(trimmed) {
		return KindFileExt, true
	}
	return "", false
}

// isPublicIP reports whether s is a dotted quad outside private, loopback,
// link-local, unspecified and broadcast space.
func isPublicIP(s string) bool {
	addr, err := netip.ParseAddr(s)
	if err != nil || !addr.Is4() {
		return false
	}
	if addr.IsPrivate() || addr.IsLoopback() || addr.IsUnspecified() ||
		addr.IsLinkLocalUnicast() || addr.IsMulticast() {
		return false
	}
	b := addr.As4()
	return b[0] != 0 && b[0] != 255
}

func containsAny(s string, needles []string) bool {
	for _, n := range needles {
		if strings.Contains(s, n) {
			return true
		}
	}
	return false
}

// kindCaps maps string kinds to the capabilities they imply.
var kindCaps = map[StringKind][]Category{
	KindURL:      {Network},
	KindIP:       {Network},
	KindDomain:   {Network},
	KindRegistry: {Persistence, Registry},
	KindMutex:    {IPC},
	KindPath:     {Filesystem},
	KindCommand:  {Process, ScriptingShell},
	KindAuth:     {UserCredPhishing},
	KindKeyword:  {AntiDebugVM},
	KindFileExt:  {Filesystem},
}

// KindCapabilities returns the categories implied by a string kind.
func KindCapabilities(k StringKind) []Category {
	return kindCaps[k]
}
