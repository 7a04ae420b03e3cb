package pruner

import (
	"cmp"
	"context"
	"encoding/json"
	stderrors "errors"
	"log/slog"
	"math"
	"slices"
	"strings"
	"time"

	"github.com/google/uuid"

	"kernscope/internal/capability"
	"kernscope/internal/compression"
	"kernscope/internal/config"
	"kernscope/internal/configscan"
	"kernscope/internal/errors"
	"kernscope/internal/scoring"
	"kernscope/internal/slogutil"
	"kernscope/internal/snapshot"
)

// bundleNamespace scopes bundle ids so they never collide with other
// name-based UUIDs of the same digest.
var bundleNamespace = uuid.NewSHA1(uuid.NameSpaceOID, []byte("kernscope-bundle"))

// Pruner builds evidence bundles.
type Pruner struct {
	cfg        *config.Config
	budget     *compression.EvidenceBudget
	classifier *capability.Classifier
	scorer     *scoring.Scorer
	detector   *configscan.Detector
	logger     *slog.Logger
}

// New creates a pruner. A nil cfg uses defaults. It fails only when the
// configured capability rules file cannot be loaded.
func New(cfg *config.Config, logger *slog.Logger) (*Pruner, error) {
	if cfg == nil {
		cfg = config.DefaultConfig()
	}
	classifier, err := capability.FromConfig(cfg.Capability, logger)
	if err != nil {
		return nil, errors.New(errors.InvalidQuery, "load capability rules", err)
	}
	budget := compression.NewBudgetFromConfig(cfg)
	return &Pruner{
		cfg:        cfg,
		budget:     budget,
		classifier: classifier,
		scorer:     scoring.NewScorer(cfg.Scoring, cfg.Capability.HighRisk, logger),
		detector:   configscan.NewDetector(cfg.ConfigScan, budget.PreviewLength, logger),
		logger:     slogutil.Component(logger, "pruner"),
	}, nil
}

// Budget returns the effective budgets.
func (p *Pruner) Budget() compression.EvidenceBudget { return *p.budget }

// PrunePath loads the snapshot at path and prunes it.
func (p *Pruner) PrunePath(ctx context.Context, path string) (*Bundle, error) {
	snap, err := snapshot.Load(ctx, path, snapshot.Options{Logger: p.logger, SkipTextIndex: true})
	if err != nil {
		return nil, err
	}
	defer func() { _ = snap.Close() }()
	return p.Prune(ctx, snap)
}

// Prune selects the evidence of snap within the budgets.
func (p *Pruner) Prune(ctx context.Context, snap *snapshot.Snapshot) (*Bundle, error) {
	if snap == nil {
		return nil, errors.New(errors.InternalError, "prune: no snapshot", nil)
	}
	start := time.Now()
	meta := snap.Meta()

	b := &build{
		snap:    snap,
		budget:  p.budget,
		profile: p.classifier.Classify(snap),
		bundle: &Bundle{
			SnapshotDigest:    snap.Digest(),
			GenerationVersion: GenerationVersion,
		},
	}

	format := scoring.NormalizeFormat(meta)
	report := scoring.AnalyzeSections(snap.Sections(), format)
	b.bundle.File = fileInfo(meta, format)
	b.sections(report)
	b.imports()

	facts, err := scoring.CollectFacts(ctx, snap, b.profile, report)
	if err != nil {
		return nil, wrapCanceled(err)
	}
	scores, err := p.scorer.ScoreFunctions(ctx, facts)
	if err != nil {
		return nil, wrapCanceled(err)
	}
	ranked := scoring.RankFunctions(scores)
	top, trunc := compression.Cap(ranked, p.budget.MaxFunctions, compression.TruncBudget)
	b.note(trunc, "functions")

	hot := make(map[snapshot.Address]bool, len(top))
	for _, f := range top {
		hot[f.Entry] = true
	}
	strScores, err := p.scorer.ScoreStrings(ctx, snap, b.profile, hot)
	if err != nil {
		return nil, wrapCanceled(err)
	}
	b.strings(strScores)
	b.functions(ranked, top)

	configs, err := p.detector.Scan(ctx, snap)
	if err != nil {
		return nil, wrapCanceled(err)
	}
	configs, trunc = compression.Cap(configs, p.budget.MaxConfigs, compression.TruncBudget)
	b.note(trunc, "configs")
	b.bundle.Configs = nonNil(configs)

	b.equates()

	b.bundle.Flags = evaluateFlags(evidence{
		profile:   b.profile,
		hasRWX:    report.HasRWX,
		fileSize:  meta.FileSize,
		functions: b.bundle.Functions,
	})
	b.bundle.Notes.Budgets = *p.budget
	b.bundle.Notes.PartialEvidence = nonNil(snap.Missing())
	if b.bundle.Notes.Truncations == nil {
		b.bundle.Notes.Truncations = []*compression.TruncationInfo{}
	}

	id, err := bundleID(meta.SHA256, p.budget)
	if err != nil {
		return nil, errors.New(errors.InternalError, "derive bundle id", err)
	}
	b.bundle.BundleID = id

	p.logger.Info("evidence bundle built",
		"file", meta.FileName,
		"functions", len(b.bundle.Functions),
		"strings", len(b.bundle.Strings),
		"configs", len(b.bundle.Configs),
		"truncations", len(b.bundle.Notes.Truncations),
		"duration", time.Since(start),
	)
	return b.bundle, nil
}

// build carries the state of one Prune call.
type build struct {
	snap    *snapshot.Snapshot
	budget  *compression.EvidenceBudget
	profile *capability.Profile
	bundle  *Bundle

	stringScores map[snapshot.Address]float64
}

func (b *build) note(t *compression.TruncationInfo, field string) {
	if t.IsEmpty() {
		return
	}
	b.bundle.Notes.Truncations = append(b.bundle.Notes.Truncations, t.ForField(field))
}

func (b *build) sections(report scoring.SectionReport) {
	anomalies, trunc := compression.Cap(report.Anomalies, b.budget.MaxSections, compression.TruncBudget)
	b.note(trunc, "sections")

	out := make([]SectionEvidence, 0, len(anomalies))
	for _, a := range anomalies {
		out = append(out, SectionEvidence{
			Name:        a.Section.Name,
			Start:       a.Section.Start,
			End:         a.Section.End,
			Size:        a.Section.Size,
			Permissions: a.Section.Permissions.String(),
			Reasons:     a.Reasons,
		})
	}
	b.bundle.Sections = SectionSummary{HasRWX: report.HasRWX, Anomalous: out}
}

func (b *build) imports() {
	groups := []ImportGroup{}
	for _, c := range b.profile.Categories() {
		labels := b.profile.Labels(c)
		if len(labels) == 0 {
			continue
		}
		slices.Sort(labels)
		labels = slices.Compact(labels)
		labels, trunc := compression.Cap(labels, b.budget.MaxImportsPerCapability, compression.TruncBudget)
		b.note(trunc, "imports."+string(c))
		groups = append(groups, ImportGroup{Capability: c, Imports: labels})
	}
	b.bundle.Imports = groups
}

func (b *build) strings(scores []scoring.StringScore) {
	b.stringScores = make(map[snapshot.Address]float64, len(scores))
	for _, s := range scores {
		b.stringScores[s.Address] = s.Score
	}

	ranked := scoring.RankStrings(scores)
	top, trunc := compression.Cap(ranked, b.budget.MaxStrings, compression.TruncBudget)
	b.note(trunc, "strings")

	out := make([]StringEvidence, 0, len(top))
	for _, s := range top {
		users := make([]string, 0, len(s.UsedIn))
		for _, u := range s.UsedIn {
			users = append(users, b.snap.NameOf(snapshot.Ref{Addr: u}))
		}
		out = append(out, StringEvidence{
			Address: s.Address,
			Value:   configscan.Preview(s.Value, b.budget.PreviewLength),
			Kind:    s.Kind,
			Score:   round(s.Score),
			UsedIn:  compression.DedupStrings(users),
		})
	}
	b.bundle.Strings = out
}

func (b *build) functions(all, top []scoring.FunctionScore) {
	byEntry := make(map[snapshot.Address]float64, len(all))
	for _, f := range all {
		byEntry[f.Entry] = f.Score
	}
	// External callees have no score and sort after every function.
	scoreOf := func(r snapshot.Ref) float64 {
		if r.External {
			return math.Inf(-1)
		}
		if s, ok := byEntry[r.Addr]; ok {
			return s
		}
		return math.Inf(-1)
	}

	out := make([]FunctionEvidence, 0, len(top))
	for _, f := range top {
		field := "functions." + f.Entry.String()
		callers := make([]snapshot.Ref, 0)
		for _, a := range b.snap.Callers(f.Entry) {
			callers = append(callers, snapshot.Ref{Addr: a})
		}
		out = append(out, FunctionEvidence{
			Address:      f.Entry,
			Name:         f.Name,
			SizeBytes:    f.Size,
			Complexity:   f.Complexity,
			Capabilities: nonNil(f.Caps),
			Score:        round(f.Score),
			Breakdown:    roundBreakdown(f.Breakdown),
			Callers:      b.callRefs(callers, scoreOf, field+".callers"),
			Callees:      b.callRefs(b.snap.Callees(f.Entry), scoreOf, field+".callees"),
			Strings:      b.functionStrings(f.Entry, field+".strings"),
		})
	}
	b.bundle.Functions = out
}

// callRefs keeps the highest-scoring refs. refs arrive in address order,
// which the stable sort keeps for equal scores.
func (b *build) callRefs(refs []snapshot.Ref, scoreOf func(snapshot.Ref) float64, field string) []CallRef {
	slices.SortStableFunc(refs, func(x, y snapshot.Ref) int {
		return cmp.Compare(scoreOf(y), scoreOf(x))
	})
	refs, trunc := compression.Cap(refs, b.budget.MaxCallRefs, compression.TruncBudget)
	b.note(trunc, field)

	out := make([]CallRef, 0, len(refs))
	for _, r := range refs {
		out = append(out, CallRef{Address: r, Name: b.snap.NameOf(r)})
	}
	return out
}

func (b *build) functionStrings(entry snapshot.Address, field string) []string {
	addrs := b.profile.StringsOf(entry)
	slices.SortStableFunc(addrs, func(x, y snapshot.Address) int {
		return cmp.Compare(b.stringScores[y], b.stringScores[x])
	})

	values := make([]string, 0, len(addrs))
	for _, a := range addrs {
		if s, ok := b.snap.StringAt(a); ok {
			values = append(values, configscan.Preview(s.Value, b.budget.PreviewLength))
		}
	}
	values = compression.DedupStrings(values)
	values, trunc := compression.Cap(values, b.budget.MaxStringsPerFunction, compression.TruncBudget)
	b.note(trunc, field)
	return values
}

func (b *build) equates() {
	eqs := b.snap.Equates()
	slices.SortStableFunc(eqs, func(x, y snapshot.Equate) int {
		if c := cmp.Compare(y.ReferenceCount, x.ReferenceCount); c != 0 {
			return c
		}
		if c := strings.Compare(x.Name, y.Name); c != 0 {
			return c
		}
		return cmp.Compare(x.Value, y.Value)
	})
	eqs, trunc := compression.Cap(eqs, b.budget.MaxEquates, compression.TruncBudget)
	b.note(trunc, "equates")

	out := make([]EquateEvidence, 0, len(eqs))
	for _, e := range eqs {
		out = append(out, EquateEvidence{Name: e.Name, Value: e.Value, ReferenceCount: e.ReferenceCount})
	}
	b.bundle.Equates = out
}

func fileInfo(meta snapshot.Meta, format string) FileInfo {
	return FileInfo{
		Name:       meta.FileName,
		Size:       meta.FileSize,
		SHA256:     strings.ToLower(meta.SHA256),
		MD5:        strings.ToLower(meta.MD5),
		Format:     format,
		Arch:       DeriveArch(meta.Language, meta.Processor),
		LanguageID: meta.Language,
		ImageBase:  meta.ImageBase,
		Endian:     meta.Endian,
		Compiler:   meta.Compiler,
	}
}

// DeriveArch maps a language id and processor name to a short
// architecture name.
func DeriveArch(language, processor string) string {
	lang := strings.ToLower(language)
	proc := strings.ToLower(processor)
	switch {
	case strings.Contains(lang, "x86:le:64") || strings.Contains(proc, "x86_64"):
		return "x86_64"
	case strings.Contains(lang, "x86:le:32") || strings.Contains(proc, "x86"):
		return "x86"
	case strings.Contains(lang, "arm:le:64") || strings.Contains(proc, "aarch64") || strings.Contains(proc, "arm64"):
		return "arm64"
	case strings.Contains(lang, "arm:le:32") || strings.HasPrefix(proc, "arm"):
		return "arm"
	case strings.Contains(lang, "mips") || strings.Contains(proc, "mips"):
		return "mips"
	case strings.Contains(proc, "ppc"):
		return "ppc"
	case proc != "":
		return proc
	}
	return "unknown"
}

func bundleID(sha256 string, budget *compression.EvidenceBudget) (string, error) {
	budgets, err := json.Marshal(budget)
	if err != nil {
		return "", err
	}
	name := strings.ToLower(sha256) + "|" + GenerationVersion + "|" + string(budgets)
	return uuid.NewSHA1(bundleNamespace, []byte(name)).String(), nil
}

// wrapCanceled maps a context error to Timeout and keeps coded errors.
func wrapCanceled(err error) error {
	var ke *errors.KernError
	if stderrors.As(err, &ke) {
		return err
	}
	if stderrors.Is(err, context.Canceled) || stderrors.Is(err, context.DeadlineExceeded) {
		return errors.New(errors.Timeout, "prune interrupted", err)
	}
	return errors.New(errors.InternalError, "prune failed", err)
}

// round keeps four decimals so scores print stably.
func round(v float64) float64 {
	return math.Round(v*1e4) / 1e4
}

func roundBreakdown(b scoring.Breakdown) scoring.Breakdown {
	return scoring.Breakdown{
		Complexity:        round(b.Complexity),
		Capabilities:      round(b.Capabilities),
		Degree:            round(b.Degree),
		HighRisk:          round(b.HighRisk),
		Size:              round(b.Size),
		Entrypoint:        round(b.Entrypoint),
		StringRefs:        round(b.StringRefs),
		SuspiciousSection: round(b.SuspiciousSection),
	}
}

func nonNil[T any](s []T) []T {
	if s == nil {
		return []T{}
	}
	return s
}
