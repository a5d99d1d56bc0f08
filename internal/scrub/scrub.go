package scrub

import (
	"fmt"
	"regexp"
	"sort"
	"strings"
	"sync"

	"github.com/fyrsmithlabs/triaged/internal/config"
	gitleaksConfig "github.com/zricethezav/gitleaks/v8/config"
	"github.com/zricethezav/gitleaks/v8/detect"
	gitleaksRegexp "github.com/zricethezav/gitleaks/v8/regexp"
	"github.com/zricethezav/gitleaks/v8/report"
)

// Redaction describes one removed secret. It never carries the secret
// value, only metadata for logs and review.
type Redaction struct {
	RuleID  string `json:"rule_id"`
	Line    int    `json:"line"`
	Length  int    `json:"length"`
	Preview string `json:"preview"`
}

// Result holds scrubbed text and what was removed from it.
type Result struct {
	Text       string
	Redactions []Redaction
}

// Clean reports whether no secrets were found.
func (r Result) Clean() bool {
	return len(r.Redactions) == 0
}

// Scrubber replaces detected credentials in email text with
// [SCRUBBED:rule-id:prefix] markers. The marker keeps the fact that a
// credential was present, which is itself a triage signal, while the
// value never reaches an external provider.
type Scrubber struct {
	enabled  bool
	detector *detect.Detector

	// Guards detector scans; the gitleaks concurrency contract for
	// fragment scanning is not documented.
	mu sync.Mutex
}

// New builds a Scrubber from configuration. When scrubbing is disabled
// the detector is never constructed and Scrub passes text through.
func New(cfg config.ScrubConfig) (*Scrubber, error) {
	if !cfg.Enabled {
		return &Scrubber{}, nil
	}

	// Default Gitleaks config carries the full built-in ruleset.
	detector, err := detect.NewDetectorDefaultConfig()
	if err != nil {
		return nil, fmt.Errorf("creating secret detector: %w", err)
	}

	allowlist, err := LoadAllowlist(cfg.AllowlistPath)
	if err != nil {
		return nil, err
	}
	applyAllowlist(&detector.Config, allowlist)

	return &Scrubber{enabled: true, detector: detector}, nil
}

// Scrub removes detected secrets from text. Disabled scrubbers return
// the input unchanged.
func (s *Scrubber) Scrub(text string) Result {
	if !s.enabled || text == "" {
		return Result{Text: text}
	}

	s.mu.Lock()
	findings := s.detector.DetectString(text)
	s.mu.Unlock()

	if len(findings) == 0 {
		return Result{Text: text}
	}

	redactions := make([]Redaction, 0, len(findings))
	for _, f := range findings {
		redactions = append(redactions, Redaction{
			RuleID:  f.RuleID,
			Line:    f.StartLine,
			Length:  len(f.Secret),
			Preview: preview(f.Secret, 4),
		})
	}

	return Result{
		Text:       replaceFindings(text, findings),
		Redactions: redactions,
	}
}

// replaceFindings replaces secrets with markers, working backwards
// through the sorted findings to preserve string indices.
func replaceFindings(text string, findings []report.Finding) string {
	sorted := make([]report.Finding, len(findings))
	copy(sorted, findings)
	sort.Slice(sorted, func(i, j int) bool {
		if sorted[i].StartLine != sorted[j].StartLine {
			return sorted[i].StartLine > sorted[j].StartLine
		}
		return sorted[i].StartColumn > sorted[j].StartColumn
	})

	lines := strings.Split(text, "\n")
	for _, f := range sorted {
		if f.StartLine < 1 || f.StartLine > len(lines) {
			continue
		}
		line := lines[f.StartLine-1]

		marker := fmt.Sprintf("[SCRUBBED:%s:%s]", f.RuleID, preview(f.Secret, 4))
		if f.StartColumn >= 0 && f.EndColumn <= len(line) {
			lines[f.StartLine-1] = line[:f.StartColumn] + marker + line[f.EndColumn:]
		}
	}

	return strings.Join(lines, "\n")
}

func preview(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n]
}

// applyAllowlist merges user patterns into the Gitleaks config.
// Patterns are pre-validated in LoadAllowlist.
func applyAllowlist(cfg *gitleaksConfig.Config, allowlist *Allowlist) {
	if allowlist == nil || len(allowlist.Regexes) == 0 {
		return
	}

	global := &gitleaksConfig.Allowlist{
		Description: "triaged operator allowlist",
	}
	for _, pattern := range allowlist.Regexes {
		re, err := regexp.Compile(pattern)
		if err != nil {
			panic("unvalidated allowlist pattern: " + pattern + ": " + err.Error())
		}
		global.Regexes = append(global.Regexes, (*gitleaksRegexp.Regexp)(re))
	}
	global.StopWords = append(global.StopWords, allowlist.Regexes...)

	cfg.Allowlists = append(cfg.Allowlists, global)
}
