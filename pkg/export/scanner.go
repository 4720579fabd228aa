// Package export implements the share-safe export pipeline: discover →
// scan → refuse or bundle.
//
// The scanner is conservative by design — false positives are safer than
// false negatives, and refusal is the correct behavior, not a bug. The
// original event and blob bytes are never modified.
package export

import (
	"math"
	"regexp"
	"strings"

	"github.com/golang-jwt/jwt/v5"
)

// ScannerVersion appears in refusal reports.
const ScannerVersion = "secret-scanner-v0.1"

const (
	// entropyThreshold is the Shannon-entropy floor (bits/char) above
	// which a base64-like run is flagged.
	entropyThreshold = 4.5
	// entropyMinLen is the minimum candidate length for the entropy rule.
	entropyMinLen = 20
)

// Pattern is one named detection rule.
type Pattern struct {
	Name string
	re   *regexp.Regexp
	// confirm optionally post-validates a regex match; nil accepts all.
	confirm func(string) bool
}

// Match is one scanner finding.
type Match struct {
	PatternName string
	Matched     string
	Offset      int
}

var patterns = []Pattern{
	{Name: "aws_access_key", re: regexp.MustCompile(`AKIA[0-9A-Z]{16}`)},
	{Name: "aws_secret_key", re: regexp.MustCompile(`(?i)aws_secret_access_key\s*[=:]\s*[A-Za-z0-9/+=]{40}`)},
	{Name: "openai_key", re: regexp.MustCompile(`sk-[A-Za-z0-9]{20,}`)},
	{Name: "anthropic_key", re: regexp.MustCompile(`sk-ant-[A-Za-z0-9_-]{90,}`)},
	{Name: "generic_api_key", re: regexp.MustCompile(`(?i)(api[_-]?key|apikey)\s*[=:]\s*['"]?[A-Za-z0-9_-]{20,}['"]?`)},
	{Name: "github_token", re: regexp.MustCompile(`gh[pso]_[A-Za-z0-9]{36,}`)},
	// jwt_token candidates are structurally confirmed: a three-segment
	// eyJ… match must actually parse as a JWT, which keeps base64-ish
	// noise out of refusal reports.
	{Name: "jwt_token", re: regexp.MustCompile(`eyJ[A-Za-z0-9_-]+\.[A-Za-z0-9_-]+\.[A-Za-z0-9_-]+`), confirm: confirmJWT},
	{Name: "bearer_token", re: regexp.MustCompile(`(?i)bearer\s+[A-Za-z0-9._-]{20,}`)},
	{Name: "password", re: regexp.MustCompile(`(?i)(password|passwd|pwd)\s*[=:]\s*['"]?[^\s'"]{8,}['"]?`)},
	{Name: "secret", re: regexp.MustCompile(`(?i)secret\s*[=:]\s*['"]?[A-Za-z0-9_/+=.-]{16,}['"]?`)},
	{Name: "private_key", re: regexp.MustCompile(`-----BEGIN\s+(RSA|EC|DSA|OPENSSH|PGP)?\s*PRIVATE KEY-----`)},
}

func confirmJWT(candidate string) bool {
	parser := jwt.NewParser()
	_, _, err := parser.ParseUnverified(candidate, jwt.MapClaims{})
	return err == nil
}

// ScanText runs every pattern plus the entropy rule over content.
func ScanText(content string) []Match {
	var matches []Match
	for _, p := range patterns {
		for _, loc := range p.re.FindAllStringIndex(content, -1) {
			m := content[loc[0]:loc[1]]
			if p.confirm != nil && !p.confirm(m) {
				continue
			}
			matches = append(matches, Match{PatternName: p.Name, Matched: m, Offset: loc[0]})
		}
	}
	matches = append(matches, scanEntropy(content)...)
	return matches
}

// ScanBytes scans binary content as lossy UTF-8, catching secrets embedded
// in text-like regions of binary blobs.
func ScanBytes(content []byte) []Match {
	return ScanText(string(content))
}

var base64Run = regexp.MustCompile(`[A-Za-z0-9+/_=-]{20,}`)

// scanEntropy flags base64-like runs of length ≥ 20 whose Shannon entropy
// reaches the threshold. Runs already matched by a named pattern will
// produce a second finding; the refusal sort dedups presentation.
func scanEntropy(content string) []Match {
	var matches []Match
	for _, loc := range base64Run.FindAllStringIndex(content, -1) {
		run := content[loc[0]:loc[1]]
		if len(run) < entropyMinLen {
			continue
		}
		if shannonEntropy(run) >= entropyThreshold {
			matches = append(matches, Match{PatternName: "high_entropy", Matched: run, Offset: loc[0]})
		}
	}
	return matches
}

// shannonEntropy returns bits per character of s.
func shannonEntropy(s string) float64 {
	if s == "" {
		return 0
	}
	var freq [256]int
	for i := 0; i < len(s); i++ {
		freq[s[i]]++
	}
	n := float64(len(s))
	var h float64
	for _, c := range freq {
		if c == 0 {
			continue
		}
		p := float64(c) / n
		h -= p * math.Log2(p)
	}
	return h
}

// RedactMatch renders a matched secret safely: first and last four
// characters with the middle elided.
func RedactMatch(matched string) string {
	if len(matched) <= 8 {
		return strings.Repeat("*", len(matched))
	}
	return matched[:4] + "***" + matched[len(matched)-4:]
}
