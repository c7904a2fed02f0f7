package domain

import (
	"fmt"
	"regexp"
	"strings"
)

// Diff-line classification. A changed line begins with exactly one '+' or
// '-'; the doubled forms are diff header markers and do not count.
var (
	addedLine    = regexp.MustCompile(`^\+[^+]`)
	removedLine  = regexp.MustCompile(`^-[^-]`)
	svnFileLine  = regexp.MustCompile(`(?i)^Index: (.+(\.\w+))$`)
	gitFileLine  = regexp.MustCompile(`^\+\+\+ b/(.+(\.\w+))$`)
	makefileName = regexp.MustCompile(`(?i)Makefile$`)
)

// sizeBand maps a change-velocity ceiling to its label. Bands are ordered;
// the ceilings are exclusive.
var sizeBands = []struct {
	ceiling int
	label   string
}{
	{12, "A wee bit code review"},
	{75, "A small code review"},
	{250, "A medium code review"},
	{750, "A large code review"},
	{3000, "A titanic code review"},
	{8000, "Yomama's huge ars code review"},
}

const oversizeLabel = "Excessively fatty code review."

// SubjectHeader classifies the magnitude of a diff into a subject line.
// The velocity metric is max(added, removed): rearranging the whole tree
// without adding a line still counts as a big change.
func SubjectHeader(prefix, diff string) string {
	add, sub := 0, 0
	for _, l := range strings.Split(diff, "\n") {
		if addedLine.MatchString(l) {
			add++
		}
		if removedLine.MatchString(l) {
			sub++
		}
	}
	velocity := max(add, sub)

	label := oversizeLabel
	for _, band := range sizeBands {
		if velocity < band.ceiling {
			label = band.label
			break
		}
	}
	return fmt.Sprintf("%s%s +%d -%d.", prefix, label, add, sub)
}

// DiffRules configures the per-language style checks applied to a diff.
type DiffRules struct {
	// MaxCols is the column limit per language key ("python", "perl",
	// "java", "others"). Missing keys default to 80.
	MaxCols map[string]int
	// AllowTabs disables the tab error when true.
	AllowTabs bool
}

const defaultMaxCols = 80

// languageForSuffix maps a file extension from a diff header to the
// language key used for column limits.
var languageForSuffix = map[string]string{
	".py":   "python",
	".pl":   "perl",
	".pm":   "perl",
	".java": "java",
}

func (r DiffRules) maxCols(language string) int {
	if r.MaxCols != nil {
		if n, ok := r.MaxCols[language]; ok && n > 0 {
			return n
		}
	}
	return defaultMaxCols
}

// TriggerWarnings scans added lines in a diff for style violations. It
// returns hard errors (tabs outside Makefiles) and warnings (over-long
// lines), keyed to the file named by the preceding per-file header.
func TriggerWarnings(diff string, rules DiffRules) (errs, warns []string) {
	fileName := ""
	language := "others"
	for _, line := range strings.Split(diff, "\n") {
		if m := svnFileLine.FindStringSubmatch(line); m != nil {
			fileName, language = m[1], languageFor(m[2])
			continue
		}
		if m := gitFileLine.FindStringSubmatch(line); m != nil {
			fileName, language = m[1], languageFor(m[2])
			continue
		}
		if !addedLine.MatchString(line) {
			continue
		}
		if !rules.AllowTabs && strings.Contains(line, "\t") &&
			!makefileName.MatchString(fileName) {
			flagged := strings.ReplaceAll(line, "\t", "[BADTAB]")
			errs = append(errs, fmt.Sprintf("Tab detected(%s):%s", fileName, flagged))
		}
		if limit := rules.maxCols(language); len(line)-1 > limit {
			warns = append(warns, fmt.Sprintf("Exceed %d cols(%s):%s", limit, fileName, line))
		}
	}
	return errs, warns
}

func languageFor(suffix string) string {
	if lang, ok := languageForSuffix[strings.ToLower(suffix)]; ok {
		return lang
	}
	return "others"
}
