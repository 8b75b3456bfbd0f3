// Package privacy redacts window descriptors before they leave the process.
//
// Redaction runs as an ordered chain of stages. A stage may only hide more
// than the stages before it, so the chain is idempotent: filtering an
// already filtered descriptor yields the same descriptor.
package privacy

import (
	"fmt"
	"regexp"
	"strings"

	"github.com/actionsum/focusbeat/pkg/window"
)

const (
	// HiddenValue replaces app and title of windows outside the allow-list.
	HiddenValue = "Hidden By Privacy Configuration"
	// ExcludedValue replaces titles removed by the exclusion rules.
	ExcludedValue = "excluded"
)

// Filtered is a window descriptor that has been through a Filter. Events
// sent to the collector carry this type, never a raw window.WindowInfo.
type Filtered struct {
	App   string
	Title string
}

// Window converts f back into a descriptor, e.g. to filter it again.
func (f Filtered) Window() window.WindowInfo {
	return window.WindowInfo{AppName: f.App, WindowTitle: f.Title}
}

// Config holds the inputs of the filter. It is built once at startup.
type Config struct {
	// IncludedApps is the server-provided allow-list. Empty hides everything.
	IncludedApps []string
	// ExcludeAllTitles replaces every title with ExcludedValue.
	ExcludeAllTitles bool
	// ExcludeTitlePatterns are matched against the title in order.
	ExcludeTitlePatterns []*regexp.Regexp
}

// CompilePatterns compiles exclusion patterns case-insensitively. An empty
// pattern matches every title. Any invalid pattern fails the whole set.
func CompilePatterns(patterns []string) ([]*regexp.Regexp, error) {
	compiled := make([]*regexp.Regexp, 0, len(patterns))
	for _, p := range patterns {
		re, err := regexp.Compile("(?i)" + p)
		if err != nil {
			return nil, fmt.Errorf("invalid exclude-title pattern %q: %w", p, err)
		}
		compiled = append(compiled, re)
	}
	return compiled, nil
}

// Stage is one step of the redaction chain
type Stage interface {
	Apply(f Filtered) Filtered
}

// Filter applies the allow-list, pattern and blanket stages in that order
type Filter struct {
	stages []Stage
}

// New builds the stage chain for cfg. The allow-list and pattern slices are
// copied so later changes to cfg do not affect the filter.
func New(cfg Config) *Filter {
	stages := []Stage{
		NewAllowListStage(cfg.IncludedApps),
		NewPatternStage(cfg.ExcludeTitlePatterns),
	}
	if cfg.ExcludeAllTitles {
		stages = append(stages, BlanketStage{})
	}
	return &Filter{stages: stages}
}

// Apply runs every stage over info
func (f *Filter) Apply(info window.WindowInfo) Filtered {
	out := Filtered{App: info.AppName, Title: info.WindowTitle}
	for _, s := range f.stages {
		out = s.Apply(out)
	}
	return out
}

// AllowListStage hides app and title unless an allowed name occurs in the
// app name. Matching is a case-sensitive substring test, so "chrome" also
// admits "chromedriver".
type AllowListStage struct {
	apps []string
}

// NewAllowListStage creates the allow-list stage
func NewAllowListStage(apps []string) *AllowListStage {
	return &AllowListStage{apps: append([]string(nil), apps...)}
}

// Apply implements Stage
func (s *AllowListStage) Apply(f Filtered) Filtered {
	for _, app := range s.apps {
		if strings.Contains(f.App, app) {
			return f
		}
	}
	return Filtered{App: HiddenValue, Title: HiddenValue}
}

// PatternStage replaces the title when any exclusion pattern matches it
type PatternStage struct {
	patterns []*regexp.Regexp
}

// NewPatternStage creates the pattern exclusion stage
func NewPatternStage(patterns []*regexp.Regexp) *PatternStage {
	return &PatternStage{patterns: append([]*regexp.Regexp(nil), patterns...)}
}

// Apply implements Stage
func (s *PatternStage) Apply(f Filtered) Filtered {
	for _, re := range s.patterns {
		if re.MatchString(f.Title) {
			f.Title = ExcludedValue
		}
	}
	return f
}

// BlanketStage replaces every title
type BlanketStage struct{}

// Apply implements Stage
func (BlanketStage) Apply(f Filtered) Filtered {
	f.Title = ExcludedValue
	return f
}
