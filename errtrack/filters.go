package errtrack

import (
	"fmt"
	"strings"
	"time"

	"github.com/dlclark/regexp2"

	"argus/config"
	"argus/core"
)

// regex filters run with a hard timeout so a pathological pattern cannot
// stall the capture path
const patternMatchTimeout = 100 * time.Millisecond

// ignoreFilter drops captures by message substring, message regex, and
// component/URL allow and deny lists
type ignoreFilter struct {
	messages []string
	patterns []*regexp2.Regexp

	denyComponents  []string
	allowComponents []string
	denyURLs        []string
	allowURLs       []string
}

func newIgnoreFilter(cfg config.ErrorsConfig) (*ignoreFilter, error) {
	f := &ignoreFilter{
		messages:        cfg.IgnoreMessages,
		denyComponents:  cfg.DenyComponents,
		allowComponents: cfg.AllowComponents,
		denyURLs:        cfg.DenyURLs,
		allowURLs:       cfg.AllowURLs,
	}

	for _, p := range cfg.IgnorePatterns {
		re, err := regexp2.Compile(p, regexp2.None)
		if err != nil {
			return nil, fmt.Errorf("invalid ignore pattern %q: %w", p, err)
		}
		re.MatchTimeout = patternMatchTimeout
		f.patterns = append(f.patterns, re)
	}
	return f, nil
}

// shouldIgnore returns true and a drop reason when the capture is filtered
func (f *ignoreFilter) shouldIgnore(info *core.ErrorInfo) (bool, string) {
	for _, m := range f.messages {
		if strings.Contains(info.Message, m) {
			return true, "ignored_message"
		}
	}

	for _, re := range f.patterns {
		matched, err := re.MatchString(info.Message)
		if err != nil {
			// timeout or engine error: fail open, keep the capture
			continue
		}
		if matched {
			return true, "ignored_pattern"
		}
	}

	component := info.Context.Component
	if component != "" {
		if containsFold(f.denyComponents, component) {
			return true, "denied_component"
		}
		if len(f.allowComponents) > 0 && !containsFold(f.allowComponents, component) {
			return true, "component_not_allowed"
		}
	}

	url := info.Context.URL
	if url != "" {
		if containsAny(url, f.denyURLs) {
			return true, "denied_url"
		}
		if len(f.allowURLs) > 0 && !containsAny(url, f.allowURLs) {
			return true, "url_not_allowed"
		}
	}

	return false, ""
}

func containsFold(list []string, v string) bool {
	for _, item := range list {
		if strings.EqualFold(item, v) {
			return true
		}
	}
	return false
}

func containsAny(s string, substrings []string) bool {
	for _, sub := range substrings {
		if strings.Contains(s, sub) {
			return true
		}
	}
	return false
}
