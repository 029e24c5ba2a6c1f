package protect

import (
	"fmt"
	"os"
	"regexp"
	"sync"

	"go.yaml.in/yaml/v3"
)

// Pattern is a named regular expression describing a dangerous command.
type Pattern struct {
	// Name identifies the pattern in violation messages.
	Name string `yaml:"name"`
	// Expr is the regular expression source.
	Expr string `yaml:"pattern"`
}

type compiled struct {
	Pattern
	re *regexp.Regexp
}

// Detector checks commands against dangerous structural patterns.
// Patterns apply regardless of tier.
type Detector struct {
	patterns []compiled
	mu       sync.RWMutex
}

// patternFile is the YAML layout of an extra-patterns file.
type patternFile struct {
	DangerousPatterns []Pattern `yaml:"dangerous_patterns"`
}

// New creates a detector loaded with DefaultPatterns.
func New() *Detector {
	d := &Detector{}
	for _, p := range DefaultPatterns {
		d.patterns = append(d.patterns, compiled{Pattern: p, re: regexp.MustCompile(p.Expr)})
	}
	return d
}

// Match returns the first pattern the command matches.
func (d *Detector) Match(command string) (Pattern, bool) {
	d.mu.RLock()
	defer d.mu.RUnlock()

	for _, p := range d.patterns {
		if p.re.MatchString(command) {
			return p.Pattern, true
		}
	}
	return Pattern{}, false
}

// IsDangerous reports whether the command matches any pattern.
func (d *Detector) IsDangerous(command string) bool {
	_, ok := d.Match(command)
	return ok
}

// AddPattern compiles and appends a pattern.
func (d *Detector) AddPattern(name, expr string) error {
	re, err := regexp.Compile(expr)
	if err != nil {
		return fmt.Errorf("invalid pattern %q: %w", name, err)
	}

	d.mu.Lock()
	defer d.mu.Unlock()
	d.patterns = append(d.patterns, compiled{Pattern: Pattern{Name: name, Expr: expr}, re: re})
	return nil
}

// Patterns returns a copy of the active patterns.
func (d *Detector) Patterns() []Pattern {
	d.mu.RLock()
	defer d.mu.RUnlock()

	out := make([]Pattern, len(d.patterns))
	for i, p := range d.patterns {
		out[i] = p.Pattern
	}
	return out
}

// LoadConfig appends the dangerous_patterns listed in a YAML file.
// Nothing is added if any pattern fails to compile.
func (d *Detector) LoadConfig(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return err
	}

	var cfg patternFile
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return fmt.Errorf("parse %s: %w", path, err)
	}

	extra := make([]compiled, 0, len(cfg.DangerousPatterns))
	for _, p := range cfg.DangerousPatterns {
		re, err := regexp.Compile(p.Expr)
		if err != nil {
			return fmt.Errorf("invalid pattern %q in %s: %w", p.Name, path, err)
		}
		extra = append(extra, compiled{Pattern: p, re: re})
	}

	d.mu.Lock()
	defer d.mu.Unlock()
	d.patterns = append(d.patterns, extra...)
	return nil
}
