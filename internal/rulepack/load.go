// Package rulepack loads rule sets spread over several files and keeps a
// compiled plan current as those files change.
package rulepack

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"golang.org/x/sync/errgroup"

	"github.com/symbolicaengine-ai/symbolica-sub000/internal/plan"
	"github.com/symbolicaengine-ai/symbolica-sub000/internal/preprocessor"
	"github.com/symbolicaengine-ai/symbolica-sub000/internal/rules"
)

var ruleExtensions = map[string]bool{".json": true, ".yaml": true, ".yml": true}

// IsRuleFile reports whether path has a rule file extension.
func IsRuleFile(path string) bool {
	return ruleExtensions[strings.ToLower(filepath.Ext(path))]
}

// Expand resolves paths to rule files. A directory contributes its rule
// files in name order; files are kept in the order given.
func Expand(paths []string) ([]string, error) {
	var files []string
	for _, p := range paths {
		info, err := os.Stat(p)
		if err != nil {
			return nil, err
		}
		if !info.IsDir() {
			files = append(files, p)
			continue
		}
		entries, err := os.ReadDir(p)
		if err != nil {
			return nil, err
		}
		var names []string
		for _, e := range entries {
			if !e.IsDir() && IsRuleFile(e.Name()) {
				names = append(names, filepath.Join(p, e.Name()))
			}
		}
		sort.Strings(names)
		files = append(files, names...)
	}
	return files, nil
}

// Load reads and parses every rule file concurrently, concatenates their
// rules in path order and compiles them into one plan.
func Load(ctx context.Context, paths []string, opts preprocessor.Options) (*plan.Plan, error) {
	files, err := Expand(paths)
	if err != nil {
		return nil, err
	}
	if len(files) == 0 {
		return nil, fmt.Errorf("no rule files in %v", paths)
	}

	parsed := make([]*preprocessor.RuleFile, len(files))
	g, ctx := errgroup.WithContext(ctx)
	for i, path := range files {
		i, path := i, path
		g.Go(func() error {
			if err := ctx.Err(); err != nil {
				return err
			}
			data, err := os.ReadFile(path)
			if err != nil {
				return err
			}
			rf, err := preprocessor.ParseRules(data)
			if err != nil {
				return fmt.Errorf("%s: %w", path, err)
			}
			parsed[i] = rf
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	var defs []rules.Rule
	for _, rf := range parsed {
		defs = append(defs, rf.Rules...)
		if opts.Name == "" && rf.Name != "" {
			opts.Name = rf.Name
		}
	}
	return preprocessor.Compile(defs, opts)
}

func isDir(path string) bool {
	info, err := os.Stat(path)
	return err == nil && info.IsDir()
}
