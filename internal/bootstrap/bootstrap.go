// Package bootstrap creates configuration files from packaged examples the
// first time they are needed. An existing target is never overwritten.
package bootstrap

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"hzinstall/internal/failure"
	"hzinstall/pkg/fileutil"
)

// Pair maps a target file to the example it is created from.
// Both paths are relative to the deployment directory.
type Pair struct {
	Target  string
	Example string
}

// DefaultPairs are the files the monitor needs to start.
var DefaultPairs = []Pair{
	{Target: "config.yaml", Example: "config.example.yaml"},
	{Target: "web_config.json", Example: "web_config.example.json"},
}

// Action is what Ensure did for a pair.
type Action int

const (
	Skipped Action = iota
	Created
)

func (a Action) String() string {
	if a == Created {
		return "created"
	}
	return "skipped"
}

// Result reports the outcome for one pair.
type Result struct {
	Pair   Pair
	Action Action
}

// Ensure copies each example to its target inside dir when the target is absent.
// Results are returned in pair order up to and including the first failure.
func Ensure(dir string, pairs []Pair) ([]Result, error) {
	results := make([]Result, 0, len(pairs))
	for _, p := range pairs {
		action, err := ensureOne(dir, p)
		if err != nil {
			return results, err
		}
		results = append(results, Result{Pair: p, Action: action})
	}
	return results, nil
}

func ensureOne(dir string, p Pair) (Action, error) {
	target := filepath.Join(dir, p.Target)
	example := filepath.Join(dir, p.Example)

	_, err := os.Lstat(target)
	if err == nil {
		return Skipped, nil
	}
	if !errors.Is(err, os.ErrNotExist) {
		return Skipped, failure.ExternalOperation("bootstrapping "+p.Target, err)
	}

	if !fileutil.FileExists(example) {
		return Skipped, failure.ExternalOperation("bootstrapping "+p.Target,
			fmt.Errorf("example file not found: %s", example))
	}
	if err := fileutil.CopyFile(example, target); err != nil {
		return Skipped, failure.ExternalOperation("bootstrapping "+p.Target, err)
	}
	return Created, nil
}
