// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package stepdef parses and validates step descriptions: one node of
// a job graph as handed to the agent. Step descriptions are authored
// as JSONC files (JSON extended with comments and trailing commas):
//
//	{
//	  "node": "compile",
//	  // Headers published by the tools node.
//	  "inputs": ["tools/Headers"],
//	  "command": ["make", "-j8"],
//	  "working_directory": "src",
//	  "timeout": "30m",
//	  "outputs": [
//	    {"paths": ["out/bin"]},
//	    {"tag": "Symbols", "paths": ["out/sym"]},
//	  ],
//	  "publish": ["compile", "Symbols"],
//	  "artifacts": ["logs"],
//	}
//
// An output without a tag belongs to the node's default tag, which is
// named after the node.
package stepdef

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"slices"
	"strings"
	"time"

	"github.com/tidwall/jsonc"

	"github.com/bureau-foundation/buildagent/lib/tempstorage"
)

// Step describes one job-graph node.
type Step struct {
	// Node names the job-graph node. It is the default output tag and
	// the last segment of the node's output ref.
	Node string `json:"node"`

	// Inputs are "node/tag" references to temp storage produced by
	// earlier nodes.
	Inputs []string `json:"inputs,omitempty"`

	// Command is the executable and its arguments. Relative
	// executables containing a slash resolve against the workspace.
	Command []string `json:"command"`

	// WorkingDirectory is relative to the workspace. Empty means the
	// workspace itself.
	WorkingDirectory string `json:"working_directory,omitempty"`

	// Env adds variables to the inherited environment.
	Env map[string]string `json:"env,omitempty"`

	// Timeout bounds the command. Empty means no timeout beyond the
	// caller's context.
	Timeout string `json:"timeout,omitempty"`

	// Outputs declares the files this node produces, grouped by tag.
	Outputs []Output `json:"outputs,omitempty"`

	// Publish lists the tags later nodes may consume. Tags not listed
	// stay on this agent.
	Publish []string `json:"publish,omitempty"`

	// Artifacts are workspace paths uploaded for humans (logs,
	// reports) rather than for later nodes.
	Artifacts []string `json:"artifacts,omitempty"`
}

// Output is one declared output tag.
type Output struct {
	// Tag defaults to the node name.
	Tag string `json:"tag,omitempty"`

	// Paths are files or directories relative to the workspace.
	// Directories contribute every regular file beneath them.
	Paths []string `json:"paths"`
}

// Parse strips JSONC comments and trailing commas from data, then
// unmarshals the result into a Step. Unknown fields are rejected so a
// misspelled key fails loudly instead of silently doing nothing.
func Parse(data []byte) (*Step, error) {
	stripped := jsonc.ToJSON(data)

	decoder := json.NewDecoder(strings.NewReader(string(stripped)))
	decoder.DisallowUnknownFields()

	var step Step
	if err := decoder.Decode(&step); err != nil {
		return nil, fmt.Errorf("parsing step: %w", err)
	}
	return &step, nil
}

// ReadFile reads and parses a JSONC step file.
func ReadFile(path string) (*Step, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading %s: %w", path, err)
	}

	step, err := Parse(data)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return step, nil
}

// Validate checks a Step for structural issues. Returns a list of
// human-readable issue descriptions. An empty list means the step is
// valid.
func Validate(step *Step) []string {
	var issues []string

	if step.Node == "" {
		issues = append(issues, "node is required")
	} else if strings.ContainsAny(step.Node, "/"+tempstorage.BlockSeparator) {
		issues = append(issues, fmt.Sprintf("node %q: must not contain %q or %q", step.Node, "/", tempstorage.BlockSeparator))
	}

	if len(step.Command) == 0 || step.Command[0] == "" {
		issues = append(issues, "command is required")
	}

	if step.WorkingDirectory != "" && !filepath.IsLocal(step.WorkingDirectory) {
		issues = append(issues, fmt.Sprintf("working_directory %q: must be a relative path inside the workspace", step.WorkingDirectory))
	}

	if step.Timeout != "" {
		if timeout, err := time.ParseDuration(step.Timeout); err != nil {
			issues = append(issues, fmt.Sprintf("timeout %q: %v", step.Timeout, err))
		} else if timeout <= 0 {
			issues = append(issues, fmt.Sprintf("timeout %q: must be positive", step.Timeout))
		}
	}

	for index, input := range step.Inputs {
		if _, err := tempstorage.ParseInput(input); err != nil {
			issues = append(issues, fmt.Sprintf("inputs[%d]: %v", index, err))
		}
	}

	declared := make(map[string]int, len(step.Outputs))
	for index, output := range step.Outputs {
		prefix := fmt.Sprintf("outputs[%d]", index)
		tag := output.Tag
		if tag == "" {
			tag = step.Node
		} else if strings.ContainsAny(tag, "/"+tempstorage.BlockSeparator) {
			issues = append(issues, fmt.Sprintf("%s: tag %q must not contain %q or %q", prefix, tag, "/", tempstorage.BlockSeparator))
		}
		if first, exists := declared[tag]; exists {
			issues = append(issues, fmt.Sprintf("%s: tag %q already declared at outputs[%d]", prefix, tag, first))
		} else {
			declared[tag] = index
		}
		if len(output.Paths) == 0 {
			issues = append(issues, fmt.Sprintf("%s: at least one path is required", prefix))
		}
		for pathIndex, path := range output.Paths {
			if !filepath.IsLocal(path) {
				issues = append(issues, fmt.Sprintf("%s.paths[%d] %q: must be a relative path inside the workspace", prefix, pathIndex, path))
			}
		}
	}

	for index, tag := range step.Publish {
		if _, exists := declared[tag]; !exists {
			issues = append(issues, fmt.Sprintf("publish[%d]: tag %q is not a declared output", index, tag))
		}
	}

	for index, path := range step.Artifacts {
		if !filepath.IsLocal(path) {
			issues = append(issues, fmt.Sprintf("artifacts[%d] %q: must be a relative path inside the workspace", index, path))
		}
	}

	return issues
}

// TimeoutDuration returns the parsed timeout, or zero when none is
// set. Call Validate first.
func (s *Step) TimeoutDuration() time.Duration {
	if s.Timeout == "" {
		return 0
	}
	timeout, _ := time.ParseDuration(s.Timeout)
	return timeout
}

// Environment returns the step's variables as sorted KEY=value pairs.
func (s *Step) Environment() []string {
	env := make([]string, 0, len(s.Env))
	for key, value := range s.Env {
		env = append(env, key+"="+value)
	}
	slices.Sort(env)
	return env
}

// TagPaths returns the declared output paths keyed by tag, with the
// node name substituted for empty tags.
func (s *Step) TagPaths() map[string][]string {
	tags := make(map[string][]string, len(s.Outputs))
	for _, output := range s.Outputs {
		tag := output.Tag
		if tag == "" {
			tag = s.Node
		}
		tags[tag] = append(tags[tag], output.Paths...)
	}
	return tags
}

// NameFromPath extracts a node name from a file path by stripping the
// directory prefix and the file extension. The step executor uses it
// when a step file omits "node".
func NameFromPath(path string) string {
	base := filepath.Base(path)
	return strings.TrimSuffix(base, filepath.Ext(base))
}
