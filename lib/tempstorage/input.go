// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package tempstorage

import (
	"fmt"
	"strings"
)

// MalformedInputError reports an input that is not "node/tag".
type MalformedInputError struct {
	Input string
}

func (e *MalformedInputError) Error() string {
	return fmt.Sprintf("malformed temp storage input %q: expected <node>/<tag>", e.Input)
}

// ParseInput splits "node/tag" at the first separator. Either half
// missing is a *MalformedInputError.
func ParseInput(input string) (TagRef, error) {
	node, tag, found := strings.Cut(input, "/")
	if !found || node == "" || tag == "" {
		return TagRef{}, &MalformedInputError{Input: input}
	}
	if err := validateTagName(tag); err != nil {
		return TagRef{}, &MalformedInputError{Input: input}
	}
	return TagRef{NodeName: node, TagName: tag}, nil
}

// ParseInputs parses every input, failing on the first malformed one.
func ParseInputs(inputs []string) ([]TagRef, error) {
	refs := make([]TagRef, 0, len(inputs))
	for _, input := range inputs {
		ref, err := ParseInput(input)
		if err != nil {
			return nil, err
		}
		refs = append(refs, ref)
	}
	return refs, nil
}
