// Copyright (c) 2026 Kevin Zang (kevinzang). All rights reserved.
// Use of this source code is governed by the MIT License.
//
// TranscodeSession - FFmpeg 转码会话管理工具

package ffmpeg

import (
	"fmt"
	"regexp"
	"strings"
)

// Validator validates if a path is eligible as input or output for FFmpeg
type Validator interface {
	IsValid(text string) bool
}

type validator struct {
	allow []*regexp.Regexp
	block []*regexp.Regexp
}

// NewValidator creates a new Validator. Block wins over allow, and an empty
// allow list allows everything. Blank expressions are ignored.
func NewValidator(allow, block []string) (Validator, error) {
	v := &validator{}

	var err error
	if v.allow, err = compileAll("allow", allow); err != nil {
		return nil, err
	}
	if v.block, err = compileAll("block", block); err != nil {
		return nil, err
	}
	return v, nil
}

func compileAll(kind string, exps []string) ([]*regexp.Regexp, error) {
	var out []*regexp.Regexp
	for _, exp := range exps {
		exp = strings.TrimSpace(exp)
		if exp == "" {
			continue
		}
		re, err := regexp.Compile(exp)
		if err != nil {
			return nil, fmt.Errorf("invalid %s expression '%s': %w", kind, exp, err)
		}
		out = append(out, re)
	}
	return out, nil
}

func (v *validator) IsValid(text string) bool {
	for _, e := range v.block {
		if e.MatchString(text) {
			return false
		}
	}
	if len(v.allow) == 0 {
		return true
	}
	for _, e := range v.allow {
		if e.MatchString(text) {
			return true
		}
	}
	return false
}
