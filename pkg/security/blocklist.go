// Copyright 2025 Tom Barlow
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

// Package security implements the outbound URL blocklist used to reject
// server-side request forgery targets before any connection is opened.
package security

import (
	"errors"
	"fmt"
	"net/url"
)

// ErrBlocked is the sentinel matched by every BlockedError.
var ErrBlocked = errors.New("url blocked by security policy")

// BlockedError reports that a URL matched a configured block.
// It is a security rejection: callers must never retry it.
type BlockedError struct {
	// Block is the name of the matching block. Empty for unnamed blocks.
	Block string

	// URL is the rejected target.
	URL string
}

// Error implements the error interface.
func (e *BlockedError) Error() string {
	if e.Block != "" {
		return fmt.Sprintf("url %s is blocked by %q", e.URL, e.Block)
	}
	return fmt.Sprintf("url %s is blocked", e.URL)
}

// Is makes errors.Is(err, ErrBlocked) true for any BlockedError.
func (e *BlockedError) Is(target error) bool {
	return target == ErrBlocked
}

// IsUserVisible implements pkg/errors.UserVisibleError.
func (e *BlockedError) IsUserVisible() bool {
	return true
}

// UserMessage implements pkg/errors.UserVisibleError.
func (e *BlockedError) UserMessage() string {
	return e.Error()
}

// Suggestion implements pkg/errors.UserVisibleError.
func (e *BlockedError) Suggestion() string {
	return "The target is on the outbound blocklist. Use a different endpoint or ask an operator to review the blocklist"
}

// Block is a single blocklist rule.
// Implementations are immutable after construction and safe for concurrent use.
type Block interface {
	// Name returns the human-readable block name, or "" if the block is unnamed.
	Name() string

	// Matches reports whether the target should be rejected.
	// u is nil when rawURL could not be parsed.
	Matches(rawURL string, u *url.URL) bool
}

// Blocklist evaluates URLs against an ordered list of blocks.
type Blocklist struct {
	blocks []Block
}

// NewBlocklist creates a blocklist from the given blocks. Nil blocks are skipped.
func NewBlocklist(blocks ...Block) *Blocklist {
	bl := &Blocklist{blocks: make([]Block, 0, len(blocks))}
	for _, b := range blocks {
		if b != nil {
			bl.blocks = append(bl.blocks, b)
		}
	}
	return bl
}

// Validate returns a *BlockedError naming the first block that matches rawURL.
// A nil Blocklist allows everything.
func (bl *Blocklist) Validate(rawURL string) error {
	if bl == nil {
		return nil
	}

	// Unparseable URLs are still checked by the string-based blocks.
	u, err := url.Parse(rawURL)
	if err != nil {
		u = nil
	}

	for _, b := range bl.blocks {
		if b.Matches(rawURL, u) {
			return &BlockedError{Block: b.Name(), URL: rawURL}
		}
	}
	return nil
}

// Blocks returns a copy of the configured blocks.
func (bl *Blocklist) Blocks() []Block {
	if bl == nil {
		return nil
	}
	out := make([]Block, len(bl.blocks))
	copy(out, bl.blocks)
	return out
}

// Len returns the number of configured blocks.
func (bl *Blocklist) Len() int {
	if bl == nil {
		return 0
	}
	return len(bl.blocks)
}
