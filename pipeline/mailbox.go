// Package pipeline assembles the concrete newsletter-digest pipeline: the
// mailbox source, the four tools (fetch, classify, summarize, render) with
// their manifests, and the wiring to the dispatch loop.
package pipeline

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
)

// Email is a single mailbox item.
type Email struct {
	Subject string `json:"subject"`
	From    string `json:"from"`
	Content string `json:"content"`
}

// MailSource retrieves emails from a mailbox. The wire protocol behind a
// source is its own concern; the pipeline sees only items.
type MailSource interface {
	Fetch(ctx context.Context, limit int) ([]Email, error)
}

// FileSource reads emails from a local JSON file holding an array of
// {subject, from, content} objects. It exists for local runs and tests;
// a hosted deployment substitutes a provider-backed source.
type FileSource struct {
	Path string
}

// Fetch returns up to limit emails from the file, in file order.
func (s *FileSource) Fetch(ctx context.Context, limit int) ([]Email, error) {
	if s.Path == "" {
		return nil, errors.New("mailbox: file source path is required")
	}
	data, err := os.ReadFile(s.Path)
	if err != nil {
		return nil, fmt.Errorf("mailbox: reading %s: %w", s.Path, err)
	}

	var emails []Email
	if err := json.Unmarshal(data, &emails); err != nil {
		return nil, fmt.Errorf("mailbox: parsing %s: %w", s.Path, err)
	}

	if limit > 0 && len(emails) > limit {
		emails = emails[:limit]
	}
	return emails, nil
}

// StaticSource serves a fixed set of emails. Useful for tests and demos.
type StaticSource struct {
	Emails []Email
}

// Fetch returns up to limit of the configured emails.
func (s *StaticSource) Fetch(ctx context.Context, limit int) ([]Email, error) {
	emails := s.Emails
	if limit > 0 && len(emails) > limit {
		emails = emails[:limit]
	}
	out := make([]Email, len(emails))
	copy(out, emails)
	return out, nil
}
