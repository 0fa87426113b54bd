// Package atc is the agentic tool creation pipeline: it mines traces
// for patterns, ideates deterministic tool specs, generates and tests
// code, and persists the survivors.
package atc

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"

	"seagent/internal/codegen"
	"seagent/internal/embedding"
	"seagent/internal/ideator"
	"seagent/internal/logging"
	"seagent/internal/patterns"
	"seagent/internal/traces"
)

// ErrNoTraces indicates the trace store had nothing to analyze.
var ErrNoTraces = errors.New("No traces found - cannot proceed with pattern analysis")

// Config tunes the pipeline.
type Config struct {
	// FetchLimit caps how many traces one cycle analyzes.
	FetchLimit int
	// OpFilter restricts analysis to traces whose operation name
	// contains this substring. Empty means all.
	OpFilter string
}

// DefaultConfig returns pipeline defaults.
func DefaultConfig() Config {
	return Config{FetchLimit: 50}
}

// Result is the outcome of one pipeline run.
type Result struct {
	CycleID           string                   `json:"cycle_id"`
	TracesAnalyzed    int                      `json:"traces_analyzed"`
	PatternsFound     int                      `json:"patterns_found"`
	SpecsIdeated      int                      `json:"specs_ideated"`
	DuplicatesSkipped int                      `json:"duplicates_skipped"`
	Tools             []*codegen.GeneratedTool `json:"tools"`
	ToolsSaved        int                      `json:"tools_saved"`
	Errors            []string                 `json:"errors,omitempty"`
	StartedAt         time.Time                `json:"started_at"`
	Duration          time.Duration            `json:"duration"`
}

// Pipeline wires the ATC stages together.
type Pipeline struct {
	fetcher    traces.Fetcher
	recognizer *patterns.Recognizer
	ideator    *ideator.Ideator
	generator  *codegen.Generator
	index      *embedding.SpecIndex
	config     Config
}

// New creates a Pipeline. index may be nil to skip spec deduplication.
func New(fetcher traces.Fetcher, r *patterns.Recognizer, i *ideator.Ideator, g *codegen.Generator, index *embedding.SpecIndex, config Config) *Pipeline {
	if config.FetchLimit <= 0 {
		config.FetchLimit = 50
	}
	return &Pipeline{
		fetcher:    fetcher,
		recognizer: r,
		ideator:    i,
		generator:  g,
		index:      index,
		config:     config,
	}
}

// Run executes one full pipeline cycle. Per-stage failures after pattern
// recognition are collected in Result.Errors rather than aborting.
func (p *Pipeline) Run(ctx context.Context) (*Result, error) {
	timer := logging.StartTimer(logging.CategoryCycle, "ATCPipeline")
	defer timer.StopWithInfo()

	result := &Result{
		CycleID:   uuid.NewString(),
		StartedAt: time.Now().UTC(),
	}
	defer func() { result.Duration = time.Since(result.StartedAt) }()

	batch, err := p.fetcher.Fetch(ctx, p.config.FetchLimit, p.config.OpFilter)
	if err != nil {
		return nil, fmt.Errorf("trace fetch failed: %w", err)
	}
	if len(batch) == 0 {
		return nil, ErrNoTraces
	}
	result.TracesAnalyzed = len(batch)

	pats, err := p.recognizer.Recognize(ctx, batch)
	if err != nil {
		return nil, fmt.Errorf("pattern recognition failed: %w", err)
	}
	result.PatternsFound = len(pats)
	if len(pats) == 0 {
		logging.Cycle("ATC cycle %s: no recurring patterns in %d traces", result.CycleID, len(batch))
		return result, nil
	}

	specs, ideateErrs := p.ideator.IdeateBatch(ctx, pats)
	for _, e := range ideateErrs {
		result.Errors = append(result.Errors, e.Error())
	}
	result.SpecsIdeated = len(specs)

	fresh := p.dedupe(ctx, specs, result)

	tools, genErrs := p.generator.GenerateBatch(ctx, fresh)
	for _, e := range genErrs {
		result.Errors = append(result.Errors, e.Error())
	}
	result.Tools = tools

	for _, tool := range tools {
		if tool.Status != codegen.StatusSaved {
			continue
		}
		result.ToolsSaved++
		if p.index != nil && tool.Spec != nil {
			if err := p.index.Add(ctx, tool.Name, specText(tool.Spec)); err != nil {
				result.Errors = append(result.Errors, fmt.Sprintf("index %s: %v", tool.Name, err))
			}
		}
	}

	logging.Cycle("ATC cycle %s: %d traces, %d patterns, %d specs, %d tools saved, %d errors",
		result.CycleID, result.TracesAnalyzed, result.PatternsFound, result.SpecsIdeated, result.ToolsSaved, len(result.Errors))
	return result, nil
}

// dedupe drops specs that are near-duplicates of already indexed tools.
func (p *Pipeline) dedupe(ctx context.Context, specs []*ideator.Specification, result *Result) []*ideator.Specification {
	if p.index == nil {
		return specs
	}

	fresh := make([]*ideator.Specification, 0, len(specs))
	for _, spec := range specs {
		match, err := p.index.FindDuplicate(ctx, specText(spec))
		if err != nil {
			result.Errors = append(result.Errors, fmt.Sprintf("dedup %s: %v", spec.Name, err))
			fresh = append(fresh, spec)
			continue
		}
		if match != nil {
			result.DuplicatesSkipped++
			logging.Cycle("Skipping spec %s: %.0f%% similar to existing tool %s", spec.Name, match.Similarity*100, match.Name)
			continue
		}
		fresh = append(fresh, spec)
	}
	return fresh
}

// specText is the canonical text embedded for deduplication.
func specText(spec *ideator.Specification) string {
	return strings.TrimSpace(spec.Description + "\n" + spec.InputSpec + "\n" + spec.OutputSpec)
}

// WriteSummary writes the result as indented JSON.
func WriteSummary(path string, result *Result) error {
	data, err := json.MarshalIndent(result, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal summary: %w", err)
	}
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return fmt.Errorf("failed to create summary directory: %w", err)
	}
	if err := os.WriteFile(path, data, 0644); err != nil {
		return fmt.Errorf("failed to write summary: %w", err)
	}
	return nil
}
