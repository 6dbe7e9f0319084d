// Package models defines the domain entities of the episodic memory engine:
// episodes, execution steps, patterns, heuristics, relationships, summaries,
// and the serialization contracts the storage tiers rely on.
package models

import "strings"

// TaskType enumerates the kinds of agent tasks an episode can record.
type TaskType string

const (
	// TaskTypeCodeGeneration is code generation work
	TaskTypeCodeGeneration TaskType = "code_generation"
	// TaskTypeDebugging is debugging work
	TaskTypeDebugging TaskType = "debugging"
	// TaskTypeRefactoring is refactoring work
	TaskTypeRefactoring TaskType = "refactoring"
	// TaskTypeTesting is testing work
	TaskTypeTesting TaskType = "testing"
	// TaskTypeAnalysis is analysis work
	TaskTypeAnalysis TaskType = "analysis"
	// TaskTypeDocumentation is documentation work
	TaskTypeDocumentation TaskType = "documentation"
)

// Valid reports whether the task type is one of the known values.
func (t TaskType) Valid() bool {
	switch t {
	case TaskTypeCodeGeneration, TaskTypeDebugging, TaskTypeRefactoring,
		TaskTypeTesting, TaskTypeAnalysis, TaskTypeDocumentation:
		return true
	}
	return false
}

// ComplexityLevel classifies how involved a task is.
type ComplexityLevel string

const (
	// ComplexitySimple is a simple task
	ComplexitySimple ComplexityLevel = "simple"
	// ComplexityModerate is a moderately involved task
	ComplexityModerate ComplexityLevel = "moderate"
	// ComplexityComplex is a complex task
	ComplexityComplex ComplexityLevel = "complex"
)

// TaskContext describes the environment a task executed in.
type TaskContext struct {
	Domain     string          `json:"domain"`
	Language   string          `json:"language,omitempty"`
	Framework  string          `json:"framework,omitempty"`
	Complexity ComplexityLevel `json:"complexity,omitempty"`
	Tags       []string        `json:"tags,omitempty"`
}

// Features returns the context as a flat feature set for Jaccard matching:
// domain, language, framework, and every tag, lowercased.
func (c TaskContext) Features() map[string]struct{} {
	features := make(map[string]struct{})
	add := func(s string) {
		s = strings.ToLower(strings.TrimSpace(s))
		if s != "" {
			features[s] = struct{}{}
		}
	}
	add(c.Domain)
	add(c.Language)
	add(c.Framework)
	for _, tag := range c.Tags {
		add(tag)
	}
	return features
}

// ContextMatch computes the Jaccard similarity of two contexts' feature sets.
// Two empty contexts match with 0.
func ContextMatch(a, b TaskContext) float64 {
	fa, fb := a.Features(), b.Features()
	if len(fa) == 0 || len(fb) == 0 {
		return 0
	}
	intersection := 0
	for f := range fa {
		if _, ok := fb[f]; ok {
			intersection++
		}
	}
	union := len(fa) + len(fb) - intersection
	if union == 0 {
		return 0
	}
	return float64(intersection) / float64(union)
}

// OutcomeStats aggregates observed outcomes of a decision point.
type OutcomeStats struct {
	SuccessCount int `json:"success_count"`
	FailureCount int `json:"failure_count"`
	TotalCount   int `json:"total_count"`
}

// SuccessRate returns the observed success ratio, 0 when nothing was recorded.
func (s OutcomeStats) SuccessRate() float64 {
	if s.TotalCount == 0 {
		return 0
	}
	return float64(s.SuccessCount) / float64(s.TotalCount)
}
