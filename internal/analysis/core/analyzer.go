package core

import (
	"context"

	"go.uber.org/zap"
)

// AnalyzerType distinguishes analyzers that stay in-process from those that touch the network.
type AnalyzerType string

const (
	// TypeStatic analyzers only inspect the URL text.
	TypeStatic AnalyzerType = "STATIC"
	// TypeNetwork analyzers perform DNS or HTTP calls and own their timeouts.
	TypeNetwork AnalyzerType = "NETWORK"
	// TypeExternal analyzers fold in a verdict from an outside service.
	TypeExternal AnalyzerType = "EXTERNAL"
)

// Analyzer is the contract every scoring signal implements. Analyzers must
// convert their own recoverable failures into a Result; a returned error means
// the analyzer could not produce evidence at all.
type Analyzer interface {
	Name() string
	Description() string
	Type() AnalyzerType
	Analyze(ctx context.Context, target *Target) (*Result, error)
}

// BaseAnalyzer provides the name, description and type plumbing. It is meant
// to be embedded in concrete analyzers.
type BaseAnalyzer struct {
	name         string
	description  string
	analyzerType AnalyzerType
	Logger       *zap.Logger
}

// NewBaseAnalyzer creates a BaseAnalyzer with a named sub-logger.
func NewBaseAnalyzer(name, description string, analyzerType AnalyzerType, logger *zap.Logger) *BaseAnalyzer {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &BaseAnalyzer{
		name:         name,
		description:  description,
		analyzerType: analyzerType,
		Logger:       logger.Named(name),
	}
}

// Name returns the analyzer's name.
func (b *BaseAnalyzer) Name() string { return b.name }

// Description returns the analyzer's description.
func (b *BaseAnalyzer) Description() string { return b.description }

// Type returns the analyzer's type.
func (b *BaseAnalyzer) Type() AnalyzerType { return b.analyzerType }
