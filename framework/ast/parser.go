package ast

import (
	"context"
	"errors"
	"fmt"
	"sort"
)

// ErrNoParser is returned when no parser is registered for a language.
var ErrNoParser = errors.New("no parser registered")

// Parser turns a source file plus compiler arguments into a cursor tree.
type Parser interface {
	Parse(ctx context.Context, path string, args []string) (*TranslationUnit, error)
}

// ParseError wraps a parser failure for one file.
type ParseError struct {
	Path string
	Err  error
}

func (e *ParseError) Error() string {
	return fmt.Sprintf("parse %s: %v", e.Path, e.Err)
}

func (e *ParseError) Unwrap() error { return e.Err }

// ParserRegistry keeps parser implementations keyed by language.
type ParserRegistry struct {
	parsers  map[string]Parser
	detector *LanguageDetector
}

// NewParserRegistry constructs a registry.
func NewParserRegistry() *ParserRegistry {
	return &ParserRegistry{
		parsers:  make(map[string]Parser),
		detector: NewLanguageDetector(),
	}
}

// Register adds a parser for the given languages.
func (pr *ParserRegistry) Register(parser Parser, languages ...string) {
	if parser == nil {
		return
	}
	for _, lang := range languages {
		pr.parsers[lang] = parser
	}
}

// GetParser retrieves a parser by language identifier.
func (pr *ParserRegistry) GetParser(language string) (Parser, bool) {
	parser, ok := pr.parsers[language]
	return parser, ok
}

// ForPath picks the parser matching the file's detected language.
func (pr *ParserRegistry) ForPath(path string) (Parser, error) {
	lang := pr.detector.Detect(path)
	parser, ok := pr.parsers[lang]
	if !ok {
		return nil, fmt.Errorf("%w for %s (%s)", ErrNoParser, path, lang)
	}
	return parser, nil
}

// Parse dispatches to the parser for path.
func (pr *ParserRegistry) Parse(ctx context.Context, path string, args []string) (*TranslationUnit, error) {
	parser, err := pr.ForPath(path)
	if err != nil {
		return nil, err
	}
	return parser.Parse(ctx, path, args)
}

// SupportedLanguages returns all registered languages.
func (pr *ParserRegistry) SupportedLanguages() []string {
	langs := make([]string, 0, len(pr.parsers))
	for lang := range pr.parsers {
		langs = append(langs, lang)
	}
	sort.Strings(langs)
	return langs
}
