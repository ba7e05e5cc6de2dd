package ast

import (
	"path/filepath"
	"strings"
)

const (
	LanguageC    = "c"
	LanguageCPP  = "cpp"
	LanguageObjC = "objective-c"
)

// LanguageDetector maps file extensions to source languages.
type LanguageDetector struct {
	extensionMap map[string]string
}

// NewLanguageDetector seeds the C-family extensions.
func NewLanguageDetector() *LanguageDetector {
	ld := &LanguageDetector{extensionMap: make(map[string]string)}
	ld.extensionMap[".c"] = LanguageC
	for _, ext := range []string{".cc", ".cpp", ".cxx", ".c++", ".h", ".hh", ".hpp", ".hxx", ".inl", ".ipp"} {
		ld.extensionMap[ext] = LanguageCPP
	}
	ld.extensionMap[".m"] = LanguageObjC
	ld.extensionMap[".mm"] = LanguageObjC
	return ld
}

// Detect returns the language for path or "unknown".
func (ld *LanguageDetector) Detect(path string) string {
	if path == "" {
		return "unknown"
	}
	if lang, ok := ld.extensionMap[strings.ToLower(filepath.Ext(path))]; ok {
		return lang
	}
	return "unknown"
}

// IsHeader reports whether path looks like a header rather than a
// translation unit.
func (ld *LanguageDetector) IsHeader(path string) bool {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".h", ".hh", ".hpp", ".hxx", ".inl", ".ipp":
		return true
	}
	return false
}

// Extensions lists every extension the detector recognizes.
func (ld *LanguageDetector) Extensions() []string {
	exts := make([]string, 0, len(ld.extensionMap))
	for ext := range ld.extensionMap {
		exts = append(exts, ext)
	}
	return exts
}
