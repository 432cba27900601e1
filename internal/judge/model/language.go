package model

import (
	"sort"
	"strings"

	appErr "judgecore/pkg/errors"
)

// Language identifies a source language accepted by the judge.
type Language string

const (
	LanguagePython Language = "python"
	LanguageCpp    Language = "cpp"
	LanguageJava   Language = "java"
)

// LanguageTable maps languages to executor language ids.
type LanguageTable map[Language]int

// DefaultLanguageTable returns the Judge0 CE ids for the built-in languages.
func DefaultLanguageTable() LanguageTable {
	return LanguageTable{
		LanguagePython: 71,
		LanguageCpp:    54,
		LanguageJava:   62,
	}
}

// NormalizeLanguage lowercases and trims a language name.
func NormalizeLanguage(name string) Language {
	return Language(strings.ToLower(strings.TrimSpace(name)))
}

// Resolve returns the executor id for lang.
func (t LanguageTable) Resolve(lang Language) (int, error) {
	id, ok := t[lang]
	if !ok || id <= 0 {
		return 0, appErr.Newf(appErr.LanguageNotSupported, "language %q is not supported", string(lang)).
			WithDetail("language", string(lang))
	}
	return id, nil
}

// Languages returns the configured language names in sorted order.
func (t LanguageTable) Languages() []Language {
	out := make([]Language, 0, len(t))
	for lang := range t {
		out = append(out, lang)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}
