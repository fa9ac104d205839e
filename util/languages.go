package util

import (
	_ "embed"
	"fmt"

	"gopkg.in/yaml.v3"
)

//go:embed languages.yaml
var embeddedLanguages []byte

// Languages maps ISO 639-1 codes to display names. Mirrored videos only keep a
// language that appears here.
type Languages map[string]string

func LoadLanguages() (Languages, error) {
	langs := Languages{}
	if err := yaml.Unmarshal(embeddedLanguages, &langs); err != nil {
		return nil, fmt.Errorf("in language vocabulary: %w", err)
	}
	return langs, nil
}

func (l Languages) Has(code string) bool {
	_, ok := l[code]
	return ok
}

func (l Languages) Name(code string) string {
	return l[code]
}
