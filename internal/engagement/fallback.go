package engagement

import (
	_ "embed"
	"fmt"
	"strings"
	"time"

	"github.com/osteele/liquid"
	"golang.org/x/text/language"
	"gopkg.in/yaml.v3"

	"tasseo/internal/types"
)

//go:embed fallback/messages.yaml
var fallbackYAML []byte

// supportedLanguages is ordered by preference; the first entry is the default.
var supportedLanguages = []language.Tag{language.Russian, language.English}

// FallbackPool holds the pre-parsed static message templates.
type FallbackPool struct {
	matcher   language.Matcher
	templates map[types.MessageType]map[string][]*liquid.Template
}

// LoadFallbackPool parses the embedded pool. Every message type must have a
// non-empty list for every supported language.
func LoadFallbackPool() (*FallbackPool, error) {
	return parseFallbackPool(fallbackYAML)
}

func parseFallbackPool(src []byte) (*FallbackPool, error) {
	var raw map[types.MessageType]map[string][]string
	if err := yaml.Unmarshal(src, &raw); err != nil {
		return nil, fmt.Errorf("fallback pool: %w", err)
	}

	engine := liquid.NewEngine()
	pool := &FallbackPool{
		matcher:   language.NewMatcher(supportedLanguages),
		templates: make(map[types.MessageType]map[string][]*liquid.Template, len(raw)),
	}
	for mt, byLang := range raw {
		if !mt.Valid() {
			return nil, fmt.Errorf("fallback pool: unknown message type %q", mt)
		}
		pool.templates[mt] = make(map[string][]*liquid.Template, len(byLang))
		for _, tag := range supportedLanguages {
			lang := baseOf(tag)
			entries := byLang[lang]
			if len(entries) == 0 {
				return nil, fmt.Errorf("fallback pool: %s has no %q entries", mt, lang)
			}
			for i, src := range entries {
				tpl, err := engine.ParseString(src)
				if err != nil {
					return nil, fmt.Errorf("fallback pool: %s/%s[%d]: %w", mt, lang, i, err)
				}
				pool.templates[mt][lang] = append(pool.templates[mt][lang], tpl)
			}
		}
	}
	return pool, nil
}

// Render returns the pool entry for mt picked by the day of year of at, in
// the language closest to lang, with name substituted.
func (p *FallbackPool) Render(mt types.MessageType, name, lang string, at time.Time) (string, error) {
	byLang, ok := p.templates[mt]
	if !ok {
		return "", types.NewAppError(types.ErrCodeValidationMessageType,
			fmt.Sprintf("no fallback pool for %q", mt), nil)
	}
	entries := byLang[p.match(lang)]
	tpl := entries[at.YearDay()%len(entries)]

	out, err := tpl.RenderString(map[string]any{"name": strings.TrimSpace(name)})
	if err != nil {
		return "", fmt.Errorf("render %s fallback: %w", mt, err)
	}
	return out, nil
}

func (p *FallbackPool) match(lang string) string {
	tag, err := language.Parse(lang)
	if err != nil {
		return baseOf(supportedLanguages[0])
	}
	matched, _, _ := p.matcher.Match(tag)
	return baseOf(matched)
}

func baseOf(tag language.Tag) string {
	base, _ := tag.Base()
	return base.String()
}
