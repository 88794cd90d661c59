package i18n

import (
	"encoding/json"
	"fmt"
	"net/http"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
)

var (
	mu           sync.RWMutex
	translations = make(map[string]map[string]string)
)

var DefaultLang = "en"

// LangCookie lets a visitor pin a language over Accept-Language.
const LangCookie = "lang"

// LoadTranslations reads every <lang>.json file in dir. The default language
// must be present.
func LoadTranslations(dir string) error {
	files, err := filepath.Glob(filepath.Join(dir, "*.json"))
	if err != nil {
		return err
	}

	loaded := make(map[string]map[string]string, len(files))
	for _, file := range files {
		data, err := os.ReadFile(file)
		if err != nil {
			return err
		}
		var t map[string]string
		if err := json.Unmarshal(data, &t); err != nil {
			return fmt.Errorf("%s: %w", filepath.Base(file), err)
		}
		loaded[strings.TrimSuffix(filepath.Base(file), ".json")] = t
	}
	if _, ok := loaded[DefaultLang]; !ok {
		return fmt.Errorf("no %s.json in %s", DefaultLang, dir)
	}

	mu.Lock()
	translations = loaded
	mu.Unlock()
	return nil
}

// Languages returns the loaded language codes in sorted order.
func Languages() []string {
	mu.RLock()
	defer mu.RUnlock()
	langs := make([]string, 0, len(translations))
	for lang := range translations {
		langs = append(langs, lang)
	}
	sort.Strings(langs)
	return langs
}

func has(lang string) bool {
	mu.RLock()
	defer mu.RUnlock()
	_, ok := translations[lang]
	return ok
}

func T(lang, key string) string {
	mu.RLock()
	t, ok := translations[lang]
	var val string
	if ok {
		val, ok = t[key]
	}
	mu.RUnlock()
	if ok {
		return val
	}
	if lang != DefaultLang {
		return T(DefaultLang, key)
	}
	return key
}

func DetectLanguage(r *http.Request) string {
	if c, err := r.Cookie(LangCookie); err == nil && has(c.Value) {
		return c.Value
	}

	// Example: fr-CH, fr;q=0.9, en;q=0.8, de;q=0.7, *;q=0.5
	for _, part := range strings.Split(r.Header.Get("Accept-Language"), ",") {
		lang := strings.TrimSpace(strings.Split(part, ";")[0])
		if len(lang) >= 2 && has(strings.ToLower(lang[:2])) {
			return strings.ToLower(lang[:2])
		}
	}

	return DefaultLang
}
