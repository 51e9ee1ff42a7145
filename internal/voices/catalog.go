// Package voices lists synthesis voices and narrows them to the ones offered
// to readers.
package voices

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"sort"
	"strings"
	"time"
)

type Voice struct {
	Name          string   `json:"name"`
	LanguageCodes []string `json:"languageCodes"`
	Gender        string   `json:"ssmlGender"`
}

// PrimaryLanguage is the first advertised language code.
func (v Voice) PrimaryLanguage() string {
	if len(v.LanguageCodes) == 0 {
		return ""
	}
	return v.LanguageCodes[0]
}

// Label is the display text for a voice option.
func (v Voice) Label() string {
	gender := v.Gender
	if gender == "" || strings.EqualFold(gender, "SSML_VOICE_GENDER_UNSPECIFIED") {
		gender = "Neutral"
	}
	return fmt.Sprintf("%s (%s)", v.Name, gender)
}

// Catalog lists available voices.
type Catalog interface {
	List(ctx context.Context) ([]Voice, error)
}

type httpCatalog struct {
	endpoint string
	apiKey   string
	client   *http.Client
}

func NewHTTPCatalog(endpoint, apiKey string, timeout time.Duration) Catalog {
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &httpCatalog{endpoint: endpoint, apiKey: apiKey, client: &http.Client{Timeout: timeout}}
}

type listResponse struct {
	Voices []Voice `json:"voices"`
}

func (c *httpCatalog) List(ctx context.Context) ([]Voice, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.endpoint, nil)
	if err != nil {
		return nil, err
	}
	if c.apiKey != "" {
		req.Header.Set("X-API-Key", c.apiKey)
	}
	resp, err := c.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("fetch voices: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 300 {
		excerpt, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return nil, fmt.Errorf("voice catalog returned %s: %s", resp.Status, strings.TrimSpace(string(excerpt)))
	}
	var out listResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return nil, fmt.Errorf("decode voices: %w", err)
	}
	return out.Voices, nil
}

// Policy narrows the catalog. Empty fields match everything.
type Policy struct {
	LanguagePrefix string
	NamePattern    string
}

func (p Policy) Allows(v Voice) bool {
	if p.NamePattern != "" && !strings.Contains(v.Name, p.NamePattern) {
		return false
	}
	if p.LanguagePrefix == "" {
		return true
	}
	for _, code := range v.LanguageCodes {
		if strings.HasPrefix(code, p.LanguagePrefix) {
			return true
		}
	}
	return false
}

// Filter keeps allowed voices in catalog order.
func (p Policy) Filter(voices []Voice) []Voice {
	var out []Voice
	for _, v := range voices {
		if p.Allows(v) {
			out = append(out, v)
		}
	}
	return out
}

// Group is the voices sharing one primary language.
type Group struct {
	Language string
	Voices   []Voice
}

// GroupByPrimaryLanguage buckets voices by their first language code, with
// groups sorted by language and voices kept in input order.
func GroupByPrimaryLanguage(voices []Voice) []Group {
	index := map[string]int{}
	var groups []Group
	for _, v := range voices {
		lang := v.PrimaryLanguage()
		if lang == "" {
			continue
		}
		i, ok := index[lang]
		if !ok {
			i = len(groups)
			index[lang] = i
			groups = append(groups, Group{Language: lang})
		}
		groups[i].Voices = append(groups[i].Voices, v)
	}
	sort.Slice(groups, func(i, j int) bool { return groups[i].Language < groups[j].Language })
	return groups
}
