package analyzer

import (
	"strings"
	"unicode/utf8"

	"github.com/tidwall/gjson"
)

// Confidence scores assigned by ParseMetadata and the Mock.
const (
	confidenceParsed  = 0.9
	confidenceRawText = 0.7
	confidenceMock    = 0.85
)

// rawAbstractRunes caps the abstract built from a non-JSON reply.
const rawAbstractRunes = 200

// ParseMetadata turns a model reply into Metadata. Markdown code fences are
// stripped first. Fields are read leniently: a missing or mistyped field is
// left empty rather than failing the whole reply. A reply that is not JSON
// becomes an abstract made of its first 200 characters.
func ParseMetadata(content string) Metadata {
	body := stripFences(content)
	if !gjson.Valid(body) || !gjson.Parse(body).IsObject() {
		m := EmptyMetadata()
		m.Abstract = truncateRunes(strings.TrimSpace(content), rawAbstractRunes)
		m.ConfidenceScore = confidenceRawText
		return m
	}

	root := gjson.Parse(body)
	m := Metadata{
		Abstract:           root.Get("abstract").String(),
		Keywords:           stringList(root.Get("keywords")),
		Theories:           stringList(root.Get("theories")),
		ExperimentFlow:     root.Get("experiment_flow").String(),
		StatisticalMethods: stringList(root.Get("statistical_methods")),
		Conclusion:         root.Get("conclusion").String(),
		Authors:            stringList(root.Get("authors")),
		ConfidenceScore:    confidenceParsed,
	}
	root.Get("theories_used").ForEach(func(_, v gjson.Result) bool {
		if name := v.Get("name").String(); name != "" {
			m.TheoriesUsed = append(m.TheoriesUsed, Theory{Name: name, Description: v.Get("description").String()})
		}
		return true
	})
	root.Get("entities").ForEach(func(_, v gjson.Result) bool {
		if name := v.Get("name").String(); name != "" {
			freq := int(v.Get("frequency").Int())
			if freq < 1 {
				freq = 1
			}
			m.Entities = append(m.Entities, Entity{Name: name, Type: v.Get("type").String(), Frequency: freq})
		}
		return true
	})
	root.Get("entity_relations").ForEach(func(_, v gjson.Result) bool {
		src, dst := v.Get("source").String(), v.Get("target").String()
		if src != "" && dst != "" {
			m.EntityRelations = append(m.EntityRelations, Relation{Source: src, Target: dst, Relation: v.Get("relation").String()})
		}
		return true
	})
	m.normalize()
	return m
}

// stripFences removes a surrounding ```json or ``` fence.
func stripFences(s string) string {
	s = strings.TrimSpace(s)
	if !strings.HasPrefix(s, "```") {
		return s
	}
	s = strings.TrimPrefix(s, "```")
	s = strings.TrimPrefix(s, "json")
	s = strings.TrimSuffix(strings.TrimSpace(s), "```")
	return strings.TrimSpace(s)
}

// stringList accepts an array of strings; a bare string becomes a one-element list.
func stringList(v gjson.Result) []string {
	out := []string{}
	switch {
	case v.IsArray():
		for _, item := range v.Array() {
			if s := strings.TrimSpace(item.String()); s != "" {
				out = append(out, s)
			}
		}
	case v.Type == gjson.String:
		if s := strings.TrimSpace(v.String()); s != "" {
			out = append(out, s)
		}
	}
	return out
}

func truncateRunes(s string, n int) string {
	if utf8.RuneCountInString(s) <= n {
		return s
	}
	r := []rune(s)
	return string(r[:n])
}
