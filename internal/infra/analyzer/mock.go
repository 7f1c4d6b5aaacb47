package analyzer

import (
	"context"
	"regexp"
	"sort"
	"strings"
	"unicode"
)

// Mock derives metadata from the text itself with simple heuristics. It never
// fails and always returns the same result for the same text.
type Mock struct{}

// NewMock returns a Mock analyzer.
func NewMock() *Mock { return &Mock{} }

// Model implements Analyzer.
func (m *Mock) Model() string { return "mock" }

// Provider implements Analyzer.
func (m *Mock) Provider() string { return ProviderMock }

// Analyze implements Analyzer. Only a cancelled ctx produces an error.
func (m *Mock) Analyze(ctx context.Context, text string) (Metadata, error) {
	if err := ctx.Err(); err != nil {
		return Metadata{}, err
	}
	return MockMetadata(text), nil
}

// MockMetadata builds heuristic metadata for text with confidence 0.85.
func MockMetadata(text string) Metadata {
	tokens := tokenize(text)
	md := Metadata{
		Abstract:           mockAbstract(text),
		Keywords:           mockKeywords(tokens),
		Theories:           mockTheories(text),
		ExperimentFlow:     mockExperimentFlow(text),
		StatisticalMethods: mockStatisticalMethods(text),
		Conclusion:         mockConclusion(text),
		ConfidenceScore:    confidenceMock,
		Authors:            mockAuthors(text),
		TheoriesUsed:       mockTheoriesUsed(text),
		Entities:           mockEntities(tokens),
	}
	md.normalize()
	return md
}

const sentenceSep = "。"

func mockAbstract(text string) string {
	sentences := strings.Split(text, sentenceSep)
	if len(sentences) >= 2 {
		return sentences[0] + sentenceSep + sentences[1] + sentenceSep
	}
	if len([]rune(text)) > 200 {
		return truncateRunes(text, 200) + "..."
	}
	return text
}

var keywordStopWords = map[string]bool{
	"的": true, "了": true, "在": true, "是": true, "有": true, "和": true, "与": true, "或": true,
	"但": true, "而": true, "就": true, "都": true, "要": true, "也": true, "还": true, "又": true,
	"再": true, "更": true, "很": true, "非常": true, "可以": true, "可能": true, "应该": true, "需要": true,
}

var entityStopWords = map[string]bool{
	"这个": true, "那个": true, "这些": true, "那些": true,
	"我们": true, "他们": true, "她们": true, "它们": true,
}

// tokenize splits text into Latin words and Han bigrams. A bigram that
// contains a single-character stop word is dropped.
func tokenize(text string) []string {
	var tokens []string
	var latin []rune
	var han []rune

	flushLatin := func() {
		if len(latin) > 0 {
			tokens = append(tokens, strings.ToLower(string(latin)))
			latin = latin[:0]
		}
	}
	flushHan := func() {
		for i := 0; i+1 < len(han); i++ {
			if keywordStopWords[string(han[i])] || keywordStopWords[string(han[i+1])] {
				continue
			}
			tokens = append(tokens, string(han[i:i+2]))
		}
		han = han[:0]
	}

	for _, r := range text {
		switch {
		case unicode.Is(unicode.Han, r):
			flushLatin()
			han = append(han, r)
		case unicode.IsLetter(r) || unicode.IsDigit(r):
			flushHan()
			latin = append(latin, r)
		default:
			flushLatin()
			flushHan()
		}
	}
	flushLatin()
	flushHan()
	return tokens
}

type wordCount struct {
	word  string
	count int
}

// countWords returns the tokens accepted by keep, most frequent first. Ties
// keep the order of first appearance.
func countWords(tokens []string, keep func(string) bool) []wordCount {
	index := map[string]int{}
	var counts []wordCount
	for _, t := range tokens {
		if !keep(t) {
			continue
		}
		if i, ok := index[t]; ok {
			counts[i].count++
			continue
		}
		index[t] = len(counts)
		counts = append(counts, wordCount{word: t, count: 1})
	}
	sort.SliceStable(counts, func(i, j int) bool {
		return counts[i].count > counts[j].count
	})
	return counts
}

func isCandidate(w string) bool {
	if len([]rune(w)) < 2 || keywordStopWords[w] {
		return false
	}
	return strings.IndexFunc(w, func(r rune) bool { return !unicode.IsDigit(r) }) >= 0
}

func mockKeywords(tokens []string) []string {
	out := []string{}
	for _, wc := range countWords(tokens, isCandidate) {
		if len(out) == 8 {
			break
		}
		out = append(out, wc.word)
	}
	return out
}

var theoryPatterns = []*regexp.Regexp{
	regexp.MustCompile(`根据\s*([^，。；]+?)\s*理论`),
	regexp.MustCompile(`基于\s*([^，。；]+?)\s*方法`),
	regexp.MustCompile(`采用\s*([^，。；]+?)\s*模型`),
	regexp.MustCompile(`参考\s*([^，。；]+?)\s*研究`),
}

func mockTheories(text string) []string {
	var found []string
	for _, re := range theoryPatterns {
		for _, m := range re.FindAllStringSubmatch(text, -1) {
			found = append(found, m[1])
		}
	}
	return limit(dedupe(found), 5)
}

var flowIndicators = []string{"步骤", "流程", "过程", "实验", "测试", "方法", "procedure", "method"}

func mockExperimentFlow(text string) string {
	var flow []string
	for _, s := range strings.Split(text, sentenceSep) {
		for _, ind := range flowIndicators {
			if strings.Contains(s, ind) {
				flow = append(flow, strings.TrimSpace(s))
				break
			}
		}
	}
	if len(flow) == 0 {
		return "未检测到明确的实验流程描述。"
	}
	return strings.Join(limit(flow, 3), sentenceSep) + sentenceSep
}

var statisticalMethods = []string{
	"回归分析", "方差分析", "卡方检验", "t检验", "相关性分析",
	"因子分析", "聚类分析", "主成分分析", "判别分析",
	"logistic回归", "线性回归", "多元回归",
}

func mockStatisticalMethods(text string) []string {
	out := []string{}
	for _, m := range statisticalMethods {
		if strings.Contains(text, m) {
			out = append(out, m)
		}
	}
	return out
}

func mockConclusion(text string) string {
	sentences := strings.Split(text, sentenceSep)
	if len(sentences) >= 3 {
		return strings.Join(sentences[len(sentences)-3:], sentenceSep) + sentenceSep
	}
	r := []rune(text)
	if len(r) > 300 {
		return string(r[len(r)-300:]) + "..."
	}
	return text
}

var authorPatterns = []*regexp.Regexp{
	regexp.MustCompile(`作者[：:]\s*([^，。\n]+)`),
	regexp.MustCompile(`著者[：:]\s*([^，。\n]+)`),
	regexp.MustCompile(`撰写[：:]\s*([^，。\n]+)`),
	regexp.MustCompile(`([^\s，。]+?)\s*(?:等\s*)?(?:著|编|译)`),
}

// authorWindow is how many leading characters are searched for author lines.
const authorWindow = 500

func mockAuthors(text string) []string {
	head := truncateRunes(text, authorWindow)
	var found []string
	for _, re := range authorPatterns {
		for _, m := range re.FindAllStringSubmatch(head, -1) {
			a := strings.TrimSpace(m[1])
			if a != "" && len([]rune(a)) < 20 {
				found = append(found, a)
			}
		}
	}
	return limit(dedupe(found), 5)
}

var theoryKeywords = []string{
	"机器学习", "深度学习", "神经网络", "决策树", "支持向量机",
	"回归分析", "聚类分析", "因子分析", "主成分分析",
	"博弈论", "系统论", "控制论", "信息论",
	"社会网络分析", "内容分析", "扎根理论",
	"现象学", "实证主义", "建构主义",
}

func mockTheoriesUsed(text string) []Theory {
	out := []Theory{}
	for _, t := range theoryKeywords {
		if len(out) == 10 {
			break
		}
		if strings.Contains(text, t) {
			out = append(out, Theory{Name: t, Description: "文档中使用了" + t + "相关理论或方法"})
		}
	}
	return out
}

func mockEntities(tokens []string) []Entity {
	keep := func(w string) bool { return isCandidate(w) && !entityStopWords[w] }
	out := []Entity{}
	for _, wc := range countWords(tokens, keep) {
		if wc.count < 2 || len(out) == 15 {
			break
		}
		out = append(out, Entity{Name: wc.word, Type: entityType(wc.word), Frequency: wc.count})
	}
	return out
}

func entityType(word string) string {
	switch {
	case containsAny(word, "分析", "模型", "方法", "算法", "技术"):
		return "方法"
	case containsAny(word, "大学", "学院", "研究所", "公司", "机构", "中心"):
		return "机构"
	case containsAny(word, "理论", "概念", "原理", "机制"):
		return "概念"
	default:
		return "术语"
	}
}

func containsAny(s string, subs ...string) bool {
	for _, sub := range subs {
		if strings.Contains(s, sub) {
			return true
		}
	}
	return false
}

func dedupe(in []string) []string {
	seen := make(map[string]bool, len(in))
	out := []string{}
	for _, s := range in {
		if !seen[s] {
			seen[s] = true
			out = append(out, s)
		}
	}
	return out
}

func limit[T any](in []T, n int) []T {
	if len(in) > n {
		return in[:n]
	}
	return in
}
