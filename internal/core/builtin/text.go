package builtin

import (
	"regexp"
	"sort"
	"strings"
	"unicode"
	"unicode/utf8"

	"golang.org/x/text/cases"
	"golang.org/x/text/language"
)

func init() {
	register("echo", echo)
	register("word_counter", wordCounter)
	register("character_counter", characterCounter)
	register("text_reverser", textReverser)
	register("text_case_converter", textCaseConverter)
	register("palindrome_checker", palindromeChecker)
	register("vowel_counter", vowelCounter)
}

const defaultTopWords = 10

var (
	wordRe     = regexp.MustCompile(`\w+`)
	nonAlnumRe = regexp.MustCompile(`[^a-zA-Z0-9]`)
)

func echo(p Payload) (map[string]any, error) {
	return map[string]any{"success": true, "echo": map[string]any(p)}, nil
}

func wordCounter(p Payload) (map[string]any, error) {
	topN, err := p.Int("top_n", defaultTopWords)
	if err != nil {
		return nil, err
	}
	words := wordRe.FindAllString(strings.ToLower(p.String("text", "")), -1)

	counts := map[string]int{}
	var order []string
	for _, w := range words {
		if counts[w] == 0 {
			order = append(order, w)
		}
		counts[w]++
	}
	// ties keep first-seen order
	sort.SliceStable(order, func(i, j int) bool { return counts[order[i]] > counts[order[j]] })
	if topN >= 0 && int(topN) < len(order) {
		order = order[:topN]
	}
	top := make(map[string]int, len(order))
	for _, w := range order {
		top[w] = counts[w]
	}

	return map[string]any{
		"success":      true,
		"total_words":  len(words),
		"unique_words": len(counts),
		"top_words":    top,
	}, nil
}

func characterCounter(p Payload) (map[string]any, error) {
	text := p.String("text", "")
	return map[string]any{
		"success":              true,
		"characters":           utf8.RuneCountInString(text),
		"characters_no_spaces": utf8.RuneCountInString(strings.ReplaceAll(text, " ", "")),
		"words":                len(strings.Fields(text)),
		"sentences":            countNonBlank(strings.Split(text, ".")),
		"paragraphs":           countNonBlank(strings.Split(text, "\n\n")),
	}, nil
}

func countNonBlank(parts []string) int {
	n := 0
	for _, s := range parts {
		if strings.TrimSpace(s) != "" {
			n++
		}
	}
	return n
}

func textReverser(p Payload) (map[string]any, error) {
	text := p.String("text", "")
	return map[string]any{"success": true, "original": text, "reversed": reverse(text)}, nil
}

func reverse(s string) string {
	r := []rune(s)
	for i, j := 0, len(r)-1; i < j; i, j = i+1, j-1 {
		r[i], r[j] = r[j], r[i]
	}
	return string(r)
}

func textCaseConverter(p Payload) (map[string]any, error) {
	text := p.String("text", "")
	caseType := p.String("case", "upper")

	converted := text
	switch caseType {
	case "upper":
		converted = strings.ToUpper(text)
	case "lower":
		converted = strings.ToLower(text)
	case "title":
		converted = cases.Title(language.Und).String(text)
	case "capitalize":
		converted = capitalize(text)
	}
	return map[string]any{
		"success":   true,
		"original":  text,
		"converted": converted,
		"case_type": caseType,
	}, nil
}

func capitalize(s string) string {
	r, size := utf8.DecodeRuneInString(s)
	if size == 0 {
		return s
	}
	return string(unicode.ToUpper(r)) + strings.ToLower(s[size:])
}

func palindromeChecker(p Payload) (map[string]any, error) {
	text := p.String("text", "")
	cleaned := strings.ToLower(nonAlnumRe.ReplaceAllString(text, ""))
	return map[string]any{
		"success":       true,
		"text":          text,
		"is_palindrome": cleaned == reverse(cleaned),
	}, nil
}

func vowelCounter(p Payload) (map[string]any, error) {
	var vowels, consonants int
	for _, r := range strings.ToLower(p.String("text", "")) {
		switch {
		case strings.ContainsRune("aeiou", r):
			vowels++
		case unicode.IsLetter(r):
			consonants++
		}
	}
	return map[string]any{
		"success":       true,
		"vowels":        vowels,
		"consonants":    consonants,
		"total_letters": vowels + consonants,
	}, nil
}
