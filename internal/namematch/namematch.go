// Package namematch compares person names the way West-African identity
// documents and mobile-money profiles write them: accent-insensitive,
// tolerant of swapped given/family names, honorifics, and particles.
package namematch

import (
	"fmt"
	"math"
	"regexp"
	"strings"
	"unicode"

	"golang.org/x/text/runes"
	"golang.org/x/text/transform"
	"golang.org/x/text/unicode/norm"

	"github.com/sells-group/phonetrust/internal/model"
)

const (
	// tokenThreshold is the minimum Jaro-Winkler similarity for two tokens
	// to be aligned.
	tokenThreshold = 0.70

	winklerScale     = 0.1
	winklerMaxPrefix = 4

	fullStringWeight = 0.4
	tokenMeanWeight  = 0.4
	coverageWeight   = 0.2
)

// honorifics are stripped only as whole leading tokens. Multi-word titles
// are listed with a single space.
var honorifics = []string{
	"el hadj", "el hadji", "el hadja",
	"mr", "mme", "mlle", "m", "mrs", "ms", "miss",
	"dr", "pr", "prof", "me", "maitre",
	"elhadj", "elhadji", "hadj", "hadja", "hadji",
	"cheikh", "cheick", "imam", "serigne", "sheikh",
	"monsieur", "madame", "mademoiselle", "docteur",
}

// particles are dropped when they appear as standalone tokens.
var particles = map[string]bool{
	"de": true, "du": true, "des": true, "la": true, "le": true,
	"el": true, "al": true, "ben": true, "ibn": true, "bint": true,
	"ould": true, "dit": true, "dite": true, "epouse": true, "ep": true,
	"van": true, "von": true, "da": true, "dos": true,
}

// Result is the outcome of comparing two names.
type Result struct {
	Score      int              `json:"score"`
	Confidence model.Confidence `json:"confidence"`
	Details    []string         `json:"details"`
}

// Match compares two person names and returns a score in [0,100]. It is pure
// and deterministic; Match(a, b) and Match(b, a) return the same score.
func Match(name1, name2 string) Result {
	n1, n2 := Normalize(name1), Normalize(name2)
	t1, t2 := Tokenize(n1), Tokenize(n2)

	if len(t1) == 0 || len(t2) == 0 {
		return Result{
			Score:      0,
			Confidence: model.ConfidenceNone,
			Details:    []string{"empty name after normalization"},
		}
	}

	// Canonical order keeps the greedy alignment symmetric.
	if n2 < n1 {
		n1, n2 = n2, n1
		t1, t2 = t2, t1
	}

	var details []string
	full := JaroWinkler(n1, n2)
	details = append(details, fmt.Sprintf("full name similarity %.2f", full))

	pairs := alignTokens(t1, t2)
	var sum float64
	for _, p := range pairs {
		sum += p.score
		details = append(details, fmt.Sprintf("token %q ~ %q (%.2f)", p.a, p.b, p.score))
	}
	mean := 0.0
	if len(pairs) > 0 {
		mean = sum / float64(len(pairs))
	}
	coverage := float64(len(pairs)) / float64(max(len(t1), len(t2)))
	details = append(details, fmt.Sprintf("%d of %d tokens aligned", len(pairs), max(len(t1), len(t2))))

	score := int(math.Round(100 * (fullStringWeight*full + tokenMeanWeight*mean + coverageWeight*coverage)))
	score = min(max(score, 0), 100)

	return Result{
		Score:      score,
		Confidence: confidenceFor(score),
		Details:    details,
	}
}

func confidenceFor(score int) model.Confidence {
	switch {
	case score >= 90:
		return model.ConfidenceHigh
	case score >= 75:
		return model.ConfidenceMedium
	case score >= 60:
		return model.ConfidenceLow
	default:
		return model.ConfidenceNone
	}
}

var stripMarks = transform.Chain(norm.NFD, runes.Remove(runes.In(unicode.Mn)), norm.NFC)

// elidedRe finds the elided M' and N' that open names such as M'Bahia or
// N'Guessan. The letter belongs to the name, not to an honorific.
var elidedRe = regexp.MustCompile("(^|[\\s-])([mn])['’`]\\s*(\\pL)")

// Normalize lowercases, strips diacritics, joins elided M'/N' prefixes to
// their name, replaces other apostrophes and hyphens with spaces, collapses
// whitespace and removes leading honorifics.
func Normalize(name string) string {
	s, _, err := transform.String(stripMarks, strings.ToLower(name))
	if err != nil {
		s = strings.ToLower(name)
	}
	s = elidedRe.ReplaceAllString(s, "${1}${2}${3}")

	s = strings.Map(func(r rune) rune {
		switch r {
		case '\'', '’', '`', '-', '‐', '–', '.', ',':
			return ' '
		}
		return r
	}, s)
	s = strings.Join(strings.Fields(s), " ")

	for {
		stripped := false
		for _, h := range honorifics {
			if s == h {
				break
			}
			if strings.HasPrefix(s, h+" ") {
				s = strings.TrimSpace(s[len(h):])
				stripped = true
				break
			}
		}
		if !stripped {
			return s
		}
	}
}

// Tokenize splits a normalized name into words, dropping standalone
// particles.
func Tokenize(normalized string) []string {
	var tokens []string
	for _, f := range strings.Fields(normalized) {
		if particles[f] {
			continue
		}
		tokens = append(tokens, f)
	}
	return tokens
}

type tokenPair struct {
	a, b  string
	score float64
}

// alignTokens greedily pairs each token of a with the most similar unused
// token of b.
func alignTokens(a, b []string) []tokenPair {
	used := make([]bool, len(b))
	var pairs []tokenPair
	for _, ta := range a {
		best, bestIdx := 0.0, -1
		for j, tb := range b {
			if used[j] {
				continue
			}
			if s := JaroWinkler(ta, tb); s > best {
				best, bestIdx = s, j
			}
		}
		if bestIdx >= 0 && best > tokenThreshold {
			used[bestIdx] = true
			pairs = append(pairs, tokenPair{a: ta, b: b[bestIdx], score: best})
		}
	}
	return pairs
}

// Jaro returns the Jaro similarity of two strings in [0,1].
func Jaro(s1, s2 string) float64 {
	a, b := []rune(s1), []rune(s2)
	if len(a) == 0 && len(b) == 0 {
		return 1
	}
	if len(a) == 0 || len(b) == 0 {
		return 0
	}

	window := max(max(len(a), len(b))/2-1, 0)
	matchedA := make([]bool, len(a))
	matchedB := make([]bool, len(b))

	matches := 0
	for i := range a {
		lo := max(0, i-window)
		hi := min(i+window+1, len(b))
		for j := lo; j < hi; j++ {
			if matchedB[j] || a[i] != b[j] {
				continue
			}
			matchedA[i], matchedB[j] = true, true
			matches++
			break
		}
	}
	if matches == 0 {
		return 0
	}

	transpositions, k := 0, 0
	for i := range a {
		if !matchedA[i] {
			continue
		}
		for !matchedB[k] {
			k++
		}
		if a[i] != b[k] {
			transpositions++
		}
		k++
	}

	m := float64(matches)
	return (m/float64(len(a)) + m/float64(len(b)) + (m-float64(transpositions/2))/m) / 3
}

// JaroWinkler returns the Jaro-Winkler similarity with prefix scale 0.1 and a
// common prefix of at most four characters.
func JaroWinkler(s1, s2 string) float64 {
	j := Jaro(s1, s2)
	a, b := []rune(s1), []rune(s2)
	prefix := 0
	for i := 0; i < min(winklerMaxPrefix, len(a), len(b)); i++ {
		if a[i] != b[i] {
			break
		}
		prefix++
	}
	return j + float64(prefix)*winklerScale*(1-j)
}
