package enrich

import (
	"math"
	"regexp"
	"strconv"
	"strings"

	"golang.org/x/text/width"
)

// Answers that mean the model found nothing.
var unknownTokens = []string{"未公開", "非公開", "不明", "不詳", "なし", "該当なし"}

var (
	eraYearRe  = regexp.MustCompile(`(令和|平成|昭和)\s*(元|\d{1,2})\s*年?`)
	westYearRe = regexp.MustCompile(`(19|20)\d{2}`)

	// A run of numbers with optional units, e.g. "1億2000万" or "1200".
	amountRunRe   = regexp.MustCompile(`(?:\d+(?:\.\d+)?(?:百万|千万|兆|億|万|千)?)+`)
	amountTokenRe = regexp.MustCompile(`(\d+(?:\.\d+)?)(百万|千万|兆|億|万|千)?`)
)

// Years before era year 1.
var eraBase = map[string]int{"令和": 2018, "平成": 1988, "昭和": 1925}

var unitScale = map[string]float64{
	"":   1,
	"千":  1e3,
	"万":  1e4,
	"百万": 1e6,
	"千万": 1e7,
	"億":  1e8,
	"兆":  1e12,
}

// cleanNumeric folds full-width characters, drops separators and currency,
// and reports false for answers that carry no value.
func cleanNumeric(raw string) (string, bool) {
	s := strings.TrimSpace(width.Fold.String(raw))
	switch strings.ToLower(s) {
	case "", "-", "―", "n/a", "none", "null", "unknown":
		return "", false
	}
	for _, tok := range unknownTokens {
		if strings.Contains(s, tok) {
			return "", false
		}
	}
	s = strings.NewReplacer(",", "", " ", "", "円", "", "¥", "", "\\", "").Replace(s)
	return s, true
}

// normalizeYear reads a founding year from a Western year such as
// "2001年4月" or a Japanese era year such as "平成10年".
func normalizeYear(raw string) (int, bool) {
	s, ok := cleanNumeric(raw)
	if !ok {
		return 0, false
	}
	if m := eraYearRe.FindStringSubmatch(s); m != nil {
		n := 1
		if m[2] != "元" {
			n, _ = strconv.Atoi(m[2])
		}
		if n > 0 {
			return eraBase[m[1]] + n, true
		}
	}
	if m := westYearRe.FindString(s); m != "" {
		y, err := strconv.Atoi(m)
		return y, err == nil
	}
	return 0, false
}

// normalizeCount reads a head count from the first number in raw, so
// "約1,200名（2023年3月時点）" is 1200.
func normalizeCount(raw string) (int, bool) {
	s, ok := cleanNumeric(raw)
	if !ok {
		return 0, false
	}
	run := amountRunRe.FindString(s)
	if run == "" {
		return 0, false
	}
	n, ok := sumUnits(run)
	if !ok || n <= 0 || n > math.MaxInt32 {
		return 0, false
	}
	return int(n), true
}

// normalizeAmount reads a yen amount. Units scale the number before them
// and add up within one run, so "1億2000万円" is 120000000. The first run
// with a unit wins over bare numbers such as a fiscal year.
func normalizeAmount(raw string) (int64, bool) {
	s, ok := cleanNumeric(raw)
	if !ok {
		return 0, false
	}
	runs := amountRunRe.FindAllString(s, -1)
	if len(runs) == 0 {
		return 0, false
	}
	run := runs[0]
	for _, r := range runs {
		if strings.IndexFunc(r, isUnitRune) >= 0 {
			run = r
			break
		}
	}
	n, ok := sumUnits(run)
	if !ok || n <= 0 {
		return 0, false
	}
	return n, true
}

func sumUnits(run string) (int64, bool) {
	var total float64
	for _, m := range amountTokenRe.FindAllStringSubmatch(run, -1) {
		v, err := strconv.ParseFloat(m[1], 64)
		if err != nil {
			return 0, false
		}
		total += v * unitScale[m[2]]
	}
	if total >= math.MaxInt64 {
		return 0, false
	}
	return int64(math.Round(total)), true
}

func isUnitRune(r rune) bool {
	return strings.ContainsRune("千万百億兆", r)
}
