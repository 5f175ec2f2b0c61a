package pairing

import (
	"regexp"
	"strconv"
	"strings"
)

// Pair — нормализованная пара позиций из вывода движка.
// BlackPos == nil означает bye для белой позиции.
type Pair struct {
	WhitePos int
	BlackPos *int
}

// lineMatcher — чистая функция «строка → пара». Матчеры пробуются по
// порядку; первый сработавший выигрывает. Новая текстовая конвенция
// движка — это новый матчер в списке, а не ветка в switch.
type lineMatcher func(line string) (Pair, bool)

var (
	reBoard        = regexp.MustCompile(`(?i)^Board\s+\d+\s*:\s*(\d+)\s*-\s*(\d+)$`)
	reBoardBye     = regexp.MustCompile(`(?i)^Board\s+\d+\s*:\s*(\d+)\s*-\s*BYE$`)
	reBoardByeLeft = regexp.MustCompile(`(?i)^Board\s+\d+\s*:\s*BYE\s*-\s*(\d+)$`)
	reVs           = regexp.MustCompile(`(?i)^(\d+)\s+vs\s+(\d+)$`)
	reVsBye        = regexp.MustCompile(`(?i)^(\d+)\s+vs\s+BYE$`)
	reByeVs        = regexp.MustCompile(`(?i)^BYE\s+vs\s+(\d+)$`)
	reDash         = regexp.MustCompile(`^(\d+)\s*-\s*(\d+)$`)
	reDashBye      = regexp.MustCompile(`(?i)^(\d+)\s*-\s*BYE$`)
	reByeDash      = regexp.MustCompile(`(?i)^BYE\s*-\s*(\d+)$`)
	rePlain        = regexp.MustCompile(`^(\d+)\s+(\d+)$`)
	rePlainBye     = regexp.MustCompile(`(?i)^(\d+)\s+BYE$`)
)

var matchers = []lineMatcher{
	pairMatcher(reBoard),
	byeMatcher(reBoardBye),
	byeMatcher(reBoardByeLeft),
	pairMatcher(reVs),
	byeMatcher(reVsBye),
	byeMatcher(reByeVs),
	byeMatcher(reDashBye),
	byeMatcher(reByeDash),
	pairMatcher(reDash),
	pairMatcher(rePlain),
	byeMatcher(rePlainBye),
}

// ParseOutput разбирает сырой вывод движка в последовательность пар.
// Нераспознанные строки молча пропускаются: движок может печатать
// комментарии. Пустой результат — не ошибка; решение об откате принимает
// вызывающий.
func ParseOutput(text string) []Pair {
	pairs := make([]Pair, 0)
	for _, rawLine := range strings.Split(text, "\n") {
		line := strings.TrimSpace(strings.TrimSuffix(rawLine, "\r"))
		if line == "" {
			continue
		}
		for _, match := range matchers {
			if pair, ok := match(line); ok {
				pairs = append(pairs, pair)
				break
			}
		}
	}
	return pairs
}

// pairMatcher строит матчер для форм с двумя позициями.
func pairMatcher(re *regexp.Regexp) lineMatcher {
	return func(line string) (Pair, bool) {
		m := re.FindStringSubmatch(line)
		if m == nil {
			return Pair{}, false
		}
		white, err1 := strconv.Atoi(m[1])
		black, err2 := strconv.Atoi(m[2])
		if err1 != nil || err2 != nil {
			return Pair{}, false
		}
		return Pair{WhitePos: white, BlackPos: &black}, true
	}
}

// byeMatcher строит матчер для bye-форм: единственная захваченная позиция
// нормализуется в белый слот, чёрный остаётся пустым. Форма "BYE - X"
// приводится к "(X, bye)".
func byeMatcher(re *regexp.Regexp) lineMatcher {
	return func(line string) (Pair, bool) {
		m := re.FindStringSubmatch(line)
		if m == nil {
			return Pair{}, false
		}
		white, err := strconv.Atoi(m[1])
		if err != nil {
			return Pair{}, false
		}
		return Pair{WhitePos: white}, true
	}
}
