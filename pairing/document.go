package pairing

import (
	"fmt"
	"strings"
	"unicode/utf8"

	"github.com/Dosada05/chess-pairings/models"
)

const (
	nameFieldWidth = 30
	ratingMin      = 0
	ratingMax      = 9999
	// Разрыв между рейтингом и очками повторяет раскладку, которую
	// принимает реальная сборка bbpPairings (см. min2.trfx).
	ratingScoreGap = 29
)

// DocumentParams — всё состояние турнира, нужное для входного документа.
type DocumentParams struct {
	Tournament   *models.Tournament
	Participants []*models.Participant
	// PriorMatches — партии всех туров, предшествующих целевому.
	// Из них считаются набранные очки.
	PriorMatches []*models.Match
}

// BuildDocument собирает TRF(bx)-документ для движка жеребьёвки.
// Функция чистая: никакого I/O, одинаковые входы дают одинаковый текст.
// Позиция участника — 1-based порядок вставки; та же позиция используется
// при обратном маппинге результата движка на участников.
//
// Заголовки держим минимальными: некоторые сборки движка отвергают
// нестандартные BB*-строки.
func BuildDocument(params DocumentParams) (string, error) {
	t := params.Tournament
	if t == nil {
		return "", fmt.Errorf("tournament is required to build a pairing document")
	}
	if len(params.Participants) < 2 {
		return "", fmt.Errorf("not enough participants to build a pairing document (found %d, min 2 required)", len(params.Participants))
	}

	scores := scoresByParticipant(params.Participants, params.PriorMatches)

	var b strings.Builder
	fmt.Fprintf(&b, "012 %s %d\n", sanitizeName(t.Title), t.ID)
	b.WriteString("XXC white1\n")
	if t.Rounds > 0 {
		fmt.Fprintf(&b, "XXR %d\n", t.Rounds)
	}

	for pos, p := range params.Participants {
		b.WriteString(participantLine(pos+1, p, scores[p.ID]))
		b.WriteByte('\n')
	}

	return b.String(), nil
}

func participantLine(pos int, p *models.Participant, score float64) string {
	// Имя режется и выравнивается по рунам: байтовый срез посреди
	// многобайтного символа отдал бы движку битый UTF-8.
	name := sanitizeName(p.Nickname)
	if runes := []rune(name); len(runes) > nameFieldWidth {
		name = string(runes[:nameFieldWidth])
	}

	rating := int(models.RatingDefault)
	if p.SeedRating != nil {
		rating = *p.SeedRating
	}
	if rating < ratingMin {
		rating = ratingMin
	}
	if rating > ratingMax {
		rating = ratingMax
	}

	// %-*s добивает поле по байтам, поэтому ширина считается вручную.
	namePad := strings.Repeat(" ", nameFieldWidth-utf8.RuneCountInString(name))

	return fmt.Sprintf("001    %d      %s%s%4d%s%4s    %d",
		pos,
		name, namePad,
		rating,
		strings.Repeat(" ", ratingScoreGap),
		fmt.Sprintf("%.1f", score),
		pos,
	)
}

func sanitizeName(s string) string {
	return strings.Join(strings.Fields(s), " ")
}

func scoresByParticipant(participants []*models.Participant, matches []*models.Match) map[int]float64 {
	scores := make(map[int]float64, len(participants))
	for _, p := range participants {
		scores[p.ID] = 0
	}
	for _, m := range matches {
		if _, ok := scores[m.WhiteParticipantID]; ok {
			scores[m.WhiteParticipantID] += m.ScoreWhite
		}
		if m.BlackParticipantID != nil {
			if _, ok := scores[*m.BlackParticipantID]; ok {
				scores[*m.BlackParticipantID] += m.ScoreBlack
			}
		}
	}
	return scores
}
