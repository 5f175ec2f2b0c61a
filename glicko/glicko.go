// Package glicko реализует обновление силы игрока по системе Glicko-2.
//
// Имена внутренних величин следуют статье Марка Гликмана
// (https://www.glicko.net/glicko/glicko2.pdf): mu — рейтинг в шкале
// Glicko-2, phi — отклонение рейтинга, sigma — волатильность.
package glicko

import "math"

const (
	// tau ограничивает скорость изменения волатильности.
	// Разумные значения 0.3–1.2; используем классическое 0.5.
	tau     = 0.5
	scale   = 173.7178
	epsilon = 0.000001
)

// Rating — оценка силы игрока в привычной шкале (центр 1500).
type Rating struct {
	R          float64
	RD         float64
	Volatility float64
}

// Result — одна партия против известного соперника.
// Score: 0 — поражение, 0.5 — ничья, 1 — победа.
type Result struct {
	OpponentR  float64
	OpponentRD float64
	Score      float64
}

// Update возвращает новую оценку игрока по исходам рейтингового периода.
// Пустой список исходов только раздувает отклонение за неактивность.
func Update(current Rating, results []Result) Rating {
	mu := toMu(current.R)
	phi := toPhi(current.RD)
	sigma := current.Volatility

	if len(results) == 0 {
		phiStar := math.Sqrt(phi*phi + sigma*sigma)
		return Rating{R: fromMu(mu), RD: fromPhi(phiStar), Volatility: sigma}
	}

	// Дисперсия оценки по исходам (шаг 3).
	var vInv float64
	for _, res := range results {
		muJ := toMu(res.OpponentR)
		phiJ := toPhi(res.OpponentRD)
		gJ := g(phiJ)
		e := expected(mu, muJ, phiJ)
		vInv += gJ * gJ * e * (1 - e)
	}
	v := 1 / vInv

	// Оценка улучшения (шаг 4).
	var delta float64
	for _, res := range results {
		muJ := toMu(res.OpponentR)
		phiJ := toPhi(res.OpponentRD)
		delta += g(phiJ) * (res.Score - expected(mu, muJ, phiJ))
	}
	delta *= v

	// Новая волатильность методом Иллинойс (шаг 5).
	sigmaNew := solveSigma(delta, phi, v, sigma)

	// Шаги 6–7: новое отклонение и рейтинг.
	phiStar := math.Sqrt(phi*phi + sigmaNew*sigmaNew)
	phiNew := 1 / math.Sqrt(1/(phiStar*phiStar)+1/v)

	var sum float64
	for _, res := range results {
		muJ := toMu(res.OpponentR)
		phiJ := toPhi(res.OpponentRD)
		sum += g(phiJ) * (res.Score - expected(mu, muJ, phiJ))
	}
	muNew := mu + phiNew*phiNew*sum

	return Rating{R: fromMu(muNew), RD: fromPhi(phiNew), Volatility: sigmaNew}
}

// ExpectedScore — ожидаемый счёт игрока против соперника с учётом
// неопределённости обоих рейтингов. Используется для прогнозов.
func ExpectedScore(player, opponent Rating) float64 {
	phiCombined := math.Sqrt(toPhi(player.RD)*toPhi(player.RD) + toPhi(opponent.RD)*toPhi(opponent.RD))
	return 1 / (1 + math.Exp(-g(phiCombined)*(toMu(player.R)-toMu(opponent.R))))
}

func toMu(r float64) float64    { return (r - 1500) / scale }
func fromMu(mu float64) float64 { return mu*scale + 1500 }
func toPhi(rd float64) float64  { return rd / scale }
func fromPhi(p float64) float64 { return p * scale }

func g(phi float64) float64 {
	return 1 / math.Sqrt(1+3*phi*phi/(math.Pi*math.Pi))
}

func expected(mu, muJ, phiJ float64) float64 {
	return 1 / (1 + math.Exp(-g(phiJ)*(mu-muJ)))
}

func solveSigma(delta, phi, v, sigma float64) float64 {
	a := math.Log(sigma * sigma)
	deltaSq := delta * delta
	phiSq := phi * phi

	f := func(x float64) float64 {
		ex := math.Exp(x)
		num := ex * (deltaSq - phiSq - v - ex)
		denom := 2 * (phiSq + v + ex) * (phiSq + v + ex)
		return num/denom - (x-a)/(tau*tau)
	}

	A := a
	var B float64
	if deltaSq > phiSq+v {
		B = math.Log(deltaSq - phiSq - v)
	} else {
		k := 1.0
		for f(a-k*tau) < 0 {
			k++
		}
		B = a - k*tau
	}

	fA := f(A)
	fB := f(B)
	for math.Abs(B-A) > epsilon {
		C := A + (A-B)*fA/(fB-fA)
		fC := f(C)
		if fC*fB < 0 {
			A = B
			fA = fB
		} else {
			fA /= 2
		}
		B = C
		fB = fC
	}
	return math.Exp(A / 2)
}
