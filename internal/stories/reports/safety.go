package reports

import "regexp"

// Флаги безопасности отчёта. Отчёт с флагами не блокируется, но флаги
// сохраняются рядом с текстом для ручного разбора.
const (
	FlagMedicalAdvice   = "medical_advice"
	FlagDeathPrediction = "death_prediction"
	FlagGuaranteeClaim  = "guarantee_claim"
	FlagFinancialAdvice = "financial_advice"
)

var safetyPatterns = []struct {
	flag string
	re   *regexp.Regexp
}{
	{FlagMedicalAdvice, regexp.MustCompile(`(?i)(диагноз|лечени[ея]|отмен\S* препарат|медицинск\S* показан)`)},
	{FlagDeathPrediction, regexp.MustCompile(`(?i)(дата смерти|умр[её]те|скоро умр|предсказ\S* смерт)`)},
	{FlagGuaranteeClaim, regexp.MustCompile(`(?i)(гарантиру[ею]\S*|стопроцентн\S* результат|100% результат)`)},
	{FlagFinancialAdvice, regexp.MustCompile(`(?i)(вложите? (все|всё|деньги)|возьмите кредит|инвестируйте)`)},
}

// EvaluateSafety сканирует канонический текст и возвращает сработавшие
// флаги в стабильном порядке. Пустой срез — текст чист.
func EvaluateSafety(canonicalText string) []string {
	var flags []string
	for _, p := range safetyPatterns {
		if p.re.MatchString(canonicalText) {
			flags = append(flags, p.flag)
		}
	}
	return flags
}
