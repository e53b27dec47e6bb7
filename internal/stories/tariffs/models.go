package tariffs

// Tariff — код тарифа отчёта.
type Tariff string

const (
	TariffT0 Tariff = "T0" // мини-разбор, бесплатный
	TariffT1 Tariff = "T1"
	TariffT2 Tariff = "T2"
	TariffT3 Tariff = "T3"
)

func (t Tariff) Valid() bool {
	switch t {
	case TariffT0, TariffT1, TariffT2, TariffT3:
		return true
	}
	return false
}

// Free — тариф не требует оплаты.
func (t Tariff) Free() bool {
	return t == TariffT0
}

type Info struct {
	Code   Tariff
	Title  string
	Price  int // в рублях, 0 для бесплатного тарифа
	Prompt string
}
