package tariffs

import "testing"

func TestNewServiceCatalog(t *testing.T) {
	s, err := NewService()
	if err != nil {
		t.Fatalf("new service: %v", err)
	}

	if s.Currency() != "RUB" {
		t.Errorf("currency = %s, want RUB", s.Currency())
	}

	list := s.List()
	if len(list) != 4 {
		t.Fatalf("len(list) = %d, want 4", len(list))
	}

	wantOrder := []Tariff{TariffT0, TariffT1, TariffT2, TariffT3}
	for i, info := range list {
		if info.Code != wantOrder[i] {
			t.Fatalf("list[%d] = %s, want %s", i, info.Code, wantOrder[i])
		}
		if info.Title == "" || info.Prompt == "" {
			t.Fatalf("tariff %s missing title or prompt", info.Code)
		}
	}

	free, err := s.Get(TariffT0)
	if err != nil {
		t.Fatalf("get T0: %v", err)
	}
	if free.Price != 0 {
		t.Errorf("T0 price = %d, want 0", free.Price)
	}

	for _, code := range []Tariff{TariffT1, TariffT2, TariffT3} {
		info, err := s.Get(code)
		if err != nil {
			t.Fatalf("get %s: %v", code, err)
		}
		if info.Price <= 0 {
			t.Errorf("%s price = %d, want > 0", code, info.Price)
		}
	}

	if _, err := s.Get(Tariff("T9")); err == nil {
		t.Errorf("get unknown tariff: expected error")
	}

	prices := s.Prices()
	if len(prices) != 4 || prices[TariffT0] != 0 {
		t.Errorf("prices = %v", prices)
	}
}

func TestTariffHelpers(t *testing.T) {
	if !TariffT0.Free() || TariffT1.Free() {
		t.Errorf("Free: T0=%v T1=%v", TariffT0.Free(), TariffT1.Free())
	}
	if !TariffT2.Valid() || Tariff("T9").Valid() {
		t.Errorf("Valid: T2=%v T9=%v", TariffT2.Valid(), Tariff("T9").Valid())
	}
}
