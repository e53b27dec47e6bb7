package tariffs

import (
	_ "embed"
	"fmt"

	"gopkg.in/yaml.v3"
)

//go:embed catalog.yaml
var catalogYAML []byte

type catalogFile struct {
	Currency string `yaml:"currency"`
	Tariffs  []struct {
		Code   string `yaml:"code"`
		Title  string `yaml:"title"`
		Price  int    `yaml:"price"`
		Prompt string `yaml:"prompt"`
	} `yaml:"tariffs"`
}

// Service — каталог тарифов. Каталог вшит в бинарь, цены меняются релизом.
type Service struct {
	currency string
	order    []Tariff
	byCode   map[Tariff]Info
}

func NewService() (*Service, error) {
	var file catalogFile
	if err := yaml.Unmarshal(catalogYAML, &file); err != nil {
		return nil, fmt.Errorf("разбор каталога тарифов: %w", err)
	}

	s := &Service{
		currency: file.Currency,
		byCode:   make(map[Tariff]Info, len(file.Tariffs)),
	}
	for _, t := range file.Tariffs {
		code := Tariff(t.Code)
		if !code.Valid() {
			return nil, fmt.Errorf("неизвестный код тарифа в каталоге: %q", t.Code)
		}
		if _, ok := s.byCode[code]; ok {
			return nil, fmt.Errorf("дубликат тарифа в каталоге: %q", t.Code)
		}
		s.byCode[code] = Info{Code: code, Title: t.Title, Price: t.Price, Prompt: t.Prompt}
		s.order = append(s.order, code)
	}
	if len(s.byCode) == 0 {
		return nil, fmt.Errorf("каталог тарифов пуст")
	}

	return s, nil
}

func (s *Service) Currency() string {
	return s.currency
}

func (s *Service) Get(code Tariff) (Info, error) {
	info, ok := s.byCode[code]
	if !ok {
		return Info{}, fmt.Errorf("тариф %q не найден", code)
	}
	return info, nil
}

func (s *Service) List() []Info {
	out := make([]Info, 0, len(s.order))
	for _, code := range s.order {
		out = append(out, s.byCode[code])
	}
	return out
}

// Prices возвращает карту код → цена для публичного API.
func (s *Service) Prices() map[Tariff]int {
	out := make(map[Tariff]int, len(s.byCode))
	for code, info := range s.byCode {
		out[code] = info.Price
	}
	return out
}
