package domain

import "errors"

var ErrUnknownPackage = errors.New("unknown credit package")

// CreditPackage is a purchasable bundle. Amounts are in satang, the
// smallest THB unit, which is what the charge API expects.
type CreditPackage struct {
	Code         string `json:"code"`
	Credits      int64  `json:"credits"`
	AmountSatang int64  `json:"amount_satang"`
	Currency     string `json:"currency"`
}

var packages = []CreditPackage{
	{Code: "starter", Credits: 60, AmountSatang: 59900, Currency: "thb"},
	{Code: "standard", Credits: 150, AmountSatang: 129900, Currency: "thb"},
	{Code: "intensive", Credits: 400, AmountSatang: 299900, Currency: "thb"},
}

func Packages() []CreditPackage {
	out := make([]CreditPackage, len(packages))
	copy(out, packages)
	return out
}

func PackageByCode(code string) (CreditPackage, error) {
	for _, p := range packages {
		if p.Code == code {
			return p, nil
		}
	}
	return CreditPackage{}, ErrUnknownPackage
}
