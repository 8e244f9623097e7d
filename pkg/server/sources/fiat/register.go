package fiat

import (
	"github.com/StrathCole/oracle-engine/pkg/server/sources"
)

func init() {
	sources.Register("fiat.frankfurter", NewFrankfurterAdapter)
}
