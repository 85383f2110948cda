package intent

import (
	"fmt"
	"math"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/finsageai/finsage/pkg/models"
)

// OCC option symbology: ROOT + YYMMDD + C|P + strike price in
// thousandths, zero-padded to 8 digits. AAPL 2025-01-17 $175 call is
// AAPL250117C00175000.

var occPattern = regexp.MustCompile(`^([A-Z.]{1,6})(\d{6})([CP])(\d{8})$`)

// BuildOCC constructs the OCC contract symbol for an option.
func BuildOCC(underlying string, expiry time.Time, typ models.OptionType, strike float64) string {
	letter := "C"
	if typ == models.Put {
		letter = "P"
	}
	mills := int(math.Round(strike * 1000))
	return fmt.Sprintf("%s%s%s%08d", strings.ToUpper(underlying), expiry.Format("060102"), letter, mills)
}

// ParseOCC decomposes an OCC contract symbol into its parts.
func ParseOCC(symbol string) (underlying string, expiry time.Time, typ models.OptionType, strike float64, err error) {
	m := occPattern.FindStringSubmatch(strings.ToUpper(strings.TrimSpace(symbol)))
	if m == nil {
		err = fmt.Errorf("not an OCC option symbol: %q", symbol)
		return
	}

	underlying = m[1]
	expiry, err = time.Parse("060102", m[2])
	if err != nil {
		err = fmt.Errorf("bad expiry in OCC symbol %q: %w", symbol, err)
		return
	}

	typ = models.Call
	if m[3] == "P" {
		typ = models.Put
	}

	mills, _ := strconv.Atoi(m[4])
	strike = float64(mills) / 1000
	return
}
