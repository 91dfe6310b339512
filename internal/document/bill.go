package document

import (
	"bytes"
	"embed"
	"fmt"
	"html/template"
	"time"

	"github.com/shopspring/decimal"
)

//go:embed templates/bill.html
var templateFiles embed.FS

var billTemplate = template.Must(
	template.New("bill.html").
		Funcs(template.FuncMap{
			"money": func(d decimal.Decimal) string { return d.StringFixed(2) },
			"date":  func(t time.Time) string { return t.UTC().Format("02 Jan 2006") },
		}).
		ParseFS(templateFiles, "templates/bill.html"),
)

// Bill holds the fields printed on a bill document
type Bill struct {
	BillNumber   string
	MeterID      string
	MeterCode    string
	Location     string
	ConsumerName string
	Email        string
	Address      string
	Period       string
	Reading      decimal.Decimal
	Consumption  decimal.Decimal
	UnitRate     decimal.Decimal
	Amount       decimal.Decimal
	IssuedAt     time.Time
	DueDate      time.Time
}

// BillHTML renders the bill as a standalone HTML document
func BillHTML(b Bill) (string, error) {
	var buf bytes.Buffer
	if err := billTemplate.Execute(&buf, b); err != nil {
		return "", fmt.Errorf("failed to execute bill template: %w", err)
	}
	return buf.String(), nil
}
