package httpapi

import (
	"time"

	"github.com/septivank/webill/internal/db"
	"github.com/septivank/webill/internal/ocr"
	"github.com/shopspring/decimal"
)

// ReadingResponse is the wire form of a reading
type ReadingResponse struct {
	ID               string          `json:"id"`
	MeterID          string          `json:"meter_id"`
	AccountID        string          `json:"account_id"`
	Value            decimal.Decimal `json:"value"`
	ImageURL         string          `json:"image_url"`
	CaptureLatitude  *float64        `json:"capture_latitude"`
	CaptureLongitude *float64        `json:"capture_longitude"`
	DistanceKm       *float64        `json:"distance_km"`
	ProximityFlagged bool            `json:"proximity_flagged"`
	OCRConfidence    *float64        `json:"ocr_confidence"`
	ManualInput      bool            `json:"manual_input"`
	Month            int             `json:"month"`
	Year             int             `json:"year"`
	State            db.ReadingState `json:"state"`
	Flags            []string        `json:"flags"`
	ValidationErrors []string        `json:"validation_errors"`
	DecidedAt        *time.Time      `json:"decided_at,omitempty"`
	CreatedAt        time.Time       `json:"created_at"`
}

func newReadingResponse(r *db.Reading) ReadingResponse {
	out := ReadingResponse{
		ID:               r.ID.String(),
		MeterID:          r.MeterID.String(),
		AccountID:        r.AccountID.String(),
		Value:            r.Value,
		ImageURL:         r.ImageURL,
		CaptureLatitude:  r.CaptureLatitude,
		CaptureLongitude: r.CaptureLongitude,
		DistanceKm:       r.DistanceKm,
		ProximityFlagged: r.ProximityFlagged,
		OCRConfidence:    r.OCRConfidence,
		ManualInput:      r.ManualInput,
		Month:            r.Month,
		Year:             r.Year,
		State:            r.State,
		Flags:            r.Flags,
		ValidationErrors: r.ValidationErrors,
		DecidedAt:        r.DecidedAt,
		CreatedAt:        r.CreatedAt,
	}
	if out.Flags == nil {
		out.Flags = []string{}
	}
	if out.ValidationErrors == nil {
		out.ValidationErrors = []string{}
	}
	return out
}

func newReadingList(readings []db.Reading) []ReadingResponse {
	out := make([]ReadingResponse, 0, len(readings))
	for i := range readings {
		out = append(out, newReadingResponse(&readings[i]))
	}
	return out
}

// CaptureResponse is the reading created by a capture plus what OCR saw
type CaptureResponse struct {
	Reading ReadingResponse `json:"reading"`
	OCR     ScanResponse    `json:"ocr"`
}

// ScanResponse is an OCR preview
type ScanResponse struct {
	Candidate  string   `json:"candidate"`
	Found      bool     `json:"found"`
	Confidence *float64 `json:"confidence"`
	Text       string   `json:"text"`
}

func newScanResponse(r ocr.Result) ScanResponse {
	return ScanResponse{Candidate: r.Candidate, Found: r.Found, Confidence: r.Confidence, Text: r.Text}
}

// BillResponse is the wire form of a bill
type BillResponse struct {
	ID          string          `json:"id"`
	ReadingID   string          `json:"reading_id"`
	AccountID   string          `json:"account_id"`
	MeterID     string          `json:"meter_id"`
	Consumption decimal.Decimal `json:"consumption"`
	Amount      string          `json:"amount"`
	UnitRate    decimal.Decimal `json:"unit_rate"`
	IssuedAt    time.Time       `json:"issued_at"`
	DueDate     time.Time       `json:"due_date"`
	Paid        bool            `json:"paid"`
	DocumentURL string          `json:"document_url"`
	NotifiedAt  *time.Time      `json:"notified_at"`
}

func newBillResponse(b *db.Bill) BillResponse {
	return BillResponse{
		ID:          b.ID.String(),
		ReadingID:   b.ReadingID.String(),
		AccountID:   b.AccountID.String(),
		MeterID:     b.MeterID.String(),
		Consumption: b.Consumption,
		Amount:      b.Amount.StringFixed(2),
		UnitRate:    b.UnitRate,
		IssuedAt:    b.IssuedAt,
		DueDate:     b.DueDate,
		Paid:        b.Paid,
		DocumentURL: b.DocumentURL,
		NotifiedAt:  b.NotifiedAt,
	}
}

// MeterResponse is the wire form of a meter
type MeterResponse struct {
	ID         string  `json:"id"`
	Code       string  `json:"code"`
	Latitude   float64 `json:"latitude"`
	Longitude  float64 `json:"longitude"`
	IsEnabled  bool    `json:"is_enabled"`
	ConsumerID *string `json:"consumer_id"`
	Location   string  `json:"location"`
}

func newMeterResponse(m *db.Meter) MeterResponse {
	out := MeterResponse{
		ID:        m.ID.String(),
		Code:      m.Code,
		Latitude:  m.Latitude,
		Longitude: m.Longitude,
		IsEnabled: m.IsEnabled,
		Location:  m.Location,
	}
	if m.ConsumerID != nil {
		id := m.ConsumerID.String()
		out.ConsumerID = &id
	}
	return out
}

type decisionRequest struct {
	Accept  *bool    `json:"accept" binding:"required"`
	Reasons []string `json:"reasons"`
}

type paidRequest struct {
	Paid *bool `json:"paid" binding:"required"`
}

type assignmentRequest struct {
	ConsumerID string `json:"consumer_id" binding:"required,uuid"`
}
