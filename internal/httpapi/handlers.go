package httpapi

import (
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/septivank/webill/internal/db"
	"github.com/septivank/webill/internal/geo"
	"github.com/septivank/webill/internal/service"
	"github.com/septivank/webill/internal/storage"
)

const (
	defaultPageSize = 50
	maxPageSize     = 200
)

// CaptureReading accepts the multipart capture: image, meter_id, value, latitude,
// longitude, location_status, month, year.
func (h *Handler) CaptureReading(c *gin.Context) {
	c.Request.Body = http.MaxBytesReader(c.Writer, c.Request.Body, h.maxUploadBytes)

	img, read := h.readImage(c)
	if !read {
		return
	}

	meterID, err := uuid.Parse(c.PostForm("meter_id"))
	if err != nil {
		badRequest(c, "meter_id must be a UUID")
		return
	}

	location, err := reportedLocation(c)
	if err != nil {
		badRequest(c, err.Error())
		return
	}

	month, err := optionalInt(c.PostForm("month"))
	if err != nil {
		badRequest(c, "month must be a number")
		return
	}
	year, err := optionalInt(c.PostForm("year"))
	if err != nil {
		badRequest(c, "year must be a number")
		return
	}

	res, err := h.core.Capture(c.Request.Context(), session(c), service.CaptureInput{
		MeterID:  meterID,
		Value:    c.PostForm("value"),
		Image:    img,
		Location: location,
		Month:    month,
		Year:     year,
	})
	if err != nil {
		h.writeError(c, err)
		return
	}

	ok(c, http.StatusCreated, CaptureResponse{
		Reading: newReadingResponse(res.Reading),
		OCR:     newScanResponse(res.OCR),
	})
}

// ScanReading previews OCR for an image without storing anything
func (h *Handler) ScanReading(c *gin.Context) {
	c.Request.Body = http.MaxBytesReader(c.Writer, c.Request.Body, h.maxUploadBytes)

	img, read := h.readImage(c)
	if !read {
		return
	}

	res, err := h.core.Scan(c.Request.Context(), session(c), img)
	if err != nil {
		h.writeError(c, err)
		return
	}
	ok(c, http.StatusOK, newScanResponse(res))
}

// readImage loads the "image" form file, writing the error response itself on failure
func (h *Handler) readImage(c *gin.Context) (storage.Image, bool) {
	header, err := c.FormFile("image")
	if err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) || strings.Contains(err.Error(), "request body too large") {
			fail(c, http.StatusRequestEntityTooLarge, "PAYLOAD_TOO_LARGE", service.KindValidation.String(), "request body too large")
			return storage.Image{}, false
		}
		badRequest(c, "image file is required")
		return storage.Image{}, false
	}

	f, err := header.Open()
	if err != nil {
		badRequest(c, "image file could not be read")
		return storage.Image{}, false
	}
	defer f.Close()

	data, err := io.ReadAll(f)
	if err != nil {
		badRequest(c, "image file could not be read")
		return storage.Image{}, false
	}

	return storage.Image{
		Data:        data,
		ContentType: header.Header.Get("Content-Type"),
		Filename:    header.Filename,
	}, true
}

// reportedLocation reads the device fix or the reason it is missing
func reportedLocation(c *gin.Context) (geo.Reported, error) {
	reported := geo.Reported{Status: c.PostForm("location_status")}

	lat, lon := strings.TrimSpace(c.PostForm("latitude")), strings.TrimSpace(c.PostForm("longitude"))
	if lat == "" && lon == "" {
		return reported, nil
	}
	if lat == "" || lon == "" {
		return reported, errors.New("latitude and longitude must be sent together")
	}

	latitude, err := strconv.ParseFloat(lat, 64)
	if err != nil {
		return reported, fmt.Errorf("invalid latitude %q", lat)
	}
	longitude, err := strconv.ParseFloat(lon, 64)
	if err != nil {
		return reported, fmt.Errorf("invalid longitude %q", lon)
	}
	reported.Coordinate = &geo.Coordinate{Latitude: latitude, Longitude: longitude}
	return reported, nil
}

func optionalInt(raw string) (int, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return 0, nil
	}
	return strconv.Atoi(raw)
}

func pagination(c *gin.Context) (limit, offset int, err error) {
	limit, err = optionalInt(c.Query("limit"))
	if err != nil || limit < 0 {
		return 0, 0, errors.New("limit must be a non-negative number")
	}
	offset, err = optionalInt(c.Query("offset"))
	if err != nil || offset < 0 {
		return 0, 0, errors.New("offset must be a non-negative number")
	}
	if limit == 0 {
		limit = defaultPageSize
	}
	if limit > maxPageSize {
		limit = maxPageSize
	}
	return limit, offset, nil
}

// ListReadings lists readings, filtered by meter_id and state
func (h *Handler) ListReadings(c *gin.Context) {
	limit, offset, err := pagination(c)
	if err != nil {
		badRequest(c, err.Error())
		return
	}
	q := service.ReadingQuery{Limit: limit, Offset: offset}

	if raw := c.Query("meter_id"); raw != "" {
		id, err := uuid.Parse(raw)
		if err != nil {
			badRequest(c, "meter_id must be a UUID")
			return
		}
		q.MeterID = &id
	}
	if raw := c.Query("state"); raw != "" {
		state := db.ReadingState(raw)
		switch state {
		case db.ReadingPending, db.ReadingValidated, db.ReadingRejected:
		default:
			badRequest(c, "state must be pending, validated or rejected")
			return
		}
		q.State = &state
	}

	readings, err := h.core.ListReadings(c.Request.Context(), session(c), q)
	if err != nil {
		h.writeError(c, err)
		return
	}
	ok(c, http.StatusOK, newReadingList(readings))
}

// ListBills lists the caller's bills
func (h *Handler) ListBills(c *gin.Context) {
	limit, offset, err := pagination(c)
	if err != nil {
		badRequest(c, err.Error())
		return
	}

	bills, err := h.core.ListBills(c.Request.Context(), session(c), limit, offset)
	if err != nil {
		h.writeError(c, err)
		return
	}
	out := make([]BillResponse, 0, len(bills))
	for i := range bills {
		out = append(out, newBillResponse(&bills[i]))
	}
	ok(c, http.StatusOK, out)
}

func pathID(c *gin.Context) (uuid.UUID, bool) {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		badRequest(c, "id must be a UUID")
		return uuid.Nil, false
	}
	return id, true
}

// DecideReading accepts or rejects a pending reading
func (h *Handler) DecideReading(c *gin.Context) {
	id, valid := pathID(c)
	if !valid {
		return
	}
	var req decisionRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, "body must be {\"accept\": bool, \"reasons\": [string]}")
		return
	}

	reading, err := h.core.Decide(c.Request.Context(), session(c), id, service.Decision{Accept: *req.Accept, Reasons: req.Reasons})
	if err != nil {
		h.writeError(c, err)
		return
	}
	ok(c, http.StatusOK, newReadingResponse(reading))
}

// GenerateBill bills a validated reading
func (h *Handler) GenerateBill(c *gin.Context) {
	id, valid := pathID(c)
	if !valid {
		return
	}

	bill, err := h.core.GenerateBill(c.Request.Context(), session(c), id)
	if err != nil {
		h.writeError(c, err)
		return
	}
	ok(c, http.StatusCreated, newBillResponse(bill))
}

// SetBillPaid toggles a bill's payment status
func (h *Handler) SetBillPaid(c *gin.Context) {
	id, valid := pathID(c)
	if !valid {
		return
	}
	var req paidRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, "body must be {\"paid\": bool}")
		return
	}

	bill, err := h.core.SetBillPaid(c.Request.Context(), session(c), id, *req.Paid)
	if err != nil {
		h.writeError(c, err)
		return
	}
	ok(c, http.StatusOK, newBillResponse(bill))
}

// GetSettings returns the system settings
func (h *Handler) GetSettings(c *gin.Context) {
	s, err := h.core.GetSettings(c.Request.Context(), session(c))
	if err != nil {
		h.writeError(c, err)
		return
	}
	ok(c, http.StatusOK, s)
}

// UpdateSettings replaces the system settings
func (h *Handler) UpdateSettings(c *gin.Context) {
	var in service.Settings
	if err := c.ShouldBindJSON(&in); err != nil {
		badRequest(c, "invalid settings body")
		return
	}

	s, err := h.core.UpdateSettings(c.Request.Context(), session(c), in)
	if err != nil {
		h.writeError(c, err)
		return
	}
	ok(c, http.StatusOK, s)
}

// AssignMeter gives a meter to a consumer
func (h *Handler) AssignMeter(c *gin.Context) {
	id, valid := pathID(c)
	if !valid {
		return
	}
	var req assignmentRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, "body must be {\"consumer_id\": uuid}")
		return
	}

	meter, err := h.core.AssignMeter(c.Request.Context(), session(c), id, uuid.MustParse(req.ConsumerID))
	if err != nil {
		h.writeError(c, err)
		return
	}
	ok(c, http.StatusOK, newMeterResponse(meter))
}

// UnassignMeter clears a meter's consumer
func (h *Handler) UnassignMeter(c *gin.Context) {
	id, valid := pathID(c)
	if !valid {
		return
	}

	if err := h.core.UnassignMeter(c.Request.Context(), session(c), id); err != nil {
		h.writeError(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

// MeterQRCode returns a PNG encoding the meter id. size is optional.
func (h *Handler) MeterQRCode(c *gin.Context) {
	id, valid := pathID(c)
	if !valid {
		return
	}
	size := 0
	if raw := c.Query("size"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil {
			badRequest(c, "size must be an integer")
			return
		}
		size = n
	}

	png, err := h.core.MeterQRCode(c.Request.Context(), session(c), id, size)
	if err != nil {
		h.writeError(c, err)
		return
	}
	c.Data(http.StatusOK, "image/png", png)
}
