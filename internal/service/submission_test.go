package service

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/google/uuid"
	"github.com/septivank/webill/internal/auth"
	"github.com/septivank/webill/internal/config"
	"github.com/septivank/webill/internal/db"
	"github.com/septivank/webill/internal/geo"
	"github.com/septivank/webill/internal/ocr"
	"github.com/septivank/webill/internal/storage"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
)

func TestSubmit_PersistsPendingReading(t *testing.T) {
	f := newFixture(t, Options{})

	r, err := f.submit(t, "120")
	require.NoError(t, err)

	assert.NotEqual(t, uuid.Nil, r.ID)
	assert.Equal(t, db.ReadingPending, r.State)
	assert.Equal(t, "120", r.Value.String())
	assert.Equal(t, 3, r.Month)
	assert.Equal(t, 2025, r.Year)
	assert.True(t, r.ManualInput)
	assert.False(t, r.ProximityFlagged)
	require.NotNil(t, r.DistanceKm)
	assert.Less(t, *r.DistanceKm, 0.1)
	assert.Empty(t, r.Flags)
	assert.Equal(t, 1, f.store.activeCount(f.meter.ID))
}

func TestSubmit_DuplicatePeriod(t *testing.T) {
	f := newFixture(t, Options{})

	_, err := f.submit(t, "120")
	require.NoError(t, err)

	_, err = f.submit(t, "121")
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrDuplicatePeriod)
	assert.Equal(t, KindConflict, KindOf(err))
	assert.Equal(t, 1, f.store.activeCount(f.meter.ID))
}

// duplicateRaceStore hides the existing reading from the pre-check to model a concurrent insert
type duplicateRaceStore struct {
	*memStore
}

func (duplicateRaceStore) ActiveReadingExists(context.Context, uuid.UUID, int, int) (bool, error) {
	return false, nil
}

func TestSubmit_DuplicateCaughtByUniqueIndex(t *testing.T) {
	f := newFixture(t, Options{})
	_, err := f.submit(t, "120")
	require.NoError(t, err)

	f.svc.store = duplicateRaceStore{f.store}
	_, err = f.submit(t, "121")
	assert.ErrorIs(t, err, ErrDuplicatePeriod)
	assert.Equal(t, 1, f.store.activeCount(f.meter.ID))
}

func TestSubmit_ResubmitAfterRejection(t *testing.T) {
	f := newFixture(t, Options{})

	first, err := f.submit(t, "120")
	require.NoError(t, err)
	_, err = f.svc.Decide(context.Background(), f.adminSession(), first.ID, Decision{Reasons: []string{"blurry photo"}})
	require.NoError(t, err)

	second, err := f.submit(t, "120")
	require.NoError(t, err)
	assert.NotEqual(t, first.ID, second.ID)

	rejected, err := f.store.GetReading(context.Background(), first.ID)
	require.NoError(t, err)
	assert.Equal(t, db.ReadingRejected, rejected.State)
}

func TestSubmit_UnassignedMeterPersistsNothing(t *testing.T) {
	f := newFixture(t, Options{})

	_, err := f.svc.Submit(context.Background(), auth.Session{AccountID: f.other.ID, Role: db.RoleConsumer}, SubmitReadingInput{
		MeterID:  f.meter.ID,
		Value:    "120",
		ImageKey: "k",
		Capture:  f.nearby(),
	})
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrInvalidMeter)
	assert.Equal(t, KindValidation, KindOf(err))
	assert.Empty(t, f.store.readings)
}

func TestSubmit_MeterChecks(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(f *fixture) uuid.UUID
	}{
		{"unknown meter", func(f *fixture) uuid.UUID { return uuid.New() }},
		{"disabled meter", func(f *fixture) uuid.UUID { f.meter.IsEnabled = false; return f.meter.ID }},
		{"unassigned meter", func(f *fixture) uuid.UUID { f.meter.ConsumerID = nil; return f.meter.ID }},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFixture(t, Options{})
			id := tt.mutate(f)

			_, err := f.svc.Submit(context.Background(), f.consumerSession(), SubmitReadingInput{
				MeterID: id, Value: "1", ImageKey: "k", Capture: f.nearby(),
			})
			assert.ErrorIs(t, err, ErrInvalidMeter)
			assert.Empty(t, f.store.readings)
		})
	}
}

func TestSubmit_CallerChecks(t *testing.T) {
	f := newFixture(t, Options{})
	in := SubmitReadingInput{MeterID: f.meter.ID, Value: "1", ImageKey: "k", Capture: f.nearby()}

	_, err := f.svc.Submit(context.Background(), f.adminSession(), in)
	assert.ErrorIs(t, err, ErrForbidden)

	_, err = f.svc.Submit(context.Background(), auth.Session{}, in)
	assert.ErrorIs(t, err, ErrForbidden)
	assert.Equal(t, KindForbidden, KindOf(err))

	f.consumer.IsEnabled = false
	_, err = f.svc.Submit(context.Background(), f.consumerSession(), in)
	assert.ErrorIs(t, err, ErrAccountDisabled)

	assert.Empty(t, f.store.readings)
}

func TestSubmit_InputValidation(t *testing.T) {
	tests := []struct {
		name string
		in   SubmitReadingInput
		want error
	}{
		{"negative value", SubmitReadingInput{Value: "-1", ImageKey: "k"}, ErrInvalidValue},
		{"non numeric value", SubmitReadingInput{Value: "12kWh", ImageKey: "k"}, ErrInvalidValue},
		{"value beyond three decimals", SubmitReadingInput{Value: "120.12345", ImageKey: "k"}, ErrInvalidValue},
		{"value overflowing the column", SubmitReadingInput{Value: "1e20", ImageKey: "k"}, ErrInvalidValue},
		{"bad month", SubmitReadingInput{Value: "1", Month: 13, Year: 2025, ImageKey: "k"}, ErrInvalidPeriod},
		{"missing image", SubmitReadingInput{Value: "1"}, ErrInvalidImage},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFixture(t, Options{})
			tt.in.MeterID = f.meter.ID
			tt.in.Capture = f.nearby()

			_, err := f.svc.Submit(context.Background(), f.consumerSession(), tt.in)
			assert.ErrorIs(t, err, tt.want)
			assert.Equal(t, KindValidation, KindOf(err))
			assert.Empty(t, f.store.readings)
		})
	}
}

func TestSubmit_ProximityPolicies(t *testing.T) {
	far := geo.Coordinate{Latitude: meterLocation.Latitude + 0.01, Longitude: meterLocation.Longitude}

	t.Run("reject", func(t *testing.T) {
		f := newFixture(t, Options{ProximityPolicy: config.ProximityPolicyReject})
		_, err := f.svc.Submit(context.Background(), f.consumerSession(), SubmitReadingInput{
			MeterID: f.meter.ID, Value: "1", ImageKey: "k", Capture: &far,
		})
		assert.ErrorIs(t, err, ErrProximityViolation)
		assert.Empty(t, f.store.readings)
	})

	t.Run("flag", func(t *testing.T) {
		f := newFixture(t, Options{ProximityPolicy: config.ProximityPolicyFlag})
		r, err := f.svc.Submit(context.Background(), f.consumerSession(), SubmitReadingInput{
			MeterID: f.meter.ID, Value: "1", ImageKey: "k", Capture: &far,
		})
		require.NoError(t, err)
		assert.True(t, r.ProximityFlagged)
		require.NotNil(t, r.DistanceKm)
		assert.Greater(t, *r.DistanceKm, 1.0)
		require.NotEmpty(t, r.Flags)
		assert.Contains(t, r.Flags[0], "proximity")
	})
}

func TestSubmit_MissingCoordinateFailsClosed(t *testing.T) {
	t.Run("reject policy refuses", func(t *testing.T) {
		f := newFixture(t, Options{ProximityPolicy: config.ProximityPolicyReject})
		_, err := f.svc.Submit(context.Background(), f.consumerSession(), SubmitReadingInput{
			MeterID: f.meter.ID, Value: "1", ImageKey: "k",
		})
		assert.ErrorIs(t, err, ErrProximityViolation)
		assert.Empty(t, f.store.readings)
	})

	t.Run("flag policy flags", func(t *testing.T) {
		f := newFixture(t, Options{ProximityPolicy: config.ProximityPolicyFlag})
		r, err := f.svc.Submit(context.Background(), f.consumerSession(), SubmitReadingInput{
			MeterID: f.meter.ID, Value: "1", ImageKey: "k",
		})
		require.NoError(t, err)
		assert.True(t, r.ProximityFlagged)
		assert.Nil(t, r.DistanceKm)
		assert.Nil(t, r.CaptureLatitude)
	})
}

func TestSubmit_ManualInputFlag(t *testing.T) {
	f := newFixture(t, Options{})

	r, err := f.svc.Submit(context.Background(), f.consumerSession(), SubmitReadingInput{
		MeterID: f.meter.ID, Value: "04821", ImageKey: "k", Capture: f.nearby(), OCRCandidate: "04821",
	})
	require.NoError(t, err)
	assert.False(t, r.ManualInput)

	f.store.readings = map[uuid.UUID]*db.Reading{}
	r, err = f.svc.Submit(context.Background(), f.consumerSession(), SubmitReadingInput{
		MeterID: f.meter.ID, Value: "04822", ImageKey: "k", Capture: f.nearby(), OCRCandidate: "04821",
	})
	require.NoError(t, err)
	assert.True(t, r.ManualInput)
}

func TestSubmit_AnomalyFlagsAreAdvisory(t *testing.T) {
	f := newFixture(t, Options{})
	f.seedValidated("500", 2, 2025, f.now.AddDate(0, 0, -30))

	r, err := f.submit(t, "450")
	require.NoError(t, err)
	require.Len(t, r.Flags, 1)
	assert.Contains(t, r.Flags[0], "lower than previous")
	assert.Equal(t, db.ReadingPending, r.State)
}

func TestSubmit_PersistenceFailure(t *testing.T) {
	f := newFixture(t, Options{})
	f.store.failInsertReading = errBoom

	_, err := f.submit(t, "1")
	assert.ErrorIs(t, err, ErrPersistence)
	assert.ErrorIs(t, err, errBoom)
	assert.Equal(t, KindUnavailable, KindOf(err))
}

func TestCapture_UsesOCRCandidateWhenNoValueEntered(t *testing.T) {
	f := newFixture(t, Options{})
	conf := 0.93
	f.ocr.result = ocr.Result{Candidate: "04821", Found: true, Confidence: &conf, Text: "Reading: 04821 kWh"}

	res, err := f.svc.Capture(context.Background(), f.consumerSession(), CaptureInput{
		MeterID:  f.meter.ID,
		Image:    jpegImage(),
		Location: geo.Reported{Coordinate: f.nearby()},
	})
	require.NoError(t, err)

	assert.Equal(t, "4821", res.Reading.Value.String())
	assert.False(t, res.Reading.ManualInput)
	require.NotNil(t, res.Reading.OCRConfidence)
	assert.InDelta(t, 0.93, *res.Reading.OCRConfidence, 1e-9)
	assert.NotEmpty(t, res.Reading.ImageKey)
	assert.False(t, res.Reading.ProximityFlagged)
	assert.Equal(t, 1, f.objects.count())
}

func TestCapture_OCRFailureFallsBackToEnteredValue(t *testing.T) {
	f := newFixture(t, Options{})
	f.ocr.err = ocr.ErrRecognitionFailed

	res, err := f.svc.Capture(context.Background(), f.consumerSession(), CaptureInput{
		MeterID:  f.meter.ID,
		Value:    "120",
		Image:    jpegImage(),
		Location: geo.Reported{Coordinate: f.nearby()},
	})
	require.NoError(t, err)
	assert.True(t, res.Reading.ManualInput)
	assert.False(t, res.OCR.Found)
}

func TestCapture_NoValueAndNoCandidate(t *testing.T) {
	f := newFixture(t, Options{})

	_, err := f.svc.Capture(context.Background(), f.consumerSession(), CaptureInput{
		MeterID: f.meter.ID,
		Image:   jpegImage(),
	})
	assert.ErrorIs(t, err, ErrInvalidValue)
	assert.Empty(t, f.store.readings)
	assert.Equal(t, 0, f.objects.count())
}

func TestCapture_LocationDeniedStillSubmitsFlagged(t *testing.T) {
	f := newFixture(t, Options{})

	res, err := f.svc.Capture(context.Background(), f.consumerSession(), CaptureInput{
		MeterID:  f.meter.ID,
		Value:    "120",
		Image:    jpegImage(),
		Location: geo.Reported{Status: "denied"},
	})
	require.NoError(t, err)
	assert.True(t, res.Reading.ProximityFlagged)
	assert.Nil(t, res.Reading.CaptureLatitude)
}

func TestCapture_DiscardsImageWhenSubmitFails(t *testing.T) {
	f := newFixture(t, Options{})
	_, err := f.submit(t, "120")
	require.NoError(t, err)

	_, err = f.svc.Capture(context.Background(), f.consumerSession(), CaptureInput{
		MeterID:  f.meter.ID,
		Value:    "121",
		Image:    jpegImage(),
		Location: geo.Reported{Coordinate: f.nearby()},
	})
	assert.ErrorIs(t, err, ErrDuplicatePeriod)
	assert.Equal(t, 0, f.objects.count())
	assert.Len(t, f.objects.deleted, 1)
}

// uploadBarrier holds every upload until both captures have stored their photo
type uploadBarrier struct {
	*fakeObjects
	arrived sync.WaitGroup
}

func (b *uploadBarrier) Upload(ctx context.Context, key string, data []byte, contentType string) error {
	err := b.fakeObjects.Upload(ctx, key, data, contentType)
	b.arrived.Done()
	b.arrived.Wait()
	return err
}

func TestCapture_ConcurrentIdenticalPhotosKeepWinnerImage(t *testing.T) {
	f := newFixture(t, Options{})
	objects := &uploadBarrier{fakeObjects: f.objects}
	objects.arrived.Add(2)
	f.svc.images = storage.NewImageStore(objects, 1<<20, zaptest.NewLogger(t))

	var (
		wg      sync.WaitGroup
		results [2]*CaptureResult
		errs    [2]error
	)
	for i := 0; i < 2; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			results[i], errs[i] = f.svc.Capture(context.Background(), f.consumerSession(), CaptureInput{
				MeterID:  f.meter.ID,
				Value:    "120",
				Image:    jpegImage(),
				Location: geo.Reported{Coordinate: f.nearby()},
			})
		}(i)
	}
	wg.Wait()

	winner, loser := 0, 1
	if errs[0] != nil {
		winner, loser = 1, 0
	}
	require.NoError(t, errs[winner])
	assert.ErrorIs(t, errs[loser], ErrDuplicatePeriod)
	assert.Equal(t, 1, f.store.activeCount(f.meter.ID))

	key := results[winner].Reading.ImageKey
	exists, err := f.objects.ObjectExists(context.Background(), key)
	require.NoError(t, err)
	assert.True(t, exists, "the persisted reading must keep its photo")
	assert.Equal(t, 1, f.objects.count())
	require.Len(t, f.objects.deleted, 1)
	assert.NotEqual(t, key, f.objects.deleted[0])
}

func TestCapture_StorageFailure(t *testing.T) {
	f := newFixture(t, Options{})
	f.objects.uploadErr = errors.New("s3 down")

	_, err := f.svc.Capture(context.Background(), f.consumerSession(), CaptureInput{
		MeterID: f.meter.ID,
		Value:   "120",
		Image:   jpegImage(),
	})
	assert.ErrorIs(t, err, ErrStorageUnavailable)
	assert.Equal(t, KindUnavailable, KindOf(err))
	assert.Empty(t, f.store.readings)
}

func TestCapture_RejectsNonImage(t *testing.T) {
	f := newFixture(t, Options{})

	img := jpegImage()
	img.Data = []byte("%PDF-1.7 not a photo")
	img.ContentType = "application/pdf"

	_, err := f.svc.Capture(context.Background(), f.consumerSession(), CaptureInput{MeterID: f.meter.ID, Value: "1", Image: img})
	assert.ErrorIs(t, err, ErrInvalidImage)
	assert.Equal(t, 0, f.ocr.calls)
}

func TestCapture_ChecksOwnershipBeforeUpload(t *testing.T) {
	f := newFixture(t, Options{})

	_, err := f.svc.Capture(context.Background(), auth.Session{AccountID: f.other.ID, Role: db.RoleConsumer}, CaptureInput{
		MeterID: f.meter.ID, Value: "1", Image: jpegImage(),
	})
	assert.ErrorIs(t, err, ErrInvalidMeter)
	assert.Equal(t, 0, f.objects.count())
}

func TestScan(t *testing.T) {
	f := newFixture(t, Options{})
	f.ocr.result = ocr.Result{Candidate: "04821", Found: true}

	res, err := f.svc.Scan(context.Background(), f.consumerSession(), jpegImage())
	require.NoError(t, err)
	assert.Equal(t, "04821", res.Candidate)
	assert.Equal(t, 0, f.objects.count())

	f.ocr.err = ocr.ErrTimeout
	res, err = f.svc.Scan(context.Background(), f.consumerSession(), jpegImage())
	require.NoError(t, err)
	assert.False(t, res.Found)

	_, err = f.svc.Scan(context.Background(), auth.Session{}, jpegImage())
	assert.ErrorIs(t, err, ErrForbidden)
}

func TestListReadings_ScopedByRole(t *testing.T) {
	f := newFixture(t, Options{})
	_, err := f.submit(t, "120")
	require.NoError(t, err)

	otherMeter := &db.Meter{ID: uuid.New(), Code: "MTR-002", IsEnabled: true, ConsumerID: &f.other.ID,
		Latitude: meterLocation.Latitude, Longitude: meterLocation.Longitude}
	f.store.meters[otherMeter.ID] = otherMeter
	_, err = f.svc.Submit(context.Background(), auth.Session{AccountID: f.other.ID, Role: db.RoleConsumer}, SubmitReadingInput{
		MeterID: otherMeter.ID, Value: "5", ImageKey: "k", Capture: f.nearby(),
	})
	require.NoError(t, err)

	mine, err := f.svc.ListReadings(context.Background(), f.consumerSession(), ReadingQuery{})
	require.NoError(t, err)
	assert.Len(t, mine, 1)

	all, err := f.svc.ListReadings(context.Background(), f.adminSession(), ReadingQuery{})
	require.NoError(t, err)
	assert.Len(t, all, 2)

	_, err = f.svc.ListReadings(context.Background(), auth.Session{}, ReadingQuery{})
	assert.ErrorIs(t, err, ErrForbidden)
}
