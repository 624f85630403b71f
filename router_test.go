//go:build testing

package xwalk

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// mockSink is a configurable AlertSink. Successful alerts are recorded.
type mockSink struct {
	persistFn func(ctx context.Context, a Alert) error

	mu     sync.Mutex
	alerts []Alert
}

func (m *mockSink) Persist(ctx context.Context, a Alert) error {
	if m.persistFn != nil {
		if err := m.persistFn(ctx, a); err != nil {
			return err
		}
	}
	m.mu.Lock()
	m.alerts = append(m.alerts, a)
	m.mu.Unlock()
	return nil
}

func (m *mockSink) Alerts() []Alert {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]Alert(nil), m.alerts...)
}

func dangerous(file string) Message {
	return Message{Kind: KindAnalysisComplete, Event: EventAnalysisComplete, File: file, IsDangerous: true}
}

func TestRouter_DangerousPersistsOneAlert(t *testing.T) {
	sink := &mockSink{}
	clk := newFakeClock()
	r := NewRouter(sink, DefaultRouterConfig(), clk, nil)

	alert, err := r.Route(context.Background(), dangerous("a.jpg"))
	require.NoError(t, err)
	require.NotNil(t, alert)

	stored := sink.Alerts()
	require.Len(t, stored, 1)
	assert.Equal(t, *alert, stored[0])

	assert.NotEmpty(t, alert.ID)
	assert.Equal(t, DefaultCrosswalkID, alert.CrosswalkID)
	assert.Equal(t, "output_images/analyzed_a.jpg", alert.ImageURL)
	assert.Equal(t, DefaultDescription, alert.Description)
	assert.True(t, alert.IsHazard)
	assert.True(t, alert.LEDActivated)
	assert.Equal(t, 2, alert.DetectedObjectsCount)
	assert.Equal(t, clk.Now(), alert.Timestamp)
	assert.Equal(t, SourceEngine, alert.Source)
	assert.Zero(t, alert.DetectionDistance)
}

func TestRouter_NotDangerousPersistsNothing(t *testing.T) {
	sink := &mockSink{}
	r := NewRouter(sink, DefaultRouterConfig(), nil, nil)

	alert, err := r.Route(context.Background(), Message{Kind: KindAnalysisComplete, Event: EventAnalysisComplete, File: "b.jpg"})
	require.NoError(t, err)
	assert.Nil(t, alert)
	assert.Empty(t, sink.Alerts())
}

func TestRouter_OtherKindsIgnored(t *testing.T) {
	sink := &mockSink{persistFn: func(context.Context, Alert) error {
		t.Error("Persist called for a non-report message")
		return nil
	}}
	r := NewRouter(sink, DefaultRouterConfig(), nil, nil)

	for _, msg := range []Message{
		{Kind: KindUnparseable},
		{Kind: KindUnrecognized, Event: "HEARTBEAT", IsDangerous: true},
	} {
		alert, err := r.Route(context.Background(), msg)
		assert.NoError(t, err)
		assert.Nil(t, alert)
	}
}

func TestRouter_PersistFailureIsReturned(t *testing.T) {
	cause := errors.New("database is locked")
	sink := &mockSink{persistFn: func(context.Context, Alert) error { return cause }}
	r := NewRouter(sink, DefaultRouterConfig(), nil, nil)

	alert, err := r.Route(context.Background(), dangerous("a.jpg"))
	assert.Nil(t, alert)
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrPersistFailed)
	assert.ErrorIs(t, err, cause)

	var pe *PersistError
	require.ErrorAs(t, err, &pe)
	assert.Equal(t, "output_images/analyzed_a.jpg", pe.Alert.ImageURL)
	assert.NotEmpty(t, pe.Alert.ID)
}

func TestRouter_PassesContextToSink(t *testing.T) {
	type key struct{}
	ctx := context.WithValue(context.Background(), key{}, "v")
	sink := &mockSink{persistFn: func(got context.Context, _ Alert) error {
		assert.Equal(t, "v", got.Value(key{}))
		return nil
	}}
	r := NewRouter(sink, DefaultRouterConfig(), nil, nil)
	_, err := r.Route(ctx, dangerous("a.jpg"))
	require.NoError(t, err)
}

func TestRouter_IdenticalReportsGetDistinctAlerts(t *testing.T) {
	sink := &mockSink{}
	r := NewRouter(sink, DefaultRouterConfig(), nil, nil)
	for range 3 {
		_, err := r.Route(context.Background(), dangerous("same.jpg"))
		require.NoError(t, err)
	}

	stored := sink.Alerts()
	require.Len(t, stored, 3)
	ids := map[string]bool{}
	for _, a := range stored {
		ids[a.ID] = true
	}
	assert.Len(t, ids, 3)
}

func TestRouter_ConfigDefaultsFilled(t *testing.T) {
	sink := &mockSink{}
	r := NewRouter(sink, RouterConfig{}, nil, nil)

	alert, err := r.Route(context.Background(), dangerous("a.jpg"))
	require.NoError(t, err)
	assert.Equal(t, DefaultCrosswalkID, alert.CrosswalkID)
	assert.Equal(t, DefaultDescription, alert.Description)
	assert.Equal(t, DefaultDetectedObjects, alert.DetectedObjectsCount)
	assert.Equal(t, "output_images/analyzed_a.jpg", alert.ImageURL)
}

func TestRouter_PartialConfigKeepsImagePrefix(t *testing.T) {
	sink := &mockSink{}
	r := NewRouter(sink, RouterConfig{ImageBase: "http://localhost:5000/output_images"}, nil, nil)

	alert, err := r.Route(context.Background(), dangerous("a.jpg"))
	require.NoError(t, err)
	assert.Equal(t, "http://localhost:5000/output_images/analyzed_a.jpg", alert.ImageURL)
	assert.Equal(t, DefaultCrosswalkID, alert.CrosswalkID)
}

func TestRouter_BareImageNames(t *testing.T) {
	sink := &mockSink{}
	r := NewRouter(sink, RouterConfig{ImageBase: "frames", ImagePrefix: "ignored_", BareImageNames: true}, nil, nil)

	alert, err := r.Route(context.Background(), dangerous("a.jpg"))
	require.NoError(t, err)
	assert.Equal(t, "frames/a.jpg", alert.ImageURL)
}

func TestRouter_NonStringFileStillAlerts(t *testing.T) {
	sink := &mockSink{}
	r := NewRouter(sink, DefaultRouterConfig(), nil, nil)

	msg, ok := DecodeLine([]byte(`{"event":"ANALYSIS_COMPLETE","file":7,"is_dangerous":true}`))
	require.True(t, ok)
	alert, err := r.Route(context.Background(), msg)
	require.NoError(t, err)
	require.NotNil(t, alert)
	assert.Equal(t, "output_images/analyzed_7", alert.ImageURL)
}

func TestRouter_CustomConfig(t *testing.T) {
	sink := &mockSink{}
	r := NewRouter(sink, RouterConfig{
		CrosswalkID:     "cw-7",
		Description:     "pedestrian and vehicle",
		ImageBase:       "https://cdn.example.com/frames/",
		ImagePrefix:     "out_",
		DetectedObjects: 3,
	}, nil, nil)

	alert, err := r.Route(context.Background(), dangerous("frame 1.jpg"))
	require.NoError(t, err)
	assert.Equal(t, "cw-7", alert.CrosswalkID)
	assert.Equal(t, "pedestrian and vehicle", alert.Description)
	assert.Equal(t, "https://cdn.example.com/frames/out_frame%201.jpg", alert.ImageURL)
	assert.Equal(t, 3, alert.DetectedObjectsCount)
}

func TestImageURL(t *testing.T) {
	cases := []struct {
		base, name, want string
	}{
		{"", "analyzed_a.jpg", "analyzed_a.jpg"},
		{"output_images", "analyzed_a.jpg", "output_images/analyzed_a.jpg"},
		{"output_images/", "analyzed_a.jpg", "output_images/analyzed_a.jpg"},
		{"http://host:5000/images", "analyzed_a.jpg", "http://host:5000/images/analyzed_a.jpg"},
		{"http://[::1", "a.jpg", "http://[::1/a.jpg"},
	}
	for _, tc := range cases {
		assert.Equal(t, tc.want, imageURL(tc.base, tc.name), "base %q", tc.base)
	}
}
