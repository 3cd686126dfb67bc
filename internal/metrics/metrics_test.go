package metrics

import (
	"context"
	"testing"
	"time"

	"github.com/MarkoPoloResearchLab/spacebook/internal/store/memstore"
	"github.com/MarkoPoloResearchLab/spacebook/pkg/booking"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"
)

type capturingLogger struct {
	entries []booking.OperationLog
}

func (logger *capturingLogger) LogOperation(_ context.Context, entry booking.OperationLog) {
	logger.entries = append(logger.entries, entry)
}

func TestRecorderCountsCreationsAndActivations(test *testing.T) {
	ctx := context.Background()
	registry := prometheus.NewRegistry()
	next := &capturingLogger{}
	recorder, err := NewRecorder(registry, next)
	require.NoError(test, err)

	store := memstore.New()
	resourceID, err := booking.NewResourceID("room-a")
	require.NoError(test, err)
	resource, err := booking.NewResource(resourceID, "Room A", 4, booking.ResourceRoom, booking.AccessPublic, booking.MetadataJSON{})
	require.NoError(test, err)
	require.NoError(test, store.SaveResource(ctx, resource))
	now := time.Date(2025, 3, 10, 8, 0, 0, 0, time.UTC)
	service, err := booking.NewService(store, func() time.Time { return now },
		booking.WithOperationLogger(recorder), booking.WithTokenHashCost(bcrypt.MinCost))
	require.NoError(test, err)

	alice, err := booking.NewHolderID("alice")
	require.NoError(test, err)
	admin := booking.Actor{Role: booking.RoleAdmin}
	_, err = service.PutHolder(ctx, admin, alice, booking.RoleMember)
	require.NoError(test, err)
	token, err := service.RotateActivationToken(ctx, admin, alice)
	require.NoError(test, err)
	member := booking.Actor{HolderID: alice, Role: booking.RoleMember}
	date, err := booking.NewDate("2025-03-10")
	require.NoError(test, err)

	created, err := service.CreateReservation(ctx, member, booking.ReservationRequest{
		ResourceID: resourceID, Date: date, StartSecond: 9 * 3600, EndSecond: 10 * 3600,
	})
	require.NoError(test, err)
	_, err = service.CreateReservation(ctx, member, booking.ReservationRequest{
		ResourceID: resourceID, Date: date, StartSecond: 9 * 3600, EndSecond: 10 * 3600,
	})
	require.ErrorIs(test, err, booking.ErrConflict)
	_, err = service.Activate(ctx, member, created.ID, alice, "wrong")
	require.Error(test, err)
	_, err = service.Activate(ctx, member, created.ID, alice, token)
	require.NoError(test, err)

	assert.Equal(test, 1.0, testutil.ToFloat64(recorder.created.WithLabelValues("room-a", "member")))
	assert.Equal(test, 1.0, testutil.ToFloat64(recorder.activated.WithLabelValues("room-a", "member")))
	series, err := testutil.GatherAndCount(registry)
	require.NoError(test, err)
	assert.Equal(test, 2, series)

	operations := make([]string, 0, len(next.entries))
	for _, entry := range next.entries {
		operations = append(operations, entry.Operation)
	}
	assert.Contains(test, operations, booking.OperationCreate)
	assert.Contains(test, operations, booking.OperationActivate)
}

func TestNewRecorderRejectsDuplicateRegistration(test *testing.T) {
	registry := prometheus.NewRegistry()
	_, err := NewRecorder(registry, nil)
	require.NoError(test, err)
	_, err = NewRecorder(registry, nil)
	require.Error(test, err)
	_, err = NewRecorder(nil, nil)
	require.Error(test, err)
}
