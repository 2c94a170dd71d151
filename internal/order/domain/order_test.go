package domain

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestStatus_CanTransitionTo(t *testing.T) {
	tests := []struct {
		from, to Status
		want     bool
	}{
		{StatusPending, StatusProcessing, true},
		{StatusPending, StatusConfirmed, true},
		{StatusPending, StatusCancelled, true},
		{StatusProcessing, StatusConfirmed, true},
		{StatusProcessing, StatusCancelled, true},
		{StatusConfirmed, StatusShipped, true},
		{StatusConfirmed, StatusCancelled, true},
		{StatusShipped, StatusDelivered, true},
		{StatusShipped, StatusCancelled, true},
		{StatusPending, StatusShipped, false},
		{StatusConfirmed, StatusPending, false},
		{StatusCancelled, StatusConfirmed, false},
		{StatusDelivered, StatusCancelled, false},
		{StatusCancelled, StatusCancelled, false},
	}

	for _, tt := range tests {
		t.Run(tt.from.String()+"->"+tt.to.String(), func(t *testing.T) {
			require.Equal(t, tt.want, tt.from.CanTransitionTo(tt.to))
		})
	}
}

func TestOrder_Transition(t *testing.T) {
	now := time.Now()
	o := &Order{Status: StatusPending}

	changed, err := o.Transition(StatusConfirmed, now)
	require.NoError(t, err)
	require.True(t, changed)
	require.Equal(t, now, o.UpdatedAt)

	changed, err = o.Transition(StatusConfirmed, now.Add(time.Second))
	require.NoError(t, err)
	require.False(t, changed)
	require.Equal(t, now, o.UpdatedAt)

	changed, err = o.Transition(StatusCancelled, now)
	require.NoError(t, err)
	require.True(t, changed)

	_, err = o.Transition(StatusConfirmed, now)
	require.ErrorIs(t, err, ErrIllegalTransition)
	require.Equal(t, StatusCancelled, o.Status)
}

func TestStatus_Text(t *testing.T) {
	data, err := json.Marshal(struct {
		Status Status `json:"status"`
	}{StatusShipped})
	require.NoError(t, err)
	require.JSONEq(t, `{"status":"shipped"}`, string(data))

	s, err := ParseStatus("Cancelled")
	require.NoError(t, err)
	require.Equal(t, StatusCancelled, s)

	_, err = ParseStatus("lost")
	require.Error(t, err)
}
