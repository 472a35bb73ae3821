package service

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/LougLynx/RIG-SYSTEM/internal/infra"
	"github.com/LougLynx/RIG-SYSTEM/internal/testutil"
)

func TestSnapshotMatch(t *testing.T) {
	prev := NewSnapshot([]infra.ShipmentAdvice{
		{SupplierCode: "S1", AsnNumber: "A1", DoNumber: "D9"},
		{SupplierCode: "S1", DoNumber: "D1"},
		{SupplierCode: "S1", Invoice: "INV1"},
		{SupplierCode: "S1"},
	}, time.Now())

	cases := []struct {
		name   string
		advice infra.ShipmentAdvice
		want   string
		ok     bool
	}{
		{"asn on both", infra.ShipmentAdvice{AsnNumber: "A1"}, "A1", true},
		{"asn wins over do", infra.ShipmentAdvice{AsnNumber: "A1", DoNumber: "other"}, "A1", true},
		{"do when asn absent on both", infra.ShipmentAdvice{DoNumber: "D1"}, "D1", true},
		{"do does not match an asn record", infra.ShipmentAdvice{DoNumber: "D9"}, "", false},
		{"invoice when asn and do absent", infra.ShipmentAdvice{Invoice: "INV1"}, "INV1", true},
		{"asn present only on current", infra.ShipmentAdvice{AsnNumber: "X", DoNumber: "D1"}, "", false},
		{"whitespace is absent", infra.ShipmentAdvice{AsnNumber: "  ", DoNumber: " D1 "}, "D1", true},
		{"no key never matches", infra.ShipmentAdvice{}, "", false},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			got, ok := prev.Match(tc.advice)
			assert.Equal(t, tc.ok, ok)
			if tc.ok {
				assert.Equal(t, tc.want, got.Identity().Value)
			}
		})
	}
}

func TestSnapshotMatch_FirstWins(t *testing.T) {
	prev := NewSnapshot([]infra.ShipmentAdvice{
		{SupplierCode: "S1", AsnNumber: "A1", ReceiveStatus: false},
		{SupplierCode: "S1", AsnNumber: "A1", ReceiveStatus: true},
	}, time.Now())

	got, ok := prev.Match(infra.ShipmentAdvice{AsnNumber: "A1"})
	require.True(t, ok)
	assert.False(t, got.ReceiveStatus)
}

func TestNewSnapshot_IsACopy(t *testing.T) {
	items := []infra.ShipmentAdvice{{AsnNumber: "A1"}}
	snap := NewSnapshot(items, time.Now())
	items[0].AsnNumber = "changed"

	_, ok := snap.Match(infra.ShipmentAdvice{AsnNumber: "A1"})
	assert.True(t, ok)
	assert.Equal(t, 1, snap.Len())
}

func TestFetchSnapshot_EightDayWindow(t *testing.T) {
	feed := testutil.NewFakeFeed()
	today := time.Date(2026, 3, 10, 14, 0, 0, 0, time.UTC)
	feed.SetAdvices(today, infra.ShipmentAdvice{AsnNumber: "A-today"})
	feed.SetAdvices(today.AddDate(0, 0, -7), infra.ShipmentAdvice{AsnNumber: "A-old"})
	feed.SetAdvices(today.AddDate(0, 0, -8), infra.ShipmentAdvice{AsnNumber: "A-outside"})

	snap, err := FetchSnapshot(context.Background(), feed, today, 7)
	require.NoError(t, err)

	assert.Len(t, feed.AdviceCalls, 8)
	assert.Equal(t, "2026-03-03", feed.AdviceCalls[0])
	assert.Equal(t, "2026-03-10", feed.AdviceCalls[7])
	require.Equal(t, 2, snap.Len())
	assert.Equal(t, "A-old", snap.Items()[0].AsnNumber, "oldest day first")
	assert.Equal(t, "A-today", snap.Items()[1].AsnNumber)
	assert.Equal(t, today, snap.TakenAt())
}

func TestFetchSnapshot_FailsWhole(t *testing.T) {
	feed := testutil.NewFakeFeed()
	feed.AdviceErr = errors.New("feed down")

	_, err := FetchSnapshot(context.Background(), feed, time.Now(), 7)
	assert.ErrorContains(t, err, "feed down")
}
