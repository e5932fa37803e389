package services

import (
	"context"
	"sync"
	"testing"
	"time"

	"drivingschool/server/internal/store"
	"drivingschool/server/internal/utils"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFormatInvoiceNumber(t *testing.T) {
	assert.Equal(t, "RE-2026-00042", FormatInvoiceNumber("RE", 2026, 42))
	assert.Equal(t, "RE-2026-123456", FormatInvoiceNumber("RE", 2026, 123456))
}

func assertDistinct(t *testing.T, numbers []string) {
	t.Helper()
	seen := make(map[string]bool, len(numbers))
	for _, n := range numbers {
		require.NotEmpty(t, n)
		assert.False(t, seen[n], "number %s issued twice", n)
		seen[n] = true
	}
}

func TestStoreSequencerConcurrentCallsAreDistinct(t *testing.T) {
	ctx := context.Background()
	s := store.NewMemoryStore()
	seq := NewStoreSequencer(s, "RE")
	issued := time.Date(2026, 4, 1, 0, 0, 0, 0, time.UTC)

	const n = 64
	numbers := make([]string, n)
	var wg sync.WaitGroup
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			err := s.RunInTx(ctx, func(tx store.InvoiceTx) error {
				num, err := seq.NextInvoiceNumber(ctx, tx, issued)
				numbers[i] = num
				return err
			})
			assert.NoError(t, err)
		}(i)
	}
	wg.Wait()
	assertDistinct(t, numbers)

	next, err := seq.PeekNextInvoiceNumber(ctx, issued)
	require.NoError(t, err)
	assert.Equal(t, "RE-2026-00065", next)
}

func TestStoreSequencerStartsFreshEachYear(t *testing.T) {
	ctx := context.Background()
	s := store.NewMemoryStore()
	seq := NewStoreSequencer(s, "RE")

	var last2026, first2027 string
	require.NoError(t, s.RunInTx(ctx, func(tx store.InvoiceTx) error {
		var err error
		if _, err = seq.NextInvoiceNumber(ctx, tx, time.Date(2026, 12, 30, 0, 0, 0, 0, time.UTC)); err != nil {
			return err
		}
		if last2026, err = seq.NextInvoiceNumber(ctx, tx, time.Date(2026, 12, 31, 0, 0, 0, 0, time.UTC)); err != nil {
			return err
		}
		first2027, err = seq.NextInvoiceNumber(ctx, tx, time.Date(2027, 1, 2, 0, 0, 0, 0, time.UTC))
		return err
	}))
	assert.Equal(t, "RE-2026-00002", last2026)
	assert.Equal(t, "RE-2027-00001", first2027)
}

func TestRedisSequencerConcurrentCallsAreDistinct(t *testing.T) {
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })

	ctx := context.Background()
	seq := NewRedisSequencer(utils.NewRedisClient(client), "RE")
	issued := time.Date(2026, 4, 1, 0, 0, 0, 0, time.UTC)

	first, err := seq.PeekNextInvoiceNumber(ctx, issued)
	require.NoError(t, err)
	assert.Equal(t, "RE-2026-00001", first)

	const n = 64
	numbers := make([]string, n)
	var wg sync.WaitGroup
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			num, err := seq.NextInvoiceNumber(ctx, nil, issued)
			assert.NoError(t, err)
			numbers[i] = num
		}(i)
	}
	wg.Wait()
	assertDistinct(t, numbers)

	raw, err := mr.Get("invoice:seq:2026")
	require.NoError(t, err)
	assert.Equal(t, "64", raw)
}

func TestRedisSequencerReportsCounterFailure(t *testing.T) {
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr(), MaxRetries: -1})
	t.Cleanup(func() { _ = client.Close() })
	mr.Close()

	seq := NewRedisSequencer(utils.NewRedisClient(client), "RE")
	_, err := seq.NextInvoiceNumber(context.Background(), nil, time.Now())
	assert.Error(t, err)
}
