package notify

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestPublishWakesBlockedListener(t *testing.T) {
	b := NewBus()
	wake, release := b.Listen("account-1")
	defer release()

	done := make(chan struct{})
	go func() {
		<-wake
		close(done)
	}()

	b.Publish("account-1")

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("Publish did not wake the blocked Listen call")
	}
}

func TestPublishWithNoSubscribersIsNoop(t *testing.T) {
	b := NewBus()
	require.NotPanics(t, func() { b.Publish("nobody-listening") })
}

func TestReleaseRemovesEntryAtZeroRefcount(t *testing.T) {
	b := NewBus()
	_, release1 := b.Listen("account-1")
	_, release2 := b.Listen("account-1")

	require.Len(t, b.entries, 1)
	require.Equal(t, 2, b.entries["account-1"].refs)

	release1()
	require.Contains(t, b.entries, "account-1")
	require.Equal(t, 1, b.entries["account-1"].refs)

	release2()
	require.NotContains(t, b.entries, "account-1")
}

func TestReleaseIsIdempotent(t *testing.T) {
	b := NewBus()
	_, release := b.Listen("account-1")
	release()
	require.NotPanics(t, release)
}

func TestWithSubscriptionReleasesOnReturn(t *testing.T) {
	b := NewBus()
	b.WithSubscription("account-1", func(wake <-chan struct{}) {
		require.Len(t, b.entries, 1)
	})
	require.NotContains(t, b.entries, "account-1")
}

func TestListenBeforeReadAvoidsLostWakeup(t *testing.T) {
	// Simulates the long-poll pattern spec.md §4.J requires: Listen is
	// called, then the "initial read" happens, then Publish — the
	// subscription must already exist before the read so a Publish
	// racing it is never missed.
	b := NewBus()
	wake, release := b.Listen("account-1")
	defer release()

	b.Publish("account-1") // races the "initial read" that would go here

	select {
	case <-wake:
	default:
		t.Fatal("wake channel should already be closed: Publish ran after Listen")
	}
}
