package keymutex_test

import (
	"sync"
	"testing"

	"github.com/shopmesh/saga/pkg/keymutex"
	"github.com/stretchr/testify/require"
)

func TestKeyMutex_SerializesSameKey(t *testing.T) {
	km := keymutex.New()

	counter := 0
	var wg sync.WaitGroup
	for i := 0; i < 100; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()

			km.Lock("product-1")
			counter++
			km.Unlock("product-1")
		}()
	}
	wg.Wait()

	require.Equal(t, 100, counter)
}

func TestKeyMutex_DifferentKeysDoNotBlock(t *testing.T) {
	km := keymutex.New()

	km.Lock("a")

	done := make(chan struct{})
	go func() {
		km.Lock("b")
		km.Unlock("b")
		close(done)
	}()

	<-done
	km.Unlock("a")
}

func TestKeyMutex_UnlockUnlockedPanics(t *testing.T) {
	km := keymutex.New()

	require.Panics(t, func() {
		km.Unlock("never-locked")
	})
}
