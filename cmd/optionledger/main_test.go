package main

import (
	"context"
	"errors"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
)

func TestAwaitShutdown(t *testing.T) {
	t.Run("component failure is returned", func(t *testing.T) {
		errChan := make(chan error, 1)
		boom := errors.New("grpc server: listen tcp: address in use")
		errChan <- boom

		err := awaitShutdown(context.Background(), errChan, zerolog.Nop())
		assert.ErrorIs(t, err, boom)
	})

	t.Run("signal is a clean stop", func(t *testing.T) {
		ctx, cancel := context.WithCancel(context.Background())
		cancel()

		assert.NoError(t, awaitShutdown(ctx, make(chan error), zerolog.Nop()))
	})
}
