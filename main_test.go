package main

import (
	"context"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/open42/cr/domain"
)

func TestErrorLine(t *testing.T) {
	t.Parallel()

	t.Run("should print an interrupt notice when the context was cancelled", func(t *testing.T) {
		t.Parallel()

		// given / when / then
		assert.Equal(t, "Interrupted.", errorLine(nil, true))
		assert.Equal(t, "Interrupted.", errorLine(context.Canceled, false))
		assert.Equal(t, "Interrupted.",
			errorLine(fmt.Errorf("fetch: %w", context.Canceled), false))
	})

	t.Run("should print user-input guidance verbatim", func(t *testing.T) {
		t.Parallel()

		// given
		err := domain.Userf("please specify --message [short: -m]")

		// when / then
		assert.Equal(t, "please specify --message [short: -m]", errorLine(err, false))
	})

	t.Run("should prefix everything else", func(t *testing.T) {
		t.Parallel()

		// given / when / then
		assert.Equal(t, "Error: "+assert.AnError.Error(), errorLine(assert.AnError, false))
	})
}
