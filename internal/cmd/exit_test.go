package cmd

import (
	"context"
	"errors"
	"fmt"
	"os"
	"testing"

	"github.com/fulmenhq/gofulmen/foundry"
	"github.com/stretchr/testify/assert"

	errwrap "github.com/signcrate/signcrate/internal/errors"
)

func TestExitCodeFor(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want foundry.ExitCode
	}{
		{"config", errwrap.NewConfigInvalidError("bad"), foundry.ExitConfigInvalid},
		{"invalid input", errwrap.NewInvalidInputError("bad flag"), foundry.ExitConfigInvalid},
		{"unauthorized", errwrap.NewUnauthorizedError("consent required"), foundry.ExitExternalServiceUnavailable},
		{"remote", errwrap.NewExternalServiceError("502"), foundry.ExitExternalServiceUnavailable},
		{"rate limited", errwrap.NewRateLimitedError("429"), foundry.ExitExternalServiceUnavailable},
		{"deadline", fmt.Errorf("list envelopes: %w", context.DeadlineExceeded), foundry.ExitExternalServiceUnavailable},
		{"missing file", fmt.Errorf("read criteria file: %w", os.ErrNotExist), foundry.ExitFileNotFound},
		{"database", errwrap.NewDatabaseError("locked"), foundry.ExitFailure},
		{"plain", errors.New("boom"), foundry.ExitFailure},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, ExitCodeFor(tt.err))
		})
	}
}
