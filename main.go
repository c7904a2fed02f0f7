package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	logger "github.com/sirupsen/logrus"

	"github.com/open42/cr/cmd"
	"github.com/open42/cr/domain"
)

func main() {
	logger.SetFormatter(&logger.TextFormatter{
		ForceColors:   true,
		FullTimestamp: true,
	})
	if os.Getenv("DEBUG") == "true" {
		logger.SetLevel(logger.DebugLevel)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	err := cmd.Execute(ctx)
	if err == nil && ctx.Err() == nil {
		return
	}
	fmt.Fprintln(os.Stderr, errorLine(err, ctx.Err() != nil))
	os.Exit(1)
}

// errorLine renders the final word to the user: an interrupt gets a short
// notice, a user-input problem its guidance verbatim, anything else the
// error with a prefix.
func errorLine(err error, interrupted bool) string {
	if interrupted || errors.Is(err, context.Canceled) {
		return "Interrupted."
	}
	var userErr *domain.UserError
	if errors.As(err, &userErr) {
		return userErr.Message
	}
	return fmt.Sprintf("Error: %v", err)
}
