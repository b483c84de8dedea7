package main

import (
	"context"
	"testing"
	"time"

	"go.viam.com/test"
)

func TestScanContext(t *testing.T) {
	ctx, cancel := scanContext(context.Background(), 0)
	defer cancel()
	_, ok := ctx.Deadline()
	test.That(t, ok, test.ShouldBeFalse)
	test.That(t, ctx.Err(), test.ShouldBeNil)

	ctx, cancel = scanContext(context.Background(), time.Minute)
	defer cancel()
	deadline, ok := ctx.Deadline()
	test.That(t, ok, test.ShouldBeTrue)
	test.That(t, time.Until(deadline) > 50*time.Second, test.ShouldBeTrue)
}
