package app_test

import (
	"context"
	"testing"

	"github.com/dkeye/devrooms/internal/app"
	"github.com/dkeye/devrooms/internal/domain"
	"github.com/stretchr/testify/assert"
)

func TestLocalNotifierKeepsNewest(t *testing.T) {
	n := app.NewLocalNotifier()
	ch, cancel := n.Subscribe(context.Background(), "r")
	defer cancel()

	for v := int64(1); v <= 20; v++ {
		n.Publish(context.Background(), domain.Room{ID: "r", Version: v})
	}

	var last domain.Room
	for len(ch) > 0 {
		last = <-ch
	}
	assert.Equal(t, int64(20), last.Version)
}

func TestLocalNotifierScopesByRoom(t *testing.T) {
	n := app.NewLocalNotifier()
	ch, cancel := n.Subscribe(context.Background(), "r")
	defer cancel()

	n.Publish(context.Background(), domain.Room{ID: "other"})
	assert.Empty(t, ch)
}

func TestLocalNotifierCancelClosesChannel(t *testing.T) {
	n := app.NewLocalNotifier()
	ctx, stop := context.WithCancel(context.Background())
	ch, cancel := n.Subscribe(ctx, "r")

	stop()
	_, ok := <-ch
	assert.False(t, ok)

	cancel()
	n.Publish(context.Background(), domain.Room{ID: "r"})
}
