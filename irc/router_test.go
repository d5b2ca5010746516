package irc

import (
	"io"
	"testing"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
)

func testLogger() *logrus.Entry {
	logger := logrus.New()
	logger.SetOutput(io.Discard)
	return logrus.NewEntry(logger)
}

func TestRouterUseRunsBeforeHandler(t *testing.T) {
	router := NewRouter(testLogger())

	var order []string
	router.Use(func(ctx *MessageContext) {
		order = append(order, "global-middleware")
	})
	router.Handle(CmdPing, func(ctx *MessageContext) {
		order = append(order, "handler")
	})

	router.RouteCommand(nil, &Message{Command: CmdPing})

	assert.Equal(t, []string{"global-middleware", "handler"}, order)
}

func TestRouterHandledStopsChain(t *testing.T) {
	router := NewRouter(testLogger())

	var order []string
	router.Handle(CmdNick,
		func(ctx *MessageContext) {
			order = append(order, "first")
			ctx.Handled()
		},
		func(ctx *MessageContext) {
			order = append(order, "second")
		},
	)

	router.RouteCommand(nil, &Message{Command: CmdNick})

	assert.Equal(t, []string{"first"}, order)
}

func TestRouterGroupInheritsMiddleware(t *testing.T) {
	router := NewRouter(testLogger())

	var order []string
	group := router.Group(func(ctx *MessageContext) {
		order = append(order, "group-middleware")
	})
	group.Handle(CmdJoin, func(ctx *MessageContext) {
		order = append(order, "join-handler")
	})

	router.RouteCommand(nil, &Message{Command: CmdJoin})

	assert.Equal(t, []string{"group-middleware", "join-handler"}, order)
}

func TestRouterDuplicateCommandPanics(t *testing.T) {
	router := NewRouter(testLogger())
	router.Handle(CmdQuit, func(ctx *MessageContext) {})

	assert.Panics(t, func() {
		router.Handle(CmdQuit, func(ctx *MessageContext) {})
	})
}

func TestEnoughParams(t *testing.T) {
	assert.True(t, enoughParams(&Message{Params: []string{"a", "b"}}, 2))
	assert.False(t, enoughParams(&Message{Params: []string{"a"}}, 2))
}
