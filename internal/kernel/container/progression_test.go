package container_test

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/agentkernel/core/internal/kernel/container"
	"github.com/agentkernel/core/internal/kernel/id"
)

func TestProgressionPushAndPrefix(t *testing.T) {
	prog := container.NewProgression()
	a, b, c := id.New(id.KindTask), id.New(id.KindTask), id.New(id.KindTask)
	prog.Push(a)
	prog.Push(b)

	prefix := prog.PrefixUpto(2)
	assert.Equal(t, []id.Id{a, b}, prefix)

	prog.Push(c)
	assert.Equal(t, []id.Id{a, b}, prefix, "previously read prefix must remain stable")
	assert.Equal(t, []id.Id{a, b, c}, prog.PrefixUpto(10))
	assert.Equal(t, 3, prog.Len())
}

func TestProgressionPrefixUptoZero(t *testing.T) {
	prog := container.NewProgression()
	assert.Empty(t, prog.PrefixUpto(5))
}
