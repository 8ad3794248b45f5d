package node

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestNewSizesNextArray(t *testing.T) {
	n := New(3, 42, "hello")
	assert.Equal(t, 42, n.Key)
	assert.Equal(t, "hello", n.Value)
	assert.Equal(t, 3, n.TopLevel)
	assert.Len(t, n.Next, 4)
	assert.False(t, n.Marked.Load())
	assert.False(t, n.FullyLinked.Load())
}

func TestLockUnlock(t *testing.T) {
	n := New(0, 1, 1)
	n.Lock()
	n.Unlock()
	n.Lock()
	n.Unlock()
}

func TestDestroyClearsNext(t *testing.T) {
	a := New(2, 1, "a")
	b := New(2, 2, "b")
	for i := range a.Next {
		a.Next[i].Store(b)
	}
	Destroy(a)
	for i := range a.Next {
		assert.Nil(t, a.Next[i].Load())
	}
}
