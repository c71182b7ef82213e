package eventbus

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestNilBusIsSafe(t *testing.T) {
	var b *Bus
	assert.NoError(t, b.Publish(SubjectPatternCreated, map[string]string{"id": "pat-1"}))
	b.Close()
}
