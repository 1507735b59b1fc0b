package uuid_test

import (
	"testing"

	"github.com/soundmap/soundmap/engine/uuid"
	"github.com/stretchr/testify/assert"
)

func TestNewBase62(t *testing.T) {
	seen := map[string]struct{}{}

	for i := 0; i < 100; i++ {
		id := uuid.NewBase62()
		assert.NotEmpty(t, id)
		assert.Regexp(t, "^[0-9a-zA-Z]+$", id)

		_, dup := seen[id]
		assert.False(t, dup, "duplicate id: %s", id)
		seen[id] = struct{}{}
	}
}
