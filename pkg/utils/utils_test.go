// pkg/utils/utils_test.go

package utils

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestCeilDiv(t *testing.T) {
	assert.EqualValues(t, 0, CeilDiv(0, 4))
	assert.EqualValues(t, 0, CeilDiv(-3, 4))
	assert.EqualValues(t, 1, CeilDiv(1, 4))
	assert.EqualValues(t, 1, CeilDiv(4, 4))
	assert.EqualValues(t, 2, CeilDiv(5, 4))
	assert.EqualValues(t, 3, CeilDiv(11, 5))
}

func TestMin(t *testing.T) {
	assert.Equal(t, 2, Min(2, 3))
	assert.Equal(t, -1, Min(4, -1))
}

func TestNowMillis(t *testing.T) {
	now := NowMillis()
	assert.Zero(t, now.Nanosecond()%1e6)
	assert.True(t, Exists("."))
	assert.False(t, Exists("./no/such/path"))
}
