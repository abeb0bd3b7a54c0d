package repository

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestDeliveryRate(t *testing.T) {
	assert.Equal(t, 0.0, DeliveryRate(0, 0), "empty audience is rate 0, not NaN")
	assert.Equal(t, 0.0, DeliveryRate(5, 0))
	assert.Equal(t, 1.0, DeliveryRate(4, 4))
	assert.Equal(t, 0.5, DeliveryRate(2, 4))
	assert.Equal(t, 0.0, DeliveryRate(0, 10))
}
